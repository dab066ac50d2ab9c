package stream

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// Identity passes chunks through unchanged.
func Identity() Filter {
	return func(chunk string) (Result, error) {
		return Emit(chunk), nil
	}
}

// Renderer turns one decoded JSON value into output text. An empty string
// means "nothing to show".
type Renderer func(v any) (string, error)

// CompactJSON renders a value back to compact JSON.
func CompactJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// JSON decodes complete values from the stream and renders each with
// render (CompactJSON when nil), each followed by a newline. Partial
// values are carried over. A malformed line becomes a diagnostic in its
// place in the output and decoding carries on after it.
func JSON(render Renderer) Filter {
	if render == nil {
		render = CompactJSON
	}
	return jsonFilter(render, "\n")
}

// JSONPath extracts path (gjson syntax, e.g. "choices.0.delta.content")
// from every complete value and concatenates the results. Values without
// the path contribute nothing.
func JSONPath(path string) Filter {
	return jsonFilter(func(v any) (string, error) {
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return gjson.GetBytes(raw, path).String(), nil
	}, "")
}

// jsonFilter writes sep after every rendered value so the output does not
// depend on how the stream was split into chunks.
func jsonFilter(render Renderer, sep string) Filter {
	return func(chunk string) (Result, error) {
		items, rest := decodeJSON(chunk)

		var b strings.Builder
		for _, it := range items {
			if it.err != nil {
				// The offset is relative to the current buffer, so leave
				// it out of the output.
				b.WriteString(Diagnostic(fmt.Errorf("malformed JSON: %w", it.err.Err)))
				continue
			}
			s, err := render(it.value)
			if err != nil {
				b.WriteString(Diagnostic(err))
				continue
			}
			if s != "" {
				b.WriteString(s)
				b.WriteString(sep)
			}
		}
		return EmitPending(b.String(), rest), nil
	}
}

// Fields handles line-oriented "key: value" streams such as SSE. Only
// complete lines are split; the unterminated tail is carried over. Values
// whose key is in keys are emitted, as are keyless lines. With no keys,
// every value is emitted.
func Fields(keys ...string) Filter {
	return func(chunk string) (Result, error) {
		cut := strings.LastIndexByte(chunk, '\n')
		if cut < 0 {
			return EmitPending("", chunk), nil
		}
		complete, tail := chunk[:cut+1], chunk[cut+1:]

		var b strings.Builder
		for _, f := range Split(complete) {
			if f.Key != "" && len(keys) > 0 && !slices.Contains(keys, f.Key) {
				continue
			}
			b.WriteString(strings.TrimSpace(f.Value))
			b.WriteByte('\n')
		}
		return EmitPending(b.String(), tail), nil
	}
}
