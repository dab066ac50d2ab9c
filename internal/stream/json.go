package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var dataPrefix = []byte("data:")

// DecodeError reports a JSON value that is malformed rather than merely
// truncated.
type DecodeError struct {
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed JSON at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ReadJSON decodes every complete JSON value at the front of s and returns
// them with the unconsumed remainder. Call it again with remainder+next to
// continue; the result is the same as decoding the whole stream at once.
//
// A "data:" token at the start of a line is ignored, as is an SSE
// "[DONE]" line. Truncated input is never an error: it stays in the
// remainder. A syntax error on the last line is also left in the
// remainder since more bytes may still fix the line up. A syntax error
// with further lines behind it skips the offending line, decoding
// resumes on the next one and the first such failure is returned as a
// *DecodeError alongside every value that did decode.
func ReadJSON(s string) ([]any, string, error) {
	items, rest := decodeJSON(s)

	var values []any
	var first error
	for _, it := range items {
		if it.err != nil {
			if first == nil {
				first = it.err
			}
			continue
		}
		values = append(values, it.value)
	}
	return values, rest, first
}

// jsonItem is one decoded value or one skipped malformed line, in stream
// order.
type jsonItem struct {
	value any
	err   *DecodeError
}

func decodeJSON(s string) ([]jsonItem, string) {
	masked := maskDataPrefixes(s)

	var items []jsonItem
	consumed := 0
	dec := json.NewDecoder(strings.NewReader(masked))
	base := 0
	restart := func(at int) {
		consumed, base = at, at
		dec = json.NewDecoder(strings.NewReader(masked[at:]))
	}

	for {
		if next, ok := skipDone(masked, consumed); ok {
			restart(next)
			continue
		}

		var v any
		err := dec.Decode(&v)
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			at := consumed
			var syn *json.SyntaxError
			if errors.As(err, &syn) {
				at = min(base+int(syn.Offset), len(masked))
				at = max(at, consumed)
			}
			nl := strings.IndexByte(masked[at:], '\n')
			if nl < 0 {
				break
			}
			items = append(items, jsonItem{err: &DecodeError{Offset: consumed, Err: err}})
			restart(at + nl + 1)
			continue
		}

		end := base + int(dec.InputOffset())
		// A bare number at the very end of the buffer may still grow.
		if _, ok := v.(float64); ok && end == len(masked) {
			break
		}
		items = append(items, jsonItem{value: v})
		consumed = end
	}

	return items, remainder(s, consumed)
}

// skipDone reports whether the line starting at from (after blank lines
// and indentation) is the SSE end-of-stream token "[DONE]", and if so
// where the following line begins.
func skipDone(masked string, from int) (int, bool) {
	rest := masked[from:]
	trimmed := strings.TrimLeft(rest, " \t\r\n")
	line, _, found := strings.Cut(trimmed, "\n")
	if strings.TrimSpace(line) != "[DONE]" {
		return 0, false
	}
	next := len(masked) - len(trimmed) + len(line)
	if found {
		next++
	}
	return next, true
}

func remainder(s string, consumed int) string {
	rest := s[consumed:]
	if strings.TrimSpace(rest) == "" {
		return ""
	}
	return rest
}

// maskDataPrefixes blanks out line-leading "data:" tokens with spaces so
// byte offsets into the masked text are valid offsets into the original.
func maskDataPrefixes(s string) string {
	if !strings.Contains(s, "data:") {
		return s
	}
	b := []byte(s)
	for i := 0; i < len(b); {
		if bytes.HasPrefix(b[i:], dataPrefix) {
			copy(b[i:], "     ")
		}
		j := bytes.IndexByte(b[i:], '\n')
		if j < 0 {
			break
		}
		i += j + 1
	}
	return string(b)
}
