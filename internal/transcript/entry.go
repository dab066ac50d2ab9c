package transcript

import (
	"errors"
	"fmt"
	"strings"
)

// Entry is one completed request/response pair. A nil Input marks
// output-only echo text; a nil Output marks a request that produced
// nothing.
type Entry struct {
	Input  *string
	Output *string

	// Failed and Interrupted are internal tags carried into the serialized
	// form as sentinel markers.
	Failed      bool
	Interrupted bool
}

// NewEntry builds an entry, mapping empty strings to no value.
func NewEntry(input, output string) Entry {
	return Entry{Input: optional(input), Output: optional(output)}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// InputText returns the input or "".
func (e Entry) InputText() string {
	if e.Input == nil {
		return ""
	}
	return *e.Input
}

// OutputText returns the output or "".
func (e Entry) OutputText() string {
	if e.Output == nil {
		return ""
	}
	return *e.Output
}

// Empty reports whether neither field carries a value.
func (e Entry) Empty() bool {
	return e.Input == nil && e.Output == nil
}

// Normalize trims both fields, mapping blank results to no value.
func (e Entry) Normalize() Entry {
	e.Input = optional(strings.TrimSpace(e.InputText()))
	e.Output = optional(strings.TrimSpace(e.OutputText()))
	return e
}

// Validate reports whether the entry is a well-formed input/output pair.
func (e Entry) Validate() error {
	if e.Empty() {
		return errors.New("entry has neither input nor output")
	}
	for _, field := range []struct {
		name  string
		value string
	}{{"input", e.InputText()}, {"output", e.OutputText()}} {
		if m := findMarker(field.value); m != "" {
			return fmt.Errorf("%s contains %q: %w", field.name, m, ErrMarkerCollision)
		}
	}
	return nil
}

func (e Entry) String() string {
	var tags []string
	if e.Failed {
		tags = append(tags, "failed")
	}
	if e.Interrupted {
		tags = append(tags, "interrupted")
	}
	s := fmt.Sprintf("(%q, %q)", e.InputText(), e.OutputText())
	if len(tags) > 0 {
		s += " [" + strings.Join(tags, ",") + "]"
	}
	return s
}
