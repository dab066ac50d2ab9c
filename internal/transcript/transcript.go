// Package transcript converts between session history and the flat text
// form relay saves to disk.
//
// Each entry is written as the prompt, the echoed input, an end-of-prompt
// marker, a newline, then the output. Failed and interrupted entries carry
// sentinel marker lines after the output. Entries are separated by a blank
// line:
//
//	relay> echo hi<relay:end-of-prompt>
//	hi
//
//	relay> sleep 10<relay:end-of-prompt>
//	<relay:interrupted>
//
// Extracting splits on the prompt pattern, then on the end-of-prompt marker.
// Segments marked failed are dropped unless they are also marked
// interrupted.
package transcript

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

//go:generate mockgen -destination=mock_sink.go -package=transcript . Sink

// Sentinel markers embedded in serialized transcripts.
const (
	EndOfPrompt     = "<relay:end-of-prompt>"
	FailedMark      = "<relay:failed>"
	InterruptedMark = "<relay:interrupted>"
)

// DefaultPrompt is the prompt written before each entry's input.
const DefaultPrompt = "relay> "

var (
	// ErrMarkerCollision is returned when entry text contains a sentinel marker.
	ErrMarkerCollision = errors.New("text contains a reserved transcript marker")

	// ErrPromptCollision is returned when entry text contains a line the
	// prompt pattern would match.
	ErrPromptCollision = errors.New("text contains a line matching the prompt pattern")
)

var markers = []string{EndOfPrompt, FailedMark, InterruptedMark}

func findMarker(s string) string {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return m
		}
	}
	return ""
}

// Sink receives each completed entry.
type Sink interface {
	Append(e Entry) error
}

// Format describes how entries are delimited in a transcript.
type Format struct {
	// Prompt is written before each entry.
	Prompt string

	// PromptPattern splits a transcript into segments. When nil it matches
	// Prompt at the start of a line.
	PromptPattern *regexp.Regexp
}

// DefaultFormat returns the format relay uses when none is configured.
func DefaultFormat() Format {
	return Format{Prompt: DefaultPrompt}
}

func (f Format) prompt() string {
	if f.Prompt == "" {
		return DefaultPrompt
	}
	return f.Prompt
}

func (f Format) pattern() *regexp.Regexp {
	if f.PromptPattern != nil {
		return f.PromptPattern
	}
	return regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(f.prompt()))
}

// Serialize renders entries in transcript form. Entries with neither field
// set are skipped.
func (f Format) Serialize(entries []Entry) (string, error) {
	pattern := f.pattern()
	var b strings.Builder
	for i, e := range entries {
		if e.Empty() {
			continue
		}
		if err := f.check(pattern, e); err != nil {
			return "", fmt.Errorf("entry %d: %w", i, err)
		}
		f.write(&b, e)
	}
	return b.String(), nil
}

// SerializeEntry renders a single entry.
func (f Format) SerializeEntry(e Entry) (string, error) {
	return f.Serialize([]Entry{e})
}

func (f Format) check(pattern *regexp.Regexp, e Entry) error {
	for _, s := range []string{e.InputText(), e.OutputText()} {
		if m := findMarker(s); m != "" {
			return fmt.Errorf("%q: %w", m, ErrMarkerCollision)
		}
		if pattern.MatchString(s) {
			return ErrPromptCollision
		}
	}
	return nil
}

func (f Format) write(b *strings.Builder, e Entry) {
	b.WriteString(f.prompt())
	if e.Input != nil {
		b.WriteString(*e.Input)
		b.WriteString(EndOfPrompt)
		b.WriteString("\n")
	}
	b.WriteString(e.OutputText())
	if e.Failed {
		b.WriteString("\n" + FailedMark)
	}
	if e.Interrupted {
		b.WriteString("\n" + InterruptedMark)
	}
	b.WriteString("\n\n")
}

// Extract recovers the ordered entries from transcript text.
func (f Format) Extract(text string) []Entry {
	var entries []Entry
	for _, seg := range f.pattern().Split(text, -1) {
		if e, ok := parseSegment(seg); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

func parseSegment(seg string) (Entry, bool) {
	failed := strings.Contains(seg, FailedMark)
	interrupted := strings.Contains(seg, InterruptedMark)
	if failed && !interrupted {
		return Entry{}, false
	}

	seg = strings.ReplaceAll(seg, FailedMark, "")
	seg = strings.ReplaceAll(seg, InterruptedMark, "")

	var e Entry
	if input, output, ok := strings.Cut(seg, EndOfPrompt); ok {
		e = Entry{Input: &input, Output: &output}
	} else {
		e = Entry{Output: &seg}
	}
	e = e.Normalize()
	if e.Empty() {
		return Entry{}, false
	}
	e.Failed = failed
	e.Interrupted = interrupted
	return e, true
}
