package stream

import (
	"fmt"
	"strings"
)

type resultKind int

const (
	kindUnset resultKind = iota
	kindEmit
	kindSkip
)

// Result is what a Filter returns for one chunk. Build it with Emit,
// EmitPending or Skip; the zero value is rejected by the Pipeline.
type Result struct {
	kind    resultKind
	text    string
	pending string
}

// Emit sends text downstream and retains nothing.
func Emit(text string) Result {
	return Result{kind: kindEmit, text: text}
}

// EmitPending sends text downstream and carries pending over to be
// prefixed to the next chunk.
func EmitPending(text, pending string) Result {
	return Result{kind: kindEmit, text: text, pending: pending}
}

// Skip drops the chunk entirely, including anything that was pending.
func Skip() Result {
	return Result{kind: kindSkip}
}

// Filter transforms one chunk (already prefixed with the previous
// pending text) into a Result.
type Filter func(chunk string) (Result, error)

// Sink receives emitted fragments in stream order.
type Sink func(fragment string)

const contractViolation = "stream filter returned an unset result; " +
	"a filter must return stream.Emit(text), stream.EmitPending(text, pending) or stream.Skip()"

// Pipeline feeds raw chunks through a Filter, delivering emitted text to
// a Sink and retaining carry-over between chunks. It is not safe for
// concurrent use; the runner serializes calls to Feed.
type Pipeline struct {
	filter  Filter
	sink    Sink
	pending string
	output  strings.Builder
}

// NewPipeline returns a Pipeline. A nil filter behaves like Identity and a
// nil sink discards fragments (they are still accumulated in Output).
func NewPipeline(filter Filter, sink Sink) *Pipeline {
	if filter == nil {
		filter = Identity()
	}
	return &Pipeline{filter: filter, sink: sink}
}

// Feed processes one raw chunk.
func (p *Pipeline) Feed(chunk string) {
	input := p.pending + chunk
	p.pending = ""

	res, err := p.apply(input)
	if err != nil {
		p.emit(Diagnostic(err))
		return
	}

	switch res.kind {
	case kindSkip:
	case kindEmit:
		p.emit(res.text)
		p.pending = res.pending
	default:
		p.emit(Diagnostic(fmt.Errorf("%s", contractViolation)))
	}
}

// Pending returns the carry-over waiting for the next chunk.
func (p *Pipeline) Pending() string {
	return p.pending
}

// Output returns everything emitted so far.
func (p *Pipeline) Output() string {
	return p.output.String()
}

func (p *Pipeline) apply(input string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("filter panicked: %v", r)
		}
	}()
	return p.filter(input)
}

func (p *Pipeline) emit(text string) {
	if text == "" {
		return
	}
	p.output.WriteString(text)
	if p.sink != nil {
		p.sink(text)
	}
}

// Diagnostic renders a filter failure as an output fragment so the
// transcript stays readable.
func Diagnostic(err error) string {
	return fmt.Sprintf("\n[stream error: %v]\n", err)
}

// Apply runs filter once over a complete text, as the synchronous runner
// does, and returns the emitted text. Pending text left over at the end
// is discarded.
func Apply(filter Filter, text string) string {
	p := NewPipeline(filter, nil)
	p.Feed(text)
	return p.Output()
}
