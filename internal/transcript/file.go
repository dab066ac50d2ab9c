package transcript

import (
	"fmt"
	"time"

	"github.com/alanmeadows/relay/internal/store"
)

// Meta is the frontmatter written at the top of a saved transcript.
type Meta struct {
	Prompt    string
	SessionID string
	SavedAt   time.Time
	Entries   int
}

func (m Meta) toMap() map[string]any {
	out := map[string]any{
		"prompt":   m.Prompt,
		"saved_at": store.FormatTime(m.SavedAt),
		"entries":  m.Entries,
	}
	if m.SessionID != "" {
		out["session"] = m.SessionID
	}
	return out
}

func metaFromMap(meta map[string]any) Meta {
	return Meta{
		Prompt:    store.GetString(meta, "prompt"),
		SessionID: store.GetString(meta, "session"),
		SavedAt:   store.GetTime(meta, "saved_at"),
		Entries:   store.GetInt(meta, "entries"),
	}
}

// Save writes entries to path with a frontmatter header, replacing any
// existing file atomically.
func (f Format) Save(path string, entries []Entry, meta Meta) error {
	body, err := f.Serialize(entries)
	if err != nil {
		return fmt.Errorf("serializing transcript: %w", err)
	}

	meta.Prompt = f.prompt()
	meta.Entries = len(entries)
	if meta.SavedAt.IsZero() {
		meta.SavedAt = time.Now()
	}

	if err := store.Write(path, &store.Document{Meta: meta.toMap(), Body: body}); err != nil {
		return fmt.Errorf("saving transcript: %w", err)
	}
	return nil
}

// Load reads a transcript file. A prompt recorded in the frontmatter takes
// precedence over fallback; files without frontmatter use fallback as is.
func Load(path string, fallback Format) ([]Entry, Meta, error) {
	doc, err := store.Read(path)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("loading transcript: %w", err)
	}

	meta := metaFromMap(doc.Meta)
	format := fallback
	if meta.Prompt != "" && meta.Prompt != fallback.prompt() {
		format = Format{Prompt: meta.Prompt}
	}
	return format.Extract(doc.Body), meta, nil
}

// FileSink appends each completed entry to a transcript file.
type FileSink struct {
	Path   string
	Format Format
}

// NewFileSink returns a sink appending to path.
func NewFileSink(path string, format Format) *FileSink {
	return &FileSink{Path: path, Format: format}
}

// Append implements Sink.
func (s *FileSink) Append(e Entry) error {
	text, err := s.Format.SerializeEntry(e)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	return store.Append(s.Path, text)
}
