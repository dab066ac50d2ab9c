// Package store reads and writes the text files relay keeps on disk:
// a YAML frontmatter header followed by a free-form body, written
// atomically under an advisory file lock.
package store

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"
)

// Document is a text file with optional YAML frontmatter.
type Document struct {
	Meta map[string]any
	Body string
}

// Read loads a document under a shared lock. A file without frontmatter
// is returned whole as the body.
func Read(path string) (*Document, error) {
	var doc *Document
	err := WithReadLock(path, DefaultLockTimeout, func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		doc = parse(path, data)
		return nil
	})
	return doc, err
}

func parse(path string, data []byte) *Document {
	var meta map[string]any
	body, err := frontmatter.Parse(bytes.NewReader(data), &meta)
	if err != nil || meta == nil {
		if err != nil {
			slog.Debug("no frontmatter in document", "path", path, "error", err)
		}
		return &Document{Meta: make(map[string]any), Body: string(data)}
	}
	return &Document{Meta: meta, Body: string(body)}
}

// Write replaces path with doc under an exclusive lock. Parent
// directories are created as needed.
func Write(path string, doc *Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	var buf bytes.Buffer
	if len(doc.Meta) > 0 {
		fm, err := yaml.Marshal(doc.Meta)
		if err != nil {
			return fmt.Errorf("marshaling frontmatter: %w", err)
		}
		buf.WriteString("---\n")
		buf.Write(fm)
		buf.WriteString("---\n\n")
	}
	buf.WriteString(doc.Body)

	return WithLock(path, DefaultLockTimeout, func() error {
		return atomicWriteFile(path, buf.Bytes(), 0644)
	})
}

// Append adds text to the end of path under an exclusive lock, creating
// the file if needed.
func Append(path string, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	return WithLock(path, DefaultLockTimeout, func() error {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		if _, err := f.WriteString(text); err != nil {
			f.Close()
			return fmt.Errorf("appending to %s: %w", path, err)
		}
		return f.Close()
	})
}

// atomicWriteFile writes data to a temp file then renames it into place,
// preventing partial writes on crash or disk-full.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Exists checks if a file exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
