package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the top-level relay configuration.
type Config struct {
	Prompt   string         `json:"prompt"`
	Executor ExecutorConfig `json:"executor"`
	Session  SessionConfig  `json:"session"`
	Archive  ArchiveConfig  `json:"archive"`
	Server   ServerConfig   `json:"server"`
}

// ExecutorKind selects how submitted input is executed.
type ExecutorKind string

const (
	ExecutorShell   ExecutorKind = "shell"
	ExecutorCommand ExecutorKind = "command"
	ExecutorHTTP    ExecutorKind = "http"
)

// ExecutorConfig controls the executor behind a session.
type ExecutorConfig struct {
	Kind ExecutorKind `json:"kind"`

	// Shell is the interpreter used by the shell executor.
	Shell string `json:"shell"`

	// Command is the argv for the command executor. The literal "{input}"
	// in any argument is replaced with the submitted text.
	Command []string `json:"command"`

	// Sync waits for the command to exit and delivers its output at once.
	// By default output streams as it arrives.
	Sync    bool     `json:"sync"`
	Timeout string   `json:"timeout"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`

	Filter FilterConfig `json:"filter"`
	HTTP   HTTPConfig   `json:"http"`
}

// ParseTimeout returns the executor timeout, or zero for none.
func (e ExecutorConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(e.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// FilterKind selects the output filter applied to stdout.
type FilterKind string

const (
	FilterNone     FilterKind = "none"
	FilterJSON     FilterKind = "json"
	FilterJSONPath FilterKind = "jsonpath"
	FilterFields   FilterKind = "fields"
)

// FilterConfig configures the output filter.
type FilterConfig struct {
	Kind FilterKind `json:"kind"`

	// Path is the gjson path rendered for each value by the jsonpath filter.
	Path string `json:"path,omitempty"`

	// Keys are the SSE field names kept by the fields filter.
	Keys []string `json:"keys,omitempty"`
}

// HTTPConfig configures the http executor, which posts each input through
// curl.
type HTTPConfig struct {
	URL     string   `json:"url"`
	Headers []string `json:"headers,omitempty"`
	Form    []string `json:"form,omitempty"`

	// BodyTemplate is a JSON document; the input is written into it at
	// InputPath (an sjson path) before sending.
	BodyTemplate string `json:"body_template,omitempty"`
	InputPath    string `json:"input_path,omitempty"`

	Proxy   string `json:"proxy,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	Timeout int    `json:"timeout"`
}

// SessionConfig controls interactive sessions.
type SessionConfig struct {
	// DetachOnInterrupt leaves the process running when a request is
	// interrupted.
	DetachOnInterrupt bool   `json:"detach_on_interrupt"`
	TranscriptDir     string `json:"transcript_dir"`
	Autosave          bool   `json:"autosave"`
}

// TranscriptDirPath returns TranscriptDir with a leading "~" expanded.
func (s SessionConfig) TranscriptDirPath() string {
	return ExpandHome(s.TranscriptDir)
}

// ArchiveConfig controls the SQLite archive of completed entries.
type ArchiveConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DBPath returns Path with a leading "~" expanded.
func (a ArchiveConfig) DBPath() string {
	return ExpandHome(a.Path)
}

// ServerConfig holds websocket server settings.
type ServerConfig struct {
	Port int `json:"port"`
}

// ExpandHome replaces a leading "~/" in a path with the user's home directory.
// If the path does not start with "~/" or the home directory cannot be determined,
// the path is returned unchanged.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") && path != "~" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Prompt: "relay> ",
		Executor: ExecutorConfig{
			Kind:   ExecutorShell,
			Shell:  "sh",
			Filter: FilterConfig{Kind: FilterNone},
			HTTP: HTTPConfig{
				InputPath: "input",
				Timeout:   600,
			},
		},
		Session: SessionConfig{
			TranscriptDir: "~/.local/share/relay/transcripts",
		},
		Archive: ArchiveConfig{
			Path: "~/.local/share/relay/archive.db",
		},
		Server: ServerConfig{
			Port: 4098,
		},
	}
}
