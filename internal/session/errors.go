package session

import (
	"errors"
	"fmt"

	"github.com/alanmeadows/relay/internal/transcript"
)

var (
	// ErrBusy is returned by operations that need an idle session.
	ErrBusy = errors.New("session is busy")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session is closed")

	// ErrNoTranscriptPath is returned by SaveTranscript when no path is
	// given and none was recorded.
	ErrNoTranscriptPath = errors.New("no transcript path")
)

// ValidationError reports input rejected before dispatch.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + e.Reason
}

// TranscriptError reports a malformed entry that aborted a replay.
type TranscriptError struct {
	Index int
	Entry transcript.Entry
	Err   error
}

func (e *TranscriptError) Error() string {
	return fmt.Sprintf("transcript entry %d %s: %v", e.Index, e.Entry, e.Err)
}

func (e *TranscriptError) Unwrap() error { return e.Err }
