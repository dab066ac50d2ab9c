package server

import (
	"encoding/json"
	"fmt"

	"github.com/alanmeadows/relay/internal/transcript"
)

// BridgeMessage is the envelope for all WebSocket messages between
// the server and its clients.
type BridgeMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage constructs a BridgeMessage by marshaling the given payload.
func NewMessage[T any](msgType string, payload T) (BridgeMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return BridgeMessage{}, fmt.Errorf("marshal payload: %w", err)
	}
	return BridgeMessage{Type: msgType, Payload: raw}, nil
}

// ParsePayload unmarshals the raw payload of a BridgeMessage into T.
func ParsePayload[T any](msg BridgeMessage) (T, error) {
	var v T
	if len(msg.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return v, fmt.Errorf("unmarshal payload: %w", err)
	}
	return v, nil
}

// Server → Client message types.
const (
	MsgHistory    = "history"
	MsgOutput     = "output"
	MsgCompletion = "completion"
	MsgState      = "state"
	MsgError      = "error"
)

// Client → Server message types.
const (
	MsgSubmit     = "submit"
	MsgInterrupt  = "interrupt"
	MsgGetHistory = "get_history"
	MsgClear      = "clear"
	MsgSave       = "save"
	MsgRestore    = "restore"
)

// ---------------------------------------------------------------------------
// Server → Client payloads
// ---------------------------------------------------------------------------

type HistoryPayload struct {
	SessionID string         `json:"session_id"`
	Entries   []EntrySummary `json:"entries"`
}

// EntrySummary is a transcript entry on the wire. Absent fields are null.
type EntrySummary struct {
	Input       *string `json:"input"`
	Output      *string `json:"output"`
	Failed      bool    `json:"failed,omitempty"`
	Interrupted bool    `json:"interrupted,omitempty"`
}

func summarize(entries []transcript.Entry) []EntrySummary {
	out := make([]EntrySummary, len(entries))
	for i, e := range entries {
		out[i] = EntrySummary{Input: e.Input, Output: e.Output, Failed: e.Failed, Interrupted: e.Interrupted}
	}
	return out
}

type OutputPayload struct {
	Content string `json:"content"`
}

type CompletionPayload struct {
	Input       string `json:"input"`
	Output      string `json:"output"`
	Success     bool   `json:"success"`
	Interrupted bool   `json:"interrupted"`
}

type StatePayload struct {
	State          string `json:"state"`
	Busy           bool   `json:"busy"`
	TranscriptPath string `json:"transcript_path,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Client → Server payloads
// ---------------------------------------------------------------------------

type SubmitPayload struct {
	Input string `json:"input"`
}

type InterruptPayload struct {
	TreatAsFailure bool `json:"treat_as_failure"`
}

type PathPayload struct {
	Path string `json:"path"`
}
