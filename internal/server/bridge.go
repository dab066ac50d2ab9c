package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/alanmeadows/relay/internal/session"
)

// Bridge exposes one session to WebSocket clients. Output and completions
// are broadcast to every connected client; any client may drive the
// session.
type Bridge struct {
	session *session.Session
	clients map[string]*wsClient
	mu      sync.RWMutex
	nextID  int
}

type wsClient struct {
	conn *websocket.Conn
	ctx  context.Context
	mu   sync.Mutex // serializes writes
}

// NewBridge creates a Bridge. Wire OnOutput and OnCompletion into the
// session's config, then call Attach with the session.
func NewBridge() *Bridge {
	return &Bridge{clients: make(map[string]*wsClient)}
}

// Attach sets the session the bridge drives.
func (b *Bridge) Attach(s *session.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session = s
}

func (b *Bridge) current() *session.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// OnOutput broadcasts a fragment of live output.
func (b *Bridge) OnOutput(fragment string) {
	b.broadcast(MsgOutput, OutputPayload{Content: fragment})
}

// OnCompletion broadcasts a finished request and the new session state.
func (b *Bridge) OnCompletion(c session.Completion) {
	b.broadcast(MsgCompletion, CompletionPayload(c))
	b.broadcastState()
}

// HandleWS is the HTTP handler for the /ws endpoint.
func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}

	ctx := r.Context()
	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("client-%d", b.nextID)
	client := &wsClient{conn: c, ctx: ctx}
	b.clients[id] = client
	b.mu.Unlock()

	slog.Info("websocket client connected", "id", id, "remote", r.RemoteAddr)

	// Send initial state.
	b.sendHistory(client)
	b.sendState(client)

	b.readLoop(ctx, id, client)
}

func (b *Bridge) readLoop(ctx context.Context, id string, client *wsClient) {
	defer func() {
		b.mu.Lock()
		delete(b.clients, id)
		b.mu.Unlock()
		client.conn.Close(websocket.StatusNormalClosure, "")
		slog.Info("websocket client disconnected", "id", id)
	}()

	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			return // client disconnected
		}

		var msg BridgeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid ws message", "error", err, "client", id)
			continue
		}

		b.handleClientMessage(client, msg)
	}
}

func (b *Bridge) handleClientMessage(client *wsClient, msg BridgeMessage) {
	s := b.current()
	if s == nil {
		b.sendError(client, fmt.Errorf("no session attached"))
		return
	}

	switch msg.Type {
	case MsgSubmit:
		p, err := ParsePayload[SubmitPayload](msg)
		if err != nil {
			b.sendError(client, err)
			return
		}
		// Synchronous executors block until the request finishes.
		go func() {
			if err := s.Submit(p.Input); err != nil {
				b.sendError(client, err)
				return
			}
			b.broadcastState()
		}()

	case MsgInterrupt:
		p, err := ParsePayload[InterruptPayload](msg)
		if err != nil {
			b.sendError(client, err)
			return
		}
		if !s.Interrupt(p.TreatAsFailure) {
			b.sendState(client)
		}

	case MsgGetHistory:
		b.sendHistory(client)

	case MsgClear:
		s.Clear()
		b.broadcastHistory()

	case MsgSave:
		p, err := ParsePayload[PathPayload](msg)
		if err != nil {
			b.sendError(client, err)
			return
		}
		if err := s.SaveTranscript(p.Path); err != nil {
			b.sendError(client, err)
			return
		}
		b.broadcastState()

	case MsgRestore:
		p, err := ParsePayload[PathPayload](msg)
		if err != nil {
			b.sendError(client, err)
			return
		}
		go func() {
			if err := s.RestoreTranscript(p.Path); err != nil {
				b.sendError(client, err)
			}
			b.broadcastHistory()
			b.broadcastState()
		}()

	default:
		b.sendError(client, fmt.Errorf("unknown message type %q", msg.Type))
	}
}

// --- Send helpers ---

func (b *Bridge) historyPayload() HistoryPayload {
	s := b.current()
	if s == nil {
		return HistoryPayload{Entries: []EntrySummary{}}
	}
	return HistoryPayload{SessionID: s.ID(), Entries: summarize(s.History())}
}

func (b *Bridge) statePayload() StatePayload {
	s := b.current()
	if s == nil {
		return StatePayload{State: session.Idle.String()}
	}
	return StatePayload{State: s.State().String(), Busy: s.Busy(), TranscriptPath: s.TranscriptPath()}
}

func (b *Bridge) sendHistory(client *wsClient) {
	b.sendTo(client, MsgHistory, b.historyPayload())
}

func (b *Bridge) broadcastHistory() {
	b.broadcast(MsgHistory, b.historyPayload())
}

func (b *Bridge) sendState(client *wsClient) {
	b.sendTo(client, MsgState, b.statePayload())
}

func (b *Bridge) broadcastState() {
	b.broadcast(MsgState, b.statePayload())
}

func (b *Bridge) sendError(client *wsClient, err error) {
	b.sendTo(client, MsgError, ErrorPayload{Message: err.Error()})
}

// broadcast sends a message to all clients.
func (b *Bridge) broadcast(msgType string, payload any) {
	data, err := json.Marshal(BridgeMessage{
		Type:    msgType,
		Payload: mustMarshal(payload),
	})
	if err != nil {
		return
	}

	b.mu.RLock()
	clients := make([]*wsClient, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		c.write(data)
	}
}

func (b *Bridge) sendTo(client *wsClient, msgType string, payload any) {
	data, err := json.Marshal(BridgeMessage{
		Type:    msgType,
		Payload: mustMarshal(payload),
	})
	if err != nil {
		return
	}
	client.write(data)
}

func (c *wsClient) write(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.Write(c.ctx, websocket.MessageText, data)
}

// ClientCount returns the number of connected clients.
func (b *Bridge) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func mustMarshal(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
