// Package realtime implements a WebSocket client for OpenAI's Realtime
// speech API: session setup, audio streaming, barge-in, and off-reader tool
// dispatch (spec §4.4).
package realtime

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

const realtimeURL = "wss://api.openai.com/v1/realtime"

// Config configures one Realtime session. Model/APIKey/Voice/Instructions
// are read from process configuration (spec §6).
type Config struct {
	Model        string
	APIKey       string
	Voice        string
	Instructions string
	VAD          VADConfig
	Tools        []ToolDef

	// InitialGreeting, if set, is spoken by the assistant once the session
	// handshake completes, instead of waiting for the caller to speak
	// first (spec §4 item 1).
	InitialGreeting string
}

// ToolHandler dispatches a named tool call with its parsed JSON arguments
// and returns the textual result to send back as function_call_output.
// Implementations must not block the caller beyond their own timeout; the
// session always runs dispatch on a separate worker (spec §4.4).
type ToolHandler interface {
	Call(ctx context.Context, name string, arguments []byte) (result string, err error)
}

// Dial opens the Realtime WebSocket and performs the initial session.update
// handshake, then returns a Session ready to Run.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	url := realtimeURL + "?model=" + cfg.Model
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, headers)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	s := newSession(conn, cfg)
	if err := s.writeJSON(sessionUpdatePayload(cfg)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("realtime: session.update: %w", err)
	}
	return s, nil
}
