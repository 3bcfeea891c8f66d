package ari

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// reconnectDelay is the fixed delay between WebSocket reconnect attempts
// (spec §4.3: "auto-reconnects with a fixed 5s delay").
const reconnectDelay = 5 * time.Second

// EventSubscriber maintains a long-lived WebSocket connection to ARI's
// /ari/events endpoint for one Stasis app, auto-reconnecting on drop.
type EventSubscriber struct {
	url    string
	events chan *Event
}

// NewEventSubscriber builds a subscriber for the given Stasis app. Call Run
// to start the connect loop; events arrive on Events().
func NewEventSubscriber(client *Client, app string) *EventSubscriber {
	return &EventSubscriber{
		url:    client.WebSocketURL(app),
		events: make(chan *Event, 64),
	}
}

// Events returns the channel of parsed ARI events.
func (s *EventSubscriber) Events() <-chan *Event {
	return s.events
}

// Run connects and reads events until ctx is cancelled, reconnecting after
// every drop. Event loss during a reconnect window is accepted (spec §4.3).
func (s *EventSubscriber) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(s.events)
			return
		default:
		}

		if err := s.runOnce(ctx); err != nil {
			slog.Warn("[ARI] WebSocket connection dropped", "error", err, "url", redactAPIKey(s.url))
		}

		select {
		case <-ctx.Done():
			close(s.events)
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *EventSubscriber) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	slog.Info("[ARI] WebSocket connected")

	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		<-done
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		evt, err := ParseEvent(raw)
		if err != nil {
			slog.Debug("[ARI] Malformed event frame dropped", "error", err)
			continue
		}

		select {
		case s.events <- evt:
		case <-ctx.Done():
			return nil
		}
	}
}

// redactAPIKey strips the api_key query parameter before logging a WS URL.
func redactAPIKey(u string) string {
	const marker = "api_key="
	idx := indexOf(u, marker)
	if idx < 0 {
		return u
	}
	end := idx + len(marker)
	amp := indexOf(u[end:], "&")
	if amp < 0 {
		return u[:end] + "***"
	}
	return u[:end] + "***" + u[end+amp:]
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
