package callsession

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sebas/voicebridge/internal/ari"
)

// Manager is the registry of live inbound CallSessions, keyed by Asterisk
// channel id (spec §3: "Identified by the Asterisk channel id").
type Manager struct {
	client    *ari.Client
	stasisApp string
	deps      Deps

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager builds a Manager. deps.ARI and deps.StasisApp are filled in
// from client and stasisApp; per-call fields are filled in as sessions are
// created.
func NewManager(client *ari.Client, stasisApp string, deps Deps) *Manager {
	deps.ARI = client
	deps.StasisApp = stasisApp
	return &Manager{
		client:    client,
		stasisApp: stasisApp,
		deps:      deps,
		sessions:  make(map[string]*Session),
	}
}

// HandleEvent dispatches one ARI event to session setup/teardown, ignoring
// external-media channel ids and event types this manager doesn't act on
// (spec §4.5).
func (m *Manager) HandleEvent(ctx context.Context, evt *ari.Event) {
	switch evt.Type {
	case ari.EventStasisStart:
		m.handleStasisStart(ctx, evt)
	case ari.EventStasisEnd:
		m.handleStasisEnd(ctx, evt)
	}
}

func (m *Manager) handleStasisStart(ctx context.Context, evt *ari.Event) {
	if evt.Channel == nil {
		return
	}
	if ari.IsExternalMediaChannel(evt.Channel.ID) || ari.IsExternalMediaChannel(evt.Channel.Name) {
		return
	}

	m.mu.RLock()
	_, exists := m.sessions[evt.Channel.ID]
	m.mu.RUnlock()
	if exists {
		return
	}

	session, err := Start(ctx, evt.Channel, m.deps)
	if err != nil {
		slog.Error("[CallSession] Setup failed", "channel_id", evt.Channel.ID, "error", err)
		_ = m.client.Hangup(ctx, evt.Channel.ID)
		return
	}

	m.mu.Lock()
	m.sessions[evt.Channel.ID] = session
	m.mu.Unlock()
}

func (m *Manager) handleStasisEnd(ctx context.Context, evt *ari.Event) {
	if evt.Channel == nil {
		return
	}

	m.mu.Lock()
	session, exists := m.sessions[evt.Channel.ID]
	if exists {
		delete(m.sessions, evt.Channel.ID)
	}
	m.mu.Unlock()

	if !exists {
		return
	}
	session.Stop(ctx, m.client, m.stasisApp)
}

// Active returns the number of live sessions (for the admin API).
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ForcedAudioCount returns how many currently-live sessions have hit the
// silent-call fallback (spec §9 Open Question #3).
func (m *Manager) ForcedAudioCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.ForcedAudioStarted() {
			n++
		}
	}
	return n
}
