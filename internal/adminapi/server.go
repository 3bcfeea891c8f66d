// Package adminapi exposes a small JSON-only health/stats surface, grounded
// on the teacher's mux-based API server but dropping its html/template
// dashboard: SPEC_FULL.md's external interfaces are machine-readable only.
package adminapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// SessionStats is the subset of callsession.Manager this package depends on,
// kept as a narrow interface to avoid adminapi importing callsession's full
// dependency graph.
type SessionStats interface {
	Active() int
	ForcedAudioCount() int
}

// BatchStats is the subset of outbound.BatchStats this package needs.
type BatchStats interface {
	Snapshot() (total, successful, failed int)
}

// Server is a tiny JSON HTTP surface for health checks and runtime stats.
type Server struct {
	addr       string
	httpServer *http.Server
	startTime  time.Time
	sessions   SessionStats
	batch      BatchStats
}

// NewServer builds the admin API. sessions and batch may be nil when the
// owning daemon doesn't have that subsystem (e.g. cmd/outbound has no
// callsession.Manager).
func NewServer(addr string, sessions SessionStats, batch BatchStats) *Server {
	s := &Server{
		addr:      addr,
		startTime: time.Now(),
		sessions:  sessions,
		batch:     batch,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("[AdminAPI] Listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.sessions != nil {
		out["active_sessions"] = s.sessions.Active()
		out["forced_audio_started"] = s.sessions.ForcedAudioCount()
	}
	if s.batch != nil {
		total, successful, failed := s.batch.Snapshot()
		out["batch_total"] = total
		out["batch_successful"] = successful
		out["batch_failed"] = failed
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("[AdminAPI] Failed to encode response", "error", err)
	}
}
