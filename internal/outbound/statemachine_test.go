package outbound

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/sebas/voicebridge/internal/ari"
	"github.com/sebas/voicebridge/internal/callsession"
)

// fakeStore is an in-memory Store for exercising the state machine without a
// database.
type fakeStore struct {
	sentJobID string
	sentAt    time.Time
	sentCalls int
	attempts  int
}

func (f *fakeStore) LoadBatch(ctx context.Context, limit int) ([]*Job, error) { return nil, nil }
func (f *fakeStore) MarkSent(ctx context.Context, jobID string, completedAt time.Time) error {
	f.sentCalls++
	f.sentJobID = jobID
	f.sentAt = completedAt
	return nil
}
func (f *fakeStore) IncrementAttempts(ctx context.Context, jobID string) error {
	f.attempts++
	return nil
}
func (f *fakeStore) MonthlyReset(ctx context.Context) (int64, error) { return 0, nil }

// newTestClient points an ari.Client at an httptest.Server.
func newTestClient(t *testing.T, srv *httptest.Server) *ari.Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse(%q) error = %v", srv.URL, err)
	}
	host := u.Hostname()
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("invalid test server port %q: %v", u.Port(), err)
	}
	return ari.NewClient(host, port, "user", "pass")
}

func newRunnerConfig(client *ari.Client, store Store) RunnerConfig {
	return RunnerConfig{
		Client:            client,
		Store:             store,
		Playback:          callsession.NewPlaybackMap(),
		StasisApp:         "outbound-app",
		CallerID:          "Overdue Notice",
		Media:             "sound:overdue-notice",
		CallTimeout:       2 * time.Second,
		AudioStartTimeout: 200 * time.Millisecond,
		MaxSilent:         2 * time.Second,
	}
}

// TestRunJobAllocationFailureBacksOff covers scenario S1: an ARI origination
// that reports "Allocation failed" must be treated as a failed attempt, not a
// fatal error, after a >=30s backoff.
func TestRunJobAllocationFailureBacksOff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"Allocation failed"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	store := &fakeStore{}
	cfg := newRunnerConfig(client, store)
	runner := NewRunner(cfg)

	job := &Job{ID: "job-1", Phone: "573001234567"}
	events := make(chan *ari.Event)

	// Bound the 30s backoff with a context deadline well under it so the
	// test doesn't actually wait 30 seconds; RunJob selects on ctx.Done()
	// during the backoff and still reports the allocation-failure reason.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := runner.RunJob(ctx, job, events)
	if res.Success {
		t.Fatal("RunJob() on allocation failure: Success = true, want false")
	}
	if res.FailureReason != FailureAllocationFailed {
		t.Errorf("FailureReason = %v, want %v", res.FailureReason, FailureAllocationFailed)
	}
	if store.sentJobID != "" {
		t.Errorf("MarkSent was called on an allocation failure: jobID = %q", store.sentJobID)
	}
}

// TestRunJobSuccessPath covers scenario S2: StasisStart, PlaybackStarted,
// PlaybackFinished, ChannelDestroyed in order should mark the job
// COMPLETED/is_sent with exactly one MarkSent call.
func TestRunJobSuccessPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/ari/channels":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":"abc"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/ari/channels/abc/play":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"p1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	store := &fakeStore{}
	cfg := newRunnerConfig(client, store)
	runner := NewRunner(cfg)

	job := &Job{ID: "job-2", Phone: "573001234567"}
	events := make(chan *ari.Event, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan Result, 1)
	go func() { done <- runner.RunJob(ctx, job, events) }()

	events <- &ari.Event{Type: ari.EventStasisStart, Channel: &ari.Channel{ID: "abc"}}
	events <- &ari.Event{Type: ari.EventPlaybackStarted, Playback: &ari.Playback{ID: "p1"}}
	events <- &ari.Event{Type: ari.EventPlaybackFinished, Playback: &ari.Playback{ID: "p1"}}
	events <- &ari.Event{Type: ari.EventChannelDestroyed, Channel: &ari.Channel{ID: "abc"}}

	select {
	case res := <-done:
		if !res.Success {
			t.Fatalf("RunJob() Success = false, want true (reason=%v)", res.FailureReason)
		}
		if res.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", res.Attempts)
		}
		if res.Duration < 0 || res.Duration > 180*time.Second {
			t.Errorf("Duration = %v, want within [0, 180s]", res.Duration)
		}
		if !res.AudioPlayed {
			t.Error("AudioPlayed = false, want true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunJob() did not return within 2s")
	}

	if store.sentJobID != "job-2" {
		t.Errorf("MarkSent job id = %q, want job-2", store.sentJobID)
	}
	if store.sentCalls != 1 {
		t.Errorf("MarkSent calls = %d, want exactly 1", store.sentCalls)
	}
}

// TestRunJobAudioStartTimeout covers scenario S3: StasisStart without a
// PlaybackStarted inside AudioStartTimeout must fail as AUDIO_FAILED, with no
// is_sent update, and the job is eligible for retry by the caller.
func TestRunJobAudioStartTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/ari/channels":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":"abc"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/ari/channels/abc/play":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"p1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	store := &fakeStore{}
	cfg := newRunnerConfig(client, store)
	cfg.AudioStartTimeout = 50 * time.Millisecond // short, so the test doesn't wait 15s
	runner := NewRunner(cfg)

	job := &Job{ID: "job-3", Phone: "573001234567"}
	events := make(chan *ari.Event, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan Result, 1)
	go func() { done <- runner.RunJob(ctx, job, events) }()

	events <- &ari.Event{Type: ari.EventStasisStart, Channel: &ari.Channel{ID: "abc"}}
	// No PlaybackStarted follows; AudioStartTimeout should fire.

	select {
	case res := <-done:
		if res.Success {
			t.Fatal("RunJob() Success = true, want false")
		}
		if res.FailureReason != FailureAudioStartTimeout {
			t.Errorf("FailureReason = %v, want %v", res.FailureReason, FailureAudioStartTimeout)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunJob() did not return within 2s")
	}

	if store.sentJobID != "" {
		t.Errorf("MarkSent was called despite audio-start timeout: jobID = %q", store.sentJobID)
	}
	if job.State != StateAudioFailed {
		t.Errorf("job.State = %v, want %v", job.State, StateAudioFailed)
	}
}
