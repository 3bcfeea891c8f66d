package outbound

import (
	"context"
	"log/slog"
	"time"

	"github.com/sebas/voicebridge/internal/ari"
	"github.com/sebas/voicebridge/internal/callsession"
)

// Controller is the queue-driven outbound dialer (spec §4.6). Jobs within a
// batch run one at a time, separated by INTER_JOB_DELAY; this keeps ARI
// event routing for the state machine trivial (one active channel at a
// time) and matches the dispatch loop's description of the control flow
// (spec §2).
type Controller struct {
	client     *ari.Client
	subscriber *ari.EventSubscriber
	store      Store
	playback   *callsession.PlaybackMap

	stasisApp string
	maxAttempts int
	retryDelay time.Duration
	interJobDelay time.Duration
	perJobTimeout time.Duration
	batchSize int
	dispatchInterval time.Duration

	runnerCfg RunnerConfig

	events chan *ari.Event
	stats  *BatchStats
}

// Config bundles the controller's tunables (spec §4.6 "Configurable
// parameters (defaults)").
type Config struct {
	StasisApp        string
	CallerID         string
	Media            string
	MaxAttempts      int
	CallTimeout      time.Duration
	AudioStartTimeout time.Duration
	MaxSilent        time.Duration
	RetryDelay       time.Duration
	InterJobDelay    time.Duration
	PerJobTimeout    time.Duration
	BatchSize        int
	DispatchInterval time.Duration
}

// NewController wires a Controller over a shared ARI client and store.
func NewController(client *ari.Client, store Store, cfg Config) *Controller {
	playback := callsession.NewPlaybackMap()
	sub := ari.NewEventSubscriber(client, cfg.StasisApp)

	c := &Controller{
		client:           client,
		subscriber:       sub,
		store:            store,
		playback:         playback,
		stasisApp:        cfg.StasisApp,
		maxAttempts:      cfg.MaxAttempts,
		retryDelay:       cfg.RetryDelay,
		interJobDelay:    cfg.InterJobDelay,
		perJobTimeout:    cfg.PerJobTimeout,
		batchSize:        cfg.BatchSize,
		dispatchInterval: cfg.DispatchInterval,
		events:           make(chan *ari.Event, 256),
		stats:            NewBatchStats(),
		runnerCfg: RunnerConfig{
			Client:            client,
			Store:             store,
			Playback:          playback,
			StasisApp:         cfg.StasisApp,
			CallerID:          cfg.CallerID,
			Media:             cfg.Media,
			CallTimeout:       cfg.CallTimeout,
			AudioStartTimeout: cfg.AudioStartTimeout,
			MaxSilent:         cfg.MaxSilent,
		},
	}
	return c
}

// Run starts the WS subscriber, the event forwarder, and the periodic
// dispatch loop. It blocks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	go c.subscriber.Run(ctx)
	go c.forwardEvents(ctx)

	ticker := time.NewTicker(c.dispatchInterval)
	defer ticker.Stop()

	c.runBatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runBatch(ctx)
		}
	}
}

func (c *Controller) forwardEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.subscriber.Events():
			if !ok {
				return
			}
			select {
			case c.events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}
}

// preflight health-checks/cleans up stale channels before a batch
// (spec §4.6: "mitigate Allocation failed").
func (c *Controller) preflight(ctx context.Context) {
	channels, err := c.client.ListChannels(ctx)
	if err != nil {
		slog.Warn("[Outbound] Preflight channel listing failed", "error", err)
		return
	}
	for _, ch := range channels {
		stale := ch.State == "Down" || ch.State == "Reserved" ||
			(ch.Dialplan != nil && ch.Dialplan.AppName == c.stasisApp)
		if !stale {
			continue
		}
		if err := c.client.Hangup(ctx, ch.ID); err != nil {
			slog.Debug("[Outbound] Preflight hangup failed", "channel_id", ch.ID, "error", err)
		} else {
			slog.Info("[Outbound] Preflight cleaned stale channel", "channel_id", ch.ID, "state", ch.State)
		}
	}
}

func (c *Controller) runBatch(ctx context.Context) {
	c.preflight(ctx)

	jobs, err := c.store.LoadBatch(ctx, c.batchSize)
	if err != nil {
		slog.Error("[Outbound] Failed to load batch", "error", err)
		return
	}
	if len(jobs) == 0 {
		slog.Info("[Outbound] No eligible jobs this cycle")
		return
	}

	c.stats.Reset()
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res := c.runWithRetries(ctx, job)
		c.stats.Record(res)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.interJobDelay):
		}
	}

	c.stats.LogSummary()
}

func (c *Controller) runWithRetries(ctx context.Context, job *Job) Result {
	runner := NewRunner(c.runnerCfg)

	var last Result
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		jobCtx, cancel := context.WithTimeout(ctx, c.perJobTimeout)
		last = runner.RunJob(jobCtx, job, c.events)
		cancel()

		if last.Success {
			return last
		}

		if err := c.store.IncrementAttempts(ctx, job.ID); err != nil {
			slog.Error("[Outbound] Failed to persist attempt increment", "job_id", job.ID, "error", err)
		}
		job.Attempts++

		if attempt+1 >= c.maxAttempts {
			last.FailureReason = FailureMaxAttempts
			return last
		}

		slog.Info("[Outbound] Job failed, scheduling retry", "job_id", job.ID,
			"attempt", attempt+1, "reason", last.FailureReason, "retry_delay", c.retryDelay)

		select {
		case <-ctx.Done():
			return last
		case <-time.After(c.retryDelay):
		}
	}
	return last
}

// Stats exposes the controller's running batch counters (for the admin
// API).
func (c *Controller) Stats() *BatchStats { return c.stats }
