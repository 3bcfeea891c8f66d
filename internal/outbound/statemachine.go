package outbound

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sebas/voicebridge/internal/ari"
	"github.com/sebas/voicebridge/internal/callsession"
)

// RunnerConfig carries the per-job state machine's tunables
// (spec §4.6: "Configurable parameters (defaults)").
type RunnerConfig struct {
	Client    *ari.Client
	Store     Store
	Playback  *callsession.PlaybackMap
	StasisApp string
	CallerID  string
	Media     string // "sound:<name>" played once the call is answered

	CallTimeout       time.Duration
	AudioStartTimeout time.Duration
	MaxSilent         time.Duration
}

// Runner drives one job through the state machine diagrammed in spec §4.6.
type Runner struct {
	cfg RunnerConfig
}

// NewRunner builds a Runner sharing the process-wide ARI client.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{cfg: cfg}
}

// RunJob originates the call and drives it to a terminal state, returning
// once this attempt has succeeded or failed. ctx bounds the whole attempt
// (PER_JOB_TIMEOUT, spec §5).
func (r *Runner) RunJob(ctx context.Context, job *Job, events <-chan *ari.Event) Result {
	start := time.Now()
	job.AttemptStart = start
	job.State = StateInitiated

	endpoint := "PJSIP/" + job.Phone + "@outbound-trunk"
	channelID, err := r.cfg.Client.Originate(ctx, endpoint, r.cfg.StasisApp, r.cfg.CallerID,
		map[string]string{"job_id": job.ID})
	if err != nil {
		if errors.Is(err, ari.ErrAllocationFailed) {
			slog.Warn("[Outbound] Allocation failed, backing off", "job_id", job.ID)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
			}
			return result(job, start, false, FailureAllocationFailed)
		}
		return result(job, start, false, FailureDialTimeout)
	}

	job.ChannelID = channelID
	job.State = StateRinging

	dialTimer := time.NewTimer(r.cfg.CallTimeout)
	defer dialTimer.Stop()

	var audioStartTimer, silentTimer *time.Timer
	stopTimer := func(t *time.Timer) {
		if t != nil {
			t.Stop()
		}
	}
	defer func() {
		stopTimer(audioStartTimer)
		stopTimer(silentTimer)
	}()

	for {
		var audioStartC, silentC <-chan time.Time
		if audioStartTimer != nil {
			audioStartC = audioStartTimer.C
		}
		if silentTimer != nil {
			silentC = silentTimer.C
		}

		select {
		case <-ctx.Done():
			return result(job, start, false, FailureDialTimeout)

		case <-dialTimer.C:
			if job.State == StateRinging {
				return result(job, start, false, FailureDialTimeout)
			}

		case <-audioStartC:
			job.State = StateAudioFailed
			return result(job, start, false, FailureAudioStartTimeout)

		case <-silentC:
			job.State = StateAudioFailed
			return result(job, start, false, FailureSilentTooLong)

		case evt, ok := <-events:
			if !ok {
				return result(job, start, false, FailureChannelDestroyed)
			}

			switch evt.Type {
			case ari.EventStasisStart:
				if evt.Channel == nil || evt.Channel.ID != job.ChannelID {
					continue
				}
				job.State = StateAnswered
				playbackID, err := r.cfg.Client.PlaySound(ctx, job.ChannelID, r.cfg.Media)
				if err != nil {
					return result(job, start, false, FailureAudioStartTimeout)
				}
				job.PlaybackID = playbackID
				r.cfg.Playback.Track(playbackID, job.ChannelID)
				audioStartTimer = time.NewTimer(r.cfg.AudioStartTimeout)
				silentTimer = time.NewTimer(r.cfg.MaxSilent)

			case ari.EventPlaybackStarted:
				if evt.Playback == nil {
					continue
				}
				ch, known := r.cfg.Playback.ChannelFor(evt.Playback.ID)
				if !known || ch != job.ChannelID {
					continue
				}
				job.State = StateAudioPlaying
				stopTimer(audioStartTimer)
				audioStartTimer = nil
				stopTimer(silentTimer)
				silentTimer = nil
				if err := r.cfg.Store.MarkSent(ctx, job.ID, time.Now()); err != nil {
					slog.Error("[Outbound] Failed to persist is_sent", "job_id", job.ID, "error", err)
				}

			case ari.EventPlaybackFinished:
				if evt.Playback == nil || evt.Playback.ID != job.PlaybackID {
					continue
				}
				r.cfg.Playback.Forget(evt.Playback.ID)
				job.State = StateCompleted
				job.AudioPlayed = true
				return result(job, start, true, FailureNone)

			case ari.EventChannelDestroyed:
				if evt.Channel == nil || evt.Channel.ID != job.ChannelID {
					continue
				}
				if job.State == StateCompleted {
					continue
				}
				job.State = StateFailed
				return result(job, start, false, FailureChannelDestroyed)
			}
		}
	}
}

func result(job *Job, start time.Time, success bool, reason FailureReason) Result {
	job.FailureReason = reason
	return Result{
		JobID:         job.ID,
		Success:       success,
		Attempts:      job.Attempts + 1,
		Duration:      time.Since(start),
		AudioPlayed:   job.AudioPlayed,
		FailureReason: reason,
	}
}
