package outbound

import (
	"log/slog"
	"sync"
	"time"
)

// BatchStats accumulates per-batch counters and per-job records
// (spec §4.6: "Maintain per-batch counters... Emit a summary at batch end").
type BatchStats struct {
	mu        sync.Mutex
	total     int
	successful int
	failed    int
	records   []Result
	startedAt time.Time
}

// NewBatchStats creates an empty accumulator.
func NewBatchStats() *BatchStats {
	return &BatchStats{}
}

// Reset clears counters for a new batch.
func (b *BatchStats) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = 0
	b.successful = 0
	b.failed = 0
	b.records = nil
	b.startedAt = time.Now()
}

// Record adds one job's outcome to the batch.
func (b *BatchStats) Record(r Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total++
	if r.Success {
		b.successful++
	} else {
		b.failed++
	}
	b.records = append(b.records, r)
}

// LogSummary emits the end-of-batch summary line (spec §4.6).
func (b *BatchStats) LogSummary() {
	b.mu.Lock()
	defer b.mu.Unlock()
	slog.Info("[Outbound] Batch complete",
		"total", b.total,
		"successful", b.successful,
		"failed", b.failed,
		"duration", time.Since(b.startedAt))
}

// Snapshot returns the current counters (for the admin API).
func (b *BatchStats) Snapshot() (total, successful, failed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total, b.successful, b.failed
}
