package outbound

import "testing"

func TestBatchStatsRecordAndSnapshot(t *testing.T) {
	b := NewBatchStats()
	b.Reset()

	b.Record(Result{JobID: "1", Success: true})
	b.Record(Result{JobID: "2", Success: false})
	b.Record(Result{JobID: "3", Success: true})

	total, successful, failed := b.Snapshot()
	if total != 3 || successful != 2 || failed != 1 {
		t.Errorf("Snapshot() = (%d, %d, %d), want (3, 2, 1)", total, successful, failed)
	}
}

func TestBatchStatsResetClearsCounters(t *testing.T) {
	b := NewBatchStats()
	b.Record(Result{JobID: "1", Success: true})
	b.Reset()

	total, successful, failed := b.Snapshot()
	if total != 0 || successful != 0 || failed != 0 {
		t.Errorf("Snapshot() after Reset() = (%d, %d, %d), want (0, 0, 0)", total, successful, failed)
	}
}
