package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRecord_AndDurations(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	j.Record("run1", "fib(10)", 5*time.Millisecond)
	j.Record("run2", "fib(10)", 7*time.Millisecond)

	durations, err := j.Durations("fib(10)")
	if err != nil {
		t.Fatal(err)
	}
	if len(durations) != 2 {
		t.Fatalf("expected 2 durations, got %d", len(durations))
	}
	// Most recent first.
	if durations[0] != 7*time.Millisecond {
		t.Fatalf("expected most recent duration 7ms first, got %v", durations[0])
	}
}

func TestRecordFingerprintOutcome_AccumulatesHitsAndMisses(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	j.RecordFingerprintOutcome("abc123", "fib(10)", false)
	j.RecordFingerprintOutcome("abc123", "fib(10)", true)
	j.RecordFingerprintOutcome("abc123", "fib(10)", true)

	stats, err := j.FingerprintHistory("abc123")
	if err != nil {
		t.Fatal(err)
	}
	if stats == nil {
		t.Fatal("expected fingerprint history to exist")
	}
	if stats.HitCount != 2 || stats.MissCount != 1 {
		t.Fatalf("expected hit=2 miss=1, got hit=%d miss=%d", stats.HitCount, stats.MissCount)
	}
}

func TestFingerprintHistory_NilWhenUnknown(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	stats, err := j.FingerprintHistory("nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if stats != nil {
		t.Fatalf("expected nil for unknown fingerprint, got %+v", stats)
	}
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "deeper")
	j, err := Open(filepath.Join(dir, "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
}
