// Package journal is a SQLite-backed default implementation of the
// FunctionDurations sink Pensieve calls into after every evaluation. It
// also keeps a fingerprint ledger (first seen, last seen, hit/miss
// counts) purely for observability — the engine's own cache-hit decision
// never reads from it, so a missing or corrupt journal never affects
// correctness, only the stats it reports.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Journal provides a SQLite-backed persistence layer, following the
// teacher's two-connection pattern: a single writer connection
// (MaxOpenConns=1) serialises writes, and a separate reader pool allows
// concurrent reads without blocking on the writer.
type Journal struct {
	writer    *sql.DB
	reader    *sql.DB
	closeOnce sync.Once
}

const schema = `
CREATE TABLE IF NOT EXISTS durations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	key TEXT NOT NULL,
	duration_ns INTEGER NOT NULL,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_durations_key ON durations(key);

CREATE TABLE IF NOT EXISTS fingerprints (
	hash TEXT PRIMARY KEY,
	key TEXT NOT NULL,
	first_seen TEXT NOT NULL,
	last_seen TEXT NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 0,
	miss_count INTEGER NOT NULL DEFAULT 0
);
`

// Open creates or opens a Journal backed by the SQLite database at path.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("journal: create directory %s: %w", dir, err)
	}

	writerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	writer, err := sql.Open("sqlite", writerDSN)
	if err != nil {
		return nil, fmt.Errorf("journal: open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("journal: ping writer: %w", err)
	}

	readerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=query_only(ON)"
	reader, err := sql.Open("sqlite", readerDSN)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("journal: open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	if err := reader.Ping(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("journal: ping reader: %w", err)
	}

	j := &Journal{writer: writer, reader: reader}
	if _, err := j.writer.Exec(schema); err != nil {
		j.Close()
		return nil, fmt.Errorf("journal: applying schema: %w", err)
	}
	return j, nil
}

// Close closes both connections. Safe to call multiple times.
func (j *Journal) Close() error {
	var firstErr error
	j.closeOnce.Do(func() {
		if j.writer != nil {
			if err := j.writer.Close(); err != nil {
				firstErr = err
			}
		}
		if j.reader != nil {
			if err := j.reader.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// Record implements the FunctionDurations sink contract: it is called once
// per invocation of a memory's user function with the memory's key and how
// long that function took; cache and backup hits are not recorded.
func (j *Journal) Record(runID, key string, d time.Duration) {
	_, err := j.writer.Exec(
		`INSERT INTO durations (run_id, key, duration_ns, recorded_at) VALUES (?, ?, ?, ?)`,
		runID, key, d.Nanoseconds(), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		// Advisory only: a failed duration write must never fail the
		// evaluation it is describing.
		return
	}
}

// RecordFingerprintOutcome upserts the fingerprint ledger: a hit means the
// candidate fingerprint matched cached or backed-up content; a miss means
// the user function had to run.
func (j *Journal) RecordFingerprintOutcome(hash, key string, hit bool) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	hitInc, missInc := 0, 0
	if hit {
		hitInc = 1
	} else {
		missInc = 1
	}
	_, _ = j.writer.Exec(`
		INSERT INTO fingerprints (hash, key, first_seen, last_seen, hit_count, miss_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			last_seen = excluded.last_seen,
			hit_count = fingerprints.hit_count + excluded.hit_count,
			miss_count = fingerprints.miss_count + excluded.miss_count`,
		hash, key, now, now, hitInc, missInc,
	)
}

// Durations returns every recorded duration for key, most recent first.
func (j *Journal) Durations(key string) ([]time.Duration, error) {
	rows, err := j.reader.Query(
		`SELECT duration_ns FROM durations WHERE key = ? ORDER BY id DESC`, key,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: query durations for %q: %w", key, err)
	}
	defer rows.Close()

	var out []time.Duration
	for rows.Next() {
		var ns int64
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("journal: scan duration row: %w", err)
		}
		out = append(out, time.Duration(ns))
	}
	return out, rows.Err()
}

// FingerprintStats describes the ledger row for one fingerprint.
type FingerprintStats struct {
	Hash      string
	Key       string
	FirstSeen string
	LastSeen  string
	HitCount  int64
	MissCount int64
}

// FingerprintHistory returns the ledger row for hash, if any.
func (j *Journal) FingerprintHistory(hash string) (*FingerprintStats, error) {
	f := &FingerprintStats{}
	err := j.reader.QueryRow(`
		SELECT hash, key, first_seen, last_seen, hit_count, miss_count
		FROM fingerprints WHERE hash = ?`, hash,
	).Scan(&f.Hash, &f.Key, &f.FirstSeen, &f.LastSeen, &f.HitCount, &f.MissCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("journal: get fingerprint %s: %w", hash, err)
	}
	return f, nil
}
