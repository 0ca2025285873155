package pensieve

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/allaspectsdev/pensieve/internal/hashprobe"
	"github.com/allaspectsdev/pensieve/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// Memory is one DAG node: a key, a producer function, and the cached
// content that function last produced. A Memory never holds pointers to
// peer memories — all precursor/successor lookups go through the owning
// Pensieve's adjacency tables, so Memory itself has no ownership cycles.
type Memory struct {
	mu sync.Mutex

	key string
	fn  storedFunc

	content     any
	hasContent  bool
	fingerprint string

	stale      bool
	frozen     bool
	deepFrozen bool

	materialize bool
	contentType string
	accessCount int64
	label       string
	metadata    map[string]any

	totalTime    time.Duration
	lastEvalTime time.Duration
	sizeBytes    int64
	sizeTokens   int64

	backupDir string

	owner *Pensieve
}

// MemorySummary is a point-in-time, display-friendly snapshot of a
// Memory — the Go analogue of the source's Memory.get_summary, used by
// cmd/pensieve instead of the excluded graphviz surface.
type MemorySummary struct {
	Key           string
	ContentType   string
	Materialize   bool
	Frozen        bool
	DeepFrozen    bool
	Stale         bool
	AccessCount   int64
	Label         string
	LastEvalTime  time.Duration
	TotalTime     time.Duration
	SizeBytes     int64
	SizeTokens    int64
	Fingerprint   string
	PrecursorKeys []string
	Metadata      map[string]any
}

// Summary returns a snapshot of m, merging extra into Metadata (caller
// keys collide with an existing metadata key get a "metadata_" prefix,
// matching the source's collision rule).
func (m *Memory) Summary(extra map[string]any) MemorySummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := make(map[string]any, len(m.metadata)+len(extra))
	for k, v := range m.metadata {
		merged[k] = v
	}
	for k, v := range extra {
		if _, collide := merged[k]; collide {
			k = "metadata_" + k
		}
		merged[k] = v
	}

	return MemorySummary{
		Key:           m.key,
		ContentType:   m.contentType,
		Materialize:   m.materialize,
		Frozen:        m.frozen,
		DeepFrozen:    m.deepFrozen,
		Stale:         m.stale,
		AccessCount:   m.accessCount,
		Label:         m.label,
		LastEvalTime:  m.lastEvalTime,
		TotalTime:     m.totalTimeLocked(),
		SizeBytes:     m.sizeBytes,
		SizeTokens:    m.sizeTokens,
		Fingerprint:   m.fingerprint,
		PrecursorKeys: m.owner.precursorsOf(m.key),
		Metadata:      merged,
	}
}

// TotalTime is m's own last evaluation time plus the recursive sum of its
// precursors' TotalTime. Computed on demand rather than memoized: a cached
// rollup would go stale silently across re-evaluation, which the source's
// once-per-process memoization does not handle correctly — a deliberate
// correctness fix over the original, not a carried-over behavior.
func (m *Memory) TotalTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalTimeLocked()
}

func (m *Memory) totalTimeLocked() time.Duration {
	total := m.lastEvalTime
	for _, pk := range m.owner.precursorsOf(m.key) {
		if parent := m.owner.memoryOrNil(pk); parent != nil {
			total += parent.TotalTime()
		}
	}
	return total
}

// Key returns the memory's identifier.
func (m *Memory) Key() string { return m.key }

// IsStale reports whether the cached content is absent or known-obsolete.
func (m *Memory) IsStale() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale
}

// IsFrozen reports whether mutation is currently forbidden.
func (m *Memory) IsFrozen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frozen
}

// AccessCount returns how many reads of the memory's content (through Get,
// Evaluate or a successor's evaluation) have succeeded.
func (m *Memory) AccessCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessCount
}

// markStale marks m stale. Idempotent; for non-materialized memories
// staleness is trivially always true, so this is a no-op for them.
func (m *Memory) markStale() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.materialize {
		m.stale = true
	}
}

// freeze toggles the frozen flag. forever requests a permanent deep
// freeze, which additionally discards the function reference.
func (m *Memory) freeze(forever bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = true
	if forever {
		m.deepFrozen = true
		m.fn = storedFunc{}
	}
	log.Debug().Str("key", m.key).Bool("forever", forever).Msg("pensieve: memory frozen")
}

// unfreeze clears the frozen flag, unless the memory is deep-frozen, in
// which case the request is ignored with a warning.
func (m *Memory) unfreeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deepFrozen {
		log.Warn().Str("key", m.key).Msg("pensieve: ignoring unfreeze of a deep-frozen memory")
		return
	}
	m.frozen = false
	log.Debug().Str("key", m.key).Msg("pensieve: memory unfrozen")
}

// content implements the computation protocol of §4.3: reuse a cache hit,
// reuse a backup hit, or invoke the function and store the result. Each
// call opens its own evaluation span (key, fingerprint, hit/miss outcome
// as attributes), independent of whichever round or caller is driving it.
func (m *Memory) content(ctx context.Context) (any, error) {
	ctx, span := telemetry.StartEvaluation(ctx, m.key)
	defer span.End()

	m.mu.Lock()

	if !m.materialize {
		precursorKeys, values, err := m.gatherPrecursorsLocked(ctx)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		m.accessCount++
		fn := m.fn
		m.mu.Unlock()
		result, _, evalErr := m.evaluate(fn, precursorKeys, values)
		telemetry.RecordOutcome(span, "", false)
		return result, evalErr
	}

	if m.frozen || !m.stale {
		content := m.content
		fp := m.fingerprint
		m.accessCount++
		m.mu.Unlock()
		telemetry.RecordOutcome(span, fp, true)
		return content, nil
	}

	precursorKeys, values, err := m.gatherPrecursorsLocked(ctx)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	fn := m.fn
	m.mu.Unlock()

	candidate := m.candidateFingerprint(precursorKeys, values)

	m.mu.Lock()
	if candidate == m.fingerprint && m.hasContent {
		content := m.content
		m.stale = false
		m.accessCount++
		m.mu.Unlock()
		m.recordFingerprintOutcome(candidate, true)
		telemetry.RecordOutcome(span, candidate, true)
		return content, nil
	}
	m.mu.Unlock()

	if m.owner.backup != nil {
		if fp, ok := m.owner.backup.LoadHash(m.key); ok && fp == candidate {
			if loaded, ok := m.owner.backup.LoadContent(m.key, nil); ok {
				m.mu.Lock()
				m.content = loaded
				m.hasContent = true
				m.fingerprint = candidate
				m.stale = false
				m.accessCount++
				m.contentType = fmt.Sprintf("%T", loaded)
				m.mu.Unlock()
				m.recordFingerprintOutcome(candidate, true)
				telemetry.RecordOutcome(span, candidate, true)
				return loaded, nil
			}
		}
	}

	result, elapsed, err := m.evaluate(fn, precursorKeys, values)
	m.recordFingerprintOutcome(candidate, false)
	telemetry.RecordOutcome(span, candidate, false)
	if err != nil {
		log.Warn().Str("key", m.key).Err(err).Msg("pensieve: evaluation failed, memory remains stale")
		return nil, err
	}

	m.mu.Lock()
	m.content = result
	m.hasContent = true
	m.fingerprint = candidate
	m.stale = false
	m.accessCount++
	m.lastEvalTime = elapsed
	m.totalTime += elapsed
	m.contentType = fmt.Sprintf("%T", result)
	m.sizeBytes, m.sizeTokens = m.owner.estimateSize(result)
	m.mu.Unlock()

	if m.owner.backup != nil {
		if err := m.owner.backup.StoreContentAndHash(m.key, result, candidate); err != nil {
			log.Warn().Str("key", m.key).Err(err).Msg("pensieve: backup write failed, continuing without it")
		}
	}

	return result, nil
}

// gatherPrecursorsLocked reads every precursor's content in declared
// order. Must be called with m.mu held; releases nothing — callers release
// the lock before recursing into parent.content(), which may itself lock
// other memories.
func (m *Memory) gatherPrecursorsLocked(ctx context.Context) ([]string, []any, error) {
	keys := m.owner.precursorsOf(m.key)
	m.mu.Unlock()
	defer m.mu.Lock()

	values := make([]any, len(keys))
	for i, k := range keys {
		parent := m.owner.memoryOrNil(k)
		if parent == nil {
			return nil, nil, newMissingMemoryError(k)
		}
		v, err := parent.content(ctx)
		if err != nil {
			return nil, nil, err
		}
		values[i] = v
	}
	return keys, values, nil
}

// candidateFingerprint computes the would-be fingerprint for the current
// function source and precursor state, without mutating m.
func (m *Memory) candidateFingerprint(precursorKeys []string, values []any) string {
	precursors := make([]hashprobe.Precursor, len(precursorKeys))
	for i, k := range precursorKeys {
		precursors[i] = hashprobe.Precursor{Key: k, Value: m.precursorHashValue(k, values[i])}
	}
	return m.owner.hashProbe.Fingerprint(hashprobe.Input{
		Source:     m.fn.source,
		Precursors: precursors,
	})
}

// precursorHashValue fingerprints a parent's fingerprint when available
// (avoids O(size-of-graph) rehashing of large payloads at every level);
// non-materialized parents have no stable fingerprint, so their actual
// value is rendered and hashed instead.
func (m *Memory) precursorHashValue(key string, value any) string {
	if parent := m.owner.memoryOrNil(key); parent != nil {
		parent.mu.Lock()
		fp, has := parent.fingerprint, parent.materialize && parent.hasContent
		parent.mu.Unlock()
		if has && fp != "" {
			return fp
		}
	}
	return fmt.Sprintf("%v", value)
}

// evaluate invokes fn, measuring duration and routing it to the owning
// pensieve's FunctionDurations sink.
func (m *Memory) evaluate(fn storedFunc, precursorKeys []string, values []any) (any, time.Duration, error) {
	if fn.isEmpty() {
		return nil, 0, newUnevaluableMemoryError(m.key)
	}

	start := time.Now()
	result, err := fn.call(precursorKeys, values)
	elapsed := time.Since(start)

	if m.owner.durations != nil {
		m.owner.durations.Record(m.key, elapsed)
	}
	return result, elapsed, err
}

func (m *Memory) recordFingerprintOutcome(fingerprint string, hit bool) {
	if m.owner.journal != nil {
		m.owner.journal.RecordFingerprintOutcome(fingerprint, m.key, hit)
	}
}
