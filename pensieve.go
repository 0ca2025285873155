package pensieve

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/allaspectsdev/pensieve/internal/backupstore"
	"github.com/allaspectsdev/pensieve/internal/config"
	"github.com/allaspectsdev/pensieve/internal/hashprobe"
	"github.com/allaspectsdev/pensieve/internal/journal"
	"github.com/allaspectsdev/pensieve/internal/sizeest"
	"github.com/rs/zerolog/log"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// reservedKeys collides with pensieve operation names; Store rejects any
// key matching one of these.
var reservedKeys = map[string]bool{
	"store": true, "erase": true, "freeze": true, "unfreeze": true,
	"evaluate": true, "ancestors": true, "descendants": true, "merge": true,
	"schedule": true, "save": true, "load": true,
}

// Pensieve is the DAG container: key→Memory plus precursor/successor
// adjacency, structural mutation, evaluation dispatch, and cycle
// detection. Pensieve is the sole owner of its memories; it is not safe
// for concurrent structural mutation (Store/Erase/freeze toggles) without
// external serialization, matching the specification's concurrency model
// — only Evaluate's internal wave-front dispatch is safe to run
// concurrently with itself.
type Pensieve struct {
	mu sync.RWMutex

	options    Options
	memories   map[string]*Memory
	precursors map[string][]string
	successors map[string][]string

	hashProbe *hashprobe.Probe
	backup    *backupstore.Store
	durations FunctionDurations
	journal   *journal.Journal
	sizer     *sizeest.Estimator
}

// New constructs a Pensieve. Options not explicitly overridden by opts
// fall back to the process-wide default profile (internal/config.Current),
// which in turn falls back to internal/config.Default().
func New(opts ...Option) (*Pensieve, error) {
	options := optionsFromProfile(config.Current())
	for _, opt := range opts {
		opt(&options)
	}
	if options.NumThreads == 0 {
		options.NumThreads = 1
	}
	if options.FunctionDurations == nil {
		options.FunctionDurations = noopDurations{}
	}

	p := &Pensieve{
		options:    options,
		memories:   make(map[string]*Memory),
		precursors: make(map[string][]string),
		successors: make(map[string][]string),
		hashProbe:  &hashprobe.Probe{Disabled: !options.DoHash},
		durations:  options.FunctionDurations,
		sizer:      sizeest.New(),
	}
	if jd, ok := options.FunctionDurations.(*JournalDurations); ok {
		p.journal = jd.j
	}

	if options.Backup != "" {
		store, err := backupstore.Open(options.Backup, 0)
		if err != nil {
			return nil, fmt.Errorf("pensieve: opening backup store: %w", err)
		}
		p.backup = store
	}

	log.Debug().Str("name", options.Name).Int("num_threads", options.NumThreads).Msg("pensieve: constructed")
	return p, nil
}

// Close closes the journal wired in via WithJournal, if any. The journal
// is opened by the caller; Close is the only resource it releases.
func (p *Pensieve) Close() error {
	if p.journal != nil {
		return p.journal.Close()
	}
	return nil
}

// Store creates or updates the memory named key. Preconditions: the
// memory is not frozen, the key is well-formed and not reserved, and every
// precursor already exists; adding the edge set must not introduce a
// cycle.
func (p *Pensieve) Store(key string, fn any, opts ...StoreOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := validateKey(key); err != nil {
		return err
	}

	var cfg storeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if existing, ok := p.memories[key]; ok && existing.IsFrozen() {
		return newFrozenMemoryError(key)
	}

	var sf storedFunc
	precursorKeys := cfg.precursors

	if cfg.hasContent {
		sf = storedFunc{kind: arityZero, zero: func() (any, error) { return cfg.content, nil }, source: "content:" + key}
		precursorKeys = nil
		b := true
		cfg.materialize = &b
	} else {
		normalized, inferred, err := normalizeFunc(fn, cfg.source)
		if err != nil {
			return newStoringError(key, err.Error())
		}
		sf = normalized
		if !cfg.precursorsSet {
			precursorKeys = inferred
		}
	}

	for _, pk := range precursorKeys {
		if _, ok := p.memories[pk]; !ok {
			return newUnknownPrecursorError(key, pk)
		}
	}
	precursorKeys = dedupPreserveOrder(precursorKeys)

	if sf.kind == arityNamed {
		for _, name := range sf.named.names {
			if !containsString(precursorKeys, name) {
				return newStoringError(key, fmt.Sprintf("named parameter %q has no matching precursor", name))
			}
		}
	}

	if cycle := p.wouldCycle(key, precursorKeys); cycle != nil {
		return newMemoryRecursionError(key, cycle)
	}

	materialize := p.options.Materialize
	if cfg.materialize != nil {
		materialize = *cfg.materialize
	}

	mem, existed := p.memories[key]
	if !existed {
		mem = &Memory{key: key, owner: p}
		p.memories[key] = mem
		p.precursors[key] = nil
		p.successors[key] = nil
	}

	p.rewireLocked(key, precursorKeys)

	mem.mu.Lock()
	mem.fn = sf
	mem.materialize = materialize
	mem.stale = true
	mem.hasContent = mem.hasContent && materialize
	mem.fingerprint = ""
	if cfg.metadata != nil {
		mem.metadata = cfg.metadata
	} else if mem.metadata == nil {
		mem.metadata = make(map[string]any)
	}
	if cfg.label != "" {
		mem.label = cfg.label
	}
	mem.mu.Unlock()

	p.markStaleTransitiveLocked(key)

	log.Debug().Str("key", key).Strs("precursors", precursorKeys).Msg("pensieve: stored")

	evaluateNow := p.options.Lazy == false
	if cfg.evaluate != nil {
		evaluateNow = *cfg.evaluate
	}
	if evaluateNow && materialize {
		if _, err := mem.content(context.Background()); err != nil {
			return err
		}
	}

	return nil
}

func validateKey(key string) error {
	if key == "" {
		return newIllegalKeyError(key, "key must not be empty")
	}
	if !keyPattern.MatchString(key) {
		return newIllegalKeyError(key, "key must match [A-Za-z][A-Za-z0-9_]*")
	}
	if reservedKeys[key] {
		return newIllegalKeyError(key, "key collides with a reserved pensieve operation")
	}
	return nil
}

func dedupPreserveOrder(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// wouldCycle reports [precursor, key] for the first precursor from which
// key is reachable (so adding the precursor set would introduce a cycle),
// via BFS through each precursor's ancestors; nil if there is none.
func (p *Pensieve) wouldCycle(key string, precursorKeys []string) []string {
	for _, start := range precursorKeys {
		visited := map[string]bool{}
		queue := []string{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if cur == key {
				return append([]string{start}, key)
			}
			if visited[cur] {
				continue
			}
			visited[cur] = true
			queue = append(queue, p.precursors[cur]...)
		}
	}
	return nil
}

// rewireLocked replaces key's precursor edges with newPrecursors, updating
// both adjacency tables symmetrically.
func (p *Pensieve) rewireLocked(key string, newPrecursors []string) {
	for _, old := range p.precursors[key] {
		p.successors[old] = removeString(p.successors[old], key)
	}
	p.precursors[key] = newPrecursors
	for _, np := range newPrecursors {
		if !containsString(p.successors[np], key) {
			p.successors[np] = append(p.successors[np], key)
		}
	}
}

func removeString(s []string, target string) []string {
	out := s[:0]
	for _, v := range s {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

func containsString(s []string, target string) bool {
	for _, v := range s {
		if v == target {
			return true
		}
	}
	return false
}

// markStaleTransitiveLocked marks key and every transitive successor
// stale.
func (p *Pensieve) markStaleTransitiveLocked(key string) {
	visited := map[string]bool{}
	var visit func(string)
	visit = func(k string) {
		if visited[k] {
			return
		}
		visited[k] = true
		if mem, ok := p.memories[k]; ok {
			mem.markStale()
		}
		for _, s := range p.successors[k] {
			visit(s)
		}
	}
	visit(key)
}

// Erase removes key and purges it from every peer's adjacency lists.
func (p *Pensieve) Erase(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.memories[key]; !ok {
		return newMissingMemoryError(key)
	}

	for _, pk := range p.precursors[key] {
		p.successors[pk] = removeString(p.successors[pk], key)
	}
	for _, sk := range p.successors[key] {
		p.precursors[sk] = removeString(p.precursors[sk], key)
	}
	delete(p.memories, key)
	delete(p.precursors, key)
	delete(p.successors, key)

	log.Debug().Str("key", key).Msg("pensieve: erased")
	return nil
}

// Memory returns the named memory, or a MissingMemoryError.
func (p *Pensieve) Memory(key string) (*Memory, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	mem, ok := p.memories[key]
	if !ok {
		return nil, newMissingMemoryError(key)
	}
	return mem, nil
}

// Get reads key's content, computing it if necessary. Use Evaluate instead
// when the caller already has a context to propagate into the evaluation
// span.
func (p *Pensieve) Get(key string) (any, error) {
	mem, err := p.Memory(key)
	if err != nil {
		return nil, err
	}
	return mem.content(context.Background())
}

// Freeze freezes the named memory (or, if key is "", every memory).
func (p *Pensieve) Freeze(key string) error { return p.sweepFreeze(key, false, false) }

// Unfreeze unfreezes the named memory (or every memory).
func (p *Pensieve) Unfreeze(key string) error { return p.sweepFreeze(key, false, true) }

// DeepFreeze permanently freezes the named memory (or every memory),
// discarding its function reference.
func (p *Pensieve) DeepFreeze(key string) error { return p.sweepFreeze(key, true, false) }

func (p *Pensieve) sweepFreeze(key string, forever, unfreeze bool) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	targets := []string{}
	if key == "" {
		for k := range p.memories {
			targets = append(targets, k)
		}
	} else {
		if _, ok := p.memories[key]; !ok {
			return newMissingMemoryError(key)
		}
		targets = append(targets, key)
	}

	for _, k := range targets {
		mem := p.memories[k]
		if unfreeze {
			mem.unfreeze()
		} else {
			mem.freeze(forever)
		}
	}
	return nil
}

// Ancestors returns key's transitive precursors via DFS, deduplicated,
// preserving first-seen order.
func (p *Pensieve) Ancestors(key string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.memories[key]; !ok {
		return nil, newMissingMemoryError(key)
	}
	return p.transitiveLocked(key, p.precursors), nil
}

// Descendants returns key's transitive successors via DFS, deduplicated,
// preserving first-seen order.
func (p *Pensieve) Descendants(key string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.memories[key]; !ok {
		return nil, newMissingMemoryError(key)
	}
	return p.transitiveLocked(key, p.successors), nil
}

func (p *Pensieve) transitiveLocked(key string, adjacency map[string][]string) []string {
	var out []string
	visited := map[string]bool{}
	var visit func(string)
	visit = func(k string) {
		for _, next := range adjacency[k] {
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, next)
			visit(next)
		}
	}
	visit(key)
	return out
}

// precursorsOf returns key's precursor list. Safe to call while holding no
// lock from within Memory's own methods as a read through RLock.
func (p *Pensieve) precursorsOf(key string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.precursors[key]
}

func (p *Pensieve) memoryOrNil(key string) *Memory {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.memories[key]
}

func (p *Pensieve) estimateSize(content any) (bytes int64, tokens int64) {
	tokens = int64(p.sizer.Estimate(content))
	bytes = int64(len(fmt.Sprintf("%v", content)))
	return bytes, tokens
}

// Merge combines p and other into a new Pensieve. Keys unique to one side
// take that side's definition; a shared key whose definition is
// precursor-free on one side takes the other side's definition; a shared
// key defined with precursors on both sides is a MergeConflictError. Only
// the definition (function, precursors, materialize flag, label, metadata)
// is copied: cached content, fingerprints and frozen flags are not, so
// every memory in the result, shared or not, starts stale.
func (p *Pensieve) Merge(other *Pensieve) (*Pensieve, error) {
	p.mu.RLock()
	other.mu.RLock()
	defer p.mu.RUnlock()
	defer other.mu.RUnlock()

	result, err := New(func(o *Options) { *o = p.options })
	if err != nil {
		return nil, err
	}

	order := make([]string, 0, len(p.memories)+len(other.memories))
	seen := map[string]bool{}
	for k := range p.memories {
		if !seen[k] {
			seen[k] = true
			order = append(order, k)
		}
	}
	for k := range other.memories {
		if !seen[k] {
			seen[k] = true
			order = append(order, k)
		}
	}

	for _, k := range order {
		left, hasLeft := p.memories[k]
		right, hasRight := other.memories[k]

		var chosen *Memory
		var chosenPrecursors []string
		switch {
		case hasLeft && !hasRight:
			chosen, chosenPrecursors = left, p.precursors[k]
		case hasRight && !hasLeft:
			chosen, chosenPrecursors = right, other.precursors[k]
		case len(p.precursors[k]) == 0:
			chosen, chosenPrecursors = right, other.precursors[k]
		case len(other.precursors[k]) == 0:
			chosen, chosenPrecursors = left, p.precursors[k]
		default:
			return nil, newMergeConflictError(k)
		}

		result.memories[k] = &Memory{
			key:         k,
			owner:       result,
			fn:          chosen.fn,
			materialize: chosen.materialize,
			label:       chosen.label,
			metadata:    chosen.metadata,
			stale:       true,
		}
		result.precursors[k] = append([]string(nil), chosenPrecursors...)
		result.successors[k] = nil
	}
	for k := range result.memories {
		for _, pk := range result.precursors[k] {
			result.successors[pk] = append(result.successors[pk], k)
		}
	}

	return result, nil
}

// String renders a toposorted plain-text view of the graph: one line per
// memory in the shape "[precursors] --> key (stale)". Purely textual — the
// excluded graphviz surface is a separate, external collaborator.
func (p *Pensieve) String() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	order := p.toposortLocked()
	out := ""
	for _, k := range order {
		mem := p.memories[k]
		staleTag := ""
		if mem.IsStale() {
			staleTag = " (stale)"
		}
		out += fmt.Sprintf("%v --> %s%s\n", p.precursors[k], k, staleTag)
	}
	return out
}

func (p *Pensieve) toposortLocked() []string {
	var out []string
	visited := map[string]bool{}
	var visit func(string)
	visit = func(k string) {
		if visited[k] {
			return
		}
		visited[k] = true
		for _, pk := range p.precursors[k] {
			visit(pk)
		}
		out = append(out, k)
	}
	keys := make([]string, 0, len(p.memories))
	for k := range p.memories {
		keys = append(keys, k)
	}
	for _, k := range keys {
		visit(k)
	}
	return out
}
