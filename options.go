package pensieve

import (
	"time"

	"github.com/allaspectsdev/pensieve/internal/config"
	"github.com/allaspectsdev/pensieve/internal/journal"
	"github.com/google/uuid"
)

// FunctionDurations is the opaque timing sink the core records per-memory
// evaluation durations into. The core never inspects what a sink does with
// the measurement.
type FunctionDurations interface {
	Record(key string, d time.Duration)
}

type noopDurations struct{}

func (noopDurations) Record(string, time.Duration) {}

// JournalDurations adapts a *journal.Journal into a FunctionDurations sink,
// tagging every recorded duration with one run ID for this Pensieve's
// lifetime (the journal's own schema supports grouping by run, but nothing
// at the core cares about run boundaries — that's left to whoever queries
// the journal later).
type JournalDurations struct {
	j     *journal.Journal
	runID string
}

// NewJournalDurations wraps j as a FunctionDurations sink.
func NewJournalDurations(j *journal.Journal) *JournalDurations {
	return &JournalDurations{j: j, runID: uuid.NewString()}
}

func (jd *JournalDurations) Record(key string, d time.Duration) {
	jd.j.Record(jd.runID, key, d)
}

// Options configures a Pensieve at construction time. Every field mirrors
// the configuration list of the specification verbatim; Name,
// FunctionDurations, HideIgnored, GraphDirection, NumThreads, Lazy,
// Materialize, Backup, Echo, DoHash and ShowTypes are all recognized only
// at construction.
type Options struct {
	Name              string
	FunctionDurations FunctionDurations
	HideIgnored       bool
	GraphDirection    string
	NumThreads        int
	Lazy              bool
	Materialize       bool
	Backup            string // "" disables; otherwise a directory path
	Echo              string
	DoHash            bool
	ShowTypes         bool
}

// optionsFromProfile converts the process-wide default profile (as loaded
// by internal/config) into Options, the construction-time default every
// New call starts from before applying explicit Option overrides.
func optionsFromProfile(p config.Profile) Options {
	return Options{
		Name:              p.Name,
		FunctionDurations: noopDurations{},
		HideIgnored:       p.HideIgnored,
		GraphDirection:    p.GraphDirection,
		NumThreads:        p.NumThreads,
		Lazy:              p.Lazy,
		Materialize:       p.Materialize,
		Backup:            p.Backup,
		Echo:              p.Echo,
		DoHash:            p.DoHash,
		ShowTypes:         p.ShowTypes,
	}
}

// Option mutates Options during New.
type Option func(*Options)

func WithName(name string) Option                     { return func(o *Options) { o.Name = name } }
func WithFunctionDurations(d FunctionDurations) Option { return func(o *Options) { o.FunctionDurations = d } }
func WithJournal(j *journal.Journal) Option {
	return func(o *Options) { o.FunctionDurations = NewJournalDurations(j) }
}
func WithHideIgnored(b bool) Option       { return func(o *Options) { o.HideIgnored = b } }
func WithGraphDirection(dir string) Option { return func(o *Options) { o.GraphDirection = dir } }
func WithNumThreads(n int) Option         { return func(o *Options) { o.NumThreads = n } }
func WithLazy(b bool) Option              { return func(o *Options) { o.Lazy = b } }
func WithDefaultMaterialize(b bool) Option { return func(o *Options) { o.Materialize = b } }
func WithBackup(dir string) Option        { return func(o *Options) { o.Backup = dir } }
func WithEcho(level string) Option        { return func(o *Options) { o.Echo = level } }
func WithDoHash(b bool) Option            { return func(o *Options) { o.DoHash = b } }
func WithShowTypes(b bool) Option         { return func(o *Options) { o.ShowTypes = b } }

// storeConfig collects Store's optional arguments.
type storeConfig struct {
	precursors    []string
	precursorsSet bool
	content       any
	hasContent    bool
	materialize   *bool
	evaluate      *bool
	metadata      map[string]any
	label         string
	source        string
}

// StoreOption mutates storeConfig during Store.
type StoreOption func(*storeConfig)

// WithPrecursors supplies the precursor list explicitly.
func WithPrecursors(keys ...string) StoreOption {
	return func(c *storeConfig) { c.precursors = keys; c.precursorsSet = true }
}

// WithContent is shorthand for a zero-precursor function that always
// returns v, with materialize forced true.
func WithContent(v any) StoreOption {
	return func(c *storeConfig) { c.content = v; c.hasContent = true }
}

// WithMaterialize overrides the pensieve-level default materialize flag
// for this memory.
func WithMaterialize(b bool) StoreOption { return func(c *storeConfig) { c.materialize = &b } }

// WithEvaluateNow overrides the pensieve-level lazy default for this call:
// true forces immediate evaluation, false defers it.
func WithEvaluateNow(b bool) StoreOption { return func(c *storeConfig) { c.evaluate = &b } }

// WithMetadata attaches free-form metadata to the memory.
func WithMetadata(m map[string]any) StoreOption { return func(c *storeConfig) { c.metadata = m } }

// WithLabel attaches a display label to the memory.
func WithLabel(label string) StoreOption { return func(c *storeConfig) { c.label = label } }

// WithSource overrides the captured call-site source surrogate used for
// HashProbe fingerprinting, for callers who can supply their own stable
// surrogate text (e.g. a config version string) instead of relying on
// call-site capture.
func WithSource(text string) StoreOption { return func(c *storeConfig) { c.source = text } }
