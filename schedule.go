package pensieve

import (
	"context"

	"github.com/allaspectsdev/pensieve/internal/scheduler"
	"golang.org/x/sync/errgroup"
)

// Schedule computes the wave-fronts the Scheduler would use to bring keys
// (or, if empty, every memory) up to date, without actually evaluating
// anything. It is a read-only introspection exposed for testing and for
// cmd/pensieve's `demo` subcommand.
func (p *Pensieve) Schedule(keys ...string) ([][]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.scheduleLocked(keys)
}

func (p *Pensieve) scheduleLocked(keys []string) ([][]string, error) {
	targets := keys
	if len(targets) == 0 {
		targets = make([]string, 0, len(p.memories))
		for k := range p.memories {
			targets = append(targets, k)
		}
	}

	jobs, err := p.collectStaleJobsLocked(targets)
	if err != nil {
		return nil, err
	}

	rounds, err := scheduler.Schedule(jobs)
	if err != nil {
		if re, ok := err.(*scheduler.RecursionError); ok {
			return nil, newMemoryRecursionError("<schedule>", re.Remaining)
		}
		return nil, err
	}
	return rounds, nil
}

// collectStaleJobsLocked walks targets and their transitive stale
// ancestors, producing scheduler.Job entries. Must be called with p.mu
// held for reading.
func (p *Pensieve) collectStaleJobsLocked(targets []string) ([]scheduler.Job, error) {
	var jobs []scheduler.Job
	seen := make(map[string]bool)

	var visit func(key string) error
	visit = func(key string) error {
		if seen[key] {
			return nil
		}
		mem, ok := p.memories[key]
		if !ok {
			return newMissingMemoryError(key)
		}
		seen[key] = true

		var stalePrecursors []string
		for _, pk := range p.precursors[key] {
			parent, ok := p.memories[pk]
			if ok && (parent.IsStale() || !parent.materialize) {
				stalePrecursors = append(stalePrecursors, pk)
				if err := visit(pk); err != nil {
					return err
				}
			}
		}

		if mem.IsStale() || !mem.materialize {
			jobs = append(jobs, scheduler.Job{Key: key, StalePrecursors: stalePrecursors})
		}
		return nil
	}

	for _, t := range targets {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// Evaluate forces computation of keys (or every memory, if keys is empty).
// With NumThreads==1 it runs sequentially in the calling goroutine;
// otherwise (NumThreads>1, or -1 for auto) each round is dispatched
// concurrently via an errgroup, limited to NumThreads when positive and
// unbounded otherwise, waiting for the whole round (best-effort
// completion) before surfacing the first error.
func (p *Pensieve) Evaluate(ctx context.Context, keys ...string) error {
	p.mu.RLock()
	rounds, err := p.scheduleLocked(keys)
	threads := p.options.NumThreads
	p.mu.RUnlock()
	if err != nil {
		return err
	}

	for _, round := range rounds {
		if err := p.runRound(ctx, round, threads); err != nil {
			return err
		}
	}
	return nil
}

// runRound dispatches one wave-front. Each memory's content() call opens
// its own evaluation span (key, fingerprint, hit/miss outcome), so no
// additional span is opened here per round.
func (p *Pensieve) runRound(ctx context.Context, round []string, threads int) error {
	if threads == 1 {
		for _, key := range round {
			mem := p.memoryOrNil(key)
			if mem == nil {
				return newMissingMemoryError(key)
			}
			if _, err := mem.content(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	if threads > 1 {
		g.SetLimit(threads)
	}
	// threads == -1 ("auto"): no limit, matching errgroup's unbounded default.
	for _, key := range round {
		key := key
		g.Go(func() error {
			mem := p.memoryOrNil(key)
			if mem == nil {
				return newMissingMemoryError(key)
			}
			_, err := mem.content(ctx)
			return err
		})
	}
	return g.Wait()
}
