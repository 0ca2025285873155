// Package scheduler groups stale memories into wave-fronts ("rounds") that
// can be evaluated in parallel: a round never contains two jobs with a
// direct dependency edge between them, and every round's jobs have already
// had all of their stale precursors evaluated in an earlier round.
package scheduler

import "fmt"

// Job is the minimal view the scheduler needs of a memory: its key and the
// set of precursor keys that are currently stale (and therefore must be
// scheduled in an earlier round, if they are jobs themselves).
type Job struct {
	Key              string
	StalePrecursors  []string
}

// RecursionError is returned when no round can be formed from the
// remaining jobs, which only happens if the caller handed the scheduler a
// graph with a cycle — Pensieve's Store forbids creating one, so this is a
// defensive check, not a reachable user-facing error in normal operation.
type RecursionError struct {
	Remaining []string
}

func (e *RecursionError) Error() string {
	return fmt.Sprintf("scheduler: no schedulable round among remaining jobs %v (cycle?)", e.Remaining)
}

// Schedule collects the target jobs (already expected to include every
// transitive stale ancestor, deduplicated, in first-seen order) and
// produces an ordered list of rounds. Within a round, order is irrelevant;
// across rounds, every stale precursor of a job in round N is guaranteed to
// have completed in a round before N.
func Schedule(jobs []Job) ([][]string, error) {
	// index for quick membership/removal bookkeeping.
	remaining := make(map[string]Job, len(jobs))
	order := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if _, ok := remaining[j.Key]; ok {
			continue
		}
		remaining[j.Key] = j
		order = append(order, j.Key)
	}

	scheduled := make(map[string]bool, len(order))
	var rounds [][]string

	for len(remaining) > 0 {
		var round []string
		for _, key := range order {
			job, ok := remaining[key]
			if !ok {
				continue
			}
			if readyForRound(job, remaining, scheduled) {
				round = append(round, key)
			}
		}

		if len(round) == 0 {
			left := make([]string, 0, len(remaining))
			for _, key := range order {
				if _, ok := remaining[key]; ok {
					left = append(left, key)
				}
			}
			return nil, &RecursionError{Remaining: left}
		}

		for _, key := range round {
			delete(remaining, key)
			scheduled[key] = true
		}
		rounds = append(rounds, round)
	}

	return rounds, nil
}

// readyForRound reports whether job's stale precursors either aren't part
// of this schedule at all (already fresh, frozen, or otherwise not a job)
// or have already been placed in an earlier round.
func readyForRound(job Job, remaining map[string]Job, scheduled map[string]bool) bool {
	for _, p := range job.StalePrecursors {
		if _, stillPending := remaining[p]; stillPending {
			return false
		}
		// Not in remaining: either it was scheduled already (fine) or it
		// was never a job to begin with, meaning it is not stale from the
		// scheduler's point of view (fine too).
	}
	return true
}
