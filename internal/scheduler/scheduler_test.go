package scheduler

import "testing"

func roundOf(t *testing.T, rounds [][]string, key string) int {
	t.Helper()
	for i, round := range rounds {
		for _, k := range round {
			if k == key {
				return i
			}
		}
	}
	t.Fatalf("key %q not scheduled", key)
	return -1
}

func TestSchedule_Chain(t *testing.T) {
	jobs := []Job{
		{Key: "a"},
		{Key: "b", StalePrecursors: []string{"a"}},
		{Key: "c", StalePrecursors: []string{"b"}},
	}
	rounds, err := Schedule(jobs)
	if err != nil {
		t.Fatal(err)
	}
	if len(rounds) != 3 {
		t.Fatalf("expected 3 rounds, got %d: %v", len(rounds), rounds)
	}
	if roundOf(t, rounds, "a") >= roundOf(t, rounds, "b") {
		t.Fatal("a must schedule before b")
	}
	if roundOf(t, rounds, "b") >= roundOf(t, rounds, "c") {
		t.Fatal("b must schedule before c")
	}
}

func TestSchedule_Diamond_SingleRoundForIndependentJobs(t *testing.T) {
	// r -> {a, b} -> j
	jobs := []Job{
		{Key: "r"},
		{Key: "a", StalePrecursors: []string{"r"}},
		{Key: "b", StalePrecursors: []string{"r"}},
		{Key: "j", StalePrecursors: []string{"a", "b"}},
	}
	rounds, err := Schedule(jobs)
	if err != nil {
		t.Fatal(err)
	}
	if len(rounds) != 3 {
		t.Fatalf("expected 3 rounds (r | a,b | j), got %d: %v", len(rounds), rounds)
	}
	if len(rounds[1]) != 2 {
		t.Fatalf("expected a and b to share round 1, got %v", rounds[1])
	}
	if roundOf(t, rounds, "j") != 2 {
		t.Fatalf("expected j in round 2, got round %d", roundOf(t, rounds, "j"))
	}
}

func TestSchedule_PrecursorNotAJobIsIgnored(t *testing.T) {
	// "a" is not stale (not included as a job) but is named as a stale
	// precursor by a stale caller's bookkeeping mistake; it should not
	// block scheduling.
	jobs := []Job{
		{Key: "b", StalePrecursors: []string{"a"}},
	}
	rounds, err := Schedule(jobs)
	if err != nil {
		t.Fatal(err)
	}
	if len(rounds) != 1 || len(rounds[0]) != 1 || rounds[0][0] != "b" {
		t.Fatalf("expected single round with b, got %v", rounds)
	}
}

func TestSchedule_DeduplicatesJobs(t *testing.T) {
	jobs := []Job{{Key: "a"}, {Key: "a"}}
	rounds, err := Schedule(jobs)
	if err != nil {
		t.Fatal(err)
	}
	if len(rounds) != 1 || len(rounds[0]) != 1 {
		t.Fatalf("expected a single deduplicated round, got %v", rounds)
	}
}

func TestSchedule_Cycle(t *testing.T) {
	jobs := []Job{
		{Key: "a", StalePrecursors: []string{"b"}},
		{Key: "b", StalePrecursors: []string{"a"}},
	}
	_, err := Schedule(jobs)
	if err == nil {
		t.Fatal("expected RecursionError for a cycle")
	}
	if _, ok := err.(*RecursionError); !ok {
		t.Fatalf("expected *RecursionError, got %T", err)
	}
}
