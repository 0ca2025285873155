package sizeest

import "testing"

func TestEstimate_NonZeroForNonEmptyContent(t *testing.T) {
	e := New()
	n := e.Estimate("the quick brown fox jumps over the lazy dog")
	if n <= 0 {
		t.Fatalf("expected positive token estimate, got %d", n)
	}
}

func TestEstimate_LargerContentCountsMore(t *testing.T) {
	e := New()
	small := e.Estimate("hello")
	large := e.Estimate("hello world, this is a substantially longer piece of text to encode")
	if large <= small {
		t.Fatalf("expected larger content to have a larger estimate: small=%d large=%d", small, large)
	}
}

func TestEstimate_ReusesEncoderAcrossCalls(t *testing.T) {
	e := New()
	first := e.Estimate("repeat")
	second := e.Estimate("repeat")
	if first != second {
		t.Fatalf("expected stable estimate across calls, got %d then %d", first, second)
	}
}
