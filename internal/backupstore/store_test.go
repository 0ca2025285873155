package backupstore

import "testing"

func TestStoreContentAndHash_RoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.StoreContentAndHash("a", 42, "fp1"); err != nil {
		t.Fatal(err)
	}

	if !s.Exists("a") {
		t.Fatal("expected backup to exist")
	}

	fp, ok := s.LoadHash("a")
	if !ok || fp != "fp1" {
		t.Fatalf("expected hash fp1, got %q ok=%v", fp, ok)
	}

	content, ok := s.LoadContent("a", nil)
	if !ok {
		t.Fatal("expected content to load")
	}
	// JSON round-trips ints as float64 when decoded into `any`; gob and
	// the front cache (which serves this read) preserve the exact type.
	switch v := content.(type) {
	case int:
		if v != 42 {
			t.Fatalf("expected 42, got %v", v)
		}
	case float64:
		if v != 42 {
			t.Fatalf("expected 42, got %v", v)
		}
	default:
		t.Fatalf("unexpected type %T", v)
	}
}

func TestExists_FalseWhenNeverStored(t *testing.T) {
	s, err := Open(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if s.Exists("missing") {
		t.Fatal("expected Exists to be false for an unknown key")
	}
}

func TestLoadContent_FrontCacheAvoidsDiskOnSecondRead(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.StoreContentAndHash("a", "hello", "fp1"); err != nil {
		t.Fatal(err)
	}
	content, ok := s.LoadContent("a", nil)
	if !ok || content != "hello" {
		t.Fatalf("expected cached content hello, got %v ok=%v", content, ok)
	}
}
