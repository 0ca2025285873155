package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	p, err := Load(filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if p.NumThreads != Default().NumThreads {
		t.Fatalf("expected default num_threads, got %d", p.NumThreads)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pensieve.toml")
	if err := os.WriteFile(path, []byte("num_threads = 4\necho = \"verbose\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.NumThreads != 4 {
		t.Fatalf("expected num_threads 4, got %d", p.NumThreads)
	}
	if p.Echo != "verbose" {
		t.Fatalf("expected echo verbose, got %q", p.Echo)
	}
}

func TestLoad_RejectsInvalidProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pensieve.toml")
	if err := os.WriteFile(path, []byte("echo = \"loud\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown echo level")
	}
}

func TestLoad_SetsCurrent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pensieve.toml")
	if err := os.WriteFile(path, []byte("name = \"custom\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatal(err)
	}
	if Current().Name != "custom" {
		t.Fatalf("expected Current() to reflect the loaded profile, got %q", Current().Name)
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pensieve.toml")
	if err := os.WriteFile(path, []byte("name = \"v1\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatal(err)
	}

	w, err := Watch(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	reloaded := make(chan Profile, 1)
	w.OnChange(func(old, new Profile) {
		reloaded <- new
	})

	if err := os.WriteFile(path, []byte("name = \"v2\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-reloaded:
		if p.Name != "v2" {
			t.Fatalf("expected reloaded profile name v2, got %q", p.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
