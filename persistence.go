package pensieve

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// persistedParameters is the JSON shape of <dir>/parameters.pensieve.
type persistedParameters struct {
	Name        string `json:"name"`
	NumThreads  int    `json:"num_threads"`
	Lazy        bool   `json:"lazy"`
	Materialize bool   `json:"materialize"`
	DoHash      bool   `json:"do_hash"`
}

// persistedMemoryParameters is the JSON shape of
// <dir>/<key>/parameters.pensieve.
type persistedMemoryParameters struct {
	Precursors  []string       `json:"precursors"`
	Materialize bool           `json:"materialize"`
	Frozen      bool           `json:"frozen"`
	DeepFrozen  bool           `json:"deep_frozen"`
	Label       string         `json:"label"`
	Metadata    map[string]any `json:"metadata"`
	Source      string         `json:"source"`
	Fingerprint string         `json:"fingerprint"`
}

// Save writes the whole pensieve to dir, following the layout:
//
//	<dir>/parameters.pensieve
//	<dir>/memory_keys.pensieve
//	<dir>/<key>/parameters.pensieve
//	<dir>/<key>/function.pensieve
//	<dir>/<key>/content.pensieve (absent if unserializable)
//
// Go functions (including closures) cannot be serialized at all, unlike
// the source language's pickled callables — function.pensieve therefore
// stores only the HashProbe source surrogate, not a reconstructable
// function. A Load'd memory is always stale and needs a fresh Store call
// with a real function before it can be evaluated; this is a deliberate,
// documented limitation (see DESIGN.md), not an oversight. An
// unserializable content value never fails the save: the memory is
// silently marked stale instead, exactly as specified.
func (p *Pensieve) Save(dir string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("pensieve: creating save directory: %w", err)
	}

	params := persistedParameters{
		Name:        p.options.Name,
		NumThreads:  p.options.NumThreads,
		Lazy:        p.options.Lazy,
		Materialize: p.options.Materialize,
		DoHash:      p.options.DoHash,
	}
	if err := writeJSON(filepath.Join(dir, "parameters.pensieve"), params); err != nil {
		return err
	}

	keys := make([]string, 0, len(p.memories))
	for k := range p.memories {
		keys = append(keys, k)
	}
	if err := writeJSON(filepath.Join(dir, "memory_keys.pensieve"), keys); err != nil {
		return err
	}

	for _, key := range keys {
		mem := p.memories[key]
		memDir := filepath.Join(dir, key)
		if err := os.MkdirAll(memDir, 0o700); err != nil {
			return fmt.Errorf("pensieve: creating memory directory %s: %w", key, err)
		}

		mem.mu.Lock()
		mp := persistedMemoryParameters{
			Precursors:  append([]string(nil), p.precursors[key]...),
			Materialize: mem.materialize,
			Frozen:      mem.frozen,
			DeepFrozen:  mem.deepFrozen,
			Label:       mem.label,
			Metadata:    mem.metadata,
			Source:      mem.fn.source,
			Fingerprint: mem.fingerprint,
		}
		hasContent := mem.hasContent
		content := mem.content
		mem.mu.Unlock()

		if err := writeJSON(filepath.Join(memDir, "parameters.pensieve"), mp); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(memDir, "function.pensieve"), []byte(mp.Source), 0o600); err != nil {
			return fmt.Errorf("pensieve: writing function surrogate for %q: %w", key, err)
		}

		if hasContent {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(&content); err == nil {
				if err := os.WriteFile(filepath.Join(memDir, "content.pensieve"), buf.Bytes(), 0o600); err != nil {
					log.Warn().Str("key", key).Err(err).Msg("pensieve: writing content failed, memory will load stale")
				}
			} else {
				log.Warn().Str("key", key).Err(err).Msg("pensieve: content not serializable, memory will load stale")
			}
		}
	}

	return nil
}

// Load reconstructs a pensieve from a directory written by Save. Every
// memory is reachable after Load; a memory whose content.pensieve is
// missing or undecodable loads stale. Loaded memories carry no function
// (see Save's doc comment) — Store must be called again with a real
// function before such a memory can be (re-)evaluated.
func Load(dir string, opts ...Option) (*Pensieve, error) {
	var params persistedParameters
	if err := readJSON(filepath.Join(dir, "parameters.pensieve"), &params); err != nil {
		return nil, fmt.Errorf("pensieve: reading parameters: %w", err)
	}

	var keys []string
	if err := readJSON(filepath.Join(dir, "memory_keys.pensieve"), &keys); err != nil {
		return nil, fmt.Errorf("pensieve: reading memory keys: %w", err)
	}

	allOpts := append([]Option{
		WithName(params.Name),
		WithNumThreads(params.NumThreads),
		WithLazy(params.Lazy),
		WithDefaultMaterialize(params.Materialize),
		WithDoHash(params.DoHash),
	}, opts...)

	p, err := New(allOpts...)
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		var mp persistedMemoryParameters
		memDir := filepath.Join(dir, key)
		if err := readJSON(filepath.Join(memDir, "parameters.pensieve"), &mp); err != nil {
			return nil, fmt.Errorf("pensieve: reading parameters for %q: %w", key, err)
		}

		mem := &Memory{
			key:         key,
			owner:       p,
			materialize: mp.Materialize,
			frozen:      mp.Frozen,
			deepFrozen:  mp.DeepFrozen,
			label:       mp.Label,
			metadata:    mp.Metadata,
			fn:          storedFunc{source: mp.Source},
			fingerprint: mp.Fingerprint,
			stale:       true,
		}

		if data, err := os.ReadFile(filepath.Join(memDir, "content.pensieve")); err == nil {
			var content any
			if gob.NewDecoder(bytes.NewReader(data)).Decode(&content) == nil {
				mem.content = content
				mem.hasContent = true
				mem.contentType = fmt.Sprintf("%T", content)
			}
		}

		p.memories[key] = mem
		p.precursors[key] = mp.Precursors
		if p.successors[key] == nil {
			p.successors[key] = nil
		}
	}
	for key := range p.memories {
		for _, pk := range p.precursors[key] {
			p.successors[pk] = append(p.successors[pk], key)
		}
	}

	return p, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("pensieve: encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("pensieve: writing %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
