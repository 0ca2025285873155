// Package hashprobe computes the short content fingerprints Pensieve uses
// to decide whether a memory's cached content can be reused.
package hashprobe

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sort"
)

// Input is what a fingerprint is computed over: a function source
// surrogate plus the ordered precursor key -> fingerprint-or-value pairs.
// Precursors is nil for a root (zero-precursor) memory.
type Input struct {
	Source     string
	Precursors []Precursor
}

// Precursor is one entry of the ordered precursor list fed into a
// fingerprint computation. Value carries the precursor's fingerprint in
// the multi-level chaining case, or its raw content for the degenerate
// single-precursor shortcut the original implementation used; Pensieve
// passes the parent's fingerprint, or the parent's rendered value when the
// parent has no fingerprint (a non-materialized parent).
type Precursor struct {
	Key   string
	Value string
}

// Probe computes fingerprints. The zero value is the enabled, deterministic
// probe; set Disabled to true to make every call return a fresh random
// string, so every evaluation is treated as novel (used for debugging).
type Probe struct {
	Disabled bool
}

// Fingerprint returns a short, deterministic, collision-resistant digest of
// in. When the probe is disabled it returns a random string instead, so
// candidate == previous never holds and every read recomputes.
func (p Probe) Fingerprint(in Input) string {
	if p.Disabled {
		return randomFingerprint()
	}

	h := sha256.New()
	h.Write([]byte(in.Source))
	h.Write([]byte{0})

	// Precursors are hashed exactly as given, in declared order, not
	// sorted by key: the same precursors in a different order produce a
	// different fingerprint.
	for _, pr := range in.Precursors {
		h.Write([]byte(pr.Key))
		h.Write([]byte{'='})
		h.Write([]byte(pr.Value))
		h.Write([]byte{0})
	}

	sum := h.Sum(nil)
	return encode(sum)
}

// randomFingerprint mints a fresh 16-byte random value, used when hashing
// is disabled so consecutive calls never collide.
func randomFingerprint() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on a supported platform does not fail; if it
		// somehow does, fall back to a value that is still unique enough
		// to defeat cache reuse, which is all Disabled mode promises.
		return fmt.Sprintf("disabled-%p", &buf)
	}
	return encode(buf)
}

func encode(b []byte) string {
	s := base64.RawURLEncoding.EncodeToString(b)
	const maxLen = 22
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// SortedKeys is a small helper for callers that need a stable ordering of a
// precursor-key set outside of the fingerprint itself (e.g. for logging).
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
