// Package sizeest provides a best-effort size estimate for memory content,
// used to populate Memory.Size when a caller does not supply one explicitly.
// It mirrors the teacher's tokenizer package (same cl100k_base encoding,
// same sync.Once-cached encoder) but estimates the size of arbitrary Go
// values rather than chat messages.
package sizeest

import (
	"fmt"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens in a text rendering of memory content. The
// underlying encoder is initialized once and reused, since tiktoken's
// BPE rank tables are expensive to build.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// New creates an Estimator using the cl100k_base encoding, the same
// default the teacher falls back to for unrecognized models.
func New() *Estimator {
	return &Estimator{}
}

func (e *Estimator) encoder() (*tiktoken.Tiktoken, error) {
	e.once.Do(func() {
		e.enc, e.err = tiktoken.GetEncoding("cl100k_base")
	})
	return e.enc, e.err
}

// Estimate returns a best-effort token count for content. Content is
// rendered with fmt.Sprintf("%v", ...) first, since memory content is
// arbitrary and most often a struct, slice, or scalar rather than text;
// the token count is only ever used as an advisory Size hint, never as
// a correctness signal, so an approximate rendering is acceptable.
//
// If the encoder fails to initialize, Estimate falls back to a rune
// count divided by four (the commonly cited token-to-character ratio
// for English text) plus one, so callers always get a usable (if
// rougher) positive number.
func (e *Estimator) Estimate(content any) int {
	text := fmt.Sprintf("%v", content)

	enc, err := e.encoder()
	if err != nil {
		return len([]rune(text))/4 + 1
	}
	return len(enc.Encode(text, nil, nil))
}
