// Package sha256 names page snapshots by the SHA-256 digest of their HTML.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"sync"
)

// Hasher digests snapshots with pooled SHA-256 states. It is safe for
// concurrent use by the workers sharing one archiver.
type Hasher struct {
	states sync.Pool
}

// New returns a snapshot Hasher.
func New() *Hasher {
	return &Hasher{states: sync.Pool{New: func() any { return sha256.New() }}}
}

// Hash returns the lowercase hex digest of html.
func (h *Hasher) Hash(html []byte) (string, error) {
	state, _ := h.states.Get().(hash.Hash)
	if state == nil {
		state = sha256.New()
	}
	defer h.states.Put(state)

	state.Reset()
	if _, err := state.Write(html); err != nil {
		return "", err
	}
	var sum [sha256.Size]byte
	return hex.EncodeToString(state.Sum(sum[:0])), nil
}
