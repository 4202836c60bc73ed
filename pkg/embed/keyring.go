package embed

import (
	"errors"
	"sync"
)

// ErrNoKeys is returned when a KeyRing is constructed without credentials.
var ErrNoKeys = errors.New("embed: no API keys configured")

// KeyRing holds an ordered list of provider API keys and tracks the
// current one. It is shared mutable state across concurrent query
// pipelines: rotation is compare-and-advance, so two goroutines that
// both saw the same exhausted key rotate it only once.
type KeyRing struct {
	mu   sync.Mutex
	keys []string
	cur  int
}

// NewKeyRing creates a ring over the given keys, in order.
func NewKeyRing(keys []string) (*KeyRing, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	ks := make([]string, len(keys))
	copy(ks, keys)
	return &KeyRing{keys: ks}, nil
}

// Len returns the number of keys in the ring.
func (r *KeyRing) Len() int { return len(r.keys) }

// Current returns the active key and its index. The index is the token
// callers pass back to RotateFrom after a failure.
func (r *KeyRing) Current() (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keys[r.cur], r.cur
}

// RotateFrom advances to the next key, but only if idx is still the
// current one. Reports whether this call performed the rotation.
func (r *KeyRing) RotateFrom(idx int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != idx {
		return false
	}
	r.cur = (r.cur + 1) % len(r.keys)
	return true
}
