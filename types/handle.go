package types

import (
	"fmt"
	"sync"
)

// Kind tells what kind of native object a Handle refers to.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindContext
	KindBuffer
)

func (k Kind) String() string {
	switch k {
	case KindContext:
		return "context"
	case KindBuffer:
		return "buffer"
	default:
		return "invalid"
	}
}

// Handle is an opaque reference to a native-owned object (a call context or a
// buffer). It is only valid during the invocation whose Arena minted it.
//
// The fields are unexported so a Handle can not be built from an integer
// outside of this package; use Arena.Mint. The zero Handle is never valid.
type Handle struct {
	gen  uint64
	slot uint32
	kind Kind
}

// Generation is the ID of the invocation that minted h.
func (h Handle) Generation() uint64 { return h.gen }

// Kind returns the kind of object h refers to.
func (h Handle) Kind() Kind { return h.kind }

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h.slot == 0 }

func (h Handle) String() string {
	if h.IsZero() {
		return "handle(nil)"
	}
	return fmt.Sprintf("%s#%d.%d", h.kind, h.gen, h.slot)
}

// Arena mints the Handles of exactly one invocation. Closing the arena
// invalidates every Handle it minted.
//
// We assign slots starting with 1 so the zero Handle is always invalid.
type Arena struct {
	mu     sync.Mutex
	gen    uint64
	next   uint32
	limit  int
	closed bool
}

// NewArena creates an arena for the invocation with the given generation.
// limit bounds the number of handles minted; limit <= 0 means no bound.
func NewArena(gen uint64, limit int) *Arena {
	return &Arena{gen: gen, limit: limit}
}

// Generation returns the invocation ID of this arena.
func (a *Arena) Generation() uint64 {
	return a.gen
}

// Mint returns a new Handle of the given kind.
func (a *Arena) Mint(kind Kind) (Handle, error) {
	if kind == KindInvalid {
		return Handle{}, fmt.Errorf("cannot mint handle of kind %s", kind)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return Handle{}, &HandleError{Op: "mint", Stale: true}
	}
	if a.limit > 0 && int(a.next) >= a.limit {
		return Handle{}, fmt.Errorf("reached handle limit (%d)", a.limit)
	}
	a.next++
	return Handle{gen: a.gen, slot: a.next, kind: kind}, nil
}

// Owns reports whether h was minted by this arena and the arena is still open.
func (a *Arena) Owns(h Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.closed && h.gen == a.gen && h.slot != 0 && h.slot <= a.next
}

// Len returns the number of handles minted so far.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.next)
}

// Close invalidates all handles of the arena. It is safe to call more than once.
func (a *Arena) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}
