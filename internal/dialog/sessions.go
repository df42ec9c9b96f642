// Package dialog implements the per-recipient subscribe and manage flows for
// text-only and menu-capable chat platforms.
package dialog

import "sync"

// Sessions is a keyed store of in-memory conversation state. Access to one
// key is serialised: a second message from the same recipient waits until
// the first has been handled. Different keys never block each other.
type Sessions[S any] struct {
	mu sync.Mutex
	m  map[string]*slot[S]
}

type slot[S any] struct {
	mu    sync.Mutex
	refs  int
	state S
	set   bool
}

func NewSessions[S any]() *Sessions[S] {
	return &Sessions[S]{m: map[string]*slot[S]{}}
}

// Session is exclusive access to one key, obtained with Acquire.
type Session[S any] struct {
	key   string
	slot  *slot[S]
	owner *Sessions[S]
}

// Acquire locks key. The caller must call Release.
func (s *Sessions[S]) Acquire(key string) *Session[S] {
	s.mu.Lock()
	sl, ok := s.m[key]
	if !ok {
		sl = &slot[S]{}
		s.m[key] = sl
	}
	sl.refs++
	s.mu.Unlock()

	sl.mu.Lock()
	return &Session[S]{key: key, slot: sl, owner: s}
}

// Get returns the current state and whether one is set.
func (h *Session[S]) Get() (S, bool) { return h.slot.state, h.slot.set }

func (h *Session[S]) Set(st S) {
	h.slot.state = st
	h.slot.set = true
}

func (h *Session[S]) Clear() {
	var zero S
	h.slot.state = zero
	h.slot.set = false
}

// Release unlocks the key and drops empty, unused slots.
func (h *Session[S]) Release() {
	h.owner.mu.Lock()
	h.slot.refs--
	if h.slot.refs == 0 && !h.slot.set {
		delete(h.owner.m, h.key)
	}
	h.owner.mu.Unlock()

	h.slot.mu.Unlock()
}

// Len reports how many keys currently hold state or are in use.
func (s *Sessions[S]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
