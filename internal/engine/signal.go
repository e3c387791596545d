package engine

import "sync"

// signal is a resettable flag shared between the pool and its workers. Set
// closes the wait channel so pending selects fire; Clear rearms it with a
// fresh channel. Each pool owns its own signals, so independent pools never
// interfere.
type signal struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

// Set raises the signal. Idempotent.
func (s *signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		return
	}
	s.set = true
	close(s.ch)
}

// Clear lowers the signal, rearming Wait. Idempotent.
func (s *signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return
	}
	s.set = false
	s.ch = make(chan struct{})
}

// IsSet reports whether the signal is currently raised.
func (s *signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Wait returns a channel that is closed while the signal is raised. Callers
// must re-fetch the channel after each wakeup; a Clear swaps it out.
func (s *signal) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}
