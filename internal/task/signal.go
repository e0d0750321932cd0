package task

import (
	"context"
	"sync"
)

// Signal is a one-shot completion handed to a task's suspend, resume and cancel
// hooks. The task resolves it once the requested transition has taken effect.
type Signal struct {
	once sync.Once
	done chan struct{}
}

// NewSignal creates an unresolved signal
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Resolve marks the signal complete. Calling it more than once is harmless.
func (s *Signal) Resolve() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Done is closed once the signal has been resolved
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Resolved reports whether Resolve has been called
func (s *Signal) Resolved() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal resolves or ctx is done
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
