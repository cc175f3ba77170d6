package harvest

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSleepCancelled is returned by Sleep when the sleeper has been
// cancelled, typically because the harvest is shutting down.
var ErrSleepCancelled = errors.New("harvest: sleep cancelled")

// CancellableSleeper provides interruptible sleeps for retry backoff.
// A single Cancel wakes every pending sleep and makes all future sleeps
// return immediately, so an external shutdown never waits out a backoff.
type CancellableSleeper struct {
	mu        sync.Mutex
	done      chan struct{}
	cancelled bool
}

// NewCancellableSleeper creates a sleeper ready for use.
func NewCancellableSleeper() *CancellableSleeper {
	return &CancellableSleeper{done: make(chan struct{})}
}

// Sleep blocks for d, the context being cancelled, or the sleeper being
// cancelled, whichever comes first. It returns nil only when the full
// duration elapsed.
func (s *CancellableSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return ErrSleepCancelled
	}
	done := s.done
	s.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrSleepCancelled
	}
}

// Cancel wakes all pending sleeps. Safe to call more than once.
func (s *CancellableSleeper) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.cancelled = true
	close(s.done)
}
