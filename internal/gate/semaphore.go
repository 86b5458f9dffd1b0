package gate

import (
	"context"
	"sync"
)

// DefaultSemaphoreLimit caps simultaneous outbound RPC calls.
const DefaultSemaphoreLimit = 5

// Semaphore is a counting semaphore with FIFO wakeup: callers either
// proceed immediately when capacity is available or queue in arrival
// order.
type Semaphore struct {
	mu      sync.Mutex
	limit   int
	inUse   int
	waiters []chan struct{}
}

// NewSemaphore creates a semaphore with the given limit.
// A non-positive limit falls back to DefaultSemaphoreLimit.
func NewSemaphore(limit int) *Semaphore {
	if limit <= 0 {
		limit = DefaultSemaphoreLimit
	}
	return &Semaphore{limit: limit}
}

// Acquire takes one slot, blocking in FIFO order until capacity frees or
// ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.inUse < s.limit {
		s.inUse++
		s.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	s.waiters = append(s.waiters, ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.abandon(ready)
		return ctx.Err()
	}
}

// abandon removes a cancelled waiter, or re-releases the slot if the
// wakeup raced the cancellation.
func (s *Semaphore) abandon(ready chan struct{}) {
	s.mu.Lock()
	for i, w := range s.waiters {
		if w == ready {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			s.mu.Unlock()
			return
		}
	}
	s.mu.Unlock()

	// Not in the queue: the slot was already handed to us. Give it back.
	s.Release()
}

// TryAcquire takes a slot only if one is immediately available.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inUse < s.limit {
		s.inUse++
		return true
	}
	return false
}

// Release frees one slot, waking the oldest waiter if any.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.waiters) > 0 {
		ready := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(ready)
		return
	}

	if s.inUse > 0 {
		s.inUse--
	}
}

// InUse returns the number of held slots.
func (s *Semaphore) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}
