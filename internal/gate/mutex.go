// Package gate provides the two concurrency primitives the sync engine
// runs behind: a single-flight mutex that keeps cycles from overlapping,
// and a FIFO counting semaphore that caps simultaneous RPC calls.
package gate

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultMutexTimeout is the forced-release deadline for a held mutex.
const DefaultMutexTimeout = 30 * time.Second

// Mutex is a non-blocking single-flight lock. Callers that find it held
// skip their work rather than queue. A holder that never releases is
// forcibly released after the timeout so one wedged cycle cannot block
// syncing forever.
type Mutex struct {
	mu      sync.Mutex
	locked  bool
	gen     uint64
	timeout time.Duration
	timer   *time.Timer
}

// NewMutex creates a mutex with the given forced-release timeout.
// A non-positive timeout falls back to DefaultMutexTimeout.
func NewMutex(timeout time.Duration) *Mutex {
	if timeout <= 0 {
		timeout = DefaultMutexTimeout
	}
	return &Mutex{timeout: timeout}
}

// TryAcquire attempts to take the lock without blocking. On success it
// returns a release bound to this acquisition: if the holder overruns the
// timeout and the lock is forcibly released (and possibly re-taken by a
// newer holder), the stale release detects that and does nothing.
func (m *Mutex) TryAcquire() (release func(), ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locked {
		return nil, false
	}

	m.locked = true
	m.gen++
	gen := m.gen
	m.timer = time.AfterFunc(m.timeout, func() { m.forceRelease(gen) })
	return func() { m.release(gen) }, true
}

// IsLocked reports whether the lock is currently held.
func (m *Mutex) IsLocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// release frees the lock if it is still held by the given acquisition.
// After a forced release the generation has moved on and this is a no-op.
func (m *Mutex) release(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.locked || m.gen != gen {
		if m.gen != gen {
			slog.Debug("stale release ignored after forced release",
				"component", "gate")
		}
		return
	}

	m.locked = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// forceRelease fires when a holder exceeds the timeout. The generation
// check ensures it only releases the holder it was armed for.
func (m *Mutex) forceRelease(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.locked || m.gen != gen {
		return
	}

	slog.Warn("sync lock held past timeout, forcing release",
		"component", "gate",
		"timeout", m.timeout,
	)
	m.locked = false
	m.timer = nil
}
