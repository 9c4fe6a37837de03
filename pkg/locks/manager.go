// Package locks provides named-resource mutual exclusion with
// staleness-based auto-release.
//
// There is no central liveness monitor for agent processes, so a lock
// whose age exceeds the staleness threshold is presumed abandoned and may
// be reclaimed by the next contender. Callers must pair Acquire with a
// deferred Release on every exit path; reclaim is the fallback, not the
// primary release mechanism.
package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"swarm/pkg/logx"
)

var (
	// ErrTimeout is returned when a lock cannot be acquired in time.
	ErrTimeout = errors.New("locks: acquire timed out")

	// ErrNotOwner is returned when releasing a lock held by someone else.
	// Releasing a lock you do not own is an error, never a no-op.
	ErrNotOwner = errors.New("locks: not lock owner")
)

const (
	// StaleAfter is the age past which a lock is presumed abandoned.
	StaleAfter = 300 * time.Second

	// retryInterval is how often a blocked Acquire re-checks the lock.
	retryInterval = 1 * time.Second
)

type lockRecord struct {
	owner      string
	acquiredAt time.Time
}

// Metrics receives lock lifecycle counts. A *metrics.Recorder satisfies it;
// nil disables instrumentation.
type Metrics interface {
	LockAcquired()
	LockTimeout()
	LockReclaimed()
}

// Manager coordinates exclusive claims on named resources, typically file
// paths under concurrent edit.
type Manager struct {
	locks   map[string]*lockRecord
	mu      sync.Mutex
	logger  *logx.Logger
	metrics Metrics
	now     func() time.Time // Injected for staleness tests
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{
		locks:  make(map[string]*lockRecord),
		logger: logx.NewLogger("locks"),
		now:    time.Now,
	}
}

// Instrument attaches a sink for acquisition, timeout, and reclaim counts.
func (m *Manager) Instrument(metrics Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
}

func (m *Manager) counters() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// tryAcquire attempts atomic creation of the lock record. It reclaims a
// stale lock in the same critical section so two contenders cannot both
// reclaim it.
func (m *Manager) tryAcquire(ownerID, resource string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, held := m.locks[resource]
	if held {
		if rec.owner == ownerID {
			return true // Re-entrant for the same owner
		}
		age := m.now().Sub(rec.acquiredAt)
		if age <= StaleAfter {
			return false
		}
		m.logger.Warn("Reclaiming stale lock on %s (owner %s, age %s)", resource, rec.owner, age.Round(time.Second))
		if m.metrics != nil {
			m.metrics.LockReclaimed()
		}
	}

	m.locks[resource] = &lockRecord{owner: ownerID, acquiredAt: m.now()}
	if m.metrics != nil {
		m.metrics.LockAcquired()
	}
	return true
}

// Acquire claims the resource for ownerID, polling until timeout elapses or
// ctx is cancelled. Returns true on success, false with ErrTimeout on
// contention that never cleared.
func (m *Manager) Acquire(ctx context.Context, ownerID, resource string, timeout time.Duration) (bool, error) {
	if m.tryAcquire(ownerID, resource) {
		return true, nil
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("acquire %s cancelled: %w", resource, ctx.Err())
		case <-ticker.C:
			if m.tryAcquire(ownerID, resource) {
				return true, nil
			}
			if time.Now().After(deadline) {
				if rec := m.counters(); rec != nil {
					rec.LockTimeout()
				}
				return false, fmt.Errorf("could not lock %s within %s: %w", resource, timeout, ErrTimeout)
			}
		}
	}
}

// Release frees the resource if ownerID holds it.
func (m *Manager) Release(ownerID, resource string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, held := m.locks[resource]
	if !held {
		return fmt.Errorf("release %s: no lock held: %w", resource, ErrNotOwner)
	}
	if rec.owner != ownerID {
		return fmt.Errorf("release %s: held by %s, not %s: %w", resource, rec.owner, ownerID, ErrNotOwner)
	}
	delete(m.locks, resource)
	return nil
}

// IsLocked reports the current live holder and lock age. A stale lock
// reports as unlocked because any contender may reclaim it.
func (m *Manager) IsLocked(resource string) (owner string, age time.Duration, locked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, held := m.locks[resource]
	if !held {
		return "", 0, false
	}
	age = m.now().Sub(rec.acquiredAt)
	if age > StaleAfter {
		return "", 0, false
	}
	return rec.owner, age, true
}

// ReleaseAll frees every lock held by ownerID, for agent shutdown.
func (m *Manager) ReleaseAll(ownerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	released := 0
	for resource, rec := range m.locks {
		if rec.owner == ownerID {
			delete(m.locks, resource)
			released++
		}
	}
	return released
}
