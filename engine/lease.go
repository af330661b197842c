package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lease is a held advisory lock on a thread. Release is idempotent; a lease
// held past its TTL is assumed abandoned and reclaimable by the next turn.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker grants per-thread advisory leases enforcing the at-most-one-turn
// invariant. Acquire fails fast with ErrLeaseHeld when another unexpired
// lease exists.
type Locker interface {
	Acquire(ctx context.Context, threadID string, ttl time.Duration) (Lease, error)
}

// MemoryLocker is a process-local Locker for single-node deployments and
// tests.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]*memoryLease
}

type memoryLease struct {
	locker   *MemoryLocker
	threadID string
	token    string
	expires  time.Time
}

// NewMemoryLocker creates a process-local lease locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]*memoryLease)}
}

// Acquire grants a lease unless an unexpired one is held.
func (l *MemoryLocker) Acquire(ctx context.Context, threadID string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.leases[threadID]; ok && time.Now().Before(cur.expires) {
		return nil, ErrLeaseHeld
	}

	lease := &memoryLease{
		locker:   l,
		threadID: threadID,
		token:    uuid.New().String(),
		expires:  time.Now().Add(ttl),
	}
	l.leases[threadID] = lease
	return lease, nil
}

// Release frees the lease if this holder still owns it.
func (m *memoryLease) Release(ctx context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()

	if cur, ok := m.locker.leases[m.threadID]; ok && cur.token == m.token {
		delete(m.locker.leases, m.threadID)
	}
	return nil
}

// Ensure MemoryLocker implements Locker
var _ Locker = (*MemoryLocker)(nil)
