package checkpoint

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	chains  map[string][]*Checkpoint // ordered by version, index == version
	threads map[string]*ThreadInfo
	mu      sync.RWMutex
	closed  bool
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chains:  make(map[string][]*Checkpoint),
		threads: make(map[string]*ThreadInfo),
	}
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Put appends a new checkpoint version.
func (s *MemoryStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	chain := s.chains[cp.ThreadID]
	// The chain is gapless, so the only accepted version is len(chain).
	if cp.Version != len(chain) {
		return ErrVersionConflict
	}

	stored := cp.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.chains[cp.ThreadID] = append(chain, stored)
	return nil
}

// GetLatest returns the highest-version checkpoint for a thread.
func (s *MemoryStore) GetLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	chain := s.chains[threadID]
	if len(chain) == 0 {
		return nil, ErrNotFound
	}
	return chain[len(chain)-1].Clone(), nil
}

// GetByVersion returns a specific version.
func (s *MemoryStore) GetByVersion(ctx context.Context, threadID string, version int) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	chain := s.chains[threadID]
	if version < 0 || version >= len(chain) {
		return nil, ErrNotFound
	}
	return chain[version].Clone(), nil
}

// List yields checkpoints newest-first.
func (s *MemoryStore) List(ctx context.Context, threadID string, limit int) iter.Seq2[*Checkpoint, error] {
	return func(yield func(*Checkpoint, error) bool) {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			yield(nil, ErrStoreClosed)
			return
		}
		// Snapshot under lock so the sequence is restartable and stable.
		chain := append([]*Checkpoint(nil), s.chains[threadID]...)
		s.mu.RUnlock()

		count := 0
		for i := len(chain) - 1; i >= 0; i-- {
			if limit > 0 && count >= limit {
				return
			}
			if !yield(chain[i].Clone(), nil) {
				return
			}
			count++
		}
	}
}

// DeleteThread removes a thread's chain and index entry.
func (s *MemoryStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	delete(s.chains, threadID)
	delete(s.threads, threadID)
	return nil
}

// PutThreadInfo creates or updates the discovery record for a thread.
func (s *MemoryStore) PutThreadInfo(ctx context.Context, info *ThreadInfo) error {
	if info == nil || info.ThreadID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	stored := *info
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.threads[info.ThreadID] = &stored
	return nil
}

// GetThreadInfo returns the discovery record for a thread.
func (s *MemoryStore) GetThreadInfo(ctx context.Context, threadID string) (*ThreadInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	info, ok := s.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *info
	return &out, nil
}

// SetThreadStatus updates the status of a thread's discovery record.
func (s *MemoryStore) SetThreadStatus(ctx context.Context, threadID string, status ThreadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	info, ok := s.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	info.Status = status
	info.UpdatedAt = time.Now()
	return nil
}

// ListThreadsByUser returns discovery records for a user, newest-first.
func (s *MemoryStore) ListThreadsByUser(ctx context.Context, userID string) ([]*ThreadInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]*ThreadInfo, 0)
	for _, info := range s.threads {
		if userID == "" || info.UserID == userID {
			out := *info
			result = append(result, &out)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
