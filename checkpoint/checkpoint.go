// Package checkpoint provides the durable, versioned checkpoint store that
// makes pause/resume crash-safe.
//
// A thread owns a strictly increasing, gapless chain of immutable
// checkpoints. Writes are append-only: putting a version that already exists
// fails with ErrVersionConflict instead of overwriting, so retries are
// idempotent when the caller reuses the same version token.
//
// Supported backends:
// - Memory: for development and testing (default)
// - File: for single-node deployments
// - Redis: for distributed deployments
// - SQL (gorm): postgres / mysql / sqlite
// - MongoDB
package checkpoint

import (
	"context"
	"errors"
	"iter"
	"time"
)

// Common errors
var (
	// ErrNotFound indicates the thread or version does not exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrVersionConflict indicates a checkpoint with that version was already
	// written for the thread. The caller must re-read the latest version and
	// retry; the store never overwrites.
	ErrVersionConflict = errors.New("checkpoint version conflict")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store is closed")

	// ErrInvalidInput indicates a malformed checkpoint or thread id.
	ErrInvalidInput = errors.New("invalid input")
)

// PendingWrite is an ordered entry carried by a checkpoint, used to embed the
// in-flight interrupt request so it can be reconstructed verbatim on resume.
type PendingWrite struct {
	Channel string         `json:"channel"`
	Value   map[string]any `json:"value"`
}

// Checkpoint is an immutable, versioned snapshot of task state.
type Checkpoint struct {
	ThreadID      string         `json:"thread_id"`
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	ChannelValues map[string]any `json:"channel_values"`
	PendingWrites []PendingWrite `json:"pending_writes,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Clone returns a shallow-chain deep copy safe to hand to callers.
func (c *Checkpoint) Clone() *Checkpoint {
	out := &Checkpoint{
		ThreadID:  c.ThreadID,
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
	}
	if c.ChannelValues != nil {
		out.ChannelValues = make(map[string]any, len(c.ChannelValues))
		for k, v := range c.ChannelValues {
			out.ChannelValues[k] = v
		}
	}
	out.PendingWrites = append([]PendingWrite(nil), c.PendingWrites...)
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// ThreadStatus is the discovery-index status of a thread. The checkpoint
// chain stays authoritative for resumability; the index exists for listing.
type ThreadStatus string

const (
	StatusCreated   ThreadStatus = "created"
	StatusRunning   ThreadStatus = "running"
	StatusPaused    ThreadStatus = "paused"
	StatusCompleted ThreadStatus = "completed"
	StatusFailed    ThreadStatus = "failed"
	StatusCanceled  ThreadStatus = "canceled"
)

// IsTerminal returns true for statuses that end a thread's lifecycle.
func (s ThreadStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// ThreadInfo is the denormalized discovery record for a thread.
type ThreadInfo struct {
	ThreadID  string       `json:"thread_id"`
	UserID    string       `json:"user_id,omitempty"`
	Topic     string       `json:"topic,omitempty"`
	Status    ThreadStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Store is the durable checkpoint store. Implementations must make Put
// atomic: either the checkpoint record and its metadata are both durably
// written, or neither is.
type Store interface {
	// Put appends a new checkpoint version. Returns ErrVersionConflict when
	// the (thread, version) pair already exists, and rejects gaps relative to
	// the latest stored version.
	Put(ctx context.Context, cp *Checkpoint) error

	// GetLatest returns the highest-version checkpoint for a thread, or
	// ErrNotFound when the thread has no checkpoints.
	GetLatest(ctx context.Context, threadID string) (*Checkpoint, error)

	// GetByVersion returns a specific version, or ErrNotFound.
	GetByVersion(ctx context.Context, threadID string, version int) (*Checkpoint, error)

	// List yields checkpoints newest-first, at most limit entries when
	// limit > 0. The sequence is finite and restartable: ranging again
	// re-reads from the store.
	List(ctx context.Context, threadID string, limit int) iter.Seq2[*Checkpoint, error]

	// DeleteThread removes a thread's chain and its index entry.
	DeleteThread(ctx context.Context, threadID string) error

	// Discovery index. Eventually consistent relative to the chain; never
	// consulted by resume logic.
	PutThreadInfo(ctx context.Context, info *ThreadInfo) error
	GetThreadInfo(ctx context.Context, threadID string) (*ThreadInfo, error)
	SetThreadStatus(ctx context.Context, threadID string, status ThreadStatus) error
	ListThreadsByUser(ctx context.Context, userID string) ([]*ThreadInfo, error)

	// Close closes the store and releases resources.
	Close() error

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error
}

// validate rejects obviously malformed checkpoints before touching storage.
func validate(cp *Checkpoint) error {
	if cp == nil || cp.ThreadID == "" || cp.Version < 0 {
		return ErrInvalidInput
	}
	return nil
}
