package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FileStore is a file-based implementation of Store.
// Suitable for single-node deployments.
//
// Layout under the base directory:
//
//	threads/<thread_id>/000042.json   one file per checkpoint version
//	threads/<thread_id>/info.json     discovery record
//
// A checkpoint file is written to a temp path and renamed into place, so a
// version file is either fully present or absent. O_EXCL-style existence
// checks on the final path provide version-conflict detection.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileStore creates a file-backed checkpoint store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	dir := filepath.Join(baseDir, "threads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint store directory: %w", err)
	}
	return &FileStore{baseDir: dir}, nil
}

// Close closes the store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy.
func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.baseDir)
	return err
}

func (s *FileStore) threadDir(threadID string) string {
	return filepath.Join(s.baseDir, threadID)
}

func (s *FileStore) versionPath(threadID string, version int) string {
	return filepath.Join(s.threadDir(threadID), fmt.Sprintf("%06d.json", version))
}

func (s *FileStore) infoPath(threadID string) string {
	return filepath.Join(s.threadDir(threadID), "info.json")
}

// latestVersion scans the thread directory for the highest version on disk.
// Returns -1 when the thread has no checkpoints.
func (s *FileStore) latestVersion(threadID string) (int, error) {
	entries, err := os.ReadDir(s.threadDir(threadID))
	if os.IsNotExist(err) {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}

	latest := -1
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") || name == "info.json" {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		if v > latest {
			latest = v
		}
	}
	return latest, nil
}

// writeAtomic writes data to a temp file and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Put appends a new checkpoint version.
func (s *FileStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if err := os.MkdirAll(s.threadDir(cp.ThreadID), 0o755); err != nil {
		return fmt.Errorf("create thread directory: %w", err)
	}

	latest, err := s.latestVersion(cp.ThreadID)
	if err != nil {
		return err
	}
	if cp.Version != latest+1 {
		return ErrVersionConflict
	}

	stored := cp.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	// A single atomic rename covers record and metadata together.
	return writeAtomic(s.versionPath(cp.ThreadID, cp.Version), data)
}

func (s *FileStore) readVersion(threadID string, version int) (*Checkpoint, error) {
	data, err := os.ReadFile(s.versionPath(threadID, version))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// GetLatest returns the highest-version checkpoint for a thread.
func (s *FileStore) GetLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	latest, err := s.latestVersion(threadID)
	if err != nil {
		return nil, err
	}
	if latest < 0 {
		return nil, ErrNotFound
	}
	return s.readVersion(threadID, latest)
}

// GetByVersion returns a specific version.
func (s *FileStore) GetByVersion(ctx context.Context, threadID string, version int) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.readVersion(threadID, version)
}

// List yields checkpoints newest-first.
func (s *FileStore) List(ctx context.Context, threadID string, limit int) iter.Seq2[*Checkpoint, error] {
	return func(yield func(*Checkpoint, error) bool) {
		s.mu.RLock()
		closed := s.closed
		latest, err := s.latestVersion(threadID)
		s.mu.RUnlock()

		if closed {
			yield(nil, ErrStoreClosed)
			return
		}
		if err != nil {
			yield(nil, err)
			return
		}

		count := 0
		for v := latest; v >= 0; v-- {
			if limit > 0 && count >= limit {
				return
			}
			cp, err := s.readVersion(threadID, v)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(cp, nil) {
				return
			}
			count++
		}
	}
}

// DeleteThread removes a thread's chain and index entry.
func (s *FileStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return os.RemoveAll(s.threadDir(threadID))
}

// PutThreadInfo creates or updates the discovery record for a thread.
func (s *FileStore) PutThreadInfo(ctx context.Context, info *ThreadInfo) error {
	if info == nil || info.ThreadID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if err := os.MkdirAll(s.threadDir(info.ThreadID), 0o755); err != nil {
		return err
	}

	stored := *info
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	data, err := json.MarshalIndent(&stored, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.infoPath(info.ThreadID), data)
}

func (s *FileStore) readInfo(threadID string) (*ThreadInfo, error) {
	data, err := os.ReadFile(s.infoPath(threadID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var info ThreadInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetThreadInfo returns the discovery record for a thread.
func (s *FileStore) GetThreadInfo(ctx context.Context, threadID string) (*ThreadInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.readInfo(threadID)
}

// SetThreadStatus updates the status of a thread's discovery record.
func (s *FileStore) SetThreadStatus(ctx context.Context, threadID string, status ThreadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	info, err := s.readInfo(threadID)
	if err != nil {
		return err
	}
	info.Status = status
	info.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.infoPath(threadID), data)
}

// ListThreadsByUser returns discovery records for a user, newest-first.
func (s *FileStore) ListThreadsByUser(ctx context.Context, userID string) ([]*ThreadInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(s.baseDir)
	if os.IsNotExist(err) {
		return []*ThreadInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	result := make([]*ThreadInfo, 0)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := s.readInfo(e.Name())
		if err != nil {
			continue // thread without an index entry
		}
		if userID == "" || info.UserID == userID {
			result = append(result, info)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Ensure FileStore implements Store
var _ Store = (*FileStore)(nil)
