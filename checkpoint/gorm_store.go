package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"gorm.io/gorm"
)

// GormStore is a SQL implementation of Store backed by gorm.
// Works against postgres, mysql, and sqlite (see internal/database for DSN
// dispatch). The composite primary key on (thread_id, version) plus a
// transactional latest-version check give append-only, conflict-detecting
// writes: record and metadata land in one row, so a write is all-or-nothing.
type GormStore struct {
	db *gorm.DB
}

// checkpointRecord is the persisted row for one checkpoint version.
type checkpointRecord struct {
	ThreadID      string    `gorm:"column:thread_id;primaryKey;size:64"`
	Version       int       `gorm:"column:version;primaryKey"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	ChannelValues []byte    `gorm:"column:channel_values;type:text"`
	PendingWrites []byte    `gorm:"column:pending_writes;type:text"`
	Metadata      []byte    `gorm:"column:metadata;type:text"`
}

func (checkpointRecord) TableName() string { return "checkpoints" }

// threadRecord is the persisted discovery-index row.
type threadRecord struct {
	ThreadID  string    `gorm:"column:thread_id;primaryKey;size:64"`
	UserID    string    `gorm:"column:user_id;index;size:64"`
	Topic     string    `gorm:"column:topic;size:512"`
	Status    string    `gorm:"column:status;size:16"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (threadRecord) TableName() string { return "task_index" }

// NewGormStore creates a SQL-backed checkpoint store. When autoMigrate is
// set the schema is created via gorm; production deployments run the
// internal/migration migrator instead.
func NewGormStore(db *gorm.DB, autoMigrate bool) (*GormStore, error) {
	if db == nil {
		return nil, ErrInvalidInput
	}
	if autoMigrate {
		if err := db.AutoMigrate(&checkpointRecord{}, &threadRecord{}); err != nil {
			return nil, fmt.Errorf("auto migrate checkpoint schema: %w", err)
		}
	}
	return &GormStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the store is healthy.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func toRecord(cp *Checkpoint) (*checkpointRecord, error) {
	values, err := json.Marshal(cp.ChannelValues)
	if err != nil {
		return nil, fmt.Errorf("marshal channel values: %w", err)
	}
	writes, err := json.Marshal(cp.PendingWrites)
	if err != nil {
		return nil, fmt.Errorf("marshal pending writes: %w", err)
	}
	meta, err := json.Marshal(cp.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	created := cp.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return &checkpointRecord{
		ThreadID:      cp.ThreadID,
		Version:       cp.Version,
		CreatedAt:     created,
		ChannelValues: values,
		PendingWrites: writes,
		Metadata:      meta,
	}, nil
}

func fromRecord(rec *checkpointRecord) (*Checkpoint, error) {
	cp := &Checkpoint{
		ThreadID:  rec.ThreadID,
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
	}
	if len(rec.ChannelValues) > 0 {
		if err := json.Unmarshal(rec.ChannelValues, &cp.ChannelValues); err != nil {
			return nil, fmt.Errorf("unmarshal channel values: %w", err)
		}
	}
	if len(rec.PendingWrites) > 0 {
		if err := json.Unmarshal(rec.PendingWrites, &cp.PendingWrites); err != nil {
			return nil, fmt.Errorf("unmarshal pending writes: %w", err)
		}
	}
	if len(rec.Metadata) > 0 {
		if err := json.Unmarshal(rec.Metadata, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return cp, nil
}

// Put appends a new checkpoint version.
func (s *GormStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}

	rec, err := toRecord(cp)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest int
		var count int64
		if err := tx.Model(&checkpointRecord{}).
			Where("thread_id = ?", cp.ThreadID).
			Count(&count).Error; err != nil {
			return err
		}
		latest = -1
		if count > 0 {
			row := tx.Model(&checkpointRecord{}).
				Where("thread_id = ?", cp.ThreadID).
				Select("MAX(version)").
				Row()
			if err := row.Scan(&latest); err != nil {
				return err
			}
		}
		if cp.Version != latest+1 {
			return ErrVersionConflict
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrVersionConflict
		}
		return err
	}
	return nil
}

// GetLatest returns the highest-version checkpoint for a thread.
func (s *GormStore) GetLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("version DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

// GetByVersion returns a specific version.
func (s *GormStore) GetByVersion(ctx context.Context, threadID string, version int) (*Checkpoint, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).
		Where("thread_id = ? AND version = ?", threadID, version).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

// List yields checkpoints newest-first.
func (s *GormStore) List(ctx context.Context, threadID string, limit int) iter.Seq2[*Checkpoint, error] {
	return func(yield func(*Checkpoint, error) bool) {
		q := s.db.WithContext(ctx).
			Where("thread_id = ?", threadID).
			Order("version DESC")
		if limit > 0 {
			q = q.Limit(limit)
		}

		var recs []checkpointRecord
		if err := q.Find(&recs).Error; err != nil {
			yield(nil, err)
			return
		}
		for i := range recs {
			cp, err := fromRecord(&recs[i])
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(cp, nil) {
				return
			}
		}
	}
}

// DeleteThread removes a thread's chain and index entry.
func (s *GormStore) DeleteThread(ctx context.Context, threadID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("thread_id = ?", threadID).Delete(&checkpointRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("thread_id = ?", threadID).Delete(&threadRecord{}).Error
	})
}

// PutThreadInfo creates or updates the discovery record for a thread.
func (s *GormStore) PutThreadInfo(ctx context.Context, info *ThreadInfo) error {
	if info == nil || info.ThreadID == "" {
		return ErrInvalidInput
	}

	now := time.Now()
	created := info.CreatedAt
	if created.IsZero() {
		created = now
	}
	rec := &threadRecord{
		ThreadID:  info.ThreadID,
		UserID:    info.UserID,
		Topic:     info.Topic,
		Status:    string(info.Status),
		CreatedAt: created,
		UpdatedAt: now,
	}
	return s.db.WithContext(ctx).Save(rec).Error
}

// GetThreadInfo returns the discovery record for a thread.
func (s *GormStore) GetThreadInfo(ctx context.Context, threadID string) (*ThreadInfo, error) {
	var rec threadRecord
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ThreadInfo{
		ThreadID:  rec.ThreadID,
		UserID:    rec.UserID,
		Topic:     rec.Topic,
		Status:    ThreadStatus(rec.Status),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// SetThreadStatus updates the status of a thread's discovery record.
func (s *GormStore) SetThreadStatus(ctx context.Context, threadID string, status ThreadStatus) error {
	res := s.db.WithContext(ctx).
		Model(&threadRecord{}).
		Where("thread_id = ?", threadID).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListThreadsByUser returns discovery records for a user, newest-first.
func (s *GormStore) ListThreadsByUser(ctx context.Context, userID string) ([]*ThreadInfo, error) {
	q := s.db.WithContext(ctx).Model(&threadRecord{}).Order("created_at DESC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}

	var recs []threadRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}

	result := make([]*ThreadInfo, 0, len(recs))
	for _, rec := range recs {
		result = append(result, &ThreadInfo{
			ThreadID:  rec.ThreadID,
			UserID:    rec.UserID,
			Topic:     rec.Topic,
			Status:    ThreadStatus(rec.Status),
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	return result, nil
}

// Ensure GormStore implements Store
var _ Store = (*GormStore)(nil)
