package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore is a MongoDB implementation of Store.
//
// A unique compound index on (thread_id, version) makes the insert the
// atomic version reservation: the loser of a concurrent write gets a
// duplicate-key error, surfaced as ErrVersionConflict. A single document
// carries channel values, pending writes, and metadata, so a checkpoint
// write is all-or-nothing.
type MongoStore struct {
	client      *mongo.Client
	checkpoints *mongo.Collection
	threads     *mongo.Collection
}

// MongoConfig configures the MongoDB checkpoint backend.
type MongoConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	Database string `json:"database" yaml:"database"`
}

type mongoCheckpoint struct {
	ThreadID      string         `bson:"thread_id"`
	Version       int            `bson:"version"`
	CreatedAt     time.Time      `bson:"created_at"`
	ChannelValues map[string]any `bson:"channel_values"`
	PendingWrites []PendingWrite `bson:"pending_writes,omitempty"`
	Metadata      map[string]any `bson:"metadata,omitempty"`
}

type mongoThread struct {
	ThreadID  string    `bson:"_id"`
	UserID    string    `bson:"user_id,omitempty"`
	Topic     string    `bson:"topic,omitempty"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoStore creates a MongoDB-backed checkpoint store.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	dbName := cfg.Database
	if dbName == "" {
		dbName = "reportflow"
	}
	db := client.Database(dbName)

	store := &MongoStore{
		client:      client,
		checkpoints: db.Collection("checkpoints"),
		threads:     db.Collection("task_index"),
	}

	_, err = store.checkpoints.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "thread_id", Value: 1}, {Key: "version", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("create checkpoint index: %w", err)
	}

	_, err = store.threads.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("create thread index: %w", err)
	}

	return store, nil
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks if the store is healthy.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Put appends a new checkpoint version.
func (s *MongoStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}

	// Gapless chain check; the unique index still backstops races.
	latest := -1
	if cur, err := s.GetLatest(ctx, cp.ThreadID); err == nil {
		latest = cur.Version
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if cp.Version != latest+1 {
		return ErrVersionConflict
	}

	created := cp.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	doc := mongoCheckpoint{
		ThreadID:      cp.ThreadID,
		Version:       cp.Version,
		CreatedAt:     created,
		ChannelValues: cp.ChannelValues,
		PendingWrites: cp.PendingWrites,
		Metadata:      cp.Metadata,
	}

	if _, err := s.checkpoints.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrVersionConflict
		}
		return err
	}
	return nil
}

func fromMongo(doc *mongoCheckpoint) *Checkpoint {
	return &Checkpoint{
		ThreadID:      doc.ThreadID,
		Version:       doc.Version,
		CreatedAt:     doc.CreatedAt,
		ChannelValues: doc.ChannelValues,
		PendingWrites: doc.PendingWrites,
		Metadata:      doc.Metadata,
	}
}

// GetLatest returns the highest-version checkpoint for a thread.
func (s *MongoStore) GetLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	var doc mongoCheckpoint
	err := s.checkpoints.FindOne(ctx,
		bson.M{"thread_id": threadID},
		options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromMongo(&doc), nil
}

// GetByVersion returns a specific version.
func (s *MongoStore) GetByVersion(ctx context.Context, threadID string, version int) (*Checkpoint, error) {
	var doc mongoCheckpoint
	err := s.checkpoints.FindOne(ctx,
		bson.M{"thread_id": threadID, "version": version},
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromMongo(&doc), nil
}

// List yields checkpoints newest-first.
func (s *MongoStore) List(ctx context.Context, threadID string, limit int) iter.Seq2[*Checkpoint, error] {
	return func(yield func(*Checkpoint, error) bool) {
		opts := options.Find().SetSort(bson.D{{Key: "version", Value: -1}})
		if limit > 0 {
			opts = opts.SetLimit(int64(limit))
		}
		cur, err := s.checkpoints.Find(ctx, bson.M{"thread_id": threadID}, opts)
		if err != nil {
			yield(nil, err)
			return
		}
		defer cur.Close(ctx)

		for cur.Next(ctx) {
			var doc mongoCheckpoint
			if err := cur.Decode(&doc); err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(fromMongo(&doc), nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// DeleteThread removes a thread's chain and index entry.
func (s *MongoStore) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.checkpoints.DeleteMany(ctx, bson.M{"thread_id": threadID}); err != nil {
		return err
	}
	_, err := s.threads.DeleteOne(ctx, bson.M{"_id": threadID})
	return err
}

// PutThreadInfo creates or updates the discovery record for a thread.
func (s *MongoStore) PutThreadInfo(ctx context.Context, info *ThreadInfo) error {
	if info == nil || info.ThreadID == "" {
		return ErrInvalidInput
	}

	now := time.Now()
	created := info.CreatedAt
	if created.IsZero() {
		created = now
	}
	doc := mongoThread{
		ThreadID:  info.ThreadID,
		UserID:    info.UserID,
		Topic:     info.Topic,
		Status:    string(info.Status),
		CreatedAt: created,
		UpdatedAt: now,
	}

	_, err := s.threads.ReplaceOne(ctx,
		bson.M{"_id": info.ThreadID},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

// GetThreadInfo returns the discovery record for a thread.
func (s *MongoStore) GetThreadInfo(ctx context.Context, threadID string) (*ThreadInfo, error) {
	var doc mongoThread
	err := s.threads.FindOne(ctx, bson.M{"_id": threadID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ThreadInfo{
		ThreadID:  doc.ThreadID,
		UserID:    doc.UserID,
		Topic:     doc.Topic,
		Status:    ThreadStatus(doc.Status),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// SetThreadStatus updates the status of a thread's discovery record.
func (s *MongoStore) SetThreadStatus(ctx context.Context, threadID string, status ThreadStatus) error {
	res, err := s.threads.UpdateOne(ctx,
		bson.M{"_id": threadID},
		bson.M{"$set": bson.M{"status": string(status), "updated_at": time.Now()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListThreadsByUser returns discovery records for a user, newest-first.
func (s *MongoStore) ListThreadsByUser(ctx context.Context, userID string) ([]*ThreadInfo, error) {
	filter := bson.M{}
	if userID != "" {
		filter["user_id"] = userID
	}

	cur, err := s.threads.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	result := make([]*ThreadInfo, 0)
	for cur.Next(ctx) {
		var doc mongoThread
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		result = append(result, &ThreadInfo{
			ThreadID:  doc.ThreadID,
			UserID:    doc.UserID,
			Topic:     doc.Topic,
			Status:    ThreadStatus(doc.Status),
			CreatedAt: doc.CreatedAt,
			UpdatedAt: doc.UpdatedAt,
		})
	}
	return result, cur.Err()
}

// Ensure MongoStore implements Store
var _ Store = (*MongoStore)(nil)
