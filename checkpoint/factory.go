package checkpoint

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// BackendType selects the checkpoint storage backend.
type BackendType string

const (
	BackendMemory BackendType = "memory"
	BackendFile   BackendType = "file"
	BackendRedis  BackendType = "redis"
	BackendSQL    BackendType = "sql"
	BackendMongo  BackendType = "mongo"
)

// StoreConfig selects and configures a checkpoint backend.
type StoreConfig struct {
	// Type is the storage backend type
	Type BackendType `json:"type" yaml:"type"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// Mongo configuration (only used when Type is "mongo")
	Mongo MongoConfig `json:"mongo" yaml:"mongo"`

	// AutoMigrate creates the SQL schema on startup (only used when Type is
	// "sql"); production runs the migrator instead.
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate"`
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    BackendMemory,
		BaseDir: "./data/checkpoints",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "reportflow:",
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "reportflow",
		},
		AutoMigrate: true,
	}
}

// NewStore creates a checkpoint store for the configured backend. The db
// handle is only required for the SQL backend.
func NewStore(ctx context.Context, cfg StoreConfig, db *gorm.DB) (Store, error) {
	switch cfg.Type {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(cfg.BaseDir)
	case BackendRedis:
		return NewRedisStore(cfg.Redis)
	case BackendSQL:
		return NewGormStore(db, cfg.AutoMigrate)
	case BackendMongo:
		return NewMongoStore(ctx, cfg.Mongo)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend: %q", cfg.Type)
	}
}
