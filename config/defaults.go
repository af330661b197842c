package config

import "time"

// DefaultConfig returns the default configuration: memory checkpoint store,
// in-process locker, auth and telemetry off. Suitable for development.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Engine:     DefaultEngineConfig(),
		Checkpoint: DefaultCheckpointConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Mongo:      DefaultMongoConfig(),
		Events:     DefaultEventsConfig(),
		Auth:       DefaultAuthConfig(),
		RateLimit:  DefaultRateLimitConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default HTTP server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9090,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultEngineConfig returns the default driver configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		LeaseTTL:        30 * time.Second,
		MaxStepsPerTurn: 128,
		Locker:          "memory",
	}
}

// DefaultCheckpointConfig returns the default store configuration.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Backend:     "memory",
		BaseDir:     "./data/checkpoints",
		KeyPrefix:   "reportflow:",
		AutoMigrate: true,
	}
}

// DefaultRedisConfig returns the default redis client configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig returns the default sql backend configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "reportflow",
		Name:            "reportflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultMongoConfig returns the default mongo backend configuration.
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:      "mongodb://localhost:27017",
		Database: "reportflow",
	}
}

// DefaultEventsConfig returns the default feed configuration.
func DefaultEventsConfig() EventsConfig {
	return EventsConfig{
		HeartbeatInterval: 15 * time.Second,
	}
}

// DefaultAuthConfig returns the default auth configuration (disabled).
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled:  false,
		TokenTTL: 24 * time.Hour,
	}
}

// DefaultRateLimitConfig returns the default throttling configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled: false,
		RPS:     10,
		Burst:   20,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default tracing configuration
// (disabled).
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "reportflow",
		SampleRate:   1.0,
	}
}
