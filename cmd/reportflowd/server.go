package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/api/handlers"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/checkpoint"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/config"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/engine"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/events"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/internal/database"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/internal/metrics"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/internal/server"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/internal/telemetry"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/interrupt"
)

// Server assembles the service: checkpoint store, execution engine, event
// feed, HTTP API, and the metrics endpoint.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	providers  *telemetry.Providers

	collector *metrics.Collector
	store     checkpoint.Store
	pool      *database.PoolManager
	redis     *redis.Client
	eventsLog *events.Log
	engine    *engine.Engine

	httpManager    *server.Manager
	metricsManager *server.Manager
	watcher        *config.Watcher
	limiterCancel  context.CancelFunc
}

// NewServer creates the service from its configuration. Nothing is connected
// until Start.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, providers *telemetry.Providers) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		providers:  providers,
	}
}

// Start connects the backends, wires the engine, and begins serving. On
// error, anything already opened is closed.
func (s *Server) Start() error {
	ctx := context.Background()
	s.collector = metrics.NewCollector("reportflow", s.logger)

	store, err := s.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	s.store = store

	locker, err := s.buildLocker()
	if err != nil {
		s.closeBackends()
		return fmt.Errorf("build locker: %w", err)
	}

	s.eventsLog = events.NewLog(s.logger,
		events.WithHeartbeatInterval(s.cfg.Events.HeartbeatInterval),
	)

	controller := interrupt.NewController(s.logger)
	stages := engine.NewStages()
	registerStages(stages, controller, s.logger)

	s.engine = engine.New(store, stages, controller,
		engine.WithLocker(locker),
		engine.WithPublisher(s.eventsLog),
		engine.WithLogger(s.logger),
		engine.WithMetrics(s.collector),
		engine.WithConfig(engine.Config{
			LeaseTTL:        s.cfg.Engine.LeaseTTL,
			MaxStepsPerTurn: s.cfg.Engine.MaxStepsPerTurn,
		}),
	)

	handler := s.buildHandler()
	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	if err := s.httpManager.Start(); err != nil {
		s.closeBackends()
		return fmt.Errorf("start http server: %w", err)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.Handler())
	s.metricsManager = server.NewManager(metricsMux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 5 * time.Second,
	}, s.logger.With(zap.String("server", "metrics")))
	if err := s.metricsManager.Start(); err != nil {
		s.Shutdown()
		return fmt.Errorf("start metrics server: %w", err)
	}

	if err := s.startWatcher(ctx); err != nil {
		s.logger.Warn("config watcher unavailable", zap.Error(err))
	}

	s.logger.Info("server started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("checkpoint_backend", s.cfg.Checkpoint.Backend),
		zap.String("locker", s.cfg.Engine.Locker),
	)
	return nil
}

// openStore builds the configured checkpoint backend. The sql backend opens
// the database through the pool manager so its health loop and pool limits
// apply.
func (s *Server) openStore(ctx context.Context) (checkpoint.Store, error) {
	storeCfg := checkpoint.StoreConfig{
		Type:        checkpoint.BackendType(s.cfg.Checkpoint.Backend),
		BaseDir:     s.cfg.Checkpoint.BaseDir,
		AutoMigrate: s.cfg.Checkpoint.AutoMigrate,
		Redis: checkpoint.RedisConfig{
			Addr:      s.cfg.Redis.Addr,
			Password:  s.cfg.Redis.Password,
			DB:        s.cfg.Redis.DB,
			PoolSize:  s.cfg.Redis.PoolSize,
			KeyPrefix: s.cfg.Checkpoint.KeyPrefix,
		},
		Mongo: checkpoint.MongoConfig{
			URI:      s.cfg.Mongo.URI,
			Database: s.cfg.Mongo.Database,
		},
	}

	if storeCfg.Type == checkpoint.BackendSQL {
		db, err := database.Open(s.cfg.Database)
		if err != nil {
			return nil, err
		}
		pool, err := database.NewPoolManager(db, database.PoolConfig{
			MaxIdleConns:    s.cfg.Database.MaxIdleConns,
			MaxOpenConns:    s.cfg.Database.MaxOpenConns,
			ConnMaxLifetime: s.cfg.Database.ConnMaxLifetime,
		}, s.logger)
		if err != nil {
			return nil, err
		}
		s.pool = pool
		return checkpoint.NewStore(ctx, storeCfg, pool.DB())
	}
	return checkpoint.NewStore(ctx, storeCfg, nil)
}

// buildLocker selects the thread lease backend. Redis gives mutual exclusion
// across replicas; memory is only safe for a single instance.
func (s *Server) buildLocker() (engine.Locker, error) {
	switch s.cfg.Engine.Locker {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis locker ping: %w", err)
		}
		s.redis = client
		return engine.NewRedisLocker(client, s.cfg.Checkpoint.KeyPrefix), nil
	case "memory", "":
		return engine.NewMemoryLocker(), nil
	default:
		return nil, fmt.Errorf("unknown locker backend: %q", s.cfg.Engine.Locker)
	}
}

// buildHandler assembles the route table and wraps it in the middleware
// chain.
func (s *Server) buildHandler() http.Handler {
	threads := handlers.NewThreadsHandler(s.engine, s.logger)
	health := handlers.NewHealthHandler(s.logger)
	s.registerHealthChecks(health)

	sse := events.NewSSEHandler(s.eventsLog, s.logger)
	sse.ThreadID = threadIDFromPath
	ws := events.NewWSHandler(s.eventsLog, s.logger)
	ws.ThreadID = threadIDFromPath

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.Handle("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /api/v1/threads", threads.HandleStart)
	mux.HandleFunc("GET /api/v1/threads", threads.HandleList)
	mux.HandleFunc("GET /api/v1/threads/{id}", threads.HandleGet)
	mux.HandleFunc("GET /api/v1/threads/{id}/history", threads.HandleHistory)
	mux.HandleFunc("POST /api/v1/threads/{id}/resume", threads.HandleResume)
	mux.HandleFunc("POST /api/v1/threads/{id}/cancel", threads.HandleCancel)
	mux.HandleFunc("POST /api/v1/threads/{id}/restart", threads.HandleRestart)
	mux.Handle("GET /api/v1/threads/{id}/events", sse)
	mux.Handle("GET /api/v1/threads/{id}/ws", ws)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	middlewares = append(middlewares, MetricsMiddleware(s.collector))
	if s.cfg.RateLimit.Enabled {
		ctx, cancel := context.WithCancel(context.Background())
		s.limiterCancel = cancel
		middlewares = append(middlewares,
			RateLimiter(ctx, s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst, s.logger))
	}
	if s.cfg.Auth.Enabled {
		middlewares = append(middlewares,
			JWTAuth(s.cfg.Auth, []string{"/health", "/ready", "/version"}, s.logger))
	}
	return Chain(mux, middlewares...)
}

func threadIDFromPath(r *http.Request) string {
	return r.PathValue("id")
}

// registerHealthChecks adds readiness probes for whichever backends are in
// play. The memory and file backends carry no external dependency.
func (s *Server) registerHealthChecks(health *handlers.HealthHandler) {
	if s.pool != nil {
		health.RegisterCheck(handlers.HealthCheckFunc{
			CheckName: "database",
			Fn:        s.pool.Ping,
		})
	}
	if s.redis != nil {
		health.RegisterCheck(handlers.HealthCheckFunc{
			CheckName: "redis",
			Fn: func(ctx context.Context) error {
				return s.redis.Ping(ctx).Err()
			},
		})
	}
	if pinger, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		health.RegisterCheck(handlers.HealthCheckFunc{
			CheckName: "checkpoint_store",
			Fn:        pinger.Ping,
		})
	}
}

// startWatcher enables config hot reload when a config file path was given.
// Only the log level reacts at runtime; backend changes need a restart.
func (s *Server) startWatcher(ctx context.Context) error {
	if s.configPath == "" {
		return nil
	}
	loader := config.NewLoader().WithConfigPath(s.configPath)
	watcher, err := config.NewWatcher(loader, s.configPath,
		config.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}
	watcher.OnReload(func(updated *config.Config) {
		s.logger.Info("configuration reloaded",
			zap.String("log_level", updated.Log.Level))
	})
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	s.watcher = watcher
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM or a serve error, then shuts
// everything down.
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-s.httpManager.Errors():
		s.logger.Error("http server exited", zap.Error(err))
	case err := <-s.metricsManager.Errors():
		s.logger.Error("metrics server exited", zap.Error(err))
	}
	s.Shutdown()
}

// Shutdown stops the servers and closes the backends. Safe to call more than
// once.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.limiterCancel != nil {
		s.limiterCancel()
	}
	var g errgroup.Group
	if s.httpManager != nil {
		g.Go(func() error { return s.httpManager.Shutdown(ctx) })
	}
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Shutdown(ctx) })
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("server shutdown", zap.Error(err))
	}
	s.closeBackends()

	if s.providers != nil {
		if err := s.providers.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}
	s.logger.Info("server stopped")
}

func (s *Server) closeBackends() {
	if closer, ok := s.store.(io.Closer); ok && s.store != nil {
		if err := closer.Close(); err != nil {
			s.logger.Error("close checkpoint store", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("close database pool", zap.Error(err))
		}
		s.pool = nil
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("close redis client", zap.Error(err))
		}
		s.redis = nil
	}
	s.store = nil
}
