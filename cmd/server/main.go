package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peerprep/proctoring/internal/config"
	"peerprep/proctoring/internal/handlers"
	"peerprep/proctoring/internal/jobs"
	"peerprep/proctoring/internal/live"
	"peerprep/proctoring/internal/metrics"
	"peerprep/proctoring/internal/repositories"
	"peerprep/proctoring/internal/repositories/gormstore"
	mongorepo "peerprep/proctoring/internal/repositories/mongo"
	"peerprep/proctoring/internal/routers"
	"peerprep/proctoring/internal/scoring"
	"peerprep/proctoring/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

// openStore picks the session store for the configured driver. The returned
// func releases its connections.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.SessionStore, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		client, err := mongorepo.NewClient(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		repo, err := mongorepo.NewSessionRepo(ctx, client, cfg.SessionsCollection)
		if err != nil {
			client.Close(context.Background())
			return nil, nil, err
		}
		logger.Info("Connected to MongoDB", zap.String("db", cfg.MongoDBName))
		return repo, func() { client.Close(context.Background()) }, nil

	case config.DriverPostgres, config.DriverSQLite:
		dsn := cfg.SQLitePath
		if cfg.StoreDriver == config.DriverPostgres {
			dsn = cfg.Postgres.DSN()
		}
		db, err := gormstore.Open(cfg.StoreDriver, dsn)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Connected to SQL database", zap.String("driver", cfg.StoreDriver))
		return gormstore.NewSessionRepository(db), func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}, nil

	default:
		logger.Warn("Using in-memory session store; sessions are lost on restart")
		return repositories.NewMemoryStore(), func() {}, nil
	}
}

func newRouter(cfg *config.Config, sessionHandler *handlers.SessionHandler, healthHandler *handlers.HealthHandler) *chi.Mux {
	router := chi.NewRouter()

	// cors middleware
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	router.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer, middleware.Timeout(60*time.Second))
	router.Use(metrics.Middleware("proctoring"))

	routers.HealthRoutes(router, healthHandler)
	routers.MetricsRoutes(router, metrics.Handler())
	routers.SessionRoutes(router, sessionHandler)
	return router
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	logger.Info("Configuration loaded",
		zap.String("storeDriver", cfg.StoreDriver),
		zap.String("scoringPolicy", cfg.ScoringPolicy))

	policy, err := scoring.LoadPolicy(cfg.ScoringPolicy)
	if err != nil {
		logger.Fatal("Failed to load scoring policy", zap.Error(err))
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	store, closeStore, err := openStore(startCtx, cfg, logger)
	cancelStart()
	if err != nil {
		logger.Fatal("Failed to open session store", zap.Error(err))
	}
	defer closeStore()

	engine := services.NewAggregationEngine(store, policy, logger, services.EngineConfig{StoreTimeout: cfg.StoreTimeout})
	engine.AddObserver(metrics.NewObserver())

	hub := live.NewHub(logger)
	engine.AddObserver(hub)

	readinessDeps := map[string]handlers.Pinger{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		engine.AddObserver(services.NewRedisReportPublisher(rdb, cfg.RedisChannel, logger))
		readinessDeps["redis"] = redisPinger{rdb: rdb}
		logger.Info("Publishing finalized sessions to Redis",
			zap.String("addr", cfg.RedisAddr),
			zap.String("channel", cfg.RedisChannel))
	}

	reaper := jobs.NewStaleSessionReaper(engine, jobs.ReaperConfig{
		Schedule:  cfg.Reaper.Schedule,
		IdleAfter: cfg.Reaper.IdleAfter,
		Enabled:   cfg.Reaper.Enabled,
	}, logger)
	if err := reaper.Start(); err != nil {
		logger.Fatal("Failed to start stale session reaper", zap.Error(err))
	}

	sessionHandler := handlers.NewSessionHandler(engine, hub, logger)
	healthHandler := handlers.NewHealthHandler(engine, readinessDeps)
	router := newRouter(cfg, sessionHandler, healthHandler)

	serverAddr := ":" + cfg.Port

	// http server with timeouts
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// starting server in a goroutine
	go func() {
		logger.Info("Proctoring service starting", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shutdown the server
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)
	<-shutdownChan

	logger.Info("Proctoring service shutting down...")
	reaper.Stop()

	// graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error(fmt.Sprintf("server forced to shutdown: %v", err))
	}
	logger.Info("Proctoring service stopped")
}
