package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/creatorpad/settlement-engine/internal/chain"
	"github.com/creatorpad/settlement-engine/internal/config"
	"github.com/creatorpad/settlement-engine/internal/events"
	"github.com/creatorpad/settlement-engine/internal/logger"
	"github.com/creatorpad/settlement-engine/internal/metrics"
	"github.com/creatorpad/settlement-engine/internal/store"
	"github.com/creatorpad/settlement-engine/internal/trade"
)

const maintenanceInterval = time.Minute

func main() {
	if err := run(); err != nil {
		slog.Error("settlement-engine failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.FromOS()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogFormat, cfg.Verbose)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	// --- Event sinks ---
	hub := events.NewHub(log)
	sinks := events.Fanout{events.LogSink{Logger: log}, hub}
	var kafkaSink *events.KafkaSink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err = events.NewKafkaSink(events.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Logger:  log,
		})
		if err != nil {
			return err
		}
		sinks = append(sinks, kafkaSink)
		log.Info("kafka event stream enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	// --- Settlement service ---
	clock := clockwork.NewRealClock()
	blocks, err := chain.NewBlockClock(clock, cfg.BlockTime)
	if err != nil {
		return err
	}
	svc, err := trade.NewService(ctx, trade.Config{
		Logger:              log,
		Clock:               clock,
		Blocks:              blocks,
		Store:               st,
		Publisher:           sinks,
		Payer:               trade.LogPayer(log),
		Registry:            cfg.Registry,
		RequireSignatures:   cfg.RequireSignatures,
		Guard:               cfg.Guard,
		LargeTradeThreshold: cfg.LargeTradeThreshold,
		PriceImpactWarnBps:  cfg.PriceImpactWarnBps,
		HistoryCap:          cfg.HistoryCap,
	})
	if err != nil {
		return err
	}
	limiter := trade.NewRateLimiter(clock, cfg.APIRatePerMinute, cfg.APIRateBurst)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, svc, hub, limiter),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	if kafkaSink != nil {
		g.Go(func() error { return kafkaSink.Run(gctx) })
	}
	g.Go(func() error { return svc.RunMaintenance(gctx, maintenanceInterval) })
	g.Go(func() error { return limiter.Run(gctx) })
	g.Go(func() error {
		log.Info("settlement-engine listening", "port", cfg.Port, "registry", cfg.Registry.Hex())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down settlement-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("settlement-engine stopped")
	return err
}

// openStore picks the archive: PostgreSQL (optionally behind Redis) when
// DATABASE_URL is set, memory otherwise.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if cfg.DatabaseURL == "" {
		if cfg.RedisURL != "" {
			log.Warn("REDIS_URL ignored without DATABASE_URL")
		}
		log.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), closeAll, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)
	if err := pool.Ping(ctx); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}
	pg := store.NewPostgresStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		closeAll()
		return nil, nil, err
	}
	log.Info("connected to PostgreSQL")

	var st store.Store = pg
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(pg, rdb, cfg.CacheTTL, log)
		log.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}
	return st, closeAll, nil
}

func newRouter(cfg *config.Config, svc *trade.Service, hub *events.Hub, limiter *trade.RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"settlement-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Live event stream; outside the request timeout.
		r.Get("/ws", hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r, limiter.Middleware)
		})
	})
	return r
}
