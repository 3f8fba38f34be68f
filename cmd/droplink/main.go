// Package main runs the droplink HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/droplink/internal/cache"
	"github.com/R3E-Network/droplink/internal/chain"
	"github.com/R3E-Network/droplink/internal/config"
	"github.com/R3E-Network/droplink/internal/database/migrations"
	"github.com/R3E-Network/droplink/internal/logging"
	"github.com/R3E-Network/droplink/internal/metrics"
	"github.com/R3E-Network/droplink/internal/middleware"
	"github.com/R3E-Network/droplink/internal/precompile"
	"github.com/R3E-Network/droplink/internal/settlement"
	"github.com/R3E-Network/droplink/services/droplink"
	"github.com/R3E-Network/droplink/services/droplink/httpapi"
)

func main() {
	configPath := flag.String("config", "", "path to droplink.yaml (defaults to $DROPLINK_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(droplink.ServiceID, cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, custodian, closeStore, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open drop store")
	}
	defer closeStore()

	var viewCache droplink.ViewCache
	if cfg.Redis.Addr != "" {
		rc, dialErr := cache.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if dialErr != nil {
			logger.WithError(dialErr).Warn("redis unavailable; serving drop views uncached")
		} else {
			viewCache = rc
			defer rc.Close()
		}
	}

	m := metrics.New()
	client := precompile.NewClient(precompile.NewRegistry())
	clock := chain.SystemClock{}

	svc, err := droplink.New(droplink.Config{
		Store:           store,
		Recoverer:       client,
		Verifier:        client,
		Custodian:       custodian,
		Clock:           clock,
		Cache:           viewCache,
		Metrics:         m,
		Logger:          logger,
		DefaultGasLimit: cfg.Drops.DefaultGasLimit,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create service")
	}

	watcher, err := droplink.NewExpiryWatcher(droplink.WatcherConfig{
		Store:    store,
		Clock:    clock,
		Metrics:  m,
		Logger:   logger,
		Schedule: cfg.Drops.ExpirySweepSchedule,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create expiry watcher")
	}
	if err := watcher.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start expiry watcher")
	}
	defer watcher.Stop()

	var auth mux.MiddlewareFunc
	if cfg.Auth.JWTPublicKeyFile != "" {
		key, keyErr := middleware.LoadPublicKey(cfg.Auth.JWTPublicKeyFile)
		if keyErr != nil {
			logger.WithError(keyErr).Fatal("failed to load jwt public key")
		}
		auth = middleware.NewAuthMiddleware(key, logger, nil).Handler
	} else {
		logger.Warn("JWT_PUBLIC_KEY_FILE not set; create and reclaim will reject every request")
	}

	router := mux.NewRouter()
	router.Use(middleware.NewTracingMiddleware(logger).Handler)
	if len(cfg.HTTP.CORSAllowedOrigins) > 0 {
		router.Use(middleware.NewCORSMiddleware(cfg.HTTP.CORSAllowedOrigins).Handler)
	}
	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	if cfg.RateLimit.RPS > 0 {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, logger)
		limiter.StartCleanup(time.Minute, stopCleanup)
		router.Use(limiter.Handler)
	}
	router.Use(middleware.MetricsMiddleware(droplink.ServiceID, m))
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	httpapi.New(svc, logger).Register(router, auth)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTP.Addr).Info("droplink listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
	logger.Info("service stopped")
}

// openStore connects to Postgres when a URL is configured and falls back to
// the in-memory store otherwise. In Postgres mode escrow lives in the same
// database and the returned custodian is nil; the service takes the store's.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *logging.Logger) (droplink.Store, settlement.Custodian, func(), error) {
	if cfg.URL == "" {
		logger.Warn("DATABASE_URL not set; drops and escrow are kept in memory")
		return droplink.NewMemoryStore(), settlement.NewLedger(logger), func() {}, nil
	}

	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	if cfg.MigrateOnStart {
		if err := migrations.Apply(ctx, db.DB); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
	}
	ledger := settlement.NewSQLLedger(db, logger)
	return droplink.NewPostgresStore(db).WithLedger(ledger), nil, func() { db.Close() }, nil
}
