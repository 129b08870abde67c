package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"disputeflow/arbitration"
	"disputeflow/auth"
	"disputeflow/autoscore"
	"disputeflow/config"
	"disputeflow/db"
	"disputeflow/ledger"
	"disputeflow/logger"
	"disputeflow/reconciler"
	"disputeflow/reputation"
	"disputeflow/settlement"
	"disputeflow/store"
	"disputeflow/telemetry"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// Telemetry first: the logger bridges into its log provider.
	tel, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		slog.ErrorContext(ctx, "failed to setup telemetry", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg)

	pool, err := db.NewPool(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		slog.ErrorContext(ctx, "failed to apply migrations", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Redis.ReputationStream)

	txRunner := store.NewTxRunner(pool)
	ledgerClient := ledger.NewClient(cfg.Ledger)
	publisher := reputation.NewPublisher(redisClient, cfg.Redis.ReputationStream, nil)
	defer publisher.Close()

	settler := settlement.NewEngine(txRunner, ledgerClient, ledgerClient, publisher, settlement.Config{
		RequesterShareBps: cfg.Policy.RequesterShareBps,
		Lease:             cfg.Reconciler.SettlementLease,
	})
	engine := arbitration.NewEngine(txRunner, settler, autoscore.New(), arbitration.Policy{
		EvidenceWindow:     cfg.Policy.EvidenceWindow,
		Tier2Window:        cfg.Policy.Tier2Window,
		Tier3Window:        cfg.Policy.Tier3Window,
		PanelSize:          cfg.Policy.PanelSize,
		MinJurorReputation: cfg.Policy.MinJurorReputation,
	})

	scheduler := reconciler.NewScheduler(
		reconciler.New(txRunner, engine, settler),
		cfg.Reconciler.Interval,
		reconciler.WithLock(reconciler.NewRedisLock(redisClient, cfg.Redis.LockKey), cfg.Reconciler.Interval),
	)
	if cfg.Reconciler.Enabled {
		go scheduler.Run(ctx)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	server := NewServer(engine, scheduler, auth.NewTokens(cfg.Auth.JWTSecret))
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, server),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port, "env", cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}
	if cfg.Reconciler.Enabled {
		scheduler.Stop()
	}
	if tel != nil {
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}
