package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/local-pulse/backend/internal/bootstrap"
	"github.com/DeafMist/local-pulse/backend/internal/config"
	"github.com/DeafMist/local-pulse/backend/internal/logger"
	"github.com/DeafMist/local-pulse/backend/internal/metrics"
	"github.com/DeafMist/local-pulse/backend/internal/store"
)

type sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

func main() {
	log := logger.New("retention")
	cfg, err := config.LoadRetention()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Retry the hot tier connection with backoff
	var hot store.HotStore
	maxRetries := 10
	retryDelay := 2 * time.Second
	for i := 0; i < maxRetries; i++ {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		hot, _, err = bootstrap.OpenHot(connectCtx, cfg.Common)
		cancel()
		if err == nil {
			break
		}
		log.Warn("hot tier unavailable, retrying",
			slog.Any("err", err),
			slog.Int("attempt", i+1),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_in", retryDelay),
		)

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			log.Info("shutdown signal received during startup")
			os.Exit(0)
		}
		retryDelay *= 2
		if retryDelay > 30*time.Second {
			retryDelay = 30 * time.Second
		}
	}
	if hot == nil {
		log.Error("failed to connect to hot tier after retries")
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hot.Close(closeCtx); err != nil {
			log.Error("close hot tier", slog.Any("err", err))
		}
	}()

	log.Info("retention job running",
		slog.String("hot_store", cfg.HotStore),
		slog.Duration("interval", cfg.Interval),
	)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	// Run immediately on start, but don't fail if the store is temporarily unavailable
	runOnce(ctx, log, hot, cfg.Timeout, time.Now)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			runOnce(ctx, log, hot, cfg.Timeout, time.Now)
		}
	}
}

// runOnce removes hot records past their expiry. The cold tier is append-only
// and never swept.
func runOnce(ctx context.Context, log *slog.Logger, hot sweeper, timeout time.Duration, now func() time.Time) int64 {
	subCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	deleted, err := hot.DeleteExpired(subCtx, now().UTC())
	if err != nil {
		log.Warn("retention run failed (will retry on next interval)", slog.Any("err", err))
		return 0
	}

	metrics.HotSweepDeleted.Add(float64(deleted))
	if deleted > 0 {
		log.Info("retention run completed", slog.Int64("deleted", deleted))
	} else {
		log.Debug("retention run completed, no expired records found")
	}
	return deleted
}
