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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/local-pulse/backend/internal/bootstrap"
	"github.com/DeafMist/local-pulse/backend/internal/config"
	"github.com/DeafMist/local-pulse/backend/internal/fanout"
	"github.com/DeafMist/local-pulse/backend/internal/logger"
	"github.com/DeafMist/local-pulse/backend/internal/models"
	"github.com/DeafMist/local-pulse/backend/internal/pipeline"
	"github.com/DeafMist/local-pulse/backend/internal/scheduler"
)

func main() {
	log := logger.New("poller")
	cfg, err := config.LoadPoller()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("poller stopped", slog.Any("err", err))
		stop()
		os.Exit(1)
	}
	log.Info("shutdown signal received")
}

// run blocks until ctx is done or a component fails. Everything it opens is
// closed before it returns.
func run(ctx context.Context, cfg *config.Poller, log *slog.Logger) error {
	stores, err := bootstrap.OpenStores(ctx, cfg.Common, cfg.Tiering, log)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := stores.Close(closeCtx); err != nil {
			log.Error("close stores", slog.Any("err", err))
		}
	}()

	db, err := stores.Database(ctx)
	if err != nil {
		return fmt.Errorf("connect location registry: %w", err)
	}
	locations, err := scheduler.NewMongoLocations(ctx, db, cfg.LocationsCollection)
	if err != nil {
		return fmt.Errorf("init location registry: %w", err)
	}
	if cfg.LocationsFile != "" {
		n, err := scheduler.SeedFromFile(ctx, locations, cfg.LocationsFile)
		if err != nil {
			return fmt.Errorf("seed locations from %s: %w", cfg.LocationsFile, err)
		}
		log.Info("locations seeded", slog.String("file", cfg.LocationsFile), slog.Int("count", n))
	}

	live := fanout.NewKafkaPublisher(cfg.KafkaBrokers, cfg.LiveTopic)
	defer live.Close()

	p := pipeline.New(bootstrap.Gateway(cfg.Enrichment, log), stores.Tiered, live, pipeline.Options{
		Sentiment: cfg.Sentiment,
		Logger:    log,
	})
	fetcher := scheduler.NewHTTPFetcher(cfg.FeedURL, cfg.FeedRadiusKm, &http.Client{Timeout: 30 * time.Second})
	sched := scheduler.New(locations, fetcher, p, live, schedulerOptions(cfg, log))

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("poller started",
		slog.Duration("high_interval", cfg.HighInterval),
		slog.Duration("medium_interval", cfg.MediumInterval),
		slog.Duration("emergency_interval", cfg.EmergencyInterval),
		slog.String("feed", cfg.FeedURL),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func schedulerOptions(cfg *config.Poller, log *slog.Logger) scheduler.Options {
	return scheduler.Options{
		Tiers: map[models.PriorityTier]scheduler.TierSchedule{
			models.TierHigh:   {Interval: cfg.HighInterval, Window: cfg.HighWindow},
			models.TierMedium: {Interval: cfg.MediumInterval, Window: cfg.MediumWindow},
		},
		EmergencyInterval: cfg.EmergencyInterval,
		AlertMemory:       cfg.AlertMemory,
		Logger:            log,
	}
}
