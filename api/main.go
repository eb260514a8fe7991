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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/local-pulse/backend/internal/bootstrap"
	"github.com/DeafMist/local-pulse/backend/internal/config"
	"github.com/DeafMist/local-pulse/backend/internal/fanout"
	"github.com/DeafMist/local-pulse/backend/internal/logger"
	"github.com/DeafMist/local-pulse/backend/internal/pipeline"
)

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	stores, err := bootstrap.OpenStores(ctx, cfg.Common, cfg.Tiering, log)
	if err != nil {
		log.Error("open stores", slog.Any("err", err))
		os.Exit(1)
	}

	hub := fanout.NewHub(fanout.HubOptions{Logger: log})

	// Every API instance needs every live update, so each gets its own group.
	groupID := cfg.RelayGroupID
	if groupID == "" {
		host, _ := os.Hostname()
		groupID = "pulse-api-" + host
	}
	relay := fanout.NewRelay(cfg.KafkaBrokers, cfg.LiveTopic, groupID, hub, log)

	reports := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.ReportsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}

	srv := &server{
		log:     log,
		cfg:     cfg,
		// The api only reads, so the pipeline needs no enrichment gateway.
		events:  pipeline.New(nil, stores.Tiered, nil, pipeline.Options{Logger: log}),
		store:   stores.Tiered,
		reports: reports,
		hub:     hub,
		now:     time.Now,
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("api stopped", slog.Any("err", err))
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := reports.Close(); err != nil {
		log.Error("close reports writer", slog.Any("err", err))
	}
	if err := stores.Close(closeCtx); err != nil {
		log.Error("close stores", slog.Any("err", err))
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/ws/{topic}", fanout.ServeWS(s.hub, s.log))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Get("/events", s.handleEvents)
		r.Get("/events/{id}", s.handleEvent)
		r.Get("/stats", s.handleStats)
		r.Post("/reports", s.handleReport)
	})
	return r
}
