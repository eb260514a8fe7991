// Package scheduler decides when each source location may be fetched again
// and drives the ingest pipeline for the ones that may.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/local-pulse/backend/internal/dedupe"
	"github.com/DeafMist/local-pulse/backend/internal/fanout"
	"github.com/DeafMist/local-pulse/backend/internal/metrics"
	"github.com/DeafMist/local-pulse/backend/internal/models"
	"github.com/DeafMist/local-pulse/backend/internal/processing"
)

// Ingester is the pipeline write path.
type Ingester interface {
	Ingest(ctx context.Context, candidates []models.RawCandidate, lc models.LocationContext) ([]models.CanonicalEvent, error)
}

// TierSchedule is the tick interval and eligibility window of a tier.
type TierSchedule struct {
	Interval time.Duration
	Window   time.Duration
}

// DefaultTiers are used when Options.Tiers is empty.
var DefaultTiers = map[models.PriorityTier]TierSchedule{
	models.TierHigh:   {Interval: 5 * time.Minute, Window: 10 * time.Minute},
	models.TierMedium: {Interval: 15 * time.Minute, Window: 30 * time.Minute},
}

// Options tune a Scheduler. Zero values pick the defaults.
type Options struct {
	Tiers             map[models.PriorityTier]TierSchedule
	EmergencyInterval time.Duration
	// AlertMemory bounds how long an alerted candidate id is remembered.
	AlertMemory time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
}

// Scheduler runs one loop per priority tier plus the emergency sweep.
type Scheduler struct {
	locations LocationStore
	fetcher   Fetcher
	ingest    Ingester
	alerts    fanout.Publisher

	ledger *Ledger
	seen   *dedupe.SeenCache
	opts   Options
	logger *slog.Logger
}

func New(locations LocationStore, fetcher Fetcher, ingest Ingester, alerts fanout.Publisher, opts Options) *Scheduler {
	if len(opts.Tiers) == 0 {
		opts.Tiers = DefaultTiers
	}
	if opts.EmergencyInterval <= 0 {
		opts.EmergencyInterval = 2 * time.Minute
	}
	if opts.AlertMemory <= 0 {
		opts.AlertMemory = 6 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		locations: locations,
		fetcher:   fetcher,
		ingest:    ingest,
		alerts:    alerts,
		ledger:    NewLedger(),
		seen:      dedupe.NewSeenCache(10000, opts.AlertMemory),
		opts:      opts,
		logger:    logger,
	}
}

// Run ticks every tier and the sweep until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for tier, sched := range s.opts.Tiers {
		if !tier.Schedulable() || sched.Interval <= 0 {
			continue
		}
		g.Go(func() error {
			return every(ctx, sched.Interval, func() { s.RunTier(ctx, tier) })
		})
	}
	g.Go(func() error {
		return every(ctx, s.opts.EmergencyInterval, func() { s.Sweep(ctx) })
	})

	s.logger.Info("scheduler started",
		slog.Int("tiers", len(s.opts.Tiers)),
		slog.Duration("emergency_interval", s.opts.EmergencyInterval),
	)
	return g.Wait()
}

// every runs fn now and then on each tick. A tick that arrives while fn is
// still running is dropped.
func every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}

// TickReport summarizes one tier tick.
type TickReport struct {
	Tier      models.PriorityTier
	Active    int
	Eligible  int
	Succeeded int
	Failed    int
	Events    int
	Duration  time.Duration
}

// RunTier fetches every eligible active location of tier concurrently and
// waits for all of them. A started location run is not cancelled with ctx.
func (s *Scheduler) RunTier(ctx context.Context, tier models.PriorityTier) TickReport {
	start := time.Now()
	report := TickReport{Tier: tier}

	sched, ok := s.opts.Tiers[tier]
	if !ok || !tier.Schedulable() {
		return report
	}

	locs, err := s.locations.ListActive(ctx, tier)
	if err != nil {
		s.logger.Error("list locations", slog.String("tier", string(tier)), slog.Any("err", err))
		return report
	}

	now := s.opts.Now()
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, loc := range locs {
		if !loc.Active || loc.Tier != tier {
			continue
		}
		report.Active++
		if !s.ledger.Claim(loc.ID, loc.LastFetchedAt, now, sched.Window) {
			continue
		}
		report.Eligible++

		wg.Add(1)
		go func(loc models.SourceLocation) {
			defer wg.Done()
			events, err := s.runLocation(context.WithoutCancel(ctx), loc)

			mu.Lock()
			defer mu.Unlock()
			report.Events += events
			if err != nil {
				report.Failed++
				return
			}
			report.Succeeded++
		}(loc)
	}
	wg.Wait()

	report.Duration = time.Since(start)
	metrics.TickDuration.WithLabelValues(string(tier)).Observe(report.Duration.Seconds())
	s.logger.Info("tick finished",
		slog.String("tier", string(tier)),
		slog.Int("active", report.Active),
		slog.Int("eligible", report.Eligible),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("events", report.Events),
		slog.Duration("took", report.Duration),
	)
	return report
}

// runLocation is one Idle -> Fetching -> Idle cycle. The fetch is recorded
// whether or not it succeeded, so a failing location waits out its window.
func (s *Scheduler) runLocation(ctx context.Context, loc models.SourceLocation) (events int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}

		at := s.opts.Now()
		s.ledger.Release(loc.ID, at)
		if rerr := s.locations.RecordFetch(ctx, loc.ID, at, events); rerr != nil {
			s.logger.Warn("record fetch", slog.String("location", loc.ID), slog.Any("err", rerr))
		}

		outcome := "ok"
		if err != nil {
			outcome = "error"
			s.logger.Warn("location run failed",
				slog.String("location", loc.ID),
				slog.String("tier", string(loc.Tier)),
				slog.Any("err", err),
			)
		}
		metrics.Fetches.WithLabelValues(string(loc.Tier), outcome).Inc()
	}()

	candidates, err := s.fetcher.Fetch(ctx, loc, FetchOptions{})
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	stored, err := s.ingest.Ingest(ctx, candidates, loc.Context())
	if err != nil {
		return len(stored), fmt.Errorf("ingest: %w", err)
	}
	return len(stored), nil
}

// Alert is published on the alerts topic for CRITICAL emergencies.
type Alert struct {
	ID         string           `json:"id"`
	LocationID string           `json:"location_id"`
	Area       string           `json:"area"`
	Title      string           `json:"title"`
	Text       string           `json:"text"`
	Category   models.Category  `json:"category"`
	Severity   models.Severity  `json:"severity"`
	Location   *models.Location `json:"location,omitempty"`
	DetectedAt time.Time        `json:"detected_at"`
}

// SweepReport summarizes one emergency sweep.
type SweepReport struct {
	Locations int
	Failed    int
	Alerts    int
}

const sweepKeyPrefix = "sweep:"

// Sweep fetches only EMERGENCY candidates for every active location and
// publishes each new CRITICAL one straight to the alerts topic. Nothing is
// stored and tier bookkeeping is not touched.
func (s *Scheduler) Sweep(ctx context.Context) SweepReport {
	var report SweepReport

	locs, err := s.locations.ListAllActive(ctx)
	if err != nil {
		s.logger.Error("list locations for sweep", slog.Any("err", err))
		return report
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	now := s.opts.Now()
	for _, loc := range locs {
		if !loc.Active || !loc.Tier.Schedulable() {
			continue
		}
		if !s.ledger.Claim(sweepKeyPrefix+loc.ID, nil, now, 0) {
			continue
		}
		report.Locations++

		wg.Add(1)
		go func(loc models.SourceLocation) {
			defer wg.Done()
			alerts, err := s.sweepLocation(context.WithoutCancel(ctx), loc)

			mu.Lock()
			defer mu.Unlock()
			report.Alerts += alerts
			if err != nil {
				report.Failed++
			}
		}(loc)
	}
	wg.Wait()

	if report.Alerts > 0 || report.Failed > 0 {
		s.logger.Info("emergency sweep finished",
			slog.Int("locations", report.Locations),
			slog.Int("failed", report.Failed),
			slog.Int("alerts", report.Alerts),
		)
	}
	return report
}

func (s *Scheduler) sweepLocation(ctx context.Context, loc models.SourceLocation) (alerts int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		s.ledger.Release(sweepKeyPrefix+loc.ID, s.opts.Now())
		if err != nil {
			s.logger.Warn("emergency sweep failed", slog.String("location", loc.ID), slog.Any("err", err))
		}
	}()

	candidates, err := s.fetcher.Fetch(ctx, loc, FetchOptions{Categories: []models.Category{models.CategoryEmergency}})
	if err != nil {
		return 0, fmt.Errorf("fetch emergencies: %w", err)
	}

	for _, c := range candidates {
		m := dedupe.Resolve(c)
		if m.Severity != models.SeverityCritical {
			continue
		}
		if !s.seen.TryMark(c.ID) {
			continue
		}

		area := c.AreaName()
		if area == "" {
			area = loc.Area
		}
		location := c.Location
		if location == nil {
			location = loc.Context().Location
		}
		title := c.Title
		if title == "" {
			title = processing.TitleFromText(c.Body(), 80)
		}

		alert := Alert{
			ID:         c.ID,
			LocationID: loc.ID,
			Area:       area,
			Title:      title,
			Text:       c.Text,
			Category:   models.CategoryEmergency,
			Severity:   models.SeverityCritical,
			Location:   location,
			DetectedAt: s.opts.Now().UTC(),
		}
		if err := s.alerts.Publish(ctx, fanout.TopicAlerts, alert); err != nil {
			s.logger.Warn("publish alert", slog.String("id", c.ID), slog.Any("err", err))
			continue
		}
		metrics.EmergencyAlerts.Inc()
		alerts++
	}
	return alerts, nil
}
