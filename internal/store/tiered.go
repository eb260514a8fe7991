package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/DeafMist/local-pulse/backend/internal/geo"
	"github.com/DeafMist/local-pulse/backend/internal/metrics"
	"github.com/DeafMist/local-pulse/backend/internal/models"
	"github.com/DeafMist/local-pulse/backend/internal/processing"
)

// TieredOptions tune the read fallback. Zero values pick the defaults.
type TieredOptions struct {
	// Freshness is how far back the hot tier is trusted to answer.
	Freshness time.Duration
	// MinResults is the hot result size below which allow-listed selectors
	// go to the cold tier.
	MinResults int
	// HighActivity lists areas and categories treated as busy.
	HighActivity []string
	// OverFetch multiplies the limit of radius reads before distance filtering.
	OverFetch    int
	DefaultLimit int
	ColdTimeout  time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Tiered writes to both tiers and reads with cold-tier fallback.
type Tiered struct {
	hot  HotStore
	cold ColdStore
	opts TieredOptions

	busyAreas      map[string]struct{}
	busyCategories map[models.Category]struct{}

	pending sync.WaitGroup
	logger  *slog.Logger
}

// NewTiered combines the tiers. cold may be nil, in which case reads never
// fall back and writes go to the hot tier only.
func NewTiered(hot HotStore, cold ColdStore, opts TieredOptions) *Tiered {
	if opts.Freshness <= 0 {
		opts.Freshness = 6 * time.Hour
	}
	if opts.MinResults <= 0 {
		opts.MinResults = 3
	}
	if opts.OverFetch <= 0 {
		opts.OverFetch = 5
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 20
	}
	if opts.ColdTimeout <= 0 {
		opts.ColdTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	t := &Tiered{
		hot:            hot,
		cold:           cold,
		opts:           opts,
		busyAreas:      make(map[string]struct{}),
		busyCategories: make(map[models.Category]struct{}),
		logger:         logger,
	}
	for _, entry := range opts.HighActivity {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		if c, ok := models.ParseCategory(entry); ok {
			t.busyCategories[c] = struct{}{}
			continue
		}
		t.busyAreas[processing.NormalizeArea(entry)] = struct{}{}
	}
	return t
}

// Write stores ev in the hot tier and dispatches the cold append in the
// background. Only a hot-tier failure is returned; a cold failure is logged
// and counted.
func (t *Tiered) Write(ctx context.Context, ev models.CanonicalEvent) error {
	if ev.ID == "" {
		return errors.New("write event: empty id")
	}
	ttl := ev.ExpiresAt.Sub(t.opts.Now())
	if ttl <= 0 {
		return fmt.Errorf("write event %s: %w", ev.ID, ErrExpired)
	}

	if err := t.hot.Put(ctx, ev, ttl); err != nil {
		return fmt.Errorf("write hot tier: %w", err)
	}
	metrics.EventsStored.WithLabelValues(string(ev.Category), string(ev.Severity)).Inc()

	if t.cold == nil {
		return nil
	}

	t.pending.Add(1)
	go func() {
		defer t.pending.Done()
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.opts.ColdTimeout)
		defer cancel()
		if err := t.cold.Append(cctx, ev); err != nil {
			metrics.ColdWriteFailures.Inc()
			t.logger.Warn("cold tier append failed",
				slog.String("id", ev.ID),
				slog.Any("err", err),
			)
		}
	}()
	return nil
}

// Close waits for in-flight cold appends or until ctx is done.
func (t *Tiered) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain cold appends: %w", ctx.Err())
	}
}

// Query answers sel from the hot tier, replacing the answer with the cold
// tier's when the hot result is empty, the window reaches past Freshness, or
// a busy area or category got fewer than MinResults records. It fails only
// when neither tier can answer.
func (t *Tiered) Query(ctx context.Context, sel Selector) ([]models.CanonicalEvent, error) {
	switch sel.(type) {
	case RadiusSelector, CategorySeveritySelector, AreaSelector:
	default:
		return nil, fmt.Errorf("query: unsupported selector %T", sel)
	}
	sel = t.withDefaults(sel)
	w := sel.window()

	if !w.Since.IsZero() && t.opts.Now().Sub(w.Since) > t.opts.Freshness {
		events, err := t.queryCold(ctx, sel, "stale_window")
		if err == nil {
			return events, nil
		}
		t.logger.Warn("cold tier unavailable for historical read, trying hot tier", slog.Any("err", err))
		return t.queryHot(ctx, sel)
	}

	hot, hotErr := t.queryHot(ctx, sel)
	reason := ""
	switch {
	case hotErr != nil:
		reason = "hot_error"
	case len(hot) == 0:
		reason = "empty"
	case len(hot) < t.opts.MinResults && t.busy(sel):
		reason = "sparse"
	}
	if reason == "" {
		return hot, nil
	}
	if t.cold == nil {
		return hot, hotErr
	}

	cold, coldErr := t.queryCold(ctx, sel, reason)
	if coldErr != nil {
		if hotErr != nil {
			return nil, fmt.Errorf("%w: hot: %v; cold: %v", ErrUnavailable, hotErr, coldErr)
		}
		t.logger.Warn("cold tier fallback failed, serving hot result",
			slog.String("reason", reason),
			slog.Any("err", coldErr),
		)
		return hot, nil
	}
	return cold, nil
}

// Get looks id up in the hot tier, then the cold tier.
func (t *Tiered) Get(ctx context.Context, id string) (models.CanonicalEvent, error) {
	ev, err := t.hot.GetByID(ctx, id)
	if err == nil {
		return ev, nil
	}
	if t.cold == nil {
		return models.CanonicalEvent{}, err
	}
	cold, coldErr := t.cold.Get(ctx, id)
	if coldErr != nil {
		if errors.Is(err, ErrNotFound) && errors.Is(coldErr, ErrNotFound) {
			return models.CanonicalEvent{}, ErrNotFound
		}
		return models.CanonicalEvent{}, fmt.Errorf("get %s: hot: %v; cold: %w", id, err, coldErr)
	}
	return cold, nil
}

// Stats runs an aggregation against the cold tier.
func (t *Tiered) Stats(ctx context.Context, q AggregateQuery) ([]AggregateRow, error) {
	if t.cold == nil {
		return nil, fmt.Errorf("stats: %w", ErrUnavailable)
	}
	if q.WindowDays <= 0 {
		q.WindowDays = 7
	}
	if len(q.GroupBy) == 0 {
		q.GroupBy = []Dimension{DimCategory}
	}
	return t.cold.Aggregate(ctx, q)
}

// Ping checks both tiers; the cold tier is optional.
func (t *Tiered) Ping(ctx context.Context) error {
	if err := t.hot.Ping(ctx); err != nil {
		return fmt.Errorf("hot tier: %w", err)
	}
	if t.cold != nil {
		if err := t.cold.Ping(ctx); err != nil {
			return fmt.Errorf("cold tier: %w", err)
		}
	}
	return nil
}

func (t *Tiered) withDefaults(sel Selector) Selector {
	switch s := sel.(type) {
	case RadiusSelector:
		if s.Limit <= 0 {
			s.Limit = t.opts.DefaultLimit
		}
		return s
	case CategorySeveritySelector:
		if s.Limit <= 0 {
			s.Limit = t.opts.DefaultLimit
		}
		return s
	case AreaSelector:
		if s.Limit <= 0 {
			s.Limit = t.opts.DefaultLimit
		}
		return s
	}
	return sel
}

func (t *Tiered) busy(sel Selector) bool {
	switch s := sel.(type) {
	case AreaSelector:
		_, ok := t.busyAreas[processing.NormalizeArea(s.Area)]
		return ok
	case CategorySeveritySelector:
		_, ok := t.busyCategories[s.Category]
		return ok
	}
	return false
}

func (t *Tiered) queryHot(ctx context.Context, sel Selector) ([]models.CanonicalEvent, error) {
	var (
		events []models.CanonicalEvent
		err    error
	)
	w := sel.window()

	switch s := sel.(type) {
	case AreaSelector:
		events, err = t.hot.QueryByArea(ctx, s.Area, w.Limit)
	case CategorySeveritySelector:
		events, err = t.hot.QueryByCategorySeverity(ctx, s.Category, s.Severity, w.Limit)
	case RadiusSelector:
		events, err = t.hot.QueryRecent(ctx, w.Limit*t.opts.OverFetch)
		if err == nil {
			events = WithinRadius(events, s.Lat, s.Lon, s.RadiusKm)
		}
	}
	if err != nil {
		return nil, err
	}

	events = since(events, w.Since)
	if len(events) > w.Limit {
		events = events[:w.Limit]
	}
	return events, nil
}

func (t *Tiered) queryCold(ctx context.Context, sel Selector, reason string) ([]models.CanonicalEvent, error) {
	if t.cold == nil {
		return nil, fmt.Errorf("cold tier: %w", ErrUnavailable)
	}
	events, err := t.cold.Search(ctx, sel)
	if err != nil {
		return nil, err
	}
	metrics.ReadFallbacks.WithLabelValues(reason).Inc()
	t.logger.Debug("served read from cold tier", slog.String("reason", reason), slog.Int("count", len(events)))
	return events, nil
}

// WithinRadius keeps located events inside radiusKm, preserving order.
func WithinRadius(events []models.CanonicalEvent, lat, lon, radiusKm float64) []models.CanonicalEvent {
	out := events[:0:0]
	for _, ev := range events {
		if ev.Location == nil {
			continue
		}
		if geo.Within(lat, lon, ev.Location.Lat, ev.Location.Lon, radiusKm) {
			out = append(out, ev)
		}
	}
	return out
}

func since(events []models.CanonicalEvent, from time.Time) []models.CanonicalEvent {
	if from.IsZero() {
		return events
	}
	out := events[:0:0]
	for _, ev := range events {
		if !ev.CreatedAt.Before(from) {
			out = append(out, ev)
		}
	}
	return out
}
