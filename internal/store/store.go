// Package store implements the two-tier event store: a TTL-bounded hot tier
// for "what's happening now" reads and an append-only cold tier for history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/DeafMist/local-pulse/backend/internal/models"
)

var (
	ErrNotFound    = errors.New("event not found")
	ErrUnavailable = errors.New("store unavailable")
	ErrExpired     = errors.New("event already expired")
)

// HotStore is the low-latency tier. Every read returns non-expired records
// only, newest first.
type HotStore interface {
	Put(ctx context.Context, ev models.CanonicalEvent, ttl time.Duration) error
	GetByID(ctx context.Context, id string) (models.CanonicalEvent, error)
	QueryByArea(ctx context.Context, area string, limit int) ([]models.CanonicalEvent, error)
	QueryByCategorySeverity(ctx context.Context, category models.Category, severity models.Severity, limit int) ([]models.CanonicalEvent, error)
	QueryRecent(ctx context.Context, limit int) ([]models.CanonicalEvent, error)
	// DeleteExpired removes records whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// ColdStore is the append-only analytical tier. Records never expire.
type ColdStore interface {
	Append(ctx context.Context, ev models.CanonicalEvent) error
	Get(ctx context.Context, id string) (models.CanonicalEvent, error)
	Search(ctx context.Context, sel Selector) ([]models.CanonicalEvent, error)
	Aggregate(ctx context.Context, q AggregateQuery) ([]AggregateRow, error)
	Ping(ctx context.Context) error
}

// Selector is the closed set of read shapes.
type Selector interface {
	window() Window
}

// Window bounds a read. Since, when set, is an inclusive lower bound on
// CreatedAt.
type Window struct {
	Limit int
	Since time.Time
}

// RadiusSelector asks for records within RadiusKm of a point.
type RadiusSelector struct {
	Lat      float64
	Lon      float64
	RadiusKm float64
	Window
}

// CategorySeveritySelector asks for records of a category. An empty Severity
// matches every severity.
type CategorySeveritySelector struct {
	Category models.Category
	Severity models.Severity
	Window
}

// AreaSelector asks for records of an area, compared by slug.
type AreaSelector struct {
	Area string
	Window
}

func (w Window) window() Window { return w }

// WindowOf exposes the bounds of any selector.
func WindowOf(sel Selector) Window { return sel.window() }

// Dimension is a group-by field of the cold tier.
type Dimension string

const (
	DimCategory  Dimension = "category"
	DimSeverity  Dimension = "severity"
	DimArea      Dimension = "area_key"
	DimHourOfDay Dimension = "hour_of_day"
	DimDayType   Dimension = "day_type"
	DimDay       Dimension = "day"
)

// AggregateQuery describes a set-based aggregation over the last WindowDays.
// Empty filter fields match everything.
type AggregateQuery struct {
	Category   models.Category
	Severity   models.Severity
	Area       string
	GroupBy    []Dimension
	WindowDays int
}

// AggregateRow is one bucket: the value per group-by dimension and the count.
type AggregateRow struct {
	Keys  map[Dimension]string `json:"keys"`
	Count int64                `json:"count"`
}
