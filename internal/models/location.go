package models

import (
	"strings"
	"time"
)

// PriorityTier is the scheduling class of a SourceLocation.
type PriorityTier string

const (
	TierHigh     PriorityTier = "HIGH"
	TierMedium   PriorityTier = "MEDIUM"
	TierInactive PriorityTier = "INACTIVE"
)

// ParseTier is case-insensitive; unknown values map to TierInactive.
func ParseTier(raw string) PriorityTier {
	switch PriorityTier(strings.ToUpper(strings.TrimSpace(raw))) {
	case TierHigh:
		return TierHigh
	case TierMedium:
		return TierMedium
	default:
		return TierInactive
	}
}

// Schedulable reports whether locations in the tier take part in polling.
func (t PriorityTier) Schedulable() bool {
	return t == TierHigh || t == TierMedium
}

// SourceLocation is a polling target. Only the scheduler mutates the fetch
// bookkeeping; locations are deactivated, never deleted.
type SourceLocation struct {
	ID            string       `json:"id" bson:"_id" yaml:"id"`
	Name          string       `json:"name" bson:"name" yaml:"name"`
	Lat           float64      `json:"lat" bson:"lat" yaml:"lat"`
	Lon           float64      `json:"lon" bson:"lon" yaml:"lon"`
	Area          string       `json:"area" bson:"area" yaml:"area"`
	City          string       `json:"city" bson:"city" yaml:"city"`
	Region        string       `json:"region,omitempty" bson:"region,omitempty" yaml:"region"`
	Tier          PriorityTier `json:"tier" bson:"tier" yaml:"tier"`
	Active        bool         `json:"active" bson:"active" yaml:"active"`
	LastFetchedAt *time.Time   `json:"last_fetched_at,omitempty" bson:"last_fetched_at,omitempty" yaml:"-"`
	FetchCount    int64        `json:"fetch_count" bson:"fetch_count" yaml:"-"`
	EventCount    int64        `json:"event_count" bson:"event_count" yaml:"-"`
}

// Context converts the location into the pipeline's LocationContext.
func (l SourceLocation) Context() LocationContext {
	return LocationContext{
		LocationID: l.ID,
		Area:       l.Area,
		City:       l.City,
		Location:   &Location{Lat: l.Lat, Lon: l.Lon, Area: l.Area},
	}
}
