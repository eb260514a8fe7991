package models

import (
	"strings"
	"time"
)

// Category is the closed set of canonical event categories.
type Category string

const (
	CategoryTraffic        Category = "TRAFFIC"
	CategoryCivicIssue     Category = "CIVIC_ISSUE"
	CategoryEmergency      Category = "EMERGENCY"
	CategoryWeather        Category = "WEATHER"
	CategoryInfrastructure Category = "INFRASTRUCTURE"
	CategoryCommunity      Category = "COMMUNITY"
	CategoryCulturalEvent  Category = "CULTURAL_EVENT"
	CategoryGeneral        Category = "GENERAL"
)

// Categories lists every category in declaration order.
var Categories = []Category{
	CategoryTraffic,
	CategoryCivicIssue,
	CategoryEmergency,
	CategoryWeather,
	CategoryInfrastructure,
	CategoryCommunity,
	CategoryCulturalEvent,
	CategoryGeneral,
}

// ParseCategory maps free text onto a category. The boolean reports whether
// the input named a known category; unknown input yields CategoryGeneral.
func ParseCategory(raw string) (Category, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	for _, c := range Categories {
		if string(c) == normalized {
			return c, true
		}
	}
	return CategoryGeneral, false
}

var categoryTTL = map[Category]time.Duration{
	CategoryTraffic:        2 * time.Hour,
	CategoryWeather:        6 * time.Hour,
	CategoryEmergency:      24 * time.Hour,
	CategoryCulturalEvent:  24 * time.Hour,
	CategoryInfrastructure: 15 * 24 * time.Hour,
	CategoryCivicIssue:     30 * 24 * time.Hour,
}

// DefaultTTL applies to categories without an explicit entry.
const DefaultTTL = 24 * time.Hour

// TTL returns how long a record of the category stays in the hot tier.
func TTL(c Category) time.Duration {
	if ttl, ok := categoryTTL[c]; ok {
		return ttl
	}
	return DefaultTTL
}

// Severity is ordered LOW < MODERATE < HIGH < CRITICAL.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityModerate Severity = "MODERATE"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns the position of s in the ordering; unknown values rank as LOW.
func (s Severity) Rank() int {
	switch s {
	case SeverityModerate:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Valid reports whether s is one of the four declared values.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityModerate, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ParseSeverity is case-insensitive; the boolean is false for unknown input.
func ParseSeverity(raw string) (Severity, bool) {
	s := Severity(strings.ToUpper(strings.TrimSpace(raw)))
	if s.Valid() {
		return s, true
	}
	return "", false
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	if !a.Valid() {
		return SeverityLow
	}
	return a
}

// Location pins an event. Lat and Lon are always set together.
type Location struct {
	Lat        float64 `json:"lat" bson:"lat"`
	Lon        float64 `json:"lon" bson:"lon"`
	Area       string  `json:"area,omitempty" bson:"area,omitempty"`
	Address    string  `json:"address,omitempty" bson:"address,omitempty"`
	Landmark   string  `json:"landmark,omitempty" bson:"landmark,omitempty"`
	PostalCode string  `json:"postal_code,omitempty" bson:"postal_code,omitempty"`
}

// Sentiment is the optional mood attached by enrichment.
type Sentiment struct {
	Type       string  `json:"type" bson:"type"`
	Score      float64 `json:"score" bson:"score"`
	Confidence float64 `json:"confidence" bson:"confidence"`
}

// MediaRef points at an object in the external blob store.
type MediaRef struct {
	ID   string `json:"id" bson:"id"`
	URL  string `json:"url" bson:"url"`
	Type string `json:"type" bson:"type"`
}

// MetaContributingIDs holds the raw candidate ids a record was built from.
const MetaContributingIDs = "contributing_ids"

// CanonicalEvent is the deduplicated, enriched record served by the system.
type CanonicalEvent struct {
	ID          string         `json:"id" bson:"_id"`
	Title       string         `json:"title" bson:"title"`
	Description string         `json:"description" bson:"description"`
	Location    *Location      `json:"location,omitempty" bson:"location,omitempty"`
	Area        string         `json:"area,omitempty" bson:"area,omitempty"`
	Category    Category       `json:"category" bson:"category"`
	Severity    Severity       `json:"severity" bson:"severity"`
	Source      SourceTag      `json:"source" bson:"source"`
	Sentiment   *Sentiment     `json:"sentiment,omitempty" bson:"sentiment,omitempty"`
	Keywords    []string       `json:"keywords,omitempty" bson:"keywords,omitempty"`
	Summary     string         `json:"summary" bson:"summary"`
	Confidence  float64        `json:"confidence" bson:"confidence"`
	Media       []MediaRef     `json:"media,omitempty" bson:"media,omitempty"`
	CreatedAt   time.Time      `json:"created_at" bson:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at" bson:"expires_at"`
	Metadata    map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// Stamp sets CreatedAt to now and ExpiresAt to now plus the category TTL.
func (e *CanonicalEvent) Stamp(now time.Time) {
	e.CreatedAt = now.UTC()
	e.ExpiresAt = e.CreatedAt.Add(TTL(e.Category))
}

// Expired reports whether the record is past its hot-tier lifetime at now.
func (e *CanonicalEvent) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// ContributingIDs returns the merged raw ids recorded in Metadata, if any.
func (e *CanonicalEvent) ContributingIDs() []string {
	if e.Metadata == nil {
		return nil
	}
	switch v := e.Metadata[MetaContributingIDs].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
