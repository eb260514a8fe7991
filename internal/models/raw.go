package models

import (
	"strings"
	"time"
)

// SourceTag records where a candidate came from.
type SourceTag string

const (
	SourceUser     SourceTag = "user"
	SourceExternal SourceTag = "external"
)

// RawCandidate is unstructured pipeline input. It is consumed once by the
// deduplicator and never persisted directly.
type RawCandidate struct {
	ID           string     `json:"id"`
	Title        string     `json:"title,omitempty"`
	Text         string     `json:"text"`
	Location     *Location  `json:"location,omitempty"`
	Area         string     `json:"area,omitempty"`
	Media        []MediaRef `json:"media,omitempty"`
	CategoryHint string     `json:"category,omitempty"`
	SeverityHint string     `json:"severity,omitempty"`
	Source       SourceTag  `json:"source"`
	ObservedAt   time.Time  `json:"observed_at,omitempty"`
}

// AreaName prefers the explicit area, then the location's area.
func (c RawCandidate) AreaName() string {
	if a := strings.TrimSpace(c.Area); a != "" {
		return a
	}
	if c.Location != nil {
		return strings.TrimSpace(c.Location.Area)
	}
	return ""
}

// Body is the text used for classification: title and text joined.
func (c RawCandidate) Body() string {
	title := strings.TrimSpace(c.Title)
	text := strings.TrimSpace(c.Text)
	switch {
	case title == "":
		return text
	case text == "":
		return title
	default:
		return title + ". " + text
	}
}

// LocationContext describes the polling target or submission context a batch
// belongs to. Candidates without their own area inherit Area.
type LocationContext struct {
	LocationID string    `json:"location_id,omitempty"`
	Area       string    `json:"area,omitempty"`
	City       string    `json:"city,omitempty"`
	Location   *Location `json:"location,omitempty"`
}

// String renders the context for enrichment prompts.
func (l LocationContext) String() string {
	parts := make([]string, 0, 2)
	if l.Area != "" {
		parts = append(parts, l.Area)
	}
	if l.City != "" {
		parts = append(parts, l.City)
	}
	return strings.Join(parts, ", ")
}
