// Package enrich wraps the external AI collaborator. Every call is bounded by
// a timeout and degrades to a deterministic fallback; callers never see an
// enrichment error.
package enrich

import (
	"context"

	"github.com/DeafMist/local-pulse/backend/internal/models"
)

// Kind names a request variant.
type Kind int

const (
	KindSynthesize Kind = iota
	KindCategorize
	KindSentiment
	KindSeverity
)

func (k Kind) String() string {
	switch k {
	case KindSynthesize:
		return "synthesize"
	case KindCategorize:
		return "categorize"
	case KindSentiment:
		return "sentiment"
	case KindSeverity:
		return "severity"
	default:
		return "unknown"
	}
}

// Request is the closed set of collaborator requests.
type Request interface {
	Kind() Kind
}

// SynthesizeRequest asks for one merged summary of several records.
type SynthesizeRequest struct {
	Members []models.CanonicalEvent `json:"members"`
	Context string                  `json:"context"`
}

// CategorizeRequest asks for category, severity and display fields.
type CategorizeRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// SentimentRequest asks for the mood of a text.
type SentimentRequest struct {
	Text string `json:"text"`
}

// SeverityRequest asks for a severity prediction.
type SeverityRequest struct {
	Text     string `json:"text"`
	Category string `json:"category"`
	Location string `json:"location"`
}

func (SynthesizeRequest) Kind() Kind { return KindSynthesize }
func (CategorizeRequest) Kind() Kind { return KindCategorize }
func (SentimentRequest) Kind() Kind  { return KindSentiment }
func (SeverityRequest) Kind() Kind   { return KindSeverity }

// SynthesizeResponse is the collaborator's merged summary.
type SynthesizeResponse struct {
	Summary string `json:"summary"`
}

// CategorizeResponse carries raw, unvalidated categorization fields.
type CategorizeResponse struct {
	Category   string   `json:"category"`
	Severity   string   `json:"severity"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Keywords   []string `json:"keywords"`
	Confidence float64  `json:"confidence"`
}

// SentimentResponse carries raw sentiment fields.
type SentimentResponse struct {
	Type       string  `json:"type"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// SeverityResponse carries a raw severity label.
type SeverityResponse struct {
	Severity string `json:"severity"`
}

// Collaborator is the external AI service. Implementations may be slow or
// fail; the Gateway tolerates both.
type Collaborator interface {
	Synthesize(ctx context.Context, req SynthesizeRequest) (SynthesizeResponse, error)
	Categorize(ctx context.Context, req CategorizeRequest) (CategorizeResponse, error)
	Sentiment(ctx context.Context, req SentimentRequest) (SentimentResponse, error)
	Severity(ctx context.Context, req SeverityRequest) (SeverityResponse, error)
}
