package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/DeafMist/local-pulse/backend/internal/classify"
	"github.com/DeafMist/local-pulse/backend/internal/metrics"
	"github.com/DeafMist/local-pulse/backend/internal/models"
	"github.com/DeafMist/local-pulse/backend/internal/processing"
)

const (
	// ConfidenceAI is assigned when the collaborator omits a confidence.
	ConfidenceAI = 0.8
	// ConfidencePartial caps results where some fields were repaired locally.
	ConfidencePartial = 0.5
	// ConfidenceFallback marks results produced without the collaborator.
	ConfidenceFallback = 0.3

	DefaultTimeout = 5 * time.Second

	titleMaxChars   = 80
	summaryMaxChars = 280
	summaryTitles   = 5
	keywordLimit    = 8
)

var (
	ErrUnavailable     = errors.New("enrichment collaborator not configured")
	ErrEmptyResponse   = errors.New("enrichment returned an empty response")
	ErrInvalidResponse = errors.New("enrichment returned an invalid response")
)

// Options tune a Gateway. Zero values pick the defaults.
type Options struct {
	Timeout         time.Duration
	Limiter         *rate.Limiter
	BreakerFailures uint32
	BreakerCooldown time.Duration
	Logger          *slog.Logger
}

// Gateway is the only entry point for enrichment. Each call is rate limited,
// guarded by a circuit breaker and cut off at Timeout. Any failure produces a
// deterministic fallback instead of an error.
type Gateway struct {
	collab  Collaborator
	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewGateway wraps collab. A nil collab makes every call fall back.
func NewGateway(collab Collaborator, opts Options) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	failures := opts.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "enrichment",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &Gateway{
		collab:  collab,
		timeout: opts.Timeout,
		limiter: opts.Limiter,
		breaker: breaker,
		logger:  logger,
	}
}

// call runs fn under the gateway's limiter, breaker and timeout. fn runs in
// its own goroutine so a collaborator that ignores ctx is still cut off.
func call[T any](ctx context.Context, g *Gateway, fn func(context.Context) (T, error)) Result[T] {
	if g.collab == nil {
		return Fail[T](ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Fail[T](fmt.Errorf("rate limit: %w", err))
		}
	}

	v, err := g.breaker.Execute(func() (any, error) {
		done := make(chan Result[T], 1)
		go func() {
			value, err := fn(ctx)
			done <- Result[T]{Value: value, Err: err}
		}()
		select {
		case r := <-done:
			return r.Value, r.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err != nil {
		return Fail[T](err)
	}
	return Ok(v.(T))
}

func (g *Gateway) observe(kind Kind, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "fallback"
		g.logger.Warn("enrichment fallback", slog.String("operation", kind.String()), slog.Any("err", err))
	}
	metrics.EnrichmentCalls.WithLabelValues(kind.String(), outcome).Inc()
	metrics.EnrichmentDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
}

// Synthesis is a merged summary for a group of records.
type Synthesis struct {
	Summary  string
	Fallback bool
}

// Synthesize merges members into one human-readable summary. area names the
// place the members were reported in.
func (g *Gateway) Synthesize(ctx context.Context, members []models.CanonicalEvent, area string) Synthesis {
	start := time.Now()
	req := SynthesizeRequest{Members: members, Context: area}

	res := Then(call(ctx, g, func(ctx context.Context) (SynthesizeResponse, error) {
		return g.collab.Synthesize(ctx, req)
	}), func(r SynthesizeResponse) (Synthesis, error) {
		summary := strings.TrimSpace(r.Summary)
		if summary == "" {
			return Synthesis{}, ErrEmptyResponse
		}
		return Synthesis{Summary: summary}, nil
	})
	g.observe(KindSynthesize, start, res.Err)

	return res.OrElse(func() Synthesis {
		return Synthesis{Summary: FallbackSummary(members, area), Fallback: true}
	})
}

// FallbackSummary lists up to five member titles with the area and the
// number of members left out.
func FallbackSummary(members []models.CanonicalEvent, area string) string {
	if area = strings.TrimSpace(area); area == "" {
		area = "this area"
	}

	titles := make([]string, 0, summaryTitles)
	for _, m := range members {
		if len(titles) == summaryTitles {
			break
		}
		t := strings.TrimSpace(m.Title)
		if t == "" {
			t = processing.TitleFromText(m.Description, titleMaxChars)
		}
		if t != "" {
			titles = append(titles, t)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d reports near %s", len(members), area)
	if len(titles) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(titles, "; "))
	}
	if extra := len(members) - summaryTitles; extra > 0 {
		fmt.Fprintf(&b, " (+%d more)", extra)
	}
	return b.String()
}

// Categorization is the normalized outcome of Categorize.
type Categorization struct {
	Category   models.Category
	Severity   models.Severity
	Title      string
	Summary    string
	Keywords   []string
	Confidence float64
	// Partial is set when some fields of the collaborator's answer were
	// replaced by local values.
	Partial  bool
	Fallback bool
}

// Categorize derives category, severity and display fields for text.
func (g *Gateway) Categorize(ctx context.Context, text string, source models.SourceTag) Categorization {
	start := time.Now()
	req := CategorizeRequest{Text: text, Source: string(source)}

	res := Then(call(ctx, g, func(ctx context.Context) (CategorizeResponse, error) {
		return g.collab.Categorize(ctx, req)
	}), func(r CategorizeResponse) (Categorization, error) {
		return normalizeCategorization(text, r)
	})
	g.observe(KindCategorize, start, res.Err)

	return res.OrElse(func() Categorization {
		return fallbackCategorization(text)
	})
}

func normalizeCategorization(text string, r CategorizeResponse) (Categorization, error) {
	category, okCategory := models.ParseCategory(r.Category)
	severity, okSeverity := models.ParseSeverity(r.Severity)
	if !okCategory && !okSeverity && strings.TrimSpace(r.Title) == "" && strings.TrimSpace(r.Summary) == "" {
		return Categorization{}, ErrEmptyResponse
	}

	out := Categorization{
		Category:   category,
		Severity:   severity,
		Title:      strings.TrimSpace(r.Title),
		Summary:    strings.TrimSpace(r.Summary),
		Keywords:   r.Keywords,
		Confidence: r.Confidence,
	}
	if !okCategory {
		out.Category = classify.Category(text)
		out.Partial = true
	}
	if !okSeverity {
		out.Severity = classify.Severity(text)
		out.Partial = true
	}
	if out.Title == "" {
		out.Title = processing.TitleFromText(text, titleMaxChars)
	}
	if out.Summary == "" {
		out.Summary = processing.Clip(text, summaryMaxChars)
	}
	if len(out.Keywords) == 0 {
		out.Keywords = processing.ExtractKeywords(text, keywordLimit, 3)
	}

	if out.Confidence <= 0 || out.Confidence > 1 || math.IsNaN(out.Confidence) {
		out.Confidence = ConfidenceAI
	}
	if out.Partial && out.Confidence > ConfidencePartial {
		out.Confidence = ConfidencePartial
	}
	return out, nil
}

func fallbackCategorization(text string) Categorization {
	return Categorization{
		Category:   classify.Category(text),
		Severity:   classify.Severity(text),
		Title:      processing.TitleFromText(text, titleMaxChars),
		Summary:    processing.Clip(text, summaryMaxChars),
		Keywords:   processing.ExtractKeywords(text, keywordLimit, 3),
		Confidence: ConfidenceFallback,
		Fallback:   true,
	}
}

// SentimentResult is the normalized outcome of AnalyzeSentiment.
type SentimentResult struct {
	models.Sentiment
	Fallback bool
}

// AnalyzeSentiment returns the mood of text; neutral when unavailable.
func (g *Gateway) AnalyzeSentiment(ctx context.Context, text string) SentimentResult {
	start := time.Now()
	req := SentimentRequest{Text: text}

	res := Then(call(ctx, g, func(ctx context.Context) (SentimentResponse, error) {
		return g.collab.Sentiment(ctx, req)
	}), func(r SentimentResponse) (SentimentResult, error) {
		kind := strings.ToLower(strings.TrimSpace(r.Type))
		switch kind {
		case "positive", "negative", "neutral":
		default:
			return SentimentResult{}, fmt.Errorf("%w: sentiment type %q", ErrInvalidResponse, r.Type)
		}
		return SentimentResult{Sentiment: models.Sentiment{
			Type:       kind,
			Score:      clamp(r.Score, -1, 1),
			Confidence: clamp(r.Confidence, 0, 1),
		}}, nil
	})
	g.observe(KindSentiment, start, res.Err)

	return res.OrElse(func() SentimentResult {
		return SentimentResult{
			Sentiment: models.Sentiment{Type: "neutral", Confidence: ConfidenceFallback},
			Fallback:  true,
		}
	})
}

// SeverityPrediction is the outcome of PredictSeverity.
type SeverityPrediction struct {
	Severity models.Severity
	Fallback bool
}

// PredictSeverity asks the collaborator for a severity and falls back to the
// keyword ladder.
func (g *Gateway) PredictSeverity(ctx context.Context, text string, category models.Category, locationHint string) SeverityPrediction {
	start := time.Now()
	req := SeverityRequest{Text: text, Category: string(category), Location: locationHint}

	res := Then(call(ctx, g, func(ctx context.Context) (SeverityResponse, error) {
		return g.collab.Severity(ctx, req)
	}), func(r SeverityResponse) (SeverityPrediction, error) {
		s, ok := models.ParseSeverity(r.Severity)
		if !ok {
			return SeverityPrediction{}, fmt.Errorf("%w: severity %q", ErrInvalidResponse, r.Severity)
		}
		return SeverityPrediction{Severity: s}, nil
	})
	g.observe(KindSeverity, start, res.Err)

	return res.OrElse(func() SeverityPrediction {
		return SeverityPrediction{Severity: classify.Severity(text), Fallback: true}
	})
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
