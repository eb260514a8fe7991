package enrich_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/local-pulse/backend/internal/enrich"
	"github.com/DeafMist/local-pulse/backend/internal/models"
)

type stubCollaborator struct {
	calls      atomic.Int32
	delay      time.Duration
	err        error
	synthesize enrich.SynthesizeResponse
	categorize enrich.CategorizeResponse
	sentiment  enrich.SentimentResponse
	severity   enrich.SeverityResponse
}

func (s *stubCollaborator) wait() error {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.err
}

func (s *stubCollaborator) Synthesize(context.Context, enrich.SynthesizeRequest) (enrich.SynthesizeResponse, error) {
	return s.synthesize, s.wait()
}

func (s *stubCollaborator) Categorize(context.Context, enrich.CategorizeRequest) (enrich.CategorizeResponse, error) {
	return s.categorize, s.wait()
}

func (s *stubCollaborator) Sentiment(context.Context, enrich.SentimentRequest) (enrich.SentimentResponse, error) {
	return s.sentiment, s.wait()
}

func (s *stubCollaborator) Severity(context.Context, enrich.SeverityRequest) (enrich.SeverityResponse, error) {
	return s.severity, s.wait()
}

func members(n int) []models.CanonicalEvent {
	out := make([]models.CanonicalEvent, n)
	for i := range out {
		out[i] = models.CanonicalEvent{Title: fmt.Sprintf("jam %d", i+1)}
	}
	return out
}

func TestSynthesizeUsesCollaborator(t *testing.T) {
	stub := &stubCollaborator{synthesize: enrich.SynthesizeResponse{Summary: " Heavy traffic on 80ft road "}}
	g := enrich.NewGateway(stub, enrich.Options{})

	got := g.Synthesize(context.Background(), members(3), "Koramangala")
	require.False(t, got.Fallback)
	require.Equal(t, "Heavy traffic on 80ft road", got.Summary)
	require.EqualValues(t, 1, stub.calls.Load())
}

func TestSynthesizeTimeoutFallsBack(t *testing.T) {
	stub := &stubCollaborator{
		delay:      200 * time.Millisecond,
		synthesize: enrich.SynthesizeResponse{Summary: "too late"},
	}
	g := enrich.NewGateway(stub, enrich.Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	got := g.Synthesize(context.Background(), members(7), "Koramangala")
	require.Less(t, time.Since(start), 150*time.Millisecond)
	require.True(t, got.Fallback)
	require.Equal(t, "7 reports near Koramangala: jam 1; jam 2; jam 3; jam 4; jam 5 (+2 more)", got.Summary)
}

func TestSynthesizeEmptyResponseFallsBack(t *testing.T) {
	g := enrich.NewGateway(&stubCollaborator{}, enrich.Options{})
	got := g.Synthesize(context.Background(), members(2), "")
	require.True(t, got.Fallback)
	require.Equal(t, "2 reports near this area: jam 1; jam 2", got.Summary)
}

func TestNilCollaboratorAlwaysFallsBack(t *testing.T) {
	g := enrich.NewGateway(nil, enrich.Options{})

	cat := g.Categorize(context.Background(), "Fatal crash near the flyover. Avoid the road.", models.SourceUser)
	require.True(t, cat.Fallback)
	require.Equal(t, models.SeverityCritical, cat.Severity)
	require.Equal(t, models.CategoryTraffic, cat.Category)
	require.Equal(t, "Fatal crash near the flyover", cat.Title)
	require.Equal(t, enrich.ConfidenceFallback, cat.Confidence)

	sev := g.PredictSeverity(context.Background(), "minor pothole near the signal", models.CategoryCivicIssue, "HSR")
	require.True(t, sev.Fallback)
	require.Equal(t, models.SeverityModerate, sev.Severity)

	mood := g.AnalyzeSentiment(context.Background(), "lovely festival")
	require.True(t, mood.Fallback)
	require.Equal(t, "neutral", mood.Type)
}

func TestCategorizeNormalizesPartialAnswer(t *testing.T) {
	stub := &stubCollaborator{categorize: enrich.CategorizeResponse{
		Category:   "traffic",
		Severity:   "catastrophic",
		Title:      "Jam on ORR",
		Confidence: 0.95,
	}}
	g := enrich.NewGateway(stub, enrich.Options{})

	got := g.Categorize(context.Background(), "accident on the outer ring road", models.SourceExternal)
	require.False(t, got.Fallback)
	require.True(t, got.Partial)
	require.Equal(t, models.CategoryTraffic, got.Category)
	require.Equal(t, models.SeverityHigh, got.Severity)
	require.Equal(t, "Jam on ORR", got.Title)
	require.LessOrEqual(t, got.Confidence, enrich.ConfidencePartial)
	require.NotEmpty(t, got.Keywords)
}

func TestCategorizeDefaultsConfidence(t *testing.T) {
	stub := &stubCollaborator{categorize: enrich.CategorizeResponse{
		Category: "WEATHER",
		Severity: "LOW",
		Summary:  "Light drizzle",
	}}
	g := enrich.NewGateway(stub, enrich.Options{})

	got := g.Categorize(context.Background(), "light drizzle in the evening", models.SourceExternal)
	require.False(t, got.Partial)
	require.Equal(t, enrich.ConfidenceAI, got.Confidence)
	require.Equal(t, "Light drizzle", got.Summary)
}

func TestSentimentClampsScores(t *testing.T) {
	stub := &stubCollaborator{sentiment: enrich.SentimentResponse{Type: "Negative", Score: -3, Confidence: 2}}
	g := enrich.NewGateway(stub, enrich.Options{})

	got := g.AnalyzeSentiment(context.Background(), "terrible")
	require.False(t, got.Fallback)
	require.Equal(t, "negative", got.Type)
	require.Equal(t, -1.0, got.Score)
	require.Equal(t, 1.0, got.Confidence)
}

func TestPredictSeverityRejectsUnknownLabel(t *testing.T) {
	stub := &stubCollaborator{severity: enrich.SeverityResponse{Severity: "meh"}}
	g := enrich.NewGateway(stub, enrich.Options{})

	got := g.PredictSeverity(context.Background(), "ambulance called after accident", models.CategoryTraffic, "")
	require.True(t, got.Fallback)
	require.Equal(t, models.SeverityHigh, got.Severity)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubCollaborator{err: errors.New("boom")}
	g := enrich.NewGateway(stub, enrich.Options{BreakerFailures: 2, BreakerCooldown: time.Minute})

	for i := 0; i < 5; i++ {
		got := g.PredictSeverity(context.Background(), "slow traffic", models.CategoryTraffic, "")
		require.True(t, got.Fallback)
	}
	require.EqualValues(t, 2, stub.calls.Load())
}

func TestFallbackSummaryUsesDescriptionWhenUntitled(t *testing.T) {
	got := enrich.FallbackSummary([]models.CanonicalEvent{
		{Description: "Streetlight out on 5th cross. Dark all night."},
	}, "Indiranagar")
	require.Equal(t, "1 reports near Indiranagar: Streetlight out on 5th cross", got)
	require.False(t, strings.Contains(got, "more"))
}
