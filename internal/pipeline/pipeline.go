// Package pipeline is the write and read entry point of the system: raw
// candidates in, deduplicated and enriched canonical events out.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DeafMist/local-pulse/backend/internal/dedupe"
	"github.com/DeafMist/local-pulse/backend/internal/enrich"
	"github.com/DeafMist/local-pulse/backend/internal/fanout"
	"github.com/DeafMist/local-pulse/backend/internal/metrics"
	"github.com/DeafMist/local-pulse/backend/internal/models"
	"github.com/DeafMist/local-pulse/backend/internal/processing"
	"github.com/DeafMist/local-pulse/backend/internal/store"
)

const (
	titleMaxChars   = 80
	summaryMaxChars = 280
	keywordLimit    = 8
	keywordMinLen   = 3

	metaEnrichment = "enrichment"
)

// Store is the part of the tiered store the pipeline uses.
type Store interface {
	Write(ctx context.Context, ev models.CanonicalEvent) error
	Query(ctx context.Context, sel store.Selector) ([]models.CanonicalEvent, error)
}

// Options tune a Pipeline.
type Options struct {
	// Sentiment adds a mood to every record and publishes it on the mood
	// topic. It costs one extra enrichment call per record.
	Sentiment bool
	Logger    *slog.Logger
	Now       func() time.Time
}

// Pipeline runs dedupe, enrichment, storage and fan-out for one batch.
type Pipeline struct {
	gateway   *enrich.Gateway
	store     Store
	publisher fanout.Publisher
	opts      Options
	logger    *slog.Logger
}

// New wires the stages. publisher may be nil when nobody listens.
func New(gateway *enrich.Gateway, st Store, publisher fanout.Publisher, opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{gateway: gateway, store: st, publisher: publisher, opts: opts, logger: logger}
}

// Ingest turns candidates into stored canonical events. Groups are enriched
// concurrently; records are then written one by one and HIGH or CRITICAL
// ones are published on the events topic right after their hot write. On a
// hot-tier failure the records stored so far are returned with the error.
func (p *Pipeline) Ingest(ctx context.Context, candidates []models.RawCandidate, lc models.LocationContext) ([]models.CanonicalEvent, error) {
	if len(candidates) == 0 {
		return []models.CanonicalEvent{}, nil
	}

	prepared := make([]models.RawCandidate, 0, len(candidates))
	for _, c := range candidates {
		c = p.prepare(c, lc)
		metrics.CandidatesIngested.WithLabelValues(string(c.Source)).Inc()
		prepared = append(prepared, c)
	}

	groups := dedupe.Partition(prepared)
	metrics.GroupsFormed.Observe(float64(len(groups)))

	events := make([]models.CanonicalEvent, len(groups))
	var wg sync.WaitGroup
	for i, g := range groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			events[i] = p.canonicalize(ctx, g, lc)
		}()
	}
	wg.Wait()

	stored := make([]models.CanonicalEvent, 0, len(events))
	for _, ev := range events {
		ev.Stamp(p.opts.Now())
		if err := p.store.Write(ctx, ev); err != nil {
			p.logger.Error("store event",
				slog.String("id", ev.ID),
				slog.String("location", lc.LocationID),
				slog.Any("err", err),
			)
			return stored, fmt.Errorf("store event %s: %w", ev.ID, err)
		}
		stored = append(stored, ev)
		p.publish(ctx, ev)
	}

	p.logger.Info("batch ingested",
		slog.String("location", lc.LocationID),
		slog.Int("candidates", len(candidates)),
		slog.Int("groups", len(groups)),
		slog.Int("stored", len(stored)),
	)
	return stored, nil
}

// Query serves a read through the tiered store.
func (p *Pipeline) Query(ctx context.Context, sel store.Selector) ([]models.CanonicalEvent, error) {
	return p.store.Query(ctx, sel)
}

func (p *Pipeline) publish(ctx context.Context, ev models.CanonicalEvent) {
	if p.publisher == nil {
		return
	}
	if ev.Severity.AtLeast(models.SeverityHigh) {
		if err := p.publisher.Publish(ctx, fanout.TopicEvents, ev); err != nil {
			p.logger.Warn("publish event", slog.String("id", ev.ID), slog.Any("err", err))
		}
	}
	if ev.Sentiment != nil {
		mood := map[string]any{"id": ev.ID, "area": ev.Area, "category": ev.Category, "sentiment": ev.Sentiment}
		if err := p.publisher.Publish(ctx, fanout.TopicMood, mood); err != nil {
			p.logger.Warn("publish mood", slog.String("id", ev.ID), slog.Any("err", err))
		}
	}
}

// prepare fills what the producer left out. A candidate without its own
// area or coordinates inherits them from the batch context.
func (p *Pipeline) prepare(c models.RawCandidate, lc models.LocationContext) models.RawCandidate {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Source == "" {
		c.Source = models.SourceExternal
	}
	if c.ObservedAt.IsZero() {
		c.ObservedAt = p.opts.Now().UTC()
	}
	if c.AreaName() == "" && lc.Area != "" {
		c.Area = lc.Area
	}
	if c.Location == nil && lc.Location != nil {
		loc := *lc.Location
		if c.Area != "" {
			loc.Area = c.AreaName()
		}
		c.Location = &loc
	}
	return c
}

func (p *Pipeline) canonicalize(ctx context.Context, g dedupe.Group, lc models.LocationContext) models.CanonicalEvent {
	var ev models.CanonicalEvent
	if len(g.Members) == 1 {
		ev = p.single(ctx, g.Members[0])
	} else {
		ev = p.merge(ctx, g, lc)
	}

	if p.opts.Sentiment {
		mood := p.gateway.AnalyzeSentiment(ctx, ev.Summary)
		s := mood.Sentiment
		ev.Sentiment = &s
	}
	return ev
}

// base copies the fields every record takes from its first located member.
func base(g []dedupe.Member) models.CanonicalEvent {
	first := g[0].Candidate
	ev := models.CanonicalEvent{
		ID:       uuid.NewString(),
		Area:     first.AreaName(),
		Source:   first.Source,
		Metadata: map[string]any{},
	}
	for _, m := range g {
		if ev.Location == nil && m.Candidate.Location != nil {
			loc := *m.Candidate.Location
			ev.Location = &loc
		}
		ev.Media = append(ev.Media, m.Candidate.Media...)
	}
	return ev
}

// single formats a lone candidate. The collaborator is asked only for what
// the producer did not say: a category, or the severity of a user report.
func (p *Pipeline) single(ctx context.Context, m dedupe.Member) models.CanonicalEvent {
	c := m.Candidate
	text := c.Body()

	ev := base([]dedupe.Member{m})
	ev.Category = m.Category
	ev.Severity = m.Severity
	ev.Title = strings.TrimSpace(c.Title)
	ev.Description = strings.TrimSpace(c.Text)
	ev.Keywords = processing.ExtractKeywords(text, keywordLimit, keywordMinLen)
	ev.Metadata[models.MetaContributingIDs] = []string{c.ID}
	ev.Confidence = enrich.ConfidenceAI

	_, hasCategory := models.ParseCategory(c.CategoryHint)
	_, hasSeverity := models.ParseSeverity(c.SeverityHint)

	switch {
	case !hasCategory:
		cat := p.gateway.Categorize(ctx, text, c.Source)
		ev.Category = cat.Category
		if !hasSeverity {
			ev.Severity = cat.Severity
		}
		if ev.Title == "" {
			ev.Title = cat.Title
		}
		ev.Summary = cat.Summary
		ev.Keywords = processing.MergeKeywords(keywordLimit, cat.Keywords, ev.Keywords)
		ev.Confidence = cat.Confidence
		ev.Metadata[metaEnrichment] = outcome(cat.Fallback)
	case !hasSeverity && c.Source == models.SourceUser:
		pred := p.gateway.PredictSeverity(ctx, text, ev.Category, c.AreaName())
		ev.Severity = pred.Severity
		if pred.Fallback {
			ev.Confidence = enrich.ConfidencePartial
		}
		ev.Metadata[metaEnrichment] = outcome(pred.Fallback)
	case !hasSeverity:
		ev.Confidence = enrich.ConfidencePartial
	}

	if ev.Title == "" {
		ev.Title = processing.TitleFromText(text, titleMaxChars)
	}
	if ev.Description == "" {
		ev.Description = ev.Title
	}
	if ev.Summary == "" {
		ev.Summary = processing.Clip(text, summaryMaxChars)
	}
	return ev
}

// merge synthesizes one record from a group with exactly one enrichment
// call.
func (p *Pipeline) merge(ctx context.Context, g dedupe.Group, lc models.LocationContext) models.CanonicalEvent {
	ev := base(g.Members)
	ev.Category = g.Category
	ev.Severity = g.MaxSeverity()
	ev.Metadata[models.MetaContributingIDs] = g.IDs()

	previews := make([]models.CanonicalEvent, 0, len(g.Members))
	keywordLists := make([][]string, 0, len(g.Members))
	for _, m := range g.Members {
		c := m.Candidate
		title := strings.TrimSpace(c.Title)
		if title == "" {
			title = processing.TitleFromText(c.Body(), titleMaxChars)
		}
		previews = append(previews, models.CanonicalEvent{
			ID:          c.ID,
			Title:       title,
			Description: c.Text,
			Area:        c.AreaName(),
			Location:    c.Location,
			Category:    m.Category,
			Severity:    m.Severity,
			Source:      c.Source,
		})
		keywordLists = append(keywordLists, processing.ExtractKeywords(c.Body(), keywordLimit, keywordMinLen))
		if m.Severity == ev.Severity && ev.Title == "" {
			ev.Title = title
		}
	}
	ev.Keywords = processing.MergeKeywords(keywordLimit, keywordLists...)

	area := ev.Area
	if area == "" {
		area = lc.String()
	}
	syn := p.gateway.Synthesize(ctx, previews, area)
	ev.Summary = syn.Summary
	ev.Description = syn.Summary
	ev.Metadata[metaEnrichment] = outcome(syn.Fallback)
	ev.Confidence = enrich.ConfidenceAI
	if syn.Fallback {
		ev.Confidence = enrich.ConfidenceFallback
	}
	return ev
}

func outcome(fallback bool) string {
	if fallback {
		return "fallback"
	}
	return "ai"
}
