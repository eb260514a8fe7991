package bootstrap_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/local-pulse/backend/internal/bootstrap"
	"github.com/DeafMist/local-pulse/backend/internal/config"
	"github.com/DeafMist/local-pulse/backend/internal/models"
	"github.com/DeafMist/local-pulse/backend/internal/store"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestGatewayWithoutURLFallsBack(t *testing.T) {
	g := bootstrap.Gateway(config.Enrichment{Timeout: time.Second, BreakerFailures: 3}, discard())

	got := g.Synthesize(context.Background(), []models.CanonicalEvent{{Title: "a"}, {Title: "b"}}, "Jayanagar")
	require.True(t, got.Fallback)
	require.Equal(t, "2 reports near Jayanagar: a; b", got.Summary)
}

func TestGatewayCallsCollaborator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/synthesize" || r.Header.Get("Authorization") != "Bearer k" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"summary":"two reports merged"}`)
	}))
	defer srv.Close()

	g := bootstrap.Gateway(config.Enrichment{
		URL:             srv.URL,
		APIKey:          "k",
		Timeout:         time.Second,
		RPS:             10,
		Burst:           1,
		BreakerFailures: 3,
	}, discard())

	got := g.Synthesize(context.Background(), []models.CanonicalEvent{{Title: "a"}, {Title: "b"}}, "Jayanagar")
	require.False(t, got.Fallback)
	require.Equal(t, "two reports merged", got.Summary)
}

func TestOpenStoresBadgerWithoutCold(t *testing.T) {
	es := httptest.NewServer(http.NotFoundHandler())
	es.Close()

	ctx := context.Background()
	s, err := bootstrap.OpenStores(ctx, config.Common{
		HotStore:           config.HotBadger,
		BadgerPath:         t.TempDir(),
		ElasticsearchAddr:  es.URL,
		ElasticsearchIndex: "events",
	}, config.Tiering{
		Freshness:    6 * time.Hour,
		MinResults:   3,
		OverFetch:    5,
		DefaultLimit: 20,
	}, discard())
	require.NoError(t, err)

	ev := models.CanonicalEvent{ID: "e1", Title: "Jam", Area: "Jayanagar", Category: models.CategoryTraffic, Severity: models.SeverityLow}
	ev.Stamp(time.Now())
	require.NoError(t, s.Tiered.Write(ctx, ev))

	got, err := s.Tiered.Query(ctx, store.AreaSelector{Area: "Jayanagar"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, s.Close(ctx))
}
