package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/local-pulse/backend/internal/models"
	"github.com/DeafMist/local-pulse/backend/internal/store"
)

type stubSweeper struct {
	at  time.Time
	n   int64
	err error
}

func (s *stubSweeper) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.at = now
	return s.n, s.err
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRunOnceReportsDeleted(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	s := &stubSweeper{n: 7}

	got := runOnce(context.Background(), discard(), s, time.Second, func() time.Time { return now })
	require.EqualValues(t, 7, got)
	require.Equal(t, now, s.at)
}

func TestRunOnceSwallowsErrors(t *testing.T) {
	s := &stubSweeper{err: errors.New("mongo down")}
	require.Zero(t, runOnce(context.Background(), discard(), s, time.Second, time.Now))
}

func TestRunOnceSweepsBadgerHotTier(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	clock := now
	hot, err := store.OpenBadgerHot(store.BadgerOptions{InMemory: true, Now: func() time.Time { return clock }})
	require.NoError(t, err)
	defer hot.Close(context.Background())

	ctx := context.Background()
	for i, c := range []models.Category{models.CategoryTraffic, models.CategoryCivicIssue} {
		ev := models.CanonicalEvent{ID: string(rune('a' + i)), Area: "Jayanagar", Category: c, Severity: models.SeverityLow}
		ev.Stamp(now)
		require.NoError(t, hot.Put(ctx, ev, models.TTL(c)))
	}

	clock = now.Add(3 * time.Hour)
	got := runOnce(ctx, discard(), hot, time.Second, func() time.Time { return clock })
	require.EqualValues(t, 1, got)

	_, err = hot.GetByID(ctx, "b")
	require.NoError(t, err)
}
