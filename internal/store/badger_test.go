package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/local-pulse/backend/internal/models"
	"github.com/DeafMist/local-pulse/backend/internal/store"
)

func openBadger(t *testing.T, clock *time.Time) *store.BadgerHot {
	t.Helper()
	hot, err := store.OpenBadgerHot(store.BadgerOptions{
		InMemory: true,
		Now:      func() time.Time { return *clock },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = hot.Close(context.Background()) })
	return hot
}

func put(t *testing.T, hot *store.BadgerHot, clock time.Time, ev models.CanonicalEvent) {
	t.Helper()
	ev.Stamp(clock)
	require.NoError(t, hot.Put(context.Background(), ev, ev.ExpiresAt.Sub(clock)))
}

func TestBadgerHotQueries(t *testing.T) {
	clock := time.Now()
	hot := openBadger(t, &clock)
	ctx := context.Background()

	put(t, hot, clock.Add(-3*time.Minute), models.CanonicalEvent{ID: "a", Area: "Koramangala", Category: models.CategoryTraffic, Severity: models.SeverityModerate})
	put(t, hot, clock.Add(-2*time.Minute), models.CanonicalEvent{ID: "b", Area: "koramangala", Category: models.CategoryTraffic, Severity: models.SeverityHigh})
	put(t, hot, clock.Add(-1*time.Minute), models.CanonicalEvent{ID: "c", Area: "HSR Layout", Category: models.CategoryCivicIssue, Severity: models.SeverityModerate})

	byArea, err := hot.QueryByArea(ctx, "KORAMANGALA", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, ids(byArea))

	bySev, err := hot.QueryByCategorySeverity(ctx, models.CategoryTraffic, models.SeverityHigh, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ids(bySev))

	byCat, err := hot.QueryByCategorySeverity(ctx, models.CategoryTraffic, "", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, ids(byCat))

	recent, err := hot.QueryRecent(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, ids(recent))

	got, err := hot.GetByID(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, "HSR Layout", got.Area)

	_, err = hot.GetByID(ctx, "zzz")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, hot.Ping(ctx))
}

func TestBadgerHotHidesExpired(t *testing.T) {
	clock := time.Now()
	hot := openBadger(t, &clock)
	ctx := context.Background()

	put(t, hot, clock, models.CanonicalEvent{ID: "jam", Area: "Indiranagar", Category: models.CategoryTraffic})
	put(t, hot, clock, models.CanonicalEvent{ID: "leak", Area: "Indiranagar", Category: models.CategoryCivicIssue})

	clock = clock.Add(2 * time.Hour)

	_, err := hot.GetByID(ctx, "jam")
	require.ErrorIs(t, err, store.ErrNotFound)

	live, err := hot.QueryByArea(ctx, "Indiranagar", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"leak"}, ids(live))

	deleted, err := hot.DeleteExpired(ctx, clock)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
}

func TestBadgerHotRePutReturnsOnce(t *testing.T) {
	clock := time.Now()
	hot := openBadger(t, &clock)

	ev := models.CanonicalEvent{ID: "x", Area: "BTM", Category: models.CategoryWeather}
	put(t, hot, clock.Add(-time.Minute), ev)
	put(t, hot, clock, ev)

	got, err := hot.QueryRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, ids(got))
}

func ids(events []models.CanonicalEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}
