package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/local-pulse/backend/internal/models"
)

type fetchRecord struct {
	at     time.Time
	events int
}

type memLocations struct {
	mu      sync.Mutex
	locs    []models.SourceLocation
	fetches map[string][]fetchRecord
}

func newMemLocations(locs ...models.SourceLocation) *memLocations {
	return &memLocations{locs: locs, fetches: make(map[string][]fetchRecord)}
}

func (m *memLocations) ListActive(_ context.Context, tier models.PriorityTier) ([]models.SourceLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SourceLocation
	for _, l := range m.locs {
		if l.Active && l.Tier == tier {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memLocations) ListAllActive(_ context.Context) ([]models.SourceLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SourceLocation
	for _, l := range m.locs {
		if l.Active {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memLocations) RecordFetch(_ context.Context, id string, at time.Time, events int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[id] = append(m.fetches[id], fetchRecord{at: at, events: events})
	for i := range m.locs {
		if m.locs[i].ID == id {
			a := at
			m.locs[i].LastFetchedAt = &a
			m.locs[i].FetchCount++
			m.locs[i].EventCount += int64(events)
		}
	}
	return nil
}

func (m *memLocations) Register(_ context.Context, loc models.SourceLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locs = append(m.locs, loc)
	return nil
}

func (m *memLocations) count(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fetches[id])
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	opts    []FetchOptions
	byLoc   map[string][]models.RawCandidate
	fail    map[string]bool
	panicOn map[string]bool
	block   chan struct{}
}

func (f *fakeFetcher) Fetch(_ context.Context, loc models.SourceLocation, opts FetchOptions) ([]models.RawCandidate, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[loc.ID]++
	f.opts = append(f.opts, opts)
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.panicOn[loc.ID] {
		panic("feed parser exploded")
	}
	if f.fail[loc.ID] {
		return nil, errors.New("source unreachable")
	}
	return f.byLoc[loc.ID], nil
}

func (f *fakeFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type fakeIngester struct {
	mu      sync.Mutex
	batches int
}

func (f *fakeIngester) Ingest(ctx context.Context, candidates []models.RawCandidate, _ models.LocationContext) ([]models.CanonicalEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	out := make([]models.CanonicalEvent, len(candidates))
	return out, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []any
	topics   []string
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.messages = append(f.messages, payload)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func location(id string, tier models.PriorityTier) models.SourceLocation {
	return models.SourceLocation{ID: id, Area: id, City: "Bengaluru", Tier: tier, Active: true, Lat: 12.9, Lon: 77.6}
}

func newTestScheduler(locs *memLocations, f *fakeFetcher, ing *fakeIngester, pub *fakePublisher, c *clock) *Scheduler {
	return New(locs, f, ing, pub, Options{
		Tiers: map[models.PriorityTier]TierSchedule{
			models.TierHigh:   {Interval: time.Minute, Window: 10 * time.Minute},
			models.TierMedium: {Interval: time.Minute, Window: 30 * time.Minute},
		},
		Now: c.Now,
	})
}

func TestRunTierRecordsFailuresAndRespectsWindow(t *testing.T) {
	locs := newMemLocations(
		location("ok", models.TierHigh),
		location("down", models.TierHigh),
		location("boom", models.TierHigh),
		location("medium", models.TierMedium),
	)
	f := &fakeFetcher{
		byLoc:   map[string][]models.RawCandidate{"ok": {{ID: "1", Text: "slow traffic"}, {ID: "2", Text: "jam"}}},
		fail:    map[string]bool{"down": true},
		panicOn: map[string]bool{"boom": true},
	}
	ing := &fakeIngester{}
	c := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestScheduler(locs, f, ing, &fakePublisher{}, c)

	report := s.RunTier(context.Background(), models.TierHigh)
	require.Equal(t, 3, report.Active)
	require.Equal(t, 3, report.Eligible)
	require.Equal(t, 1, report.Succeeded)
	require.Equal(t, 2, report.Failed)
	require.Equal(t, 2, report.Events)

	// Every attempt is recorded, failed ones included.
	require.Equal(t, 1, locs.count("ok"))
	require.Equal(t, 1, locs.count("down"))
	require.Equal(t, 1, locs.count("boom"))
	require.Zero(t, locs.count("medium"))
	require.Equal(t, 1, ing.batches)

	// Inside the window nothing runs and nothing is written.
	c.Advance(9 * time.Minute)
	report = s.RunTier(context.Background(), models.TierHigh)
	require.Zero(t, report.Eligible)
	require.Equal(t, 1, locs.count("down"))
	require.Equal(t, 1, f.callCount("down"))

	c.Advance(2 * time.Minute)
	report = s.RunTier(context.Background(), models.TierHigh)
	require.Equal(t, 3, report.Eligible)
	require.Equal(t, 2, f.callCount("down"))
}

func TestOverlappingTicksFetchOnce(t *testing.T) {
	locs := newMemLocations(location("a", models.TierHigh), location("b", models.TierHigh))
	f := &fakeFetcher{block: make(chan struct{})}
	c := &clock{now: time.Now()}
	s := newTestScheduler(locs, f, &fakeIngester{}, &fakePublisher{}, c)

	var wg sync.WaitGroup
	var eligible atomic.Int32
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eligible.Add(int32(s.RunTier(context.Background(), models.TierHigh).Eligible))
		}()
	}

	require.Eventually(t, func() bool {
		return f.callCount("a") == 1 && f.callCount("b") == 1
	}, time.Second, 5*time.Millisecond)
	close(f.block)
	wg.Wait()

	require.EqualValues(t, 2, eligible.Load())
	require.Equal(t, 1, f.callCount("a"))
	require.Equal(t, 1, f.callCount("b"))
}

func TestRunTierFinishesStartedRunsAfterCancel(t *testing.T) {
	locs := newMemLocations(location("a", models.TierHigh))
	f := &fakeFetcher{
		byLoc: map[string][]models.RawCandidate{"a": {{ID: "1", Text: "jam at the flyover"}}},
		block: make(chan struct{}),
	}
	ing := &fakeIngester{}
	s := newTestScheduler(locs, f, ing, &fakePublisher{}, &clock{now: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan TickReport, 1)
	go func() { done <- s.RunTier(ctx, models.TierHigh) }()

	require.Eventually(t, func() bool { return f.callCount("a") == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	close(f.block)

	report := <-done
	require.Equal(t, 1, report.Succeeded)
	require.Equal(t, 1, report.Events)
	require.Equal(t, 1, ing.batches)
	require.Equal(t, 1, locs.count("a"))
}

func TestRunTierIgnoresUnschedulableTier(t *testing.T) {
	locs := newMemLocations(location("x", models.TierInactive))
	s := newTestScheduler(locs, &fakeFetcher{}, &fakeIngester{}, &fakePublisher{}, &clock{now: time.Now()})
	require.Zero(t, s.RunTier(context.Background(), models.TierInactive).Eligible)
}

func TestSweepAlertsCriticalOnce(t *testing.T) {
	locs := newMemLocations(location("north", models.TierHigh), location("south", models.TierMedium))
	f := &fakeFetcher{byLoc: map[string][]models.RawCandidate{
		"north": {
			{ID: "c1", Text: "Explosion reported at the chemical plant"},
			{ID: "h1", Text: "ambulance stuck near hospital"},
		},
		"south": {
			{ID: "c2", Title: "Building collapse", Text: "Old building collapsed", SeverityHint: "critical"},
		},
	}}
	pub := &fakePublisher{}
	c := &clock{now: time.Now()}
	s := newTestScheduler(locs, f, &fakeIngester{}, pub, c)

	report := s.Sweep(context.Background())
	require.Equal(t, 2, report.Locations)
	require.Equal(t, 2, report.Alerts)
	require.Equal(t, []string{"alerts", "alerts"}, pub.topics)

	for _, opt := range f.opts {
		require.Equal(t, []models.Category{models.CategoryEmergency}, opt.Categories)
	}

	// Second sweep sees the same candidates and stays quiet.
	report = s.Sweep(context.Background())
	require.Zero(t, report.Alerts)
	require.Len(t, pub.messages, 2)

	// The sweep leaves tier bookkeeping alone.
	require.Zero(t, locs.count("north"))

	alert := pub.messages[0].(Alert)
	require.Equal(t, models.SeverityCritical, alert.Severity)
	require.NotEmpty(t, alert.Title)
}

func TestRunStopsOnCancel(t *testing.T) {
	locs := newMemLocations(location("a", models.TierHigh))
	s := newTestScheduler(locs, &fakeFetcher{}, &fakeIngester{}, &fakePublisher{}, &clock{now: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return locs.count("a") == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
