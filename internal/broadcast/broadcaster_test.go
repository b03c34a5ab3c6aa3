// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

package broadcast

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bastionmap/bastionmap/internal/cache"
	"github.com/bastionmap/bastionmap/internal/models"
)

// fakeStore implements the ranked snapshot in memory: at most perCityCap
// most-recent events per city, newest first, capped at limit, events without
// a city excluded.
type fakeStore struct {
	mu     sync.Mutex
	events []models.FailedLogin
	calls  int
}

func (f *fakeStore) add(events ...models.FailedLogin) {
	f.mu.Lock()
	f.events = append(f.events, events...)
	f.mu.Unlock()
}

func (f *fakeStore) RankedSnapshot(_ context.Context, limit, perCityCap int) ([]models.FailedLogin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	sorted := make([]models.FailedLogin, len(f.events))
	copy(sorted, f.events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	perCity := make(map[string]int)
	var out []models.FailedLogin
	for _, ev := range sorted {
		if ev.City == nil {
			continue
		}
		if perCity[*ev.City] >= perCityCap {
			continue
		}
		perCity[*ev.City]++
		out = append(out, ev)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) TotalCount(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.events)), nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeFeed struct {
	mu      sync.Mutex
	clients int
	batches [][]models.FailedLogin
	totals  []int64
}

func (f *fakeFeed) BroadcastLogs(events []models.FailedLogin) {
	f.mu.Lock()
	f.batches = append(f.batches, events)
	f.mu.Unlock()
}

func (f *fakeFeed) BroadcastStatsUpdate(totalCount int64) {
	f.mu.Lock()
	f.totals = append(f.totals, totalCount)
	f.mu.Unlock()
}

func (f *fakeFeed) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients
}

func (f *fakeFeed) setClients(n int) {
	f.mu.Lock()
	f.clients = n
	f.mu.Unlock()
}

func (f *fakeFeed) allBatches() [][]models.FailedLogin {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]models.FailedLogin, len(f.batches))
	copy(out, f.batches)
	return out
}

func (f *fakeFeed) allTotals() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.totals))
	copy(out, f.totals)
	return out
}

func event(city string, port int, ts time.Time) models.FailedLogin {
	ev := models.FailedLogin{
		Timestamp: ts,
		IPAddress: "203.0.113.10",
		Port:      port,
	}
	if city != "" {
		ev.City = &city
	}
	return ev
}

func baseTime() time.Time {
	return time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
}

func newTestBroadcaster(store *fakeStore, feed *fakeFeed, opts Options) *Broadcaster {
	if opts.Interval == 0 {
		opts.Interval = time.Hour
	}
	if opts.SnapshotTTL == 0 {
		opts.SnapshotTTL = time.Millisecond
	}
	return New(store, feed, cache.New(time.Minute), opts)
}

func TestSnapshotPerCityCap(t *testing.T) {
	t0 := baseTime()
	store := &fakeStore{}
	// Five events: three in city A, one in B, one in C. With a per-city cap
	// of 2, the third A event is excluded and 4 events survive.
	store.add(
		event("A", 1, t0.Add(5*time.Second)),
		event("A", 2, t0.Add(4*time.Second)),
		event("A", 3, t0.Add(3*time.Second)),
		event("B", 4, t0.Add(2*time.Second)),
		event("C", 5, t0.Add(1*time.Second)),
	)

	feed := &fakeFeed{}
	b := newTestBroadcaster(store, feed, Options{Limit: 100, PerCityCap: 2})

	events, err := b.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	cityCounts := make(map[string]int)
	for _, ev := range events {
		cityCounts[*ev.City]++
	}
	if cityCounts["A"] != 2 {
		t.Errorf("expected 2 events for city A, got %d", cityCounts["A"])
	}
	// Newest first: the two surviving A events lead.
	if events[0].Port != 1 || events[1].Port != 2 {
		t.Errorf("expected newest-first ordering, got ports %d, %d", events[0].Port, events[1].Port)
	}
}

func TestSnapshotExcludesUnresolvedCity(t *testing.T) {
	t0 := baseTime()
	store := &fakeStore{}
	store.add(
		event("A", 1, t0.Add(2*time.Second)),
		event("", 2, t0.Add(1*time.Second)), // no city, cannot be plotted
	)

	feed := &fakeFeed{}
	b := newTestBroadcaster(store, feed, Options{Limit: 100, PerCityCap: 2})

	events, err := b.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}
}

func TestSnapshotCachedWithinTTL(t *testing.T) {
	store := &fakeStore{}
	store.add(event("A", 1, baseTime()))

	feed := &fakeFeed{}
	b := newTestBroadcaster(store, feed, Options{Limit: 100, PerCityCap: 2, SnapshotTTL: time.Minute})

	for i := 0; i < 5; i++ {
		if _, err := b.Snapshot(context.Background()); err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
	}

	if store.callCount() != 1 {
		t.Errorf("expected 1 store query within TTL, got %d", store.callCount())
	}
}

func TestTickNoClientsQueriesNothing(t *testing.T) {
	store := &fakeStore{}
	store.add(event("A", 1, baseTime()))

	feed := &fakeFeed{} // zero clients
	b := newTestBroadcaster(store, feed, Options{Limit: 100, PerCityCap: 2})

	b.tick(context.Background())

	if store.callCount() != 0 {
		t.Errorf("expected no store queries without clients, got %d", store.callCount())
	}
	if !b.Watermark().IsZero() {
		t.Error("watermark must not advance without clients")
	}
}

func TestTickFirstListenerEstablishesWatermark(t *testing.T) {
	t0 := baseTime()
	store := &fakeStore{}
	store.add(event("A", 1, t0))

	feed := &fakeFeed{}
	feed.setClients(1)
	b := newTestBroadcaster(store, feed, Options{Limit: 100, PerCityCap: 2})

	b.tick(context.Background())

	// Connected clients already got the snapshot on connect; the first tick
	// only records where the feed should resume.
	if len(feed.allBatches()) != 0 {
		t.Errorf("expected no broadcast on first tick, got %d batches", len(feed.allBatches()))
	}
	if !b.Watermark().Equal(t0) {
		t.Errorf("expected watermark %v, got %v", t0, b.Watermark())
	}
}

func TestTickPushesOnlyDelta(t *testing.T) {
	t0 := baseTime()
	store := &fakeStore{}
	store.add(
		event("A", 1, t0.Add(1*time.Second)),
		event("B", 2, t0.Add(2*time.Second)),
	)

	feed := &fakeFeed{}
	feed.setClients(1)
	b := newTestBroadcaster(store, feed, Options{Limit: 100, PerCityCap: 2, SnapshotTTL: time.Nanosecond})

	b.tick(context.Background()) // establishes watermark at t0+2s

	store.add(
		event("C", 3, t0.Add(3*time.Second)),
		event("D", 4, t0.Add(4*time.Second)),
	)

	b.tick(context.Background())

	batches := feed.allBatches()
	if len(batches) != 1 {
		t.Fatalf("expected 1 broadcast batch, got %d", len(batches))
	}
	if len(batches[0]) != 2 {
		t.Fatalf("expected delta of 2 events, got %d", len(batches[0]))
	}
	for _, ev := range batches[0] {
		if !ev.Timestamp.After(t0.Add(2 * time.Second)) {
			t.Errorf("event at %v should not be in delta", ev.Timestamp)
		}
	}
	if !b.Watermark().Equal(t0.Add(4 * time.Second)) {
		t.Errorf("expected watermark advanced to newest, got %v", b.Watermark())
	}

	totals := feed.allTotals()
	if len(totals) != 1 || totals[0] != 4 {
		t.Errorf("expected one stats update with total 4, got %v", totals)
	}
}

func TestTickNoNewEventsNoBroadcast(t *testing.T) {
	t0 := baseTime()
	store := &fakeStore{}
	store.add(event("A", 1, t0))

	feed := &fakeFeed{}
	feed.setClients(1)
	b := newTestBroadcaster(store, feed, Options{Limit: 100, PerCityCap: 2, SnapshotTTL: time.Nanosecond})

	b.tick(context.Background()) // watermark
	b.tick(context.Background()) // nothing new
	b.tick(context.Background())

	if len(feed.allBatches()) != 0 {
		t.Errorf("expected no broadcasts without new events, got %d", len(feed.allBatches()))
	}
}

func TestTickResumesAfterClientsReturn(t *testing.T) {
	t0 := baseTime()
	store := &fakeStore{}
	store.add(event("A", 1, t0.Add(time.Second)))

	feed := &fakeFeed{}
	feed.setClients(1)
	b := newTestBroadcaster(store, feed, Options{Limit: 100, PerCityCap: 2, SnapshotTTL: time.Nanosecond})

	b.tick(context.Background()) // watermark at t0+1s

	// Everyone disconnects; events keep arriving.
	feed.setClients(0)
	store.add(event("B", 2, t0.Add(2*time.Second)))
	b.tick(context.Background())

	if len(feed.allBatches()) != 0 {
		t.Fatal("expected no broadcast without clients")
	}

	// A client returns: the missed event is pushed.
	feed.setClients(1)
	b.tick(context.Background())

	batches := feed.allBatches()
	if len(batches) != 1 || len(batches[0]) != 1 || batches[0][0].Port != 2 {
		t.Fatalf("expected the missed event to be pushed, got %v", batches)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	feed := &fakeFeed{}
	b := newTestBroadcaster(store, feed, Options{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not stop after cancellation")
	}
}
