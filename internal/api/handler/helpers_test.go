package handler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opentaqwa/opentaqwa/internal/engine"
	"github.com/opentaqwa/opentaqwa/internal/location"
	"github.com/opentaqwa/opentaqwa/internal/prayer"
)

var afternoon = time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

func clockAt(t time.Time) func() time.Time { return func() time.Time { return t } }

func londonTimings() prayer.RawTiming {
	return prayer.RawTiming{
		prayer.Fajr:    "05:10",
		prayer.Dhuhr:   "12:30",
		prayer.Asr:     "15:30",
		prayer.Maghrib: "18:00",
		prayer.Isha:    "19:30",
	}
}

func readySnapshot(t *testing.T, now time.Time) engine.Snapshot {
	t.Helper()

	events, err := prayer.Normalize(londonTimings())
	require.NoError(t, err)
	next, err := prayer.SelectNext(events, now)
	require.NoError(t, err)

	remaining := prayer.Remaining(next, now)
	return engine.Snapshot{
		Status:     engine.StatusReady,
		Place:      location.FallbackPlace,
		Coordinate: location.FallbackCoordinate,
		Date:       now.Format(time.DateOnly),
		Events:     events,
		Next:       &next,
		Remaining:  remaining,
		Countdown:  prayer.FormatCountdown(remaining),
		Generation: 1,
		UpdatedAt:  now,
	}
}

// fakeEngine serves a settable snapshot and fans it out to subscribers.
type fakeEngine struct {
	mu        sync.Mutex
	snap      engine.Snapshot
	refreshes int
	subs      []chan engine.Snapshot
}

func (e *fakeEngine) Snapshot() engine.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

func (e *fakeEngine) RefreshAsync(context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshes++
}

func (e *fakeEngine) Refreshes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshes
}

func (e *fakeEngine) Subscribe() (<-chan engine.Snapshot, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan engine.Snapshot, 8)
	ch <- e.snap
	e.subs = append(e.subs, ch)
	return ch, func() {}
}

func (e *fakeEngine) Publish(snap engine.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap = snap
	for _, ch := range e.subs {
		ch <- snap
	}
}

func (e *fakeEngine) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

type fakeFetcher struct {
	mu    sync.Mutex
	raw   prayer.RawTiming
	err   error
	calls []time.Time
	coord location.Coordinate
	zone  *time.Location
}

func (f *fakeFetcher) FetchDay(_ context.Context, coord location.Coordinate, date time.Time) (prayer.Day, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, date)
	f.coord = coord
	return prayer.Day{Timings: f.raw, Zone: f.zone}, f.err
}
