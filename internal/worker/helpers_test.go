package worker_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opentaqwa/opentaqwa/internal/engine"
	"github.com/opentaqwa/opentaqwa/internal/location"
	"github.com/opentaqwa/opentaqwa/internal/prayer"
)

var sweepNow = time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return sweepNow }

func londonTimings() prayer.RawTiming {
	return prayer.RawTiming{
		prayer.Fajr:    "05:10",
		prayer.Dhuhr:   "12:30",
		prayer.Asr:     "15:30",
		prayer.Maghrib: "18:00",
		prayer.Isha:    "19:30",
	}
}

// siteFetcher fails for coordinates listed in failing.
type siteFetcher struct {
	mu      sync.Mutex
	calls   int
	failing map[location.Coordinate]bool
	zone    *time.Location
}

func (f *siteFetcher) FetchDay(_ context.Context, coord location.Coordinate, _ time.Time) (prayer.Day, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing[coord] {
		return prayer.Day{}, &prayer.FetchError{Provider: "fake", Err: errors.New("upstream down")}
	}
	return prayer.Day{Timings: londonTimings(), Zone: f.zone}, nil
}

type published struct {
	slug     string
	schedule engine.Schedule
}

type fakeSitePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakeSitePublisher) PublishSite(_ context.Context, slug string, schedule engine.Schedule) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{slug: slug, schedule: schedule})
	return nil
}

func (p *fakeSitePublisher) slugs() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	slugs := make(map[string]bool, len(p.sent))
	for _, s := range p.sent {
		slugs[s.slug] = true
	}
	return slugs
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
	snap  engine.Snapshot
}

func (r *fakeRefresher) Refresh(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func (r *fakeRefresher) Snapshot() engine.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}
