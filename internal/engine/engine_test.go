package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentaqwa/opentaqwa/internal/engine"
	"github.com/opentaqwa/opentaqwa/internal/location"
	"github.com/opentaqwa/opentaqwa/internal/prayer"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	dates []string
	zone  *time.Location
	fn    func(call int, ctx context.Context) (prayer.RawTiming, error)
}

func (f *fakeFetcher) FetchDay(ctx context.Context, _ location.Coordinate, date time.Time) (prayer.Day, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.dates = append(f.dates, date.Format(time.DateOnly))
	f.mu.Unlock()
	raw, err := f.fn(call, ctx)
	return prayer.Day{Timings: raw, Zone: f.zone}, err
}

func (f *fakeFetcher) Dates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dates...)
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func returns(raw prayer.RawTiming, err error) func(int, context.Context) (prayer.RawTiming, error) {
	return func(int, context.Context) (prayer.RawTiming, error) {
		return raw, err
	}
}

func londonTimings() prayer.RawTiming {
	return prayer.RawTiming{
		prayer.Fajr:    "05:10",
		prayer.Dhuhr:   "12:30",
		prayer.Asr:     "15:30",
		prayer.Maghrib: "18:00",
		prayer.Isha:    "19:30",
	}
}

type stubGeocoder struct {
	place location.PlaceName
	calls int
}

func (g *stubGeocoder) ReverseGeocode(context.Context, location.Coordinate) (location.PlaceName, error) {
	g.calls++
	return g.place, nil
}

// deniedResolver resolves through a sensor that never grants permission.
func deniedResolver() *location.Resolver {
	return location.NewResolver(location.ResolverConfig{
		Sensor: location.NewStaticSensor(nil),
		Logger: zerolog.Nop(),
	})
}

func newEngine(clock *fakeClock, fetcher *fakeFetcher) *engine.Engine {
	return engine.New(engine.Config{
		Resolver: deniedResolver(),
		Fetcher:  fetcher,
		Logger:   zerolog.Nop(),
		Clock:    clock.Now,
		Location: time.UTC,
	})
}

func afternoon() time.Time {
	return time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
}

func TestEngine_InitialState(t *testing.T) {
	e := newEngine(&fakeClock{now: afternoon()}, &fakeFetcher{fn: returns(londonTimings(), nil)})

	snap := e.Snapshot()
	assert.Equal(t, engine.StatusIdle, snap.Status)
	assert.False(t, snap.HasSchedule())
	assert.Nil(t, snap.Next)
	assert.Empty(t, snap.Countdown)
	assert.Empty(t, snap.Date)
}

func TestEngine_RefreshWithLocationFallback(t *testing.T) {
	clock := &fakeClock{now: afternoon()}
	e := newEngine(clock, &fakeFetcher{fn: returns(londonTimings(), nil)})

	require.NoError(t, e.Refresh(context.Background()))

	snap := e.Snapshot()
	assert.Equal(t, engine.StatusReady, snap.Status)
	assert.Equal(t, "London", snap.Place.City)
	assert.Equal(t, "UK (Default)", snap.Place.Country)
	assert.Equal(t, location.FallbackCoordinate, snap.Coordinate)
	assert.Equal(t, "2024-03-10", snap.Date)
	require.Len(t, snap.Events, 5)
	require.NotNil(t, snap.Next)
	assert.Equal(t, prayer.Asr, snap.Next.ID)
	assert.Equal(t, "3:30 PM", snap.Next.DisplayTime)
	assert.Equal(t, "01:30:00", snap.Countdown)
	assert.Equal(t, 90*time.Minute, snap.Remaining)
	assert.Empty(t, snap.Error)
	assert.Equal(t, uint64(1), snap.Generation)
	assert.True(t, snap.HasSchedule())
}

func TestEngine_FetchFailureKeepsStaleSchedule(t *testing.T) {
	clock := &fakeClock{now: afternoon()}
	fetcher := &fakeFetcher{fn: func(call int, _ context.Context) (prayer.RawTiming, error) {
		if call == 1 {
			return londonTimings(), nil
		}
		return nil, &prayer.FetchError{Provider: "fake", Err: errors.New("offline")}
	}}
	e := newEngine(clock, fetcher)

	require.NoError(t, e.Refresh(context.Background()))
	before := e.Snapshot()

	clock.Set(afternoon().Add(10 * time.Minute))
	err := e.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, prayer.ErrScheduleFetch)

	snap := e.Snapshot()
	assert.Equal(t, engine.StatusError, snap.Status)
	assert.Equal(t, "Failed to load prayer times", snap.Error)
	assert.Equal(t, before.Events, snap.Events)
	assert.Equal(t, before.Next, snap.Next)
	assert.Equal(t, before.Generation, snap.Generation)
	assert.ErrorIs(t, e.Err(), prayer.ErrScheduleFetch)

	// The countdown keeps running from the stale next event.
	e.Tick()
	assert.Equal(t, "01:20:00", e.Snapshot().Countdown)
}

func TestEngine_MalformedTimingIsSurfaced(t *testing.T) {
	raw := londonTimings()
	raw[prayer.Asr] = "half past three"
	e := newEngine(&fakeClock{now: afternoon()}, &fakeFetcher{fn: returns(raw, nil)})

	err := e.Refresh(context.Background())
	assert.ErrorIs(t, err, prayer.ErrMalformedTiming)

	snap := e.Snapshot()
	assert.Equal(t, engine.StatusError, snap.Status)
	assert.Equal(t, "Received malformed prayer times", snap.Error)
	assert.False(t, snap.HasSchedule())
}

func TestEngine_RecoversAfterError(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(call int, _ context.Context) (prayer.RawTiming, error) {
		if call == 1 {
			return nil, errors.New("offline")
		}
		return londonTimings(), nil
	}}
	e := newEngine(&fakeClock{now: afternoon()}, fetcher)

	require.Error(t, e.Refresh(context.Background()))
	require.NoError(t, e.Refresh(context.Background()))

	snap := e.Snapshot()
	assert.Equal(t, engine.StatusReady, snap.Status)
	assert.Empty(t, snap.Error)
	assert.NoError(t, e.Err())
	assert.Equal(t, uint64(2), snap.Generation)
}

func TestEngine_SupersededRefreshIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	later := londonTimings()
	later[prayer.Asr] = "15:45"

	fetcher := &fakeFetcher{fn: func(call int, _ context.Context) (prayer.RawTiming, error) {
		if call == 1 {
			close(started)
			<-release
			return londonTimings(), nil
		}
		return later, nil
	}}
	e := newEngine(&fakeClock{now: afternoon()}, fetcher)

	firstErr := make(chan error, 1)
	go func() {
		firstErr <- e.Refresh(context.Background())
	}()
	<-started

	require.NoError(t, e.Refresh(context.Background()))
	close(release)

	err := <-firstErr
	assert.ErrorIs(t, err, engine.ErrSuperseded)
	assert.True(t, engine.IsSuperseded(err))

	snap := e.Snapshot()
	assert.Equal(t, engine.StatusReady, snap.Status)
	assert.Equal(t, "3:45 PM", snap.Next.DisplayTime)
	assert.Equal(t, uint64(2), snap.Generation)
}

func TestEngine_TickClampsAtZeroWithoutReselecting(t *testing.T) {
	clock := &fakeClock{now: afternoon()}
	e := newEngine(clock, &fakeFetcher{fn: returns(londonTimings(), nil)})
	require.NoError(t, e.Refresh(context.Background()))

	clock.Set(time.Date(2024, 3, 10, 15, 29, 59, 0, time.UTC))
	e.Tick()
	assert.Equal(t, "00:00:01", e.Snapshot().Countdown)

	clock.Set(time.Date(2024, 3, 10, 15, 30, 30, 0, time.UTC))
	e.Tick()
	snap := e.Snapshot()
	assert.Equal(t, "00:00:00", snap.Countdown)
	assert.Equal(t, time.Duration(0), snap.Remaining)
	assert.Equal(t, prayer.Asr, snap.Next.ID)

	e.Resync(context.Background())
	snap = e.Snapshot()
	assert.Equal(t, prayer.Maghrib, snap.Next.ID)
	assert.Equal(t, "02:29:30", snap.Countdown)
}

func TestEngine_ResyncWithoutChangeKeepsNext(t *testing.T) {
	clock := &fakeClock{now: afternoon()}
	fetcher := &fakeFetcher{fn: returns(londonTimings(), nil)}
	e := newEngine(clock, fetcher)
	require.NoError(t, e.Refresh(context.Background()))

	clock.Set(afternoon().Add(time.Minute))
	e.Resync(context.Background())
	e.Wait()

	snap := e.Snapshot()
	assert.Equal(t, prayer.Asr, snap.Next.ID)
	assert.Equal(t, 1, fetcher.Calls())
}

func TestEngine_ResyncBeforeFirstLoadIsNoop(t *testing.T) {
	fetcher := &fakeFetcher{fn: returns(londonTimings(), nil)}
	e := newEngine(&fakeClock{now: afternoon()}, fetcher)

	e.Resync(context.Background())
	e.Tick()
	e.Wait()

	assert.Equal(t, engine.StatusIdle, e.Status())
	assert.Equal(t, 0, fetcher.Calls())
}

func TestEngine_IshaRollsOverToTomorrowFajr(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)}
	e := newEngine(clock, &fakeFetcher{fn: returns(londonTimings(), nil)})

	require.NoError(t, e.Refresh(context.Background()))

	snap := e.Snapshot()
	assert.Equal(t, prayer.Fajr, snap.Next.ID)
	assert.Equal(t, time.Date(2024, 3, 11, 5, 10, 0, 0, time.UTC), snap.Next.OccursAt)
	assert.Equal(t, "06:10:00", snap.Countdown)
}

func TestEngine_DateChangeTriggersRefreshOnce(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{fn: returns(londonTimings(), nil)}
	e := newEngine(clock, fetcher)
	require.NoError(t, e.Refresh(context.Background()))

	clock.Set(time.Date(2024, 3, 11, 0, 1, 0, 0, time.UTC))
	e.Resync(context.Background())
	e.Wait()

	snap := e.Snapshot()
	assert.Equal(t, 2, fetcher.Calls())
	assert.Equal(t, "2024-03-11", snap.Date)
	assert.Equal(t, engine.StatusReady, snap.Status)
	assert.Equal(t, prayer.Fajr, snap.Next.ID)
	assert.Equal(t, time.Date(2024, 3, 11, 5, 10, 0, 0, time.UTC), snap.Next.OccursAt)

	clock.Set(time.Date(2024, 3, 11, 0, 2, 0, 0, time.UTC))
	e.Resync(context.Background())
	e.Wait()
	assert.Equal(t, 2, fetcher.Calls())
}

func TestEngine_FailedDateChangeRefreshIsNotRetried(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{fn: func(call int, _ context.Context) (prayer.RawTiming, error) {
		if call == 1 {
			return londonTimings(), nil
		}
		return nil, errors.New("offline")
	}}
	e := newEngine(clock, fetcher)
	require.NoError(t, e.Refresh(context.Background()))

	clock.Set(time.Date(2024, 3, 11, 0, 1, 0, 0, time.UTC))
	e.Resync(context.Background())
	e.Wait()
	assert.Equal(t, engine.StatusError, e.Status())

	clock.Set(time.Date(2024, 3, 11, 0, 2, 0, 0, time.UTC))
	e.Resync(context.Background())
	e.Wait()

	assert.Equal(t, 2, fetcher.Calls())
	snap := e.Snapshot()
	assert.Equal(t, "2024-03-10", snap.Date)
	assert.NotNil(t, snap.Next)
}

func TestEngine_Subscribe(t *testing.T) {
	clock := &fakeClock{now: afternoon()}
	e := newEngine(clock, &fakeFetcher{fn: returns(londonTimings(), nil)})

	updates, unsubscribe := e.Subscribe()

	first := <-updates
	assert.Equal(t, engine.StatusIdle, first.Status)

	require.NoError(t, e.Refresh(context.Background()))

	// Loading was replaced by Ready before we read.
	latest := <-updates
	assert.Equal(t, engine.StatusReady, latest.Status)

	for i := 1; i <= 10; i++ {
		clock.Set(afternoon().Add(time.Duration(i) * time.Second))
		e.Tick()
	}
	latest = <-updates
	assert.Equal(t, "01:29:50", latest.Countdown)

	unsubscribe()
	unsubscribe()
	_, open := <-updates
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	e.Tick()
}

func TestEngine_Run(t *testing.T) {
	clock := &fakeClock{now: afternoon()}
	e := engine.New(engine.Config{
		Resolver:       deniedResolver(),
		Fetcher:        &fakeFetcher{fn: returns(londonTimings(), nil)},
		Logger:         zerolog.Nop(),
		Clock:          clock.Now,
		Location:       time.UTC,
		TickInterval:   5 * time.Millisecond,
		ResyncInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return e.Status() == engine.StatusReady
	}, time.Second, 5*time.Millisecond)

	clock.Set(afternoon().Add(time.Hour))
	require.Eventually(t, func() bool {
		return e.Snapshot().Countdown == "00:30:00"
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, e.Run(ctx), engine.ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestLookup(t *testing.T) {
	fetcher := &fakeFetcher{fn: returns(londonTimings(), nil)}
	coord := location.Coordinate{Lat: 21.42, Lon: 39.82}

	today, err := engine.Lookup(context.Background(), fetcher, coord, time.Time{}, afternoon())
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10", today.Date)
	assert.Equal(t, "UTC", today.TimeZone)
	assert.Len(t, today.Events, 5)
	require.NotNil(t, today.Next)
	assert.Equal(t, prayer.Asr, today.Next.ID)

	tomorrow, err := engine.Lookup(context.Background(), fetcher, coord, afternoon().AddDate(0, 0, 1), afternoon())
	require.NoError(t, err)
	assert.Equal(t, "2024-03-11", tomorrow.Date)
	assert.Nil(t, tomorrow.Next)

	_, err = engine.Lookup(context.Background(), fetcher, location.Coordinate{Lat: 100}, time.Time{}, afternoon())
	assert.ErrorIs(t, err, location.ErrInvalidCoordinates)
}

func TestLookup_SelectsInCoordinateZone(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	tokyo := location.Coordinate{Lat: 35.68, Lon: 139.69}

	t.Run("late evening rolls over to tomorrow's Fajr", func(t *testing.T) {
		fetcher := &fakeFetcher{zone: jst, fn: returns(londonTimings(), nil)}
		now := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC) // 23:00 JST

		schedule, err := engine.Lookup(context.Background(), fetcher, tokyo, time.Time{}, now)
		require.NoError(t, err)

		assert.Equal(t, []string{"2024-03-10"}, fetcher.Dates())
		assert.Equal(t, "2024-03-10", schedule.Date)
		assert.Equal(t, "JST", schedule.TimeZone)
		require.NotNil(t, schedule.Next)
		assert.Equal(t, prayer.Fajr, schedule.Next.ID)
		assert.True(t, time.Date(2024, 3, 11, 5, 10, 0, 0, jst).Equal(schedule.Next.OccursAt),
			"got %s", schedule.Next.OccursAt)
		assert.Equal(t, 6*time.Hour+10*time.Minute, prayer.Remaining(*schedule.Next, now))
	})

	t.Run("coordinate already past midnight refetches its date", func(t *testing.T) {
		fetcher := &fakeFetcher{zone: jst, fn: returns(londonTimings(), nil)}
		now := time.Date(2024, 3, 10, 16, 0, 0, 0, time.UTC) // 01:00 JST on the 11th

		schedule, err := engine.Lookup(context.Background(), fetcher, tokyo, time.Time{}, now)
		require.NoError(t, err)

		assert.Equal(t, []string{"2024-03-10", "2024-03-11"}, fetcher.Dates())
		assert.Equal(t, "2024-03-11", schedule.Date)
		require.NotNil(t, schedule.Next)
		assert.Equal(t, prayer.Fajr, schedule.Next.ID)
		assert.True(t, time.Date(2024, 3, 11, 5, 10, 0, 0, jst).Equal(schedule.Next.OccursAt),
			"got %s", schedule.Next.OccursAt)
	})

	t.Run("explicit date keeps next only when it is today at the coordinate", func(t *testing.T) {
		fetcher := &fakeFetcher{zone: jst, fn: returns(londonTimings(), nil)}
		now := time.Date(2024, 3, 10, 16, 0, 0, 0, time.UTC)

		yesterday, err := engine.Lookup(context.Background(), fetcher, tokyo, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), now)
		require.NoError(t, err)
		assert.Equal(t, "2024-03-10", yesterday.Date)
		assert.Nil(t, yesterday.Next)

		today, err := engine.Lookup(context.Background(), fetcher, tokyo, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), now)
		require.NoError(t, err)
		assert.Equal(t, "2024-03-11", today.Date)
		require.NotNil(t, today.Next)
		assert.Equal(t, prayer.Fajr, today.Next.ID)
	})
}

func TestEngine_RefreshWithGrantedSensor(t *testing.T) {
	coord := location.Coordinate{Lat: 40.71, Lon: -74.00}
	geocoder := &stubGeocoder{place: location.PlaceName{City: "New York", Country: "United States"}}

	e := engine.New(engine.Config{
		Resolver: location.NewResolver(location.ResolverConfig{
			Sensor:   location.NewStaticSensor(&coord),
			Geocoder: geocoder,
			Logger:   zerolog.Nop(),
		}),
		Fetcher:  &fakeFetcher{fn: returns(londonTimings(), nil)},
		Logger:   zerolog.Nop(),
		Clock:    (&fakeClock{now: afternoon()}).Now,
		Location: time.UTC,
	})

	require.NoError(t, e.Refresh(context.Background()))

	snap := e.Snapshot()
	assert.Equal(t, engine.StatusReady, snap.Status)
	assert.Equal(t, coord, snap.Coordinate)
	assert.Equal(t, "New York", snap.Place.City)
	assert.Equal(t, "United States", snap.Place.Country)
	assert.False(t, snap.Place.IsDefault)
	assert.Equal(t, 1, geocoder.calls)
	require.NotNil(t, snap.Next)
	assert.Equal(t, prayer.Asr, snap.Next.ID)
	assert.Equal(t, "3:30 PM", snap.Next.DisplayTime)
}

func TestEngine_RefreshAsync(t *testing.T) {
	fetcher := &fakeFetcher{fn: returns(londonTimings(), nil)}
	e := newEngine(&fakeClock{now: afternoon()}, fetcher)

	e.RefreshAsync(context.Background())
	e.Wait()

	assert.Equal(t, 1, fetcher.Calls())
	assert.Equal(t, engine.StatusReady, e.Status())
	assert.NoError(t, e.Err())
}
