package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opentaqwa/opentaqwa/internal/location"
	"github.com/opentaqwa/opentaqwa/internal/prayer"
	"github.com/opentaqwa/opentaqwa/internal/telemetry"
)

// Refresh triggers, recorded in logs and metrics.
const (
	TriggerStart      = "start"
	TriggerManual     = "manual"
	TriggerDateChange = "date_change"
)

// Resolver produces the coordinate and place name for a refresh.
type Resolver interface {
	Resolve(ctx context.Context) location.Resolution
}

// ScheduleFetcher retrieves raw timings for a coordinate and civil date.
type ScheduleFetcher interface {
	FetchDay(ctx context.Context, coord location.Coordinate, date time.Time) (prayer.Day, error)
}

// Config holds configuration for the engine.
type Config struct {
	Resolver Resolver
	Fetcher  ScheduleFetcher
	Logger   zerolog.Logger

	// Clock returns the current time (default: time.Now).
	Clock func() time.Time

	// Location is the zone civil dates and prayer instants are computed in (default: time.Local).
	Location *time.Location

	// TickInterval is the countdown refresh period (default: 1 second).
	TickInterval time.Duration

	// ResyncInterval is the next-event re-selection period (default: 1 minute).
	ResyncInterval time.Duration

	// Metrics records refresh metrics. Optional.
	Metrics *telemetry.EngineMetrics
}

// Engine runs the resolve, fetch, normalize and select pipeline and keeps
// the countdown to the next prayer current. All methods are safe for
// concurrent use.
type Engine struct {
	resolver       Resolver
	fetcher        ScheduleFetcher
	logger         zerolog.Logger
	clock          func() time.Time
	loc            *time.Location
	tickInterval   time.Duration
	resyncInterval time.Duration
	metrics        *telemetry.EngineMetrics

	mu         sync.RWMutex
	running    bool
	status     Status
	resolution location.Resolution
	date       time.Time
	events     []prayer.Event
	next       *prayer.NextEvent
	remaining  time.Duration
	lastErr    error
	generation uint64 // last started refresh
	committed  uint64 // refresh whose schedule is shown
	updatedAt  time.Time

	// dateRefreshFor is the civil date a date-change refresh was last started for.
	dateRefreshFor time.Time

	subs   map[int]chan Snapshot
	nextID int

	inflight sync.WaitGroup
}

// New creates a new engine in the Idle state.
func New(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	tickInterval := cfg.TickInterval
	if tickInterval == 0 {
		tickInterval = time.Second
	}

	resyncInterval := cfg.ResyncInterval
	if resyncInterval == 0 {
		resyncInterval = time.Minute
	}

	return &Engine{
		resolver:       cfg.Resolver,
		fetcher:        cfg.Fetcher,
		logger:         cfg.Logger,
		clock:          clock,
		loc:            loc,
		tickInterval:   tickInterval,
		resyncInterval: resyncInterval,
		metrics:        cfg.Metrics,
		status:         StatusIdle,
		subs:           make(map[int]chan Snapshot),
	}
}

// Run performs the initial refresh and then drives the tick and resync
// timers until ctx is done. Both timers are stopped on return.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.Wait()
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	tick := time.NewTicker(e.tickInterval)
	defer tick.Stop()
	resync := time.NewTicker(e.resyncInterval)
	defer resync.Stop()

	e.logger.Info().
		Dur("tick_interval", e.tickInterval).
		Dur("resync_interval", e.resyncInterval).
		Str("location", e.loc.String()).
		Msg("prayer schedule engine started")

	e.refreshAsync(ctx, TriggerStart)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("prayer schedule engine stopped")
			return nil
		case <-tick.C:
			e.Tick()
		case <-resync.C:
			e.Resync(ctx)
		}
	}
}

// Refresh runs the full pipeline once. A result that arrives after a newer
// refresh has started is discarded and ErrSuperseded is returned. On
// failure the previous schedule and countdown stay visible.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.refresh(ctx, TriggerManual)
}

// RefreshAsync starts a manual refresh in the background. Wait blocks until it is done.
func (e *Engine) RefreshAsync(ctx context.Context) {
	e.refreshAsync(ctx, TriggerManual)
}

func (e *Engine) refreshAsync(ctx context.Context, trigger string) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		_ = e.refresh(ctx, trigger) //nolint:errcheck // outcome is logged and reflected in state
	}()
}

func (e *Engine) refresh(ctx context.Context, trigger string) error {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.status = StatusLoading
	e.notifyLocked()
	e.mu.Unlock()

	start := time.Now()
	logger := e.logger.With().Uint64("generation", gen).Str("trigger", trigger).Logger()
	logger.Debug().Msg("refreshing prayer schedule")

	res := e.resolver.Resolve(ctx)
	now := e.clock().In(e.loc)
	events, next, err := e.load(ctx, res.Coordinate, now)

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.generation {
		logger.Debug().Uint64("latest", e.generation).Msg("discarding superseded refresh result")
		e.metrics.RecordSuperseded(trigger)
		return ErrSuperseded
	}
	e.metrics.RecordRefresh(trigger, time.Since(start), err)

	if err != nil {
		e.status = StatusError
		e.lastErr = err
		e.updatedAt = now
		logger.Error().Err(err).
			Str("place", res.Place.String()).
			Msg("failed to refresh prayer schedule")
		e.notifyLocked()
		return err
	}

	e.status = StatusReady
	e.lastErr = nil
	e.resolution = res
	e.date = civilDate(now)
	e.events = events
	e.next = &next
	e.remaining = prayer.Remaining(next, now)
	e.committed = gen
	e.updatedAt = now

	logger.Info().
		Str("place", res.Place.String()).
		Str("next", string(next.ID)).
		Time("next_at", next.OccursAt).
		Dur("duration", time.Since(start)).
		Msg("prayer schedule refreshed")

	e.notifyLocked()
	return nil
}

// load fetches, normalizes and selects for one coordinate and instant.
func (e *Engine) load(ctx context.Context, coord location.Coordinate, now time.Time) ([]prayer.Event, prayer.NextEvent, error) {
	day, err := e.fetcher.FetchDay(ctx, coord, now)
	if err != nil {
		return nil, prayer.NextEvent{}, err
	}

	events, err := prayer.Normalize(day.Timings)
	if err != nil {
		return nil, prayer.NextEvent{}, err
	}

	next, err := prayer.SelectNext(events, now)
	if err != nil {
		return nil, prayer.NextEvent{}, err
	}
	return events, next, nil
}

// Tick recomputes the countdown from the current next event. It never
// re-selects; a countdown that reaches zero stays there until the next resync.
func (e *Engine) Tick() {
	now := e.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.next == nil {
		return
	}
	e.remaining = prayer.Remaining(*e.next, now)
	e.notifyLocked()
}

// Resync re-selects the next event against the current time and replaces it
// when the prayer or its instant changed. When the civil date has moved past
// the schedule date, a full refresh is started in the background.
func (e *Engine) Resync(ctx context.Context) {
	now := e.clock().In(e.loc)

	e.mu.Lock()
	if len(e.events) == 0 {
		e.mu.Unlock()
		return
	}

	next, err := prayer.SelectNext(e.events, now)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to reselect next prayer")
	} else if e.next == nil || next.ID != e.next.ID || !next.OccursAt.Equal(e.next.OccursAt) {
		e.logger.Debug().
			Str("next", string(next.ID)).
			Time("next_at", next.OccursAt).
			Msg("next prayer changed")
		e.next = &next
		e.remaining = prayer.Remaining(next, now)
		e.updatedAt = now
		e.notifyLocked()
	}

	today := civilDate(now)
	scheduleDate := e.date
	stale := !today.Equal(e.date) && !today.Equal(e.dateRefreshFor) && e.status != StatusLoading
	if stale {
		e.dateRefreshFor = today
	}
	e.mu.Unlock()

	if stale {
		e.logger.Info().
			Str("schedule_date", scheduleDate.Format(time.DateOnly)).
			Str("today", today.Format(time.DateOnly)).
			Msg("civil date changed, refreshing prayer schedule")
		e.refreshAsync(ctx, TriggerDateChange)
	}
}

// Wait blocks until background refreshes started by Run, Resync or RefreshAsync have finished.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// Snapshot returns the current engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

// Status returns the current lifecycle state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Err returns the error of the last refresh, or nil when it succeeded.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// Subscribe returns a channel that receives the latest snapshot after every
// state change, starting with the current one. Slow readers only miss
// intermediate snapshots; the engine never blocks on them. The returned
// function unsubscribes and closes the channel.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	ch <- e.snapshotLocked()
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			close(ch)
			e.mu.Unlock()
		})
	}
}

// notifyLocked delivers the current snapshot to every subscriber, replacing
// any snapshot the subscriber has not read yet. Callers hold e.mu.
func (e *Engine) notifyLocked() {
	if len(e.subs) == 0 {
		return
	}
	snap := e.snapshotLocked()
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:     e.status,
		Place:      e.resolution.Place,
		Coordinate: e.resolution.Coordinate,
		Events:     e.events,
		Error:      userMessage(e.lastErr),
		Generation: e.committed,
		UpdatedAt:  e.updatedAt,
	}
	if !e.date.IsZero() {
		snap.Date = e.date.Format(time.DateOnly)
	}
	if e.next != nil {
		next := *e.next
		snap.Next = &next
		snap.Remaining = e.remaining
		snap.Countdown = prayer.FormatCountdown(e.remaining)
	}
	return snap
}

// civilDate truncates t to midnight in its own location.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// IsSuperseded reports whether err only means a newer refresh took over.
func IsSuperseded(err error) bool {
	return errors.Is(err, ErrSuperseded)
}
