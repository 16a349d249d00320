package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/opentaqwa/opentaqwa/internal/api/models"
	"github.com/opentaqwa/opentaqwa/internal/api/response"
	"github.com/opentaqwa/opentaqwa/internal/engine"
	"github.com/opentaqwa/opentaqwa/internal/location"
)

// ScheduleEngine is the engine surface used by the prayer endpoints.
type ScheduleEngine interface {
	Snapshot() engine.Snapshot
	RefreshAsync(ctx context.Context)
	Subscribe() (<-chan engine.Snapshot, func())
}

// PrayerConfig holds configuration for the prayer handler.
type PrayerConfig struct {
	Engine  ScheduleEngine
	Fetcher engine.ScheduleFetcher
	Logger  zerolog.Logger

	// Clock returns the current time (default: time.Now).
	Clock func() time.Time

	// Location is the zone ad-hoc timings dates are interpreted in (default: time.Local).
	Location *time.Location

	// KeepAlive is the interval of stream comments on idle connections (default: 15 seconds).
	KeepAlive time.Duration
}

// PrayerHandler serves the live schedule, the countdown and ad-hoc timings.
type PrayerHandler struct {
	engine    ScheduleEngine
	fetcher   engine.ScheduleFetcher
	logger    zerolog.Logger
	clock     func() time.Time
	loc       *time.Location
	keepAlive time.Duration
}

// NewPrayerHandler creates a new PrayerHandler.
func NewPrayerHandler(cfg PrayerConfig) *PrayerHandler {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = 15 * time.Second
	}

	return &PrayerHandler{
		engine:    cfg.Engine,
		fetcher:   cfg.Fetcher,
		logger:    cfg.Logger,
		clock:     clock,
		loc:       loc,
		keepAlive: keepAlive,
	}
}

// GetSchedule handles GET /v1/schedule.
func (h *PrayerHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	if !snap.HasSchedule() {
		notLoaded(w, r, snap)
		return
	}
	response.JSON(w, r, http.StatusOK, scheduleResponse(snap, h.clock()))
}

// GetNext handles GET /v1/next.
func (h *PrayerHandler) GetNext(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	if !snap.HasSchedule() {
		notLoaded(w, r, snap)
		return
	}
	response.JSON(w, r, http.StatusOK, nextResponse(snap, h.clock()))
}

// Refresh handles POST /v1/schedule/refresh. The refresh runs in the
// background and outlives the request.
func (h *PrayerHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	before := h.engine.Snapshot()
	h.engine.RefreshAsync(context.WithoutCancel(r.Context()))

	response.Accepted(w, r, models.RefreshAccepted{
		Status:     string(engine.StatusLoading),
		Generation: before.Generation,
	})
}

// GetTimings handles GET /v1/timings?lat=..&lon=..[&date=YYYY-MM-DD]. It
// computes a schedule for any coordinate without touching the live engine.
func (h *PrayerHandler) GetTimings(w http.ResponseWriter, r *http.Request) {
	now := h.clock().In(h.loc)

	coord, date, fieldErrors := parseTimingsQuery(r, now)
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid timings query", fieldErrors)
		return
	}

	schedule, err := engine.Lookup(r.Context(), h.fetcher, coord, date, now)
	if err != nil {
		if !errors.Is(err, location.ErrInvalidCoordinates) {
			h.log(r).Warn().Err(err).Str("coordinate", coord.String()).Msg("timings lookup failed")
		}
		response.Error(w, r, err, 30)
		return
	}
	response.JSON(w, r, http.StatusOK, schedule)
}

func parseTimingsQuery(r *http.Request, now time.Time) (location.Coordinate, time.Time, []models.FieldError) {
	q := r.URL.Query()
	var fieldErrors []models.FieldError

	parseFloat := func(field string) float64 {
		raw := q.Get(field)
		if raw == "" {
			fieldErrors = append(fieldErrors, models.FieldError{Field: field, Message: "required", Code: "REQUIRED"})
			return 0
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			fieldErrors = append(fieldErrors, models.FieldError{Field: field, Message: "must be a number", Code: "INVALID"})
		}
		return v
	}

	coord := location.Coordinate{Lat: parseFloat("lat"), Lon: parseFloat("lon")}

	// A zero date asks for today at the coordinate.
	var date time.Time
	if raw := q.Get("date"); raw != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, raw, now.Location())
		if err != nil {
			fieldErrors = append(fieldErrors, models.FieldError{Field: "date", Message: "must be YYYY-MM-DD", Code: "INVALID"})
		} else {
			date = parsed
		}
	}
	return coord, date, fieldErrors
}

// log returns the request logger set by the logging middleware, or the
// handler's own logger when there is none.
func (h *PrayerHandler) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &h.logger
}

func notLoaded(w http.ResponseWriter, r *http.Request, snap engine.Snapshot) {
	detail := models.DetailNotLoaded
	if snap.Error != "" {
		detail = snap.Error
	}
	response.ServiceUnavailable(w, r, detail, 5)
}

func scheduleResponse(snap engine.Snapshot, now time.Time) models.ScheduleResponse {
	next := nextResponse(snap, now)
	return models.ScheduleResponse{
		Status:     string(snap.Status),
		Date:       snap.Date,
		Place:      snap.Place,
		Coordinate: snap.Coordinate,
		Events:     snap.Events,
		Next:       &next,
		Stale:      snap.Status == engine.StatusError,
		Error:      snap.Error,
		UpdatedAt:  models.Timestamp(snap.UpdatedAt),
	}
}

func nextResponse(snap engine.Snapshot, now time.Time) models.NextResponse {
	return models.NextResponse{
		NextEvent:        *snap.Next,
		Tomorrow:         snap.Next.Tomorrow(now.In(snap.Next.OccursAt.Location())),
		Countdown:        snap.Countdown,
		RemainingSeconds: int64(snap.Remaining / time.Second),
	}
}
