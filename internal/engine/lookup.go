package engine

import (
	"context"
	"time"

	"github.com/opentaqwa/opentaqwa/internal/location"
	"github.com/opentaqwa/opentaqwa/internal/prayer"
)

// Schedule is a one-off schedule computed outside the engine state.
type Schedule struct {
	Coordinate location.Coordinate `json:"coordinate" yaml:"coordinate"`
	Date       string              `json:"date" yaml:"date"`
	TimeZone   string              `json:"timeZone" yaml:"timeZone"`
	Events     []prayer.Event      `json:"events" yaml:"events"`

	// Next is set only when the schedule is for the civil date of now at
	// the coordinate.
	Next *prayer.NextEvent `json:"next,omitempty" yaml:"next,omitempty"`
}

// Lookup fetches and normalizes the schedule for coord without touching
// engine state. A zero date means today at the coordinate; otherwise the
// civil date of date is used as given.
//
// The civil date of now and the next event are taken in the zone the
// provider reports for coord, falling back to the location of now.
func Lookup(ctx context.Context, fetcher ScheduleFetcher, coord location.Coordinate, date, now time.Time) (Schedule, error) {
	if err := coord.Validate(); err != nil {
		return Schedule{}, err
	}

	today := date.IsZero()
	at := date
	if today {
		at = now
	}

	day, err := fetcher.FetchDay(ctx, coord, at)
	if err != nil {
		return Schedule{}, err
	}
	local := now.In(day.ZoneOr(now.Location()))

	// The server's date and the coordinate's date can differ by one.
	if today && !sameDate(at, local) {
		at = local
		if day, err = fetcher.FetchDay(ctx, coord, at); err != nil {
			return Schedule{}, err
		}
		local = now.In(day.ZoneOr(local.Location()))
	}

	events, err := prayer.Normalize(day.Timings)
	if err != nil {
		return Schedule{}, err
	}

	schedule := Schedule{
		Coordinate: coord,
		Date:       at.Format(time.DateOnly),
		TimeZone:   local.Location().String(),
		Events:     events,
	}

	if sameDate(at, local) {
		next, err := prayer.SelectNext(events, local)
		if err != nil {
			return Schedule{}, err
		}
		schedule.Next = &next
	}
	return schedule, nil
}

// sameDate reports whether a and b fall on the same calendar day, each read
// in its own location.
func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
