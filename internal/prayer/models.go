// Package prayer turns raw daily prayer timings into an ordered schedule and
// picks the next upcoming prayer against the wall clock.
package prayer

import (
	"errors"
	"fmt"
	"time"
)

// Prayer errors.
var (
	ErrScheduleFetch   = errors.New("failed to load prayer times")
	ErrMalformedTiming = errors.New("malformed prayer timing")
	ErrEmptySchedule   = errors.New("empty prayer schedule")
)

// ID identifies one of the five daily prayers.
type ID string

const (
	Fajr    ID = "Fajr"
	Dhuhr   ID = "Dhuhr"
	Asr     ID = "Asr"
	Maghrib ID = "Maghrib"
	Isha    ID = "Isha"
)

// Template is the static metadata of a prayer.
type Template struct {
	ID             ID     `json:"id" yaml:"id"`
	DisplayName    string `json:"displayName" yaml:"displayName"`
	LocalizedLabel string `json:"localizedLabel" yaml:"localizedLabel"`
}

var templates = [5]Template{
	{ID: Fajr, DisplayName: "Fajr", LocalizedLabel: "الفجر"},
	{ID: Dhuhr, DisplayName: "Dhuhr", LocalizedLabel: "الظهر"},
	{ID: Asr, DisplayName: "Asr", LocalizedLabel: "العصر"},
	{ID: Maghrib, DisplayName: "Maghrib", LocalizedLabel: "المغرب"},
	{ID: Isha, DisplayName: "Isha", LocalizedLabel: "العشاء"},
}

// Templates returns the five prayer templates in canonical order.
func Templates() [5]Template {
	return templates
}

// RawTiming maps prayer ids to 24-hour "HH:MM" strings for one day at one coordinate.
type RawTiming map[ID]string

// Day is the raw timings of one civil date together with the zone they are
// expressed in. Zone is nil when the provider did not report one.
type Day struct {
	Timings RawTiming
	Zone    *time.Location
}

// ZoneOr returns the reported zone, or fallback when none was reported.
func (d Day) ZoneOr(fallback *time.Location) *time.Location {
	if d.Zone == nil {
		return fallback
	}
	return d.Zone
}

// Event is one prayer in a normalized daily schedule.
type Event struct {
	ID             ID     `json:"id" yaml:"id"`
	DisplayName    string `json:"displayName" yaml:"displayName"`
	LocalizedLabel string `json:"localizedLabel" yaml:"localizedLabel"`

	// DisplayTime is the 12-hour rendering, e.g. "3:30 PM".
	DisplayTime string `json:"displayTime" yaml:"displayTime"`

	// WallClock is the original 24-hour "HH:MM" value.
	WallClock string `json:"wallClock" yaml:"wallClock"`
}

// NextEvent is the next upcoming prayer with its absolute instant.
type NextEvent struct {
	Event    `yaml:",inline"`
	OccursAt time.Time `json:"occursAt" yaml:"occursAt"`
}

// Tomorrow reports whether the event falls on a later civil day than now.
func (n NextEvent) Tomorrow(now time.Time) bool {
	y1, m1, d1 := now.Date()
	y2, m2, d2 := n.OccursAt.In(now.Location()).Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

// FetchError is returned when a schedule could not be retrieved.
type FetchError struct {
	Provider string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrScheduleFetch.Error(), e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches ErrScheduleFetch.
func (e *FetchError) Is(target error) bool {
	return target == ErrScheduleFetch
}

// MalformedTimingError is returned when a raw timing is missing or unparseable.
type MalformedTimingError struct {
	Prayer ID
	Value  string
	Reason string
}

func (e *MalformedTimingError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s: %s", ErrMalformedTiming.Error(), e.Prayer, e.Reason)
	}
	return fmt.Sprintf("%s: %s %q: %s", ErrMalformedTiming.Error(), e.Prayer, e.Value, e.Reason)
}

// Is matches ErrMalformedTiming.
func (e *MalformedTimingError) Is(target error) bool {
	return target == ErrMalformedTiming
}
