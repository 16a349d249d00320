// Package engine drives the prayer schedule pipeline and keeps a live countdown
// to the next prayer.
package engine

import (
	"errors"
	"time"

	"github.com/opentaqwa/opentaqwa/internal/location"
	"github.com/opentaqwa/opentaqwa/internal/prayer"
)

// Engine errors.
var (
	ErrAlreadyRunning = errors.New("engine already running")
	ErrSuperseded     = errors.New("refresh superseded by a newer refresh")
	ErrNoSchedule     = errors.New("no prayer schedule loaded")
)

// Status is the lifecycle state of the engine.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// Snapshot is an immutable view of the engine state.
// Events is shared between snapshots and must not be modified.
type Snapshot struct {
	Status     Status              `json:"status" yaml:"status"`
	Place      location.PlaceName  `json:"place" yaml:"place"`
	Coordinate location.Coordinate `json:"coordinate" yaml:"coordinate"`

	// Date is the civil date of the schedule, "YYYY-MM-DD". Empty before the first load.
	Date   string            `json:"date,omitempty" yaml:"date,omitempty"`
	Events []prayer.Event    `json:"events" yaml:"events"`
	Next   *prayer.NextEvent `json:"next,omitempty" yaml:"next,omitempty"`

	Remaining time.Duration `json:"-" yaml:"-"`
	Countdown string        `json:"countdown,omitempty" yaml:"countdown,omitempty"`

	// Error is the user-facing message of the last failed refresh.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Generation identifies the refresh that produced the schedule.
	Generation uint64    `json:"generation" yaml:"generation"`
	UpdatedAt  time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// HasSchedule reports whether a schedule has been loaded at least once.
func (s Snapshot) HasSchedule() bool {
	return len(s.Events) > 0 && s.Next != nil
}

// userMessage maps a refresh failure to the message shown to users.
func userMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, prayer.ErrMalformedTiming):
		return "Received malformed prayer times"
	default:
		return "Failed to load prayer times"
	}
}
