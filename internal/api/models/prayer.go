package models

import (
	"github.com/opentaqwa/opentaqwa/internal/location"
	"github.com/opentaqwa/opentaqwa/internal/prayer"
)

// ScheduleResponse is the body of GET /v1/schedule.
type ScheduleResponse struct {
	Status     string              `json:"status"`
	Date       string              `json:"date"`
	Place      location.PlaceName  `json:"place"`
	Coordinate location.Coordinate `json:"coordinate"`
	Events     []prayer.Event      `json:"events"`
	Next       *NextResponse       `json:"next"`

	// Stale is set when the last refresh failed and the schedule shown is the previous one.
	Stale     bool      `json:"stale"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt Timestamp `json:"updatedAt"`
}

// NextResponse is the body of GET /v1/next.
type NextResponse struct {
	prayer.NextEvent
	Tomorrow         bool   `json:"tomorrow"`
	Countdown        string `json:"countdown"`
	RemainingSeconds int64  `json:"remainingSeconds"`
}

// RefreshAccepted is the body of POST /v1/schedule/refresh.
type RefreshAccepted struct {
	Status string `json:"status"`

	// Generation is the schedule generation committed before the refresh started.
	Generation uint64 `json:"generation"`
}
