package prayer

import (
	"fmt"
	"time"
)

// SelectNext returns the first event whose instant today is strictly after now.
// When every event has passed, it returns the first event of the schedule
// on the next calendar day. Instants use now's location with zero seconds.
func SelectNext(events []Event, now time.Time) (NextEvent, error) {
	if len(events) == 0 {
		return NextEvent{}, ErrEmptySchedule
	}

	for _, ev := range events {
		at, err := instant(ev, now, 0)
		if err != nil {
			return NextEvent{}, err
		}
		if at.After(now) {
			return NextEvent{Event: ev, OccursAt: at}, nil
		}
	}

	first := events[0]
	at, err := instant(first, now, 1)
	if err != nil {
		return NextEvent{}, err
	}
	return NextEvent{Event: first, OccursAt: at}, nil
}

// instant anchors an event's wall clock on now's calendar day plus dayOffset.
// time.Date normalizes month and year overflow.
func instant(ev Event, now time.Time, dayOffset int) (time.Time, error) {
	hour, minute, err := parseClock(ev.WallClock)
	if err != nil {
		return time.Time{}, &MalformedTimingError{Prayer: ev.ID, Value: ev.WallClock, Reason: err.Error()}
	}
	y, m, d := now.Date()
	return time.Date(y, m, d+dayOffset, hour, minute, 0, 0, now.Location()), nil
}

// Remaining returns the time left until the event, clamped at zero.
func Remaining(next NextEvent, now time.Time) time.Duration {
	d := next.OccursAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// FormatCountdown renders a duration as zero-padded "HH:MM:SS".
// Negative values render as "00:00:00"; sub-second remainders are truncated.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
