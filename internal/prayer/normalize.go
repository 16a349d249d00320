package prayer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Normalize builds the ordered five-event schedule from raw timings.
// Extra keys in raw are ignored.
func Normalize(raw RawTiming) ([]Event, error) {
	events := make([]Event, 0, len(templates))
	for _, tpl := range templates {
		value, ok := raw[tpl.ID]
		if !ok {
			return nil, &MalformedTimingError{Prayer: tpl.ID, Reason: "missing"}
		}

		hour, minute, err := parseClock(value)
		if err != nil {
			return nil, &MalformedTimingError{Prayer: tpl.ID, Value: value, Reason: err.Error()}
		}

		events = append(events, Event{
			ID:             tpl.ID,
			DisplayName:    tpl.DisplayName,
			LocalizedLabel: tpl.LocalizedLabel,
			DisplayTime:    format12h(hour, minute),
			WallClock:      fmt.Sprintf("%02d:%02d", hour, minute),
		})
	}
	return events, nil
}

// Format12h renders a 24-hour "HH:MM" value as "h:MM AM|PM".
func Format12h(value string) (string, error) {
	hour, minute, err := parseClock(value)
	if err != nil {
		return "", &MalformedTimingError{Value: value, Reason: err.Error()}
	}
	return format12h(hour, minute), nil
}

func format12h(hour, minute int) string {
	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d:%02d %s", h, minute, suffix)
}

var errClockFormat = errors.New("expected HH:MM")

// parseClock parses "HH:MM" into hour and minute.
func parseClock(value string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok || !isDigits(hh, 1, 2) || !isDigits(mm, 2, 2) {
		return 0, 0, errClockFormat
	}

	hour, _ = strconv.Atoi(hh)
	minute, _ = strconv.Atoi(mm)
	if hour > 23 {
		return 0, 0, errors.New("hour out of range")
	}
	if minute > 59 {
		return 0, 0, errors.New("minute out of range")
	}
	return hour, minute, nil
}

func isDigits(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
