package regimen

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidSlotFormat = errors.New("invalid slot time format")
	ErrUnknownSlotToken  = errors.New("unknown slot token")
)

// Default anchors for named day periods, and the catch-all for tokens the
// resolver does not recognize.
const (
	morningHour   = 8
	afternoonHour = 14
	eveningHour   = 18
	nightHour     = 21
	fallbackHour  = 9
)

// ResolveSlot converts a slot token into a concrete timestamp on the calendar
// day of `day`, in that day's location. Tokens containing a colon must be
// strict HH:MM; named periods (morning, afternoon, evening, night) map to
// their default anchors.
//
// Resolution never blocks schedule creation: on a malformed HH:MM token the
// 09:00 fallback is returned together with ErrInvalidSlotFormat, and on an
// unrecognized named token together with ErrUnknownSlotToken. Callers log and
// keep going with the returned time.
func ResolveSlot(token string, day time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(token)

	if strings.Contains(trimmed, ":") {
		hour, minute, err := parseClock(trimmed)
		if err != nil {
			return atTime(day, fallbackHour, 0), err
		}
		return atTime(day, hour, minute), nil
	}

	switch strings.ToLower(trimmed) {
	case "morning":
		return atTime(day, morningHour, 0), nil
	case "afternoon":
		return atTime(day, afternoonHour, 0), nil
	case "evening":
		return atTime(day, eveningHour, 0), nil
	case "night":
		return atTime(day, nightHour, 0), nil
	default:
		return atTime(day, fallbackHour, 0), fmt.Errorf("%w: %q", ErrUnknownSlotToken, token)
	}
}

func parseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSlotFormat, s)
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSlotFormat, s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSlotFormat, s)
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSlotFormat, s)
	}

	return hour, minute, nil
}

func atTime(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
