package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var timeOfDayRe = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):([0-5]?[0-9]):([0-5]?[0-9])$`)

// TimeOfDay is a wall-clock time with second precision.
type TimeOfDay struct {
	Hour, Minute, Second int
}

// ParseTimeOfDay accepts 24h "H:M:S" with optional leading zeros.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	m := timeOfDayRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	return TimeOfDay{Hour: h, Minute: mi, Second: sec}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Next is the first instant at this time of day strictly after now, in now's location.
func (t TimeOfDay) Next(now time.Time) time.Time {
	y, mo, d := now.Date()
	at := time.Date(y, mo, d, t.Hour, t.Minute, t.Second, 0, now.Location())
	if !at.After(now) {
		at = time.Date(y, mo, d+1, t.Hour, t.Minute, t.Second, 0, now.Location())
	}
	return at
}
