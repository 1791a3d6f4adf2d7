package settlement

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// minutesPerDay bounds a usable start/end span: the span must be strictly
// inside (0, minutesPerDay).
const minutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time "HH:MM" (seconds, if present, are ignored).
// The empty value means "not set".
type TimeOfDay string

// ParseTimeOfDay validates and normalizes s to "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if s == "" {
		return "", nil
	}
	m, ok := TimeOfDay(s).Minutes()
	if !ok {
		return "", fmt.Errorf("invalid time of day %q (use HH:MM)", s)
	}
	return TimeOfDay(fmt.Sprintf("%02d:%02d", m/60, m%60)), nil
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() (int, bool) {
	if t == "" {
		return 0, false
	}
	parts := strings.Split(string(t), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func (t TimeOfDay) IsZero() bool { return t == "" }

// ResolveDuration returns the meeting length in minutes: the start/end span
// when both are set and 0 < span < 1440, otherwise the cycle default.
func ResolveDuration(m Meeting, c Cycle) int {
	start, okStart := m.StartTime.Minutes()
	end, okEnd := m.EndTime.Minutes()
	if okStart && okEnd {
		if span := end - start; span > 0 && span < minutesPerDay {
			return span
		}
	}
	return c.DurationMinutes
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthKey formats the calendar month of t as "2006-01".
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}
