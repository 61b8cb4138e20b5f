// Package availability validates that an agent's weekly time windows do not
// overlap. The validator is pure: no I/O, no clock.
package availability

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/caltrigger-io/caltrigger/internal/domain"
)

var dayNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// FormatError reports a malformed window (bad day or bad HH:MM value).
type FormatError struct {
	Field string
	Value string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

// ConflictError reports the first pair of overlapping active windows found.
type ConflictError struct {
	Day    int
	First  string // "HH:MM-HH:MM"
	Second string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("overlapping windows on %s: %s conflicts with %s", dayNames[e.Day], e.First, e.Second)
}

type window struct {
	start, end int // minutes since midnight
	label      string
}

// Validate checks a set of weekly windows for overlap. Only active windows
// participate. Intervals are half-open: windows that merely touch
// (end1 == start2) do not conflict. Returns nil when valid, a *ConflictError
// for the first conflicting pair, or a *FormatError for malformed input.
func Validate(windows []domain.AvailabilityWindow) error {
	byDay := make(map[int][]window)

	for _, w := range windows {
		if !w.IsActive {
			continue
		}
		if w.DayOfWeek < 0 || w.DayOfWeek > 6 {
			return &FormatError{Field: "dayOfWeek", Value: strconv.Itoa(w.DayOfWeek)}
		}
		start, err := parseClock(w.StartTime)
		if err != nil {
			return &FormatError{Field: "startTime", Value: w.StartTime}
		}
		end, err := parseClock(w.EndTime)
		if err != nil {
			return &FormatError{Field: "endTime", Value: w.EndTime}
		}
		byDay[w.DayOfWeek] = append(byDay[w.DayOfWeek], window{
			start: start,
			end:   end,
			label: w.StartTime + "-" + w.EndTime,
		})
	}

	for day := 0; day < 7; day++ {
		ws := byDay[day]
		for i := 0; i < len(ws); i++ {
			for j := i + 1; j < len(ws); j++ {
				if ws[i].start < ws[j].end && ws[i].end > ws[j].start {
					return &ConflictError{Day: day, First: ws[i].label, Second: ws[j].label}
				}
			}
		}
	}
	return nil
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}
