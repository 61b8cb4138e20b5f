// Package firetime computes the absolute instant a trigger becomes due for
// a booking. Pure arithmetic; booking start times are assumed to carry a
// resolvable offset already, so no timezone adjustment happens here.
package firetime

import (
	"fmt"
	"time"

	"github.com/caltrigger-io/caltrigger/internal/domain"
)

// UnsupportedTimingError is returned for timing types this engine does not
// implement yet. New timings extend Compute additively.
type UnsupportedTimingError struct {
	Timing domain.TimingType
}

func (e *UnsupportedTimingError) Error() string {
	return fmt.Sprintf("unsupported timing type %q", e.Timing)
}

// Compute returns the fire time for a booking starting at start.
func Compute(start time.Time, timing domain.TimingType, offsetAmount int, offsetUnit domain.OffsetUnit) (time.Time, error) {
	if offsetAmount < 0 {
		return time.Time{}, fmt.Errorf("offset amount must be non-negative, got %d", offsetAmount)
	}

	seconds, err := unitToSeconds(offsetUnit)
	if err != nil {
		return time.Time{}, err
	}
	offset := time.Duration(offsetAmount) * time.Duration(seconds) * time.Second

	switch timing {
	case domain.TimingBeforeEventStart:
		return start.Add(-offset), nil
	default:
		return time.Time{}, &UnsupportedTimingError{Timing: timing}
	}
}

func unitToSeconds(unit domain.OffsetUnit) (int64, error) {
	switch unit {
	case domain.OffsetUnitMinutes:
		return 60, nil
	case domain.OffsetUnitHours:
		return 3600, nil
	case domain.OffsetUnitDays:
		return 86400, nil
	default:
		return 0, fmt.Errorf("unknown offset unit %q", unit)
	}
}
