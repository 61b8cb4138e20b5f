package firetime

import (
	"errors"
	"testing"
	"time"

	"github.com/caltrigger-io/caltrigger/internal/domain"
)

func TestCompute_BeforeEventStart(t *testing.T) {
	start := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		amount int
		unit   domain.OffsetUnit
		want   time.Time
	}{
		{"30 minutes", 30, domain.OffsetUnitMinutes, time.Date(2024, 1, 10, 14, 30, 0, 0, time.UTC)},
		{"1 hour", 1, domain.OffsetUnitHours, time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC)},
		{"1 day", 1, domain.OffsetUnitDays, time.Date(2024, 1, 9, 15, 0, 0, 0, time.UTC)},
		{"zero offset", 0, domain.OffsetUnitMinutes, start},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(start, domain.TimingBeforeEventStart, tt.amount, tt.unit)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Compute = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCompute_PreservesOffset(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*3600)
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, loc)

	got, err := Compute(start, domain.TimingBeforeEventStart, 15, domain.OffsetUnitMinutes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Location() != loc {
		t.Errorf("location changed: got %v", got.Location())
	}
	if !got.Equal(start.Add(-15 * time.Minute)) {
		t.Errorf("Compute = %s, want %s", got, start.Add(-15*time.Minute))
	}
}

func TestCompute_NegativeAmount(t *testing.T) {
	_, err := Compute(time.Now(), domain.TimingBeforeEventStart, -1, domain.OffsetUnitMinutes)
	if err == nil {
		t.Error("expected error for negative offset amount")
	}
}

func TestCompute_UnknownUnit(t *testing.T) {
	_, err := Compute(time.Now(), domain.TimingBeforeEventStart, 5, domain.OffsetUnit("weeks"))
	if err == nil {
		t.Error("expected error for unknown unit")
	}
}

func TestCompute_UnsupportedTiming(t *testing.T) {
	_, err := Compute(time.Now(), domain.TimingType("after_event_end"), 5, domain.OffsetUnitMinutes)
	var ute *UnsupportedTimingError
	if !errors.As(err, &ute) {
		t.Fatalf("expected UnsupportedTimingError, got %v", err)
	}
	if ute.Timing != "after_event_end" {
		t.Errorf("Timing = %q, want after_event_end", ute.Timing)
	}
}
