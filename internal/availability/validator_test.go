package availability

import (
	"errors"
	"strings"
	"testing"

	"github.com/caltrigger-io/caltrigger/internal/domain"
)

func win(day int, start, end string) domain.AvailabilityWindow {
	return domain.AvailabilityWindow{
		DayOfWeek: day,
		StartTime: start,
		EndTime:   end,
		Timezone:  "UTC",
		IsActive:  true,
	}
}

func TestValidate_OverlapDetected(t *testing.T) {
	err := Validate([]domain.AvailabilityWindow{
		win(1, "09:00", "10:00"),
		win(1, "09:30", "10:30"),
	})

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Day != 1 {
		t.Errorf("Day = %d, want 1", conflict.Day)
	}
	if !strings.Contains(conflict.Error(), "Monday") {
		t.Errorf("message should name the day: %q", conflict.Error())
	}
	if !strings.Contains(conflict.Error(), "09:00-10:00") || !strings.Contains(conflict.Error(), "09:30-10:30") {
		t.Errorf("message should name both ranges: %q", conflict.Error())
	}
}

func TestValidate_OverlapIsSymmetric(t *testing.T) {
	forward := Validate([]domain.AvailabilityWindow{
		win(2, "09:00", "10:00"),
		win(2, "09:30", "10:30"),
	})
	reversed := Validate([]domain.AvailabilityWindow{
		win(2, "09:30", "10:30"),
		win(2, "09:00", "10:00"),
	})
	if (forward == nil) != (reversed == nil) {
		t.Errorf("overlap detection not symmetric: %v vs %v", forward, reversed)
	}
	if forward == nil {
		t.Error("expected conflict in both orders")
	}
}

func TestValidate_TouchingWindowsDoNotConflict(t *testing.T) {
	err := Validate([]domain.AvailabilityWindow{
		win(3, "09:00", "10:00"),
		win(3, "10:00", "11:00"),
	})
	if err != nil {
		t.Errorf("touching windows should not conflict: %v", err)
	}
}

func TestValidate_DifferentDaysDoNotConflict(t *testing.T) {
	err := Validate([]domain.AvailabilityWindow{
		win(1, "09:00", "17:00"),
		win(2, "09:00", "17:00"),
	})
	if err != nil {
		t.Errorf("windows on different days should not conflict: %v", err)
	}
}

func TestValidate_InactiveWindowsIgnored(t *testing.T) {
	inactive := win(4, "09:30", "10:30")
	inactive.IsActive = false

	err := Validate([]domain.AvailabilityWindow{
		win(4, "09:00", "10:00"),
		inactive,
	})
	if err != nil {
		t.Errorf("inactive windows must not participate: %v", err)
	}
}

func TestValidate_MalformedTime(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
	}{
		{"missing colon", "0900", "10:00"},
		{"hour out of range", "25:00", "26:00"},
		{"minute out of range", "09:61", "10:00"},
		{"empty", "", "10:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate([]domain.AvailabilityWindow{win(0, tt.start, tt.end)})
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FormatError, got %v", err)
			}
		})
	}
}

func TestValidate_BadDayOfWeek(t *testing.T) {
	err := Validate([]domain.AvailabilityWindow{win(7, "09:00", "10:00")})
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError for day 7, got %v", err)
	}
	if fe.Field != "dayOfWeek" {
		t.Errorf("Field = %q, want dayOfWeek", fe.Field)
	}
}

func TestValidate_FirstConflictWins(t *testing.T) {
	// Three mutually overlapping windows: only the first conflicting pair is reported.
	err := Validate([]domain.AvailabilityWindow{
		win(5, "09:00", "12:00"),
		win(5, "10:00", "13:00"),
		win(5, "11:00", "14:00"),
	})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.First != "09:00-12:00" || conflict.Second != "10:00-13:00" {
		t.Errorf("expected first pair reported, got %s / %s", conflict.First, conflict.Second)
	}
}

func TestValidate_Empty(t *testing.T) {
	if err := Validate(nil); err != nil {
		t.Errorf("empty schedule should be valid: %v", err)
	}
}
