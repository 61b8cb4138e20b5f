package cron

import (
	"testing"
	"time"
)

func TestParser_ValidExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"every minute", "* * * * *"},
		{"every 5 minutes", "*/5 * * * *"},
		{"every hour", "0 * * * *"},
		{"weekday business hours", "0 9-17 * * 1-5"},
		{"daily 2:30am", "30 2 * * *"},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := p.Parse(tt.expr, "UTC")
			if err != nil {
				t.Errorf("Parse(%q, UTC) returned error: %v", tt.expr, err)
			}
			if sched == nil {
				t.Errorf("Parse(%q, UTC) returned nil schedule", tt.expr)
			}
		})
	}
}

func TestParser_InvalidExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"four fields", "* * * *"},
		{"six fields", "* * * * * *"},
		{"invalid minute 60", "60 * * * *"},
		{"non-numeric", "abc * * * *"},
		{"empty", ""},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Parse(tt.expr, "UTC"); err == nil {
				t.Errorf("Parse(%q, UTC) should return error", tt.expr)
			}
		})
	}
}

func TestParser_InvalidTimezone(t *testing.T) {
	p := NewParser()
	if _, err := p.Parse("* * * * *", "Mars/Olympus"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestParser_TimezoneEvaluation(t *testing.T) {
	p := NewParser()
	sched, err := p.Parse("0 9 * * *", "America/New_York")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// 12:00 UTC is 08:00 in New York (summer), so the next 9am NY fire is
	// one hour later: 13:00 UTC.
	after := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	next := sched.Next(after)
	want := time.Date(2024, 7, 1, 13, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%s) = %s, want %s", after, next, want)
	}
}

func TestParseNaive(t *testing.T) {
	p := NewParser()
	sched, err := p.ParseNaive("30 2 * * *")
	if err != nil {
		t.Fatalf("ParseNaive: %v", err)
	}

	after := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	next := sched.Next(after)
	want := time.Date(2024, 7, 2, 2, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%s) = %s, want %s", after, next, want)
	}
}

func TestNextN(t *testing.T) {
	p := NewParser()
	sched, err := p.Parse("*/15 * * * *", "UTC")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	after := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	got := NextN(sched, after, 3)
	want := []time.Time{
		time.Date(2024, 7, 1, 12, 15, 0, 0, time.UTC),
		time.Date(2024, 7, 1, 12, 30, 0, 0, time.UTC),
		time.Date(2024, 7, 1, 12, 45, 0, 0, time.UTC),
	}
	if len(got) != len(want) {
		t.Fatalf("NextN returned %d times, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("NextN[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
