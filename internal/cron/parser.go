// Package cron wraps standard 5-field cron expression parsing with
// timezone-aware evaluation.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Parse compiles an expression for evaluation in the given timezone.
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

// ParseNaive compiles an expression evaluated in the reference time's own
// location, with no timezone conversion. Used as a fallback when the
// configured timezone does not resolve.
func (p *Parser) ParseNaive(expression string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}
	return &schedule{sched: sched}, nil
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location // nil = evaluate in after's own location
}

func (s *schedule) Next(after time.Time) time.Time {
	if s.loc != nil {
		after = after.In(s.loc)
	}
	return s.sched.Next(after)
}

// NextN returns the next n fire times strictly after the given instant.
func NextN(s Schedule, after time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	at := after
	for i := 0; i < n; i++ {
		at = s.Next(at)
		if at.IsZero() {
			break
		}
		out = append(out, at)
	}
	return out
}
