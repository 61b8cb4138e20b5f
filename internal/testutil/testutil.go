// Package testutil holds helpers shared by the package test suites.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

// FakeClock is a manually advanced time source. Hand its Now method to any
// component that takes a clock func.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward. Negative d moves it back.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestContext returns a context bounded at five seconds and cancelled when
// the test finishes, so a wedged dependency fails the test instead of
// hanging the run.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
