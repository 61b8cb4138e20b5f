package domain

import (
	"time"

	"github.com/google/uuid"
)

// CronRun is the heartbeat record of one engine invocation.
type CronRun struct {
	ID uuid.UUID

	StartedAt  time.Time
	FinishedAt time.Time
	DurationMs int64

	Success bool
	DryRun  bool

	TriggersProcessed int
	RemindersDue      int
	RemindersSent     int
	RemindersFailed   int
	RemindersSkipped  int

	Message string
}
