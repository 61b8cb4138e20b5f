package domain

import (
	"time"

	"github.com/google/uuid"
)

// Agent is the schedulable entity reminders are attached to. Agent CRUD
// lives outside this engine; we only read the fields the resolver and the
// dispatcher need.
type Agent struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
	Name    string

	CalendarAPIKey     string
	CalendarAPIVersion string // "v1" selects the legacy API, anything else the current one
	MeetingID          string // optional meeting/calendar identifier to narrow bookings

	WhatsAppNumber string

	CreatedAt time.Time
	UpdatedAt time.Time
}
