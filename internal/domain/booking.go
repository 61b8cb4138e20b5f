package domain

import "time"

// Booking is the normalized, read-only view of one external calendar event.
// Bookings are re-fetched every cycle and never persisted by this engine.
type Booking struct {
	UID   string
	ID    int64
	Title string

	// StartRaw is the provider's start value verbatim. Start is nil when the
	// value is absent or unparseable; such bookings are kept by the resolver
	// but can never become due.
	StartRaw string
	Start    *time.Time

	Status      string
	EventTypeID int64
	CalendarID  string // from provider metadata, may be empty

	AttendeeName     string
	AttendeePhone    string
	AttendeeTimeZone string
}
