package calendar

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/caltrigger-io/caltrigger/internal/domain"
)

// The two provider versions return different envelope keys for the same
// booking content: the current API wraps the list in "data", the legacy one
// in "bookings". ParseResponse is the version-aware parser: the configured
// version selects which shape is expected, the other is tried as fallback,
// and if neither key is present the result is empty, not an error.

type envelope struct {
	Data     []rawBooking `json:"data"`
	Bookings []rawBooking `json:"bookings"`
}

type rawBooking struct {
	UID         string      `json:"uid"`
	ID          int64       `json:"id"`
	Title       string      `json:"title"`
	Start       string      `json:"start"`     // current API
	StartTime   string      `json:"startTime"` // legacy API
	Status      string      `json:"status"`
	EventTypeID int64       `json:"eventTypeId"`
	Metadata    rawMetadata `json:"metadata"`
	Attendees   []rawAttendee `json:"attendees"`
}

type rawMetadata struct {
	CalendarID string `json:"calendarId"`
}

type rawAttendee struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	TimeZone    string `json:"timeZone"`
}

// ParseResponse normalizes a provider response body for the given API
// version into internal bookings.
func ParseResponse(apiVersion string, body []byte) ([]domain.Booking, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}

	var raws []rawBooking
	if apiVersion == LegacyAPIVersion {
		raws = env.Bookings
		if raws == nil {
			raws = env.Data
		}
	} else {
		raws = env.Data
		if raws == nil {
			raws = env.Bookings
		}
	}

	bookings := make([]domain.Booking, 0, len(raws))
	for _, r := range raws {
		bookings = append(bookings, normalize(r))
	}
	return bookings, nil
}

func normalize(r rawBooking) domain.Booking {
	b := domain.Booking{
		UID:         r.UID,
		ID:          r.ID,
		Title:       r.Title,
		Status:      r.Status,
		EventTypeID: r.EventTypeID,
		CalendarID:  r.Metadata.CalendarID,
	}

	b.StartRaw = r.Start
	if b.StartRaw == "" {
		b.StartRaw = r.StartTime
	}
	if b.StartRaw != "" {
		if t, err := time.Parse(time.RFC3339, b.StartRaw); err == nil {
			b.Start = &t
		}
	}

	if len(r.Attendees) > 0 {
		b.AttendeeName = r.Attendees[0].Name
		b.AttendeePhone = r.Attendees[0].PhoneNumber
		b.AttendeeTimeZone = r.Attendees[0].TimeZone
	}
	return b
}
