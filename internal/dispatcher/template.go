package dispatcher

import (
	"strings"
	"time"

	"github.com/caltrigger-io/caltrigger/internal/domain"
)

// RenderTemplate substitutes booking fields into a message template.
// Supported placeholders: {name}, {title}, {date}, {time}. Date and time are
// rendered in the attendee's timezone when it resolves, otherwise as stored.
func RenderTemplate(template string, booking domain.Booking) string {
	date, clock := "", ""
	if booking.Start != nil {
		at := *booking.Start
		if booking.AttendeeTimeZone != "" {
			if loc, err := time.LoadLocation(booking.AttendeeTimeZone); err == nil {
				at = at.In(loc)
			}
		}
		date = at.Format("2006-01-02")
		clock = at.Format("15:04")
	}

	return strings.NewReplacer(
		"{name}", booking.AttendeeName,
		"{title}", booking.Title,
		"{date}", date,
		"{time}", clock,
	).Replace(template)
}
