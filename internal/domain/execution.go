package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ExecutionLog is one append-only dispatch attempt record. For a given
// (TriggerID, BookingUID, ScheduledFor) at most one successful record may
// exist; failed attempts may repeat.
type ExecutionLog struct {
	ID uuid.UUID

	TriggerID  uuid.UUID
	BookingUID string

	ScheduledFor time.Time // the computed fire time
	ExecutedAt   time.Time

	Success       bool
	WebhookStatus *int // HTTP status of a webhook action, nil otherwise
	ErrorMessage  string

	CreatedAt time.Time
}

// TriggerLogs groups the attempts of one trigger against one booking,
// newest first.
type TriggerLogs struct {
	TriggerID uuid.UUID
	Attempts  []ExecutionLog
}

// BookingLogs groups all attempts recorded against one booking.
type BookingLogs struct {
	BookingUID string
	Triggers   []TriggerLogs
}

// GroupLogs arranges a flat log list for display: grouped by booking uid,
// then by trigger id, attempts sorted by ExecutedAt descending. Ordering is
// stable: bookings and triggers appear in order of their newest attempt.
func GroupLogs(logs []ExecutionLog) []BookingLogs {
	byBooking := make(map[string][]ExecutionLog)
	var bookingOrder []string
	for _, l := range logs {
		if _, ok := byBooking[l.BookingUID]; !ok {
			bookingOrder = append(bookingOrder, l.BookingUID)
		}
		byBooking[l.BookingUID] = append(byBooking[l.BookingUID], l)
	}

	result := make([]BookingLogs, 0, len(bookingOrder))
	for _, uid := range bookingOrder {
		entries := byBooking[uid]
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].ExecutedAt.After(entries[j].ExecutedAt)
		})

		byTrigger := make(map[uuid.UUID]*TriggerLogs)
		var triggerOrder []uuid.UUID
		for _, l := range entries {
			tl, ok := byTrigger[l.TriggerID]
			if !ok {
				tl = &TriggerLogs{TriggerID: l.TriggerID}
				byTrigger[l.TriggerID] = tl
				triggerOrder = append(triggerOrder, l.TriggerID)
			}
			tl.Attempts = append(tl.Attempts, l)
		}

		bl := BookingLogs{BookingUID: uid, Triggers: make([]TriggerLogs, 0, len(triggerOrder))}
		for _, tid := range triggerOrder {
			bl.Triggers = append(bl.Triggers, *byTrigger[tid])
		}
		result = append(result, bl)
	}
	return result
}
