package api

import (
	"time"

	"github.com/caltrigger-io/caltrigger/internal/domain"
)

type MessageRequest struct {
	Version      int    `json:"version,omitempty"`
	Channel      string `json:"channel"`
	CustomNumber string `json:"customNumber,omitempty"`
	TemplateID   string `json:"templateId,omitempty"`
	TemplateText string `json:"templateText"`
}

type TriggerRequest struct {
	AgentID        string          `json:"agentId"`
	ScopeType      string          `json:"scopeType"`
	ScopeReference string          `json:"scopeReference,omitempty"`
	TimingType     string          `json:"timingType"`
	OffsetAmount   int             `json:"offsetAmount"`
	OffsetUnit     string          `json:"offsetUnit"`
	ActionType     string          `json:"actionType"`
	WebhookURL     string          `json:"webhookUrl,omitempty"`
	Message        *MessageRequest `json:"message,omitempty"`
	IsActive       *bool           `json:"isActive,omitempty"` // default true
}

type TriggerResponse struct {
	ID             string          `json:"id"`
	AgentID        string          `json:"agentId"`
	ScopeType      string          `json:"scopeType"`
	ScopeReference string          `json:"scopeReference,omitempty"`
	TimingType     string          `json:"timingType"`
	OffsetAmount   int             `json:"offsetAmount"`
	OffsetUnit     string          `json:"offsetUnit"`
	ActionType     string          `json:"actionType"`
	WebhookURL     string          `json:"webhookUrl,omitempty"`
	Message        *MessageRequest `json:"message,omitempty"`
	IsActive       bool            `json:"isActive"`
	CreatedAt      string          `json:"createdAt"`
	UpdatedAt      string          `json:"updatedAt"`
}

type ListTriggersResponse struct {
	Triggers []TriggerResponse `json:"triggers"`
}

type BookingResponse struct {
	UID              string `json:"uid"`
	ID               int64  `json:"id,omitempty"`
	Title            string `json:"title,omitempty"`
	Start            string `json:"start,omitempty"`
	Status           string `json:"status,omitempty"`
	EventTypeID      int64  `json:"eventTypeId,omitempty"`
	CalendarID       string `json:"calendarId,omitempty"`
	AttendeeName     string `json:"attendeeName,omitempty"`
	AttendeeTimeZone string `json:"attendeeTimeZone,omitempty"`
}

type ListBookingsResponse struct {
	Bookings []BookingResponse `json:"bookings"`
}

type AttemptResponse struct {
	ID            string `json:"id"`
	ScheduledFor  string `json:"scheduledFor"`
	ExecutedAt    string `json:"executedAt"`
	Success       bool   `json:"success"`
	WebhookStatus *int   `json:"webhookStatus,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

type TriggerLogsResponse struct {
	TriggerID string            `json:"triggerId"`
	Attempts  []AttemptResponse `json:"attempts"`
}

type BookingLogsResponse struct {
	BookingUID string                `json:"bookingUid"`
	Triggers   []TriggerLogsResponse `json:"triggers"`
}

type ListExecutionLogsResponse struct {
	Bookings []BookingLogsResponse `json:"bookings"`
}

type CronRunResponse struct {
	StartedAt         string `json:"startedAt"`
	FinishedAt        string `json:"finishedAt"`
	DurationMs        int64  `json:"durationMs"`
	Success           bool   `json:"success"`
	DryRun            bool   `json:"dryRun"`
	TriggersProcessed int    `json:"triggersProcessed"`
	RemindersDue      int    `json:"remindersDue"`
	RemindersSent     int    `json:"remindersSent"`
	RemindersFailed   int    `json:"remindersFailed"`
	RemindersSkipped  int    `json:"remindersSkipped"`
	Message           string `json:"message,omitempty"`
}

type CronStatusResponse struct {
	IsRunning bool             `json:"isRunning"`
	LastRun   *CronRunResponse `json:"lastRun,omitempty"`
	NextRuns  []string         `json:"nextRuns"`
}

type AvailabilityWindowRequest struct {
	DayOfWeek int    `json:"dayOfWeek"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Timezone  string `json:"timezone,omitempty"`
	IsActive  *bool  `json:"isActive,omitempty"` // default true
}

type AvailabilityRequest struct {
	Windows []AvailabilityWindowRequest `json:"windows"`
}

type AvailabilityResponse struct {
	Windows []AvailabilityWindowRequest `json:"windows"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func triggerToResponse(t domain.Trigger) TriggerResponse {
	resp := TriggerResponse{
		ID:             t.ID.String(),
		AgentID:        t.AgentID.String(),
		ScopeType:      string(t.ScopeType),
		ScopeReference: t.ScopeReference,
		TimingType:     string(t.TimingType),
		OffsetAmount:   t.OffsetAmount,
		OffsetUnit:     string(t.OffsetUnit),
		ActionType:     string(t.ActionType),
		WebhookURL:     t.WebhookURL,
		IsActive:       t.IsActive,
		CreatedAt:      formatTime(t.CreatedAt),
		UpdatedAt:      formatTime(t.UpdatedAt),
	}
	if t.ActionType == domain.ActionTypeWhatsApp {
		resp.Message = &MessageRequest{
			Version:      t.Message.Version,
			Channel:      string(t.Message.Channel),
			CustomNumber: t.Message.CustomNumber,
			TemplateID:   t.Message.TemplateID,
			TemplateText: t.Message.TemplateText,
		}
	}
	return resp
}
