package domain

import (
	"time"

	"github.com/google/uuid"
)

type ScopeType string

const (
	ScopeTypeAgent     ScopeType = "agent"
	ScopeTypeCalendar  ScopeType = "calendar"
	ScopeTypeEventType ScopeType = "event_type"
)

type TimingType string

const (
	TimingBeforeEventStart TimingType = "before_event_start"
)

type OffsetUnit string

const (
	OffsetUnitMinutes OffsetUnit = "minutes"
	OffsetUnitHours   OffsetUnit = "hours"
	OffsetUnitDays    OffsetUnit = "days"
)

type ActionType string

const (
	ActionTypeWebhook  ActionType = "webhook"
	ActionTypeWhatsApp ActionType = "whatsapp_message"
)

type MessageChannel string

const (
	MessageChannelParticipant MessageChannel = "participant"
	MessageChannelCustom      MessageChannel = "custom"
)

// MessageConfig is the action payload for whatsapp_message triggers.
type MessageConfig struct {
	Version      int
	Channel      MessageChannel
	CustomNumber string // digits only, required iff Channel == custom
	TemplateID   string
	TemplateText string
}

// Trigger is a persisted reminder rule: when to fire relative to a booking's
// start, which bookings it applies to, and what action to perform.
type Trigger struct {
	ID      uuid.UUID
	AgentID uuid.UUID

	ScopeType      ScopeType
	ScopeReference string // empty = no reference

	TimingType   TimingType
	OffsetAmount int
	OffsetUnit   OffsetUnit

	ActionType ActionType
	WebhookURL string        // set iff ActionType == webhook
	Message    MessageConfig // set iff ActionType == whatsapp_message

	IsActive bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
