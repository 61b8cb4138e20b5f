package api

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/caltrigger-io/caltrigger/internal/domain"
)

// validateTrigger checks a trigger request field by field in a fixed order:
// offset amount, offset unit, timing type, scope, action type, then the
// action-specific payload. The first failure wins.
func validateTrigger(req TriggerRequest) error {
	if req.OffsetAmount < 0 {
		return fmt.Errorf("offsetAmount must not be negative")
	}

	switch domain.OffsetUnit(req.OffsetUnit) {
	case domain.OffsetUnitMinutes, domain.OffsetUnitHours, domain.OffsetUnitDays:
	default:
		return fmt.Errorf("offsetUnit must be 'minutes', 'hours' or 'days', got %q", req.OffsetUnit)
	}

	if req.TimingType == "" {
		return fmt.Errorf("timingType is required")
	}
	if domain.TimingType(req.TimingType) != domain.TimingBeforeEventStart {
		return fmt.Errorf("unsupported timingType %q", req.TimingType)
	}

	switch domain.ScopeType(req.ScopeType) {
	case domain.ScopeTypeAgent:
	case domain.ScopeTypeCalendar, domain.ScopeTypeEventType:
		if strings.TrimSpace(req.ScopeReference) == "" {
			return fmt.Errorf("scopeReference is required for scopeType %q", req.ScopeType)
		}
	default:
		return fmt.Errorf("scopeType must be 'agent', 'calendar' or 'event_type', got %q", req.ScopeType)
	}

	switch domain.ActionType(req.ActionType) {
	case domain.ActionTypeWebhook:
		return validateWebhookAction(req)
	case domain.ActionTypeWhatsApp:
		return validateMessageAction(req.Message)
	default:
		return fmt.Errorf("actionType must be 'webhook' or 'whatsapp_message', got %q", req.ActionType)
	}
}

func validateWebhookAction(req TriggerRequest) error {
	if req.WebhookURL == "" {
		return fmt.Errorf("webhookUrl is required for webhook triggers")
	}
	u, err := url.Parse(req.WebhookURL)
	if err != nil {
		return fmt.Errorf("invalid webhookUrl: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhookUrl scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("webhookUrl host is required")
	}
	return nil
}

func validateMessageAction(msg *MessageRequest) error {
	if msg == nil {
		return fmt.Errorf("message is required for whatsapp_message triggers")
	}

	switch domain.MessageChannel(msg.Channel) {
	case domain.MessageChannelParticipant:
	case domain.MessageChannelCustom:
		if sanitizePhone(msg.CustomNumber) == "" {
			return fmt.Errorf("customNumber is required for the custom channel")
		}
	default:
		return fmt.Errorf("message.channel must be 'participant' or 'custom', got %q", msg.Channel)
	}

	if strings.TrimSpace(msg.TemplateText) == "" {
		return fmt.Errorf("message.templateText is required")
	}
	return nil
}

// sanitizePhone strips everything but digits. An empty result means the
// number is effectively absent.
func sanitizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
