package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/caltrigger-io/caltrigger/internal/domain"
)

type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) WebhookResult
}

type WebhookRequest struct {
	URL     string
	Payload WebhookPayload
}

// WebhookPayload describes the trigger and booking a reminder fired for.
type WebhookPayload struct {
	TriggerID    string `json:"trigger_id"`
	AgentID      string `json:"agent_id"`
	BookingUID   string `json:"booking_uid"`
	BookingTitle string `json:"booking_title,omitempty"`
	BookingStart string `json:"booking_start,omitempty"`
	AttendeeName string `json:"attendee_name,omitempty"`
	ScheduledFor string `json:"scheduled_for"`
}

type WebhookResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r WebhookResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func buildWebhookPayload(trigger domain.Trigger, booking domain.Booking, fireTime time.Time) WebhookPayload {
	return WebhookPayload{
		TriggerID:    trigger.ID.String(),
		AgentID:      trigger.AgentID.String(),
		BookingUID:   booking.UID,
		BookingTitle: booking.Title,
		BookingStart: booking.StartRaw,
		AttendeeName: booking.AttendeeName,
		ScheduledFor: fireTime.UTC().Format(time.RFC3339),
	}
}

// HTTPWebhookSender posts reminder payloads as JSON. When a signing secret
// is configured, the body is signed with HMAC-SHA256 so receivers can verify
// origin.
type HTTPWebhookSender struct {
	client *http.Client
	secret string
}

func NewHTTPWebhookSender() *HTTPWebhookSender {
	return &HTTPWebhookSender{client: &http.Client{}}
}

// WithSecret enables HMAC signing of outgoing payloads.
func (s *HTTPWebhookSender) WithSecret(secret string) *HTTPWebhookSender {
	s.secret = secret
	return s
}

// Send posts the payload. Headers: X-Caltrigger-Trigger-ID,
// X-Caltrigger-Booking-UID, X-Caltrigger-Signature (when signing).
func (s *HTTPWebhookSender) Send(ctx context.Context, req WebhookRequest) WebhookResult {
	start := time.Now()

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return WebhookResult{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return WebhookResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Caltrigger-Trigger-ID", req.Payload.TriggerID)
	httpReq.Header.Set("X-Caltrigger-Booking-UID", req.Payload.BookingUID)
	if s.secret != "" {
		httpReq.Header.Set("X-Caltrigger-Signature", computeSignature(s.secret, body))
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return WebhookResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	return WebhookResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for webhook receivers to verify incoming payloads.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
