// Package whatsapp hands rendered reminder texts to the external WhatsApp
// gateway. The gateway's own transport to the phone network is not our
// concern; we only need the handoff to succeed.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type sendRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// HTTPSender posts send requests to the gateway's REST endpoint.
type HTTPSender struct {
	client     *http.Client
	gatewayURL string
	token      string
}

func NewHTTPSender(gatewayURL, token string) *HTTPSender {
	return &HTTPSender{
		client:     &http.Client{},
		gatewayURL: gatewayURL,
		token:      token,
	}
}

// Send delivers one message to the gateway. Non-2xx gateway responses are
// errors carrying the gateway status and body.
func (s *HTTPSender) Send(ctx context.Context, destination, text string) error {
	body, err := json.Marshal(sendRequest{Number: destination, Text: text})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL+"/message/send-text", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("apikey", s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
