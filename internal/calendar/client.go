// Package calendar fetches bookings from the external calendar provider and
// normalizes its two incompatible API versions into one internal shape.
package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/caltrigger-io/caltrigger/internal/domain"
)

// LegacyAPIVersion selects the older provider API (API key as query
// parameter, {"bookings": [...]} response shape). Any other version string
// selects the current API.
const LegacyAPIVersion = "v1"

// defaultVersionHeader is sent on current-API requests when the configured
// version string is not a YYYY-MM-DD protocol date.
const defaultVersionHeader = "2024-08-13"

var dateVersionPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Credentials carries what one agent needs to query its calendar.
type Credentials struct {
	APIKey     string
	APIVersion string
}

// UpstreamError carries a non-success provider response. The admin surface
// passes status and body through unmodified.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("calendar provider returned %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	httpClient     *http.Client
	legacyBaseURL  string
	currentBaseURL string
}

func NewClient() *Client {
	return &Client{
		httpClient:     &http.Client{},
		legacyBaseURL:  "https://api.cal.com/v1",
		currentBaseURL: "https://api.cal.com/v2",
	}
}

// WithBaseURLs overrides the provider endpoints (tests, self-hosted providers).
func (c *Client) WithBaseURLs(legacy, current string) *Client {
	if legacy != "" {
		c.legacyBaseURL = legacy
	}
	if current != "" {
		c.currentBaseURL = current
	}
	return c
}

// FetchBookings queries the provider version selected by creds.APIVersion
// and returns normalized bookings. Non-2xx responses become *UpstreamError.
func (c *Client) FetchBookings(ctx context.Context, creds Credentials) ([]domain.Booking, error) {
	var req *http.Request
	var err error

	if creds.APIVersion == LegacyAPIVersion {
		endpoint := c.legacyBaseURL + "/bookings?" + url.Values{"apiKey": {creds.APIKey}}.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.currentBaseURL+"/bookings", nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+creds.APIKey)
		req.Header.Set("cal-api-version", versionHeader(creds.APIVersion))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bookings: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return ParseResponse(creds.APIVersion, body)
}

// versionHeader returns the protocol-version header value: the configured
// string when it is a YYYY-MM-DD date, the fixed default otherwise.
func versionHeader(configured string) string {
	if dateVersionPattern.MatchString(configured) {
		return configured
	}
	return defaultVersionHeader
}
