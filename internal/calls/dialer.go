package calls

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// FollowUpCall is a request for the voice provider to place a retry call.
type FollowUpCall struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	LeadID         uuid.UUID `json:"lead_id"`
}

// Dialer is the outbound-call port. The follow-up worker drives it once a
// scheduled task fires.
type Dialer interface {
	Dial(ctx context.Context, call FollowUpCall) error
}

// WebhookDialer posts follow-up call requests to a configured endpoint,
// typically a provider-side automation hook.
type WebhookDialer struct {
	url    string
	client *http.Client
}

func NewWebhookDialer(url string, timeout time.Duration) *WebhookDialer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookDialer{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (d *WebhookDialer) Dial(ctx context.Context, call FollowUpCall) error {
	if d.url == "" {
		return fmt.Errorf("outbound call url not configured")
	}

	body, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("encode call request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("dial request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("dial endpoint returned %d", resp.StatusCode)
	}
	return nil
}

var _ Dialer = (*WebhookDialer)(nil)
