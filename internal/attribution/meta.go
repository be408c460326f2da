// Package attribution sends server-to-server purchase events to the Meta
// Conversions API. Delivery is strictly best-effort: the webhook reconciler
// enqueues these through the outbox and a failure is only ever a log line.
package attribution

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const graphAPIBase = "https://graph.facebook.com/v18.0"

// PurchaseEvent describes one completed checkout for attribution.
type PurchaseEvent struct {
	EventID    string // dedup key on the Meta side; the Stripe event id
	UserEmail  string
	ValueCents int64
	Currency   string
	Plan       string
	CouponCode string
}

// Sender delivers purchase events. The webhook reconciler depends on this
// interface; tests substitute a recorder.
type Sender interface {
	SendPurchase(ctx context.Context, event PurchaseEvent) error
}

// Client posts events to the Conversions API for a single pixel.
type Client struct {
	pixelID     string
	accessToken string
	httpClient  *http.Client
	baseURL     string
}

// NewClient creates an attribution client. Empty credentials produce a nil
// client; callers treat nil as "attribution disabled".
func NewClient(pixelID, accessToken string) *Client {
	if pixelID == "" || accessToken == "" {
		return nil
	}
	return &Client{
		pixelID:     pixelID,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		baseURL:     graphAPIBase,
	}
}

// SendPurchase posts a single Purchase event. Emails are SHA-256 hashed as
// the API requires; amounts are converted from cents to currency units.
func (c *Client) SendPurchase(ctx context.Context, event PurchaseEvent) error {
	payload := map[string]interface{}{
		"data": []map[string]interface{}{
			{
				"event_name": "Purchase",
				"event_time": time.Now().Unix(),
				"event_id":   event.EventID,
				"user_data": map[string]interface{}{
					"em": []string{hashEmail(event.UserEmail)},
				},
				"custom_data": map[string]interface{}{
					"value":        float64(event.ValueCents) / 100,
					"currency":     strings.ToUpper(event.Currency),
					"content_name": event.Plan,
					"coupon":       event.CouponCode,
				},
				"action_source": "website",
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode attribution payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/events?access_token=%s", c.baseURL, c.pixelID, c.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build attribution request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("attribution request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("attribution API returned %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

func hashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}
