package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aromazen-backend-go/internal/models"
)

// MetadataSyncer pushes the entitlement tier into the auth user's
// user_metadata so freshly-issued JWTs carry it. The DB row stays
// authoritative; this is a best-effort cache update and callers must treat
// failures as non-fatal.
type MetadataSyncer interface {
	SyncTier(ctx context.Context, userID string, tier models.SubscriptionTier, plan models.SubscriptionPlan) error
}

// AdminClient calls the Supabase Auth admin REST API with the service role
// key. Only the single metadata-update endpoint is wrapped; the surface is
// too small to warrant an SDK.
type AdminClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// NewAdminClient creates an admin client for the given project URL
// (https://<ref>.supabase.co) and service role key.
func NewAdminClient(baseURL, serviceKey string) *AdminClient {
	return &AdminClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SyncTier updates user_metadata.subscription_tier (and plan) for the auth
// user. The claim shows up on the next token refresh, not on tokens already
// held by clients.
func (c *AdminClient) SyncTier(ctx context.Context, userID string, tier models.SubscriptionTier, plan models.SubscriptionPlan) error {
	if userID == "" {
		return fmt.Errorf("userID cannot be empty for SyncTier")
	}

	body, err := json.Marshal(map[string]interface{}{
		"user_metadata": map[string]interface{}{
			"subscription_tier": string(tier),
			"subscription_plan": string(plan),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to encode metadata payload: %w", err)
	}

	url := fmt.Sprintf("%s/auth/v1/admin/users/%s", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build admin request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("admin metadata update failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Bounded read; admin error bodies are small JSON blobs.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("admin metadata update for user %s returned %d: %s", userID, resp.StatusCode, string(msg))
	}
	return nil
}
