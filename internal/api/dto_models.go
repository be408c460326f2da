// Package api contains the Gin HTTP handlers and route wiring for the
// subscription backend.
package api

// ErrorResponse is the standardized error envelope for all endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// CreateCheckoutSessionRequest is the checkout intent posted by the client.
// Tracking carries opaque attribution values (utm_source etc.) echoed back
// through the gateway session metadata.
type CreateCheckoutSessionRequest struct {
	Plan       string            `json:"plan"`
	UserID     string            `json:"userId"`
	UserEmail  string            `json:"userEmail"`
	CouponCode string            `json:"couponCode,omitempty"`
	Tracking   map[string]string `json:"tracking,omitempty"`
}

// CreateCheckoutSessionResponse returns the hosted-checkout redirect.
type CreateCheckoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// ValidateCouponRequest carries the coupon code to validate.
type ValidateCouponRequest struct {
	CouponCode string `json:"couponCode"`
}

// ValidateCouponResponse reports whether a coupon is redeemable and its
// discount. Only one of PercentOff/AmountOff is set.
type ValidateCouponResponse struct {
	Valid      bool     `json:"valid"`
	PercentOff *float64 `json:"percentOff,omitempty"`
	AmountOff  *int64   `json:"amountOff,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// FixPortalResponse is the contract of the portal repair endpoint. The
// Portuguese field names are what the PWA client was built against.
type FixPortalResponse struct {
	Sucesso     bool              `json:"sucesso"`
	Diagnostico map[string]string `json:"diagnostico"`
	PortalURL   string            `json:"portal_url,omitempty"`
	Erro        string            `json:"erro,omitempty"`
}

// UsageResponse is the allowance snapshot for the AI question counter.
type UsageResponse struct {
	IsPremium          bool   `json:"isPremium"`
	QuestionsUsed      int    `json:"questionsUsed"`
	QuestionsRemaining int    `json:"questionsRemaining"`
	CanAsk             bool   `json:"canAsk"`
	ShowWarning        bool   `json:"showWarning"`
	Limit              int    `json:"limit"`
	Authenticated      bool   `json:"authenticated"`
	Error              string `json:"error,omitempty"`
	NeedsUpgrade       bool   `json:"needsUpgrade,omitempty"`
}

// WebhookAck is the acknowledgment body Stripe expects on a 2xx.
type WebhookAck struct {
	Received bool `json:"received"`
}
