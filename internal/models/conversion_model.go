package models

import "time"

// Conversion is the append-only record of one completed checkout.
// It is written exactly once by the webhook reconciler on
// checkout.session.completed and never updated by later subscription
// events; it exists for idempotency checks and as an audit trail.
type Conversion struct {
	ID                   string    `json:"id"`
	EventID              string    `json:"eventId"`   // Stripe event ID, unique
	SessionID            string    `json:"sessionId"` // Stripe checkout session ID
	UserID               string    `json:"userId"`
	Plan                 SubscriptionPlan `json:"plan"`
	CouponCode           string    `json:"couponCode,omitempty"`
	AmountTotal          int64     `json:"amountTotal"` // smallest currency unit
	Currency             string    `json:"currency"`
	StripeCustomerID     string    `json:"stripeCustomerId"`
	StripeSubscriptionID string    `json:"stripeSubscriptionId"`
	UTMSource            string    `json:"utmSource,omitempty"`
	UTMMedium            string    `json:"utmMedium,omitempty"`
	UTMCampaign          string    `json:"utmCampaign,omitempty"`
	PixelSent            bool      `json:"pixelSent"` // attribution event delivered downstream
	CreatedAt            time.Time `json:"createdAt"`
}
