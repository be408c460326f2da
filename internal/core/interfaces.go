package core

import (
	"context"

	"aromazen-backend-go/internal/billing"
)

// WebhookService consumes Stripe webhook deliveries and applies the
// entitlement transition each event type implies.
type WebhookService interface {
	// ProcessEvent verifies the delivery and dispatches it. A returned
	// error means the delivery must be answered non-2xx so Stripe
	// redelivers; business-logic no-ops return nil.
	ProcessEvent(ctx context.Context, payload []byte, sigHeader string) error
}

// CheckoutService translates a plan selection into a hosted-checkout
// redirect URL. It performs no local writes: the write path for entitlement
// state is exclusively the webhook reconciler.
type CheckoutService interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (*billing.CheckoutSession, error)
	ValidateCoupon(ctx context.Context, code string) (*billing.CouponInfo, error)
}

// PortalService produces a hosted billing-management URL, self-healing a
// missing or stale gateway-customer linkage without ever altering the tier.
type PortalService interface {
	// RepairAndCreateSession always returns a non-nil result carrying the
	// per-step diagnostic markers, even when a step failed.
	RepairAndCreateSession(ctx context.Context, userID, email, fullName string) *PortalRepairResult
}

// UsageService tracks the free tier's monthly AI question allowance.
type UsageService interface {
	// Status never fails: backend errors degrade to a permissive free-tier
	// default rather than blocking the user.
	Status(ctx context.Context, userID string) UsageStatus

	// Consume counts one question for free-tier users.
	// ErrQuestionLimitReached signals the caller must offer an upgrade;
	// premium users are never counted and never limited.
	Consume(ctx context.Context, userID string) (UsageStatus, error)
}
