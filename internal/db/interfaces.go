package db

import (
	"context"
	"time"

	"aromazen-backend-go/internal/models"
)

// ProfileRepository defines the interface for entitlement record storage.
//
// The write methods are intentionally narrow: ActivateSubscription and the
// UpdateTier* pair are used only by the webhook reconciler, and
// UpdateStripeCustomerID only by the portal repair path, preserving the
// single-writer discipline over tier and plan.
type ProfileRepository interface {
	GetByID(ctx context.Context, userID string) (*models.Profile, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*models.Profile, error)

	// Create inserts a fresh free-tier profile. Used only as the portal
	// repair safety net for users whose signup trigger has not run.
	Create(ctx context.Context, profile *models.Profile) error

	// ActivateSubscription records a completed checkout: customer id,
	// subscription id, tier=premium, plan and start timestamp in one write.
	ActivateSubscription(ctx context.Context, userID, customerID, subscriptionID string, plan models.SubscriptionPlan, startedAt time.Time) (*models.Profile, error)

	// UpdateTierByCustomer sets tier and plan for the profile owning the
	// given Stripe customer id. Passing models.PlanNone clears the plan.
	UpdateTierByCustomer(ctx context.Context, customerID string, tier models.SubscriptionTier, plan models.SubscriptionPlan) (*models.Profile, error)

	// UpdateTierOnlyByCustomer sets the tier and leaves the plan untouched
	// (renewal confirmation on invoice.payment_succeeded).
	UpdateTierOnlyByCustomer(ctx context.Context, customerID string, tier models.SubscriptionTier) (*models.Profile, error)

	// UpdateStripeCustomerID replaces only the gateway customer linkage;
	// tier and plan are never touched by this method.
	UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error

	// IncrementAIQuestions bumps the monthly counter if and only if it is
	// still below limit. It returns the post-operation counter value and
	// whether an increment actually happened.
	IncrementAIQuestions(ctx context.Context, userID string, limit int) (used int, incremented bool, err error)
}

// ConversionRepository defines the interface for the append-only conversion
// log. Rows are inserted once and never updated.
type ConversionRepository interface {
	Insert(ctx context.Context, conversion *models.Conversion) error
}
