package models

import (
	"strings"
	"time"
)

// SubscriptionTier is the two-valued entitlement state gating premium content.
type SubscriptionTier string

const (
	TierFree    SubscriptionTier = "free"
	TierPremium SubscriptionTier = "premium"
)

// SubscriptionPlan identifies the billing cadence of a premium subscription.
// It is informational only: access is gated exclusively by the tier.
// PlanNone is persisted as NULL in the profiles table.
type SubscriptionPlan string

const (
	PlanNone      SubscriptionPlan = ""
	PlanMonthly   SubscriptionPlan = "monthly"
	PlanQuarterly SubscriptionPlan = "quarterly"
	PlanAnnual    SubscriptionPlan = "annual"
)

// ParsePlan validates a plan string coming from a client or from Stripe
// metadata. It returns false for anything outside the three known plans.
func ParsePlan(s string) (SubscriptionPlan, bool) {
	switch plan := SubscriptionPlan(strings.ToLower(strings.TrimSpace(s))); plan {
	case PlanMonthly, PlanQuarterly, PlanAnnual:
		return plan, true
	}
	return PlanNone, false
}

// Profile is the durable entitlement record, one row per user.
// The row ID is the Supabase Auth user ID; the row is created with
// tier=free by a signup trigger and mutated only by the webhook reconciler
// (plus the narrowly-scoped portal repair path, which may touch only
// StripeCustomerID).
type Profile struct {
	ID                    string           `json:"id"`
	Email                 string           `json:"email"`
	FullName              string           `json:"fullName,omitempty"`
	SubscriptionTier      SubscriptionTier `json:"subscriptionTier"`
	SubscriptionPlan      SubscriptionPlan `json:"subscriptionPlan,omitempty"`
	StripeCustomerID      string           `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID  string           `json:"stripeSubscriptionId,omitempty"`
	SubscriptionStartDate *time.Time       `json:"subscriptionStartDate,omitempty"`
	AIQuestionsUsed       int              `json:"aiQuestionsUsed"`
	CreatedAt             time.Time        `json:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
}

// IsPremium reports whether the profile currently grants premium access.
func (p *Profile) IsPremium() bool {
	return p.SubscriptionTier == TierPremium
}
