// Package billing wraps the Stripe SDK behind a small gateway interface so
// the reconciliation services can be unit-tested against fakes.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v83"

	"aromazen-backend-go/internal/models"
)

// Sentinel errors surfaced to services and mapped to HTTP statuses by the
// API layer.
var (
	ErrPlanNotFound     = errors.New("plan has no configured price")
	ErrCouponInvalid    = errors.New("coupon is not valid")
	ErrWebhookSignature = errors.New("webhook signature verification failed")
)

// StripeError carries the upstream message and code when a gateway call
// fails, so handlers can surface them to the caller.
type StripeError struct {
	Message       string
	Code          string
	HTTPStatus    int
	OriginalError error
}

func (e *StripeError) Error() string {
	return fmt.Sprintf("stripe: %s (code=%s)", e.Message, e.Code)
}

func (e *StripeError) Unwrap() error { return e.OriginalError }

// CheckoutParams describes one checkout intent. It is constructed from the
// client request, sent once to create a gateway session, and discarded; the
// tracking bag travels as opaque session metadata read back only by the
// webhook reconciler.
type CheckoutParams struct {
	UserID     string
	UserEmail  string
	Plan       models.SubscriptionPlan
	CouponCode string
	Tracking   map[string]string
}

// CheckoutSession is the hosted-checkout redirect handed back to the client.
type CheckoutSession struct {
	ID  string
	URL string
}

// SubscriptionInfo is the slice of a Stripe subscription the reconciler
// needs: its price (for the plan mapping) and status (for the tier).
type SubscriptionInfo struct {
	ID         string
	CustomerID string
	Status     string
	PriceID    string
	Plan       models.SubscriptionPlan
}

// CouponInfo is the result of validating a coupon code.
type CouponInfo struct {
	ID         string
	Name       string
	PercentOff float64
	AmountOff  int64
	Currency   string
}

// CustomerParams describes a gateway customer to create.
type CustomerParams struct {
	UserID string
	Email  string
	Name   string
}

// Gateway is the payment-gateway adapter used by the services. The
// implementation in this package talks to Stripe; tests substitute fakes.
type Gateway interface {
	// ConstructEvent verifies a webhook delivery's signature against the
	// endpoint secret and returns the parsed event. ErrWebhookSignature is
	// returned for an absent, malformed or mismatched signature.
	ConstructEvent(payload []byte, sigHeader string) (*stripe.Event, error)

	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error)

	// CustomerExists reports whether the customer id still resolves in the
	// gateway. Deleted customers and test/live key mismatches both report
	// false without error.
	CustomerExists(ctx context.Context, customerID string) (bool, error)
	CreateCustomer(ctx context.Context, params CustomerParams) (string, error)
	CreatePortalSession(ctx context.Context, customerID string) (string, error)

	// ValidateCoupon retrieves a coupon with a bounded timeout and a single
	// retry for transient failures. ErrCouponInvalid covers unknown and
	// expired codes.
	ValidateCoupon(ctx context.Context, code string) (*CouponInfo, error)

	// PriceForPlan and PlanForPrice expose the static plan↔price table.
	PriceForPlan(plan models.SubscriptionPlan) (string, bool)
	PlanForPrice(priceID string) (models.SubscriptionPlan, bool)
}
