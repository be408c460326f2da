package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	portalsession "github.com/stripe/stripe-go/v83/billingportal/session"
	"github.com/stripe/stripe-go/v83/checkout/session"
	"github.com/stripe/stripe-go/v83/coupon"
	"github.com/stripe/stripe-go/v83/customer"
	"github.com/stripe/stripe-go/v83/subscription"
	"github.com/stripe/stripe-go/v83/webhook"

	"aromazen-backend-go/internal/models"
)

// couponTimeout bounds the coupon validation call; it sits on the checkout
// form's critical path and must not hang on a slow gateway.
const couponTimeout = 8 * time.Second

// StripeConfig holds the keys and the static plan→price table.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string

	// ClientURL roots the checkout success/cancel redirects and the portal
	// return URL.
	ClientURL string

	PriceMonthly   string
	PriceQuarterly string
	PriceAnnual    string
}

// stripeGateway implements Gateway using Stripe.
type stripeGateway struct {
	config        StripeConfig
	priceByPlan   map[models.SubscriptionPlan]string
	planByPrice   map[string]models.SubscriptionPlan
	webhookSecret string
}

// NewStripeGateway creates the Stripe-backed Gateway. It sets the global
// Stripe API key; the process has a single Stripe account, so per-request
// keys are unnecessary.
func NewStripeGateway(config StripeConfig) (Gateway, error) {
	if config.APIKey == "" {
		return nil, errors.New("stripe API key is required")
	}
	if config.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	if config.PriceMonthly == "" || config.PriceQuarterly == "" || config.PriceAnnual == "" {
		return nil, errors.New("all three plan price IDs are required")
	}

	stripe.Key = config.APIKey

	priceByPlan := map[models.SubscriptionPlan]string{
		models.PlanMonthly:   config.PriceMonthly,
		models.PlanQuarterly: config.PriceQuarterly,
		models.PlanAnnual:    config.PriceAnnual,
	}
	planByPrice := make(map[string]models.SubscriptionPlan, len(priceByPlan))
	for plan, price := range priceByPlan {
		planByPrice[price] = plan
	}

	return &stripeGateway{
		config:        config,
		priceByPlan:   priceByPlan,
		planByPrice:   planByPrice,
		webhookSecret: config.WebhookSecret,
	}, nil
}

// ConstructEvent verifies the delivery signature and parses the event.
// API version mismatches are ignored: the Stripe CLI and older account
// versions produce payloads whose version differs from the SDK's pinned
// one, and signature verification is unaffected by that.
func (g *stripeGateway) ConstructEvent(payload []byte, sigHeader string) (*stripe.Event, error) {
	if len(payload) == 0 || sigHeader == "" {
		return nil, ErrWebhookSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}
	return &event, nil
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	priceID, ok := g.priceByPlan[params.Plan]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPlanNotFound, params.Plan)
	}

	// The reconciler identifies the buyer through this metadata; everything
	// else in the bag is opaque attribution data written through to the
	// conversion record.
	metadata := map[string]string{
		"supabase_user_id": params.UserID,
		"plan":             string(params.Plan),
	}
	if params.CouponCode != "" {
		metadata["coupon_code"] = params.CouponCode
	}
	for k, v := range params.Tracking {
		if v != "" {
			metadata[k] = v
		}
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Params:        stripe.Params{Context: ctx},
		Mode:          stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		CustomerEmail: stripe.String(params.UserEmail),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(strings.TrimRight(g.config.ClientURL, "/") + "/premium?checkout=success&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(strings.TrimRight(g.config.ClientURL, "/") + "/premium?checkout=cancelled"),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	for k, v := range metadata {
		sessionParams.AddMetadata(k, v)
	}
	if params.CouponCode != "" {
		sessionParams.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{Coupon: stripe.String(params.CouponCode)},
		}
	}

	s, err := session.New(sessionParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (g *stripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error) {
	if subscriptionID == "" {
		return nil, errors.New("subscription ID is required")
	}
	sub, err := subscription.Get(subscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, wrapStripeError(err)
	}

	info := &SubscriptionInfo{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		info.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		info.PriceID = sub.Items.Data[0].Price.ID
		if plan, ok := g.planByPrice[info.PriceID]; ok {
			info.Plan = plan
		}
	}
	return info, nil
}

func (g *stripeGateway) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	if customerID == "" {
		return false, nil
	}
	cust, err := customer.Get(customerID, &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			// Unknown id; also what a live key answers about a test-mode
			// customer, so the repair path treats it as "recreate".
			return false, nil
		}
		return false, wrapStripeError(err)
	}
	if cust.Deleted {
		return false, nil
	}
	return true, nil
}

func (g *stripeGateway) CreateCustomer(ctx context.Context, params CustomerParams) (string, error) {
	if params.Email == "" {
		return "", errors.New("email is required to create customer")
	}
	customerParams := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(params.Email),
	}
	if params.Name != "" {
		customerParams.Name = stripe.String(params.Name)
	}
	customerParams.AddMetadata("supabase_user_id", params.UserID)

	cust, err := customer.New(customerParams)
	if err != nil {
		return "", wrapStripeError(err)
	}
	return cust.ID, nil
}

func (g *stripeGateway) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", errors.New("customer ID is required for portal session")
	}
	s, err := portalsession.New(&stripe.BillingPortalSessionParams{
		Params:    stripe.Params{Context: ctx},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(g.config.ClientURL),
	})
	if err != nil {
		return "", wrapStripeError(err)
	}
	return s.URL, nil
}

// ValidateCoupon retrieves the coupon under a bounded timeout and retries
// once on transient failures (5xx or timeout). Validation failures (unknown
// or expired code) fail immediately without retry.
func (g *stripeGateway) ValidateCoupon(ctx context.Context, code string) (*CouponInfo, error) {
	if code == "" {
		return nil, ErrCouponInvalid
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, couponTimeout)
		c, err := coupon.Get(code, &stripe.CouponParams{
			Params: stripe.Params{Context: callCtx},
		})
		cancel()

		if err == nil {
			if !c.Valid {
				return nil, ErrCouponInvalid
			}
			return &CouponInfo{
				ID:         c.ID,
				Name:       c.Name,
				PercentOff: c.PercentOff,
				AmountOff:  c.AmountOff,
				Currency:   string(c.Currency),
			}, nil
		}

		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			if stripeErr.Code == stripe.ErrorCodeResourceMissing {
				return nil, ErrCouponInvalid
			}
			if stripeErr.HTTPStatusCode < 500 {
				// Immediate-fail 4xx: retrying cannot help.
				return nil, wrapStripeError(err)
			}
		}
		lastErr = err
	}
	return nil, wrapStripeError(lastErr)
}

func (g *stripeGateway) PriceForPlan(plan models.SubscriptionPlan) (string, bool) {
	price, ok := g.priceByPlan[plan]
	return price, ok
}

func (g *stripeGateway) PlanForPrice(priceID string) (models.SubscriptionPlan, bool) {
	plan, ok := g.planByPrice[priceID]
	return plan, ok
}

// wrapStripeError converts a Stripe SDK error to our StripeError type for
// consistent handling across all methods.
func wrapStripeError(err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return err
	}
	return &StripeError{
		Message:       stripeErr.Msg,
		Code:          string(stripeErr.Code),
		HTTPStatus:    stripeErr.HTTPStatusCode,
		OriginalError: err,
	}
}
