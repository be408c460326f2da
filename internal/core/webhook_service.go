package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
	"go.uber.org/zap"

	"aromazen-backend-go/internal/attribution"
	"aromazen-backend-go/internal/billing"
	"aromazen-backend-go/internal/db"
	"aromazen-backend-go/internal/models"
	"aromazen-backend-go/internal/outbox"
	"aromazen-backend-go/internal/supabase"
	"aromazen-backend-go/pkg/cache"
	"aromazen-backend-go/pkg/mailer"
	"aromazen-backend-go/pkg/messagequeue"
)

// dedupTTL bounds how long a processed event ID is remembered. Stripe
// redelivers within days at most; the transitions are value-idempotent, so
// an expired marker costs one redundant write, nothing more.
const dedupTTL = 72 * time.Hour

// WebhookServiceDeps collects the reconciler's collaborators. Metadata,
// Attribution, Queue, Mail and Dedup are optional; a nil disables that
// side effect and nothing else.
type WebhookServiceDeps struct {
	Profiles    db.ProfileRepository
	Conversions db.ConversionRepository
	Gateway     billing.Gateway
	Metadata    supabase.MetadataSyncer
	Attribution attribution.Sender
	Queue       messagequeue.MessageQueue
	QueueName   string
	Mail        mailer.Sender
	Dedup       cache.Cache
	Outbox      *outbox.Outbox
	Logger      *zap.Logger
}

// webhookService implements WebhookService. Event branches execute
// sequentially within one request; the only concurrency is the outbox's
// best-effort side effects.
type webhookService struct {
	WebhookServiceDeps
	handlers map[string]func(ctx context.Context, event *stripe.Event) error
}

// NewWebhookService creates the reconciler and builds its dispatch table.
// Event types without an entry are acknowledged and ignored, which keeps
// the endpoint forward compatible with new Stripe event types.
func NewWebhookService(deps WebhookServiceDeps) (WebhookService, error) {
	if deps.Profiles == nil || deps.Conversions == nil || deps.Gateway == nil {
		return nil, errors.New("webhook service requires profile repository, conversion repository and gateway")
	}
	if deps.Outbox == nil {
		return nil, errors.New("webhook service requires an outbox")
	}
	if deps.Logger == nil {
		return nil, errors.New("webhook service requires a logger")
	}

	s := &webhookService{WebhookServiceDeps: deps}
	s.handlers = map[string]func(ctx context.Context, event *stripe.Event) error{
		"checkout.session.completed":    s.handleCheckoutCompleted,
		"customer.subscription.created": s.handleSubscriptionCreated,
		"customer.subscription.updated": s.handleSubscriptionUpdated,
		"customer.subscription.deleted": s.handleSubscriptionDeleted,
		"invoice.payment_succeeded":     s.handleInvoicePaymentSucceeded,
		"invoice.payment_failed":        s.handleInvoicePaymentFailed,
	}
	return s, nil
}

func (s *webhookService) ProcessEvent(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := s.Gateway.ConstructEvent(payload, sigHeader)
	if err != nil {
		// Signature failure: reject, no state change, no dispatch.
		return err
	}

	// Best-effort fast skip for redeliveries of already-processed events.
	// Correctness never depends on this marker: every transition below
	// re-applies the same values harmlessly.
	dedupKey := "stripe:event:" + event.ID
	marked := false
	if s.Dedup != nil {
		stored, err := s.Dedup.SetNX(ctx, dedupKey, "1", dedupTTL)
		if err != nil {
			s.Logger.Debug("webhook dedup cache unavailable", zap.Error(err))
		} else if !stored {
			s.Logger.Info("webhook event already processed, acknowledging",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
			return nil
		} else {
			marked = true
		}
	}

	handler, ok := s.handlers[string(event.Type)]
	if !ok {
		s.Logger.Debug("unhandled webhook event type acknowledged",
			zap.String("event_type", string(event.Type)))
		return nil
	}

	s.Logger.Info("processing webhook event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)))
	err = handler(ctx, event)
	if err != nil && marked {
		// A failed delivery answers non-2xx and Stripe redelivers; the
		// marker must not survive, or the redelivery would be skipped and
		// the transition lost.
		if delErr := s.Dedup.Delete(ctx, dedupKey); delErr != nil {
			s.Logger.Warn("failed to clear dedup marker for failed delivery",
				zap.String("event_id", event.ID),
				zap.Error(delErr))
		}
	}
	return err
}

// --- Event payloads ---
//
// The reconciler decodes event.Data.Raw into minimal local structs instead
// of the SDK's full object types: webhook payload shapes follow the Stripe
// account's API version, not the SDK's pinned one, and these structs accept
// both the current and the pre-basil invoice layout.

type checkoutSessionEvent struct {
	ID              string            `json:"id"`
	Customer        string            `json:"customer"`
	Subscription    string            `json:"subscription"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type subscriptionEvent struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
	Items    struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type invoiceEvent struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	Subscription  string `json:"subscription"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionID returns the invoice's subscription reference in either
// payload layout.
func (e *invoiceEvent) subscriptionID() string {
	if e.Subscription != "" {
		return e.Subscription
	}
	if e.Parent != nil && e.Parent.SubscriptionDetails != nil {
		return e.Parent.SubscriptionDetails.Subscription
	}
	return ""
}

// planForSubscription maps the subscription's first price to a plan.
func (s *webhookService) planForSubscription(sub *subscriptionEvent) models.SubscriptionPlan {
	if len(sub.Items.Data) == 0 {
		return models.PlanNone
	}
	plan, ok := s.Gateway.PlanForPrice(sub.Items.Data[0].Price.ID)
	if !ok {
		return models.PlanNone
	}
	return plan
}

// syncMetadata pushes the new tier into the auth user's JWT metadata. This
// is the cache half of the write; the DB row already holds the truth, so a
// failure here is logged and the delivery is still acknowledged.
func (s *webhookService) syncMetadata(ctx context.Context, userID string, tier models.SubscriptionTier, plan models.SubscriptionPlan) {
	if s.Metadata == nil || userID == "" {
		return
	}
	if err := s.Metadata.SyncTier(ctx, userID, tier, plan); err != nil {
		s.Logger.Warn("failed to sync tier to auth metadata",
			zap.String("user_id", userID),
			zap.String("tier", string(tier)),
			zap.Error(err))
	}
}

// --- Transitions ---

func (s *webhookService) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session checkoutSessionEvent
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to decode checkout session payload: %w", err)
	}

	userID := session.Metadata["supabase_user_id"]
	if userID == "" || session.Customer == "" || session.Subscription == "" {
		// Incomplete sessions happen (one-off payments, sessions created
		// outside this app). Skip gracefully; this is not an error and the
		// delivery is acknowledged.
		s.Logger.Warn("checkout session missing user id, customer or subscription; skipping",
			zap.String("session_id", session.ID),
			zap.String("event_id", event.ID))
		return nil
	}

	// A customer id, once linked, stays with its profile for the lifetime
	// of the account. A session claiming an already-linked customer for a
	// different user is acknowledged without any write.
	if existing, err := s.Profiles.GetByStripeCustomerID(ctx, session.Customer); err == nil && existing.ID != userID {
		s.Logger.Error("stripe customer already linked to another profile; skipping",
			zap.String("customer_id", session.Customer),
			zap.String("linked_user_id", existing.ID),
			zap.String("session_user_id", userID),
			zap.String("event_id", event.ID))
		return nil
	}

	// The price on the subscription is the authority for the plan; the
	// metadata copy is a fallback when the gateway lookup cannot map it.
	plan, _ := models.ParsePlan(session.Metadata["plan"])
	sub, err := s.Gateway.GetSubscription(ctx, session.Subscription)
	if err != nil {
		// Transient gateway failure: redelivery will retry the whole
		// transition, which is idempotent.
		return fmt.Errorf("failed to look up subscription %s: %w", session.Subscription, err)
	}
	if sub.Plan != models.PlanNone {
		plan = sub.Plan
	}

	profile, err := s.Profiles.ActivateSubscription(ctx, userID, session.Customer, session.Subscription, plan, time.Now().UTC())
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.Logger.Warn("no profile for checkout session user; skipping",
				zap.String("user_id", userID),
				zap.String("event_id", event.ID))
			return nil
		}
		// The DB row is authoritative: a failed write must surface as
		// non-2xx so Stripe redelivers the transition.
		return err
	}

	s.syncMetadata(ctx, userID, models.TierPremium, plan)
	s.enqueueConversion(event.ID, &session, profile, plan)

	s.Logger.Info("checkout completed, profile upgraded",
		zap.String("user_id", userID),
		zap.String("plan", string(plan)))
	return nil
}

// enqueueConversion records the conversion and fires the attribution event
// off the critical path. Each step fails independently and only logs.
func (s *webhookService) enqueueConversion(eventID string, session *checkoutSessionEvent, profile *models.Profile, plan models.SubscriptionPlan) {
	email := session.CustomerDetails.Email
	if email == "" {
		email = profile.Email
	}
	conversion := models.Conversion{
		EventID:              eventID,
		SessionID:            session.ID,
		UserID:               profile.ID,
		Plan:                 plan,
		CouponCode:           session.Metadata["coupon_code"],
		AmountTotal:          session.AmountTotal,
		Currency:             session.Currency,
		StripeCustomerID:     session.Customer,
		StripeSubscriptionID: session.Subscription,
		UTMSource:            session.Metadata["utm_source"],
		UTMMedium:            session.Metadata["utm_medium"],
		UTMCampaign:          session.Metadata["utm_campaign"],
	}

	s.Outbox.Enqueue(outbox.Job{
		Name: "conversion-record",
		Run: func(ctx context.Context) error {
			if s.Attribution != nil {
				err := s.Attribution.SendPurchase(ctx, attribution.PurchaseEvent{
					EventID:    eventID,
					UserEmail:  email,
					ValueCents: conversion.AmountTotal,
					Currency:   conversion.Currency,
					Plan:       string(plan),
					CouponCode: conversion.CouponCode,
				})
				if err != nil {
					s.Logger.Warn("attribution event failed", zap.String("event_id", eventID), zap.Error(err))
				} else {
					conversion.PixelSent = true
				}
			}

			if err := s.Conversions.Insert(ctx, &conversion); err != nil {
				s.Logger.Warn("conversion insert failed", zap.String("event_id", eventID), zap.Error(err))
			}

			if s.Queue != nil {
				body, err := json.Marshal(conversion)
				if err == nil {
					err = s.Queue.Publish(s.QueueName, body)
				}
				if err != nil {
					s.Logger.Warn("conversion publish failed", zap.String("event_id", eventID), zap.Error(err))
				}
			}
			return nil
		},
	})
}

func (s *webhookService) handleSubscriptionCreated(ctx context.Context, event *stripe.Event) error {
	var sub subscriptionEvent
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to decode subscription payload: %w", err)
	}
	if sub.Customer == "" {
		s.Logger.Warn("subscription event without customer; skipping", zap.String("event_id", event.ID))
		return nil
	}

	tier := models.TierFree
	if sub.Status == string(stripe.SubscriptionStatusActive) {
		tier = models.TierPremium
	}
	return s.applyTierByCustomer(ctx, event, sub.Customer, tier, s.planForSubscription(&sub))
}

func (s *webhookService) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) error {
	var sub subscriptionEvent
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to decode subscription payload: %w", err)
	}
	if sub.Customer == "" {
		s.Logger.Warn("subscription event without customer; skipping", zap.String("event_id", event.ID))
		return nil
	}

	tier := models.TierFree
	if sub.Status == string(stripe.SubscriptionStatusActive) || sub.Status == string(stripe.SubscriptionStatusTrialing) {
		tier = models.TierPremium
	}
	plan := s.planForSubscription(&sub)
	if tier != models.TierPremium {
		plan = models.PlanNone
	}
	return s.applyTierByCustomer(ctx, event, sub.Customer, tier, plan)
}

func (s *webhookService) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var sub subscriptionEvent
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to decode subscription payload: %w", err)
	}
	if sub.Customer == "" {
		s.Logger.Warn("subscription event without customer; skipping", zap.String("event_id", event.ID))
		return nil
	}

	// Only tier and plan are cleared: the customer and subscription ids
	// remain on the row as the billing history linkage.
	return s.applyTierByCustomer(ctx, event, sub.Customer, models.TierFree, models.PlanNone)
}

// applyTierByCustomer is the shared write for the customer.subscription.*
// family: update the row (authoritative), then mirror into JWT metadata
// (best-effort).
func (s *webhookService) applyTierByCustomer(ctx context.Context, event *stripe.Event, customerID string, tier models.SubscriptionTier, plan models.SubscriptionPlan) error {
	profile, err := s.Profiles.UpdateTierByCustomer(ctx, customerID, tier, plan)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// Expected race: subscription events can arrive before
			// checkout.session.completed has persisted the customer id.
			// No retry is scheduled here; Stripe redelivery and the later
			// events converge the state.
			s.Logger.Warn("no profile for stripe customer; skipping",
				zap.String("customer_id", customerID),
				zap.String("event_id", event.ID))
			return nil
		}
		return err
	}

	s.syncMetadata(ctx, profile.ID, tier, plan)
	s.Logger.Info("subscription event applied",
		zap.String("user_id", profile.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("tier", string(tier)),
		zap.String("plan", string(plan)))
	return nil
}

func (s *webhookService) handleInvoicePaymentSucceeded(ctx context.Context, event *stripe.Event) error {
	var invoice invoiceEvent
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to decode invoice payload: %w", err)
	}
	if invoice.subscriptionID() == "" {
		// One-off invoices carry no subscription and say nothing about
		// the entitlement.
		s.Logger.Debug("invoice without subscription reference; skipping", zap.String("event_id", event.ID))
		return nil
	}
	if invoice.Customer == "" {
		s.Logger.Warn("invoice event without customer; skipping", zap.String("event_id", event.ID))
		return nil
	}

	// Renewal confirmation: tier only, the plan stays whatever it is.
	profile, err := s.Profiles.UpdateTierOnlyByCustomer(ctx, invoice.Customer, models.TierPremium)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.Logger.Warn("no profile for stripe customer; skipping",
				zap.String("customer_id", invoice.Customer),
				zap.String("event_id", event.ID))
			return nil
		}
		return err
	}

	s.syncMetadata(ctx, profile.ID, models.TierPremium, profile.SubscriptionPlan)
	s.Logger.Info("renewal confirmed", zap.String("user_id", profile.ID))
	return nil
}

func (s *webhookService) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event) error {
	var invoice invoiceEvent
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to decode invoice payload: %w", err)
	}
	if invoice.Customer == "" {
		s.Logger.Warn("invoice event without customer; skipping", zap.String("event_id", event.ID))
		return nil
	}

	profile, err := s.Profiles.UpdateTierByCustomer(ctx, invoice.Customer, models.TierFree, models.PlanNone)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.Logger.Warn("no profile for stripe customer; skipping",
				zap.String("customer_id", invoice.Customer),
				zap.String("event_id", event.ID))
			return nil
		}
		return err
	}

	s.syncMetadata(ctx, profile.ID, models.TierFree, models.PlanNone)

	if s.Mail != nil {
		recipient := profile.Email
		if recipient == "" {
			recipient = invoice.CustomerEmail
		}
		if recipient != "" {
			s.Outbox.Enqueue(outbox.Job{
				Name: "payment-failed-mail",
				Run: func(ctx context.Context) error {
					return s.Mail.Send(recipient,
						"Problema com o pagamento da sua assinatura",
						"<p>Não conseguimos processar o pagamento da sua assinatura premium. "+
							"Atualize sua forma de pagamento para manter o acesso ilimitado.</p>")
				},
			})
		}
	}

	s.Logger.Info("payment failed, profile downgraded", zap.String("user_id", profile.ID))
	return nil
}
