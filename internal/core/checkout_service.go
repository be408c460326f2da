package core

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"aromazen-backend-go/internal/billing"
	"aromazen-backend-go/internal/models"
)

// ErrValidation marks client errors in a checkout request (unknown plan,
// missing user id or email). Handlers map it to HTTP 400.
var ErrValidation = errors.New("invalid request")

// CheckoutRequest is the checkout intent as received from the client. The
// tracking bag is attached to the gateway session as opaque metadata and
// only read back by the webhook reconciler.
type CheckoutRequest struct {
	Plan       string
	UserID     string
	UserEmail  string
	CouponCode string
	Tracking   map[string]string
}

// checkoutService implements CheckoutService.
type checkoutService struct {
	gateway billing.Gateway
	logger  *zap.Logger
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(gateway billing.Gateway, logger *zap.Logger) CheckoutService {
	return &checkoutService{gateway: gateway, logger: logger}
}

func (s *checkoutService) CreateSession(ctx context.Context, req CheckoutRequest) (*billing.CheckoutSession, error) {
	plan, ok := models.ParsePlan(req.Plan)
	if !ok {
		return nil, fmt.Errorf("%w: plan must be one of monthly, quarterly, annual", ErrValidation)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if req.UserEmail == "" {
		return nil, fmt.Errorf("%w: userEmail is required", ErrValidation)
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, billing.CheckoutParams{
		UserID:     req.UserID,
		UserEmail:  req.UserEmail,
		Plan:       plan,
		CouponCode: req.CouponCode,
		Tracking:   req.Tracking,
	})
	if err != nil {
		s.logger.Error("failed to create checkout session",
			zap.String("user_id", req.UserID),
			zap.String("plan", string(plan)),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("checkout session created",
		zap.String("user_id", req.UserID),
		zap.String("plan", string(plan)),
		zap.String("session_id", session.ID))
	return session, nil
}

func (s *checkoutService) ValidateCoupon(ctx context.Context, code string) (*billing.CouponInfo, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: coupon code is required", ErrValidation)
	}
	return s.gateway.ValidateCoupon(ctx, code)
}
