package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aromazen-backend-go/internal/billing"
	"aromazen-backend-go/internal/models"
)

func TestCreateSessionValidation(t *testing.T) {
	tests := []struct {
		name string
		req  CheckoutRequest
	}{
		{"unknown plan", CheckoutRequest{Plan: "weekly", UserID: "user-1", UserEmail: "u@example.com"}},
		{"empty plan", CheckoutRequest{UserID: "user-1", UserEmail: "u@example.com"}},
		{"missing user id", CheckoutRequest{Plan: "monthly", UserEmail: "u@example.com"}},
		{"missing email", CheckoutRequest{Plan: "monthly", UserID: "user-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := &fakeGateway{}
			svc := NewCheckoutService(gateway, zap.NewNop())

			_, err := svc.CreateSession(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Empty(t, gateway.lastCheckoutParams.UserID, "gateway must not be called on validation failure")
		})
	}
}

func TestCreateSessionPassesIntentToGateway(t *testing.T) {
	gateway := &fakeGateway{
		checkoutSession: &billing.CheckoutSession{ID: "cs_123", URL: "https://checkout.stripe.com/c/cs_123"},
	}
	svc := NewCheckoutService(gateway, zap.NewNop())

	session, err := svc.CreateSession(context.Background(), CheckoutRequest{
		Plan:       "quarterly",
		UserID:     "user-1",
		UserEmail:  "u@example.com",
		CouponCode: "BEMVINDO",
		Tracking:   map[string]string{"utm_source": "instagram"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_123", session.ID)
	assert.NotEmpty(t, session.URL)

	params := gateway.lastCheckoutParams
	assert.Equal(t, "user-1", params.UserID)
	assert.Equal(t, models.PlanQuarterly, params.Plan)
	assert.Equal(t, "BEMVINDO", params.CouponCode)
	assert.Equal(t, "instagram", params.Tracking["utm_source"])
}

func TestCreateSessionGatewayErrorPropagates(t *testing.T) {
	gateway := &fakeGateway{checkoutErr: assert.AnError}
	svc := NewCheckoutService(gateway, zap.NewNop())

	_, err := svc.CreateSession(context.Background(), CheckoutRequest{
		Plan: "monthly", UserID: "user-1", UserEmail: "u@example.com",
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPlanPriceMappingNeverCrosses(t *testing.T) {
	gateway := &fakeGateway{}
	for plan, wantPrice := range fakePlanPrices {
		price, ok := gateway.PriceForPlan(plan)
		require.True(t, ok)
		assert.Equal(t, wantPrice, price)

		roundTrip, ok := gateway.PlanForPrice(price)
		require.True(t, ok)
		assert.Equal(t, plan, roundTrip)
	}
}

func TestValidateCoupon(t *testing.T) {
	t.Run("empty code is a validation error", func(t *testing.T) {
		svc := NewCheckoutService(&fakeGateway{}, zap.NewNop())
		_, err := svc.ValidateCoupon(context.Background(), "")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("invalid coupon propagates sentinel", func(t *testing.T) {
		svc := NewCheckoutService(&fakeGateway{couponErr: billing.ErrCouponInvalid}, zap.NewNop())
		_, err := svc.ValidateCoupon(context.Background(), "NOPE")
		assert.ErrorIs(t, err, billing.ErrCouponInvalid)
	})

	t.Run("valid coupon returns discount", func(t *testing.T) {
		svc := NewCheckoutService(&fakeGateway{
			coupon: &billing.CouponInfo{ID: "BEMVINDO", PercentOff: 20},
		}, zap.NewNop())
		info, err := svc.ValidateCoupon(context.Background(), "BEMVINDO")
		require.NoError(t, err)
		assert.Equal(t, float64(20), info.PercentOff)
	})
}
