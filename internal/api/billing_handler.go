package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aromazen-backend-go/internal/billing"
	"aromazen-backend-go/internal/core"
)

// BillingHandler handles checkout and coupon endpoints.
type BillingHandler struct {
	checkout core.CheckoutService
	logger   *zap.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(checkout core.CheckoutService, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{checkout: checkout, logger: logger}
}

// CreateCheckoutSession handles POST /api/create-checkout-session.
func (h *BillingHandler) CreateCheckoutSession(c *gin.Context) {
	var req CreateCheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload", Details: err.Error()})
		return
	}

	session, err := h.checkout.CreateSession(c.Request.Context(), core.CheckoutRequest{
		Plan:       req.Plan,
		UserID:     req.UserID,
		UserEmail:  req.UserEmail,
		CouponCode: req.CouponCode,
		Tracking:   req.Tracking,
	})
	if err != nil {
		switch {
		case errors.Is(err, core.ErrValidation):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid checkout request", Details: err.Error()})
		case errors.Is(err, billing.ErrPlanNotFound):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Unknown subscription plan"})
		case errors.Is(err, billing.ErrCouponInvalid):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid or expired coupon code"})
		default:
			h.logger.Error("checkout session creation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Payment provider error", Details: "Could not create the checkout session."})
		}
		return
	}

	c.JSON(http.StatusOK, CreateCheckoutSessionResponse{SessionID: session.ID, URL: session.URL})
}

// ValidateCoupon handles POST /api/validate-coupon.
func (h *BillingHandler) ValidateCoupon(c *gin.Context) {
	var req ValidateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload", Details: err.Error()})
		return
	}

	info, err := h.checkout.ValidateCoupon(c.Request.Context(), req.CouponCode)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrValidation):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "couponCode is required"})
		case errors.Is(err, billing.ErrCouponInvalid):
			// Invalid coupons are an expected answer, not an error status.
			c.JSON(http.StatusOK, ValidateCouponResponse{Valid: false, Error: "Cupom inválido ou expirado"})
		default:
			h.logger.Error("coupon validation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Payment provider error", Details: "Could not validate the coupon."})
		}
		return
	}

	resp := ValidateCouponResponse{Valid: true}
	if info.PercentOff > 0 {
		p := info.PercentOff
		resp.PercentOff = &p
	} else if info.AmountOff > 0 {
		a := info.AmountOff
		resp.AmountOff = &a
	}
	c.JSON(http.StatusOK, resp)
}
