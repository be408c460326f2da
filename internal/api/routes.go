package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aromazen-backend-go/internal/core"
	"aromazen-backend-go/internal/middleware"
	"aromazen-backend-go/internal/supabase"
)

// SetupRoutes configures all the application routes with their handlers and
// middleware. Global middleware (logging, recovery, CORS) is applied to the
// router before this function is called, in main.go.
func SetupRoutes(
	router *gin.Engine,
	logger *zap.Logger,
	verifier *supabase.TokenVerifier,
	webhookService core.WebhookService,
	checkoutService core.CheckoutService,
	portalService core.PortalService,
	usageService core.UsageService,
) {
	authMW := middleware.NewAuthMiddleware(verifier, logger)

	webhookHandler := NewWebhookHandler(webhookService, logger)
	billingHandler := NewBillingHandler(checkoutService, logger)
	portalHandler := NewPortalHandler(portalService)
	usageHandler := NewUsageHandler(usageService)

	apiGroup := router.Group("/api")
	{
		// Stripe authenticates this route by signature, not bearer token.
		apiGroup.POST("/webhooks/stripe", webhookHandler.HandleStripeWebhook)

		// Checkout identifies the user from the request body; the session
		// only becomes an entitlement once the webhook confirms payment.
		apiGroup.POST("/create-checkout-session", billingHandler.CreateCheckoutSession)
		apiGroup.POST("/validate-coupon", billingHandler.ValidateCoupon)

		apiGroup.GET("/fix-portal", authMW.VerifyToken(), portalHandler.FixPortal)

		// GET tolerates anonymous callers (fail-open counter display);
		// POST must know who to count.
		apiGroup.GET("/ai-questions", authMW.OptionalToken(), usageHandler.GetStatus)
		apiGroup.POST("/ai-questions", authMW.VerifyToken(), usageHandler.Consume)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})

	logger.Info("API routes configured")
}
