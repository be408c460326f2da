package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"aromazen-backend-go/internal/core"
	"aromazen-backend-go/internal/middleware"
	"aromazen-backend-go/internal/models"
)

// UsageHandler exposes the AI question allowance endpoints.
type UsageHandler struct {
	usage core.UsageService
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(usage core.UsageService) *UsageHandler {
	return &UsageHandler{usage: usage}
}

// GetStatus handles GET /api/ai-questions. Anonymous requests get the
// fresh free-tier default with authenticated=false rather than a 401: the
// client renders the counter before login completes.
func (h *UsageHandler) GetStatus(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserID)
	if userID == "" {
		resp := usageResponse(core.UsageStatus{
			Tier:      models.TierFree,
			Limit:     core.FreeQuestionLimit,
			Remaining: core.FreeQuestionLimit,
		}, false)
		c.JSON(http.StatusOK, resp)
		return
	}

	status := h.usage.Status(c.Request.Context(), userID)
	c.JSON(http.StatusOK, usageResponse(status, true))
}

// Consume handles POST /api/ai-questions.
func (h *UsageHandler) Consume(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "User ID not found in context"})
		return
	}

	status, err := h.usage.Consume(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, core.ErrQuestionLimitReached) {
			resp := usageResponse(status, true)
			resp.Error = "Limite mensal de perguntas atingido"
			resp.NeedsUpgrade = true
			c.JSON(http.StatusForbidden, resp)
			return
		}
		// Consume is fail-open; any other error is unexpected.
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "An unexpected internal server error occurred."})
		return
	}

	c.JSON(http.StatusOK, usageResponse(status, true))
}

func usageResponse(status core.UsageStatus, authenticated bool) UsageResponse {
	isPremium := status.Tier == models.TierPremium
	return UsageResponse{
		IsPremium:          isPremium,
		QuestionsUsed:      status.Used,
		QuestionsRemaining: status.Remaining,
		CanAsk:             isPremium || status.Remaining > 0,
		ShowWarning:        status.ShowWarning,
		Limit:              status.Limit,
		Authenticated:      authenticated,
	}
}
