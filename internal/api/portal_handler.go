package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"aromazen-backend-go/internal/core"
	"aromazen-backend-go/internal/middleware"
)

// PortalHandler exposes the billing-portal repair endpoint.
type PortalHandler struct {
	portal core.PortalService
}

// NewPortalHandler creates a new PortalHandler.
func NewPortalHandler(portal core.PortalService) *PortalHandler {
	return &PortalHandler{portal: portal}
}

// FixPortal handles GET /api/fix-portal. The response is always 200 with
// the per-step diagnostics; failure is signaled through sucesso=false so
// the client can show which repair step broke.
func (h *PortalHandler) FixPortal(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "User ID not found in context"})
		return
	}
	email := c.GetString(middleware.CtxUserEmail)
	fullName := c.GetString(middleware.CtxUserName)

	result := h.portal.RepairAndCreateSession(c.Request.Context(), userID, email, fullName)

	c.JSON(http.StatusOK, FixPortalResponse{
		Sucesso:     result.Success,
		Diagnostico: result.Diagnostics,
		PortalURL:   result.PortalURL,
		Erro:        result.Err,
	})
}
