package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aromazen-backend-go/internal/billing"
	"aromazen-backend-go/internal/core"
	"aromazen-backend-go/internal/models"
	"aromazen-backend-go/internal/supabase"
)

const testJWTSecret = "test-jwt-secret"

// --- Service stubs ---

type stubWebhookService struct{ err error }

func (s *stubWebhookService) ProcessEvent(_ context.Context, _ []byte, _ string) error {
	return s.err
}

type stubCheckoutService struct {
	session    *billing.CheckoutSession
	sessionErr error
	coupon     *billing.CouponInfo
	couponErr  error
}

func (s *stubCheckoutService) CreateSession(_ context.Context, _ core.CheckoutRequest) (*billing.CheckoutSession, error) {
	return s.session, s.sessionErr
}

func (s *stubCheckoutService) ValidateCoupon(_ context.Context, _ string) (*billing.CouponInfo, error) {
	return s.coupon, s.couponErr
}

type stubPortalService struct{ result *core.PortalRepairResult }

func (s *stubPortalService) RepairAndCreateSession(_ context.Context, _, _, _ string) *core.PortalRepairResult {
	return s.result
}

type stubUsageService struct {
	status     core.UsageStatus
	consumeErr error
}

func (s *stubUsageService) Status(_ context.Context, _ string) core.UsageStatus { return s.status }

func (s *stubUsageService) Consume(_ context.Context, _ string) (core.UsageStatus, error) {
	return s.status, s.consumeErr
}

// --- Harness ---

type testServices struct {
	webhook  core.WebhookService
	checkout core.CheckoutService
	portal   core.PortalService
	usage    core.UsageService
}

func newTestRouter(t *testing.T, services testServices) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if services.webhook == nil {
		services.webhook = &stubWebhookService{}
	}
	if services.checkout == nil {
		services.checkout = &stubCheckoutService{}
	}
	if services.portal == nil {
		services.portal = &stubPortalService{result: &core.PortalRepairResult{Diagnostics: map[string]string{}}}
	}
	if services.usage == nil {
		services.usage = &stubUsageService{}
	}

	router := gin.New()
	SetupRoutes(router, zap.NewNop(), supabase.NewTokenVerifier(testJWTSecret),
		services.webhook, services.checkout, services.portal, services.usage)
	return router
}

func mintToken(t *testing.T, userID string, metadata map[string]any) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":           userID,
		"email":         userID + "@example.com",
		"aud":           "authenticated",
		"exp":           time.Now().Add(time.Hour).Unix(),
		"user_metadata": metadata,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// --- Webhook endpoint ---

func TestWebhookEndpoint(t *testing.T) {
	t.Run("acknowledges processed event", func(t *testing.T) {
		router := newTestRouter(t, testServices{webhook: &stubWebhookService{}})

		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Stripe-Signature", "t=1,v1=abc")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"received":true}`, w.Body.String())
	})

	t.Run("missing signature header is rejected", func(t *testing.T) {
		router := newTestRouter(t, testServices{})

		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("signature failure is non-2xx", func(t *testing.T) {
		router := newTestRouter(t, testServices{
			webhook: &stubWebhookService{err: billing.ErrWebhookSignature},
		})

		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Stripe-Signature", "t=1,v1=bad")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("processing failure triggers redelivery", func(t *testing.T) {
		router := newTestRouter(t, testServices{
			webhook: &stubWebhookService{err: assert.AnError},
		})

		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Stripe-Signature", "t=1,v1=abc")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

// --- Checkout endpoints ---

func TestCreateCheckoutSessionEndpoint(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		router := newTestRouter(t, testServices{checkout: &stubCheckoutService{
			session: &billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/cs_1"},
		}})

		w := doJSON(t, router, http.MethodPost, "/api/create-checkout-session", "", map[string]any{
			"plan": "monthly", "userId": "user-1", "userEmail": "u@example.com",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "cs_1", body["sessionId"])
		assert.Equal(t, "https://checkout.stripe.com/c/cs_1", body["url"])
	})

	t.Run("validation failure is 400", func(t *testing.T) {
		router := newTestRouter(t, testServices{checkout: &stubCheckoutService{
			sessionErr: core.ErrValidation,
		}})

		w := doJSON(t, router, http.MethodPost, "/api/create-checkout-session", "", map[string]any{
			"plan": "weekly", "userId": "user-1", "userEmail": "u@example.com",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("gateway failure is 500", func(t *testing.T) {
		router := newTestRouter(t, testServices{checkout: &stubCheckoutService{
			sessionErr: assert.AnError,
		}})

		w := doJSON(t, router, http.MethodPost, "/api/create-checkout-session", "", map[string]any{
			"plan": "monthly", "userId": "user-1", "userEmail": "u@example.com",
		})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		router := newTestRouter(t, testServices{})

		req := httptest.NewRequest(http.MethodPost, "/api/create-checkout-session", bytes.NewReader([]byte(`{`)))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestValidateCouponEndpoint(t *testing.T) {
	t.Run("valid coupon", func(t *testing.T) {
		router := newTestRouter(t, testServices{checkout: &stubCheckoutService{
			coupon: &billing.CouponInfo{ID: "BEMVINDO", PercentOff: 20},
		}})

		w := doJSON(t, router, http.MethodPost, "/api/validate-coupon", "", map[string]string{"couponCode": "BEMVINDO"})
		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, float64(20), body["percentOff"])
	})

	t.Run("invalid coupon is 200 valid=false", func(t *testing.T) {
		router := newTestRouter(t, testServices{checkout: &stubCheckoutService{
			couponErr: billing.ErrCouponInvalid,
		}})

		w := doJSON(t, router, http.MethodPost, "/api/validate-coupon", "", map[string]string{"couponCode": "NOPE"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, decodeBody(t, w)["valid"])
	})
}

// --- Portal endpoint ---

func TestFixPortalEndpoint(t *testing.T) {
	t.Run("requires bearer token", func(t *testing.T) {
		router := newTestRouter(t, testServices{})
		w := doJSON(t, router, http.MethodGet, "/api/fix-portal", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("returns diagnostics and portal url", func(t *testing.T) {
		router := newTestRouter(t, testServices{portal: &stubPortalService{
			result: &core.PortalRepairResult{
				Success: true,
				Diagnostics: map[string]string{
					core.StepProfile:  core.StepOK,
					core.StepCustomer: core.StepRecreated,
					core.StepPortal:   core.StepOK,
				},
				PortalURL: "https://billing.stripe.com/p/session/cus_1",
			},
		}})

		token := mintToken(t, "user-1", map[string]any{"full_name": "User One"})
		w := doJSON(t, router, http.MethodGet, "/api/fix-portal", token, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, true, body["sucesso"])
		assert.Equal(t, "https://billing.stripe.com/p/session/cus_1", body["portal_url"])
		diagnostico := body["diagnostico"].(map[string]any)
		assert.Equal(t, "recriado", diagnostico["cliente"])
	})

	t.Run("failure keeps 200 with erro", func(t *testing.T) {
		router := newTestRouter(t, testServices{portal: &stubPortalService{
			result: &core.PortalRepairResult{
				Diagnostics: map[string]string{core.StepProfile: core.StepFailed},
				Err:         "não foi possível carregar o perfil",
			},
		}})

		token := mintToken(t, "user-1", nil)
		w := doJSON(t, router, http.MethodGet, "/api/fix-portal", token, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, false, body["sucesso"])
		assert.NotEmpty(t, body["erro"])
	})
}

// --- Usage endpoints ---

func TestUsageStatusEndpoint(t *testing.T) {
	t.Run("anonymous gets free defaults", func(t *testing.T) {
		router := newTestRouter(t, testServices{})

		w := doJSON(t, router, http.MethodGet, "/api/ai-questions", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, false, body["authenticated"])
		assert.Equal(t, false, body["isPremium"])
		assert.Equal(t, float64(30), body["questionsRemaining"])
		assert.Equal(t, true, body["canAsk"])
	})

	t.Run("authenticated free user", func(t *testing.T) {
		router := newTestRouter(t, testServices{usage: &stubUsageService{
			status: core.UsageStatus{
				Tier: models.TierFree, Used: 26, Limit: 30, Remaining: 4, ShowWarning: true,
			},
		}})

		token := mintToken(t, "user-1", nil)
		w := doJSON(t, router, http.MethodGet, "/api/ai-questions", token, nil)

		body := decodeBody(t, w)
		assert.Equal(t, true, body["authenticated"])
		assert.Equal(t, float64(4), body["questionsRemaining"])
		assert.Equal(t, true, body["showWarning"])
	})

	t.Run("premium user", func(t *testing.T) {
		router := newTestRouter(t, testServices{usage: &stubUsageService{
			status: core.UsageStatus{Tier: models.TierPremium, Limit: 30, Remaining: -1},
		}})

		token := mintToken(t, "user-1", map[string]any{"subscription_tier": "premium"})
		w := doJSON(t, router, http.MethodGet, "/api/ai-questions", token, nil)

		body := decodeBody(t, w)
		assert.Equal(t, true, body["isPremium"])
		assert.Equal(t, float64(-1), body["questionsRemaining"])
		assert.Equal(t, true, body["canAsk"])
	})

	t.Run("invalid token treated as anonymous", func(t *testing.T) {
		router := newTestRouter(t, testServices{})

		w := doJSON(t, router, http.MethodGet, "/api/ai-questions", "not-a-token", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, decodeBody(t, w)["authenticated"])
	})
}

func TestUsageConsumeEndpoint(t *testing.T) {
	t.Run("requires bearer token", func(t *testing.T) {
		router := newTestRouter(t, testServices{})
		w := doJSON(t, router, http.MethodPost, "/api/ai-questions", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("counts a question", func(t *testing.T) {
		router := newTestRouter(t, testServices{usage: &stubUsageService{
			status: core.UsageStatus{Tier: models.TierFree, Used: 11, Limit: 30, Remaining: 19},
		}})

		token := mintToken(t, "user-1", nil)
		w := doJSON(t, router, http.MethodPost, "/api/ai-questions", token, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(19), decodeBody(t, w)["questionsRemaining"])
	})

	t.Run("limit reached is 403 with upgrade flag", func(t *testing.T) {
		router := newTestRouter(t, testServices{usage: &stubUsageService{
			status:     core.UsageStatus{Tier: models.TierFree, Used: 30, Limit: 30, Remaining: 0},
			consumeErr: core.ErrQuestionLimitReached,
		}})

		token := mintToken(t, "user-1", nil)
		w := doJSON(t, router, http.MethodPost, "/api/ai-questions", token, nil)

		assert.Equal(t, http.StatusForbidden, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, true, body["needsUpgrade"])
		assert.NotEmpty(t, body["error"])
	})
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, testServices{})
	w := doJSON(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
