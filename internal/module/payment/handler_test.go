package payment

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func newTestRouter(f *serviceFixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewHandler(f.svc, zap.NewNop())

	pass := func(c *gin.Context) { c.Next() }
	h.RegisterRoutes(router.Group("/api/v1"), pass, pass)
	return router
}

func TestWebhookAcksBadPayUSignatureWith200(t *testing.T) {
	f := newServiceFixture()
	f.repo.On("GetGatewayConfig", mock.Anything, "payu").Return(&GatewayConfig{
		Key:         "payu",
		Enabled:     true,
		Credentials: map[string]any{"key": "k", "salt": "s"},
	}, nil)
	router := newTestRouter(f)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/payu/webhook",
		strings.NewReader("status=success&txnid=P1&hash=forged"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookRejectsBadRazorpaySignatureWith401(t *testing.T) {
	f := newServiceFixture()
	f.repo.On("GetGatewayConfig", mock.Anything, "razorpay").Return(&GatewayConfig{
		Key:     "razorpay",
		Enabled: true,
		Credentials: map[string]any{
			"key_id": "k", "key_secret": "s", "webhook_secret": "w",
		},
	}, nil)
	router := newTestRouter(f)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/razorpay/webhook",
		strings.NewReader(`{"event":"payment.captured"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookUnknownGatewayReturns404(t *testing.T) {
	f := newServiceFixture()
	router := newTestRouter(f)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/paypal/webhook", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMethodsEndpoint(t *testing.T) {
	f := newServiceFixture()
	f.repo.On("ListEnabledGatewayConfigs", mock.Anything).Return([]*GatewayConfig{
		{Key: "cod", Enabled: true, MinAmountPaise: 10000, MaxAmountPaise: 5000000},
	}, nil)
	router := newTestRouter(f)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/methods?amount_paise=50000", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cod"`)
}
