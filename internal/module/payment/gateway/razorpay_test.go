package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRazorpay(t *testing.T) *Razorpay {
	t.Helper()
	gw, err := NewRazorpay(Config{
		Credentials: map[string]string{
			"key_id":         "rzp_test_key",
			"key_secret":     "key-secret",
			"webhook_secret": "webhook-secret",
		},
	})
	require.NoError(t, err)
	return gw.(*Razorpay)
}

func razorpaySign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRazorpayParseCallbackVerifiesSignature(t *testing.T) {
	gw := newTestRazorpay(t)

	form := url.Values{}
	form.Set("razorpay_order_id", "order_abc")
	form.Set("razorpay_payment_id", "pay_xyz")
	form.Set("razorpay_signature", razorpaySign("key-secret", []byte("order_abc|pay_xyz")))

	req := httptest.NewRequest(http.MethodPost, "/payment/razorpay/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	n, err := gw.ParseCallback(req)
	require.NoError(t, err)
	assert.True(t, n.Trusted)
	assert.Equal(t, StatusCompleted, n.Status)
	assert.Equal(t, "order_abc", n.ProviderOrderID)
	assert.Equal(t, "pay_xyz", n.ProviderPaymentID)
}

func TestRazorpayParseCallbackRejectsForgedSignature(t *testing.T) {
	gw := newTestRazorpay(t)

	form := url.Values{}
	form.Set("razorpay_order_id", "order_abc")
	form.Set("razorpay_payment_id", "pay_xyz")
	form.Set("razorpay_signature", razorpaySign("wrong-secret", []byte("order_abc|pay_xyz")))

	req := httptest.NewRequest(http.MethodPost, "/payment/razorpay/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err := gw.ParseCallback(req)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestRazorpayVerifyWebhookSignature(t *testing.T) {
	gw := newTestRazorpay(t)
	body := []byte(`{"event":"payment.captured"}`)

	headers := http.Header{}
	headers.Set("X-Razorpay-Signature", razorpaySign("webhook-secret", body))
	assert.NoError(t, gw.VerifyWebhookSignature(body, headers))

	// Any change to the body invalidates the signature.
	assert.ErrorIs(t, gw.VerifyWebhookSignature(append(body, ' '), headers), ErrSignatureMismatch)

	headers.Set("X-Razorpay-Signature", "")
	assert.ErrorIs(t, gw.VerifyWebhookSignature(body, headers), ErrSignatureMismatch)
}

func TestRazorpayParseWebhook(t *testing.T) {
	gw := newTestRazorpay(t)
	body := []byte(`{
		"event": "payment.captured",
		"payload": {
			"payment": {
				"entity": {
					"id": "pay_xyz",
					"order_id": "order_abc",
					"amount": 19900,
					"status": "captured"
				}
			}
		}
	}`)

	headers := http.Header{}
	headers.Set("X-Razorpay-Event-Id", "evt_001")

	n, err := gw.ParseWebhook(body, headers)
	require.NoError(t, err)
	assert.Equal(t, "evt_001", n.EventID)
	assert.Equal(t, StatusCompleted, n.Status)
	assert.Equal(t, int64(19900), n.AmountPaise)
	assert.Equal(t, "order_abc", n.ProviderOrderID)
	assert.True(t, n.Trusted)
}

func TestRazorpayParseWebhookIgnoresUnknownEvents(t *testing.T) {
	gw := newTestRazorpay(t)
	_, err := gw.ParseWebhook([]byte(`{"event":"order.paid"}`), nil)
	assert.ErrorIs(t, err, ErrEventIgnored)
}

func TestRazorpayInitiateCreatesOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "key-secret", pass)
		assert.Equal(t, "/orders", r.URL.Path)
		w.Write([]byte(`{"id":"order_abc","amount":19900,"status":"created"}`))
	}))
	defer server.Close()

	gw := newTestRazorpay(t)
	gw.apiURL = server.URL
	gw.client = server.Client()

	result, err := gw.Initiate(context.Background(), &InitiateRequest{
		PaymentRef:  "P1",
		AmountPaise: 19900,
		Currency:    "INR",
	})
	require.NoError(t, err)
	assert.Equal(t, ModeToken, result.Mode)
	assert.Equal(t, "order_abc", result.ProviderOrderID)
	assert.Equal(t, "order_abc", result.SessionToken)
	assert.Equal(t, "rzp_test_key", result.FormFields["key_id"])
}
