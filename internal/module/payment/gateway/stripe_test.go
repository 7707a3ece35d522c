package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

func newTestStripe(t *testing.T) *Stripe {
	t.Helper()
	gw, err := NewStripe(Config{
		Credentials: map[string]string{
			"api_key":        "sk_test_123",
			"webhook_secret": "whsec_123",
		},
	})
	require.NoError(t, err)
	return gw.(*Stripe)
}

func TestStripeCallbackIsUntrusted(t *testing.T) {
	gw := newTestStripe(t)

	req := httptest.NewRequest(http.MethodGet, "/payment/stripe/callback?payment_intent=pi_123", nil)
	n, err := gw.ParseCallback(req)
	require.NoError(t, err)

	assert.False(t, n.Trusted)
	assert.Equal(t, "pi_123", n.ProviderPaymentID)
	assert.Equal(t, StatusPending, n.Status)
}

func TestStripeCallbackRequiresIntentID(t *testing.T) {
	gw := newTestStripe(t)

	req := httptest.NewRequest(http.MethodGet, "/payment/stripe/callback", nil)
	_, err := gw.ParseCallback(req)
	assert.Error(t, err)
}

func TestStripeWebhookRejectsMissingSignature(t *testing.T) {
	gw := newTestStripe(t)

	err := gw.VerifyWebhookSignature([]byte(`{"type":"payment_intent.succeeded"}`), http.Header{})
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestStripeMissingCredentials(t *testing.T) {
	_, err := NewStripe(Config{Credentials: map[string]string{"api_key": "sk_test_123"}})
	assert.ErrorContains(t, err, "webhook_secret")
}

func TestStripeStatusMapping(t *testing.T) {
	assert.Equal(t, StatusCompleted, stripeStatus(stripe.PaymentIntentStatusSucceeded))
	assert.Equal(t, StatusFailed, stripeStatus(stripe.PaymentIntentStatusCanceled))
	assert.Equal(t, StatusPending, stripeStatus(stripe.PaymentIntentStatusProcessing))
	assert.Equal(t, StatusPending, stripeStatus(stripe.PaymentIntentStatusRequiresPaymentMethod))
}
