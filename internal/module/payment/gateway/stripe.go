package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe handles international card payments through PaymentIntents.
// The client confirms the intent with the client secret; outcomes
// arrive on signed webhooks. Credentials: "api_key", "webhook_secret".
type Stripe struct {
	webhookSecret string
}

// NewStripe builds the Stripe adapter. The SDK carries its own HTTP
// client and endpoint selection, keyed by the API key's mode.
func NewStripe(cfg Config) (Gateway, error) {
	apiKey, err := cfg.Credential("api_key")
	if err != nil {
		return nil, err
	}
	webhookSecret, err := cfg.Credential("webhook_secret")
	if err != nil {
		return nil, err
	}
	stripe.Key = apiKey
	return &Stripe{webhookSecret: webhookSecret}, nil
}

func (g *Stripe) Key() string { return "stripe" }

func (g *Stripe) Initiate(_ context.Context, req *InitiateRequest) (*InitiateResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountPaise),
		Currency: stripe.String("inr"),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"payment_ref": req.PaymentRef,
			"order_id":    req.OrderID,
		},
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	return &InitiateResult{
		Mode:            ModeToken,
		SessionToken:    pi.ClientSecret,
		ProviderOrderID: pi.ID,
	}, nil
}

// ParseCallback reads the browser return after confirmation. Stripe's
// redirect carries only the intent id, so the result is untrusted.
func (g *Stripe) ParseCallback(r *http.Request) (*Notification, error) {
	intentID := r.URL.Query().Get("payment_intent")
	if intentID == "" {
		return nil, fmt.Errorf("stripe callback: missing payment_intent")
	}
	return &Notification{
		Source:            SourceCallback,
		ProviderOrderID:   intentID,
		ProviderPaymentID: intentID,
		Status:            StatusPending,
		Trusted:           false,
		Raw:               map[string]any{"payment_intent": intentID},
	}, nil
}

func (g *Stripe) VerifyWebhookSignature(body []byte, headers http.Header) error {
	_, err := webhook.ConstructEvent(body, headers.Get("Stripe-Signature"), g.webhookSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	return nil
}

func (g *Stripe) ParseWebhook(body []byte, headers http.Header) (*Notification, error) {
	event, err := webhook.ConstructEvent(body, headers.Get("Stripe-Signature"), g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}

	var status Status
	switch event.Type {
	case "payment_intent.succeeded":
		status = StatusCompleted
	case "payment_intent.payment_failed", "payment_intent.canceled":
		status = StatusFailed
	default:
		return nil, fmt.Errorf("%w: %s", ErrEventIgnored, event.Type)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("stripe webhook: decode payment intent: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(event.Data.Raw, &raw); err != nil {
		return nil, fmt.Errorf("stripe webhook: decode payment intent: %w", err)
	}

	return &Notification{
		Source:            SourceWebhook,
		EventID:           event.ID,
		PaymentRef:        pi.Metadata["payment_ref"],
		ProviderOrderID:   pi.ID,
		ProviderPaymentID: pi.ID,
		Status:            status,
		AmountPaise:       pi.Amount,
		Trusted:           true,
		Raw:               raw,
	}, nil
}

func (g *Stripe) Verify(_ context.Context, c Correlation) (*VerifyResult, error) {
	pi, err := paymentintent.Get(c.ProviderPaymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("stripe: get payment intent: %w", err)
	}
	return &VerifyResult{
		Status:            stripeStatus(pi.Status),
		AmountPaise:       pi.Amount,
		ProviderPaymentID: pi.ID,
		Raw:               map[string]any{"status": string(pi.Status)},
	}, nil
}

func (g *Stripe) Refund(_ context.Context, req *RefundRequest) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ProviderPaymentID),
		Amount:        stripe.Int64(req.AmountPaise),
	}
	ref, err := refund.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create refund: %w", err)
	}
	status := StatusPending
	if ref.Status == stripe.RefundStatusSucceeded {
		status = StatusCompleted
	}
	return &RefundResult{ProviderRefundID: ref.ID, Status: status}, nil
}

func (g *Stripe) AlwaysAcknowledgeWebhooks() bool { return false }

func stripeStatus(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusCompleted
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}
