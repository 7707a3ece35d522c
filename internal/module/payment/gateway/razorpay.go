package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const razorpayAPIURL = "https://api.razorpay.com/v1"

// Razorpay drives the order-plus-checkout flow of razorpay.com. An
// order is created server side, the client SDK collects the payment
// against it, and both the browser handshake and the webhook are HMAC
// signed. Credentials: "key_id", "key_secret", "webhook_secret".
type Razorpay struct {
	keyID         string
	keySecret     string
	webhookSecret string
	apiURL        string
	client        HTTPDoer
}

// NewRazorpay builds the Razorpay adapter. Razorpay has no separate
// sandbox host; test mode is selected by the key pair.
func NewRazorpay(cfg Config) (Gateway, error) {
	keyID, err := cfg.Credential("key_id")
	if err != nil {
		return nil, err
	}
	keySecret, err := cfg.Credential("key_secret")
	if err != nil {
		return nil, err
	}
	webhookSecret, err := cfg.Credential("webhook_secret")
	if err != nil {
		return nil, err
	}
	return &Razorpay{
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		apiURL:        razorpayAPIURL,
		client:        cfg.HTTPClient,
	}, nil
}

func (g *Razorpay) Key() string { return "razorpay" }

func (g *Razorpay) api(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("razorpay: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.apiURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("razorpay %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("razorpay %s %s: read response: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Description != "" {
			return fmt.Errorf("razorpay %s %s: %s (%s)", method, path, apiErr.Error.Description, apiErr.Error.Code)
		}
		return fmt.Errorf("razorpay %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("razorpay %s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

type razorpayOrder struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

type razorpayPayment struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
}

func (g *Razorpay) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResult, error) {
	payload := map[string]any{
		"amount":   req.AmountPaise,
		"currency": req.Currency,
		"receipt":  req.PaymentRef,
		"notes": map[string]string{
			"order_id": req.OrderID,
			"order_no": req.OrderNo,
		},
	}
	var order razorpayOrder
	if err := g.api(ctx, http.MethodPost, "/orders", payload, &order); err != nil {
		return nil, err
	}
	return &InitiateResult{
		Mode:            ModeToken,
		SessionToken:    order.ID,
		ProviderOrderID: order.ID,
		FormFields: map[string]string{
			"key_id":   g.keyID,
			"order_id": order.ID,
			"amount":   fmt.Sprint(req.AmountPaise),
			"currency": req.Currency,
		},
	}, nil
}

// ParseCallback verifies the checkout handshake the client posts back:
// hex HMAC-SHA256(order_id + "|" + payment_id) under the key secret.
func (g *Razorpay) ParseCallback(r *http.Request) (*Notification, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse razorpay callback: %w", err)
	}
	orderID := r.Form.Get("razorpay_order_id")
	paymentID := r.Form.Get("razorpay_payment_id")
	signature := r.Form.Get("razorpay_signature")

	mac := hmac.New(sha256.New, []byte(g.keySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return nil, ErrSignatureMismatch
	}

	return &Notification{
		Source:            SourceCallback,
		EventID:           "callback:" + paymentID,
		ProviderOrderID:   orderID,
		ProviderPaymentID: paymentID,
		Status:            StatusCompleted,
		Trusted:           true,
		Raw: map[string]any{
			"razorpay_order_id":   orderID,
			"razorpay_payment_id": paymentID,
		},
	}, nil
}

func (g *Razorpay) VerifyWebhookSignature(body []byte, headers http.Header) error {
	signature := headers.Get("X-Razorpay-Signature")
	if signature == "" {
		return ErrSignatureMismatch
	}
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

type razorpayWebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

func (g *Razorpay) ParseWebhook(body []byte, headers http.Header) (*Notification, error) {
	var event razorpayWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("parse razorpay webhook: %w", err)
	}

	var status Status
	switch event.Event {
	case "payment.captured":
		status = StatusCompleted
	case "payment.failed":
		status = StatusFailed
	default:
		return nil, fmt.Errorf("%w: %s", ErrEventIgnored, event.Event)
	}

	payment := event.Payload.Payment.Entity
	eventID := headers.Get("X-Razorpay-Event-Id")
	if eventID == "" {
		eventID = event.Event + ":" + payment.ID
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse razorpay webhook: %w", err)
	}

	return &Notification{
		Source:            SourceWebhook,
		EventID:           eventID,
		ProviderOrderID:   payment.OrderID,
		ProviderPaymentID: payment.ID,
		Status:            status,
		AmountPaise:       payment.Amount,
		Trusted:           true,
		Raw:               raw,
	}, nil
}

func (g *Razorpay) Verify(ctx context.Context, c Correlation) (*VerifyResult, error) {
	if c.ProviderPaymentID != "" {
		var payment razorpayPayment
		if err := g.api(ctx, http.MethodGet, "/payments/"+c.ProviderPaymentID, nil, &payment); err != nil {
			return nil, err
		}
		return &VerifyResult{
			Status:            razorpayStatus(payment.Status),
			AmountPaise:       payment.Amount,
			ProviderPaymentID: payment.ID,
			Raw:               map[string]any{"status": payment.Status},
		}, nil
	}

	var list struct {
		Items []razorpayPayment `json:"items"`
	}
	if err := g.api(ctx, http.MethodGet, "/orders/"+c.ProviderOrderID+"/payments", nil, &list); err != nil {
		return nil, err
	}
	if len(list.Items) == 0 {
		return &VerifyResult{Status: StatusPending}, nil
	}
	// Prefer a captured attempt over failed retries.
	best := list.Items[0]
	for _, p := range list.Items {
		if razorpayStatus(p.Status) == StatusCompleted {
			best = p
			break
		}
	}
	return &VerifyResult{
		Status:            razorpayStatus(best.Status),
		AmountPaise:       best.Amount,
		ProviderPaymentID: best.ID,
		Raw:               map[string]any{"status": best.Status},
	}, nil
}

func (g *Razorpay) Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	payload := map[string]any{"amount": req.AmountPaise}
	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := g.api(ctx, http.MethodPost, "/payments/"+req.ProviderPaymentID+"/refund", payload, &refund); err != nil {
		return nil, err
	}
	status := StatusPending
	if refund.Status == "processed" {
		status = StatusCompleted
	}
	return &RefundResult{ProviderRefundID: refund.ID, Status: status}, nil
}

func (g *Razorpay) AlwaysAcknowledgeWebhooks() bool { return false }

func razorpayStatus(s string) Status {
	switch strings.ToLower(s) {
	case "captured":
		return StatusCompleted
	case "failed":
		return StatusFailed
	default:
		return StatusPending
	}
}
