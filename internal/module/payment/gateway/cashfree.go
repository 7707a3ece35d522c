package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	cashfreeSandboxURL = "https://sandbox.cashfree.com/pg"
	cashfreeLiveURL    = "https://api.cashfree.com/pg"
	cashfreeAPIVersion = "2023-08-01"
)

// Cashfree drives the session-token checkout of cashfree.com. Orders
// are created with decimal rupee amounts, the client SDK opens the
// payment session, and webhooks carry a timestamped HMAC signature.
// Credentials: "client_id", "client_secret", optional "webhook_secret"
// (defaults to the client secret).
type Cashfree struct {
	clientID      string
	clientSecret  string
	webhookSecret string
	baseURL       string
	client        HTTPDoer
}

// NewCashfree builds the Cashfree adapter.
func NewCashfree(cfg Config) (Gateway, error) {
	clientID, err := cfg.Credential("client_id")
	if err != nil {
		return nil, err
	}
	clientSecret, err := cfg.Credential("client_secret")
	if err != nil {
		return nil, err
	}
	webhookSecret := cfg.Credentials["webhook_secret"]
	if webhookSecret == "" {
		webhookSecret = clientSecret
	}
	g := &Cashfree{
		clientID:      clientID,
		clientSecret:  clientSecret,
		webhookSecret: webhookSecret,
		baseURL:       cashfreeSandboxURL,
		client:        cfg.HTTPClient,
	}
	if cfg.Production {
		g.baseURL = cashfreeLiveURL
	}
	return g, nil
}

func (g *Cashfree) Key() string { return "cashfree" }

func (g *Cashfree) api(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("cashfree: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("x-client-id", g.clientID)
	req.Header.Set("x-client-secret", g.clientSecret)
	req.Header.Set("x-api-version", cashfreeAPIVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("cashfree %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("cashfree %s %s: read response: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("cashfree %s %s: %s (%s)", method, path, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("cashfree %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("cashfree %s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

type cashfreeOrder struct {
	CFOrderID        string      `json:"cf_order_id"`
	OrderID          string      `json:"order_id"`
	OrderStatus      string      `json:"order_status"`
	OrderAmount      json.Number `json:"order_amount"`
	PaymentSessionID string      `json:"payment_session_id"`
}

func (g *Cashfree) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResult, error) {
	payload := map[string]any{
		"order_id":       req.PaymentRef,
		"order_amount":   json.Number(PaiseToRupees(req.AmountPaise)),
		"order_currency": req.Currency,
		"customer_details": map[string]string{
			"customer_id":    req.OrderID,
			"customer_name":  req.CustomerName,
			"customer_email": req.CustomerEmail,
			"customer_phone": req.CustomerPhone,
		},
		"order_meta": map[string]string{
			"return_url": req.CallbackURL + "?order_id={order_id}",
			"notify_url": req.WebhookURL,
		},
		"order_note": req.Description,
	}
	var order cashfreeOrder
	if err := g.api(ctx, http.MethodPost, "/orders", payload, &order); err != nil {
		return nil, err
	}
	return &InitiateResult{
		Mode:            ModeToken,
		SessionToken:    order.PaymentSessionID,
		ProviderOrderID: order.CFOrderID,
	}, nil
}

// ParseCallback reads the unsigned return redirect. It only identifies
// the payment; the outcome comes from a status pull.
func (g *Cashfree) ParseCallback(r *http.Request) (*Notification, error) {
	ref := r.URL.Query().Get("order_id")
	if ref == "" {
		if err := r.ParseForm(); err == nil {
			ref = r.Form.Get("order_id")
		}
	}
	if ref == "" {
		return nil, fmt.Errorf("cashfree callback: missing order_id")
	}
	return &Notification{
		Source:     SourceCallback,
		PaymentRef: ref,
		Status:     StatusPending,
		Trusted:    false,
		Raw:        map[string]any{"order_id": ref},
	}, nil
}

// VerifyWebhookSignature checks x-webhook-signature:
// base64(HMAC-SHA256(timestamp + rawBody)) under the webhook secret.
func (g *Cashfree) VerifyWebhookSignature(body []byte, headers http.Header) error {
	signature := headers.Get("x-webhook-signature")
	timestamp := headers.Get("x-webhook-timestamp")
	if signature == "" || timestamp == "" {
		return ErrSignatureMismatch
	}
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

type cashfreeWebhookEvent struct {
	Type      string `json:"type"`
	EventTime string `json:"event_time"`
	Data      struct {
		Order struct {
			OrderID     string      `json:"order_id"`
			OrderAmount json.Number `json:"order_amount"`
		} `json:"order"`
		Payment struct {
			CFPaymentID   json.Number `json:"cf_payment_id"`
			PaymentStatus string      `json:"payment_status"`
			PaymentAmount json.Number `json:"payment_amount"`
		} `json:"payment"`
	} `json:"data"`
}

func (g *Cashfree) ParseWebhook(body []byte, headers http.Header) (*Notification, error) {
	var event cashfreeWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("parse cashfree webhook: %w", err)
	}

	var status Status
	switch event.Type {
	case "PAYMENT_SUCCESS_WEBHOOK":
		status = StatusCompleted
	case "PAYMENT_FAILED_WEBHOOK", "PAYMENT_USER_DROPPED_WEBHOOK":
		status = StatusFailed
	default:
		return nil, fmt.Errorf("%w: %s", ErrEventIgnored, event.Type)
	}

	amount := event.Data.Payment.PaymentAmount
	if amount == "" {
		amount = event.Data.Order.OrderAmount
	}
	paise, err := RupeesToPaise(amount.String())
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse cashfree webhook: %w", err)
	}

	paymentID := event.Data.Payment.CFPaymentID.String()
	return &Notification{
		Source:            SourceWebhook,
		EventID:           paymentID + ":" + event.Type,
		PaymentRef:        event.Data.Order.OrderID,
		ProviderPaymentID: paymentID,
		Status:            status,
		AmountPaise:       paise,
		Trusted:           true,
		Raw:               raw,
	}, nil
}

func (g *Cashfree) Verify(ctx context.Context, c Correlation) (*VerifyResult, error) {
	var order cashfreeOrder
	if err := g.api(ctx, http.MethodGet, "/orders/"+c.PaymentRef, nil, &order); err != nil {
		return nil, err
	}
	paise, err := RupeesToPaise(order.OrderAmount.String())
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		Status:            cashfreeStatus(order.OrderStatus),
		AmountPaise:       paise,
		ProviderPaymentID: order.CFOrderID,
		Raw:               map[string]any{"order_status": order.OrderStatus},
	}, nil
}

func (g *Cashfree) Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	payload := map[string]any{
		"refund_amount": json.Number(PaiseToRupees(req.AmountPaise)),
		"refund_id":     req.PaymentRef + "-refund",
		"refund_note":   req.Reason,
	}
	var refund struct {
		CFRefundID   json.Number `json:"cf_refund_id"`
		RefundStatus string      `json:"refund_status"`
	}
	if err := g.api(ctx, http.MethodPost, "/orders/"+req.PaymentRef+"/refunds", payload, &refund); err != nil {
		return nil, err
	}
	status := StatusPending
	if strings.EqualFold(refund.RefundStatus, "SUCCESS") {
		status = StatusCompleted
	}
	return &RefundResult{ProviderRefundID: refund.CFRefundID.String(), Status: status}, nil
}

func (g *Cashfree) AlwaysAcknowledgeWebhooks() bool { return false }

func cashfreeStatus(s string) Status {
	switch strings.ToUpper(s) {
	case "PAID", "SUCCESS":
		return StatusCompleted
	case "EXPIRED", "TERMINATED", "FAILED":
		return StatusFailed
	default:
		return StatusPending
	}
}
