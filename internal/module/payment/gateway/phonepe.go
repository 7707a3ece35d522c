package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	phonepeSandboxURL = "https://api-preprod.phonepe.com/apis/pg-sandbox"
	phonepeLiveURL    = "https://api.phonepe.com/apis/hermes"

	phonepePayPath    = "/pg/v1/pay"
	phonepeRefundPath = "/pg/v1/refund"
)

// PhonePe drives the PAY_PAGE checkout of phonepe.com. Requests carry a
// base64 JSON payload signed with an X-VERIFY checksum; the browser
// return is unsigned, so callbacks are untrusted and confirmed by a
// status pull. Credentials: "merchant_id", "salt_key", "salt_index".
type PhonePe struct {
	merchantID string
	saltKey    string
	saltIndex  string
	baseURL    string
	client     HTTPDoer
}

// NewPhonePe builds the PhonePe adapter.
func NewPhonePe(cfg Config) (Gateway, error) {
	merchantID, err := cfg.Credential("merchant_id")
	if err != nil {
		return nil, err
	}
	saltKey, err := cfg.Credential("salt_key")
	if err != nil {
		return nil, err
	}
	saltIndex := cfg.Credentials["salt_index"]
	if saltIndex == "" {
		saltIndex = "1"
	}
	g := &PhonePe{
		merchantID: merchantID,
		saltKey:    saltKey,
		saltIndex:  saltIndex,
		baseURL:    phonepeSandboxURL,
		client:     cfg.HTTPClient,
	}
	if cfg.Production {
		g.baseURL = phonepeLiveURL
	}
	return g, nil
}

func (g *PhonePe) Key() string { return "phonepe" }

// checksum computes X-VERIFY: sha256(input + saltKey) + "###" + saltIndex.
func (g *PhonePe) checksum(input string) string {
	sum := sha256.Sum256([]byte(input + g.saltKey))
	return hex.EncodeToString(sum[:]) + "###" + g.saltIndex
}

type phonepeEnvelope struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		Amount                int64  `json:"amount"`
		State                 string `json:"state"`
		InstrumentResponse    struct {
			RedirectInfo struct {
				URL string `json:"url"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

func (g *PhonePe) post(ctx context.Context, path string, payload map[string]any) (*phonepeEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("phonepe: encode payload: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(data)

	body, err := json.Marshal(map[string]string{"request": encoded})
	if err != nil {
		return nil, fmt.Errorf("phonepe: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-VERIFY", g.checksum(encoded+path))

	return g.roundTrip(req, path)
}

func (g *PhonePe) roundTrip(req *http.Request, path string) (*phonepeEnvelope, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("phonepe %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("phonepe %s: read response: %w", path, err)
	}

	var env phonepeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("phonepe %s: decode response: %w", path, err)
	}
	return &env, nil
}

func (g *PhonePe) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResult, error) {
	payload := map[string]any{
		"merchantId":            g.merchantID,
		"merchantTransactionId": req.PaymentRef,
		"merchantUserId":        req.OrderID,
		"amount":                req.AmountPaise,
		"redirectUrl":           req.CallbackURL,
		"redirectMode":          "POST",
		"callbackUrl":           req.WebhookURL,
		"paymentInstrument":     map[string]string{"type": "PAY_PAGE"},
	}
	env, err := g.post(ctx, phonepePayPath, payload)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("phonepe pay rejected: %s (%s)", env.Message, env.Code)
	}
	return &InitiateResult{
		Mode:            ModeRedirect,
		RedirectURL:     env.Data.InstrumentResponse.RedirectInfo.URL,
		ProviderOrderID: req.PaymentRef,
	}, nil
}

// ParseCallback reads the unsigned browser return. The result is
// untrusted and only identifies which payment to verify.
func (g *PhonePe) ParseCallback(r *http.Request) (*Notification, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse phonepe callback: %w", err)
	}
	txnRef := r.Form.Get("merchantTransactionId")
	if txnRef == "" {
		txnRef = r.Form.Get("transactionId")
	}
	if txnRef == "" {
		return nil, fmt.Errorf("phonepe callback: missing transaction reference")
	}

	raw := make(map[string]any, len(r.Form))
	for k := range r.Form {
		raw[k] = r.Form.Get(k)
	}
	return &Notification{
		Source:          SourceCallback,
		PaymentRef:      txnRef,
		ProviderOrderID: txnRef,
		Status:          phonepeStatus(r.Form.Get("code")),
		Trusted:         false,
		Raw:             raw,
	}, nil
}

func (g *PhonePe) VerifyWebhookSignature(body []byte, headers http.Header) error {
	var wrapper struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return fmt.Errorf("parse phonepe webhook: %w", err)
	}
	want := g.checksum(wrapper.Response)
	got := headers.Get("X-VERIFY")
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

func (g *PhonePe) ParseWebhook(body []byte, headers http.Header) (*Notification, error) {
	if err := g.VerifyWebhookSignature(body, headers); err != nil {
		return nil, err
	}
	var wrapper struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("parse phonepe webhook: %w", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(wrapper.Response)
	if err != nil {
		return nil, fmt.Errorf("phonepe webhook: decode response: %w", err)
	}
	var env phonepeEnvelope
	if err := json.Unmarshal(decoded, &env); err != nil {
		return nil, fmt.Errorf("phonepe webhook: decode envelope: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(decoded, &raw); err != nil {
		return nil, fmt.Errorf("phonepe webhook: decode envelope: %w", err)
	}

	return &Notification{
		Source:            SourceWebhook,
		EventID:           env.Data.TransactionID + ":" + env.Code,
		PaymentRef:        env.Data.MerchantTransactionID,
		ProviderOrderID:   env.Data.MerchantTransactionID,
		ProviderPaymentID: env.Data.TransactionID,
		Status:            phonepeStatus(env.Code),
		AmountPaise:       env.Data.Amount,
		Trusted:           true,
		Raw:               raw,
	}, nil
}

func (g *PhonePe) Verify(ctx context.Context, c Correlation) (*VerifyResult, error) {
	path := fmt.Sprintf("/pg/v1/status/%s/%s", g.merchantID, c.PaymentRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-VERIFY", g.checksum(path))
	req.Header.Set("X-MERCHANT-ID", g.merchantID)

	env, err := g.roundTrip(req, path)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		Status:            phonepeStatus(env.Code),
		AmountPaise:       env.Data.Amount,
		ProviderPaymentID: env.Data.TransactionID,
		Raw:               map[string]any{"code": env.Code, "state": env.Data.State},
	}, nil
}

func (g *PhonePe) Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	payload := map[string]any{
		"merchantId":            g.merchantID,
		"merchantUserId":        req.ProviderOrderID,
		"originalTransactionId": req.PaymentRef,
		"merchantTransactionId": req.PaymentRef + "-refund",
		"amount":                req.AmountPaise,
	}
	env, err := g.post(ctx, phonepeRefundPath, payload)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("phonepe refund rejected: %s (%s)", env.Message, env.Code)
	}
	return &RefundResult{
		ProviderRefundID: env.Data.TransactionID,
		Status:           StatusPending,
	}, nil
}

func (g *PhonePe) AlwaysAcknowledgeWebhooks() bool { return false }

func phonepeStatus(code string) Status {
	switch strings.ToUpper(code) {
	case "PAYMENT_SUCCESS", "COMPLETED":
		return StatusCompleted
	case "PAYMENT_ERROR", "PAYMENT_DECLINED", "TIMED_OUT", "FAILED":
		return StatusFailed
	default:
		return StatusPending
	}
}
