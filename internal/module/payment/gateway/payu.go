package gateway

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	payuSandboxPaymentURL = "https://test.payu.in/_payment"
	payuLivePaymentURL    = "https://secure.payu.in/_payment"
	payuSandboxAPIURL     = "https://test.payu.in/merchant/postservice.php?form=2"
	payuLiveAPIURL        = "https://info.payu.in/merchant/postservice.php?form=2"
)

// PayU drives the hosted-checkout flow of payu.in: the shopper is sent
// there with a hash-signed form POST and returns via a hash-signed
// callback. Credentials: "key", "salt".
type PayU struct {
	key        string
	salt       string
	paymentURL string
	apiURL     string
	client     HTTPDoer
}

// NewPayU builds the PayU adapter.
func NewPayU(cfg Config) (Gateway, error) {
	key, err := cfg.Credential("key")
	if err != nil {
		return nil, err
	}
	salt, err := cfg.Credential("salt")
	if err != nil {
		return nil, err
	}
	g := &PayU{
		key:        key,
		salt:       salt,
		paymentURL: payuSandboxPaymentURL,
		apiURL:     payuSandboxAPIURL,
		client:     cfg.HTTPClient,
	}
	if cfg.Production {
		g.paymentURL = payuLivePaymentURL
		g.apiURL = payuLiveAPIURL
	}
	return g, nil
}

func (g *PayU) Key() string { return "payu" }

// requestHash computes the forward checkout hash:
// sha512(key|txnid|amount|productinfo|firstname|email|udf1..udf5||||||salt).
func (g *PayU) requestHash(txnid, amount, productinfo, firstname, email string, udf [5]string) string {
	parts := []string{
		g.key, txnid, amount, productinfo, firstname, email,
		udf[0], udf[1], udf[2], udf[3], udf[4],
		"", "", "", "", "",
		g.salt,
	}
	sum := sha512.Sum512([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// responseHash computes the reverse hash PayU signs callbacks and
// webhooks with: sha512(salt|status||||||udf5..udf1|email|firstname|productinfo|amount|txnid|key).
func (g *PayU) responseHash(status, txnid, amount, productinfo, firstname, email string, udf [5]string) string {
	parts := []string{
		g.salt, status,
		"", "", "", "", "",
		udf[4], udf[3], udf[2], udf[1], udf[0],
		email, firstname, productinfo, amount, txnid, g.key,
	}
	sum := sha512.Sum512([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func (g *PayU) Initiate(_ context.Context, req *InitiateRequest) (*InitiateResult, error) {
	amount := PaiseToRupees(req.AmountPaise)
	productinfo := req.Description
	if productinfo == "" {
		productinfo = "Order " + req.OrderNo
	}
	udf := [5]string{req.OrderID}

	fields := map[string]string{
		"key":         g.key,
		"txnid":       req.PaymentRef,
		"amount":      amount,
		"productinfo": productinfo,
		"firstname":   req.CustomerName,
		"email":       req.CustomerEmail,
		"phone":       req.CustomerPhone,
		"surl":        req.CallbackURL,
		"furl":        req.CallbackURL,
		"udf1":        req.OrderID,
		"hash":        g.requestHash(req.PaymentRef, amount, productinfo, req.CustomerName, req.CustomerEmail, udf),
	}
	return &InitiateResult{
		Mode:       ModeForm,
		FormAction: g.paymentURL,
		FormFields: fields,
	}, nil
}

// parseNotification validates and normalizes a PayU form payload. The
// same shape arrives on browser callbacks and server webhooks.
func (g *PayU) parseNotification(values url.Values, source Source) (*Notification, error) {
	status := values.Get("status")
	txnid := values.Get("txnid")
	amount := values.Get("amount")
	udf := [5]string{
		values.Get("udf1"), values.Get("udf2"), values.Get("udf3"),
		values.Get("udf4"), values.Get("udf5"),
	}

	want := g.responseHash(status, txnid, amount, values.Get("productinfo"), values.Get("firstname"), values.Get("email"), udf)
	got := values.Get("hash")
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return nil, ErrSignatureMismatch
	}

	paise, err := RupeesToPaise(amount)
	if err != nil {
		return nil, err
	}

	raw := make(map[string]any, len(values))
	for k := range values {
		raw[k] = values.Get(k)
	}

	mihpayid := values.Get("mihpayid")
	return &Notification{
		Source:            source,
		EventID:           mihpayid + ":" + status,
		PaymentRef:        txnid,
		ProviderOrderID:   txnid,
		ProviderPaymentID: mihpayid,
		Status:            payuStatus(status),
		AmountPaise:       paise,
		Trusted:           true,
		Raw:               raw,
	}, nil
}

func (g *PayU) ParseCallback(r *http.Request) (*Notification, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse payu callback: %w", err)
	}
	return g.parseNotification(r.Form, SourceCallback)
}

func (g *PayU) VerifyWebhookSignature(body []byte, _ http.Header) error {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return fmt.Errorf("parse payu webhook: %w", err)
	}
	_, err = g.parseNotification(values, SourceWebhook)
	return err
}

func (g *PayU) ParseWebhook(body []byte, _ http.Header) (*Notification, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse payu webhook: %w", err)
	}
	return g.parseNotification(values, SourceWebhook)
}

type payuVerifyResponse struct {
	Status             int                              `json:"status"`
	TransactionDetails map[string]payuTransactionDetail `json:"transaction_details"`
}

type payuTransactionDetail struct {
	MihpayID string `json:"mihpayid"`
	Status   string `json:"status"`
	Amount   string `json:"amt"`
}

func (g *PayU) Verify(ctx context.Context, c Correlation) (*VerifyResult, error) {
	command := "verify_payment"
	sum := sha512.Sum512([]byte(g.key + "|" + command + "|" + c.PaymentRef + "|" + g.salt))

	form := url.Values{}
	form.Set("key", g.key)
	form.Set("command", command)
	form.Set("var1", c.PaymentRef)
	form.Set("hash", hex.EncodeToString(sum[:]))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payu verify: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("payu verify: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payu verify: unexpected status %d", resp.StatusCode)
	}

	var parsed payuVerifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("payu verify: decode response: %w", err)
	}
	detail, ok := parsed.TransactionDetails[c.PaymentRef]
	if !ok {
		return nil, fmt.Errorf("payu verify: transaction %s not found", c.PaymentRef)
	}

	paise, err := RupeesToPaise(detail.Amount)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		Status:            payuStatus(detail.Status),
		AmountPaise:       paise,
		ProviderPaymentID: detail.MihpayID,
		Raw:               map[string]any{"status": detail.Status, "amt": detail.Amount, "mihpayid": detail.MihpayID},
	}, nil
}

type payuRefundResponse struct {
	Status    int    `json:"status"`
	Msg       string `json:"msg"`
	RequestID any    `json:"request_id"`
}

func (g *PayU) Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	command := "cancel_refund_transaction"
	sum := sha512.Sum512([]byte(g.key + "|" + command + "|" + req.ProviderPaymentID + "|" + g.salt))

	form := url.Values{}
	form.Set("key", g.key)
	form.Set("command", command)
	form.Set("var1", req.ProviderPaymentID)
	form.Set("var2", req.PaymentRef+"-refund")
	form.Set("var3", PaiseToRupees(req.AmountPaise))
	form.Set("hash", hex.EncodeToString(sum[:]))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payu refund: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("payu refund: read response: %w", err)
	}
	var parsed payuRefundResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("payu refund: decode response: %w", err)
	}
	if parsed.Status != 1 {
		return nil, fmt.Errorf("payu refund rejected: %s", parsed.Msg)
	}
	return &RefundResult{
		ProviderRefundID: fmt.Sprint(parsed.RequestID),
		Status:           StatusPending,
	}, nil
}

// AlwaysAcknowledgeWebhooks is true for PayU: its delivery keeps
// retrying on any non-200, including rejected signatures.
func (g *PayU) AlwaysAcknowledgeWebhooks() bool { return true }

func payuStatus(s string) Status {
	switch strings.ToLower(s) {
	case "success", "captured":
		return StatusCompleted
	case "failure", "failed", "cancel", "cancelled", "dropped", "bounced":
		return StatusFailed
	default:
		return StatusPending
	}
}
