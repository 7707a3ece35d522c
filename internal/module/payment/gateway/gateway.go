package gateway

import (
	"context"
	"errors"
	"net/http"
)

// Status is the normalized outcome a provider reports for a payment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Source identifies which channel a notification arrived on.
type Source string

const (
	SourceCallback Source = "callback"
	SourceWebhook  Source = "webhook"
)

var (
	// ErrSignatureMismatch is returned when a callback or webhook fails
	// signature verification.
	ErrSignatureMismatch = errors.New("signature mismatch")
	// ErrNotSupported is returned for operations a gateway does not
	// implement, such as remote verification for pay-on-delivery.
	ErrNotSupported = errors.New("operation not supported by gateway")
	// ErrEventIgnored marks webhook events that carry no payment outcome
	// and should be acknowledged without processing.
	ErrEventIgnored = errors.New("event ignored")
)

// InitiateRequest carries everything a gateway needs to start a payment.
type InitiateRequest struct {
	PaymentRef    string // Our transaction reference, unique per attempt
	OrderID       string
	OrderNo       string
	AmountPaise   int64
	Currency      string
	Description   string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	CallbackURL   string
	WebhookURL    string
}

// InitiateMode tells the client how to continue the payment.
type InitiateMode string

const (
	// ModeRedirect sends the shopper to a provider-hosted page.
	ModeRedirect InitiateMode = "redirect"
	// ModeForm has the client POST a self-submitting form to the provider.
	ModeForm InitiateMode = "form"
	// ModeToken hands a session token to a provider SDK on the client.
	ModeToken InitiateMode = "token"
	// ModeNone needs no client-side continuation, as with pay on delivery.
	ModeNone InitiateMode = "none"
)

// InitiateResult is the provider's answer to an initiate call.
type InitiateResult struct {
	Mode            InitiateMode      `json:"mode"`
	RedirectURL     string            `json:"redirect_url,omitempty"`
	FormAction      string            `json:"form_action,omitempty"`
	FormFields      map[string]string `json:"form_fields,omitempty"`
	SessionToken    string            `json:"session_token,omitempty"`
	ProviderOrderID string            `json:"provider_order_id,omitempty"`
}

// Correlation carries the identifiers needed to look a payment up at
// the provider.
type Correlation struct {
	PaymentRef        string
	ProviderOrderID   string
	ProviderPaymentID string
}

// VerifyResult is the provider's authoritative view of a payment,
// obtained by a server-to-server status pull.
type VerifyResult struct {
	Status            Status
	AmountPaise       int64
	ProviderPaymentID string
	Raw               map[string]any
}

// Notification is the normalized form of a provider callback or
// webhook. Trusted reports whether the gateway could verify the
// message's authenticity by itself; untrusted notifications must be
// confirmed with Verify before any state change.
type Notification struct {
	Source            Source
	EventID           string
	PaymentRef        string
	ProviderOrderID   string
	ProviderPaymentID string
	Status            Status
	AmountPaise       int64
	Trusted           bool
	Raw               map[string]any
}

// RefundRequest asks the provider to return funds for a payment.
type RefundRequest struct {
	PaymentRef        string
	ProviderOrderID   string
	ProviderPaymentID string
	AmountPaise       int64
	Reason            string
}

// RefundResult reports the provider's refund handle and state.
type RefundResult struct {
	ProviderRefundID string
	Status           Status
}

// HTTPDoer is the outbound HTTP surface gateways call providers through.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Gateway is the contract every payment provider adapter implements.
// Adapters are pure wire clients: they talk the provider's protocol and
// normalize its answers, and never touch the ledger or order state.
type Gateway interface {
	// Key returns the stable identifier used in routes and configuration.
	Key() string

	// Initiate starts a payment attempt with the provider.
	Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResult, error)

	// Verify pulls the authoritative payment status from the provider.
	Verify(ctx context.Context, c Correlation) (*VerifyResult, error)

	// ParseCallback interprets the browser return from the provider.
	ParseCallback(r *http.Request) (*Notification, error)

	// VerifyWebhookSignature authenticates a webhook delivery before
	// the body is interpreted.
	VerifyWebhookSignature(body []byte, headers http.Header) error

	// ParseWebhook interprets an authenticated webhook body.
	ParseWebhook(body []byte, headers http.Header) (*Notification, error)

	// Refund returns funds for a completed payment.
	Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error)

	// AlwaysAcknowledgeWebhooks reports whether the provider requires a
	// success response even for deliveries that fail verification, to
	// stop it retrying forever.
	AlwaysAcknowledgeWebhooks() bool
}
