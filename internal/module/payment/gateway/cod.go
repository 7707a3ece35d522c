package gateway

import (
	"context"
	"net/http"
)

// COD is pay on delivery. There is no remote provider: the payment
// stays pending until fulfillment confirms the cash was collected, and
// refunds are recorded in the ledger only.
type COD struct{}

// NewCOD builds the pay-on-delivery adapter. It needs no credentials.
func NewCOD(Config) (Gateway, error) {
	return &COD{}, nil
}

func (g *COD) Key() string { return "cod" }

func (g *COD) Initiate(_ context.Context, req *InitiateRequest) (*InitiateResult, error) {
	return &InitiateResult{
		Mode:            ModeNone,
		ProviderOrderID: req.PaymentRef,
	}, nil
}

func (g *COD) Verify(context.Context, Correlation) (*VerifyResult, error) {
	return nil, ErrNotSupported
}

func (g *COD) ParseCallback(*http.Request) (*Notification, error) {
	return nil, ErrNotSupported
}

func (g *COD) VerifyWebhookSignature([]byte, http.Header) error {
	return ErrNotSupported
}

func (g *COD) ParseWebhook([]byte, http.Header) (*Notification, error) {
	return nil, ErrNotSupported
}

// Refund for collected cash is settled out of band, so the result is
// immediately final and carries no provider handle.
func (g *COD) Refund(_ context.Context, req *RefundRequest) (*RefundResult, error) {
	return &RefundResult{
		ProviderRefundID: req.PaymentRef + "-refund",
		Status:           StatusCompleted,
	}, nil
}

func (g *COD) AlwaysAcknowledgeWebhooks() bool { return false }
