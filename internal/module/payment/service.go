package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shopora/server/internal/module/order"
	"github.com/shopora/server/internal/module/payment/gateway"
	"github.com/shopora/server/internal/shared/config"
	apperrors "github.com/shopora/server/internal/shared/errors"
	"github.com/shopora/server/internal/shared/metrics"
)

// Service orchestrates payment attempts across gateways. Adapters talk
// wire protocols, the reconciler owns state transitions; the service
// glues them to orders and enforces policy.
type Service struct {
	factory    *Factory
	repo       Repository
	reconciler *Reconciler
	orders     order.Repository
	cfg        config.PaymentConfig
	log        *zap.Logger
}

// NewService creates a new payment service.
func NewService(factory *Factory, repo Repository, reconciler *Reconciler, orders order.Repository, cfg config.PaymentConfig, log *zap.Logger) *Service {
	return &Service{
		factory:    factory,
		repo:       repo,
		reconciler: reconciler,
		orders:     orders,
		cfg:        cfg,
		log:        log.Named("payment"),
	}
}

// Initiate starts a payment attempt for an order on the given gateway.
func (s *Service) Initiate(ctx context.Context, userID uuid.UUID, orderID uuid.UUID, gatewayKey string) (*gateway.InitiateResult, *Payment, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if o.UserID != userID {
		return nil, nil, apperrors.Forbidden("order belongs to another user")
	}
	if !o.IsPayable() {
		return nil, nil, fmt.Errorf("%w: payment status %s", ErrOrderNotPayable, o.PaymentStatus)
	}
	if o.Total <= 0 {
		return nil, nil, apperrors.Validation("order total must be positive")
	}
	if o.Currency != "INR" {
		return nil, nil, apperrors.Validation("unsupported currency " + o.Currency)
	}

	gw, gwCfg, err := s.factory.Gateway(ctx, gatewayKey)
	if err != nil {
		metrics.PaymentInitiations.WithLabelValues(gatewayKey, "rejected").Inc()
		return nil, nil, err
	}
	if !gwCfg.Accepts(o.Total) {
		metrics.PaymentInitiations.WithLabelValues(gatewayKey, "rejected").Inc()
		return nil, nil, fmt.Errorf("%w: %s for amount %d", ErrAmountOutOfBounds, gatewayKey, o.Total)
	}

	p := &Payment{
		PaymentRef:  NewPaymentRef(),
		OrderID:     o.ID,
		UserID:      o.UserID,
		Gateway:     gatewayKey,
		Status:      StatusPending,
		AmountPaise: o.Total,
		Currency:    o.Currency,
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, nil, err
	}

	result, err := gw.Initiate(ctx, &gateway.InitiateRequest{
		PaymentRef:    p.PaymentRef,
		OrderID:       o.ID.String(),
		OrderNo:       o.OrderNo,
		AmountPaise:   o.Total,
		Currency:      o.Currency,
		Description:   "Order " + o.OrderNo,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		CustomerPhone: o.CustomerPhone,
		CallbackURL:   s.callbackURL(gatewayKey),
		WebhookURL:    s.webhookURL(gatewayKey),
	})
	if err != nil {
		metrics.PaymentInitiations.WithLabelValues(gatewayKey, "error").Inc()
		// The attempt stays in the ledger; the shopper can retry with a
		// fresh one.
		return nil, nil, fmt.Errorf("initiate %s payment: %w", gatewayKey, err)
	}

	if result.ProviderOrderID != "" {
		p.ProviderOrderID = result.ProviderOrderID
		if err := s.repo.UpdatePayment(ctx, nil, p); err != nil {
			return nil, nil, err
		}
	}

	if err := s.markOrderPending(ctx, o, gatewayKey, p.PaymentRef, result.ProviderOrderID); err != nil {
		return nil, nil, err
	}

	// Pay on delivery ships before money moves.
	if gatewayKey == "cod" {
		err := s.repo.InTx(ctx, func(tx *gorm.DB) error {
			locked, err := s.orders.GetForUpdate(ctx, tx, o.ID)
			if err != nil {
				return err
			}
			return s.reconciler.orderSvc.StartFulfillment(ctx, tx, locked)
		})
		if err != nil {
			return nil, nil, err
		}
	}

	metrics.PaymentInitiations.WithLabelValues(gatewayKey, "started").Inc()
	s.log.Info("payment initiated",
		zap.String("payment_ref", p.PaymentRef),
		zap.String("order_no", o.OrderNo),
		zap.String("gateway", gatewayKey),
		zap.Int64("amount_paise", p.AmountPaise),
	)
	return result, p, nil
}

func (s *Service) markOrderPending(ctx context.Context, o *order.Order, gatewayKey, paymentRef, providerOrderID string) error {
	return s.repo.InTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.orders.GetForUpdate(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		if locked.PaymentMetadata == nil {
			locked.PaymentMetadata = make(map[string]any, 2)
		}
		locked.PaymentMetadata["payment_ref"] = paymentRef
		if providerOrderID != "" {
			locked.PaymentMetadata["provider_order_id"] = providerOrderID
		}
		if locked.PaymentStatus == order.PaymentStatusNone || locked.PaymentStatus == order.PaymentStatusFailed {
			locked.PaymentStatus = order.PaymentStatusPending
		}
		locked.PaymentMethod = gatewayKey
		return s.orders.Update(ctx, tx, locked)
	})
}

// CallbackResult tells the HTTP layer where to send the shopper.
type CallbackResult struct {
	OrderNo     string
	Status      Status
	RedirectURL string
}

// HandleCallback processes the browser return from a gateway. Trusted
// callbacks are applied directly; untrusted ones only identify the
// payment and the provider is asked for the real outcome.
func (s *Service) HandleCallback(ctx context.Context, gatewayKey string, r *http.Request) (*CallbackResult, error) {
	gw, _, err := s.factory.Gateway(ctx, gatewayKey)
	if err != nil {
		return nil, err
	}

	n, err := gw.ParseCallback(r)
	if err != nil {
		if errors.Is(err, gateway.ErrSignatureMismatch) {
			metrics.SignatureFailures.WithLabelValues(gatewayKey, "callback").Inc()
			s.log.Warn("callback signature rejected", zap.String("gateway", gatewayKey))
		}
		return nil, err
	}

	if !n.Trusted {
		n, err = s.confirm(ctx, gw, n)
		if err != nil {
			return nil, err
		}
	}

	outcome, err := s.reconciler.Apply(ctx, gatewayKey, n)
	if err != nil {
		return nil, err
	}
	if outcome.Duplicate {
		// The webhook got here first; show the shopper the stored state.
		p, err := s.locateForCallback(ctx, n)
		if err != nil {
			return nil, err
		}
		o, err := s.orders.Get(ctx, p.OrderID)
		if err != nil {
			return nil, err
		}
		return s.callbackResult(o.OrderNo, p.Status), nil
	}
	return s.callbackResult(outcome.Order.OrderNo, outcome.Payment.Status), nil
}

func (s *Service) locateForCallback(ctx context.Context, n *gateway.Notification) (*Payment, error) {
	if n.PaymentRef != "" {
		return s.repo.GetPaymentByRef(ctx, n.PaymentRef)
	}
	return s.repo.GetPaymentByProviderOrderID(ctx, n.ProviderOrderID)
}

func (s *Service) callbackResult(orderNo string, status Status) *CallbackResult {
	q := url.Values{}
	q.Set("order_no", orderNo)
	q.Set("status", string(status))
	return &CallbackResult{
		OrderNo:     orderNo,
		Status:      status,
		RedirectURL: strings.TrimRight(s.cfg.FrontendURL, "/") + "/payment/result?" + q.Encode(),
	}
}

// confirm replaces an untrusted notification with the provider's
// authoritative answer.
func (s *Service) confirm(ctx context.Context, gw gateway.Gateway, n *gateway.Notification) (*gateway.Notification, error) {
	p, err := s.locateForCallback(ctx, n)
	if err != nil {
		return nil, err
	}
	v, err := gw.Verify(ctx, gateway.Correlation{
		PaymentRef:        p.PaymentRef,
		ProviderOrderID:   p.ProviderOrderID,
		ProviderPaymentID: n.ProviderPaymentID,
	})
	if err != nil {
		return nil, fmt.Errorf("confirm %s payment %s: %w", gw.Key(), p.PaymentRef, err)
	}
	return &gateway.Notification{
		Source:            n.Source,
		EventID:           fmt.Sprintf("verify:%s:%s", p.PaymentRef, v.Status),
		PaymentRef:        p.PaymentRef,
		ProviderOrderID:   p.ProviderOrderID,
		ProviderPaymentID: v.ProviderPaymentID,
		Status:            v.Status,
		AmountPaise:       v.AmountPaise,
		Trusted:           true,
		Raw:               v.Raw,
	}, nil
}

// HandleWebhook authenticates and applies a webhook delivery. The
// returned error is what the HTTP layer should surface; gateways that
// demand acknowledgement regardless get their failures swallowed after
// loud logging.
func (s *Service) HandleWebhook(ctx context.Context, gatewayKey string, body []byte, headers http.Header) error {
	gw, _, err := s.factory.Gateway(ctx, gatewayKey)
	if err != nil {
		return err
	}

	err = s.processWebhook(ctx, gatewayKey, gw, body, headers)
	if err == nil {
		return nil
	}
	if errors.Is(err, gateway.ErrEventIgnored) {
		metrics.WebhookEvents.WithLabelValues(gatewayKey, "ignored").Inc()
		return nil
	}
	if gw.AlwaysAcknowledgeWebhooks() {
		// The provider retries on any error response, so acknowledge and
		// leave the trail in the logs and metrics.
		s.log.Error("webhook failed, acknowledging anyway",
			zap.String("gateway", gatewayKey),
			zap.Error(err),
		)
		return nil
	}
	return err
}

func (s *Service) processWebhook(ctx context.Context, gatewayKey string, gw gateway.Gateway, body []byte, headers http.Header) error {
	if err := gw.VerifyWebhookSignature(body, headers); err != nil {
		metrics.SignatureFailures.WithLabelValues(gatewayKey, "webhook").Inc()
		s.log.Warn("webhook signature rejected", zap.String("gateway", gatewayKey))
		return err
	}
	n, err := gw.ParseWebhook(body, headers)
	if err != nil {
		return err
	}
	_, err = s.reconciler.Apply(ctx, gatewayKey, n)
	return err
}

// Verify pulls the provider's status for a payment and reconciles it.
// Used by support tooling and recovery jobs for payments stuck pending.
func (s *Service) Verify(ctx context.Context, paymentRef string) (*Payment, error) {
	p, err := s.repo.GetPaymentByRef(ctx, paymentRef)
	if err != nil {
		return nil, err
	}
	gw, _, err := s.factory.Gateway(ctx, p.Gateway)
	if err != nil {
		return nil, err
	}

	v, err := gw.Verify(ctx, gateway.Correlation{
		PaymentRef:        p.PaymentRef,
		ProviderOrderID:   p.ProviderOrderID,
		ProviderPaymentID: p.ProviderPaymentID,
	})
	if err != nil {
		return nil, err
	}

	outcome, err := s.reconciler.Apply(ctx, p.Gateway, &gateway.Notification{
		Source:            gateway.SourceWebhook,
		EventID:           fmt.Sprintf("verify:%s:%s", p.PaymentRef, v.Status),
		PaymentRef:        p.PaymentRef,
		ProviderOrderID:   p.ProviderOrderID,
		ProviderPaymentID: v.ProviderPaymentID,
		Status:            v.Status,
		AmountPaise:       v.AmountPaise,
		Trusted:           true,
		Raw:               v.Raw,
	})
	if err != nil {
		return nil, err
	}
	if outcome.Duplicate {
		return s.repo.GetPaymentByRef(ctx, paymentRef)
	}
	return outcome.Payment, nil
}

// Refund returns funds for a completed payment. A zero amount refunds
// the remaining balance.
func (s *Service) Refund(ctx context.Context, paymentID uuid.UUID, amountPaise int64, reason string) (*Payment, error) {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusCompleted && p.Status != StatusPartiallyRefunded {
		return nil, fmt.Errorf("%w: status %s", ErrNotRefundable, p.Status)
	}
	if amountPaise == 0 {
		amountPaise = p.RemainingPaise()
	}
	if amountPaise <= 0 || amountPaise > p.RemainingPaise() {
		return nil, fmt.Errorf("%w: requested %d, refundable %d", ErrRefundExceedsPaid, amountPaise, p.RemainingPaise())
	}

	gw, _, err := s.factory.Gateway(ctx, p.Gateway)
	if err != nil {
		return nil, err
	}
	result, err := gw.Refund(ctx, &gateway.RefundRequest{
		PaymentRef:        p.PaymentRef,
		ProviderOrderID:   p.ProviderOrderID,
		ProviderPaymentID: p.ProviderPaymentID,
		AmountPaise:       amountPaise,
		Reason:            reason,
	})
	if err != nil {
		return nil, fmt.Errorf("refund %s payment: %w", p.Gateway, err)
	}

	err = s.repo.InTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.repo.GetPaymentForUpdate(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		// The pre-check above ran on an unlocked read. A concurrent refund
		// may have committed since, so the bounds hold only if re-checked
		// under the row lock.
		if locked.Status != StatusCompleted && locked.Status != StatusPartiallyRefunded {
			return fmt.Errorf("%w: status %s", ErrNotRefundable, locked.Status)
		}
		if amountPaise > locked.RemainingPaise() {
			return fmt.Errorf("%w: requested %d, refundable %d", ErrRefundExceedsPaid, amountPaise, locked.RemainingPaise())
		}
		locked.RefundedPaise += amountPaise
		locked.ProviderRefundID = result.ProviderRefundID
		if locked.RefundedPaise >= locked.AmountPaise {
			locked.Status = StatusRefunded
		} else {
			locked.Status = StatusPartiallyRefunded
		}
		if err := s.repo.UpdatePayment(ctx, tx, locked); err != nil {
			return err
		}
		p = locked

		o, err := s.orders.GetForUpdate(ctx, tx, locked.OrderID)
		if err != nil {
			return err
		}
		target := order.PaymentStatusPartiallyRefunded
		if locked.Status == StatusRefunded {
			target = order.PaymentStatusRefunded
		}
		return s.reconciler.orderSvc.TransitionPayment(ctx, tx, o, target)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("refund issued",
		zap.String("payment_ref", p.PaymentRef),
		zap.String("gateway", p.Gateway),
		zap.Int64("amount_paise", amountPaise),
		zap.String("provider_refund_id", result.ProviderRefundID),
	)
	return p, nil
}

// MarkCODDelivered settles a pay-on-delivery payment once fulfillment
// confirms the cash was collected. Idempotent: repeated calls are
// absorbed by the event audit.
func (s *Service) MarkCODDelivered(ctx context.Context, orderID uuid.UUID) (*Payment, error) {
	payments, err := s.repo.ListPaymentsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var p *Payment
	for _, candidate := range payments {
		if candidate.Gateway == "cod" && candidate.Status == StatusPending {
			p = candidate
			break
		}
	}
	if p == nil {
		for _, candidate := range payments {
			if candidate.Gateway == "cod" {
				p = candidate
				break
			}
		}
	}
	if p == nil {
		return nil, fmt.Errorf("%w: order %s", ErrNotCOD, orderID)
	}

	outcome, err := s.reconciler.Apply(ctx, "cod", &gateway.Notification{
		Source:      gateway.SourceWebhook,
		EventID:     "cod:" + p.PaymentRef + ":delivered",
		PaymentRef:  p.PaymentRef,
		Status:      gateway.StatusCompleted,
		AmountPaise: p.AmountPaise,
		Trusted:     true,
		Raw:         map[string]any{"delivered_at": time.Now().Format(time.RFC3339)},
	})
	if err != nil {
		return nil, err
	}
	if outcome.Duplicate {
		return s.repo.GetPaymentByRef(ctx, p.PaymentRef)
	}
	return outcome.Payment, nil
}

// Method describes one gateway a shopper can pay with.
type Method struct {
	Key            string   `json:"key"`
	DisplayName    string   `json:"display_name"`
	Methods        []string `json:"methods,omitempty"`
	MinAmountPaise int64    `json:"min_amount_paise,omitempty"`
	MaxAmountPaise int64    `json:"max_amount_paise,omitempty"`
}

// Methods returns the enabled gateways that accept the amount, in
// priority order.
func (s *Service) Methods(ctx context.Context, amountPaise int64) ([]Method, error) {
	configs, err := s.factory.Rank(ctx, amountPaise)
	if err != nil {
		return nil, err
	}
	out := make([]Method, 0, len(configs))
	for _, cfg := range configs {
		name := cfg.DisplayName
		if name == "" {
			name = cfg.Key
		}
		out = append(out, Method{
			Key:            cfg.Key,
			DisplayName:    name,
			Methods:        cfg.Methods,
			MinAmountPaise: cfg.MinAmountPaise,
			MaxAmountPaise: cfg.MaxAmountPaise,
		})
	}
	return out, nil
}

// Get returns a ledger entry by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// ListByOrder returns all attempts for an order, newest first.
func (s *Service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Payment, error) {
	return s.repo.ListPaymentsByOrder(ctx, orderID)
}

// ListByOrderNo resolves an order number and returns its attempts.
// Support tooling works with order numbers, not internal ids.
func (s *Service) ListByOrderNo(ctx context.Context, orderNo string) ([]*Payment, error) {
	o, err := s.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPaymentsByOrder(ctx, o.ID)
}

// ClearGatewayCache forces fresh configuration reads.
func (s *Service) ClearGatewayCache() {
	s.factory.ClearCache()
}

func (s *Service) callbackURL(gatewayKey string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/api/v1/payment/" + gatewayKey + "/callback"
}

func (s *Service) webhookURL(gatewayKey string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/api/v1/payment/" + gatewayKey + "/webhook"
}

// NewPaymentRef generates a transaction reference short enough for
// every provider's field limits.
func NewPaymentRef() string {
	b := make([]byte, 11)
	rand.Read(b)
	return "P" + strings.ToUpper(hex.EncodeToString(b))
}
