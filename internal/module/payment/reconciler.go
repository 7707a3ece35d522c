package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shopora/server/internal/module/order"
	"github.com/shopora/server/internal/module/payment/gateway"
	"github.com/shopora/server/internal/shared/metrics"
)

// Outcome reports what applying a notification changed.
type Outcome struct {
	Payment *Payment
	Order   *order.Order
	// Duplicate is set when the event was already recorded and nothing
	// was applied.
	Duplicate bool
	// FirstCompletion is set on the one application that moved the
	// payment to completed. Side effects fire exactly once, here.
	FirstCompletion bool
}

// CartClearer empties a shopper's cart. Satisfied by cart.Store.
type CartClearer interface {
	Clear(ctx context.Context, userID, sessionID string) error
}

// Reconciler is the single writer of payment and order payment state.
// Every notification, whatever its channel, funnels through Apply so
// that replays, races between callback and webhook, and out-of-order
// deliveries all collapse to one consistent outcome.
type Reconciler struct {
	repo     Repository
	orders   order.Repository
	orderSvc *order.Service
	carts    CartClearer
	log      *zap.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(repo Repository, orders order.Repository, orderSvc *order.Service, carts CartClearer, log *zap.Logger) *Reconciler {
	return &Reconciler{
		repo:     repo,
		orders:   orders,
		orderSvc: orderSvc,
		carts:    carts,
		log:      log.Named("reconciler"),
	}
}

// Apply records the notification and advances payment and order state.
// Only trusted notifications may be applied; untrusted ones must be
// confirmed with the provider first.
func (r *Reconciler) Apply(ctx context.Context, gatewayKey string, n *gateway.Notification) (*Outcome, error) {
	if !n.Trusted {
		return nil, fmt.Errorf("reconciler: refusing untrusted notification from %s", gatewayKey)
	}

	// The audit row's unique (gateway, event_id) pair makes replays
	// visible before any state is touched.
	audited := n.EventID != ""
	if audited {
		event := &WebhookEvent{
			Gateway:    gatewayKey,
			EventID:    n.EventID,
			Source:     n.Source,
			PaymentRef: n.PaymentRef,
			Payload:    n.Raw,
		}
		if err := r.repo.CreateWebhookEvent(ctx, event); err != nil {
			if errors.Is(err, ErrDuplicateEvent) {
				r.log.Info("duplicate event ignored",
					zap.String("gateway", gatewayKey),
					zap.String("event_id", n.EventID),
				)
				metrics.WebhookEvents.WithLabelValues(gatewayKey, "duplicate").Inc()
				return &Outcome{Duplicate: true}, nil
			}
			return nil, err
		}
	}

	outcome, applyErr := r.apply(ctx, gatewayKey, n)

	if audited {
		if err := r.repo.MarkWebhookEventProcessed(ctx, gatewayKey, n.EventID, applyErr); err != nil {
			r.log.Error("mark event processed failed",
				zap.String("gateway", gatewayKey),
				zap.String("event_id", n.EventID),
				zap.Error(err),
			)
		}
	}
	if applyErr != nil {
		metrics.WebhookEvents.WithLabelValues(gatewayKey, "error").Inc()
		return nil, applyErr
	}
	metrics.WebhookEvents.WithLabelValues(gatewayKey, "applied").Inc()

	if outcome.FirstCompletion {
		r.sideEffects(ctx, outcome)
	}
	return outcome, nil
}

func (r *Reconciler) apply(ctx context.Context, gatewayKey string, n *gateway.Notification) (*Outcome, error) {
	located, err := r.locate(ctx, n)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{}
	err = r.repo.InTx(ctx, func(tx *gorm.DB) error {
		p, err := r.repo.GetPaymentForUpdate(ctx, tx, located.ID)
		if err != nil {
			return err
		}
		outcome.Payment = p

		if n.AmountPaise > 0 && n.AmountPaise != p.AmountPaise {
			metrics.PaymentAnomalies.WithLabelValues(gatewayKey, "amount_mismatch").Inc()
			r.log.Error("amount mismatch",
				zap.String("payment_ref", p.PaymentRef),
				zap.Int64("expected", p.AmountPaise),
				zap.Int64("reported", n.AmountPaise),
			)
			return ErrAmountMismatch
		}

		if p.ProviderPaymentID == "" && n.ProviderPaymentID != "" {
			p.ProviderPaymentID = n.ProviderPaymentID
		}
		if p.ProviderOrderID == "" && n.ProviderOrderID != "" {
			p.ProviderOrderID = n.ProviderOrderID
		}
		mergeData(p, n)

		switch {
		case p.IsFinal():
			// Nothing can follow a refunded or cancelled attempt.
		case n.Status == gateway.StatusCompleted && p.Status != StatusCompleted:
			p.Status = StatusCompleted
			now := time.Now()
			p.CompletedAt = &now
			p.FailureReason = ""
			outcome.FirstCompletion = true
		case n.Status == gateway.StatusFailed && p.Status == StatusPending:
			// A completion always wins over a late failure report.
			p.Status = StatusFailed
			if reason, ok := n.Raw["error_Message"].(string); ok {
				p.FailureReason = reason
			} else if reason, ok := n.Raw["error_description"].(string); ok {
				p.FailureReason = reason
			}
		}

		if err := r.repo.UpdatePayment(ctx, tx, p); err != nil {
			return err
		}

		o, err := r.orders.GetForUpdate(ctx, tx, p.OrderID)
		if err != nil {
			return err
		}
		outcome.Order = o

		switch {
		case p.Status == StatusCompleted && !o.IsPaid():
			o.PaymentMethod = p.Gateway
			if err := r.orderSvc.TransitionPayment(ctx, tx, o, order.PaymentStatusPaid); err != nil {
				return err
			}
		case p.Status == StatusFailed && o.PaymentStatus == order.PaymentStatusPending:
			if err := r.orderSvc.TransitionPayment(ctx, tx, o, order.PaymentStatusFailed); err != nil {
				return err
			}
		}

		if outcome.FirstCompletion {
			return r.orderSvc.StartFulfillment(ctx, tx, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// locate resolves the ledger row a notification refers to, first by our
// transaction reference and then by the provider's order handle.
func (r *Reconciler) locate(ctx context.Context, n *gateway.Notification) (*Payment, error) {
	if n.PaymentRef != "" {
		p, err := r.repo.GetPaymentByRef(ctx, n.PaymentRef)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
	}
	if n.ProviderOrderID != "" {
		return r.repo.GetPaymentByProviderOrderID(ctx, n.ProviderOrderID)
	}
	return nil, ErrPaymentNotFound
}

// sideEffects runs the once-per-order actions after the transaction
// committed. Failures here are logged, never propagated: the payment
// is already settled.
func (r *Reconciler) sideEffects(ctx context.Context, outcome *Outcome) {
	o := outcome.Order
	if err := r.carts.Clear(ctx, o.UserID.String(), o.SessionID); err != nil {
		r.log.Warn("cart clear failed",
			zap.String("order_id", o.ID.String()),
			zap.Error(err),
		)
	}
	r.log.Info("payment completed",
		zap.String("order_no", o.OrderNo),
		zap.String("payment_ref", outcome.Payment.PaymentRef),
		zap.String("gateway", outcome.Payment.Gateway),
		zap.Int64("amount_paise", outcome.Payment.AmountPaise),
	)
}

func mergeData(p *Payment, n *gateway.Notification) {
	if len(n.Raw) == 0 {
		return
	}
	if p.PaymentData == nil {
		p.PaymentData = make(map[string]any, len(n.Raw))
	}
	for k, v := range n.Raw {
		p.PaymentData[k] = v
	}
}
