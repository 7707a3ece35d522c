package order

import "fmt"

// PaymentStateMachine validates and executes payment status transitions.
// Once an order reaches paid it can only move toward refund states, so a
// late failure notification can never downgrade a settled order.
type PaymentStateMachine struct {
	transitions map[PaymentStatus][]PaymentStatus
}

// NewPaymentStateMachine creates the payment status state machine.
func NewPaymentStateMachine() *PaymentStateMachine {
	return &PaymentStateMachine{
		transitions: map[PaymentStatus][]PaymentStatus{
			PaymentStatusNone:              {PaymentStatusPending, PaymentStatusPaid},
			PaymentStatusPending:           {PaymentStatusPaid, PaymentStatusFailed},
			PaymentStatusFailed:            {PaymentStatusPending, PaymentStatusPaid}, // Can retry
			PaymentStatusPaid:              {PaymentStatusRefunded, PaymentStatusPartiallyRefunded},
			PaymentStatusPartiallyRefunded: {PaymentStatusRefunded, PaymentStatusPartiallyRefunded},
			PaymentStatusRefunded:          {}, // Terminal state
		},
	}
}

// CanTransition checks if a transition from `from` to `to` is valid.
func (sm *PaymentStateMachine) CanTransition(from, to PaymentStatus) bool {
	allowed, ok := sm.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition attempts to move an order's payment status.
func (sm *PaymentStateMachine) Transition(o *Order, to PaymentStatus) error {
	if o.PaymentStatus == to {
		return nil
	}
	if !sm.CanTransition(o.PaymentStatus, to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, o.PaymentStatus, to)
	}
	o.PaymentStatus = to
	return nil
}
