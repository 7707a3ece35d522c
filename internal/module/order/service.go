package order

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service provides order business operations.
type Service struct {
	repo   Repository
	states *PaymentStateMachine
	log    *zap.Logger
}

// NewService creates a new order service.
func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		states: NewPaymentStateMachine(),
		log:    log.Named("order"),
	}
}

// Create persists a new order with a generated order number.
func (s *Service) Create(ctx context.Context, o *Order) error {
	if o.OrderNo == "" {
		o.OrderNo = GenerateOrderNo()
	}
	if o.Currency == "" {
		o.Currency = "INR"
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return err
	}
	s.log.Info("order created",
		zap.String("order_id", o.ID.String()),
		zap.String("order_no", o.OrderNo),
		zap.Int64("total", o.Total),
	)
	return nil
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// ListByUser returns a user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// StartFulfillment confirms a paid order so the warehouse flow can pick
// it up. Called once per order when payment first completes.
func (s *Service) StartFulfillment(ctx context.Context, tx *gorm.DB, o *Order) error {
	if o.Status != StatusCreated {
		return nil
	}
	o.Status = StatusConfirmed
	if err := s.repo.Update(ctx, tx, o); err != nil {
		return fmt.Errorf("start fulfillment: %w", err)
	}
	s.log.Info("fulfillment started",
		zap.String("order_id", o.ID.String()),
		zap.String("order_no", o.OrderNo),
	)
	return nil
}

// TransitionPayment moves the order's payment status through the state
// machine and persists it within tx.
func (s *Service) TransitionPayment(ctx context.Context, tx *gorm.DB, o *Order, to PaymentStatus) error {
	if err := s.states.Transition(o, to); err != nil {
		return err
	}
	if to == PaymentStatusPaid && o.PaidAt == nil {
		now := time.Now()
		o.PaidAt = &now
	}
	return s.repo.Update(ctx, tx, o)
}

// GenerateOrderNo returns a unique, human-readable order number.
func GenerateOrderNo() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("ORD-%s-%s", time.Now().Format("20060102"), hex.EncodeToString(b))
}
