package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the interface for payment data access.
type Repository interface {
	// InTx runs fn inside one database transaction.
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Payment ledger operations
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetPaymentByRef(ctx context.Context, ref string) (*Payment, error)
	GetPaymentByProviderOrderID(ctx context.Context, providerOrderID string) (*Payment, error)
	// GetPaymentForUpdate loads a ledger row with a row lock inside tx.
	GetPaymentForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*Payment, error)
	UpdatePayment(ctx context.Context, tx *gorm.DB, p *Payment) error
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]*Payment, error)

	// Gateway configuration
	GetGatewayConfig(ctx context.Context, key string) (*GatewayConfig, error)
	ListEnabledGatewayConfigs(ctx context.Context) ([]*GatewayConfig, error)

	// Webhook event audit
	CreateWebhookEvent(ctx context.Context, event *WebhookEvent) error
	MarkWebhookEventProcessed(ctx context.Context, gatewayKey, eventID string, processErr error) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new payment repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// --- Payment Ledger ---

func (r *repository) CreatePayment(ctx context.Context, p *Payment) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *repository) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	var p Payment
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}

func (r *repository) GetPaymentByRef(ctx context.Context, ref string) (*Payment, error) {
	var p Payment
	err := r.db.WithContext(ctx).First(&p, "payment_ref = ?", ref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by ref: %w", err)
	}
	return &p, nil
}

func (r *repository) GetPaymentByProviderOrderID(ctx context.Context, providerOrderID string) (*Payment, error) {
	var p Payment
	err := r.db.WithContext(ctx).First(&p, "provider_order_id = ?", providerOrderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by provider order id: %w", err)
	}
	return &p, nil
}

func (r *repository) GetPaymentForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*Payment, error) {
	var p Payment
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment for update: %w", err)
	}
	return &p, nil
}

func (r *repository) UpdatePayment(ctx context.Context, tx *gorm.DB, p *Payment) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	if err := db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

func (r *repository) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]*Payment, error) {
	var payments []*Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("list payments by order: %w", err)
	}
	return payments, nil
}

// --- Gateway Configuration ---

func (r *repository) GetGatewayConfig(ctx context.Context, key string) (*GatewayConfig, error) {
	var cfg GatewayConfig
	err := r.db.WithContext(ctx).First(&cfg, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnsupportedGateway
		}
		return nil, fmt.Errorf("get gateway config: %w", err)
	}
	return &cfg, nil
}

func (r *repository) ListEnabledGatewayConfigs(ctx context.Context) ([]*GatewayConfig, error) {
	var configs []*GatewayConfig
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("priority DESC").
		Find(&configs).Error
	if err != nil {
		return nil, fmt.Errorf("list gateway configs: %w", err)
	}
	return configs, nil
}

// --- Webhook Event Audit ---

func (r *repository) CreateWebhookEvent(ctx context.Context, event *WebhookEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("create webhook event: %w", err)
	}
	return nil
}

func (r *repository) MarkWebhookEventProcessed(ctx context.Context, gatewayKey, eventID string, processErr error) error {
	updates := map[string]any{
		"processed":    true,
		"processed_at": gorm.Expr("NOW()"),
	}
	if processErr != nil {
		updates["error"] = processErr.Error()
	}
	err := r.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("gateway = ? AND event_id = ?", gatewayKey, eventID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
