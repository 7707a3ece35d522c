package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"

	"github.com/shopora/server/internal/module/payment/gateway"
)

// Status represents the status of a ledger entry.
type Status string

const (
	StatusPending           Status = "pending"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusCancelled         Status = "cancelled"
)

// Payment is one payment attempt in the ledger. An order can
// accumulate several attempts; at most one completes.
type Payment struct {
	ID                uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	PaymentRef        string            `json:"payment_ref" gorm:"uniqueIndex;not null"`
	OrderID           uuid.UUID         `json:"order_id" gorm:"type:uuid;not null;index"`
	UserID            uuid.UUID         `json:"user_id" gorm:"type:uuid;not null;index"`
	Gateway           string            `json:"gateway" gorm:"not null"`
	Status            Status            `json:"status" gorm:"not null;default:pending"`
	AmountPaise       int64             `json:"amount_paise" gorm:"not null"`
	Currency          string            `json:"currency" gorm:"default:INR"`
	RefundedPaise     int64             `json:"refunded_paise"`
	ProviderOrderID   string            `json:"provider_order_id,omitempty" gorm:"index"`
	ProviderPaymentID string            `json:"provider_payment_id,omitempty" gorm:"index"`
	ProviderRefundID  string            `json:"provider_refund_id,omitempty"`
	PaymentData       datatypes.JSONMap `json:"payment_data,omitempty" gorm:"type:jsonb"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// TableName returns the database table name.
func (Payment) TableName() string {
	return "payments"
}

// RemainingPaise is the amount still refundable.
func (p *Payment) RemainingPaise() int64 {
	return p.AmountPaise - p.RefundedPaise
}

// IsFinal reports whether no further outcome can apply to this attempt.
func (p *Payment) IsFinal() bool {
	switch p.Status {
	case StatusRefunded, StatusCancelled:
		return true
	}
	return false
}

// GatewayConfig is the persisted configuration of one gateway. The
// factory materializes adapters from these rows.
type GatewayConfig struct {
	ID             uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Key            string            `json:"key" gorm:"uniqueIndex;not null"`
	DisplayName    string            `json:"display_name"`
	Enabled        bool              `json:"enabled" gorm:"not null;default:false"`
	Production     bool              `json:"production" gorm:"not null;default:false"`
	Priority       int               `json:"priority" gorm:"not null;default:0"`
	Credentials    datatypes.JSONMap `json:"-" gorm:"type:jsonb"`
	MinAmountPaise int64             `json:"min_amount_paise"`
	MaxAmountPaise int64             `json:"max_amount_paise"`
	Methods        pq.StringArray    `json:"methods" gorm:"type:text[]"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// TableName returns the database table name.
func (GatewayConfig) TableName() string {
	return "gateway_configs"
}

// Accepts reports whether amount falls inside the gateway's bounds.
// A zero bound means unbounded on that side.
func (c *GatewayConfig) Accepts(amountPaise int64) bool {
	if c.MinAmountPaise > 0 && amountPaise < c.MinAmountPaise {
		return false
	}
	if c.MaxAmountPaise > 0 && amountPaise > c.MaxAmountPaise {
		return false
	}
	return true
}

// CredentialMap flattens the stored credentials for adapter constructors.
func (c *GatewayConfig) CredentialMap() map[string]string {
	out := make(map[string]string, len(c.Credentials))
	for k, v := range c.Credentials {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// WebhookEvent is the audit row recorded for every notification that
// can mutate payment state. The unique (gateway, event_id) pair is
// what makes replays no-ops.
type WebhookEvent struct {
	ID          uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Gateway     string            `json:"gateway" gorm:"not null;uniqueIndex:idx_webhook_events_gateway_event"`
	EventID     string            `json:"event_id" gorm:"not null;uniqueIndex:idx_webhook_events_gateway_event"`
	Source      gateway.Source    `json:"source" gorm:"not null"`
	PaymentRef  string            `json:"payment_ref,omitempty" gorm:"index"`
	Payload     datatypes.JSONMap `json:"payload,omitempty" gorm:"type:jsonb"`
	Processed   bool              `json:"processed" gorm:"not null;default:false"`
	ProcessedAt *time.Time        `json:"processed_at,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// TableName returns the database table name.
func (WebhookEvent) TableName() string {
	return "payment_webhook_events"
}
