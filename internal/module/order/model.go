package order

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Status represents the fulfillment status of an order.
type Status string

const (
	StatusCreated    Status = "created"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// PaymentStatus represents the payment side of an order's lifecycle.
type PaymentStatus string

const (
	PaymentStatusNone              PaymentStatus = "no_payment"
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Order represents a purchase order.
type Order struct {
	ID              uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrderNo         string            `json:"order_no" gorm:"uniqueIndex;not null"`
	UserID          uuid.UUID         `json:"user_id" gorm:"type:uuid;not null;index"`
	SessionID       string            `json:"-"`
	Status          Status            `json:"status" gorm:"not null;default:created"`
	PaymentStatus   PaymentStatus     `json:"payment_status" gorm:"not null;default:no_payment"`
	PaymentMethod   string            `json:"payment_method,omitempty"`
	PaymentMetadata datatypes.JSONMap `json:"payment_metadata,omitempty" gorm:"type:jsonb"`
	Subtotal        int64             `json:"subtotal"` // In paise
	ShippingFee     int64             `json:"shipping_fee"`
	Discount        int64             `json:"discount"`
	Total           int64             `json:"total"`
	Currency        string            `json:"currency" gorm:"default:INR"`
	CustomerName    string            `json:"customer_name"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerPhone   string            `json:"customer_phone,omitempty"`
	PaidAt          *time.Time        `json:"paid_at,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`

	// Relations
	Items []Item `json:"items,omitempty" gorm:"foreignKey:OrderID"`
}

// TableName returns the database table name.
func (Order) TableName() string {
	return "orders"
}

// IsPaid returns true if the order has been paid in full.
func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}

// IsPayable reports whether a new payment attempt may be started.
func (o *Order) IsPayable() bool {
	if o.Status == StatusCancelled {
		return false
	}
	switch o.PaymentStatus {
	case PaymentStatusNone, PaymentStatusPending, PaymentStatusFailed:
		return true
	}
	return false
}

// Item represents a line item in an order.
type Item struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrderID   uuid.UUID `json:"order_id" gorm:"type:uuid;not null"`
	ProductID string    `json:"product_id"`
	Name      string    `json:"name" gorm:"not null"`
	Quantity  int       `json:"quantity" gorm:"default:1"`
	UnitPrice int64     `json:"unit_price"` // In paise
	Amount    int64     `json:"amount"`     // quantity * unit_price
}

// TableName returns the database table name.
func (Item) TableName() string {
	return "order_items"
}
