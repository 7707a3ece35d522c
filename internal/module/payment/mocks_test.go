package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"

	"github.com/shopora/server/internal/module/order"
)

// mockRepository mocks Repository. InTx runs the callback with a nil
// transaction handle, which the other mocked methods accept.
type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	args := m.Called(ctx)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(nil)
}

func (m *mockRepository) CreatePayment(ctx context.Context, p *Payment) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockRepository) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *mockRepository) GetPaymentByRef(ctx context.Context, ref string) (*Payment, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *mockRepository) GetPaymentByProviderOrderID(ctx context.Context, providerOrderID string) (*Payment, error) {
	args := m.Called(ctx, providerOrderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *mockRepository) GetPaymentForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*Payment, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *mockRepository) UpdatePayment(ctx context.Context, tx *gorm.DB, p *Payment) error {
	args := m.Called(ctx, tx, p)
	return args.Error(0)
}

func (m *mockRepository) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]*Payment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Payment), args.Error(1)
}

func (m *mockRepository) GetGatewayConfig(ctx context.Context, key string) (*GatewayConfig, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GatewayConfig), args.Error(1)
}

func (m *mockRepository) ListEnabledGatewayConfigs(ctx context.Context) ([]*GatewayConfig, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*GatewayConfig), args.Error(1)
}

func (m *mockRepository) CreateWebhookEvent(ctx context.Context, event *WebhookEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockRepository) MarkWebhookEventProcessed(ctx context.Context, gatewayKey, eventID string, processErr error) error {
	args := m.Called(ctx, gatewayKey, eventID, processErr)
	return args.Error(0)
}

// mockOrderRepository mocks order.Repository.
type mockOrderRepository struct {
	mock.Mock
}

func (m *mockOrderRepository) Create(ctx context.Context, o *order.Order) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *mockOrderRepository) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *mockOrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*order.Order, error) {
	args := m.Called(ctx, orderNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *mockOrderRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *mockOrderRepository) Update(ctx context.Context, tx *gorm.DB, o *order.Order) error {
	args := m.Called(ctx, tx, o)
	return args.Error(0)
}

func (m *mockOrderRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*order.Order, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*order.Order), args.Error(1)
}

// mockCartClearer mocks CartClearer.
type mockCartClearer struct {
	mock.Mock
}

func (m *mockCartClearer) Clear(ctx context.Context, userID, sessionID string) error {
	args := m.Called(ctx, userID, sessionID)
	return args.Error(0)
}
