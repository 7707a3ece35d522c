package payment

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shopora/server/internal/module/order"
	"github.com/shopora/server/internal/module/payment/gateway"
	"github.com/shopora/server/internal/shared/config"
	apperrors "github.com/shopora/server/internal/shared/errors"
)

type serviceFixture struct {
	repo   *mockRepository
	orders *mockOrderRepository
	carts  *mockCartClearer
	svc    *Service
}

func newServiceFixture() *serviceFixture {
	repo := new(mockRepository)
	orders := new(mockOrderRepository)
	carts := new(mockCartClearer)
	log := zap.NewNop()

	orderSvc := order.NewService(orders, log)
	factory := NewFactory(repo, nil, time.Hour, log)
	reconciler := NewReconciler(repo, orders, orderSvc, carts, log)
	svc := NewService(factory, repo, reconciler, orders, config.PaymentConfig{
		BaseURL:     "https://shop.example.com",
		FrontendURL: "https://www.example.com",
	}, log)

	return &serviceFixture{repo: repo, orders: orders, carts: carts, svc: svc}
}

func payableOrder(totalPaise int64) *order.Order {
	return &order.Order{
		ID:            uuid.New(),
		OrderNo:       "ORD-20260830-abcd1234",
		UserID:        uuid.New(),
		Status:        order.StatusCreated,
		PaymentStatus: order.PaymentStatusNone,
		Total:         totalPaise,
		Currency:      "INR",
		CustomerName:  "Asha",
		CustomerEmail: "asha@example.com",
	}
}

func TestInitiateCODWithinBounds(t *testing.T) {
	f := newServiceFixture()
	o := payableOrder(50000) // 500.00 within 100.00 to 50000.00

	f.orders.On("Get", mock.Anything, o.ID).Return(o, nil)
	f.orders.On("GetForUpdate", mock.Anything, mock.Anything, o.ID).Return(o, nil)
	f.orders.On("Update", mock.Anything, mock.Anything, o).Return(nil)
	f.repo.On("GetGatewayConfig", mock.Anything, "cod").Return(codConfig(true), nil)
	f.repo.On("InTx", mock.Anything).Return(nil)
	f.repo.On("CreatePayment", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("UpdatePayment", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, p, err := f.svc.Initiate(context.Background(), o.UserID, o.ID, "cod")
	require.NoError(t, err)

	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, int64(50000), p.AmountPaise)
	assert.Equal(t, "cod", p.Gateway)
	assert.NotEmpty(t, p.PaymentRef)
	assert.Equal(t, "none", string(result.Mode))

	// Pay on delivery confirms the order right away.
	assert.Equal(t, order.StatusConfirmed, o.Status)
	assert.Equal(t, order.PaymentStatusPending, o.PaymentStatus)
	assert.Equal(t, p.PaymentRef, o.PaymentMetadata["payment_ref"])
}

func TestInitiateCODBelowMinimumLeavesNoLedgerRow(t *testing.T) {
	f := newServiceFixture()
	o := payableOrder(5000) // 50.00, below the 100.00 floor

	f.orders.On("Get", mock.Anything, o.ID).Return(o, nil)
	f.repo.On("GetGatewayConfig", mock.Anything, "cod").Return(codConfig(true), nil)

	_, _, err := f.svc.Initiate(context.Background(), o.UserID, o.ID, "cod")
	assert.ErrorIs(t, err, ErrAmountOutOfBounds)
	f.repo.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
}

func TestInitiateRejectsZeroTotalOrder(t *testing.T) {
	f := newServiceFixture()
	o := payableOrder(0)
	f.orders.On("Get", mock.Anything, o.ID).Return(o, nil)

	_, _, err := f.svc.Initiate(context.Background(), o.UserID, o.ID, "cod")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	f.repo.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "GetGatewayConfig", mock.Anything, mock.Anything)
}

func TestInitiateRejectsForeignCurrency(t *testing.T) {
	f := newServiceFixture()
	o := payableOrder(50000)
	o.Currency = "USD"
	f.orders.On("Get", mock.Anything, o.ID).Return(o, nil)

	_, _, err := f.svc.Initiate(context.Background(), o.UserID, o.ID, "cod")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	f.repo.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
}

func TestInitiateRejectsForeignOrder(t *testing.T) {
	f := newServiceFixture()
	o := payableOrder(50000)
	f.orders.On("Get", mock.Anything, o.ID).Return(o, nil)

	_, _, err := f.svc.Initiate(context.Background(), uuid.New(), o.ID, "cod")
	assert.Error(t, err)
	f.repo.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
}

func TestInitiateRejectsPaidOrder(t *testing.T) {
	f := newServiceFixture()
	o := payableOrder(50000)
	o.PaymentStatus = order.PaymentStatusPaid
	f.orders.On("Get", mock.Anything, o.ID).Return(o, nil)

	_, _, err := f.svc.Initiate(context.Background(), o.UserID, o.ID, "cod")
	assert.ErrorIs(t, err, ErrOrderNotPayable)
}

func TestInitiateUnknownGateway(t *testing.T) {
	f := newServiceFixture()
	o := payableOrder(50000)
	f.orders.On("Get", mock.Anything, o.ID).Return(o, nil)

	_, _, err := f.svc.Initiate(context.Background(), o.UserID, o.ID, "paypal")
	assert.ErrorIs(t, err, ErrUnsupportedGateway)
}

func TestMarkCODDeliveredSettlesPayment(t *testing.T) {
	f := newServiceFixture()
	o := payableOrder(50000)
	o.Status = order.StatusDelivered
	o.PaymentStatus = order.PaymentStatusPending

	p := &Payment{
		ID:          uuid.New(),
		PaymentRef:  "PCOD123",
		OrderID:     o.ID,
		UserID:      o.UserID,
		Gateway:     "cod",
		Status:      StatusPending,
		AmountPaise: 50000,
	}

	f.repo.On("ListPaymentsByOrder", mock.Anything, o.ID).Return([]*Payment{p}, nil)
	f.repo.On("CreateWebhookEvent", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("GetPaymentByRef", mock.Anything, "PCOD123").Return(p, nil)
	f.repo.On("InTx", mock.Anything).Return(nil)
	f.repo.On("GetPaymentForUpdate", mock.Anything, mock.Anything, p.ID).Return(p, nil)
	f.repo.On("UpdatePayment", mock.Anything, mock.Anything, p).Return(nil)
	f.repo.On("MarkWebhookEventProcessed", mock.Anything, "cod", "cod:PCOD123:delivered", nil).Return(nil)
	f.orders.On("GetForUpdate", mock.Anything, mock.Anything, o.ID).Return(o, nil)
	f.orders.On("Update", mock.Anything, mock.Anything, o).Return(nil)
	f.carts.On("Clear", mock.Anything, o.UserID.String(), "").Return(nil)

	settled, err := f.svc.MarkCODDelivered(context.Background(), o.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, settled.Status)
	assert.Equal(t, order.PaymentStatusPaid, o.PaymentStatus)
}

func TestMarkCODDeliveredIsIdempotent(t *testing.T) {
	f := newServiceFixture()
	orderID := uuid.New()

	p := &Payment{
		ID:          uuid.New(),
		PaymentRef:  "PCOD123",
		OrderID:     orderID,
		Gateway:     "cod",
		Status:      StatusCompleted,
		AmountPaise: 50000,
	}

	f.repo.On("ListPaymentsByOrder", mock.Anything, orderID).Return([]*Payment{p}, nil)
	f.repo.On("CreateWebhookEvent", mock.Anything, mock.Anything).Return(ErrDuplicateEvent)
	f.repo.On("GetPaymentByRef", mock.Anything, "PCOD123").Return(p, nil)

	settled, err := f.svc.MarkCODDelivered(context.Background(), orderID)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, settled.Status)
	f.repo.AssertNotCalled(t, "UpdatePayment", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkCODDeliveredRequiresCODPayment(t *testing.T) {
	f := newServiceFixture()
	orderID := uuid.New()
	f.repo.On("ListPaymentsByOrder", mock.Anything, orderID).Return([]*Payment{
		{Gateway: "razorpay", Status: StatusCompleted},
	}, nil)

	_, err := f.svc.MarkCODDelivered(context.Background(), orderID)
	assert.ErrorIs(t, err, ErrNotCOD)
}

func TestRefundFullSettlesLedgerAndOrder(t *testing.T) {
	f := newServiceFixture()
	o := payableOrder(50000)
	o.PaymentStatus = order.PaymentStatusPaid

	p := &Payment{
		ID:          uuid.New(),
		PaymentRef:  "PCOD123",
		OrderID:     o.ID,
		UserID:      o.UserID,
		Gateway:     "cod",
		Status:      StatusCompleted,
		AmountPaise: 50000,
	}

	f.repo.On("GetPayment", mock.Anything, p.ID).Return(p, nil)
	f.repo.On("GetGatewayConfig", mock.Anything, "cod").Return(codConfig(true), nil)
	f.repo.On("InTx", mock.Anything).Return(nil)
	f.repo.On("GetPaymentForUpdate", mock.Anything, mock.Anything, p.ID).Return(p, nil)
	f.repo.On("UpdatePayment", mock.Anything, mock.Anything, p).Return(nil)
	f.orders.On("GetForUpdate", mock.Anything, mock.Anything, o.ID).Return(o, nil)
	f.orders.On("Update", mock.Anything, mock.Anything, o).Return(nil)

	refunded, err := f.svc.Refund(context.Background(), p.ID, 0, "damaged item")
	require.NoError(t, err)

	assert.Equal(t, StatusRefunded, refunded.Status)
	assert.Equal(t, int64(50000), refunded.RefundedPaise)
	assert.Equal(t, order.PaymentStatusRefunded, o.PaymentStatus)
}

func TestRefundPartialKeepsRemainder(t *testing.T) {
	f := newServiceFixture()
	o := payableOrder(50000)
	o.PaymentStatus = order.PaymentStatusPaid

	p := &Payment{
		ID:          uuid.New(),
		PaymentRef:  "PCOD123",
		OrderID:     o.ID,
		Gateway:     "cod",
		Status:      StatusCompleted,
		AmountPaise: 50000,
	}

	f.repo.On("GetPayment", mock.Anything, p.ID).Return(p, nil)
	f.repo.On("GetGatewayConfig", mock.Anything, "cod").Return(codConfig(true), nil)
	f.repo.On("InTx", mock.Anything).Return(nil)
	f.repo.On("GetPaymentForUpdate", mock.Anything, mock.Anything, p.ID).Return(p, nil)
	f.repo.On("UpdatePayment", mock.Anything, mock.Anything, p).Return(nil)
	f.orders.On("GetForUpdate", mock.Anything, mock.Anything, o.ID).Return(o, nil)
	f.orders.On("Update", mock.Anything, mock.Anything, o).Return(nil)

	refunded, err := f.svc.Refund(context.Background(), p.ID, 20000, "one item returned")
	require.NoError(t, err)

	assert.Equal(t, StatusPartiallyRefunded, refunded.Status)
	assert.Equal(t, int64(20000), refunded.RefundedPaise)
	assert.Equal(t, int64(30000), refunded.RemainingPaise())
	assert.Equal(t, order.PaymentStatusPartiallyRefunded, o.PaymentStatus)
}

func TestRefundRejectsExcessAmount(t *testing.T) {
	f := newServiceFixture()
	p := &Payment{
		ID:          uuid.New(),
		Gateway:     "cod",
		Status:      StatusCompleted,
		AmountPaise: 50000,
	}
	f.repo.On("GetPayment", mock.Anything, p.ID).Return(p, nil)

	_, err := f.svc.Refund(context.Background(), p.ID, 60000, "")
	assert.ErrorIs(t, err, ErrRefundExceedsPaid)
}

func TestRefundRechecksBoundsUnderLock(t *testing.T) {
	f := newServiceFixture()
	p := &Payment{
		ID:          uuid.New(),
		PaymentRef:  "PCOD123",
		OrderID:     uuid.New(),
		Gateway:     "cod",
		Status:      StatusCompleted,
		AmountPaise: 19900,
	}
	// A duplicate refund request read the payment before the first one
	// committed. By the time it takes the row lock the money is gone.
	settled := &Payment{
		ID:            p.ID,
		PaymentRef:    p.PaymentRef,
		OrderID:       p.OrderID,
		Gateway:       "cod",
		Status:        StatusRefunded,
		AmountPaise:   19900,
		RefundedPaise: 19900,
	}

	f.repo.On("GetPayment", mock.Anything, p.ID).Return(p, nil)
	f.repo.On("GetGatewayConfig", mock.Anything, "cod").Return(codConfig(true), nil)
	f.repo.On("InTx", mock.Anything).Return(nil)
	f.repo.On("GetPaymentForUpdate", mock.Anything, mock.Anything, p.ID).Return(settled, nil)

	_, err := f.svc.Refund(context.Background(), p.ID, 19900, "duplicate request")
	assert.ErrorIs(t, err, ErrNotRefundable)
	f.repo.AssertNotCalled(t, "UpdatePayment", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, int64(19900), settled.RefundedPaise)
}

func TestRefundRechecksRemainderUnderLock(t *testing.T) {
	f := newServiceFixture()
	p := &Payment{
		ID:          uuid.New(),
		PaymentRef:  "PCOD123",
		OrderID:     uuid.New(),
		Gateway:     "cod",
		Status:      StatusCompleted,
		AmountPaise: 50000,
	}
	// A concurrent partial refund of 30000 landed first, leaving only
	// 20000 refundable.
	partial := &Payment{
		ID:            p.ID,
		PaymentRef:    p.PaymentRef,
		OrderID:       p.OrderID,
		Gateway:       "cod",
		Status:        StatusPartiallyRefunded,
		AmountPaise:   50000,
		RefundedPaise: 30000,
	}

	f.repo.On("GetPayment", mock.Anything, p.ID).Return(p, nil)
	f.repo.On("GetGatewayConfig", mock.Anything, "cod").Return(codConfig(true), nil)
	f.repo.On("InTx", mock.Anything).Return(nil)
	f.repo.On("GetPaymentForUpdate", mock.Anything, mock.Anything, p.ID).Return(partial, nil)

	_, err := f.svc.Refund(context.Background(), p.ID, 50000, "")
	assert.ErrorIs(t, err, ErrRefundExceedsPaid)
	f.repo.AssertNotCalled(t, "UpdatePayment", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, int64(30000), partial.RefundedPaise)
}

func TestRefundRejectsPendingPayment(t *testing.T) {
	f := newServiceFixture()
	p := &Payment{
		ID:          uuid.New(),
		Gateway:     "cod",
		Status:      StatusPending,
		AmountPaise: 50000,
	}
	f.repo.On("GetPayment", mock.Anything, p.ID).Return(p, nil)

	_, err := f.svc.Refund(context.Background(), p.ID, 0, "")
	assert.ErrorIs(t, err, ErrNotRefundable)
}

func TestHandleWebhookAcknowledgesBadPayUSignature(t *testing.T) {
	f := newServiceFixture()
	f.repo.On("GetGatewayConfig", mock.Anything, "payu").Return(&GatewayConfig{
		Key:         "payu",
		Enabled:     true,
		Credentials: map[string]any{"key": "k", "salt": "s"},
	}, nil)

	// Unsigned payload fails verification, but PayU keeps retrying on
	// error responses, so the service swallows the failure.
	err := f.svc.HandleWebhook(context.Background(), "payu", []byte("status=success&txnid=P1&hash=bad"), http.Header{})
	assert.NoError(t, err)
	f.repo.AssertNotCalled(t, "CreateWebhookEvent", mock.Anything, mock.Anything)
}

func TestHandleWebhookSurfacesBadRazorpaySignature(t *testing.T) {
	f := newServiceFixture()
	f.repo.On("GetGatewayConfig", mock.Anything, "razorpay").Return(&GatewayConfig{
		Key:     "razorpay",
		Enabled: true,
		Credentials: map[string]any{
			"key_id": "k", "key_secret": "s", "webhook_secret": "w",
		},
	}, nil)

	err := f.svc.HandleWebhook(context.Background(), "razorpay", []byte(`{"event":"payment.captured"}`), http.Header{})
	assert.Error(t, err)
}

func TestMethodsListsEnabledGateways(t *testing.T) {
	f := newServiceFixture()
	f.repo.On("ListEnabledGatewayConfigs", mock.Anything).Return([]*GatewayConfig{
		{
			Key: "razorpay", Enabled: true, Priority: 100, DisplayName: "Razorpay",
			Credentials: map[string]any{"key_id": "k", "key_secret": "s", "webhook_secret": "w"},
		},
		{Key: "cod", Enabled: true, Priority: 50, MinAmountPaise: 10000, MaxAmountPaise: 5000000},
	}, nil)

	methods, err := f.svc.Methods(context.Background(), 50000)
	require.NoError(t, err)
	require.Len(t, methods, 2)
	assert.Equal(t, "Razorpay", methods[0].DisplayName)
	assert.Equal(t, "cod", methods[1].Key)
	assert.Equal(t, "cod", methods[1].DisplayName)
}

func TestVerifyNotSupportedByCOD(t *testing.T) {
	f := newServiceFixture()
	p := &Payment{
		ID:         uuid.New(),
		PaymentRef: "PCOD123",
		Gateway:    "cod",
		Status:     StatusPending,
	}
	f.repo.On("GetPaymentByRef", mock.Anything, "PCOD123").Return(p, nil)
	f.repo.On("GetGatewayConfig", mock.Anything, "cod").Return(codConfig(true), nil)

	_, err := f.svc.Verify(context.Background(), "PCOD123")
	assert.ErrorIs(t, err, gateway.ErrNotSupported)
}

func TestListByOrderNoResolvesOrder(t *testing.T) {
	f := newServiceFixture()
	o := payableOrder(50000)

	f.orders.On("GetByOrderNo", mock.Anything, o.OrderNo).Return(o, nil)
	f.repo.On("ListPaymentsByOrder", mock.Anything, o.ID).Return([]*Payment{
		{ID: uuid.New(), OrderID: o.ID, Gateway: "razorpay", Status: StatusFailed},
		{ID: uuid.New(), OrderID: o.ID, Gateway: "cod", Status: StatusPending},
	}, nil)

	payments, err := f.svc.ListByOrderNo(context.Background(), o.OrderNo)
	require.NoError(t, err)
	require.Len(t, payments, 2)

	f.orders.On("GetByOrderNo", mock.Anything, "ORD-unknown").Return(nil, order.ErrOrderNotFound)
	_, err = f.svc.ListByOrderNo(context.Background(), "ORD-unknown")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestNewPaymentRefFitsProviderLimits(t *testing.T) {
	ref := NewPaymentRef()
	assert.LessOrEqual(t, len(ref), 25)
	assert.NotEqual(t, ref, NewPaymentRef())
}
