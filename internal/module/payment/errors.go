package payment

import "errors"

var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrUnsupportedGateway = errors.New("unsupported gateway")
	ErrGatewayDisabled    = errors.New("gateway disabled")
	ErrDuplicateEvent     = errors.New("duplicate webhook event")
	ErrAmountMismatch     = errors.New("notification amount does not match payment")
	ErrAmountOutOfBounds  = errors.New("amount outside gateway bounds")
	ErrOrderNotPayable    = errors.New("order is not payable")
	ErrNotRefundable      = errors.New("payment is not refundable")
	ErrRefundExceedsPaid  = errors.New("refund exceeds refundable amount")
	ErrNotCOD             = errors.New("payment is not pay on delivery")
)
