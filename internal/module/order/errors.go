package order

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid payment status transition")
	ErrNotPayable        = errors.New("order is not payable")
)
