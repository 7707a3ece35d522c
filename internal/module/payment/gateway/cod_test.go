package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCODInitiate(t *testing.T) {
	gw, err := NewCOD(Config{})
	require.NoError(t, err)

	result, err := gw.Initiate(context.Background(), &InitiateRequest{
		PaymentRef:  "P1",
		AmountPaise: 50000,
	})
	require.NoError(t, err)
	assert.Equal(t, ModeNone, result.Mode)
	assert.Equal(t, "P1", result.ProviderOrderID)
}

func TestCODHasNoRemoteOperations(t *testing.T) {
	gw, err := NewCOD(Config{})
	require.NoError(t, err)

	_, err = gw.Verify(context.Background(), Correlation{PaymentRef: "P1"})
	assert.ErrorIs(t, err, ErrNotSupported)

	_, err = gw.ParseWebhook(nil, nil)
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestCODRefundIsImmediatelyFinal(t *testing.T) {
	gw, err := NewCOD(Config{})
	require.NoError(t, err)

	result, err := gw.Refund(context.Background(), &RefundRequest{PaymentRef: "P1", AmountPaise: 50000})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.NotEmpty(t, result.ProviderRefundID)
}
