package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"ledger-saga/internal/models"
	"ledger-saga/internal/store/memstore"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fundedAccount(t *testing.T, svc *PaymentService, userID int64, amount string) {
	t.Helper()

	ctx := context.Background()
	account, err := svc.CreateAccount(ctx, userID)
	require.NoError(t, err)
	assert.True(t, account.Balance.IsZero())

	account, err = svc.Deposit(ctx, userID, decimal.RequireFromString(amount))
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.RequireFromString(amount)))
}

func paymentEvent(t *testing.T, s *memstore.Store) models.PaymentProcessedEvent {
	t.Helper()

	rows := s.Unpublished()
	require.Len(t, rows, 1)
	assert.Equal(t, models.TopicPaymentProcessed, rows[0].Topic)

	var event models.PaymentProcessedEvent
	require.NoError(t, json.Unmarshal(rows[0].Payload, &event))
	return event
}

func TestCreateAccountAndDeposit(t *testing.T) {
	svc := NewPaymentService(memstore.New())
	ctx := context.Background()

	fundedAccount(t, svc, 1, "100.00")

	_, err := svc.CreateAccount(ctx, 1)
	assert.ErrorIs(t, err, models.ErrAccountExists)

	_, err = svc.CreateAccount(ctx, 0)
	assert.ErrorIs(t, err, models.ErrInvalidUserID)

	_, err = svc.Deposit(ctx, 2, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, models.ErrAccountNotFound)

	_, err = svc.Deposit(ctx, 1, decimal.Zero)
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	account, err := svc.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(100)))

	_, err = svc.GetAccount(ctx, 2)
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestProcessPaymentRequestInsufficientFunds(t *testing.T) {
	s := memstore.New()
	svc := NewPaymentService(s)
	fundedAccount(t, svc, 1, "100.00")

	req := &models.PaymentRequest{MessageID: uuid.New(), OrderID: 7, UserID: 1, Amount: decimal.RequireFromString("150.00")}
	processed, err := svc.ProcessPaymentRequest(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, processed)

	event := paymentEvent(t, s)
	assert.Equal(t, int64(7), event.OrderID)
	assert.Equal(t, models.PaymentStatusFail, event.Status)
	require.NotNil(t, event.Reason)
	assert.Equal(t, models.ReasonInsufficientFunds, *event.Reason)
	assert.Equal(t, req.MessageID, event.IdempotencyKey)

	account, err := svc.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(100)))
}

func TestProcessPaymentRequestSuccess(t *testing.T) {
	s := memstore.New()
	svc := NewPaymentService(s)
	fundedAccount(t, svc, 1, "100.00")

	req := &models.PaymentRequest{MessageID: uuid.New(), OrderID: 8, UserID: 1, Amount: decimal.RequireFromString("60.00")}
	processed, err := svc.ProcessPaymentRequest(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, processed)

	event := paymentEvent(t, s)
	assert.Equal(t, models.PaymentStatusSuccess, event.Status)
	assert.Nil(t, event.Reason)

	account, err := svc.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(40)))
}

func TestProcessPaymentRequestMissingAccount(t *testing.T) {
	s := memstore.New()
	svc := NewPaymentService(s)

	processed, err := svc.ProcessPaymentRequest(context.Background(), &models.PaymentRequest{
		MessageID: uuid.New(), OrderID: 9, UserID: 5, Amount: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, models.PaymentStatusFail, paymentEvent(t, s).Status)
}

func TestProcessPaymentRequestInvalidAmount(t *testing.T) {
	s := memstore.New()
	svc := NewPaymentService(s)
	fundedAccount(t, svc, 1, "100.00")

	processed, err := svc.ProcessPaymentRequest(context.Background(), &models.PaymentRequest{
		MessageID: uuid.New(), OrderID: 10, UserID: 1, Amount: decimal.NewFromInt(-5),
	})
	require.NoError(t, err)
	assert.True(t, processed)

	event := paymentEvent(t, s)
	assert.Equal(t, models.PaymentStatusFail, event.Status)
	assert.Equal(t, models.ReasonInvalidAmount, *event.Reason)

	account, err := svc.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(100)))
}

func TestProcessPaymentRequestDeduplicates(t *testing.T) {
	s := memstore.New()
	svc := NewPaymentService(s)
	fundedAccount(t, svc, 1, "100.00")

	req := &models.PaymentRequest{MessageID: uuid.New(), OrderID: 11, UserID: 1, Amount: decimal.RequireFromString("10.00")}
	for i := 0; i < 5; i++ {
		processed, err := svc.ProcessPaymentRequest(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, i == 0, processed)
	}

	assert.Len(t, s.Unpublished(), 1)
	assert.Equal(t, 1, s.InboxSize())

	account, err := svc.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(90)))
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	s := memstore.New()
	svc := NewPaymentService(s)
	fundedAccount(t, svc, 1, "100.00")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(orderID int64) {
			defer wg.Done()
			_, err := svc.ProcessPaymentRequest(context.Background(), &models.PaymentRequest{
				MessageID: uuid.New(), OrderID: orderID, UserID: 1, Amount: decimal.RequireFromString("30.00"),
			})
			assert.NoError(t, err)
		}(int64(i + 1))
	}
	wg.Wait()

	successes := 0
	for _, row := range s.Unpublished() {
		var event models.PaymentProcessedEvent
		require.NoError(t, json.Unmarshal(row.Payload, &event))
		if event.Status == models.PaymentStatusSuccess {
			successes++
		}
	}
	assert.Equal(t, 3, successes)

	account, err := svc.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(10)))
}
