package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ledger-saga/internal/models"
	"ledger-saga/internal/store"
	"ledger-saga/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentService handles accounts and payment requests
type PaymentService struct {
	uow    store.UnitOfWork
	logger *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(uow store.UnitOfWork) *PaymentService {
	return &PaymentService{
		uow:    uow,
		logger: util.GetLogger(),
	}
}

// CreateAccount opens a zero-balance account
func (ps *PaymentService) CreateAccount(ctx context.Context, userID int64) (*models.Account, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreateAccount")
	defer span.End()

	if userID <= 0 {
		return nil, models.ErrInvalidUserID
	}

	var account *models.Account
	err := ps.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		account, err = tx.Accounts().CreateAccount(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	ps.logger.Info("Account created", zap.Int64("user_id", userID))
	return account, nil
}

// Deposit credits a positive amount to an existing account
func (ps *PaymentService) Deposit(ctx context.Context, userID int64, amount decimal.Decimal) (*models.Account, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Deposit")
	defer span.End()

	if userID <= 0 {
		return nil, models.ErrInvalidUserID
	}
	if err := models.ValidateAmount(amount); err != nil {
		return nil, err
	}

	var account *models.Account
	err := ps.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		account, err = tx.Accounts().Deposit(ctx, userID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	ps.logger.Info("Deposit applied",
		zap.Int64("user_id", userID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("balance", account.Balance.StringFixed(2)))
	return account, nil
}

// GetAccount retrieves the account of a user
func (ps *PaymentService) GetAccount(ctx context.Context, userID int64) (*models.Account, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.GetAccount")
	defer span.End()

	var account *models.Account
	err := ps.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		account, err = tx.Accounts().GetAccountByUserID(ctx, userID)
		return err
	})
	return account, err
}

// ProcessPaymentRequest debits the order amount once per message id and
// records the outcome as a payment.processed outbox row. It reports false
// when the message was already processed.
func (ps *PaymentService) ProcessPaymentRequest(ctx context.Context, req *models.PaymentRequest) (bool, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ProcessPaymentRequest",
		attribute.String("message_id", req.MessageID.String()),
		attribute.Int64("order_id", req.OrderID))
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(models.OrderCreatedEvent{
		OrderID: req.OrderID,
		UserID:  req.UserID,
		Amount:  req.Amount,
	})
	if err != nil {
		return false, fmt.Errorf("failed to encode inbox payload: %w", err)
	}

	var (
		processed bool
		event     models.PaymentProcessedEvent
	)
	err = ps.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		processed = false

		inserted, err := tx.Inbox().AddInboxMessage(ctx, &models.InboxMessage{
			ID:      req.MessageID,
			Topic:   models.TopicOrderCreated,
			Payload: payload,
		})
		if err != nil {
			return fmt.Errorf("failed to record inbox message: %w", err)
		}
		if !inserted {
			return nil
		}

		event = models.PaymentProcessedEvent{
			OrderID:        req.OrderID,
			Status:         models.PaymentStatusSuccess,
			IdempotencyKey: req.MessageID,
		}

		if err := models.ValidateAmount(req.Amount); err != nil {
			reason := models.ReasonInvalidAmount
			event.Status, event.Reason = models.PaymentStatusFail, &reason
		} else {
			ok, err := tx.Accounts().Withdraw(ctx, req.UserID, req.Amount)
			if err != nil {
				return fmt.Errorf("failed to withdraw: %w", err)
			}
			if !ok {
				reason := models.ReasonInsufficientFunds
				event.Status, event.Reason = models.PaymentStatusFail, &reason
			}
		}

		msg, err := models.NewOutboxMessage(models.TopicPaymentProcessed, event)
		if err != nil {
			return fmt.Errorf("failed to encode payment.processed: %w", err)
		}
		if err := tx.Outbox().AddOutboxMessage(ctx, msg); err != nil {
			return fmt.Errorf("failed to add outbox message: %w", err)
		}

		processed = true
		return nil
	})
	if err != nil {
		util.SpanError(span, err)
		return false, err
	}

	if !processed {
		util.InboxDuplicatesTotal.WithLabelValues(models.TopicOrderCreated).Inc()
		ps.logger.Warn("Duplicate payment request ignored",
			zap.String("message_id", req.MessageID.String()),
			zap.Int64("order_id", req.OrderID))
		span.SetAttributes(attribute.Bool("duplicate", true))
		return false, nil
	}

	span.SetAttributes(attribute.String("payment_status", event.Status))
	util.PaymentAttemptsTotal.Inc()
	if event.Status == models.PaymentStatusSuccess {
		util.PaymentSuccessTotal.Inc()
		ps.logger.Info("Payment succeeded",
			zap.Int64("order_id", req.OrderID),
			zap.Int64("user_id", req.UserID),
			zap.String("amount", req.Amount.StringFixed(2)))
	} else {
		util.PaymentFailedTotal.WithLabelValues(*event.Reason).Inc()
		ps.logger.Info("Payment failed",
			zap.Int64("order_id", req.OrderID),
			zap.Int64("user_id", req.UserID),
			zap.String("reason", *event.Reason))
	}

	return true, nil
}
