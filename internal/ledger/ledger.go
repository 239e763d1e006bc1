// Package ledger owns balance mutations and their append-only audit trail.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/socialboost/panel/internal/models"
)

var (
	// ErrInvalidAmount rejects zero or negative debit/credit amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInsufficientFunds means the debit would take the balance below
	// zero. The balance is left untouched.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrWriteFailed means the balance changed but the audit entry could
	// not be appended. The mutation is compensated where possible; the
	// remainder is flagged for operator attention.
	ErrWriteFailed = errors.New("ledger write failed")
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_ledger_mutations_total",
		Help: "Balance mutations by kind and outcome",
	}, []string{"kind", "outcome"})

	auditGapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "panel_ledger_audit_gaps_total",
		Help: "Balance mutations whose audit entry is missing and could not be compensated",
	})
)

// Store is the persistence contract the ledger needs: a conditional balance
// update that refuses to go negative, and an append-only transaction log.
type Store interface {
	UserBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	// AdjustBalance applies delta atomically, returning false (and leaving
	// the balance untouched) when the result would be negative.
	AdjustBalance(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) (bool, error)
	AppendTransaction(ctx context.Context, txn *models.Transaction) (*models.Transaction, error)
}

// Ledger mediates every balance change and records each one as a
// transaction entry.
type Ledger struct {
	store Store
	log   *zap.Logger
}

// New creates a Ledger backed by the given store.
func New(store Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, log: logger}
}

// Balance returns a user's current spendable balance.
func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return l.store.UserBalance(ctx, userID)
}

// Debit withdraws amount from the user's balance and appends an order-debit
// transaction referencing orderID. The balance check and mutation are one
// conditional write; a refused debit leaves no trace. A failed audit append
// is compensated by crediting the amount back.
func (l *Ledger) Debit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, details string, orderID uuid.UUID) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	ok, err := l.store.AdjustBalance(ctx, userID, amount.Neg())
	if err != nil {
		mutationsTotal.WithLabelValues("debit", "error").Inc()
		return nil, fmt.Errorf("debit user %s: %w", userID, err)
	}
	if !ok {
		mutationsTotal.WithLabelValues("debit", "insufficient_funds").Inc()
		return nil, ErrInsufficientFunds
	}

	txn, err := l.store.AppendTransaction(ctx, &models.Transaction{
		UserID:  userID,
		Type:    models.TxOrder,
		Amount:  amount.Neg(),
		Details: details,
		Status:  "completed",
		OrderID: &orderID,
	})
	if err != nil {
		l.compensate(ctx, userID, amount, orderID, err)
		mutationsTotal.WithLabelValues("debit", "write_failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	mutationsTotal.WithLabelValues("debit", "ok").Inc()
	return txn, nil
}

// Credit adds amount to the user's balance and appends a transaction of the
// given type (deposit, refund or admin_credit). The credit is never rolled
// back: if the audit append fails, the gap is flagged instead.
func (l *Ledger) Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, txType, details string, orderID *uuid.UUID) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	if _, err := l.store.AdjustBalance(ctx, userID, amount); err != nil {
		mutationsTotal.WithLabelValues("credit", "error").Inc()
		return nil, fmt.Errorf("credit user %s: %w", userID, err)
	}

	txn, err := l.store.AppendTransaction(ctx, &models.Transaction{
		UserID:  userID,
		Type:    txType,
		Amount:  amount,
		Details: details,
		Status:  "completed",
		OrderID: orderID,
	})
	if err != nil {
		auditGapsTotal.Inc()
		mutationsTotal.WithLabelValues("credit", "write_failed").Inc()
		l.log.Error("credit applied but audit entry missing",
			zap.String("user_id", userID.String()),
			zap.String("amount", amount.String()),
			zap.String("type", txType),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	mutationsTotal.WithLabelValues("credit", "ok").Inc()
	return txn, nil
}

// compensate returns debited funds after a failed audit append. If the
// credit-back also fails, the balance is short and only the flag remains.
func (l *Ledger) compensate(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, orderID uuid.UUID, cause error) {
	if _, err := l.store.AdjustBalance(ctx, userID, amount); err != nil {
		auditGapsTotal.Inc()
		l.log.Error("debit compensation failed, balance is short",
			zap.String("user_id", userID.String()),
			zap.String("order_id", orderID.String()),
			zap.String("amount", amount.String()),
			zap.NamedError("append_error", cause),
			zap.Error(err))
		return
	}
	l.log.Warn("debit rolled back after failed audit append",
		zap.String("user_id", userID.String()),
		zap.String("order_id", orderID.String()),
		zap.String("amount", amount.String()),
		zap.Error(cause))
}
