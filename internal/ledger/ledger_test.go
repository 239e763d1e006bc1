package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialboost/panel/internal/db"
	"github.com/socialboost/panel/internal/memstore"
	"github.com/socialboost/panel/internal/models"
)

func seedUser(store *memstore.Store, balance string) uuid.UUID {
	id := uuid.New()
	store.SeedUser(models.User{
		ID:      id,
		Email:   id.String() + "@test.local",
		Role:    models.RoleCustomer,
		Balance: decimal.RequireFromString(balance),
	})
	return id
}

func TestLedger_Debit(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		balance     string
		amount      string
		expectErr   error
		wantBalance string
		wantTxns    int
	}{
		{
			name:        "Success",
			balance:     "10.00",
			amount:      "9.99",
			wantBalance: "0.01",
			wantTxns:    1,
		},
		{
			name:        "ExactBalance",
			balance:     "9.99",
			amount:      "9.99",
			wantBalance: "0",
			wantTxns:    1,
		},
		{
			name:        "InsufficientFunds",
			balance:     "5.00",
			amount:      "9.99",
			expectErr:   ErrInsufficientFunds,
			wantBalance: "5.00",
			wantTxns:    0,
		},
		{
			name:        "ZeroAmount",
			balance:     "5.00",
			amount:      "0",
			expectErr:   ErrInvalidAmount,
			wantBalance: "5.00",
			wantTxns:    0,
		},
		{
			name:        "NegativeAmount",
			balance:     "5.00",
			amount:      "-1.00",
			expectErr:   ErrInvalidAmount,
			wantBalance: "5.00",
			wantTxns:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			userID := seedUser(store, tt.balance)
			l := New(store, nil)
			orderID := uuid.New()

			txn, err := l.Debit(ctx, userID, decimal.RequireFromString(tt.amount), "Order payment", orderID)
			if tt.expectErr != nil {
				require.ErrorIs(t, err, tt.expectErr)
			} else {
				require.NoError(t, err)
				require.NotNil(t, txn)
				assert.Equal(t, models.TxOrder, txn.Type)
				assert.True(t, txn.Amount.Equal(decimal.RequireFromString(tt.amount).Neg()),
					"expected amount -%s, got %s", tt.amount, txn.Amount)
				require.NotNil(t, txn.OrderID)
				assert.Equal(t, orderID, *txn.OrderID)
			}

			balance, err := l.Balance(ctx, userID)
			require.NoError(t, err)
			assert.True(t, balance.Equal(decimal.RequireFromString(tt.wantBalance)),
				"expected balance %s, got %s", tt.wantBalance, balance)
			assert.Len(t, store.Transactions(), tt.wantTxns)
		})
	}
}

func TestLedger_Debit_UnknownUser(t *testing.T) {
	store := memstore.New()
	l := New(store, nil)

	_, err := l.Debit(context.Background(), uuid.New(), decimal.NewFromInt(1), "Order payment", uuid.New())
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestLedger_Debit_AppendFailureCompensates(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	userID := seedUser(store, "10.00")
	store.AppendTransactionErr = errors.New("disk full")
	l := New(store, nil)

	_, err := l.Debit(ctx, userID, decimal.RequireFromString("9.99"), "Order payment", uuid.New())
	require.ErrorIs(t, err, ErrWriteFailed)

	// The debit must have been credited back.
	balance, err := l.Balance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("10.00")), "expected 10.00, got %s", balance)
}

func TestLedger_Credit(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	userID := seedUser(store, "0.01")
	l := New(store, nil)
	orderID := uuid.New()

	txn, err := l.Credit(ctx, userID, decimal.RequireFromString("9.99"), models.TxRefund, "Refund for canceled order", &orderID)
	require.NoError(t, err)
	assert.Equal(t, models.TxRefund, txn.Type)
	assert.True(t, txn.Amount.Equal(decimal.RequireFromString("9.99")))

	balance, err := l.Balance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("10.00")), "expected 10.00, got %s", balance)
}

func TestLedger_Credit_InvalidAmount(t *testing.T) {
	store := memstore.New()
	userID := seedUser(store, "1.00")
	l := New(store, nil)

	_, err := l.Credit(context.Background(), userID, decimal.Zero, models.TxDeposit, "Deposit", nil)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLedger_Credit_AppendFailureKeepsCredit(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	userID := seedUser(store, "1.00")
	store.AppendTransactionErr = errors.New("disk full")
	l := New(store, nil)

	_, err := l.Credit(ctx, userID, decimal.NewFromInt(5), models.TxDeposit, "Deposit", nil)
	require.ErrorIs(t, err, ErrWriteFailed)

	// A credit is never clawed back; only the audit entry is missing.
	balance, err := l.Balance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(6)), "expected 6, got %s", balance)
}

func TestLedger_BalanceNeverNegative(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	userID := seedUser(store, "10.00")
	l := New(store, nil)

	steps := []struct {
		debit  bool
		amount string
	}{
		{true, "4.00"},
		{true, "7.00"}, // refused: would go to -1.00
		{false, "2.50"},
		{true, "8.50"},
		{true, "0.01"}, // refused: balance is exactly 0
		{false, "1.00"},
	}

	for i, s := range steps {
		amount := decimal.RequireFromString(s.amount)
		if s.debit {
			_, err := l.Debit(ctx, userID, amount, "Order payment", uuid.New())
			if err != nil {
				assert.ErrorIs(t, err, ErrInsufficientFunds, "step %d", i)
			}
		} else {
			_, err := l.Credit(ctx, userID, amount, models.TxDeposit, "Deposit", nil)
			assert.NoError(t, err, "step %d", i)
		}

		balance, err := l.Balance(ctx, userID)
		assert.NoError(t, err)
		assert.False(t, balance.IsNegative(), "balance went negative at step %d: %s", i, balance)
	}

	balance, err := l.Balance(ctx, userID)
	assert.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(1)), "expected 1, got %s", balance)
}
