package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order statuses. completed, canceled and failed are terminal.
const (
	OrderPending    = "pending"
	OrderInProgress = "in_progress"
	OrderCompleted  = "completed"
	OrderCanceled   = "canceled"
	OrderFailed     = "failed"
)

// Transaction types.
const (
	TxDeposit     = "deposit"
	TxOrder       = "order"
	TxRefund      = "refund"
	TxAdminCredit = "admin_credit"
)

// User roles.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// TerminalStatus reports whether an order status permits no further
// transitions.
func TerminalStatus(status string) bool {
	switch status {
	case OrderCompleted, OrderCanceled, OrderFailed:
		return true
	}
	return false
}

// User represents a panel account with a spendable balance.
type User struct {
	ID           uuid.UUID       `json:"id"`
	Email        string          `json:"email"`
	FullName     string          `json:"full_name"`
	PasswordHash string          `json:"-"`
	Role         string          `json:"role"`
	Balance      decimal.Decimal `json:"balance"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Provider is an upstream fulfillment API configuration.
type Provider struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	APIURL    string    `json:"api_url"`
	APIKey    string    `json:"-"`
	Status    string    `json:"status"` // "active" or "inactive"
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service is an orderable catalog entry. Rate is the price per 1000 units.
type Service struct {
	ID                uuid.UUID       `json:"id"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Category          string          `json:"category"`
	Rate              decimal.Decimal `json:"rate"`
	MinQuantity       int             `json:"min_quantity"`
	MaxQuantity       int             `json:"max_quantity"`
	ProviderID        uuid.UUID       `json:"provider_id"`
	ProviderServiceID string          `json:"provider_service_id"`
	Status            string          `json:"status"` // "active" or "inactive"
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Order is a placed order. Price is captured at creation time and never
// recomputed, so later service rate changes do not affect it.
// ProviderOrderID is set once the order has been dispatched upstream.
type Order struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	ServiceID       uuid.UUID       `json:"service_id"`
	Quantity        int             `json:"quantity"`
	Link            string          `json:"link"`
	Price           decimal.Decimal `json:"price"`
	Status          string          `json:"status"`
	ProviderOrderID *string         `json:"provider_order_id,omitempty"`
	StartCount      *int            `json:"start_count,omitempty"`
	CurrentCount    *int            `json:"current_count,omitempty"`
	Remains         *int            `json:"remains,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Transaction is an append-only ledger entry. Amount is signed: debits are
// negative, credits positive.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Details   string          `json:"details"`
	Status    string          `json:"status"`
	OrderID   *uuid.UUID      `json:"order_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// OrderPrice computes the captured price for quantity units at the given
// per-1000 rate.
func OrderPrice(rate decimal.Decimal, quantity int) decimal.Decimal {
	return rate.Mul(decimal.NewFromInt(int64(quantity))).Div(decimal.NewFromInt(1000))
}
