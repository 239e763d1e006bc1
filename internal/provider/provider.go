// Package provider talks to upstream SMM fulfillment APIs.
package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/socialboost/panel/internal/models"
)

var (
	// ErrUnavailable means the provider could not be reached or answered
	// with a server error.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrRejected means the provider answered but refused the request.
	ErrRejected = errors.New("provider rejected order")
)

// OrderStatus is the upstream view of a dispatched order.
type OrderStatus struct {
	Status       string
	StartCount   *int
	CurrentCount *int
	Remains      *int
}

// CatalogEntry is one service as advertised by a provider.
type CatalogEntry struct {
	ServiceID   string
	Name        string
	Category    string
	Description string
	Rate        string // price per 1000, decimal string
	Min         int
	Max         int
}

// Gateway is the contract the order lifecycle depends on: place an order
// upstream and ask what became of it.
type Gateway interface {
	PlaceOrder(ctx context.Context, p models.Provider, providerServiceID, link string, quantity int) (string, error)
	CheckStatus(ctx context.Context, p models.Provider, providerOrderID string) (OrderStatus, error)
}

// NormalizeStatus folds the status vocabulary used by the common SMM panel
// APIs ("In progress", "Error", ...) into the local one. Values with no
// equivalent are returned lowercased for the caller to ignore.
func NormalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued":
		return models.OrderPending
	case "in progress", "in_progress", "processing":
		return models.OrderInProgress
	case "completed", "complete":
		return models.OrderCompleted
	case "canceled", "cancelled", "refunded":
		return models.OrderCanceled
	case "failed", "error":
		return models.OrderFailed
	default:
		return strings.ToLower(strings.TrimSpace(s))
	}
}
