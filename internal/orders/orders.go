// Package orders drives an order through its lifecycle: balance-guarded
// creation, provider dispatch, reconciliation and refund-on-cancel.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/socialboost/panel/internal/db"
	"github.com/socialboost/panel/internal/ledger"
	"github.com/socialboost/panel/internal/models"
	"github.com/socialboost/panel/internal/provider"
)

var (
	// ErrQuantityOutOfRange rejects quantities outside the service's
	// [min, max] window.
	ErrQuantityOutOfRange = errors.New("quantity out of range")
	// ErrServiceInactive rejects orders against disabled services.
	ErrServiceInactive = errors.New("service is inactive")
	// ErrInvalidCancelState means the order is no longer pending. Nothing
	// is mutated.
	ErrInvalidCancelState = errors.New("only pending orders can be canceled")
	// ErrNotDispatched means the order has no upstream reference yet, so
	// there is nothing to reconcile.
	ErrNotDispatched = errors.New("order has not been dispatched")
)

var (
	ordersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_orders_created_total",
		Help: "Order creation attempts by outcome",
	}, []string{"outcome"})

	ordersCanceledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "panel_orders_canceled_total",
		Help: "Orders canceled by their owner",
	})

	refundsOutstandingTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "panel_refunds_outstanding_total",
		Help: "Canceled orders whose refund credit failed and needs operator attention",
	})

	reconcilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_order_reconciles_total",
		Help: "Reconcile calls by outcome",
	}, []string{"outcome"})
)

// reconcileLimit bounds the sweep's concurrent provider calls.
const reconcileLimit = 8

// Store is the persistence contract for orders and the catalog rows they
// reference. Status transitions are conditional updates: the store refuses
// them with db.ErrStateConflict once the order left the expected state.
type Store interface {
	GetService(ctx context.Context, id uuid.UUID) (*models.Service, error)
	GetProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error)

	InsertOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListUserOrders(ctx context.Context, userID uuid.UUID, status string) ([]models.Order, error)
	ListOrdersByStatus(ctx context.Context, status string) ([]models.Order, error)

	MarkOrderDispatched(ctx context.Context, id uuid.UUID, providerOrderID string) (*models.Order, error)
	MarkOrderFailed(ctx context.Context, id uuid.UUID) (*models.Order, error)
	CancelOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ApplyOrderProgress(ctx context.Context, id uuid.UUID, status string, startCount, currentCount, remains *int) (*models.Order, error)
}

// Service coordinates the store, the ledger and the provider gateway.
type Service struct {
	store   Store
	ledger  *ledger.Ledger
	gateway provider.Gateway
	log     *zap.Logger
}

// New creates an order lifecycle service.
func New(store Store, l *ledger.Ledger, gw provider.Gateway, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, ledger: l, gateway: gw, log: logger}
}

// Create places a new order. The debit is durably recorded before the
// provider is contacted, so a crash mid-flight leaves a pending, paid order
// an admin sweep can pick up. Provider failures are folded into the order's
// state (failed, funds kept for admin review) rather than returned as
// errors; the caller always gets the persisted order in its final state.
func (s *Service) Create(ctx context.Context, userID, serviceID uuid.UUID, quantity int, link string) (*models.Order, error) {
	svc, err := s.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("look up service: %w", err)
	}
	if svc.Status != "active" {
		return nil, ErrServiceInactive
	}
	if quantity < svc.MinQuantity || quantity > svc.MaxQuantity {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrQuantityOutOfRange, quantity, svc.MinQuantity, svc.MaxQuantity)
	}

	prov, err := s.store.GetProvider(ctx, svc.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("look up provider: %w", err)
	}

	orderID := uuid.New()
	price := models.OrderPrice(svc.Rate, quantity)

	if _, err := s.ledger.Debit(ctx, userID, price, "Order for "+svc.Name, orderID); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			ordersCreatedTotal.WithLabelValues("insufficient_funds").Inc()
		}
		return nil, err
	}

	order, err := s.store.InsertOrder(ctx, &models.Order{
		ID:        orderID,
		UserID:    userID,
		ServiceID: serviceID,
		Quantity:  quantity,
		Link:      link,
		Price:     price,
	})
	if err != nil {
		// The debit already landed; hand the money back before failing.
		if _, cerr := s.ledger.Credit(ctx, userID, price, models.TxRefund, "Refund for unpersisted order", &orderID); cerr != nil {
			refundsOutstandingTotal.Inc()
			s.log.Error("order insert and compensating refund both failed",
				zap.String("order_id", orderID.String()),
				zap.String("user_id", userID.String()),
				zap.NamedError("insert_error", err),
				zap.Error(cerr))
		}
		return nil, fmt.Errorf("persist order: %w", err)
	}

	providerOrderID, err := s.gateway.PlaceOrder(ctx, *prov, svc.ProviderServiceID, link, quantity)
	if err != nil {
		s.log.Warn("provider dispatch failed, funds kept for admin review",
			zap.String("order_id", order.ID.String()),
			zap.String("provider", prov.Name),
			zap.Error(err))
		ordersCreatedTotal.WithLabelValues("failed").Inc()
		failed, ferr := s.store.MarkOrderFailed(ctx, order.ID)
		if ferr != nil {
			return order, fmt.Errorf("mark order failed: %w", ferr)
		}
		return failed, nil
	}

	dispatched, err := s.store.MarkOrderDispatched(ctx, order.ID, providerOrderID)
	if err != nil {
		if errors.Is(err, db.ErrStateConflict) {
			// A racing cancel won; the upstream order now needs manual
			// cleanup, which is what the log line is for.
			s.log.Error("order left pending state during dispatch",
				zap.String("order_id", order.ID.String()),
				zap.String("provider_order_id", providerOrderID))
			return s.store.GetOrder(ctx, order.ID)
		}
		return order, fmt.Errorf("mark order dispatched: %w", err)
	}

	ordersCreatedTotal.WithLabelValues("dispatched").Inc()
	return dispatched, nil
}

// Reconcile refreshes one order from the provider. Telemetry is always
// updated; the status only moves while the order is non-terminal, and only
// to one of the four statuses the upstream vocabulary maps to.
func (s *Service) Reconcile(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ProviderOrderID == nil {
		return nil, ErrNotDispatched
	}

	svc, err := s.store.GetService(ctx, order.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("look up service: %w", err)
	}
	prov, err := s.store.GetProvider(ctx, svc.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("look up provider: %w", err)
	}

	upstream, err := s.gateway.CheckStatus(ctx, *prov, *order.ProviderOrderID)
	if err != nil {
		reconcilesTotal.WithLabelValues("provider_error").Inc()
		return nil, fmt.Errorf("check provider status: %w", err)
	}

	next := nextStatus(order.Status, upstream.Status)
	updated, err := s.store.ApplyOrderProgress(ctx, orderID, next, upstream.StartCount, upstream.CurrentCount, upstream.Remains)
	if err != nil {
		return nil, fmt.Errorf("apply order progress: %w", err)
	}

	if updated.Status != order.Status {
		reconcilesTotal.WithLabelValues("transition").Inc()
		s.log.Info("order status updated from provider",
			zap.String("order_id", orderID.String()),
			zap.String("from", order.Status),
			zap.String("to", updated.Status))
	} else {
		reconcilesTotal.WithLabelValues("unchanged").Inc()
	}
	return updated, nil
}

// nextStatus maps the upstream status onto the local state machine. Terminal
// local statuses never move, and unknown upstream values change nothing.
func nextStatus(local, upstream string) string {
	if models.TerminalStatus(local) {
		return local
	}
	switch upstream {
	case models.OrderCompleted, models.OrderInProgress, models.OrderCanceled, models.OrderFailed:
		return upstream
	default:
		return local
	}
}

// Cancel cancels a pending order and credits its captured price back. A
// failed refund credit leaves the order canceled and raises the outstanding
// refund counter for operator follow-up.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.store.CancelOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, db.ErrStateConflict) {
			return nil, ErrInvalidCancelState
		}
		return nil, err
	}
	ordersCanceledTotal.Inc()

	details := fmt.Sprintf("Refund for canceled order %s", order.ID)
	if _, err := s.ledger.Credit(ctx, order.UserID, order.Price, models.TxRefund, details, &order.ID); err != nil {
		refundsOutstandingTotal.Inc()
		s.log.Error("refund credit failed for canceled order",
			zap.String("order_id", order.ID.String()),
			zap.String("user_id", order.UserID.String()),
			zap.String("amount", order.Price.String()),
			zap.Error(err))
	}
	return order, nil
}

// Get retrieves a single order.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

// ListForUser retrieves a user's orders, optionally filtered by status.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, status string) ([]models.Order, error) {
	return s.store.ListUserOrders(ctx, userID, status)
}

// ReconcileAll sweeps every in-progress order against its provider with
// bounded parallelism. Individual failures are logged and counted, not
// fatal to the sweep.
func (s *Service) ReconcileAll(ctx context.Context) (int, error) {
	active, err := s.store.ListOrdersByStatus(ctx, models.OrderInProgress)
	if err != nil {
		return 0, fmt.Errorf("list in-progress orders: %w", err)
	}

	var failed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileLimit)
	for _, order := range active {
		id := order.ID
		g.Go(func() error {
			if _, err := s.Reconcile(ctx, id); err != nil {
				failed.Add(1)
				s.log.Warn("reconcile failed",
					zap.String("order_id", id.String()),
					zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(active), err
	}
	return len(active) - int(failed.Load()), nil
}
