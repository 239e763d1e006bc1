package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/socialboost/panel/internal/auth"
	"github.com/socialboost/panel/internal/db"
	"github.com/socialboost/panel/internal/ledger"
	"github.com/socialboost/panel/internal/models"
	"github.com/socialboost/panel/internal/orders"
)

// Orders is the slice of the order lifecycle the API needs.
type Orders interface {
	Create(ctx context.Context, userID, serviceID uuid.UUID, quantity int, link string) (*models.Order, error)
	Reconcile(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID, status string) ([]models.Order, error)
}

// Ledger is the slice of the balance ledger the API needs.
type Ledger interface {
	Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, txType, details string, orderID *uuid.UUID) (*models.Transaction, error)
}

// Store covers the read and admin paths that bypass the services.
type Store interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error)
	GetService(ctx context.Context, id uuid.UUID) (*models.Service, error)
	ListServices(ctx context.Context, status, category string) ([]models.Service, error)
	ListCategories(ctx context.Context) ([]string, error)
	UpdateServiceStatus(ctx context.Context, id uuid.UUID, status string) error
	ListProviders(ctx context.Context) ([]models.Provider, error)
	CreateProvider(ctx context.Context, name, apiURL, apiKey string) (*models.Provider, error)
	UpdateProviderStatus(ctx context.Context, id uuid.UUID, status string) error
	CountOrdersByStatus(ctx context.Context) (map[string]int, error)
	TotalRevenue(ctx context.Context) (decimal.Decimal, error)
}

// Syncer refreshes a provider's service catalog.
type Syncer interface {
	SyncProvider(ctx context.Context, providerID uuid.UUID) (int, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Store  Store
	Orders Orders
	Ledger Ledger
	Auth   *auth.AuthService
	Syncer Syncer
	Log    *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(store Store, ord Orders, led Ledger, authService *auth.AuthService, syncer Syncer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Store: store, Orders: ord, Ledger: led, Auth: authService, Syncer: syncer, Log: logger}
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		FullName string `json:"full_name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Email and password required")
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Email, req.FullName, req.Password)
	if err != nil {
		if errors.Is(err, db.ErrUserExists) {
			respondError(w, http.StatusConflict, "Email already registered")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"id":    user.ID,
		"email": user.Email,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// AuthMiddleware verifies JWT tokens and attaches the caller identity.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			respondError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		id, err := h.Auth.IdentityFromToken(tokenString)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// AdminOnly rejects callers without the admin role.
func (h *Handler) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok || id.Role != models.RoleAdmin {
			respondError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return id, ok
}

// ListServices retrieves the active catalog, optionally by category.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.Store.ListServices(r.Context(), "active", r.URL.Query().Get("category"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to retrieve services")
		return
	}
	respondJSON(w, http.StatusOK, services)
}

// ListCategories returns the distinct categories of the active catalog.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Store.ListCategories(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to retrieve categories")
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

// GetService retrieves one service.
func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid service ID")
		return
	}
	svc, err := h.Store.GetService(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Service not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to retrieve service")
		return
	}
	respondJSON(w, http.StatusOK, svc)
}

// PlaceOrder handles order placement and provider dispatch.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req struct {
		ServiceID uuid.UUID `json:"service_id"`
		Quantity  int       `json:"quantity"`
		Link      string    `json:"link"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ServiceID == uuid.Nil || req.Link == "" {
		respondError(w, http.StatusBadRequest, "Service and link required")
		return
	}
	if req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "Quantity must be positive")
		return
	}

	order, err := h.Orders.Create(r.Context(), id.UserID, req.ServiceID, req.Quantity, req.Link)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			respondError(w, http.StatusUnprocessableEntity, "Insufficient balance")
		case errors.Is(err, orders.ErrQuantityOutOfRange), errors.Is(err, orders.ErrServiceInactive):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, db.ErrNotFound):
			respondError(w, http.StatusNotFound, "Service not found")
		default:
			h.Log.Error("order creation failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Failed to create order")
		}
		return
	}

	respondJSON(w, http.StatusCreated, order)
}

// ListOrders retrieves the caller's orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := h.Orders.ListForUser(r.Context(), id.UserID, r.URL.Query().Get("status"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to retrieve orders")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// GetOrder retrieves one of the caller's orders.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// CancelOrder cancels a pending order and refunds its price.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	canceled, err := h.Orders.Cancel(r.Context(), order.ID)
	if err != nil {
		if errors.Is(err, orders.ErrInvalidCancelState) {
			respondError(w, http.StatusConflict, "Only pending orders can be canceled")
			return
		}
		h.Log.Error("order cancel failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to cancel order")
		return
	}
	respondJSON(w, http.StatusOK, canceled)
}

// RefreshOrder reconciles one order against its provider.
func (h *Handler) RefreshOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	updated, err := h.Orders.Reconcile(r.Context(), order.ID)
	if err != nil {
		if errors.Is(err, orders.ErrNotDispatched) {
			respondError(w, http.StatusConflict, "Order has not been dispatched")
			return
		}
		h.Log.Warn("order reconcile failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, "Provider unavailable")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// ownedOrder loads the order in the URL and enforces that the caller owns
// it (admins see everything).
func (h *Handler) ownedOrder(w http.ResponseWriter, r *http.Request) (*models.Order, bool) {
	id, ok := identity(w, r)
	if !ok {
		return nil, false
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return nil, false
	}
	order, err := h.Orders.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Order not found")
			return nil, false
		}
		respondError(w, http.StatusInternalServerError, "Failed to retrieve order")
		return nil, false
	}
	if order.UserID != id.UserID && id.Role != models.RoleAdmin {
		respondError(w, http.StatusNotFound, "Order not found")
		return nil, false
	}
	return order, true
}

// GetBalance returns the caller's spendable balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	balance, err := h.Ledger.Balance(r.Context(), id.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to retrieve balance")
		return
	}
	respondJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

// ListTransactions returns the caller's ledger history.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	txns, err := h.Store.ListTransactions(r.Context(), id.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to retrieve transactions")
		return
	}
	respondJSON(w, http.StatusOK, txns)
}

// AddFunds credits a deposit onto the caller's balance.
func (h *Handler) AddFunds(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount        decimal.Decimal `json:"amount"`
		PaymentMethod string          `json:"payment_method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Amount.IsPositive() {
		respondError(w, http.StatusBadRequest, "Amount must be positive")
		return
	}

	txn, err := h.Ledger.Credit(r.Context(), id.UserID, req.Amount, models.TxDeposit, "Deposit via "+req.PaymentMethod, nil)
	if err != nil {
		h.Log.Error("deposit failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to add funds")
		return
	}
	respondJSON(w, http.StatusCreated, txn)
}
