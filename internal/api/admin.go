package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/socialboost/panel/internal/db"
	"github.com/socialboost/panel/internal/models"
)

// GetStats returns the admin dashboard counters.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Store.CountOrdersByStatus(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to retrieve stats")
		return
	}
	revenue, err := h.Store.TotalRevenue(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to retrieve stats")
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"total_orders":       total,
		"pending_orders":     counts[models.OrderPending],
		"in_progress_orders": counts[models.OrderInProgress],
		"completed_orders":   counts[models.OrderCompleted],
		"failed_orders":      counts[models.OrderFailed],
		"canceled_orders":    counts[models.OrderCanceled],
		"total_revenue":      revenue,
	})
}

// ListProviders returns all configured upstream providers.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.Store.ListProviders(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to retrieve providers")
		return
	}
	respondJSON(w, http.StatusOK, providers)
}

// CreateProvider registers a new upstream provider.
func (h *Handler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		APIURL string `json:"api_url"`
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.APIURL == "" || req.APIKey == "" {
		respondError(w, http.StatusBadRequest, "Name, api_url and api_key required")
		return
	}

	p, err := h.Store.CreateProvider(r.Context(), req.Name, req.APIURL, req.APIKey)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create provider")
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

// UpdateProviderStatus flips a provider between active and inactive.
func (h *Handler) UpdateProviderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid provider ID")
		return
	}
	status, ok := decodeStatus(w, r)
	if !ok {
		return
	}
	if err := h.Store.UpdateProviderStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Provider not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to update provider")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": status})
}

// SyncProvider pulls a provider's catalog into the services table.
func (h *Handler) SyncProvider(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid provider ID")
		return
	}
	n, err := h.Syncer.SyncProvider(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Provider not found")
			return
		}
		h.Log.Error("catalog sync failed", zap.String("provider_id", id.String()), zap.Error(err))
		respondError(w, http.StatusBadGateway, "Failed to sync provider catalog")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"synced": n})
}

// UpdateServiceStatus flips a service between active and inactive.
func (h *Handler) UpdateServiceStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid service ID")
		return
	}
	status, ok := decodeStatus(w, r)
	if !ok {
		return
	}
	if err := h.Store.UpdateServiceStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Service not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to update service")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": status})
}

// CreditUser applies a manual admin credit to a user's balance.
func (h *Handler) CreditUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var req struct {
		Amount  decimal.Decimal `json:"amount"`
		Details string          `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Amount.IsPositive() {
		respondError(w, http.StatusBadRequest, "Amount must be positive")
		return
	}
	if _, err := h.Store.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "User not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to look up user")
		return
	}

	txn, err := h.Ledger.Credit(r.Context(), userID, req.Amount, models.TxAdminCredit, req.Details, nil)
	if err != nil {
		h.Log.Error("admin credit failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to credit user")
		return
	}
	respondJSON(w, http.StatusCreated, txn)
}

func decodeStatus(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return "", false
	}
	if req.Status != "active" && req.Status != "inactive" {
		respondError(w, http.StatusBadRequest, "Status must be 'active' or 'inactive'")
		return "", false
	}
	return req.Status, true
}
