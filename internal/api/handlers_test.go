package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/socialboost/panel/internal/auth"
	"github.com/socialboost/panel/internal/catalog"
	"github.com/socialboost/panel/internal/ledger"
	"github.com/socialboost/panel/internal/memstore"
	"github.com/socialboost/panel/internal/models"
	"github.com/socialboost/panel/internal/orders"
	"github.com/socialboost/panel/internal/provider"
)

// stubGateway doubles as the provider gateway and the catalog fetcher.
type stubGateway struct {
	mu sync.Mutex

	placeErr    error
	placeResult string

	statusErr    error
	statusResult provider.OrderStatus

	catalog    []provider.CatalogEntry
	catalogErr error
}

func (g *stubGateway) PlaceOrder(ctx context.Context, p models.Provider, providerServiceID, link string, quantity int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.placeErr != nil {
		return "", g.placeErr
	}
	return g.placeResult, nil
}

func (g *stubGateway) CheckStatus(ctx context.Context, p models.Provider, providerOrderID string) (provider.OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return provider.OrderStatus{}, g.statusErr
	}
	return g.statusResult, nil
}

func (g *stubGateway) Services(ctx context.Context, p models.Provider) ([]provider.CatalogEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.catalogErr != nil {
		return nil, g.catalogErr
	}
	return g.catalog, nil
}

type testEnv struct {
	store   *memstore.Store
	gateway *stubGateway
	router  http.Handler

	serviceID  uuid.UUID
	providerID uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memstore.New()
	gw := &stubGateway{placeResult: "ext-1"}
	led := ledger.New(store, nil)
	ord := orders.New(store, led, gw, nil)
	authSvc := auth.NewAuthService(store, []byte("test-secret"))
	syncer := catalog.NewSyncer(store, gw, nil)
	h := NewHandler(store, ord, led, authSvc, syncer, nil)

	prov, err := store.CreateProvider(context.Background(), "DemoBoost", "https://boost.test/api/v2", "secret")
	require.NoError(t, err)

	serviceID := uuid.New()
	store.SeedService(models.Service{
		ID:                serviceID,
		ProviderID:        prov.ID,
		ProviderServiceID: "101",
		Name:              "Instagram Followers",
		Category:          "Instagram",
		Rate:              decimal.RequireFromString("9.99"),
		MinQuantity:       100,
		MaxQuantity:       10000,
		Status:            "active",
	})

	return &testEnv{
		store:      store,
		gateway:    gw,
		router:     NewRouter(h),
		serviceID:  serviceID,
		providerID: prov.ID,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), "body: %s", rec.Body.String())
	return out
}

// signupCustomer registers and logs in a customer with the given balance.
func (e *testEnv) signupCustomer(t *testing.T, email, balance string) (uuid.UUID, string) {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":     email,
		"full_name": "Test Customer",
		"password":  "password123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		ID uuid.UUID `json:"id"`
	}](t, rec)

	if balance != "" && balance != "0" {
		ok, err := e.store.AdjustBalance(context.Background(), created.ID, decimal.RequireFromString(balance))
		require.NoError(t, err)
		require.True(t, ok)
	}

	rec = e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decode[struct {
		Token string `json:"token"`
	}](t, rec)
	return created.ID, login.Token
}

// loginAdmin seeds an admin account and returns its token.
func (e *testEnv) loginAdmin(t *testing.T) string {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("admin-password"), bcrypt.MinCost)
	require.NoError(t, err)
	e.store.SeedUser(models.User{
		ID:           uuid.New(),
		Email:        "admin@test.local",
		PasswordHash: string(hash),
		Role:         models.RoleAdmin,
		Balance:      decimal.Zero,
	})

	rec := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "admin@test.local",
		"password": "admin-password",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decode[struct {
		Token string `json:"token"`
	}](t, rec)
	return login.Token
}

func (e *testEnv) getBalance(t *testing.T, token string) decimal.Decimal {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/balance", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Balance decimal.Decimal `json:"balance"`
	}](t, rec)
	return resp.Balance
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegister(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    "alice@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Same email again.
	rec = e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    "alice@example.com",
		"password": "password456",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Missing fields.
	rec = e.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "bob@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	e := newTestEnv(t)
	e.signupCustomer(t, "alice@example.com", "0")

	rec := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/orders", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListServices(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/services", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	services := decode[[]models.Service](t, rec)
	require.Len(t, services, 1)
	assert.Equal(t, "Instagram Followers", services[0].Name)

	rec = e.do(t, http.MethodGet, "/services?category=YouTube", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.Service](t, rec))

	rec = e.do(t, http.MethodGet, "/services/categories", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Instagram"}, decode[[]string](t, rec))

	rec = e.do(t, http.MethodGet, "/services/"+e.serviceID.String(), "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/services/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlaceOrder(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.signupCustomer(t, "alice@example.com", "10.00")

	rec := e.do(t, http.MethodPost, "/orders", token, map[string]any{
		"service_id": e.serviceID,
		"quantity":   1000,
		"link":       "https://instagram.com/someone",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[models.Order](t, rec)
	assert.Equal(t, models.OrderInProgress, order.Status)
	assert.True(t, order.Price.Equal(decimal.RequireFromString("9.99")))

	assert.True(t, e.getBalance(t, token).Equal(decimal.RequireFromString("0.01")))

	rec = e.do(t, http.MethodGet, "/transactions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txns := decode[[]models.Transaction](t, rec)
	require.Len(t, txns, 1)
	assert.Equal(t, models.TxOrder, txns[0].Type)
}

func TestPlaceOrder_InsufficientBalance(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.signupCustomer(t, "alice@example.com", "5.00")

	rec := e.do(t, http.MethodPost, "/orders", token, map[string]any{
		"service_id": e.serviceID,
		"quantity":   1000,
		"link":       "https://instagram.com/someone",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.True(t, e.getBalance(t, token).Equal(decimal.RequireFromString("5.00")))
}

func TestPlaceOrder_BadRequests(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.signupCustomer(t, "alice@example.com", "100.00")

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{
			name: "MissingLink",
			body: map[string]any{"service_id": e.serviceID, "quantity": 1000},
			want: http.StatusBadRequest,
		},
		{
			name: "ZeroQuantity",
			body: map[string]any{"service_id": e.serviceID, "quantity": 0, "link": "https://x.test"},
			want: http.StatusBadRequest,
		},
		{
			name: "QuantityBelowMinimum",
			body: map[string]any{"service_id": e.serviceID, "quantity": 10, "link": "https://x.test"},
			want: http.StatusBadRequest,
		},
		{
			name: "UnknownService",
			body: map[string]any{"service_id": uuid.New(), "quantity": 1000, "link": "https://x.test"},
			want: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/orders", token, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestGetOrder_Ownership(t *testing.T) {
	e := newTestEnv(t)
	_, aliceToken := e.signupCustomer(t, "alice@example.com", "10.00")
	_, bobToken := e.signupCustomer(t, "bob@example.com", "10.00")

	rec := e.do(t, http.MethodPost, "/orders", aliceToken, map[string]any{
		"service_id": e.serviceID,
		"quantity":   1000,
		"link":       "https://instagram.com/someone",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decode[models.Order](t, rec)

	rec = e.do(t, http.MethodGet, "/orders/"+order.ID.String(), aliceToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another customer sees a 404, not a 403, so order IDs are not probeable.
	rec = e.do(t, http.MethodGet, "/orders/"+order.ID.String(), bobToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// An admin can read any order.
	adminToken := e.loginAdmin(t)
	rec = e.do(t, http.MethodGet, "/orders/"+order.ID.String(), adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelOrder(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.signupCustomer(t, "alice@example.com", "10.00")

	rec := e.do(t, http.MethodPost, "/orders", token, map[string]any{
		"service_id": e.serviceID,
		"quantity":   1000,
		"link":       "https://instagram.com/someone",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decode[models.Order](t, rec)

	// Dispatched orders cannot be canceled.
	rec = e.do(t, http.MethodDelete, "/orders/"+order.ID.String(), token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// A still-pending order cancels with a full refund.
	e.store.SeedOrderStatus(order.ID, models.OrderPending)
	rec = e.do(t, http.MethodDelete, "/orders/"+order.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	canceled := decode[models.Order](t, rec)
	assert.Equal(t, models.OrderCanceled, canceled.Status)
	assert.True(t, e.getBalance(t, token).Equal(decimal.RequireFromString("10.00")))
}

func TestRefreshOrder(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.signupCustomer(t, "alice@example.com", "10.00")

	rec := e.do(t, http.MethodPost, "/orders", token, map[string]any{
		"service_id": e.serviceID,
		"quantity":   1000,
		"link":       "https://instagram.com/someone",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decode[models.Order](t, rec)

	current := 1000
	e.gateway.statusResult = provider.OrderStatus{Status: models.OrderCompleted, CurrentCount: &current}
	rec = e.do(t, http.MethodPost, "/orders/"+order.ID.String()+"/refresh", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[models.Order](t, rec)
	assert.Equal(t, models.OrderCompleted, updated.Status)

	// Upstream outage surfaces as a gateway error.
	e.gateway.statusErr = provider.ErrUnavailable
	e.store.SeedOrderStatus(order.ID, models.OrderInProgress)
	rec = e.do(t, http.MethodPost, "/orders/"+order.ID.String()+"/refresh", token, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRefreshOrder_NotDispatched(t *testing.T) {
	e := newTestEnv(t)
	e.gateway.placeErr = provider.ErrUnavailable
	_, token := e.signupCustomer(t, "alice@example.com", "10.00")

	rec := e.do(t, http.MethodPost, "/orders", token, map[string]any{
		"service_id": e.serviceID,
		"quantity":   1000,
		"link":       "https://instagram.com/someone",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decode[models.Order](t, rec)
	require.Equal(t, models.OrderFailed, order.Status)

	rec = e.do(t, http.MethodPost, "/orders/"+order.ID.String()+"/refresh", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAddFunds(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.signupCustomer(t, "alice@example.com", "0")

	rec := e.do(t, http.MethodPost, "/funds", token, map[string]any{
		"amount":         "25.00",
		"payment_method": "card",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	txn := decode[models.Transaction](t, rec)
	assert.Equal(t, models.TxDeposit, txn.Type)

	assert.True(t, e.getBalance(t, token).Equal(decimal.RequireFromString("25.00")))

	rec = e.do(t, http.MethodPost, "/funds", token, map[string]any{"amount": "-5.00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminOnly(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.signupCustomer(t, "alice@example.com", "0")

	rec := e.do(t, http.MethodGet, "/admin/stats", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminStats(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.signupCustomer(t, "alice@example.com", "100.00")
	adminToken := e.loginAdmin(t)

	for i := 0; i < 3; i++ {
		rec := e.do(t, http.MethodPost, "/orders", token, map[string]any{
			"service_id": e.serviceID,
			"quantity":   1000,
			"link":       "https://instagram.com/someone",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := e.do(t, http.MethodGet, "/admin/stats", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[struct {
		TotalOrders      int             `json:"total_orders"`
		InProgressOrders int             `json:"in_progress_orders"`
		TotalRevenue     decimal.Decimal `json:"total_revenue"`
	}](t, rec)
	assert.Equal(t, 3, stats.TotalOrders)
	assert.Equal(t, 3, stats.InProgressOrders)
	assert.True(t, stats.TotalRevenue.Equal(decimal.RequireFromString("29.97")))
}

func TestAdminProviders(t *testing.T) {
	e := newTestEnv(t)
	adminToken := e.loginAdmin(t)

	rec := e.do(t, http.MethodPost, "/admin/providers", adminToken, map[string]string{
		"name":    "TurboSMM",
		"api_url": "https://turbo.test/api/v2",
		"api_key": "key",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[models.Provider](t, rec)
	assert.Equal(t, "TurboSMM", created.Name)

	rec = e.do(t, http.MethodGet, "/admin/providers", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Provider](t, rec), 2)

	rec = e.do(t, http.MethodPatch, "/admin/providers/"+created.ID.String(), adminToken, map[string]string{"status": "inactive"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPatch, "/admin/providers/"+created.ID.String(), adminToken, map[string]string{"status": "paused"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminSyncProvider(t *testing.T) {
	e := newTestEnv(t)
	adminToken := e.loginAdmin(t)

	e.gateway.catalog = []provider.CatalogEntry{
		{ServiceID: "202", Name: "YouTube Views", Category: "YouTube", Rate: "1.99", Min: 500, Max: 100000},
	}
	rec := e.do(t, http.MethodPost, "/admin/providers/"+e.providerID.String()+"/sync", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Synced int `json:"synced"`
	}](t, rec)
	assert.Equal(t, 1, resp.Synced)

	e.gateway.catalogErr = provider.ErrUnavailable
	rec = e.do(t, http.MethodPost, "/admin/providers/"+e.providerID.String()+"/sync", adminToken, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAdminUpdateServiceStatus(t *testing.T) {
	e := newTestEnv(t)
	adminToken := e.loginAdmin(t)

	rec := e.do(t, http.MethodPatch, "/admin/services/"+e.serviceID.String(), adminToken, map[string]string{"status": "inactive"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/services", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.Service](t, rec), "inactive services are hidden from the catalog")
}

func TestAdminCreditUser(t *testing.T) {
	e := newTestEnv(t)
	userID, token := e.signupCustomer(t, "alice@example.com", "0")
	adminToken := e.loginAdmin(t)

	rec := e.do(t, http.MethodPost, "/admin/users/"+userID.String()+"/credit", adminToken, map[string]any{
		"amount":  "15.00",
		"details": "Goodwill credit",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	txn := decode[models.Transaction](t, rec)
	assert.Equal(t, models.TxAdminCredit, txn.Type)

	assert.True(t, e.getBalance(t, token).Equal(decimal.RequireFromString("15.00")))

	rec = e.do(t, http.MethodPost, "/admin/users/"+uuid.NewString()+"/credit", adminToken, map[string]any{"amount": "1.00"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
