// Package memstore is an in-memory store used by tests. It mirrors the
// contracts of internal/db, including its sentinel errors and the
// conditional balance/status updates.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/socialboost/panel/internal/db"
	"github.com/socialboost/panel/internal/models"
)

// Store holds all entities behind one mutex.
type Store struct {
	mu           sync.Mutex
	users        map[uuid.UUID]*models.User
	providers    map[uuid.UUID]*models.Provider
	services     map[uuid.UUID]*models.Service
	orders       map[uuid.UUID]*models.Order
	transactions []models.Transaction

	// Error injection for failure-path tests.
	AppendTransactionErr error
	AdjustBalanceErr     error
	InsertOrderErr       error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:     make(map[uuid.UUID]*models.User),
		providers: make(map[uuid.UUID]*models.Provider),
		services:  make(map[uuid.UUID]*models.Service),
		orders:    make(map[uuid.UUID]*models.Order),
	}
}

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, email, fullName, passwordHash, role string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return nil, db.ErrUserExists
		}
	}
	u := &models.User{
		ID:           uuid.New(),
		Email:        email,
		FullName:     fullName,
		PasswordHash: passwordHash,
		Role:         role,
		Balance:      decimal.Zero,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	s.users[u.ID] = u
	out := *u
	return &out, nil
}

// GetUserByEmail looks a user up by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, db.ErrNotFound
}

// GetUser looks a user up by ID.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	out := *u
	return &out, nil
}

// SeedUser inserts a user with a chosen balance.
func (s *Store) SeedUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := user
	s.users[u.ID] = &u
}

// UserBalance returns a user's balance.
func (s *Store) UserBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return decimal.Zero, db.ErrNotFound
	}
	return u.Balance, nil
}

// AdjustBalance applies delta unless the result would be negative.
func (s *Store) AdjustBalance(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) (bool, error) {
	if s.AdjustBalanceErr != nil {
		return false, s.AdjustBalanceErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, db.ErrNotFound
	}
	next := u.Balance.Add(delta)
	if next.IsNegative() {
		return false, nil
	}
	u.Balance = next
	u.UpdatedAt = time.Now()
	return true, nil
}

// AppendTransaction records a ledger entry.
func (s *Store) AppendTransaction(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	if s.AppendTransactionErr != nil {
		return nil, s.AppendTransactionErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *txn
	out.ID = uuid.New()
	out.CreatedAt = time.Now()
	s.transactions = append(s.transactions, out)
	return &out, nil
}

// ListTransactions returns a user's entries, newest first.
func (s *Store) ListTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var txns []models.Transaction
	for _, t := range s.transactions {
		if t.UserID == userID {
			txns = append(txns, t)
		}
	}
	sort.Slice(txns, func(i, j int) bool { return txns[i].CreatedAt.After(txns[j].CreatedAt) })
	return txns, nil
}

// Transactions returns every recorded entry, in append order.
func (s *Store) Transactions() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Transaction, len(s.transactions))
	copy(out, s.transactions)
	return out
}

// CreateProvider inserts a provider.
func (s *Store) CreateProvider(ctx context.Context, name, apiURL, apiKey string) (*models.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &models.Provider{
		ID:        uuid.New(),
		Name:      name,
		APIURL:    apiURL,
		APIKey:    apiKey,
		Status:    "active",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.providers[p.ID] = p
	out := *p
	return &out, nil
}

// GetProvider looks a provider up by ID.
func (s *Store) GetProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	out := *p
	return &out, nil
}

// ListProviders returns all providers sorted by name.
func (s *Store) ListProviders(ctx context.Context) ([]models.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var providers []models.Provider
	for _, p := range s.providers {
		providers = append(providers, *p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].Name < providers[j].Name })
	return providers, nil
}

// UpdateProviderStatus flips a provider's status.
func (s *Store) UpdateProviderStatus(ctx context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[id]
	if !ok {
		return db.ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	return nil
}

// SeedService inserts a service as-is.
func (s *Store) SeedService(svc models.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := svc
	s.services[v.ID] = &v
}

// SetServiceRate changes a service's rate in place.
func (s *Store) SetServiceRate(id uuid.UUID, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if svc, ok := s.services[id]; ok {
		svc.Rate = rate
	}
}

// GetService looks a service up by ID.
func (s *Store) GetService(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	out := *svc
	return &out, nil
}

// ListServices filters services by status and optional category.
func (s *Store) ListServices(ctx context.Context, status, category string) ([]models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var services []models.Service
	for _, svc := range s.services {
		if svc.Status != status {
			continue
		}
		if category != "" && svc.Category != category {
			continue
		}
		services = append(services, *svc)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

// UpsertService inserts or refreshes a service matched by provider keys.
func (s *Store) UpsertService(ctx context.Context, svc *models.Service) (*models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.services {
		if existing.ProviderID == svc.ProviderID && existing.ProviderServiceID == svc.ProviderServiceID {
			existing.Name = svc.Name
			existing.Description = svc.Description
			existing.Category = svc.Category
			existing.Rate = svc.Rate
			existing.MinQuantity = svc.MinQuantity
			existing.MaxQuantity = svc.MaxQuantity
			existing.UpdatedAt = time.Now()
			out := *existing
			return &out, nil
		}
	}
	v := *svc
	v.ID = uuid.New()
	v.Status = "active"
	v.CreatedAt = time.Now()
	v.UpdatedAt = time.Now()
	s.services[v.ID] = &v
	out := v
	return &out, nil
}

// ListCategories returns the distinct categories of active services, sorted.
func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var categories []string
	for _, svc := range s.services {
		if svc.Status != "active" || seen[svc.Category] {
			continue
		}
		seen[svc.Category] = true
		categories = append(categories, svc.Category)
	}
	sort.Strings(categories)
	return categories, nil
}

// UpdateServiceStatus flips a service's status.
func (s *Store) UpdateServiceStatus(ctx context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok {
		return db.ErrNotFound
	}
	svc.Status = status
	svc.UpdatedAt = time.Now()
	return nil
}

// InsertOrder persists a pending order.
func (s *Store) InsertOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if s.InsertOrderErr != nil {
		return nil, s.InsertOrderErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o := *order
	o.Status = models.OrderPending
	o.CreatedAt = time.Now()
	o.UpdatedAt = time.Now()
	s.orders[o.ID] = &o
	out := o
	return &out, nil
}

// GetOrder looks an order up by ID.
func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	out := *o
	return &out, nil
}

// ListUserOrders returns a user's orders, newest first.
func (s *Store) ListUserOrders(ctx context.Context, userID uuid.UUID, status string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var orders []models.Order
	for _, o := range s.orders {
		if o.UserID != userID {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

// ListOrdersByStatus returns all orders in the given status, oldest first.
func (s *Store) ListOrdersByStatus(ctx context.Context, status string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var orders []models.Order
	for _, o := range s.orders {
		if o.Status == status {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

// MarkOrderDispatched moves a pending order to in_progress.
func (s *Store) MarkOrderDispatched(ctx context.Context, id uuid.UUID, providerOrderID string) (*models.Order, error) {
	return s.updatePending(id, func(o *models.Order) {
		o.Status = models.OrderInProgress
		o.ProviderOrderID = &providerOrderID
	})
}

// MarkOrderFailed moves a pending order to failed.
func (s *Store) MarkOrderFailed(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.updatePending(id, func(o *models.Order) {
		o.Status = models.OrderFailed
	})
}

// CancelOrder moves a pending order to canceled.
func (s *Store) CancelOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.updatePending(id, func(o *models.Order) {
		o.Status = models.OrderCanceled
	})
}

func (s *Store) updatePending(id uuid.UUID, apply func(*models.Order)) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	if o.Status != models.OrderPending {
		return nil, db.ErrStateConflict
	}
	apply(o)
	o.UpdatedAt = time.Now()
	out := *o
	return &out, nil
}

// SeedOrderStatus forces an order into the given status, bypassing the
// pending-only guards.
func (s *Store) SeedOrderStatus(id uuid.UUID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		o.Status = status
	}
}

// ApplyOrderProgress refreshes telemetry and, while non-terminal, status.
func (s *Store) ApplyOrderProgress(ctx context.Context, id uuid.UUID, status string, startCount, currentCount, remains *int) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	if !models.TerminalStatus(o.Status) {
		o.Status = status
	}
	if startCount != nil {
		o.StartCount = startCount
	}
	if currentCount != nil {
		o.CurrentCount = currentCount
	}
	if remains != nil {
		o.Remains = remains
	}
	o.UpdatedAt = time.Now()
	out := *o
	return &out, nil
}

// CountOrdersByStatus returns order counts per status.
func (s *Store) CountOrdersByStatus(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, o := range s.orders {
		counts[o.Status]++
	}
	return counts, nil
}

// TotalRevenue sums completed and in-progress order prices.
func (s *Store) TotalRevenue(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, o := range s.orders {
		if o.Status == models.OrderCompleted || o.Status == models.OrderInProgress {
			total = total.Add(o.Price)
		}
	}
	return total, nil
}
