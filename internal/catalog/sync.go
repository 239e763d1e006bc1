// Package catalog syncs the local service catalog from provider APIs.
package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/socialboost/panel/internal/models"
	"github.com/socialboost/panel/internal/provider"
)

// Store is the persistence the sync needs.
type Store interface {
	GetProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error)
	UpsertService(ctx context.Context, s *models.Service) (*models.Service, error)
}

// Fetcher retrieves a provider's advertised services.
type Fetcher interface {
	Services(ctx context.Context, p models.Provider) ([]provider.CatalogEntry, error)
}

// Syncer pulls a provider's catalog and upserts it into the local services
// table, matched by (provider_id, provider_service_id).
type Syncer struct {
	store   Store
	fetcher Fetcher
	log     *zap.Logger
}

// NewSyncer creates a Syncer.
func NewSyncer(store Store, fetcher Fetcher, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{store: store, fetcher: fetcher, log: logger}
}

// SyncProvider refreshes all services of one provider, returning how many
// were written. Entries with unusable rates or bounds are skipped.
func (s *Syncer) SyncProvider(ctx context.Context, providerID uuid.UUID) (int, error) {
	prov, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		return 0, fmt.Errorf("look up provider: %w", err)
	}

	entries, err := s.fetcher.Services(ctx, *prov)
	if err != nil {
		return 0, fmt.Errorf("fetch provider catalog: %w", err)
	}

	synced := 0
	for _, e := range entries {
		rate, err := decimal.NewFromString(e.Rate)
		if err != nil || !rate.IsPositive() || e.Min <= 0 || e.Max < e.Min {
			s.log.Warn("skipping unusable catalog entry",
				zap.String("provider", prov.Name),
				zap.String("provider_service_id", e.ServiceID))
			continue
		}
		if _, err := s.store.UpsertService(ctx, &models.Service{
			Name:              e.Name,
			Description:       e.Description,
			Category:          e.Category,
			Rate:              rate,
			MinQuantity:       e.Min,
			MaxQuantity:       e.Max,
			ProviderID:        providerID,
			ProviderServiceID: e.ServiceID,
		}); err != nil {
			return synced, fmt.Errorf("upsert service %s: %w", e.ServiceID, err)
		}
		synced++
	}
	return synced, nil
}
