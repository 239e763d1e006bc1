package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/socialboost/panel/internal/models"
)

const providerCols = "id, name, api_url, api_key, status, created_at, updated_at"

// CreateProvider inserts a new upstream provider configuration.
func (db *DB) CreateProvider(ctx context.Context, name, apiURL, apiKey string) (*models.Provider, error) {
	p := &models.Provider{}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO providers (name, api_url, api_key, status)
		 VALUES ($1, $2, $3, 'active')
		 RETURNING `+providerCols,
		name, apiURL, apiKey).Scan(
		&p.ID, &p.Name, &p.APIURL, &p.APIKey, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	return p, nil
}

// GetProvider retrieves a provider by ID
func (db *DB) GetProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	p := &models.Provider{}
	err := db.Pool.QueryRow(ctx,
		"SELECT "+providerCols+" FROM providers WHERE id = $1", id).Scan(
		&p.ID, &p.Name, &p.APIURL, &p.APIKey, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return p, nil
}

// ListProviders retrieves all providers ordered by name.
func (db *DB) ListProviders(ctx context.Context) ([]models.Provider, error) {
	rows, err := db.Pool.Query(ctx, "SELECT "+providerCols+" FROM providers ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var providers []models.Provider
	for rows.Next() {
		var p models.Provider
		if err := rows.Scan(&p.ID, &p.Name, &p.APIURL, &p.APIKey, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// UpdateProviderStatus flips a provider between active and inactive.
func (db *DB) UpdateProviderStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE providers SET status = $1, updated_at = now() WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const serviceCols = `id, name, description, category, rate::text, min_quantity, max_quantity,
	provider_id, provider_service_id, status, created_at, updated_at`

func scanService(row pgx.Row) (*models.Service, error) {
	s := &models.Service{}
	var rate string
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.Category, &rate, &s.MinQuantity, &s.MaxQuantity,
		&s.ProviderID, &s.ProviderServiceID, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if s.Rate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("failed to parse rate: %w", err)
	}
	return s, nil
}

// GetService retrieves a service by ID
func (db *DB) GetService(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	s, err := scanService(db.Pool.QueryRow(ctx,
		"SELECT "+serviceCols+" FROM services WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return s, nil
}

// ListServices retrieves services by status, optionally filtered by category.
func (db *DB) ListServices(ctx context.Context, status, category string) ([]models.Service, error) {
	query := "SELECT " + serviceCols + " FROM services WHERE status = $1"
	args := []any{status}
	if category != "" {
		query += " AND category = $2"
		args = append(args, category)
	}
	query += " ORDER BY name"

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, *s)
	}
	return services, rows.Err()
}

// UpsertService inserts a service or refreshes an existing one matched by
// (provider_id, provider_service_id). Used by the provider catalog sync.
func (db *DB) UpsertService(ctx context.Context, s *models.Service) (*models.Service, error) {
	out, err := scanService(db.Pool.QueryRow(ctx,
		`INSERT INTO services (name, description, category, rate, min_quantity, max_quantity,
			provider_id, provider_service_id, status)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, 'active')
		 ON CONFLICT (provider_id, provider_service_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			rate = EXCLUDED.rate,
			min_quantity = EXCLUDED.min_quantity,
			max_quantity = EXCLUDED.max_quantity,
			updated_at = now()
		 RETURNING `+serviceCols,
		s.Name, s.Description, s.Category, s.Rate.String(), s.MinQuantity, s.MaxQuantity,
		s.ProviderID, s.ProviderServiceID))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert service: %w", err)
	}
	return out, nil
}

// UpdateServiceStatus flips a service between active and inactive.
func (db *DB) UpdateServiceStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE services SET status = $1, updated_at = now() WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("failed to update service: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCategories returns the distinct categories of active services.
func (db *DB) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT DISTINCT category FROM services WHERE status = 'active' ORDER BY category")
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}
