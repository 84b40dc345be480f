package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

type RegionRepository struct {
	pool *pgxpool.Pool
}

func NewRegionRepository(pool *pgxpool.Pool) *RegionRepository {
	return &RegionRepository{pool: pool}
}

// GetAll retrieves all regions
func (r *RegionRepository) GetAll(ctx context.Context) ([]*models.Region, error) {
	query := `
		SELECT id, code, name, created_at
		FROM vps.regions
		ORDER BY name
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query regions: %w", err)
	}
	defer rows.Close()

	var regions []*models.Region
	for rows.Next() {
		region := &models.Region{}
		if err := rows.Scan(&region.ID, &region.Code, &region.Name, &region.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		regions = append(regions, region)
	}

	return regions, rows.Err()
}

// GetByName retrieves a region by its display name (orders store the name).
func (r *RegionRepository) GetByName(ctx context.Context, name string) (*models.Region, error) {
	query := `
		SELECT id, code, name, created_at
		FROM vps.regions
		WHERE name = $1
	`

	region := &models.Region{}
	err := r.pool.QueryRow(ctx, query, name).Scan(&region.ID, &region.Code, &region.Name, &region.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get region by name: %w", err)
	}

	return region, nil
}

// GetByCode retrieves a region by code
func (r *RegionRepository) GetByCode(ctx context.Context, code string) (*models.Region, error) {
	query := `
		SELECT id, code, name, created_at
		FROM vps.regions
		WHERE code = $1
	`

	region := &models.Region{}
	err := r.pool.QueryRow(ctx, query, code).Scan(&region.ID, &region.Code, &region.Name, &region.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get region by code: %w", err)
	}

	return region, nil
}
