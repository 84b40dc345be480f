package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

// PricingRepository reads the catalog's priced plans and promos. The CRUD
// side of these tables belongs to the admin service; this service only
// consumes them at checkout and payment time.
type PricingRepository struct {
	pool *pgxpool.Pool
}

func NewPricingRepository(pool *pgxpool.Pool) *PricingRepository {
	return &PricingRepository{pool: pool}
}

// GetPricing retrieves an active priced plan with its product sizing.
func (r *PricingRepository) GetPricing(ctx context.Context, id string) (*models.ProductPricing, error) {
	query := `
		SELECT id, name, price, backup_price, months, cpu, ram_mb, disk_gb, bandwidth, is_active
		FROM vps.product_pricings
		WHERE id = $1
	`

	p := &models.ProductPricing{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Price, &p.BackupPrice, &p.Months,
		&p.CPU, &p.RAMMB, &p.DiskGB, &p.Bandwidth, &p.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get pricing: %w", err)
	}

	return p, nil
}

// GetPromo retrieves a promo by ID
func (r *PricingRepository) GetPromo(ctx context.Context, id string) (*models.Promo, error) {
	query := `
		SELECT id, code, type, value, max_discount, min_order_amount, user_limit,
		       global_limit, used_count, starts_at, ends_at, is_active
		FROM vps.promos
		WHERE id = $1
	`

	p := &models.Promo{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Code, &p.Type, &p.Value, &p.MaxDiscount, &p.MinOrderAmount,
		&p.UserLimit, &p.GlobalLimit, &p.UsedCount, &p.StartsAt, &p.EndsAt, &p.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get promo: %w", err)
	}

	return p, nil
}

// CountPromoUsage counts how many times a client already redeemed a promo.
func (r *PricingRepository) CountPromoUsage(ctx context.Context, promoID, clientID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM vps.promo_usages WHERE promo_id = $1 AND client_id = $2`,
		promoID, clientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count promo usage: %w", err)
	}
	return count, nil
}
