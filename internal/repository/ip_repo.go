package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

type IPRepository struct {
	pool *pgxpool.Pool
}

func NewIPRepository(pool *pgxpool.Pool) *IPRepository {
	return &IPRepository{pool: pool}
}

const ipColumns = `id, region_id, ip, gateway, netmask, dns, type, status, created_at`

// GetByID retrieves an IP address by ID
func (r *IPRepository) GetByID(ctx context.Context, id string) (*models.IPAddress, error) {
	query := `SELECT ` + ipColumns + ` FROM vps.ip_addresses WHERE id = $1`
	return r.scanIP(r.pool.QueryRow(ctx, query, id))
}

// ClaimAvailable atomically flips one AVAILABLE address in the region to
// USED and returns it. The row lock (SKIP LOCKED) guarantees two concurrent
// provisioning runs never claim the same address.
func (r *IPRepository) ClaimAvailable(ctx context.Context, regionID string) (*models.IPAddress, error) {
	query := `
		UPDATE vps.ip_addresses SET status = $1
		WHERE id = (
			SELECT id FROM vps.ip_addresses
			WHERE region_id = $2 AND status = $3
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + ipColumns

	return r.scanIP(r.pool.QueryRow(ctx, query, models.IPUsed, regionID, models.IPAvailable))
}

// Release puts a claimed address back into the pool after a provisioning
// failure. Conditional on USED so a concurrent re-claim is never clobbered.
func (r *IPRepository) Release(ctx context.Context, id string) error {
	query := `UPDATE vps.ip_addresses SET status = $1 WHERE id = $2 AND status = $3`
	if _, err := r.pool.Exec(ctx, query, models.IPAvailable, id, models.IPUsed); err != nil {
		return fmt.Errorf("release ip: %w", err)
	}
	return nil
}

func (r *IPRepository) scanIP(row pgx.Row) (*models.IPAddress, error) {
	ip := &models.IPAddress{}
	err := row.Scan(&ip.ID, &ip.RegionID, &ip.IP, &ip.Gateway, &ip.Netmask, &ip.DNS,
		&ip.Type, &ip.Status, &ip.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan ip: %w", err)
	}
	return ip, nil
}
