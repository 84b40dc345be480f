package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

type HypervisorRepository struct {
	pool *pgxpool.Pool
}

func NewHypervisorRepository(pool *pgxpool.Pool) *HypervisorRepository {
	return &HypervisorRepository{pool: pool}
}

const hypervisorColumns = `id, region_id, name, host, username, token, status, is_master, created_at`

// GetByID retrieves a hypervisor by ID
func (r *HypervisorRepository) GetByID(ctx context.Context, id string) (*models.Hypervisor, error) {
	query := `SELECT ` + hypervisorColumns + ` FROM vps.hypervisors WHERE id = $1`
	return r.scanHypervisor(r.pool.QueryRow(ctx, query, id))
}

// FirstOnlineInRegion picks the first ONLINE hypervisor in a region. No
// load-balancing policy: first match wins.
func (r *HypervisorRepository) FirstOnlineInRegion(ctx context.Context, regionID string) (*models.Hypervisor, error) {
	query := `
		SELECT ` + hypervisorColumns + `
		FROM vps.hypervisors
		WHERE region_id = $1 AND status = $2
		ORDER BY created_at
		LIMIT 1
	`
	return r.scanHypervisor(r.pool.QueryRow(ctx, query, regionID, models.HypervisorOnline))
}

// ListByRegion retrieves all hypervisors in a region (any status), used for
// operator-visible logging when none is ONLINE.
func (r *HypervisorRepository) ListByRegion(ctx context.Context, regionID string) ([]*models.Hypervisor, error) {
	query := `SELECT ` + hypervisorColumns + ` FROM vps.hypervisors WHERE region_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, regionID)
	if err != nil {
		return nil, fmt.Errorf("query hypervisors: %w", err)
	}
	defer rows.Close()

	var hypervisors []*models.Hypervisor
	for rows.Next() {
		h := &models.Hypervisor{}
		err := rows.Scan(&h.ID, &h.RegionID, &h.Name, &h.Host, &h.Username, &h.Token,
			&h.Status, &h.IsMaster, &h.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan hypervisor row: %w", err)
		}
		hypervisors = append(hypervisors, h)
	}

	return hypervisors, rows.Err()
}

// GetMasterByRegion retrieves the region's authoritative template source.
func (r *HypervisorRepository) GetMasterByRegion(ctx context.Context, regionID string) (*models.Hypervisor, error) {
	query := `SELECT ` + hypervisorColumns + ` FROM vps.hypervisors WHERE region_id = $1 AND is_master = true LIMIT 1`
	return r.scanHypervisor(r.pool.QueryRow(ctx, query, regionID))
}

// SetMaster makes one hypervisor the region's master. Runs in a transaction
// so the single-master invariant holds even under concurrent calls.
func (r *HypervisorRepository) SetMaster(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var regionID string
	err = tx.QueryRow(ctx, `SELECT region_id FROM vps.hypervisors WHERE id = $1`, id).Scan(&regionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("get hypervisor region: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE vps.hypervisors SET is_master = false WHERE region_id = $1`, regionID); err != nil {
		return fmt.Errorf("reset masters: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE vps.hypervisors SET is_master = true WHERE id = $1`, id); err != nil {
		return fmt.Errorf("set master: %w", err)
	}

	return tx.Commit(ctx)
}

// UpdateStatus flips the reachability status (ONLINE/OFFLINE).
func (r *HypervisorRepository) UpdateStatus(ctx context.Context, id, status string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE vps.hypervisors SET status = $1 WHERE id = $2`, status, id); err != nil {
		return fmt.Errorf("update hypervisor status: %w", err)
	}
	return nil
}

func (r *HypervisorRepository) scanHypervisor(row pgx.Row) (*models.Hypervisor, error) {
	h := &models.Hypervisor{}
	err := row.Scan(&h.ID, &h.RegionID, &h.Name, &h.Host, &h.Username, &h.Token,
		&h.Status, &h.IsMaster, &h.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan hypervisor: %w", err)
	}
	return h, nil
}
