package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

var ErrNotFound = errors.New("not found")

type VPSRepository struct {
	pool *pgxpool.Pool
}

func NewVPSRepository(pool *pgxpool.Pool) *VPSRepository {
	return &VPSRepository{pool: pool}
}

const vpsColumns = `
	id, client_id, order_id, region_id, hypervisor_id, template_id,
	ip_address_id, vmid, hostname, cpu, ram_mb, disk_gb, bandwidth,
	backup_enabled, backup_policy_id, backup_provider, status,
	created_at, deleted_at`

// Create persists a freshly provisioned machine.
func (r *VPSRepository) Create(ctx context.Context, v *models.VPS) error {
	query := `
		INSERT INTO vps.vps_instances (
			id, client_id, order_id, region_id, hypervisor_id, template_id,
			ip_address_id, vmid, hostname, cpu, ram_mb, disk_gb, bandwidth,
			backup_enabled, backup_policy_id, backup_provider, status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
	`

	_, err := r.pool.Exec(ctx, query,
		v.ID, v.ClientID, v.OrderID, v.RegionID, v.HypervisorID, v.TemplateID,
		v.IPAddressID, v.VMID, v.Hostname, v.CPU, v.RAMMB, v.DiskGB, v.Bandwidth,
		v.BackupEnabled, v.BackupPolicyID, v.BackupProvider, v.Status,
	)
	if err != nil {
		return fmt.Errorf("insert vps: %w", err)
	}

	return nil
}

// GetByID retrieves a VPS by ID
func (r *VPSRepository) GetByID(ctx context.Context, id string) (*models.VPS, error) {
	query := `SELECT ` + vpsColumns + ` FROM vps.vps_instances WHERE id = $1`
	return r.scanVPS(r.pool.QueryRow(ctx, query, id))
}

// GetByOrderID retrieves the VPS provisioned for an order, if any.
func (r *VPSRepository) GetByOrderID(ctx context.Context, orderID string) (*models.VPS, error) {
	query := `SELECT ` + vpsColumns + ` FROM vps.vps_instances WHERE order_id = $1`
	return r.scanVPS(r.pool.QueryRow(ctx, query, orderID))
}

// GetByClientID retrieves all machines owned by a client (terminated included,
// since soft-deleted rows remain visible to operators).
func (r *VPSRepository) GetByClientID(ctx context.Context, clientID string) ([]*models.VPS, error) {
	query := `
		SELECT ` + vpsColumns + `
		FROM vps.vps_instances
		WHERE client_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("query vps by client: %w", err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// UpdateStatus updates only the status (and deleted_at for terminations).
func (r *VPSRepository) UpdateStatus(ctx context.Context, id, status string, deletedAt *time.Time) error {
	query := `UPDATE vps.vps_instances SET status = $1, deleted_at = $2 WHERE id = $3`
	if _, err := r.pool.Exec(ctx, query, status, deletedAt, id); err != nil {
		return fmt.Errorf("update vps status: %w", err)
	}
	return nil
}

// UpdateTemplate swaps the template after a reinstall and restores RUNNING.
func (r *VPSRepository) UpdateTemplate(ctx context.Context, id, templateID string) error {
	query := `UPDATE vps.vps_instances SET template_id = $1, status = $2 WHERE id = $3`
	if _, err := r.pool.Exec(ctx, query, templateID, models.VPSRunning, id); err != nil {
		return fmt.Errorf("update vps template: %w", err)
	}
	return nil
}

// OverdueVPS pairs a machine with its order's billing deadline.
type OverdueVPS struct {
	VPS             *models.VPS
	NextBillingDate time.Time
}

// ListOverdue returns every non-terminated machine whose order's
// next_billing_date lies before now.
func (r *VPSRepository) ListOverdue(ctx context.Context, now time.Time) ([]*OverdueVPS, error) {
	query := `
		SELECT ` + vpsColumns + `, o.next_billing_date
		FROM vps.vps_instances v
		JOIN vps.orders o ON o.id = v.order_id
		WHERE o.next_billing_date < $1
	`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query overdue vps: %w", err)
	}
	defer rows.Close()

	var result []*OverdueVPS
	for rows.Next() {
		v := &models.VPS{}
		var next time.Time
		err := rows.Scan(
			&v.ID, &v.ClientID, &v.OrderID, &v.RegionID, &v.HypervisorID, &v.TemplateID,
			&v.IPAddressID, &v.VMID, &v.Hostname, &v.CPU, &v.RAMMB, &v.DiskGB, &v.Bandwidth,
			&v.BackupEnabled, &v.BackupPolicyID, &v.BackupProvider, &v.Status,
			&v.CreatedAt, &v.DeletedAt, &next,
		)
		if err != nil {
			return nil, fmt.Errorf("scan overdue vps: %w", err)
		}
		result = append(result, &OverdueVPS{VPS: v, NextBillingDate: next})
	}

	return result, rows.Err()
}

func (r *VPSRepository) scanVPS(row pgx.Row) (*models.VPS, error) {
	v := &models.VPS{}
	err := row.Scan(
		&v.ID, &v.ClientID, &v.OrderID, &v.RegionID, &v.HypervisorID, &v.TemplateID,
		&v.IPAddressID, &v.VMID, &v.Hostname, &v.CPU, &v.RAMMB, &v.DiskGB, &v.Bandwidth,
		&v.BackupEnabled, &v.BackupPolicyID, &v.BackupProvider, &v.Status,
		&v.CreatedAt, &v.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan vps: %w", err)
	}
	return v, nil
}

func (r *VPSRepository) scanAll(rows pgx.Rows) ([]*models.VPS, error) {
	var instances []*models.VPS
	for rows.Next() {
		v := &models.VPS{}
		err := rows.Scan(
			&v.ID, &v.ClientID, &v.OrderID, &v.RegionID, &v.HypervisorID, &v.TemplateID,
			&v.IPAddressID, &v.VMID, &v.Hostname, &v.CPU, &v.RAMMB, &v.DiskGB, &v.Bandwidth,
			&v.BackupEnabled, &v.BackupPolicyID, &v.BackupProvider, &v.Status,
			&v.CreatedAt, &v.DeletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan vps row: %w", err)
		}
		instances = append(instances, v)
	}
	return instances, rows.Err()
}
