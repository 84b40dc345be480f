package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

type BackupPolicyRepository struct {
	pool *pgxpool.Pool
}

func NewBackupPolicyRepository(pool *pgxpool.Pool) *BackupPolicyRepository {
	return &BackupPolicyRepository{pool: pool}
}

const policyColumns = `id, name, cron, retention_days, max_storage_gb, max_daily_backup, is_system, created_at`

// GetByID retrieves a backup policy by ID
func (r *BackupPolicyRepository) GetByID(ctx context.Context, id string) (*models.BackupPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM vps.backup_policies WHERE id = $1`

	p := &models.BackupPolicy{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Cron, &p.RetentionDays, &p.MaxStorageGB, &p.MaxDailyBackup, &p.IsSystem, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get backup policy: %w", err)
	}

	return p, nil
}

// ListScheduled retrieves policies carrying a cron expression.
func (r *BackupPolicyRepository) ListScheduled(ctx context.Context) ([]*models.BackupPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM vps.backup_policies WHERE cron IS NOT NULL`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query scheduled policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.BackupPolicy
	for rows.Next() {
		p := &models.BackupPolicy{}
		err := rows.Scan(&p.ID, &p.Name, &p.Cron, &p.RetentionDays, &p.MaxStorageGB,
			&p.MaxDailyBackup, &p.IsSystem, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan backup policy: %w", err)
		}
		policies = append(policies, p)
	}

	return policies, rows.Err()
}

type BackupHistoryRepository struct {
	pool *pgxpool.Pool
}

func NewBackupHistoryRepository(pool *pgxpool.Pool) *BackupHistoryRepository {
	return &BackupHistoryRepository{pool: pool}
}

const historyColumns = `id, policy_id, storage_id, vps_id, path, size_bytes, status, created_at`

// Create records a completed or uploaded artifact.
func (r *BackupHistoryRepository) Create(ctx context.Context, h *models.BackupHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}

	query := `
		INSERT INTO vps.backup_histories (id, policy_id, storage_id, vps_id, path, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query, h.ID, h.PolicyID, h.StorageID, h.VPSID, h.Path, h.SizeBytes, h.Status)
	if err != nil {
		return fmt.Errorf("insert backup history: %w", err)
	}

	return nil
}

// GetByID retrieves a backup history row by ID
func (r *BackupHistoryRepository) GetByID(ctx context.Context, id string) (*models.BackupHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM vps.backup_histories WHERE id = $1`

	h := &models.BackupHistory{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&h.ID, &h.PolicyID, &h.StorageID, &h.VPSID, &h.Path, &h.SizeBytes, &h.Status, &h.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get backup history: %w", err)
	}

	return h, nil
}

// SumSizeForPolicy totals the stored bytes of every artifact for a policy.
func (r *BackupHistoryRepository) SumSizeForPolicy(ctx context.Context, policyID string) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM vps.backup_histories WHERE policy_id = $1`,
		policyID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum backup sizes: %w", err)
	}
	return total, nil
}

// CountSince counts artifacts created for a policy on or after a cutoff.
func (r *BackupHistoryRepository) CountSince(ctx context.Context, policyID string, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM vps.backup_histories WHERE policy_id = $1 AND created_at >= $2`,
		policyID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent backups: %w", err)
	}
	return count, nil
}

// ExpiredBackup bundles a history row with the retention and storage data
// the cleanup sweep needs.
type ExpiredBackup struct {
	History *models.BackupHistory
	Storage *models.BackupStorage
}

// ListExpired returns artifacts older than their policy's retention window.
// Rows without a policy (manual uploads) never expire.
func (r *BackupHistoryRepository) ListExpired(ctx context.Context, now time.Time) ([]*ExpiredBackup, error) {
	query := `
		SELECT h.id, h.policy_id, h.storage_id, h.vps_id, h.path, h.size_bytes, h.status, h.created_at,
		       s.id, s.name, s.provider, s.endpoint, s.bucket, s.access_key, s.secret_key,
		       s.region, s.directory, s.storage_type, s.is_default, s.status, s.used_space_mb,
		       s.total_space_mb, s.created_at
		FROM vps.backup_histories h
		JOIN vps.backup_policies p ON p.id = h.policy_id
		JOIN vps.backup_storages s ON s.id = h.storage_id
		WHERE h.created_at + (p.retention_days || ' days')::interval <= $1
	`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query expired backups: %w", err)
	}
	defer rows.Close()

	var expired []*ExpiredBackup
	for rows.Next() {
		h := &models.BackupHistory{}
		s := &models.BackupStorage{}
		err := rows.Scan(
			&h.ID, &h.PolicyID, &h.StorageID, &h.VPSID, &h.Path, &h.SizeBytes, &h.Status, &h.CreatedAt,
			&s.ID, &s.Name, &s.Provider, &s.Endpoint, &s.Bucket, &s.AccessKey, &s.SecretKey,
			&s.Region, &s.Directory, &s.StorageType, &s.IsDefault, &s.Status, &s.UsedSpaceMB,
			&s.TotalSpaceMB, &s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan expired backup: %w", err)
		}
		expired = append(expired, &ExpiredBackup{History: h, Storage: s})
	}

	return expired, rows.Err()
}

// Delete removes the metadata row.
func (r *BackupHistoryRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM vps.backup_histories WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete backup history: %w", err)
	}
	return nil
}

// UpdateStatus marks an artifact (e.g. RESTORED) and optionally ties it to
// the machine it was restored onto.
func (r *BackupHistoryRepository) UpdateStatus(ctx context.Context, id, status string, vpsID *string) error {
	query := `UPDATE vps.backup_histories SET status = $1, vps_id = COALESCE($2, vps_id) WHERE id = $3`
	if _, err := r.pool.Exec(ctx, query, status, vpsID, id); err != nil {
		return fmt.Errorf("update backup status: %w", err)
	}
	return nil
}
