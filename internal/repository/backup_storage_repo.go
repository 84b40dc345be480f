package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

type BackupStorageRepository struct {
	pool *pgxpool.Pool
}

func NewBackupStorageRepository(pool *pgxpool.Pool) *BackupStorageRepository {
	return &BackupStorageRepository{pool: pool}
}

const storageColumns = `
	id, name, provider, endpoint, bucket, access_key, secret_key, region,
	directory, storage_type, is_default, status, used_space_mb, total_space_mb, created_at`

// Create registers a backend. The first storage ever registered becomes
// PRIMARY and default; the transaction keeps the single-default invariant.
func (r *BackupStorageRepository) Create(ctx context.Context, s *models.BackupStorage) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var primaryCount int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM vps.backup_storages WHERE storage_type = $1`, models.StoragePrimary,
	).Scan(&primaryCount)
	if err != nil {
		return fmt.Errorf("count primary storages: %w", err)
	}

	if primaryCount == 0 {
		s.StorageType = models.StoragePrimary
		s.IsDefault = true
		if _, err := tx.Exec(ctx, `UPDATE vps.backup_storages SET is_default = false WHERE is_default`); err != nil {
			return fmt.Errorf("reset defaults: %w", err)
		}
	} else {
		s.StorageType = models.StorageSecondary
		s.IsDefault = false
	}
	s.Status = models.StorageInactive

	query := `
		INSERT INTO vps.backup_storages (
			id, name, provider, endpoint, bucket, access_key, secret_key, region,
			directory, storage_type, is_default, status, used_space_mb, total_space_mb
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = tx.Exec(ctx, query,
		s.ID, s.Name, s.Provider, s.Endpoint, s.Bucket, s.AccessKey, s.SecretKey, s.Region,
		s.Directory, s.StorageType, s.IsDefault, s.Status, s.UsedSpaceMB, s.TotalSpaceMB,
	)
	if err != nil {
		return fmt.Errorf("insert backup storage: %w", err)
	}

	return tx.Commit(ctx)
}

// GetByID retrieves a storage by ID
func (r *BackupStorageRepository) GetByID(ctx context.Context, id string) (*models.BackupStorage, error) {
	query := `SELECT ` + storageColumns + ` FROM vps.backup_storages WHERE id = $1`
	return r.scanStorage(r.pool.QueryRow(ctx, query, id))
}

// GetAll retrieves all registered storages
func (r *BackupStorageRepository) GetAll(ctx context.Context) ([]*models.BackupStorage, error) {
	query := `SELECT ` + storageColumns + ` FROM vps.backup_storages ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query backup storages: %w", err)
	}
	defer rows.Close()

	var storages []*models.BackupStorage
	for rows.Next() {
		s := &models.BackupStorage{}
		err := rows.Scan(
			&s.ID, &s.Name, &s.Provider, &s.Endpoint, &s.Bucket, &s.AccessKey, &s.SecretKey,
			&s.Region, &s.Directory, &s.StorageType, &s.IsDefault, &s.Status,
			&s.UsedSpaceMB, &s.TotalSpaceMB, &s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan backup storage row: %w", err)
		}
		storages = append(storages, s)
	}

	return storages, rows.Err()
}

// GetDefault retrieves the active default storage.
func (r *BackupStorageRepository) GetDefault(ctx context.Context) (*models.BackupStorage, error) {
	query := `SELECT ` + storageColumns + ` FROM vps.backup_storages WHERE is_default AND status = $1 LIMIT 1`
	return r.scanStorage(r.pool.QueryRow(ctx, query, models.StorageActive))
}

// FirstActiveByType retrieves an ACTIVE storage of the given tier.
func (r *BackupStorageRepository) FirstActiveByType(ctx context.Context, storageType string) (*models.BackupStorage, error) {
	query := `
		SELECT ` + storageColumns + `
		FROM vps.backup_storages
		WHERE storage_type = $1 AND status = $2
		ORDER BY created_at
		LIMIT 1
	`
	return r.scanStorage(r.pool.QueryRow(ctx, query, storageType, models.StorageActive))
}

// SetDefault makes one storage the default, atomically unsetting the rest.
func (r *BackupStorageRepository) SetDefault(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE vps.backup_storages SET is_default = false WHERE is_default`); err != nil {
		return fmt.Errorf("reset defaults: %w", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE vps.backup_storages SET is_default = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("set default: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}

// UpdateStatus records the probe result and space usage.
func (r *BackupStorageRepository) UpdateStatus(ctx context.Context, id, status string, usedSpaceMB int64) error {
	query := `UPDATE vps.backup_storages SET status = $1, used_space_mb = $2 WHERE id = $3`
	if _, err := r.pool.Exec(ctx, query, status, usedSpaceMB, id); err != nil {
		return fmt.Errorf("update storage status: %w", err)
	}
	return nil
}

// Delete removes a storage registration.
func (r *BackupStorageRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM vps.backup_storages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete backup storage: %w", err)
	}
	return nil
}

func (r *BackupStorageRepository) scanStorage(row pgx.Row) (*models.BackupStorage, error) {
	s := &models.BackupStorage{}
	err := row.Scan(
		&s.ID, &s.Name, &s.Provider, &s.Endpoint, &s.Bucket, &s.AccessKey, &s.SecretKey,
		&s.Region, &s.Directory, &s.StorageType, &s.IsDefault, &s.Status,
		&s.UsedSpaceMB, &s.TotalSpaceMB, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan backup storage: %w", err)
	}
	return s, nil
}
