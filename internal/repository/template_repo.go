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

type TemplateRepository struct {
	pool *pgxpool.Pool
}

func NewTemplateRepository(pool *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

const templateColumns = `id, hypervisor_id, node, vmid, name, kind, group_tag, is_active, created_at`

// GetByID retrieves a template by ID
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM vps.templates WHERE id = $1`
	return r.scanTemplate(r.pool.QueryRow(ctx, query, id))
}

// GetActiveByID retrieves a template only if it is active, for reinstall
// target validation.
func (r *TemplateRepository) GetActiveByID(ctx context.Context, id string) (*models.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM vps.templates WHERE id = $1 AND is_active = true`
	return r.scanTemplate(r.pool.QueryRow(ctx, query, id))
}

// FirstForHypervisor picks any template belonging to the hypervisor.
func (r *TemplateRepository) FirstForHypervisor(ctx context.Context, hypervisorID string) (*models.Template, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM vps.templates
		WHERE hypervisor_id = $1 AND is_active = true
		ORDER BY created_at
		LIMIT 1
	`
	return r.scanTemplate(r.pool.QueryRow(ctx, query, hypervisorID))
}

// ListByHypervisor retrieves all templates owned by a hypervisor.
func (r *TemplateRepository) ListByHypervisor(ctx context.Context, hypervisorID string) ([]*models.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM vps.templates WHERE hypervisor_id = $1 ORDER BY name`

	rows, err := r.pool.Query(ctx, query, hypervisorID)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.Template
	for rows.Next() {
		t := &models.Template{}
		err := rows.Scan(&t.ID, &t.HypervisorID, &t.Node, &t.VMID, &t.Name, &t.Kind,
			&t.GroupTag, &t.IsActive, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan template row: %w", err)
		}
		templates = append(templates, t)
	}

	return templates, rows.Err()
}

// Upsert records a template discovered on a hypervisor, keyed by
// (hypervisor, node, vmid) so repeated syncs converge.
func (r *TemplateRepository) Upsert(ctx context.Context, t *models.Template) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	query := `
		INSERT INTO vps.templates (id, hypervisor_id, node, vmid, name, kind, group_tag, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (hypervisor_id, node, vmid) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			is_active = EXCLUDED.is_active
	`

	_, err := r.pool.Exec(ctx, query, t.ID, t.HypervisorID, t.Node, t.VMID, t.Name, t.Kind, t.GroupTag, t.IsActive)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}

	return nil
}

func (r *TemplateRepository) scanTemplate(row pgx.Row) (*models.Template, error) {
	t := &models.Template{}
	err := row.Scan(&t.ID, &t.HypervisorID, &t.Node, &t.VMID, &t.Name, &t.Kind,
		&t.GroupTag, &t.IsActive, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan template: %w", err)
	}
	return t, nil
}
