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

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `
	id, client_id, pricing_id, promo_id, region, template_id, backup_enabled,
	raw_price, discount, final_price, months, next_billing_date, status,
	external_id, invoice_id, invoice_url, invoice_expired, paid_at, created_at`

// Create persists a new order in PENDING_PAYMENT.
func (r *OrderRepository) Create(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO vps.orders (
			id, client_id, pricing_id, promo_id, region, template_id, backup_enabled,
			raw_price, discount, final_price, months, next_billing_date, status, external_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	_, err := r.pool.Exec(ctx, query,
		o.ID, o.ClientID, o.PricingID, o.PromoID, o.Region, o.TemplateID, o.BackupEnabled,
		o.RawPrice, o.Discount, o.FinalPrice, o.Months, o.NextBillingDate, o.Status, o.ExternalID,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

// GetByID retrieves an order by ID
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM vps.orders WHERE id = $1`
	return r.scanOrder(r.pool.QueryRow(ctx, query, id))
}

// GetByExternalID retrieves an order by its payment-gateway correlation id.
func (r *OrderRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM vps.orders WHERE external_id = $1`
	return r.scanOrder(r.pool.QueryRow(ctx, query, externalID))
}

// SetInvoice attaches the hosted invoice reference to the order.
func (r *OrderRepository) SetInvoice(ctx context.Context, id, invoiceID, invoiceURL string, expiresAt *time.Time) error {
	query := `UPDATE vps.orders SET invoice_id = $1, invoice_url = $2, invoice_expired = $3 WHERE id = $4`
	if _, err := r.pool.Exec(ctx, query, invoiceID, invoiceURL, expiresAt, id); err != nil {
		return fmt.Errorf("set invoice: %w", err)
	}
	return nil
}

// UpdateStatus transitions the order status (EXPIRED, CANCELLED).
func (r *OrderRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE vps.orders SET status = $1 WHERE id = $2`
	if _, err := r.pool.Exec(ctx, query, status, id); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

// MarkPaid transitions the order to PAID and, when a promo was applied,
// records the usage and increments the promo counter in the same
// transaction so a crash never splits the financial record.
func (r *OrderRepository) MarkPaid(ctx context.Context, o *models.Order, paidAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE vps.orders SET status = $1, paid_at = $2 WHERE id = $3`,
		models.OrderPaid, paidAt, o.ID,
	)
	if err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}

	if o.PromoID != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO vps.promo_usages (promo_id, client_id, order_id, used_at) VALUES ($1, $2, $3, $4)`,
			*o.PromoID, o.ClientID, o.ID, paidAt,
		)
		if err != nil {
			return fmt.Errorf("insert promo usage: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE vps.promos SET used_count = used_count + 1 WHERE id = $1`,
			*o.PromoID,
		)
		if err != nil {
			return fmt.Errorf("increment promo usage: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *OrderRepository) scanOrder(row pgx.Row) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(
		&o.ID, &o.ClientID, &o.PricingID, &o.PromoID, &o.Region, &o.TemplateID, &o.BackupEnabled,
		&o.RawPrice, &o.Discount, &o.FinalPrice, &o.Months, &o.NextBillingDate, &o.Status,
		&o.ExternalID, &o.InvoiceID, &o.InvoiceURL, &o.InvoiceExpired, &o.PaidAt, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return o, nil
}
