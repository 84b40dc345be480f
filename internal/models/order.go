package models

import "time"

// Order statuses
const (
	OrderPendingPayment = "PENDING_PAYMENT"
	OrderPaid           = "PAID"
	OrderExpired        = "EXPIRED"
	OrderCancelled      = "CANCELLED"
)

// Order is a billing transaction for a hosting plan. It is a financial
// record: rows are never deleted, only status-transitioned.
type Order struct {
	ID              string     `json:"id"`
	ClientID        string     `json:"client_id"`
	PricingID       string     `json:"pricing_id"`
	PromoID         *string    `json:"promo_id,omitempty"`
	Region          string     `json:"region"`
	TemplateID      *string    `json:"template_id,omitempty"`
	BackupEnabled   bool       `json:"backup_enabled"`
	RawPrice        int64      `json:"raw_price"`
	Discount        int64      `json:"discount"`
	FinalPrice      int64      `json:"final_price"`
	Months          int        `json:"months"`
	NextBillingDate time.Time  `json:"next_billing_date"`
	Status          string     `json:"status"`
	ExternalID      string     `json:"external_id"`
	InvoiceID       *string    `json:"invoice_id,omitempty"`
	InvoiceURL      *string    `json:"invoice_url,omitempty"`
	InvoiceExpired  *time.Time `json:"invoice_expired,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ProductPricing is the priced plan an order is created against. The catalog
// CRUD lives in the admin service; this service only reads it.
type ProductPricing struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	BackupPrice int64  `json:"backup_price"`
	Months      int    `json:"months"`
	CPU         int    `json:"cpu"`
	RAMMB       int    `json:"ram_mb"`
	DiskGB      int    `json:"disk_gb"`
	Bandwidth   int    `json:"bandwidth"`
	IsActive    bool   `json:"is_active"`
}

// Promo discount types
const (
	PromoPercent = "PERCENT"
	PromoFixed   = "FIXED"
)

// Promo is a discount code applied at checkout and consumed when the order
// is actually paid.
type Promo struct {
	ID             string    `json:"id"`
	Code           string    `json:"code"`
	Type           string    `json:"type"`
	Value          int64     `json:"value"`
	MaxDiscount    *int64    `json:"max_discount,omitempty"`
	MinOrderAmount *int64    `json:"min_order_amount,omitempty"`
	UserLimit      *int      `json:"user_limit,omitempty"`
	GlobalLimit    *int      `json:"global_limit,omitempty"`
	UsedCount      int       `json:"used_count"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	IsActive       bool      `json:"is_active"`
}
