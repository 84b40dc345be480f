package models

import "time"

// ==================== Payment webhook payloads ====================

// InvoiceWebhook is the hosted-invoice event shape delivered by the payment
// gateway. Delivery is at-least-once; handlers must be repeat-safe.
type InvoiceWebhook struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	PaidAt     string `json:"paid_at,omitempty"`
}

// VirtualAccountWebhook is the direct bank-transfer confirmation shape.
type VirtualAccountWebhook struct {
	CallbackVirtualAccountID string `json:"callback_virtual_account_id"`
	ExternalID               string `json:"external_id"`
	Amount                   int64  `json:"amount"`
}

// ==================== Checkout / order ====================

// CreateOrderRequest is produced by the catalog/checkout front end.
type CreateOrderRequest struct {
	ClientID      string  `json:"client_id" binding:"required"`
	ClientEmail   string  `json:"client_email" binding:"required"`
	PricingID     string  `json:"pricing_id" binding:"required"`
	PromoID       *string `json:"promo_id,omitempty"`
	BackupEnabled bool    `json:"backup_enabled"`
	Region        string  `json:"region" binding:"required"`
	TemplateID    *string `json:"template_id,omitempty"`
}

// CheckoutPreview is the computed price breakdown before an order exists.
type CheckoutPreview struct {
	RawPrice       int64 `json:"raw_price"`
	BackupCost     int64 `json:"backup_cost"`
	Discount       int64 `json:"discount"`
	FinalPrice     int64 `json:"final_price"`
	DurationMonths int   `json:"duration_months"`
}

// CreateOrderResponse carries the order plus its hosted invoice reference.
type CreateOrderResponse struct {
	OrderID    string     `json:"order_id"`
	ExternalID string     `json:"external_id"`
	Status     string     `json:"status"`
	FinalPrice int64      `json:"final_price"`
	InvoiceID  *string    `json:"invoice_id,omitempty"`
	InvoiceURL *string    `json:"invoice_url,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// PaymentStatusResponse is the order payment-status query result.
type PaymentStatusResponse struct {
	OrderID    string     `json:"order_id"`
	ExternalID string     `json:"external_id"`
	Status     string     `json:"status"`
	Amount     int64      `json:"amount"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	InvoiceID  *string    `json:"invoice_id,omitempty"`
	InvoiceURL *string    `json:"invoice_url,omitempty"`
	// Live invoice status at the gateway, when a pending invoice could be
	// fetched. The authoritative order status above comes from webhooks.
	GatewayStatus *string   `json:"gateway_status,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ==================== VM control ====================

// ReinstallRequest replaces a VPS's OS image in place.
type ReinstallRequest struct {
	TemplateID string `json:"template_id" binding:"required"`
}

// PowerRequest runs a power action (start, stop, reboot) against a VPS.
type PowerRequest struct {
	Action string `json:"action" binding:"required,oneof=start stop reboot"`
}

// RestoreRequest restores a backup artifact onto a VPS.
type RestoreRequest struct {
	BackupID string `json:"backup_id" binding:"required"`
}

// ==================== Backup storage admin ====================

// CreateStorageRequest registers a backup storage backend.
type CreateStorageRequest struct {
	Name         string  `json:"name" binding:"required"`
	Provider     string  `json:"provider" binding:"required"`
	Endpoint     *string `json:"endpoint,omitempty"`
	Bucket       *string `json:"bucket,omitempty"`
	AccessKey    *string `json:"access_key,omitempty"`
	SecretKey    *string `json:"secret_key,omitempty"`
	Region       *string `json:"region,omitempty"`
	Directory    *string `json:"directory,omitempty"`
	TotalSpaceMB int64   `json:"total_space_mb"`
}

// ==================== Hypervisor visibility ====================

// NodeStat is one hypervisor node's utilization snapshot.
type NodeStat struct {
	Node        string  `json:"node"`
	CPUPercent  float64 `json:"cpu_percent"`
	RAMUsedMB   float64 `json:"ram_used_mb"`
	RAMTotalMB  float64 `json:"ram_total_mb"`
	DiskUsedGB  float64 `json:"disk_used_gb"`
	DiskTotalGB float64 `json:"disk_total_gb"`
}

// NodeTemplate is a clonable template discovered on a hypervisor.
type NodeTemplate struct {
	Node string `json:"node"`
	VMID int    `json:"vmid"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}
