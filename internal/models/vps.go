package models

import "time"

// VPS statuses
const (
	VPSRunning    = "RUNNING"
	VPSSuspended  = "SUSPENDED"
	VPSTerminated = "TERMINATED"
)

// VPS is the provisioned machine. Created exactly once per paid order,
// soft-deleted on termination (DeletedAt set), never hard-deleted.
type VPS struct {
	ID             string     `json:"id"`
	ClientID       string     `json:"client_id"`
	OrderID        string     `json:"order_id"`
	RegionID       string     `json:"region_id"`
	HypervisorID   string     `json:"hypervisor_id"`
	TemplateID     string     `json:"template_id"`
	IPAddressID    string     `json:"ip_address_id"`
	VMID           int        `json:"vmid"`
	Hostname       string     `json:"hostname"`
	CPU            int        `json:"cpu"`
	RAMMB          int        `json:"ram_mb"`
	DiskGB         int        `json:"disk_gb"`
	Bandwidth      int        `json:"bandwidth"`
	BackupEnabled  bool       `json:"backup_enabled"`
	BackupPolicyID *string    `json:"backup_policy_id,omitempty"`
	BackupProvider *string    `json:"backup_provider,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}
