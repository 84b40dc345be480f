package models

import "time"

// Region groups hypervisors and IP pools under one logical location.
type Region struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Hypervisor statuses
const (
	HypervisorOnline  = "ONLINE"
	HypervisorOffline = "OFFLINE"
)

// Hypervisor is one virtualization host cluster entry. Token is stored
// AES-GCM encrypted and decrypted only inside the proxmox client.
type Hypervisor struct {
	ID        string    `json:"id"`
	RegionID  string    `json:"region_id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Username  string    `json:"username"`
	Token     string    `json:"-"`
	Status    string    `json:"status"`
	IsMaster  bool      `json:"is_master"`
	CreatedAt time.Time `json:"created_at"`
}

// Template kinds (provider-native VM class)
const (
	TemplateKindQemu = "qemu"
	TemplateKindLXC  = "lxc"
)

// Template is a clonable VM image living on one hypervisor node.
type Template struct {
	ID           string    `json:"id"`
	HypervisorID string    `json:"hypervisor_id"`
	Node         string    `json:"node"`
	VMID         int       `json:"vmid"`
	Name         string    `json:"name"`
	Kind         string    `json:"kind"`
	GroupTag     *string   `json:"group_tag,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// IPAddress statuses
const (
	IPAvailable = "AVAILABLE"
	IPUsed      = "USED"
	IPReserved  = "RESERVED"
	IPDisabled  = "DISABLED"
)

// IPAddress is an addressable network identity in a region. Status is the
// only concurrency-sensitive resource in the model: allocation flips
// AVAILABLE -> USED with a conditional claim, never a plain read-then-write.
type IPAddress struct {
	ID        string    `json:"id"`
	RegionID  string    `json:"region_id"`
	IP        string    `json:"ip"`
	Gateway   *string   `json:"gateway,omitempty"`
	Netmask   *string   `json:"netmask,omitempty"`
	DNS       *string   `json:"dns,omitempty"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
