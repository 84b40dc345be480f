package models

import "time"

// BackupPolicy is a named backup configuration. A nil Cron means the policy
// runs on demand only.
type BackupPolicy struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Cron           *string   `json:"cron,omitempty"`
	RetentionDays  int       `json:"retention_days"`
	MaxStorageGB   int       `json:"max_storage_gb"`
	MaxDailyBackup int       `json:"max_daily_backup"`
	IsSystem       bool      `json:"is_system"`
	CreatedAt      time.Time `json:"created_at"`
}

// Backup storage providers
const (
	ProviderNFS   = "NFS"
	ProviderS3    = "S3"
	ProviderAzure = "AZURE"
)

// Backup storage types and statuses
const (
	StoragePrimary   = "PRIMARY"
	StorageSecondary = "SECONDARY"

	StorageActive   = "ACTIVE"
	StorageInactive = "INACTIVE"
	StorageError    = "ERROR"
)

// BackupStorage is a storage backend registration. At most one storage is
// the default at any time; the first one registered becomes PRIMARY/default.
type BackupStorage struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Provider     string    `json:"provider"`
	Endpoint     *string   `json:"endpoint,omitempty"`
	Bucket       *string   `json:"bucket,omitempty"`
	AccessKey    *string   `json:"-"`
	SecretKey    *string   `json:"-"`
	Region       *string   `json:"region,omitempty"`
	Directory    *string   `json:"directory,omitempty"`
	StorageType  string    `json:"storage_type"`
	IsDefault    bool      `json:"is_default"`
	Status       string    `json:"status"`
	UsedSpaceMB  int64     `json:"used_space_mb"`
	TotalSpaceMB int64     `json:"total_space_mb"`
	CreatedAt    time.Time `json:"created_at"`
}

// BackupHistory statuses
const (
	BackupSuccess  = "SUCCESS"
	BackupUploaded = "UPLOADED"
	BackupRestored = "RESTORED"
)

// BackupHistory is one completed or uploaded backup artifact. PolicyID is
// nil for manual uploads not tied to a policy.
type BackupHistory struct {
	ID        string    `json:"id"`
	PolicyID  *string   `json:"policy_id,omitempty"`
	StorageID string    `json:"storage_id"`
	VPSID     *string   `json:"vps_id,omitempty"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
