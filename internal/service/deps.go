package service

import (
	"context"
	"errors"
	"time"

	"github.com/wenwu/saas-platform/vps-service/internal/client"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
	"github.com/wenwu/saas-platform/vps-service/internal/repository"
	"github.com/wenwu/saas-platform/vps-service/internal/storage"
)

// Domain failures callers branch on. Everything else is wrapped transport
// or database errors.
var (
	ErrOrderNotProvisionable = errors.New("order is not in a provisionable state")
	ErrNoHypervisorAvailable = errors.New("no online hypervisor in region")
	ErrNoIPAvailable         = errors.New("no available IP address in region")
	ErrNoTemplateAvailable   = errors.New("no template available")
	ErrNoActiveStorage       = errors.New("no active backup storage")
	ErrQuotaExceeded         = errors.New("backup storage quota exceeded")
	ErrDailyLimitReached     = errors.New("daily backup limit reached")
	ErrStopTimeout           = errors.New("vm did not stop in time")
	ErrIncompleteIPConfig    = errors.New("vps ip configuration incomplete")
	ErrAmountMismatch        = errors.New("payment amount does not match order")
	ErrInvalidPowerAction    = errors.New("invalid power action")
	ErrVPSNotOperable        = errors.New("vps cannot be operated in its current state")
	ErrPromoNotApplicable    = errors.New("promo cannot be applied")
)

// Store interfaces are satisfied by the repository types. Services depend on
// these instead of concrete repositories so tests can swap in fakes.

type orderStore interface {
	Create(ctx context.Context, o *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Order, error)
	SetInvoice(ctx context.Context, id, invoiceID, invoiceURL string, expiresAt *time.Time) error
	UpdateStatus(ctx context.Context, id, status string) error
	MarkPaid(ctx context.Context, o *models.Order, paidAt time.Time) error
}

type vpsStore interface {
	Create(ctx context.Context, v *models.VPS) error
	GetByID(ctx context.Context, id string) (*models.VPS, error)
	GetByOrderID(ctx context.Context, orderID string) (*models.VPS, error)
	GetByClientID(ctx context.Context, clientID string) ([]*models.VPS, error)
	UpdateStatus(ctx context.Context, id, status string, deletedAt *time.Time) error
	UpdateTemplate(ctx context.Context, id, templateID string) error
	ListOverdue(ctx context.Context, now time.Time) ([]*repository.OverdueVPS, error)
}

type hypervisorStore interface {
	GetByID(ctx context.Context, id string) (*models.Hypervisor, error)
	FirstOnlineInRegion(ctx context.Context, regionID string) (*models.Hypervisor, error)
	GetMasterByRegion(ctx context.Context, regionID string) (*models.Hypervisor, error)
	ListByRegion(ctx context.Context, regionID string) ([]*models.Hypervisor, error)
}

type templateStore interface {
	GetByID(ctx context.Context, id string) (*models.Template, error)
	GetActiveByID(ctx context.Context, id string) (*models.Template, error)
	FirstForHypervisor(ctx context.Context, hypervisorID string) (*models.Template, error)
	Upsert(ctx context.Context, t *models.Template) error
}

type ipStore interface {
	GetByID(ctx context.Context, id string) (*models.IPAddress, error)
	ClaimAvailable(ctx context.Context, regionID string) (*models.IPAddress, error)
	Release(ctx context.Context, id string) error
}

type regionStore interface {
	GetByName(ctx context.Context, name string) (*models.Region, error)
	GetAll(ctx context.Context) ([]*models.Region, error)
}

type pricingStore interface {
	GetPricing(ctx context.Context, id string) (*models.ProductPricing, error)
	GetPromo(ctx context.Context, id string) (*models.Promo, error)
	CountPromoUsage(ctx context.Context, promoID, clientID string) (int, error)
}

type policyStore interface {
	GetByID(ctx context.Context, id string) (*models.BackupPolicy, error)
	ListScheduled(ctx context.Context) ([]*models.BackupPolicy, error)
}

type historyStore interface {
	Create(ctx context.Context, h *models.BackupHistory) error
	GetByID(ctx context.Context, id string) (*models.BackupHistory, error)
	SumSizeForPolicy(ctx context.Context, policyID string) (int64, error)
	CountSince(ctx context.Context, policyID string, since time.Time) (int, error)
	ListExpired(ctx context.Context, now time.Time) ([]*repository.ExpiredBackup, error)
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id, status string, vpsID *string) error
}

type storageStore interface {
	Create(ctx context.Context, s *models.BackupStorage) error
	GetByID(ctx context.Context, id string) (*models.BackupStorage, error)
	GetAll(ctx context.Context) ([]*models.BackupStorage, error)
	GetDefault(ctx context.Context) (*models.BackupStorage, error)
	FirstActiveByType(ctx context.Context, storageType string) (*models.BackupStorage, error)
	SetDefault(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id, status string, usedSpaceMB int64) error
	Delete(ctx context.Context, id string) error
}

type actionLogger interface {
	LogAction(ctx context.Context, vpsID, action, status, message string) error
}

// hypervisorAPI is the slice of the hypervisor client the services touch.
type hypervisorAPI interface {
	Status(ctx context.Context, hv *models.Hypervisor, node string, vmid int) (string, error)
	NextVMID(ctx context.Context, hv *models.Hypervisor) (int, error)
	Clone(ctx context.Context, hv *models.Hypervisor, spec client.CloneSpec) error
	Start(ctx context.Context, hv *models.Hypervisor, node string, vmid int) error
	Stop(ctx context.Context, hv *models.Hypervisor, node string, vmid int) error
	Reboot(ctx context.Context, hv *models.Hypervisor, node string, vmid int) error
	Delete(ctx context.Context, hv *models.Hypervisor, node string, vmid int) error
	Templates(ctx context.Context, hv *models.Hypervisor) ([]models.NodeTemplate, error)
	NodeStats(ctx context.Context, hv *models.Hypervisor) ([]models.NodeStat, error)
}

// invoicer is the slice of the payment gateway client the order flow uses.
type invoicer interface {
	CreateInvoice(ctx context.Context, req *client.CreateInvoiceRequest) (*client.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*client.Invoice, error)
}

// providerFactory builds a storage Provider for one storage row. Swappable
// in tests so backup flows run against in-memory backends.
type providerFactory func(st *models.BackupStorage) (storage.Provider, error)
