package http

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wenwu/saas-platform/vps-service/internal/models"
	"github.com/wenwu/saas-platform/vps-service/internal/repository"
	"github.com/wenwu/saas-platform/vps-service/internal/service"
)

type Handler struct {
	orderService     *service.OrderService
	provisionService *service.ProvisionService
	reinstallService *service.ReinstallService
	restoreService   *service.RestoreService
	backupService    *service.BackupService
	storageService   *service.StorageService
	templateService  *service.TemplateService
	regionRepo       *repository.RegionRepository
	logRepo          *repository.LogRepository
	uploadDir        string
}

func NewHandler(
	orderService *service.OrderService,
	provisionService *service.ProvisionService,
	reinstallService *service.ReinstallService,
	restoreService *service.RestoreService,
	backupService *service.BackupService,
	storageService *service.StorageService,
	templateService *service.TemplateService,
	regionRepo *repository.RegionRepository,
	logRepo *repository.LogRepository,
	uploadDir string,
) *Handler {
	return &Handler{
		orderService:     orderService,
		provisionService: provisionService,
		reinstallService: reinstallService,
		restoreService:   restoreService,
		backupService:    backupService,
		storageService:   storageService,
		templateService:  templateService,
		regionRepo:       regionRepo,
		logRepo:          logRepo,
		uploadDir:        uploadDir,
	}
}

// statusFor maps domain failures onto HTTP statuses. Unknown errors are
// internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAmountMismatch),
		errors.Is(err, service.ErrPromoNotApplicable),
		errors.Is(err, service.ErrOrderNotProvisionable),
		errors.Is(err, service.ErrArchiveEntry),
		errors.Is(err, service.ErrArchiveTraversal),
		errors.Is(err, service.ErrArchiveMalformed),
		errors.Is(err, service.ErrArchiveExtension),
		errors.Is(err, service.ErrInvalidPowerAction):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrArchiveTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrQuotaExceeded),
		errors.Is(err, service.ErrDailyLimitReached):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrNoHypervisorAvailable),
		errors.Is(err, service.ErrNoIPAvailable),
		errors.Is(err, service.ErrNoTemplateAvailable),
		errors.Is(err, service.ErrNoActiveStorage),
		errors.Is(err, service.ErrVPSNotOperable),
		errors.Is(err, service.ErrIncompleteIPConfig):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// ==================== Checkout / order handlers ====================

// PreviewCheckout computes the price breakdown without creating an order
func (h *Handler) PreviewCheckout(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	preview, err := h.orderService.Preview(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// CreateOrder creates an order and its hosted invoice
func (h *Handler) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The authenticated client owns the order regardless of the body.
	if clientID := c.GetString("clientID"); clientID != "" {
		req.ClientID = clientID
	}

	resp, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetPaymentStatus reports the payment state of an order
func (h *Handler) GetPaymentStatus(c *gin.Context) {
	resp, err := h.orderService.PaymentStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ==================== VPS handlers ====================

// GetMyVPS lists the authenticated client's instances
func (h *Handler) GetMyVPS(c *gin.Context) {
	clientID := c.GetString("clientID")
	if clientID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing client identity"})
		return
	}

	instances, err := h.provisionService.ListByClient(c.Request.Context(), clientID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instances": instances})
}

// GetVPS returns one instance, owner-checked
func (h *Handler) GetVPS(c *gin.Context) {
	vps, err := h.ownedVPS(c)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, vps)
}

// ReinstallVPS rebuilds an instance from a template
func (h *Handler) ReinstallVPS(c *gin.Context) {
	vps, err := h.ownedVPS(c)
	if err != nil {
		return
	}

	var req models.ReinstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.reinstallService.Reinstall(c.Request.Context(), vps.ID, req.TemplateID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reinstalled"})
}

// PowerVPS starts, stops or reboots an instance
func (h *Handler) PowerVPS(c *gin.Context) {
	vps, err := h.ownedVPS(c)
	if err != nil {
		return
	}

	var req models.PowerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.provisionService.Power(c.Request.Context(), vps.ID, req.Action); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Action})
}

// RestoreVPS restores a backup archive onto an instance
func (h *Handler) RestoreVPS(c *gin.Context) {
	vps, err := h.ownedVPS(c)
	if err != nil {
		return
	}

	var req models.RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.restoreService.Restore(c.Request.Context(), vps.ID, req.BackupID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "restored"})
}

// GetVPSLogs returns recent action logs for an instance
func (h *Handler) GetVPSLogs(c *gin.Context) {
	vps, err := h.ownedVPS(c)
	if err != nil {
		return
	}

	logs, err := h.logRepo.GetByVPSID(c.Request.Context(), vps.ID, 50)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// ownedVPS loads the instance and enforces that the caller owns it. On
// failure the response is already written and a non-nil error returned.
func (h *Handler) ownedVPS(c *gin.Context) (*models.VPS, error) {
	vps, err := h.provisionService.GetVPS(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return nil, err
	}

	clientID := c.GetString("clientID")
	if clientID != "" && vps.ClientID != clientID {
		err := errors.New("instance not found")
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, err
	}
	return vps, nil
}

// ==================== Backup handlers ====================

// RunBackup triggers one backup under a policy
func (h *Handler) RunBackup(c *gin.Context) {
	var req struct {
		PolicyID string `json:"policy_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	history, err := h.backupService.RunPolicy(c.Request.Context(), req.PolicyID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// UploadBackup accepts a client-supplied backup archive
func (h *Handler) UploadBackup(c *gin.Context) {
	policyID := c.PostForm("policy_id")
	if policyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "policy_id required"})
		return
	}

	file, err := c.FormFile("archive")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "archive file required"})
		return
	}
	if file.Size > service.MaxArchiveBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "archive exceeds size limit"})
		return
	}

	tmp := uploadTempPath(h.uploadDir, file.Filename)
	if err := c.SaveUploadedFile(file, tmp); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer os.Remove(tmp)

	history, err := h.backupService.AcceptUpload(c.Request.Context(), policyID, tmp)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// uploadTempPath builds a collision-free scratch path for a client upload.
// Each request gets its own name so concurrent uploads with equal filenames
// cannot clobber each other; the original filename is kept as a suffix so
// the archive extension check still sees it.
func uploadTempPath(dir, filename string) string {
	return filepath.Join(dir, fmt.Sprintf("upload-%s-%s", uuid.New().String(), filepath.Base(filename)))
}

// ==================== Storage admin handlers ====================

// CreateStorage registers a backup storage backend
func (h *Handler) CreateStorage(c *gin.Context) {
	var req models.CreateStorageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := h.storageService.Register(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ListStorages lists every backend
func (h *Handler) ListStorages(c *gin.Context) {
	storages, err := h.storageService.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"storages": storages})
}

// ProbeStorage re-checks one backend
func (h *Handler) ProbeStorage(c *gin.Context) {
	if err := h.storageService.Probe(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

// SetDefaultStorage makes one backend the default upload target
func (h *Handler) SetDefaultStorage(c *gin.Context) {
	if err := h.storageService.SetDefault(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "default set"})
}

// DeleteStorage removes a backend registration
func (h *Handler) DeleteStorage(c *gin.Context) {
	if err := h.storageService.Remove(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ==================== Infra admin handlers ====================

// SyncTemplates rescans every region's master hypervisor
func (h *Handler) SyncTemplates(c *gin.Context) {
	if err := h.templateService.SyncAll(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "synced"})
}

// GetHypervisorStats reports node utilization for one hypervisor
func (h *Handler) GetHypervisorStats(c *gin.Context) {
	stats, err := h.templateService.HypervisorStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": stats})
}

// ProvisionOrder retries provisioning for a paid order (operator path)
func (h *Handler) ProvisionOrder(c *gin.Context) {
	var req struct {
		OrderID string `json:"order_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	vps, err := h.provisionService.Provision(c.Request.Context(), req.OrderID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, vps)
}

// GetRegions lists the available regions
func (h *Handler) GetRegions(c *gin.Context) {
	regions, err := h.regionRepo.GetAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"regions": regions})
}
