package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/wenwu/saas-platform/vps-service/internal/client"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
	"github.com/wenwu/saas-platform/vps-service/internal/repository"
)

// ProvisionService turns a paid order into a running VPS
type ProvisionService struct {
	orderRepo      orderStore
	vpsRepo        vpsStore
	regionRepo     regionStore
	hypervisorRepo hypervisorStore
	templateRepo   templateStore
	ipRepo         ipStore
	pricingRepo    pricingStore
	storageRepo    storageStore
	logRepo        actionLogger
	proxmox        hypervisorAPI
}

// NewProvisionService creates a new provision service
func NewProvisionService(
	orderRepo orderStore,
	vpsRepo vpsStore,
	regionRepo regionStore,
	hypervisorRepo hypervisorStore,
	templateRepo templateStore,
	ipRepo ipStore,
	pricingRepo pricingStore,
	storageRepo storageStore,
	logRepo actionLogger,
	proxmox hypervisorAPI,
) *ProvisionService {
	return &ProvisionService{
		orderRepo:      orderRepo,
		vpsRepo:        vpsRepo,
		regionRepo:     regionRepo,
		hypervisorRepo: hypervisorRepo,
		templateRepo:   templateRepo,
		ipRepo:         ipRepo,
		pricingRepo:    pricingRepo,
		storageRepo:    storageRepo,
		logRepo:        logRepo,
		proxmox:        proxmox,
	}
}

// Provision builds the VPS for a paid order: pick a hypervisor and template
// in the order's region, claim an IP, then clone and boot the VM. The order
// must be PAID and must not already own a VPS.
func (s *ProvisionService) Provision(ctx context.Context, orderID string) (*models.VPS, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order.Status != models.OrderPaid {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotProvisionable, orderID, order.Status)
	}

	if existing, err := s.vpsRepo.GetByOrderID(ctx, orderID); err == nil && existing != nil {
		log.Printf("[Provision] Order %s already provisioned as VPS %s, skipping", orderID, existing.ID)
		return existing, nil
	}

	pricing, err := s.pricingRepo.GetPricing(ctx, order.PricingID)
	if err != nil {
		return nil, fmt.Errorf("load pricing: %w", err)
	}

	region, err := s.regionRepo.GetByName(ctx, order.Region)
	if err != nil {
		return nil, fmt.Errorf("load region %s: %w", order.Region, err)
	}

	hv, err := s.hypervisorRepo.FirstOnlineInRegion(ctx, region.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logCandidates(ctx, region)
			return nil, fmt.Errorf("%w: %s", ErrNoHypervisorAvailable, region.Name)
		}
		return nil, fmt.Errorf("pick hypervisor: %w", err)
	}

	template, err := s.pickTemplate(ctx, order, hv)
	if err != nil {
		return nil, err
	}

	ip, err := s.ipRepo.ClaimAvailable(ctx, region.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoIPAvailable, region.Name)
		}
		return nil, fmt.Errorf("claim ip: %w", err)
	}

	log.Printf("[Provision] Order %s: hypervisor=%s template=%d ip=%s", orderID, hv.Name, template.VMID, ip.IP)

	vps, err := s.buildVM(ctx, order, pricing, region, hv, template, ip)
	if err != nil {
		// Return the claimed IP so the pool does not leak on failure.
		if relErr := s.ipRepo.Release(ctx, ip.ID); relErr != nil {
			log.Printf("[Provision] Failed to release IP %s after error: %v", ip.IP, relErr)
		}
		return nil, err
	}

	s.logRepo.LogAction(ctx, vps.ID, "provision", "success",
		fmt.Sprintf("VPS provisioned on %s (vmid %d, ip %s)", hv.Name, vps.VMID, ip.IP))

	return vps, nil
}

// GetVPS returns one instance by id.
func (s *ProvisionService) GetVPS(ctx context.Context, id string) (*models.VPS, error) {
	return s.vpsRepo.GetByID(ctx, id)
}

// Power runs a start, stop or reboot against a machine. Terminated machines
// are gone; suspended machines only accept stop, since suspension is billing
// enforcement and must not be undone from the customer API.
func (s *ProvisionService) Power(ctx context.Context, vpsID, action string) error {
	vps, err := s.vpsRepo.GetByID(ctx, vpsID)
	if err != nil {
		return fmt.Errorf("load vps: %w", err)
	}
	if vps.Status == models.VPSTerminated {
		return fmt.Errorf("%w: vps %s is terminated", ErrVPSNotOperable, vpsID)
	}
	if vps.Status == models.VPSSuspended && action != "stop" {
		return fmt.Errorf("%w: vps %s is suspended", ErrVPSNotOperable, vpsID)
	}

	hv, err := s.hypervisorRepo.GetByID(ctx, vps.HypervisorID)
	if err != nil {
		return fmt.Errorf("load hypervisor: %w", err)
	}
	template, err := s.templateRepo.GetByID(ctx, vps.TemplateID)
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}

	switch action {
	case "start":
		err = s.proxmox.Start(ctx, hv, template.Node, vps.VMID)
	case "stop":
		err = s.proxmox.Stop(ctx, hv, template.Node, vps.VMID)
	case "reboot":
		err = s.proxmox.Reboot(ctx, hv, template.Node, vps.VMID)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidPowerAction, action)
	}
	if err != nil {
		s.logRepo.LogAction(ctx, vps.ID, action, "failed", err.Error())
		return fmt.Errorf("%s vm %d: %w", action, vps.VMID, err)
	}

	s.logRepo.LogAction(ctx, vps.ID, action, "success", "")
	log.Printf("[Provision] VPS %s: %s on vm %d", vpsID, action, vps.VMID)
	return nil
}

// ListByClient returns every instance a client owns, terminated ones included.
func (s *ProvisionService) ListByClient(ctx context.Context, clientID string) ([]*models.VPS, error) {
	return s.vpsRepo.GetByClientID(ctx, clientID)
}

// logCandidates lists every hypervisor in the region and its status so an
// operator can see why placement failed.
func (s *ProvisionService) logCandidates(ctx context.Context, region *models.Region) {
	candidates, err := s.hypervisorRepo.ListByRegion(ctx, region.ID)
	if err != nil {
		log.Printf("[Provision] No online hypervisor in %s (candidate list unavailable: %v)", region.Name, err)
		return
	}
	log.Printf("[Provision] No online hypervisor in %s among %d candidates:", region.Name, len(candidates))
	for _, c := range candidates {
		log.Printf("[Provision]   %s (%s) status=%s", c.Name, c.Host, c.Status)
	}
}

func (s *ProvisionService) pickTemplate(ctx context.Context, order *models.Order, hv *models.Hypervisor) (*models.Template, error) {
	if order.TemplateID != nil {
		t, err := s.templateRepo.GetActiveByID(ctx, *order.TemplateID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: template %s", ErrNoTemplateAvailable, *order.TemplateID)
			}
			return nil, fmt.Errorf("load template: %w", err)
		}
		return t, nil
	}

	t, err := s.templateRepo.FirstForHypervisor(ctx, hv.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: hypervisor %s has no templates", ErrNoTemplateAvailable, hv.Name)
		}
		return nil, fmt.Errorf("pick template: %w", err)
	}
	return t, nil
}

func (s *ProvisionService) buildVM(
	ctx context.Context,
	order *models.Order,
	pricing *models.ProductPricing,
	region *models.Region,
	hv *models.Hypervisor,
	template *models.Template,
	ip *models.IPAddress,
) (*models.VPS, error) {
	vmid, err := s.proxmox.NextVMID(ctx, hv)
	if err != nil {
		return nil, fmt.Errorf("allocate vmid: %w", err)
	}

	spec := client.CloneSpec{
		TemplateNode: template.Node,
		TemplateVMID: template.VMID,
		VMID:         vmid,
		CPU:          pricing.CPU,
		RAMMB:        pricing.RAMMB,
		DiskGB:       pricing.DiskGB,
		Bandwidth:    pricing.Bandwidth,
		IP:           ip.IP,
		Netmask:      derefOr(ip.Netmask, "24"),
		Gateway:      derefOr(ip.Gateway, ""),
	}

	if err := s.proxmox.Clone(ctx, hv, spec); err != nil {
		return nil, fmt.Errorf("build vm %d: %w", vmid, err)
	}

	// Record which backend will hold this machine's backups. Absence of a
	// default storage is not an error; backups just cannot run yet.
	var backupProvider *string
	if order.BackupEnabled {
		if st, err := s.storageRepo.GetDefault(ctx); err == nil {
			backupProvider = &st.Provider
		} else if !errors.Is(err, repository.ErrNotFound) {
			log.Printf("[Provision] Default backup storage lookup failed: %v", err)
		}
	}

	vps := &models.VPS{
		ID:             uuid.New().String(),
		ClientID:       order.ClientID,
		OrderID:        order.ID,
		RegionID:       region.ID,
		HypervisorID:   hv.ID,
		TemplateID:     template.ID,
		IPAddressID:    ip.ID,
		VMID:           vmid,
		Hostname:       fmt.Sprintf("vps-%d", vmid),
		CPU:            pricing.CPU,
		RAMMB:          pricing.RAMMB,
		DiskGB:         pricing.DiskGB,
		Bandwidth:      pricing.Bandwidth,
		BackupEnabled:  order.BackupEnabled,
		BackupProvider: backupProvider,
		Status:         models.VPSRunning,
	}

	if err := s.vpsRepo.Create(ctx, vps); err != nil {
		// The VM exists but the record does not; tear the VM down rather
		// than strand an unbilled machine on the hypervisor.
		if delErr := s.proxmox.Delete(ctx, hv, template.Node, vmid); delErr != nil {
			log.Printf("[Provision] Failed to clean up vm %d after record error: %v", vmid, delErr)
		}
		return nil, fmt.Errorf("create vps record: %w", err)
	}

	return vps, nil
}

func derefOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}
