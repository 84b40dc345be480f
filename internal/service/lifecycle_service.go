package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/wenwu/saas-platform/vps-service/internal/models"
	"github.com/wenwu/saas-platform/vps-service/internal/repository"
)

// Grace periods applied to overdue instances. Suspension is reversible,
// termination destroys the VM and its disk.
const (
	SuspendAfter   = 3 * 24 * time.Hour
	TerminateAfter = 15 * 24 * time.Hour
)

// LifecycleService enforces billing state on running instances
type LifecycleService struct {
	vpsRepo        vpsStore
	hypervisorRepo hypervisorStore
	templateRepo   templateStore
	ipRepo         ipStore
	logRepo        actionLogger
	proxmox        hypervisorAPI

	now func() time.Time
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(
	vpsRepo vpsStore,
	hypervisorRepo hypervisorStore,
	templateRepo templateStore,
	ipRepo ipStore,
	logRepo actionLogger,
	proxmox hypervisorAPI,
) *LifecycleService {
	return &LifecycleService{
		vpsRepo:        vpsRepo,
		hypervisorRepo: hypervisorRepo,
		templateRepo:   templateRepo,
		ipRepo:         ipRepo,
		logRepo:        logRepo,
		proxmox:        proxmox,
		now:            time.Now,
	}
}

// EnforceOverdue walks every instance whose order is past its billing date
// and applies the grace-period rules: suspend after SuspendAfter, terminate
// after TerminateAfter. Failures on one instance never block the rest.
func (s *LifecycleService) EnforceOverdue(ctx context.Context) error {
	now := s.now()

	overdue, err := s.vpsRepo.ListOverdue(ctx, now)
	if err != nil {
		return fmt.Errorf("list overdue instances: %w", err)
	}

	log.Printf("[Lifecycle] Checking %d overdue instances", len(overdue))

	for _, item := range overdue {
		age := now.Sub(item.NextBillingDate)

		switch {
		case age >= TerminateAfter && item.VPS.Status != models.VPSTerminated:
			if err := s.terminate(ctx, item.VPS); err != nil {
				log.Printf("[Lifecycle] Terminate %s failed: %v", item.VPS.ID, err)
			}
		case age >= SuspendAfter && item.VPS.Status == models.VPSRunning:
			if err := s.suspend(ctx, item.VPS); err != nil {
				log.Printf("[Lifecycle] Suspend %s failed: %v", item.VPS.ID, err)
			}
		}
	}

	return nil
}

// suspend powers the VM off but keeps its disk, id and IP. The billing
// record flips first so a hypervisor failure still leaves the instance
// marked suspended for the next pass.
func (s *LifecycleService) suspend(ctx context.Context, vps *models.VPS) error {
	if err := s.vpsRepo.UpdateStatus(ctx, vps.ID, models.VPSSuspended, nil); err != nil {
		return fmt.Errorf("mark suspended: %w", err)
	}

	hv, node, err := s.placement(ctx, vps)
	if err != nil {
		return err
	}

	if err := s.proxmox.Stop(ctx, hv, node, vps.VMID); err != nil {
		s.logRepo.LogAction(ctx, vps.ID, "suspend", "failed", fmt.Sprintf("stop vm: %v", err))
		return fmt.Errorf("stop vm %d: %w", vps.VMID, err)
	}

	s.logRepo.LogAction(ctx, vps.ID, "suspend", "success", "Suspended for overdue payment")
	log.Printf("[Lifecycle] Suspended VPS %s (vmid %d)", vps.ID, vps.VMID)
	return nil
}

// terminate destroys the VM, returns its IP to the pool and tombstones the
// record with a deletion timestamp.
func (s *LifecycleService) terminate(ctx context.Context, vps *models.VPS) error {
	hv, node, err := s.placement(ctx, vps)
	if err != nil {
		return err
	}

	if err := s.proxmox.Delete(ctx, hv, node, vps.VMID); err != nil {
		s.logRepo.LogAction(ctx, vps.ID, "terminate", "failed", fmt.Sprintf("delete vm: %v", err))
		return fmt.Errorf("delete vm %d: %w", vps.VMID, err)
	}

	if err := s.ipRepo.Release(ctx, vps.IPAddressID); err != nil {
		log.Printf("[Lifecycle] Failed to release IP for VPS %s: %v", vps.ID, err)
	}

	deletedAt := s.now()
	if err := s.vpsRepo.UpdateStatus(ctx, vps.ID, models.VPSTerminated, &deletedAt); err != nil {
		return fmt.Errorf("mark terminated: %w", err)
	}

	s.logRepo.LogAction(ctx, vps.ID, "terminate", "success", "Terminated for overdue payment")
	log.Printf("[Lifecycle] Terminated VPS %s (vmid %d)", vps.ID, vps.VMID)
	return nil
}

func (s *LifecycleService) placement(ctx context.Context, vps *models.VPS) (*models.Hypervisor, string, error) {
	hv, err := s.hypervisorRepo.GetByID(ctx, vps.HypervisorID)
	if err != nil {
		return nil, "", fmt.Errorf("load hypervisor: %w", err)
	}

	template, err := s.templateRepo.GetByID(ctx, vps.TemplateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", fmt.Errorf("vps %s references unknown template", vps.ID)
		}
		return nil, "", fmt.Errorf("load template: %w", err)
	}

	return hv, template.Node, nil
}
