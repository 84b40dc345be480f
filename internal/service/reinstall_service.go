package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/wenwu/saas-platform/vps-service/internal/client"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
	"github.com/wenwu/saas-platform/vps-service/internal/repository"
)

// ReinstallService replaces a VPS's OS image in place, preserving its
// provider-native VM id and IP assignment
type ReinstallService struct {
	vpsRepo        vpsStore
	hypervisorRepo hypervisorStore
	templateRepo   templateStore
	ipRepo         ipStore
	logRepo        actionLogger
	proxmox        hypervisorAPI

	stopTimeout time.Duration
	pollEvery   time.Duration
	now         func() time.Time
}

// NewReinstallService creates a new reinstall service
func NewReinstallService(
	vpsRepo vpsStore,
	hypervisorRepo hypervisorStore,
	templateRepo templateStore,
	ipRepo ipStore,
	logRepo actionLogger,
	proxmox hypervisorAPI,
	stopTimeout time.Duration,
) *ReinstallService {
	return &ReinstallService{
		vpsRepo:        vpsRepo,
		hypervisorRepo: hypervisorRepo,
		templateRepo:   templateRepo,
		ipRepo:         ipRepo,
		logRepo:        logRepo,
		proxmox:        proxmox,
		stopTimeout:    stopTimeout,
		pollEvery:      2 * time.Second,
		now:            time.Now,
	}
}

// Reinstall stops the VM, confirms it is down, destroys it, then clones the
// requested template back onto the same VM id with the same IP. The old disk
// is gone once the delete succeeds; nothing here is recoverable, so every
// step must finish before the next starts.
func (s *ReinstallService) Reinstall(ctx context.Context, vpsID, templateID string) error {
	vps, err := s.vpsRepo.GetByID(ctx, vpsID)
	if err != nil {
		return fmt.Errorf("load vps: %w", err)
	}

	template, err := s.templateRepo.GetActiveByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: template %s", ErrNoTemplateAvailable, templateID)
		}
		return fmt.Errorf("load template: %w", err)
	}

	// The VM lives on its current template's node; the new template may sit
	// elsewhere in the cluster.
	current, err := s.templateRepo.GetByID(ctx, vps.TemplateID)
	if err != nil {
		return fmt.Errorf("load current template: %w", err)
	}

	hv, err := s.hypervisorRepo.GetByID(ctx, vps.HypervisorID)
	if err != nil {
		return fmt.Errorf("load hypervisor: %w", err)
	}

	ip, err := s.ipRepo.GetByID(ctx, vps.IPAddressID)
	if err != nil {
		return fmt.Errorf("load ip: %w", err)
	}
	if ip.Gateway == nil || *ip.Gateway == "" || ip.Netmask == nil || *ip.Netmask == "" {
		return fmt.Errorf("%w: ip %s", ErrIncompleteIPConfig, ip.IP)
	}

	log.Printf("[Reinstall] VPS %s (vmid %d): reinstalling with template %d", vpsID, vps.VMID, template.VMID)
	s.logRepo.LogAction(ctx, vpsID, "reinstall", "started",
		fmt.Sprintf("Reinstall started with template %s", template.Name))

	if err := s.ensureStopped(ctx, hv, current.Node, vps.VMID); err != nil {
		s.logRepo.LogAction(ctx, vpsID, "reinstall", "failed", err.Error())
		return err
	}

	if err := s.proxmox.Delete(ctx, hv, current.Node, vps.VMID); err != nil {
		s.logRepo.LogAction(ctx, vpsID, "reinstall", "failed", fmt.Sprintf("delete vm: %v", err))
		return fmt.Errorf("delete vm %d: %w", vps.VMID, err)
	}

	spec := client.CloneSpec{
		TemplateNode: template.Node,
		TemplateVMID: template.VMID,
		VMID:         vps.VMID,
		CPU:          vps.CPU,
		RAMMB:        vps.RAMMB,
		DiskGB:       vps.DiskGB,
		Bandwidth:    vps.Bandwidth,
		IP:           ip.IP,
		Netmask:      *ip.Netmask,
		Gateway:      *ip.Gateway,
	}

	if err := s.proxmox.Clone(ctx, hv, spec); err != nil {
		s.logRepo.LogAction(ctx, vpsID, "reinstall", "failed", fmt.Sprintf("rebuild vm: %v", err))
		return fmt.Errorf("rebuild vm %d: %w", vps.VMID, err)
	}

	if err := s.vpsRepo.UpdateTemplate(ctx, vpsID, template.ID); err != nil {
		return fmt.Errorf("update vps template: %w", err)
	}

	s.logRepo.LogAction(ctx, vpsID, "reinstall", "success",
		fmt.Sprintf("Reinstalled with template %s", template.Name))
	return nil
}

// ensureStopped powers the VM off and waits until the hypervisor reports it
// stopped. A VM that is already stopped skips the stop call.
func (s *ReinstallService) ensureStopped(ctx context.Context, hv *models.Hypervisor, node string, vmid int) error {
	state, err := s.proxmox.Status(ctx, hv, node, vmid)
	if err != nil {
		return fmt.Errorf("query vm status: %w", err)
	}

	if state != client.StateStopped {
		// A failed stop call is not fatal; the VM may be shutting down
		// already. The poll below decides.
		if err := s.proxmox.Stop(ctx, hv, node, vmid); err != nil {
			log.Printf("[Reinstall] Stop call for vm %d failed, polling anyway: %v", vmid, err)
		}
	}

	deadline := s.now().Add(s.stopTimeout)
	for {
		state, err := s.proxmox.Status(ctx, hv, node, vmid)
		if err != nil {
			return fmt.Errorf("query vm status: %w", err)
		}
		if state == client.StateStopped {
			return nil
		}
		if s.now().After(deadline) {
			return fmt.Errorf("%w: vm %d", ErrStopTimeout, vmid)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollEvery):
		}
	}
}
