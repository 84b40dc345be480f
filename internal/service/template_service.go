package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wenwu/saas-platform/vps-service/internal/models"
	"github.com/wenwu/saas-platform/vps-service/internal/repository"
)

// TemplateService keeps the template catalog in sync with the hypervisors
type TemplateService struct {
	regionRepo     regionStore
	hypervisorRepo hypervisorStore
	templateRepo   templateStore
	proxmox        hypervisorAPI
}

// NewTemplateService creates a new template service
func NewTemplateService(regionRepo regionStore, hypervisorRepo hypervisorStore, templateRepo templateStore, proxmox hypervisorAPI) *TemplateService {
	return &TemplateService{
		regionRepo:     regionRepo,
		hypervisorRepo: hypervisorRepo,
		templateRepo:   templateRepo,
		proxmox:        proxmox,
	}
}

// SyncAll scans every region's master hypervisor concurrently and upserts
// the templates it reports. Regions without a master are skipped; any
// region's scan error fails the sync so a partial catalog is never silent.
func (s *TemplateService) SyncAll(ctx context.Context) error {
	regions, err := s.regionRepo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("list regions: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, region := range regions {
		region := region
		g.Go(func() error {
			return s.syncRegion(ctx, region)
		})
	}

	return g.Wait()
}

// HypervisorStats reports per-node utilization for one hypervisor.
func (s *TemplateService) HypervisorStats(ctx context.Context, hypervisorID string) ([]models.NodeStat, error) {
	hv, err := s.hypervisorRepo.GetByID(ctx, hypervisorID)
	if err != nil {
		return nil, fmt.Errorf("load hypervisor: %w", err)
	}
	return s.proxmox.NodeStats(ctx, hv)
}

func (s *TemplateService) syncRegion(ctx context.Context, region *models.Region) error {
	master, err := s.hypervisorRepo.GetMasterByRegion(ctx, region.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Printf("[TemplateSync] Region %s has no master hypervisor, skipping", region.Name)
			return nil
		}
		return fmt.Errorf("region %s: load master: %w", region.Name, err)
	}

	if master.Status != models.HypervisorOnline {
		log.Printf("[TemplateSync] Region %s master %s is offline, skipping", region.Name, master.Name)
		return nil
	}

	found, err := s.proxmox.Templates(ctx, master)
	if err != nil {
		return fmt.Errorf("region %s: scan templates: %w", region.Name, err)
	}

	for _, t := range found {
		err := s.templateRepo.Upsert(ctx, &models.Template{
			ID:           uuid.New().String(),
			HypervisorID: master.ID,
			Node:         t.Node,
			VMID:         t.VMID,
			Name:         t.Name,
			Kind:         t.Kind,
			IsActive:     true,
		})
		if err != nil {
			return fmt.Errorf("region %s: upsert template %d: %w", region.Name, t.VMID, err)
		}
	}

	log.Printf("[TemplateSync] Region %s: %d templates from %s", region.Name, len(found), master.Name)
	return nil
}
