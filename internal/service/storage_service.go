package service

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/wenwu/saas-platform/vps-service/internal/models"
	"github.com/wenwu/saas-platform/vps-service/internal/storage"
)

// StorageService manages backup storage backends
type StorageService struct {
	storageRepo storageStore
	providers   providerFactory
}

// NewStorageService creates a new storage service
func NewStorageService(storageRepo storageStore) *StorageService {
	return &StorageService{
		storageRepo: storageRepo,
		providers:   storage.ForStorage,
	}
}

// Register validates a new backend by probing it, then persists it. The
// first registered backend becomes the primary default; probing failures
// still register the row but leave it in ERROR for the operator.
func (s *StorageService) Register(ctx context.Context, req *models.CreateStorageRequest) (*models.BackupStorage, error) {
	st := &models.BackupStorage{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Provider:     req.Provider,
		Endpoint:     req.Endpoint,
		Bucket:       req.Bucket,
		AccessKey:    req.AccessKey,
		SecretKey:    req.SecretKey,
		Region:       req.Region,
		Directory:    req.Directory,
		TotalSpaceMB: req.TotalSpaceMB,
	}

	if err := s.storageRepo.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("create storage: %w", err)
	}

	if err := s.Probe(ctx, st.ID); err != nil {
		log.Printf("[Storage] Initial probe failed for %s: %v", st.Name, err)
	}

	return s.storageRepo.GetByID(ctx, st.ID)
}

// Probe checks one backend's reachability and refreshes its used space,
// flipping its status between ACTIVE and ERROR.
func (s *StorageService) Probe(ctx context.Context, storageID string) error {
	st, err := s.storageRepo.GetByID(ctx, storageID)
	if err != nil {
		return fmt.Errorf("load storage: %w", err)
	}

	provider, err := s.providers(st)
	if err != nil {
		s.storageRepo.UpdateStatus(ctx, st.ID, models.StorageError, st.UsedSpaceMB)
		return fmt.Errorf("open storage %s: %w", st.Name, err)
	}

	if err := provider.Ping(ctx); err != nil {
		s.storageRepo.UpdateStatus(ctx, st.ID, models.StorageError, st.UsedSpaceMB)
		return fmt.Errorf("probe storage %s: %w", st.Name, err)
	}

	usedMB := st.UsedSpaceMB
	if used, err := provider.UsedBytes(ctx); err == nil {
		usedMB = used >> 20
	} else {
		log.Printf("[Storage] Could not measure usage for %s: %v", st.Name, err)
	}

	if err := s.storageRepo.UpdateStatus(ctx, st.ID, models.StorageActive, usedMB); err != nil {
		return fmt.Errorf("update storage status: %w", err)
	}

	log.Printf("[Storage] %s is active (%d MB used)", st.Name, usedMB)
	return nil
}

// ProbeAll refreshes every registered backend. Used by the scheduler so a
// backend that comes back online is picked up without operator action.
func (s *StorageService) ProbeAll(ctx context.Context) error {
	all, err := s.storageRepo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("list storages: %w", err)
	}

	for _, st := range all {
		if err := s.Probe(ctx, st.ID); err != nil {
			log.Printf("[Storage] Probe failed: %v", err)
		}
	}
	return nil
}

// SetDefault makes one backend the default upload target.
func (s *StorageService) SetDefault(ctx context.Context, storageID string) error {
	return s.storageRepo.SetDefault(ctx, storageID)
}

// List returns every registered backend.
func (s *StorageService) List(ctx context.Context) ([]*models.BackupStorage, error) {
	return s.storageRepo.GetAll(ctx)
}

// Remove deletes a backend registration. Stored archives are not touched;
// history rows referencing them keep the backend id.
func (s *StorageService) Remove(ctx context.Context, storageID string) error {
	st, err := s.storageRepo.GetByID(ctx, storageID)
	if err != nil {
		return fmt.Errorf("load storage: %w", err)
	}
	if st.IsDefault {
		return fmt.Errorf("cannot delete the default storage %s", st.Name)
	}
	return s.storageRepo.Delete(ctx, storageID)
}
