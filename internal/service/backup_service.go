package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/wenwu/saas-platform/vps-service/internal/config"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
	"github.com/wenwu/saas-platform/vps-service/internal/repository"
	"github.com/wenwu/saas-platform/vps-service/internal/storage"
)

// BackupService creates, uploads and expires backup archives
type BackupService struct {
	policyRepo  policyStore
	historyRepo historyStore
	storageRepo storageStore

	cfg       config.BackupConfig
	providers providerFactory
	dumpDB    func(ctx context.Context, dst string) error
	now       func() time.Time
}

// NewBackupService creates a new backup service
func NewBackupService(
	policyRepo policyStore,
	historyRepo historyStore,
	storageRepo storageStore,
	cfg config.BackupConfig,
) *BackupService {
	s := &BackupService{
		policyRepo:  policyRepo,
		historyRepo: historyRepo,
		storageRepo: storageRepo,
		cfg:         cfg,
		providers:   storage.ForStorage,
		now:         time.Now,
	}
	s.dumpDB = s.mysqldump
	return s
}

// RunPolicy executes one backup under a policy: enforce the policy's quota
// and daily limit, dump the database, archive the application tree, upload
// to the active storage and record the result.
func (s *BackupService) RunPolicy(ctx context.Context, policyID string) (*models.BackupHistory, error) {
	policy, err := s.policyRepo.GetByID(ctx, policyID)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	if err := s.checkLimits(ctx, policy); err != nil {
		return nil, err
	}

	st, err := s.pickActiveStorage(ctx)
	if err != nil {
		return nil, err
	}

	provider, err := s.providers(st)
	if err != nil {
		return nil, fmt.Errorf("open storage %s: %w", st.Name, err)
	}

	workDir, err := os.MkdirTemp(s.cfg.TmpDir, "backup-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	dumpPath := filepath.Join(workDir, "database.sql")
	if err := s.dumpDB(ctx, dumpPath); err != nil {
		return nil, fmt.Errorf("dump database: %w", err)
	}

	archivePath := filepath.Join(workDir, "backup.tar.gz")
	sources := map[string]string{
		"app/":         filepath.Join(s.cfg.AppDir, "app"),
		"config/":      filepath.Join(s.cfg.AppDir, "config"),
		"env":          s.cfg.EnvFile,
		"database.sql": dumpPath,
	}
	if err := buildArchive(archivePath, sources); err != nil {
		return nil, fmt.Errorf("build archive: %w", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	remotePath := fmt.Sprintf("%s/%s.tar.gz", policy.Name, s.now().Format("20060102-150405"))
	if err := provider.Store(ctx, archivePath, remotePath); err != nil {
		return nil, fmt.Errorf("upload archive: %w", err)
	}

	history := &models.BackupHistory{
		ID:        uuid.New().String(),
		PolicyID:  &policy.ID,
		StorageID: st.ID,
		Path:      remotePath,
		SizeBytes: info.Size(),
		Status:    models.BackupSuccess,
	}
	if err := s.historyRepo.Create(ctx, history); err != nil {
		return nil, fmt.Errorf("record backup: %w", err)
	}

	log.Printf("[Backup] Policy %s: stored %s on %s (%d bytes)", policy.Name, remotePath, st.Name, info.Size())
	return history, nil
}

// AcceptUpload validates a client-supplied archive and stores it under a
// policy. The archive must pass the same entry and size rules as generated
// backups before a single byte goes to remote storage.
func (s *BackupService) AcceptUpload(ctx context.Context, policyID, archivePath string) (*models.BackupHistory, error) {
	policy, err := s.policyRepo.GetByID(ctx, policyID)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	if _, err := ValidateArchive(archivePath); err != nil {
		return nil, err
	}

	if err := s.checkLimits(ctx, policy); err != nil {
		return nil, err
	}

	st, err := s.pickActiveStorage(ctx)
	if err != nil {
		return nil, err
	}
	provider, err := s.providers(st)
	if err != nil {
		return nil, fmt.Errorf("open storage %s: %w", st.Name, err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	remotePath := fmt.Sprintf("%s/upload-%s.tar.gz", policy.Name, s.now().Format("20060102-150405"))
	if err := provider.Store(ctx, archivePath, remotePath); err != nil {
		return nil, fmt.Errorf("upload archive: %w", err)
	}

	history := &models.BackupHistory{
		ID:        uuid.New().String(),
		PolicyID:  &policy.ID,
		StorageID: st.ID,
		Path:      remotePath,
		SizeBytes: info.Size(),
		Status:    models.BackupUploaded,
	}
	if err := s.historyRepo.Create(ctx, history); err != nil {
		return nil, fmt.Errorf("record backup: %w", err)
	}
	return history, nil
}

// Retention deletes every backup past its policy's retention window. The
// remote object goes first; the history row is only removed once the bytes
// are gone, so a failed delete is retried on the next sweep.
func (s *BackupService) Retention(ctx context.Context) error {
	expired, err := s.historyRepo.ListExpired(ctx, s.now())
	if err != nil {
		return fmt.Errorf("list expired backups: %w", err)
	}

	log.Printf("[Backup] Retention sweep: %d expired backups", len(expired))

	for _, e := range expired {
		provider, err := s.providers(e.Storage)
		if err != nil {
			log.Printf("[Backup] Skip %s: open storage %s: %v", e.History.ID, e.Storage.Name, err)
			continue
		}

		if err := provider.Delete(ctx, e.History.Path); err != nil {
			log.Printf("[Backup] Failed to delete %s from %s: %v", e.History.Path, e.Storage.Name, err)
			continue
		}

		if err := s.historyRepo.Delete(ctx, e.History.ID); err != nil {
			log.Printf("[Backup] Failed to drop history %s: %v", e.History.ID, err)
		}
	}

	return nil
}

// checkLimits enforces the policy's storage quota and daily backup count.
func (s *BackupService) checkLimits(ctx context.Context, policy *models.BackupPolicy) error {
	if policy.MaxStorageGB > 0 {
		used, err := s.historyRepo.SumSizeForPolicy(ctx, policy.ID)
		if err != nil {
			return fmt.Errorf("sum policy usage: %w", err)
		}
		if used >= int64(policy.MaxStorageGB)<<30 {
			return fmt.Errorf("%w: policy %s uses %d bytes", ErrQuotaExceeded, policy.Name, used)
		}
	}

	if policy.MaxDailyBackup > 0 {
		// Rolling 24h window, not calendar day, so midnight does not reset
		// the budget.
		cutoff := s.now().Add(-24 * time.Hour)
		count, err := s.historyRepo.CountSince(ctx, policy.ID, cutoff)
		if err != nil {
			return fmt.Errorf("count daily backups: %w", err)
		}
		if count >= policy.MaxDailyBackup {
			return fmt.Errorf("%w: policy %s", ErrDailyLimitReached, policy.Name)
		}
	}

	return nil
}

// pickActiveStorage prefers the default storage, then the first active
// primary, then the first active secondary.
func (s *BackupService) pickActiveStorage(ctx context.Context) (*models.BackupStorage, error) {
	if st, err := s.storageRepo.GetDefault(ctx); err == nil {
		return st, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load default storage: %w", err)
	}

	for _, tier := range []string{models.StoragePrimary, models.StorageSecondary} {
		st, err := s.storageRepo.FirstActiveByType(ctx, tier)
		if err == nil {
			return st, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("load %s storage: %w", tier, err)
		}
	}

	return nil, ErrNoActiveStorage
}

// mysqldump shells out with the configured credentials. The password goes
// through the environment, never argv.
func (s *BackupService) mysqldump(ctx context.Context, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create dump file: %w", err)
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, "mysqldump",
		"--user", s.cfg.DBUser,
		"--single-transaction",
		"--quick",
		s.cfg.DBName,
	)
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+s.cfg.DBPassword)
	cmd.Stdout = out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run mysqldump: %w", err)
	}
	return out.Close()
}
