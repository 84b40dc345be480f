package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/wenwu/saas-platform/vps-service/internal/config"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
	"github.com/wenwu/saas-platform/vps-service/internal/storage"
)

// RestoreService brings a stored backup archive back onto a VPS
type RestoreService struct {
	historyRepo historyStore
	storageRepo storageStore
	vpsRepo     vpsStore
	logRepo     actionLogger

	cfg       config.BackupConfig
	providers providerFactory
	importDB  func(ctx context.Context, dumpPath string) error
}

// NewRestoreService creates a new restore service
func NewRestoreService(
	historyRepo historyStore,
	storageRepo storageStore,
	vpsRepo vpsStore,
	logRepo actionLogger,
	cfg config.BackupConfig,
) *RestoreService {
	s := &RestoreService{
		historyRepo: historyRepo,
		storageRepo: storageRepo,
		vpsRepo:     vpsRepo,
		logRepo:     logRepo,
		cfg:         cfg,
		providers:   storage.ForStorage,
	}
	s.importDB = s.mysqlImport
	return s
}

// Restore fetches the archive, re-validates it, unpacks the application
// tree and replays the database dump. The history row records which VPS
// the backup was last restored onto.
func (s *RestoreService) Restore(ctx context.Context, vpsID, backupID string) error {
	vps, err := s.vpsRepo.GetByID(ctx, vpsID)
	if err != nil {
		return fmt.Errorf("load vps: %w", err)
	}

	history, err := s.historyRepo.GetByID(ctx, backupID)
	if err != nil {
		return fmt.Errorf("load backup: %w", err)
	}

	st, err := s.storageRepo.GetByID(ctx, history.StorageID)
	if err != nil {
		return fmt.Errorf("load storage: %w", err)
	}

	provider, err := s.providers(st)
	if err != nil {
		return fmt.Errorf("open storage %s: %w", st.Name, err)
	}

	workDir, err := os.MkdirTemp(s.cfg.TmpDir, "restore-*")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	archivePath := filepath.Join(workDir, "backup.tar.gz")

	log.Printf("[Restore] VPS %s: fetching %s from %s", vpsID, history.Path, st.Name)
	if err := provider.Fetch(ctx, history.Path, archivePath); err != nil {
		s.logRepo.LogAction(ctx, vpsID, "restore", "failed", fmt.Sprintf("fetch archive: %v", err))
		return fmt.Errorf("fetch archive: %w", err)
	}

	// Stored archives are validated on the way in, but storage backends are
	// writable by operators too. Never trust bytes coming back.
	if _, err := ValidateArchive(archivePath); err != nil {
		s.logRepo.LogAction(ctx, vpsID, "restore", "failed", err.Error())
		return err
	}

	unpackDir := filepath.Join(workDir, "unpacked")
	if err := extractArchive(archivePath, unpackDir); err != nil {
		s.logRepo.LogAction(ctx, vpsID, "restore", "failed", err.Error())
		return err
	}

	if err := s.applyFiles(unpackDir); err != nil {
		s.logRepo.LogAction(ctx, vpsID, "restore", "failed", err.Error())
		return err
	}

	dumpPath := filepath.Join(unpackDir, "database.sql")
	if _, err := os.Stat(dumpPath); err == nil {
		if err := s.importDB(ctx, dumpPath); err != nil {
			s.logRepo.LogAction(ctx, vpsID, "restore", "failed", fmt.Sprintf("import database: %v", err))
			return fmt.Errorf("import database: %w", err)
		}
	}

	if err := s.historyRepo.UpdateStatus(ctx, history.ID, models.BackupRestored, &vps.ID); err != nil {
		return fmt.Errorf("record restore: %w", err)
	}

	s.logRepo.LogAction(ctx, vpsID, "restore", "success",
		fmt.Sprintf("Restored backup %s from %s", history.ID, st.Name))
	log.Printf("[Restore] VPS %s: restored backup %s", vpsID, history.ID)
	return nil
}

// applyFiles moves the unpacked app, config and env entries into the
// application directory.
func (s *RestoreService) applyFiles(unpackDir string) error {
	moves := map[string]string{
		filepath.Join(unpackDir, "app"):    filepath.Join(s.cfg.AppDir, "app"),
		filepath.Join(unpackDir, "config"): filepath.Join(s.cfg.AppDir, "config"),
		filepath.Join(unpackDir, "env"):    s.cfg.EnvFile,
	}

	for src, dst := range moves {
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("clear %s: %w", dst, err)
		}
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("move %s into place: %w", src, err)
		}
	}
	return nil
}

func (s *RestoreService) mysqlImport(ctx context.Context, dumpPath string) error {
	f, err := os.Open(dumpPath)
	if err != nil {
		return fmt.Errorf("open dump: %w", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, "mysql", "--user", s.cfg.DBUser, s.cfg.DBName)
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+s.cfg.DBPassword)
	cmd.Stdin = f

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run mysql import: %w", err)
	}
	return nil
}
