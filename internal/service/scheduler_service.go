package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wenwu/saas-platform/vps-service/internal/config"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

type lifecycleRunner interface {
	EnforceOverdue(ctx context.Context) error
}

type retentionRunner interface {
	Retention(ctx context.Context) error
}

type policyRunner interface {
	RunPolicy(ctx context.Context, policyID string) (*models.BackupHistory, error)
}

type storageProber interface {
	ProbeAll(ctx context.Context) error
}

type templateSyncer interface {
	SyncAll(ctx context.Context) error
}

// SchedulerService drives the periodic work: billing enforcement, backup
// retention, scheduled backup policies, storage probing and template sync
type SchedulerService struct {
	cfg        config.SchedulerConfig
	lifecycle  lifecycleRunner
	retention  retentionRunner
	backups    policyRunner
	policyRepo policyStore
	storages   storageProber
	templates  templateSyncer

	now      func() time.Time
	lastTick time.Time
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSchedulerService creates a new scheduler service
func NewSchedulerService(
	cfg config.SchedulerConfig,
	lifecycle lifecycleRunner,
	retention retentionRunner,
	backups policyRunner,
	policyRepo policyStore,
	storages storageProber,
	templates templateSyncer,
) *SchedulerService {
	return &SchedulerService{
		cfg:        cfg,
		lifecycle:  lifecycle,
		retention:  retention,
		backups:    backups,
		policyRepo: policyRepo,
		storages:   storages,
		templates:  templates,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
}

// Start launches the background loops. Call Stop to drain them.
func (s *SchedulerService) Start() {
	s.lastTick = s.now()

	s.loop("lifecycle", s.cfg.LifecycleEvery, func(ctx context.Context) {
		if err := s.lifecycle.EnforceOverdue(ctx); err != nil {
			log.Printf("[Scheduler] Lifecycle pass failed: %v", err)
		}
	})

	s.loop("retention", s.cfg.RetentionEvery, func(ctx context.Context) {
		if err := s.retention.Retention(ctx); err != nil {
			log.Printf("[Scheduler] Retention sweep failed: %v", err)
		}
		if err := s.storages.ProbeAll(ctx); err != nil {
			log.Printf("[Scheduler] Storage probe failed: %v", err)
		}
		if err := s.templates.SyncAll(ctx); err != nil {
			log.Printf("[Scheduler] Template sync failed: %v", err)
		}
	})

	s.loop("backup-cron", s.cfg.BackupTickEvery, s.runDuePolicies)

	log.Printf("[Scheduler] Started (lifecycle=%s retention=%s backup-tick=%s)",
		s.cfg.LifecycleEvery, s.cfg.RetentionEvery, s.cfg.BackupTickEvery)
}

// Stop signals every loop and waits for in-flight passes to finish.
func (s *SchedulerService) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	log.Printf("[Scheduler] Stopped")
}

func (s *SchedulerService) loop(name string, every time.Duration, run func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				run(context.Background())
			}
		}
	}()
}

// runDuePolicies fires every scheduled policy whose cron expression matched
// a point between the previous tick and now. Missed windows within one tick
// fire once; windows missed across a restart do not fire retroactively.
func (s *SchedulerService) runDuePolicies(ctx context.Context) {
	now := s.now()
	since := s.lastTick
	s.lastTick = now

	policies, err := s.policyRepo.ListScheduled(ctx)
	if err != nil {
		log.Printf("[Scheduler] List scheduled policies failed: %v", err)
		return
	}

	for _, p := range policies {
		if p.Cron == nil {
			continue
		}

		schedule, err := cron.ParseStandard(*p.Cron)
		if err != nil {
			log.Printf("[Scheduler] Policy %s has invalid cron %q: %v", p.Name, *p.Cron, err)
			continue
		}

		if next := schedule.Next(since); next.After(now) {
			continue
		}

		log.Printf("[Scheduler] Running backup policy %s", p.Name)
		if _, err := s.backups.RunPolicy(ctx, p.ID); err != nil {
			log.Printf("[Scheduler] Backup policy %s failed: %v", p.Name, err)
		}
	}
}
