package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wenwu/saas-platform/vps-service/internal/config"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

type recordingPolicyRunner struct {
	ran []string
}

func (r *recordingPolicyRunner) RunPolicy(ctx context.Context, policyID string) (*models.BackupHistory, error) {
	r.ran = append(r.ran, policyID)
	return &models.BackupHistory{ID: "bk"}, nil
}

func newSchedulerUnderTest(policies *fakePolicyStore, runner *recordingPolicyRunner) *SchedulerService {
	return NewSchedulerService(
		config.SchedulerConfig{
			LifecycleEvery:  time.Hour,
			RetentionEvery:  time.Hour,
			BackupTickEvery: time.Minute,
		},
		nil, nil, runner, policies, nil, nil,
	)
}

func TestRunDuePoliciesFiresMatchingCron(t *testing.T) {
	cron := "0 3 * * *" // daily at 03:00
	policies := newFakePolicyStore(&models.BackupPolicy{ID: "pol-1", Name: "nightly", Cron: &cron})
	runner := &recordingPolicyRunner{}
	s := newSchedulerUnderTest(policies, runner)

	// Tick window straddles 03:00.
	s.lastTick = time.Date(2026, 8, 20, 2, 59, 30, 0, time.UTC)
	s.now = func() time.Time { return time.Date(2026, 8, 20, 3, 0, 30, 0, time.UTC) }

	s.runDuePolicies(context.Background())
	assert.Equal(t, []string{"pol-1"}, runner.ran)
}

func TestRunDuePoliciesSkipsOutsideWindow(t *testing.T) {
	cron := "0 3 * * *"
	policies := newFakePolicyStore(&models.BackupPolicy{ID: "pol-1", Name: "nightly", Cron: &cron})
	runner := &recordingPolicyRunner{}
	s := newSchedulerUnderTest(policies, runner)

	s.lastTick = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return time.Date(2026, 8, 20, 12, 1, 0, 0, time.UTC) }

	s.runDuePolicies(context.Background())
	assert.Empty(t, runner.ran)
}

func TestRunDuePoliciesIgnoresInvalidCron(t *testing.T) {
	bad := "not a cron"
	good := "* * * * *"
	policies := newFakePolicyStore(
		&models.BackupPolicy{ID: "pol-bad", Name: "broken", Cron: &bad},
		&models.BackupPolicy{ID: "pol-good", Name: "minutely", Cron: &good},
	)
	runner := &recordingPolicyRunner{}
	s := newSchedulerUnderTest(policies, runner)

	s.lastTick = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return time.Date(2026, 8, 20, 12, 1, 0, 0, time.UTC) }

	s.runDuePolicies(context.Background())
	assert.Equal(t, []string{"pol-good"}, runner.ran)
}
