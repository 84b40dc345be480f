package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

type reinstallFixture struct {
	vps     *fakeVPSStore
	hvs     *fakeHypervisorStore
	tpls    *fakeTemplateStore
	ips     *fakeIPStore
	logs    *fakeLogStore
	proxmox *fakeProxmox
	svc     *ReinstallService
}

func newReinstallFixture(statuses ...string) *reinstallFixture {
	f := &reinstallFixture{
		vps: newFakeVPSStore(&models.VPS{
			ID: "vps-1", ClientID: "cli-1", HypervisorID: "hv-1", TemplateID: "tpl-old",
			IPAddressID: "ip-1", VMID: 101, CPU: 2, RAMMB: 2048, DiskGB: 40, Bandwidth: 100,
			Status: models.VPSRunning,
		}),
		hvs: newFakeHypervisorStore(),
		tpls: newFakeTemplateStore(
			&models.Template{ID: "tpl-old", HypervisorID: "hv-1", Node: "pve1", VMID: 9000, Name: "debian-11", IsActive: true},
			&models.Template{ID: "tpl-new", HypervisorID: "hv-1", Node: "pve1", VMID: 9001, Name: "debian-12", IsActive: true},
		),
		ips:     newFakeIPStore(),
		logs:    &fakeLogStore{},
		proxmox: &fakeProxmox{statuses: statuses},
	}
	f.hvs.add(&models.Hypervisor{ID: "hv-1", RegionID: "reg-1", Name: "pve-jkt-1", Status: models.HypervisorOnline})
	f.ips.ips["ip-1"] = &models.IPAddress{
		ID: "ip-1", RegionID: "reg-1", IP: "10.0.0.5",
		Netmask: strPtr("24"), Gateway: strPtr("10.0.0.1"), Status: models.IPUsed,
	}

	f.svc = NewReinstallService(f.vps, f.hvs, f.tpls, f.ips, f.logs, f.proxmox, 50*time.Millisecond)
	f.svc.pollEvery = time.Millisecond
	return f
}

func TestReinstallStopsDeletesAndRebuilds(t *testing.T) {
	f := newReinstallFixture("running", "stopped")

	err := f.svc.Reinstall(context.Background(), "vps-1", "tpl-new")
	require.NoError(t, err)

	assert.Equal(t, []int{101}, f.proxmox.stopped)
	assert.Equal(t, []int{101}, f.proxmox.deleted)

	require.Len(t, f.proxmox.cloneCalls, 1)
	spec := f.proxmox.cloneCalls[0]
	assert.Equal(t, 101, spec.VMID, "vm id must survive reinstall")
	assert.Equal(t, "10.0.0.5", spec.IP, "ip must survive reinstall")
	assert.Equal(t, 9001, spec.TemplateVMID)

	vps, _ := f.vps.GetByID(context.Background(), "vps-1")
	assert.Equal(t, "tpl-new", vps.TemplateID)
	assert.Equal(t, models.VPSRunning, vps.Status)
}

func TestReinstallSkipsStopWhenAlreadyDown(t *testing.T) {
	f := newReinstallFixture("stopped")

	err := f.svc.Reinstall(context.Background(), "vps-1", "tpl-new")
	require.NoError(t, err)

	assert.Empty(t, f.proxmox.stopped)
	assert.Equal(t, []int{101}, f.proxmox.deleted)
}

func TestReinstallStopTimeout(t *testing.T) {
	f := newReinstallFixture("running")

	err := f.svc.Reinstall(context.Background(), "vps-1", "tpl-new")
	assert.ErrorIs(t, err, ErrStopTimeout)

	// Nothing destructive may happen after a failed stop.
	assert.Empty(t, f.proxmox.deleted)
	assert.Empty(t, f.proxmox.cloneCalls)
}

func TestReinstallAbortsWhenDeleteFails(t *testing.T) {
	f := newReinstallFixture("stopped")
	f.proxmox.deleteErr = errors.New("task failed: disk busy")

	err := f.svc.Reinstall(context.Background(), "vps-1", "tpl-new")
	require.Error(t, err)

	assert.Empty(t, f.proxmox.cloneCalls)
	vps, _ := f.vps.GetByID(context.Background(), "vps-1")
	assert.Equal(t, "tpl-old", vps.TemplateID, "template must not change on failure")
}

func TestReinstallRejectsInactiveTemplate(t *testing.T) {
	f := newReinstallFixture("stopped")
	f.tpls.templates["tpl-new"].IsActive = false

	err := f.svc.Reinstall(context.Background(), "vps-1", "tpl-new")
	assert.ErrorIs(t, err, ErrNoTemplateAvailable)
}

func TestReinstallTargetsCurrentNodeAcrossCluster(t *testing.T) {
	f := newReinstallFixture("running", "stopped")
	f.tpls.templates["tpl-old"].Node = "pve-old"
	f.tpls.templates["tpl-new"].Node = "pve-new"

	err := f.svc.Reinstall(context.Background(), "vps-1", "tpl-new")
	require.NoError(t, err)

	// The VM lives on the node of its current template; stop, status polls
	// and delete must all land there.
	assert.Equal(t, []string{"pve-old"}, f.proxmox.stopNodes)
	assert.Equal(t, []string{"pve-old"}, f.proxmox.deleteNodes)
	for _, node := range f.proxmox.statusNodes {
		assert.Equal(t, "pve-old", node)
	}

	// Only the clone draws from the new template's node.
	require.Len(t, f.proxmox.cloneCalls, 1)
	assert.Equal(t, "pve-new", f.proxmox.cloneCalls[0].TemplateNode)
}

func TestReinstallRejectsIncompleteIPConfig(t *testing.T) {
	for _, tc := range []struct {
		name string
		mod  func(ip *models.IPAddress)
	}{
		{"nil gateway", func(ip *models.IPAddress) { ip.Gateway = nil }},
		{"empty gateway", func(ip *models.IPAddress) { ip.Gateway = strPtr("") }},
		{"nil netmask", func(ip *models.IPAddress) { ip.Netmask = nil }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newReinstallFixture("stopped")
			tc.mod(f.ips.ips["ip-1"])

			err := f.svc.Reinstall(context.Background(), "vps-1", "tpl-new")
			assert.ErrorIs(t, err, ErrIncompleteIPConfig)

			// Nothing destructive may run against a misconfigured machine.
			assert.Empty(t, f.proxmox.stopped)
			assert.Empty(t, f.proxmox.deleted)
		})
	}
}

func TestReinstallToleratesFailedStopCall(t *testing.T) {
	f := newReinstallFixture("running", "stopped")
	f.proxmox.stopErr = errors.New("connection reset")

	// The VM reports stopped on the next poll even though the stop call
	// errored; the workflow proceeds.
	err := f.svc.Reinstall(context.Background(), "vps-1", "tpl-new")
	require.NoError(t, err)
	assert.Equal(t, []int{101}, f.proxmox.deleted)
}
