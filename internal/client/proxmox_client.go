package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wenwu/saas-platform/vps-service/internal/crypto"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

// VM power states reported by the hypervisor
const (
	StateRunning = "running"
	StateStopped = "stopped"
)

// Task failures are distinct error kinds so operators can tell "the
// hypervisor rejected the operation" from "the hypervisor is unresponsive".
var (
	ErrTaskFailed  = errors.New("hypervisor task failed")
	ErrTaskTimeout = errors.New("timeout waiting for hypervisor task")
)

// CloneSpec describes a full clone of a template into a new VM.
type CloneSpec struct {
	TemplateNode string
	TemplateVMID int
	VMID         int
	CPU          int
	RAMMB        int
	DiskGB       int
	Bandwidth    int
	IP           string
	Netmask      string
	Gateway      string
}

// ProxmoxClient wraps one Proxmox-style control API. It is stateless: every
// call carries the hypervisor row whose host/credential it should target.
type ProxmoxClient struct {
	port        int
	cipher      *crypto.TokenCipher
	httpClient  *http.Client
	pollEvery   time.Duration
	taskTimeout time.Duration
}

// NewProxmoxClient creates a new hypervisor client. When caFile is empty,
// TLS verification is disabled (self-signed cluster certificates).
func NewProxmoxClient(port int, caFile string, cipher *crypto.TokenCipher, pollEvery, taskTimeout time.Duration) (*ProxmoxClient, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: true}

	if caFile != "" {
		ca, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read root ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("invalid root ca in %s", caFile)
		}
		tlsConfig = &tls.Config{RootCAs: pool}
	} else {
		log.Printf("[ProxmoxClient] PROXMOX_ROOT_CA not set, TLS verification disabled")
	}

	return &ProxmoxClient{
		port:        port,
		cipher:      cipher,
		pollEvery:   pollEvery,
		taskTimeout: taskTimeout,
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
	}, nil
}

func (c *ProxmoxClient) authHeader(hv *models.Hypervisor) (string, error) {
	token, err := c.cipher.Decrypt(hv.Token)
	if err != nil {
		return "", fmt.Errorf("decrypt hypervisor token: %w", err)
	}
	if token == "" {
		return "", fmt.Errorf("empty hypervisor token")
	}

	// Tokens stored as "user@realm!tokenid=secret" are already complete;
	// bare secrets get the stored username prepended.
	if !strings.Contains(token, "!") {
		token = hv.Username + "!" + token
	}

	return "PVEAPIToken=" + token, nil
}

// do performs one API call and decodes the "data" envelope into out.
func (c *ProxmoxClient) do(ctx context.Context, hv *models.Hypervisor, method, path string, body any, out any) error {
	auth, err := c.authHeader(hv)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = strings.NewReader(string(raw))
	}

	endpoint := fmt.Sprintf("https://%s:%d/api2/json%s", hv.Host, c.port, path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", auth)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("hypervisor returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		envelope := struct {
			Data json.RawMessage `json:"data"`
		}{}
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return fmt.Errorf("decode response: %w (body: %s)", err, string(respBody))
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}

	return nil
}

type taskStatus struct {
	Status     string `json:"status"`
	ExitStatus string `json:"exitstatus"`
}

// waitForTask polls a UPID every pollEvery until the task reaches terminal
// state, failing with ErrTaskTimeout once the deadline passes. An empty UPID
// means the operation completed synchronously.
func (c *ProxmoxClient) waitForTask(ctx context.Context, hv *models.Hypervisor, node, upid string, timeout time.Duration) error {
	if upid == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = c.taskTimeout
	}

	deadline := time.Now().Add(timeout)
	path := fmt.Sprintf("/nodes/%s/tasks/%s/status", node, url.PathEscape(upid))

	for {
		var task taskStatus
		if err := c.do(ctx, hv, http.MethodGet, path, nil, &task); err != nil {
			return fmt.Errorf("poll task %s: %w", upid, err)
		}

		if task.Status == StateStopped {
			if task.ExitStatus != "OK" {
				return fmt.Errorf("%w: %s", ErrTaskFailed, task.ExitStatus)
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrTaskTimeout, upid)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollEvery):
		}
	}
}

// Status reports the current power state of a VM.
func (c *ProxmoxClient) Status(ctx context.Context, hv *models.Hypervisor, node string, vmid int) (string, error) {
	var current struct {
		Status string `json:"status"`
	}
	path := fmt.Sprintf("/nodes/%s/qemu/%d/status/current", node, vmid)
	if err := c.do(ctx, hv, http.MethodGet, path, nil, &current); err != nil {
		return "", err
	}
	return current.Status, nil
}

// NextVMID asks the cluster for the next free provider-native VM id.
func (c *ProxmoxClient) NextVMID(ctx context.Context, hv *models.Hypervisor) (int, error) {
	var raw string
	if err := c.do(ctx, hv, http.MethodGet, "/cluster/nextid", nil, &raw); err != nil {
		return 0, err
	}

	vmid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse next vmid %q: %w", raw, err)
	}
	return vmid, nil
}

// Clone materializes a VM from a template: clone, resize disk, apply
// configuration, power on. Each step's task must finish before the next
// begins; a failure names the step so half-configured machines are never
// reported as running.
func (c *ProxmoxClient) Clone(ctx context.Context, hv *models.Hypervisor, spec CloneSpec) error {
	node := spec.TemplateNode

	var upid string
	clonePath := fmt.Sprintf("/nodes/%s/qemu/%d/clone", node, spec.TemplateVMID)
	if err := c.do(ctx, hv, http.MethodPost, clonePath, map[string]any{"newid": spec.VMID, "full": 1}, &upid); err != nil {
		return fmt.Errorf("clone step clone: %w", err)
	}
	if err := c.waitForTask(ctx, hv, node, upid, 0); err != nil {
		return fmt.Errorf("clone step clone: %w", err)
	}

	if err := c.Resize(ctx, hv, node, spec.VMID, spec.DiskGB); err != nil {
		return fmt.Errorf("clone step resize: %w", err)
	}

	if err := c.Configure(ctx, hv, node, spec.VMID, spec); err != nil {
		return fmt.Errorf("clone step configure: %w", err)
	}

	if err := c.Start(ctx, hv, node, spec.VMID); err != nil {
		return fmt.Errorf("clone step start: %w", err)
	}

	return nil
}

// Resize grows the VM's primary disk to diskGB.
func (c *ProxmoxClient) Resize(ctx context.Context, hv *models.Hypervisor, node string, vmid, diskGB int) error {
	var upid string
	path := fmt.Sprintf("/nodes/%s/qemu/%d/resize", node, vmid)
	body := map[string]any{"disk": "scsi0", "size": fmt.Sprintf("%dG", diskGB)}
	if err := c.do(ctx, hv, http.MethodPut, path, body, &upid); err != nil {
		return err
	}
	return c.waitForTask(ctx, hv, node, upid, 0)
}

// Configure applies cpu/ram/network sizing and the IP assignment.
func (c *ProxmoxClient) Configure(ctx context.Context, hv *models.Hypervisor, node string, vmid int, spec CloneSpec) error {
	path := fmt.Sprintf("/nodes/%s/qemu/%d/config", node, vmid)
	body := map[string]any{
		"cores":     spec.CPU,
		"memory":    spec.RAMMB,
		"net0":      fmt.Sprintf("virtio,bridge=vmbr0,rate=%d", spec.Bandwidth),
		"ipconfig0": fmt.Sprintf("ip=%s/%s,gw=%s", spec.IP, spec.Netmask, spec.Gateway),
	}
	return c.do(ctx, hv, http.MethodPut, path, body, nil)
}

// Start powers a VM on.
func (c *ProxmoxClient) Start(ctx context.Context, hv *models.Hypervisor, node string, vmid int) error {
	return c.power(ctx, hv, node, vmid, "start")
}

// Stop powers a VM off.
func (c *ProxmoxClient) Stop(ctx context.Context, hv *models.Hypervisor, node string, vmid int) error {
	return c.power(ctx, hv, node, vmid, "stop")
}

// Reboot restarts a VM.
func (c *ProxmoxClient) Reboot(ctx context.Context, hv *models.Hypervisor, node string, vmid int) error {
	return c.power(ctx, hv, node, vmid, "reboot")
}

func (c *ProxmoxClient) power(ctx context.Context, hv *models.Hypervisor, node string, vmid int, op string) error {
	path := fmt.Sprintf("/nodes/%s/qemu/%d/status/%s", node, vmid, op)
	return c.do(ctx, hv, http.MethodPost, path, map[string]any{}, nil)
}

// Delete destroys a VM on the hypervisor and waits for the task to finish.
func (c *ProxmoxClient) Delete(ctx context.Context, hv *models.Hypervisor, node string, vmid int) error {
	var upid string
	path := fmt.Sprintf("/nodes/%s/qemu/%d", node, vmid)
	if err := c.do(ctx, hv, http.MethodDelete, path, nil, &upid); err != nil {
		return fmt.Errorf("delete vm %d: %w", vmid, err)
	}
	return c.waitForTask(ctx, hv, node, upid, 0)
}

type nodeEntry struct {
	Node string `json:"node"`
}

type vmEntry struct {
	VMID     int    `json:"vmid"`
	Name     string `json:"name"`
	Template int    `json:"template"`
}

// Templates scans every node for qemu and lxc templates.
func (c *ProxmoxClient) Templates(ctx context.Context, hv *models.Hypervisor) ([]models.NodeTemplate, error) {
	var nodes []nodeEntry
	if err := c.do(ctx, hv, http.MethodGet, "/nodes", nil, &nodes); err != nil {
		return nil, err
	}

	var templates []models.NodeTemplate
	for _, n := range nodes {
		for _, kind := range []string{models.TemplateKindQemu, models.TemplateKindLXC} {
			var vms []vmEntry
			path := fmt.Sprintf("/nodes/%s/%s", n.Node, kind)
			if err := c.do(ctx, hv, http.MethodGet, path, nil, &vms); err != nil {
				return nil, fmt.Errorf("list %s on %s: %w", kind, n.Node, err)
			}

			for _, vm := range vms {
				if vm.Template != 1 {
					continue
				}
				name := vm.Name
				if name == "" {
					name = fmt.Sprintf("%s-%d", strings.ToUpper(kind), vm.VMID)
				}
				templates = append(templates, models.NodeTemplate{
					Node: n.Node,
					VMID: vm.VMID,
					Name: name,
					Kind: kind,
				})
			}
		}
	}

	return templates, nil
}

// NodeStats reports per-node utilization for operator dashboards.
func (c *ProxmoxClient) NodeStats(ctx context.Context, hv *models.Hypervisor) ([]models.NodeStat, error) {
	var nodes []nodeEntry
	if err := c.do(ctx, hv, http.MethodGet, "/nodes", nil, &nodes); err != nil {
		return nil, err
	}

	var stats []models.NodeStat
	for _, n := range nodes {
		var s struct {
			CPU    float64 `json:"cpu"`
			Memory struct {
				Used  float64 `json:"used"`
				Total float64 `json:"total"`
			} `json:"memory"`
			RootFS struct {
				Used  float64 `json:"used"`
				Total float64 `json:"total"`
			} `json:"rootfs"`
		}
		path := fmt.Sprintf("/nodes/%s/status", n.Node)
		if err := c.do(ctx, hv, http.MethodGet, path, nil, &s); err != nil {
			return nil, fmt.Errorf("node status %s: %w", n.Node, err)
		}

		stats = append(stats, models.NodeStat{
			Node:        n.Node,
			CPUPercent:  s.CPU * 100,
			RAMUsedMB:   s.Memory.Used / 1024 / 1024,
			RAMTotalMB:  s.Memory.Total / 1024 / 1024,
			DiskUsedGB:  s.RootFS.Used / 1024 / 1024 / 1024,
			DiskTotalGB: s.RootFS.Total / 1024 / 1024 / 1024,
		})
	}

	return stats, nil
}
