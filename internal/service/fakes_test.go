package service

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/wenwu/saas-platform/vps-service/internal/client"
	"github.com/wenwu/saas-platform/vps-service/internal/models"
	"github.com/wenwu/saas-platform/vps-service/internal/repository"
	"github.com/wenwu/saas-platform/vps-service/internal/storage"
)

// In-memory fakes standing in for the pgx repositories and the hypervisor
// client.

type fakeOrderStore struct {
	orders     map[string]*models.Order
	paidOrders []string
}

func newFakeOrderStore(orders ...*models.Order) *fakeOrderStore {
	s := &fakeOrderStore{orders: make(map[string]*models.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeOrderStore) Create(ctx context.Context, o *models.Order) error {
	s.orders[o.ID] = o
	return nil
}

func (s *fakeOrderStore) GetByID(ctx context.Context, id string) (*models.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return o, nil
}

func (s *fakeOrderStore) GetByExternalID(ctx context.Context, externalID string) (*models.Order, error) {
	for _, o := range s.orders {
		if o.ExternalID == externalID {
			return o, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeOrderStore) SetInvoice(ctx context.Context, id, invoiceID, invoiceURL string, expiresAt *time.Time) error {
	o := s.orders[id]
	o.InvoiceID = &invoiceID
	o.InvoiceURL = &invoiceURL
	o.InvoiceExpired = expiresAt
	return nil
}

func (s *fakeOrderStore) UpdateStatus(ctx context.Context, id, status string) error {
	s.orders[id].Status = status
	return nil
}

func (s *fakeOrderStore) MarkPaid(ctx context.Context, o *models.Order, paidAt time.Time) error {
	stored := s.orders[o.ID]
	stored.Status = models.OrderPaid
	stored.PaidAt = &paidAt
	s.paidOrders = append(s.paidOrders, o.ID)
	return nil
}

type fakeVPSStore struct {
	instances map[string]*models.VPS
	overdue   []*repository.OverdueVPS
}

func newFakeVPSStore(instances ...*models.VPS) *fakeVPSStore {
	s := &fakeVPSStore{instances: make(map[string]*models.VPS)}
	for _, v := range instances {
		s.instances[v.ID] = v
	}
	return s
}

func (s *fakeVPSStore) Create(ctx context.Context, v *models.VPS) error {
	s.instances[v.ID] = v
	return nil
}

func (s *fakeVPSStore) GetByID(ctx context.Context, id string) (*models.VPS, error) {
	v, ok := s.instances[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return v, nil
}

func (s *fakeVPSStore) GetByOrderID(ctx context.Context, orderID string) (*models.VPS, error) {
	for _, v := range s.instances {
		if v.OrderID == orderID {
			return v, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeVPSStore) GetByClientID(ctx context.Context, clientID string) ([]*models.VPS, error) {
	var out []*models.VPS
	for _, v := range s.instances {
		if v.ClientID == clientID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *fakeVPSStore) UpdateStatus(ctx context.Context, id, status string, deletedAt *time.Time) error {
	v, ok := s.instances[id]
	if !ok {
		return repository.ErrNotFound
	}
	v.Status = status
	v.DeletedAt = deletedAt
	return nil
}

func (s *fakeVPSStore) UpdateTemplate(ctx context.Context, id, templateID string) error {
	v, ok := s.instances[id]
	if !ok {
		return repository.ErrNotFound
	}
	v.TemplateID = templateID
	v.Status = models.VPSRunning
	return nil
}

func (s *fakeVPSStore) ListOverdue(ctx context.Context, now time.Time) ([]*repository.OverdueVPS, error) {
	return s.overdue, nil
}

type fakeHypervisorStore struct {
	byID     map[string]*models.Hypervisor
	byRegion map[string]*models.Hypervisor
	masters  map[string]*models.Hypervisor
}

func newFakeHypervisorStore() *fakeHypervisorStore {
	return &fakeHypervisorStore{
		byID:     make(map[string]*models.Hypervisor),
		byRegion: make(map[string]*models.Hypervisor),
		masters:  make(map[string]*models.Hypervisor),
	}
}

func (s *fakeHypervisorStore) add(hv *models.Hypervisor) *fakeHypervisorStore {
	s.byID[hv.ID] = hv
	s.byRegion[hv.RegionID] = hv
	if hv.IsMaster {
		s.masters[hv.RegionID] = hv
	}
	return s
}

func (s *fakeHypervisorStore) GetByID(ctx context.Context, id string) (*models.Hypervisor, error) {
	hv, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return hv, nil
}

func (s *fakeHypervisorStore) FirstOnlineInRegion(ctx context.Context, regionID string) (*models.Hypervisor, error) {
	hv, ok := s.byRegion[regionID]
	if !ok || hv.Status != models.HypervisorOnline {
		return nil, repository.ErrNotFound
	}
	return hv, nil
}

func (s *fakeHypervisorStore) GetMasterByRegion(ctx context.Context, regionID string) (*models.Hypervisor, error) {
	hv, ok := s.masters[regionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return hv, nil
}

func (s *fakeHypervisorStore) ListByRegion(ctx context.Context, regionID string) ([]*models.Hypervisor, error) {
	if hv, ok := s.byRegion[regionID]; ok {
		return []*models.Hypervisor{hv}, nil
	}
	return nil, nil
}

type fakeTemplateStore struct {
	templates map[string]*models.Template
	upserted  []*models.Template
}

func newFakeTemplateStore(templates ...*models.Template) *fakeTemplateStore {
	s := &fakeTemplateStore{templates: make(map[string]*models.Template)}
	for _, t := range templates {
		s.templates[t.ID] = t
	}
	return s
}

func (s *fakeTemplateStore) GetByID(ctx context.Context, id string) (*models.Template, error) {
	t, ok := s.templates[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

func (s *fakeTemplateStore) GetActiveByID(ctx context.Context, id string) (*models.Template, error) {
	t, ok := s.templates[id]
	if !ok || !t.IsActive {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

func (s *fakeTemplateStore) FirstForHypervisor(ctx context.Context, hypervisorID string) (*models.Template, error) {
	for _, t := range s.templates {
		if t.HypervisorID == hypervisorID && t.IsActive {
			return t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeTemplateStore) Upsert(ctx context.Context, t *models.Template) error {
	s.upserted = append(s.upserted, t)
	return nil
}

type fakeIPStore struct {
	ips      map[string]*models.IPAddress
	pool     []*models.IPAddress
	released []string
}

func newFakeIPStore(available ...*models.IPAddress) *fakeIPStore {
	s := &fakeIPStore{ips: make(map[string]*models.IPAddress)}
	for _, ip := range available {
		s.ips[ip.ID] = ip
		s.pool = append(s.pool, ip)
	}
	return s
}

func (s *fakeIPStore) GetByID(ctx context.Context, id string) (*models.IPAddress, error) {
	ip, ok := s.ips[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ip, nil
}

func (s *fakeIPStore) ClaimAvailable(ctx context.Context, regionID string) (*models.IPAddress, error) {
	for i, ip := range s.pool {
		if ip.RegionID == regionID && ip.Status == models.IPAvailable {
			ip.Status = models.IPUsed
			s.pool = append(s.pool[:i], s.pool[i+1:]...)
			return ip, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeIPStore) Release(ctx context.Context, id string) error {
	if ip, ok := s.ips[id]; ok {
		ip.Status = models.IPAvailable
		s.pool = append(s.pool, ip)
	}
	s.released = append(s.released, id)
	return nil
}

type fakeRegionStore struct {
	regions map[string]*models.Region
}

func newFakeRegionStore(regions ...*models.Region) *fakeRegionStore {
	s := &fakeRegionStore{regions: make(map[string]*models.Region)}
	for _, r := range regions {
		s.regions[r.Name] = r
	}
	return s
}

func (s *fakeRegionStore) GetByName(ctx context.Context, name string) (*models.Region, error) {
	r, ok := s.regions[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r, nil
}

func (s *fakeRegionStore) GetAll(ctx context.Context) ([]*models.Region, error) {
	var out []*models.Region
	for _, r := range s.regions {
		out = append(out, r)
	}
	return out, nil
}

type fakePricingStore struct {
	pricings map[string]*models.ProductPricing
	promos   map[string]*models.Promo
	usage    map[string]int
}

func newFakePricingStore() *fakePricingStore {
	return &fakePricingStore{
		pricings: make(map[string]*models.ProductPricing),
		promos:   make(map[string]*models.Promo),
		usage:    make(map[string]int),
	}
}

func (s *fakePricingStore) GetPricing(ctx context.Context, id string) (*models.ProductPricing, error) {
	p, ok := s.pricings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (s *fakePricingStore) GetPromo(ctx context.Context, id string) (*models.Promo, error) {
	p, ok := s.promos[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (s *fakePricingStore) CountPromoUsage(ctx context.Context, promoID, clientID string) (int, error) {
	return s.usage[promoID+"/"+clientID], nil
}

type loggedAction struct {
	vpsID, action, status, message string
}

type fakeLogStore struct {
	mu      sync.Mutex
	actions []loggedAction
}

func (s *fakeLogStore) LogAction(ctx context.Context, vpsID, action, status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, loggedAction{vpsID, action, status, message})
	return nil
}

// fakeProxmox records hypervisor calls and returns scripted results.
type fakeProxmox struct {
	nextVMID   int
	nextErr    error
	cloneErr   error
	startErr   error
	stopErr    error
	deleteErr  error
	statusErr  error
	statuses   []string // consumed by successive Status calls; last repeats
	templates  []models.NodeTemplate
	stats      []models.NodeStat
	statusIdx  int
	cloneCalls []client.CloneSpec
	deleted    []int
	stopped    []int
	started    []int
	rebooted   []int
	rebootErr  error

	// Cluster nodes each call targeted, in call order.
	statusNodes []string
	stopNodes   []string
	deleteNodes []string
}

func (f *fakeProxmox) Status(ctx context.Context, hv *models.Hypervisor, node string, vmid int) (string, error) {
	f.statusNodes = append(f.statusNodes, node)
	if f.statusErr != nil {
		return "", f.statusErr
	}
	if len(f.statuses) == 0 {
		return client.StateRunning, nil
	}
	state := f.statuses[f.statusIdx]
	if f.statusIdx < len(f.statuses)-1 {
		f.statusIdx++
	}
	return state, nil
}

func (f *fakeProxmox) NextVMID(ctx context.Context, hv *models.Hypervisor) (int, error) {
	if f.nextErr != nil {
		return 0, f.nextErr
	}
	return f.nextVMID, nil
}

func (f *fakeProxmox) Clone(ctx context.Context, hv *models.Hypervisor, spec client.CloneSpec) error {
	if f.cloneErr != nil {
		return f.cloneErr
	}
	f.cloneCalls = append(f.cloneCalls, spec)
	return nil
}

func (f *fakeProxmox) Start(ctx context.Context, hv *models.Hypervisor, node string, vmid int) error {
	f.started = append(f.started, vmid)
	return f.startErr
}

func (f *fakeProxmox) Stop(ctx context.Context, hv *models.Hypervisor, node string, vmid int) error {
	f.stopped = append(f.stopped, vmid)
	f.stopNodes = append(f.stopNodes, node)
	return f.stopErr
}

func (f *fakeProxmox) Reboot(ctx context.Context, hv *models.Hypervisor, node string, vmid int) error {
	f.rebooted = append(f.rebooted, vmid)
	return f.rebootErr
}

func (f *fakeProxmox) Delete(ctx context.Context, hv *models.Hypervisor, node string, vmid int) error {
	f.deleteNodes = append(f.deleteNodes, node)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, vmid)
	return nil
}

func (f *fakeProxmox) Templates(ctx context.Context, hv *models.Hypervisor) ([]models.NodeTemplate, error) {
	return f.templates, nil
}

func (f *fakeProxmox) NodeStats(ctx context.Context, hv *models.Hypervisor) ([]models.NodeStat, error) {
	return f.stats, nil
}

type fakePolicyStore struct {
	policies map[string]*models.BackupPolicy
}

func newFakePolicyStore(policies ...*models.BackupPolicy) *fakePolicyStore {
	s := &fakePolicyStore{policies: make(map[string]*models.BackupPolicy)}
	for _, p := range policies {
		s.policies[p.ID] = p
	}
	return s
}

func (s *fakePolicyStore) GetByID(ctx context.Context, id string) (*models.BackupPolicy, error) {
	p, ok := s.policies[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (s *fakePolicyStore) ListScheduled(ctx context.Context) ([]*models.BackupPolicy, error) {
	var out []*models.BackupPolicy
	for _, p := range s.policies {
		if p.Cron != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeHistoryStore struct {
	histories map[string]*models.BackupHistory
	usedBytes int64
	dayCount  int
	expired   []*repository.ExpiredBackup
	deleted   []string
}

func newFakeHistoryStore() *fakeHistoryStore {
	return &fakeHistoryStore{histories: make(map[string]*models.BackupHistory)}
}

func (s *fakeHistoryStore) Create(ctx context.Context, h *models.BackupHistory) error {
	s.histories[h.ID] = h
	return nil
}

func (s *fakeHistoryStore) GetByID(ctx context.Context, id string) (*models.BackupHistory, error) {
	h, ok := s.histories[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return h, nil
}

func (s *fakeHistoryStore) SumSizeForPolicy(ctx context.Context, policyID string) (int64, error) {
	return s.usedBytes, nil
}

func (s *fakeHistoryStore) CountSince(ctx context.Context, policyID string, since time.Time) (int, error) {
	count := s.dayCount
	for _, h := range s.histories {
		if h.PolicyID != nil && *h.PolicyID == policyID && h.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (s *fakeHistoryStore) ListExpired(ctx context.Context, now time.Time) ([]*repository.ExpiredBackup, error) {
	return s.expired, nil
}

func (s *fakeHistoryStore) Delete(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	delete(s.histories, id)
	return nil
}

func (s *fakeHistoryStore) UpdateStatus(ctx context.Context, id, status string, vpsID *string) error {
	h, ok := s.histories[id]
	if !ok {
		return repository.ErrNotFound
	}
	h.Status = status
	if vpsID != nil {
		h.VPSID = vpsID
	}
	return nil
}

type fakeStorageStore struct {
	storages map[string]*models.BackupStorage
	statuses map[string]string
}

func newFakeStorageStore(storages ...*models.BackupStorage) *fakeStorageStore {
	s := &fakeStorageStore{
		storages: make(map[string]*models.BackupStorage),
		statuses: make(map[string]string),
	}
	for _, st := range storages {
		s.storages[st.ID] = st
	}
	return s
}

func (s *fakeStorageStore) Create(ctx context.Context, st *models.BackupStorage) error {
	if len(s.storages) == 0 {
		st.StorageType = models.StoragePrimary
		st.IsDefault = true
	} else {
		st.StorageType = models.StorageSecondary
	}
	st.Status = models.StorageInactive
	s.storages[st.ID] = st
	return nil
}

func (s *fakeStorageStore) GetByID(ctx context.Context, id string) (*models.BackupStorage, error) {
	st, ok := s.storages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return st, nil
}

func (s *fakeStorageStore) GetAll(ctx context.Context) ([]*models.BackupStorage, error) {
	var out []*models.BackupStorage
	for _, st := range s.storages {
		out = append(out, st)
	}
	return out, nil
}

func (s *fakeStorageStore) GetDefault(ctx context.Context) (*models.BackupStorage, error) {
	for _, st := range s.storages {
		if st.IsDefault && st.Status == models.StorageActive {
			return st, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeStorageStore) FirstActiveByType(ctx context.Context, storageType string) (*models.BackupStorage, error) {
	for _, st := range s.storages {
		if st.StorageType == storageType && st.Status == models.StorageActive {
			return st, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeStorageStore) SetDefault(ctx context.Context, id string) error {
	if _, ok := s.storages[id]; !ok {
		return repository.ErrNotFound
	}
	for _, st := range s.storages {
		st.IsDefault = st.ID == id
	}
	return nil
}

func (s *fakeStorageStore) UpdateStatus(ctx context.Context, id, status string, usedSpaceMB int64) error {
	st, ok := s.storages[id]
	if !ok {
		return repository.ErrNotFound
	}
	st.Status = status
	st.UsedSpaceMB = usedSpaceMB
	s.statuses[id] = status
	return nil
}

func (s *fakeStorageStore) Delete(ctx context.Context, id string) error {
	delete(s.storages, id)
	return nil
}

// fakeProvider keeps uploads in memory.
type fakeProvider struct {
	objects  map[string][]byte
	storeErr error
	pingErr  error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{objects: make(map[string][]byte)}
}

func (p *fakeProvider) Store(ctx context.Context, localPath, remotePath string) error {
	if p.storeErr != nil {
		return p.storeErr
	}
	data, err := readFile(localPath)
	if err != nil {
		return err
	}
	p.objects[remotePath] = data
	return nil
}

func (p *fakeProvider) Fetch(ctx context.Context, remotePath, localPath string) error {
	data, ok := p.objects[remotePath]
	if !ok {
		return repository.ErrNotFound
	}
	return writeFile(localPath, data)
}

func (p *fakeProvider) Delete(ctx context.Context, remotePath string) error {
	delete(p.objects, remotePath)
	return nil
}

func (p *fakeProvider) UsedBytes(ctx context.Context) (int64, error) {
	var total int64
	for _, data := range p.objects {
		total += int64(len(data))
	}
	return total, nil
}

func (p *fakeProvider) Ping(ctx context.Context) error {
	return p.pingErr
}

func fixedProviders(p storage.Provider) providerFactory {
	return func(st *models.BackupStorage) (storage.Provider, error) {
		return p, nil
	}
}

func readFile(path string) ([]byte, error)     { return os.ReadFile(path) }
func writeFile(path string, data []byte) error { return os.WriteFile(path, data, 0o600) }

func strPtr(s string) *string { return &s }

type fakeInvoicer struct {
	invoice   *client.Invoice
	createErr error
	getErr    error
	requests  []*client.CreateInvoiceRequest
	fetched   []string
}

func (f *fakeInvoicer) CreateInvoice(ctx context.Context, req *client.CreateInvoiceRequest) (*client.Invoice, error) {
	f.requests = append(f.requests, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.invoice, nil
}

func (f *fakeInvoicer) GetInvoice(ctx context.Context, invoiceID string) (*client.Invoice, error) {
	f.fetched = append(f.fetched, invoiceID)
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.invoice, nil
}
