package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/shepherd-project/corral/internal/cluster"
	"github.com/shepherd-project/corral/internal/future"
	"github.com/shepherd-project/corral/internal/logger"
	"github.com/shepherd-project/corral/internal/metrics"
	"github.com/shepherd-project/corral/internal/storage"
)

var errCancelledDuringDeploy = errors.New("deployment cancelled before all instances started")

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Options configures a MemoryRegistry
type Options struct {
	Topology    *cluster.Topology
	Store       storage.Store // optional deployment history
	Logger      *logger.Logger
	Metrics     *metrics.Metrics
	EventBuffer int
}

// MemoryRegistry implements Registry in process memory.
// Placement is computed against the local view of the topology; only the
// instances assigned to the local node are run here.
// MemoryRegistry 使用内存实现 Registry
type MemoryRegistry struct {
	mu          sync.RWMutex
	deployments map[string]*deployment

	topology *cluster.Topology
	store    storage.Store
	log      *logger.Logger
	metrics  *metrics.Metrics

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSub     int
	eventBuffer int
	closed      bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

type deployment struct {
	mode  Mode
	cfg   Configuration
	desc  *Descriptor
	ready *future.Future

	mu        sync.Mutex
	instances []*instance
	cancelled bool
	// retired is set when the name is released; history and events for
	// this deployment are final from then on
	retired bool
}

type instance struct {
	svc Service
	sc  *ServiceContext
}

// NewMemoryRegistry creates a new in-memory registry
// NewMemoryRegistry 创建新的内存注册表
func NewMemoryRegistry(opts Options) *MemoryRegistry {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}
	topology := opts.Topology
	if topology == nil {
		topology = cluster.NewTopology(&cluster.Node{ID: uuid.New()})
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &MemoryRegistry{
		deployments: make(map[string]*deployment),
		topology:    topology,
		store:       opts.Store,
		log:         log,
		metrics:     opts.Metrics,
		subscribers: make(map[int]chan Event),
		eventBuffer: buffer,
		baseCtx:     ctx,
		baseCancel:  cancel,
	}
}

// DeployNodeSingleton places one instance on every node of prj
func (r *MemoryRegistry) DeployNodeSingleton(prj cluster.Projection, name string, svc Service) *future.Future {
	return r.deploy(ModeNodeSingleton, prj, &Configuration{
		Name:            name,
		Service:         svc,
		MaxPerNodeCount: 1,
		NodeIDs:         prj.NodeIDs(),
	})
}

// DeployClusterSingleton places one instance on the lowest-ID node of prj
func (r *MemoryRegistry) DeployClusterSingleton(prj cluster.Projection, name string, svc Service) *future.Future {
	return r.deploy(ModeClusterSingleton, prj, &Configuration{
		Name:            name,
		Service:         svc,
		TotalCount:      1,
		MaxPerNodeCount: 1,
		NodeIDs:         prj.NodeIDs(),
	})
}

// DeployMultiple spreads instances over prj round-robin
func (r *MemoryRegistry) DeployMultiple(prj cluster.Projection, name string, svc Service, totalCount, maxPerNode int) *future.Future {
	return r.deploy(ModeMultiple, prj, &Configuration{
		Name:            name,
		Service:         svc,
		TotalCount:      totalCount,
		MaxPerNodeCount: maxPerNode,
		NodeIDs:         prj.NodeIDs(),
	})
}

// DeployKeyAffinitySingleton places one instance on the node owning the key
func (r *MemoryRegistry) DeployKeyAffinitySingleton(name string, svc Service, cacheName string, affinityKey any) *future.Future {
	return r.deploy(ModeKeyAffinity, cluster.All(), &Configuration{
		Name:            name,
		Service:         svc,
		TotalCount:      1,
		MaxPerNodeCount: 1,
		CacheName:       cacheName,
		AffinityKey:     affinityKey,
	})
}

// Deploy places the deployment described by cfg
func (r *MemoryRegistry) Deploy(cfg *Configuration) *future.Future {
	if cfg == nil {
		return future.Completed(newError(CodeInvalidConfiguration, "", "configuration is nil", nil))
	}
	cp := *cfg
	cp.NodeIDs = append([]uuid.UUID(nil), cfg.NodeIDs...)

	prj := cluster.All()
	if len(cp.NodeIDs) > 0 {
		prj = cluster.ForNodes(cp.NodeIDs...)
	}
	return r.deploy(ModeCustom, prj, &cp)
}

func validateConfiguration(cfg *Configuration) error {
	if err := getValidator().Struct(cfg); err != nil {
		return newError(CodeInvalidConfiguration, cfg.Name, "validation failed", err)
	}
	if cfg.TotalCount == 0 && cfg.MaxPerNodeCount == 0 {
		return newError(CodeInvalidConfiguration, cfg.Name, "totalCount or maxPerNodeCount must be positive", nil)
	}
	return nil
}

func (r *MemoryRegistry) deploy(mode Mode, prj cluster.Projection, cfg *Configuration) *future.Future {
	if err := validateConfiguration(cfg); err != nil {
		return future.Completed(err)
	}

	r.mu.Lock()
	if existing, ok := r.deployments[cfg.Name]; ok {
		r.mu.Unlock()
		if existing.mode == mode && existing.cfg.sameDeployment(cfg) {
			return existing.ready
		}
		return future.Completed(newError(CodeConflict, cfg.Name,
			"a different deployment already uses this name", nil))
	}

	nodes := prj.Resolve(r.topology)
	if cfg.AffinityKey != nil {
		if owner := affinityNode(nodes, cfg.CacheName, cfg.affinityString()); owner != nil {
			nodes = []*cluster.Node{owner}
		}
	}
	if len(nodes) == 0 {
		r.mu.Unlock()
		return future.Completed(newError(CodeNoNodes, cfg.Name, prj.String()+" resolves to no live nodes", nil))
	}

	topology, shortfall := assign(nodes, cfg.TotalCount, cfg.MaxPerNodeCount)
	d := &deployment{
		mode: mode,
		cfg:  *cfg,
		desc: &Descriptor{
			Name:            cfg.Name,
			Mode:            mode,
			ServiceType:     cfg.ServiceType(),
			TotalCount:      cfg.TotalCount,
			MaxPerNodeCount: cfg.MaxPerNodeCount,
			CacheName:       cfg.CacheName,
			AffinityKey:     cfg.affinityString(),
			OriginNodeID:    r.topology.LocalID(),
			Topology:        topology,
			Shortfall:       shortfall,
			DeployedAt:      time.Now(),
		},
		ready: future.New(),
	}
	r.deployments[cfg.Name] = d
	count := len(r.deployments)
	r.mu.Unlock()

	r.metrics.SetDeployments(count)
	if shortfall > 0 {
		r.log.WithFields(map[string]interface{}{
			"service":   cfg.Name,
			"shortfall": shortfall,
		}).Warn("部署容量不足,部分实例未能放置")
	}

	go r.activate(d)
	return d.ready
}

// activate runs the local instances of d and completes its future
func (r *MemoryRegistry) activate(d *deployment) {
	name := d.desc.Name
	local := d.desc.Topology[r.topology.LocalID()]

	for i := 0; i < local; i++ {
		if err := r.startInstance(d); err != nil {
			r.drop(d)
			d.stop(r.log)
			if errors.Is(err, errCancelledDuringDeploy) {
				d.ready.Complete(newError(CodeDeploymentFailed, name, "", err))
				return
			}
			r.publish(Event{Type: EventInstanceFailed, Name: name, Error: err.Error(), Time: time.Now()})
			r.log.WithError(err).WithField("service", name).Error("服务初始化失败")
			d.ready.Complete(newError(CodeDeploymentFailed, name, "service init failed", err))
			return
		}
	}

	d.mu.Lock()
	live := !d.cancelled && !d.retired
	if live {
		r.persist(d)
		r.publish(Event{Type: EventDeployed, Name: name, Time: d.desc.DeployedAt})
	}
	d.mu.Unlock()

	if !live {
		d.ready.Complete(newError(CodeDeploymentFailed, name, "", errCancelledDuringDeploy))
		return
	}
	r.log.Infof("服务已部署: 名称=%s, 模式=%s, 本地实例=%d", name, d.mode, local)
	d.ready.Complete(nil)
}

func (r *MemoryRegistry) startInstance(d *deployment) error {
	svc := d.cfg.Service
	sc := newServiceContext(r.baseCtx, d.desc.Name, d.desc.CacheName, d.desc.AffinityKey)

	if d.isCancelled() {
		sc.cancel()
		return errCancelledDuringDeploy
	}
	if err := initInstance(svc, sc); err != nil {
		sc.cancel()
		return err
	}

	d.mu.Lock()
	if d.cancelled || d.retired {
		d.mu.Unlock()
		cancelInstance(&instance{svc: svc, sc: sc}, r.log)
		return errCancelledDuringDeploy
	}
	d.instances = append(d.instances, &instance{svc: svc, sc: sc})
	d.mu.Unlock()

	go func() {
		if err := svc.Execute(sc); err != nil && !sc.IsCancelled() {
			r.log.WithError(err).WithFields(map[string]interface{}{
				"service":     sc.Name,
				"executionId": sc.ExecutionID.String(),
			}).Warn("服务实例异常退出")
			r.publish(Event{Type: EventInstanceFailed, Name: sc.Name, Error: err.Error(), Time: time.Now()})
		}
	}()
	return nil
}

// persist writes the deployment to the history store. Caller holds d.mu.
func (r *MemoryRegistry) persist(d *deployment) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveDeployment(r.baseCtx, toRecord(d.desc)); err != nil {
		r.log.WithError(err).WithField("service", d.desc.Name).Warn("保存部署记录失败")
	}
}

func toRecord(desc *Descriptor) *storage.DeploymentRecord {
	topology := make(map[string]int, len(desc.Topology))
	for id, n := range desc.Topology {
		topology[id.String()] = n
	}
	return &storage.DeploymentRecord{
		Name:            desc.Name,
		Mode:            string(desc.Mode),
		ServiceType:     desc.ServiceType,
		TotalCount:      desc.TotalCount,
		MaxPerNodeCount: desc.MaxPerNodeCount,
		CacheName:       desc.CacheName,
		AffinityKey:     desc.AffinityKey,
		OriginNodeID:    desc.OriginNodeID.String(),
		Topology:        topology,
		Status:          storage.StatusDeployed,
		DeployedAt:      desc.DeployedAt,
	}
}

// drop removes d from the registry if it is still the current deployment
func (r *MemoryRegistry) drop(d *deployment) {
	r.mu.Lock()
	if r.deployments[d.desc.Name] == d {
		delete(r.deployments, d.desc.Name)
	}
	count := len(r.deployments)
	r.mu.Unlock()
	r.metrics.SetDeployments(count)
}

// Cancel undeploys the named service if it is visible to prj
func (r *MemoryRegistry) Cancel(prj cluster.Projection, name string) *future.Future {
	r.mu.Lock()
	d, ok := r.deployments[name]
	if !ok || !prj.Intersects(d.desc.NodeIDs()) {
		r.mu.Unlock()
		return future.Completed(newError(CodeNotFound, name, "no such deployment", nil))
	}
	delete(r.deployments, name)
	r.release(d, time.Now())
	count := len(r.deployments)
	r.mu.Unlock()

	r.metrics.SetDeployments(count)
	return future.Go(func() error {
		r.retire(d)
		return nil
	})
}

// CancelAll undeploys every service visible to prj
func (r *MemoryRegistry) CancelAll(prj cluster.Projection) *future.Future {
	r.mu.Lock()
	var victims []*deployment
	for name, d := range r.deployments {
		if prj.Intersects(d.desc.NodeIDs()) {
			victims = append(victims, d)
			delete(r.deployments, name)
		}
	}
	now := time.Now()
	for _, d := range victims {
		r.release(d, now)
	}
	count := len(r.deployments)
	r.mu.Unlock()

	r.metrics.SetDeployments(count)
	return future.Go(func() error {
		for _, d := range victims {
			r.retire(d)
		}
		return nil
	})
}

// release marks d retired, closes its history record and publishes the
// cancellation. Caller holds r.mu, so a redeploy of the same name cannot
// persist or publish before this returns.
func (r *MemoryRegistry) release(d *deployment, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.retired = true
	if r.store != nil {
		err := r.store.MarkCancelled(r.baseCtx, d.desc.Name, at)
		if err != nil && !errors.Is(err, storage.ErrDeploymentNotFound) {
			r.log.WithError(err).WithField("service", d.desc.Name).Warn("更新部署记录失败")
		}
	}
	r.publish(Event{Type: EventCancelled, Name: d.desc.Name, Time: at})
}

// retire stops the local instances of a released deployment
func (r *MemoryRegistry) retire(d *deployment) {
	d.stop(r.log)
	r.log.Infof("服务已取消: 名称=%s", d.desc.Name)
}

// DeployedServices returns descriptors visible to prj, sorted by name
func (r *MemoryRegistry) DeployedServices(prj cluster.Projection) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Descriptor, 0, len(r.deployments))
	for _, d := range r.deployments {
		if prj.Intersects(d.desc.NodeIDs()) {
			result = append(result, d.desc.clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// History returns persisted deployment records, newest first
func (r *MemoryRegistry) History(ctx context.Context, limit, offset int, activeOnly bool) ([]*storage.DeploymentRecord, error) {
	if r.store == nil {
		return []*storage.DeploymentRecord{}, nil
	}
	records, err := r.store.ListDeployments(ctx, limit, offset, activeOnly)
	if err != nil {
		return nil, newError(CodeStorage, "", "list deployment history", err)
	}
	return records, nil
}

// Subscribe returns a channel of registry events and a function that ends
// the subscription. Events are dropped for subscribers that fall behind.
func (r *MemoryRegistry) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, r.eventBuffer)

	r.subMu.Lock()
	if r.closed {
		r.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := r.nextSub
	r.nextSub++
	r.subscribers[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			defer r.subMu.Unlock()
			if _, ok := r.subscribers[id]; ok {
				delete(r.subscribers, id)
				close(ch)
			}
		})
	}
}

func (r *MemoryRegistry) publish(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for _, ch := range r.subscribers {
		select {
		case ch <- ev:
		default:
			r.log.Debugf("事件订阅者缓冲区已满,丢弃事件: %s %s", ev.Type, ev.Name)
		}
	}
}

// Close stops every local instance and ends all subscriptions. Deployment
// history is left as is: the deployments remain active on other nodes.
func (r *MemoryRegistry) Close() {
	r.mu.Lock()
	all := make([]*deployment, 0, len(r.deployments))
	for _, d := range r.deployments {
		all = append(all, d)
	}
	r.deployments = make(map[string]*deployment)
	r.mu.Unlock()

	for _, d := range all {
		d.stop(r.log)
	}
	r.baseCancel()
	r.metrics.SetDeployments(0)

	r.subMu.Lock()
	r.closed = true
	for id, ch := range r.subscribers {
		delete(r.subscribers, id)
		close(ch)
	}
	r.subMu.Unlock()

	r.log.Infof("注册表已关闭: 停止部署 %d 个", len(all))
}

func (d *deployment) isCancelled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelled || d.retired
}

// stop cancels every running instance of d once
func (d *deployment) stop(log *logger.Logger) {
	d.mu.Lock()
	if d.cancelled {
		d.mu.Unlock()
		return
	}
	d.cancelled = true
	instances := d.instances
	d.instances = nil
	d.mu.Unlock()

	for _, inst := range instances {
		cancelInstance(inst, log)
	}
}

// initInstance runs Init, turning a panic into an error
func initInstance(svc Service, sc *ServiceContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("service init panicked: %v", rec)
		}
	}()
	return svc.Init(sc)
}

func cancelInstance(inst *instance, log *logger.Logger) {
	defer inst.sc.cancel()
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("服务取消时发生 panic: 名称=%s, 错误=%v", inst.sc.Name, rec)
		}
	}()
	inst.svc.Cancel(inst.sc)
}
