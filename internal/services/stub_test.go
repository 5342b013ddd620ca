package services

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/shepherd-project/corral/internal/cluster"
	"github.com/shepherd-project/corral/internal/future"
	"github.com/shepherd-project/corral/internal/metrics"
	"github.com/shepherd-project/corral/internal/registry"
)

// countingGuard counts acquire/release pairs; err makes Acquire fail
type countingGuard struct {
	mu       sync.Mutex
	err      error
	acquires int
	releases int
}

func (g *countingGuard) Acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.acquires++
	return nil
}

func (g *countingGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releases++
}

func (g *countingGuard) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.acquires, g.releases
}

type registryCall struct {
	op  string
	prj cluster.Projection
}

// recordingRegistry records every call and returns result
type recordingRegistry struct {
	mu      sync.Mutex
	calls   []registryCall
	result  *future.Future
	panicOn string
	descs   []*registry.Descriptor
}

func (r *recordingRegistry) record(op string, prj cluster.Projection) *future.Future {
	r.mu.Lock()
	r.calls = append(r.calls, registryCall{op: op, prj: prj})
	r.mu.Unlock()
	if op == r.panicOn {
		panic("registry exploded in " + op)
	}
	return r.result
}

func (r *recordingRegistry) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingRegistry) DeployNodeSingleton(prj cluster.Projection, name string, svc registry.Service) *future.Future {
	return r.record(OpDeployNodeSingleton, prj)
}

func (r *recordingRegistry) DeployClusterSingleton(prj cluster.Projection, name string, svc registry.Service) *future.Future {
	return r.record(OpDeployClusterSingleton, prj)
}

func (r *recordingRegistry) DeployMultiple(prj cluster.Projection, name string, svc registry.Service, totalCount, maxPerNode int) *future.Future {
	return r.record(OpDeployMultiple, prj)
}

func (r *recordingRegistry) DeployKeyAffinitySingleton(name string, svc registry.Service, cacheName string, affinityKey any) *future.Future {
	return r.record(OpDeployKeyAffinitySingleton, cluster.All())
}

func (r *recordingRegistry) Deploy(cfg *registry.Configuration) *future.Future {
	return r.record(OpDeploy, cluster.All())
}

func (r *recordingRegistry) Cancel(prj cluster.Projection, name string) *future.Future {
	return r.record(OpCancel, prj)
}

func (r *recordingRegistry) CancelAll(prj cluster.Projection) *future.Future {
	return r.record(OpCancelAll, prj)
}

func (r *recordingRegistry) DeployedServices(prj cluster.Projection) []*registry.Descriptor {
	r.record(OpDeployedServices, prj)
	return r.descs
}

// stubContext is an execution context over a counting guard and a recording
// registry. Its canonical facade is created once.
type stubContext struct {
	name     string
	nodeID   uuid.UUID
	guard    *countingGuard
	registry *recordingRegistry
	metrics  *metrics.Metrics

	servicesErr error
	once        sync.Once
	canonical   *Facade
}

func newStubContext(name string) *stubContext {
	return &stubContext{
		name:     name,
		nodeID:   uuid.New(),
		guard:    &countingGuard{},
		registry: &recordingRegistry{result: future.Completed(nil)},
	}
}

func (c *stubContext) Name() string               { return c.name }
func (c *stubContext) NodeID() uuid.UUID          { return c.nodeID }
func (c *stubContext) Service() registry.Registry { return c.registry }
func (c *stubContext) Gateway() Guard             { return c.guard }
func (c *stubContext) Grid() Grid                 { return c }
func (c *stubContext) Metrics() *metrics.Metrics  { return c.metrics }

func (c *stubContext) Services() (*Facade, error) {
	if c.servicesErr != nil {
		return nil, c.servicesErr
	}
	c.once.Do(func() {
		c.canonical = NewFacade(c, cluster.All(), nil)
	})
	return c.canonical, nil
}

// mapDirectory is a Directory over a fixed set of contexts
type mapDirectory map[string]ExecutionContext

func (d mapDirectory) Context(name string) (ExecutionContext, error) {
	ctx, ok := d[name]
	if !ok {
		return nil, fmt.Errorf("no execution context named %q", name)
	}
	return ctx, nil
}

// echoService does nothing
type echoService struct{}

func (echoService) Init(*registry.ServiceContext) error    { return nil }
func (echoService) Execute(*registry.ServiceContext) error { return nil }
func (echoService) Cancel(*registry.ServiceContext)        {}
