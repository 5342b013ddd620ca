// Package kernel assembles the per-node execution context: lifecycle
// gateway, deployment registry, metrics and the canonical services facade.
// 内核:每个节点一个执行上下文
package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shepherd-project/corral/internal/cluster"
	"github.com/shepherd-project/corral/internal/gateway"
	"github.com/shepherd-project/corral/internal/logger"
	"github.com/shepherd-project/corral/internal/metrics"
	"github.com/shepherd-project/corral/internal/registry"
	"github.com/shepherd-project/corral/internal/services"
	"github.com/shepherd-project/corral/internal/storage"
)

// ErrStopped is returned by Services once the kernel has stopped
var ErrStopped = errors.New("kernel stopped")

// Options configures a Kernel
type Options struct {
	// Name is the grid name; it identifies the context within the process
	Name     string
	NodeID   uuid.UUID // uuid.Nil picks a random ID
	NodeName string
	// Topology defaults to a topology holding only the local node
	Topology    *cluster.Topology
	Store       storage.Store
	Logger      *logger.Logger
	Registerer  prometheus.Registerer
	EventBuffer int
	// Directory defaults to DefaultDirectory
	Directory *Directory
}

// Kernel is the execution context of one node
type Kernel struct {
	name     string
	nodeID   uuid.UUID
	topology *cluster.Topology
	gate     *gateway.Gateway
	registry *registry.MemoryRegistry
	metrics  *metrics.Metrics
	log      *logger.Logger
	dir      *Directory

	canonical *services.Facade
}

// New creates a kernel in the Starting state
func New(opts Options) (*Kernel, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("kernel name is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	dir := opts.Directory
	if dir == nil {
		dir = DefaultDirectory
	}

	topology := opts.Topology
	nodeID := opts.NodeID
	if topology != nil {
		nodeID = topology.LocalID()
	} else {
		if nodeID == uuid.Nil {
			nodeID = uuid.New()
		}
		topology = cluster.NewTopology(&cluster.Node{
			ID:         nodeID,
			Name:       opts.NodeName,
			Attributes: cluster.LocalAttributes(),
		})
	}

	k := &Kernel{
		name:     opts.Name,
		nodeID:   nodeID,
		topology: topology,
		gate:     gateway.New(),
		metrics:  metrics.New(opts.Registerer),
		log:      log,
		dir:      dir,
	}
	k.registry = registry.NewMemoryRegistry(registry.Options{
		Topology:    topology,
		Store:       opts.Store,
		Logger:      log,
		Metrics:     k.metrics,
		EventBuffer: opts.EventBuffer,
	})
	k.canonical = services.NewFacade(k, cluster.All(), nil)

	metrics.RegisterGatewayReaders(opts.Registerer, k.name, func() float64 {
		return float64(k.gate.ActiveReaders())
	})

	return k, nil
}

// Start registers the kernel in its directory and opens the gateway
func (k *Kernel) Start() error {
	if err := k.dir.Register(k); err != nil {
		return err
	}
	if err := k.gate.Start(); err != nil {
		k.dir.Unregister(k)
		return err
	}
	k.log.Infof("内核已启动: 网格=%s, 节点=%s", k.name, k.nodeID)
	return nil
}

// Stop closes the gateway. In-flight operations finish first; then local
// service instances are cancelled and the kernel leaves its directory.
// If ctx ends first, Stop returns ctx.Err() and shutdown continues.
func (k *Kernel) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.gate.Stop(k.finalize)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *Kernel) finalize() {
	k.registry.Close()
	k.dir.Unregister(k)
	k.log.Infof("内核已停止: 网格=%s", k.name)
}

// Name returns the grid name
func (k *Kernel) Name() string {
	return k.name
}

// NodeID returns the local node ID
func (k *Kernel) NodeID() uuid.UUID {
	return k.nodeID
}

// Service returns the deployment registry
func (k *Kernel) Service() registry.Registry {
	return k.registry
}

// Gateway returns the lifecycle guard facades acquire
func (k *Kernel) Gateway() services.Guard {
	return k.gate
}

// Grid returns the kernel itself
func (k *Kernel) Grid() services.Grid {
	return k
}

func (k *Kernel) Metrics() *metrics.Metrics {
	return k.metrics
}

// Services returns the canonical facade over the whole cluster
func (k *Kernel) Services() (*services.Facade, error) {
	if k.gate.State() == gateway.StateStopped {
		return nil, fmt.Errorf("%w: %s: %w", ErrStopped, k.name, gateway.ErrUnavailable)
	}
	return k.canonical, nil
}

// ForNodes returns a facade scoped to the given nodes
func (k *Kernel) ForNodes(ids ...uuid.UUID) *services.Facade {
	return services.NewFacade(k, cluster.ForNodes(ids...), nil)
}

// ForSubject returns a whole-cluster facade acting for subject
func (k *Kernel) ForSubject(subject uuid.UUID) *services.Facade {
	return services.NewFacade(k, cluster.All(), &subject)
}

// Lifecycle returns the underlying gateway
func (k *Kernel) Lifecycle() *gateway.Gateway {
	return k.gate
}

// Registry returns the reference registry for history and event access
func (k *Kernel) Registry() *registry.MemoryRegistry {
	return k.registry
}

// Topology returns the kernel's view of the grid
func (k *Kernel) Topology() *cluster.Topology {
	return k.topology
}

// Directory returns the directory the kernel registers in
func (k *Kernel) Directory() *Directory {
	return k.dir
}

// Codec returns a handle codec resolving against the kernel's directory
func (k *Kernel) Codec() *services.Codec {
	return services.NewCodec(k.dir, services.WithMetrics(k.metrics))
}
