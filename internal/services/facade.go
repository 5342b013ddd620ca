// Package services exposes the guarded facade over a node's deployment
// registry, and the codec that carries facade handles between nodes.
//
// Every facade operation validates its arguments, then holds the node's
// lifecycle gateway for the duration of the registry call.
// 每个操作先校验参数,再在生命周期网关保护下调用注册表
package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/shepherd-project/corral/internal/cluster"
	"github.com/shepherd-project/corral/internal/future"
	"github.com/shepherd-project/corral/internal/metrics"
	"github.com/shepherd-project/corral/internal/registry"
)

// Operation names used in metrics
const (
	OpDeployNodeSingleton        = "deploy_node_singleton"
	OpDeployClusterSingleton     = "deploy_cluster_singleton"
	OpDeployMultiple             = "deploy_multiple"
	OpDeployKeyAffinitySingleton = "deploy_key_affinity_singleton"
	OpDeploy                     = "deploy"
	OpCancel                     = "cancel"
	OpCancelAll                  = "cancel_all"
	OpDeployedServices           = "deployed_services"
)

// Guard is the read side of a node lifecycle gateway
type Guard interface {
	Acquire() error
	Release()
}

// Grid produces the canonical services facade of a node
type Grid interface {
	Services() (*Facade, error)
}

// ExecutionContext is the per-node handle to kernel services
type ExecutionContext interface {
	// Name identifies the context within its process
	Name() string
	NodeID() uuid.UUID
	Service() registry.Registry
	Gateway() Guard
	Grid() Grid
	// Metrics may return nil
	Metrics() *metrics.Metrics
}

// Facade is a validating, guarded proxy over the registry of one execution
// context. The binding to (context, projection, subject) is fixed at
// construction.
type Facade struct {
	ctx       ExecutionContext
	prj       cluster.Projection
	subjectID *uuid.UUID
}

// NewFacade binds a facade to ctx, prj and an optional subject
func NewFacade(ctx ExecutionContext, prj cluster.Projection, subjectID *uuid.UUID) *Facade {
	f := &Facade{ctx: ctx, prj: prj}
	if subjectID != nil {
		id := *subjectID
		f.subjectID = &id
	}
	return f
}

// Context returns the execution context the facade is bound to
func (f *Facade) Context() ExecutionContext {
	return f.ctx
}

// Projection returns the nodes the facade operates on
func (f *Facade) Projection() cluster.Projection {
	return f.prj
}

// SubjectID returns the subject identity, or nil
func (f *Facade) SubjectID() *uuid.UUID {
	if f.subjectID == nil {
		return nil
	}
	id := *f.subjectID
	return &id
}

// DeployNodeSingleton deploys one instance of svc on every node of the projection
func (f *Facade) DeployNodeSingleton(name string, svc registry.Service) (*future.Future, error) {
	if err := firstError(
		requireString(OpDeployNodeSingleton, "name", name),
		requireValue(OpDeployNodeSingleton, "svc", svc),
	); err != nil {
		return nil, f.reject(OpDeployNodeSingleton, err)
	}
	return guarded(f, OpDeployNodeSingleton, func(r registry.Registry) *future.Future {
		return r.DeployNodeSingleton(f.prj, name, svc)
	})
}

// DeployClusterSingleton deploys one instance of svc across the projection
func (f *Facade) DeployClusterSingleton(name string, svc registry.Service) (*future.Future, error) {
	if err := firstError(
		requireString(OpDeployClusterSingleton, "name", name),
		requireValue(OpDeployClusterSingleton, "svc", svc),
	); err != nil {
		return nil, f.reject(OpDeployClusterSingleton, err)
	}
	return guarded(f, OpDeployClusterSingleton, func(r registry.Registry) *future.Future {
		return r.DeployClusterSingleton(f.prj, name, svc)
	})
}

// DeployMultiple deploys up to totalCount instances, at most maxPerNode per node
func (f *Facade) DeployMultiple(name string, svc registry.Service, totalCount, maxPerNode int) (*future.Future, error) {
	if err := firstError(
		requireString(OpDeployMultiple, "name", name),
		requireValue(OpDeployMultiple, "svc", svc),
	); err != nil {
		return nil, f.reject(OpDeployMultiple, err)
	}
	return guarded(f, OpDeployMultiple, func(r registry.Registry) *future.Future {
		return r.DeployMultiple(f.prj, name, svc, totalCount, maxPerNode)
	})
}

// DeployKeyAffinitySingleton deploys one instance on the node owning
// affinityKey. cacheName may be empty.
func (f *Facade) DeployKeyAffinitySingleton(name string, svc registry.Service, cacheName string, affinityKey any) (*future.Future, error) {
	if err := firstError(
		requireString(OpDeployKeyAffinitySingleton, "name", name),
		requireValue(OpDeployKeyAffinitySingleton, "svc", svc),
		requireValue(OpDeployKeyAffinitySingleton, "affinityKey", affinityKey),
	); err != nil {
		return nil, f.reject(OpDeployKeyAffinitySingleton, err)
	}
	return guarded(f, OpDeployKeyAffinitySingleton, func(r registry.Registry) *future.Future {
		return r.DeployKeyAffinitySingleton(name, svc, cacheName, affinityKey)
	})
}

// Deploy deploys the service described by cfg
func (f *Facade) Deploy(cfg *registry.Configuration) (*future.Future, error) {
	if err := requireValue(OpDeploy, "cfg", cfg); err != nil {
		return nil, f.reject(OpDeploy, err)
	}
	return guarded(f, OpDeploy, func(r registry.Registry) *future.Future {
		return r.Deploy(cfg)
	})
}

// Cancel undeploys the named service within the projection
func (f *Facade) Cancel(name string) (*future.Future, error) {
	if err := requireString(OpCancel, "name", name); err != nil {
		return nil, f.reject(OpCancel, err)
	}
	return guarded(f, OpCancel, func(r registry.Registry) *future.Future {
		return r.Cancel(f.prj, name)
	})
}

// CancelAll undeploys every service visible to the projection
func (f *Facade) CancelAll() (*future.Future, error) {
	return guarded(f, OpCancelAll, func(r registry.Registry) *future.Future {
		return r.CancelAll(f.prj)
	})
}

// DeployedServices returns a snapshot of the descriptors visible to the projection
func (f *Facade) DeployedServices() ([]*registry.Descriptor, error) {
	return guarded(f, OpDeployedServices, func(r registry.Registry) []*registry.Descriptor {
		return r.DeployedServices(f.prj)
	})
}

func (f *Facade) reject(op string, err error) error {
	f.ctx.Metrics().RecordOp(op, metrics.ResultInvalid, 0)
	return err
}

// guarded runs call under the read side of the context gateway. The read
// side is released on every exit path, panics included.
func guarded[T any](f *Facade, op string, call func(registry.Registry) T) (T, error) {
	var zero T
	m := f.ctx.Metrics()

	gate := f.ctx.Gateway()
	if err := gate.Acquire(); err != nil {
		m.RecordOp(op, metrics.ResultUnavailable, 0)
		return zero, err
	}

	start := time.Now()
	result := metrics.ResultError
	defer func() {
		gate.Release()
		m.RecordOp(op, result, time.Since(start))
	}()

	out := call(f.ctx.Service())
	result = metrics.ResultOK
	return out, nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
