package registry

import (
	"github.com/shepherd-project/corral/internal/cluster"
	"github.com/shepherd-project/corral/internal/future"
)

// Registry is the deployment subsystem behind a services facade.
// Mutating operations never fail synchronously: every failure, including
// invalid configuration, completes the returned future.
type Registry interface {
	// DeployNodeSingleton places exactly one instance on every node of prj
	DeployNodeSingleton(prj cluster.Projection, name string, svc Service) *future.Future
	// DeployClusterSingleton places exactly one instance across prj
	DeployClusterSingleton(prj cluster.Projection, name string, svc Service) *future.Future
	// DeployMultiple places up to totalCount instances over prj, at most
	// maxPerNode on each node; zero means unbounded
	DeployMultiple(prj cluster.Projection, name string, svc Service, totalCount, maxPerNode int) *future.Future
	// DeployKeyAffinitySingleton places one instance on the node owning
	// affinityKey in cacheName
	DeployKeyAffinitySingleton(name string, svc Service, cacheName string, affinityKey any) *future.Future
	// Deploy places a deployment described by cfg
	Deploy(cfg *Configuration) *future.Future
	// Cancel undeploys the named service if it is visible to prj
	Cancel(prj cluster.Projection, name string) *future.Future
	// CancelAll undeploys every service visible to prj
	CancelAll(prj cluster.Projection) *future.Future
	// DeployedServices returns descriptors visible to prj, sorted by name
	DeployedServices(prj cluster.Projection) []*Descriptor
}
