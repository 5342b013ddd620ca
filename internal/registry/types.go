// Package registry provides the service-deployment registry a node delegates
// deploy and cancel operations to.
// 这个包提供服务部署注册表的实现
package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Service is user code deployed on grid nodes.
// One Service value may back several instances on the same node; each
// instance gets its own ServiceContext.
type Service interface {
	// Init is called before Execute. An error aborts the deployment.
	Init(ctx *ServiceContext) error
	// Execute runs the service until it returns or its context is cancelled
	Execute(ctx *ServiceContext) error
	// Cancel is called when the deployment is cancelled or the node stops
	Cancel(ctx *ServiceContext)
}

// ServiceContext identifies one running instance of a service
type ServiceContext struct {
	Name        string
	ExecutionID uuid.UUID
	CacheName   string
	AffinityKey string

	ctx    context.Context
	cancel context.CancelFunc
}

func newServiceContext(parent context.Context, name, cacheName, affinityKey string) *ServiceContext {
	ctx, cancel := context.WithCancel(parent)
	return &ServiceContext{
		Name:        name,
		ExecutionID: uuid.New(),
		CacheName:   cacheName,
		AffinityKey: affinityKey,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Context is cancelled when the instance is cancelled
func (c *ServiceContext) Context() context.Context {
	return c.ctx
}

// IsCancelled reports whether the instance has been cancelled
func (c *ServiceContext) IsCancelled() bool {
	return c.ctx.Err() != nil
}

// Mode records which deploy operation created a deployment
type Mode string

const (
	ModeNodeSingleton    Mode = "node_singleton"
	ModeClusterSingleton Mode = "cluster_singleton"
	ModeMultiple         Mode = "multiple"
	ModeKeyAffinity      Mode = "key_affinity"
	ModeCustom           Mode = "custom"
)

// Configuration describes a deployment request
type Configuration struct {
	Name            string      `json:"name" validate:"required"`
	Service         Service     `json:"-" validate:"required"`
	TotalCount      int         `json:"totalCount" validate:"min=0"`
	MaxPerNodeCount int         `json:"maxPerNodeCount" validate:"min=0"`
	CacheName       string      `json:"cacheName,omitempty"`
	AffinityKey     any         `json:"affinityKey,omitempty"`
	NodeIDs         []uuid.UUID `json:"nodeIds,omitempty"` // empty means every live node
}

// ServiceType returns the dynamic type name of the configured service
func (c *Configuration) ServiceType() string {
	if c.Service == nil {
		return ""
	}
	return reflect.TypeOf(c.Service).String()
}

// affinityString renders the affinity key; empty when none is set
func (c *Configuration) affinityString() string {
	if c.AffinityKey == nil {
		return ""
	}
	return fmt.Sprint(c.AffinityKey)
}

// sameDeployment reports whether two configurations describe the same deployment
func (c *Configuration) sameDeployment(o *Configuration) bool {
	if c.Name != o.Name ||
		c.ServiceType() != o.ServiceType() ||
		c.TotalCount != o.TotalCount ||
		c.MaxPerNodeCount != o.MaxPerNodeCount ||
		c.CacheName != o.CacheName ||
		c.affinityString() != o.affinityString() ||
		len(c.NodeIDs) != len(o.NodeIDs) {
		return false
	}
	a, b := sortedIDs(c.NodeIDs), sortedIDs(o.NodeIDs)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := append([]uuid.UUID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Descriptor describes a deployed service as seen by the local registry
type Descriptor struct {
	Name            string            `json:"name"`
	Mode            Mode              `json:"mode"`
	ServiceType     string            `json:"serviceType"`
	TotalCount      int               `json:"totalCount"`
	MaxPerNodeCount int               `json:"maxPerNodeCount"`
	CacheName       string            `json:"cacheName,omitempty"`
	AffinityKey     string            `json:"affinityKey,omitempty"`
	OriginNodeID    uuid.UUID         `json:"originNodeId"`
	Topology        map[uuid.UUID]int `json:"topology"`            // node -> instance count
	Shortfall       int               `json:"shortfall,omitempty"` // requested instances that did not fit
	DeployedAt      time.Time         `json:"deployedAt"`
}

// NodeIDs returns the nodes hosting at least one instance
func (d *Descriptor) NodeIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(d.Topology))
	for id, n := range d.Topology {
		if n > 0 {
			ids = append(ids, id)
		}
	}
	return sortedIDs(ids)
}

func (d *Descriptor) clone() *Descriptor {
	cp := *d
	cp.Topology = make(map[uuid.UUID]int, len(d.Topology))
	for k, v := range d.Topology {
		cp.Topology[k] = v
	}
	return &cp
}

// EventType is the kind of registry event
type EventType string

const (
	EventDeployed       EventType = "deployed"
	EventCancelled      EventType = "cancelled"
	EventInstanceFailed EventType = "instance_failed"
)

// Event is published to subscribers on every deployment change
type Event struct {
	Type  EventType `json:"type"`
	Name  string    `json:"name"`
	Error string    `json:"error,omitempty"`
	Time  time.Time `json:"time"`
}

// ErrorCode classifies registry failures
type ErrorCode string

const (
	CodeNotFound             ErrorCode = "SERVICE_NOT_FOUND"
	CodeConflict             ErrorCode = "SERVICE_CONFLICT"
	CodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
	CodeNoNodes              ErrorCode = "NO_NODES"
	CodeDeploymentFailed     ErrorCode = "DEPLOYMENT_FAILED"
	CodeStorage              ErrorCode = "STORAGE"
)

// RegistryError is the failure delivered through a deployment future
type RegistryError struct {
	Code    ErrorCode
	Name    string
	Message string
	Err     error
}

func (e *RegistryError) Error() string {
	msg := fmt.Sprintf("registry %s", e.Code)
	if e.Name != "" {
		msg += fmt.Sprintf(" [%s]", e.Name)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, name, message string, err error) *RegistryError {
	return &RegistryError{Code: code, Name: name, Message: message, Err: err}
}

// IsCode reports whether err is a RegistryError with the given code
func IsCode(err error, code ErrorCode) bool {
	var re *RegistryError
	return errors.As(err, &re) && re.Code == code
}
