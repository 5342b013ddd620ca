// Package cluster describes the nodes of a grid and the projections that
// scope operations to a subset of them.
// 这个包描述网格中的节点以及用于限定操作范围的投影
package cluster

import (
	"bytes"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Node is one member of the grid
type Node struct {
	ID         uuid.UUID         `json:"id"`
	Name       string            `json:"name,omitempty"`
	Local      bool              `json:"local"`
	Attributes map[string]string `json:"attributes,omitempty"`
	JoinedAt   time.Time         `json:"joinedAt"`
}

// Topology is the set of live nodes as seen by the local node.
// Membership changes come from outside (static peers, a discovery layer).
type Topology struct {
	mu    sync.RWMutex
	nodes map[uuid.UUID]*Node
	local uuid.UUID
}

// NewTopology creates a topology containing only the local node
func NewTopology(local *Node) *Topology {
	t := &Topology{nodes: make(map[uuid.UUID]*Node)}
	if local != nil {
		n := *local
		n.Local = true
		if n.JoinedAt.IsZero() {
			n.JoinedAt = time.Now()
		}
		t.nodes[n.ID] = &n
		t.local = n.ID
	}
	return t
}

// LocalID returns the local node ID
func (t *Topology) LocalID() uuid.UUID {
	return t.local
}

// Join adds or refreshes a node
func (t *Topology) Join(n *Node) {
	if n == nil || n.ID == uuid.Nil {
		return
	}
	cp := *n
	cp.Local = cp.ID == t.local
	if cp.JoinedAt.IsZero() {
		cp.JoinedAt = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[cp.ID] = &cp
}

// Leave removes a node. The local node never leaves its own topology.
func (t *Topology) Leave(id uuid.UUID) bool {
	if id == t.local {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.nodes[id]; !exists {
		return false
	}
	delete(t.nodes, id)
	return true
}

// Node returns a copy of the node with the given ID
func (t *Topology) Node(id uuid.UUID) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, exists := t.nodes[id]
	if !exists {
		return nil, false
	}
	cp := *n
	return &cp, true
}

// Nodes returns all live nodes sorted by ID
func (t *Topology) Nodes() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		cp := *n
		result = append(result, &cp)
	}
	sortNodes(result)
	return result
}

// Size returns the number of live nodes
func (t *Topology) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return compareIDs(nodes[i].ID, nodes[j].ID) < 0
	})
}

func compareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// LocalAttributes collects host attributes for the local node.
// Probes that fail are skipped.
func LocalAttributes() map[string]string {
	attrs := make(map[string]string)

	if info, err := host.Info(); err == nil {
		attrs["host.name"] = info.Hostname
		attrs["host.os"] = info.OS
		attrs["host.platform"] = info.Platform
		attrs["host.kernel"] = info.KernelVersion
	}
	if n, err := cpu.Counts(true); err == nil {
		attrs["cpu.logical"] = strconv.Itoa(n)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		attrs["mem.total"] = strconv.FormatUint(vm.Total, 10)
	}

	return attrs
}
