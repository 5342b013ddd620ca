package cluster

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Projection is an immutable set of target nodes. The zero value is an empty
// projection; All() targets every live node.
type Projection struct {
	all bool
	ids []uuid.UUID // sorted, deduplicated
}

// All returns the whole-cluster projection
func All() Projection {
	return Projection{all: true}
}

// ForNodes returns a projection over the given node IDs
func ForNodes(ids ...uuid.UUID) Projection {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	sorted := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return compareIDs(sorted[i], sorted[j]) < 0 })
	return Projection{ids: sorted}
}

// IsAll reports whether the projection targets the whole cluster
func (p Projection) IsAll() bool {
	return p.all
}

// NodeIDs returns a copy of the explicit node IDs; nil for the whole cluster
func (p Projection) NodeIDs() []uuid.UUID {
	if p.all {
		return nil
	}
	out := make([]uuid.UUID, len(p.ids))
	copy(out, p.ids)
	return out
}

// Contains reports whether id is targeted
func (p Projection) Contains(id uuid.UUID) bool {
	if p.all {
		return true
	}
	i := sort.Search(len(p.ids), func(i int) bool { return compareIDs(p.ids[i], id) >= 0 })
	return i < len(p.ids) && p.ids[i] == id
}

// Intersects reports whether any of ids is targeted
func (p Projection) Intersects(ids []uuid.UUID) bool {
	for _, id := range ids {
		if p.Contains(id) {
			return true
		}
	}
	return false
}

// Resolve returns the live nodes of t that the projection targets, sorted by ID
func (p Projection) Resolve(t *Topology) []*Node {
	nodes := t.Nodes()
	if p.all {
		return nodes
	}
	out := nodes[:0]
	for _, n := range nodes {
		if p.Contains(n.ID) {
			out = append(out, n)
		}
	}
	return out
}

// Equal reports whether both projections target the same nodes
func (p Projection) Equal(o Projection) bool {
	if p.all || o.all {
		return p.all == o.all
	}
	if len(p.ids) != len(o.ids) {
		return false
	}
	for i := range p.ids {
		if p.ids[i] != o.ids[i] {
			return false
		}
	}
	return true
}

func (p Projection) String() string {
	if p.all {
		return "projection(all)"
	}
	parts := make([]string, len(p.ids))
	for i, id := range p.ids {
		parts[i] = id.String()
	}
	return fmt.Sprintf("projection[%s]", strings.Join(parts, ","))
}
