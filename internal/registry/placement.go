package registry

import (
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/shepherd-project/corral/internal/cluster"
)

// assign spreads instances over nodes (sorted by ID) round-robin.
// totalCount == 0 places maxPerNode on every node; maxPerNode == 0 means no
// per-node limit. Returns the assignment and the number of instances that
// did not fit.
func assign(nodes []*cluster.Node, totalCount, maxPerNode int) (map[uuid.UUID]int, int) {
	topology := make(map[uuid.UUID]int, len(nodes))
	if len(nodes) == 0 {
		return topology, totalCount
	}

	if totalCount == 0 {
		for _, n := range nodes {
			topology[n.ID] = maxPerNode
		}
		return topology, 0
	}

	placed := 0
	for placed < totalCount {
		progress := false
		for _, n := range nodes {
			if placed == totalCount {
				break
			}
			if maxPerNode > 0 && topology[n.ID] >= maxPerNode {
				continue
			}
			topology[n.ID]++
			placed++
			progress = true
		}
		if !progress {
			break
		}
	}
	return topology, totalCount - placed
}

// affinityNode picks the node owning key within cacheName
func affinityNode(nodes []*cluster.Node, cacheName, key string) *cluster.Node {
	if len(nodes) == 0 {
		return nil
	}
	d := xxhash.New()
	_, _ = d.WriteString(cacheName)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(key)
	return nodes[d.Sum64()%uint64(len(nodes))]
}
