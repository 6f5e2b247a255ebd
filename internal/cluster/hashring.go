// Package cluster implements the consistent-hash fan-out layer: a ring
// of peer servers, a reloadable StoreConfig describing them, and a
// scatter-gather client that queries every (or every reachable) peer.
package cluster

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// defaultReplicas is the number of ring points per node. Each point is
// hash(address + "#" + replicaIndex).
const defaultReplicas = 2

type ringPoint struct {
	hash uint32
	node string
}

// HashRing is a consistent hash ring over node addresses. It is
// immutable once built; reconfiguration builds a fresh ring and swaps
// it in atomically at the StoreConfig layer.
type HashRing struct {
	points   []ringPoint
	replicas int
	nodes    []string
}

// NewHashRing builds a ring from nodes with the default replica count.
func NewHashRing(nodes []string) *HashRing {
	return NewHashRingWithReplicas(nodes, defaultReplicas)
}

func NewHashRingWithReplicas(nodes []string, replicas int) *HashRing {
	if replicas <= 0 {
		replicas = defaultReplicas
	}
	r := &HashRing{replicas: replicas, nodes: append([]string(nil), nodes...)}
	for _, n := range nodes {
		for i := 0; i < replicas; i++ {
			h := hashKey(fmt.Sprintf("%s#%d", n, i))
			r.points = append(r.points, ringPoint{hash: h, node: n})
		}
	}
	sort.Slice(r.points, func(i, j int) bool { return r.points[i].hash < r.points[j].hash })
	return r
}

func hashKey(s string) uint32 {
	return uint32(xxhash.Sum64String(s))
}

// Nodes returns the distinct node addresses in the ring.
func (r *HashRing) Nodes() []string { return append([]string(nil), r.nodes...) }

// GetNode returns the node owning key: the first ring point whose hash
// is >= hash(key), wrapping around to the first point if key's hash is
// past the last one.
func (r *HashRing) GetNode(key string) (string, bool) {
	if len(r.points) == 0 {
		return "", false
	}
	h := hashKey(key)
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i].hash >= h })
	if idx == len(r.points) {
		idx = 0
	}
	return r.points[idx].node, true
}

// GetBackupNode returns the next distinct node clockwise from key's
// primary, guaranteeing primary != backup whenever the ring holds two
// or more distinct nodes.
func (r *HashRing) GetBackupNode(key string) (string, bool) {
	if len(r.points) == 0 {
		return "", false
	}
	h := hashKey(key)
	start := sort.Search(len(r.points), func(i int) bool { return r.points[i].hash >= h })
	primary, _ := r.GetNode(key)

	for i := 0; i < len(r.points); i++ {
		idx := (start + i) % len(r.points)
		if r.points[idx].node != primary {
			return r.points[idx].node, true
		}
	}
	return "", false
}
