// Package compose implements the Compositor: every read-only traversal and
// lookup operation that turns graph state into an Artifact. Every method
// here is deterministic for a given store snapshot — neighbor enumeration,
// frontier ordering, and tie-breaking all follow NodeId order, never
// iteration order of a hash container.
package compose

import (
	"fmt"
	"math/big"

	"github.com/google/btree"

	"github.com/TyKolt/kremis/pkg/kremis"
	"github.com/TyKolt/kremis/pkg/storage"
)

// maxDepth bounds traversal so a misbehaving caller (or a cyclic graph)
// cannot force an unbounded walk.
const maxDepth = 100

// maxIntersectNodes bounds Intersect's input set for the same reason.
const maxIntersectNodes = 100

const frontierDegree = 32

func nodeExists(store storage.GraphStore, node kremis.NodeId) (bool, error) {
	_, found, err := store.GetProperties(node)
	return found, err
}

// Compose performs a breadth-first walk from start out to depth hops and
// returns every node discovered (in discovery order, start first) together
// with every edge examined while expanding the frontier. It is equivalent
// to ComposeFiltered with no weight threshold.
func Compose(store storage.GraphStore, start kremis.NodeId, depth int) (kremis.Artifact, error) {
	return ComposeFiltered(store, start, depth, 0)
}

// RelatedContext is an alias of Compose: the same bounded-radius walk, named
// for callers that treat the result as "what surrounds this node" rather
// than "what composes with it".
func RelatedContext(store storage.GraphStore, start kremis.NodeId, depth int) (kremis.Artifact, error) {
	return Compose(store, start, depth)
}

// ComposeFiltered performs the same walk as Compose but skips any edge
// whose weight is below minWeight — such edges are neither traversed nor
// included in the returned subgraph.
func ComposeFiltered(store storage.GraphStore, start kremis.NodeId, depth int, minWeight kremis.EdgeWeight) (kremis.Artifact, error) {
	if depth < 0 || depth > maxDepth {
		return kremis.Artifact{}, kremis.NewInvalidSignal(fmt.Sprintf("depth %d outside 0..=%d", depth, maxDepth))
	}

	exists, err := nodeExists(store, start)
	if err != nil {
		return kremis.Artifact{}, err
	}
	if !exists {
		return kremis.Artifact{}, kremis.NewNodeNotFound(start)
	}

	type frontierEntry struct {
		node  kremis.NodeId
		level int
	}

	queue := []frontierEntry{{start, 0}}
	visited := map[kremis.NodeId]bool{start: true}
	path := []kremis.NodeId{start}
	var subgraph []kremis.Edge

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.level >= depth {
			continue
		}

		neighbors, err := store.Neighbors(cur.node)
		if err != nil {
			return kremis.Artifact{}, err
		}
		for _, n := range neighbors {
			if n.Weight < minWeight {
				continue
			}
			subgraph = append(subgraph, kremis.Edge{From: cur.node, To: n.To, Weight: n.Weight})
			if !visited[n.To] {
				visited[n.To] = true
				path = append(path, n.To)
				queue = append(queue, frontierEntry{n.To, cur.level + 1})
			}
		}
	}

	return kremis.Artifact{Path: path, Subgraph: subgraph}, nil
}

// frontierKey orders strongestPath's open set by cumulative cost first and
// NodeId second, so two equally-strong candidate paths always expand in the
// same order regardless of map iteration. Cost is a *big.Int rather than a
// fixed-width integer: a single edgeCost can be as large as MaxEdgeWeight
// (2^63-1), so summing it across two hops can overflow int64 and across
// three hops can overflow uint64 — a 2-hop cost such as "2·MAX-6" only
// compares correctly against a 1-hop cost when the accumulator never wraps.
type frontierKey struct {
	cost *big.Int
	node kremis.NodeId
}

func frontierLess(a, b frontierKey) bool {
	if c := a.cost.Cmp(b.cost); c != 0 {
		return c < 0
	}
	return a.node < b.node
}

// edgeCost inverts an EdgeWeight into a non-negative integer cost: the
// strongest (highest-weight) edges become the cheapest, so a shortest-path
// search over cost finds the strongest path over weight.
func edgeCost(w kremis.EdgeWeight) *big.Int {
	return new(big.Int).Sub(big.NewInt(int64(kremis.MaxEdgeWeight)), big.NewInt(int64(w)))
}

// StrongestPath finds the path from start to end that minimizes the sum of
// edgeCost(weight) over its edges. Every hop adds its own inverted cost, so
// this does not in general maximize total traversed weight: a direct edge of
// weight 1 (cost MAX-1) beats two hops of weight 5 each (cost 2·MAX-10).
// Equal-cost ties resolve by lower NodeId. It returns an empty Path (Found() == false) if
// end is unreachable from start; it returns an error if start or end does
// not exist.
func StrongestPath(store storage.GraphStore, start, end kremis.NodeId) (kremis.Artifact, error) {
	startExists, err := nodeExists(store, start)
	if err != nil {
		return kremis.Artifact{}, err
	}
	if !startExists {
		return kremis.Artifact{}, kremis.NewNodeNotFound(start)
	}
	endExists, err := nodeExists(store, end)
	if err != nil {
		return kremis.Artifact{}, err
	}
	if !endExists {
		return kremis.Artifact{}, kremis.NewNodeNotFound(end)
	}

	best := map[kremis.NodeId]*big.Int{start: big.NewInt(0)}
	prev := map[kremis.NodeId]kremis.NodeId{}
	prevWeight := map[kremis.NodeId]kremis.EdgeWeight{}
	visited := map[kremis.NodeId]bool{}

	frontier := btree.NewG(frontierDegree, frontierLess)
	frontier.ReplaceOrInsert(frontierKey{cost: big.NewInt(0), node: start})

	for frontier.Len() > 0 {
		cur, _ := frontier.Min()
		frontier.Delete(cur)
		if visited[cur.node] {
			continue
		}
		if b, ok := best[cur.node]; ok && cur.cost.Cmp(b) > 0 {
			continue
		}
		visited[cur.node] = true
		if cur.node == end {
			break
		}

		neighbors, err := store.Neighbors(cur.node)
		if err != nil {
			return kremis.Artifact{}, err
		}
		for _, n := range neighbors {
			if visited[n.To] {
				continue
			}
			newCost := new(big.Int).Add(cur.cost, edgeCost(n.Weight))
			if b, ok := best[n.To]; !ok || newCost.Cmp(b) < 0 {
				best[n.To] = newCost
				prev[n.To] = cur.node
				prevWeight[n.To] = n.Weight
				frontier.ReplaceOrInsert(frontierKey{cost: newCost, node: n.To})
			}
		}
	}

	if _, reached := best[end]; !reached {
		return kremis.Artifact{}, nil
	}

	var path []kremis.NodeId
	var edges []kremis.Edge
	for node := end; ; {
		path = append([]kremis.NodeId{node}, path...)
		p, ok := prev[node]
		if !ok {
			break
		}
		edges = append([]kremis.Edge{{From: p, To: node, Weight: prevWeight[node]}}, edges...)
		node = p
	}

	return kremis.Artifact{Path: path, Subgraph: edges}, nil
}

// Intersect returns the ordered intersection of the outgoing-neighbor sets
// of every node in nodes. An empty input returns an empty result; a single
// node returns its own (sorted, deduplicated) neighbor set.
func Intersect(store storage.GraphStore, nodes []kremis.NodeId) (kremis.Artifact, error) {
	if len(nodes) > maxIntersectNodes {
		return kremis.Artifact{}, kremis.NewInvalidSignal(fmt.Sprintf("intersect over %d nodes exceeds limit of %d", len(nodes), maxIntersectNodes))
	}
	if len(nodes) == 0 {
		return kremis.Artifact{}, nil
	}

	counts := map[kremis.NodeId]int{}
	var order []kremis.NodeId
	seen := map[kremis.NodeId]bool{}

	for _, node := range nodes {
		exists, err := nodeExists(store, node)
		if err != nil {
			return kremis.Artifact{}, err
		}
		if !exists {
			return kremis.Artifact{}, kremis.NewNodeNotFound(node)
		}

		neighbors, err := store.Neighbors(node)
		if err != nil {
			return kremis.Artifact{}, err
		}
		local := map[kremis.NodeId]bool{}
		for _, n := range neighbors {
			if local[n.To] {
				continue
			}
			local[n.To] = true
			counts[n.To]++
			if !seen[n.To] {
				seen[n.To] = true
				order = append(order, n.To)
			}
		}
	}

	var path []kremis.NodeId
	for _, candidate := range order {
		if counts[candidate] == len(nodes) {
			path = append(path, candidate)
		}
	}

	return kremis.Artifact{Path: path}, nil
}

// Properties looks up the ordered, per-attribute property list of node. It
// is a thin pass-through to GraphStore.GetProperties, kept here so callers
// only need the Compositor surface for every read-only operation.
func Properties(store storage.GraphStore, node kremis.NodeId) ([]storage.PropertyEntry, bool, error) {
	return store.GetProperties(node)
}
