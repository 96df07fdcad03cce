package storage

import (
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/TyKolt/kremis/pkg/kremis"
)

// degree is the branching factor used for every ordered B-tree in this
// package; 32 keeps trees shallow for the node/edge counts Kremis-Core
// targets without over-allocating for small graphs.
const degree = 32

type nodeRecord struct {
	id     kremis.NodeId
	entity kremis.EntityId
}

type entityRecord struct {
	entity kremis.EntityId
	node   kremis.NodeId
}

type edgeRecord struct {
	from, to kremis.NodeId
	weight   kremis.EdgeWeight
}

type propRecord struct {
	node   kremis.NodeId
	attr   kremis.Attribute
	values PropertyList
}

func nodeLess(a, b nodeRecord) bool     { return a.id < b.id }
func entityLess(a, b entityRecord) bool { return a.entity < b.entity }
func edgeLess(a, b edgeRecord) bool {
	if a.from != b.from {
		return a.from < b.from
	}
	return a.to < b.to
}
func propLess(a, b propRecord) bool {
	if a.node != b.node {
		return a.node < b.node
	}
	return a.attr < b.attr
}

// MemoryGraph is a fully deterministic, B-tree-backed in-memory GraphStore.
// All iteration (Neighbors, GetProperties, Snapshot) walks the natural order
// of its key, never Go's randomized map order — the btree.BTreeG trees
// below are the concrete mechanism satisfying that requirement.
//
// MemoryGraph is safe for single-owner use guarded by its own mutex; per
// spec §5 it assumes no concurrent mutation from outside callers sharing
// one Session.
type MemoryGraph struct {
	mu sync.Mutex

	nodes       *btree.BTreeG[nodeRecord]
	entityIndex *btree.BTreeG[entityRecord]
	edges       *btree.BTreeG[edgeRecord]
	properties  *btree.BTreeG[propRecord]

	nextNodeId  kremis.NodeId
	stableCount int64
}

// NewMemoryGraph returns an empty in-memory graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		nodes:       btree.NewG(degree, nodeLess),
		entityIndex: btree.NewG(degree, entityLess),
		edges:       btree.NewG(degree, edgeLess),
		properties:  btree.NewG(degree, propLess),
	}
}

func (m *MemoryGraph) UpsertNode(entity kremis.EntityId) (kremis.NodeId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertNodeLocked(entity)
}

func (m *MemoryGraph) upsertNodeLocked(entity kremis.EntityId) (kremis.NodeId, error) {
	if rec, ok := m.entityIndex.Get(entityRecord{entity: entity}); ok {
		return rec.node, nil
	}

	id := m.nextNodeId
	m.nodes.ReplaceOrInsert(nodeRecord{id: id, entity: entity})
	m.entityIndex.ReplaceOrInsert(entityRecord{entity: entity, node: id})
	m.nextNodeId++
	return id, nil
}

func (m *MemoryGraph) hasNodeLocked(id kremis.NodeId) bool {
	_, ok := m.nodes.Get(nodeRecord{id: id})
	return ok
}

func (m *MemoryGraph) AppendProperty(node kremis.NodeId, attr kremis.Attribute, value kremis.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendPropertyLocked(node, attr, value)
}

func (m *MemoryGraph) appendPropertyLocked(node kremis.NodeId, attr kremis.Attribute, value kremis.Value) error {
	if !m.hasNodeLocked(node) {
		return kremis.NewNodeNotFound(node)
	}

	rec, ok := m.properties.Get(propRecord{node: node, attr: attr})
	if !ok {
		rec = propRecord{node: node, attr: attr}
	}
	rec.values = append(append(PropertyList{}, rec.values...), value)
	m.properties.ReplaceOrInsert(rec)
	return nil
}

func (m *MemoryGraph) GetProperties(node kremis.NodeId) ([]PropertyEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasNodeLocked(node) {
		return nil, false, nil
	}

	var out []PropertyEntry
	m.properties.AscendRange(
		propRecord{node: node},
		propRecord{node: node + 1},
		func(rec propRecord) bool {
			out = append(out, PropertyEntry{Attribute: rec.attr, Values: append(PropertyList{}, rec.values...)})
			return true
		},
	)
	return out, true, nil
}

func (m *MemoryGraph) IncrementEdge(from, to kremis.NodeId) (kremis.EdgeWeight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrementEdgeLocked(from, to)
}

func (m *MemoryGraph) incrementEdgeLocked(from, to kremis.NodeId) (kremis.EdgeWeight, error) {
	if !m.hasNodeLocked(from) {
		return 0, kremis.NewNodeNotFound(from)
	}
	if !m.hasNodeLocked(to) {
		return 0, kremis.NewNodeNotFound(to)
	}

	rec, ok := m.edges.Get(edgeRecord{from: from, to: to})
	before := kremis.EdgeWeight(0)
	if ok {
		before = rec.weight
	}
	after := before.Inc()
	m.edges.ReplaceOrInsert(edgeRecord{from: from, to: to, weight: after})
	m.adjustStableCount(before, after)
	return after, nil
}

func (m *MemoryGraph) DecrementEdge(from, to kremis.NodeId) (kremis.EdgeWeight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.edges.Get(edgeRecord{from: from, to: to})
	if !ok {
		return 0, kremis.NewEdgeNotFound(from, to)
	}
	after := rec.weight.Dec()
	m.edges.ReplaceOrInsert(edgeRecord{from: from, to: to, weight: after})
	m.adjustStableCount(rec.weight, after)
	return after, nil
}

func (m *MemoryGraph) SetEdgeWeight(from, to kremis.NodeId, weight kremis.EdgeWeight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setEdgeWeightLocked(from, to, weight)
}

func (m *MemoryGraph) setEdgeWeightLocked(from, to kremis.NodeId, weight kremis.EdgeWeight) error {
	if !m.hasNodeLocked(from) {
		return kremis.NewNodeNotFound(from)
	}
	if !m.hasNodeLocked(to) {
		return kremis.NewNodeNotFound(to)
	}

	rec, ok := m.edges.Get(edgeRecord{from: from, to: to})
	before := kremis.EdgeWeight(0)
	if ok {
		before = rec.weight
	}
	m.edges.ReplaceOrInsert(edgeRecord{from: from, to: to, weight: weight})
	m.adjustStableCount(before, weight)
	return nil
}

func (m *MemoryGraph) adjustStableCount(before, after kremis.EdgeWeight) {
	wasStable := before >= kremis.StableThreshold
	isStable := after >= kremis.StableThreshold
	if isStable && !wasStable {
		m.stableCount++
	} else if wasStable && !isStable {
		m.stableCount--
	}
}

func (m *MemoryGraph) Neighbors(node kremis.NodeId) ([]Neighbor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasNodeLocked(node) {
		return nil, kremis.NewNodeNotFound(node)
	}

	var out []Neighbor
	m.edges.AscendRange(
		edgeRecord{from: node},
		edgeRecord{from: node + 1},
		func(rec edgeRecord) bool {
			out = append(out, Neighbor{To: rec.to, Weight: rec.weight})
			return true
		},
	)
	return out, nil
}

func (m *MemoryGraph) Lookup(entity kremis.EntityId) (kremis.NodeId, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.entityIndex.Get(entityRecord{entity: entity})
	if !ok {
		return 0, false, nil
	}
	return rec.node, true, nil
}

func (m *MemoryGraph) NodeCount() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(m.nodes.Len()), nil
}

func (m *MemoryGraph) EdgeCount() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(m.edges.Len()), nil
}

func (m *MemoryGraph) StableEdgeCount() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stableCount, nil
}

func (m *MemoryGraph) Snapshot() (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &Snapshot{NextNodeId: m.nextNodeId}

	m.nodes.Ascend(func(rec nodeRecord) bool {
		snap.Nodes = append(snap.Nodes, kremis.Node{NodeId: rec.id, EntityId: rec.entity})
		return true
	})

	m.edges.Ascend(func(rec edgeRecord) bool {
		snap.Edges = append(snap.Edges, kremis.Edge{From: rec.from, To: rec.to, Weight: rec.weight})
		return true
	})

	byNode := make(map[kremis.NodeId][]PropertyEntry)
	var order []kremis.NodeId
	m.properties.Ascend(func(rec propRecord) bool {
		if _, seen := byNode[rec.node]; !seen {
			order = append(order, rec.node)
		}
		byNode[rec.node] = append(byNode[rec.node], PropertyEntry{Attribute: rec.attr, Values: append(PropertyList{}, rec.values...)})
		return true
	})
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	for _, n := range order {
		snap.Properties = append(snap.Properties, NodeProperties{NodeId: n, Props: byNode[n]})
	}

	return snap, nil
}

func (m *MemoryGraph) BatchIngest(signals []kremis.Signal) ([]kremis.NodeId, error) {
	var ids []kremis.NodeId
	err := m.Transact(func(tx GraphStore) error {
		for _, s := range signals {
			if err := s.Validate(); err != nil {
				return err
			}
			id, err := tx.UpsertNode(s.EntityId)
			if err != nil {
				return err
			}
			if err := tx.AppendProperty(id, s.Attribute, s.Value); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Transact runs fn against a clone of m's ordered trees (an O(1)
// copy-on-write snapshot via btree.BTreeG.Clone), committing the clone back
// into m only if fn returns nil. Any error from fn leaves m untouched,
// giving the all-or-nothing semantics spec §5 requires even though
// MemoryGraph has no disk-level transaction log.
func (m *MemoryGraph) Transact(fn func(tx GraphStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := &MemoryGraph{
		nodes:       m.nodes.Clone(),
		entityIndex: m.entityIndex.Clone(),
		edges:       m.edges.Clone(),
		properties:  m.properties.Clone(),
		nextNodeId:  m.nextNodeId,
		stableCount: m.stableCount,
	}

	if err := fn(&unlockedGraph{clone}); err != nil {
		return err
	}

	m.nodes = clone.nodes
	m.entityIndex = clone.entityIndex
	m.edges = clone.edges
	m.properties = clone.properties
	m.nextNodeId = clone.nextNodeId
	m.stableCount = clone.stableCount
	return nil
}

func (m *MemoryGraph) Close() error { return nil }

// unlockedGraph adapts a MemoryGraph clone that is already exclusively
// owned by the caller of Transact (and therefore needs no locking of its
// own) to the GraphStore interface, calling the *Locked helpers directly
// instead of re-entering a mutex.
type unlockedGraph struct {
	g *MemoryGraph
}

func (u *unlockedGraph) UpsertNode(entity kremis.EntityId) (kremis.NodeId, error) {
	return u.g.upsertNodeLocked(entity)
}

func (u *unlockedGraph) AppendProperty(node kremis.NodeId, attr kremis.Attribute, value kremis.Value) error {
	return u.g.appendPropertyLocked(node, attr, value)
}

func (u *unlockedGraph) GetProperties(node kremis.NodeId) ([]PropertyEntry, bool, error) {
	if !u.g.hasNodeLocked(node) {
		return nil, false, nil
	}
	var out []PropertyEntry
	u.g.properties.AscendRange(
		propRecord{node: node},
		propRecord{node: node + 1},
		func(rec propRecord) bool {
			out = append(out, PropertyEntry{Attribute: rec.attr, Values: append(PropertyList{}, rec.values...)})
			return true
		},
	)
	return out, true, nil
}

func (u *unlockedGraph) IncrementEdge(from, to kremis.NodeId) (kremis.EdgeWeight, error) {
	return u.g.incrementEdgeLocked(from, to)
}

func (u *unlockedGraph) DecrementEdge(from, to kremis.NodeId) (kremis.EdgeWeight, error) {
	rec, ok := u.g.edges.Get(edgeRecord{from: from, to: to})
	if !ok {
		return 0, kremis.NewEdgeNotFound(from, to)
	}
	after := rec.weight.Dec()
	u.g.edges.ReplaceOrInsert(edgeRecord{from: from, to: to, weight: after})
	u.g.adjustStableCount(rec.weight, after)
	return after, nil
}

func (u *unlockedGraph) SetEdgeWeight(from, to kremis.NodeId, weight kremis.EdgeWeight) error {
	return u.g.setEdgeWeightLocked(from, to, weight)
}

func (u *unlockedGraph) Neighbors(node kremis.NodeId) ([]Neighbor, error) {
	if !u.g.hasNodeLocked(node) {
		return nil, kremis.NewNodeNotFound(node)
	}
	var out []Neighbor
	u.g.edges.AscendRange(
		edgeRecord{from: node},
		edgeRecord{from: node + 1},
		func(rec edgeRecord) bool {
			out = append(out, Neighbor{To: rec.to, Weight: rec.weight})
			return true
		},
	)
	return out, nil
}

func (u *unlockedGraph) Lookup(entity kremis.EntityId) (kremis.NodeId, bool, error) {
	rec, ok := u.g.entityIndex.Get(entityRecord{entity: entity})
	return rec.node, ok, nil
}

func (u *unlockedGraph) NodeCount() (int64, error)       { return int64(u.g.nodes.Len()), nil }
func (u *unlockedGraph) EdgeCount() (int64, error)       { return int64(u.g.edges.Len()), nil }
func (u *unlockedGraph) StableEdgeCount() (int64, error) { return u.g.stableCount, nil }
func (u *unlockedGraph) Snapshot() (*Snapshot, error)    { return u.g.Snapshot() }
func (u *unlockedGraph) Close() error                    { return nil }

func (u *unlockedGraph) BatchIngest(signals []kremis.Signal) ([]kremis.NodeId, error) {
	var ids []kremis.NodeId
	for _, s := range signals {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		id, err := u.UpsertNode(s.EntityId)
		if err != nil {
			return nil, err
		}
		if err := u.AppendProperty(id, s.Attribute, s.Value); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Transact nests directly: Kremis-Core never calls it recursively in
// practice, but a flat re-entry is safe since u already operates lock-free
// on its own clone.
func (u *unlockedGraph) Transact(fn func(tx GraphStore) error) error {
	return fn(u)
}
