// Package storage defines the GraphStore contract both Kremis-Core backends
// implement, and provides the two concrete implementations: MemoryGraph (a
// fully deterministic, B-tree-backed in-memory graph) and PersistentGraph (the
// same contract over an embedded BadgerDB instance).
//
// Every operation here has identical semantics across backends: given the
// same signal sequence, an in-memory and a persistent graph produce
// byte-identical canonical exports (spec §8). Any iteration a backend
// exposes — neighbor lists, property maps, snapshots — walks keys in their
// natural total order; nothing here is backed by Go's randomized map
// iteration.
package storage

import "github.com/TyKolt/kremis/pkg/kremis"

// PropertyList is the ordered (insertion order, duplicates allowed) sequence
// of values recorded for one (node, attribute) pair.
type PropertyList []kremis.Value

// PropertyEntry pairs an attribute with its value sequence. Slices of
// PropertyEntry returned by GraphStore are always sorted by Attribute.
type PropertyEntry struct {
	Attribute kremis.Attribute
	Values    PropertyList
}

// Neighbor is one outgoing edge target, returned in NodeId-ascending order.
type Neighbor struct {
	To     kremis.NodeId
	Weight kremis.EdgeWeight
}

// Snapshot is a fully materialized, already-sorted image of a graph, used by
// the canonical and persistence codecs. Every slice is sorted by its natural
// key order per spec §3 Invariant 4.
type Snapshot struct {
	Nodes      []kremis.Node
	Edges      []kremis.Edge
	NextNodeId kremis.NodeId
	// Properties is sorted by (NodeId, Attribute); each entry's Values
	// preserve insertion order.
	Properties []NodeProperties
}

// NodeProperties is one node's full property set within a Snapshot.
type NodeProperties struct {
	NodeId kremis.NodeId
	Props  []PropertyEntry
}

// GraphStore is the uniform contract every Kremis-Core backend implements.
// Implementations must be usable by a single owner at a time per spec §5;
// PersistentGraph additionally guarantees each mutating call is one ACID
// transaction.
type GraphStore interface {
	// UpsertNode returns the existing NodeId for entity if one was already
	// assigned, otherwise mints the next NodeId and records the mapping.
	// Idempotent on repeat calls with the same entity.
	UpsertNode(entity kremis.EntityId) (kremis.NodeId, error)

	// AppendProperty appends value to the ordered sequence recorded at
	// (node, attr), creating the sequence if this is its first value. Never
	// deduplicates. Fails with NodeNotFound if node does not exist.
	AppendProperty(node kremis.NodeId, attr kremis.Attribute, value kremis.Value) error

	// GetProperties returns node's attributes in attribute-sorted order,
	// each with its value sequence in append order. found is false if node
	// does not exist.
	GetProperties(node kremis.NodeId) (props []PropertyEntry, found bool, err error)

	// IncrementEdge creates the (from, to) edge at weight 1 if absent,
	// otherwise saturating-adds 1, and returns the new weight. Fails with
	// NodeNotFound if either endpoint is absent.
	IncrementEdge(from, to kremis.NodeId) (kremis.EdgeWeight, error)

	// DecrementEdge saturating-subtracts 1 from an existing edge's weight,
	// floor 0, and returns the new weight. The edge key is retained even at
	// weight 0. Fails with EdgeNotFound if the edge does not exist.
	DecrementEdge(from, to kremis.NodeId) (kremis.EdgeWeight, error)

	// SetEdgeWeight writes weight directly, creating the edge if absent.
	// Unlike IncrementEdge/DecrementEdge this is not an Ingestor primitive —
	// it exists solely so a codec import can restore an edge's exact weight
	// in one write instead of replaying it one saturating step at a time,
	// which is the only way a restore can finish in bounded time for an
	// edge near kremis.MaxEdgeWeight. Fails with NodeNotFound if either
	// endpoint is absent.
	SetEdgeWeight(from, to kremis.NodeId, weight kremis.EdgeWeight) error

	// Neighbors returns node's outgoing edges in NodeId-ascending order of
	// their target.
	Neighbors(node kremis.NodeId) ([]Neighbor, error)

	// Lookup is a constant-time index lookup from entity to NodeId.
	Lookup(entity kremis.EntityId) (node kremis.NodeId, found bool, err error)

	// NodeCount returns the total number of nodes.
	NodeCount() (int64, error)

	// EdgeCount returns the total number of edges (including weight-0 ones).
	EdgeCount() (int64, error)

	// StableEdgeCount returns the number of edges with weight >= kremis.StableThreshold.
	StableEdgeCount() (int64, error)

	// Snapshot returns a fully materialized, sorted image of the graph.
	Snapshot() (*Snapshot, error)

	// BatchIngest upserts a node and appends one property per signal, for
	// every signal in the slice, atomically: either every signal's effects
	// are visible or none are. It does not create edges; callers that need
	// windowed edge association use Transact directly (see pkg/ingest).
	BatchIngest(signals []kremis.Signal) ([]kremis.NodeId, error)

	// Transact runs fn against a GraphStore handle whose writes commit
	// atomically when fn returns nil, and are entirely discarded if fn
	// returns an error. Implementations pass fn a handle bound to a single
	// underlying transaction; it must not be retained past fn's return.
	Transact(fn func(tx GraphStore) error) error

	// Close releases any resources (file locks, open handles) held by the
	// backend. Safe to call more than once.
	Close() error
}
