// Package storage — PersistentGraph provides crash-safe disk storage for
// Kremis-Core using BadgerDB. It implements the same GraphStore contract as
// MemoryGraph, with every mutation executing inside one BadgerDB
// transaction (spec §4.d).
package storage

import (
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/TyKolt/kremis/pkg/kremis"
)

// Key prefixes for the five tables spec §4.d names. Single-byte prefixes
// keep keys compact; NodeId/EntityId are encoded big-endian so lexical byte
// order on disk equals numeric order, which is what Snapshot and Neighbors
// rely on to avoid an extra in-memory sort.
const (
	prefixNode        = byte(0x01) // NODES:      nodeId(8)                 -> {entity}
	prefixEdge        = byte(0x02) // EDGES:      from(8) + to(8)           -> weight(8)
	prefixEntityIndex = byte(0x03) // ENTITY_IDX: entity(8)                 -> nodeId(8)
	prefixMetadata    = byte(0x04) // METADATA:   name                      -> counter(8)
	prefixProperty    = byte(0x05) // PROPERTIES: nodeId(8) + digest(8)     -> {attribute, values}
)

var metaNextNodeId = []byte("next_node_id")
var metaStableCount = []byte("stable_edge_count")

// BadgerOptions configures a PersistentGraph.
type BadgerOptions struct {
	// DataDir is the directory BadgerDB stores its files in. Required
	// unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB with no on-disk footprint; useful for tests
	// that want persistent-backend semantics without touching a filesystem.
	InMemory bool

	// SyncWrites forces fsync after every commit. Slower, maximally durable.
	SyncWrites bool

	// Logger receives structured diagnostics for backend lifecycle events.
	// Defaults to a stdr-backed logr.Logger at verbosity 0 if nil.
	Logger logr.Logger

	// LowMemory trims BadgerDB's memtable/cache sizes for constrained
	// environments, at some throughput cost.
	LowMemory bool
}

// PersistentGraph is a GraphStore backed by an embedded BadgerDB instance.
// Every mutating method below opens exactly one BadgerDB transaction; reads
// use BadgerDB's MVCC snapshot view so concurrent readers never block a
// single in-flight writer.
type PersistentGraph struct {
	db     *badger.DB
	log    logr.Logger
	mu     sync.RWMutex
	closed bool
}

// OpenPersistentGraph opens (creating if absent) a PersistentGraph at path
// with default options.
func OpenPersistentGraph(path string) (*PersistentGraph, error) {
	return OpenPersistentGraphWithOptions(BadgerOptions{DataDir: path})
}

// OpenPersistentGraphWithOptions opens a PersistentGraph with full control
// over BadgerDB tuning. If another process already holds the directory's
// exclusive lock, the returned error's kremis.ErrorKind is
// kremis.KindBackendLocked (see classifyOpenErr).
func OpenPersistentGraphWithOptions(opts BadgerOptions) (*PersistentGraph, error) {
	log := opts.Logger
	if log.GetSink() == nil {
		log = stdr.New(nil)
	}

	badgerOpts := badger.DefaultOptions(opts.DataDir).
		WithLogger(nil) // BadgerDB's own logger is noisy; we log the events that matter ourselves.

	if opts.InMemory {
		// BadgerDB refuses an in-memory open with a directory set.
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(16 << 20).
			WithValueLogFileSize(64 << 20).
			WithNumMemtables(2).
			WithNumLevelZeroTables(2).
			WithNumLevelZeroTablesStall(4).
			WithBlockCacheSize(32 << 20).
			WithIndexCacheSize(16 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		if kind, classified := classifyOpenErr(err); classified {
			log.Info("backend open refused", "dataDir", opts.DataDir, "kind", kind)
			return nil, &kremis.Error{Kind: kind, Reason: "opening backend at " + opts.DataDir, Err: err}
		}
		return nil, kremis.NewBackendIo("opening badger backend", err)
	}

	log.Info("backend opened", "dataDir", opts.DataDir, "inMemory", opts.InMemory)
	return &PersistentGraph{db: db, log: log}, nil
}

// classifyOpenErr reports whether err is BadgerDB's own directory-lock
// contention error, turning it into kremis.KindBackendLocked instead of the
// generic kremis.KindBackendIo. BadgerDB does not export a typed sentinel
// for this condition (see DESIGN.md, Open Question 5); this substring match
// is the documented boundary of that heuristic. No test exercises it.
func classifyOpenErr(err error) (kremis.ErrorKind, bool) {
	if strings.Contains(err.Error(), "Cannot acquire directory lock") {
		return kremis.KindBackendLocked, true
	}
	return "", false
}

func (p *PersistentGraph) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.log.Info("backend closed")
	return p.db.Close()
}

// ---- key encoding ----

func nodeKey(id kremis.NodeId) []byte {
	return append([]byte{prefixNode}, encodeUint64(uint64(id))...)
}

func edgeKey(from, to kremis.NodeId) []byte {
	k := make([]byte, 0, 17)
	k = append(k, prefixEdge)
	k = append(k, encodeUint64(uint64(from))...)
	k = append(k, encodeUint64(uint64(to))...)
	return k
}

func edgePrefixFor(from kremis.NodeId) []byte {
	return append([]byte{prefixEdge}, encodeUint64(uint64(from))...)
}

func entityIndexKey(entity kremis.EntityId) []byte {
	return append([]byte{prefixEntityIndex}, encodeUint64(uint64(entity))...)
}

func metadataKey(name []byte) []byte {
	return append([]byte{prefixMetadata}, name...)
}

func propertyKey(node kremis.NodeId, digest uint64) []byte {
	k := make([]byte, 0, 17)
	k = append(k, prefixProperty)
	k = append(k, encodeUint64(uint64(node))...)
	k = append(k, encodeUint64(digest)...)
	return k
}

func propertyPrefixFor(node kremis.NodeId) []byte {
	return append([]byte{prefixProperty}, encodeUint64(uint64(node))...)
}

// ---- single-call operations (one badger.Update/View per call) ----

func (p *PersistentGraph) UpsertNode(entity kremis.EntityId) (kremis.NodeId, error) {
	var id kremis.NodeId
	err := p.db.Update(func(txn *badger.Txn) error {
		var txErr error
		id, txErr = upsertNodeTxn(txn, entity)
		return txErr
	})
	return id, wrapBadgerErr(err)
}

func (p *PersistentGraph) AppendProperty(node kremis.NodeId, attr kremis.Attribute, value kremis.Value) error {
	err := p.db.Update(func(txn *badger.Txn) error {
		return appendPropertyTxn(txn, node, attr, value)
	})
	return wrapBadgerErr(err)
}

func (p *PersistentGraph) GetProperties(node kremis.NodeId) ([]PropertyEntry, bool, error) {
	var props []PropertyEntry
	var found bool
	err := p.db.View(func(txn *badger.Txn) error {
		if !nodeExistsTxn(txn, node) {
			return nil
		}
		found = true
		var txErr error
		props, txErr = getPropertiesTxn(txn, node)
		return txErr
	})
	if err != nil {
		return nil, false, wrapBadgerErr(err)
	}
	return props, found, nil
}

func (p *PersistentGraph) IncrementEdge(from, to kremis.NodeId) (kremis.EdgeWeight, error) {
	var w kremis.EdgeWeight
	err := p.db.Update(func(txn *badger.Txn) error {
		var txErr error
		w, txErr = incrementEdgeTxn(txn, from, to)
		return txErr
	})
	return w, wrapBadgerErr(err)
}

func (p *PersistentGraph) DecrementEdge(from, to kremis.NodeId) (kremis.EdgeWeight, error) {
	var w kremis.EdgeWeight
	err := p.db.Update(func(txn *badger.Txn) error {
		var txErr error
		w, txErr = decrementEdgeTxn(txn, from, to)
		return txErr
	})
	return w, wrapBadgerErr(err)
}

func (p *PersistentGraph) SetEdgeWeight(from, to kremis.NodeId, weight kremis.EdgeWeight) error {
	err := p.db.Update(func(txn *badger.Txn) error {
		return setEdgeWeightTxn(txn, from, to, weight)
	})
	return wrapBadgerErr(err)
}

func (p *PersistentGraph) Neighbors(node kremis.NodeId) ([]Neighbor, error) {
	var out []Neighbor
	err := p.db.View(func(txn *badger.Txn) error {
		if !nodeExistsTxn(txn, node) {
			return kremis.NewNodeNotFound(node)
		}
		var txErr error
		out, txErr = neighborsTxn(txn, node)
		return txErr
	})
	if err != nil {
		return nil, wrapBadgerErr(err)
	}
	return out, nil
}

func (p *PersistentGraph) Lookup(entity kremis.EntityId) (kremis.NodeId, bool, error) {
	var id kremis.NodeId
	var found bool
	err := p.db.View(func(txn *badger.Txn) error {
		item, txErr := txn.Get(entityIndexKey(entity))
		if txErr == badger.ErrKeyNotFound {
			return nil
		}
		if txErr != nil {
			return txErr
		}
		found = true
		return item.Value(func(val []byte) error {
			id = kremis.NodeId(decodeUint64(val))
			return nil
		})
	})
	if err != nil {
		return 0, false, wrapBadgerErr(err)
	}
	return id, found, nil
}

func (p *PersistentGraph) NodeCount() (int64, error) {
	return p.countPrefix(prefixNode)
}

func (p *PersistentGraph) EdgeCount() (int64, error) {
	return p.countPrefix(prefixEdge)
}

func (p *PersistentGraph) StableEdgeCount() (int64, error) {
	var count int64
	err := p.db.View(func(txn *badger.Txn) error {
		item, txErr := txn.Get(metadataKey(metaStableCount))
		if txErr == badger.ErrKeyNotFound {
			return nil
		}
		if txErr != nil {
			return txErr
		}
		return item.Value(func(val []byte) error {
			count = int64(decodeUint64(val))
			return nil
		})
	})
	if err != nil {
		return 0, wrapBadgerErr(err)
	}
	return count, nil
}

func (p *PersistentGraph) countPrefix(prefix byte) (int64, error) {
	var count int64
	err := p.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		pfx := []byte{prefix}
		for it.Seek(pfx); it.ValidForPrefix(pfx); it.Next() {
			count++
		}
		return nil
	})
	return count, wrapBadgerErr(err)
}

func (p *PersistentGraph) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{}
	err := p.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true})
		defer it.Close()

		byNode := make(map[kremis.NodeId][]PropertyEntry)
		var propOrder []kremis.NodeId

		for it.Seek([]byte{prefixNode}); it.ValidForPrefix([]byte{prefixNode}); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			id := kremis.NodeId(decodeUint64(key[1:]))
			var rec nodeValue
			if err := item.Value(func(val []byte) error { return decodeValue(val, &rec) }); err != nil {
				return err
			}
			snap.Nodes = append(snap.Nodes, kremis.Node{NodeId: id, EntityId: rec.EntityId})
		}

		for it.Seek([]byte{prefixEdge}); it.ValidForPrefix([]byte{prefixEdge}); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			from := kremis.NodeId(decodeUint64(key[1:9]))
			to := kremis.NodeId(decodeUint64(key[9:17]))
			var w kremis.EdgeWeight
			if err := item.Value(func(val []byte) error {
				w = kremis.EdgeWeight(int64(decodeUint64(val)))
				return nil
			}); err != nil {
				return err
			}
			snap.Edges = append(snap.Edges, kremis.Edge{From: from, To: to, Weight: w})
		}

		for it.Seek([]byte{prefixProperty}); it.ValidForPrefix([]byte{prefixProperty}); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			node := kremis.NodeId(decodeUint64(key[1:9]))
			var rec propertyValue
			if err := item.Value(func(val []byte) error { return decodeValue(val, &rec) }); err != nil {
				return err
			}
			if _, seen := byNode[node]; !seen {
				propOrder = append(propOrder, node)
			}
			byNode[node] = append(byNode[node], PropertyEntry{Attribute: rec.Attribute, Values: rec.Values})
		}

		item, err := txn.Get(metadataKey(metaNextNodeId))
		if err == nil {
			if err := item.Value(func(val []byte) error {
				snap.NextNodeId = kremis.NodeId(decodeUint64(val))
				return nil
			}); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		sort.Slice(propOrder, func(i, j int) bool { return propOrder[i] < propOrder[j] })
		for _, n := range propOrder {
			entries := byNode[n]
			sort.Slice(entries, func(i, j int) bool { return entries[i].Attribute < entries[j].Attribute })
			snap.Properties = append(snap.Properties, NodeProperties{NodeId: n, Props: entries})
		}
		return nil
	})
	if err != nil {
		return nil, wrapBadgerErr(err)
	}
	return snap, nil
}

func (p *PersistentGraph) BatchIngest(signals []kremis.Signal) ([]kremis.NodeId, error) {
	var ids []kremis.NodeId
	err := p.db.Update(func(txn *badger.Txn) error {
		for _, s := range signals {
			if err := s.Validate(); err != nil {
				return err
			}
			id, err := upsertNodeTxn(txn, s.EntityId)
			if err != nil {
				return err
			}
			if err := appendPropertyTxn(txn, id, s.Attribute, s.Value); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, wrapBadgerErr(err)
	}
	return ids, nil
}

// Transact runs fn once, inside one BadgerDB read-write transaction. fn
// receives a *badgerTxnGraph bound to that transaction; any error aborts the
// whole transaction (BadgerDB never commits partial writes), matching the
// in-memory backend's all-or-nothing Transact semantics.
func (p *PersistentGraph) Transact(fn func(tx GraphStore) error) error {
	err := p.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTxnGraph{txn: txn})
	})
	return wrapBadgerErr(err)
}

func wrapBadgerErr(err error) error {
	if err == nil {
		return nil
	}
	if kerr, ok := err.(*kremis.Error); ok {
		return kerr
	}
	return kremis.NewBackendIo("badger operation failed", err)
}
