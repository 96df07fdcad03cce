// Package storage - serialization and per-transaction helpers for
// PersistentGraph. These operate directly on a *badger.Txn so they can be
// shared between the single-call methods in badger.go (each opening its own
// transaction) and badgerTxnGraph (bound to one caller-supplied transaction
// inside Transact).
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/TyKolt/kremis/pkg/kremis"
)

// nodeValue is the BadgerDB value payload for the NODES table.
type nodeValue struct {
	EntityId kremis.EntityId `json:"entity_id"`
}

// propertyValue is the BadgerDB value payload for the PROPERTIES table. The
// full attribute is stored alongside its digest-derived key so a collision
// between two attributes hashing to the same digest is detectable (and, by
// storing distinct keys per attribute text, never actually a problem — see
// DESIGN.md Open Question 3).
type propertyValue struct {
	Attribute kremis.Attribute `json:"attribute"`
	Values    PropertyList     `json:"values"`
}

func encodeValue(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeValue(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return kremis.NewSerialization(fmt.Sprintf("decoding badger value: %v", err))
	}
	return nil
}

func nodeExistsTxn(txn *badger.Txn, id kremis.NodeId) bool {
	_, err := txn.Get(nodeKey(id))
	return err == nil
}

func upsertNodeTxn(txn *badger.Txn, entity kremis.EntityId) (kremis.NodeId, error) {
	idxKey := entityIndexKey(entity)
	if item, err := txn.Get(idxKey); err == nil {
		var id kremis.NodeId
		getErr := item.Value(func(val []byte) error {
			id = kremis.NodeId(decodeUint64(val))
			return nil
		})
		return id, getErr
	} else if err != badger.ErrKeyNotFound {
		return 0, err
	}

	id, err := nextNodeIdTxn(txn)
	if err != nil {
		return 0, err
	}

	nv, err := encodeValue(nodeValue{EntityId: entity})
	if err != nil {
		return 0, kremis.NewSerialization(fmt.Sprintf("encoding node: %v", err))
	}
	if err := txn.Set(nodeKey(id), nv); err != nil {
		return 0, err
	}
	if err := txn.Set(idxKey, encodeUint64(uint64(id))); err != nil {
		return 0, err
	}
	if err := setNextNodeIdTxn(txn, id+1); err != nil {
		return 0, err
	}
	return id, nil
}

func nextNodeIdTxn(txn *badger.Txn) (kremis.NodeId, error) {
	item, err := txn.Get(metadataKey(metaNextNodeId))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var id kremis.NodeId
	err = item.Value(func(val []byte) error {
		id = kremis.NodeId(decodeUint64(val))
		return nil
	})
	return id, err
}

func setNextNodeIdTxn(txn *badger.Txn, next kremis.NodeId) error {
	return txn.Set(metadataKey(metaNextNodeId), encodeUint64(uint64(next)))
}

func appendPropertyTxn(txn *badger.Txn, node kremis.NodeId, attr kremis.Attribute, value kremis.Value) error {
	if !nodeExistsTxn(txn, node) {
		return kremis.NewNodeNotFound(node)
	}

	key := propertyKey(node, attributeDigest(attr))
	var rec propertyValue
	item, err := txn.Get(key)
	switch {
	case err == nil:
		if getErr := item.Value(func(val []byte) error { return decodeValue(val, &rec) }); getErr != nil {
			return getErr
		}
		if rec.Attribute != attr {
			// Digest collision between two distinct attributes on the same
			// node. Kremis-Core resolves this by probing the following
			// digest slots — rare in practice for 64-bit digests — rather
			// than silently overwriting unrelated data.
			return appendPropertyCollisionTxn(txn, node, attr, value, rec)
		}
	case err == badger.ErrKeyNotFound:
		rec = propertyValue{Attribute: attr}
	default:
		return err
	}

	rec.Values = append(rec.Values, value)
	data, encErr := encodeValue(rec)
	if encErr != nil {
		return kremis.NewSerialization(fmt.Sprintf("encoding properties: %v", encErr))
	}
	return txn.Set(key, data)
}

// appendPropertyCollisionTxn handles the rare case where two distinct
// attributes on the same node share a 64-bit digest, by probing subsequent
// keys until it finds the matching attribute or an empty slot. Collisions
// never alter externally observable behavior (spec §4.d).
func appendPropertyCollisionTxn(txn *badger.Txn, node kremis.NodeId, attr kremis.Attribute, value kremis.Value, first propertyValue) error {
	digest := attributeDigest(attr)
	for probe := uint64(1); probe < 1<<16; probe++ {
		key := propertyKey(node, digest+probe)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			rec := propertyValue{Attribute: attr, Values: PropertyList{value}}
			data, encErr := encodeValue(rec)
			if encErr != nil {
				return kremis.NewSerialization(fmt.Sprintf("encoding properties: %v", encErr))
			}
			return txn.Set(key, data)
		}
		if err != nil {
			return err
		}
		var rec propertyValue
		if getErr := item.Value(func(val []byte) error { return decodeValue(val, &rec) }); getErr != nil {
			return getErr
		}
		if rec.Attribute == attr {
			rec.Values = append(rec.Values, value)
			data, encErr := encodeValue(rec)
			if encErr != nil {
				return kremis.NewSerialization(fmt.Sprintf("encoding properties: %v", encErr))
			}
			return txn.Set(key, data)
		}
	}
	return kremis.NewBackendIo("digest probe exhausted", fmt.Errorf("attribute %q collides with %q on node %d", attr, first.Attribute, node))
}

func getPropertiesTxn(txn *badger.Txn, node kremis.NodeId) ([]PropertyEntry, error) {
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true})
	defer it.Close()

	var out []PropertyEntry
	prefix := propertyPrefixFor(node)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var rec propertyValue
		if err := it.Item().Value(func(val []byte) error { return decodeValue(val, &rec) }); err != nil {
			return nil, err
		}
		out = append(out, PropertyEntry{Attribute: rec.Attribute, Values: rec.Values})
	}
	sortPropertyEntries(out)
	return out, nil
}

func sortPropertyEntries(entries []PropertyEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Attribute < entries[j-1].Attribute; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func incrementEdgeTxn(txn *badger.Txn, from, to kremis.NodeId) (kremis.EdgeWeight, error) {
	if !nodeExistsTxn(txn, from) {
		return 0, kremis.NewNodeNotFound(from)
	}
	if !nodeExistsTxn(txn, to) {
		return 0, kremis.NewNodeNotFound(to)
	}

	before, existed, err := getEdgeWeightTxn(txn, from, to)
	if err != nil {
		return 0, err
	}
	after := before.Inc()
	if err := txn.Set(edgeKey(from, to), encodeUint64(uint64(after))); err != nil {
		return 0, err
	}
	if !existed {
		before = 0
	}
	if err := adjustStableCountTxn(txn, before, after); err != nil {
		return 0, err
	}
	return after, nil
}

func decrementEdgeTxn(txn *badger.Txn, from, to kremis.NodeId) (kremis.EdgeWeight, error) {
	before, existed, err := getEdgeWeightTxn(txn, from, to)
	if err != nil {
		return 0, err
	}
	if !existed {
		return 0, kremis.NewEdgeNotFound(from, to)
	}
	after := before.Dec()
	if err := txn.Set(edgeKey(from, to), encodeUint64(uint64(after))); err != nil {
		return 0, err
	}
	if err := adjustStableCountTxn(txn, before, after); err != nil {
		return 0, err
	}
	return after, nil
}

func setEdgeWeightTxn(txn *badger.Txn, from, to kremis.NodeId, weight kremis.EdgeWeight) error {
	if !nodeExistsTxn(txn, from) {
		return kremis.NewNodeNotFound(from)
	}
	if !nodeExistsTxn(txn, to) {
		return kremis.NewNodeNotFound(to)
	}

	before, _, err := getEdgeWeightTxn(txn, from, to)
	if err != nil {
		return err
	}
	if err := txn.Set(edgeKey(from, to), encodeUint64(uint64(weight))); err != nil {
		return err
	}
	return adjustStableCountTxn(txn, before, weight)
}

func getEdgeWeightTxn(txn *badger.Txn, from, to kremis.NodeId) (kremis.EdgeWeight, bool, error) {
	item, err := txn.Get(edgeKey(from, to))
	if err == badger.ErrKeyNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var w kremis.EdgeWeight
	getErr := item.Value(func(val []byte) error {
		w = kremis.EdgeWeight(int64(decodeUint64(val)))
		return nil
	})
	return w, true, getErr
}

func adjustStableCountTxn(txn *badger.Txn, before, after kremis.EdgeWeight) error {
	wasStable := before >= kremis.StableThreshold
	isStable := after >= kremis.StableThreshold
	if wasStable == isStable {
		return nil
	}

	current, err := stableCountTxn(txn)
	if err != nil {
		return err
	}
	if isStable {
		current++
	} else {
		current--
	}
	return txn.Set(metadataKey(metaStableCount), encodeUint64(uint64(current)))
}

func stableCountTxn(txn *badger.Txn) (int64, error) {
	item, err := txn.Get(metadataKey(metaStableCount))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var count int64
	getErr := item.Value(func(val []byte) error {
		count = int64(decodeUint64(val))
		return nil
	})
	return count, getErr
}

func neighborsTxn(txn *badger.Txn, node kremis.NodeId) ([]Neighbor, error) {
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true})
	defer it.Close()

	var out []Neighbor
	prefix := edgePrefixFor(node)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		to := kremis.NodeId(decodeUint64(key[9:17]))
		var w kremis.EdgeWeight
		if err := item.Value(func(val []byte) error {
			w = kremis.EdgeWeight(int64(decodeUint64(val)))
			return nil
		}); err != nil {
			return nil, err
		}
		out = append(out, Neighbor{To: to, Weight: w})
	}
	return out, nil
}

// badgerTxnGraph adapts a single *badger.Txn to the GraphStore interface,
// for use inside PersistentGraph.Transact where the caller needs several
// GraphStore calls to share one transaction's atomicity.
type badgerTxnGraph struct {
	txn *badger.Txn
}

func (b *badgerTxnGraph) UpsertNode(entity kremis.EntityId) (kremis.NodeId, error) {
	return upsertNodeTxn(b.txn, entity)
}

func (b *badgerTxnGraph) AppendProperty(node kremis.NodeId, attr kremis.Attribute, value kremis.Value) error {
	return appendPropertyTxn(b.txn, node, attr, value)
}

func (b *badgerTxnGraph) GetProperties(node kremis.NodeId) ([]PropertyEntry, bool, error) {
	if !nodeExistsTxn(b.txn, node) {
		return nil, false, nil
	}
	props, err := getPropertiesTxn(b.txn, node)
	return props, true, err
}

func (b *badgerTxnGraph) IncrementEdge(from, to kremis.NodeId) (kremis.EdgeWeight, error) {
	return incrementEdgeTxn(b.txn, from, to)
}

func (b *badgerTxnGraph) DecrementEdge(from, to kremis.NodeId) (kremis.EdgeWeight, error) {
	return decrementEdgeTxn(b.txn, from, to)
}

func (b *badgerTxnGraph) SetEdgeWeight(from, to kremis.NodeId, weight kremis.EdgeWeight) error {
	return setEdgeWeightTxn(b.txn, from, to, weight)
}

func (b *badgerTxnGraph) Neighbors(node kremis.NodeId) ([]Neighbor, error) {
	if !nodeExistsTxn(b.txn, node) {
		return nil, kremis.NewNodeNotFound(node)
	}
	return neighborsTxn(b.txn, node)
}

func (b *badgerTxnGraph) Lookup(entity kremis.EntityId) (kremis.NodeId, bool, error) {
	item, err := b.txn.Get(entityIndexKey(entity))
	if err == badger.ErrKeyNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var id kremis.NodeId
	getErr := item.Value(func(val []byte) error {
		id = kremis.NodeId(decodeUint64(val))
		return nil
	})
	return id, true, getErr
}

func (b *badgerTxnGraph) NodeCount() (int64, error) { return b.countPrefix(prefixNode) }
func (b *badgerTxnGraph) EdgeCount() (int64, error) { return b.countPrefix(prefixEdge) }

func (b *badgerTxnGraph) countPrefix(prefix byte) (int64, error) {
	it := b.txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
	defer it.Close()
	var count int64
	pfx := []byte{prefix}
	for it.Seek(pfx); it.ValidForPrefix(pfx); it.Next() {
		count++
	}
	return count, nil
}

func (b *badgerTxnGraph) StableEdgeCount() (int64, error) { return stableCountTxn(b.txn) }

func (b *badgerTxnGraph) Snapshot() (*Snapshot, error) {
	return nil, kremis.NewSerialization("Snapshot is unavailable inside an open transaction; call it on the backend directly")
}

func (b *badgerTxnGraph) BatchIngest(signals []kremis.Signal) ([]kremis.NodeId, error) {
	var ids []kremis.NodeId
	for _, s := range signals {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		id, err := upsertNodeTxn(b.txn, s.EntityId)
		if err != nil {
			return nil, err
		}
		if err := appendPropertyTxn(b.txn, id, s.Attribute, s.Value); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (b *badgerTxnGraph) Transact(fn func(tx GraphStore) error) error { return fn(b) }
func (b *badgerTxnGraph) Close() error                                { return nil }
