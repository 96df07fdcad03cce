package codec

import (
	"bytes"
	"fmt"

	"github.com/TyKolt/kremis/pkg/kremis"
	"github.com/TyKolt/kremis/pkg/storage"
)

const (
	persistenceMagic          = "KREM"
	persistenceVersion uint32 = 1

	// maxPersistencePayload is spec.md §4.h's 500 MiB cap.
	maxPersistencePayload = 500 * 1024 * 1024
)

// EncodePersistence serializes snap using the same sort order and field
// encoding as the canonical codec, under the thinner persistence framing: a
// 4-byte magic and a 1-byte version precede the body, with no length-
// prefixed header or checksum (the embedded KV store that owns this payload
// already guarantees its own durability and integrity). Section counts
// (node, edge, and property-bearing-node counts) are carried inline in the
// body itself rather than in a header, since there is no header here.
func EncodePersistence(snap *storage.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(persistenceMagic)
	buf.WriteByte(byte(persistenceVersion))

	writeUint64(&buf, uint64(len(snap.Nodes)))
	for _, n := range snap.Nodes {
		writeUint64(&buf, uint64(n.NodeId))
		writeUint64(&buf, uint64(n.EntityId))
	}

	writeUint64(&buf, uint64(len(snap.Edges)))
	for _, e := range snap.Edges {
		writeUint64(&buf, uint64(e.From))
		writeUint64(&buf, uint64(e.To))
		writeInt64(&buf, int64(e.Weight))
	}

	writeUint64(&buf, uint64(snap.NextNodeId))

	writeUint64(&buf, uint64(len(snap.Properties)))
	for _, np := range snap.Properties {
		writeUint64(&buf, uint64(np.NodeId))
		writeUint32(&buf, uint32(len(np.Props)))
		for _, prop := range np.Props {
			writeAttribute(&buf, prop.Attribute)
			writeUint32(&buf, uint32(len(prop.Values)))
			for _, v := range prop.Values {
				writeValue(&buf, v)
			}
		}
	}

	if buf.Len() > maxPersistencePayload {
		return nil, kremis.NewPayloadTooLarge(fmt.Sprintf("persistence payload of %d bytes exceeds %d byte limit", buf.Len(), maxPersistencePayload))
	}
	return buf.Bytes(), nil
}

// DecodePersistence parses a payload produced by EncodePersistence.
func DecodePersistence(data []byte) (*storage.Snapshot, error) {
	if len(data) > maxPersistencePayload {
		return nil, kremis.NewPayloadTooLarge(fmt.Sprintf("persistence payload of %d bytes exceeds %d byte limit", len(data), maxPersistencePayload))
	}
	if len(data) < 5 {
		return nil, kremis.NewSerialization("persistence payload too short for framing")
	}
	if !bytes.Equal(data[:4], []byte(persistenceMagic)) {
		return nil, kremis.NewSerialization("bad persistence magic")
	}
	version := uint32(data[4])
	if version != persistenceVersion {
		return nil, kremis.NewVersionUnsupported(version)
	}

	r := &cursor{buf: data[5:]}
	snap := &storage.Snapshot{}

	nodeCount, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	snap.Nodes = make([]kremis.Node, 0, nodeCount)
	for i := uint64(0); i < nodeCount; i++ {
		nodeID, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		entityID, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		snap.Nodes = append(snap.Nodes, kremis.Node{NodeId: kremis.NodeId(nodeID), EntityId: kremis.EntityId(entityID)})
	}

	edgeCount, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	snap.Edges = make([]kremis.Edge, 0, edgeCount)
	for i := uint64(0); i < edgeCount; i++ {
		from, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		to, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		weight, err := r.readInt64()
		if err != nil {
			return nil, err
		}
		snap.Edges = append(snap.Edges, kremis.Edge{From: kremis.NodeId(from), To: kremis.NodeId(to), Weight: kremis.EdgeWeight(weight)})
	}

	nextNodeID, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	snap.NextNodeId = kremis.NodeId(nextNodeID)

	propNodeCount, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	snap.Properties = make([]storage.NodeProperties, 0, propNodeCount)
	for i := uint64(0); i < propNodeCount; i++ {
		nodeID, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		propCount, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		entry := storage.NodeProperties{NodeId: kremis.NodeId(nodeID), Props: make([]storage.PropertyEntry, 0, propCount)}
		for j := uint32(0); j < propCount; j++ {
			attr, err := r.readAttribute()
			if err != nil {
				return nil, err
			}
			valueCount, err := r.readUint32()
			if err != nil {
				return nil, err
			}
			values := make(storage.PropertyList, 0, valueCount)
			for k := uint32(0); k < valueCount; k++ {
				v, err := r.readValue()
				if err != nil {
					return nil, err
				}
				values = append(values, v)
			}
			entry.Props = append(entry.Props, storage.PropertyEntry{Attribute: attr, Values: values})
		}
		snap.Properties = append(snap.Properties, entry)
	}

	return snap, nil
}
