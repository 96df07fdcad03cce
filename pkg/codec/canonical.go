// Package codec implements Kremis-Core's two wire formats: the canonical
// verification codec (bit-exact, checksummed, used to compare backends and
// detect corruption) and the persistence codec (the on-disk snapshot
// format). Both serialize the same sorted Snapshot shape; only framing and
// size limits differ. Every integer field is little-endian; no
// floating-point field ever appears, matching the module's determinism
// guarantee — a JSON or protobuf encoder would leave field order and
// integer width to a library-chosen convention we don't control, so this
// package hand-rolls the framing with encoding/binary and bytes instead.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/TyKolt/kremis/pkg/kremis"
	"github.com/TyKolt/kremis/pkg/storage"
)

const (
	canonicalMagic = "KREX"

	// canonicalVersion1 predates the properties section; accepted on import
	// only, per spec open question 2.
	canonicalVersion1 uint32 = 1
	// canonicalVersion2 is the current, default export version.
	canonicalVersion2 uint32 = 2

	maxImportNodes = 1_000_000
	maxImportEdges = 10_000_000
)

// canonicalHeader mirrors the length-prefixed header spec.md §4.g describes:
// magic, version, node_count, edge_count, checksum. It is always 32 bytes
// once serialized.
type canonicalHeader struct {
	version   uint32
	nodeCount uint64
	edgeCount uint64
	checksum  uint64
}

func encodeCanonicalHeader(h canonicalHeader) []byte {
	buf := make([]byte, 0, 4+4+8+8+8)
	buf = append(buf, []byte(canonicalMagic)...)
	buf = binary.LittleEndian.AppendUint32(buf, h.version)
	buf = binary.LittleEndian.AppendUint64(buf, h.nodeCount)
	buf = binary.LittleEndian.AppendUint64(buf, h.edgeCount)
	buf = binary.LittleEndian.AppendUint64(buf, h.checksum)
	return buf
}

func decodeCanonicalHeader(b []byte) (canonicalHeader, error) {
	if len(b) != 4+4+8+8+8 {
		return canonicalHeader{}, kremis.NewSerialization("malformed canonical header length")
	}
	if !bytes.Equal(b[:4], []byte(canonicalMagic)) {
		return canonicalHeader{}, kremis.NewSerialization("bad canonical magic")
	}
	h := canonicalHeader{
		version:   binary.LittleEndian.Uint32(b[4:8]),
		nodeCount: binary.LittleEndian.Uint64(b[8:16]),
		edgeCount: binary.LittleEndian.Uint64(b[16:24]),
		checksum:  binary.LittleEndian.Uint64(b[24:32]),
	}
	return h, nil
}

// EncodeCanonical serializes snap into the version-2 canonical format.
func EncodeCanonical(snap *storage.Snapshot) []byte {
	body := encodeCanonicalBody(snap, canonicalVersion2)
	header := encodeCanonicalHeader(canonicalHeader{
		version:   canonicalVersion2,
		nodeCount: uint64(len(snap.Nodes)),
		edgeCount: uint64(len(snap.Edges)),
		checksum:  checksumBody(body),
	})

	out := make([]byte, 0, 4+len(header)+len(body))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(header)))
	out = append(out, header...)
	out = append(out, body...)
	return out
}

// DecodeCanonical parses a canonical payload produced by EncodeCanonical (or
// a legacy version-1 payload), validating its checksum and import limits.
func DecodeCanonical(data []byte) (*storage.Snapshot, error) {
	if len(data) < 4 {
		return nil, kremis.NewSerialization("canonical payload too short for header length")
	}
	headerLen := binary.LittleEndian.Uint32(data[:4])
	rest := data[4:]
	if uint64(len(rest)) < uint64(headerLen) {
		return nil, kremis.NewSerialization("canonical payload truncated before header")
	}
	header, err := decodeCanonicalHeader(rest[:headerLen])
	if err != nil {
		return nil, err
	}
	body := rest[headerLen:]

	if header.version != canonicalVersion1 && header.version != canonicalVersion2 {
		return nil, kremis.NewVersionUnsupported(header.version)
	}
	if header.nodeCount > maxImportNodes {
		return nil, kremis.NewImportTooLarge(fmt.Sprintf("node_count %d exceeds limit of %d", header.nodeCount, maxImportNodes))
	}
	if header.edgeCount > maxImportEdges {
		return nil, kremis.NewImportTooLarge(fmt.Sprintf("edge_count %d exceeds limit of %d", header.edgeCount, maxImportEdges))
	}
	if checksumBody(body) != header.checksum {
		return nil, kremis.NewChecksumMismatch()
	}

	return decodeCanonicalBody(body, header)
}

func encodeCanonicalBody(snap *storage.Snapshot, version uint32) []byte {
	var buf bytes.Buffer

	for _, n := range snap.Nodes {
		writeUint64(&buf, uint64(n.NodeId))
		writeUint64(&buf, uint64(n.EntityId))
	}
	for _, e := range snap.Edges {
		writeUint64(&buf, uint64(e.From))
		writeUint64(&buf, uint64(e.To))
		writeInt64(&buf, int64(e.Weight))
	}
	writeUint64(&buf, uint64(snap.NextNodeId))

	if version >= canonicalVersion2 {
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
	}

	return buf.Bytes()
}

func decodeCanonicalBody(body []byte, header canonicalHeader) (*storage.Snapshot, error) {
	r := &cursor{buf: body}

	snap := &storage.Snapshot{
		Nodes: make([]kremis.Node, 0, header.nodeCount),
		Edges: make([]kremis.Edge, 0, header.edgeCount),
	}

	for i := uint64(0); i < header.nodeCount; i++ {
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

	for i := uint64(0); i < header.edgeCount; i++ {
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

	if header.version < canonicalVersion2 {
		return snap, nil
	}

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
