package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TyKolt/kremis/pkg/kremis"
	"github.com/TyKolt/kremis/pkg/storage"
)

func sampleSnapshot() *storage.Snapshot {
	return &storage.Snapshot{
		Nodes: []kremis.Node{
			{NodeId: 0, EntityId: 1},
			{NodeId: 1, EntityId: 2},
		},
		Edges: []kremis.Edge{
			{From: 0, To: 1, Weight: 3},
		},
		NextNodeId: 2,
		Properties: []storage.NodeProperties{
			{
				NodeId: 0,
				Props: []storage.PropertyEntry{
					{Attribute: "name", Values: storage.PropertyList{"Alice", "Ally"}},
				},
			},
		},
	}
}

func TestCanonicalRoundTrip(t *testing.T) {
	snap := sampleSnapshot()
	encoded := EncodeCanonical(snap)

	decoded, err := DecodeCanonical(encoded)
	require.NoError(t, err)
	assert.Equal(t, snap, decoded)

	reEncoded := EncodeCanonical(decoded)
	assert.Equal(t, encoded, reEncoded)
}

func TestCanonicalChecksumMismatchOnTamper(t *testing.T) {
	snap := sampleSnapshot()
	encoded := EncodeCanonical(snap)

	tampered := append([]byte(nil), encoded...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err := DecodeCanonical(tampered)
	require.Error(t, err)
	var kerr *kremis.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, kremis.KindChecksumMismatch, kerr.Kind)
}

func TestCanonicalVersion1ImportsAsEmptyPropertyStore(t *testing.T) {
	snap := sampleSnapshot()
	body := encodeCanonicalBody(snap, canonicalVersion1)
	header := encodeCanonicalHeader(canonicalHeader{
		version:   canonicalVersion1,
		nodeCount: uint64(len(snap.Nodes)),
		edgeCount: uint64(len(snap.Edges)),
		checksum:  checksumBody(body),
	})
	payload := append(encodeUint32LE(uint32(len(header))), append(header, body...)...)

	decoded, err := DecodeCanonical(payload)
	require.NoError(t, err)
	assert.Empty(t, decoded.Properties)
	assert.Equal(t, snap.Nodes, decoded.Nodes)
	assert.Equal(t, snap.Edges, decoded.Edges)
}

func TestCanonicalRejectsOversizedImport(t *testing.T) {
	header := encodeCanonicalHeader(canonicalHeader{
		version:   canonicalVersion2,
		nodeCount: maxImportNodes + 1,
		edgeCount: 0,
		checksum:  checksumBody(nil),
	})
	payload := append(encodeUint32LE(uint32(len(header))), header...)

	_, err := DecodeCanonical(payload)
	require.Error(t, err)
	var kerr *kremis.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, kremis.KindImportTooLarge, kerr.Kind)
}

func TestPersistenceRoundTrip(t *testing.T) {
	snap := sampleSnapshot()
	encoded, err := EncodePersistence(snap)
	require.NoError(t, err)

	decoded, err := DecodePersistence(encoded)
	require.NoError(t, err)
	assert.Equal(t, snap, decoded)
}

func TestPersistenceRejectsBadMagic(t *testing.T) {
	_, err := DecodePersistence([]byte("XXXX\x01garbage"))
	require.Error(t, err)
	var kerr *kremis.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, kremis.KindSerialization, kerr.Kind)
}

func encodeUint32LE(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
