package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TyKolt/kremis/pkg/kremis"
	"github.com/TyKolt/kremis/pkg/storage"
)

func TestIngestSignalMintsNodeAndAppendsProperty(t *testing.T) {
	store := storage.NewMemoryGraph()

	node, err := IngestSignal(store, kremis.Signal{EntityId: 7, Attribute: "color", Value: "blue"})
	require.NoError(t, err)

	props, found, err := store.GetProperties(node)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, props, 1)
	assert.Equal(t, kremis.Attribute("color"), props[0].Attribute)
	assert.Equal(t, storage.PropertyList{"blue"}, props[0].Values)
}

func TestIngestSignalRejectsInvalidSignal(t *testing.T) {
	store := storage.NewMemoryGraph()
	_, err := IngestSignal(store, kremis.Signal{EntityId: 1, Attribute: "", Value: "x"})
	require.Error(t, err)

	count, err := store.NodeCount()
	require.NoError(t, err)
	assert.Zero(t, count, "a rejected signal must not mint a node")
}

func TestIngestSequenceLinksAdjacentSignals(t *testing.T) {
	store := storage.NewMemoryGraph()

	nodes, err := IngestSequence(store, []kremis.Signal{
		{EntityId: 1, Attribute: "a", Value: "x"},
		{EntityId: 2, Attribute: "a", Value: "y"},
		{EntityId: 3, Attribute: "a", Value: "z"},
	})
	require.NoError(t, err)
	require.Equal(t, []kremis.NodeId{0, 1, 2}, nodes)

	snap, err := store.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []kremis.Edge{
		{From: 0, To: 1, Weight: 1},
		{From: 1, To: 2, Weight: 1},
	}, snap.Edges)
}

func TestIngestSequenceRepeatedPairStrengthensOneEdge(t *testing.T) {
	store := storage.NewMemoryGraph()

	for i := 0; i < 10; i++ {
		_, err := IngestSequence(store, []kremis.Signal{
			{EntityId: 1, Attribute: "a", Value: "x"},
			{EntityId: 2, Attribute: "a", Value: "y"},
		})
		require.NoError(t, err)
	}

	stable, err := store.StableEdgeCount()
	require.NoError(t, err)
	assert.EqualValues(t, 1, stable)

	snap, err := store.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Edges, 1)
	assert.EqualValues(t, 10, snap.Edges[0].Weight)
}

func TestIngestSequenceSelfLoopForRepeatedEntity(t *testing.T) {
	store := storage.NewMemoryGraph()

	nodes, err := IngestSequence(store, []kremis.Signal{
		{EntityId: 1, Attribute: "a", Value: "x"},
		{EntityId: 1, Attribute: "a", Value: "y"},
	})
	require.NoError(t, err)
	require.Equal(t, []kremis.NodeId{0, 0}, nodes)

	snap, err := store.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Edges, 1)
	assert.Equal(t, kremis.Edge{From: 0, To: 0, Weight: 1}, snap.Edges[0])
}

func TestIngestSequenceRollsBackWholeSequenceOnInvalidSignal(t *testing.T) {
	store := storage.NewMemoryGraph()

	_, err := IngestSequence(store, []kremis.Signal{
		{EntityId: 1, Attribute: "a", Value: "x"},
		{EntityId: 2, Attribute: "", Value: "y"},
	})
	require.Error(t, err)

	count, err := store.NodeCount()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngestSequenceEmptyInputIsNoop(t *testing.T) {
	store := storage.NewMemoryGraph()
	nodes, err := IngestSequence(store, nil)
	require.NoError(t, err)
	assert.Nil(t, nodes)
}
