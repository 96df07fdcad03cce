package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TyKolt/kremis/pkg/ingest"
	"github.com/TyKolt/kremis/pkg/kremis"
	"github.com/TyKolt/kremis/pkg/storage"
)

func chain(t *testing.T, store storage.GraphStore) []kremis.NodeId {
	t.Helper()
	nodes, err := ingest.IngestSequence(store, []kremis.Signal{
		{EntityId: 1, Attribute: "a", Value: "x"},
		{EntityId: 2, Attribute: "a", Value: "y"},
		{EntityId: 3, Attribute: "a", Value: "z"},
	})
	require.NoError(t, err)
	return nodes
}

func TestComposeDepthZeroReturnsOnlyStart(t *testing.T) {
	store := storage.NewMemoryGraph()
	nodes := chain(t, store)

	artifact, err := Compose(store, nodes[0], 0)
	require.NoError(t, err)
	assert.Equal(t, []kremis.NodeId{nodes[0]}, artifact.Path)
	assert.Empty(t, artifact.Subgraph)
}

func TestComposeDepthTwoWalksTwoHops(t *testing.T) {
	store := storage.NewMemoryGraph()
	nodes := chain(t, store)

	artifact, err := Compose(store, nodes[0], 2)
	require.NoError(t, err)
	assert.Equal(t, nodes, artifact.Path)
	assert.Equal(t, []kremis.Edge{
		{From: nodes[0], To: nodes[1], Weight: 1},
		{From: nodes[1], To: nodes[2], Weight: 1},
	}, artifact.Subgraph)
}

func TestComposeRejectsDepthOutOfRange(t *testing.T) {
	store := storage.NewMemoryGraph()
	nodes := chain(t, store)

	_, err := Compose(store, nodes[0], 101)
	require.Error(t, err)
}

func TestComposeMissingStartIsNodeNotFound(t *testing.T) {
	store := storage.NewMemoryGraph()
	_, err := Compose(store, 99, 1)
	require.Error(t, err)
	var kerr *kremis.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, kremis.KindNodeNotFound, kerr.Kind)
}

func TestComposeFilteredSkipsWeakEdges(t *testing.T) {
	store := storage.NewMemoryGraph()
	nodes := chain(t, store)
	// Strengthen only the first edge above the filter threshold.
	for i := 0; i < 4; i++ {
		_, err := store.IncrementEdge(nodes[0], nodes[1])
		require.NoError(t, err)
	}

	artifact, err := ComposeFiltered(store, nodes[0], 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []kremis.NodeId{nodes[0], nodes[1]}, artifact.Path)
	require.Len(t, artifact.Subgraph, 1)
	assert.Equal(t, nodes[1], artifact.Subgraph[0].To)
}

func TestStrongestPathSingleHopBeatsHeavierTwoHops(t *testing.T) {
	store := storage.NewMemoryGraph()
	a, err := store.UpsertNode(1)
	require.NoError(t, err)
	b, err := store.UpsertNode(2)
	require.NoError(t, err)
	c, err := store.UpsertNode(3)
	require.NoError(t, err)

	// Direct a->c has weight 1 (cost MAX-1); a->b->c has weight 5 per hop
	// (cost 2·MAX-10). Each hop adds nearly MAX, so the single hop wins.
	_, err = store.IncrementEdge(a, c)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = store.IncrementEdge(a, b)
		require.NoError(t, err)
		_, err = store.IncrementEdge(b, c)
		require.NoError(t, err)
	}

	artifact, err := StrongestPath(store, a, c)
	require.NoError(t, err)
	assert.Equal(t, []kremis.NodeId{a, c}, artifact.Path)
}

func TestStrongestPathUnreachableReturnsEmptyPath(t *testing.T) {
	store := storage.NewMemoryGraph()
	a, err := store.UpsertNode(1)
	require.NoError(t, err)
	b, err := store.UpsertNode(2)
	require.NoError(t, err)

	artifact, err := StrongestPath(store, a, b)
	require.NoError(t, err)
	assert.False(t, artifact.Found())
}

func TestIntersectOfEmptySetIsEmpty(t *testing.T) {
	store := storage.NewMemoryGraph()
	artifact, err := Intersect(store, nil)
	require.NoError(t, err)
	assert.Empty(t, artifact.Path)
}

func TestIntersectFindsCommonNeighbors(t *testing.T) {
	store := storage.NewMemoryGraph()
	a, _ := store.UpsertNode(1)
	b, _ := store.UpsertNode(2)
	shared, _ := store.UpsertNode(3)
	onlyA, _ := store.UpsertNode(4)

	_, err := store.IncrementEdge(a, shared)
	require.NoError(t, err)
	_, err = store.IncrementEdge(a, onlyA)
	require.NoError(t, err)
	_, err = store.IncrementEdge(b, shared)
	require.NoError(t, err)

	artifact, err := Intersect(store, []kremis.NodeId{a, b})
	require.NoError(t, err)
	assert.Equal(t, []kremis.NodeId{shared}, artifact.Path)
}

func TestIntersectRejectsOversizedInput(t *testing.T) {
	store := storage.NewMemoryGraph()
	nodes := make([]kremis.NodeId, 101)
	_, err := Intersect(store, nodes)
	require.Error(t, err)
}

func TestPropertiesNotFoundForMissingNode(t *testing.T) {
	store := storage.NewMemoryGraph()
	_, found, err := Properties(store, 42)
	require.NoError(t, err)
	assert.False(t, found)
}
