package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TyKolt/kremis/pkg/kremis"
)

func TestMemoryGraphUpsertNodeIdempotent(t *testing.T) {
	g := NewMemoryGraph()
	a, err := g.UpsertNode(1)
	require.NoError(t, err)
	b, err := g.UpsertNode(1)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := g.UpsertNode(2)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestMemoryGraphIncrementDecrementEdge(t *testing.T) {
	g := NewMemoryGraph()
	n0, _ := g.UpsertNode(1)
	n1, _ := g.UpsertNode(2)

	w, err := g.IncrementEdge(n0, n1)
	require.NoError(t, err)
	assert.Equal(t, kremis.EdgeWeight(1), w)

	w, err = g.IncrementEdge(n0, n1)
	require.NoError(t, err)
	assert.Equal(t, kremis.EdgeWeight(2), w)

	w, err = g.DecrementEdge(n0, n1)
	require.NoError(t, err)
	assert.Equal(t, kremis.EdgeWeight(1), w)

	w, err = g.DecrementEdge(n0, n1)
	require.NoError(t, err)
	w, err = g.DecrementEdge(n0, n1)
	require.NoError(t, err)
	assert.Equal(t, kremis.EdgeWeight(0), w, "decrement below zero saturates at 0")
}

func TestMemoryGraphDecrementMissingEdgeFails(t *testing.T) {
	g := NewMemoryGraph()
	n0, _ := g.UpsertNode(1)
	n1, _ := g.UpsertNode(2)
	_, err := g.DecrementEdge(n0, n1)
	require.Error(t, err)
	var kerr *kremis.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, kremis.KindEdgeNotFound, kerr.Kind)
}

func TestMemoryGraphNeighborsSortedByNodeId(t *testing.T) {
	g := NewMemoryGraph()
	n0, _ := g.UpsertNode(1)
	n1, _ := g.UpsertNode(2)
	n2, _ := g.UpsertNode(3)

	_, err := g.IncrementEdge(n0, n2)
	require.NoError(t, err)
	_, err = g.IncrementEdge(n0, n1)
	require.NoError(t, err)

	neighbors, err := g.Neighbors(n0)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, n1, neighbors[0].To)
	assert.Equal(t, n2, neighbors[1].To)
}

func TestMemoryGraphAppendPropertyPreservesOrderAndDuplicates(t *testing.T) {
	g := NewMemoryGraph()
	n0, _ := g.UpsertNode(1)

	require.NoError(t, g.AppendProperty(n0, "a", "x"))
	require.NoError(t, g.AppendProperty(n0, "b", "y"))
	require.NoError(t, g.AppendProperty(n0, "a", "z"))

	props, found, err := g.GetProperties(n0)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, props, 2)
	assert.Equal(t, kremis.Attribute("a"), props[0].Attribute)
	assert.Equal(t, PropertyList{"x", "z"}, props[0].Values)
	assert.Equal(t, kremis.Attribute("b"), props[1].Attribute)
	assert.Equal(t, PropertyList{"y"}, props[1].Values)
}

func TestMemoryGraphTransactRollsBackOnError(t *testing.T) {
	g := NewMemoryGraph()
	n0, _ := g.UpsertNode(1)

	err := g.Transact(func(tx GraphStore) error {
		if _, err := tx.UpsertNode(2); err != nil {
			return err
		}
		return kremis.NewInvalidSignal("boom")
	})
	require.Error(t, err)

	count, err := g.NodeCount()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "failed transaction must not create the second node")

	_, found, err := g.Lookup(1)
	require.NoError(t, err)
	assert.True(t, found)
	_ = n0
}

func TestMemoryGraphSnapshotSortedOrder(t *testing.T) {
	g := NewMemoryGraph()
	n0, _ := g.UpsertNode(5)
	n1, _ := g.UpsertNode(1)
	_, err := g.IncrementEdge(n0, n1)
	require.NoError(t, err)
	require.NoError(t, g.AppendProperty(n1, "name", "Bob"))

	snap, err := g.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 2)
	assert.Equal(t, n0, snap.Nodes[0].NodeId)
	assert.Equal(t, n1, snap.Nodes[1].NodeId)
	require.Len(t, snap.Edges, 1)
	assert.Equal(t, kremis.EdgeWeight(1), snap.Edges[0].Weight)
}
