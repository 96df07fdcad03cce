package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TyKolt/kremis/pkg/kremis"
)

func TestSessionIngestAndLookup(t *testing.T) {
	s := New()
	defer s.Close()

	n1, err := s.Ingest(kremis.Signal{EntityId: 1, Attribute: "name", Value: "Alice"})
	require.NoError(t, err)
	_, err = s.Ingest(kremis.Signal{EntityId: 2, Attribute: "name", Value: "Bob"})
	require.NoError(t, err)

	result, err := s.Query(Query{Kind: QueryLookup, Entity: 1})
	require.NoError(t, err)
	assert.Equal(t, []kremis.NodeId{n1}, result.Artifact.Path)

	status, err := s.Status()
	require.NoError(t, err)
	assert.EqualValues(t, 2, status.NodeCount)
	assert.EqualValues(t, 0, status.EdgeCount)
	assert.EqualValues(t, 0, status.DensityMillionths)
}

func TestSessionIngestSequenceAndStage(t *testing.T) {
	s := New()
	defer s.Close()

	for i := 0; i < 10; i++ {
		_, err := s.IngestSequence([]kremis.Signal{
			{EntityId: 1, Attribute: "a", Value: "x"},
			{EntityId: 2, Attribute: "a", Value: "y"},
		})
		require.NoError(t, err)
	}

	stage, err := s.Stage()
	require.NoError(t, err)
	assert.Equal(t, StageS0, stage.Stage)
	assert.EqualValues(t, 1, stage.StableEdgesCurrent)
	assert.EqualValues(t, 100, stage.StableEdgesNeeded)
	assert.EqualValues(t, 1, stage.ProgressPercent)
}

func TestSessionQueryProperties(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.Ingest(kremis.Signal{EntityId: 1, Attribute: "a", Value: "x"})
	require.NoError(t, err)
	_, err = s.Ingest(kremis.Signal{EntityId: 1, Attribute: "b", Value: "y"})
	require.NoError(t, err)
	_, err = s.Ingest(kremis.Signal{EntityId: 1, Attribute: "a", Value: "z"})
	require.NoError(t, err)

	lookup, err := s.Query(Query{Kind: QueryLookup, Entity: 1})
	require.NoError(t, err)
	n := lookup.Artifact.Path[0]

	result, err := s.Query(Query{Kind: QueryProperties, Node: n})
	require.NoError(t, err)
	require.Len(t, result.Properties, 2)
	assert.Equal(t, kremis.Attribute("a"), result.Properties[0].Attribute)
}

func TestSessionCanonicalRoundTrip(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.IngestSequence([]kremis.Signal{
		{EntityId: 1, Attribute: "name", Value: "Alice"},
		{EntityId: 2, Attribute: "name", Value: "Bob"},
	})
	require.NoError(t, err)

	exported, err := s.ExportCanonical()
	require.NoError(t, err)

	fresh := New()
	defer fresh.Close()
	require.NoError(t, fresh.ImportCanonical(exported))

	origStatus, err := s.Status()
	require.NoError(t, err)
	freshStatus, err := fresh.Status()
	require.NoError(t, err)
	assert.Equal(t, origStatus, freshStatus)

	origHash, err := s.Hash()
	require.NoError(t, err)
	freshHash, err := fresh.Hash()
	require.NoError(t, err)
	assert.Equal(t, origHash, freshHash)
}

func TestSessionContextBufferNeverExported(t *testing.T) {
	s := New()
	defer s.Close()

	n, err := s.Ingest(kremis.Signal{EntityId: 1, Attribute: "a", Value: "x"})
	require.NoError(t, err)
	s.Context().Set(n, "cursor", "visited")

	v, ok := s.Context().Get(n, "cursor")
	require.True(t, ok)
	assert.Equal(t, "visited", v)

	exported, err := s.ExportCanonical()
	require.NoError(t, err)

	fresh := New()
	defer fresh.Close()
	require.NoError(t, fresh.ImportCanonical(exported))
	_, ok = fresh.Context().Get(n, "cursor")
	assert.False(t, ok)
}
