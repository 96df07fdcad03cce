package kremis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributeValidateBoundaries(t *testing.T) {
	ok := Attribute(strings.Repeat("a", 256))
	require.NoError(t, ok.Validate())

	tooLong := Attribute(strings.Repeat("a", 257))
	err := tooLong.Validate()
	require.Error(t, err)
	var kerr *Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, KindInvalidSignal, kerr.Kind)

	empty := Attribute("")
	require.Error(t, empty.Validate())
}

func TestValueValidateBoundaries(t *testing.T) {
	ok := Value(strings.Repeat("v", 65536))
	require.NoError(t, ok.Validate())

	tooLong := Value(strings.Repeat("v", 65537))
	require.Error(t, tooLong.Validate())

	require.Error(t, Value("").Validate())
}

func TestSignalValidate(t *testing.T) {
	s := Signal{EntityId: 1, Attribute: "name", Value: "Alice"}
	require.NoError(t, s.Validate())

	bad := Signal{EntityId: 1, Attribute: "", Value: "Alice"}
	require.Error(t, bad.Validate())
}

func TestEdgeWeightSaturation(t *testing.T) {
	var w EdgeWeight
	assert.Equal(t, EdgeWeight(0), w.Dec())
	assert.Equal(t, EdgeWeight(1), w.Inc())

	max := EdgeWeight(1<<63 - 1)
	assert.Equal(t, max, max.Inc())
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := NewNodeNotFound(42)
	assert.True(t, err.Is(&Error{Kind: KindNodeNotFound}))
	assert.False(t, err.Is(&Error{Kind: KindEdgeNotFound}))
}
