package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	found, err := ReadJSON(path, &sample{})
	require.NoError(t, err)
	assert.False(t, found)

	in := sample{Name: "liquidity_pool", Value: 1024000000}
	require.NoError(t, WriteJSONAtomic(path, in))

	var out sample
	found, err = ReadJSON(path, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)
}

func TestWriteOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, WriteJSONAtomic(path, sample{Name: "a", Value: 1}))
	require.NoError(t, WriteJSONAtomic(path, sample{Name: "b", Value: 2}))

	var out sample
	_, err := ReadJSON(path, &out)
	require.NoError(t, err)
	assert.Equal(t, sample{Name: "b", Value: 2}, out)
}
