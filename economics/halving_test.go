package economics

import (
	"path/filepath"
	"testing"

	"github.com/playergold/node/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewardForBlockHalves(t *testing.T) {
	e := NewEngine(1024, 100, nil, filepath.Join(t.TempDir(), "fees.json"))
	assert.Equal(t, 1024.0, e.RewardForBlock(0))
	assert.Equal(t, 1024.0, e.RewardForBlock(99))
	assert.Equal(t, 512.0, e.RewardForBlock(100))
	assert.Equal(t, 256.0, e.RewardForBlock(200))
}

func TestOnBlockProducedFiresAtBoundary(t *testing.T) {
	e := NewEngine(1024, 100, nil, filepath.Join(t.TempDir(), "fees.json"))
	_, fired := e.OnBlockProduced(50)
	assert.False(t, fired)

	dist, fired := e.OnBlockProduced(100)
	assert.True(t, fired)
	assert.Equal(t, 512.0, e.CurrentReward())
	assert.True(t, dist.Valid())
}

func TestPersistAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fees.json")
	e := NewEngine(1024, 100, nil, path)
	e.OnBlockProduced(100)
	require.NoError(t, e.Persist(100))

	e2 := NewEngine(1024, 100, nil, path)
	require.NoError(t, e2.Load())
	assert.Equal(t, e.CurrentReward(), e2.CurrentReward())
	assert.Equal(t, e.Distribution(), e2.Distribution())
}

func TestLoadFallsBackOnInvalidDistribution(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fees.json")
	e := NewEngine(1024, 100, nil, path)
	require.NoError(t, e.Persist(0))

	// Corrupt the persisted distribution by writing an invalid split directly.
	bad := persistedState{Burn: 0.9, Developer: 0.9, Liquidity: 0.9, HalvingsOccurred: 0, LastBlock: 0}
	require.NoError(t, persistence.WriteJSONAtomic(path, bad))

	e2 := NewEngine(1024, 100, nil, path)
	require.NoError(t, e2.Load())
	assert.True(t, e2.Distribution().Valid())
}
