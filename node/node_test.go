package node

import (
	"io"
	"testing"

	"github.com/playergold/node/chain"
	"github.com/playergold/node/config"
	"github.com/playergold/node/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T, network config.NetworkID) *Node {
	cfg := &config.NodeConfig{
		NodeID:     "",
		DataDir:    t.TempDir(),
		Network:    network,
		ListenAddr: "127.0.0.1:0",
		VoteWindow: 0,
	}
	n, err := New(cfg, ulogger.New("t", io.Discard))
	require.NoError(t, err)
	return n
}

func TestNewWiresEveryComponent(t *testing.T) {
	n := newTestNode(t, config.Testnet)
	assert.NotEmpty(t, n.Address())
	assert.NotNil(t, n.chainStore)
	assert.NotNil(t, n.consensusEngine)
	assert.NotNil(t, n.overlay)
	assert.NotNil(t, n.faultMonitor)
}

func TestNewRejectsUnknownNetwork(t *testing.T) {
	cfg := &config.NodeConfig{DataDir: t.TempDir(), Network: config.NetworkID("bogus"), ListenAddr: "127.0.0.1:0"}
	_, err := New(cfg, ulogger.New("t", io.Discard))
	assert.Error(t, err)
}

func TestQueryStatusReflectsGenesisTip(t *testing.T) {
	n := newTestNode(t, config.Testnet)
	status := n.QueryStatus()
	assert.Equal(t, uint64(0), status.Height)
	assert.False(t, status.GenesisDone)
}

func TestSubmitTransactionRejectsInvalid(t *testing.T) {
	n := newTestNode(t, config.Testnet)
	err := n.SubmitTransaction(chain.Transaction{Amount: -1})
	assert.Error(t, err)
	assert.Equal(t, 0, n.pool.Len())
}

func TestSubmitTransactionEnqueuesValid(t *testing.T) {
	n := newTestNode(t, config.Testnet)
	tx := chain.Transaction{
		From:      "alice",
		To:        "bob",
		Amount:    10,
		Type:      chain.TxTransfer,
		Timestamp: 1,
	}
	err := n.SubmitTransaction(tx)
	require.NoError(t, err)
	assert.Equal(t, 1, n.pool.Len())
}

func TestResetBlockchainRejectedOnMainnet(t *testing.T) {
	n := newTestNode(t, config.Mainnet)
	err := n.ResetBlockchain("whoever")
	assert.Error(t, err)
}

func TestResetBlockchainRejectsNonPioneer(t *testing.T) {
	n := newTestNode(t, config.Testnet)
	err := n.ResetBlockchain("not-a-pioneer")
	assert.Error(t, err)
}

func TestDownloadBlocksServesGenesisOnly(t *testing.T) {
	n := newTestNode(t, config.Testnet)
	blocks := n.DownloadBlocks(0, 10)
	require.Len(t, blocks, 1)
	assert.Equal(t, uint64(0), blocks[0].Index)
}

func TestStatusMatchesChainTip(t *testing.T) {
	n := newTestNode(t, config.Testnet)
	s := n.Status()
	tip := n.chainStore.Latest()
	assert.Equal(t, tip.Hash, s.TipHash)
	assert.Equal(t, n.nodeID, s.NodeID)
}

func TestBlockNodeMarksBlocked(t *testing.T) {
	n := newTestNode(t, config.Testnet)
	require.NoError(t, n.BlockNode(nil, "attacker"))
	assert.True(t, n.IsBlocked("attacker"))
	assert.False(t, n.IsBlocked("someone-else"))
}

func TestIncreaseValidationRequirementsCapsOut(t *testing.T) {
	n := newTestNode(t, config.Testnet)
	for i := 0; i < maxMinValidators+3; i++ {
		require.NoError(t, n.IncreaseValidationRequirements(nil))
	}
	assert.Equal(t, maxMinValidators, n.minValidators)
}

func TestEnableRateLimitingReplacesDetector(t *testing.T) {
	n := newTestNode(t, config.Testnet)
	before := n.floodDetector
	require.NoError(t, n.EnableRateLimiting(nil))
	assert.NotSame(t, before, n.floodDetector)
}

func TestIncreaseConsensusThresholdSucceeds(t *testing.T) {
	n := newTestNode(t, config.Testnet)
	require.NoError(t, n.IncreaseConsensusThreshold(nil))
	n.consensusEngine.SetFinalizationThreshold(attackConsensusThreshold)
}
