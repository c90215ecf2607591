package chain

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChain(t *testing.T) *Chain {
	dir := t.TempDir()
	return New(filepath.Join(dir, "chain.json"), filepath.Join(dir, "balances.json"))
}

func genesisBlock(sys SystemAddresses, amount float64) *Block {
	tx := Transaction{To: sys.LiquidityPool, Amount: amount, Type: TxGenesisInit, Timestamp: 1}
	b := &Block{
		Index:        0,
		PreviousHash: genesisPreviousHash,
		Timestamp:    1,
		Transactions: []Transaction{tx},
		Validators:   []string{"A", "B"},
	}
	b.ComputeHash()
	return b
}

func nonGenesisBlock(prev *Block, txs []Transaction, ts int64) *Block {
	b := &Block{
		Index:        prev.Index + 1,
		PreviousHash: prev.Hash,
		Timestamp:    ts,
		Transactions: txs,
		Validators:   []string{"A", "B", "C"},
		AIValidators: []AIValidator{
			{NodeID: "A", ResponseTimeMs: 10}, {NodeID: "B", ResponseTimeMs: 20}, {NodeID: "C", ResponseTimeMs: 30},
		},
		ConsensusProof: ConsensusProof{ChallengeID: "ch1", Solutions: []string{"s"}, CrossValidations: []string{"v"}},
	}
	b.ComputeHash()
	return b
}

func TestMerkleRootEmptyAndDuplication(t *testing.T) {
	root := MerkleRoot(nil)
	assert.Len(t, root, 64)

	txs := []Transaction{
		{From: "a", To: "b", Amount: 1, Type: TxTransfer, Timestamp: 1},
		{From: "a", To: "c", Amount: 2, Type: TxTransfer, Timestamp: 2},
		{From: "a", To: "d", Amount: 3, Type: TxTransfer, Timestamp: 3},
	}
	root3 := MerkleRoot(txs)
	assert.Len(t, root3, 64)
	assert.NotEqual(t, MerkleRoot(txs[:2]), root3)
}

func TestReplaceGenesisThenAddBlock(t *testing.T) {
	c := newTestChain(t)
	sys, _ := DeriveSystemAddresses()
	c.SetSystemAddresses(sys)

	gb := genesisBlock(sys, 1024000000)
	require.NoError(t, c.ReplaceGenesis(gb))
	assert.Equal(t, gb.Hash, c.Latest().Hash)
	assert.Equal(t, float64(1024000000), c.Ledger().Balance(sys.LiquidityPool))

	// A second replace attempt must fail: not exactly one untouched block anymore.
	err := c.ReplaceGenesis(genesisBlock(sys, 1))
	assert.Error(t, err)

	b1 := nonGenesisBlock(gb, []Transaction{
		{From: sys.LiquidityPool, To: "validatorA", Amount: 512, Type: TxMiningReward, Timestamp: 2},
	}, 2)
	require.NoError(t, c.AddBlock(b1))
	assert.Equal(t, uint64(1), c.Height())
	assert.Equal(t, float64(1024000000-512), c.Ledger().Balance(sys.LiquidityPool))
	assert.Equal(t, float64(512), c.Ledger().Balance("validatorA"))
}

func TestAddBlockRejectsBadPreviousHash(t *testing.T) {
	c := newTestChain(t)
	sys, _ := DeriveSystemAddresses()
	c.SetSystemAddresses(sys)
	gb := genesisBlock(sys, 100)
	require.NoError(t, c.ReplaceGenesis(gb))

	bad := nonGenesisBlock(gb, nil, 2)
	bad.PreviousHash = "deadbeef"
	bad.ComputeHash()
	assert.Error(t, c.AddBlock(bad))
}

func TestAddBlockSameHashIsNoop(t *testing.T) {
	c := newTestChain(t)
	sys, _ := DeriveSystemAddresses()
	c.SetSystemAddresses(sys)
	gb := genesisBlock(sys, 100)
	require.NoError(t, c.ReplaceGenesis(gb))

	b1 := nonGenesisBlock(gb, nil, 2)
	require.NoError(t, c.AddBlock(b1))
	require.NoError(t, c.AddBlock(b1)) // re-add same tip hash: no-op
	assert.Equal(t, 2, c.Len())
}

func TestPersistAndLoadRoundTrip(t *testing.T) {
	c := newTestChain(t)
	sys, _ := DeriveSystemAddresses()
	c.SetSystemAddresses(sys)
	gb := genesisBlock(sys, 500)
	require.NoError(t, c.ReplaceGenesis(gb))
	require.NoError(t, c.Persist())

	loaded := New(c.chainPath, c.balancesPath)
	loaded.SetSystemAddresses(sys)
	require.NoError(t, loaded.Load())
	assert.Equal(t, c.Height(), loaded.Height())
	assert.Equal(t, float64(500), loaded.Ledger().Balance(sys.LiquidityPool))
}

func TestBlockTimestampSkewRejected(t *testing.T) {
	b := &Block{Timestamp: time.Now().Add(10 * time.Minute).Unix()}
	prev := &Block{Timestamp: 1}
	assert.False(t, b.TimestampValid(prev, time.Now()))
}
