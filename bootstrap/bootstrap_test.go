package bootstrap

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/playergold/node/chain"
	"github.com/playergold/node/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	calls []string
}

func (r *recordingBroadcaster) Broadcast(messageType string, payload interface{}) {
	r.calls = append(r.calls, messageType)
}

type recordingRewardScheduler struct {
	scheduled []chain.Transaction
}

func (r *recordingRewardScheduler) ScheduleReward(tx chain.Transaction) {
	r.scheduled = append(r.scheduled, tx)
}

func newTestManager(t *testing.T) (*Manager, *chain.Chain) {
	dir := t.TempDir()
	c := chain.New(filepath.Join(dir, "chain.json"), filepath.Join(dir, "balances.json"))
	m := NewManager(c, filepath.Join(dir, "developer_recovery.json"), "playergold-testnet", true, 1024, ulogger.New("t", io.Discard))
	return m, c
}

func TestGenesisFiresOnSecondPioneer(t *testing.T) {
	m, c := newTestManager(t)
	bc := &recordingBroadcaster{}
	rs := &recordingRewardScheduler{}

	require.NoError(t, m.RegisterPioneer(context.Background(), "node-1", "127.0.0.1:9000", bc, rs))
	assert.False(t, m.GenesisDone())

	require.NoError(t, m.RegisterPioneer(context.Background(), "node-2", "127.0.0.1:9001", bc, rs))
	assert.True(t, m.GenesisDone())
	assert.Equal(t, uint64(0), c.Height())
	assert.Len(t, bc.calls, 1)
}

func TestGenesisCreditsLiquidityPoolAndValidators(t *testing.T) {
	m, c := newTestManager(t)
	bc := &recordingBroadcaster{}
	rs := &recordingRewardScheduler{}

	require.NoError(t, m.RegisterPioneer(context.Background(), "node-1", "127.0.0.1:9000", bc, rs))
	require.NoError(t, m.RegisterPioneer(context.Background(), "node-2", "127.0.0.1:9001", bc, rs))

	tip := c.Latest()
	require.Len(t, tip.Transactions, 1)
	assert.Equal(t, chain.TxGenesisInit, tip.Transactions[0].Type)
	assert.Equal(t, float64(1_024_000_000), tip.Transactions[0].Amount)
	assert.Equal(t, float64(1_024_000_000), c.Ledger().Balance(c.SystemAddresses().LiquidityPool))
	assert.Equal(t, []string{"node-1", "node-2"}, tip.Validators)

	require.Len(t, rs.scheduled, 2)
	for _, tx := range rs.scheduled {
		assert.Equal(t, chain.TxMiningReward, tx.Type)
		assert.Equal(t, float64(512), tx.Amount)
		assert.Equal(t, c.SystemAddresses().LiquidityPool, tx.From)
	}
}

func TestGenesisIsOneShot(t *testing.T) {
	m, _ := newTestManager(t)
	bc := &recordingBroadcaster{}
	rs := &recordingRewardScheduler{}

	require.NoError(t, m.RegisterPioneer(context.Background(), "node-1", "a", bc, rs))
	require.NoError(t, m.RegisterPioneer(context.Background(), "node-2", "b", bc, rs))
	require.NoError(t, m.RegisterPioneer(context.Background(), "node-3", "c", bc, rs))

	assert.Len(t, bc.calls, 1)
}

func TestResetRequiresTestnet(t *testing.T) {
	dir := t.TempDir()
	c := chain.New(filepath.Join(dir, "chain.json"), filepath.Join(dir, "balances.json"))
	m := NewManager(c, filepath.Join(dir, "developer_recovery.json"), "playergold-mainnet", false, 1024, ulogger.New("t", io.Discard))
	assert.Error(t, m.Reset())
}

func TestResetAllowsNewGenesisCycle(t *testing.T) {
	m, _ := newTestManager(t)
	bc := &recordingBroadcaster{}
	rs := &recordingRewardScheduler{}
	require.NoError(t, m.RegisterPioneer(context.Background(), "node-1", "a", bc, rs))
	require.NoError(t, m.RegisterPioneer(context.Background(), "node-2", "b", bc, rs))
	require.True(t, m.GenesisDone())

	require.NoError(t, m.Reset())
	assert.False(t, m.GenesisDone())
}
