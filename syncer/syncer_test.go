package syncer

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/playergold/node/chain"
	"github.com/playergold/node/reputation"
	"github.com/playergold/node/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChain(t *testing.T) *chain.Chain {
	dir := t.TempDir()
	return chain.New(filepath.Join(dir, "chain.json"), filepath.Join(dir, "balances.json"))
}

func newRepStore(t *testing.T) *reputation.Store {
	dir := t.TempDir()
	return reputation.NewStore(filepath.Join(dir, "n.json"), filepath.Join(dir, "e.json"))
}

type fakePeerClient struct {
	blocksByPeer map[string][]chain.Block
}

func (f fakePeerClient) RequestStatus(ctx context.Context, peerID string) (StatusResponse, error) {
	blocks := f.blocksByPeer[peerID]
	return StatusResponse{NodeID: peerID, Height: uint64(len(blocks))}, nil
}

func (f fakePeerClient) DownloadBlocks(ctx context.Context, peerID string, fromHeight uint64, limit int) ([]chain.Block, error) {
	blocks := f.blocksByPeer[peerID]
	var out []chain.Block
	for _, b := range blocks {
		if b.Index >= fromHeight {
			out = append(out, b)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func buildChainBlocks(t *testing.T, n int) []chain.Block {
	c := newChain(t)
	var out []chain.Block
	for i := 1; i <= n; i++ {
		tip := c.Latest()
		b := chain.Block{
			Index:        uint64(i),
			PreviousHash: tip.Hash,
			Timestamp:    tip.Timestamp + int64(i),
			AIValidators: []chain.AIValidator{{NodeID: "a"}, {NodeID: "b"}, {NodeID: "c"}},
			ConsensusProof: chain.ConsensusProof{
				ChallengeID: "c", Solutions: []string{"s"}, CrossValidations: []string{"v"},
			},
		}
		b.ComputeHash()
		require.NoError(t, c.AddBlock(&b))
		out = append(out, b)
	}
	return out
}

func TestEvaluateStatusesDetectsBehind(t *testing.T) {
	c := newChain(t)
	store := newRepStore(t)
	s := New("self", c, store, fakePeerClient{}, ulogger.New("t", io.Discard))

	s.EvaluateStatuses(context.Background(), []StatusResponse{{NodeID: "peer", Height: 5}})
	assert.Equal(t, StateBehind, s.State())
}

func TestEvaluateStatusesNoPeersAfterTimeoutGoesPartitioned(t *testing.T) {
	c := newChain(t)
	store := newRepStore(t)
	s := New("self", c, store, fakePeerClient{}, ulogger.New("t", io.Discard))
	s.lastPeerContact = time.Now().Add(-partitionTimeout - time.Second)

	s.EvaluateStatuses(context.Background(), nil)
	assert.Equal(t, StatePartitioned, s.State())
}

func TestSyncPullsBlocksFromEligiblePeer(t *testing.T) {
	c := newChain(t)
	store := newRepStore(t)
	store.Register("peer-1")
	store.RecordSuccessfulValidation("peer-1", 50)

	blocks := buildChainBlocks(t, 3)
	peers := fakePeerClient{blocksByPeer: map[string][]chain.Block{"peer-1": blocks}}

	s := New("self", c, store, peers, ulogger.New("t", io.Discard))
	require.NoError(t, s.Sync(context.Background(), 3))
	assert.Equal(t, uint64(3), c.Height())
	assert.Equal(t, StateSynced, s.State())
}

func TestSyncFailsWithNoEligiblePeers(t *testing.T) {
	c := newChain(t)
	store := newRepStore(t)
	s := New("self", c, store, fakePeerClient{}, ulogger.New("t", io.Discard))

	err := s.Sync(context.Background(), 3)
	assert.Error(t, err)
}
