package propagation

import (
	"io"
	"testing"

	"github.com/playergold/node/p2p"
	"github.com/playergold/node/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	peers       []string
	sent        map[string]int
	broadcastN  int
}

func newFakeTransport(peers ...string) *fakeTransport {
	return &fakeTransport{peers: peers, sent: make(map[string]int)}
}

func (f *fakeTransport) PeerIDs() []string { return f.peers }
func (f *fakeTransport) Send(peerID string, t p2p.MessageType, payload interface{}) error {
	f.sent[peerID]++
	return nil
}
func (f *fakeTransport) Broadcast(t p2p.MessageType, payload interface{}) []error {
	f.broadcastN++
	return nil
}

func TestStrategyForKnownTypes(t *testing.T) {
	assert.Equal(t, Flood, StrategyFor(p2p.MsgBlock))
	assert.Equal(t, Gossip, StrategyFor(p2p.MsgTransaction))
	assert.Equal(t, Directed, StrategyFor(p2p.MsgSyncRequest))
}

func TestRelayFloodsBlocks(t *testing.T) {
	tr := newFakeTransport("a", "b", "c")
	p := New(tr, ulogger.New("t", io.Discard))
	p.Start()
	defer p.Stop()

	forwarded := p.Relay("block-1", p2p.MsgBlock, nil, 0)
	require.True(t, forwarded)
	assert.Equal(t, 1, tr.broadcastN)
}

func TestRelayDedupsSameMessage(t *testing.T) {
	tr := newFakeTransport("a", "b")
	p := New(tr, ulogger.New("t", io.Discard))
	p.Start()
	defer p.Stop()

	assert.True(t, p.Relay("tx-1", p2p.MsgTransaction, nil, 0))
	assert.False(t, p.Relay("tx-1", p2p.MsgTransaction, nil, 0))
}

func TestRelayRespectsHopLimit(t *testing.T) {
	tr := newFakeTransport("a")
	p := New(tr, ulogger.New("t", io.Discard))
	p.Start()
	defer p.Stop()

	assert.False(t, p.Relay("tx-2", p2p.MsgTransaction, nil, maxHops))
}

func TestGossipSendsToFanoutSubset(t *testing.T) {
	tr := newFakeTransport("a", "b", "c", "d")
	p := New(tr, ulogger.New("t", io.Discard))
	p.Start()
	defer p.Stop()

	p.Relay("tx-3", p2p.MsgTransaction, nil, 0)
	total := 0
	for _, n := range tr.sent {
		total += n
	}
	assert.Equal(t, 2, total) // 4 peers * 0.5 fanout
}
