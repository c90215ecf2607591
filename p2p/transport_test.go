package p2p

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/playergold/node/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T, id string) *Transport {
	tr, err := NewTransport(Config{
		NodeID:          id,
		NetworkID:       "playergold-testnet",
		ListenAddr:      "127.0.0.1:0",
		AllowPrivateIPs: true,
	}, ulogger.New(id, io.Discard))
	require.NoError(t, err)
	return tr
}

func startListening(t *testing.T, tr *Transport) string {
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(tr.Stop)
	return tr.listener.Addr().String()
}

func TestDialHandshakeRegistersPeer(t *testing.T) {
	a := newTestTransport(t, "node-a")
	b := newTestTransport(t, "node-b")

	addrA := startListening(t, a)
	startListening(t, b)

	received := make(chan Envelope, 1)
	a.OnMessage(MsgTransaction, func(peerID string, env Envelope) {
		received <- env
	})

	require.NoError(t, b.Dial(context.Background(), addrA))

	require.Eventually(t, func() bool {
		return len(a.PeerIDs()) == 1 && len(b.PeerIDs()) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, b.Send(a.config.NodeID, MsgTransaction, map[string]string{"hello": "world"}))

	select {
	case env := <-received:
		assert.Equal(t, MsgTransaction, env.Type)
		assert.Equal(t, "node-b", env.From)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestBroadcastReachesAllPeers(t *testing.T) {
	hub := newTestTransport(t, "hub")
	addrHub := startListening(t, hub)

	var leaves []*Transport
	var gotCounts []chan Envelope
	for i := 0; i < 3; i++ {
		leaf := newTestTransport(t, "leaf-"+string(rune('a'+i)))
		startListening(t, leaf)
		ch := make(chan Envelope, 1)
		leaf.OnMessage(MsgBlock, func(peerID string, env Envelope) { ch <- env })
		require.NoError(t, leaf.Dial(context.Background(), addrHub))
		leaves = append(leaves, leaf)
		gotCounts = append(gotCounts, ch)
	}

	require.Eventually(t, func() bool {
		return len(hub.PeerIDs()) == 3
	}, time.Second, 10*time.Millisecond)

	hub.Broadcast(MsgBlock, map[string]int{"height": 7})

	for _, ch := range gotCounts {
		select {
		case env := <-ch:
			assert.Equal(t, MsgBlock, env.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast")
		}
	}
}

func TestNetworkMismatchDropsConnection(t *testing.T) {
	a := newTestTransport(t, "node-a")
	addrA := startListening(t, a)

	b, err := NewTransport(Config{
		NodeID:          "node-b",
		NetworkID:       "playergold-mainnet",
		ListenAddr:      "127.0.0.1:0",
		AllowPrivateIPs: true,
	}, ulogger.New("node-b", io.Discard))
	require.NoError(t, err)
	startListening(t, b)

	require.NoError(t, b.Dial(context.Background(), addrA))

	require.Eventually(t, func() bool {
		return len(a.PeerIDs()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestIPPolicyRejectsPrivateOnMainnet(t *testing.T) {
	tr, err := NewTransport(Config{NodeID: "n", NetworkID: "playergold-mainnet", AllowPrivateIPs: false}, ulogger.New("n", io.Discard))
	require.NoError(t, err)
	assert.False(t, tr.ipAllowed(stringAddr{"127.0.0.1:9000"}))
}

type stringAddr struct{ s string }

func (a stringAddr) Network() string { return "tcp" }
func (a stringAddr) String() string  { return a.s }
