package discovery

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/playergold/node/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapPeersReportedImmediately(t *testing.T) {
	var found []string
	d := New("self", "playergold-testnet", "127.0.0.1:9000", []string{"127.0.0.1:9001", "127.0.0.1:9002"}, nil, ulogger.New("t", io.Discard))
	d.OnPeerFound = func(addr string) { found = append(found, addr) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))

	require.Eventually(t, func() bool { return len(found) >= 2 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, found, "127.0.0.1:9001")
	assert.Contains(t, found, "127.0.0.1:9002")
}

func TestDuplicateAddressReportedOnce(t *testing.T) {
	var found []string
	d := New("self", "playergold-testnet", "127.0.0.1:9000", nil, nil, ulogger.New("t", io.Discard))
	d.OnPeerFound = func(addr string) { found = append(found, addr) }

	d.report("127.0.0.1:9010")
	d.report("127.0.0.1:9010")
	assert.Len(t, found, 1)
}

type stubDHT struct{ peers []string }

func (s stubDHT) FindPeers(ctx context.Context, networkID string, want int) ([]string, error) {
	return s.peers, nil
}

func TestDHTPollReportsPeers(t *testing.T) {
	var found []string
	d := New("self", "playergold-testnet", "127.0.0.1:9000", nil, stubDHT{peers: []string{"127.0.0.1:9099"}}, ulogger.New("t", io.Discard))
	d.OnPeerFound = func(addr string) { found = append(found, addr) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))

	require.Eventually(t, func() bool { return len(found) >= 1 }, 6*time.Second, 50*time.Millisecond)
	assert.Contains(t, found, "127.0.0.1:9099")
}
