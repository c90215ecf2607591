// Package discovery implements peer discovery per spec.md §4.7 (C8):
// a static bootstrap list, a local-network announce/listen loop on the
// mDNS multicast group, and an optional pluggable DHT interface.
// Grounded on the teacher's one-goroutine-per-background-loop
// convention in util/p2p/P2PNode.go's static-peer connection loop.
package discovery

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/playergold/node/errors"
	"github.com/playergold/node/ulogger"
)

const (
	mdnsGroup        = "224.0.0.251:5353"
	announceInterval = 30 * time.Second
	pollInterval     = 5 * time.Second
	maxDatagram      = 2048
)

// announcement is the payload broadcast on the mDNS group. It is a
// deliberately minimal JSON record rather than a full DNS-SD packet:
// the corpus carries no DNS-message library, and this system only
// needs peers to find each other's node id and dial address on the
// local network, not interoperate with generic mDNS browsers.
type announcement struct {
	NodeID    string `json:"node_id"`
	Addr      string `json:"addr"`
	NetworkID string `json:"network_id"`
}

// DHT is the pluggable distributed discovery interface of spec.md
// §9's Open Question; NullDHT is the default no-op implementation
// when no DHT backend is configured.
type DHT interface {
	FindPeers(ctx context.Context, networkID string, want int) ([]string, error)
}

// NullDHT always returns no peers.
type NullDHT struct{}

func (NullDHT) FindPeers(ctx context.Context, networkID string, want int) ([]string, error) {
	return nil, nil
}

// PeerFound is delivered for every newly observed peer address,
// whether from the bootstrap list, mDNS, or the DHT.
type PeerFound func(addr string)

// Discovery runs the bootstrap/mDNS/DHT discovery loops and reports
// newly found peer addresses via the OnPeerFound callback.
type Discovery struct {
	nodeID         string
	networkID      string
	listenAddr     string
	bootstrapPeers []string
	dht            DHT
	logger         ulogger.Logger

	mu   sync.Mutex
	seen map[string]bool

	OnPeerFound PeerFound
}

// New builds a Discovery. dht may be nil, in which case NullDHT is
// used.
func New(nodeID, networkID, listenAddr string, bootstrapPeers []string, dht DHT, logger ulogger.Logger) *Discovery {
	if dht == nil {
		dht = NullDHT{}
	}
	return &Discovery{
		nodeID:         nodeID,
		networkID:      networkID,
		listenAddr:     listenAddr,
		bootstrapPeers: bootstrapPeers,
		dht:            dht,
		logger:         logger,
		seen:           make(map[string]bool),
	}
}

// Start emits the bootstrap peers immediately and then runs the mDNS
// announce/listen loop and periodic DHT polling until ctx is done.
func (d *Discovery) Start(ctx context.Context) error {
	for _, addr := range d.bootstrapPeers {
		d.report(addr)
	}

	conn, err := d.joinMulticast()
	if err != nil {
		return errors.NewTransientNetworkError("discovery: join mdns group", err)
	}

	go d.listenLoop(ctx, conn)
	go d.announceLoop(ctx, conn)
	go d.dhtPollLoop(ctx)
	return nil
}

func (d *Discovery) joinMulticast() (*net.UDPConn, error) {
	gaddr, err := net.ResolveUDPAddr("udp4", mdnsGroup)
	if err != nil {
		return nil, err
	}
	return net.ListenMulticastUDP("udp4", nil, gaddr)
}

func (d *Discovery) announceLoop(ctx context.Context, conn *net.UDPConn) {
	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()

	gaddr, err := net.ResolveUDPAddr("udp4", mdnsGroup)
	if err != nil {
		d.logger.Warnf("[Discovery] resolve mdns group: %v", err)
		return
	}

	send := func() {
		body, _ := json.Marshal(announcement{NodeID: d.nodeID, Addr: d.listenAddr, NetworkID: d.networkID})
		if _, err := conn.WriteToUDP(body, gaddr); err != nil {
			d.logger.Warnf("[Discovery] announce failed: %v", err)
		}
	}

	send()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}

func (d *Discovery) listenLoop(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, maxDatagram)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				d.logger.Warnf("[Discovery] mdns read error: %v", err)
				return
			}
		}

		var ann announcement
		if err := json.Unmarshal(buf[:n], &ann); err != nil {
			continue
		}
		if ann.NetworkID != d.networkID || ann.NodeID == d.nodeID {
			continue
		}
		d.report(ann.Addr)
	}
}

func (d *Discovery) dhtPollLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			peers, err := d.dht.FindPeers(ctx, d.networkID, 16)
			if err != nil {
				d.logger.Warnf("[Discovery] dht poll error: %v", err)
				continue
			}
			for _, p := range peers {
				d.report(p)
			}
		}
	}
}

func (d *Discovery) report(addr string) {
	if addr == "" {
		return
	}
	d.mu.Lock()
	already := d.seen[addr]
	d.seen[addr] = true
	d.mu.Unlock()
	if already {
		return
	}
	if d.OnPeerFound != nil {
		d.OnPeerFound(addr)
	}
}
