// Package propagation implements message propagation strategies per
// spec.md §4.8 (C9): flood, gossip, and directed sends, deduplicated
// by a TTL cache. Grounded on the teacher's ttlcache.Cache usage in
// services/blockvalidation/Server.go (New[K,V], background Start/Stop,
// Set with a per-entry TTL).
package propagation

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/playergold/node/p2p"
	"github.com/playergold/node/ulogger"
)

const (
	dedupCapacity = 10_000
	dedupTTL      = 300 * time.Second
	maxHops       = 7
)

// Strategy is the propagation strategy chosen for a message type, per
// spec.md §4.8's table.
type Strategy int

const (
	Flood Strategy = iota
	Gossip
	Directed
)

// strategyByType maps message types to their propagation strategy.
var strategyByType = map[p2p.MessageType]Strategy{
	p2p.MsgBlock:                Flood,
	p2p.MsgTransaction:          Gossip,
	p2p.MsgChallenge:            Directed,
	p2p.MsgSolution:             Flood,
	p2p.MsgPeerDiscovery:        Gossip,
	p2p.MsgAINodeDiscovery:      Gossip,
	p2p.MsgFeeDistributionUpdate: Flood,
	p2p.MsgSyncRequest:          Directed,
	p2p.MsgSyncResponse:         Directed,
	p2p.MsgHeartbeat:            Directed,
}

// StrategyFor returns the propagation strategy for message type t,
// defaulting to Gossip for unlisted types.
func StrategyFor(t p2p.MessageType) Strategy {
	if s, ok := strategyByType[t]; ok {
		return s
	}
	return Gossip
}

// gossipFanout is the fixed fraction of peers a gossip send reaches
// per hop, per spec.md §4.8.
const gossipFanout = 0.5

// Transport is the subset of p2p.Transport that Propagator needs,
// narrowed so it can be faked in tests.
type Transport interface {
	PeerIDs() []string
	Send(peerID string, t p2p.MessageType, payload interface{}) error
	Broadcast(t p2p.MessageType, payload interface{}) []error
}

// Propagator relays messages across the peer set using per-type
// strategies, deduping by message id via a TTL cache so the same
// message is never relayed twice to the same node.
type Propagator struct {
	transport Transport
	logger    ulogger.Logger
	seen      *ttlcache.Cache[string, bool]
}

// New builds a Propagator. Callers must invoke Start to begin the
// dedup cache's background eviction loop and Stop to end it.
func New(transport Transport, logger ulogger.Logger) *Propagator {
	cache := ttlcache.New[string, bool](
		ttlcache.WithTTL[string, bool](dedupTTL),
		ttlcache.WithCapacity[string, bool](dedupCapacity),
	)
	return &Propagator{transport: transport, logger: logger, seen: cache}
}

// Start launches the dedup cache's background eviction goroutine.
func (p *Propagator) Start() {
	go p.seen.Start()
}

// Stop ends the dedup cache's background eviction goroutine.
func (p *Propagator) Stop() {
	p.seen.Stop()
}

// Relay propagates payload of type t identified by msgID, honoring
// hopCount against the hop limit and skipping messages already seen.
// It returns true if the message was forwarded (i.e. wasn't a dup and
// hadn't exceeded the hop limit).
func (p *Propagator) Relay(msgID string, t p2p.MessageType, payload interface{}, hopCount int) bool {
	if hopCount >= maxHops {
		return false
	}
	if p.seen.Has(msgID) {
		return false
	}
	p.seen.Set(msgID, true, ttlcache.DefaultTTL)

	switch StrategyFor(t) {
	case Flood:
		p.transport.Broadcast(t, payload)
	case Gossip:
		p.gossipSend(t, payload)
	case Directed:
		// Directed messages are sent explicitly by callers via
		// transport.Send; Relay is a no-op for them since there is no
		// single "propagate to everyone" meaning for a directed reply.
	}
	return true
}

func (p *Propagator) gossipSend(t p2p.MessageType, payload interface{}) {
	peers := p.transport.PeerIDs()
	fanout := int(float64(len(peers))*gossipFanout + 0.5)
	if fanout < 1 && len(peers) > 0 {
		fanout = 1
	}
	for i, id := range peers {
		if i >= fanout {
			break
		}
		if err := p.transport.Send(id, t, payload); err != nil {
			p.logger.Warnf("[Propagator] gossip send to %s failed: %v", id, err)
		}
	}
}
