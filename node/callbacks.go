package node

import (
	"context"
	"time"

	"github.com/playergold/node/p2p"
	"github.com/playergold/node/reputation"
)

// transportBroadcaster adapts *p2p.Transport to bootstrap.Broadcaster,
// which is deliberately narrower (a string message type) than the p2p
// package's own MessageType enum.
type transportBroadcaster struct {
	transport *p2p.Transport
}

func (b *transportBroadcaster) Broadcast(messageType string, payload interface{}) {
	t := p2p.MsgBlock
	if messageType == "FeeDistributionUpdate" {
		t = p2p.MsgFeeDistributionUpdate
	}
	b.transport.Broadcast(t, payload)
}

const verifyResponsiveTimeout = 5 * time.Second

// VerifyResponsive satisfies faulttolerance.RecoveryCallbacks by
// issuing a status request and treating a reply as proof of life.
func (n *Node) VerifyResponsive(ctx context.Context, nodeID string) bool {
	ctx, cancel := context.WithTimeout(ctx, verifyResponsiveTimeout)
	defer cancel()
	_, err := n.peerClient.RequestStatus(ctx, nodeID)
	return err == nil
}

// RestartNode satisfies faulttolerance.RecoveryCallbacks. This process
// has no control channel over a remote peer's OS process; restarting is
// genuinely external infrastructure (per spec.md §6's "all callbacks
// are external"). It logs the attempt so an operator-supplied
// implementation can be substituted without changing the monitor.
func (n *Node) RestartNode(ctx context.Context, nodeID string) error {
	n.logger.Warnf("[Node] restart requested for %s, no process-control backend configured", nodeID)
	return nil
}

// BlockNode satisfies faulttolerance.RecoveryCallbacks and
// resilience.Mitigations' block_node call path: it marks nodeID as
// blocked and applies one critical penalty (-50) to its reputation. The
// score is lowered by that amount, not reset to zero.
func (n *Node) BlockNode(ctx context.Context, nodeID string) error {
	n.mu.Lock()
	n.blockedNodes[nodeID] = true
	n.mu.Unlock()
	n.reputationStore.ApplyPenalty(nodeID, "blocked", reputation.Critical)
	n.logger.Warnf("[Node] blocked node %s", nodeID)
	return nil
}

// IsBlocked reports whether nodeID has been blocked by BlockNode.
func (n *Node) IsBlocked(nodeID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.blockedNodes[nodeID]
}

const maxMinValidators = 7

// EnableRateLimiting satisfies resilience.Mitigations by tightening the
// per-peer flood detector's allowance.
func (n *Node) EnableRateLimiting(ctx context.Context) error {
	n.mu.Lock()
	n.floodDetector = newTightFloodDetector()
	n.mu.Unlock()
	n.logger.Infof("[Node] rate limiting tightened")
	return nil
}

// IncreaseValidationRequirements satisfies resilience.Mitigations by
// raising the number of cross-validators required per challenge.
func (n *Node) IncreaseValidationRequirements(ctx context.Context) error {
	n.mu.Lock()
	if n.minValidators < maxMinValidators {
		n.minValidators++
	}
	v := n.minValidators
	n.mu.Unlock()
	n.logger.Infof("[Node] validation requirement raised to %d validators", v)
	return nil
}

// IncreaseConsensusThreshold satisfies resilience.Mitigations by
// raising the reputation-weighted acceptance fraction a block proposal
// must clear.
func (n *Node) IncreaseConsensusThreshold(ctx context.Context) error {
	n.consensusEngine.SetFinalizationThreshold(attackConsensusThreshold)
	n.logger.Infof("[Node] consensus threshold raised to %.2f", attackConsensusThreshold)
	return nil
}

// SyncWithPeer satisfies resilience.PeerSyncer: it asks peerID for its
// height and pulls up to that height.
func (n *Node) SyncWithPeer(ctx context.Context, peerID string) error {
	status, err := n.peerClient.RequestStatus(ctx, peerID)
	if err != nil {
		return err
	}
	return n.synchronizer.Sync(ctx, status.Height)
}
