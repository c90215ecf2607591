package node

import (
	"context"
	"encoding/json"
	"time"

	"github.com/playergold/node/challenge"
	"github.com/playergold/node/chain"
	"github.com/playergold/node/p2p"
	"github.com/playergold/node/syncer"
	"github.com/playergold/node/validation"
)

// Status satisfies syncRequestServer, answering a peer's status
// request with this node's current chain tip and height.
func (n *Node) Status() syncer.StatusResponse {
	tip := n.chainStore.Latest()
	return syncer.StatusResponse{
		NodeID:      n.nodeID,
		Height:      tip.Index,
		TipHash:     tip.Hash,
		RespondedAt: time.Now(),
	}
}

// DownloadBlocks satisfies syncRequestServer, serving up to limit
// blocks starting at fromHeight from local chain state.
func (n *Node) DownloadBlocks(fromHeight uint64, limit int) []chain.Block {
	var out []chain.Block
	height := n.chainStore.Height()
	for i := fromHeight; i <= height && len(out) < limit; i++ {
		if b := n.chainStore.BlockAt(i); b != nil {
			out = append(out, *b)
		}
	}
	return out
}

func (n *Node) handleInboundTransaction(peerID string, env p2p.Envelope) {
	var tx chain.Transaction
	if err := json.Unmarshal(env.Payload, &tx); err != nil {
		return
	}
	if err := tx.Validate(n.chainStore.SystemAddresses()); err != nil {
		n.logger.Debugf("[Node] rejected relayed transaction from %s: %v", peerID, err)
		return
	}
	n.pool.Submit(tx)
	n.propagator.Relay(tx.Hash(), p2p.MsgTransaction, tx, 1)
}

// solutionPayload wraps a cross-validator's re-solve with its
// compute-time measurement, carried as a JSON body over the fixed
// p2p.MsgSolution message type so Block.AIValidators can report real
// response_time_ms, per spec.md §3's block invariants.
type solutionPayload struct {
	Solution          challenge.Solution `json:"solution"`
	ComputationTimeMs int64              `json:"computation_time_ms"`
}

// handleInboundChallenge receives a challenge originated by peerID,
// solves it locally, and reports the solution back as a cross-
// validation entry, per spec.md §4.2's cross-validation flow.
func (n *Node) handleInboundChallenge(peerID string, env p2p.Envelope) {
	var c challenge.Challenge
	if err := json.Unmarshal(env.Payload, &c); err != nil {
		return
	}
	result := challenge.Process(n.runCtx, c, n.nodeID, int64(len(n.nodeID)), n.keypair.PrivateKey)
	if !result.Success || result.Solution == nil {
		return
	}
	payload := solutionPayload{Solution: *result.Solution, ComputationTimeMs: result.ComputationTimeMs}
	_ = n.transport.Send(peerID, p2p.MsgSolution, payload)
}

// handleInboundSolution receives a peer's re-solve of a challenge this
// node originated and folds it into the pending cross-validation
// aggregate, finalizing once enough entries have arrived. Once the
// round closes, the entries are converted into AI-validator/consensus-
// proof evidence and queued for the consensus engine's next block, per
// spec.md §4.11.
func (n *Node) handleInboundSolution(peerID string, env p2p.Envelope) {
	var payload solutionPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return
	}
	sol := payload.Solution

	n.mu.Lock()
	pc, ok := n.pendingChallenges[sol.ChallengeID]
	if !ok {
		n.mu.Unlock()
		return
	}

	similarity := validation.Similarity(pc.challenge.Type, pc.original, sol)
	verdict := validation.Suspicious
	switch {
	case similarity >= 0.95:
		verdict = validation.Valid
	case similarity < 0.80:
		verdict = validation.Invalid
	}
	pc.entries = append(pc.entries, validation.Entry{ValidatorID: peerID, Verdict: verdict, Similarity: similarity, Confidence: similarity})
	if pc.responses == nil {
		pc.responses = make(map[string]int64)
	}
	pc.responses[peerID] = payload.ComputationTimeMs
	if pc.solutions == nil {
		pc.solutions = make(map[string]challenge.Solution)
	}
	pc.solutions[peerID] = sol

	entries := append([]validation.Entry(nil), pc.entries...)
	responses := make(map[string]int64, len(pc.responses))
	for k, v := range pc.responses {
		responses[k] = v
	}
	solutions := make(map[string]challenge.Solution, len(pc.solutions))
	for k, v := range pc.solutions {
		solutions[k] = v
	}
	original := pc.original
	minReached := len(entries) >= n.minValidators
	if minReached {
		delete(n.pendingChallenges, sol.ChallengeID)
	}
	n.mu.Unlock()

	if !minReached {
		return
	}

	consensusResult := validation.Aggregate(entries, n.reputationStore)

	aiValidators := make([]chain.AIValidator, 0, len(entries))
	crossValidations := make([]string, 0, len(entries))
	solutionHashes := []string{original.Hash()}
	for _, e := range entries {
		if e.Verdict == validation.Valid {
			n.reputationStore.RecordSuccessfulValidation(e.ValidatorID, 1)
		} else if e.Verdict == validation.Invalid {
			n.reputationStore.RecordFailedValidation(e.ValidatorID)
		}

		score, _ := n.reputationStore.Get(e.ValidatorID)
		aiValidators = append(aiValidators, chain.AIValidator{
			NodeID:         e.ValidatorID,
			ResponseTimeMs: responses[e.ValidatorID],
			Reputation:     score.Current,
		})
		crossValidations = append(crossValidations, e.ValidatorID)
		solutionHashes = append(solutionHashes, solutions[e.ValidatorID].Hash())
	}

	proof := chain.ConsensusProof{
		ChallengeID:        sol.ChallengeID,
		Solutions:          solutionHashes,
		CrossValidations:   crossValidations,
		ConsensusTimestamp: time.Now().Unix(),
	}
	n.evidence.push(aiValidators, proof)

	if consensusResult.ArbitrationRequired {
		n.logger.Warnf("[Node] challenge %s requires arbitration (confidence %.2f)", sol.ChallengeID, consensusResult.Confidence)
	}
}

// challengeLoop periodically generates a new challenge, solves it
// locally, and broadcasts it for cross-validation, per spec.md §4.2.
func (n *Node) challengeLoop(ctx context.Context) {
	ticker := time.NewTicker(challengeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.runChallengeRound(ctx)
		}
	}
}

func (n *Node) runChallengeRound(ctx context.Context) {
	c := n.challengeGen.Next()
	result := challenge.Process(ctx, c, n.nodeID, int64(len(n.nodeID)), n.keypair.PrivateKey)
	if !result.Success || result.Solution == nil {
		n.logger.Debugf("[Node] local challenge %s failed: %v", c.ID, result.Error)
		return
	}

	n.mu.Lock()
	n.pendingChallenges[c.ID] = &pendingChallenge{
		challenge: c,
		original:  *result.Solution,
		deadline:  time.Now().Add(challengeCollectWindow),
	}
	n.mu.Unlock()

	n.transport.Broadcast(p2p.MsgChallenge, c)
}

// peerScanLoop reconciles newly visible peers, since the transport has
// no connect-callback hook beyond PeerIDs. Newly seen peers are
// registered into the reputation store and offered as bootstrap
// pioneer candidates.
func (n *Node) peerScanLoop(ctx context.Context) {
	ticker := time.NewTicker(peerScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.reconcilePeers(ctx)
		}
	}
}

func (n *Node) reconcilePeers(ctx context.Context) {
	ids := n.transport.PeerIDs()
	n.mu.Lock()
	var fresh []string
	for _, id := range ids {
		if !n.knownPeers[id] {
			n.knownPeers[id] = true
			fresh = append(fresh, id)
		}
	}
	active, total := len(ids), len(ids)
	n.mu.Unlock()

	n.consensusEngine.SetNodeCounts(active, total)
	n.consensusEngine.SetValidators(append(append([]string(nil), ids...), n.nodeID))

	for _, id := range fresh {
		n.reputationStore.Register(id)
		if err := n.bootstrapMgr.RegisterPioneer(ctx, id, id, &transportBroadcaster{transport: n.transport}, n.pool); err != nil {
			n.logger.Warnf("[Node] pioneer registration for %s failed: %v", id, err)
		}
	}
}

// blockWatchLoop notices chain-height changes produced by the
// consensus engine and runs the halving/fee-distribution engine for
// each newly produced block, per spec.md §4.13.
func (n *Node) blockWatchLoop(ctx context.Context) {
	ticker := time.NewTicker(blockWatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.watchForNewBlocks()
		}
	}
}

func (n *Node) watchForNewBlocks() {
	height := n.chainStore.Height()
	n.mu.Lock()
	last := n.lastHeight
	n.mu.Unlock()

	for h := last + 1; h <= height; h++ {
		dist, halved := n.econEngine.OnBlockProduced(h)
		if halved {
			n.logger.Infof("[Node] halving occurred at block %d, reward now %.4f", h, n.econEngine.CurrentReward())
		}
		n.transport.Broadcast(p2p.MsgFeeDistributionUpdate, dist)
	}

	n.mu.Lock()
	n.lastHeight = height
	n.mu.Unlock()
}

// persistLoop periodically flushes chain, reputation, and economics
// state to disk, per spec.md §6's persisted-state layout.
func (n *Node) persistLoop(ctx context.Context) {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			n.persistAll()
			return
		case <-ticker.C:
			n.persistAll()
		}
	}
}

func (n *Node) persistAll() {
	if err := n.chainStore.Persist(); err != nil {
		n.logger.Warnf("[Node] chain persist failed: %v", err)
	}
	if err := n.reputationStore.Persist(); err != nil {
		n.logger.Warnf("[Node] reputation persist failed: %v", err)
	}
	if err := n.userStore.Persist(); err != nil {
		n.logger.Warnf("[Node] user reputation persist failed: %v", err)
	}
	if err := n.econEngine.Persist(n.chainStore.Height()); err != nil {
		n.logger.Warnf("[Node] fee distribution persist failed: %v", err)
	}
}
