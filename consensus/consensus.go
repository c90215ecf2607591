// Package consensus implements the multi-node block-production loop
// of spec.md §4.11 (C12): 10-second cadence transaction collection,
// deterministic reward-distributor selection, a propose/vote round,
// and reputation-weighted finalization. Grounded on the teacher's
// ticker-driven background-loop convention (services/blockchain's
// channel-listener goroutine) and its quorum/fraction math style.
package consensus

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/playergold/node/chain"
	"github.com/playergold/node/errors"
	"github.com/playergold/node/quorum"
	"github.com/playergold/node/reputation"
	"github.com/playergold/node/ulogger"
)

const (
	cadence                     = 10 * time.Second
	maxTxPerBlock               = 100
	proposalVoteWindow          = 5 * time.Second
	finalizationFraction        = 0.66
	eligibleReputationThreshold = 90.0
)

// TxPool supplies pending transactions for the next block.
type TxPool interface {
	// Collect removes and returns up to max pending transactions.
	Collect(max int) []chain.Transaction
}

// Evidence supplies the AI cross-validation proof that accompanies
// each produced block, per spec.md §4.11 and the block invariants of
// §3 (non-genesis blocks carry ≥3 AI validators and a non-empty
// consensus proof).
type Evidence interface {
	// NextProof returns the AI validator set and consensus proof ready
	// for the block currently being built, and false if no completed
	// cross-validation round is ready yet.
	NextProof() ([]chain.AIValidator, chain.ConsensusProof, bool)
}

// RewardSource supplies the per-block mining reward amount, per the
// halving schedule of spec.md §4.12.
type RewardSource interface {
	RewardForBlock(blockN uint64) float64
}

// Proposal is a candidate block circulated for voting, per spec.md
// §4.11.
type Proposal struct {
	Block    chain.Block
	Proposer string
}

// Vote is one node's response to a proposal.
type Vote struct {
	VoterID string
	Accept  bool
}

// Network abstracts the propose/vote exchange so the loop can be
// tested without a live transport.
type Network interface {
	BroadcastProposal(ctx context.Context, p Proposal) ([]Vote, error)
}

// Engine drives block production, per spec.md §4.11.
type Engine struct {
	nodeID       string
	chain        *chain.Chain
	pool         TxPool
	reputation   *reputation.Store
	network      Network
	evidence     Evidence
	rewardSource RewardSource
	logger       ulogger.Logger

	mu                    sync.Mutex
	activeNodeCount       int
	totalNodeCount        int
	finalizationThreshold float64
	validators            []string
}

// New builds an Engine.
func New(nodeID string, c *chain.Chain, pool TxPool, reputation *reputation.Store, network Network, evidence Evidence, rewardSource RewardSource, logger ulogger.Logger) *Engine {
	return &Engine{
		nodeID: nodeID, chain: c, pool: pool, reputation: reputation, network: network,
		evidence: evidence, rewardSource: rewardSource, logger: logger,
		finalizationThreshold: finalizationFraction,
	}
}

// SetFinalizationThreshold overrides the reputation-weighted acceptance
// fraction a proposal must clear, per spec.md §4.14's
// increase_consensus_threshold mitigation.
func (e *Engine) SetFinalizationThreshold(f float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finalizationThreshold = f
}

// SetNodeCounts updates the active/total node counts used for the
// per-round quorum gate.
func (e *Engine) SetNodeCounts(active, total int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeNodeCount = active
	e.totalNodeCount = total
}

// SetValidators updates the active validator roster: the reward
// distributor pool, the reward-split recipients, and the block's
// Validators field all draw from this set.
func (e *Engine) SetValidators(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.validators = append([]string(nil), ids...)
}

// Run executes the 10-second-cadence production loop until ctx is
// done.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.tick(ctx); err != nil {
				e.logger.Warnf("[Consensus] round failed: %v", err)
			}
		}
	}
}

func (e *Engine) tick(ctx context.Context) error {
	e.mu.Lock()
	active, total := e.activeNodeCount, e.totalNodeCount
	e.mu.Unlock()

	if total > 0 && quorum.Check(active, total) != quorum.Achieved {
		return errors.NewConsensusError("consensus: quorum not achieved, skipping round", nil)
	}

	distributor := e.SelectRewardDistributor()
	if distributor != e.nodeID {
		return nil
	}

	txs := e.pool.Collect(maxTxPerBlock)
	block, err := e.buildBlock(txs)
	if err != nil {
		return err
	}

	voteCtx, cancel := context.WithTimeout(ctx, proposalVoteWindow)
	defer cancel()

	votes, err := e.network.BroadcastProposal(voteCtx, Proposal{Block: *block, Proposer: e.nodeID})
	if err != nil {
		return errors.NewTransientNetworkError("consensus: proposal broadcast failed", err)
	}

	// The proposer's own reputation-weighted approval is implicit,
	// per spec.md §4.11's proposal phase; it is not solicited over
	// the network since the proposer never sends itself a proposal.
	votes = append(votes, Vote{VoterID: e.nodeID, Accept: true})

	if !e.finalize(votes) {
		return errors.NewConsensusError("consensus: proposal did not reach reputation-weighted threshold", nil)
	}

	return e.chain.AddBlock(block)
}

// SelectRewardDistributor picks the node responsible for this round's
// block: uniformly at random, seeded from the previous block hash,
// among active validators with reputation ≥ 90, falling back to the
// single highest-reputation validator when none clear that bar, per
// spec.md §4.11.
func (e *Engine) SelectRewardDistributor() string {
	e.mu.Lock()
	validators := append([]string(nil), e.validators...)
	e.mu.Unlock()

	if len(validators) == 0 {
		validators = e.reputation.All()
	}
	if len(validators) == 0 {
		return e.nodeID
	}

	eligible := make([]string, 0, len(validators))
	for _, id := range validators {
		if score, ok := e.reputation.Get(id); ok && score.Current >= eligibleReputationThreshold {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		return highestReputation(validators, e.reputation)
	}
	sort.Strings(eligible)

	tip := e.chain.Latest()
	sum := sha256.Sum256([]byte(tip.Hash))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	idx := rand.New(rand.NewSource(seed)).Intn(len(eligible))
	return eligible[idx]
}

// highestReputation returns the id in ids with the greatest current
// reputation score, used as SelectRewardDistributor's fallback.
func highestReputation(ids []string, store *reputation.Store) string {
	best := ids[0]
	bestScore := -1.0
	for _, id := range ids {
		score, ok := store.Get(id)
		if ok && score.Current > bestScore {
			bestScore = score.Current
			best = id
		}
	}
	return best
}

// buildBlock assembles the next candidate block: the collected
// transactions, the round's mining-reward split across active
// validators, and the AI cross-validation evidence required for the
// block to pass Block.IsValid.
func (e *Engine) buildBlock(txs []chain.Transaction) (*chain.Block, error) {
	tip := e.chain.Latest()

	e.mu.Lock()
	validators := append([]string(nil), e.validators...)
	e.mu.Unlock()

	aiValidators, proof, ok := e.evidence.NextProof()
	if !ok {
		return nil, errors.NewConsensusError("consensus: no cross-validation evidence ready for this round", nil)
	}

	blockN := tip.Index + 1
	// Block 1's pioneer rewards are seeded directly into the pool by
	// bootstrap.Manager at genesis, per spec.md §4.10 step 7; the
	// per-round split below applies to every block after that.
	if blockN > 1 {
		txs = append(txs, e.rewardTransactions(blockN, validators)...)
	}

	b := &chain.Block{
		Index:          blockN,
		PreviousHash:   tip.Hash,
		Timestamp:      time.Now().Unix(),
		Transactions:   txs,
		Validators:     validators,
		AIValidators:   aiValidators,
		ConsensusProof: proof,
	}
	b.ComputeHash()
	return b, nil
}

// rewardTransactions splits the per-block mining reward evenly across
// the active validator set, per spec.md §4.11.
func (e *Engine) rewardTransactions(blockN uint64, validators []string) []chain.Transaction {
	if len(validators) == 0 || e.rewardSource == nil {
		return nil
	}
	reward := e.rewardSource.RewardForBlock(blockN)
	if reward <= 0 {
		return nil
	}
	share := reward / float64(len(validators))
	pool := e.chain.SystemAddresses().LiquidityPool
	now := time.Now().Unix()

	txs := make([]chain.Transaction, 0, len(validators))
	for _, id := range validators {
		txs = append(txs, chain.Transaction{
			From:      pool,
			To:        id,
			Amount:    share,
			Type:      chain.TxMiningReward,
			Timestamp: now,
		})
	}
	return txs
}

// finalize applies the reputation-weighted vote rule of spec.md §4.11:
// the sum of accepting voters' reputation weight, as a fraction of all
// voters' total weight, must be at least the engine's finalization
// threshold (finalizationFraction unless SetFinalizationThreshold
// changed it).
func (e *Engine) finalize(votes []Vote) bool {
	if len(votes) == 0 {
		return false
	}

	var acceptWeight, totalWeight float64
	for _, v := range votes {
		weight := 1.0
		if score, ok := e.reputation.Get(v.VoterID); ok {
			weight = score.Current
		}
		totalWeight += weight
		if v.Accept {
			acceptWeight += weight
		}
	}
	if totalWeight == 0 {
		return false
	}
	e.mu.Lock()
	threshold := e.finalizationThreshold
	e.mu.Unlock()
	return acceptWeight/totalWeight >= threshold
}
