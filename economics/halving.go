// Package economics implements the halving and fee-splitting engine of
// spec.md §4.12 (C13). Grounded on the teacher's persisted-state
// reload-and-validate pattern (cf. stores/blockchain/sql/State.go),
// adapted from chain-tip state to reward/fee state.
package economics

import (
	"math"
	"sync"

	"github.com/playergold/node/chain"
	"github.com/playergold/node/persistence"
)

const (
	defaultInitialReward    = 1024.0
	defaultHalvingInterval  = 100_000
)

// persistedState is the on-disk shape of fee_distribution.json per
// spec.md §6.
type persistedState struct {
	Burn              float64 `json:"burn"`
	Developer         float64 `json:"developer"`
	Liquidity         float64 `json:"liquidity"`
	HalvingsOccurred  int     `json:"halvings_occurred"`
	LastBlock         uint64  `json:"last_block"`
}

// FeeManager supplies a new FeeDistribution whenever a halving fires.
// Its contract is inferred from call sites per spec.md §9's Open
// Question; the simplest faithful implementation rotates through a
// fixed schedule of distributions tied to the halving count.
type FeeManager interface {
	NextDistribution(halvingsOccurred int) chain.FeeDistribution
}

// DefaultFeeManager shifts weight from burn toward liquidity as
// halvings accumulate, converging toward a steady 40/30/30 split.
type DefaultFeeManager struct{}

func (DefaultFeeManager) NextDistribution(halvingsOccurred int) chain.FeeDistribution {
	step := math.Min(float64(halvingsOccurred), 10) / 10
	return chain.FeeDistribution{
		Burn:      0.60 - 0.20*step,
		Developer: 0.30 - 0.0*step,
		Liquidity: 0.10 + 0.20*step,
	}
}

// Engine tracks reward schedule and fee distribution state, per
// spec.md §4.12.
type Engine struct {
	mu               sync.Mutex
	initialReward    float64
	halvingInterval  uint64
	currentReward    float64
	halvingsOccurred int
	nextHalvingBlock uint64
	distribution     chain.FeeDistribution
	feeManager       FeeManager
	path             string
}

// NewEngine builds an Engine with the given schedule parameters. A zero
// halvingInterval defaults to spec.md §4.12's 100 000.
func NewEngine(initialReward float64, halvingInterval uint64, feeManager FeeManager, path string) *Engine {
	if initialReward <= 0 {
		initialReward = defaultInitialReward
	}
	if halvingInterval == 0 {
		halvingInterval = defaultHalvingInterval
	}
	if feeManager == nil {
		feeManager = DefaultFeeManager{}
	}
	return &Engine{
		initialReward:    initialReward,
		halvingInterval:  halvingInterval,
		currentReward:    initialReward,
		nextHalvingBlock: halvingInterval,
		distribution:     chain.InitialFeeDistribution(),
		feeManager:       feeManager,
		path:             path,
	}
}

// RewardForBlock computes initial_reward / 2^floor(n/halving_interval),
// per spec.md §4.12.
func (e *Engine) RewardForBlock(blockN uint64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	halvings := blockN / e.halvingInterval
	return e.initialReward / math.Pow(2, float64(halvings))
}

// CurrentReward returns the reward currently in effect.
func (e *Engine) CurrentReward() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentReward
}

// Distribution returns the fee distribution currently in effect.
func (e *Engine) Distribution() chain.FeeDistribution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.distribution
}

// OnBlockProduced is called once per finalized block; if blockN is a
// positive multiple of the halving interval, it fires a halving event:
// increments the counter, recomputes the reward, advances the next
// halving boundary, asks the fee manager for a fresh distribution, and
// returns (newDistribution, true). Per DESIGN NOTES in spec.md §9, the
// new distribution must apply before fees of the boundary block
// accumulate — callers are expected to call this before collecting
// that block's fees.
func (e *Engine) OnBlockProduced(blockN uint64) (chain.FeeDistribution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if blockN == 0 || blockN%e.halvingInterval != 0 {
		return e.distribution, false
	}

	e.halvingsOccurred++
	e.currentReward = e.initialReward / math.Pow(2, float64(e.halvingsOccurred))
	e.nextHalvingBlock = blockN + e.halvingInterval
	e.distribution = e.feeManager.NextDistribution(e.halvingsOccurred)
	return e.distribution, true
}

// Persist atomically writes the distribution and halving counters
// together, per spec.md §9's total-ordering note.
func (e *Engine) Persist(lastBlock uint64) error {
	e.mu.Lock()
	state := persistedState{
		Burn: e.distribution.Burn, Developer: e.distribution.Developer,
		Liquidity: e.distribution.Liquidity, HalvingsOccurred: e.halvingsOccurred,
		LastBlock: lastBlock,
	}
	e.mu.Unlock()
	return persistence.WriteJSONAtomic(e.path, state)
}

// Load reloads persisted fee-distribution state; an invalid (doesn't
// sum to 1 within 1e-3) state falls back to the initial distribution,
// per spec.md §4.12/§5.
func (e *Engine) Load() error {
	var state persistedState
	found, err := persistence.ReadJSON(e.path, &state)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	dist := chain.FeeDistribution{Burn: state.Burn, Developer: state.Developer, Liquidity: state.Liquidity}
	if !dist.Valid() {
		e.distribution = chain.InitialFeeDistribution()
	} else {
		e.distribution = dist
	}
	e.halvingsOccurred = state.HalvingsOccurred
	e.currentReward = e.initialReward / math.Pow(2, float64(e.halvingsOccurred))
	e.nextHalvingBlock = (state.LastBlock/e.halvingInterval + 1) * e.halvingInterval
	return nil
}
