// Package bootstrap implements the two-pioneer genesis bootstrap
// manager of spec.md §4.10 (C11). Grounded on the teacher's one-shot
// guarded-initialization convention (services/blockchain/Server.go's
// Init/Start separation) and its atomic-persist-then-broadcast
// ordering for state changes.
package bootstrap

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/playergold/node/chain"
	pcrypto "github.com/playergold/node/crypto"
	"github.com/playergold/node/errors"
	"github.com/playergold/node/persistence"
	"github.com/playergold/node/ulogger"
)

const (
	requiredPioneers      = 2
	pioneerHeartbeatLimit = 60 * time.Second

	// liquidityPoolInitial is the default GENESIS_INIT credit to the
	// liquidity pool address, per spec.md §4.10 step 2.
	liquidityPoolInitial = 1_024_000_000.0
)

// Pioneer tracks one candidate genesis participant, per spec.md §4.10.
type Pioneer struct {
	NodeID      string    `json:"node_id"`
	Address     string    `json:"address"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// developerRecovery is the one-time persisted recovery material for
// the developer system address, per spec.md §4.10/§6.
type developerRecovery struct {
	Address    string `json:"address"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
	Mnemonic   string `json:"mnemonic"`
}

// Broadcaster is the subset of the transport the bootstrap manager
// needs to announce genesis to the network.
type Broadcaster interface {
	Broadcast(messageType string, payload interface{})
}

// RewardScheduler accepts a pending MINING_REWARD transaction for
// inclusion in the next produced block, per spec.md §4.10 step 7's
// "schedule first rewards" for the pioneers' own genesis block.
type RewardScheduler interface {
	ScheduleReward(tx chain.Transaction)
}

// Manager coordinates pioneer registration and one-shot genesis
// construction, per spec.md §4.10.
type Manager struct {
	mu                 sync.Mutex
	chain              *chain.Chain
	logger             ulogger.Logger
	recovery           string // developer_recovery.json path
	pioneers           []Pioneer
	genesisDone        bool
	networkID          string
	allowReset         bool // testnet-only reset_blockchain
	initialBlockReward float64
}

// NewManager builds a Manager. allowReset should be true only for
// testnet configurations, per spec.md §6's "reset_blockchain"
// testnet-only rule. initialBlockReward is the block-1 reward split
// among pioneers at genesis, per spec.md §4.10 step 7.
func NewManager(c *chain.Chain, recoveryPath, networkID string, allowReset bool, initialBlockReward float64, logger ulogger.Logger) *Manager {
	return &Manager{chain: c, recovery: recoveryPath, networkID: networkID, allowReset: allowReset, initialBlockReward: initialBlockReward, logger: logger}
}

// RegisterPioneer records a connecting node as a genesis pioneer
// candidate. Once requiredPioneers have registered and genesis has not
// yet fired, it triggers genesis construction.
func (m *Manager) RegisterPioneer(ctx context.Context, nodeID, address string, broadcaster Broadcaster, rewards RewardScheduler) error {
	m.mu.Lock()
	if m.genesisDone {
		m.mu.Unlock()
		return nil
	}

	m.pruneStalePioneers()

	found := false
	for i := range m.pioneers {
		if m.pioneers[i].NodeID == nodeID {
			m.pioneers[i].LastSeen = time.Now()
			found = true
			break
		}
	}
	if !found {
		m.pioneers = append(m.pioneers, Pioneer{NodeID: nodeID, Address: address, ConnectedAt: time.Now(), LastSeen: time.Now()})
	}

	// Keep only the two earliest by ConnectedAt once more than two are
	// registered, per spec.md §4.10's pioneer-pruning rule.
	if len(m.pioneers) > requiredPioneers {
		m.sortByConnectedAt()
		m.pioneers = m.pioneers[:requiredPioneers]
	}

	ready := len(m.pioneers) == requiredPioneers
	m.mu.Unlock()

	if ready {
		return m.fireGenesis(ctx, broadcaster, rewards)
	}
	return nil
}

func (m *Manager) pruneStalePioneers() {
	cutoff := time.Now().Add(-pioneerHeartbeatLimit)
	live := m.pioneers[:0]
	for _, p := range m.pioneers {
		if p.LastSeen.After(cutoff) {
			live = append(live, p)
		}
	}
	m.pioneers = live
}

func (m *Manager) sortByConnectedAt() {
	for i := 1; i < len(m.pioneers); i++ {
		for j := i; j > 0 && m.pioneers[j].ConnectedAt.Before(m.pioneers[j-1].ConnectedAt); j-- {
			m.pioneers[j], m.pioneers[j-1] = m.pioneers[j-1], m.pioneers[j]
		}
	}
}

// fireGenesis builds the genesis block once, persists developer
// recovery material, replaces the chain's placeholder genesis,
// schedules each pioneer's first mining reward for block 1, and
// broadcasts the result, per spec.md §4.10's one-shot semantics.
func (m *Manager) fireGenesis(ctx context.Context, broadcaster Broadcaster, rewards RewardScheduler) error {
	m.mu.Lock()
	if m.genesisDone {
		m.mu.Unlock()
		return nil
	}
	m.genesisDone = true
	pioneers := append([]Pioneer(nil), m.pioneers...)
	m.mu.Unlock()

	sysAddrs, devKeypair := chain.DeriveSystemAddresses()
	m.chain.SetSystemAddresses(sysAddrs)

	if err := m.persistDeveloperRecovery(sysAddrs.Developer, devKeypair); err != nil {
		return err
	}

	genesisTx := chain.Transaction{
		Type:      chain.TxGenesisInit,
		To:        sysAddrs.LiquidityPool,
		Amount:    liquidityPoolInitial,
		Timestamp: time.Now().Unix(),
	}

	validatorIDs := make([]string, len(pioneers))
	for i, p := range pioneers {
		validatorIDs[i] = p.NodeID
	}

	genesis := &chain.Block{
		Index:        0,
		PreviousHash: "0000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000",
		Timestamp:    time.Now().Unix(),
		Transactions: []chain.Transaction{genesisTx},
		Validators:   validatorIDs,
	}
	genesis.ComputeHash()

	if err := m.chain.ReplaceGenesis(genesis); err != nil {
		return errors.NewConsensusError("bootstrap: replace genesis", err)
	}

	if rewards != nil && m.initialBlockReward > 0 {
		share := m.initialBlockReward / 2
		now := time.Now().Unix()
		for _, p := range pioneers {
			rewards.ScheduleReward(chain.Transaction{
				From:      sysAddrs.LiquidityPool,
				To:        p.Address,
				Amount:    share,
				Type:      chain.TxMiningReward,
				Timestamp: now,
			})
		}
	}

	m.logger.Infof("[Bootstrap] genesis constructed by pioneers, broadcasting")
	if broadcaster != nil {
		broadcaster.Broadcast("GenesisBlock", genesis)
	}
	return nil
}

func (m *Manager) persistDeveloperRecovery(address string, kp *pcrypto.Keypair) error {
	rec := developerRecovery{
		Address:    address,
		PublicKey:  hex.EncodeToString(kp.PublicKey),
		PrivateKey: hex.EncodeToString(kp.PrivateKey),
		Mnemonic:   kp.Mnemonic,
	}
	return persistence.WriteJSONAtomic(m.recovery, rec)
}

// Reset clears genesis state for a fresh bootstrap cycle. It only
// succeeds when allowReset is true (testnet), per spec.md §6.
func (m *Manager) Reset() error {
	if !m.allowReset {
		return errors.NewValidationError("bootstrap: reset_blockchain is testnet-only", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genesisDone = false
	m.pioneers = nil
	return nil
}

// GenesisDone reports whether genesis has already fired.
func (m *Manager) GenesisDone() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.genesisDone
}

// IsPioneer reports whether nodeID is a recorded pioneer, per spec.md
// §6's "reset_blockchain is pioneer-only" rule.
func (m *Manager) IsPioneer(nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pioneers {
		if p.NodeID == nodeID {
			return true
		}
	}
	return false
}
