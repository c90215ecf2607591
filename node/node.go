// Package node wires the fifteen components of the system (crypto,
// challenges, cross-validation, reputation, chain, quorum, p2p
// transport, discovery, propagation, synchronizer, bootstrap,
// consensus, economics, fault tolerance, resilience) into a single
// process-level object, per spec.md §6's CLI-facing contracts.
// Grounded on the teacher's services/blockchain/Server.go convention:
// a large struct owning every subsystem, a logger stored at
// construction, and Start launching one goroutine per background loop.
package node

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/playergold/node/bootstrap"
	"github.com/playergold/node/challenge"
	"github.com/playergold/node/chain"
	"github.com/playergold/node/config"
	"github.com/playergold/node/consensus"
	pcrypto "github.com/playergold/node/crypto"
	"github.com/playergold/node/discovery"
	"github.com/playergold/node/economics"
	"github.com/playergold/node/errors"
	"github.com/playergold/node/faulttolerance"
	"github.com/playergold/node/p2p"
	"github.com/playergold/node/propagation"
	"github.com/playergold/node/reputation"
	"github.com/playergold/node/resilience"
	"github.com/playergold/node/syncer"
	"github.com/playergold/node/ulogger"
	"github.com/playergold/node/validation"
)

const (
	challengeInterval        = 5 * time.Second
	challengeCollectWindow   = 4 * time.Second
	peerScanInterval         = 5 * time.Second
	blockWatchInterval       = 2 * time.Second
	persistInterval          = 30 * time.Second
	attackConsensusThreshold = 0.80
	defaultMinValidators     = 3
)

// pendingChallenge tracks one challenge this node originated while it
// waits for peer solutions to cross-validate, per spec.md §4.2.
type pendingChallenge struct {
	challenge challenge.Challenge
	original  challenge.Solution
	entries   []validation.Entry
	responses map[string]int64             // validatorID -> computation time ms
	solutions map[string]challenge.Solution // validatorID -> submitted solution
	deadline  time.Time
}

// Node is the process-level container of spec.md §9's lifecycle note:
// it owns the chain/ledger, reputation store, and fee-engine
// singletons, and drives every background subsystem.
type Node struct {
	cfg    *config.NodeConfig
	netCfg config.NetworkConfig
	logger ulogger.Logger

	nodeID  string
	keypair *pcrypto.Keypair
	address string

	chainStore      *chain.Chain
	reputationStore *reputation.Store
	userStore       *reputation.UserStore
	econEngine      *economics.Engine

	transport       *p2p.Transport
	disco           *discovery.Discovery
	propagator      *propagation.Propagator
	synchronizer    *syncer.Synchronizer
	bootstrapMgr    *bootstrap.Manager
	consensusEngine *consensus.Engine
	faultMonitor    *faulttolerance.Monitor
	loadBalancer    *faulttolerance.LoadBalancer
	overlay         *resilience.Overlay

	pool         *txPool
	router       *callRouter
	peerClient   *peerClientAdapter
	challengeGen *challenge.Generator
	evidence     *evidenceQueue

	mu                sync.Mutex
	minValidators     int
	floodDetector     *resilience.FloodDetector
	blockedNodes      map[string]bool
	pendingChallenges map[string]*pendingChallenge
	knownPeers        map[string]bool
	lastHeight        uint64

	runCtx context.Context
}

func newTightFloodDetector() *resilience.FloodDetector {
	return resilience.NewFloodDetector(5, 10)
}

// New builds a Node from node-local configuration, generating a fresh
// node identity keypair. It performs no I/O beyond that; call Start to
// load persisted state and open the network.
func New(cfg *config.NodeConfig, logger ulogger.Logger) (*Node, error) {
	netCfg, ok := config.Defaults()[cfg.Network]
	if !ok {
		return nil, errors.NewFatalError("node: unknown network "+string(cfg.Network), nil)
	}

	kp, err := pcrypto.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	address := pcrypto.DeriveAddress(kp.PublicKey)

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = address
	}

	chainPath := filepath.Join(cfg.DataDir, "chain.json")
	balancesPath := filepath.Join(cfg.DataDir, "balances.json")
	nodesPath := filepath.Join(cfg.DataDir, "reputation", "nodes.json")
	eventsPath := filepath.Join(cfg.DataDir, "reputation", "events.json")
	usersPath := filepath.Join(cfg.DataDir, "reputation", "users.json")
	feeDistPath := filepath.Join(cfg.DataDir, "fee_distribution.json")
	recoveryPath := filepath.Join(cfg.DataDir, "developer_recovery.json")

	chainStore := chain.New(chainPath, balancesPath)
	reputationStore := reputation.NewStore(nodesPath, eventsPath)
	userStore := reputation.NewUserStore(usersPath)
	econEngine := economics.NewEngine(0, 0, nil, feeDistPath)

	pcfg := p2p.Config{
		NodeID:          nodeID,
		NetworkID:       string(cfg.Network),
		ListenAddr:      cfg.ListenAddr,
		AllowPrivateIPs: netCfg.AllowPrivateIPs,
		BootstrapPeers:  netCfg.BootstrapAddresses,
	}
	transport, err := p2p.NewTransport(pcfg, logger)
	if err != nil {
		return nil, err
	}

	disco := discovery.New(nodeID, string(cfg.Network), cfg.ListenAddr, netCfg.BootstrapAddresses, nil, logger)
	propagator := propagation.New(transport, logger)
	router := newCallRouter()
	peerClient := &peerClientAdapter{transport: transport, router: router}
	synchronizer := syncer.New(nodeID, chainStore, reputationStore, peerClient, logger)
	bootstrapMgr := bootstrap.NewManager(chainStore, recoveryPath, string(cfg.Network), netCfg.ResetAllowed, econEngine.CurrentReward(), logger)
	pool := newTxPool()
	evidence := newEvidenceQueue()
	networkAdapter := &consensusNetworkAdapter{transport: transport, router: router, voteWait: cfg.VoteWindow}
	consensusEngine := consensus.New(nodeID, chainStore, pool, reputationStore, networkAdapter, evidence, econEngine, logger)
	loadBalancer := faulttolerance.NewLoadBalancer()

	n := &Node{
		cfg: cfg, netCfg: netCfg, logger: logger,
		nodeID: nodeID, keypair: kp, address: address,
		chainStore: chainStore, reputationStore: reputationStore, userStore: userStore, econEngine: econEngine,
		transport: transport, disco: disco, propagator: propagator, synchronizer: synchronizer,
		bootstrapMgr: bootstrapMgr, consensusEngine: consensusEngine,
		faultMonitor: nil, loadBalancer: loadBalancer,
		pool: pool, router: router, peerClient: peerClient, evidence: evidence,
		challengeGen: challenge.NewGenerator(int64(len(nodeID)) + time.Now().UnixNano()),
		minValidators: defaultMinValidators, floodDetector: resilience.NewFloodDetector(20, 40),
		blockedNodes: make(map[string]bool), pendingChallenges: make(map[string]*pendingChallenge),
		knownPeers: make(map[string]bool),
	}
	n.faultMonitor = faulttolerance.NewMonitor(n, loadBalancer, logger)
	n.overlay = resilience.New(n, n, logger)
	return n, nil
}

// Address returns the node's derived crypto address.
func (n *Node) Address() string { return n.address }

// Start loads persisted state, opens the transport and discovery
// loops, and launches every background subsystem, per spec.md §6's
// node.start(node_id, port, network) contract.
func (n *Node) Start(ctx context.Context) error {
	n.runCtx = ctx

	if err := n.chainStore.Load(); err != nil {
		n.logger.Warnf("[Node] chain load failed, continuing from RAM state: %v", err)
	}
	if err := n.reputationStore.Load(); err != nil {
		n.logger.Warnf("[Node] reputation load failed: %v", err)
	}
	if err := n.userStore.Load(); err != nil {
		n.logger.Warnf("[Node] user reputation load failed: %v", err)
	}
	if err := n.econEngine.Load(); err != nil {
		n.logger.Warnf("[Node] fee distribution load failed: %v", err)
	}
	n.lastHeight = n.chainStore.Height()

	n.registerHandlers()

	if err := n.transport.Start(ctx); err != nil {
		return err
	}

	n.disco.OnPeerFound = n.onPeerFound
	if err := n.disco.Start(ctx); err != nil {
		return err
	}

	n.propagator.Start()

	go n.consensusEngine.Run(ctx)
	go n.faultMonitor.Run(ctx)
	go n.challengeLoop(ctx)
	go n.peerScanLoop(ctx)
	go n.blockWatchLoop(ctx)
	go n.persistLoop(ctx)

	n.logger.Infof("[Node] %s started on %s (network=%s)", n.nodeID, n.cfg.ListenAddr, n.cfg.Network)
	return nil
}

func (n *Node) registerHandlers() {
	registerTransportHandlers(n.transport, n.router, n, n.voteOnProposal)
	n.transport.OnMessage(p2p.MsgTransaction, n.handleInboundTransaction)
	n.transport.OnMessage(p2p.MsgChallenge, n.handleInboundChallenge)
	n.transport.OnMessage(p2p.MsgSolution, n.handleInboundSolution)
}

func (n *Node) onPeerFound(addr string) {
	if err := n.transport.Dial(n.runCtx, addr); err != nil {
		n.logger.Warnf("[Node] dial discovered peer %s failed: %v", addr, err)
	}
}

// voteOnProposal decides this node's vote on an incoming block
// proposal by checking it extends the local tip, per spec.md §4.11.
func (n *Node) voteOnProposal(env p2p.Envelope, p consensus.Proposal) consensus.Vote {
	tip := n.chainStore.Latest()
	accept := p.Block.PreviousHash == tip.Hash && p.Block.Index == tip.Index+1
	return consensus.Vote{VoterID: n.nodeID, Accept: accept}
}

// Status is the response shape of spec.md §6's node.query_status().
type Status struct {
	Height           uint64
	TipHash          string
	PeerCount        int
	SyncState        string
	OverlayState     string
	PendingTxCount   int
	CurrentReward    float64
	FeeDistribution  chain.FeeDistribution
	GenesisDone      bool
}

// QueryStatus satisfies spec.md §6's node.query_status().
func (n *Node) QueryStatus() Status {
	tip := n.chainStore.Latest()
	return Status{
		Height:          tip.Index,
		TipHash:         tip.Hash,
		PeerCount:       len(n.transport.PeerIDs()),
		SyncState:       n.synchronizer.State(),
		OverlayState:    n.overlay.State(),
		PendingTxCount:  n.pool.Len(),
		CurrentReward:   n.econEngine.CurrentReward(),
		FeeDistribution: n.econEngine.Distribution(),
		GenesisDone:     n.bootstrapMgr.GenesisDone(),
	}
}

// SubmitTransaction validates and enqueues tx, per spec.md §6's
// node.submit_transaction(tx).
func (n *Node) SubmitTransaction(tx chain.Transaction) error {
	if err := tx.Validate(n.chainStore.SystemAddresses()); err != nil {
		return err
	}
	n.pool.Submit(tx)
	if tx.From != "" {
		n.userStore.RecordTransaction(tx.From)
	}
	n.propagator.Relay(tx.Hash(), p2p.MsgTransaction, tx, 0)
	return nil
}

// ResetBlockchain satisfies spec.md §6's node.reset_blockchain(requester):
// testnet-only, pioneer-only.
func (n *Node) ResetBlockchain(requester string) error {
	if n.cfg.Network != config.Testnet {
		return errors.NewValidationError("node: reset_blockchain is testnet-only", nil)
	}
	if !n.bootstrapMgr.IsPioneer(requester) {
		return errors.NewValidationError("node: reset_blockchain requires a recorded pioneer", nil)
	}
	return n.bootstrapMgr.Reset()
}
