// Package syncer implements the chain synchronizer of spec.md §4.9
// (C10): an fsm-driven state machine plus the sync loop that pulls
// blocks from peers and resolves conflicts. Named syncer, not sync, to
// avoid colliding with the standard library package. Grounded on the
// teacher's looplab/fsm usage in services/blockchain/Server.go
// (finiteStateMachine *fsm.FSM, driven by Event(ctx, name) calls with
// the current state read back via Current()).
package syncer

import (
	"context"
	"sort"
	"time"

	"github.com/looplab/fsm"
	"github.com/playergold/node/chain"
	"github.com/playergold/node/errors"
	"github.com/playergold/node/reputation"
	"github.com/playergold/node/ulogger"
)

// States, per spec.md §4.9.
const (
	StateSynced      = "Synced"
	StateSyncing     = "Syncing"
	StateBehind      = "Behind"
	StateAhead       = "Ahead"
	StateConflicted  = "Conflicted"
	StatePartitioned = "Partitioned"
)

// Events driving state transitions.
const (
	evDetectBehind  = "detect_behind"
	evDetectAhead   = "detect_ahead"
	evStartSync     = "start_sync"
	evSyncComplete  = "sync_complete"
	evConflict      = "conflict"
	evResolved      = "resolved"
	evNoPeers       = "no_peers"
	evPeersRestored = "peers_restored"
)

const (
	maxSyncPeers     = 5
	minPeerRepute    = 0.5
	batchSize        = 100
	syncTimeout      = 30 * time.Second
	partitionTimeout = 300 * time.Second
)

// StatusRequest/StatusResponse mirror the peer status exchange of
// spec.md §4.9.
type StatusRequest struct {
	NodeID string `json:"node_id"`
}

type StatusResponse struct {
	NodeID      string `json:"node_id"`
	Height      uint64 `json:"height"`
	TipHash     string `json:"tip_hash"`
	RespondedAt time.Time `json:"responded_at"`
}

// PeerClient is the subset of peer interaction the synchronizer needs:
// requesting status and downloading a batch of blocks starting at
// fromHeight.
type PeerClient interface {
	RequestStatus(ctx context.Context, peerID string) (StatusResponse, error)
	DownloadBlocks(ctx context.Context, peerID string, fromHeight uint64, limit int) ([]chain.Block, error)
}

// Synchronizer drives the FSM of spec.md §4.9 and runs the sync loop.
type Synchronizer struct {
	nodeID     string
	chain      *chain.Chain
	reputation *reputation.Store
	peers      PeerClient
	logger     ulogger.Logger

	machine         *fsm.FSM
	lastPeerContact time.Time
}

// New builds a Synchronizer starting in the Synced state.
func New(nodeID string, c *chain.Chain, reputation *reputation.Store, peers PeerClient, logger ulogger.Logger) *Synchronizer {
	s := &Synchronizer{nodeID: nodeID, chain: c, reputation: reputation, peers: peers, logger: logger}
	s.machine = fsm.NewFSM(StateSynced, fsm.Events{
		{Name: evDetectBehind, Src: []string{StateSynced, StateAhead}, Dst: StateBehind},
		{Name: evDetectAhead, Src: []string{StateSynced, StateBehind}, Dst: StateAhead},
		{Name: evStartSync, Src: []string{StateSynced, StateBehind}, Dst: StateSyncing},
		{Name: evSyncComplete, Src: []string{StateSyncing}, Dst: StateSynced},
		{Name: evConflict, Src: []string{StateSyncing, StateBehind}, Dst: StateConflicted},
		{Name: evResolved, Src: []string{StateConflicted}, Dst: StateSyncing},
		{Name: evNoPeers, Src: []string{StateSynced, StateBehind, StateAhead, StateSyncing}, Dst: StatePartitioned},
		{Name: evPeersRestored, Src: []string{StatePartitioned}, Dst: StateSynced},
	}, fsm.Callbacks{
		"enter_state": func(ctx context.Context, e *fsm.Event) {
			logger.Infof("[Synchronizer] %s -> %s (%s)", e.Src, e.Dst, e.Event)
		},
	})
	return s
}

// State returns the synchronizer's current FSM state.
func (s *Synchronizer) State() string {
	return s.machine.Current()
}

// EvaluateStatuses compares local height against a set of peer status
// responses and fires the appropriate detect/no-peers events, per
// spec.md §4.9.
func (s *Synchronizer) EvaluateStatuses(ctx context.Context, statuses []StatusResponse) {
	if len(statuses) == 0 {
		if time.Since(s.lastPeerContact) > partitionTimeout {
			_ = s.machine.Event(ctx, evNoPeers)
		}
		return
	}
	s.lastPeerContact = time.Now()
	if s.machine.Is(StatePartitioned) {
		_ = s.machine.Event(ctx, evPeersRestored)
	}

	localHeight := s.chain.Height()
	var maxPeerHeight uint64
	for _, st := range statuses {
		if st.Height > maxPeerHeight {
			maxPeerHeight = st.Height
		}
	}

	switch {
	case maxPeerHeight > localHeight:
		_ = s.machine.Event(ctx, evDetectBehind)
	case maxPeerHeight < localHeight:
		_ = s.machine.Event(ctx, evDetectAhead)
	}
}

// eligiblePeers selects up to maxSyncPeers ids from the reputation
// store with reputation at or above minPeerRepute.
func (s *Synchronizer) eligiblePeers() []string {
	all := s.reputation.All()
	var chosen []string
	for _, id := range all {
		score, ok := s.reputation.Get(id)
		if !ok || score.Current/100.0 < minPeerRepute {
			continue
		}
		chosen = append(chosen, id)
		if len(chosen) >= maxSyncPeers {
			break
		}
	}
	return chosen
}

// Sync pulls blocks from eligible peers in batches until the chain
// reaches the target height or the sync timeout elapses.
func (s *Synchronizer) Sync(ctx context.Context, targetHeight uint64) error {
	if err := s.machine.Event(ctx, evStartSync); err != nil {
		return errors.NewConsensusError("syncer: cannot start sync from state "+s.State(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	peers := s.eligiblePeers()
	if len(peers) == 0 {
		_ = s.machine.Event(ctx, evNoPeers)
		return errors.NewTransientNetworkError("syncer: no eligible peers", nil)
	}

	for s.chain.Height() < targetHeight {
		select {
		case <-ctx.Done():
			return errors.NewTransientNetworkError("syncer: sync timed out", ctx.Err())
		default:
		}

		blocks, err := s.downloadNextBatch(ctx, peers)
		if err != nil {
			return err
		}
		if len(blocks) == 0 {
			break
		}

		for i := range blocks {
			b := blocks[i]
			if err := s.chain.AddBlock(&b); err != nil {
				_ = s.machine.Event(ctx, evConflict)
				if resolveErr := s.resolveConflict(ctx, b, peers); resolveErr != nil {
					return resolveErr
				}
				_ = s.machine.Event(ctx, evResolved)
			}
		}
	}

	return s.machine.Event(ctx, evSyncComplete)
}

func (s *Synchronizer) downloadNextBatch(ctx context.Context, peers []string) ([]chain.Block, error) {
	from := s.chain.Height() + 1
	var lastErr error
	for _, peerID := range peers {
		blocks, err := s.peers.DownloadBlocks(ctx, peerID, from, batchSize)
		if err != nil {
			lastErr = err
			continue
		}
		return blocks, nil
	}
	if lastErr != nil {
		return nil, errors.NewTransientNetworkError("syncer: all peers failed to serve blocks", lastErr)
	}
	return nil, nil
}

// resolveConflict applies the timestamp_reputation policy of spec.md
// §4.9: among the candidate block and the competing peers offering a
// block at the same height, the block with the earlier timestamp from
// the higher-reputation source wins.
func (s *Synchronizer) resolveConflict(ctx context.Context, candidate chain.Block, peers []string) error {
	type option struct {
		block      chain.Block
		reputation float64
	}
	options := []option{{block: candidate, reputation: 0}}

	for _, peerID := range peers {
		score, ok := s.reputation.Get(peerID)
		rep := 0.0
		if ok {
			rep = score.Current
		}
		blocks, err := s.peers.DownloadBlocks(ctx, peerID, candidate.Index, 1)
		if err != nil || len(blocks) == 0 {
			continue
		}
		options = append(options, option{block: blocks[0], reputation: rep})
	}

	sort.SliceStable(options, func(i, j int) bool {
		if options[i].reputation != options[j].reputation {
			return options[i].reputation > options[j].reputation
		}
		return options[i].block.Timestamp < options[j].block.Timestamp
	})

	winner := options[0].block
	if err := s.chain.AddBlock(&winner); err != nil {
		return errors.NewConsensusError("syncer: conflict resolution failed to apply winning block", err)
	}
	return nil
}
