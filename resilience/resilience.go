// Package resilience implements the resilient-overlay layer of
// spec.md §4.14 (C15): partition detection, a network-state machine,
// an auto-synchronizer hook, and attack defense. Grounded on the
// teacher's looplab/fsm usage for lifecycle state and its
// golang.org/x/time/rate-backed throttling convention (the teacher
// pins x/time for its own rate limiting, though the retrieved files
// didn't include the call site; this package is the first to exercise
// it, flood detection being a natural fit for a token-bucket limiter).
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/playergold/node/ulogger"
	"golang.org/x/time/rate"
)

// Network states, per spec.md §4.14.
const (
	StateNormal      = "Normal"
	StatePartitioned = "Partitioned"
	StateRecovering  = "Recovering"
	StateUnderAttack = "UnderAttack"
)

const (
	evPartitionDetected = "partition_detected"
	evPartitionHealed   = "partition_healed"
	evRecovered         = "recovered"
	evAttackDetected    = "attack_detected"
	evAttackCleared     = "attack_cleared"
)

// unreachableThreshold is the fraction of unreachable peers that
// triggers partition detection, per spec.md §4.14.
const unreachableThreshold = 0.10

// PartitionStatus is the outcome of a reachability sweep.
type PartitionStatus struct {
	UnreachableRatio float64
	Partitioned      bool
	Majority         bool
}

// DetectPartition computes reachability statistics from a peer
// reachability map, per spec.md §4.14.
func DetectPartition(reachable map[string]bool, totalKnownPeers int) PartitionStatus {
	if totalKnownPeers == 0 {
		return PartitionStatus{}
	}
	unreachable := 0
	reached := 0
	for _, ok := range reachable {
		if ok {
			reached++
		} else {
			unreachable++
		}
	}
	ratio := float64(unreachable) / float64(totalKnownPeers)
	return PartitionStatus{
		UnreachableRatio: ratio,
		Partitioned:      ratio >= unreachableThreshold,
		Majority:         reached*2 > totalKnownPeers,
	}
}

// Mitigations are the externally supplied actions the attack-defense
// loop invokes, per spec.md §6/§9.
type Mitigations interface {
	EnableRateLimiting(ctx context.Context) error
	IncreaseValidationRequirements(ctx context.Context) error
	IncreaseConsensusThreshold(ctx context.Context) error
}

// PeerSyncer drives per-peer re-synchronization once a partition
// heals, decoupled from the syncer package's concrete type so this
// package can be tested without it.
type PeerSyncer interface {
	SyncWithPeer(ctx context.Context, peerID string) error
}

// FloodDetector rate-limits per-peer message volume using a token
// bucket per peer; a peer that exceeds its bucket is reported as
// flooding.
type FloodDetector struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewFloodDetector builds a detector allowing rps messages/sec per peer
// with a bucket of burst tokens; a message that finds the bucket empty
// is flagged.
func NewFloodDetector(rps float64, burst int) *FloodDetector {
	return &FloodDetector{limiters: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst}
}

// Observe records one message from peerID and reports whether this
// message exceeded the peer's allowance (i.e. the peer is flooding).
func (f *FloodDetector) Observe(peerID string) bool {
	f.mu.Lock()
	lim, ok := f.limiters[peerID]
	if !ok {
		lim = rate.NewLimiter(f.rps, f.burst)
		f.limiters[peerID] = lim
	}
	f.mu.Unlock()
	return !lim.Allow()
}

// SybilCluster reports a group of peers whose declared addresses
// cluster suspiciously (same /24, registered within a short window),
// per spec.md §4.14's Sybil heuristic.
type SybilCluster struct {
	Subnet string
	PeerIDs []string
}

// DetectSybilClusters groups peers by subnet and flags subnets with
// more than one peer whose registration times all fall within window
// of each other.
func DetectSybilClusters(subnetByPeer map[string]string, registeredAt map[string]time.Time, window time.Duration) []SybilCluster {
	bySubnet := make(map[string][]string)
	for peer, subnet := range subnetByPeer {
		bySubnet[subnet] = append(bySubnet[subnet], peer)
	}

	var clusters []SybilCluster
	for subnet, peers := range bySubnet {
		if len(peers) < 2 {
			continue
		}
		var earliest, latest time.Time
		for i, p := range peers {
			t := registeredAt[p]
			if i == 0 || t.Before(earliest) {
				earliest = t
			}
			if t.After(latest) {
				latest = t
			}
		}
		if latest.Sub(earliest) <= window {
			clusters = append(clusters, SybilCluster{Subnet: subnet, PeerIDs: peers})
		}
	}
	return clusters
}

// AnomalyScore combines flood and Sybil signals into a single score in
// [0,1], per spec.md §4.14's "anomaly scoring".
func AnomalyScore(floodingPeers, sybilPeers, totalPeers int) float64 {
	if totalPeers == 0 {
		return 0
	}
	score := 0.6*float64(floodingPeers)/float64(totalPeers) + 0.4*float64(sybilPeers)/float64(totalPeers)
	if score > 1 {
		score = 1
	}
	return score
}

const attackScoreThreshold = 0.2

// Overlay drives the network-state FSM, partition recovery, and
// attack-defense mitigation per spec.md §4.14.
type Overlay struct {
	logger      ulogger.Logger
	mitigations Mitigations
	syncer      PeerSyncer

	mu      sync.Mutex
	machine *fsm.FSM
}

// New builds an Overlay starting in the Normal state.
func New(mitigations Mitigations, syncer PeerSyncer, logger ulogger.Logger) *Overlay {
	o := &Overlay{logger: logger, mitigations: mitigations, syncer: syncer}
	o.machine = fsm.NewFSM(StateNormal, fsm.Events{
		{Name: evPartitionDetected, Src: []string{StateNormal}, Dst: StatePartitioned},
		{Name: evPartitionHealed, Src: []string{StatePartitioned}, Dst: StateRecovering},
		{Name: evRecovered, Src: []string{StateRecovering}, Dst: StateNormal},
		{Name: evAttackDetected, Src: []string{StateNormal, StateRecovering}, Dst: StateUnderAttack},
		{Name: evAttackCleared, Src: []string{StateUnderAttack}, Dst: StateNormal},
	}, fsm.Callbacks{
		"enter_state": func(ctx context.Context, e *fsm.Event) {
			logger.Infof("[Resilience] %s -> %s (%s)", e.Src, e.Dst, e.Event)
		},
		"enter_" + StateNormal: func(ctx context.Context, e *fsm.Event) {
			if e.Src == StateRecovering {
				logger.Infof("[Resilience] partition fully healed")
			}
		},
	})
	return o
}

// State returns the overlay's current network state.
func (o *Overlay) State() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.machine.Current()
}

// ObservePartition feeds a reachability sweep into the state machine.
func (o *Overlay) ObservePartition(ctx context.Context, status PartitionStatus) {
	o.mu.Lock()
	state := o.machine.Current()
	o.mu.Unlock()

	if status.Partitioned && state == StateNormal {
		o.mu.Lock()
		_ = o.machine.Event(ctx, evPartitionDetected)
		o.mu.Unlock()
		return
	}
	if !status.Partitioned && state == StatePartitioned {
		o.mu.Lock()
		_ = o.machine.Event(ctx, evPartitionHealed)
		o.mu.Unlock()
	}
}

// HealPartition re-synchronizes with each of the given peers and, once
// done, returns the overlay to Normal.
func (o *Overlay) HealPartition(ctx context.Context, peerIDs []string) error {
	for _, p := range peerIDs {
		if err := o.syncer.SyncWithPeer(ctx, p); err != nil {
			return err
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.machine.Event(ctx, evRecovered)
}

// ObserveAnomalyScore feeds an anomaly score into the attack-defense
// state machine and triggers escalating mitigations while under
// attack, per spec.md §4.14's mitigation list.
func (o *Overlay) ObserveAnomalyScore(ctx context.Context, score float64) error {
	o.mu.Lock()
	state := o.machine.Current()
	o.mu.Unlock()

	if score >= attackScoreThreshold && state != StateUnderAttack {
		o.mu.Lock()
		err := o.machine.Event(ctx, evAttackDetected)
		o.mu.Unlock()
		if err != nil {
			return err
		}
		if err := o.mitigations.EnableRateLimiting(ctx); err != nil {
			return err
		}
		if err := o.mitigations.IncreaseValidationRequirements(ctx); err != nil {
			return err
		}
		return o.mitigations.IncreaseConsensusThreshold(ctx)
	}

	if score < attackScoreThreshold && state == StateUnderAttack {
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.machine.Event(ctx, evAttackCleared)
	}
	return nil
}
