// Package faulttolerance implements the health monitor, load balancer,
// and auto-recovery loop of spec.md §4.13 (C14). Grounded on the
// teacher's looplab/fsm usage for service-lifecycle state (cf.
// services/blockchain/Server.go's finiteStateMachine), adapted from a
// single service's lifecycle states to one state machine per monitored
// node.
package faulttolerance

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/playergold/node/ulogger"
)

// Node health states, per spec.md §4.13.
const (
	StateActive      = "Active"
	StateUnresponsive = "Unresponsive"
	StateRecovering  = "Recovering"
	StateFailed      = "Failed"
	StateExcluded    = "Excluded"
)

const (
	evMissHeartbeat     = "miss_heartbeat"
	evHeartbeatOK       = "heartbeat_ok"
	evBeginRecovery     = "begin_recovery"
	evRecoveryOK        = "recovery_ok"
	evRecoveryRetry     = "recovery_retry"
	evRecoveryExhausted = "recovery_exhausted"
	evExclude           = "exclude"
)

const (
	ringBufferSize  = 100
	cycleInterval   = 30 * time.Second
	recoveryCooldown = 300 * time.Second
	maxRecoveryAttempts = 3
)

// RecoveryCallbacks are the externally supplied actions the
// auto-recovery loop invokes in order, per spec.md §6/§9's design note
// that fault tolerance must not itself own restart/verify logic.
type RecoveryCallbacks interface {
	VerifyResponsive(ctx context.Context, nodeID string) bool
	RestartNode(ctx context.Context, nodeID string) error
	BlockNode(ctx context.Context, nodeID string) error
}

// nodeHealth tracks one monitored node's ring buffer and FSM.
type nodeHealth struct {
	mu               sync.Mutex
	machine          *fsm.FSM
	ring             []bool // true = ok, false = missed
	recoveryAttempts int
	lastRecoveryAt   time.Time
}

func newNodeHealth(logger ulogger.Logger, nodeID string) *nodeHealth {
	nh := &nodeHealth{}
	nh.machine = fsm.NewFSM(StateActive, fsm.Events{
		{Name: evMissHeartbeat, Src: []string{StateActive}, Dst: StateUnresponsive},
		{Name: evHeartbeatOK, Src: []string{StateUnresponsive, StateRecovering}, Dst: StateActive},
		{Name: evBeginRecovery, Src: []string{StateUnresponsive}, Dst: StateRecovering},
		{Name: evRecoveryOK, Src: []string{StateRecovering}, Dst: StateActive},
		{Name: evRecoveryRetry, Src: []string{StateRecovering}, Dst: StateUnresponsive},
		{Name: evRecoveryExhausted, Src: []string{StateUnresponsive}, Dst: StateFailed},
		{Name: evExclude, Src: []string{StateFailed}, Dst: StateExcluded},
	}, fsm.Callbacks{
		"enter_state": func(ctx context.Context, e *fsm.Event) {
			logger.Infof("[FaultTolerance] %s: %s -> %s", nodeID, e.Src, e.Dst)
		},
	})
	return nh
}

func (nh *nodeHealth) recordPing(ok bool) {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	nh.ring = append(nh.ring, ok)
	if len(nh.ring) > ringBufferSize {
		nh.ring = nh.ring[len(nh.ring)-ringBufferSize:]
	}
}

func (nh *nodeHealth) recentFailureRate() float64 {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	if len(nh.ring) == 0 {
		return 0
	}
	failures := 0
	for _, ok := range nh.ring {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(nh.ring))
}

// LoadBalancer redistributes work away from unhealthy nodes, per
// spec.md §4.13.
type LoadBalancer struct {
	mu        sync.RWMutex
	weights   map[string]float64
}

// NewLoadBalancer builds an empty LoadBalancer.
func NewLoadBalancer() *LoadBalancer {
	return &LoadBalancer{weights: make(map[string]float64)}
}

// SetHealthy gives nodeID full weight (1.0) when healthy is true and
// zero weight when it is false, so work is redistributed to the
// remaining healthy nodes.
func (lb *LoadBalancer) SetHealthy(nodeID string, healthy bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if healthy {
		lb.weights[nodeID] = 1.0
	} else {
		lb.weights[nodeID] = 0.0
	}
}

// SelectForWork returns nodes with positive weight, i.e. those
// currently eligible to receive work.
func (lb *LoadBalancer) SelectForWork() []string {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	var out []string
	for id, w := range lb.weights {
		if w > 0 {
			out = append(out, id)
		}
	}
	return out
}

// Monitor owns per-node health state, drives heartbeat-miss/recovery
// transitions, and runs the auto-recovery loop.
type Monitor struct {
	logger    ulogger.Logger
	callbacks RecoveryCallbacks
	balancer  *LoadBalancer

	mu    sync.Mutex
	nodes map[string]*nodeHealth
}

// NewMonitor builds a Monitor.
func NewMonitor(callbacks RecoveryCallbacks, balancer *LoadBalancer, logger ulogger.Logger) *Monitor {
	return &Monitor{callbacks: callbacks, balancer: balancer, logger: logger, nodes: make(map[string]*nodeHealth)}
}

func (m *Monitor) healthFor(nodeID string) *nodeHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	nh, ok := m.nodes[nodeID]
	if !ok {
		nh = newNodeHealth(m.logger, nodeID)
		m.nodes[nodeID] = nh
	}
	return nh
}

// RecordHeartbeat registers a heartbeat observation for nodeID: ok
// true means it responded within the expected window.
func (m *Monitor) RecordHeartbeat(ctx context.Context, nodeID string, ok bool) {
	nh := m.healthFor(nodeID)
	nh.recordPing(ok)

	nh.mu.Lock()
	state := nh.machine.Current()
	nh.mu.Unlock()

	if !ok && state == StateActive {
		nh.mu.Lock()
		_ = nh.machine.Event(ctx, evMissHeartbeat)
		nh.mu.Unlock()
		m.balancer.SetHealthy(nodeID, false)
		return
	}
	if ok && (state == StateUnresponsive || state == StateRecovering) {
		nh.mu.Lock()
		_ = nh.machine.Event(ctx, evHeartbeatOK)
		nh.mu.Unlock()
		m.balancer.SetHealthy(nodeID, true)
	}
}

// State returns nodeID's current health state.
func (m *Monitor) State(nodeID string) string {
	nh := m.healthFor(nodeID)
	nh.mu.Lock()
	defer nh.mu.Unlock()
	return nh.machine.Current()
}

// Run drives the auto-recovery loop at cycleInterval until ctx is
// done: every cycle it attempts recovery on every node currently in
// the Unresponsive state, honoring per-node cooldown and attempt caps.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(cycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.recoveryCycle(ctx)
		}
	}
}

func (m *Monitor) recoveryCycle(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		nh := m.healthFor(id)
		nh.mu.Lock()
		state := nh.machine.Current()
		cooldownOK := time.Since(nh.lastRecoveryAt) >= recoveryCooldown
		attempts := nh.recoveryAttempts
		nh.mu.Unlock()

		if state != StateUnresponsive || !cooldownOK {
			continue
		}
		if attempts >= maxRecoveryAttempts {
			nh.mu.Lock()
			_ = nh.machine.Event(ctx, evRecoveryExhausted)
			_ = nh.machine.Event(ctx, evExclude)
			nh.mu.Unlock()
			_ = m.callbacks.BlockNode(ctx, id)
			continue
		}

		m.attemptRecovery(ctx, id, nh)
	}
}

// attemptRecovery runs the three recovery callbacks in order: verify
// responsiveness, restart if unresponsive, then re-verify, per spec.md
// §4.13.
func (m *Monitor) attemptRecovery(ctx context.Context, id string, nh *nodeHealth) {
	nh.mu.Lock()
	_ = nh.machine.Event(ctx, evBeginRecovery)
	nh.recoveryAttempts++
	nh.lastRecoveryAt = time.Now()
	nh.mu.Unlock()

	if m.callbacks.VerifyResponsive(ctx, id) {
		nh.mu.Lock()
		_ = nh.machine.Event(ctx, evRecoveryOK)
		nh.recoveryAttempts = 0
		nh.mu.Unlock()
		m.balancer.SetHealthy(id, true)
		return
	}

	if err := m.callbacks.RestartNode(ctx, id); err != nil {
		nh.mu.Lock()
		_ = nh.machine.Event(ctx, evRecoveryRetry)
		nh.mu.Unlock()
		return
	}

	if m.callbacks.VerifyResponsive(ctx, id) {
		nh.mu.Lock()
		_ = nh.machine.Event(ctx, evRecoveryOK)
		nh.recoveryAttempts = 0
		nh.mu.Unlock()
		m.balancer.SetHealthy(id, true)
		return
	}

	nh.mu.Lock()
	_ = nh.machine.Event(ctx, evRecoveryRetry)
	nh.mu.Unlock()
}
