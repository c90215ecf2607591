package faulttolerance

import (
	"context"
	"io"
	"testing"

	"github.com/playergold/node/ulogger"
	"github.com/stretchr/testify/assert"
)

type stubCallbacks struct {
	responsive  bool
	restartErr  error
	blocked     []string
	restartedN  int
}

func (s *stubCallbacks) VerifyResponsive(ctx context.Context, nodeID string) bool { return s.responsive }
func (s *stubCallbacks) RestartNode(ctx context.Context, nodeID string) error {
	s.restartedN++
	return s.restartErr
}
func (s *stubCallbacks) BlockNode(ctx context.Context, nodeID string) error {
	s.blocked = append(s.blocked, nodeID)
	return nil
}

func TestHeartbeatMissTransitionsToUnresponsive(t *testing.T) {
	cb := &stubCallbacks{}
	lb := NewLoadBalancer()
	m := NewMonitor(cb, lb, ulogger.New("t", io.Discard))

	m.RecordHeartbeat(context.Background(), "n1", false)
	assert.Equal(t, StateUnresponsive, m.State("n1"))
	assert.NotContains(t, lb.SelectForWork(), "n1")
}

func TestHeartbeatRecoveryReturnsToActive(t *testing.T) {
	cb := &stubCallbacks{}
	lb := NewLoadBalancer()
	m := NewMonitor(cb, lb, ulogger.New("t", io.Discard))

	m.RecordHeartbeat(context.Background(), "n1", false)
	m.RecordHeartbeat(context.Background(), "n1", true)
	assert.Equal(t, StateActive, m.State("n1"))
	assert.Contains(t, lb.SelectForWork(), "n1")
}

func TestAttemptRecoverySucceedsOnVerify(t *testing.T) {
	cb := &stubCallbacks{responsive: true}
	lb := NewLoadBalancer()
	m := NewMonitor(cb, lb, ulogger.New("t", io.Discard))

	m.RecordHeartbeat(context.Background(), "n1", false)
	nh := m.healthFor("n1")
	m.attemptRecovery(context.Background(), "n1", nh)

	assert.Equal(t, StateActive, m.State("n1"))
	assert.Equal(t, 0, cb.restartedN)
}

func TestAttemptRecoveryRestartsWhenUnresponsive(t *testing.T) {
	cb := &stubCallbacks{responsive: false}
	lb := NewLoadBalancer()
	m := NewMonitor(cb, lb, ulogger.New("t", io.Discard))

	m.RecordHeartbeat(context.Background(), "n1", false)
	nh := m.healthFor("n1")
	m.attemptRecovery(context.Background(), "n1", nh)

	assert.Equal(t, StateUnresponsive, m.State("n1"))
	assert.Equal(t, 1, cb.restartedN)
}

func TestRecoveryCycleExcludesAfterMaxAttempts(t *testing.T) {
	cb := &stubCallbacks{responsive: false}
	lb := NewLoadBalancer()
	m := NewMonitor(cb, lb, ulogger.New("t", io.Discard))

	m.RecordHeartbeat(context.Background(), "n1", false)
	nh := m.healthFor("n1")

	for i := 0; i < maxRecoveryAttempts; i++ {
		nh.lastRecoveryAt = nh.lastRecoveryAt.Add(-recoveryCooldown)
		m.attemptRecovery(context.Background(), "n1", nh)
	}
	nh.mu.Lock()
	nh.lastRecoveryAt = nh.lastRecoveryAt.Add(-recoveryCooldown)
	nh.mu.Unlock()

	m.recoveryCycle(context.Background())
	assert.Equal(t, StateExcluded, m.State("n1"))
	assert.Contains(t, cb.blocked, "n1")
}
