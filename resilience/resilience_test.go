package resilience

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/playergold/node/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMitigations struct {
	rateLimited, validationRaised, thresholdRaised bool
}

func (s *stubMitigations) EnableRateLimiting(ctx context.Context) error {
	s.rateLimited = true
	return nil
}
func (s *stubMitigations) IncreaseValidationRequirements(ctx context.Context) error {
	s.validationRaised = true
	return nil
}
func (s *stubMitigations) IncreaseConsensusThreshold(ctx context.Context) error {
	s.thresholdRaised = true
	return nil
}

type stubSyncer struct{ synced []string }

func (s *stubSyncer) SyncWithPeer(ctx context.Context, peerID string) error {
	s.synced = append(s.synced, peerID)
	return nil
}

func TestDetectPartitionAboveThreshold(t *testing.T) {
	reachable := map[string]bool{"a": true, "b": false, "c": false}
	status := DetectPartition(reachable, 10)
	assert.True(t, status.Partitioned)
	assert.InDelta(t, 0.2, status.UnreachableRatio, 1e-9)
}

func TestDetectPartitionBelowThreshold(t *testing.T) {
	reachable := map[string]bool{"a": true, "b": true}
	status := DetectPartition(reachable, 100)
	assert.False(t, status.Partitioned)
}

func TestOverlayPartitionLifecycle(t *testing.T) {
	syncer := &stubSyncer{}
	o := New(&stubMitigations{}, syncer, ulogger.New("t", io.Discard))

	o.ObservePartition(context.Background(), PartitionStatus{Partitioned: true})
	assert.Equal(t, StatePartitioned, o.State())

	o.ObservePartition(context.Background(), PartitionStatus{Partitioned: false})
	assert.Equal(t, StateRecovering, o.State())

	require.NoError(t, o.HealPartition(context.Background(), []string{"peer-1", "peer-2"}))
	assert.Equal(t, StateNormal, o.State())
	assert.Equal(t, []string{"peer-1", "peer-2"}, syncer.synced)
}

func TestOverlayAttackLifecycleAppliesMitigations(t *testing.T) {
	mit := &stubMitigations{}
	o := New(mit, &stubSyncer{}, ulogger.New("t", io.Discard))

	require.NoError(t, o.ObserveAnomalyScore(context.Background(), 0.5))
	assert.Equal(t, StateUnderAttack, o.State())
	assert.True(t, mit.rateLimited)
	assert.True(t, mit.validationRaised)
	assert.True(t, mit.thresholdRaised)

	require.NoError(t, o.ObserveAnomalyScore(context.Background(), 0.0))
	assert.Equal(t, StateNormal, o.State())
}

func TestFloodDetectorFlagsBurstTraffic(t *testing.T) {
	fd := NewFloodDetector(1, 1)
	assert.False(t, fd.Observe("peer-1"))
	assert.True(t, fd.Observe("peer-1"))
}

func TestDetectSybilClustersGroupsBySubnetAndWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	subnets := map[string]string{"p1": "10.0.0.0/24", "p2": "10.0.0.0/24", "p3": "10.0.1.0/24"}
	registered := map[string]time.Time{
		"p1": now, "p2": now.Add(2 * time.Second), "p3": now,
	}
	clusters := DetectSybilClusters(subnets, registered, 5*time.Second)
	require.Len(t, clusters, 1)
	assert.Equal(t, "10.0.0.0/24", clusters[0].Subnet)
	assert.ElementsMatch(t, []string{"p1", "p2"}, clusters[0].PeerIDs)
}

func TestAnomalyScoreCombinesSignals(t *testing.T) {
	score := AnomalyScore(2, 1, 10)
	assert.InDelta(t, 0.6*0.2+0.4*0.1, score, 1e-9)
}
