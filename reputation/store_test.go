package reputation

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	dir := t.TempDir()
	return NewStore(filepath.Join(dir, "nodes.json"), filepath.Join(dir, "events.json"))
}

func TestRegisterIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	s.Register("node-a")
	s.Register("node-a")

	score, ok := s.Get("node-a")
	require.True(t, ok)
	assert.Equal(t, 100.0, score.Current)
}

func TestApplyPenaltyUnregistersAtCumulative50(t *testing.T) {
	s := newTestStore(t)
	s.Register("node-a")
	s.UpdateParticipationRate("node-a", 0.5)

	s.ApplyPenalty("node-a", "double-sign", Severe) // -20, cum 20
	assert.True(t, s.Eligible("node-a"))

	s.ApplyPenalty("node-a", "double-sign", Severe) // -20, cum 40
	assert.True(t, s.Eligible("node-a"))

	s.ApplyPenalty("node-a", "double-sign", Light) // -2, cum 42... need cum>=50
	s.ApplyPenalty("node-a", "double-sign", Severe) // -20, cum 62 >= 50
	assert.False(t, s.Eligible("node-a"))
}

func TestEligibilityRequiresScoreAndParticipation(t *testing.T) {
	s := newTestStore(t)
	s.Register("node-a")
	assert.False(t, s.Eligible("node-a")) // participation rate 0

	s.UpdateParticipationRate("node-a", 0.2)
	assert.True(t, s.Eligible("node-a"))
}

func TestGetTopOrdersByScore(t *testing.T) {
	s := newTestStore(t)
	s.Register("low")
	s.Register("high")
	s.RecordSuccessfulValidation("high", 500)

	top := s.GetTop(2)
	require.Len(t, top, 2)
	assert.Equal(t, "high", top[0])
}

func TestPersistLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	s.Register("node-a")
	s.RecordSuccessfulValidation("node-a", 50)
	require.NoError(t, s.Persist())

	loaded := NewStore(s.nodesPath, s.eventPath)
	require.NoError(t, loaded.Load())

	score, ok := loaded.Get("node-a")
	require.True(t, ok)
	assert.Equal(t, 150.0, score.Current)
}

func TestUserBurnRaisesReputationAndPriority(t *testing.T) {
	us := NewUserStore(filepath.Join(t.TempDir(), "users.json"))
	score := us.RecordBurn("user-1", 10)
	assert.Equal(t, 100.0, score.Current) // 10 * 10 multiplier
	assert.Equal(t, 2, score.PriorityLevel)

	score = us.RecordBurn("user-1", 10)
	assert.Equal(t, 200.0, score.Current)
	assert.Equal(t, 3, score.PriorityLevel)
}

func TestPriorityLevelThresholds(t *testing.T) {
	assert.Equal(t, 1, PriorityLevelFor(0))
	assert.Equal(t, 2, PriorityLevelFor(75))
	assert.Equal(t, 3, PriorityLevelFor(150))
	assert.Equal(t, 4, PriorityLevelFor(300))
	assert.Equal(t, 5, PriorityLevelFor(500))
}
