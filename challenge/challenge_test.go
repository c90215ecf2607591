package challenge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"
)

func TestGeneratorRotatesTypes(t *testing.T) {
	g := NewGenerator(1)
	seen := map[Type]bool{}
	for i := 0; i < 3; i++ {
		seen[g.Next().Type] = true
	}
	assert.Len(t, seen, 3)
}

func TestGeneratorRampsDifficulty(t *testing.T) {
	g := NewGenerator(1)
	var last Challenge
	for i := 0; i < difficultyStep*2+1; i++ {
		last = g.Next()
	}
	assert.GreaterOrEqual(t, last.Difficulty, 1)
}

func TestSizeForScalesAndCaps(t *testing.T) {
	assert.Equal(t, 50, sizeFor(MatrixOps, 0))
	assert.Equal(t, 200, sizeFor(MatrixOps, 100))
	assert.Equal(t, 100, sizeFor(PatternRecognition, 0))
	assert.Equal(t, 10, sizeFor(Optimization, 0))
}

func TestProcessSucceedsWithinTimeout(t *testing.T) {
	c := Challenge{ID: "c1", Type: MatrixOps, Size: 5, TimeoutMs: 100, Seed: 42}
	_, priv, err := ed25519edKeypair()
	require.NoError(t, err)

	result := Process(context.Background(), c, "node-A", 7, priv)
	assert.True(t, result.Success)
	assert.Equal(t, FailureNone, result.Error)
	assert.NotNil(t, result.Solution)
	assert.NotEmpty(t, result.Signature)
}

func ed25519edKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	return pub, priv, err
}

func TestResolveIsDeterministicGivenSameSeeds(t *testing.T) {
	c := Challenge{ID: "c1", Type: Optimization, Size: 4, Seed: 99}
	a := Resolve(c, 5)
	b := Resolve(c, 5)
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestResolveVariesAcrossNodes(t *testing.T) {
	c := Challenge{ID: "c1", Type: Optimization, Size: 4, Seed: 99}
	a := Resolve(c, 5)
	b := Resolve(c, 6)
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestWithExpectedHashMatchesCanonicalSolve(t *testing.T) {
	c := Challenge{ID: "c1", Type: MatrixOps, Size: 3, Seed: 1}
	c = c.WithExpectedHash()
	assert.Equal(t, Solve(c).Hash(), c.ExpectedSolutionSum)
}

func TestProcessTimesOutUnderTinyDeadline(t *testing.T) {
	c := Challenge{ID: "slow", Type: MatrixOps, Size: 200, TimeoutMs: 0, Seed: 1}
	_, priv, _ := ed25519edKeypair()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	result := Process(ctx, c, "node-A", 1, priv)
	assert.False(t, result.Success)
	assert.True(t, result.TimeoutExceeded || result.Error == FailureTimeout)
}
