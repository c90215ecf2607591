package challenge

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const difficultyStep = 20 // challenges generated before difficulty ramps up

// Generator produces challenges rotating type to prevent validator
// specialization, per spec.md §4.2. It also ramps difficulty slowly
// over time, a supplement noted in SPEC_FULL.md grounded in
// original_source's challenge generator difficulty curve.
type Generator struct {
	mu      sync.Mutex
	cursor  int
	count   int64
	baseSeed int64
}

func NewGenerator(baseSeed int64) *Generator {
	return &Generator{baseSeed: baseSeed}
}

// Next returns the next challenge in rotation.
func (g *Generator) Next() Challenge {
	g.mu.Lock()
	t := rotation[g.cursor%len(rotation)]
	g.cursor++
	n := atomic.AddInt64(&g.count, 1)
	g.mu.Unlock()

	difficulty := int(n / difficultyStep)
	seed := g.baseSeed + n

	return Challenge{
		ID:         uuid.NewString(),
		Type:       t,
		Difficulty: difficulty,
		TimeoutMs:  defaultTimeoutMs,
		Size:       sizeFor(t, difficulty),
		Seed:       seed,
	}
}

// Solve runs the canonical (noise-free) solver for a challenge, used to
// compute ExpectedSolutionSum at generation time and as the reference
// solution cross-validators compare against.
func Solve(c Challenge) Solution {
	rng := rand.New(rand.NewSource(c.Seed))
	switch c.Type {
	case MatrixOps:
		return solveMatrixOps(c, rng, 0)
	case PatternRecognition:
		return solvePatternRecognition(c, rng, 0)
	case Optimization:
		return solveOptimization(c, rng, 0)
	default:
		return Solution{ChallengeID: c.ID}
	}
}

// WithExpectedHash fills in c's expected-solution hash from the
// canonical solver, per spec.md §4.2 ("stores only the
// expected-solution-hash").
func (c Challenge) WithExpectedHash() Challenge {
	c.ExpectedSolutionSum = Solve(c).Hash()
	return c
}

