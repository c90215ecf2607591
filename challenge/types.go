// Package challenge implements the challenge engine of spec.md §4.2
// (C2): generation, timeout-bounded processing, and signed solutions.
// Grounded on the teacher's pattern of small pure-function "solvers"
// feeding a signed result envelope (cf. model/Block.go's header/hash
// split, adapted here to challenge/solution).
package challenge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Type enumerates the three challenge kinds of spec.md §4.2.
type Type string

const (
	MatrixOps           Type = "MatrixOps"
	PatternRecognition  Type = "PatternRecognition"
	Optimization        Type = "Optimization"
)

const defaultTimeoutMs = 100

// rotation is the fixed round-robin order used to avoid validator
// specialization, per spec.md §4.2.
var rotation = []Type{MatrixOps, PatternRecognition, Optimization}

// Challenge is one generated task. Only the expected solution hash is
// stored, so verification stays cheap (spec.md §4.2).
type Challenge struct {
	ID                 string `json:"id"`
	Type               Type   `json:"type"`
	Difficulty         int    `json:"difficulty"`
	TimeoutMs          int    `json:"timeout_ms"`
	Size               int    `json:"size"`                // matrix dimension / pattern terms / optimization dims
	Seed               int64  `json:"seed"`                 // deterministic generator seed
	ExpectedSolutionSum string `json:"expected_solution_hash"`
}

// sizeFor computes the difficulty-scaled size per challenge type, per
// spec.md §4.2.
func sizeFor(t Type, difficulty int) int {
	switch t {
	case MatrixOps:
		size := 50 + 10*difficulty
		if size > 200 {
			size = 200
		}
		return size
	case PatternRecognition:
		return 100 + 20*difficulty
	case Optimization:
		return 10 + 5*difficulty
	default:
		return 0
	}
}

// Solution is a canonical numeric result for a challenge, produced by
// a solver. It is hashed/signed by the processor, and re-derived by
// cross-validators to compute similarity (spec.md §4.2).
type Solution struct {
	ChallengeID string    `json:"challenge_id"`
	Values      []float64 `json:"values"`
}

// canonicalEncoding is the stable encoding hashed and hex-included in
// the processor's signed payload.
func (s Solution) canonicalEncoding() []byte {
	b, _ := json.Marshal(s.Values)
	return b
}

// Hash is SHA-256 of the solution's canonical encoding.
func (s Solution) Hash() string {
	sum := sha256.Sum256(s.canonicalEncoding())
	return hex.EncodeToString(sum[:])
}

// HexEncoding is the hex(canonical_solution) term of the signed
// payload format in spec.md §4.2.
func (s Solution) HexEncoding() string {
	return hex.EncodeToString(s.canonicalEncoding())
}

// SignaturePayload builds "{node_id}:{timestamp}:{hex(canonical_solution)}"
// per spec.md §4.2.
func SignaturePayload(nodeID string, timestamp int64, sol Solution) []byte {
	return []byte(fmt.Sprintf("%s:%d:%s", nodeID, timestamp, sol.HexEncoding()))
}
