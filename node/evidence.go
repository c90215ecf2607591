package node

import (
	"sync"

	"github.com/playergold/node/chain"
)

// preparedEvidence is one completed cross-validation round's block
// evidence, ready to be attached to a proposed block.
type preparedEvidence struct {
	validators []chain.AIValidator
	proof      chain.ConsensusProof
}

// evidenceQueue buffers completed challenge/cross-validation rounds
// for the consensus engine to consume one at a time when it builds the
// next block, satisfying consensus.Evidence.
type evidenceQueue struct {
	mu    sync.Mutex
	ready []preparedEvidence
}

func newEvidenceQueue() *evidenceQueue {
	return &evidenceQueue{}
}

// push enqueues a completed round's evidence.
func (q *evidenceQueue) push(validators []chain.AIValidator, proof chain.ConsensusProof) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = append(q.ready, preparedEvidence{validators: validators, proof: proof})
}

// NextProof satisfies consensus.Evidence, popping the oldest queued
// round.
func (q *evidenceQueue) NextProof() ([]chain.AIValidator, chain.ConsensusProof, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, chain.ConsensusProof{}, false
	}
	e := q.ready[0]
	q.ready = q.ready[1:]
	return e.validators, e.proof, true
}
