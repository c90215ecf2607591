package node

import (
	"sync"

	"github.com/playergold/node/chain"
)

// txPool is the in-memory pending-transaction queue feeding the
// consensus engine, per spec.md §4.11's TxPool dependency. Grounded on
// the teacher's in-memory FIFO pending-work queues (cf. the
// load-balancer work queues in util/p2p), adapted to transactions.
type txPool struct {
	mu      sync.Mutex
	pending []chain.Transaction
}

func newTxPool() *txPool {
	return &txPool{}
}

// Submit appends tx to the pending queue.
func (p *txPool) Submit(tx chain.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, tx)
}

// Collect removes and returns up to max pending transactions, oldest
// first, satisfying consensus.TxPool.
func (p *txPool) Collect(max int) []chain.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if max > len(p.pending) {
		max = len(p.pending)
	}
	out := make([]chain.Transaction, max)
	copy(out, p.pending[:max])
	p.pending = p.pending[max:]
	return out
}

// ScheduleReward satisfies bootstrap.RewardScheduler: a pioneer's
// genesis reward is queued exactly like any other pending transaction
// and swept up by the next block's Collect.
func (p *txPool) ScheduleReward(tx chain.Transaction) {
	p.Submit(tx)
}

// Len reports the number of pending transactions.
func (p *txPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
