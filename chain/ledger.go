package chain

import (
	"sync"

	perr "github.com/playergold/node/errors"
)

// Ledger is the balance map of spec.md §3, rebuilt by replaying the
// chain. It is exclusively owned by the Chain that embeds it; a reader
// may take a consistent snapshot via Snapshot for read-only responses,
// per spec.md §5.
type Ledger struct {
	mu       sync.RWMutex
	balances map[string]float64
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]float64)}
}

// Balance returns addr's balance, 0 if never credited.
func (l *Ledger) Balance(addr string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[addr]
}

// Snapshot returns a copy of the full balance map.
func (l *Ledger) Snapshot() map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]float64, len(l.balances))
	for k, v := range l.balances {
		out[k] = v
	}
	return out
}

func (l *Ledger) credit(addr string, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] += amount
}

func (l *Ledger) debit(addr string, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] -= amount
}

// ProcessTransaction applies tx to the ledger per the balance
// discipline of spec.md §4.4: regular transfers/faucet debits require
// sufficient sender balance; system-minted types credit their
// designated address without a sender check, except MiningReward which
// debits the liquidity pool (a noop with a warning if the pool is
// empty, signalled by returning ErrEmptyPool).
var ErrEmptyPool = perr.NewValidationError("liquidity pool is empty, mining reward skipped", nil)

func (l *Ledger) ProcessTransaction(tx Transaction) error {
	switch tx.Type {
	case TxTransfer, TxFaucet:
		l.mu.Lock()
		if l.balances[tx.From] < tx.Amount+tx.Fee {
			l.mu.Unlock()
			return perr.NewValidationError("insufficient balance for transaction", nil)
		}
		l.balances[tx.From] -= tx.Amount + tx.Fee
		l.balances[tx.To] += tx.Amount
		l.mu.Unlock()
		return nil

	case TxGenesisInit:
		l.credit(tx.To, tx.Amount)
		return nil

	case TxMiningReward:
		l.mu.Lock()
		if l.balances[tx.From] < tx.Amount {
			l.mu.Unlock()
			return ErrEmptyPool
		}
		l.balances[tx.From] -= tx.Amount
		l.balances[tx.To] += tx.Amount
		l.mu.Unlock()
		return nil

	case TxNetworkMaintenance, TxTokenBurn, TxLiquidityPool:
		l.credit(tx.To, tx.Amount)
		return nil

	default:
		return perr.NewValidationError("unknown transaction type", nil)
	}
}

// DistributeTransactionFee splits a collected fee per dist into three
// ledger credits, per spec.md §4.4.
func (l *Ledger) DistributeTransactionFee(fee float64, dist FeeDistribution, sys SystemAddresses) {
	if fee <= 0 {
		return
	}
	l.credit(sys.Burn, fee*dist.Burn)
	l.credit(sys.Developer, fee*dist.Developer)
	l.credit(sys.LiquidityPool, fee*dist.Liquidity)
}
