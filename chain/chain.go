package chain

import (
	"sync"
	"time"

	perr "github.com/playergold/node/errors"
	"github.com/playergold/node/persistence"
)

// Chain is the ordered vector of blocks of spec.md §3. It owns the
// Ledger and is the single writer referenced by spec.md §5: appends are
// serialized by mu, normally only ever called from the consensus task
// or the bootstrap manager.
type Chain struct {
	mu              sync.RWMutex
	blocks          []*Block
	ledger          *Ledger
	systemAddresses SystemAddresses
	appliedHashes   map[string]bool // hashes of applied blocks; AddBlock records but does not read it
	chainPath       string
	balancesPath    string
}

// New starts a chain with the index-0 placeholder block described in
// spec.md §3.
func New(chainPath, balancesPath string) *Chain {
	genesis := NewGenesisPlaceholder()
	return &Chain{
		blocks:        []*Block{genesis},
		ledger:        NewLedger(),
		appliedHashes: map[string]bool{genesis.Hash: true},
		chainPath:     chainPath,
		balancesPath:  balancesPath,
	}
}

func (c *Chain) Ledger() *Ledger { return c.ledger }

func (c *Chain) SetSystemAddresses(sa SystemAddresses) { c.systemAddresses = sa }
func (c *Chain) SystemAddresses() SystemAddresses       { return c.systemAddresses }

// Latest returns the tip block.
func (c *Chain) Latest() *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1]
}

// Height is the index of the tip block.
func (c *Chain) Height() uint64 {
	return c.Latest().Index
}

// Len returns the number of blocks including the genesis slot.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// BlockAt returns the block at index, or nil if out of range.
func (c *Chain) BlockAt(index uint64) *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index >= uint64(len(c.blocks)) {
		return nil
	}
	return c.blocks[index]
}

// AddBlock validates b against the current tip, then applies every
// transaction to the ledger, per spec.md §4.4. Re-adding a block whose
// hash equals the current tip's hash is a no-op, not a duplication
// (spec.md §8 idempotence property).
func (c *Chain) AddBlock(b *Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.blocks[len(c.blocks)-1]
	if b.Hash == tip.Hash {
		return nil
	}

	genesis := b.Index == 0
	if err := b.IsValid(genesis); err != nil {
		return err
	}
	if !genesis {
		if b.PreviousHash != tip.Hash {
			return perr.NewValidationError("previous_hash does not match chain tip", nil)
		}
		if b.Index != tip.Index+1 {
			return perr.NewValidationError("block index is not tip+1", nil)
		}
		if !b.TimestampValid(tip, time.Now()) {
			return perr.NewValidationError("block timestamp violates ordering or skew invariant", nil)
		}
	}

	for _, tx := range b.Transactions {
		if err := tx.Validate(c.systemAddresses); err != nil {
			return err
		}
		if err := c.ledger.ProcessTransaction(tx); err != nil && err != ErrEmptyPool {
			return err
		}
	}

	c.blocks = append(c.blocks, b)
	c.appliedHashes[b.Hash] = true
	return nil
}

// ReplaceGenesis is the only mutation of index 0 allowed after the
// chain begins, per spec.md §3/§4.4. It is only legal while the chain
// still holds exactly one block (the untouched placeholder) with no
// processed transactions.
func (c *Chain) ReplaceGenesis(b *Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blocks) != 1 {
		return perr.NewConsensusError("genesis can only be replaced while the chain has a single block", nil)
	}
	if len(c.blocks[0].Transactions) != 0 {
		return perr.NewConsensusError("genesis placeholder has already processed transactions", nil)
	}
	if b.Index != 0 {
		return perr.NewValidationError("replacement genesis must have index 0", nil)
	}
	if err := b.IsValid(true); err != nil {
		return err
	}

	for _, tx := range b.Transactions {
		if err := tx.Validate(c.systemAddresses); err != nil {
			return err
		}
		if err := c.ledger.ProcessTransaction(tx); err != nil {
			return err
		}
	}

	c.blocks[0] = b
	c.appliedHashes = map[string]bool{b.Hash: true}
	return nil
}

// Validate checks the whole-chain invariants of spec.md §8: hash
// continuity, recomputed hashes, and per-block validity.
func (c *Chain) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i, b := range c.blocks {
		if err := b.IsValid(i == 0); err != nil {
			return perr.NewFatalError("chain invariant broken", err)
		}
		if i > 0 {
			if b.PreviousHash != c.blocks[i-1].Hash {
				return perr.NewFatalError("chain invariant broken: previous_hash mismatch", nil)
			}
			if b.Index != c.blocks[i-1].Index+1 {
				return perr.NewFatalError("chain invariant broken: non-contiguous index", nil)
			}
		}
	}
	return nil
}

// Persist writes the chain and balances atomically, per spec.md §6.
func (c *Chain) Persist() error {
	c.mu.RLock()
	blocksCopy := make([]*Block, len(c.blocks))
	copy(blocksCopy, c.blocks)
	c.mu.RUnlock()

	if err := persistence.WriteJSONAtomic(c.chainPath, blocksCopy); err != nil {
		return err
	}
	return persistence.WriteJSONAtomic(c.balancesPath, c.ledger.Snapshot())
}

// Load restores chain and balances from disk, replaying validation.
// Crash recovery per spec.md §5.
func (c *Chain) Load() error {
	var blocks []*Block
	found, err := persistence.ReadJSON(c.chainPath, &blocks)
	if err != nil {
		return err
	}
	if !found || len(blocks) == 0 {
		return nil
	}

	c.mu.Lock()
	c.blocks = blocks
	c.appliedHashes = make(map[string]bool, len(blocks))
	for _, b := range blocks {
		c.appliedHashes[b.Hash] = true
	}
	c.mu.Unlock()

	ledger := NewLedger()
	for _, b := range blocks {
		for _, tx := range b.Transactions {
			if err := ledger.ProcessTransaction(tx); err != nil && err != ErrEmptyPool {
				return perr.NewFatalError("replaying persisted chain failed", err)
			}
		}
	}
	c.ledger = ledger

	return c.Validate()
}
