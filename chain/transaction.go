// Package chain implements the block/chain/ledger model of spec.md §3
// and §4.4 (C5): transactions, blocks, the Merkle tree, chain
// invariants, and the balance ledger. Grounded on the teacher's
// model/Block.go (header/body split, hash caching) adapted from the
// UTXO model to the account-balance model spec.md §3 describes.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	perr "github.com/playergold/node/errors"
)

// TxType enumerates the transaction kinds of spec.md §3.
type TxType string

const (
	TxTransfer           TxType = "Transfer"
	TxGenesisInit        TxType = "GenesisInit"
	TxMiningReward       TxType = "MiningReward"
	TxNetworkMaintenance TxType = "NetworkMaintenance"
	TxTokenBurn          TxType = "TokenBurn"
	TxLiquidityPool      TxType = "LiquidityPool"
	TxFaucet             TxType = "Faucet"
)

// Transaction is the unit of value transfer described in spec.md §3.
type Transaction struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	Amount    float64 `json:"amount"`
	Fee       float64 `json:"fee"`
	Timestamp int64   `json:"timestamp"`
	Nonce     uint64  `json:"nonce"`
	Type      TxType  `json:"type"`
	Memo      string  `json:"memo,omitempty"`
	Signature []byte  `json:"signature,omitempty"`
}

// canonicalBytes produces the deterministic encoding hashed for Hash()
// and signed over. The signature field is excluded since it is the
// output of signing this same payload.
func (t *Transaction) canonicalBytes() []byte {
	type canonical struct {
		From      string  `json:"from"`
		To        string  `json:"to"`
		Amount    float64 `json:"amount"`
		Fee       float64 `json:"fee"`
		Timestamp int64   `json:"timestamp"`
		Nonce     uint64  `json:"nonce"`
		Type      TxType  `json:"type"`
		Memo      string  `json:"memo"`
	}
	b, _ := json.Marshal(canonical{
		From: t.From, To: t.To, Amount: t.Amount, Fee: t.Fee,
		Timestamp: t.Timestamp, Nonce: t.Nonce, Type: t.Type, Memo: t.Memo,
	})
	return b
}

// Hash is the SHA-256 of the transaction's canonical encoding, hex
// encoded lowercase per spec.md §6.
func (t *Transaction) Hash() string {
	sum := sha256.Sum256(t.canonicalBytes())
	return hex.EncodeToString(sum[:])
}

// IsSystemType reports whether a transaction type is minted by the
// system rather than submitted by a user.
func (t TxType) IsSystemType() bool {
	switch t {
	case TxGenesisInit, TxMiningReward, TxNetworkMaintenance, TxTokenBurn, TxLiquidityPool, TxFaucet:
		return true
	default:
		return false
	}
}

// Validate checks the structural invariants of spec.md §3 that don't
// require ledger state (amount/fee non-negative, designated senders for
// system types). Balance sufficiency is checked by the ledger at apply
// time, not here.
func (t *Transaction) Validate(systemAddrs SystemAddresses) error {
	if t.Amount < 0 {
		return perr.NewValidationError("transaction amount is negative", nil)
	}
	if t.Fee < 0 {
		return perr.NewValidationError("transaction fee is negative", nil)
	}
	if t.To == "" {
		return perr.NewValidationError("transaction has no recipient", nil)
	}

	switch t.Type {
	case TxTransfer, TxFaucet:
		if t.From == "" {
			return perr.NewValidationError(fmt.Sprintf("%s transaction has no sender", t.Type), nil)
		}
	case TxGenesisInit:
		// from is empty: minted out of nothing at genesis.
	case TxMiningReward:
		if t.From != systemAddrs.LiquidityPool {
			return perr.NewValidationError("mining reward must debit the liquidity pool", nil)
		}
	case TxNetworkMaintenance:
		if t.To != systemAddrs.Developer {
			return perr.NewValidationError("network maintenance must credit the developer address", nil)
		}
	case TxTokenBurn:
		if t.To != systemAddrs.Burn {
			return perr.NewValidationError("token burn must credit the burn address", nil)
		}
	case TxLiquidityPool:
		if t.To != systemAddrs.LiquidityPool {
			return perr.NewValidationError("liquidity pool transaction must credit the pool address", nil)
		}
	default:
		return perr.NewValidationError(fmt.Sprintf("unknown transaction type %q", t.Type), nil)
	}
	return nil
}
