package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	perr "github.com/playergold/node/errors"
)

const genesisPreviousHash = "0000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000"

// AIValidator is one validator's participation record in a block,
// per spec.md §3.
type AIValidator struct {
	NodeID          string  `json:"node_id"`
	ModelHash       string  `json:"model_hash"`
	Signature       []byte  `json:"signature"`
	ResponseTimeMs  int64   `json:"response_time_ms"`
	Reputation      float64 `json:"reputation"`
}

// ConsensusProof carries the challenge/validation evidence attached to
// a finalized block, per spec.md §3.
type ConsensusProof struct {
	ChallengeID        string   `json:"challenge_id"`
	Solutions          []string `json:"solutions"`
	CrossValidations   []string `json:"cross_validations"`
	ConsensusTimestamp int64    `json:"consensus_timestamp"`
}

// Block is the unit of the chain, per spec.md §3.
type Block struct {
	Index          uint64            `json:"index"`
	PreviousHash   string            `json:"previous_hash"`
	Timestamp      int64             `json:"timestamp"`
	Transactions   []Transaction     `json:"transactions"`
	MerkleRoot     string            `json:"merkle_root"`
	Nonce          uint64            `json:"nonce"`
	Validators     []string          `json:"validators"`
	AIValidators   []AIValidator     `json:"ai_validators"`
	ConsensusProof ConsensusProof    `json:"consensus_proof"`
	Hash           string            `json:"hash"`
}

// headerBytes is the canonical encoding hashed to produce Block.Hash.
// The Hash field itself is excluded, it is this encoding's digest.
func (b *Block) headerBytes() []byte {
	type header struct {
		Index        uint64         `json:"index"`
		PreviousHash string         `json:"previous_hash"`
		Timestamp    int64          `json:"timestamp"`
		MerkleRoot   string         `json:"merkle_root"`
		Nonce        uint64         `json:"nonce"`
		Validators   []string       `json:"validators"`
		AIValidators []AIValidator  `json:"ai_validators"`
		Proof        ConsensusProof `json:"consensus_proof"`
	}
	data, _ := json.Marshal(header{
		Index: b.Index, PreviousHash: b.PreviousHash, Timestamp: b.Timestamp,
		MerkleRoot: b.MerkleRoot, Nonce: b.Nonce, Validators: b.Validators,
		AIValidators: b.AIValidators, Proof: b.ConsensusProof,
	})
	return data
}

// ComputeHash sets MerkleRoot and Hash from the block's current
// contents. Callers must invoke this after mutating Transactions or
// before first use.
func (b *Block) ComputeHash() {
	b.MerkleRoot = MerkleRoot(b.Transactions)
	sum := sha256.Sum256(b.headerBytes())
	b.Hash = hex.EncodeToString(sum[:])
}

// NewGenesisPlaceholder is the index-0 placeholder block a Chain starts
// with before the bootstrap manager replaces it (spec.md §3 "Chain").
func NewGenesisPlaceholder() *Block {
	b := &Block{
		Index:        0,
		PreviousHash: genesisPreviousHash,
		Timestamp:    0,
		Transactions: nil,
		Validators:   nil,
	}
	b.ComputeHash()
	return b
}

// IsValid checks the block-level invariants of spec.md §3 that don't
// require chain context (previous-hash continuity is checked by the
// Chain, not here). genesis is true only for index 0.
func (b *Block) IsValid(genesis bool) error {
	wantMerkle := MerkleRoot(b.Transactions)
	if b.MerkleRoot != wantMerkle {
		return perr.NewValidationError("merkle root does not match transactions", nil)
	}

	headerSum := sha256.Sum256(b.headerBytes())
	if b.Hash != hex.EncodeToString(headerSum[:]) {
		return perr.NewValidationError("block hash does not match header", nil)
	}

	if genesis {
		return nil
	}

	if len(b.AIValidators) < 3 {
		return perr.NewValidationError("non-genesis block must have at least 3 AI validators", nil)
	}
	for _, v := range b.AIValidators {
		if v.ResponseTimeMs >= 300 {
			return perr.NewValidationError("AI validator response time must be under 300ms", nil)
		}
	}
	if b.ConsensusProof.ChallengeID == "" {
		return perr.NewValidationError("consensus proof missing challenge id", nil)
	}
	if len(b.ConsensusProof.Solutions) == 0 {
		return perr.NewValidationError("consensus proof has no solutions", nil)
	}
	if len(b.ConsensusProof.CrossValidations) == 0 {
		return perr.NewValidationError("consensus proof has no cross validations", nil)
	}
	return nil
}

// TimestampValid checks spec.md §3's timestamp invariant relative to
// the previous block and wall clock, skewed up to 5 minutes into the
// future.
func (b *Block) TimestampValid(previous *Block, now time.Time) bool {
	if b.Timestamp <= previous.Timestamp {
		return false
	}
	return time.Unix(b.Timestamp, 0).Before(now.Add(5 * time.Minute))
}
