package chain

import (
	"crypto/sha256"
	"encoding/hex"
)

// MerkleRoot computes the Merkle root of spec.md §4.4: pairwise SHA-256
// of transaction hashes, duplicating the last hash at odd levels; the
// empty list yields SHA-256 of empty input.
func MerkleRoot(txs []Transaction) string {
	if len(txs) == 0 {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:])
	}

	level := make([][]byte, len(txs))
	for i, tx := range txs {
		h, _ := hex.DecodeString(tx.Hash())
		level[i] = h
	}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			combined := append(append([]byte{}, level[i]...), level[i+1]...)
			sum := sha256.Sum256(combined)
			next = append(next, sum[:])
		}
		level = next
	}

	return hex.EncodeToString(level[0])
}
