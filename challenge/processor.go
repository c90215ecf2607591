package challenge

import (
	"context"
	"time"

	perr "github.com/playergold/node/errors"
	pcrypto "github.com/playergold/node/crypto"
	"golang.org/x/crypto/ed25519"
)

// FailureMode classifies why processing did not produce a usable
// solution, per spec.md §4.2.
type FailureMode string

const (
	FailureNone      FailureMode = ""
	FailureTimeout   FailureMode = "Timeout"
	FailureAlgorithm FailureMode = "AlgorithmError"
	FailureCrypto    FailureMode = "CryptoError"
)

// ProcessingResult is the typed outcome of Process, per spec.md §4.2.
// The engine never raises on a bad result: failures are carried here.
type ProcessingResult struct {
	Success           bool
	Solution          *Solution
	Signature         []byte
	ComputationTimeMs int64
	TimeoutExceeded   bool
	Error             FailureMode
}

// Process runs the solver matching c.Type on a separate goroutine,
// cancelling/discarding results past c.TimeoutMs, then wraps the
// solution in an Ed25519 signature over the payload format of
// spec.md §4.2.
func Process(ctx context.Context, c Challenge, nodeID string, nodeSeed int64, priv ed25519.PrivateKey) ProcessingResult {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.TimeoutMs)*time.Millisecond)
	defer cancel()

	type outcome struct {
		sol Solution
		err error
	}
	resultCh := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: perr.NewValidationError("solver panicked", nil)}
			}
		}()
		resultCh <- outcome{sol: Resolve(c, nodeSeed)}
	}()

	select {
	case <-ctx.Done():
		return ProcessingResult{
			Success:           false,
			ComputationTimeMs: time.Since(start).Milliseconds(),
			TimeoutExceeded:   true,
			Error:             FailureTimeout,
		}
	case out := <-resultCh:
		elapsed := time.Since(start).Milliseconds()
		if out.err != nil {
			return ProcessingResult{
				Success:           false,
				ComputationTimeMs: elapsed,
				Error:             FailureAlgorithm,
			}
		}

		timestamp := time.Now().Unix()
		sig, err := pcrypto.Sign(priv, SignaturePayload(nodeID, timestamp, out.sol))
		if err != nil {
			return ProcessingResult{
				Success:           false,
				ComputationTimeMs: elapsed,
				Error:             FailureCrypto,
			}
		}

		sol := out.sol
		return ProcessingResult{
			Success:           true,
			Solution:          &sol,
			Signature:         sig,
			ComputationTimeMs: elapsed,
			Error:             FailureNone,
		}
	}
}
