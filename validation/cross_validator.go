// Package validation implements the cross-validation scheme of
// spec.md §4.2's "Cross-validation" subsection (C3): aggregating
// independent re-solves of a challenge into a consensus verdict with
// reputation side effects. Grounded on the teacher's aggregation style
// in services/blockchain's vote/state handling, adapted from block
// votes to solution similarity verdicts.
package validation

import (
	"math"
	"sort"

	"github.com/playergold/node/challenge"
	"github.com/playergold/node/reputation"
)

const (
	defaultMinValidators = 3
	validThreshold       = 0.95
	suspiciousThreshold  = 0.80
	consensusFraction    = 0.67
	confidenceFloor      = 0.8
)

// Verdict is one validator's classification of a re-solved challenge.
type Verdict string

const (
	Valid      Verdict = "Valid"
	Suspicious Verdict = "Suspicious"
	Invalid    Verdict = "Invalid"
	VErr       Verdict = "Error"
	VTimeout   Verdict = "Timeout"
)

// Entry is one ValidationEntry of spec.md §4.2.
type Entry struct {
	ValidatorID string
	Verdict     Verdict
	Similarity  float64
	Confidence  float64
}

// Consensus is the aggregated outcome of cross-validating one solution.
type Consensus struct {
	Verdict              Verdict
	Confidence           float64
	ArbitrationRequired  bool
	Entries              []Entry
}

// Similarity computes the type-specific similarity score of spec.md
// §4.2 between a candidate solution and the original.
func Similarity(t challenge.Type, original, candidate challenge.Solution) float64 {
	if len(original.Values) == 0 || len(original.Values) != len(candidate.Values) {
		return 0
	}

	switch t {
	case challenge.MatrixOps, challenge.PatternRecognition:
		return 1 - meanRelativeError(original.Values, candidate.Values)
	case challenge.Optimization:
		return 1 - l2Distance(original.Values, candidate.Values)/(l2Norm(original.Values)+l2Norm(candidate.Values)+1e-12)
	default:
		return 0
	}
}

func meanRelativeError(a, b []float64) float64 {
	var sum float64
	for i := range a {
		denom := abs(a[i])
		if denom < 1e-9 {
			denom = 1e-9
		}
		sum += abs(a[i]-b[i]) / denom
	}
	errAvg := sum / float64(len(a))
	// similarity formula expects 1-error to land in [0,1]; clamp the error itself.
	if errAvg > 1 {
		errAvg = 1
	}
	return errAvg
}

func l2Distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func l2Norm(a []float64) float64 {
	var sum float64
	for _, v := range a {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func verdictFor(similarity float64) Verdict {
	switch {
	case similarity >= validThreshold:
		return Valid
	case similarity >= suspiciousThreshold:
		return Suspicious
	default:
		return Invalid
	}
}

// SelectValidators picks k validators other than excludeID from the
// reputation store, sorted by descending reputation, per spec.md §4.2.
func SelectValidators(store *reputation.Store, excludeID string, k int) []string {
	if k <= 0 {
		k = defaultMinValidators
	}
	candidates := store.All()
	ids := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if id != excludeID {
			ids = append(ids, id)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		si, _ := store.Get(ids[i])
		sj, _ := store.Get(ids[j])
		return si.Current > sj.Current
	})
	if len(ids) > k {
		ids = ids[:k]
	}
	return ids
}

// Aggregate combines per-validator entries into a Consensus per
// spec.md §4.2's rules, and applies reputation side effects (rewarding
// validators whose verdict agrees with the majority, penalizing those
// that don't) via store.
func Aggregate(entries []Entry, store *reputation.Store) Consensus {
	var validN, invalidN, suspiciousN int
	var confidenceSum float64
	var confidenceN int

	for _, e := range entries {
		switch e.Verdict {
		case Valid:
			validN++
		case Invalid:
			invalidN++
		case Suspicious:
			suspiciousN++
		}
	}

	total := len(entries)
	var verdict Verdict
	switch {
	case total > 0 && float64(validN)/float64(total) >= consensusFraction:
		verdict = Valid
	case total > 0 && float64(invalidN)/float64(total) >= consensusFraction:
		verdict = Invalid
	default:
		verdict = Suspicious
	}

	for _, e := range entries {
		if e.Verdict == verdict {
			confidenceSum += e.Confidence
			confidenceN++
		}
	}
	confidence := 0.0
	if confidenceN > 0 {
		confidence = confidenceSum / float64(confidenceN)
	}

	arbitration := suspiciousN > 0 || (validN > 0 && invalidN > 0) || confidence < confidenceFloor

	if store != nil {
		for _, e := range entries {
			if e.Verdict == verdict {
				store.RecordSuccessfulValidation(e.ValidatorID, 1)
			} else {
				store.RecordFailedValidation(e.ValidatorID)
			}
		}
	}

	return Consensus{Verdict: verdict, Confidence: confidence, ArbitrationRequired: arbitration, Entries: entries}
}
