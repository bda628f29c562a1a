// Package consensus implements the pure evaluation step of a round: it maps
// a set of submissions plus the task's tolerance parameters onto a final
// result and a per-submission verdict. Evaluation is deterministic and
// order-independent — submissions are sorted by provider id before any rule
// runs, so identical inputs always produce identical outcomes regardless of
// arrival order.
//
// The package has no clock, no storage and no locks. Settlement decides what
// the outcome is worth; this package only decides what the outcome is.
package consensus

import (
	"sort"

	"github.com/tally-network/tally/internal/domain"
)

// Outcome is the result of evaluating one task's submissions.
//
// When Reached is false every verdict stays Pending: Rejected is a verdict
// that only exists relative to a formed consensus, and only Rejected
// submissions are ever slashed.
type Outcome struct {
	Reached       bool                      `json:"reached"`
	FinalResult   string                    `json:"final_result,omitempty"`
	Verdicts      map[string]domain.Verdict `json:"verdicts"`
	AcceptedCount int                       `json:"accepted_count"`
}

// Evaluate runs the consensus rule for the given task kind over subs.
// toleranceBps applies to numeric tasks, majorityBps to categorical ones.
func Evaluate(kind domain.TaskKind, toleranceBps, majorityBps int64, subs []domain.Submission) Outcome {
	sorted := make([]domain.Submission, len(subs))
	copy(sorted, subs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProviderID < sorted[j].ProviderID })

	if kind == domain.KindNumeric {
		return evaluateNumeric(toleranceBps, sorted)
	}
	return evaluateCategorical(majorityBps, sorted)
}

// evaluateNumeric accepts every value inside the tolerance band around the
// median of all submitted values.
func evaluateNumeric(toleranceBps int64, sorted []domain.Submission) Outcome {
	values := make([]int64, len(sorted))
	for i, s := range sorted {
		values[i] = s.NumericValue
	}
	med := median(values)
	lo, hi := toleranceBand(med, toleranceBps)

	verdicts := make(map[string]domain.Verdict, len(sorted))
	accepted := 0
	for _, s := range sorted {
		if s.NumericValue >= lo && s.NumericValue <= hi {
			verdicts[s.ProviderID] = domain.VerdictAccepted
			accepted++
		} else {
			verdicts[s.ProviderID] = domain.VerdictRejected
		}
	}

	// An even-count median with a tight band can land between all submitted
	// values and accept nobody. That is a failed round, not a completed one.
	if accepted == 0 {
		return noConsensus(sorted)
	}
	return Outcome{
		Reached:       true,
		FinalResult:   domain.FormatAmount(med),
		Verdicts:      verdicts,
		AcceptedCount: accepted,
	}
}

// evaluateCategorical groups submissions by exact payload equality and
// accepts the single largest group when its share meets the majority
// threshold. A tie for largest means there is no "the largest group", so no
// consensus forms regardless of the threshold.
func evaluateCategorical(majorityBps int64, sorted []domain.Submission) Outcome {
	counts := make(map[string]int)
	for _, s := range sorted {
		counts[s.Digest]++
	}

	// Deterministic winner scan: digests in lexical order.
	digests := make([]string, 0, len(counts))
	for d := range counts {
		digests = append(digests, d)
	}
	sort.Strings(digests)

	best, bestCount, tied := "", 0, false
	for _, d := range digests {
		switch {
		case counts[d] > bestCount:
			best, bestCount, tied = d, counts[d], false
		case counts[d] == bestCount:
			tied = true
		}
	}

	total := int64(len(sorted))
	// Integer-exact share test: count/total >= majorityBps/10000.
	if tied || int64(bestCount)*domain.BpsDenominator < majorityBps*total {
		return noConsensus(sorted)
	}

	verdicts := make(map[string]domain.Verdict, len(sorted))
	finalResult := ""
	for _, s := range sorted {
		if s.Digest == best {
			verdicts[s.ProviderID] = domain.VerdictAccepted
			finalResult = s.Payload
		} else {
			verdicts[s.ProviderID] = domain.VerdictRejected
		}
	}
	return Outcome{
		Reached:       true,
		FinalResult:   finalResult,
		Verdicts:      verdicts,
		AcceptedCount: bestCount,
	}
}

func noConsensus(sorted []domain.Submission) Outcome {
	verdicts := make(map[string]domain.Verdict, len(sorted))
	for _, s := range sorted {
		verdicts[s.ProviderID] = domain.VerdictPending
	}
	return Outcome{Verdicts: verdicts}
}

// median returns the middle of the sorted values; an even count takes the
// truncating integer average of the two middle values (toward zero).
func median(values []int64) int64 {
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	// Micro-unit magnitudes are bounded well below half of int64 range, so
	// the sum cannot overflow.
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// toleranceBand returns the inclusive acceptance band around the median.
// Edges are computed exactly and ordered correctly for negative medians.
func toleranceBand(med, toleranceBps int64) (lo, hi int64) {
	lo = domain.MulBps(med, domain.BpsDenominator-toleranceBps)
	hi = domain.MulBps(med, domain.BpsDenominator+toleranceBps)
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}
