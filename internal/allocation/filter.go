package allocation

import (
	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/state"
)

// Eligible reports whether a candidate clears every hard threshold and still
// has a slot left today.
func Eligible(cand state.CandidateRecord, t QualityThresholds) bool {
	if cand.QualityScore < t.MinQualityScore {
		return false
	}
	if cand.CompletionRate < t.MinCompletionRate {
		return false
	}
	if cand.AcceptanceRate < t.MinAcceptanceRate {
		return false
	}
	return cand.CapacityAvailable > 0
}

// FilterEligible is pure: an empty input yields an empty output, not an error.
func FilterEligible(cands []state.CandidateRecord, t QualityThresholds) []state.CandidateRecord {
	out := make([]state.CandidateRecord, 0, len(cands))
	for _, cand := range cands {
		if Eligible(cand, t) {
			out = append(out, cand)
		}
	}
	return out
}
