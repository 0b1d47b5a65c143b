package allocation

import (
	"math"
	"sort"

	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/state"
)

type ScoredCandidate struct {
	state.CandidateRecord
	Score float64
}

// Score blends the three weighted performance rates and adds them as a
// tie-breaker under the dominant quality term:
//
//	performance = completion*w_completion + ontime*w_ontime + acceptance*w_acceptance
//	score       = quality_score*10 + performance/10
//
// The 10/10 scaling is a persisted-audit contract; it keeps quality_score
// differences ahead of any performance difference and the result under the
// score column ceiling. Rounded to 4 decimal places.
func Score(cand state.CandidateRecord, w ScoreWeights) float64 {
	performance := cand.CompletionRate*w.Completion + cand.OnTimeRate*w.OnTime + cand.AcceptanceRate*w.Acceptance
	raw := cand.QualityScore*w.QualityScale + performance/w.PerformanceDivisor
	return math.Round(raw*10000) / 10000
}

// Rank scores and sorts candidates best-first. Ties break on the smaller
// candidate id so allocation is reproducible for a given snapshot.
func Rank(cands []state.CandidateRecord, w ScoreWeights) []ScoredCandidate {
	out := make([]ScoredCandidate, 0, len(cands))
	for _, cand := range cands {
		out = append(out, ScoredCandidate{CandidateRecord: cand, Score: Score(cand, w)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
