package allocation

import (
	"testing"

	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/state"
)

func defaultWeights() ScoreWeights {
	return Default().Weights
}

func TestScoreQualityDominatesPerformance(t *testing.T) {
	cand := state.CandidateRecord{
		ID:             "cand-x",
		QualityScore:   0.90,
		CompletionRate: 0.8,
		OnTimeRate:     0.8,
		AcceptanceRate: 0.9,
	}
	got := Score(cand, defaultWeights())
	if got != 9.082 {
		t.Fatalf("expected score 9.082, got %v", got)
	}

	// A candidate with perfect performance but lower quality must still lose.
	lowerQuality := state.CandidateRecord{
		ID:             "cand-y",
		QualityScore:   0.89,
		CompletionRate: 1.0,
		OnTimeRate:     1.0,
		AcceptanceRate: 1.0,
	}
	if Score(lowerQuality, defaultWeights()) >= got {
		t.Fatalf("quality 0.89 candidate must score below quality 0.90 candidate")
	}
}

func TestScoreRoundsToFourDecimals(t *testing.T) {
	cand := state.CandidateRecord{
		QualityScore:   0.123456,
		CompletionRate: 0.333333,
		OnTimeRate:     0.333333,
		AcceptanceRate: 0.333333,
	}
	got := Score(cand, defaultWeights())
	if got != 1.2679 {
		t.Fatalf("expected 1.2679, got %v", got)
	}
}

func TestRankTieBreaksOnSmallerCandidateID(t *testing.T) {
	a := state.CandidateRecord{ID: "cand-b", QualityScore: 0.90, CompletionRate: 0.8, OnTimeRate: 0.8, AcceptanceRate: 0.9}
	b := state.CandidateRecord{ID: "cand-a", QualityScore: 0.90, CompletionRate: 0.8, OnTimeRate: 0.8, AcceptanceRate: 0.9}
	ranked := Rank([]state.CandidateRecord{a, b}, defaultWeights())
	if len(ranked) != 2 {
		t.Fatalf("expected 2 ranked candidates, got %d", len(ranked))
	}
	if ranked[0].Score != ranked[1].Score {
		t.Fatalf("expected identical scores, got %v vs %v", ranked[0].Score, ranked[1].Score)
	}
	if ranked[0].ID != "cand-a" {
		t.Fatalf("expected cand-a to win the tie, got %s", ranked[0].ID)
	}
}

func TestRankOrdersBestFirst(t *testing.T) {
	cands := []state.CandidateRecord{
		{ID: "low", QualityScore: 0.5, CompletionRate: 0.5, OnTimeRate: 0.5, AcceptanceRate: 0.5},
		{ID: "high", QualityScore: 0.95, CompletionRate: 0.9, OnTimeRate: 0.9, AcceptanceRate: 0.9},
		{ID: "mid", QualityScore: 0.7, CompletionRate: 0.9, OnTimeRate: 0.9, AcceptanceRate: 0.9},
	}
	ranked := Rank(cands, defaultWeights())
	if ranked[0].ID != "high" || ranked[1].ID != "mid" || ranked[2].ID != "low" {
		t.Fatalf("unexpected order: %s, %s, %s", ranked[0].ID, ranked[1].ID, ranked[2].ID)
	}
}
