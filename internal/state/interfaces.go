package state

import (
	"context"
	"time"
)

type Store interface {
	CreateCase(ctx context.Context, c CaseRecord) error
	GetCase(ctx context.Context, caseID string) (CaseRecord, bool, error)
	UpdateCase(ctx context.Context, c CaseRecord) error
	ListCasesByStatus(ctx context.Context, status string) ([]CaseRecord, error)
	ListExpiredAllocatedCases(ctx context.Context, now time.Time) ([]CaseRecord, error)
	ListNudgeDueCases(ctx context.Context, allocatedBefore, now time.Time) ([]CaseRecord, error)

	UpsertCandidate(ctx context.Context, cand CandidateRecord) error
	GetCandidate(ctx context.Context, candidateID string) (CandidateRecord, bool, error)
	ListCandidatesByCoverage(ctx context.Context, q CandidateQuery, day string) ([]CandidateRecord, error)
	AdjustCandidateActiveCases(ctx context.Context, candidateID string, delta int) error

	EnsureCapacity(ctx context.Context, candidateID, day string, maxDaily int) (CapacityRecord, error)
	GetCapacity(ctx context.Context, candidateID, day string) (CapacityRecord, bool, error)
	// DecrementCapacity is the single conditional decrement guarding consume:
	// it succeeds only while Available > 0.
	DecrementCapacity(ctx context.Context, candidateID, day string) (bool, error)
	// IncrementCapacity frees one slot, clamped to MaxDaily.
	IncrementCapacity(ctx context.Context, candidateID, day string) error
	ResetCapacities(ctx context.Context, day string, resetAt time.Time) (int, error)
	PutClaim(ctx context.Context, claim CapacityClaim) (bool, error)
	DeleteClaim(ctx context.Context, candidateID, caseID string) (CapacityClaim, bool, error)

	AppendDecision(ctx context.Context, d DecisionRecord) error
	// ResolveDecision settles the open "allocated" row for the case. Each row
	// is settled at most once; rows are otherwise immutable.
	ResolveDecision(ctx context.Context, caseID, outcome, reason string, decidedAt time.Time) (DecisionRecord, bool, error)
	ListDecisionsByCase(ctx context.Context, caseID string) ([]DecisionRecord, error)

	AppendAuditEvent(ctx context.Context, event AuditEventRecord) error
	ListAuditEvents(ctx context.Context, query AuditQuery) ([]AuditEventRecord, error)
}
