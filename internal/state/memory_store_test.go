package state

import (
	"context"
	"testing"
	"time"
)

func seedCoverageCandidates(t *testing.T, m *MemoryStore) {
	t.Helper()
	cands := []CandidateRecord{
		{ID: "direct", Type: "gig", Pincodes: []string{"560001"}, MaxDailyCapacity: 5, Active: true},
		{ID: "tier-only", Type: "vendor", Pincodes: []string{"110011"}, Tiers: []string{"tier-2"}, MaxDailyCapacity: 5, Active: true},
		{ID: "inactive", Type: "gig", Pincodes: []string{"560001"}, MaxDailyCapacity: 5, Active: false},
	}
	for _, cand := range cands {
		if err := m.UpsertCandidate(context.Background(), cand); err != nil {
			t.Fatalf("seed %s: %v", cand.ID, err)
		}
	}
}

func TestCoverageMatchesPincodeDirectly(t *testing.T) {
	m := NewMemoryStore()
	seedCoverageCandidates(t, m)

	out, err := m.ListCandidatesByCoverage(context.Background(), CandidateQuery{Pincode: "560001", Tier: "tier-2", Priority: "medium"}, "2025-03-10")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || out[0].ID != "direct" {
		t.Fatalf("medium priority must match pincode only, got %+v", out)
	}
}

func TestCoverageUrgentWidensToTier(t *testing.T) {
	m := NewMemoryStore()
	seedCoverageCandidates(t, m)

	out, err := m.ListCandidatesByCoverage(context.Background(), CandidateQuery{Pincode: "560001", Tier: "tier-2", Priority: "urgent"}, "2025-03-10")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 || out[0].ID != "direct" || out[1].ID != "tier-only" {
		t.Fatalf("urgent must widen to tier coverage, got %+v", out)
	}
}

func TestCoverageReportsAvailableCapacityForDay(t *testing.T) {
	m := NewMemoryStore()
	seedCoverageCandidates(t, m)
	day := "2025-03-10"

	out, _ := m.ListCandidatesByCoverage(context.Background(), CandidateQuery{Pincode: "560001"}, day)
	if len(out) != 1 || out[0].CapacityAvailable != 5 {
		t.Fatalf("without a record, capacity defaults to max_daily: %+v", out)
	}

	if _, err := m.EnsureCapacity(context.Background(), "direct", day, 5); err != nil {
		t.Fatalf("ensure capacity: %v", err)
	}
	if ok, err := m.DecrementCapacity(context.Background(), "direct", day); err != nil || !ok {
		t.Fatalf("decrement: ok=%v err=%v", ok, err)
	}
	out, _ = m.ListCandidatesByCoverage(context.Background(), CandidateQuery{Pincode: "560001"}, day)
	if out[0].CapacityAvailable != 4 {
		t.Fatalf("expected 4 available, got %d", out[0].CapacityAvailable)
	}
}

func TestDecrementIsConditional(t *testing.T) {
	m := NewMemoryStore()
	day := "2025-03-10"
	if _, err := m.EnsureCapacity(context.Background(), "cand-1", day, 1); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if ok, _ := m.DecrementCapacity(context.Background(), "cand-1", day); !ok {
		t.Fatalf("first decrement must succeed")
	}
	if ok, _ := m.DecrementCapacity(context.Background(), "cand-1", day); ok {
		t.Fatalf("decrement at zero must report failure, not go negative")
	}
	rec, _, _ := m.GetCapacity(context.Background(), "cand-1", day)
	if rec.Available != 0 || rec.Allocated != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// Increment clamps at max_daily.
	_ = m.IncrementCapacity(context.Background(), "cand-1", day)
	_ = m.IncrementCapacity(context.Background(), "cand-1", day)
	rec, _, _ = m.GetCapacity(context.Background(), "cand-1", day)
	if rec.Available != 1 {
		t.Fatalf("increment must clamp at max_daily: %+v", rec)
	}
}

func TestClaimsAreUniquePerCandidateCase(t *testing.T) {
	m := NewMemoryStore()
	claim := CapacityClaim{CandidateID: "cand-1", CaseID: "case-1", Day: "2025-03-10"}
	if added, _ := m.PutClaim(context.Background(), claim); !added {
		t.Fatalf("first claim must be added")
	}
	if added, _ := m.PutClaim(context.Background(), claim); added {
		t.Fatalf("duplicate claim must be refused")
	}
	got, ok, _ := m.DeleteClaim(context.Background(), "cand-1", "case-1")
	if !ok || got.Day != "2025-03-10" {
		t.Fatalf("delete must return the stored claim: ok=%v %+v", ok, got)
	}
	if _, ok, _ := m.DeleteClaim(context.Background(), "cand-1", "case-1"); ok {
		t.Fatalf("second delete must report absence")
	}
}

func TestResolveDecisionTargetsLatestOpenRow(t *testing.T) {
	m := NewMemoryStore()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	rows := []DecisionRecord{
		{ID: "d1", CaseID: "case-1", CandidateID: "cand-1", Wave: 1, Decision: "allocated", CreatedAt: base},
		{ID: "d2", CaseID: "case-1", CandidateID: "cand-2", Wave: 2, Decision: "allocated", CreatedAt: base.Add(time.Minute)},
	}
	for _, d := range rows {
		if err := m.AppendDecision(context.Background(), d); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	resolved, ok, err := m.ResolveDecision(context.Background(), "case-1", "rejected", "busy", base.Add(2*time.Minute))
	if err != nil || !ok {
		t.Fatalf("resolve: ok=%v err=%v", ok, err)
	}
	if resolved.ID != "d2" {
		t.Fatalf("resolve must hit the newest open row, got %s", resolved.ID)
	}

	got, _ := m.ListDecisionsByCase(context.Background(), "case-1")
	if got[0].Decision != "allocated" || got[1].Decision != "rejected" {
		t.Fatalf("only the targeted row may change: %+v", got)
	}
	if got[1].Reason != "busy" || got[1].DecidedAt.IsZero() {
		t.Fatalf("resolution metadata missing: %+v", got[1])
	}

	if _, ok, _ := m.ResolveDecision(context.Background(), "case-2", "rejected", "", base); ok {
		t.Fatalf("resolving a case without open rows must report false")
	}
}

func TestExpiredAndNudgeDueListings(t *testing.T) {
	m := NewMemoryStore()
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	cases := []CaseRecord{
		{ID: "expired", Status: "allocated", AssigneeID: "cand-1", AllocatedAt: now.Add(-40 * time.Minute), AcceptanceDeadline: now.Add(-10 * time.Minute)},
		{ID: "fresh", Status: "allocated", AssigneeID: "cand-2", AllocatedAt: now.Add(-5 * time.Minute), AcceptanceDeadline: now.Add(25 * time.Minute)},
		{ID: "due-nudge", Status: "allocated", AssigneeID: "cand-3", AllocatedAt: now.Add(-20 * time.Minute), AcceptanceDeadline: now.Add(10 * time.Minute)},
		{ID: "already-nudged", Status: "allocated", AssigneeID: "cand-4", AllocatedAt: now.Add(-20 * time.Minute), AcceptanceDeadline: now.Add(10 * time.Minute), NudgedAt: now.Add(-time.Minute)},
		{ID: "accepted", Status: "accepted"},
	}
	for _, c := range cases {
		if err := m.CreateCase(context.Background(), c); err != nil {
			t.Fatalf("create %s: %v", c.ID, err)
		}
	}

	expired, err := m.ListExpiredAllocatedCases(context.Background(), now)
	if err != nil {
		t.Fatalf("expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "expired" {
		t.Fatalf("unexpected expired set: %+v", expired)
	}

	due, err := m.ListNudgeDueCases(context.Background(), now.Add(-15*time.Minute), now)
	if err != nil {
		t.Fatalf("nudge due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "due-nudge" {
		t.Fatalf("unexpected nudge set: %+v", due)
	}
}

func TestAuditEventsAreHashChained(t *testing.T) {
	m := NewMemoryStore()
	events := []AuditEventRecord{
		{Action: "case_unallocated", Actor: "operator", Resource: "allocations", Result: "ok", Details: "case=1"},
		{Action: "timeout_sweep", Actor: "system/sweeper", Resource: "allocations", Result: "ok", Details: "expired=3"},
	}
	for _, ev := range events {
		if err := m.AppendAuditEvent(context.Background(), ev); err != nil {
			t.Fatalf("append audit: %v", err)
		}
	}

	all, err := m.ListAuditEvents(context.Background(), AuditQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 events, got %d", len(all))
	}
	// Newest first.
	if all[0].Action != "timeout_sweep" {
		t.Fatalf("expected newest event first, got %s", all[0].Action)
	}
	first, second := all[1], all[0]
	if first.PrevHash != "" || first.EventHash == "" {
		t.Fatalf("chain head malformed: %+v", first)
	}
	if second.PrevHash != first.EventHash {
		t.Fatalf("chain broken: prev=%s want=%s", second.PrevHash, first.EventHash)
	}

	filtered, _ := m.ListAuditEvents(context.Background(), AuditQuery{Actor: "operator"})
	if len(filtered) != 1 || filtered[0].Action != "case_unallocated" {
		t.Fatalf("actor filter failed: %+v", filtered)
	}
}
