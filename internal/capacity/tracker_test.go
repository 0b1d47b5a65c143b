package capacity

import (
	"context"
	"testing"
	"time"

	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/state"
)

func newTestTracker(t *testing.T) (*Tracker, *state.MemoryStore, *time.Time) {
	t.Helper()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	store := state.NewMemoryStore()
	tracker := NewTracker(store, Options{
		ResetHour:       6,
		DefaultMaxDaily: 10,
		Clock:           func() time.Time { return now },
	})
	return tracker, store, &now
}

func seedCandidate(t *testing.T, store *state.MemoryStore, id string, maxDaily int) {
	t.Helper()
	err := store.UpsertCandidate(context.Background(), state.CandidateRecord{
		ID:               id,
		Type:             "gig",
		Pincodes:         []string{"560001"},
		MaxDailyCapacity: maxDaily,
		Active:           true,
	})
	if err != nil {
		t.Fatalf("seed candidate: %v", err)
	}
}

func TestConsumeStopsAtZero(t *testing.T) {
	tracker, store, _ := newTestTracker(t)
	seedCandidate(t, store, "cand-1", 2)

	for i, caseID := range []string{"case-1", "case-2"} {
		ok, err := tracker.Consume(context.Background(), "cand-1", caseID)
		if err != nil || !ok {
			t.Fatalf("consume %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := tracker.Consume(context.Background(), "cand-1", "case-3")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if ok {
		t.Fatalf("third consume over max_daily=2 must fail")
	}

	rec, found, err := tracker.Snapshot(context.Background(), "cand-1")
	if err != nil || !found {
		t.Fatalf("snapshot: found=%v err=%v", found, err)
	}
	if rec.Available != 0 || rec.Allocated != 2 {
		t.Fatalf("unexpected record after exhaustion: %+v", rec)
	}
	cand, _, _ := store.GetCandidate(context.Background(), "cand-1")
	if cand.ActiveCases != 2 {
		t.Fatalf("expected 2 active cases, got %d", cand.ActiveCases)
	}
}

func TestConsumeIsIdempotentPerCase(t *testing.T) {
	tracker, store, _ := newTestTracker(t)
	seedCandidate(t, store, "cand-1", 3)

	for i := 0; i < 3; i++ {
		ok, err := tracker.Consume(context.Background(), "cand-1", "case-1")
		if err != nil || !ok {
			t.Fatalf("consume repeat %d: ok=%v err=%v", i, ok, err)
		}
	}
	rec, _, _ := tracker.Snapshot(context.Background(), "cand-1")
	if rec.Available != 2 || rec.Allocated != 1 {
		t.Fatalf("repeat consume for one case must hold exactly one slot: %+v", rec)
	}
	cand, _, _ := store.GetCandidate(context.Background(), "cand-1")
	if cand.ActiveCases != 1 {
		t.Fatalf("expected 1 active case, got %d", cand.ActiveCases)
	}
}

func TestFreeWithoutClaimIsNoOp(t *testing.T) {
	tracker, store, _ := newTestTracker(t)
	seedCandidate(t, store, "cand-1", 2)

	if _, err := tracker.Consume(context.Background(), "cand-1", "case-1"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := tracker.Free(context.Background(), "cand-1", "case-1"); err != nil {
		t.Fatalf("free: %v", err)
	}
	// Second free for the same case must not push available past max.
	if err := tracker.Free(context.Background(), "cand-1", "case-1"); err != nil {
		t.Fatalf("double free: %v", err)
	}
	rec, _, _ := tracker.Snapshot(context.Background(), "cand-1")
	if rec.Available != 2 || rec.Allocated != 0 {
		t.Fatalf("double free corrupted the record: %+v", rec)
	}
	cand, _, _ := store.GetCandidate(context.Background(), "cand-1")
	if cand.ActiveCases != 0 {
		t.Fatalf("active cases must not go negative, got %d", cand.ActiveCases)
	}
}

func TestDayBoundaryBeforeResetBelongsToPreviousDay(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	if got := tracker.Day(time.Date(2025, 3, 10, 5, 59, 0, 0, time.UTC)); got != "2025-03-09" {
		t.Fatalf("05:59 must belong to the previous capacity day, got %s", got)
	}
	if got := tracker.Day(time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)); got != "2025-03-10" {
		t.Fatalf("06:00 opens the new capacity day, got %s", got)
	}
}

func TestFreeAfterDayRolloverCreditsOriginalDay(t *testing.T) {
	tracker, store, now := newTestTracker(t)
	seedCandidate(t, store, "cand-1", 2)

	if ok, err := tracker.Consume(context.Background(), "cand-1", "case-1"); err != nil || !ok {
		t.Fatalf("consume: ok=%v err=%v", ok, err)
	}
	consumedDay := tracker.Today()

	*now = now.Add(24 * time.Hour)
	if err := tracker.Free(context.Background(), "cand-1", "case-1"); err != nil {
		t.Fatalf("free: %v", err)
	}
	rec, found, err := store.GetCapacity(context.Background(), "cand-1", consumedDay)
	if err != nil || !found {
		t.Fatalf("original day record missing: found=%v err=%v", found, err)
	}
	if rec.Available != 2 {
		t.Fatalf("slot must be credited back to the day it was taken from: %+v", rec)
	}
}

func TestResetOpensFreshWindow(t *testing.T) {
	tracker, store, _ := newTestTracker(t)
	seedCandidate(t, store, "cand-1", 2)
	seedCandidate(t, store, "cand-2", 4)

	if ok, err := tracker.Consume(context.Background(), "cand-1", "case-1"); err != nil || !ok {
		t.Fatalf("consume: ok=%v err=%v", ok, err)
	}
	count, err := tracker.Reset(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 candidates reset, got %d", count)
	}
	rec, _, _ := tracker.Snapshot(context.Background(), "cand-1")
	if rec.Available != 2 || rec.Allocated != 0 {
		t.Fatalf("reset must restore the full window: %+v", rec)
	}
}

func TestConsumeUsesDefaultMaxForUnknownCandidate(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ok, err := tracker.Consume(context.Background(), "ghost", "case-1")
	if err != nil || !ok {
		t.Fatalf("consume for unknown candidate: ok=%v err=%v", ok, err)
	}
	rec, found, _ := tracker.Snapshot(context.Background(), "ghost")
	if !found || rec.MaxDaily != 10 || rec.Available != 9 {
		t.Fatalf("expected default max_daily 10 window: %+v", rec)
	}
}
