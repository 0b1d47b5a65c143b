package capacity

import (
	"context"
	"sync"
	"time"

	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/observability"
	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/state"
)

type Options struct {
	ResetHour       int
	ResetMinute     int
	DefaultMaxDaily int
	Clock           func() time.Time
}

// Tracker owns daily slot accounting per candidate. Consume and Free are
// serialized per candidate, and every consumed slot is backed by a
// (candidate, case) claim so a slot is never freed twice for one case.
type Tracker struct {
	store state.Store
	opts  Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTracker(store state.Store, opts Options) *Tracker {
	if opts.DefaultMaxDaily <= 0 {
		opts.DefaultMaxDaily = 10
	}
	if opts.ResetHour < 0 || opts.ResetHour > 23 {
		opts.ResetHour = 6
	}
	if opts.ResetMinute < 0 || opts.ResetMinute > 59 {
		opts.ResetMinute = 0
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{store: store, opts: opts, locks: make(map[string]*sync.Mutex)}
}

// Day maps an instant to its capacity day. Before the daily reset boundary
// the previous calendar day's window is still current.
func (t *Tracker) Day(at time.Time) string {
	boundary := time.Duration(t.opts.ResetHour)*time.Hour + time.Duration(t.opts.ResetMinute)*time.Minute
	return at.Add(-boundary).Format("2006-01-02")
}

// Today returns the current capacity day.
func (t *Tracker) Today() string {
	return t.Day(t.opts.Clock())
}

func (t *Tracker) lockCandidate(candidateID string) func() {
	t.mu.Lock()
	l, ok := t.locks[candidateID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[candidateID] = l
	}
	t.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Consume reserves one of the candidate's slots for the case. It returns
// false when no capacity remains today. Re-consuming for a case that already
// holds a claim is a no-op success.
func (t *Tracker) Consume(ctx context.Context, candidateID, caseID string) (bool, error) {
	defer t.lockCandidate(candidateID)()

	day := t.Today()
	maxDaily := t.opts.DefaultMaxDaily
	if cand, ok, err := t.store.GetCandidate(ctx, candidateID); err != nil {
		return false, err
	} else if ok && cand.MaxDailyCapacity > 0 {
		maxDaily = cand.MaxDailyCapacity
	}
	if _, err := t.store.EnsureCapacity(ctx, candidateID, day, maxDaily); err != nil {
		return false, err
	}

	ok, err := t.store.DecrementCapacity(ctx, candidateID, day)
	if err != nil {
		return false, err
	}
	if !ok {
		observability.Default.IncCounter("capacity_consume_exhausted_total", map[string]string{"candidate_id": candidateID}, 1)
		return false, nil
	}
	added, err := t.store.PutClaim(ctx, state.CapacityClaim{CandidateID: candidateID, CaseID: caseID, Day: day})
	if err != nil {
		return false, err
	}
	if !added {
		// Case already holds a slot; give the one we just took back.
		_ = t.store.IncrementCapacity(ctx, candidateID, day)
		return true, nil
	}
	if err := t.store.AdjustCandidateActiveCases(ctx, candidateID, 1); err != nil {
		return false, err
	}
	observability.Default.IncCounter("capacity_consumed_total", map[string]string{"candidate_id": candidateID}, 1)
	return true, nil
}

// Free releases the slot the case holds with the candidate. Freeing without a
// claim is a no-op, which makes double-free harmless.
func (t *Tracker) Free(ctx context.Context, candidateID, caseID string) error {
	defer t.lockCandidate(candidateID)()

	claim, ok, err := t.store.DeleteClaim(ctx, candidateID, caseID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := t.store.IncrementCapacity(ctx, candidateID, claim.Day); err != nil {
		return err
	}
	if err := t.store.AdjustCandidateActiveCases(ctx, candidateID, -1); err != nil {
		return err
	}
	observability.Default.IncCounter("capacity_freed_total", map[string]string{"candidate_id": candidateID}, 1)
	return nil
}

// Reset opens a fresh capacity window for every active candidate. Prior day
// records are superseded, never destroyed.
func (t *Tracker) Reset(ctx context.Context) (int, error) {
	now := t.opts.Clock()
	count, err := t.store.ResetCapacities(ctx, t.Day(now), now)
	if err != nil {
		return 0, err
	}
	observability.Default.SetGauge("capacity_reset_candidates", nil, float64(count))
	return count, nil
}

// Snapshot returns today's capacity record for a candidate, if one exists.
func (t *Tracker) Snapshot(ctx context.Context, candidateID string) (state.CapacityRecord, bool, error) {
	return t.store.GetCapacity(ctx, candidateID, t.Today())
}
