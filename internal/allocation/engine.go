package allocation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/capacity"
	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/notify"
	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/observability"
	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/state"
)

const (
	CaseNew               = "new"
	CasePendingAllocation = "pending_allocation"
	CaseAllocated         = "allocated"
	CaseAccepted          = "accepted"
	CaseCancelled         = "cancelled"

	DecisionAllocated = "allocated"
	DecisionAccepted  = "accepted"
	DecisionRejected  = "rejected"
	DecisionTimeout   = "timeout"

	timeoutReason = "not accepted within window"
)

type Options struct {
	Config   Config
	Notifier notify.Notifier
	Clock    func() time.Time
}

// Engine drives the case allocation state machine: fetch candidates, filter,
// score, reserve capacity, record the decision, and on rejection or timeout
// run the next wave excluding everyone already tried.
type Engine struct {
	store    state.Store
	capacity *capacity.Tracker
	notifier notify.Notifier
	cfg      Config
	now      func() time.Time

	mu        sync.Mutex
	caseLocks map[string]*sync.Mutex
}

func NewEngine(store state.Store, tracker *capacity.Tracker, opts Options) *Engine {
	cfg := opts.Config.withDefaults()
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:     store,
		capacity:  tracker,
		notifier:  notifier,
		cfg:       cfg,
		now:       now,
		caseLocks: make(map[string]*sync.Mutex),
	}
}

// NewInMemoryEngine wires an engine over the in-memory store, mostly for
// tests and local runs.
func NewInMemoryEngine(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	store := state.NewMemoryStore()
	hour, minute := cfg.ResetClock()
	tracker := capacity.NewTracker(store, capacity.Options{
		ResetHour:       hour,
		ResetMinute:     minute,
		DefaultMaxDaily: cfg.Capacity.DefaultMaxDaily,
	})
	return NewEngine(store, tracker, Options{Config: cfg})
}

func (e *Engine) Config() Config             { return e.cfg }
func (e *Engine) Tracker() *capacity.Tracker { return e.capacity }

// lockCase serializes wave transitions per case: no two allocation attempts
// for the same case may run concurrently.
func (e *Engine) lockCase(caseID string) func() {
	e.mu.Lock()
	l, ok := e.caseLocks[caseID]
	if !ok {
		l = &sync.Mutex{}
		e.caseLocks[caseID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

type Result struct {
	CaseID             string
	CandidateID        string
	CandidateType      string
	Wave               int
	Score              float64
	AcceptanceDeadline time.Time
}

type BulkResult struct {
	Successful int
	Failed     int
	Errors     []string
}

func (e *Engine) CreateCase(ctx context.Context, id, pincode, tier, priority string) (state.CaseRecord, error) {
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	if strings.TrimSpace(priority) == "" {
		priority = "medium"
	}
	c := state.CaseRecord{
		ID:          id,
		Pincode:     strings.TrimSpace(pincode),
		PincodeTier: strings.TrimSpace(tier),
		Priority:    strings.ToLower(strings.TrimSpace(priority)),
		Status:      CaseNew,
		CreatedAt:   e.now(),
	}
	if err := e.store.CreateCase(ctx, c); err != nil {
		return state.CaseRecord{}, err
	}
	return c, nil
}

func (e *Engine) GetCase(ctx context.Context, caseID string) (state.CaseRecord, error) {
	c, ok, err := e.store.GetCase(ctx, caseID)
	if err != nil {
		return state.CaseRecord{}, err
	}
	if !ok {
		return state.CaseRecord{}, fmt.Errorf("%w: %s", ErrCaseNotFound, caseID)
	}
	return c, nil
}

func (e *Engine) Decisions(ctx context.Context, caseID string) ([]state.DecisionRecord, error) {
	if _, err := e.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return e.store.ListDecisionsByCase(ctx, caseID)
}

func (e *Engine) UpsertCandidate(ctx context.Context, cand state.CandidateRecord) error {
	if strings.TrimSpace(cand.ID) == "" {
		return fmt.Errorf("candidate id is required")
	}
	cand.Type = strings.ToLower(strings.TrimSpace(cand.Type))
	if cand.Type != "gig" && cand.Type != "vendor" {
		return fmt.Errorf("candidate type must be gig or vendor, got %q", cand.Type)
	}
	if cand.MaxDailyCapacity <= 0 {
		cand.MaxDailyCapacity = e.cfg.Capacity.DefaultMaxDaily
	}
	return e.store.UpsertCandidate(ctx, cand)
}

// Allocate runs wave 1 for a case that is new or back in pending_allocation.
func (e *Engine) Allocate(ctx context.Context, caseID string) (Result, error) {
	defer e.lockCase(caseID)()
	ctx, span := observability.StartSpan(ctx, "allocation.allocate",
		attribute.String("case.id", caseID),
	)
	defer span.End()

	c, err := e.GetCase(ctx, caseID)
	if err != nil {
		return Result{}, err
	}
	if c.Status != CaseNew && c.Status != CasePendingAllocation {
		return Result{}, fmt.Errorf("%w: case %s is %s", ErrInvalidCaseState, caseID, c.Status)
	}
	return e.runWave(ctx, c, 1, nil)
}

// runWave executes one allocation attempt. Only the single best candidate is
// tried; a capacity miss surfaces as ErrCapacityUnavailable so that one
// attempt maps to exactly one decision record.
func (e *Engine) runWave(ctx context.Context, c state.CaseRecord, wave int, exclude map[string]bool) (Result, error) {
	ctx, span := observability.StartSpan(ctx, "allocation.run_wave",
		attribute.String("case.id", c.ID),
		attribute.Int("wave", wave),
	)
	defer span.End()

	query := state.CandidateQuery{Pincode: c.Pincode, Tier: c.PincodeTier, Priority: c.Priority}
	cands, err := e.store.ListCandidatesByCoverage(ctx, query, e.capacity.Today())
	if err != nil {
		return Result{}, err
	}
	if len(cands) == 0 {
		e.countAttempt(wave, "no_candidates")
		return Result{}, fmt.Errorf("%w for case %s (pincode %s)", ErrNoCandidates, c.ID, c.Pincode)
	}
	if len(exclude) > 0 {
		kept := cands[:0]
		for _, cand := range cands {
			if !exclude[cand.ID] {
				kept = append(kept, cand)
			}
		}
		cands = kept
	}
	eligible := FilterEligible(cands, e.cfg.Thresholds)
	if len(eligible) == 0 {
		e.countAttempt(wave, "no_eligible")
		return Result{}, fmt.Errorf("%w for case %s in wave %d", ErrNoEligibleCandidates, c.ID, wave)
	}
	best := Rank(eligible, e.cfg.Weights)[0]
	span.SetAttributes(
		attribute.String("candidate.id", best.ID),
		attribute.Float64("candidate.score", best.Score),
	)

	if e.cfg.ConsumeOnAllocate() {
		ok, err := e.capacity.Consume(ctx, best.ID, c.ID)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			e.countAttempt(wave, "capacity_unavailable")
			return Result{}, fmt.Errorf("%w: candidate %s for case %s", ErrCapacityUnavailable, best.ID, c.ID)
		}
	}

	now := e.now()
	deadline := now.Add(e.cfg.AcceptanceWindow())
	decision := state.DecisionRecord{
		ID:                 uuid.NewString(),
		CaseID:             c.ID,
		CandidateID:        best.ID,
		CandidateType:      best.Type,
		Wave:               wave,
		Decision:           DecisionAllocated,
		Score:              best.Score,
		AcceptanceDeadline: deadline,
		CreatedAt:          now,
	}
	if err := e.store.AppendDecision(ctx, decision); err != nil {
		if e.cfg.ConsumeOnAllocate() {
			_ = e.capacity.Free(ctx, best.ID, c.ID)
		}
		return Result{}, err
	}

	c.Status = CaseAllocated
	c.AssigneeID = best.ID
	c.AssigneeType = best.Type
	c.Wave = wave
	c.AcceptanceDeadline = deadline
	c.AllocatedAt = now
	c.NudgedAt = time.Time{}
	if err := e.store.UpdateCase(ctx, c); err != nil {
		return Result{}, err
	}

	if err := e.notifier.NotifyAssignee(ctx, best.ID, c.ID); err != nil {
		observability.Default.IncCounter("notification_failures_total", map[string]string{"event": "case_allocated"}, 1)
	}
	e.countAttempt(wave, "allocated")

	return Result{
		CaseID:             c.ID,
		CandidateID:        best.ID,
		CandidateType:      best.Type,
		Wave:               wave,
		Score:              best.Score,
		AcceptanceDeadline: deadline,
	}, nil
}

// Accept transitions allocated → accepted. Capacity was already consumed at
// allocation time under the default consume-on-allocate policy, so no slot
// accounting happens here beyond the deferred-consume variant.
func (e *Engine) Accept(ctx context.Context, caseID, candidateID string) error {
	defer e.lockCase(caseID)()
	ctx, span := observability.StartSpan(ctx, "allocation.accept",
		attribute.String("case.id", caseID),
		attribute.String("candidate.id", candidateID),
	)
	defer span.End()

	c, err := e.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if c.Status != CaseAllocated {
		return fmt.Errorf("%w: cannot accept case %s in status %s", ErrInvalidCaseState, caseID, c.Status)
	}
	if c.AssigneeID != candidateID {
		return fmt.Errorf("%w: case %s is assigned to %s, not %s", ErrInvalidCaseState, caseID, c.AssigneeID, candidateID)
	}

	if !e.cfg.ConsumeOnAllocate() {
		ok, err := e.capacity.Consume(ctx, candidateID, caseID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: candidate %s for case %s", ErrCapacityUnavailable, candidateID, caseID)
		}
	}

	if _, _, err := e.store.ResolveDecision(ctx, caseID, DecisionAccepted, "", e.now()); err != nil {
		return err
	}

	cand, ok, err := e.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return err
	}
	if ok {
		if cand.VendorID != "" {
			c.VendorID = cand.VendorID
		} else if cand.Type == "vendor" {
			c.VendorID = cand.ID
		}
	}
	c.Status = CaseAccepted
	if err := e.store.UpdateCase(ctx, c); err != nil {
		return err
	}
	observability.Default.IncCounter("case_accepted_total", nil, 1)
	return nil
}

// Reject settles the open decision, frees the slot, and immediately runs the
// next wave. The returned error reports the reallocation outcome; the
// rejection itself has already been recorded either way.
func (e *Engine) Reject(ctx context.Context, caseID, candidateID, reason string) (Result, error) {
	defer e.lockCase(caseID)()
	return e.releaseAndReallocate(ctx, caseID, candidateID, DecisionRejected, reason)
}

// TimeoutExpired is the sweep entry point for cases whose acceptance deadline
// has passed while still allocated.
func (e *Engine) TimeoutExpired(ctx context.Context, caseID, candidateID string) (Result, error) {
	defer e.lockCase(caseID)()
	return e.releaseAndReallocate(ctx, caseID, candidateID, DecisionTimeout, timeoutReason)
}

func (e *Engine) releaseAndReallocate(ctx context.Context, caseID, candidateID, outcome, reason string) (Result, error) {
	ctx, span := observability.StartSpan(ctx, "allocation.release",
		attribute.String("case.id", caseID),
		attribute.String("candidate.id", candidateID),
		attribute.String("outcome", outcome),
	)
	defer span.End()

	c, err := e.GetCase(ctx, caseID)
	if err != nil {
		return Result{}, err
	}
	if c.Status != CaseAllocated {
		return Result{}, fmt.Errorf("%w: case %s is %s", ErrInvalidCaseState, caseID, c.Status)
	}
	if c.AssigneeID != candidateID {
		return Result{}, fmt.Errorf("%w: case %s is assigned to %s, not %s", ErrInvalidCaseState, caseID, c.AssigneeID, candidateID)
	}

	if _, _, err := e.store.ResolveDecision(ctx, caseID, outcome, reason, e.now()); err != nil {
		return Result{}, err
	}
	if err := e.capacity.Free(ctx, candidateID, caseID); err != nil {
		return Result{}, err
	}
	c.Status = CasePendingAllocation
	c.AssigneeID = ""
	c.AssigneeType = ""
	c.AcceptanceDeadline = time.Time{}
	if err := e.store.UpdateCase(ctx, c); err != nil {
		return Result{}, err
	}
	observability.Default.IncCounter("case_released_total", map[string]string{"outcome": outcome}, 1)

	return e.reallocateLocked(ctx, c)
}

// Reallocate runs the next wave for a case already in pending_allocation,
// excluding every candidate with a prior decision for the case.
func (e *Engine) Reallocate(ctx context.Context, caseID string) (Result, error) {
	defer e.lockCase(caseID)()
	c, err := e.GetCase(ctx, caseID)
	if err != nil {
		return Result{}, err
	}
	if c.Status != CasePendingAllocation {
		return Result{}, fmt.Errorf("%w: case %s is %s", ErrInvalidCaseState, caseID, c.Status)
	}
	return e.reallocateLocked(ctx, c)
}

func (e *Engine) reallocateLocked(ctx context.Context, c state.CaseRecord) (Result, error) {
	wave := c.Wave + 1
	if wave > e.cfg.MaxWaves {
		e.countAttempt(wave, "max_waves_exceeded")
		e.appendAudit(ctx, "allocation_exhausted", "system/allocator", "deny",
			fmt.Sprintf("case=%s waves=%d; manual allocation required", c.ID, c.Wave))
		return Result{}, fmt.Errorf("%w: case %s after %d waves", ErrMaxWavesExceeded, c.ID, c.Wave)
	}
	prior, err := e.store.ListDecisionsByCase(ctx, c.ID)
	if err != nil {
		return Result{}, err
	}
	exclude := make(map[string]bool, len(prior))
	for _, d := range prior {
		exclude[d.CandidateID] = true
	}
	return e.runWave(ctx, c, wave, exclude)
}

// Unallocate is the operator-triggered escape hatch outside the automatic
// wave flow: it clears the assignee and returns the case to new.
func (e *Engine) Unallocate(ctx context.Context, caseID, reason string) error {
	defer e.lockCase(caseID)()
	ctx, span := observability.StartSpan(ctx, "allocation.unallocate",
		attribute.String("case.id", caseID),
	)
	defer span.End()

	c, err := e.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if c.Status != CaseAllocated {
		return fmt.Errorf("%w: case %s is %s", ErrInvalidCaseState, caseID, c.Status)
	}
	assignee := c.AssigneeID
	if _, _, err := e.store.ResolveDecision(ctx, caseID, DecisionRejected, "manual: "+reason, e.now()); err != nil {
		return err
	}
	if err := e.capacity.Free(ctx, assignee, caseID); err != nil {
		return err
	}
	c.Status = CaseNew
	c.AssigneeID = ""
	c.AssigneeType = ""
	c.AcceptanceDeadline = time.Time{}
	c.Wave = 0
	if err := e.store.UpdateCase(ctx, c); err != nil {
		return err
	}
	e.appendAudit(ctx, "case_unallocated", "operator", "ok",
		fmt.Sprintf("case=%s candidate=%s reason=%s", caseID, assignee, reason))
	return nil
}

// AllocateMany processes cases strictly in order so that two cases never race
// for the same candidate's last slot. One failure never aborts the batch.
func (e *Engine) AllocateMany(ctx context.Context, caseIDs []string) BulkResult {
	out := BulkResult{}
	for _, id := range caseIDs {
		if _, err := e.Allocate(ctx, id); err != nil {
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("case %s: %v", id, err))
			continue
		}
		out.Successful++
	}
	observability.Default.IncCounter("bulk_allocations_total", map[string]string{"result": "success"}, float64(out.Successful))
	observability.Default.IncCounter("bulk_allocations_total", map[string]string{"result": "failure"}, float64(out.Failed))
	return out
}

// SweepTimeouts times out every allocated case whose deadline has passed. The
// engine runs no timers of its own; an external scheduler calls this.
func (e *Engine) SweepTimeouts(ctx context.Context) (int, error) {
	expired, err := e.store.ListExpiredAllocatedCases(ctx, e.now())
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, c := range expired {
		if _, err := e.TimeoutExpired(ctx, c.ID, c.AssigneeID); err != nil {
			// The timeout transition itself has been recorded; a failed
			// follow-up wave (e.g. max waves) leaves the case pending.
			observability.Default.IncCounter("sweep_reallocation_failures_total", nil, 1)
		}
		processed++
	}
	if processed > 0 {
		e.appendAudit(ctx, "timeout_sweep", "system/sweeper", "ok", fmt.Sprintf("expired=%d", processed))
	}
	return processed, nil
}

// SweepNudges reminds assignees that are sitting on an allocation past the
// nudge threshold but still inside the acceptance window.
func (e *Engine) SweepNudges(ctx context.Context) (int, error) {
	now := e.now()
	due, err := e.store.ListNudgeDueCases(ctx, now.Add(-e.cfg.NudgeAfter()), now)
	if err != nil {
		return 0, err
	}
	nudged := 0
	for _, c := range due {
		if err := e.notifier.NudgeAssignee(ctx, c.AssigneeID, c.ID); err != nil {
			observability.Default.IncCounter("notification_failures_total", map[string]string{"event": "acceptance_nudge"}, 1)
			continue
		}
		c.NudgedAt = now
		if err := e.store.UpdateCase(ctx, c); err != nil {
			return nudged, err
		}
		nudged++
	}
	return nudged, nil
}

func (e *Engine) ListAuditEvents(ctx context.Context, query state.AuditQuery) ([]state.AuditEventRecord, error) {
	return e.store.ListAuditEvents(ctx, query)
}

func (e *Engine) countAttempt(wave int, result string) {
	observability.Default.IncCounter("allocation_attempts_total", map[string]string{
		"result": result,
		"wave":   strconv.Itoa(wave),
	}, 1)
}

func (e *Engine) appendAudit(ctx context.Context, action, actor, result, details string) {
	_ = e.store.AppendAuditEvent(ctx, state.AuditEventRecord{
		Action:    action,
		Actor:     actor,
		Resource:  "allocations",
		Result:    result,
		Details:   details,
		CreatedAt: e.now(),
	})
}
