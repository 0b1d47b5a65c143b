package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

type MemoryStore struct {
	mu         sync.Mutex
	cases      map[string]CaseRecord
	candidates map[string]CandidateRecord
	capacities map[string]CapacityRecord
	claims     map[string]CapacityClaim
	decisions  map[string][]DecisionRecord
	audits     []AuditEventRecord
	nextID     int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:      make(map[string]CaseRecord),
		candidates: make(map[string]CandidateRecord),
		capacities: make(map[string]CapacityRecord),
		claims:     make(map[string]CapacityClaim),
		decisions:  make(map[string][]DecisionRecord),
		audits:     make([]AuditEventRecord, 0, 128),
		nextID:     1,
	}
}

func capacityKey(candidateID, day string) string { return candidateID + "|" + day }
func claimKey(candidateID, caseID string) string { return candidateID + "|" + caseID }

func (m *MemoryStore) CreateCase(_ context.Context, c CaseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.cases[c.ID] = c
	return nil
}

func (m *MemoryStore) GetCase(_ context.Context, caseID string) (CaseRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[caseID]
	return c, ok, nil
}

func (m *MemoryStore) UpdateCase(_ context.Context, c CaseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.UpdatedAt = time.Now().UTC()
	m.cases[c.ID] = c
	return nil
}

func (m *MemoryStore) ListCasesByStatus(_ context.Context, status string) ([]CaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CaseRecord, 0, 16)
	for _, c := range m.cases {
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListExpiredAllocatedCases(_ context.Context, now time.Time) ([]CaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CaseRecord, 0)
	for _, c := range m.cases {
		if c.Status != "allocated" || c.AcceptanceDeadline.IsZero() {
			continue
		}
		if c.AcceptanceDeadline.Before(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListNudgeDueCases(_ context.Context, allocatedBefore, now time.Time) ([]CaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CaseRecord, 0)
	for _, c := range m.cases {
		if c.Status != "allocated" || !c.NudgedAt.IsZero() {
			continue
		}
		if c.AllocatedAt.IsZero() || !c.AllocatedAt.Before(allocatedBefore) {
			continue
		}
		if !c.AcceptanceDeadline.IsZero() && c.AcceptanceDeadline.Before(now) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpsertCandidate(_ context.Context, cand CandidateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.candidates[cand.ID]; ok {
		cand.ActiveCases = existing.ActiveCases
	}
	cand.UpdatedAt = time.Now().UTC()
	m.candidates[cand.ID] = cand
	return nil
}

func (m *MemoryStore) GetCandidate(_ context.Context, candidateID string) (CandidateRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cand, ok := m.candidates[candidateID]
	return cand, ok, nil
}

func (m *MemoryStore) ListCandidatesByCoverage(_ context.Context, q CandidateQuery, day string) ([]CandidateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CandidateRecord, 0, 16)
	for _, cand := range m.candidates {
		if !matchesCoverage(cand, q) {
			continue
		}
		cand.CapacityAvailable = cand.MaxDailyCapacity
		if rec, ok := m.capacities[capacityKey(cand.ID, day)]; ok {
			cand.CapacityAvailable = rec.Available
		}
		out = append(out, cand)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// matchesCoverage implements the breadth policy: a candidate must cover the
// case pincode directly; urgent cases additionally match on tier coverage.
func matchesCoverage(cand CandidateRecord, q CandidateQuery) bool {
	if !cand.Active {
		return false
	}
	if containsFold(cand.Pincodes, q.Pincode) {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(q.Priority), "urgent") && q.Tier != "" {
		return containsFold(cand.Tiers, q.Tier)
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, x := range list {
		if strings.EqualFold(strings.TrimSpace(x), strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) AdjustCandidateActiveCases(_ context.Context, candidateID string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cand, ok := m.candidates[candidateID]
	if !ok {
		return nil
	}
	cand.ActiveCases += delta
	if cand.ActiveCases < 0 {
		cand.ActiveCases = 0
	}
	cand.UpdatedAt = time.Now().UTC()
	m.candidates[candidateID] = cand
	return nil
}

func (m *MemoryStore) EnsureCapacity(_ context.Context, candidateID, day string, maxDaily int) (CapacityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := capacityKey(candidateID, day)
	if rec, ok := m.capacities[key]; ok {
		return rec, nil
	}
	rec := CapacityRecord{
		CandidateID: candidateID,
		Day:         day,
		MaxDaily:    maxDaily,
		Available:   maxDaily,
		Allocated:   0,
		LastReset:   time.Now().UTC(),
		Active:      true,
	}
	m.capacities[key] = rec
	return rec, nil
}

func (m *MemoryStore) GetCapacity(_ context.Context, candidateID, day string) (CapacityRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.capacities[capacityKey(candidateID, day)]
	return rec, ok, nil
}

func (m *MemoryStore) DecrementCapacity(_ context.Context, candidateID, day string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := capacityKey(candidateID, day)
	rec, ok := m.capacities[key]
	if !ok || rec.Available <= 0 {
		return false, nil
	}
	rec.Available--
	rec.Allocated++
	m.capacities[key] = rec
	return true, nil
}

func (m *MemoryStore) IncrementCapacity(_ context.Context, candidateID, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := capacityKey(candidateID, day)
	rec, ok := m.capacities[key]
	if !ok {
		return nil
	}
	if rec.Available < rec.MaxDaily {
		rec.Available++
	}
	if rec.Allocated > 0 {
		rec.Allocated--
	}
	m.capacities[key] = rec
	return nil
}

func (m *MemoryStore) ResetCapacities(_ context.Context, day string, resetAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, cand := range m.candidates {
		if !cand.Active || cand.MaxDailyCapacity <= 0 {
			continue
		}
		m.capacities[capacityKey(cand.ID, day)] = CapacityRecord{
			CandidateID: cand.ID,
			Day:         day,
			MaxDaily:    cand.MaxDailyCapacity,
			Available:   cand.MaxDailyCapacity,
			Allocated:   0,
			LastReset:   resetAt,
			Active:      true,
		}
		count++
	}
	return count, nil
}

func (m *MemoryStore) PutClaim(_ context.Context, claim CapacityClaim) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := claimKey(claim.CandidateID, claim.CaseID)
	if _, ok := m.claims[key]; ok {
		return false, nil
	}
	if claim.CreatedAt.IsZero() {
		claim.CreatedAt = time.Now().UTC()
	}
	m.claims[key] = claim
	return true, nil
}

func (m *MemoryStore) DeleteClaim(_ context.Context, candidateID, caseID string) (CapacityClaim, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := claimKey(candidateID, caseID)
	claim, ok := m.claims[key]
	if !ok {
		return CapacityClaim{}, false, nil
	}
	delete(m.claims, key)
	return claim, true, nil
}

func (m *MemoryStore) AppendDecision(_ context.Context, d DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	m.decisions[d.CaseID] = append(m.decisions[d.CaseID], d)
	return nil
}

func (m *MemoryStore) ResolveDecision(_ context.Context, caseID, outcome, reason string, decidedAt time.Time) (DecisionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.decisions[caseID]
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Decision != "allocated" {
			continue
		}
		rows[i].Decision = outcome
		rows[i].Reason = reason
		rows[i].DecidedAt = decidedAt
		m.decisions[caseID] = rows
		return rows[i], true, nil
	}
	return DecisionRecord{}, false, nil
}

func (m *MemoryStore) ListDecisionsByCase(_ context.Context, caseID string) ([]DecisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.decisions[caseID]
	out := make([]DecisionRecord, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Wave < out[j].Wave })
	return out, nil
}

func (m *MemoryStore) AppendAuditEvent(_ context.Context, event AuditEventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(m.audits) > 0 {
		event.PrevHash = m.audits[len(m.audits)-1].EventHash
	}
	event.EventHash = computeAuditHash(event)
	event.ID = m.nextID
	m.nextID++
	m.audits = append(m.audits, event)
	return nil
}

func (m *MemoryStore) ListAuditEvents(_ context.Context, query AuditQuery) ([]AuditEventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := query.Limit
	offset := query.Offset
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	filtered := make([]AuditEventRecord, 0, len(m.audits))
	for _, a := range m.audits {
		if query.Action != "" && a.Action != query.Action {
			continue
		}
		if query.Actor != "" && a.Actor != query.Actor {
			continue
		}
		if query.Result != "" && a.Result != query.Result {
			continue
		}
		if !query.From.IsZero() && a.CreatedAt.Before(query.From) {
			continue
		}
		if !query.To.IsZero() && a.CreatedAt.After(query.To) {
			continue
		}
		filtered = append(filtered, a)
	}
	if offset > len(filtered) {
		offset = len(filtered)
	}
	items := filtered[offset:]
	if limit < len(items) {
		items = items[:limit]
	}
	out := make([]AuditEventRecord, 0, len(items))
	// Newest first for operator-facing endpoint.
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, items[i])
	}
	return out, nil
}

func computeAuditHash(event AuditEventRecord) string {
	payload := map[string]any{
		"action":       event.Action,
		"actor":        event.Actor,
		"remote_addr":  event.RemoteAddr,
		"resource":     event.Resource,
		"payload_hash": event.PayloadHash,
		"prev_hash":    event.PrevHash,
		"result":       event.Result,
		"details":      event.Details,
		"created_at":   event.CreatedAt.UnixNano(),
	}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
