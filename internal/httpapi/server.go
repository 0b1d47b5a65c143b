package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/allocation"
	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/observability"
	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/state"
	"github.com/Awign-PM-Prod/securepath-pro-sub001/pkg/allocapi"
)

type Server struct {
	engine  *allocation.Engine
	auth    *authorizer
	limiter *allocLimiter
}

func NewServer(engine *allocation.Engine) *Server {
	return &Server{
		engine:  engine,
		auth:    newAuthorizerFromEnv(),
		limiter: newAllocLimiterFromEnv(),
	}
}

// guard authorizes the request and writes the error response itself when the
// caller is not allowed.
func (s *Server) guard(w http.ResponseWriter, r *http.Request, requiredAny ...string) (principal, bool) {
	p, status, msg := s.auth.authorize(r, requiredAny...)
	if status != http.StatusOK {
		writeError(w, status, msg)
		return principal{}, false
	}
	return p, true
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/v1/metrics", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, observability.Default.Snapshot())
	})
	r.Get("/v1/metrics/prometheus", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(observability.Default.RenderPrometheus()))
	})

	r.Post("/v1/cases", s.handleCreateCase)
	r.Get("/v1/cases/{caseID}", s.handleGetCase)
	r.Get("/v1/cases/{caseID}/decisions", s.handleDecisions)
	r.Post("/v1/cases/{caseID}/allocate", s.handleAllocate)
	r.Post("/v1/cases/{caseID}/accept", s.handleAccept)
	r.Post("/v1/cases/{caseID}/reject", s.handleReject)
	r.Post("/v1/cases/{caseID}/unallocate", s.handleUnallocate)
	r.Post("/v1/allocations/bulk", s.handleBulkAllocate)

	r.Post("/v1/candidates", s.handleUpsertCandidate)
	r.Get("/v1/candidates/{candidateID}/capacity", s.handleCapacity)

	r.Get("/v1/audit", s.handleAudit)

	return r
}

func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.guard(w, r, "allocate"); !ok {
		return
	}
	var req allocapi.CreateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Pincode) == "" {
		writeError(w, http.StatusBadRequest, "pincode is required")
		return
	}
	c, err := s.engine.CreateCase(r.Context(), req.CaseID, req.Pincode, req.Tier, req.Priority)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, caseResponse(c))
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.guard(w, r, "read", "allocate"); !ok {
		return
	}
	c, err := s.engine.GetCase(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caseResponse(c))
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.guard(w, r, "read", "allocate"); !ok {
		return
	}
	caseID := chi.URLParam(r, "caseID")
	decisions, err := s.engine.Decisions(r.Context(), caseID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := allocapi.DecisionsResponse{CaseID: caseID, Decisions: make([]allocapi.DecisionResponse, 0, len(decisions))}
	for _, d := range decisions {
		out.Decisions = append(out.Decisions, allocapi.DecisionResponse{
			ID:                 d.ID,
			CaseID:             d.CaseID,
			CandidateID:        d.CandidateID,
			CandidateType:      d.CandidateType,
			Wave:               d.Wave,
			Decision:           d.Decision,
			Score:              d.Score,
			AcceptanceDeadline: formatTime(d.AcceptanceDeadline),
			Reason:             d.Reason,
			CreatedAt:          formatTime(d.CreatedAt),
			DecidedAt:          formatTime(d.DecidedAt),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	p, ok := s.guard(w, r, "allocate")
	if !ok {
		return
	}
	if !s.limiter.allow(p.id, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "allocation rate limit exceeded")
		return
	}
	res, err := s.engine.Allocate(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, allocateResponse(res))
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.guard(w, r, "allocate"); !ok {
		return
	}
	var req allocapi.AcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.CandidateID) == "" {
		writeError(w, http.StatusBadRequest, "candidate_id is required")
		return
	}
	if err := s.engine.Accept(r.Context(), chi.URLParam(r, "caseID"), req.CandidateID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.guard(w, r, "allocate"); !ok {
		return
	}
	var req allocapi.RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.CandidateID) == "" {
		writeError(w, http.StatusBadRequest, "candidate_id is required")
		return
	}
	res, err := s.engine.Reject(r.Context(), chi.URLParam(r, "caseID"), req.CandidateID, req.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, allocateResponse(res))
}

func (s *Server) handleUnallocate(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.guard(w, r, "operator"); !ok {
		return
	}
	var req allocapi.UnallocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.engine.Unallocate(r.Context(), chi.URLParam(r, "caseID"), req.Reason); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unallocated"})
}

func (s *Server) handleBulkAllocate(w http.ResponseWriter, r *http.Request) {
	p, ok := s.guard(w, r, "allocate")
	if !ok {
		return
	}
	if !s.limiter.allow(p.id, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "allocation rate limit exceeded")
		return
	}
	var req allocapi.BulkAllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.CaseIDs) == 0 {
		writeError(w, http.StatusBadRequest, "case_ids is required")
		return
	}
	res := s.engine.AllocateMany(r.Context(), req.CaseIDs)
	writeJSON(w, http.StatusOK, allocapi.BulkAllocateResponse{
		Successful: res.Successful,
		Failed:     res.Failed,
		Errors:     res.Errors,
	})
}

func (s *Server) handleUpsertCandidate(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.guard(w, r, "operator"); !ok {
		return
	}
	var req allocapi.UpsertCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	cand := state.CandidateRecord{
		ID:               req.CandidateID,
		Type:             req.Type,
		VendorID:         req.VendorID,
		Name:             req.Name,
		Pincodes:         req.Pincodes,
		Tiers:            req.Tiers,
		QualityScore:     req.QualityScore,
		CompletionRate:   req.CompletionRate,
		OnTimeRate:       req.OnTimeRate,
		AcceptanceRate:   req.AcceptanceRate,
		MaxDailyCapacity: req.MaxDailyCapacity,
		Active:           active,
	}
	if err := s.engine.UpsertCandidate(r.Context(), cand); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCapacity(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.guard(w, r, "read", "allocate"); !ok {
		return
	}
	candidateID := chi.URLParam(r, "candidateID")
	rec, ok, err := s.engine.Tracker().Snapshot(r.Context(), candidateID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no capacity record for today")
		return
	}
	writeJSON(w, http.StatusOK, allocapi.CapacityResponse{
		CandidateID:      rec.CandidateID,
		Day:              rec.Day,
		MaxDailyCapacity: rec.MaxDaily,
		CurrentAvailable: rec.Available,
		CasesAllocated:   rec.Allocated,
		LastReset:        formatTime(rec.LastReset),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.guard(w, r, "operator"); !ok {
		return
	}
	q := state.AuditQuery{
		Action: r.URL.Query().Get("action"),
		Actor:  r.URL.Query().Get("actor"),
		Result: r.URL.Query().Get("result"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Offset = n
		}
	}
	events, err := s.engine.ListAuditEvents(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func caseResponse(c state.CaseRecord) allocapi.CaseResponse {
	return allocapi.CaseResponse{
		CaseID:             c.ID,
		Pincode:            c.Pincode,
		Tier:               c.PincodeTier,
		Priority:           c.Priority,
		Status:             c.Status,
		AssigneeID:         c.AssigneeID,
		AssigneeType:       c.AssigneeType,
		VendorID:           c.VendorID,
		Wave:               c.Wave,
		AcceptanceDeadline: formatTime(c.AcceptanceDeadline),
		CreatedAt:          formatTime(c.CreatedAt),
		AllocatedAt:        formatTime(c.AllocatedAt),
		UpdatedAt:          formatTime(c.UpdatedAt),
	}
}

func allocateResponse(res allocation.Result) allocapi.AllocateResponse {
	return allocapi.AllocateResponse{
		CaseID:             res.CaseID,
		CandidateID:        res.CandidateID,
		CandidateType:      res.CandidateType,
		Wave:               res.Wave,
		Score:              res.Score,
		AcceptanceDeadline: formatTime(res.AcceptanceDeadline),
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, allocation.ErrCaseNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, allocation.ErrInvalidCaseState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, allocation.ErrNoCandidates),
		errors.Is(err, allocation.ErrNoEligibleCandidates),
		errors.Is(err, allocation.ErrCapacityUnavailable),
		errors.Is(err, allocation.ErrMaxWavesExceeded):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, allocapi.ErrorResponse{Error: msg})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
