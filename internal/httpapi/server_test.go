package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/allocation"
	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/state"
	"github.com/Awign-PM-Prod/securepath-pro-sub001/pkg/allocapi"
)

func newTestServer(t *testing.T) (*allocation.Engine, http.Handler) {
	t.Helper()
	engine := allocation.NewInMemoryEngine(allocation.Default())
	return engine, NewServer(engine).Router()
}

func seedCandidate(t *testing.T, engine *allocation.Engine, id string) {
	t.Helper()
	err := engine.UpsertCandidate(context.Background(), state.CandidateRecord{
		ID:               id,
		Type:             "gig",
		Pincodes:         []string{"560001"},
		QualityScore:     0.9,
		CompletionRate:   0.8,
		OnTimeRate:       0.8,
		AcceptanceRate:   0.9,
		MaxDailyCapacity: 5,
		Active:           true,
	})
	if err != nil {
		t.Fatalf("seed candidate: %v", err)
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload := []byte("{}")
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAllocateAcceptFlow(t *testing.T) {
	engine, router := newTestServer(t)
	seedCandidate(t, engine, "cand-1")

	rec := doJSON(t, router, http.MethodPost, "/v1/cases", allocapi.CreateCaseRequest{
		CaseID:  "case-1",
		Pincode: "560001",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create case: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/cases/case-1/allocate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("allocate: status %d body %s", rec.Code, rec.Body.String())
	}
	var alloc allocapi.AllocateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &alloc); err != nil {
		t.Fatalf("decode allocate response: %v", err)
	}
	if alloc.CandidateID != "cand-1" || alloc.Wave != 1 || alloc.Score != 9.082 {
		t.Fatalf("unexpected allocation: %+v", alloc)
	}
	if alloc.AcceptanceDeadline == "" {
		t.Fatalf("allocate response must carry the acceptance deadline")
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/cases/case-1/accept", allocapi.AcceptRequest{CandidateID: "cand-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/cases/case-1", nil)
	var got allocapi.CaseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode case: %v", err)
	}
	if got.Status != "accepted" || got.AssigneeID != "cand-1" {
		t.Fatalf("unexpected case state: %+v", got)
	}
}

func TestRejectReturnsNextWave(t *testing.T) {
	engine, router := newTestServer(t)
	seedCandidate(t, engine, "cand-1")
	seedCandidate(t, engine, "cand-2")

	doJSON(t, router, http.MethodPost, "/v1/cases", allocapi.CreateCaseRequest{CaseID: "case-1", Pincode: "560001"})
	doJSON(t, router, http.MethodPost, "/v1/cases/case-1/allocate", nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/cases/case-1/reject", allocapi.RejectRequest{CandidateID: "cand-1", Reason: "unavailable"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reject: status %d body %s", rec.Code, rec.Body.String())
	}
	var alloc allocapi.AllocateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &alloc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if alloc.CandidateID != "cand-2" || alloc.Wave != 2 {
		t.Fatalf("expected wave 2 reallocation, got %+v", alloc)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/cases/case-1/decisions", nil)
	var decisions allocapi.DecisionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &decisions); err != nil {
		t.Fatalf("decode decisions: %v", err)
	}
	if len(decisions.Decisions) != 2 || decisions.Decisions[0].Decision != "rejected" {
		t.Fatalf("unexpected decision log: %+v", decisions.Decisions)
	}
}

func TestEngineErrorStatusMapping(t *testing.T) {
	engine, router := newTestServer(t)
	seedCandidate(t, engine, "cand-1")

	// Unknown case: 404.
	if rec := doJSON(t, router, http.MethodGet, "/v1/cases/nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown case, got %d", rec.Code)
	}
	// Accept on a case that is not allocated: 409.
	doJSON(t, router, http.MethodPost, "/v1/cases", allocapi.CreateCaseRequest{CaseID: "case-1", Pincode: "560001"})
	if rec := doJSON(t, router, http.MethodPost, "/v1/cases/case-1/accept", allocapi.AcceptRequest{CandidateID: "cand-1"}); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for invalid state, got %d", rec.Code)
	}
	// No candidate covers the pincode: 422.
	doJSON(t, router, http.MethodPost, "/v1/cases", allocapi.CreateCaseRequest{CaseID: "case-2", Pincode: "999999"})
	if rec := doJSON(t, router, http.MethodPost, "/v1/cases/case-2/allocate", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for no candidates, got %d", rec.Code)
	}
	// Validation failures: 400.
	if rec := doJSON(t, router, http.MethodPost, "/v1/cases", allocapi.CreateCaseRequest{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing pincode, got %d", rec.Code)
	}
	if rec := doJSON(t, router, http.MethodPost, "/v1/cases/case-1/reject", allocapi.RejectRequest{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing candidate_id, got %d", rec.Code)
	}
	if rec := doJSON(t, router, http.MethodPost, "/v1/candidates", allocapi.UpsertCandidateRequest{CandidateID: "x", Type: "robot"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad candidate type, got %d", rec.Code)
	}
}

func TestBulkAllocateEndpoint(t *testing.T) {
	engine, router := newTestServer(t)
	seedCandidate(t, engine, "cand-1")

	doJSON(t, router, http.MethodPost, "/v1/cases", allocapi.CreateCaseRequest{CaseID: "case-1", Pincode: "560001"})
	doJSON(t, router, http.MethodPost, "/v1/cases", allocapi.CreateCaseRequest{CaseID: "case-2", Pincode: "999999"})

	if rec := doJSON(t, router, http.MethodPost, "/v1/allocations/bulk", allocapi.BulkAllocateRequest{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty batch, got %d", rec.Code)
	}

	rec := doJSON(t, router, http.MethodPost, "/v1/allocations/bulk", allocapi.BulkAllocateRequest{CaseIDs: []string{"case-1", "case-2"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk: status %d body %s", rec.Code, rec.Body.String())
	}
	var res allocapi.BulkAllocateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Successful != 1 || res.Failed != 1 || len(res.Errors) != 1 {
		t.Fatalf("unexpected bulk result: %+v", res)
	}
}

func TestCapacityEndpoint(t *testing.T) {
	engine, router := newTestServer(t)
	seedCandidate(t, engine, "cand-1")

	if rec := doJSON(t, router, http.MethodGet, "/v1/candidates/cand-1/capacity", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any consumption, got %d", rec.Code)
	}

	doJSON(t, router, http.MethodPost, "/v1/cases", allocapi.CreateCaseRequest{CaseID: "case-1", Pincode: "560001"})
	doJSON(t, router, http.MethodPost, "/v1/cases/case-1/allocate", nil)

	rec := doJSON(t, router, http.MethodGet, "/v1/candidates/cand-1/capacity", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("capacity: status %d body %s", rec.Code, rec.Body.String())
	}
	var snap allocapi.CapacityResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.MaxDailyCapacity != 5 || snap.CurrentAvailable != 4 || snap.CasesAllocated != 1 {
		t.Fatalf("unexpected capacity: %+v", snap)
	}
}

func TestAuditEndpointAfterUnallocate(t *testing.T) {
	engine, router := newTestServer(t)
	seedCandidate(t, engine, "cand-1")
	doJSON(t, router, http.MethodPost, "/v1/cases", allocapi.CreateCaseRequest{CaseID: "case-1", Pincode: "560001"})
	doJSON(t, router, http.MethodPost, "/v1/cases/case-1/allocate", nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/cases/case-1/unallocate", allocapi.UnallocateRequest{Reason: "ops"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unallocate: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/audit?action=case_unallocated", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: status %d", rec.Code)
	}
	var out struct {
		Events []state.AuditEventRecord `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(out.Events) != 1 || out.Events[0].Action != "case_unallocated" {
		t.Fatalf("unexpected audit events: %+v", out.Events)
	}
}
