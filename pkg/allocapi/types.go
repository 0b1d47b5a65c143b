package allocapi

type CreateCaseRequest struct {
	CaseID   string `json:"case_id,omitempty"`
	Pincode  string `json:"pincode"`
	Tier     string `json:"pincode_tier,omitempty"`
	Priority string `json:"priority,omitempty"`
}

type CaseResponse struct {
	CaseID             string `json:"case_id"`
	Pincode            string `json:"pincode"`
	Tier               string `json:"pincode_tier,omitempty"`
	Priority           string `json:"priority"`
	Status             string `json:"status"`
	AssigneeID         string `json:"assignee_id,omitempty"`
	AssigneeType       string `json:"assignee_type,omitempty"`
	VendorID           string `json:"vendor_id,omitempty"`
	Wave               int    `json:"wave"`
	AcceptanceDeadline string `json:"acceptance_deadline,omitempty"`
	CreatedAt          string `json:"created_at"`
	AllocatedAt        string `json:"allocated_at,omitempty"`
	UpdatedAt          string `json:"updated_at"`
}

type AllocateResponse struct {
	CaseID             string  `json:"case_id"`
	CandidateID        string  `json:"candidate_id"`
	CandidateType      string  `json:"candidate_type"`
	Wave               int     `json:"wave"`
	Score              float64 `json:"score"`
	AcceptanceDeadline string  `json:"acceptance_deadline"`
}

type BulkAllocateRequest struct {
	CaseIDs []string `json:"case_ids"`
}

type BulkAllocateResponse struct {
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

type AcceptRequest struct {
	CandidateID string `json:"candidate_id"`
}

type RejectRequest struct {
	CandidateID string `json:"candidate_id"`
	Reason      string `json:"reason,omitempty"`
}

type UnallocateRequest struct {
	Reason string `json:"reason,omitempty"`
}

type UpsertCandidateRequest struct {
	CandidateID      string   `json:"candidate_id"`
	Type             string   `json:"type"`
	VendorID         string   `json:"vendor_id,omitempty"`
	Name             string   `json:"name,omitempty"`
	Pincodes         []string `json:"pincodes"`
	Tiers            []string `json:"tiers,omitempty"`
	QualityScore     float64  `json:"quality_score"`
	CompletionRate   float64  `json:"completion_rate"`
	OnTimeRate       float64  `json:"ontime_rate"`
	AcceptanceRate   float64  `json:"acceptance_rate"`
	MaxDailyCapacity int      `json:"max_daily_capacity,omitempty"`
	Active           *bool    `json:"active,omitempty"`
}

type DecisionResponse struct {
	ID                 string  `json:"id"`
	CaseID             string  `json:"case_id"`
	CandidateID        string  `json:"candidate_id"`
	CandidateType      string  `json:"candidate_type"`
	Wave               int     `json:"wave"`
	Decision           string  `json:"decision"`
	Score              float64 `json:"score"`
	AcceptanceDeadline string  `json:"acceptance_deadline,omitempty"`
	Reason             string  `json:"reason,omitempty"`
	CreatedAt          string  `json:"created_at"`
	DecidedAt          string  `json:"decided_at,omitempty"`
}

type DecisionsResponse struct {
	CaseID    string             `json:"case_id"`
	Decisions []DecisionResponse `json:"decisions"`
}

type CapacityResponse struct {
	CandidateID      string `json:"candidate_id"`
	Day              string `json:"day"`
	MaxDailyCapacity int    `json:"max_daily_capacity"`
	CurrentAvailable int    `json:"current_available"`
	CasesAllocated   int    `json:"cases_allocated"`
	LastReset        string `json:"last_reset"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
