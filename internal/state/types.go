package state

import "time"

type CaseRecord struct {
	ID                 string
	Pincode            string
	PincodeTier        string
	Priority           string
	Status             string
	AssigneeID         string
	AssigneeType       string
	VendorID           string
	Wave               int
	AcceptanceDeadline time.Time
	NudgedAt           time.Time
	CreatedAt          time.Time
	AllocatedAt        time.Time
	UpdatedAt          time.Time
}

type CandidateRecord struct {
	ID               string
	Type             string
	VendorID         string
	Name             string
	Pincodes         []string
	Tiers            []string
	QualityScore     float64
	CompletionRate   float64
	OnTimeRate       float64
	AcceptanceRate   float64
	MaxDailyCapacity int
	// CapacityAvailable is the remaining slot count for the capacity day the
	// record was queried for. It defaults to MaxDailyCapacity when no
	// CapacityRecord exists yet for that day.
	CapacityAvailable int
	ActiveCases       int
	Active            bool
	UpdatedAt         time.Time
}

type CapacityRecord struct {
	CandidateID string
	Day         string
	MaxDaily    int
	Available   int
	Allocated   int
	LastReset   time.Time
	Active      bool
}

// CapacityClaim records which case consumed which candidate's slot so that a
// slot is never freed twice for the same case.
type CapacityClaim struct {
	CandidateID string
	CaseID      string
	Day         string
	CreatedAt   time.Time
}

type DecisionRecord struct {
	ID                 string
	CaseID             string
	CandidateID        string
	CandidateType      string
	Wave               int
	Decision           string
	Score              float64
	AcceptanceDeadline time.Time
	Reason             string
	CreatedAt          time.Time
	DecidedAt          time.Time
}

type CandidateQuery struct {
	Pincode  string
	Tier     string
	Priority string
}

type AuditEventRecord struct {
	ID          int64
	Action      string
	Actor       string
	RemoteAddr  string
	Resource    string
	PayloadHash string
	PrevHash    string
	EventHash   string
	Result      string
	Details     string
	CreatedAt   time.Time
}

type AuditQuery struct {
	Limit  int
	Offset int
	Action string
	Actor  string
	Result string
	From   time.Time
	To     time.Time
}
