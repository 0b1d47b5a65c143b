package allocation

import "errors"

var (
	ErrNoCandidates         = errors.New("no candidates found")
	ErrNoEligibleCandidates = errors.New("no eligible candidates")
	ErrCapacityUnavailable  = errors.New("capacity unavailable")
	ErrMaxWavesExceeded     = errors.New("max reallocation waves exceeded")
	ErrCaseNotFound         = errors.New("case not found")
	ErrInvalidCaseState     = errors.New("invalid case state")
)
