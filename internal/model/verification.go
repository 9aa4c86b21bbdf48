package model

import "time"

// VerificationStatus classifies a resource during a read-only check.
type VerificationStatus string

const (
	StatusSatisfied VerificationStatus = "satisfied"
	StatusMissing   VerificationStatus = "missing"
	StatusDrifted   VerificationStatus = "drifted"
	StatusBlocked   VerificationStatus = "blocked"
	StatusUnknown   VerificationStatus = "unknown"
)

// IsValid reports whether s is one of the known statuses.
func (s VerificationStatus) IsValid() bool {
	switch s {
	case StatusSatisfied, StatusMissing, StatusDrifted, StatusBlocked, StatusUnknown:
		return true
	}
	return false
}

// VerificationResult is the verify outcome for one resource.
type VerificationResult struct {
	ResourceID string
	Kind       string
	Status     VerificationStatus
	Message    string
	Details    string
	Error      error
	Duration   time.Duration
	Timestamp  time.Time
}

// VerificationSummary aggregates a verify run.
type VerificationSummary struct {
	Total     int
	Satisfied int
	Missing   int
	Drifted   int
	Blocked   int
	Unknown   int
	Duration  time.Duration
	Results   []VerificationResult
}

// Add records a result and bumps the matching counter.
func (s *VerificationSummary) Add(r VerificationResult) {
	s.Results = append(s.Results, r)
	s.Total++
	switch r.Status {
	case StatusSatisfied:
		s.Satisfied++
	case StatusMissing:
		s.Missing++
	case StatusDrifted:
		s.Drifted++
	case StatusBlocked:
		s.Blocked++
	default:
		s.Unknown++
	}
}

// AllSatisfied is true when nothing needs converging and nothing failed.
func (s *VerificationSummary) AllSatisfied() bool {
	return s.Missing == 0 && s.Drifted == 0 && s.Blocked == 0 && s.Unknown == 0
}

// NeedsApply is true when at least one resource is missing or drifted.
func (s *VerificationSummary) NeedsApply() bool {
	return s.Missing > 0 || s.Drifted > 0
}

// ExitCode is 0 when satisfied, 1 when drift was found and 3 when resources
// could not be checked.
func (s *VerificationSummary) ExitCode() int {
	switch {
	case s.Unknown > 0 || s.Blocked > 0:
		return 3
	case s.NeedsApply():
		return 1
	default:
		return 0
	}
}
