package model

import "time"

// SearchCriteria is the input to a pipeline run.
type SearchCriteria struct {
	Keywords  []string `json:"keywords" validate:"required,min=1"`
	Locations []string `json:"locations,omitempty"`
	Sources   []string `json:"sources,omitempty"`
	MaxAge    int      `json:"max_age_days,omitempty"`
}

// Profile describes the applicant the pipeline acts on behalf of.
type Profile struct {
	Name      string   `json:"name" validate:"required"`
	Skills    []string `json:"skills,omitempty"`
	Locations []string `json:"locations,omitempty"`
	MinSalary float64  `json:"min_salary,omitempty"`
}

// JobPosting is one raw opportunity scraped by the extraction collaborator.
type JobPosting struct {
	ID           string    `json:"id" validate:"required"`
	Title        string    `json:"title" validate:"required"`
	Organization string    `json:"organization" validate:"required"`
	Location     string    `json:"location,omitempty"`
	Description  string    `json:"description,omitempty"`
	SalaryMin    float64   `json:"salary_min,omitempty"`
	SalaryMax    float64   `json:"salary_max,omitempty"`
	URL          string    `json:"url,omitempty"`
	Source       string    `json:"source,omitempty"`
	PostedAt     time.Time `json:"posted_at,omitempty"`
}

// ExtractionResult is the extraction stage payload.
type ExtractionResult struct {
	Success  bool         `json:"success"`
	Postings []JobPosting `json:"postings"`
	Sources  []string     `json:"sources,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// IndexInput is what the bridge hands the indexing stage. Dropped counts
// the malformed or duplicate postings the bridge discarded.
type IndexInput struct {
	RunID    string       `json:"run_id"`
	Postings []JobPosting `json:"postings"`
	Dropped  int          `json:"dropped,omitempty"`
}

// IndexResult is the indexing stage payload.
type IndexResult struct {
	Success  bool   `json:"success"`
	IndexRef string `json:"index_ref"`
	Indexed  int    `json:"indexed"`
	Error    string `json:"error,omitempty"`
}

// MatchInput is what the bridge hands the matching stage.
type MatchInput struct {
	RunID    string  `json:"run_id"`
	IndexRef string  `json:"index_ref"`
	Indexed  int     `json:"indexed"`
	Profile  Profile `json:"profile"`
}

// MatchingResult is the matching stage payload.
type MatchingResult struct {
	Success    bool        `json:"success"`
	Candidates []Candidate `json:"candidates"`
	Error      string      `json:"error,omitempty"`
}

// DecisionInput is what the bridge hands the decision stage.
type DecisionInput struct {
	RunID      string      `json:"run_id"`
	Candidates []Candidate `json:"candidates"`
}

// DecisionResult is the decision stage payload.
type DecisionResult struct {
	Success     bool       `json:"success"`
	Decisions   []Decision `json:"decisions"`
	Recommended int        `json:"recommended"`
	Error       string     `json:"error,omitempty"`
}

// SubmissionInput is what the bridge hands the submission stage: the
// submit-flagged decisions ordered by priority then score.
type SubmissionInput struct {
	RunID      string      `json:"run_id"`
	Decisions  []Decision  `json:"decisions"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// SubmissionOutcome is the result of submitting one application.
type SubmissionOutcome struct {
	CandidateID  string    `json:"candidate_id"`
	Submitted    bool      `json:"submitted"`
	Confirmation string    `json:"confirmation,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// SubmissionResult is the submission stage payload.
type SubmissionResult struct {
	Success   bool                `json:"success"`
	Outcomes  []SubmissionOutcome `json:"outcomes"`
	Submitted int                 `json:"submitted"`
	Failed    int                 `json:"failed"`
	Error     string              `json:"error,omitempty"`
}
