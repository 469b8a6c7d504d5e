// Package stages defines the collaborator contracts the pipeline
// controller drives, plus a deterministic in-process implementation for
// dry runs and tests.
package stages

import (
	"context"

	"github.com/seekwell/apply-cli/internal/model"
)

// Extractor pulls raw postings from one or more sources.
type Extractor interface {
	Extract(ctx context.Context, source string, criteria model.SearchCriteria) (*model.ExtractionResult, error)
}

// Indexer builds a semantic index over extracted postings.
type Indexer interface {
	Index(ctx context.Context, in model.IndexInput) (*model.IndexResult, error)
}

// Matcher scores indexed postings against the applicant profile.
type Matcher interface {
	Match(ctx context.Context, in model.MatchInput) (*model.MatchingResult, error)
}

// Submitter files one application for a submit-flagged decision.
type Submitter interface {
	Submit(ctx context.Context, runID string, decision model.Decision) (*model.SubmissionOutcome, error)
}

// Collaborators aggregates the external stage implementations a pipeline
// run needs.
type Collaborators struct {
	Extractor Extractor
	Indexer   Indexer
	Matcher   Matcher
	Submitter Submitter
}
