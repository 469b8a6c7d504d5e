package bridge

import (
	"fmt"

	"github.com/seekwell/apply-cli/internal/model"
	"github.com/seekwell/apply-cli/internal/recovery"
)

// sampleLimit bounds how many elements of a large collection get struct
// validation. The sample is deterministic: head, tail and evenly spaced
// middle elements.
const sampleLimit = 25

// sampleIndexes returns up to sampleLimit indexes into a collection of
// length n.
func sampleIndexes(n int) []int {
	if n <= sampleLimit {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	const head, tail = 10, 10
	middle := sampleLimit - head - tail
	idx := make([]int, 0, sampleLimit)
	for i := 0; i < head; i++ {
		idx = append(idx, i)
	}
	span := n - head - tail
	for i := 0; i < middle; i++ {
		idx = append(idx, head+span*(i+1)/(middle+1))
	}
	for i := n - tail; i < n; i++ {
		idx = append(idx, i)
	}
	return idx
}

// Validate checks a stage payload. Collections are validated on a bounded
// deterministic sample. Failures come back as validation-category pipeline
// errors so recovery routes them to skip rather than retry.
func (b *Bridge) Validate(stage model.Stage, payload any) error {
	switch p := payload.(type) {
	case *model.ExtractionResult:
		if !p.Success {
			return recovery.NewValidationError(stage, "extraction result flagged unsuccessful: "+p.Error)
		}
		return b.validateSample(stage, "posting", len(p.Postings), func(i int) any { return p.Postings[i] })
	case *model.IndexResult:
		if !p.Success {
			return recovery.NewValidationError(stage, "index result flagged unsuccessful: "+p.Error)
		}
		if p.IndexRef == "" {
			return recovery.NewValidationError(stage, "index result missing index ref")
		}
		return nil
	case *model.MatchingResult:
		if !p.Success {
			return recovery.NewValidationError(stage, "matching result flagged unsuccessful: "+p.Error)
		}
		return b.validateSample(stage, "candidate", len(p.Candidates), func(i int) any { return p.Candidates[i] })
	case *model.DecisionResult:
		if !p.Success {
			return recovery.NewValidationError(stage, "decision result flagged unsuccessful: "+p.Error)
		}
		return nil
	case *model.SearchCriteria, *model.Profile:
		if err := b.validate.Struct(payload); err != nil {
			return recovery.NewValidationError(stage, err.Error())
		}
		return nil
	default:
		return recovery.NewValidationError(stage, fmt.Sprintf("unsupported payload type %T", payload))
	}
}

func (b *Bridge) validateSample(stage model.Stage, kind string, n int, at func(int) any) error {
	for _, i := range sampleIndexes(n) {
		if err := b.validate.Struct(at(i)); err != nil {
			return recovery.NewValidationError(stage,
				fmt.Sprintf("%s %d failed validation: %v", kind, i, err))
		}
	}
	return nil
}
