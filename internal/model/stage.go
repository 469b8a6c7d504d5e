package model

import (
	"fmt"
	"strings"
)

// Stage identifies one of the five pipeline stages.
type Stage string

const (
	StageExtraction Stage = "extraction"
	StageIndexing   Stage = "indexing"
	StageMatching   Stage = "matching"
	StageDecision   Stage = "decision"
	StageSubmission Stage = "submission"
)

// Stages returns the five stages in execution order.
func Stages() []Stage {
	return []Stage{StageExtraction, StageIndexing, StageMatching, StageDecision, StageSubmission}
}

// ParseStage converts a string to a Stage, case-insensitively.
func ParseStage(s string) (Stage, error) {
	switch Stage(strings.ToLower(strings.TrimSpace(s))) {
	case StageExtraction:
		return StageExtraction, nil
	case StageIndexing:
		return StageIndexing, nil
	case StageMatching:
		return StageMatching, nil
	case StageDecision:
		return StageDecision, nil
	case StageSubmission:
		return StageSubmission, nil
	}
	return "", fmt.Errorf("model: unknown stage %q", s)
}

// Next returns the stage that follows s, or false for the last stage.
func (s Stage) Next() (Stage, bool) {
	all := Stages()
	for i, st := range all {
		if st == s && i < len(all)-1 {
			return all[i+1], true
		}
	}
	return "", false
}

// Index returns the zero-based position of s in the stage order, or -1.
func (s Stage) Index() int {
	for i, st := range Stages() {
		if st == s {
			return i
		}
	}
	return -1
}
