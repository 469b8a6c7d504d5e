package model

import (
	"fmt"
	"strings"
)

// DecisionLevel is the verdict tier derived from a candidate's weighted
// score.
type DecisionLevel string

const (
	LevelReject    DecisionLevel = "reject"
	LevelConsider  DecisionLevel = "consider"
	LevelRecommend DecisionLevel = "recommend"
	LevelPriority  DecisionLevel = "priority"
	LevelUrgent    DecisionLevel = "urgent"
)

// ParseDecisionLevel converts a string to a DecisionLevel.
func ParseDecisionLevel(s string) (DecisionLevel, error) {
	switch DecisionLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LevelReject:
		return LevelReject, nil
	case LevelConsider:
		return LevelConsider, nil
	case LevelRecommend:
		return LevelRecommend, nil
	case LevelPriority:
		return LevelPriority, nil
	case LevelUrgent:
		return LevelUrgent, nil
	}
	return "", fmt.Errorf("model: unknown decision level %q", s)
}

// Decision is the engine's verdict on one candidate. A later global
// constraint pass may flip Submit to false and append a reason, but never
// raises it back to true.
type Decision struct {
	CandidateID     string             `json:"candidate_id"`
	Title           string             `json:"title"`
	Organization    string             `json:"organization"`
	Location        string             `json:"location"`
	DimensionScores map[string]float64 `json:"dimension_scores"`
	FinalScore      float64            `json:"final_score"`
	Level           DecisionLevel      `json:"level"`
	Submit          bool               `json:"submit"`
	Priority        TaskPriority       `json:"priority"`
	Reasoning       []string           `json:"reasoning,omitempty"`
	SuccessEstimate float64            `json:"success_estimate"`
	RiskFactors     []string           `json:"risk_factors,omitempty"`
	Opportunities   []string           `json:"opportunities,omitempty"`
}
