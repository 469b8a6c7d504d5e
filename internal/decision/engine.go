package decision

import (
	"fmt"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/seekwell/apply-cli/internal/config"
	"github.com/seekwell/apply-cli/internal/model"
)

// Criteria parameterizes one decision batch.
type Criteria struct {
	SubmitThreshold    float64
	PriorityThreshold  float64
	UrgentThreshold    float64
	MaxPerDay          int
	MaxPerOrganization int
	MinSalary          float64
	PreferredLocations []string
	Blacklist          []string
	Weights            map[string]float64
}

// CriteriaFromConfig builds Criteria from the decision and submission
// config sections.
func CriteriaFromConfig(d config.DecisionConfig, s config.SubmissionConfig) Criteria {
	weights := d.Weights
	if len(weights) == 0 {
		weights = config.DefaultWeights()
	}
	return Criteria{
		SubmitThreshold:    d.SubmitThreshold,
		PriorityThreshold:  d.PriorityThreshold,
		UrgentThreshold:    d.UrgentThreshold,
		MaxPerDay:          s.MaxPerDay,
		MaxPerOrganization: s.MaxPerOrganization,
		MinSalary:          d.MinSalary,
		PreferredLocations: d.PreferredLocations,
		Blacklist:          s.Blacklist,
		Weights:            weights,
	}
}

// ReputationFunc scores an organization's reputation in [0,1]. The default
// is a memoized heuristic, not a learned model; callers may plug their own.
type ReputationFunc func(organization string) float64

// PopularityFunc estimates how contested a posting is in [0,1].
type PopularityFunc func(c *model.Candidate, reputation float64) float64

// Engine scores match candidates along weighted dimensions and applies
// global submission policy constraints.
type Engine struct {
	Reputation ReputationFunc
	Popularity PopularityFunc
}

// New creates an Engine with the default heuristic scoring functions.
func New() *Engine {
	return &Engine{
		Reputation: defaultReputation(),
		Popularity: defaultPopularity,
	}
}

// Decide evaluates each candidate, assigns decision levels, applies global
// constraints and aggregates the batch.
func (e *Engine) Decide(candidates []model.Candidate, criteria Criteria) (*BatchResult, error) {
	if criteria.SubmitThreshold <= 0 {
		return nil, eris.New("decision: submit threshold must be positive")
	}

	decisions := make([]model.Decision, 0, len(candidates))
	for i := range candidates {
		decisions = append(decisions, e.evaluate(&candidates[i], criteria))
	}

	applyConstraints(decisions, criteria)

	result := aggregate(decisions)
	zap.L().Info("decision: batch evaluated",
		zap.Int("candidates", result.Evaluated),
		zap.Int("recommended", result.Recommended),
	)
	return result, nil
}

// evaluate scores one candidate along the six dimensions and derives the
// decision.
func (e *Engine) evaluate(c *model.Candidate, criteria Criteria) model.Decision {
	reputation := clamp01(e.Reputation(c.Organization))
	popularity := clamp01(e.Popularity(c, reputation))

	dims := map[string]float64{
		"match":       clamp01(c.MatchScore),
		"reputation":  reputation,
		"salary":      salaryScore(c, criteria.MinSalary),
		"location":    locationScore(c.Location, criteria.PreferredLocations),
		"growth":      growthScore(c.Title, c.Description()),
		"competition": 1 - popularity,
	}

	final := weightedScore(dims, criteria.Weights)
	level := assignLevel(final, criteria)

	d := model.Decision{
		CandidateID:     c.ID,
		Title:           c.Title,
		Organization:    c.Organization,
		Location:        c.Location,
		DimensionScores: dims,
		FinalScore:      final,
		Level:           level,
		Submit:          level == model.LevelRecommend || level == model.LevelPriority || level == model.LevelUrgent,
		Priority:        priorityForLevel(level),
		SuccessEstimate: clamp01(final*0.7 + dims["competition"]*0.3),
	}
	d.Reasoning = reasoning(final, level, dims)
	d.RiskFactors, d.Opportunities = risksAndOpportunities(dims)
	return d
}

// weightedScore computes the weight-normalized sum over the dimensions
// actually present in both maps.
func weightedScore(dims, weights map[string]float64) float64 {
	var sum, totalWeight float64
	for name, score := range dims {
		w, ok := weights[name]
		if !ok || w <= 0 {
			continue
		}
		sum += score * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return sum / totalWeight
}

func assignLevel(score float64, criteria Criteria) model.DecisionLevel {
	switch {
	case score >= criteria.UrgentThreshold:
		return model.LevelUrgent
	case score >= criteria.PriorityThreshold:
		return model.LevelPriority
	case score >= criteria.SubmitThreshold:
		return model.LevelRecommend
	case score >= 0.5:
		return model.LevelConsider
	default:
		return model.LevelReject
	}
}

func priorityForLevel(level model.DecisionLevel) model.TaskPriority {
	switch level {
	case model.LevelUrgent:
		return model.PriorityUrgent
	case model.LevelPriority:
		return model.PriorityHigh
	case model.LevelRecommend:
		return model.PriorityNormal
	default:
		return model.PriorityLow
	}
}

// Reasoning output is deterministic: fixed phrasing keyed off the score
// and per-dimension extremes so repeated runs are reproducible.
func reasoning(final float64, level model.DecisionLevel, dims map[string]float64) []string {
	out := []string{fmt.Sprintf("final weighted score %.2f (%s)", final, level)}

	best, worst := "", ""
	bestScore, worstScore := -1.0, 2.0
	for _, name := range dimensionOrder {
		score, ok := dims[name]
		if !ok {
			continue
		}
		if score > bestScore {
			best, bestScore = name, score
		}
		if score < worstScore {
			worst, worstScore = name, score
		}
	}
	if best != "" {
		out = append(out, fmt.Sprintf("strongest dimension: %s (%.2f)", best, bestScore))
	}
	if worst != "" && worst != best {
		out = append(out, fmt.Sprintf("weakest dimension: %s (%.2f)", worst, worstScore))
	}
	return out
}

// dimensionOrder fixes iteration order for deterministic reasoning.
var dimensionOrder = []string{"match", "reputation", "salary", "location", "growth", "competition"}

// Risk and opportunity thresholds are fixed constants, not configurable,
// to keep output reproducible.
const (
	riskThreshold        = 0.35
	opportunityThreshold = 0.80
)

func risksAndOpportunities(dims map[string]float64) (risks, opportunities []string) {
	for _, name := range dimensionOrder {
		score, ok := dims[name]
		if !ok {
			continue
		}
		if score < riskThreshold {
			risks = append(risks, fmt.Sprintf("low %s score (%.2f)", name, score))
		}
		if score >= opportunityThreshold {
			opportunities = append(opportunities, fmt.Sprintf("high %s score (%.2f)", name, score))
		}
	}
	return risks, opportunities
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// sortDecisionsByScore orders indexes by final score descending with a
// stable tiebreak on candidate ID.
func sortDecisionsByScore(idx []int, decisions []model.Decision) {
	sort.SliceStable(idx, func(a, b int) bool {
		da, db := decisions[idx[a]], decisions[idx[b]]
		if da.FinalScore != db.FinalScore {
			return da.FinalScore > db.FinalScore
		}
		return da.CandidateID < db.CandidateID
	})
}
