package decision

import (
	"strings"
	"sync"

	"github.com/seekwell/apply-cli/internal/model"
)

// salaryScore maps the salary midpoint to [0,1]. When a minimum salary is
// configured the score follows the ratio of midpoint to minimum; otherwise
// fixed absolute bands apply. Candidates without salary data score neutral.
func salaryScore(c *model.Candidate, minSalary float64) float64 {
	mid, ok := c.SalaryMidpoint()
	if !ok {
		return 0.5
	}
	if minSalary > 0 {
		ratio := mid / minSalary
		switch {
		case ratio >= 1.5:
			return 1.0
		case ratio >= 1.2:
			return 0.9
		case ratio >= 1.0:
			return 0.75
		case ratio >= 0.8:
			return 0.5
		default:
			return 0.3
		}
	}
	switch {
	case mid >= 50000:
		return 1.0
	case mid >= 30000:
		return 0.8
	case mid >= 20000:
		return 0.6
	case mid >= 10000:
		return 0.4
	default:
		return 0.2
	}
}

// Graded location bands for postings outside the preferred list. Remote
// postings score as well as a preferred location.
var locationBands = map[string]float64{
	"remote":        1.0,
	"new york":      0.8,
	"san francisco": 0.8,
	"london":        0.8,
	"berlin":        0.8,
	"seattle":       0.7,
	"austin":        0.7,
	"toronto":       0.7,
	"amsterdam":     0.7,
}

// locationScore returns 1.0 for an exact preferred match, graded band
// scores for known hubs, 0.4 otherwise, and 0.5 when no preference is set.
func locationScore(location string, preferred []string) float64 {
	loc := strings.ToLower(strings.TrimSpace(location))
	for _, p := range preferred {
		if loc == strings.ToLower(strings.TrimSpace(p)) {
			return 1.0
		}
	}
	if band, ok := locationBands[loc]; ok {
		return band
	}
	if len(preferred) == 0 {
		return 0.5
	}
	return 0.4
}

// Keyword bonuses for the growth dimension, added to a fixed base and
// capped at 1.0.
var growthKeywords = []struct {
	keyword string
	bonus   float64
}{
	{"senior", 0.2},
	{"lead", 0.2},
	{"principal", 0.25},
	{"staff", 0.2},
	{"manager", 0.15},
	{"architect", 0.2},
	{"machine learning", 0.15},
	{"distributed", 0.1},
	{"platform", 0.1},
	{"growth", 0.1},
	{"mentorship", 0.1},
	{"equity", 0.1},
}

const growthBase = 0.3

// growthScore adds fixed keyword bonuses found in the title or description
// to a base score, capped at 1.0.
func growthScore(title, description string) float64 {
	text := strings.ToLower(title + " " + description)
	score := growthBase
	for _, kw := range growthKeywords {
		if strings.Contains(text, kw.keyword) {
			score += kw.bonus
		}
	}
	return clamp01(score)
}

// Reputation adjustments keyed off organization-name markers. The table is
// deliberately coarse; callers wanting real signals plug their own
// ReputationFunc.
var reputationMarkers = []struct {
	marker string
	delta  float64
}{
	{"labs", 0.1},
	{"research", 0.1},
	{"foundation", 0.1},
	{"university", 0.1},
	{"inc", 0.05},
	{"gmbh", 0.05},
	{"ltd", 0.05},
	{"consulting", -0.05},
	{"staffing", -0.15},
	{"recruiting", -0.15},
	{"agency", -0.1},
}

const reputationBase = 0.5

// defaultReputation returns a memoized heuristic reputation scorer. Scores
// depend only on the organization name so the memo never invalidates.
func defaultReputation() ReputationFunc {
	var mu sync.Mutex
	memo := make(map[string]float64)
	return func(organization string) float64 {
		key := strings.ToLower(strings.TrimSpace(organization))
		mu.Lock()
		defer mu.Unlock()
		if score, ok := memo[key]; ok {
			return score
		}
		score := reputationBase
		for _, m := range reputationMarkers {
			if strings.Contains(key, m.marker) {
				score += m.delta
			}
		}
		score = clamp01(score)
		memo[key] = score
		return score
	}
}

// Popular title markers raise the estimated applicant pool.
var popularityMarkers = []struct {
	marker string
	delta  float64
}{
	{"remote", 0.2},
	{"junior", 0.15},
	{"entry", 0.15},
	{"intern", 0.2},
	{"data scientist", 0.1},
	{"frontend", 0.05},
}

const popularityBase = 0.3

// defaultPopularity estimates how contested a posting is from title markers
// and the organization's reputation. A strong reputation draws more
// applicants.
func defaultPopularity(c *model.Candidate, reputation float64) float64 {
	text := strings.ToLower(c.Title + " " + c.Location)
	score := popularityBase
	for _, m := range popularityMarkers {
		if strings.Contains(text, m.marker) {
			score += m.delta
		}
	}
	score += (reputation - reputationBase) * 0.5
	return clamp01(score)
}
