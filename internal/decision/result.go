package decision

import (
	"sort"

	"github.com/seekwell/apply-cli/internal/model"
)

// topN bounds the organization and location leaderboards in a batch result.
const topN = 5

// CountEntry is one name/count pair in a leaderboard.
type CountEntry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// BatchResult aggregates one decision batch.
type BatchResult struct {
	Decisions        []model.Decision            `json:"decisions"`
	Evaluated        int                         `json:"evaluated"`
	Recommended      int                         `json:"recommended"`
	ByLevel          map[model.DecisionLevel]int `json:"by_level"`
	ByPriority       map[model.TaskPriority]int  `json:"by_priority"`
	ScoreMin         float64                     `json:"score_min"`
	ScoreMax         float64                     `json:"score_max"`
	ScoreAvg         float64                     `json:"score_avg"`
	TopOrganizations []CountEntry                `json:"top_organizations,omitempty"`
	TopLocations     []CountEntry                `json:"top_locations,omitempty"`
}

// Submittable returns the decisions that survived every constraint pass,
// highest score first.
func (r *BatchResult) Submittable() []model.Decision {
	var out []model.Decision
	for _, d := range r.Decisions {
		if d.Submit {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].FinalScore != out[b].FinalScore {
			return out[a].FinalScore > out[b].FinalScore
		}
		return out[a].CandidateID < out[b].CandidateID
	})
	return out
}

func aggregate(decisions []model.Decision) *BatchResult {
	r := &BatchResult{
		Decisions:  decisions,
		Evaluated:  len(decisions),
		ByLevel:    make(map[model.DecisionLevel]int),
		ByPriority: make(map[model.TaskPriority]int),
	}
	if len(decisions) == 0 {
		return r
	}

	orgs := make(map[string]int)
	locations := make(map[string]int)
	var sum float64
	r.ScoreMin, r.ScoreMax = decisions[0].FinalScore, decisions[0].FinalScore
	for _, d := range decisions {
		r.ByLevel[d.Level]++
		r.ByPriority[d.Priority]++
		if d.Submit {
			r.Recommended++
		}
		sum += d.FinalScore
		if d.FinalScore < r.ScoreMin {
			r.ScoreMin = d.FinalScore
		}
		if d.FinalScore > r.ScoreMax {
			r.ScoreMax = d.FinalScore
		}
		if d.Submit && d.Organization != "" {
			orgs[d.Organization]++
		}
		if d.Submit && d.Location != "" {
			locations[d.Location]++
		}
	}
	r.ScoreAvg = sum / float64(len(decisions))
	r.TopOrganizations = topEntries(orgs, topN)
	r.TopLocations = topEntries(locations, topN)
	return r
}

func topEntries(counts map[string]int, n int) []CountEntry {
	entries := make([]CountEntry, 0, len(counts))
	for name, count := range counts {
		entries = append(entries, CountEntry{Name: name, Count: count})
	}
	sort.Slice(entries, func(a, b int) bool {
		if entries[a].Count != entries[b].Count {
			return entries[a].Count > entries[b].Count
		}
		return entries[a].Name < entries[b].Name
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
