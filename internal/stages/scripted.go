package stages

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/seekwell/apply-cli/internal/model"
)

var titler = cases.Title(language.English)

// Scripted is a deterministic in-process implementation of all four
// collaborator contracts. It fabricates postings from the search criteria,
// keeps its index in memory, and never touches the network. Used by dry
// runs and tests.
type Scripted struct {
	// PostingsPerSource bounds how many postings Extract fabricates per
	// source. Zero means the default of 6.
	PostingsPerSource int

	// FailSources makes Extract return an unsuccessful result for the
	// named sources.
	FailSources map[string]string

	// FailSubmissions makes Submit report a failed outcome for the named
	// candidate IDs.
	FailSubmissions map[string]string

	mu      sync.Mutex
	indexes map[string][]model.JobPosting
}

// NewScripted creates a Scripted collaborator set.
func NewScripted() *Scripted {
	return &Scripted{indexes: make(map[string][]model.JobPosting)}
}

// Collaborators returns the scripted implementation wired into a
// Collaborators aggregate.
func (s *Scripted) Collaborators() Collaborators {
	return Collaborators{Extractor: s, Indexer: s, Matcher: s, Submitter: s}
}

var scriptedOrgs = []string{
	"Northwind Labs", "Acme Systems", "Globex", "Initech", "Umbrella Research", "Stark Industries",
}

var scriptedLevels = []string{"Junior", "", "Senior", "Staff", "Principal", "Lead"}

// Extract fabricates postings for one source. Output depends only on the
// source name and criteria, so repeated runs are identical.
func (s *Scripted) Extract(ctx context.Context, source string, criteria model.SearchCriteria) (*model.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "scripted: extract cancelled")
	}
	if msg, ok := s.FailSources[source]; ok {
		return &model.ExtractionResult{Success: false, Sources: []string{source}, Error: msg}, nil
	}

	n := s.PostingsPerSource
	if n <= 0 {
		n = 6
	}
	keyword := "engineer"
	if len(criteria.Keywords) > 0 {
		keyword = criteria.Keywords[0]
	}

	postings := make([]model.JobPosting, 0, n)
	for i := 0; i < n; i++ {
		seed := jitter(fmt.Sprintf("%s|%s|%d", source, keyword, i))
		level := scriptedLevels[int(seed*10)%len(scriptedLevels)]
		title := strings.TrimSpace(level + " " + titler.String(keyword))
		location := "remote"
		if len(criteria.Locations) > 0 {
			location = criteria.Locations[i%len(criteria.Locations)]
		}
		base := 30000 + float64(int(seed*100)%60)*1000
		postings = append(postings, model.JobPosting{
			ID:           fmt.Sprintf("%s-%d", source, i),
			Title:        title,
			Organization: scriptedOrgs[i%len(scriptedOrgs)],
			Location:     location,
			Description:  fmt.Sprintf("We are hiring a %s to work on %s systems.", title, keyword),
			SalaryMin:    base,
			SalaryMax:    base + 20000,
			URL:          fmt.Sprintf("https://%s.example.com/jobs/%d", source, i),
			Source:       source,
			PostedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
		})
	}
	return &model.ExtractionResult{Success: true, Postings: postings, Sources: []string{source}}, nil
}

// Index stores the postings in memory under a ref derived from the run ID.
func (s *Scripted) Index(ctx context.Context, in model.IndexInput) (*model.IndexResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "scripted: index cancelled")
	}
	ref := "idx-" + in.RunID
	s.mu.Lock()
	s.indexes[ref] = in.Postings
	s.mu.Unlock()
	return &model.IndexResult{Success: true, IndexRef: ref, Indexed: len(in.Postings)}, nil
}

// Match scores the indexed postings against the profile: skill overlap
// with the posting text plus a small deterministic jitter.
func (s *Scripted) Match(ctx context.Context, in model.MatchInput) (*model.MatchingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "scripted: match cancelled")
	}
	s.mu.Lock()
	postings, ok := s.indexes[in.IndexRef]
	s.mu.Unlock()
	if !ok {
		return &model.MatchingResult{Success: false, Error: fmt.Sprintf("unknown index ref %q", in.IndexRef)}, nil
	}

	candidates := make([]model.Candidate, 0, len(postings))
	for _, p := range postings {
		score := 0.4 + 0.4*skillOverlap(in.Profile.Skills, p.Title+" "+p.Description) + 0.2*jitter(p.ID)
		candidates = append(candidates, model.Candidate{
			ID:           p.ID,
			Title:        p.Title,
			Organization: p.Organization,
			Location:     p.Location,
			MatchScore:   clamp01(score),
			Fields: map[string]any{
				"salary_min":  p.SalaryMin,
				"salary_max":  p.SalaryMax,
				"description": p.Description,
				"url":         p.URL,
				"source":      p.Source,
			},
		})
	}
	return &model.MatchingResult{Success: true, Candidates: candidates}, nil
}

// Submit reports a deterministic outcome with a confirmation token.
func (s *Scripted) Submit(ctx context.Context, runID string, decision model.Decision) (*model.SubmissionOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "scripted: submit cancelled")
	}
	at := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	if msg, ok := s.FailSubmissions[decision.CandidateID]; ok {
		return &model.SubmissionOutcome{CandidateID: decision.CandidateID, Submitted: false, Error: msg, At: at}, nil
	}
	return &model.SubmissionOutcome{
		CandidateID:  decision.CandidateID,
		Submitted:    true,
		Confirmation: fmt.Sprintf("conf-%s-%s", runID, decision.CandidateID),
		At:           at,
	}, nil
}

func skillOverlap(skills []string, text string) float64 {
	if len(skills) == 0 {
		return 0.5
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, skill := range skills {
		if strings.Contains(lower, strings.ToLower(skill)) {
			hits++
		}
	}
	return float64(hits) / float64(len(skills))
}

// jitter maps a string to a stable value in [0,1).
func jitter(s string) float64 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return float64(h.Sum32()%1000) / 1000
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
