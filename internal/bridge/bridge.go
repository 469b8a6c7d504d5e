// Package bridge validates stage outputs and transforms them into the
// next stage's input. Repeated transforms of identical payloads are served
// from a bounded fingerprint cache.
package bridge

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/seekwell/apply-cli/internal/model"
	"github.com/seekwell/apply-cli/internal/recovery"
)

const (
	defaultCacheTTL     = 10 * time.Minute
	defaultCacheEntries = 256
)

// Envelope carries one stage's output plus run context into a transform.
type Envelope struct {
	RunID   string
	Profile model.Profile
	Payload json.RawMessage
}

// Stats is a snapshot of bridge cache and validation counters.
type Stats struct {
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Errors     uint64 `json:"errors"`
	Dropped    uint64 `json:"dropped"`
	CacheSize  int    `json:"cache_size"`
	Transforms uint64 `json:"transforms"`
}

type counters struct {
	hits       atomic.Uint64
	misses     atomic.Uint64
	errors     atomic.Uint64
	dropped    atomic.Uint64
	transforms atomic.Uint64
}

// Bridge converts one stage's output into the next stage's input.
type Bridge struct {
	validate *validator.Validate
	cache    *fingerprintCache
	stats    counters
}

// Option adjusts bridge construction.
type Option func(*Bridge)

// WithCache overrides the default cache TTL and size bound.
func WithCache(ttl time.Duration, maxEntries int) Option {
	return func(b *Bridge) {
		b.cache = newFingerprintCache(ttl, maxEntries)
	}
}

// New creates a Bridge with a struct validator and fingerprint cache.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cache:    newFingerprintCache(defaultCacheTTL, defaultCacheEntries),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Transform validates the upstream payload in env and produces the input
// for the `to` stage. Identical envelopes within the cache TTL are served
// from cache without re-validating.
func (b *Bridge) Transform(ctx context.Context, to model.Stage, env *Envelope) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "bridge: transform cancelled")
	}
	b.stats.transforms.Add(1)

	key, err := fingerprint(string(to)+"|"+env.RunID, env.Payload)
	if err != nil {
		b.stats.errors.Add(1)
		return nil, recovery.NewValidationError(to, "payload is not valid JSON: "+err.Error())
	}
	if cached, dropped, ok := b.cache.get(key); ok {
		b.stats.hits.Add(1)
		zap.L().Debug("bridge: cache hit",
			zap.String("stage", string(to)),
			zap.Int("dropped", dropped),
		)
		return cached, nil
	}
	b.stats.misses.Add(1)

	out, dropped, err := b.transform(to, env)
	if err != nil {
		b.stats.errors.Add(1)
		return nil, err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		b.stats.errors.Add(1)
		return nil, eris.Wrap(err, "bridge: marshal transformed payload")
	}
	if dropped > 0 {
		b.stats.dropped.Add(uint64(dropped))
	}
	b.cache.put(key, raw, dropped)
	return raw, nil
}

func (b *Bridge) transform(to model.Stage, env *Envelope) (any, int, error) {
	switch to {
	case model.StageIndexing:
		var res model.ExtractionResult
		if err := json.Unmarshal(env.Payload, &res); err != nil {
			return nil, 0, recovery.NewValidationError(to, "decode extraction result: "+err.Error())
		}
		return b.toIndexing(env.RunID, &res)
	case model.StageMatching:
		var res model.IndexResult
		if err := json.Unmarshal(env.Payload, &res); err != nil {
			return nil, 0, recovery.NewValidationError(to, "decode index result: "+err.Error())
		}
		if err := b.Validate(to, &res); err != nil {
			return nil, 0, err
		}
		return &model.MatchInput{
			RunID:    env.RunID,
			IndexRef: res.IndexRef,
			Indexed:  res.Indexed,
			Profile:  env.Profile,
		}, 0, nil
	case model.StageDecision:
		var res model.MatchingResult
		if err := json.Unmarshal(env.Payload, &res); err != nil {
			return nil, 0, recovery.NewValidationError(to, "decode matching result: "+err.Error())
		}
		if err := b.Validate(to, &res); err != nil {
			return nil, 0, err
		}
		return &model.DecisionInput{RunID: env.RunID, Candidates: res.Candidates}, 0, nil
	case model.StageSubmission:
		var res model.DecisionResult
		if err := json.Unmarshal(env.Payload, &res); err != nil {
			return nil, 0, recovery.NewValidationError(to, "decode decision result: "+err.Error())
		}
		if err := b.Validate(to, &res); err != nil {
			return nil, 0, err
		}
		return b.toSubmission(env.RunID, &res)
	default:
		return nil, 0, eris.Errorf("bridge: no transform targets stage %q", to)
	}
}

// toIndexing dedupes postings by ID and drops malformed ones, counting the
// discards.
func (b *Bridge) toIndexing(runID string, res *model.ExtractionResult) (*model.IndexInput, int, error) {
	if !res.Success {
		return nil, 0, recovery.NewValidationError(model.StageIndexing,
			"extraction result flagged unsuccessful: "+res.Error)
	}
	seen := make(map[string]struct{}, len(res.Postings))
	kept := make([]model.JobPosting, 0, len(res.Postings))
	dropped := 0
	for _, p := range res.Postings {
		if p.ID == "" || p.Title == "" || p.Organization == "" {
			dropped++
			continue
		}
		if _, dup := seen[p.ID]; dup {
			dropped++
			continue
		}
		seen[p.ID] = struct{}{}
		kept = append(kept, p)
	}
	if err := b.validateSample(model.StageIndexing, "posting", len(kept), func(i int) any { return kept[i] }); err != nil {
		return nil, 0, err
	}
	if dropped > 0 {
		zap.L().Warn("bridge: discarded postings",
			zap.String("run_id", runID),
			zap.Int("dropped", dropped),
			zap.Int("kept", len(kept)),
		)
	}
	return &model.IndexInput{RunID: runID, Postings: kept, Dropped: dropped}, dropped, nil
}

// toSubmission keeps submit-flagged decisions ordered by priority then
// score.
func (b *Bridge) toSubmission(runID string, res *model.DecisionResult) (*model.SubmissionInput, int, error) {
	var kept []model.Decision
	for _, d := range res.Decisions {
		if d.Submit {
			kept = append(kept, d)
		}
	}
	sort.SliceStable(kept, func(a, c int) bool {
		if kept[a].Priority != kept[c].Priority {
			return kept[a].Priority > kept[c].Priority
		}
		if kept[a].FinalScore != kept[c].FinalScore {
			return kept[a].FinalScore > kept[c].FinalScore
		}
		return strings.Compare(kept[a].CandidateID, kept[c].CandidateID) < 0
	})
	return &model.SubmissionInput{RunID: runID, Decisions: kept}, 0, nil
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Hits:       b.stats.hits.Load(),
		Misses:     b.stats.misses.Load(),
		Errors:     b.stats.errors.Load(),
		Dropped:    b.stats.dropped.Load(),
		CacheSize:  b.cache.len(),
		Transforms: b.stats.transforms.Load(),
	}
}
