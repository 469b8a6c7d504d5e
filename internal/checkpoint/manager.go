package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/seekwell/apply-cli/internal/model"
)

// Manager wraps a durable Store with an in-memory cache for fast
// restoration and implements the checkpoint contract: create, restore,
// find-latest.
type Manager struct {
	store Store

	mu    sync.Mutex
	cache map[string]*model.Checkpoint
	order []string // insertion order for eviction
	limit int
}

// NewManager creates a Manager caching at most cacheSize checkpoints.
func NewManager(store Store, cacheSize int) *Manager {
	if cacheSize < 1 {
		cacheSize = 1
	}
	return &Manager{
		store: store,
		cache: make(map[string]*model.Checkpoint),
		limit: cacheSize,
	}
}

// Create persists a snapshot of the run's state at a stage boundary and
// returns the checkpoint identity. Identities are deterministic in shape:
// run, stage and creation time joined with a random suffix, so later
// checkpoints supersede rather than overwrite.
func (m *Manager) Create(ctx context.Context, runID string, stage model.Stage, state json.RawMessage, metadata map[string]string) (string, error) {
	now := time.Now().UTC()
	cp := &model.Checkpoint{
		ID:            fmt.Sprintf("%s-%s-%d-%s", runID, stage, now.UnixNano(), uuid.New().String()[:8]),
		RunID:         runID,
		Stage:         stage,
		SchemaVersion: model.CheckpointSchemaVersion,
		State:         state,
		Metadata:      metadata,
		CreatedAt:     now,
	}

	if err := m.store.Save(ctx, cp); err != nil {
		return "", err
	}
	m.cachePut(cp)

	zap.L().Debug("checkpoint: created",
		zap.String("checkpoint_id", cp.ID),
		zap.String("run_id", runID),
		zap.String("stage", string(stage)),
	)
	return cp.ID, nil
}

// Restore loads a checkpoint by identity, checking schema compatibility.
func (m *Manager) Restore(ctx context.Context, id string) (*model.Checkpoint, error) {
	m.mu.Lock()
	cp, ok := m.cache[id]
	m.mu.Unlock()

	if !ok {
		var err error
		cp, err = m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		m.cachePut(cp)
	}

	if cp.SchemaVersion != model.CheckpointSchemaVersion {
		return nil, eris.Errorf("checkpoint: schema version %d incompatible with current %d",
			cp.SchemaVersion, model.CheckpointSchemaVersion)
	}
	return cp, nil
}

// FindLatest returns the most recent checkpoint for a run, optionally
// restricted to one stage. Both the cache and durable storage are scanned,
// picking the maximum by creation timestamp. Returns nil when the run has
// no checkpoint.
func (m *Manager) FindLatest(ctx context.Context, runID string, stage model.Stage) (*model.Checkpoint, error) {
	var latest *model.Checkpoint

	consider := func(cp *model.Checkpoint) {
		if cp.RunID != runID {
			return
		}
		if stage != "" && cp.Stage != stage {
			return
		}
		if cp.SchemaVersion != model.CheckpointSchemaVersion {
			return
		}
		if latest == nil || cp.CreatedAt.After(latest.CreatedAt) {
			latest = cp
		}
	}

	m.mu.Lock()
	for _, cp := range m.cache {
		consider(cp)
	}
	m.mu.Unlock()

	stored, err := m.store.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	for _, cp := range stored {
		consider(cp)
	}

	return latest, nil
}

// ListByRun returns every durable checkpoint for a run.
func (m *Manager) ListByRun(ctx context.Context, runID string) ([]*model.Checkpoint, error) {
	return m.store.ListByRun(ctx, runID)
}

func (m *Manager) cachePut(cp *model.Checkpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.cache[cp.ID]; exists {
		return
	}
	m.cache[cp.ID] = cp
	m.order = append(m.order, cp.ID)
	for len(m.order) > m.limit {
		evict := m.order[0]
		m.order = m.order[1:]
		delete(m.cache, evict)
	}
}
