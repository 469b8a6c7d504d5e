package checkpoint

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seekwell/apply-cli/internal/model"
)

func TestManager_CreateRestoreRoundTrip(t *testing.T) {
	m := NewManager(newTestStore(t), 8)
	ctx := context.Background()

	state := json.RawMessage(`{"results":{"matching":{"stage":"matching","success":true}}}`)
	id, err := m.Create(ctx, "run-1", model.StageMatching, state, map[string]string{"trigger": "stage-boundary"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := m.Restore(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, model.StageMatching, got.Stage)
	assert.JSONEq(t, string(state), string(got.State))
}

func TestManager_RestoreColdCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	writer := NewManager(store, 8)
	id, err := writer.Create(ctx, "run-1", model.StageIndexing, json.RawMessage(`{"results":{}}`), nil)
	require.NoError(t, err)

	// Fresh manager over the same store: restore must hit durable storage.
	reader := NewManager(store, 8)
	got, err := reader.Restore(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StageIndexing, got.Stage)
}

func TestManager_RestoreRejectsSchemaMismatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := testCheckpoint("cp-old", "run-1", model.StageExtraction, time.Now().UTC())
	old.SchemaVersion = model.CheckpointSchemaVersion + 1
	require.NoError(t, store.Save(ctx, old))

	m := NewManager(store, 8)
	_, err := m.Restore(ctx, "cp-old")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema version")
}

func TestManager_FindLatest(t *testing.T) {
	m := NewManager(newTestStore(t), 8)
	ctx := context.Background()

	_, err := m.Create(ctx, "run-1", model.StageExtraction, json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = m.Create(ctx, "run-1", model.StageIndexing, json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	latestID, err := m.Create(ctx, "run-1", model.StageMatching, json.RawMessage(`{}`), nil)
	require.NoError(t, err)

	latest, err := m.FindLatest(ctx, "run-1", "")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, latestID, latest.ID)

	// Stage-filtered lookup.
	byStage, err := m.FindLatest(ctx, "run-1", model.StageIndexing)
	require.NoError(t, err)
	require.NotNil(t, byStage)
	assert.Equal(t, model.StageIndexing, byStage.Stage)

	// Unknown run.
	none, err := m.FindLatest(ctx, "run-404", "")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestManager_CacheEviction(t *testing.T) {
	m := NewManager(newTestStore(t), 2)
	ctx := context.Background()

	var ids []string
	for _, stage := range []model.Stage{model.StageExtraction, model.StageIndexing, model.StageMatching} {
		id, err := m.Create(ctx, "run-1", stage, json.RawMessage(`{}`), nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Oldest entry evicted from cache but still restorable from the store.
	assert.Len(t, m.cache, 2)
	got, err := m.Restore(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.StageExtraction, got.Stage)
}
