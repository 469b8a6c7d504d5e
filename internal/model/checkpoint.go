package model

import (
	"encoding/json"
	"time"
)

// CheckpointSchemaVersion is written into every checkpoint and checked on
// restore. Bump when the state envelope changes shape.
const CheckpointSchemaVersion = 1

// Checkpoint is a named, timestamped snapshot of a run's accumulated stage
// state at a stage boundary. Read-only once persisted; later checkpoints
// for the same run supersede, never overwrite.
type Checkpoint struct {
	ID            string            `json:"id"`
	RunID         string            `json:"run_id"`
	Stage         Stage             `json:"stage"`
	SchemaVersion int               `json:"schema_version"`
	State         json.RawMessage   `json:"state"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// CheckpointState is the envelope serialized into Checkpoint.State: the
// run's stage results accumulated so far.
type CheckpointState struct {
	Results  map[Stage]*StageResult `json:"results"`
	Metadata map[string]string      `json:"metadata,omitempty"`
}
