package model

import (
	"encoding/json"
	"time"
)

// StageResult is the immutable output of one stage execution.
type StageResult struct {
	Stage      Stage           `json:"stage"`
	Success    bool            `json:"success"`
	Error      string          `json:"error,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Dropped    int             `json:"dropped,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Produced   time.Time       `json:"produced_at"`
}

// Run is one end-to-end pipeline execution. It is owned by the controller
// for its lifetime; only checkpoints outlive it.
type Run struct {
	ID        string                 `json:"id"`
	StartedAt time.Time              `json:"started_at"`
	Results   map[Stage]*StageResult `json:"results"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// NewRun creates a run with the given identity.
func NewRun(id string) *Run {
	return &Run{
		ID:        id,
		StartedAt: time.Now().UTC(),
		Results:   make(map[Stage]*StageResult),
		Metadata:  make(map[string]string),
	}
}

// SetResult records a stage result. The first write for a stage wins;
// stage results are immutable once produced.
func (r *Run) SetResult(res *StageResult) bool {
	if _, exists := r.Results[res.Stage]; exists {
		return false
	}
	r.Results[res.Stage] = res
	return true
}

// Result returns the recorded result for a stage, if any.
func (r *Run) Result(stage Stage) (*StageResult, bool) {
	res, ok := r.Results[stage]
	return res, ok
}

// LastCompleted returns the latest stage in execution order that has a
// successful result, or false if none has completed.
func (r *Run) LastCompleted() (Stage, bool) {
	var last Stage
	found := false
	for _, s := range Stages() {
		if res, ok := r.Results[s]; ok && res.Success {
			last = s
			found = true
		}
	}
	return last, found
}
