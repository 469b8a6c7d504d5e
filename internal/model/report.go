package model

import "time"

// StageSummary is one stage's line in the execution report.
type StageSummary struct {
	Stage      Stage  `json:"stage" yaml:"stage"`
	Success    bool   `json:"success" yaml:"success"`
	Dropped    int    `json:"dropped,omitempty" yaml:"dropped,omitempty"`
	DurationMS int64  `json:"duration_ms" yaml:"duration_ms"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
	Skipped    bool   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// Report is the structured output of one pipeline run. Degraded means the
// run completed but some elements were skipped or dropped along the way.
type Report struct {
	RunID            string         `json:"run_id" yaml:"run_id"`
	StartedAt        time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt       time.Time      `json:"finished_at" yaml:"finished_at"`
	Stages           []StageSummary `json:"stages" yaml:"stages"`
	Success          bool           `json:"success" yaml:"success"`
	Degraded         bool           `json:"degraded" yaml:"degraded"`
	TotalDropped     int            `json:"total_dropped" yaml:"total_dropped"`
	WallClockMS      int64          `json:"wall_clock_ms" yaml:"wall_clock_ms"`
	Error            string         `json:"error,omitempty" yaml:"error,omitempty"`
	LastCheckpointID string         `json:"last_checkpoint_id,omitempty" yaml:"last_checkpoint_id,omitempty"`
}
