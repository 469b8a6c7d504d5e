package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seekwell/apply-cli/internal/bridge"
	"github.com/seekwell/apply-cli/internal/checkpoint"
	"github.com/seekwell/apply-cli/internal/config"
	"github.com/seekwell/apply-cli/internal/decision"
	"github.com/seekwell/apply-cli/internal/model"
	"github.com/seekwell/apply-cli/internal/recovery"
	"github.com/seekwell/apply-cli/internal/scheduler"
	"github.com/seekwell/apply-cli/internal/stages"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Scheduler: config.SchedulerConfig{
			Workers:          4,
			QueueCapacity:    64,
			TaskTimeoutSecs:  5,
			RequeueDelayMs:   5,
			HistoryLimit:     64,
			MonitorEverySecs: 1,
		},
		Retry: config.RetryConfig{
			MaxAttempts:      2,
			InitialBackoffMs: 5,
			MaxBackoffMs:     20,
			Multiplier:       2,
			JitterFraction:   0,
		},
		Checkpoint: config.CheckpointConfig{IntervalStages: 1, CacheSize: 16},
		Decision: config.DecisionConfig{
			SubmitThreshold:   0.55,
			PriorityThreshold: 0.75,
			UrgentThreshold:   0.85,
			Weights:           config.DefaultWeights(),
		},
		Submission: config.SubmissionConfig{
			MaxPerDay:          10,
			MaxPerOrganization: 2,
		},
	}
}

func newTestController(t *testing.T, cfg *config.Config, scripted *stages.Scripted) (*Controller, *checkpoint.Manager) {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	store, err := checkpoint.NewSQLite(ctx, filepath.Join(dir, "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ckpts := checkpoint.NewManager(store, cfg.Checkpoint.CacheSize)

	log, err := recovery.NewLog(filepath.Join(dir, "errors"))
	require.NoError(t, err)
	recov := recovery.NewHandler(cfg.Retry, log, recovery.NewHistory(64), ckpts)

	sched := scheduler.New(cfg.Scheduler, cfg.Retry, recov)
	sched.Start(ctx)
	t.Cleanup(sched.Stop)

	c := New(cfg, sched, bridge.New(), decision.New(), recov, ckpts, scripted.Collaborators())
	return c, ckpts
}

func runCriteria() model.SearchCriteria {
	return model.SearchCriteria{
		Keywords:  []string{"go"},
		Locations: []string{"Berlin", "remote"},
		Sources:   []string{"boardA", "boardB"},
	}
}

func runProfile() model.Profile {
	return model.Profile{
		Name:      "Ada Lovelace",
		Skills:    []string{"go", "systems"},
		Locations: []string{"Berlin", "remote"},
		MinSalary: 40000,
	}
}

func TestRun_FullPipeline(t *testing.T) {
	c, _ := newTestController(t, testConfig(t), stages.NewScripted())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	report, err := c.Run(ctx, runCriteria(), runProfile())
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.True(t, report.Success, "report error: %s", report.Error)
	require.Len(t, report.Stages, 5)
	for _, s := range report.Stages {
		assert.True(t, s.Success, "stage %s: %s", s.Stage, s.Error)
		assert.False(t, s.Skipped)
	}
	assert.NotEmpty(t, report.LastCheckpointID)
}

func TestRun_InvalidCriteria(t *testing.T) {
	c, _ := newTestController(t, testConfig(t), stages.NewScripted())

	_, err := c.Run(context.Background(), model.SearchCriteria{}, runProfile())
	require.Error(t, err)

	perr, ok := recovery.AsPipelineError(err)
	require.True(t, ok)
	assert.Equal(t, model.CategoryValidation, perr.Category)
}

func TestRun_PartialExtractionIsDegraded(t *testing.T) {
	scripted := stages.NewScripted()
	scripted.FailSources = map[string]string{"boardB": "board unreachable"}
	c, _ := newTestController(t, testConfig(t), scripted)

	report, err := c.Run(context.Background(), runCriteria(), runProfile())
	require.NoError(t, err)

	assert.True(t, report.Success, "report error: %s", report.Error)
	assert.True(t, report.Degraded)
}

func TestRun_AllSourcesFailedEndsRun(t *testing.T) {
	scripted := stages.NewScripted()
	scripted.FailSources = map[string]string{
		"boardA": "board unreachable",
		"boardB": "board unreachable",
	}
	c, _ := newTestController(t, testConfig(t), scripted)

	report, err := c.Run(context.Background(), runCriteria(), runProfile())
	require.NoError(t, err)

	assert.False(t, report.Success)
	assert.False(t, report.Stages[0].Success)
	for _, s := range report.Stages[1:] {
		assert.True(t, s.Skipped, "stage %s should be skipped", s.Stage)
	}
}

func TestRun_FailedSubmissionsDegradeRun(t *testing.T) {
	scripted := stages.NewScripted()
	scripted.FailSubmissions = map[string]string{}
	for _, source := range []string{"boardA", "boardB"} {
		for i := 0; i < 6; i++ {
			scripted.FailSubmissions[fmt.Sprintf("%s-%d", source, i)] = "form rejected"
		}
	}
	cfg := testConfig(t)
	// Low threshold so the run has submissions to fail.
	cfg.Decision.SubmitThreshold = 0.30
	cfg.Decision.PriorityThreshold = 0.80
	c, _ := newTestController(t, cfg, scripted)

	report, err := c.Run(context.Background(), runCriteria(), runProfile())
	require.NoError(t, err)
	require.True(t, report.Success, "report error: %s", report.Error)

	var sub model.StageSummary
	for _, s := range report.Stages {
		if s.Stage == model.StageSubmission {
			sub = s
		}
	}
	assert.Positive(t, sub.Dropped)
	assert.True(t, report.Degraded)
}

func TestRun_ChecksCheckpointsPerStage(t *testing.T) {
	cfg := testConfig(t)
	c, ckpts := newTestController(t, cfg, stages.NewScripted())

	report, err := c.Run(context.Background(), runCriteria(), runProfile())
	require.NoError(t, err)
	require.True(t, report.Success)

	for _, stage := range model.Stages() {
		cp, err := ckpts.FindLatest(context.Background(), report.RunID, stage)
		require.NoError(t, err, "stage %s", stage)
		require.NotNil(t, cp, "stage %s", stage)
		assert.Equal(t, model.CheckpointSchemaVersion, cp.SchemaVersion)
	}
}

func TestRunStage_ReRunsSingleStage(t *testing.T) {
	c, _ := newTestController(t, testConfig(t), stages.NewScripted())

	full, err := c.Run(context.Background(), runCriteria(), runProfile())
	require.NoError(t, err)
	require.True(t, full.Success)

	report, err := c.RunStage(context.Background(), full.RunID, model.StageDecision)
	require.NoError(t, err)

	var decisionStage, submissionStage model.StageSummary
	for _, s := range report.Stages {
		switch s.Stage {
		case model.StageDecision:
			decisionStage = s
		case model.StageSubmission:
			submissionStage = s
		}
	}
	assert.True(t, decisionStage.Success, "decision stage error: %s", decisionStage.Error)
	// Stages downstream of the re-run stage are not executed again.
	assert.True(t, submissionStage.Skipped)
	assert.NotEmpty(t, report.LastCheckpointID)
}

func TestRunStage_UnknownRun(t *testing.T) {
	c, _ := newTestController(t, testConfig(t), stages.NewScripted())

	_, err := c.RunStage(context.Background(), "run-missing", model.StageMatching)
	require.Error(t, err)
}

func TestRenderReport_Formats(t *testing.T) {
	report := &model.Report{
		RunID:   "run-1",
		Success: true,
		Stages: []model.StageSummary{
			{Stage: model.StageExtraction, Success: true, DurationMS: 12},
			{Stage: model.StageIndexing, Success: true},
		},
	}

	var text bytes.Buffer
	require.NoError(t, RenderReport(&text, report, "text"))
	assert.Contains(t, text.String(), "Run run-1")
	assert.Contains(t, text.String(), "Extraction")

	var jsonBuf bytes.Buffer
	require.NoError(t, RenderReport(&jsonBuf, report, "json"))
	var decoded model.Report
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded.RunID)

	var yamlBuf bytes.Buffer
	require.NoError(t, RenderReport(&yamlBuf, report, "yaml"))
	assert.Contains(t, yamlBuf.String(), "run_id: run-1")

	require.Error(t, RenderReport(&bytes.Buffer{}, report, "xml"))
}

func TestBuildReport_FailureAndSkips(t *testing.T) {
	run := model.NewRun("run-1")
	run.SetResult(&model.StageResult{Stage: model.StageExtraction, Success: true, Dropped: 2, Produced: time.Now()})
	run.SetResult(&model.StageResult{Stage: model.StageIndexing, Success: false, Error: "index build failed", Produced: time.Now()})

	report := buildReport(run, "cp-1")
	assert.False(t, report.Success)
	assert.True(t, report.Degraded)
	assert.Equal(t, 2, report.TotalDropped)
	assert.Contains(t, report.Error, "index build failed")
	assert.Equal(t, "cp-1", report.LastCheckpointID)
	assert.True(t, report.Stages[2].Skipped)
}
