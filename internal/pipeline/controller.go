// Package pipeline sequences the five stages of a run: extraction,
// indexing, matching, decision and submission. Stage work executes as
// scheduler tasks; the decision engine runs in-process.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/seekwell/apply-cli/internal/bridge"
	"github.com/seekwell/apply-cli/internal/checkpoint"
	"github.com/seekwell/apply-cli/internal/config"
	"github.com/seekwell/apply-cli/internal/decision"
	"github.com/seekwell/apply-cli/internal/model"
	"github.com/seekwell/apply-cli/internal/recovery"
	"github.com/seekwell/apply-cli/internal/scheduler"
	"github.com/seekwell/apply-cli/internal/stages"
)

// Task types the controller schedules.
const (
	TaskExtractSource    = "extract.source"
	TaskExtractAggregate = "extract.aggregate"
	TaskIndex            = "index"
	TaskMatch            = "match"
	TaskSubmit           = "submit"
)

// defaultSources is used when the search criteria name none.
var defaultSources = []string{"boardA", "boardB"}

// Controller owns one pipeline run end to end.
type Controller struct {
	cfg    *config.Config
	sched  *scheduler.Scheduler
	bridge *bridge.Bridge
	engine *decision.Engine
	recov  *recovery.Handler
	ckpts  *checkpoint.Manager
	collab stages.Collaborators
}

// New wires a controller and registers its task handlers on the scheduler.
func New(cfg *config.Config, sched *scheduler.Scheduler, br *bridge.Bridge, engine *decision.Engine,
	recov *recovery.Handler, ckpts *checkpoint.Manager, collab stages.Collaborators) *Controller {

	c := &Controller{
		cfg:    cfg,
		sched:  sched,
		bridge: br,
		engine: engine,
		recov:  recov,
		ckpts:  ckpts,
		collab: collab,
	}
	c.registerHandlers()
	if cfg.Submission.RatePerMinute > 0 {
		sched.SetRateLimit(TaskSubmit, cfg.Submission.RatePerMinute)
	}
	return c
}

type sourcePayload struct {
	RunID    string               `json:"run_id"`
	Source   string               `json:"source"`
	Criteria model.SearchCriteria `json:"criteria"`
}

type aggregatePayload struct {
	RunID   string   `json:"run_id"`
	TaskIDs []string `json:"task_ids"`
	Sources []string `json:"sources"`
}

type submitPayload struct {
	RunID    string         `json:"run_id"`
	Decision model.Decision `json:"decision"`
}

func (c *Controller) registerHandlers() {
	c.sched.RegisterHandler(TaskExtractSource, c.handleExtractSource)
	c.sched.RegisterHandler(TaskExtractAggregate, c.handleExtractAggregate)
	c.sched.RegisterHandler(TaskIndex, c.handleIndex)
	c.sched.RegisterHandler(TaskMatch, c.handleMatch)
	c.sched.RegisterHandler(TaskSubmit, c.handleSubmit)
}

// handleExtractSource pulls one source. A source that reports failure in
// its result is not a task failure; the aggregate absorbs it as a degraded
// run.
func (c *Controller) handleExtractSource(ctx context.Context, task *model.Task) (json.RawMessage, error) {
	var p sourcePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return nil, recovery.NewValidationError(model.StageExtraction, "decode source payload: "+err.Error())
	}
	res, err := c.collab.Extractor.Extract(ctx, p.Source, p.Criteria)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: extract source %s", p.Source)
	}
	return json.Marshal(res)
}

// handleExtractAggregate merges the per-source results its dependencies
// produced. It fails only when every source failed.
func (c *Controller) handleExtractAggregate(ctx context.Context, task *model.Task) (json.RawMessage, error) {
	var p aggregatePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return nil, recovery.NewValidationError(model.StageExtraction, "decode aggregate payload: "+err.Error())
	}

	merged := model.ExtractionResult{Success: false}
	var failures []string
	for _, id := range p.TaskIDs {
		view, ok := c.sched.Status(id)
		if !ok || view.Result == nil {
			failures = append(failures, fmt.Sprintf("source task %s produced no result", id))
			continue
		}
		var res model.ExtractionResult
		if err := json.Unmarshal(view.Result, &res); err != nil {
			failures = append(failures, fmt.Sprintf("source task %s: undecodable result", id))
			continue
		}
		if !res.Success {
			failures = append(failures, strings.Join(res.Sources, ",")+": "+res.Error)
			continue
		}
		merged.Success = true
		merged.Postings = append(merged.Postings, res.Postings...)
		merged.Sources = append(merged.Sources, res.Sources...)
	}
	if !merged.Success {
		return nil, recovery.NewError(model.CategoryNetwork, model.SeverityHigh,
			"pipeline: all extraction sources failed: "+strings.Join(failures, "; "))
	}
	if len(failures) > 0 {
		merged.Error = strings.Join(failures, "; ")
		zap.L().Warn("pipeline: partial extraction",
			zap.String("run_id", p.RunID),
			zap.Strings("failed_sources", failures),
		)
	}
	return json.Marshal(&merged)
}

func (c *Controller) handleIndex(ctx context.Context, task *model.Task) (json.RawMessage, error) {
	var in model.IndexInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return nil, recovery.NewValidationError(model.StageIndexing, "decode index input: "+err.Error())
	}
	res, err := c.collab.Indexer.Index(ctx, in)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: index postings")
	}
	if !res.Success {
		return nil, recovery.NewError(model.CategoryProcessing, model.SeverityHigh,
			"pipeline: indexing failed: "+res.Error)
	}
	return json.Marshal(res)
}

func (c *Controller) handleMatch(ctx context.Context, task *model.Task) (json.RawMessage, error) {
	var in model.MatchInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return nil, recovery.NewValidationError(model.StageMatching, "decode match input: "+err.Error())
	}
	res, err := c.collab.Matcher.Match(ctx, in)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: match candidates")
	}
	if !res.Success {
		return nil, recovery.NewError(model.CategoryProcessing, model.SeverityHigh,
			"pipeline: matching failed: "+res.Error)
	}
	return json.Marshal(res)
}

// handleSubmit files one application. A rejected submission is reported in
// the outcome, not as a task failure, so one rejection never aborts the
// batch.
func (c *Controller) handleSubmit(ctx context.Context, task *model.Task) (json.RawMessage, error) {
	var p submitPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return nil, recovery.NewValidationError(model.StageSubmission, "decode submit payload: "+err.Error())
	}
	outcome, err := c.collab.Submitter.Submit(ctx, p.RunID, p.Decision)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: submit application for %s", p.Decision.CandidateID)
	}
	return json.Marshal(outcome)
}

// Run executes the full pipeline for one search. The returned report is
// non-nil whenever a run started, even when it aborted partway.
func (c *Controller) Run(ctx context.Context, criteria model.SearchCriteria, profile model.Profile) (*model.Report, error) {
	if err := c.bridge.Validate(model.StageExtraction, &criteria); err != nil {
		return nil, err
	}
	if err := c.bridge.Validate(model.StageExtraction, &profile); err != nil {
		return nil, err
	}

	run := model.NewRun("run-" + uuid.NewString()[:8])
	if raw, err := json.Marshal(criteria); err == nil {
		run.Metadata["criteria"] = string(raw)
	}
	if raw, err := json.Marshal(profile); err == nil {
		run.Metadata["profile"] = string(raw)
	}
	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("pipeline: run started", zap.Strings("keywords", criteria.Keywords))

	var lastCheckpoint string
	for _, stage := range model.Stages() {
		result, err := c.runStage(ctx, run, stage, profile)
		if err != nil {
			abort, rerr := c.absorbStageFailure(ctx, run, stage, err)
			if abort {
				report := buildReport(run, lastCheckpoint)
				return report, rerr
			}
			// Skipped stage: nothing downstream can run.
			break
		}
		run.SetResult(result)
		if id, cerr := c.checkpointStage(ctx, run, stage); cerr != nil {
			log.Warn("pipeline: checkpoint failed", zap.String("stage", string(stage)), zap.Error(cerr))
		} else if id != "" {
			lastCheckpoint = id
		}
		if !result.Success {
			break
		}
	}

	report := buildReport(run, lastCheckpoint)
	log.Info("pipeline: run finished",
		zap.Bool("success", report.Success),
		zap.Bool("degraded", report.Degraded),
		zap.Int("dropped", report.TotalDropped),
	)
	return report, nil
}

// runStage executes one stage from the run's accumulated results.
func (c *Controller) runStage(ctx context.Context, run *model.Run, stage model.Stage, profile model.Profile) (*model.StageResult, error) {
	started := time.Now()
	var (
		payload json.RawMessage
		dropped int
		err     error
	)
	switch stage {
	case model.StageExtraction:
		payload, err = c.runExtraction(ctx, run)
	case model.StageIndexing:
		payload, dropped, err = c.runIndexing(ctx, run, profile)
	case model.StageMatching:
		payload, err = c.runMatching(ctx, run, profile)
	case model.StageDecision:
		payload, err = c.runDecision(ctx, run, profile)
	case model.StageSubmission:
		payload, dropped, err = c.runSubmission(ctx, run, profile)
	default:
		err = eris.Errorf("pipeline: unknown stage %q", stage)
	}
	if err != nil {
		return nil, err
	}
	return &model.StageResult{
		Stage:      stage,
		Success:    true,
		Payload:    payload,
		Dropped:    dropped,
		DurationMS: time.Since(started).Milliseconds(),
		Produced:   time.Now().UTC(),
	}, nil
}

// runExtraction decomposes the stage into one task per source plus an
// aggregate task gated on all of them.
func (c *Controller) runExtraction(ctx context.Context, run *model.Run) (json.RawMessage, error) {
	var criteria model.SearchCriteria
	if err := json.Unmarshal([]byte(run.Metadata["criteria"]), &criteria); err != nil {
		return nil, eris.Wrap(err, "pipeline: restore criteria")
	}
	sources := criteria.Sources
	if len(sources) == 0 {
		sources = defaultSources
	}

	sourceTasks := make([]*model.Task, 0, len(sources))
	for _, source := range sources {
		raw, err := json.Marshal(sourcePayload{RunID: run.ID, Source: source, Criteria: criteria})
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: encode source payload")
		}
		sourceTasks = append(sourceTasks, &model.Task{
			Type:     TaskExtractSource,
			Priority: model.PriorityHigh,
			Payload:  raw,
			RunID:    run.ID,
		})
	}
	ids, err := c.sched.ScheduleBatch(ctx, sourceTasks)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: schedule extraction sources")
	}

	raw, err := json.Marshal(aggregatePayload{RunID: run.ID, TaskIDs: ids, Sources: sources})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: encode aggregate payload")
	}
	aggID, err := c.sched.Schedule(ctx, &model.Task{
		Type:      TaskExtractAggregate,
		Priority:  model.PriorityHigh,
		Payload:   raw,
		DependsOn: ids,
		RunID:     run.ID,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: schedule extraction aggregate")
	}
	return c.awaitTask(ctx, aggID, model.StageExtraction)
}

func (c *Controller) runIndexing(ctx context.Context, run *model.Run, profile model.Profile) (json.RawMessage, int, error) {
	prev, ok := run.Result(model.StageExtraction)
	if !ok {
		return nil, 0, eris.New("pipeline: indexing requires an extraction result")
	}
	input, err := c.bridge.Transform(ctx, model.StageIndexing, &bridge.Envelope{
		RunID:   run.ID,
		Profile: profile,
		Payload: prev.Payload,
	})
	if err != nil {
		return nil, 0, err
	}
	var in model.IndexInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: decode bridged index input")
	}

	id, err := c.sched.Schedule(ctx, &model.Task{
		Type:     TaskIndex,
		Priority: model.PriorityHigh,
		Payload:  input,
		RunID:    run.ID,
	})
	if err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: schedule indexing")
	}
	payload, err := c.awaitTask(ctx, id, model.StageIndexing)
	return payload, in.Dropped, err
}

func (c *Controller) runMatching(ctx context.Context, run *model.Run, profile model.Profile) (json.RawMessage, error) {
	prev, ok := run.Result(model.StageIndexing)
	if !ok {
		return nil, eris.New("pipeline: matching requires an indexing result")
	}
	input, err := c.bridge.Transform(ctx, model.StageMatching, &bridge.Envelope{
		RunID:   run.ID,
		Profile: profile,
		Payload: prev.Payload,
	})
	if err != nil {
		return nil, err
	}
	id, err := c.sched.Schedule(ctx, &model.Task{
		Type:     TaskMatch,
		Priority: model.PriorityHigh,
		Payload:  input,
		RunID:    run.ID,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: schedule matching")
	}
	return c.awaitTask(ctx, id, model.StageMatching)
}

// runDecision runs the engine in-process; scoring needs no worker slot.
func (c *Controller) runDecision(ctx context.Context, run *model.Run, profile model.Profile) (json.RawMessage, error) {
	prev, ok := run.Result(model.StageMatching)
	if !ok {
		return nil, eris.New("pipeline: decision requires a matching result")
	}
	input, err := c.bridge.Transform(ctx, model.StageDecision, &bridge.Envelope{
		RunID:   run.ID,
		Profile: profile,
		Payload: prev.Payload,
	})
	if err != nil {
		return nil, err
	}
	var in model.DecisionInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, eris.Wrap(err, "pipeline: decode bridged decision input")
	}

	criteria := decision.CriteriaFromConfig(c.cfg.Decision, c.cfg.Submission)
	if criteria.MinSalary == 0 {
		criteria.MinSalary = profile.MinSalary
	}
	if len(criteria.PreferredLocations) == 0 {
		criteria.PreferredLocations = profile.Locations
	}
	batch, err := c.engine.Decide(in.Candidates, criteria)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&model.DecisionResult{
		Success:     true,
		Decisions:   batch.Decisions,
		Recommended: batch.Recommended,
	})
}

// runSubmission schedules one task per submit-flagged decision and merges
// the outcomes. Failed submissions degrade the run instead of failing the
// stage; dropped counts the rejections.
func (c *Controller) runSubmission(ctx context.Context, run *model.Run, profile model.Profile) (json.RawMessage, int, error) {
	prev, ok := run.Result(model.StageDecision)
	if !ok {
		return nil, 0, eris.New("pipeline: submission requires a decision result")
	}
	input, err := c.bridge.Transform(ctx, model.StageSubmission, &bridge.Envelope{
		RunID:   run.ID,
		Profile: profile,
		Payload: prev.Payload,
	})
	if err != nil {
		return nil, 0, err
	}
	var in model.SubmissionInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: decode bridged submission input")
	}

	result := model.SubmissionResult{Success: true, Outcomes: []model.SubmissionOutcome{}}
	if len(in.Decisions) == 0 {
		raw, err := json.Marshal(&result)
		return raw, 0, err
	}

	tasks := make([]*model.Task, 0, len(in.Decisions))
	for _, d := range in.Decisions {
		raw, err := json.Marshal(submitPayload{RunID: run.ID, Decision: d})
		if err != nil {
			return nil, 0, eris.Wrap(err, "pipeline: encode submit payload")
		}
		tasks = append(tasks, &model.Task{
			Type:     TaskSubmit,
			Priority: d.Priority,
			Payload:  raw,
			RunID:    run.ID,
		})
	}
	ids, err := c.sched.ScheduleBatch(ctx, tasks)
	if err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: schedule submissions")
	}

	for i, id := range ids {
		view, err := c.sched.Wait(ctx, id)
		if err != nil {
			return nil, 0, eris.Wrap(err, "pipeline: await submission")
		}
		outcome := model.SubmissionOutcome{
			CandidateID: in.Decisions[i].CandidateID,
			Submitted:   false,
			Error:       view.Error,
			At:          time.Now().UTC(),
		}
		if view.Status == model.TaskCompleted && view.Result != nil {
			if err := json.Unmarshal(view.Result, &outcome); err != nil {
				outcome.Error = "undecodable submission outcome"
			}
		}
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.Submitted {
			result.Submitted++
		} else {
			result.Failed++
		}
	}
	raw, err := json.Marshal(&result)
	return raw, result.Failed, err
}

// awaitTask blocks until the task reaches a terminal state and returns its
// result payload. A failed task surfaces as a stage error.
func (c *Controller) awaitTask(ctx context.Context, id string, stage model.Stage) (json.RawMessage, error) {
	view, err := c.sched.Wait(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: await %s task", stage)
	}
	if view.Status != model.TaskCompleted {
		return nil, eris.Errorf("pipeline: %s task %s %s: %s", stage, view.ID, view.Status, view.Error)
	}
	return view.Result, nil
}

// absorbStageFailure consults recovery for a stage-level failure. It
// returns abort=true when the strategy must surface to the caller; other
// strategies record the failed stage and let the run end degraded.
func (c *Controller) absorbStageFailure(ctx context.Context, run *model.Run, stage model.Stage, err error) (bool, error) {
	res, herr := c.recov.Handle(ctx, err, recovery.ErrContext{
		RunID:    run.ID,
		Stage:    stage,
		TaskType: "stage." + string(stage),
		// Scheduler-level retries are already spent by the time a stage
		// failure reaches the controller.
		Attempt:     1,
		MaxAttempts: 1,
	})
	if herr != nil {
		zap.L().Error("pipeline: recovery handling failed", zap.Error(herr))
		run.SetResult(failedStageResult(stage, err))
		return true, eris.Wrapf(err, "pipeline: stage %s failed", stage)
	}
	run.SetResult(failedStageResult(stage, err))
	if res.Strategy.Surfaced() {
		return true, eris.Wrapf(err, "pipeline: stage %s failed (%s)", stage, res.Strategy)
	}
	zap.L().Warn("pipeline: stage failure absorbed",
		zap.String("run_id", run.ID),
		zap.String("stage", string(stage)),
		zap.String("strategy", string(res.Strategy)),
		zap.Error(err),
	)
	return false, nil
}

func failedStageResult(stage model.Stage, err error) *model.StageResult {
	return &model.StageResult{
		Stage:    stage,
		Success:  false,
		Error:    err.Error(),
		Produced: time.Now().UTC(),
	}
}

// checkpointStage persists the run's accumulated results at a stage
// boundary, honoring the configured interval.
func (c *Controller) checkpointStage(ctx context.Context, run *model.Run, stage model.Stage) (string, error) {
	interval := c.cfg.Checkpoint.IntervalStages
	if interval <= 0 {
		interval = 1
	}
	if (stage.Index()+1)%interval != 0 && stage != model.StageSubmission {
		return "", nil
	}
	state, err := json.Marshal(model.CheckpointState{
		Results:  run.Results,
		Metadata: run.Metadata,
	})
	if err != nil {
		return "", eris.Wrap(err, "pipeline: encode checkpoint state")
	}
	return c.ckpts.Create(ctx, run.ID, stage, state, map[string]string{
		"stage": string(stage),
	})
}

// RunStage restores the latest checkpoint for a run and re-executes a
// single stage, including its inbound transform.
func (c *Controller) RunStage(ctx context.Context, runID string, stage model.Stage) (*model.Report, error) {
	run, lastCheckpoint, err := c.restoreRun(ctx, runID, stage)
	if err != nil {
		return nil, err
	}
	var profile model.Profile
	if raw, ok := run.Metadata["profile"]; ok {
		if err := json.Unmarshal([]byte(raw), &profile); err != nil {
			return nil, eris.Wrap(err, "pipeline: restore profile")
		}
	}

	// Drop any stale result for the stage being re-run; results at or
	// beyond it are superseded.
	for _, s := range model.Stages() {
		if s.Index() >= stage.Index() {
			delete(run.Results, s)
		}
	}

	result, err := c.runStage(ctx, run, stage, profile)
	if err != nil {
		abort, rerr := c.absorbStageFailure(ctx, run, stage, err)
		report := buildReport(run, lastCheckpoint)
		if abort {
			return report, rerr
		}
		return report, nil
	}
	run.SetResult(result)
	if id, cerr := c.checkpointStage(ctx, run, stage); cerr != nil {
		zap.L().Warn("pipeline: checkpoint failed", zap.String("stage", string(stage)), zap.Error(cerr))
	} else if id != "" {
		lastCheckpoint = id
	}
	return buildReport(run, lastCheckpoint), nil
}

// restoreRun rebuilds run state from the newest checkpoint at or before
// the stage's predecessor.
func (c *Controller) restoreRun(ctx context.Context, runID string, stage model.Stage) (*model.Run, string, error) {
	var (
		cp  *model.Checkpoint
		err error
	)
	// Walk predecessors newest-first until a checkpoint turns up. For
	// extraction any checkpoint serves; it only needs the run metadata.
	start := stage.Index() - 1
	if stage == model.StageExtraction {
		start = len(model.Stages()) - 1
	}
	for i := start; i >= 0 && cp == nil; i-- {
		cp, err = c.ckpts.FindLatest(ctx, runID, model.Stages()[i])
		if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
			return nil, "", eris.Wrap(err, "pipeline: find checkpoint")
		}
	}
	if cp == nil {
		return nil, "", eris.Errorf("pipeline: no checkpoint for run %s before stage %s", runID, stage)
	}

	var state model.CheckpointState
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return nil, "", eris.Wrap(err, "pipeline: decode checkpoint state")
	}
	run := model.NewRun(runID)
	if state.Results != nil {
		run.Results = state.Results
	}
	if state.Metadata != nil {
		run.Metadata = state.Metadata
	}
	return run, cp.ID, nil
}
