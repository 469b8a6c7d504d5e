package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seekwell/apply-cli/internal/config"
	"github.com/seekwell/apply-cli/internal/model"
)

// CheckpointFinder locates the most recent checkpoint for a run. Satisfied
// by checkpoint.Manager.
type CheckpointFinder interface {
	FindLatest(ctx context.Context, runID string, stage model.Stage) (*model.Checkpoint, error)
}

// FallbackFunc is a per-error-type recovery hook tried before checkpoint
// restoration.
type FallbackFunc func(ctx context.Context, record *model.ErrorRecord) error

// ErrContext carries the failure's origin into classification and
// recovery.
type ErrContext struct {
	RunID       string
	Stage       model.Stage
	TaskID      string
	TaskType    string
	Attempt     int
	MaxAttempts int
	Extra       map[string]string
}

// exhausted reports whether the retry budget is spent. A zero MaxAttempts
// means the context carries no budget and never exhausts.
func (c ErrContext) exhausted() bool {
	return c.MaxAttempts > 0 && c.Attempt >= c.MaxAttempts
}

// Result is the outcome of handling one error.
type Result struct {
	Record       *model.ErrorRecord
	Strategy     Strategy
	Resolved     bool
	RetryDelay   time.Duration
	CheckpointID string
	Checkpoint   *model.Checkpoint
}

// Handler classifies failures, selects and executes recovery strategies,
// and records every handled error durably and in memory.
type Handler struct {
	retry       config.RetryConfig
	log         *Log
	history     *History
	checkpoints CheckpointFinder

	mu        sync.RWMutex
	fallbacks map[string]FallbackFunc
}

// NewHandler creates a recovery handler. log and checkpoints may be nil
// (no durable sink, no checkpoint fallback).
func NewHandler(retry config.RetryConfig, log *Log, history *History, checkpoints CheckpointFinder) *Handler {
	if history == nil {
		history = NewHistory(1000)
	}
	return &Handler{
		retry:       retry,
		log:         log,
		history:     history,
		checkpoints: checkpoints,
		fallbacks:   make(map[string]FallbackFunc),
	}
}

// RegisterFallback installs a per-error-type recovery hook. The type key
// matches ErrorRecord.Type (the originating error's Go type name).
func (h *Handler) RegisterFallback(errType string, fn FallbackFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fallbacks[errType] = fn
}

// History exposes the in-memory error history.
func (h *Handler) History() *History {
	return h.history
}

// Handle captures, classifies and recovers from one failure. Strategies
// retry, skip and fallback are handled locally; restart, manual and abort
// are surfaced through Result.Strategy for the caller to act on.
func (h *Handler) Handle(ctx context.Context, err error, ectx ErrContext) (*Result, error) {
	if err == nil {
		return nil, nil
	}

	category, severity := Classify(err)
	record := h.newRecord(err, category, severity, ectx)
	strategy := SelectStrategy(category, severity, ectx.exhausted())

	result := &Result{Record: record, Strategy: strategy}

	log := zap.L().With(
		zap.String("error_id", record.ID),
		zap.String("category", string(category)),
		zap.String("severity", string(severity)),
		zap.String("strategy", string(strategy)),
		zap.String("run_id", ectx.RunID),
		zap.String("task_id", ectx.TaskID),
	)

	switch strategy {
	case StrategyRetry:
		result.RetryDelay = Backoff(ectx.Attempt, h.retry)
		log.Info("recovery: scheduling retry",
			zap.Int("attempt", ectx.Attempt),
			zap.Duration("delay", result.RetryDelay),
		)

	case StrategySkip:
		record.Resolve(time.Now())
		result.Resolved = true
		log.Info("recovery: skipping past error")

	case StrategyFallback:
		h.executeFallback(ctx, record, ectx, result, log)

	case StrategyRestart, StrategyManual, StrategyAbort:
		log.Warn("recovery: surfacing to caller", zap.Error(err))
	}

	h.history.Append(record)
	if h.log != nil {
		if logErr := h.log.Append(record); logErr != nil {
			log.Warn("recovery: durable log append failed", zap.Error(logErr))
		}
	}

	return result, nil
}

// executeFallback tries a registered per-type handler first, then falls
// back to restoring the most recent checkpoint for the run.
func (h *Handler) executeFallback(ctx context.Context, record *model.ErrorRecord, ectx ErrContext, result *Result, log *zap.Logger) {
	h.mu.RLock()
	fn, ok := h.fallbacks[record.Type]
	h.mu.RUnlock()

	if ok {
		if fbErr := fn(ctx, record); fbErr == nil {
			record.Resolve(time.Now())
			result.Resolved = true
			log.Info("recovery: fallback handler resolved error")
			return
		} else {
			log.Warn("recovery: fallback handler failed", zap.Error(fbErr))
		}
	}

	if h.checkpoints == nil || ectx.RunID == "" {
		return
	}
	cp, cpErr := h.checkpoints.FindLatest(ctx, ectx.RunID, "")
	if cpErr != nil || cp == nil {
		log.Warn("recovery: no checkpoint available for fallback", zap.Error(cpErr))
		return
	}

	record.Resolve(time.Now())
	result.Resolved = true
	result.CheckpointID = cp.ID
	result.Checkpoint = cp
	log.Info("recovery: fallback restored checkpoint", zap.String("checkpoint_id", cp.ID))
}

func (h *Handler) newRecord(err error, category model.Category, severity model.Severity, ectx ErrContext) *model.ErrorRecord {
	context := map[string]string{}
	for k, v := range ectx.Extra {
		context[k] = v
	}
	if ectx.RunID != "" {
		context["run_id"] = ectx.RunID
	}
	if ectx.Stage != "" {
		context["stage"] = string(ectx.Stage)
	}
	if ectx.TaskID != "" {
		context["task_id"] = ectx.TaskID
	}
	if ectx.TaskType != "" {
		context["task_type"] = ectx.TaskType
	}

	return &model.ErrorRecord{
		ID:        uuid.New().String(),
		Type:      fmt.Sprintf("%T", err),
		Message:   err.Error(),
		Severity:  severity,
		Category:  category,
		Timestamp: time.Now().UTC(),
		Context:   context,
	}
}
