package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seekwell/apply-cli/internal/model"
	"github.com/seekwell/apply-cli/internal/recovery"
)

// dispatch pulls tasks off the tier queues and hands them to workers
// bounded by the semaphore.
func (s *Scheduler) dispatch(ctx context.Context) {
	defer close(s.doneCh)

	for {
		id, ok := s.queues.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-s.queues.notify:
				continue
			}
		}

		s.mu.RLock()
		rec, exists := s.tasks[id]
		s.mu.RUnlock()
		if !exists {
			continue
		}

		// Cancelled while queued: already terminal, just drop the entry.
		s.mu.RLock()
		status := rec.task.Status
		s.mu.RUnlock()
		if status == model.TaskCancelled {
			continue
		}

		if !s.dependenciesReady(rec) {
			continue
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(rec *taskRecord) {
			defer s.sem.Release(1)
			s.execute(ctx, rec)
		}(rec)
	}
}

// dependenciesReady checks the task's dependency list. A task runs only
// after every dependency is completed. Unfinished dependencies requeue the
// task with a short backoff rather than busy-looping; a failed or
// cancelled dependency fails the task outright.
func (s *Scheduler) dependenciesReady(rec *taskRecord) bool {
	if len(rec.task.DependsOn) == 0 {
		return true
	}

	s.mu.RLock()
	var blocked, broken string
	for _, depID := range rec.task.DependsOn {
		dep, ok := s.tasks[depID]
		if !ok {
			broken = depID
			break
		}
		switch dep.task.Status {
		case model.TaskCompleted:
		case model.TaskFailed, model.TaskCancelled:
			broken = depID
		default:
			blocked = depID
		}
		if broken != "" {
			break
		}
	}
	s.mu.RUnlock()

	if broken != "" {
		s.finishFailed(rec, fmt.Sprintf("dependency %s did not complete", broken))
		return false
	}
	if blocked != "" {
		time.AfterFunc(s.cfg.RequeueDelay(), func() {
			if !s.queues.push(rec.task.ID, rec.task.Priority) {
				s.finishFailed(rec, "queue at capacity while waiting on dependencies")
			}
		})
		return false
	}
	return true
}

// execute runs one attempt of a task on a worker.
func (s *Scheduler) execute(ctx context.Context, rec *taskRecord) {
	task := rec.task

	s.mu.Lock()
	if task.Status == model.TaskCancelled {
		s.mu.Unlock()
		return
	}
	task.Status = model.TaskRunning
	task.Attempt++
	now := time.Now().UTC()
	task.StartedAt = &now
	handler, registered := s.handlers[task.Type]
	limiter := s.limiters[task.Type]
	s.mu.Unlock()

	log := zap.L().With(
		zap.String("task_id", task.ID),
		zap.String("task_type", task.Type),
		zap.Int("attempt", task.Attempt),
	)

	if !registered {
		log.Error("scheduler: no handler registered")
		s.finishFailed(rec, fmt.Sprintf("no handler registered for task type %q", task.Type))
		return
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			s.finishFailed(rec, "rate limit wait interrupted: "+err.Error())
			return
		}
	}

	tctx, cancel := context.WithTimeout(ctx, task.Timeout)
	result, err := s.runHandler(tctx, handler, task)
	cancel()

	if err == nil {
		s.mu.Lock()
		if task.Status.Terminal() {
			// The monitor sweep beat the handler to a terminal state.
			s.mu.Unlock()
			return
		}
		task.Status = model.TaskCompleted
		task.Result = result
		finished := time.Now().UTC()
		task.FinishedAt = &finished
		s.archived = append(s.archived, task.ID)
		close(rec.done)
		s.mu.Unlock()
		log.Debug("scheduler: task completed")
		return
	}

	s.handleFailure(ctx, rec, err, log)
}

// runHandler invokes the handler in its own goroutine so the worker can
// return control at the timeout boundary. A handler that ignores ctx keeps
// its goroutine until it returns; the task is failed regardless.
func (s *Scheduler) runHandler(ctx context.Context, handler Handler, task *model.Task) (json.RawMessage, error) {
	type outcome struct {
		result json.RawMessage
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		result, err := handler(ctx, task)
		ch <- outcome{result, err}
	}()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		return nil, recovery.WrapError(ctx.Err(), model.CategoryTimeout, model.SeverityMedium,
			fmt.Sprintf("task %s timed out after %s", task.ID, task.Timeout))
	}
}

// handleFailure routes a failed attempt through the recovery subsystem,
// which decides between retrying and terminal failure.
func (s *Scheduler) handleFailure(ctx context.Context, rec *taskRecord, err error, log *zap.Logger) {
	task := rec.task

	res, handleErr := s.recov.Handle(ctx, err, recovery.ErrContext{
		RunID:       task.RunID,
		TaskID:      task.ID,
		TaskType:    task.Type,
		Attempt:     task.Attempt,
		MaxAttempts: task.MaxAttempts,
	})
	if handleErr != nil {
		log.Warn("scheduler: recovery handling failed", zap.Error(handleErr))
	}

	if res != nil && res.Strategy == recovery.StrategyRetry && task.RetriesLeft() {
		s.mu.Lock()
		if task.Status.Terminal() {
			s.mu.Unlock()
			return
		}
		task.Status = model.TaskRetrying
		task.Error = err.Error()
		s.mu.Unlock()

		log.Info("scheduler: retrying task", zap.Duration("delay", res.RetryDelay))
		time.AfterFunc(res.RetryDelay, func() {
			if !s.queues.push(task.ID, task.Priority) {
				s.finishFailed(rec, "queue at capacity on retry")
			}
		})
		return
	}

	log.Warn("scheduler: task failed", zap.Error(err))
	s.finishFailed(rec, err.Error())
}

// finishFailed transitions a task to its terminal failed state.
func (s *Scheduler) finishFailed(rec *taskRecord, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.task.Status.Terminal() {
		return
	}
	rec.task.Status = model.TaskFailed
	rec.task.Error = msg
	now := time.Now().UTC()
	rec.task.FinishedAt = &now
	s.archived = append(s.archived, rec.task.ID)
	close(rec.done)
}
