package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/seekwell/apply-cli/internal/config"
	"github.com/seekwell/apply-cli/internal/model"
	"github.com/seekwell/apply-cli/internal/recovery"
)

// Handler executes one task. Handlers must honor ctx cancellation: a
// handler that blocks past the task timeout is treated as failed, not
// killed.
type Handler func(ctx context.Context, task *model.Task) (json.RawMessage, error)

// TaskView is a read-only snapshot of a task's state.
type TaskView struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Priority   model.TaskPriority `json:"priority"`
	Status     model.TaskStatus   `json:"status"`
	Attempt    int                `json:"attempt"`
	Error      string             `json:"error,omitempty"`
	Result     json.RawMessage    `json:"result,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// taskRecord pairs a task with its completion signal. Only the worker that
// currently owns the task mutates it; the scheduler mutex guards the
// status map itself.
type taskRecord struct {
	task *model.Task
	done chan struct{}
}

// Stats is a point-in-time view of scheduler load.
type Stats struct {
	ByStatus    map[model.TaskStatus]int `json:"by_status"`
	QueueDepths [model.NumPriorities]int `json:"queue_depths"`
	Archived    int                      `json:"archived"`
	ByType      map[string]int           `json:"by_type"`
}

// Scheduler is a priority-tiered, dependency-aware task queue with a
// bounded worker pool.
type Scheduler struct {
	cfg   config.SchedulerConfig
	retry config.RetryConfig
	recov *recovery.Handler

	queues *tierQueues
	sem    *semaphore.Weighted

	mu       sync.RWMutex
	tasks    map[string]*taskRecord
	handlers map[string]Handler
	limiters map[string]*rate.Limiter
	archived []string // terminal task IDs in completion order

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Scheduler. recov handles task failures; it must not be nil.
func New(cfg config.SchedulerConfig, retry config.RetryConfig, recov *recovery.Handler) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		retry:    retry,
		recov:    recov,
		queues:   newTierQueues(cfg.QueueCapacity),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		tasks:    make(map[string]*taskRecord),
		handlers: make(map[string]Handler),
		limiters: make(map[string]*rate.Limiter),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for taskType, perMinute := range cfg.RateLimits {
		s.SetRateLimit(taskType, perMinute)
	}
	return s
}

// RegisterHandler installs the handler for a task type, replacing any
// previous registration.
func (s *Scheduler) RegisterHandler(taskType string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskType] = h
}

// SetRateLimit throttles execution of a task type to perMinute events,
// with a burst of one. A non-positive value removes the limit.
func (s *Scheduler) SetRateLimit(taskType string, perMinute float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if perMinute <= 0 {
		delete(s.limiters, taskType)
		return
	}
	s.limiters[taskType] = rate.NewLimiter(rate.Limit(perMinute/60.0), 1)
}

// Schedule enqueues one task and returns its identity.
func (s *Scheduler) Schedule(ctx context.Context, task *model.Task) (string, error) {
	if task.Type == "" {
		return "", eris.New("scheduler: task type required")
	}
	if !task.Priority.Valid() {
		return "", eris.Errorf("scheduler: invalid priority %d", int(task.Priority))
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = s.retry.MaxAttempts
	}
	if task.Timeout <= 0 {
		task.Timeout = s.cfg.TaskTimeout()
	}
	task.Status = model.TaskPending
	task.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	if _, exists := s.tasks[task.ID]; exists {
		s.mu.Unlock()
		return "", eris.Errorf("scheduler: duplicate task id %s", task.ID)
	}
	s.tasks[task.ID] = &taskRecord{task: task, done: make(chan struct{})}
	s.mu.Unlock()

	if !s.queues.push(task.ID, task.Priority) {
		s.mu.Lock()
		delete(s.tasks, task.ID)
		s.mu.Unlock()
		return "", eris.Errorf("scheduler: %s queue at capacity", task.Priority)
	}
	return task.ID, nil
}

// ScheduleBatch enqueues tasks in order, stopping at the first failure.
func (s *Scheduler) ScheduleBatch(ctx context.Context, tasks []*model.Task) ([]string, error) {
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		id, err := s.Schedule(ctx, task)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Status returns a snapshot of the task, or false if unknown.
func (s *Scheduler) Status(id string) (*TaskView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return snapshot(rec.task), true
}

// Cancel marks a pending or retrying task cancelled, preventing it from
// being dequeued again. A running handler is not interrupted; cooperative
// cancellation is the handler's responsibility.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return false
	}
	switch rec.task.Status {
	case model.TaskPending, model.TaskRetrying:
		rec.task.Status = model.TaskCancelled
		now := time.Now().UTC()
		rec.task.FinishedAt = &now
		s.archived = append(s.archived, id)
		close(rec.done)
		return true
	}
	return false
}

// Retry re-queues a terminally failed or cancelled task with a fresh
// attempt budget.
func (s *Scheduler) Retry(id string) bool {
	s.mu.Lock()
	rec, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	switch rec.task.Status {
	case model.TaskFailed, model.TaskCancelled:
	default:
		s.mu.Unlock()
		return false
	}
	rec.task.Status = model.TaskPending
	rec.task.Attempt = 0
	rec.task.Error = ""
	rec.task.FinishedAt = nil
	rec.done = make(chan struct{})
	s.unarchive(id)
	priority := rec.task.Priority
	s.mu.Unlock()

	return s.queues.push(id, priority)
}

// Wait blocks until the task reaches a terminal status.
func (s *Scheduler) Wait(ctx context.Context, id string) (*TaskView, error) {
	s.mu.RLock()
	rec, ok := s.tasks[id]
	var done chan struct{}
	if ok {
		done = rec.done
	}
	s.mu.RUnlock()
	if !ok {
		return nil, eris.Errorf("scheduler: unknown task %s", id)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(rec.task), nil
}

// Stats returns current queue depths and task counts.
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		ByStatus:    make(map[model.TaskStatus]int),
		ByType:      make(map[string]int),
		QueueDepths: s.queues.depths(),
		Archived:    len(s.archived),
	}
	for _, rec := range s.tasks {
		stats.ByStatus[rec.task.Status]++
		stats.ByType[rec.task.Type]++
	}
	return stats
}

// Start launches the dispatcher and the background monitor. It returns
// immediately; call Stop to drain.
func (s *Scheduler) Start(ctx context.Context) {
	go s.dispatch(ctx)
	go s.monitor(ctx)
}

// Stop halts dispatching and waits for in-flight handlers to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
	// Draining the full semaphore waits out every in-flight worker.
	_ = s.sem.Acquire(context.Background(), int64(s.cfg.Workers))
	s.sem.Release(int64(s.cfg.Workers))
}

// unarchive removes id from the archived list. Caller holds the mutex.
func (s *Scheduler) unarchive(id string) {
	for i, a := range s.archived {
		if a == id {
			s.archived = append(s.archived[:i], s.archived[i+1:]...)
			return
		}
	}
}

func snapshot(t *model.Task) *TaskView {
	return &TaskView{
		ID:         t.ID,
		Type:       t.Type,
		Priority:   t.Priority,
		Status:     t.Status,
		Attempt:    t.Attempt,
		Error:      t.Error,
		Result:     t.Result,
		CreatedAt:  t.CreatedAt,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
	}
}
