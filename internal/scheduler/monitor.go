package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/seekwell/apply-cli/internal/model"
)

// timeoutGrace is added on top of a task's timeout before the monitor
// force-fails it. The worker normally returns at the timeout boundary
// itself; the monitor is a defensive double-check.
const timeoutGrace = 5 * time.Second

// monitor periodically sweeps running tasks for missed timeouts and prunes
// terminal history beyond the retention bound.
func (s *Scheduler) monitor(ctx context.Context) {
	every := time.Duration(s.cfg.MonitorEverySecs) * time.Second
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepTimeouts()
			s.pruneArchive()
		}
	}
}

func (s *Scheduler) sweepTimeouts() {
	now := time.Now().UTC()

	s.mu.RLock()
	var overdue []*taskRecord
	for _, rec := range s.tasks {
		t := rec.task
		if t.Status != model.TaskRunning || t.StartedAt == nil || t.Timeout <= 0 {
			continue
		}
		if now.Sub(*t.StartedAt) > t.Timeout+timeoutGrace {
			overdue = append(overdue, rec)
		}
	}
	s.mu.RUnlock()

	for _, rec := range overdue {
		zap.L().Warn("scheduler: monitor detected missed timeout",
			zap.String("task_id", rec.task.ID),
			zap.String("task_type", rec.task.Type),
		)
		s.finishFailed(rec, "task exceeded timeout (monitor sweep)")
	}
}

// pruneArchive drops the oldest terminal tasks beyond the retention bound.
func (s *Scheduler) pruneArchive() {
	s.mu.Lock()
	defer s.mu.Unlock()

	excess := len(s.archived) - s.cfg.HistoryLimit
	if excess <= 0 {
		return
	}
	for _, id := range s.archived[:excess] {
		delete(s.tasks, id)
	}
	s.archived = s.archived[excess:]
}
