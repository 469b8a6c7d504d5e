package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TaskStatus tracks a task through its lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
	TaskRetrying  TaskStatus = "retrying"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// TaskPriority is one of five ordered tiers. Higher values are scheduled
// first.
type TaskPriority int

const (
	PriorityLow TaskPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
	PriorityCritical
)

// NumPriorities is the number of priority tiers.
const NumPriorities = 5

var priorityNames = [NumPriorities]string{"low", "normal", "high", "urgent", "critical"}

func (p TaskPriority) String() string {
	if p < 0 || int(p) >= NumPriorities {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// Valid reports whether p is one of the five defined tiers.
func (p TaskPriority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority converts a tier name to a TaskPriority.
func ParsePriority(s string) (TaskPriority, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range priorityNames {
		if n == name {
			return TaskPriority(i), nil
		}
	}
	return 0, fmt.Errorf("model: unknown priority %q", s)
}

// Task is a schedulable unit of work. It is created by the controller,
// mutated only by the scheduler worker that currently owns it, and archived
// after completion or after exhausting retries.
type Task struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Priority    TaskPriority    `json:"priority"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	DependsOn   []string        `json:"depends_on,omitempty"`
	Timeout     time.Duration   `json:"timeout,omitempty"`
	MaxAttempts int             `json:"max_attempts"`
	Attempt     int             `json:"attempt"`
	Status      TaskStatus      `json:"status"`
	RunID       string          `json:"run_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// RetriesLeft reports whether the task still has retry budget.
func (t *Task) RetriesLeft() bool {
	return t.Attempt < t.MaxAttempts
}
