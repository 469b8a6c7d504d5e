package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seekwell/apply-cli/internal/config"
	"github.com/seekwell/apply-cli/internal/model"
	"github.com/seekwell/apply-cli/internal/recovery"
)

func newTestScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()

	retry := config.RetryConfig{
		MaxAttempts:      3,
		InitialBackoffMs: 1,
		MaxBackoffMs:     5,
		Multiplier:       2.0,
		JitterFraction:   0,
	}
	cfg := config.SchedulerConfig{
		Workers:          workers,
		QueueCapacity:    64,
		TaskTimeoutSecs:  5,
		RequeueDelayMs:   5,
		HistoryLimit:     100,
		MonitorEverySecs: 1,
	}

	s := New(cfg, retry, recovery.NewHandler(retry, nil, recovery.NewHistory(100), nil))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		s.Stop()
		cancel()
	})
	return s
}

func okHandler(result string) Handler {
	return func(_ context.Context, _ *model.Task) (json.RawMessage, error) {
		return json.RawMessage(`"` + result + `"`), nil
	}
}

func TestSchedule_ExecutesTask(t *testing.T) {
	s := newTestScheduler(t, 2)
	s.RegisterHandler("echo", okHandler("done"))

	id, err := s.Schedule(context.Background(), &model.Task{Type: "echo", Priority: model.PriorityNormal})
	require.NoError(t, err)

	view, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, view.Status)
	assert.JSONEq(t, `"done"`, string(view.Result))
}

func TestSchedule_NoHandlerFailsImmediately(t *testing.T) {
	s := newTestScheduler(t, 1)

	id, err := s.Schedule(context.Background(), &model.Task{Type: "unregistered", Priority: model.PriorityNormal})
	require.NoError(t, err)

	view, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, view.Status)
	assert.Contains(t, view.Error, "no handler registered")
}

func TestSchedule_RejectsInvalidTask(t *testing.T) {
	s := newTestScheduler(t, 1)

	_, err := s.Schedule(context.Background(), &model.Task{Priority: model.PriorityNormal})
	assert.Error(t, err, "missing type")

	_, err = s.Schedule(context.Background(), &model.Task{Type: "x", Priority: model.TaskPriority(9)})
	assert.Error(t, err, "invalid priority")
}

// Dependency chain scheduled out of order completes in dependency order.
func TestDependencies_CompletionOrder(t *testing.T) {
	s := newTestScheduler(t, 3)

	var mu sync.Mutex
	var order []string
	record := func(name string) Handler {
		return func(_ context.Context, _ *model.Task) (json.RawMessage, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}
	s.RegisterHandler("a", record("a"))
	s.RegisterHandler("b", record("b"))
	s.RegisterHandler("c", record("c"))

	ctx := context.Background()
	// Schedule C, B, A out of order.
	cID, err := s.Schedule(ctx, &model.Task{ID: "task-c", Type: "c", Priority: model.PriorityNormal, DependsOn: []string{"task-b"}})
	require.NoError(t, err)
	_, err = s.Schedule(ctx, &model.Task{ID: "task-b", Type: "b", Priority: model.PriorityNormal, DependsOn: []string{"task-a"}})
	require.NoError(t, err)
	_, err = s.Schedule(ctx, &model.Task{ID: "task-a", Type: "a", Priority: model.PriorityNormal})
	require.NoError(t, err)

	view, err := s.Wait(ctx, cID)
	require.NoError(t, err)
	require.Equal(t, model.TaskCompleted, view.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestDependencies_FailedDependencyFailsTask(t *testing.T) {
	s := newTestScheduler(t, 2)
	s.RegisterHandler("boom", func(_ context.Context, _ *model.Task) (json.RawMessage, error) {
		return nil, recovery.NewError(model.CategoryProcessing, model.SeverityCritical, "unrecoverable")
	})
	s.RegisterHandler("after", okHandler("never"))

	ctx := context.Background()
	_, err := s.Schedule(ctx, &model.Task{ID: "dep", Type: "boom", Priority: model.PriorityNormal})
	require.NoError(t, err)
	childID, err := s.Schedule(ctx, &model.Task{Type: "after", Priority: model.PriorityNormal, DependsOn: []string{"dep"}})
	require.NoError(t, err)

	view, err := s.Wait(ctx, childID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, view.Status)
	assert.Contains(t, view.Error, "dependency")
}

// A retryable failure exhausts its budget and lands on failed, never stuck
// in retrying.
func TestRetry_ExhaustionIsTerminalFailure(t *testing.T) {
	s := newTestScheduler(t, 1)

	var calls int
	var mu sync.Mutex
	s.RegisterHandler("flaky", func(_ context.Context, _ *model.Task) (json.RawMessage, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, errors.New("connection refused")
	})

	id, err := s.Schedule(context.Background(), &model.Task{Type: "flaky", Priority: model.PriorityNormal, MaxAttempts: 3})
	require.NoError(t, err)

	view, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, view.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls, "attempts = retry budget")
}

func TestRetry_SucceedsOnSecondAttempt(t *testing.T) {
	s := newTestScheduler(t, 1)

	var calls int
	var mu sync.Mutex
	s.RegisterHandler("flaky", func(_ context.Context, _ *model.Task) (json.RawMessage, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return nil, errors.New("connection reset by peer")
		}
		return json.RawMessage(`"ok"`), nil
	})

	id, err := s.Schedule(context.Background(), &model.Task{Type: "flaky", Priority: model.PriorityNormal, MaxAttempts: 3})
	require.NoError(t, err)

	view, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, view.Status)
	assert.Equal(t, 2, view.Attempt)
}

func TestTimeout_TreatedAsFailure(t *testing.T) {
	s := newTestScheduler(t, 1)

	s.RegisterHandler("slow", func(ctx context.Context, _ *model.Task) (json.RawMessage, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return json.RawMessage(`"late"`), nil
		}
	})

	id, err := s.Schedule(context.Background(), &model.Task{
		Type:        "slow",
		Priority:    model.PriorityNormal,
		Timeout:     20 * time.Millisecond,
		MaxAttempts: 1,
	})
	require.NoError(t, err)

	view, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, view.Status)
	assert.Contains(t, view.Error, "timed out")
}

func TestCancel_PendingTask(t *testing.T) {
	s := newTestScheduler(t, 1)

	block := make(chan struct{})
	s.RegisterHandler("block", func(_ context.Context, _ *model.Task) (json.RawMessage, error) {
		<-block
		return nil, nil
	})
	s.RegisterHandler("victim", okHandler("x"))

	ctx := context.Background()
	// Occupy the single worker so the victim stays queued.
	_, err := s.Schedule(ctx, &model.Task{Type: "block", Priority: model.PriorityCritical})
	require.NoError(t, err)
	victimID, err := s.Schedule(ctx, &model.Task{Type: "victim", Priority: model.PriorityLow})
	require.NoError(t, err)

	// Give the blocker time to be picked up.
	time.Sleep(30 * time.Millisecond)

	assert.True(t, s.Cancel(victimID))
	close(block)

	view, err := s.Wait(ctx, victimID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCancelled, view.Status)

	// Cancelling a terminal task returns false.
	assert.False(t, s.Cancel(victimID))
}

func TestPriority_HigherTierFirst(t *testing.T) {
	s := newTestScheduler(t, 1)

	release := make(chan struct{})
	var mu sync.Mutex
	var order []model.TaskPriority
	s.RegisterHandler("gate", func(_ context.Context, _ *model.Task) (json.RawMessage, error) {
		<-release
		return nil, nil
	})
	s.RegisterHandler("obs", func(_ context.Context, task *model.Task) (json.RawMessage, error) {
		mu.Lock()
		order = append(order, task.Priority)
		mu.Unlock()
		return nil, nil
	})

	ctx := context.Background()
	// Hold the single worker, then queue low before critical.
	_, err := s.Schedule(ctx, &model.Task{Type: "gate", Priority: model.PriorityNormal})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	lowID, err := s.Schedule(ctx, &model.Task{Type: "obs", Priority: model.PriorityLow})
	require.NoError(t, err)
	criticalID, err := s.Schedule(ctx, &model.Task{Type: "obs", Priority: model.PriorityCritical})
	require.NoError(t, err)

	close(release)
	_, err = s.Wait(ctx, lowID)
	require.NoError(t, err)
	_, err = s.Wait(ctx, criticalID)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, model.PriorityCritical, order[0])
	assert.Equal(t, model.PriorityLow, order[1])
}

func TestRetryAPI_RequeuesFailedTask(t *testing.T) {
	s := newTestScheduler(t, 1)

	var mu sync.Mutex
	var fail = true
	s.RegisterHandler("fixable", func(_ context.Context, _ *model.Task) (json.RawMessage, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, recovery.NewError(model.CategoryValidation, model.SeverityLow, "invalid input")
		}
		return json.RawMessage(`"fixed"`), nil
	})

	ctx := context.Background()
	id, err := s.Schedule(ctx, &model.Task{Type: "fixable", Priority: model.PriorityNormal, MaxAttempts: 1})
	require.NoError(t, err)

	view, err := s.Wait(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.TaskFailed, view.Status)

	mu.Lock()
	fail = false
	mu.Unlock()

	require.True(t, s.Retry(id))
	view, err = s.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, view.Status)
}

func TestScheduleBatch_AndStats(t *testing.T) {
	s := newTestScheduler(t, 2)
	s.RegisterHandler("echo", okHandler("ok"))

	tasks := []*model.Task{
		{Type: "echo", Priority: model.PriorityNormal},
		{Type: "echo", Priority: model.PriorityHigh},
		{Type: "echo", Priority: model.PriorityLow},
	}
	ids, err := s.ScheduleBatch(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	for _, id := range ids {
		view, err := s.Wait(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.TaskCompleted, view.Status)
	}

	stats := s.Stats()
	assert.Equal(t, 3, stats.ByStatus[model.TaskCompleted])
	assert.Equal(t, 3, stats.ByType["echo"])
}

func TestStatus_UnknownTask(t *testing.T) {
	s := newTestScheduler(t, 1)
	_, ok := s.Status("nope")
	assert.False(t, ok)
}

// Polling Status while workers run must stay race-free; run with -race.
func TestStatus_ConcurrentWithExecution(t *testing.T) {
	s := newTestScheduler(t, 2)

	release := make(chan struct{})
	s.RegisterHandler("held", func(_ context.Context, _ *model.Task) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`"ok"`), nil
	})

	ctx := context.Background()
	id, err := s.Schedule(ctx, &model.Task{Type: "held", Priority: model.PriorityNormal})
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			view, ok := s.Status(id)
			if assert.True(t, ok) {
				assert.NotEmpty(t, view.ID)
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	view, err := s.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, view.Status)

	close(stop)
	wg.Wait()
}

// Retry swaps the record's done channel; a Wait issued before the swap
// must still unblock without racing on the field. Run with -race.
func TestRetryAPI_ConcurrentWithWait(t *testing.T) {
	s := newTestScheduler(t, 1)

	var mu sync.Mutex
	var fail = true
	s.RegisterHandler("fixable", func(_ context.Context, _ *model.Task) (json.RawMessage, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, recovery.NewError(model.CategoryValidation, model.SeverityLow, "invalid input")
		}
		return json.RawMessage(`"fixed"`), nil
	})

	ctx := context.Background()
	id, err := s.Schedule(ctx, &model.Task{Type: "fixable", Priority: model.PriorityNormal, MaxAttempts: 1})
	require.NoError(t, err)

	view, err := s.Wait(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.TaskFailed, view.Status)

	mu.Lock()
	fail = false
	mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, werr := s.Wait(ctx, id)
			if assert.NoError(t, werr) {
				assert.NotNil(t, v)
			}
		}()
	}
	require.True(t, s.Retry(id))
	wg.Wait()

	view, err = s.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, view.Status)
}
