package scheduler

import (
	"sync"

	"github.com/seekwell/apply-cli/internal/model"
)

// tierQueues holds one FIFO queue of task IDs per priority tier. Dequeue
// scans tiers from highest to lowest; within a tier order is FIFO. Lower
// tiers can be starved under sustained high-priority load, which is an
// accepted trade-off.
type tierQueues struct {
	mu       sync.Mutex
	queues   [model.NumPriorities][]string
	capacity int

	// notify wakes the dispatcher when work arrives. Buffered by one so a
	// push never blocks.
	notify chan struct{}
}

func newTierQueues(capacity int) *tierQueues {
	return &tierQueues{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// push enqueues a task ID at its priority tier. Returns false when the
// tier is at capacity.
func (q *tierQueues) push(id string, priority model.TaskPriority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	tier := int(priority)
	if q.capacity > 0 && len(q.queues[tier]) >= q.capacity {
		return false
	}
	q.queues[tier] = append(q.queues[tier], id)
	q.wake()
	return true
}

// pop dequeues the head of the highest non-empty tier.
func (q *tierQueues) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for tier := model.NumPriorities - 1; tier >= 0; tier-- {
		if len(q.queues[tier]) == 0 {
			continue
		}
		id := q.queues[tier][0]
		q.queues[tier] = q.queues[tier][1:]
		return id, true
	}
	return "", false
}

// depths reports the queue length per tier, highest first.
func (q *tierQueues) depths() [model.NumPriorities]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out [model.NumPriorities]int
	for i := range q.queues {
		out[i] = len(q.queues[i])
	}
	return out
}

// wake must be called with the mutex held.
func (q *tierQueues) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
