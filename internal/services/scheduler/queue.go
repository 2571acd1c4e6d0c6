package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/arbiterhq/arbiter/internal/domain"
)

// ErrQueueFull the execution queue is at capacity.
var ErrQueueFull = errors.New("execution queue is full")

type queueItem struct {
	decision *domain.TradingDecision
	seq      uint64
}

// itemHeap orders by priority descending; equal priorities keep FIFO order
// via the monotonically increasing sequence number.
type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].decision.Priority != h[j].decision.Priority {
		return h[i].decision.Priority > h[j].decision.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*queueItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// decisionQueue is a bounded, mutex-guarded priority queue. A buffered wake
// channel lets a single consumer block with a timeout instead of busy
// polling.
type decisionQueue struct {
	mu       sync.Mutex
	items    itemHeap
	capacity int
	seq      uint64
	wake     chan struct{}
}

func newDecisionQueue(capacity int) *decisionQueue {
	if capacity < 1 {
		capacity = 1024
	}
	return &decisionQueue{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// push adds a decision, rejecting when the queue is at capacity.
func (q *decisionQueue) push(d *domain.TradingDecision) error {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.seq++
	heap.Push(&q.items, &queueItem{decision: d, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// tryPop removes the highest-priority decision, or nil when empty.
func (q *decisionQueue) tryPop() *domain.TradingDecision {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*queueItem).decision
}

// popWait blocks up to timeout for a decision so the worker loop stays
// responsive to the halted flag and shutdown.
func (q *decisionQueue) popWait(ctx context.Context, timeout time.Duration) *domain.TradingDecision {
	if d := q.tryPop(); d != nil {
		return d
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
		return nil
	case <-q.wake:
		return q.tryPop()
	}
}

// drain removes and returns every queued decision in priority order.
func (q *decisionQueue) drain() []*domain.TradingDecision {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := make([]*domain.TradingDecision, 0, len(q.items))
	for len(q.items) > 0 {
		drained = append(drained, heap.Pop(&q.items).(*queueItem).decision)
	}
	return drained
}

func (q *decisionQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
