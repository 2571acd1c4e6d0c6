package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/events"
)

type fakeGate struct {
	allow bool
}

func (f *fakeGate) FinalCheck(decision *domain.TradingDecision) (domain.RiskSnapshot, bool) {
	return domain.RiskSnapshot{Level: domain.RiskLow}, f.allow
}

type fakeSizer struct {
	qty decimal.Decimal
}

func (f *fakeSizer) PositionSize(decision *domain.TradingDecision, current domain.RiskSnapshot) decimal.Decimal {
	return f.qty
}

type fakeExecutor struct {
	mu     sync.Mutex
	orders []domain.Order
	err    error
}

func (f *fakeExecutor) Submit(ctx context.Context, order domain.Order) (domain.ExecutionResult, error) {
	f.mu.Lock()
	f.orders = append(f.orders, order)
	f.mu.Unlock()
	if f.err != nil {
		return domain.ExecutionResult{}, f.err
	}
	return domain.ExecutionResult{OrderID: "ord-1", Status: domain.OrderFilled, FilledQty: order.Quantity}, nil
}

func (f *fakeExecutor) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakeTracker struct {
	mu      sync.Mutex
	records int
}

func (f *fakeTracker) RecordDecision(decision *domain.TradingDecision, result domain.ExecutionResult) {
	f.mu.Lock()
	f.records++
	f.mu.Unlock()
}

type recordingBus struct {
	mu       sync.Mutex
	payloads map[events.Topic][]any
}

func newRecordingBus() *recordingBus {
	return &recordingBus{payloads: make(map[events.Topic][]any)}
}

func (b *recordingBus) Publish(topic events.Topic, payload any) {
	b.mu.Lock()
	b.payloads[topic] = append(b.payloads[topic], payload)
	b.mu.Unlock()
}

func (b *recordingBus) published(topic events.Topic) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.payloads[topic]
}

func aggregated(id string, confidence float64) *domain.AggregatedDecision {
	return &domain.AggregatedDecision{
		ID:          id,
		Pair:        domain.Pair{From: "BTC", To: "USDT"},
		Category:    domain.CategoryTechnical,
		Type:        domain.SignalBuy,
		Confidence:  confidence,
		TargetPrice: decimal.NewFromInt(50000),
		CreatedAt:   time.Now(),
	}
}

func newTestScheduler(gate *fakeGate, executor *fakeExecutor, bus *recordingBus, opts ...Option) (*Scheduler, *fakeTracker, *atomic.Bool) {
	tracker := &fakeTracker{}
	halted := &atomic.Bool{}
	sizer := &fakeSizer{qty: decimal.NewFromInt(1)}
	s := New(gate, sizer, executor, tracker, bus, halted, zap.NewNop(), opts...)
	return s, tracker, halted
}

func TestPriority(t *testing.T) {
	forever := time.Duration(1<<62 - 1)

	tests := []struct {
		name     string
		decision *domain.AggregatedDecision
		tte      time.Duration
		want     int
	}{
		{
			name:     "confident and urgent",
			decision: aggregated("d", 0.9),
			tte:      45 * time.Second,
			want:     245, // 100 + 45 + 100
		},
		{
			name:     "soon window",
			decision: aggregated("d", 0.5),
			tte:      4 * time.Minute,
			want:     175, // 100 + 25 + 50
		},
		{
			name:     "no urgency no confidence",
			decision: aggregated("d", 0),
			tte:      forever,
			want:     100,
		},
		{
			name: "arbitrage urgency clamps at max",
			decision: func() *domain.AggregatedDecision {
				d := aggregated("d", 1)
				d.Category = domain.CategoryArbitrage
				return d
			}(),
			tte:  10 * time.Second,
			want: 450, // 100 + 50 + 200 + 100
		},
		{
			name: "arbitrage without urgency",
			decision: func() *domain.AggregatedDecision {
				d := aggregated("d", 0.9)
				d.Category = domain.CategoryArbitrage
				return d
			}(),
			tte:  forever,
			want: 345, // 100 + 45 + 200
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Priority(tt.decision, tt.tte)
			require.Equal(t, tt.want, got)
			require.GreaterOrEqual(t, got, PriorityMin)
			require.LessOrEqual(t, got, PriorityMax)
		})
	}
}

func TestScheduler_EnqueuePublishes(t *testing.T) {
	bus := newRecordingBus()
	s, _, _ := newTestScheduler(&fakeGate{allow: true}, &fakeExecutor{}, bus)

	require.NoError(t, s.Enqueue(aggregated("d1", 0.9), domain.RiskAssessment{Level: domain.RiskLow}))
	require.Equal(t, 1, s.QueueDepth())

	queued := bus.published(events.TopicDecisionQueued)
	require.Len(t, queued, 1)
	payload := queued[0].(DecisionQueued)
	require.Equal(t, "d1", payload.DecisionID)
	require.Equal(t, 145, payload.Priority) // no expiry set, no urgency bonus
}

func TestScheduler_EnqueueQueueFull(t *testing.T) {
	bus := newRecordingBus()
	s, _, _ := newTestScheduler(&fakeGate{allow: true}, &fakeExecutor{}, bus, WithCapacity(1))

	require.NoError(t, s.Enqueue(aggregated("d1", 0.9), domain.RiskAssessment{}))
	require.Error(t, s.Enqueue(aggregated("d2", 0.9), domain.RiskAssessment{}))

	failed := bus.published(events.TopicExecutionFailed)
	require.Len(t, failed, 1)
	failure := failed[0].(ExecutionFailure)
	require.Equal(t, "d2", failure.DecisionID)
	require.Equal(t, "queue_full", failure.Reason)
	require.True(t, failure.Terminal)
}

func TestScheduler_ProcessSuccess(t *testing.T) {
	bus := newRecordingBus()
	executor := &fakeExecutor{}
	s, tracker, _ := newTestScheduler(&fakeGate{allow: true}, executor, bus)

	decision := &domain.TradingDecision{Aggregated: *aggregated("d1", 0.9), Priority: 245}
	s.process(context.Background(), decision, zap.NewNop())

	require.Equal(t, 1, executor.submissions())
	require.Equal(t, 1, tracker.records)

	executed := bus.published(events.TopicOrderExecuted)
	require.Len(t, executed, 1)
	report := executed[0].(ExecutionReport)
	require.Equal(t, "d1", report.DecisionID)
	require.Equal(t, "ord-1", report.OrderID)
	require.Equal(t, string(domain.OrderFilled), report.Status)
}

func TestScheduler_ProcessBlockedByFinalCheck(t *testing.T) {
	bus := newRecordingBus()
	executor := &fakeExecutor{}
	s, tracker, _ := newTestScheduler(&fakeGate{allow: false}, executor, bus)

	s.process(context.Background(), &domain.TradingDecision{Aggregated: *aggregated("d1", 0.9)}, zap.NewNop())

	require.Zero(t, executor.submissions(), "blocked decision never reaches the venue")
	require.Zero(t, tracker.records)
	require.Empty(t, bus.published(events.TopicOrderExecuted))
}

func TestScheduler_ProcessZeroPositionSize(t *testing.T) {
	bus := newRecordingBus()
	executor := &fakeExecutor{}
	tracker := &fakeTracker{}
	halted := &atomic.Bool{}
	s := New(&fakeGate{allow: true}, &fakeSizer{qty: decimal.Zero}, executor, tracker, bus, halted, zap.NewNop())

	s.process(context.Background(), &domain.TradingDecision{Aggregated: *aggregated("d1", 0.9)}, zap.NewNop())

	require.Zero(t, executor.submissions())
	failed := bus.published(events.TopicExecutionFailed)
	require.Len(t, failed, 1)
	require.True(t, failed[0].(ExecutionFailure).Terminal)
}

func TestScheduler_RetryableErrorRequeuesWithDecay(t *testing.T) {
	bus := newRecordingBus()
	executor := &fakeExecutor{err: domain.NewRetryableExecError(errors.New("venue busy"))}
	s, _, _ := newTestScheduler(&fakeGate{allow: true}, executor, bus)

	decision := &domain.TradingDecision{Aggregated: *aggregated("d1", 0.9), Priority: 245}
	s.process(context.Background(), decision, zap.NewNop())

	require.Equal(t, 1, decision.RetryCount)
	require.Equal(t, 195, decision.Priority, "priority decays by 50 per retry")
	require.Equal(t, 1, s.QueueDepth(), "decision goes back to the queue")
	require.Empty(t, bus.published(events.TopicExecutionFailed))
}

func TestScheduler_RetryDecayClampsAtMin(t *testing.T) {
	bus := newRecordingBus()
	executor := &fakeExecutor{err: domain.NewRetryableExecError(errors.New("venue busy"))}
	s, _, _ := newTestScheduler(&fakeGate{allow: true}, executor, bus, WithMaxRetries(5))

	decision := &domain.TradingDecision{Aggregated: *aggregated("d1", 0.9), Priority: 110}
	s.process(context.Background(), decision, zap.NewNop())

	require.Equal(t, PriorityMin, decision.Priority)
}

func TestScheduler_RetriesAreBounded(t *testing.T) {
	bus := newRecordingBus()
	executor := &fakeExecutor{err: domain.NewRetryableExecError(errors.New("venue busy"))}
	s, _, _ := newTestScheduler(&fakeGate{allow: true}, executor, bus, WithMaxRetries(3))

	decision := &domain.TradingDecision{Aggregated: *aggregated("d1", 0.9), Priority: 245, RetryCount: 2}
	s.process(context.Background(), decision, zap.NewNop())

	require.Equal(t, 3, decision.RetryCount)
	require.Zero(t, s.QueueDepth(), "exhausted decision is never requeued")

	failed := bus.published(events.TopicExecutionFailed)
	require.Len(t, failed, 1)
	failure := failed[0].(ExecutionFailure)
	require.True(t, failure.Terminal)
	require.Equal(t, 3, failure.Retries)
}

func TestScheduler_FatalErrorIsTerminal(t *testing.T) {
	bus := newRecordingBus()
	executor := &fakeExecutor{err: domain.NewFatalExecError(errors.New("insufficient funds"))}
	s, _, _ := newTestScheduler(&fakeGate{allow: true}, executor, bus)

	decision := &domain.TradingDecision{Aggregated: *aggregated("d1", 0.9), Priority: 245}
	s.process(context.Background(), decision, zap.NewNop())

	require.Zero(t, decision.RetryCount)
	require.Zero(t, s.QueueDepth())

	failed := bus.published(events.TopicExecutionFailed)
	require.Len(t, failed, 1)
	require.True(t, failed[0].(ExecutionFailure).Terminal)
	require.Contains(t, failed[0].(ExecutionFailure).Reason, "insufficient funds")
}

func TestScheduler_HaltDuringPopCancelsInsteadOfRequeue(t *testing.T) {
	bus := newRecordingBus()
	executor := &fakeExecutor{}
	s, _, halted := newTestScheduler(&fakeGate{allow: true}, executor, bus, WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// let the worker pass its halted check and block on the empty queue
	time.Sleep(50 * time.Millisecond)
	halted.Store(true)
	require.NoError(t, s.Enqueue(aggregated("d1", 0.9), domain.RiskAssessment{}))

	require.Eventually(t, func() bool {
		return len(bus.published(events.TopicDecisionCancelled)) == 1
	}, time.Second, 10*time.Millisecond, "decision popped under a halt is cancelled, not requeued")

	require.Zero(t, s.QueueDepth(), "queue stays empty for the drain")
	require.Zero(t, executor.submissions())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	payload := bus.published(events.TopicDecisionCancelled)[0].(Cancellation)
	require.Equal(t, "d1", payload.DecisionID)
	require.Equal(t, "trading halted", payload.Reason)
}

func TestScheduler_HaltedWorkerDoesNotExecute(t *testing.T) {
	bus := newRecordingBus()
	executor := &fakeExecutor{}
	s, _, halted := newTestScheduler(&fakeGate{allow: true}, executor, bus, WithPollInterval(10*time.Millisecond))
	halted.Store(true)

	require.NoError(t, s.Enqueue(aggregated("d1", 0.9), domain.RiskAssessment{}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Zero(t, executor.submissions(), "halted scheduler must not submit")
	require.Equal(t, 1, s.QueueDepth(), "decision stays queued for the drain")
}
