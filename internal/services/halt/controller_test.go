package halt

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

type fakeExecutor struct {
	mu          sync.Mutex
	pending     []domain.Order
	cancelled   []string
	cancelErr   error
	cancelCalls int
}

func (f *fakeExecutor) PendingOrders(ctx context.Context) ([]domain.Order, error) {
	return f.pending, nil
}

func (f *fakeExecutor) Cancel(ctx context.Context, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	if f.cancelErr != nil {
		return false, f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return true, nil
}

func (f *fakeExecutor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelCalls
}

type fakeDrainer struct {
	decisions []*domain.TradingDecision
	drained   bool
}

func (f *fakeDrainer) Drain() []*domain.TradingDecision {
	f.drained = true
	out := f.decisions
	f.decisions = nil
	return out
}

func (f *fakeDrainer) depth() int { return len(f.decisions) }

type fakeFloor struct {
	mu       sync.Mutex
	minScore float64
}

func (f *fakeFloor) MinScore() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.minScore
}

func (f *fakeFloor) SetMinScore(v float64) {
	f.mu.Lock()
	f.minScore = v
	f.mu.Unlock()
}

type fakeSizing struct {
	mu     sync.Mutex
	factor decimal.Decimal
}

func (f *fakeSizing) SetSizingFactor(factor decimal.Decimal) {
	f.mu.Lock()
	f.factor = factor
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

func queuedDecision(id string) *domain.TradingDecision {
	return &domain.TradingDecision{
		Aggregated: domain.AggregatedDecision{
			ID:   id,
			Pair: domain.Pair{From: "BTC", To: "USDT"},
		},
	}
}

func newTestController(executor *fakeExecutor, drainer *fakeDrainer, floor *fakeFloor, sizing *fakeSizing, bus *recordingBus) (*Controller, *atomic.Bool) {
	halted := &atomic.Bool{}
	c := New(executor, drainer, floor, sizing, bus, halted, zap.NewNop())
	return c, halted
}

func TestController_HaltCancelsAndDrains(t *testing.T) {
	executor := &fakeExecutor{pending: []domain.Order{{ID: "o1"}, {ID: "o2"}}}
	drainer := &fakeDrainer{decisions: []*domain.TradingDecision{queuedDecision("d1"), queuedDecision("d2")}}
	floor := &fakeFloor{minScore: 0.5}
	bus := newRecordingBus()

	c, halted := newTestController(executor, drainer, floor, &fakeSizing{}, bus)
	c.Halt(context.Background(), "exposure exhausted")

	require.True(t, halted.Load())
	require.Equal(t, StateHalted, c.State())
	require.ElementsMatch(t, []string{"o1", "o2"}, executor.cancelled)
	require.Zero(t, drainer.depth(), "queue is empty after the drain")

	cancelled := bus.published(events.TopicDecisionCancelled)
	require.Len(t, cancelled, 2, "one event per drained decision")
	ids := []string{cancelled[0].(Cancellation).DecisionID, cancelled[1].(Cancellation).DecisionID}
	require.ElementsMatch(t, []string{"d1", "d2"}, ids)

	require.Len(t, bus.published(events.TopicTradingHalted), 1)
}

func TestController_HaltIsIdempotent(t *testing.T) {
	executor := &fakeExecutor{}
	bus := newRecordingBus()
	c, _ := newTestController(executor, &fakeDrainer{}, &fakeFloor{minScore: 0.5}, &fakeSizing{}, bus)

	c.Halt(context.Background(), "first")
	c.Halt(context.Background(), "second")

	require.Len(t, bus.published(events.TopicTradingHalted), 1)
}

func TestController_ReduceActivity(t *testing.T) {
	floor := &fakeFloor{minScore: 0.5}
	sizing := &fakeSizing{factor: decimal.NewFromInt(1)}
	bus := newRecordingBus()
	c, halted := newTestController(&fakeExecutor{}, &fakeDrainer{}, floor, sizing, bus)

	c.handleAlert(context.Background(), domain.RiskAlert{Severity: domain.RiskHigh, Reason: "exposure above 80%"})

	require.False(t, halted.Load(), "high severity must not halt")
	require.Equal(t, StateRunning, c.State())
	require.Equal(t, 0.75, floor.MinScore())
	require.True(t, sizing.factor.Equal(decimal.RequireFromString("0.5")))
	require.Empty(t, bus.published(events.TopicTradingHalted))
}

func TestController_MediumAlertChangesNothing(t *testing.T) {
	floor := &fakeFloor{minScore: 0.5}
	sizing := &fakeSizing{factor: decimal.NewFromInt(1)}
	bus := newRecordingBus()
	c, halted := newTestController(&fakeExecutor{}, &fakeDrainer{}, floor, sizing, bus)

	c.handleAlert(context.Background(), domain.RiskAlert{Severity: domain.RiskMedium, Reason: "exposure above 50%"})

	require.False(t, halted.Load())
	require.Equal(t, 0.5, floor.MinScore())
	require.True(t, sizing.factor.Equal(decimal.NewFromInt(1)))
}

func TestController_Resume(t *testing.T) {
	floor := &fakeFloor{minScore: 0.5}
	sizing := &fakeSizing{}
	bus := newRecordingBus()
	c, halted := newTestController(&fakeExecutor{}, &fakeDrainer{}, floor, sizing, bus)

	c.Halt(context.Background(), "critical alert")
	floor.SetMinScore(0.75) // as if reduce-activity had also fired

	c.Resume()

	require.False(t, halted.Load())
	require.Equal(t, StateRunning, c.State())
	require.Equal(t, 0.5, floor.MinScore(), "pre-halt floor restored")
	require.True(t, sizing.factor.Equal(decimal.NewFromInt(1)), "sizing restored to full")
	require.Len(t, bus.published(events.TopicTradingResumed), 1)
}

func TestController_ResumeAfterReduceActivityRestoresConfiguredFloor(t *testing.T) {
	floor := &fakeFloor{minScore: 0.5}
	sizing := &fakeSizing{}
	bus := newRecordingBus()
	c, halted := newTestController(&fakeExecutor{}, &fakeDrainer{}, floor, sizing, bus)

	c.handleAlert(context.Background(), domain.RiskAlert{Severity: domain.RiskHigh, Reason: "exposure above 80%"})
	require.Equal(t, 0.75, floor.MinScore())

	c.Halt(context.Background(), "critical alert")
	c.Resume()

	require.False(t, halted.Load())
	require.Equal(t, 0.5, floor.MinScore(), "configured floor restored, not the reduced one")
	require.True(t, sizing.factor.Equal(decimal.NewFromInt(1)))
}

func TestController_HaltDoesNotRetryFatalCancelFailures(t *testing.T) {
	executor := &fakeExecutor{
		pending:   []domain.Order{{ID: "o1"}},
		cancelErr: domain.NewFatalExecError(errors.New("unknown order")),
	}
	bus := newRecordingBus()
	c, halted := newTestController(executor, &fakeDrainer{}, &fakeFloor{minScore: 0.5}, &fakeSizing{}, bus)

	c.Halt(context.Background(), "critical alert")

	require.True(t, halted.Load(), "halt completes despite the failed cancel")
	require.Equal(t, 1, executor.calls(), "fatal venue errors are not retried")
	require.Len(t, bus.published(events.TopicTradingHalted), 1)
}

func TestController_ResumeWithoutHaltIsNoop(t *testing.T) {
	bus := newRecordingBus()
	c, _ := newTestController(&fakeExecutor{}, &fakeDrainer{}, &fakeFloor{}, &fakeSizing{}, bus)

	c.Resume()
	require.Empty(t, bus.published(events.TopicTradingResumed))
}

func TestController_RunConsumesAlertStream(t *testing.T) {
	executor := &fakeExecutor{pending: []domain.Order{{ID: "o1"}}}
	bus := newRecordingBus()
	c, halted := newTestController(executor, &fakeDrainer{}, &fakeFloor{minScore: 0.5}, &fakeSizing{}, bus)

	alerts := make(chan events.Event, 1)
	alerts <- events.Event{
		Topic:   events.TopicRiskAlert,
		At:      time.Now(),
		Payload: domain.RiskAlert{Severity: domain.RiskCritical, Reason: "feed loss", Source: "consensus"},
	}
	close(alerts)

	require.NoError(t, c.Run(context.Background(), alerts))
	require.True(t, halted.Load())
	require.Equal(t, []string{"o1"}, executor.cancelled)
}
