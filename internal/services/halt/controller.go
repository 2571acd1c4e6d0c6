// Package halt implements the safety circuit breaker: it listens to the
// risk-alert stream and can stop the whole execution pipeline, cancel
// in-flight orders and drain the queue.
package halt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/events"
	"github.com/arbiterhq/arbiter/pkg/retrier"
)

// State of the breaker.
type State int

const (
	StateRunning State = iota
	StateHalted
	StateResuming
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateResuming:
		return "resuming"
	default:
		return "unknown"
	}
}

// Reduce-activity policy applied on high-severity alerts.
const (
	reducedMinScoreFloor = 0.75
	reducedSizingFactor  = "0.5"
)

type orderExecutor interface {
	Cancel(ctx context.Context, orderID string) (bool, error)
	PendingOrders(ctx context.Context) ([]domain.Order, error)
}

type queueDrainer interface {
	Drain() []*domain.TradingDecision
}

type consensusFloor interface {
	MinScore() float64
	SetMinScore(v float64)
}

type positionSizing interface {
	SetSizingFactor(factor decimal.Decimal)
}

type publisher interface {
	Publish(topic events.Topic, payload any)
}

// Cancellation is the payload published on decision_cancelled.
type Cancellation struct {
	DecisionID string `json:"decision_id"`
	Pair       string `json:"pair"`
	Reason     string `json:"reason"`
}

// Controller reacts to risk alerts independently of the execution loop.
// Critical alerts halt the pipeline; high alerts only reduce activity.
type Controller struct {
	executor  orderExecutor
	scheduler queueDrainer
	consensus consensusFloor
	sizing    positionSizing
	bus       publisher
	logger    *zap.Logger
	retry     *retrier.Retrier

	halted *atomic.Bool

	mu              sync.Mutex
	state           State
	normalMinScore  float64
	normalSizing    decimal.Decimal
	lastAlertReason string
}

// New creates a halt controller sharing the halted flag with the scheduler.
func New(executor orderExecutor, scheduler queueDrainer, consensus consensusFloor, sizing positionSizing,
	bus publisher, halted *atomic.Bool, logger *zap.Logger) *Controller {

	return &Controller{
		executor:  executor,
		scheduler: scheduler,
		consensus: consensus,
		sizing:    sizing,
		bus:       bus,
		logger:    logger,
		halted:    halted,
		state:     StateRunning,
		retry: retrier.New(
			retrier.WithMaxRetries(3),
			retrier.WithInitialInterval(200*time.Millisecond),
			retrier.WithMaxInterval(2*time.Second),
			retrier.WithRetryIf(domain.IsRetryableExec),
		),
	}
}

// State returns the current breaker state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run consumes the risk-alert stream until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, alerts <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-alerts:
			if !ok {
				return nil
			}
			alert, valid := ev.Payload.(domain.RiskAlert)
			if !valid {
				c.logger.Warn("ignoring malformed risk alert", zap.Any("payload", ev.Payload))
				continue
			}
			c.handleAlert(ctx, alert)
		}
	}
}

func (c *Controller) handleAlert(ctx context.Context, alert domain.RiskAlert) {
	c.logger.Info("risk alert received",
		zap.String("severity", alert.Severity.String()),
		zap.String("source", alert.Source),
		zap.String("reason", alert.Reason))

	switch alert.Severity {
	case domain.RiskCritical:
		c.Halt(ctx, alert.Reason)
	case domain.RiskHigh:
		c.reduceActivity(alert.Reason)
	case domain.RiskMedium:
		c.logger.Warn("elevated risk, monitoring increased", zap.String("reason", alert.Reason))
	default:
	}
}

// Halt stops the pipeline: sets the shared flag, cancels outstanding venue
// orders and drains the queue. The HALTED state is acknowledged only after
// the drain completed and every drained decision has its event published.
func (c *Controller) Halt(ctx context.Context, reason string) {
	c.mu.Lock()
	if c.state == StateHalted {
		c.mu.Unlock()
		return
	}
	// reduce-activity may have already saved the configured floor; keep it
	if c.normalMinScore == 0 {
		c.normalMinScore = c.consensus.MinScore()
	}
	c.lastAlertReason = reason
	c.mu.Unlock()

	c.halted.Store(true)
	c.logger.Error("trading halt initiated", zap.String("reason", reason))

	c.cancelOutstanding(ctx)

	for _, decision := range c.scheduler.Drain() {
		c.bus.Publish(events.TopicDecisionCancelled, Cancellation{
			DecisionID: decision.Aggregated.ID,
			Pair:       decision.Aggregated.Pair.String(),
			Reason:     reason,
		})
	}

	c.mu.Lock()
	c.state = StateHalted
	c.mu.Unlock()

	c.bus.Publish(events.TopicTradingHalted, reason)
	c.logger.Error("trading halted", zap.String("reason", reason))
}

// Resume is an explicit external action clearing the halt.
func (c *Controller) Resume() {
	c.mu.Lock()
	if c.state != StateHalted {
		c.mu.Unlock()
		return
	}
	c.state = StateResuming
	normalMinScore := c.normalMinScore
	c.mu.Unlock()

	if normalMinScore > 0 {
		c.consensus.SetMinScore(normalMinScore)
	}
	c.sizing.SetSizingFactor(decimal.NewFromInt(1))
	c.halted.Store(false)

	c.mu.Lock()
	c.state = StateRunning
	c.normalMinScore = 0
	c.mu.Unlock()

	c.bus.Publish(events.TopicTradingResumed, nil)
	c.logger.Info("trading resumed")
}

// reduceActivity raises the consensus floor and shrinks position sizing
// without stopping the pipeline.
func (c *Controller) reduceActivity(reason string) {
	c.mu.Lock()
	if c.normalMinScore == 0 {
		c.normalMinScore = c.consensus.MinScore()
	}
	c.mu.Unlock()

	if c.consensus.MinScore() < reducedMinScoreFloor {
		c.consensus.SetMinScore(reducedMinScoreFloor)
	}
	factor, _ := decimal.NewFromString(reducedSizingFactor)
	c.sizing.SetSizingFactor(factor)

	c.logger.Warn("activity reduced", zap.String("reason", reason))
}

// cancelOutstanding cancels every pending venue order, retrying transient
// failures. Cancellation is idempotent on the venue side.
func (c *Controller) cancelOutstanding(ctx context.Context) {
	pending, err := retrier.DoWithData(c.retry, ctx, func(ctx context.Context) ([]domain.Order, error) {
		return c.executor.PendingOrders(ctx)
	})
	if err != nil {
		c.logger.Error("failed to list pending orders during halt", zap.Error(err))
		return
	}

	for _, order := range pending {
		orderID := order.ID
		err := c.retry.Do(ctx, func(ctx context.Context) error {
			_, cancelErr := c.executor.Cancel(ctx, orderID)
			return cancelErr
		})
		if err != nil {
			c.logger.Error("failed to cancel order during halt",
				zap.String("order", orderID), zap.Error(err))
			continue
		}
		c.logger.Info("order cancelled", zap.String("order", orderID))
	}
}
