// Package scheduler owns trading decisions from enqueue to terminal state:
// a bounded priority queue and a supervisor worker loop that turns approved
// decisions into venue orders with bounded retries.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/events"
)

// Priority scoring. Every decision lands in [PriorityMin, PriorityMax].
const (
	PriorityBase = 100
	PriorityMin  = 100
	PriorityMax  = 450

	confidenceSpan     = 50
	arbitrageBonus     = 200
	urgencyNearBonus   = 100 // expiry under a minute
	urgencySoonBonus   = 50  // expiry under five minutes
	urgencyNearWindow  = 60 * time.Second
	urgencySoonWindow  = 300 * time.Second
	retryPriorityDecay = 50
)

const (
	defaultMaxRetries    = 3
	defaultPollInterval  = 1 * time.Second
	defaultSubmitTimeout = 10 * time.Second
	defaultCapacity      = 1024
)

type orderExecutor interface {
	Submit(ctx context.Context, order domain.Order) (domain.ExecutionResult, error)
}

type positionSizer interface {
	PositionSize(decision *domain.TradingDecision, current domain.RiskSnapshot) decimal.Decimal
}

type finalChecker interface {
	FinalCheck(decision *domain.TradingDecision) (domain.RiskSnapshot, bool)
}

type performanceRecorder interface {
	RecordDecision(decision *domain.TradingDecision, result domain.ExecutionResult)
}

type publisher interface {
	Publish(topic events.Topic, payload any)
}

// DecisionQueued is the payload published on decision_queued.
type DecisionQueued struct {
	DecisionID string `json:"decision_id"`
	Pair       string `json:"pair"`
	Priority   int    `json:"priority"`
	QueueDepth int    `json:"queue_depth"`
}

// ExecutionReport is the payload published on order_executed.
type ExecutionReport struct {
	DecisionID string `json:"decision_id"`
	OrderID    string `json:"order_id"`
	Pair       string `json:"pair"`
	Side       string `json:"side"`
	Status     string `json:"status"`
	FilledQty  string `json:"filled_qty"`
	Quantity   string `json:"quantity"`
	Price      string `json:"price"`
}

// Cancellation is the payload published on decision_cancelled when a halt
// lands while a worker holds a popped decision.
type Cancellation struct {
	DecisionID string `json:"decision_id"`
	Pair       string `json:"pair"`
	Reason     string `json:"reason"`
}

// ExecutionFailure is the payload published on execution_failed and
// execution_error.
type ExecutionFailure struct {
	DecisionID string `json:"decision_id"`
	Pair       string `json:"pair"`
	Reason     string `json:"reason"`
	Retries    int    `json:"retries"`
	Terminal   bool   `json:"terminal"`
}

// Scheduler dequeues decisions by priority and executes them. One worker is
// the default so global priority ordering holds; more workers trade strict
// ordering for throughput and are an explicit configuration choice.
type Scheduler struct {
	queue    *decisionQueue
	gate     finalChecker
	risk     positionSizer
	executor orderExecutor
	tracker  performanceRecorder
	bus      publisher
	logger   *zap.Logger

	halted        *atomic.Bool
	maxRetries    int
	workers       int
	pollInterval  time.Duration
	submitTimeout time.Duration
	now           func() time.Time
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithWorkers sets the worker pool size (minimum 1).
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n >= 1 {
			s.workers = n
		}
	}
}

// WithMaxRetries caps requeue attempts for retryable failures.
func WithMaxRetries(n int) Option {
	return func(s *Scheduler) { s.maxRetries = n }
}

// WithPollInterval sets how long a worker blocks on an empty queue before
// rechecking the halted flag.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.pollInterval = d }
}

// WithSubmitTimeout bounds a single order submission.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.submitTimeout = d }
}

// WithCapacity bounds the queue.
func WithCapacity(n int) Option {
	return func(s *Scheduler) { s.queue = newDecisionQueue(n) }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler. The halted flag is shared with the halt
// controller and checked before every dequeue.
func New(gate finalChecker, risk positionSizer, executor orderExecutor, tracker performanceRecorder,
	bus publisher, halted *atomic.Bool, logger *zap.Logger, opts ...Option) *Scheduler {

	s := &Scheduler{
		queue:         newDecisionQueue(defaultCapacity),
		gate:          gate,
		risk:          risk,
		executor:      executor,
		tracker:       tracker,
		bus:           bus,
		logger:        logger,
		halted:        halted,
		maxRetries:    defaultMaxRetries,
		workers:       1,
		pollInterval:  defaultPollInterval,
		submitTimeout: defaultSubmitTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Priority scores a decision: base plus confidence, arbitrage and urgency
// bonuses, clamped to the documented bounds.
func Priority(decision *domain.AggregatedDecision, timeToExpiry time.Duration) int {
	p := PriorityBase + int(decision.Confidence*confidenceSpan)
	if decision.Category == domain.CategoryArbitrage {
		p += arbitrageBonus
	}
	switch {
	case timeToExpiry < urgencyNearWindow:
		p += urgencyNearBonus
	case timeToExpiry < urgencySoonWindow:
		p += urgencySoonBonus
	}

	if p < PriorityMin {
		p = PriorityMin
	}
	if p > PriorityMax {
		p = PriorityMax
	}
	return p
}

// Enqueue admits a risk-approved decision into the execution queue.
func (s *Scheduler) Enqueue(aggregated *domain.AggregatedDecision, assessment domain.RiskAssessment) error {
	now := s.now()
	decision := &domain.TradingDecision{
		Aggregated: *aggregated,
		Assessment: assessment,
		CreatedAt:  now,
	}
	decision.Priority = Priority(aggregated, decision.TimeToExpiry(now))

	if err := s.queue.push(decision); err != nil {
		s.logger.Warn("queue full, decision dropped", zap.String("decision", aggregated.ID))
		s.bus.Publish(events.TopicExecutionFailed, ExecutionFailure{
			DecisionID: aggregated.ID,
			Pair:       aggregated.Pair.String(),
			Reason:     "queue_full",
			Terminal:   true,
		})
		return err
	}

	s.bus.Publish(events.TopicDecisionQueued, DecisionQueued{
		DecisionID: aggregated.ID,
		Pair:       aggregated.Pair.String(),
		Priority:   decision.Priority,
		QueueDepth: s.queue.len(),
	})
	return nil
}

// QueueDepth returns the number of queued decisions.
func (s *Scheduler) QueueDepth() int {
	return s.queue.len()
}

// Drain removes every queued decision; the halt controller uses it to empty
// the queue during a halt.
func (s *Scheduler) Drain() []*domain.TradingDecision {
	return s.queue.drain()
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < s.workers; w++ {
		worker := w
		g.Go(func() error {
			return s.runLoop(ctx, worker)
		})
	}
	return g.Wait()
}

// runLoop is a supervisor loop: a single decision's failure never terminates
// it, only ctx cancellation does.
func (s *Scheduler) runLoop(ctx context.Context, worker int) error {
	logger := s.logger.With(zap.Int("worker", worker))
	logger.Info("execution worker started", zap.Duration("poll_interval", s.pollInterval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("execution worker stopped")
			return ctx.Err()
		default:
		}

		if s.halted.Load() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.pollInterval):
			}
			continue
		}

		decision := s.queue.popWait(ctx, s.pollInterval)
		if decision == nil {
			continue
		}
		// halt may have landed between the flag check and the pop; the
		// controller's drain can already be done by now, so requeueing
		// would strand the decision until a resume
		if s.halted.Load() {
			s.cancelForHalt(decision, logger)
			continue
		}

		s.process(ctx, decision, logger)
	}
}

// cancelForHalt disposes of a decision popped right as a halt landed,
// keeping the halted queue empty and the decision accounted for.
func (s *Scheduler) cancelForHalt(decision *domain.TradingDecision, logger *zap.Logger) {
	logger.Info("halt in progress, cancelling popped decision",
		zap.String("decision", decision.Aggregated.ID))
	s.bus.Publish(events.TopicDecisionCancelled, Cancellation{
		DecisionID: decision.Aggregated.ID,
		Pair:       decision.Aggregated.Pair.String(),
		Reason:     "trading halted",
	})
}

func (s *Scheduler) process(ctx context.Context, decision *domain.TradingDecision, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while executing decision",
				zap.String("decision", decision.Aggregated.ID),
				zap.Any("panic", r))
			s.bus.Publish(events.TopicExecutionError, ExecutionFailure{
				DecisionID: decision.Aggregated.ID,
				Pair:       decision.Aggregated.Pair.String(),
				Reason:     "internal error",
				Retries:    decision.RetryCount,
			})
		}
	}()

	current, allowed := s.gate.FinalCheck(decision)
	if !allowed {
		// the gate already published trade_blocked
		return
	}

	qty := s.risk.PositionSize(decision, current)
	if qty.LessThanOrEqual(decimal.Zero) {
		s.terminalFailure(decision, "zero position size", logger)
		return
	}

	order := domain.Order{
		ID:         uuid.NewString(),
		DecisionID: decision.Aggregated.ID,
		Pair:       decision.Aggregated.Pair,
		Side:       decision.Aggregated.Type,
		Quantity:   qty,
		Price:      decision.Aggregated.TargetPrice,
		StopLoss:   decision.Aggregated.StopLoss,
		TakeProfit: decision.Aggregated.TakeProfit,
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	result, err := s.executor.Submit(submitCtx, order)
	cancel()

	if err != nil {
		s.handleSubmitError(decision, err, logger)
		return
	}

	s.tracker.RecordDecision(decision, result)
	s.bus.Publish(events.TopicOrderExecuted, ExecutionReport{
		DecisionID: decision.Aggregated.ID,
		OrderID:    result.OrderID,
		Pair:       order.Pair.String(),
		Side:       order.Side.String(),
		Status:     string(result.Status),
		FilledQty:  result.FilledQty.String(),
		Quantity:   order.Quantity.String(),
		Price:      order.Price.String(),
	})
	logger.Info("order executed",
		zap.String("decision", decision.Aggregated.ID),
		zap.String("order", result.OrderID),
		zap.String("pair", order.Pair.String()),
		zap.String("side", order.Side.String()),
		zap.String("status", string(result.Status)))
}

func (s *Scheduler) handleSubmitError(decision *domain.TradingDecision, err error, logger *zap.Logger) {
	if !domain.IsRetryableExec(err) {
		s.terminalFailure(decision, err.Error(), logger)
		return
	}

	decision.RetryCount++
	if decision.RetryCount >= s.maxRetries {
		s.terminalFailure(decision, "max retries exceeded: "+err.Error(), logger)
		return
	}

	decision.Priority -= retryPriorityDecay
	if decision.Priority < PriorityMin {
		decision.Priority = PriorityMin
	}
	if pushErr := s.queue.push(decision); pushErr != nil {
		s.terminalFailure(decision, "requeue failed: "+pushErr.Error(), logger)
		return
	}

	logger.Warn("retryable execution failure, decision requeued",
		zap.String("decision", decision.Aggregated.ID),
		zap.Int("retry", decision.RetryCount),
		zap.Int("priority", decision.Priority),
		zap.Error(err))
}

func (s *Scheduler) terminalFailure(decision *domain.TradingDecision, reason string, logger *zap.Logger) {
	logger.Error("decision failed terminally",
		zap.String("decision", decision.Aggregated.ID),
		zap.String("pair", decision.Aggregated.Pair.String()),
		zap.Int("retries", decision.RetryCount),
		zap.String("reason", reason))
	s.bus.Publish(events.TopicExecutionFailed, ExecutionFailure{
		DecisionID: decision.Aggregated.ID,
		Pair:       decision.Aggregated.Pair.String(),
		Reason:     reason,
		Retries:    decision.RetryCount,
		Terminal:   true,
	})
}
