// Package internal wires the decision-orchestration pipeline: signal intake,
// weighted consensus, risk gating, prioritized execution and the safety
// circuit breaker.
package internal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arbiterhq/arbiter/config"
	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/events"
	"github.com/arbiterhq/arbiter/internal/services/consensus"
	"github.com/arbiterhq/arbiter/internal/services/halt"
	"github.com/arbiterhq/arbiter/internal/services/intake"
	"github.com/arbiterhq/arbiter/internal/services/registry"
	"github.com/arbiterhq/arbiter/internal/services/risk"
	"github.com/arbiterhq/arbiter/internal/services/riskgate"
	"github.com/arbiterhq/arbiter/internal/services/scheduler"
	"github.com/arbiterhq/arbiter/internal/services/status"
	"github.com/arbiterhq/arbiter/internal/services/tracker"
	"github.com/arbiterhq/arbiter/internal/storage/journal"
)

// Core is a single orchestration instance: it owns every pipeline component
// and runs them under one errgroup.
type Core struct {
	cfg    config.Config
	logger *zap.Logger

	bus       *events.Bus
	registry  *registry.Registry
	tracker   *tracker.Tracker
	risk      *risk.Manager
	gate      *riskgate.Gate
	agg       *consensus.Aggregator
	intake    *intake.Intake
	scheduler *scheduler.Scheduler
	breaker   *halt.Controller
	reporter  *status.Reporter
	journal   *journal.WALStore
	executor  OrderExecutor

	halted atomic.Bool
}

// NewCore creates a fully wired orchestration core. A nil client selects the
// paper venue.
func NewCore(cfg config.Config, client any, logger *zap.Logger) (*Core, error) {
	provider, err := NewVenueProvider(client, cfg.DryRunPrices, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create venue provider")
	}
	orderExecutor, err := provider.Executor()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create order executor")
	}
	marketPricer, err := provider.Pricer()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pricer")
	}

	journalStore, err := journal.NewWALStore(cfg.WALDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open decision journal")
	}

	c := &Core{
		cfg:      cfg,
		logger:   logger,
		bus:      events.NewBus(256),
		journal:  journalStore,
		executor: orderExecutor,
	}

	c.registry = registry.New(logger.Named("registry"))
	for _, agent := range cfg.Agents {
		c.registry.Register(agent.ID, agent.Weight)
	}

	c.tracker = tracker.New(logger.Named("tracker"))
	c.risk = risk.NewManager(cfg.Balance, cfg.RiskBudgetPercent, logger.Named("risk"))
	c.gate = riskgate.New(c.risk, c.bus, logger.Named("riskgate"))

	strategy, err := consensus.NewWeightingStrategy(cfg.WeightingStrategy, c.tracker)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create weighting strategy")
	}
	c.agg = consensus.NewAggregator(strategy, marketPricer, cfg.MinEnsembleScore, logger.Named("consensus"))

	c.scheduler = scheduler.New(c.gate, c.risk, orderExecutor, c.tracker, c.bus, &c.halted, logger.Named("scheduler"),
		scheduler.WithWorkers(cfg.Workers),
		scheduler.WithMaxRetries(cfg.MaxRetries),
		scheduler.WithCapacity(cfg.QueueCapacity),
		scheduler.WithPollInterval(cfg.PollInterval),
		scheduler.WithSubmitTimeout(cfg.SubmitTimeout),
	)

	c.intake = intake.New(c.registry, c.bus, c.onBucket, logger.Named("intake"),
		intake.WithMaxWait(cfg.MaxWaitWindow),
		intake.WithQuorumFraction(cfg.QuorumFraction),
		intake.WithSweepInterval(cfg.SweepInterval),
	)

	c.breaker = halt.New(orderExecutor, c.scheduler, c.agg, c.risk, c.bus, &c.halted, logger.Named("halt"))
	c.reporter = status.New(
		func() bool { return !c.halted.Load() },
		c.registry, c.intake, c.scheduler, c.gate,
	)

	return c, nil
}

// Submit feeds one agent signal into the pipeline.
func (c *Core) Submit(signal domain.Signal) error {
	return c.intake.Submit(signal)
}

// Status returns the current system snapshot.
func (c *Core) Status() domain.SystemStatus {
	return c.reporter.Snapshot()
}

// Resume clears a halt; explicit external action.
func (c *Core) Resume() {
	c.breaker.Resume()
}

// Bus exposes the event bus for agents and observers.
func (c *Core) Bus() *events.Bus {
	return c.bus
}

// Registry exposes the agent registry for runtime registration.
func (c *Core) Registry() *registry.Registry {
	return c.registry
}

// Reporter exposes the status reporter for the web server.
func (c *Core) Reporter() *status.Reporter {
	return c.reporter
}

// Journal exposes the audit journal for read-only observers.
func (c *Core) Journal() *journal.WALStore {
	return c.journal
}

// Run starts every pipeline loop and blocks until ctx is cancelled.
func (c *Core) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.intake.Run(ctx) })
	g.Go(func() error { return c.scheduler.Run(ctx) })

	alerts := c.bus.Subscribe(events.TopicRiskAlert)
	g.Go(func() error {
		defer c.bus.Unsubscribe(alerts)
		return c.breaker.Run(ctx, alerts)
	})

	signals := c.bus.Subscribe(events.TopicSignalGenerated)
	g.Go(func() error {
		defer c.bus.Unsubscribe(signals)
		return c.consumeSignals(ctx, signals)
	})

	outcomes := c.bus.Subscribe(events.TopicOrderExecuted, events.TopicExecutionFailed, events.TopicDecisionCancelled)
	g.Go(func() error {
		defer c.bus.Unsubscribe(outcomes)
		return c.recordOutcomes(ctx, outcomes)
	})

	c.logger.Info("orchestration core started",
		zap.String("venue", c.cfg.Venue),
		zap.String("weighting", c.cfg.WeightingStrategy),
		zap.Int("workers", c.cfg.Workers))

	return g.Wait()
}

// Close releases owned resources.
func (c *Core) Close() error {
	return c.journal.Close()
}

// onBucket consumes a fired decision bucket: aggregate, journal, pre-check,
// enqueue.
func (c *Core) onBucket(key domain.BucketKey, signals []domain.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	decision, err := c.agg.Aggregate(ctx, key, signals)
	if err != nil {
		if errors.Is(err, consensus.ErrNoValidSignals) {
			c.logger.Debug("bucket expired without valid signals", zap.String("key", key.String()))
			return
		}
		// losing the market feed means flying blind: assume the worst and halt
		c.logger.Error("aggregation failed, treating as feed loss", zap.String("key", key.String()), zap.Error(err))
		c.bus.Publish(events.TopicRiskAlert, domain.RiskAlert{
			Severity: domain.RiskCritical,
			Reason:   "market data unavailable: " + err.Error(),
			Source:   "consensus",
			At:       time.Now(),
		})
		return
	}

	if err := c.journal.SaveDecision(journal.DecisionEntry{
		DecisionID:   decision.ID,
		Pair:         decision.Pair.String(),
		Category:     string(decision.Category),
		Type:         decision.Type.String(),
		Confidence:   decision.Confidence,
		TargetPrice:  decision.TargetPrice.String(),
		Contributors: decision.Contributors,
		BuyScore:     decision.Scores.Buy,
		SellScore:    decision.Scores.Sell,
		HoldScore:    decision.Scores.Hold,
		Forced:       decision.Forced,
		At:           decision.CreatedAt,
	}); err != nil {
		c.logger.Error("failed to journal decision", zap.String("decision", decision.ID), zap.Error(err))
	}

	c.bus.Publish(events.TopicConsensusReached, *decision)

	if !decision.Actionable() {
		c.logger.Info("consensus is hold, nothing to execute",
			zap.String("pair", decision.Pair.String()),
			zap.Bool("forced", decision.Forced))
		return
	}

	assessment, allowed := c.gate.PreCheck(decision)
	if !allowed {
		return
	}

	if err := c.scheduler.Enqueue(decision, assessment); err != nil {
		c.logger.Warn("failed to enqueue decision", zap.String("decision", decision.ID), zap.Error(err))
	}
}

// consumeSignals feeds signal_generated events into the intake.
func (c *Core) consumeSignals(ctx context.Context, ch <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			signal, valid := ev.Payload.(domain.Signal)
			if !valid {
				c.logger.Warn("ignoring malformed signal event", zap.Any("payload", ev.Payload))
				continue
			}
			// rejections are already logged and published by the intake
			_ = c.intake.Submit(signal)
		}
	}
}

// recordOutcomes journals execution outcomes and keeps portfolio exposure in
// sync with fills.
func (c *Core) recordOutcomes(ctx context.Context, ch <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			c.recordOutcome(ev)
		}
	}
}

func (c *Core) recordOutcome(ev events.Event) {
	entry := journal.ExecutionEntry{At: ev.At}

	switch payload := ev.Payload.(type) {
	case scheduler.ExecutionReport:
		entry.DecisionID = payload.DecisionID
		entry.OrderID = payload.OrderID
		entry.Pair = payload.Pair
		entry.Status = payload.Status
		entry.FilledQty = payload.FilledQty

		if filled, err := decimal.NewFromString(payload.FilledQty); err == nil {
			if price, err := decimal.NewFromString(payload.Price); err == nil {
				c.risk.AddExposure(filled.Mul(price))
			}
		}
	case scheduler.ExecutionFailure:
		entry.DecisionID = payload.DecisionID
		entry.Pair = payload.Pair
		entry.Status = "failed"
		entry.Reason = payload.Reason
	case halt.Cancellation:
		entry.DecisionID = payload.DecisionID
		entry.Pair = payload.Pair
		entry.Status = "cancelled"
		entry.Reason = payload.Reason
	default:
		return
	}

	if err := c.journal.SaveExecution(entry); err != nil {
		c.logger.Error("failed to journal execution outcome",
			zap.String("decision", entry.DecisionID), zap.Error(err))
	}
}
