// Package intake validates incoming agent signals and accumulates them in
// per-key decision buckets until a consensus trigger fires.
package intake

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/events"
)

const (
	defaultShardCount     = 16
	defaultMaxWait        = 30 * time.Second
	defaultSweepInterval  = 1 * time.Second
	defaultShardBucketCap = 256
	defaultQuorumFraction = 0.6
)

// Rejection reasons attached to signal_rejected events.
const (
	ReasonUnknownAgent  = "unknown_agent"
	ReasonInvalidSignal = "invalid_signal"
	ReasonExpired       = "expired"
	ReasonCapacity      = "capacity"
)

var (
	// ErrUnknownAgent the signal's source is not in the active-agent set.
	ErrUnknownAgent = errors.New("agent is not registered")
	// ErrExpiredSignal the signal is already past its expiry.
	ErrExpiredSignal = errors.New("signal expired")
	// ErrCapacity no room for a new decision bucket.
	ErrCapacity = errors.New("pending bucket capacity exceeded")
)

// SignalRejection is the payload published on signal_rejected.
type SignalRejection struct {
	AgentID string `json:"agent_id"`
	Pair    string `json:"pair"`
	Reason  string `json:"reason"`
}

type agentRegistry interface {
	IsActive(agentID string) bool
	ActiveCount() int
}

type publisher interface {
	Publish(topic events.Topic, payload any)
}

// FireFunc consumes a bucket's signals after the bucket has been removed
// from the pending map.
type FireFunc func(key domain.BucketKey, signals []domain.Signal)

type bucket struct {
	signals    []domain.Signal
	createdAt  time.Time
	quorumSeen bool
}

type shard struct {
	mu      sync.Mutex
	buckets map[domain.BucketKey]*bucket
}

// Intake buckets validated signals per (pair, category) key. Buckets are
// stored in a fixed set of shards so concurrent submissions only contend at
// key granularity.
type Intake struct {
	shards        []*shard
	registry      agentRegistry
	bus           publisher
	fire          FireFunc
	maxWait       time.Duration
	quorum        float64
	shardCap      int
	sweepInterval time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// Option configures the intake.
type Option func(*Intake)

// WithMaxWait overrides the unconditional firing window.
func WithMaxWait(d time.Duration) Option {
	return func(i *Intake) { i.maxWait = d }
}

// WithQuorumFraction overrides the quorum fraction of active agents.
func WithQuorumFraction(f float64) Option {
	return func(i *Intake) { i.quorum = f }
}

// WithShardCapacity overrides the per-shard bucket capacity.
func WithShardCapacity(n int) Option {
	return func(i *Intake) { i.shardCap = n }
}

// WithSweepInterval overrides the sweeper tick.
func WithSweepInterval(d time.Duration) Option {
	return func(i *Intake) { i.sweepInterval = d }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(i *Intake) { i.now = now }
}

// New creates a signal intake firing consumed buckets into fire.
func New(registry agentRegistry, bus publisher, fire FireFunc, logger *zap.Logger, opts ...Option) *Intake {
	i := &Intake{
		shards:        make([]*shard, defaultShardCount),
		registry:      registry,
		bus:           bus,
		fire:          fire,
		maxWait:       defaultMaxWait,
		quorum:        defaultQuorumFraction,
		shardCap:      defaultShardBucketCap,
		sweepInterval: defaultSweepInterval,
		logger:        logger,
		now:           time.Now,
	}
	for idx := range i.shards {
		i.shards[idx] = &shard{buckets: make(map[domain.BucketKey]*bucket)}
	}

	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Submit validates the signal and appends it to its decision bucket.
// Returns nil when accepted; rejected signals produce a signal_rejected
// event and a describing error, never a partial append.
func (i *Intake) Submit(signal domain.Signal) error {
	if err := signal.Validate(); err != nil {
		i.reject(signal, ReasonInvalidSignal, err)
		return err
	}
	if !i.registry.IsActive(signal.AgentID) {
		i.reject(signal, ReasonUnknownAgent, ErrUnknownAgent)
		return ErrUnknownAgent
	}
	if signal.Expired(i.now()) {
		i.reject(signal, ReasonExpired, ErrExpiredSignal)
		return ErrExpiredSignal
	}

	key := signal.Key()
	sh := i.shardFor(key)

	sh.mu.Lock()
	b, ok := sh.buckets[key]
	if !ok {
		if len(sh.buckets) >= i.shardCap {
			i.evictExpiredLocked(sh)
		}
		if len(sh.buckets) >= i.shardCap {
			sh.mu.Unlock()
			i.reject(signal, ReasonCapacity, ErrCapacity)
			return ErrCapacity
		}
		b = &bucket{createdAt: i.now()}
		sh.buckets[key] = b
	}
	b.signals = append(b.signals, signal)

	fired, signals := i.evaluateLocked(sh, key, b)
	sh.mu.Unlock()

	if fired {
		i.fire(key, signals)
	}
	return nil
}

// evaluateLocked applies the trigger policy to a bucket and removes it from
// the shard when it fires. Must be called with the shard lock held.
func (i *Intake) evaluateLocked(sh *shard, key domain.BucketKey, b *bucket) (bool, []domain.Signal) {
	n := i.registry.ActiveCount()
	size := len(b.signals)

	switch {
	case n > 0 && size >= n:
		// unanimity fires immediately
	case i.now().Sub(b.createdAt) >= i.maxWait:
		// window elapsed, fire with whatever is present
	case n > 0 && size >= quorumSize(n, i.quorum):
		// quorum fires on the evaluation attempt after it was first seen
		if !b.quorumSeen {
			b.quorumSeen = true
			return false, nil
		}
	default:
		return false, nil
	}

	delete(sh.buckets, key)
	return true, b.signals
}

// Run drives the sweeper that fires buckets on quorum debounce and on the
// max-wait window. Blocks until ctx is cancelled.
func (i *Intake) Run(ctx context.Context) error {
	ticker := time.NewTicker(i.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			i.sweep()
		}
	}
}

// sweep fires every bucket whose quorum was seen on a previous evaluation or
// whose max-wait window elapsed.
func (i *Intake) sweep() {
	type fired struct {
		key     domain.BucketKey
		signals []domain.Signal
	}

	now := i.now()
	for _, sh := range i.shards {
		var due []fired

		sh.mu.Lock()
		for key, b := range sh.buckets {
			n := i.registry.ActiveCount()
			expired := now.Sub(b.createdAt) >= i.maxWait
			quorumDue := b.quorumSeen && n > 0 && len(b.signals) >= quorumSize(n, i.quorum)
			if !expired && !quorumDue {
				continue
			}
			due = append(due, fired{key: key, signals: b.signals})
			delete(sh.buckets, key)
		}
		sh.mu.Unlock()

		for _, f := range due {
			i.fire(f.key, f.signals)
		}
	}
}

// PendingBuckets returns the number of buckets awaiting aggregation.
func (i *Intake) PendingBuckets() int {
	total := 0
	for _, sh := range i.shards {
		sh.mu.Lock()
		total += len(sh.buckets)
		sh.mu.Unlock()
	}
	return total
}

// evictExpiredLocked drops buckets whose max-wait window elapsed without
// firing them; the sweeper would have consumed them on its next tick, but
// capacity pressure cannot wait for it.
func (i *Intake) evictExpiredLocked(sh *shard) {
	now := i.now()
	for key, b := range sh.buckets {
		if now.Sub(b.createdAt) >= i.maxWait {
			signals := b.signals
			delete(sh.buckets, key)
			go i.fire(key, signals)
		}
	}
}

func (i *Intake) reject(signal domain.Signal, reason string, err error) {
	i.logger.Debug("signal rejected",
		zap.String("agent", signal.AgentID),
		zap.String("pair", signal.Pair.String()),
		zap.String("reason", reason),
		zap.Error(err))
	i.bus.Publish(events.TopicSignalRejected, SignalRejection{
		AgentID: signal.AgentID,
		Pair:    signal.Pair.String(),
		Reason:  reason,
	})
}

func (i *Intake) shardFor(key domain.BucketKey) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.Pair))
	h.Write([]byte(key.Category))
	return i.shards[h.Sum32()%uint32(len(i.shards))]
}

func quorumSize(n int, fraction float64) int {
	q := int(math.Ceil(fraction * float64(n)))
	if q < 1 {
		q = 1
	}
	return q
}
