package intake

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/events"
)

type fakeRegistry struct {
	agents map[string]bool
}

func (f *fakeRegistry) IsActive(agentID string) bool { return f.agents[agentID] }
func (f *fakeRegistry) ActiveCount() int             { return len(f.agents) }

type fakeBus struct {
	mu     sync.Mutex
	topics []events.Topic
	last   any
}

func (f *fakeBus) Publish(topic events.Topic, payload any) {
	f.mu.Lock()
	f.topics = append(f.topics, topic)
	f.last = payload
	f.mu.Unlock()
}

func (f *fakeBus) count(topic events.Topic) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.topics {
		if t == topic {
			n++
		}
	}
	return n
}

type fireCollector struct {
	mu      sync.Mutex
	keys    []domain.BucketKey
	batches [][]domain.Signal
}

func (f *fireCollector) fire(key domain.BucketKey, signals []domain.Signal) {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.batches = append(f.batches, signals)
	f.mu.Unlock()
}

func (f *fireCollector) fires() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func testSignal(agent string) domain.Signal {
	return domain.Signal{
		AgentID:     agent,
		Pair:        domain.Pair{From: "BTC", To: "USDT"},
		Category:    domain.CategoryTechnical,
		Type:        domain.SignalBuy,
		Confidence:  0.8,
		TargetPrice: decimal.NewFromInt(50000),
		CreatedAt:   time.Now(),
	}
}

func newTestIntake(registry *fakeRegistry, bus *fakeBus, fc *fireCollector, opts ...Option) *Intake {
	return New(registry, bus, fc.fire, zap.NewNop(), opts...)
}

func TestIntake_Rejections(t *testing.T) {
	registry := &fakeRegistry{agents: map[string]bool{"known": true}}

	tests := []struct {
		name    string
		signal  domain.Signal
		wantErr error
		reason  string
	}{
		{
			name:   "invalid signal",
			signal: domain.Signal{AgentID: "known"},
			reason: ReasonInvalidSignal,
		},
		{
			name:    "unknown agent",
			signal:  testSignal("stranger"),
			wantErr: ErrUnknownAgent,
			reason:  ReasonUnknownAgent,
		},
		{
			name: "expired signal",
			signal: func() domain.Signal {
				s := testSignal("known")
				s.ExpiresAt = time.Now().Add(-time.Minute)
				return s
			}(),
			wantErr: ErrExpiredSignal,
			reason:  ReasonExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &fakeBus{}
			fc := &fireCollector{}
			intake := newTestIntake(registry, bus, fc)

			err := intake.Submit(tt.signal)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}

			require.Equal(t, 1, bus.count(events.TopicSignalRejected))
			rejection, ok := bus.last.(SignalRejection)
			require.True(t, ok)
			require.Equal(t, tt.reason, rejection.Reason)
			require.Zero(t, fc.fires())
			require.Zero(t, intake.PendingBuckets())
		})
	}
}

func TestIntake_UnanimityFiresImmediately(t *testing.T) {
	registry := &fakeRegistry{agents: map[string]bool{"a": true, "b": true}}
	bus := &fakeBus{}
	fc := &fireCollector{}
	intake := newTestIntake(registry, bus, fc)

	require.NoError(t, intake.Submit(testSignal("a")))
	require.Zero(t, fc.fires(), "one of two signals must not fire")
	require.Equal(t, 1, intake.PendingBuckets())

	require.NoError(t, intake.Submit(testSignal("b")))
	require.Equal(t, 1, fc.fires())
	require.Len(t, fc.batches[0], 2)
	require.Zero(t, intake.PendingBuckets(), "fired bucket is removed")
}

func TestIntake_QuorumFiresOnNextSubmission(t *testing.T) {
	registry := &fakeRegistry{agents: map[string]bool{"a": true, "b": true, "c": true, "d": true, "e": true}}
	bus := &fakeBus{}
	fc := &fireCollector{}
	intake := newTestIntake(registry, bus, fc, WithQuorumFraction(0.4))

	// quorum of 5 agents at 0.4 is 2 signals
	require.NoError(t, intake.Submit(testSignal("a")))
	require.NoError(t, intake.Submit(testSignal("b")))
	require.Zero(t, fc.fires(), "reaching quorum only arms the bucket")

	require.NoError(t, intake.Submit(testSignal("c")))
	require.Equal(t, 1, fc.fires(), "next submission after quorum fires")
	require.Len(t, fc.batches[0], 3)
}

func TestIntake_SweeperFiresArmedQuorum(t *testing.T) {
	registry := &fakeRegistry{agents: map[string]bool{"a": true, "b": true, "c": true, "d": true, "e": true}}
	bus := &fakeBus{}
	fc := &fireCollector{}
	intake := newTestIntake(registry, bus, fc)

	// default quorum 0.6 of 5 agents is 3 signals
	require.NoError(t, intake.Submit(testSignal("a")))
	require.NoError(t, intake.Submit(testSignal("b")))
	require.NoError(t, intake.Submit(testSignal("c")))
	require.Zero(t, fc.fires())

	intake.sweep()
	require.Equal(t, 1, fc.fires(), "sweeper fires the armed bucket")
	require.Len(t, fc.batches[0], 3)
	require.Zero(t, intake.PendingBuckets())
}

func TestIntake_MaxWaitFires(t *testing.T) {
	registry := &fakeRegistry{agents: map[string]bool{"a": true, "b": true, "c": true, "d": true, "e": true}}
	bus := &fakeBus{}
	fc := &fireCollector{}

	now := time.Now()
	clock := func() time.Time { return now }
	intake := newTestIntake(registry, bus, fc, WithMaxWait(30*time.Second), WithClock(clock))

	require.NoError(t, intake.Submit(testSignal("a")))
	intake.sweep()
	require.Zero(t, fc.fires(), "window not elapsed yet")

	now = now.Add(31 * time.Second)
	intake.sweep()
	require.Equal(t, 1, fc.fires(), "window elapsed fires with a single signal")
	require.Len(t, fc.batches[0], 1)
}

func TestIntake_ExactlyOnceUnderConcurrency(t *testing.T) {
	registry := &fakeRegistry{agents: map[string]bool{"a": true, "b": true, "c": true}}
	bus := &fakeBus{}
	fc := &fireCollector{}
	intake := newTestIntake(registry, bus, fc)

	agents := []string{"a", "b", "c"}
	errs := make(chan error, len(agents))
	var wg sync.WaitGroup
	for _, agent := range agents {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			errs <- intake.Submit(testSignal(agent))
		}(agent)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, 1, fc.fires(), "concurrent submissions fire the bucket exactly once")
	require.Len(t, fc.batches[0], 3)
	require.Zero(t, intake.PendingBuckets())
}

func TestIntake_CapacityRejected(t *testing.T) {
	registry := &fakeRegistry{agents: map[string]bool{"a": true, "b": true, "c": true, "d": true, "e": true}}
	bus := &fakeBus{}
	fc := &fireCollector{}
	intake := newTestIntake(registry, bus, fc, WithShardCapacity(1))

	first := testSignal("a")
	require.NoError(t, intake.Submit(first))

	// find another pair that lands in the same shard
	occupied := intake.shardFor(first.Key())
	for i := 0; ; i++ {
		candidate := testSignal("b")
		candidate.Pair = domain.Pair{From: fmt.Sprintf("ALT%d", i), To: "USDT"}
		if intake.shardFor(candidate.Key()) != occupied {
			continue
		}

		err := intake.Submit(candidate)
		require.ErrorIs(t, err, ErrCapacity)

		rejection, ok := bus.last.(SignalRejection)
		require.True(t, ok)
		require.Equal(t, ReasonCapacity, rejection.Reason)
		return
	}
}
