package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *WALStore {
	t.Helper()
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestWALStore_SaveAndReplay(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveDecision(DecisionEntry{
		DecisionID: "d1",
		Pair:       "BTC_USDT",
		Category:   "technical",
		Type:       "buy",
		Confidence: 0.72,
		At:         time.Now(),
	}))
	require.NoError(t, store.SaveExecution(ExecutionEntry{
		DecisionID: "d1",
		OrderID:    "o1",
		Pair:       "BTC_USDT",
		Status:     "filled",
		At:         time.Now(),
	}))

	records, err := store.EventsAfter(0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, KindDecision, records[0].Kind)
	decision, ok := records[0].Entry.(DecisionEntry)
	require.True(t, ok)
	require.Equal(t, "d1", decision.DecisionID)
	require.InDelta(t, 0.72, decision.Confidence, 1e-9)

	require.Equal(t, KindExecution, records[1].Kind)
	execution, ok := records[1].Entry.(ExecutionEntry)
	require.True(t, ok)
	require.Equal(t, "o1", execution.OrderID)
}

func TestWALStore_EventsAfterSkipsReplayed(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveDecision(DecisionEntry{DecisionID: "d1", At: time.Now()}))
	first := store.CurrentIndex()

	require.NoError(t, store.SaveDecision(DecisionEntry{DecisionID: "d2", At: time.Now()}))

	records, err := store.EventsAfter(first)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "d2", records[0].Entry.(DecisionEntry).DecisionID)

	records, err = store.EventsAfter(store.CurrentIndex())
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestWALStore_RequiresDecisionID(t *testing.T) {
	store := newTestStore(t)

	require.Error(t, store.SaveDecision(DecisionEntry{}))
	require.Error(t, store.SaveExecution(ExecutionEntry{}))
}

func TestWALStore_Uninitialized(t *testing.T) {
	var store *WALStore
	require.Error(t, store.SaveDecision(DecisionEntry{DecisionID: "d1"}))
	_, err := store.EventsAfter(0)
	require.Error(t, err)
	require.Zero(t, store.CurrentIndex())
}
