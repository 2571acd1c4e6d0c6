package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/internal/domain"
)

type fakeScorer struct {
	scores map[string]float64
}

func (f *fakeScorer) PerformanceScore(agentID string) float64 { return f.scores[agentID] }

func weightSignal(agent string, confidence float64) domain.Signal {
	return domain.Signal{AgentID: agent, Confidence: confidence}
}

func TestNewWeightingStrategy(t *testing.T) {
	for _, name := range []string{WeightingEqual, WeightingConfidence, WeightingPerformance, ""} {
		strategy, err := NewWeightingStrategy(name, &fakeScorer{})
		require.NoError(t, err, name)
		require.NotNil(t, strategy)
	}

	_, err := NewWeightingStrategy("volatility", nil)
	require.Error(t, err)

	_, err = NewWeightingStrategy(WeightingPerformance, nil)
	require.Error(t, err, "performance weighting needs a tracker")
}

func TestEqualWeighting(t *testing.T) {
	signals := []domain.Signal{
		weightSignal("a", 0.9),
		weightSignal("b", 0.1),
		weightSignal("c", 0.5),
	}

	weights := equalWeighting{}.Weights(signals)
	require.Len(t, weights, 3)
	for _, w := range weights {
		require.InDelta(t, 1.0/3.0, w, 1e-9)
	}

	require.Nil(t, equalWeighting{}.Weights(nil))
}

func TestConfidenceWeighting(t *testing.T) {
	weights := confidenceWeighting{}.Weights([]domain.Signal{
		weightSignal("a", 0.5),
		weightSignal("b", 0.25),
		weightSignal("c", 0.25),
	})
	require.InDelta(t, 0.5, weights[0], 1e-9)
	require.InDelta(t, 0.25, weights[1], 1e-9)
	require.InDelta(t, 0.25, weights[2], 1e-9)

	// all-zero confidence falls back to equal weighting
	weights = confidenceWeighting{}.Weights([]domain.Signal{
		weightSignal("a", 0),
		weightSignal("b", 0),
	})
	require.InDelta(t, 0.5, weights[0], 1e-9)
	require.InDelta(t, 0.5, weights[1], 1e-9)
}

func TestPerformanceWeighting(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"strong": 0.9, "weak": 0.3}}
	strategy := performanceWeighting{tracker: scorer}

	weights := strategy.Weights([]domain.Signal{
		weightSignal("strong", 0.5),
		weightSignal("weak", 0.5),
	})
	require.InDelta(t, 0.75, weights[0], 1e-9)
	require.InDelta(t, 0.25, weights[1], 1e-9)

	// unknown agents all score zero, degenerating to equal weighting
	zeroScorer := &fakeScorer{scores: map[string]float64{}}
	weights = performanceWeighting{tracker: zeroScorer}.Weights([]domain.Signal{
		weightSignal("a", 0.5),
		weightSignal("b", 0.5),
	})
	require.InDelta(t, 0.5, weights[0], 1e-9)
	require.InDelta(t, 0.5, weights[1], 1e-9)
}
