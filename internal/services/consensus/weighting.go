package consensus

import (
	"fmt"

	"github.com/arbiterhq/arbiter/internal/domain"
)

// Weighting strategy names accepted by configuration.
const (
	WeightingEqual       = "equal"
	WeightingConfidence  = "confidence"
	WeightingPerformance = "performance"
)

// WeightingStrategy assigns a weight to every signal in a decision bucket.
// Weights are normalized so the whole bucket sums to 1 (an empty bucket
// yields no weights).
type WeightingStrategy interface {
	Weights(signals []domain.Signal) []float64
}

type performanceScorer interface {
	PerformanceScore(agentID string) float64
}

// NewWeightingStrategy selects a strategy by its configured name.
// The performance strategy needs a tracker; the others ignore it.
func NewWeightingStrategy(name string, tracker performanceScorer) (WeightingStrategy, error) {
	switch name {
	case WeightingEqual, "":
		return equalWeighting{}, nil
	case WeightingConfidence:
		return confidenceWeighting{}, nil
	case WeightingPerformance:
		if tracker == nil {
			return nil, fmt.Errorf("performance weighting requires a tracker")
		}
		return performanceWeighting{tracker: tracker}, nil
	default:
		return nil, fmt.Errorf("unsupported weighting strategy: %s", name)
	}
}

type equalWeighting struct{}

func (equalWeighting) Weights(signals []domain.Signal) []float64 {
	if len(signals) == 0 {
		return nil
	}
	w := 1.0 / float64(len(signals))
	weights := make([]float64, len(signals))
	for i := range weights {
		weights[i] = w
	}
	return weights
}

type confidenceWeighting struct{}

func (confidenceWeighting) Weights(signals []domain.Signal) []float64 {
	if len(signals) == 0 {
		return nil
	}

	var sum float64
	for _, s := range signals {
		sum += s.Confidence
	}
	if sum == 0 {
		// all-zero confidence degenerates to equal weighting
		return equalWeighting{}.Weights(signals)
	}

	weights := make([]float64, len(signals))
	for i, s := range signals {
		weights[i] = s.Confidence / sum
	}
	return weights
}

type performanceWeighting struct {
	tracker performanceScorer
}

func (p performanceWeighting) Weights(signals []domain.Signal) []float64 {
	if len(signals) == 0 {
		return nil
	}

	scores := make([]float64, len(signals))
	var sum float64
	for i, s := range signals {
		scores[i] = p.tracker.PerformanceScore(s.AgentID)
		sum += scores[i]
	}
	if sum == 0 {
		return equalWeighting{}.Weights(signals)
	}

	weights := make([]float64, len(signals))
	for i := range signals {
		weights[i] = scores[i] / sum
	}
	return weights
}
