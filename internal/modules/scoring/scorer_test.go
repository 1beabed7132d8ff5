package scoring

import (
	"testing"

	"github.com/cerbero/coordinator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceholderScorer_Score(t *testing.T) {
	scorer := NewPlaceholderScorer(0.9, 0.9)

	prices := map[string]float64{
		"EURUSD": 1.07,
		"USDJPY": 150,
		"BTCUSD": 65000,
	}
	got := scorer.Score([]string{"EURUSD", "USDJPY", "BTCUSD", "GBPUSD"}, prices)
	require.Len(t, got, 4)

	// 150 mod 7 = 3
	assert.InDelta(t, 0.5+(3.0/7)*0.4, got["USDJPY"].P, 1e-12)
	assert.InDelta(t, 0.6+(3.0/7)*0.3, got["USDJPY"].E, 1e-12)

	// missing price defaults to 1.0
	assert.InDelta(t, 0.5+(1.0/7)*0.4, got["GBPUSD"].P, 1e-12)

	for sym, c := range got {
		assert.Equal(t, sym, c.Symbol)
		assert.GreaterOrEqual(t, c.P, 0.0)
		assert.Less(t, c.P, 1.0)
		assert.GreaterOrEqual(t, c.E, 0.0)
		assert.Less(t, c.E, 1.0)
		assert.Equal(t, 0.9, c.R)
		assert.Equal(t, 0.9, c.V)
	}
}

func TestPlaceholderScorer_Pure(t *testing.T) {
	scorer := NewPlaceholderScorer(0.9, 0.9)
	prices := map[string]float64{"XAUUSD": 1995}

	a := scorer.Score([]string{"XAUUSD"}, prices)
	b := scorer.Score([]string{"XAUUSD"}, prices)
	assert.Equal(t, a, b)
}

func TestPlaceholderScorer_NegativePriceStaysInRange(t *testing.T) {
	got := NewPlaceholderScorer(0.5, 0.5).Score([]string{"X"}, map[string]float64{"X": -13.5})

	assert.GreaterOrEqual(t, got["X"].P, 0.5)
	assert.Less(t, got["X"].P, 1.0)
}

func TestScorerFunc(t *testing.T) {
	var scorer domain.CandidateScorer = ScorerFunc(func(symbols []string, _ map[string]float64) map[string]domain.Candidate {
		out := map[string]domain.Candidate{}
		for _, s := range symbols {
			out[s] = domain.Candidate{Symbol: s, P: 0.7, E: 0.9}
		}
		return out
	})

	got := scorer.Score([]string{"A"}, nil)
	assert.Equal(t, 0.7, got["A"].P)
}
