// Package scoring assigns P/E/R/V scores to symbols for the scan cycle.
package scoring

import (
	"math"

	"github.com/cerbero/coordinator/internal/domain"
)

// ScorerFunc adapts a plain function to domain.CandidateScorer
type ScorerFunc func(symbols []string, prices map[string]float64) map[string]domain.Candidate

// Score calls f(symbols, prices)
func (f ScorerFunc) Score(symbols []string, prices map[string]float64) map[string]domain.Candidate {
	return f(symbols, prices)
}

var _ domain.CandidateScorer = ScorerFunc(nil)

// PlaceholderScorer derives scores from the price alone.
// It stands in for the real model, which sits behind domain.CandidateScorer.
type PlaceholderScorer struct {
	RiskScore       float64
	VolatilityScore float64
}

var _ domain.CandidateScorer = (*PlaceholderScorer)(nil)

// NewPlaceholderScorer creates a scorer with constant R and V
func NewPlaceholderScorer(riskScore, volatilityScore float64) *PlaceholderScorer {
	return &PlaceholderScorer{RiskScore: riskScore, VolatilityScore: volatilityScore}
}

// Score returns one candidate per symbol. Missing prices default to 1.0.
func (s *PlaceholderScorer) Score(symbols []string, prices map[string]float64) map[string]domain.Candidate {
	out := make(map[string]domain.Candidate, len(symbols))
	for _, sym := range symbols {
		price, ok := prices[sym]
		if !ok || math.IsNaN(price) || math.IsInf(price, 0) {
			price = 1.0
		}

		// seed in [0, 1)
		seed := math.Mod(math.Abs(price), 7) / 7

		out[sym] = domain.Candidate{
			Symbol: sym,
			P:      math.Min(0.99, 0.50+seed*0.40),
			E:      math.Min(0.99, 0.60+seed*0.30),
			R:      s.RiskScore,
			V:      s.VolatilityScore,
		}
	}
	return out
}
