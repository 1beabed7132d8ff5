// Package risk implements the risk veto applied to scored candidates.
package risk

import (
	"github.com/cerbero/coordinator/internal/domain"
	"github.com/rs/zerolog"
)

// Veto accepts candidates whose combined score P×E reaches the threshold (inclusive)
type Veto struct {
	threshold float64
	log       zerolog.Logger
}

// NewVeto creates a new risk veto
func NewVeto(threshold float64, log zerolog.Logger) *Veto {
	return &Veto{
		threshold: threshold,
		log:       log.With().Str("component", "risk_veto").Logger(),
	}
}

// Threshold returns the configured threshold
func (v *Veto) Threshold() float64 {
	return v.threshold
}

// Accepts reports whether c survives the veto
func (v *Veto) Accepts(c domain.Candidate) bool {
	return c.Combined() >= v.threshold
}

// Filter returns accepted candidates in input order and the number rejected.
// Rejection is routine and only logged at debug level.
func (v *Veto) Filter(candidates []domain.Candidate) ([]domain.Candidate, int) {
	accepted := make([]domain.Candidate, 0, len(candidates))
	rejected := 0
	for _, c := range candidates {
		if v.Accepts(c) {
			accepted = append(accepted, c)
			continue
		}
		rejected++
		v.log.Debug().
			Str("symbol", c.Symbol).
			Float64("combined", c.Combined()).
			Float64("threshold", v.threshold).
			Msg("Candidate vetoed")
	}
	return accepted, rejected
}
