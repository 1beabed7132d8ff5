package sizing

import (
	"math"

	"github.com/cerbero/coordinator/internal/domain"
)

// PositionSizer converts equity, a risk fraction and a price into a leverage-bounded quantity
type PositionSizer struct {
	table *LeverageTable
}

// NewPositionSizer creates a new position sizer
func NewPositionSizer(table *LeverageTable) *PositionSizer {
	return &PositionSizer{table: table}
}

// Size computes quantity = (equity × riskFraction × maxLeverage) / price.
// Fails with domain.ErrInvalidSizing when a precondition is violated or the notional is not positive.
func (s *PositionSizer) Size(equity, riskFraction, price float64, symbol string) (domain.SizingResult, error) {
	if !finite(equity) || !finite(riskFraction) || !finite(price) {
		return domain.SizingResult{}, domain.Fail(domain.ErrInvalidSizing, nil,
			"non-finite input for %s (equity=%v risk=%v price=%v)", symbol, equity, riskFraction, price)
	}
	if equity < 0 {
		return domain.SizingResult{}, domain.Fail(domain.ErrInvalidSizing, nil, "negative equity %v", equity)
	}
	if riskFraction <= 0 {
		return domain.SizingResult{}, domain.Fail(domain.ErrInvalidSizing, nil, "risk fraction %v must be positive", riskFraction)
	}
	if price <= 0 {
		return domain.SizingResult{}, domain.Fail(domain.ErrInvalidSizing, nil, "price %v for %s must be positive", price, symbol)
	}

	maxLeverage := s.table.MaxLeverage(symbol)
	riskAmount := equity * riskFraction
	notional := riskAmount * maxLeverage
	if notional <= 0 {
		return domain.SizingResult{}, domain.Fail(domain.ErrInvalidSizing, nil, "notional %v for %s must be positive", notional, symbol)
	}

	return domain.SizingResult{
		Equity:      equity,
		RiskAmount:  riskAmount,
		MaxLeverage: maxLeverage,
		Notional:    notional,
		Quantity:    notional / price,
		Price:       price,
	}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
