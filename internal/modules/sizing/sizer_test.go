package sizing

import (
	"math"
	"testing"

	"github.com/cerbero/coordinator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSizer() *PositionSizer {
	return NewPositionSizer(NewLeverageTable(DefaultLeverageConfig()))
}

func TestPositionSizer_BTCUSDScenario(t *testing.T) {
	result, err := newTestSizer().Size(10000, 0.008, 65000, "BTCUSD")
	require.NoError(t, err)

	assert.InDelta(t, 80.0, result.RiskAmount, 1e-9)
	assert.Equal(t, 40.0, result.MaxLeverage)
	assert.InDelta(t, 3200.0, result.Notional, 1e-9)
	assert.InDelta(t, 0.04923, result.Quantity, 1e-5)
	assert.Equal(t, 65000.0, result.Price)
	assert.Equal(t, 10000.0, result.Equity)
}

func TestPositionSizer_QuantityFormula(t *testing.T) {
	sizer := newTestSizer()
	table := NewLeverageTable(DefaultLeverageConfig())

	testCases := []struct {
		symbol string
		equity float64
		risk   float64
		price  float64
	}{
		{"EURUSD", 10000, 0.01, 1.07},
		{"USDJPY", 2500, 0.02, 150},
		{"XAUUSD", 50000, 0.005, 1995},
		{"DOLLARIDXUSD", 1000, 1, 104.2},
		{"ETHUSD", 12345.67, 0.25, 3100.5},
	}

	for _, tc := range testCases {
		t.Run(tc.symbol, func(t *testing.T) {
			result, err := sizer.Size(tc.equity, tc.risk, tc.price, tc.symbol)
			require.NoError(t, err)

			expected := (tc.equity * tc.risk * table.MaxLeverage(tc.symbol)) / tc.price
			assert.Equal(t, expected, result.Quantity)
			assert.Greater(t, result.Quantity, 0.0)
		})
	}
}

func TestPositionSizer_InvalidInputs(t *testing.T) {
	sizer := newTestSizer()

	testCases := []struct {
		name   string
		equity float64
		risk   float64
		price  float64
	}{
		{"zero price", 10000, 0.01, 0},
		{"negative price", 10000, 0.01, -1},
		{"zero equity gives zero notional", 0, 0.01, 100},
		{"negative equity", -5, 0.01, 100},
		{"zero risk", 10000, 0, 100},
		{"nan price", 10000, 0.01, math.NaN()},
		{"infinite equity", math.Inf(1), 0.01, 100},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sizer.Size(tc.equity, tc.risk, tc.price, "EURUSD")
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidSizing)
		})
	}
}

func TestPositionSizer_Deterministic(t *testing.T) {
	sizer := newTestSizer()

	a, err := sizer.Size(10000, 0.008, 65000, "BTCUSD")
	require.NoError(t, err)
	b, err := sizer.Size(10000, 0.008, 65000, "BTCUSD")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}
