// Package sizing classifies symbols into asset classes and sizes positions under their leverage ceilings.
package sizing

import (
	"strings"

	"github.com/cerbero/coordinator/internal/domain"
)

// LeverageConfig holds the leverage ceiling per asset class and the symbol sets that define the classes
type LeverageConfig struct {
	FX            float64
	Crypto        float64
	Metal         float64
	Index         float64
	CryptoSymbols []string
	MetalSymbols  []string
	IndexSymbol   string
}

// DefaultLeverageConfig returns the production defaults
func DefaultLeverageConfig() LeverageConfig {
	return LeverageConfig{
		FX:            40,
		Crypto:        40,
		Metal:         40,
		Index:         20,
		CryptoSymbols: []string{"BTCUSD", "ETHUSD"},
		MetalSymbols:  []string{"XAUUSD", "XAGUSD", "LIGHTCMDUSD"},
		IndexSymbol:   "DOLLARIDXUSD",
	}
}

// LeverageTable maps symbols to asset classes and leverage ceilings.
// Immutable after construction and safe for concurrent use.
type LeverageTable struct {
	ceilings    map[domain.AssetClass]float64
	crypto      map[string]struct{}
	metal       map[string]struct{}
	indexSymbol string
}

// NewLeverageTable creates a leverage table from configuration
func NewLeverageTable(cfg LeverageConfig) *LeverageTable {
	return &LeverageTable{
		ceilings: map[domain.AssetClass]float64{
			domain.AssetClassFX:     cfg.FX,
			domain.AssetClassCrypto: cfg.Crypto,
			domain.AssetClassMetal:  cfg.Metal,
			domain.AssetClassIndex:  cfg.Index,
		},
		crypto:      toSet(cfg.CryptoSymbols),
		metal:       toSet(cfg.MetalSymbols),
		indexSymbol: normalize(cfg.IndexSymbol),
	}
}

// Classify returns the asset class of a symbol.
// Total: anything not crypto, metal or the index symbol is FX.
func (t *LeverageTable) Classify(symbol string) domain.AssetClass {
	s := normalize(symbol)
	if _, ok := t.crypto[s]; ok {
		return domain.AssetClassCrypto
	}
	if _, ok := t.metal[s]; ok {
		return domain.AssetClassMetal
	}
	if s != "" && s == t.indexSymbol {
		return domain.AssetClassIndex
	}
	return domain.AssetClassFX
}

// MaxLeverage returns the leverage ceiling for a symbol
func (t *LeverageTable) MaxLeverage(symbol string) float64 {
	return t.ceilings[t.Classify(symbol)]
}

func toSet(symbols []string) map[string]struct{} {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[normalize(s)] = struct{}{}
	}
	return set
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
