package domain

import "context"

// SettlementClient submits an order to the settlement layer and returns an opaque handle
// (a transaction hash for on-chain settlement). Exactly one operation by contract.
type SettlementClient interface {
	Submit(ctx context.Context, order Order) (string, error)
}

// CandidateScorer assigns scores to symbols.
// Implementations must be pure: no persisted state between cycles.
type CandidateScorer interface {
	Score(symbols []string, prices map[string]float64) map[string]Candidate
}

// PriceResolver resolves a live price for a symbol
type PriceResolver interface {
	Resolve(ctx context.Context, symbol string) (PriceQuote, error)
}

// EquityProvider returns the equity figure used to size a tenant's positions
type EquityProvider interface {
	Equity(ctx context.Context, tenantID string) (float64, error)
}
