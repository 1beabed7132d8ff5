// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the side of a trade
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// ParseDirection normalises a direction string (case-insensitive)
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case DirectionLong:
		return DirectionLong, nil
	case DirectionShort:
		return DirectionShort, nil
	default:
		return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidIntent, s)
	}
}

// AssetClass groups symbols that share a leverage ceiling
type AssetClass string

const (
	AssetClassFX     AssetClass = "FX"
	AssetClassCrypto AssetClass = "CRYPTO"
	AssetClassMetal  AssetClass = "METAL"
	AssetClassIndex  AssetClass = "INDEX"
)

// TradeIntent is a tenant's request to open a position.
// RiskFraction is the share of equity put at risk, in (0, 1].
type TradeIntent struct {
	TenantID      string    `json:"tenant_id"`
	Symbol        string    `json:"symbol"`
	RiskFraction  float64   `json:"risk_fraction"`
	Direction     Direction `json:"direction"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Validate checks the intent is well formed
func (i TradeIntent) Validate() error {
	if strings.TrimSpace(i.TenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidIntent)
	}
	if strings.TrimSpace(i.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidIntent)
	}
	if !(i.RiskFraction > 0 && i.RiskFraction <= 1) {
		return fmt.Errorf("%w: risk fraction %v outside (0, 1]", ErrInvalidIntent, i.RiskFraction)
	}
	if i.Direction != DirectionLong && i.Direction != DirectionShort {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidIntent, i.Direction)
	}
	return nil
}

// PriceQuote is a freshly resolved oracle price. Never cached.
type PriceQuote struct {
	PublishedAt time.Time `json:"published_at"`
	Symbol      string    `json:"symbol"`
	FeedID      string    `json:"feed_id"`
	Price       float64   `json:"price"`
}

// SizingResult is the outcome of position sizing
type SizingResult struct {
	Equity      float64 `json:"equity"`
	RiskAmount  float64 `json:"risk_amount"`
	MaxLeverage float64 `json:"max_leverage"`
	Notional    float64 `json:"notional"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
}

// Candidate is a scored symbol from one scan cycle
type Candidate struct {
	Symbol string  `json:"symbol"`
	P      float64 `json:"p"`
	E      float64 `json:"e"`
	R      float64 `json:"r"`
	V      float64 `json:"v"`
}

// Combined returns the combined score P×E used by the veto and the ranker
func (c Candidate) Combined() float64 {
	return c.P * c.E
}

// RankedSelection is ordered by descending combined score
type RankedSelection []Candidate

// Best returns the top-ranked candidate
func (s RankedSelection) Best() (Candidate, bool) {
	if len(s) == 0 {
		return Candidate{}, false
	}
	return s[0], true
}

// Symbols returns the selected symbols in rank order
func (s RankedSelection) Symbols() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Symbol
	}
	return out
}

// Order is handed to the settlement collaborator
type Order struct {
	CorrelationID string    `json:"correlation_id"`
	TenantID      string    `json:"tenant_id"`
	Symbol        string    `json:"symbol"`
	Direction     Direction `json:"direction"`
	Quantity      float64   `json:"quantity"`
}

// DispatchRecord is the durable result of a dispatched intent
type DispatchRecord struct {
	CreatedAt     time.Time    `json:"created_at" msgpack:"created_at"`
	CorrelationID string       `json:"correlation_id" msgpack:"correlation_id"`
	TenantID      string       `json:"tenant_id" msgpack:"tenant_id"`
	Symbol        string       `json:"symbol" msgpack:"symbol"`
	Direction     Direction    `json:"direction" msgpack:"direction"`
	Handle        string       `json:"handle" msgpack:"handle"`
	Sizing        SizingResult `json:"sizing" msgpack:"sizing"`
}

// Placeholder reports whether the record was produced in degraded mode
func (r DispatchRecord) Placeholder() bool {
	return IsPlaceholderHandle(r.Handle)
}

// ArchiveCursor is how far a ledger archive has progressed.
// LastID is the ledger row id of the last archived record; Through is its creation time.
type ArchiveCursor struct {
	Through time.Time `json:"through"`
	LastID  int64     `json:"last_id"`
}

// PlaceholderHandlePrefix tags handles issued without a settlement collaborator
const PlaceholderHandlePrefix = "0xSTUB-"

// IsPlaceholderHandle reports whether a handle is a degraded-mode sentinel
func IsPlaceholderHandle(handle string) bool {
	return strings.HasPrefix(handle, PlaceholderHandlePrefix)
}

// DispatchUnit is one tenant-scoped instruction produced by a scan cycle.
// ID doubles as the correlation id of the dispatch it leads to.
type DispatchUnit struct {
	CreatedAt   time.Time `json:"created_at"`
	ID          string    `json:"id"`
	CycleID     string    `json:"cycle_id"`
	TenantID    string    `json:"tenant_id"`
	TenantEmail string    `json:"tenant_email"`
	SignalID    string    `json:"signal_id"`
	Direction   Direction `json:"direction"`
	Candidate   Candidate `json:"candidate"`
}

// Tenant is an account the coordinator trades for
type Tenant struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	Equity    float64   `json:"equity"`
}

// TenantStatusActive marks tenants eligible for scan fan-out
const TenantStatusActive = "active"

// PipelineFailure records an intent that ended in FAILED
type PipelineFailure struct {
	CreatedAt     time.Time `json:"created_at"`
	CorrelationID string    `json:"correlation_id"`
	TenantID      string    `json:"tenant_id"`
	Symbol        string    `json:"symbol"`
	Stage         string    `json:"stage"`
	Kind          string    `json:"kind"`
	Reason        string    `json:"reason"`
}
