package services

import (
	"context"
	"fmt"
	"time"

	"github.com/cerbero/coordinator/internal/domain"
	"github.com/cerbero/coordinator/internal/events"
	"github.com/cerbero/coordinator/internal/modules/ranking"
	"github.com/cerbero/coordinator/internal/modules/risk"
	"github.com/cerbero/coordinator/internal/queue"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultScanPrefix is the number of universe symbols a PrefixSelector takes
const DefaultScanPrefix = 5

// SymbolSelector picks the symbols a scan cycle evaluates
type SymbolSelector interface {
	Select(universe []string) []string
}

// PrefixSelector takes the first N symbols of the universe
type PrefixSelector struct {
	N int
}

// Select returns up to N leading symbols. N <= 0 uses DefaultScanPrefix.
func (s PrefixSelector) Select(universe []string) []string {
	n := s.N
	if n <= 0 {
		n = DefaultScanPrefix
	}
	if n > len(universe) {
		n = len(universe)
	}
	return append([]string(nil), universe[:n]...)
}

// TenantLister lists tenants eligible for fan-out
type TenantLister interface {
	ListActive(ctx context.Context, limit int) ([]domain.Tenant, error)
}

// SignalRecorder persists scored candidates and returns their ids in order
type SignalRecorder interface {
	Record(ctx context.Context, cycleID string, candidates []domain.Candidate) ([]string, error)
}

// JobCreator tracks dispatch units before they are handed to the transport
type JobCreator interface {
	CreateBatch(ctx context.Context, units []domain.DispatchUnit) error
}

// ScanSettings holds the cycle parameters
type ScanSettings struct {
	Universe    []string
	TopK        int
	Direction   domain.Direction
	TenantLimit int
}

// ScanReport summarises one scan cycle
type ScanReport struct {
	StartedAt   time.Time              `json:"started_at"`
	CycleID     string                 `json:"cycle_id"`
	Symbols     []string               `json:"symbols"`
	Prices      map[string]float64     `json:"prices"`
	Selection   domain.RankedSelection `json:"selection"`
	BestSymbol  string                 `json:"best_symbol,omitempty"`
	Units       []domain.DispatchUnit  `json:"units"`
	Summary     ranking.Summary        `json:"summary"`
	Scored      int                    `json:"scored"`
	Accepted    int                    `json:"accepted"`
	Rejected    int                    `json:"rejected"`
	Undelivered int                    `json:"undelivered"`
	DurationMs  int64                  `json:"duration_ms"`
}

// ScanPipeline runs periodic market scans and fans the best candidate out to tenants
type ScanPipeline struct {
	settings  ScanSettings
	selector  SymbolSelector
	prices    domain.PriceResolver
	scorer    domain.CandidateScorer
	veto      *risk.Veto
	signals   SignalRecorder
	tenants   TenantLister
	jobs      JobCreator
	transport queue.Transport
	events    *events.Manager
	now       func() time.Time
	log       zerolog.Logger
}

// NewScanPipeline creates a scan pipeline. jobs and eventManager may be nil.
func NewScanPipeline(
	settings ScanSettings,
	selector SymbolSelector,
	prices domain.PriceResolver,
	scorer domain.CandidateScorer,
	veto *risk.Veto,
	signals SignalRecorder,
	tenants TenantLister,
	jobs JobCreator,
	transport queue.Transport,
	eventManager *events.Manager,
	log zerolog.Logger,
) *ScanPipeline {
	if selector == nil {
		selector = PrefixSelector{}
	}
	if settings.Direction == "" {
		settings.Direction = domain.DirectionLong
	}
	return &ScanPipeline{
		settings:  settings,
		selector:  selector,
		prices:    prices,
		scorer:    scorer,
		veto:      veto,
		signals:   signals,
		tenants:   tenants,
		jobs:      jobs,
		transport: transport,
		events:    eventManager,
		now:       time.Now,
		log:       log.With().Str("service", "scan_pipeline").Logger(),
	}
}

// RunCycle executes one scan. A cycle with no surviving candidate succeeds with zero units.
func (p *ScanPipeline) RunCycle(ctx context.Context) (*ScanReport, error) {
	report := &ScanReport{
		StartedAt: p.now(),
		CycleID:   uuid.NewString(),
		Prices:    make(map[string]float64),
	}
	log := p.log.With().Str("cycle_id", report.CycleID).Logger()

	report.Symbols = p.selector.Select(p.settings.Universe)

	for _, sym := range report.Symbols {
		quote, err := p.prices.Resolve(ctx, sym)
		if err != nil {
			return p.fail(report, fmt.Errorf("failed to price %s: %w", sym, err))
		}
		report.Prices[sym] = quote.Price
	}

	scored := p.scorer.Score(report.Symbols, report.Prices)
	candidates := make([]domain.Candidate, 0, len(scored))
	for _, sym := range report.Symbols {
		if c, ok := scored[sym]; ok {
			candidates = append(candidates, c)
		}
	}
	report.Scored = len(candidates)

	accepted, rejected := p.veto.Filter(candidates)
	report.Accepted = len(accepted)
	report.Rejected = rejected
	report.Summary = ranking.Summarize(accepted)

	selection, err := ranking.Rank(accepted, p.settings.TopK)
	if err != nil {
		return p.fail(report, err)
	}
	report.Selection = selection

	signalIDs, err := p.signals.Record(ctx, report.CycleID, accepted)
	if err != nil {
		return p.fail(report, err)
	}

	best, ok := selection.Best()
	if !ok {
		log.Info().
			Int("scored", report.Scored).
			Int("rejected", report.Rejected).
			Msg("No candidate survived the veto")
		return p.complete(report), nil
	}
	report.BestSymbol = best.Symbol

	signalID := ""
	for i, c := range accepted {
		if c.Symbol == best.Symbol && i < len(signalIDs) {
			signalID = signalIDs[i]
			break
		}
	}

	tenants, err := p.tenants.ListActive(ctx, p.settings.TenantLimit)
	if err != nil {
		return p.fail(report, err)
	}

	createdAt := p.now()
	units := make([]domain.DispatchUnit, 0, len(tenants))
	for _, t := range tenants {
		units = append(units, domain.DispatchUnit{
			CreatedAt:   createdAt,
			ID:          uuid.NewString(),
			CycleID:     report.CycleID,
			TenantID:    t.ID,
			TenantEmail: t.Email,
			SignalID:    signalID,
			Direction:   p.settings.Direction,
			Candidate:   best,
		})
	}

	if p.jobs != nil {
		if err := p.jobs.CreateBatch(ctx, units); err != nil {
			return p.fail(report, err)
		}
	}

	for _, unit := range units {
		if err := p.transport.Deliver(ctx, unit); err != nil {
			report.Undelivered++
			log.Error().Err(err).Str("unit_id", unit.ID).Str("tenant_id", unit.TenantID).Msg("Failed to hand off dispatch unit")
			continue
		}
		report.Units = append(report.Units, unit)
		p.events.EmitTyped("scan", &events.DispatchUnitQueuedData{
			UnitID:   unit.ID,
			CycleID:  unit.CycleID,
			TenantID: unit.TenantID,
			Symbol:   unit.Candidate.Symbol,
		})
	}

	return p.complete(report), nil
}

func (p *ScanPipeline) complete(report *ScanReport) *ScanReport {
	report.DurationMs = p.now().Sub(report.StartedAt).Milliseconds()

	p.log.Info().
		Str("cycle_id", report.CycleID).
		Strs("symbols", report.Symbols).
		Int("accepted", report.Accepted).
		Int("rejected", report.Rejected).
		Strs("selected", report.Selection.Symbols()).
		Str("best", report.BestSymbol).
		Int("units", len(report.Units)).
		Int("undelivered", report.Undelivered).
		Float64("mean_score", report.Summary.Mean).
		Int64("duration_ms", report.DurationMs).
		Msg("Scan cycle completed")

	p.events.EmitTyped("scan", &events.ScanCompletedData{
		CycleID:    report.CycleID,
		Symbols:    report.Symbols,
		Accepted:   report.Accepted,
		Rejected:   report.Rejected,
		Selected:   report.Selection.Symbols(),
		BestSymbol: report.BestSymbol,
		Units:      len(report.Units),
		DurationMs: report.DurationMs,
	})
	return report
}

func (p *ScanPipeline) fail(report *ScanReport, err error) (*ScanReport, error) {
	report.DurationMs = p.now().Sub(report.StartedAt).Milliseconds()

	p.log.Error().
		Err(err).
		Str("cycle_id", report.CycleID).
		Str("kind", domain.KindOf(err)).
		Msg("Scan cycle failed")

	p.events.EmitTyped("scan", &events.ScanFailedData{
		CycleID: report.CycleID,
		Kind:    domain.KindOf(err),
		Error:   err.Error(),
	})
	return report, err
}
