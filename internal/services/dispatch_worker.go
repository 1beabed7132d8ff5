package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cerbero/coordinator/internal/domain"
	"github.com/cerbero/coordinator/internal/queue"
	"github.com/rs/zerolog"
)

// ErrUnitInFlight is returned when a redelivery arrives while the same unit is still running.
// It is retryable so the transport tries again once the first run settles.
var ErrUnitInFlight = errors.New("dispatch unit already in flight")

// IntentProcessor runs a trade intent
type IntentProcessor interface {
	Process(ctx context.Context, intent domain.TradeIntent) (*IntentResult, error)
}

// DispatchLookup reports whether a correlation id already has a dispatch record
type DispatchLookup interface {
	Exists(ctx context.Context, correlationID string) (bool, error)
}

// JobTracker records dispatch unit progress.
// Claim fails with queue.ErrJobClaimed or queue.ErrJobCompleted when the unit is not free.
type JobTracker interface {
	Claim(ctx context.Context, unit domain.DispatchUnit) error
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// DispatchWorker consumes dispatch units from the transport.
// It is idempotent on the unit ID, which is used as the correlation id.
type DispatchWorker struct {
	pipeline     IntentProcessor
	ledger       DispatchLookup
	jobs         JobTracker
	riskFraction float64
	log          zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewDispatchWorker creates a worker. jobs may be nil.
func NewDispatchWorker(pipeline IntentProcessor, ledger DispatchLookup, jobs JobTracker, riskFraction float64, log zerolog.Logger) *DispatchWorker {
	return &DispatchWorker{
		pipeline:     pipeline,
		ledger:       ledger,
		jobs:         jobs,
		riskFraction: riskFraction,
		log:          log.With().Str("service", "dispatch_worker").Logger(),
		inFlight:     make(map[string]struct{}),
	}
}

// Handle runs the unit through the intent pipeline unless it was already dispatched.
// At most one delivery of a unit runs at a time: locally through the in-flight set,
// across processes through the job claim.
// Only failures worth redelivering are returned to the transport.
func (w *DispatchWorker) Handle(ctx context.Context, unit domain.DispatchUnit) error {
	if unit.ID == "" {
		return domain.Fail(domain.ErrInvalidIntent, nil, "dispatch unit has no id")
	}

	if !w.acquire(unit.ID) {
		w.log.Debug().Str("unit_id", unit.ID).Msg("Unit already in flight, deferring redelivery")
		return domain.Fail(domain.ErrDispatchFailed, ErrUnitInFlight, "unit %s", unit.ID)
	}
	defer w.release(unit.ID)

	done, err := w.ledger.Exists(ctx, unit.ID)
	if err != nil {
		return fmt.Errorf("failed to check unit %s: %w", unit.ID, err)
	}
	if done {
		w.log.Debug().Str("unit_id", unit.ID).Msg("Unit already dispatched, skipping redelivery")
		w.track(w.markDone(ctx, unit.ID), unit.ID)
		return nil
	}

	if w.jobs != nil {
		err := w.jobs.Claim(ctx, unit)
		switch {
		case errors.Is(err, queue.ErrJobCompleted):
			w.log.Debug().Str("unit_id", unit.ID).Msg("Unit already completed, skipping redelivery")
			return nil
		case errors.Is(err, queue.ErrJobClaimed):
			w.log.Debug().Str("unit_id", unit.ID).Msg("Unit claimed by another worker, deferring redelivery")
			return domain.Fail(domain.ErrDispatchFailed, ErrUnitInFlight, "unit %s", unit.ID)
		case err != nil:
			return fmt.Errorf("failed to claim unit %s: %w", unit.ID, err)
		}
	}

	_, err = w.pipeline.Process(ctx, domain.TradeIntent{
		TenantID:      unit.TenantID,
		Symbol:        unit.Candidate.Symbol,
		RiskFraction:  w.riskFraction,
		Direction:     unit.Direction,
		CorrelationID: unit.ID,
	})
	if err != nil {
		if w.jobs != nil {
			w.track(w.jobs.MarkFailed(ctx, unit.ID, err.Error()), unit.ID)
		}
		if Retryable(err) {
			return err
		}
		w.log.Warn().Err(err).Str("unit_id", unit.ID).Msg("Unit failed permanently, not redelivering")
		return nil
	}

	w.track(w.markDone(ctx, unit.ID), unit.ID)
	return nil
}

func (w *DispatchWorker) acquire(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.inFlight[id]; ok {
		return false
	}
	w.inFlight[id] = struct{}{}
	return true
}

func (w *DispatchWorker) release(id string) {
	w.mu.Lock()
	delete(w.inFlight, id)
	w.mu.Unlock()
}

func (w *DispatchWorker) markDone(ctx context.Context, id string) error {
	if w.jobs == nil {
		return nil
	}
	return w.jobs.MarkDone(ctx, id)
}

func (w *DispatchWorker) track(err error, id string) {
	if err != nil {
		w.log.Error().Err(err).Str("unit_id", id).Msg("Failed to update job status")
	}
}

// Retryable reports whether a pipeline failure may succeed on redelivery.
// Deterministic failures (bad symbol, bad sizing, bad input, missing configuration) are not.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrUnknownSymbol),
		errors.Is(err, domain.ErrInvalidSizing),
		errors.Is(err, domain.ErrInvalidIntent),
		errors.Is(err, domain.ErrConfigurationMissing):
		return false
	default:
		return true
	}
}
