// Package execution hands sized orders to the settlement collaborator.
package execution

import (
	"context"
	"strings"
	"time"

	"github.com/cerbero/coordinator/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DispatchRequest is one sized order to execute
type DispatchRequest struct {
	TenantID      string
	Symbol        string
	Direction     domain.Direction
	Sizing        domain.SizingResult
	CorrelationID string // optional; generated when empty
}

// Dispatcher submits orders and records the opaque execution handle.
// It never deduplicates and never retries.
type Dispatcher struct {
	settlement domain.SettlementClient
	degraded   bool
	timeout    time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// NewDispatcher creates a dispatcher. A nil settlement client puts it in degraded mode,
// where orders receive a tagged placeholder handle instead of being executed.
func NewDispatcher(settlement domain.SettlementClient, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		settlement: settlement,
		timeout:    timeout,
		now:        time.Now,
		log:        log.With().Str("component", "dispatcher").Logger(),
	}
	if settlement == nil {
		d.settlement = StubSettlementClient{}
		d.degraded = true
		d.log.Warn().Msg("Settlement client not configured, dispatcher running in degraded mode")
	}
	return d
}

// Degraded reports whether the dispatcher issues placeholder handles
func (d *Dispatcher) Degraded() bool {
	return d.degraded
}

// Dispatch submits the order and returns the resulting record.
// Collaborator errors, timeouts and empty handles fail with domain.ErrDispatchFailed.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (domain.DispatchRecord, error) {
	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	order := domain.Order{
		CorrelationID: correlationID,
		TenantID:      req.TenantID,
		Symbol:        req.Symbol,
		Direction:     req.Direction,
		Quantity:      req.Sizing.Quantity,
	}

	submitCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	handle, err := d.settlement.Submit(submitCtx, order)
	if err != nil {
		return domain.DispatchRecord{}, domain.Fail(domain.ErrDispatchFailed, err,
			"settlement rejected %s %s for tenant %s", req.Direction, req.Symbol, req.TenantID)
	}
	if strings.TrimSpace(handle) == "" {
		return domain.DispatchRecord{}, domain.Fail(domain.ErrDispatchFailed, nil,
			"settlement returned an empty handle for %s", correlationID)
	}

	record := domain.DispatchRecord{
		CorrelationID: correlationID,
		TenantID:      req.TenantID,
		Symbol:        req.Symbol,
		Direction:     req.Direction,
		Sizing:        req.Sizing,
		Handle:        handle,
		CreatedAt:     d.now().UTC(),
	}

	event := d.log.Info()
	if d.degraded {
		event = d.log.Warn().Bool("placeholder", true)
	}
	event.
		Str("correlation_id", correlationID).
		Str("tenant_id", req.TenantID).
		Str("symbol", req.Symbol).
		Str("direction", string(req.Direction)).
		Float64("qty", req.Sizing.Quantity).
		Str("handle", handle).
		Msg("Order dispatched")

	return record, nil
}
