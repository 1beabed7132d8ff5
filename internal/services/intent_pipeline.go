// Package services composes the coordinator modules into the intent and scan pipelines.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cerbero/coordinator/internal/domain"
	"github.com/cerbero/coordinator/internal/events"
	"github.com/cerbero/coordinator/internal/modules/execution"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IntentState is a step of the intent pipeline
type IntentState string

const (
	StateReceived   IntentState = "RECEIVED"
	StatePriced     IntentState = "PRICED"
	StateSized      IntentState = "SIZED"
	StateDispatched IntentState = "DISPATCHED"
	StateFailed     IntentState = "FAILED"
)

// Sizer computes position size from equity, risk fraction and price
type Sizer interface {
	Size(equity, riskFraction, price float64, symbol string) (domain.SizingResult, error)
}

// OrderDispatcher executes a sized order
type OrderDispatcher interface {
	Dispatch(ctx context.Context, req execution.DispatchRequest) (domain.DispatchRecord, error)
}

// OutcomeRecorder persists pipeline outcomes
type OutcomeRecorder interface {
	Append(ctx context.Context, rec domain.DispatchRecord) (bool, error)
	AppendFailure(ctx context.Context, f domain.PipelineFailure) error
}

// IntentResult is the trail of one intent through the pipeline
type IntentResult struct {
	Intent        domain.TradeIntent     `json:"intent"`
	CorrelationID string                 `json:"correlation_id"`
	States        []IntentState          `json:"states"`
	Quote         *domain.PriceQuote     `json:"quote,omitempty"`
	Sizing        *domain.SizingResult   `json:"sizing,omitempty"`
	Record        *domain.DispatchRecord `json:"record,omitempty"`
	FailedAt      IntentState            `json:"failed_at,omitempty"`
	Kind          string                 `json:"kind,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// State returns the state the intent ended in
func (r *IntentResult) State() IntentState {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1]
}

// Reached reports whether the intent passed through state s
func (r *IntentResult) Reached(s IntentState) bool {
	for _, st := range r.States {
		if st == s {
			return true
		}
	}
	return false
}

func (r *IntentResult) advance(s IntentState) {
	r.States = append(r.States, s)
}

// IntentPipeline prices, sizes and dispatches a single trade intent.
// Steps run strictly in order, once; the first failure ends the intent.
type IntentPipeline struct {
	equity     domain.EquityProvider
	prices     domain.PriceResolver
	sizer      Sizer
	dispatcher OrderDispatcher
	recorder   OutcomeRecorder
	events     *events.Manager
	now        func() time.Time
	log        zerolog.Logger
}

// NewIntentPipeline creates an intent pipeline. recorder and eventManager may be nil.
func NewIntentPipeline(
	equity domain.EquityProvider,
	prices domain.PriceResolver,
	sizer Sizer,
	dispatcher OrderDispatcher,
	recorder OutcomeRecorder,
	eventManager *events.Manager,
	log zerolog.Logger,
) *IntentPipeline {
	return &IntentPipeline{
		equity:     equity,
		prices:     prices,
		sizer:      sizer,
		dispatcher: dispatcher,
		recorder:   recorder,
		events:     eventManager,
		now:        time.Now,
		log:        log.With().Str("service", "intent_pipeline").Logger(),
	}
}

// Process runs the intent to DISPATCHED or FAILED. The returned result is never nil;
// on failure the error carries its kind and the original cause.
func (p *IntentPipeline) Process(ctx context.Context, intent domain.TradeIntent) (*IntentResult, error) {
	intent.Symbol = strings.ToUpper(strings.TrimSpace(intent.Symbol))
	correlationID := intent.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	intent.CorrelationID = correlationID

	result := &IntentResult{Intent: intent, CorrelationID: correlationID}
	result.advance(StateReceived)

	if err := intent.Validate(); err != nil {
		return p.fail(ctx, result, err)
	}

	equity, err := p.equity.Equity(ctx, intent.TenantID)
	if err != nil {
		return p.fail(ctx, result, fmt.Errorf("failed to read equity for tenant %s: %w", intent.TenantID, err))
	}

	quote, err := p.prices.Resolve(ctx, intent.Symbol)
	if err != nil {
		return p.fail(ctx, result, err)
	}
	result.Quote = &quote
	result.advance(StatePriced)

	sizing, err := p.sizer.Size(equity, intent.RiskFraction, quote.Price, intent.Symbol)
	if err != nil {
		return p.fail(ctx, result, err)
	}
	result.Sizing = &sizing
	result.advance(StateSized)

	record, err := p.dispatcher.Dispatch(ctx, execution.DispatchRequest{
		TenantID:      intent.TenantID,
		Symbol:        intent.Symbol,
		Direction:     intent.Direction,
		Sizing:        sizing,
		CorrelationID: correlationID,
	})
	if err != nil {
		return p.fail(ctx, result, err)
	}
	result.Record = &record
	result.advance(StateDispatched)

	p.recordDispatch(ctx, record)

	p.log.Info().
		Str("correlation_id", correlationID).
		Str("tenant_id", intent.TenantID).
		Str("symbol", intent.Symbol).
		Str("direction", string(intent.Direction)).
		Float64("price", quote.Price).
		Float64("quantity", sizing.Quantity).
		Str("handle", record.Handle).
		Bool("placeholder", record.Placeholder()).
		Msg("Intent dispatched")

	return result, nil
}

func (p *IntentPipeline) fail(ctx context.Context, result *IntentResult, err error) (*IntentResult, error) {
	stage := result.State()
	result.FailedAt = stage
	result.Kind = domain.KindOf(err)
	result.Error = err.Error()
	result.advance(StateFailed)

	p.log.Warn().
		Err(err).
		Str("correlation_id", result.CorrelationID).
		Str("tenant_id", result.Intent.TenantID).
		Str("symbol", result.Intent.Symbol).
		Str("stage", string(stage)).
		Str("kind", result.Kind).
		Msg("Intent failed")

	if p.recorder != nil {
		failure := domain.PipelineFailure{
			CreatedAt:     p.now(),
			CorrelationID: result.CorrelationID,
			TenantID:      result.Intent.TenantID,
			Symbol:        result.Intent.Symbol,
			Stage:         string(stage),
			Kind:          result.Kind,
			Reason:        result.Error,
		}
		if recErr := p.recorder.AppendFailure(ctx, failure); recErr != nil {
			p.log.Error().Err(recErr).Str("correlation_id", result.CorrelationID).Msg("Failed to record pipeline failure")
		}
	}

	p.events.EmitTyped("intent", &events.IntentFailedData{
		CorrelationID: result.CorrelationID,
		TenantID:      result.Intent.TenantID,
		Symbol:        result.Intent.Symbol,
		Stage:         string(stage),
		Kind:          result.Kind,
		Error:         result.Error,
	})

	return result, err
}

func (p *IntentPipeline) recordDispatch(ctx context.Context, record domain.DispatchRecord) {
	if p.recorder != nil {
		if _, err := p.recorder.Append(ctx, record); err != nil {
			p.log.Error().Err(err).Str("correlation_id", record.CorrelationID).Msg("Failed to record dispatch")
		}
	}

	p.events.EmitTyped("intent", &events.IntentDispatchedData{
		CorrelationID: record.CorrelationID,
		TenantID:      record.TenantID,
		Symbol:        record.Symbol,
		Direction:     string(record.Direction),
		Quantity:      record.Sizing.Quantity,
		Price:         record.Sizing.Price,
		Handle:        record.Handle,
		Placeholder:   record.Placeholder(),
	})
}
