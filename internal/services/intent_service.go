package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/cerbero/coordinator/internal/domain"
	"github.com/rs/zerolog"
)

// TenantBootstrapper creates a tenant (and its contract) on first contact
type TenantBootstrapper interface {
	EnsureTenant(ctx context.Context, email, wallet string) (domain.Tenant, error)
}

// IntentService is the ingress for tenant trade intents
type IntentService struct {
	tenants       TenantBootstrapper
	signals       SignalRecorder
	scorer        domain.CandidateScorer
	pipeline      IntentProcessor
	wallet        string
	requireWallet bool
	log           zerolog.Logger
}

// NewIntentService creates the ingress service. With requireWallet set, intents are
// refused until a tenant wallet is configured. signals and scorer may be nil.
func NewIntentService(
	tenants TenantBootstrapper,
	signals SignalRecorder,
	scorer domain.CandidateScorer,
	pipeline IntentProcessor,
	wallet string,
	requireWallet bool,
	log zerolog.Logger,
) *IntentService {
	return &IntentService{
		tenants:       tenants,
		signals:       signals,
		scorer:        scorer,
		pipeline:      pipeline,
		wallet:        strings.TrimSpace(wallet),
		requireWallet: requireWallet,
		log:           log.With().Str("service", "intent_ingress").Logger(),
	}
}

// Submit bootstraps the tenant, records an intent signal and runs the pipeline.
// Errors before the pipeline starts return a nil result.
func (s *IntentService) Submit(ctx context.Context, intent domain.TradeIntent) (*IntentResult, error) {
	intent.Symbol = strings.ToUpper(strings.TrimSpace(intent.Symbol))
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	if s.wallet == "" && s.requireWallet {
		return nil, domain.Fail(domain.ErrConfigurationMissing, nil, "no tenant wallet configured")
	}

	if _, err := s.tenants.EnsureTenant(ctx, intent.TenantID, s.wallet); err != nil {
		return nil, fmt.Errorf("failed to bootstrap tenant %s: %w", intent.TenantID, err)
	}

	s.recordSignal(ctx, intent.Symbol)

	return s.pipeline.Process(ctx, intent)
}

func (s *IntentService) recordSignal(ctx context.Context, symbol string) {
	if s.signals == nil || s.scorer == nil {
		return
	}
	scored, ok := s.scorer.Score([]string{symbol}, nil)[symbol]
	if !ok {
		return
	}
	if _, err := s.signals.Record(ctx, "", []domain.Candidate{scored}); err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to record intent signal")
	}
}
