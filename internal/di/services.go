package di

import (
	"context"
	"fmt"
	"time"

	"github.com/cerbero/coordinator/internal/clients/ponte"
	"github.com/cerbero/coordinator/internal/clients/pyth"
	"github.com/cerbero/coordinator/internal/config"
	"github.com/cerbero/coordinator/internal/domain"
	"github.com/cerbero/coordinator/internal/events"
	"github.com/cerbero/coordinator/internal/modules/execution"
	"github.com/cerbero/coordinator/internal/modules/pricing"
	"github.com/cerbero/coordinator/internal/modules/risk"
	"github.com/cerbero/coordinator/internal/modules/scoring"
	"github.com/cerbero/coordinator/internal/modules/sizing"
	"github.com/cerbero/coordinator/internal/queue"
	"github.com/cerbero/coordinator/internal/reliability"
	"github.com/cerbero/coordinator/internal/services"
	"github.com/rs/zerolog"
)

// httpWorkerTimeout bounds one POST to the remote worker
const httpWorkerTimeout = 30 * time.Second

// InitializeServices builds clients, domain modules, pipelines and the dispatch transport
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	// Events
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	// Pricing
	registry := pricing.DefaultFeedRegistry()
	if cfg.Pricing.FeedRegistryPath != "" {
		loaded, err := pricing.LoadFeedRegistry(cfg.Pricing.FeedRegistryPath)
		if err != nil {
			return fmt.Errorf("failed to load feed registry: %w", err)
		}
		registry = loaded
	}
	container.FeedRegistry = registry
	container.PythClient = pyth.NewClient(cfg.Pricing.HermesURL, cfg.Pricing.Timeout, log)
	container.Oracle = pricing.NewOracle(registry, container.PythClient, cfg.Pricing.Timeout, log)

	// Sizing, scoring, veto
	container.Leverage = sizing.NewLeverageTable(cfg.Leverage.ToSizingConfig())
	container.Sizer = sizing.NewPositionSizer(container.Leverage)
	container.Scorer = scoring.NewPlaceholderScorer(cfg.Scan.RiskScore, cfg.Scan.Volatility)
	container.Veto = risk.NewVeto(cfg.Scan.VetoThreshold, log)

	// Settlement. Without it the dispatcher issues placeholder handles.
	var settlement domain.SettlementClient
	container.SettlementMode = SettlementPlaceholder
	if cfg.Settlement.Configured() {
		client, err := ponte.Dial(ctx, ponte.Config{
			RPCURL:          cfg.Settlement.RPCURL,
			ContractAddress: cfg.Settlement.ContractAddress,
			PrivateKey:      cfg.Settlement.PrivateKey,
			ChainID:         cfg.Settlement.ChainID,
			GasLimit:        cfg.Settlement.GasLimit,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect settlement client: %w", err)
		}
		container.SettlementClient = client
		container.SettlementMode = SettlementLive
		settlement = client
	}
	container.Dispatcher = execution.NewDispatcher(settlement, cfg.Settlement.Timeout, log)

	// Intent pipeline and ingress
	container.IntentPipeline = services.NewIntentPipeline(
		container.TenantRepo,
		container.Oracle,
		container.Sizer,
		container.Dispatcher,
		container.LedgerRepo,
		container.EventManager,
		log,
	)
	container.IntentService = services.NewIntentService(
		container.TenantRepo,
		container.SignalRepo,
		container.Scorer,
		container.IntentPipeline,
		cfg.Tenants.Wallet,
		container.SettlementMode == SettlementLive,
		log,
	)

	// Dispatch worker and transport
	container.DispatchWorker = services.NewDispatchWorker(
		container.IntentPipeline,
		container.LedgerRepo,
		container.JobRepo,
		cfg.Scan.RiskFraction,
		log,
	)

	container.TransportKind = cfg.Dispatch.Transport
	switch cfg.Dispatch.Transport {
	case config.TransportHTTP:
		container.Transport = queue.NewHTTPTransport(cfg.Dispatch.WorkerURL, cfg.Dispatch.MaxAttempts, httpWorkerTimeout, log)
	default:
		container.TransportKind = config.TransportMemory
		container.MemoryTransport = queue.NewMemoryTransport(container.DispatchWorker.Handle, queue.MemoryConfig{
			Workers:     cfg.Dispatch.Workers,
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			QueueSize:   cfg.Dispatch.QueueSize,
		}, log)
		container.Transport = container.MemoryTransport
	}

	// Scan pipeline
	container.ScanPipeline = services.NewScanPipeline(
		services.ScanSettings{
			Universe:    cfg.Scan.Universe,
			TopK:        cfg.Scan.TopK,
			Direction:   cfg.Scan.Direction,
			TenantLimit: cfg.Tenants.FanOutLimit,
		},
		services.PrefixSelector{N: cfg.Scan.Prefix},
		container.Oracle,
		container.Scorer,
		container.Veto,
		container.SignalRepo,
		container.TenantRepo,
		container.JobRepo,
		container.Transport,
		container.EventManager,
		log,
	)

	// Ledger archive
	if cfg.Archive.Enabled() {
		store, err := reliability.NewR2Client(ctx, reliability.StoreConfig{
			Bucket:          cfg.Archive.Bucket,
			Endpoint:        cfg.Archive.Endpoint,
			Region:          cfg.Archive.Region,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create archive store: %w", err)
		}
		container.ArchiveService = reliability.NewArchiveService(container.LedgerRepo, store, container.EventManager, log)
	}

	log.Info().
		Str("settlement", container.SettlementMode).
		Str("transport", container.TransportKind).
		Int("feeds", registry.Len()).
		Bool("archive", container.ArchiveService != nil).
		Msg("Services initialized")

	return nil
}
