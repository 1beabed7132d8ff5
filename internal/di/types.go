// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/cerbero/coordinator/internal/clients/ponte"
	"github.com/cerbero/coordinator/internal/clients/pyth"
	"github.com/cerbero/coordinator/internal/database"
	"github.com/cerbero/coordinator/internal/events"
	"github.com/cerbero/coordinator/internal/modules/execution"
	"github.com/cerbero/coordinator/internal/modules/ledger"
	"github.com/cerbero/coordinator/internal/modules/pricing"
	"github.com/cerbero/coordinator/internal/modules/risk"
	"github.com/cerbero/coordinator/internal/modules/scoring"
	"github.com/cerbero/coordinator/internal/modules/signals"
	"github.com/cerbero/coordinator/internal/modules/sizing"
	"github.com/cerbero/coordinator/internal/modules/tenants"
	"github.com/cerbero/coordinator/internal/queue"
	"github.com/cerbero/coordinator/internal/reliability"
	"github.com/cerbero/coordinator/internal/scheduler"
	"github.com/cerbero/coordinator/internal/services"
)

// Settlement modes reported by the status endpoint
const (
	SettlementLive        = "live"
	SettlementPlaceholder = "placeholder"
)

// Container holds every dependency of the coordinator.
// It is built by Wire and owned by main.
type Container struct {
	// Databases
	TenantsDB *database.DB // tenants.db - tenant accounts and contracts
	LedgerDB  *database.DB // ledger.db - signals, dispatches, failures, jobs

	// Repositories
	TenantRepo *tenants.Repository
	SignalRepo *signals.Repository
	LedgerRepo *ledger.Repository
	JobRepo    *queue.JobRepository

	// Clients
	PythClient       *pyth.Client
	SettlementClient *ponte.Client // nil when settlement is not configured

	// Domain modules
	FeedRegistry *pricing.FeedRegistry
	Oracle       *pricing.Oracle
	Leverage     *sizing.LeverageTable
	Sizer        *sizing.PositionSizer
	Scorer       *scoring.PlaceholderScorer
	Veto         *risk.Veto
	Dispatcher   *execution.Dispatcher

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Pipelines
	IntentPipeline *services.IntentPipeline
	IntentService  *services.IntentService
	ScanPipeline   *services.ScanPipeline
	DispatchWorker *services.DispatchWorker

	// Transport. MemoryTransport is nil when units are pushed over HTTP.
	Transport       queue.Transport
	MemoryTransport *queue.MemoryTransport
	TransportKind   string

	// Reliability. ArchiveService is nil when no bucket is configured.
	ArchiveService *reliability.ArchiveService

	Scheduler *scheduler.Scheduler

	SettlementMode string
}

// Databases returns every open database
func (c *Container) Databases() []*database.DB {
	var dbs []*database.DB
	for _, db := range []*database.DB{c.TenantsDB, c.LedgerDB} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

// Close closes every database. It is safe on a partially built container.
func (c *Container) Close() error {
	var firstErr error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
