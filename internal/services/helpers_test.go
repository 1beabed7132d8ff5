package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cerbero/coordinator/internal/database"
	"github.com/cerbero/coordinator/internal/domain"
	"github.com/cerbero/coordinator/internal/events"
	"github.com/cerbero/coordinator/internal/modules/execution"
	"github.com/cerbero/coordinator/internal/modules/ledger"
	"github.com/cerbero/coordinator/internal/modules/sizing"
	testingpkg "github.com/cerbero/coordinator/internal/testing"
	"github.com/rs/zerolog"
)

func disabledLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

// mockResolver serves fixed prices; missing symbols are unknown
type mockResolver struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
	calls  int
}

func (m *mockResolver) Resolve(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return domain.PriceQuote{}, m.err
	}
	price, ok := m.prices[strings.ToUpper(symbol)]
	if !ok {
		return domain.PriceQuote{}, domain.Fail(domain.ErrUnknownSymbol, nil, "no feed for %s", symbol)
	}
	return domain.PriceQuote{Symbol: symbol, FeedID: "0xfeed", Price: price, PublishedAt: time.Now()}, nil
}

type staticEquity struct {
	equity float64
	err    error
}

func (s staticEquity) Equity(ctx context.Context, tenantID string) (float64, error) {
	return s.equity, s.err
}

type mockSettlement struct {
	handle string
	err    error
}

func (m *mockSettlement) Submit(ctx context.Context, order domain.Order) (string, error) {
	return m.handle, m.err
}

type failingRecorder struct{}

func (failingRecorder) Append(ctx context.Context, rec domain.DispatchRecord) (bool, error) {
	return false, errors.New("disk full")
}

func (failingRecorder) AppendFailure(ctx context.Context, f domain.PipelineFailure) error {
	return errors.New("disk full")
}

func newLedger(t *testing.T) (*ledger.Repository, *database.DB) {
	db := testingpkg.NewTestDB(t, database.NameLedger)
	return ledger.NewRepository(db.Conn(), disabledLogger()), db
}

func newSizer() *sizing.PositionSizer {
	return sizing.NewPositionSizer(sizing.NewLeverageTable(sizing.DefaultLeverageConfig()))
}

// collectEvents subscribes to every event type and returns the received events
func collectEvents(manager *events.Manager) func() []*events.Event {
	var mu sync.Mutex
	var got []*events.Event
	for _, et := range events.AllEventTypes {
		manager.Bus().Subscribe(et, func(e *events.Event) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
		})
	}
	return func() []*events.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]*events.Event(nil), got...)
	}
}

func newEventManager() *events.Manager {
	log := disabledLogger()
	return events.NewManager(events.NewBus(log), log)
}

func degradedDispatcher() *execution.Dispatcher {
	return execution.NewDispatcher(nil, time.Second, disabledLogger())
}
