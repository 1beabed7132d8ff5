package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/cerbero/coordinator/internal/database"
	"github.com/cerbero/coordinator/internal/domain"
	"github.com/cerbero/coordinator/internal/events"
	"github.com/cerbero/coordinator/internal/modules/ledger"
	"github.com/cerbero/coordinator/internal/modules/signals"
	"github.com/cerbero/coordinator/internal/services"
	testingpkg "github.com/cerbero/coordinator/internal/testing"
)

type fakeIntents struct {
	got    domain.TradeIntent
	result *services.IntentResult
	err    error
}

func (f *fakeIntents) Submit(_ context.Context, intent domain.TradeIntent) (*services.IntentResult, error) {
	f.got = intent
	return f.result, f.err
}

type fakeScanner struct {
	report   *services.ScanReport
	err      error
	deadline time.Time
}

func (f *fakeScanner) RunCycle(ctx context.Context) (*services.ScanReport, error) {
	f.deadline, _ = ctx.Deadline()
	return f.report, f.err
}

type fakeWorker struct {
	units []domain.DispatchUnit
	err   error
}

func (f *fakeWorker) Handle(_ context.Context, unit domain.DispatchUnit) error {
	f.units = append(f.units, unit)
	return f.err
}

type fakeFeeds struct {
	quote domain.PriceQuote
	err   error
}

func (f *fakeFeeds) ResolveFeed(_ context.Context, id string) (domain.PriceQuote, error) {
	q := f.quote
	q.FeedID = id
	return q, f.err
}

type fakeChain struct {
	block uint64
	err   error
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	return f.block, f.err
}

type fakeLedger struct {
	records  []domain.DispatchRecord
	failures []domain.PipelineFailure
	tenant   string
	limit    int
}

func (f *fakeLedger) Get(_ context.Context, id string) (domain.DispatchRecord, error) {
	for _, r := range f.records {
		if r.CorrelationID == id {
			return r, nil
		}
	}
	return domain.DispatchRecord{}, ledger.ErrNotFound
}

func (f *fakeLedger) ListRecent(_ context.Context, limit int) ([]domain.DispatchRecord, error) {
	f.limit = limit
	return f.records, nil
}

func (f *fakeLedger) ListByTenant(_ context.Context, tenant string, limit int) ([]domain.DispatchRecord, error) {
	f.tenant = tenant
	f.limit = limit
	var out []domain.DispatchRecord
	for _, r := range f.records {
		if r.TenantID == tenant {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListFailures(_ context.Context, limit int) ([]domain.PipelineFailure, error) {
	f.limit = limit
	return f.failures, nil
}

type fakeSignals struct{}

func (fakeSignals) ListRecent(context.Context, int) ([]signals.Signal, error) {
	return nil, nil
}

type fakeJobs struct {
	counts map[string]int
	err    error
}

func (f *fakeJobs) CountByStatus(context.Context) (map[string]int, error) {
	return f.counts, f.err
}

type fixture struct {
	intents *fakeIntents
	scanner *fakeScanner
	worker  *fakeWorker
	feeds   *fakeFeeds
	ledger  *fakeLedger
	jobs    *fakeJobs
	bus     *events.Bus
}

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *fixture) {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	f := &fixture{
		intents: &fakeIntents{},
		scanner: &fakeScanner{},
		worker:  &fakeWorker{},
		feeds:   &fakeFeeds{quote: domain.PriceQuote{Price: 1.08}},
		ledger:  &fakeLedger{},
		jobs:    &fakeJobs{counts: map[string]int{"done": 3}},
		bus:     events.NewBus(log),
	}

	cfg := Config{
		Log:            log,
		Port:           0,
		DevMode:        true,
		Intents:        f.intents,
		Scanner:        f.scanner,
		Worker:         f.worker,
		Feeds:          f.feeds,
		Ledger:         f.ledger,
		Signals:        fakeSignals{},
		Jobs:           f.jobs,
		Bus:            f.bus,
		SettlementMode: "placeholder",
		TransportKind:  "memory",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg), f
}

func doRequest(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestStatusForError(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid intent", domain.Fail(domain.ErrInvalidIntent, nil, "x"), http.StatusBadRequest},
		{"unknown symbol", domain.Fail(domain.ErrUnknownSymbol, nil, "x"), http.StatusUnprocessableEntity},
		{"invalid sizing", domain.Fail(domain.ErrInvalidSizing, nil, "x"), http.StatusUnprocessableEntity},
		{"feed unavailable", domain.Fail(domain.ErrFeedUnavailable, nil, "x"), http.StatusBadGateway},
		{"dispatch failed", domain.Fail(domain.ErrDispatchFailed, nil, "x"), http.StatusBadGateway},
		{"configuration missing", domain.Fail(domain.ErrConfigurationMissing, nil, "x"), http.StatusServiceUnavailable},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, statusForError(tc.err))
		})
	}
}

func TestHandleTradeIntent(t *testing.T) {
	t.Run("accepts intent and returns trail", func(t *testing.T) {
		s, f := newTestServer(t, nil)
		f.intents.result = &services.IntentResult{
			CorrelationID: "corr-1",
			States:        []services.IntentState{services.StateReceived, services.StatePriced, services.StateSized, services.StateDispatched},
		}

		rec := doRequest(t, s, http.MethodPost, "/v1/trade-intent",
			`{"tenant_id":"alice@example.com","symbol":"eurusd","risk_fraction":0.01,"direction":"short"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice@example.com", f.intents.got.TenantID)
		assert.Equal(t, "eurusd", f.intents.got.Symbol)
		assert.Equal(t, 0.01, f.intents.got.RiskFraction)
		assert.Equal(t, domain.DirectionShort, f.intents.got.Direction)

		var result services.IntentResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, "corr-1", result.CorrelationID)
		assert.Equal(t, services.StateDispatched, result.State())
	})

	t.Run("legacy field names and defaults", func(t *testing.T) {
		s, f := newTestServer(t, nil)
		f.intents.result = &services.IntentResult{}

		rec := doRequest(t, s, http.MethodPost, "/v1/trade-intent", `{"symbol":"XAUUSD","risk_pct":0.02}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, DefaultTenantID, f.intents.got.TenantID)
		assert.Equal(t, 0.02, f.intents.got.RiskFraction)
		assert.Equal(t, domain.DirectionLong, f.intents.got.Direction)

		rec = doRequest(t, s, http.MethodPost, "/v1/trade-intent", `{"user_id":"bob","symbol":"XAUUSD","risk_pct":0.02}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "bob", f.intents.got.TenantID)
	})

	testCases := []struct {
		name   string
		body   string
		result *services.IntentResult
		err    error
		status int
		kind   string
		trail  bool
	}{
		{
			name:   "malformed body",
			body:   `{"symbol":`,
			status: http.StatusBadRequest,
			kind:   "InvalidIntent",
		},
		{
			name:   "missing risk",
			body:   `{"symbol":"EURUSD"}`,
			status: http.StatusBadRequest,
			kind:   "InvalidIntent",
		},
		{
			name:   "bad direction",
			body:   `{"symbol":"EURUSD","risk_fraction":0.01,"direction":"sideways"}`,
			status: http.StatusBadRequest,
			kind:   "InvalidIntent",
		},
		{
			name: "pipeline failure keeps trail",
			body: `{"symbol":"DOGEUSD","risk_fraction":0.01}`,
			result: &services.IntentResult{
				CorrelationID: "corr-2",
				States:        []services.IntentState{services.StateReceived, services.StateFailed},
				FailedAt:      services.StateReceived,
			},
			err:    domain.Fail(domain.ErrUnknownSymbol, nil, "DOGEUSD"),
			status: http.StatusUnprocessableEntity,
			kind:   "UnknownSymbol",
			trail:  true,
		},
		{
			name:   "wallet not configured",
			body:   `{"symbol":"EURUSD","risk_fraction":0.01}`,
			err:    domain.Fail(domain.ErrConfigurationMissing, nil, "no tenant wallet configured"),
			status: http.StatusServiceUnavailable,
			kind:   "ConfigurationMissing",
		},
		{
			name:   "feed down",
			body:   `{"symbol":"EURUSD","risk_fraction":0.01}`,
			result: &services.IntentResult{CorrelationID: "corr-3"},
			err:    domain.Fail(domain.ErrFeedUnavailable, nil, "timeout"),
			status: http.StatusBadGateway,
			kind:   "FeedUnavailable",
			trail:  true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, f := newTestServer(t, nil)
			f.intents.result = tc.result
			f.intents.err = tc.err

			rec := doRequest(t, s, http.MethodPost, "/v1/trade-intent", tc.body)

			assert.Equal(t, tc.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tc.kind, resp.Kind)
			assert.NotEmpty(t, resp.Error)
			if tc.trail {
				assert.NotNil(t, resp.Trail)
			} else {
				assert.Nil(t, resp.Trail)
			}
		})
	}
}

func TestHandleTick(t *testing.T) {
	t.Run("returns report", func(t *testing.T) {
		s, f := newTestServer(t, nil)
		f.scanner.report = &services.ScanReport{CycleID: "cycle-1", BestSymbol: "EURUSD", Accepted: 2}

		rec := doRequest(t, s, http.MethodPost, "/tick", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var report services.ScanReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, "cycle-1", report.CycleID)
		assert.Equal(t, "EURUSD", report.BestSymbol)
	})

	t.Run("bounded by the scan timeout", func(t *testing.T) {
		s, f := newTestServer(t, func(cfg *Config) {
			cfg.RequestTimeout = time.Minute
			cfg.ScanTimeout = 3 * time.Minute
		})
		f.scanner.report = &services.ScanReport{CycleID: "cycle-1"}

		start := time.Now()
		rec := doRequest(t, s, http.MethodPost, "/tick", "")

		require.Equal(t, http.StatusOK, rec.Code)
		require.False(t, f.scanner.deadline.IsZero())
		assert.WithinDuration(t, start.Add(3*time.Minute), f.scanner.deadline, 10*time.Second)
		assert.Equal(t, 3*time.Minute+5*time.Second, s.server.WriteTimeout)
	})

	t.Run("maps cycle failure", func(t *testing.T) {
		s, f := newTestServer(t, nil)
		f.scanner.err = domain.Fail(domain.ErrFeedUnavailable, nil, "hermes down")

		rec := doRequest(t, s, http.MethodPost, "/tick", "")

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "FeedUnavailable", decodeError(t, rec).Kind)
	})
}

func TestHandleWorker(t *testing.T) {
	unit := domain.DispatchUnit{ID: "unit-1", TenantID: "t-1", Candidate: domain.Candidate{Symbol: "EURUSD"}}
	body, err := json.Marshal(unit)
	require.NoError(t, err)

	t.Run("processes unit", func(t *testing.T) {
		s, f := newTestServer(t, nil)

		rec := doRequest(t, s, http.MethodPost, "/worker", string(body))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, f.worker.units, 1)
		assert.Equal(t, "unit-1", f.worker.units[0].ID)
	})

	t.Run("retryable failure asks for redelivery", func(t *testing.T) {
		s, f := newTestServer(t, nil)
		f.worker.err = domain.Fail(domain.ErrDispatchFailed, nil, "relay down")

		rec := doRequest(t, s, http.MethodPost, "/worker", string(body))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "DispatchFailed", decodeError(t, rec).Kind)
	})

	t.Run("unit without id", func(t *testing.T) {
		s, f := newTestServer(t, nil)

		rec := doRequest(t, s, http.MethodPost, "/worker", `{"tenant_id":"t-1"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, f.worker.units)
	})
}

func TestHandlePythPrice(t *testing.T) {
	feedID := "0x" + strings.Repeat("ab", 32)

	t.Run("resolves feed", func(t *testing.T) {
		s, _ := newTestServer(t, nil)

		rec := doRequest(t, s, http.MethodGet, "/pyth/price?id="+feedID, "")

		require.Equal(t, http.StatusOK, rec.Code)
		var quote domain.PriceQuote
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quote))
		assert.Equal(t, feedID, quote.FeedID)
		assert.Equal(t, 1.08, quote.Price)
	})

	t.Run("rejects malformed id", func(t *testing.T) {
		s, _ := newTestServer(t, nil)

		for _, target := range []string{"/pyth/price", "/pyth/price?id=xyz"} {
			rec := doRequest(t, s, http.MethodGet, target, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		}
	})

	t.Run("feed unavailable", func(t *testing.T) {
		s, f := newTestServer(t, nil)
		f.feeds.err = domain.Fail(domain.ErrFeedUnavailable, nil, "503")

		rec := doRequest(t, s, http.MethodGet, "/pyth/price?id="+feedID, "")

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestHandleArbiBlock(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		s, _ := newTestServer(t, nil)

		rec := doRequest(t, s, http.MethodGet, "/arbi/block", "")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "ConfigurationMissing", decodeError(t, rec).Kind)
	})

	t.Run("reads head", func(t *testing.T) {
		s, _ := newTestServer(t, func(c *Config) { c.Chain = &fakeChain{block: 4242} })

		rec := doRequest(t, s, http.MethodGet, "/arbi/block", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"block":4242}`, rec.Body.String())
	})

	t.Run("rpc error", func(t *testing.T) {
		s, _ := newTestServer(t, func(c *Config) { c.Chain = &fakeChain{err: errors.New("dial tcp")} })

		rec := doRequest(t, s, http.MethodGet, "/arbi/block", "")

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestDispatchQueries(t *testing.T) {
	s, f := newTestServer(t, nil)
	f.ledger.records = []domain.DispatchRecord{
		{CorrelationID: "c-1", TenantID: "alice", Symbol: "EURUSD", Handle: "0xabc"},
		{CorrelationID: "c-2", TenantID: "bob", Symbol: "XAUUSD", Handle: "0xdef"},
	}
	f.ledger.failures = []domain.PipelineFailure{{CorrelationID: "c-3", Kind: "UnknownSymbol"}}

	t.Run("recent with clamped limit", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/dispatches?limit=100000", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var records []domain.DispatchRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
		assert.Len(t, records, 2)
		assert.Equal(t, maxListLimit, f.ledger.limit)
	})

	t.Run("by tenant", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/dispatches?tenant=bob", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var records []domain.DispatchRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
		require.Len(t, records, 1)
		assert.Equal(t, "c-2", records[0].CorrelationID)
		assert.Equal(t, defaultListLimit, f.ledger.limit)
	})

	t.Run("unknown tenant is empty list", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/dispatches?tenant=nobody", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("get by correlation id", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/dispatches/c-1", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var record domain.DispatchRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
		assert.Equal(t, "alice", record.TenantID)
	})

	t.Run("missing dispatch", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/dispatches/nope", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("failures", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/failures?limit=5", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 5, f.ledger.limit)
		var failures []domain.PipelineFailure
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failures))
		require.Len(t, failures, 1)
		assert.Equal(t, "UnknownSymbol", failures[0].Kind)
	})

	t.Run("signals empty", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/signals", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})
}

func TestHandleSystemStatus(t *testing.T) {
	t.Run("reports mode and jobs", func(t *testing.T) {
		s, _ := newTestServer(t, nil)

		rec := doRequest(t, s, http.MethodGet, "/api/system/status", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var status SystemStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "ok", status.Status)
		assert.Equal(t, "placeholder", status.SettlementMode)
		assert.Equal(t, "memory", status.Transport)
		assert.Equal(t, 3, status.Jobs["done"])
		assert.Greater(t, status.Goroutines, 0)
	})

	t.Run("degraded when job counts fail", func(t *testing.T) {
		s, f := newTestServer(t, nil)
		f.jobs.err = errors.New("locked")

		rec := doRequest(t, s, http.MethodGet, "/api/system/status", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var status SystemStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "degraded", status.Status)
	})
}

func TestHandleHealth(t *testing.T) {
	db := testingpkg.NewTestDB(t, database.NameLedger)
	s, _ := newTestServer(t, func(c *Config) { c.Databases = []*database.DB{db} })

	rec := doRequest(t, s, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","databases":{"ledger":"ok"}}`, rec.Body.String())
}

func TestParseEventTypes(t *testing.T) {
	assert.Equal(t, events.AllEventTypes, parseEventTypes(""))
	assert.Equal(t, events.AllEventTypes, parseEventTypes("bogus"))
	assert.Equal(t,
		[]events.EventType{events.IntentDispatched, events.ScanCompleted},
		parseEventTypes("intent_dispatched, SCAN_COMPLETED,bogus"))
}

func TestEventsWebsocket(t *testing.T) {
	s, f := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/ws?types=SCAN_COMPLETED"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return f.bus.SubscriberCount(events.ScanCompleted) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.bus.SubscriberCount(events.IntentDispatched))

	f.bus.Emit(events.IntentDispatched, "test", map[string]interface{}{"ignored": true})
	f.bus.Emit(events.ScanCompleted, "scan", map[string]interface{}{"cycle_id": "cycle-9"})

	var got events.Event
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, events.ScanCompleted, got.Type)
	assert.Equal(t, "scan", got.Module)
	assert.Equal(t, "cycle-9", got.Data["cycle_id"])

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool {
		return f.bus.SubscriberCount(events.ScanCompleted) == 0
	}, 2*time.Second, 10*time.Millisecond, fmt.Sprintf("subscription leaked on %s", events.ScanCompleted))
}
