package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cerbero/coordinator/internal/domain"
	"github.com/cerbero/coordinator/internal/modules/ledger"
	"github.com/cerbero/coordinator/internal/modules/pricing"
	"github.com/cerbero/coordinator/internal/modules/signals"
)

// DefaultTenantID is used when an intent names no tenant
const DefaultTenantID = "TEST_USER_001"

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// tradeIntentRequest is the wire form of a trade intent.
// risk_pct and user_id are accepted for older clients.
type tradeIntentRequest struct {
	TenantID      string   `json:"tenant_id"`
	UserID        string   `json:"user_id"`
	Symbol        string   `json:"symbol"`
	RiskFraction  *float64 `json:"risk_fraction"`
	RiskPct       *float64 `json:"risk_pct"`
	Direction     string   `json:"direction"`
	CorrelationID string   `json:"correlation_id"`
}

func (r tradeIntentRequest) toIntent() (domain.TradeIntent, error) {
	tenant := strings.TrimSpace(r.TenantID)
	if tenant == "" {
		tenant = strings.TrimSpace(r.UserID)
	}
	if tenant == "" {
		tenant = DefaultTenantID
	}

	var risk float64
	switch {
	case r.RiskFraction != nil:
		risk = *r.RiskFraction
	case r.RiskPct != nil:
		risk = *r.RiskPct
	default:
		return domain.TradeIntent{}, domain.Fail(domain.ErrInvalidIntent, nil, "risk_fraction is required")
	}

	direction := domain.DirectionLong
	if strings.TrimSpace(r.Direction) != "" {
		d, err := domain.ParseDirection(r.Direction)
		if err != nil {
			return domain.TradeIntent{}, err
		}
		direction = d
	}

	return domain.TradeIntent{
		TenantID:      tenant,
		Symbol:        r.Symbol,
		RiskFraction:  risk,
		Direction:     direction,
		CorrelationID: strings.TrimSpace(r.CorrelationID),
	}, nil
}

// errorResponse is the body of every failed request
type errorResponse struct {
	Error string      `json:"error"`
	Kind  string      `json:"kind"`
	Trail interface{} `json:"trail,omitempty"`
}

// statusForError maps a failure kind to an HTTP status
func statusForError(err error) int {
	switch domain.KindOf(err) {
	case "InvalidIntent":
		return http.StatusBadRequest
	case "UnknownSymbol", "InvalidSizing":
		return http.StatusUnprocessableEntity
	case "FeedUnavailable", "DispatchFailed":
		return http.StatusBadGateway
	case "ConfigurationMissing":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error, trail interface{}) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("kind", domain.KindOf(err)).Msg("Request failed")
	}
	s.writeJSON(w, status, errorResponse{
		Error: err.Error(),
		Kind:  domain.KindOf(err),
		Trail: trail,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// handleHealth reports liveness plus a quick check of every database
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbs := make(map[string]string, len(s.cfg.Databases))
	healthy := true
	for _, db := range s.cfg.Databases {
		if err := db.QuickCheck(r.Context()); err != nil {
			dbs[db.Name()] = err.Error()
			healthy = false
			continue
		}
		dbs[db.Name()] = "ok"
	}

	status := http.StatusOK
	body := map[string]interface{}{"status": "ok", "databases": dbs}
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	s.writeJSON(w, status, body)
}

func (s *Server) handleTradeIntent(w http.ResponseWriter, r *http.Request) {
	var req tradeIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, domain.Fail(domain.ErrInvalidIntent, err, "malformed request body"), nil)
		return
	}

	intent, err := req.toIntent()
	if err != nil {
		s.writeError(w, err, nil)
		return
	}

	result, err := s.cfg.Intents.Submit(r.Context(), intent)
	if err != nil {
		if result != nil {
			s.writeError(w, err, result)
			return
		}
		s.writeError(w, err, nil)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	report, err := s.cfg.Scanner.RunCycle(r.Context())
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// handleWorker processes one pushed dispatch unit. Any non-2xx tells the
// sender to redeliver, so only retryable failures surface as errors.
func (s *Server) handleWorker(w http.ResponseWriter, r *http.Request) {
	var unit domain.DispatchUnit
	if err := json.NewDecoder(r.Body).Decode(&unit); err != nil {
		s.writeError(w, domain.Fail(domain.ErrInvalidIntent, err, "malformed dispatch unit"), nil)
		return
	}
	if unit.ID == "" {
		s.writeError(w, domain.Fail(domain.ErrInvalidIntent, nil, "dispatch unit has no id"), nil)
		return
	}

	if err := s.cfg.Worker.Handle(r.Context(), unit); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: err.Error(),
			Kind:  domain.KindOf(err),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "processed", "unit_id": unit.ID})
}

func (s *Server) handlePythPrice(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if !pricing.ValidFeedID(id) {
		s.writeError(w, domain.Fail(domain.ErrInvalidIntent, nil, "id must be a 0x-prefixed feed id"), nil)
		return
	}

	quote, err := s.cfg.Feeds.ResolveFeed(r.Context(), id)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleArbiBlock(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Chain == nil {
		s.writeError(w, domain.Fail(domain.ErrConfigurationMissing, nil, "settlement chain not configured"), nil)
		return
	}

	block, err := s.cfg.Chain.BlockNumber(r.Context())
	if err != nil {
		s.writeError(w, domain.Fail(domain.ErrDispatchFailed, err, "failed to read block number"), nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"block": block})
}

func (s *Server) handleListDispatches(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	tenant := strings.TrimSpace(r.URL.Query().Get("tenant"))

	var (
		records []domain.DispatchRecord
		err     error
	)
	if tenant != "" {
		records, err = s.cfg.Ledger.ListByTenant(r.Context(), tenant, limit)
	} else {
		records, err = s.cfg.Ledger.ListRecent(r.Context(), limit)
	}
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	if records == nil {
		records = []domain.DispatchRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetDispatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := s.cfg.Ledger.Get(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Kind: "NotFound"})
		return
	}
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := s.cfg.Ledger.ListFailures(r.Context(), parseLimit(r))
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	if failures == nil {
		failures = []domain.PipelineFailure{}
	}
	s.writeJSON(w, http.StatusOK, failures)
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	list, err := s.cfg.Signals.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	if list == nil {
		list = []signals.Signal{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
