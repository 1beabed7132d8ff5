package queue

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cerbero/coordinator/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// WorkerPath is the route the worker endpoint listens on
const WorkerPath = "/worker"

// HTTPTransport posts dispatch units to a remote worker endpoint
type HTTPTransport struct {
	client *resty.Client
	log    zerolog.Logger
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a transport targeting baseURL + /worker.
// Server errors are retried up to maxAttempts in total.
func NewHTTPTransport(baseURL string, maxAttempts int, timeout time.Duration, log zerolog.Logger) *HTTPTransport {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(maxAttempts - 1).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &HTTPTransport{
		client: client,
		log:    log.With().Str("client", "worker_http").Logger(),
	}
}

// Deliver posts the unit and succeeds on any 2xx response
func (t *HTTPTransport) Deliver(ctx context.Context, unit domain.DispatchUnit) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(unit).
		Post(WorkerPath)
	if err != nil {
		return fmt.Errorf("failed to deliver unit %s: %w", unit.ID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("worker rejected unit %s: status %d: %s", unit.ID, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	t.log.Debug().Str("unit_id", unit.ID).Int("status", resp.StatusCode()).Msg("Unit delivered")
	return nil
}
