package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cerbero/coordinator/internal/domain"
	"github.com/rs/zerolog"
)

// MemoryConfig configures the in-process transport
type MemoryConfig struct {
	Workers     int
	MaxAttempts int
	QueueSize   int
	RetryDelay  time.Duration
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	return c
}

// MemoryTransport is a buffered channel drained by a fixed worker pool.
// Failed units are retried in place up to MaxAttempts.
type MemoryTransport struct {
	handler Handler
	cfg     MemoryConfig
	units   chan domain.DispatchUnit
	quit    chan struct{}
	log     zerolog.Logger

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

var _ Transport = (*MemoryTransport)(nil)

// NewMemoryTransport creates a transport that calls handler for every delivered unit
func NewMemoryTransport(handler Handler, cfg MemoryConfig, log zerolog.Logger) *MemoryTransport {
	cfg = cfg.withDefaults()
	return &MemoryTransport{
		handler: handler,
		cfg:     cfg,
		units:   make(chan domain.DispatchUnit, cfg.QueueSize),
		quit:    make(chan struct{}),
		log:     log.With().Str("component", "memory_transport").Logger(),
	}
}

// Start launches the worker pool
func (t *MemoryTransport) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		t.log.Warn().Msg("Memory transport already started, ignoring")
		return
	}
	t.started = true

	for i := 0; i < t.cfg.Workers; i++ {
		t.wg.Add(1)
		go t.worker(i)
	}

	t.log.Info().
		Int("workers", t.cfg.Workers).
		Int("max_attempts", t.cfg.MaxAttempts).
		Int("queue_size", t.cfg.QueueSize).
		Msg("Memory transport started")
}

// Stop refuses new deliveries, drains queued units and waits for the workers
func (t *MemoryTransport) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	close(t.quit)
	close(t.units)
	t.mu.Unlock()

	t.wg.Wait()
	t.log.Info().Msg("Memory transport stopped")
}

// Deliver queues a unit, blocking while the queue is full
func (t *MemoryTransport) Deliver(ctx context.Context, unit domain.DispatchUnit) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.stopped {
		return ErrTransportStopped
	}

	select {
	case t.units <- unit:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to queue unit %s: %w", unit.ID, ctx.Err())
	}
}

// Pending returns the number of queued units not yet picked up
func (t *MemoryTransport) Pending() int {
	return len(t.units)
}

func (t *MemoryTransport) worker(n int) {
	defer t.wg.Done()
	for unit := range t.units {
		t.process(n, unit)
	}
}

func (t *MemoryTransport) process(n int, unit domain.DispatchUnit) {
	var err error
	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		err = t.call(unit)
		if err == nil {
			return
		}

		t.log.Warn().
			Err(err).
			Int("worker", n).
			Str("unit_id", unit.ID).
			Int("attempt", attempt).
			Msg("Dispatch unit failed")

		if attempt == t.cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(t.cfg.RetryDelay * time.Duration(attempt)):
		case <-t.quit:
			// shutting down, retry without waiting
		}
	}

	t.log.Error().
		Err(err).
		Str("unit_id", unit.ID).
		Str("tenant_id", unit.TenantID).
		Str("symbol", unit.Candidate.Symbol).
		Msg("Dispatch unit exhausted retries")
}

func (t *MemoryTransport) call(unit domain.DispatchUnit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return t.handler(context.Background(), unit)
}
