// Package queue delivers dispatch units from a scan cycle to the dispatch worker.
package queue

import (
	"context"
	"errors"

	"github.com/cerbero/coordinator/internal/domain"
)

// ErrTransportStopped is returned when delivering to a stopped transport
var ErrTransportStopped = errors.New("transport stopped")

// Handler processes one dispatch unit
type Handler func(ctx context.Context, unit domain.DispatchUnit) error

// Transport hands a dispatch unit to a worker. Delivery is at-least-once,
// so handlers must be idempotent on the unit ID.
type Transport interface {
	Deliver(ctx context.Context, unit domain.DispatchUnit) error
}
