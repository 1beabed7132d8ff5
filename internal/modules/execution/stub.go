package execution

import (
	"context"
	"encoding/hex"

	"github.com/cerbero/coordinator/internal/domain"
	"github.com/google/uuid"
)

// StubSettlementClient stands in for an unconfigured settlement layer.
// It never executes anything and always returns a placeholder handle.
type StubSettlementClient struct{}

var _ domain.SettlementClient = StubSettlementClient{}

// Submit returns a fresh placeholder handle
func (StubSettlementClient) Submit(ctx context.Context, order domain.Order) (string, error) {
	return PlaceholderHandle(), nil
}

// PlaceholderHandle returns "0xSTUB-" followed by 32 hex characters
func PlaceholderHandle() string {
	id := uuid.New()
	return domain.PlaceholderHandlePrefix + hex.EncodeToString(id[:])
}
