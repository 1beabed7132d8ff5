package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/cerbero/coordinator/internal/clients/pyth"
	"github.com/cerbero/coordinator/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// FeedFetcher fetches raw feed items from the price service
type FeedFetcher interface {
	LatestPriceFeeds(ctx context.Context, ids []string) ([]pyth.PriceFeed, error)
}

// Oracle resolves live prices. It never caches: every call is one upstream request.
type Oracle struct {
	registry *FeedRegistry
	fetcher  FeedFetcher
	timeout  time.Duration
	log      zerolog.Logger
}

var _ domain.PriceResolver = (*Oracle)(nil)

// NewOracle creates a new price oracle
func NewOracle(registry *FeedRegistry, fetcher FeedFetcher, timeout time.Duration, log zerolog.Logger) *Oracle {
	return &Oracle{
		registry: registry,
		fetcher:  fetcher,
		timeout:  timeout,
		log:      log.With().Str("component", "price_oracle").Logger(),
	}
}

// Registry returns the feed registry backing the oracle
func (o *Oracle) Registry() *FeedRegistry {
	return o.registry
}

// Resolve returns the current price of symbol.
// Fails with domain.ErrUnknownSymbol when no feed is registered and
// domain.ErrFeedUnavailable when the upstream call or its payload is unusable.
func (o *Oracle) Resolve(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	feedID, ok := o.registry.FeedID(symbol)
	if !ok {
		return domain.PriceQuote{}, domain.Fail(domain.ErrUnknownSymbol, nil, "no price feed registered for %s", symbol)
	}

	quote, err := o.fetch(ctx, feedID)
	if err != nil {
		o.log.Warn().Err(err).Str("symbol", symbol).Str("feed_id", feedID).Msg("Price resolution failed")
		return domain.PriceQuote{}, domain.Fail(domain.ErrFeedUnavailable, err, "price for %s", symbol)
	}
	quote.Symbol = symbol

	o.log.Debug().Str("symbol", symbol).Float64("price", quote.Price).Msg("Price resolved")
	return quote, nil
}

// ResolveFeed returns the current price of a raw feed id
func (o *Oracle) ResolveFeed(ctx context.Context, feedID string) (domain.PriceQuote, error) {
	if !ValidFeedID(feedID) {
		return domain.PriceQuote{}, domain.Fail(domain.ErrUnknownSymbol, nil, "invalid feed id %q", feedID)
	}

	quote, err := o.fetch(ctx, feedID)
	if err != nil {
		return domain.PriceQuote{}, domain.Fail(domain.ErrFeedUnavailable, err, "price for feed %s", feedID)
	}
	return quote, nil
}

func (o *Oracle) fetch(ctx context.Context, feedID string) (domain.PriceQuote, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	feeds, err := o.fetcher.LatestPriceFeeds(ctx, []string{feedID})
	if err != nil {
		return domain.PriceQuote{}, err
	}
	if len(feeds) == 0 {
		return domain.PriceQuote{}, fmt.Errorf("empty price payload")
	}

	feed := feeds[0]
	for _, f := range feeds {
		if pyth.SameFeed(f.ID, feedID) {
			feed = f
			break
		}
	}

	price, err := decodePrice(feed.Price)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	return domain.PriceQuote{
		FeedID:      feedID,
		Price:       price,
		PublishedAt: time.Unix(feed.Price.PublishTime, 0).UTC(),
	}, nil
}

// decodePrice computes mantissa × 10^expo, taking both from the same component
func decodePrice(pc *pyth.PriceComponent) (float64, error) {
	if pc == nil {
		return 0, fmt.Errorf("malformed payload: missing price")
	}
	if pc.Price == nil {
		return 0, fmt.Errorf("malformed payload: missing mantissa")
	}
	if pc.Expo == nil {
		return 0, fmt.Errorf("malformed payload: missing exponent")
	}

	mantissa, err := decimal.NewFromString(pc.Price.String())
	if err != nil {
		return 0, fmt.Errorf("malformed payload: mantissa %q: %w", pc.Price.String(), err)
	}

	price, _ := mantissa.Shift(int32(*pc.Expo)).Float64()
	if price <= 0 {
		return 0, fmt.Errorf("non-positive price %v", price)
	}
	return price, nil
}
