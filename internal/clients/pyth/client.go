// Package pyth provides a client for the Pyth Hermes price service.
package pyth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// PriceComponent is a fixed-point price: value = Price × 10^Expo.
// Pointers distinguish missing fields from zero values.
type PriceComponent struct {
	Price       *json.Number `json:"price"`
	Conf        *json.Number `json:"conf,omitempty"`
	Expo        *int         `json:"expo"`
	PublishTime int64        `json:"publish_time"`
}

// PriceFeed is one item of the latest_price_feeds response
type PriceFeed struct {
	ID       string          `json:"id"`
	Price    *PriceComponent `json:"price"`
	EMAPrice *PriceComponent `json:"ema_price,omitempty"`
}

// Client for the Hermes REST API
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// NewClient creates a new Hermes client. Requests are bounded by timeout and never retried.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	http := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &Client{
		http: http,
		log:  log.With().Str("client", "pyth-hermes").Logger(),
	}
}

// LatestPriceFeeds fetches the latest price for each feed id
func (c *Client) LatestPriceFeeds(ctx context.Context, ids []string) ([]PriceFeed, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no feed ids requested")
	}

	var feeds []PriceFeed
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(url.Values{"ids[]": ids}).
		SetResult(&feeds).
		Get("/api/latest_price_feeds")
	if err != nil {
		return nil, fmt.Errorf("hermes request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("hermes returned status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	c.log.Debug().
		Strs("ids", ids).
		Int("feeds", len(feeds)).
		Dur("latency", resp.Time()).
		Msg("Fetched latest price feeds")

	return feeds, nil
}

// SameFeed compares feed ids ignoring case and the 0x prefix (Hermes echoes ids without it)
func SameFeed(a, b string) bool {
	return normalizeID(a) == normalizeID(b)
}

func normalizeID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.TrimPrefix(id, "0x")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
