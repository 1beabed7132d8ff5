// Package pricing resolves live prices for symbols through the Pyth feed registry.
package pricing

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFeeds is the built-in symbol to Pyth feed id table
var DefaultFeeds = map[string]string{
	// FX
	"EURUSD": "0xa995d00bb36a63cef7fd2c287dc105fc8f3d93779f062f09551b0af3e81ec30b",
	"GBPUSD": "0x84c2dde9633d93d1bcad84e7dc41c9d56578b7ec52fabedc1f335d673df0a7c1",
	"AUDUSD": "0x67a6f93030420c1c9e3fe37c1ab6b77966af82f995944a9fefce357a22854a80",
	"USDJPY": "0xef2c98c804ba503c6a707e38be4dfbb16683775f195b091252bf24693042fd52",
	"USDCHF": "0x0b1e3297e69f162877b577b0d6a47a0d63b2392bc8499e6540da4187a63e28f8",
	"USDCAD": "0x3112b03a41c910ed446852aacf67118cb1bec67b2cd0b9a214c58cc0eaa2ecca",
	"EURJPY": "0xd8c874fa511b9838d094109f996890642421e462c3b29501a2560cecf82c2eb4",
	"AUDJPY": "0x8dbbb66dff44114f0bfc34a1d19f0fe6fc3906dcc72f7668d3ea936e1d6544ce",
	"CADJPY": "0x9e19cbf0b363b3ce3fa8533e171f449f605a7ca5bb272a9b80df4264591c4cbb",
	"GBPJPY": "0xcfa65905787703c692c3cac2b8a009a1db51ce68b54f5b206ce6a55bfa2c3cd1",
	// Index
	"DOLLARIDXUSD": "0x710afe0041a07156bfd71971160c78a326bf8121403e0d4e140d06bea0353b7f",
	// Metals and commodities
	"XAGUSD":      "0xf2fb02c32b055c805e7238d628e5e9dadef274376114eb1f012337cabe93871e",
	"XAUUSD":      "0x765d2ba906dbc32ca17cc11f5310a89e9ee1f6420508c63861f2f8ba4ee34bb2",
	"LIGHTCMDUSD": "0x925ca92ff005ae943c158e3563f59698ce7e75c5a8c8dd43303a0a154887b3e6",
	// Crypto
	"BTCUSD": "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
	"ETHUSD": "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace",
}

// FeedRegistry is a read-only symbol to feed id map
type FeedRegistry struct {
	feeds map[string]string
}

// NewFeedRegistry copies feeds into a new registry. Symbols are upper-cased.
func NewFeedRegistry(feeds map[string]string) *FeedRegistry {
	m := make(map[string]string, len(feeds))
	for sym, id := range feeds {
		m[strings.ToUpper(strings.TrimSpace(sym))] = strings.TrimSpace(id)
	}
	return &FeedRegistry{feeds: m}
}

// DefaultFeedRegistry returns a registry over DefaultFeeds
func DefaultFeedRegistry() *FeedRegistry {
	return NewFeedRegistry(DefaultFeeds)
}

type registryFile struct {
	Feeds map[string]string `yaml:"feeds"`
}

// LoadFeedRegistry reads a YAML file of the form:
//
//	feeds:
//	  BTCUSD: "0x..."
//
// Entries in the file are layered over DefaultFeeds. An empty id removes a symbol.
func LoadFeedRegistry(path string) (*FeedRegistry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed registry %s: %w", path, err)
	}

	var file registryFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse feed registry %s: %w", path, err)
	}

	merged := make(map[string]string, len(DefaultFeeds)+len(file.Feeds))
	for sym, id := range DefaultFeeds {
		merged[sym] = id
	}
	for sym, id := range file.Feeds {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if strings.TrimSpace(id) == "" {
			delete(merged, sym)
			continue
		}
		if !ValidFeedID(id) {
			return nil, fmt.Errorf("invalid feed id %q for %s", id, sym)
		}
		merged[sym] = id
	}

	return NewFeedRegistry(merged), nil
}

// FeedID returns the feed id registered for symbol
func (r *FeedRegistry) FeedID(symbol string) (string, bool) {
	id, ok := r.feeds[strings.ToUpper(strings.TrimSpace(symbol))]
	return id, ok
}

// Symbols returns the registered symbols in sorted order
func (r *FeedRegistry) Symbols() []string {
	out := make([]string, 0, len(r.feeds))
	for sym := range r.feeds {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered symbols
func (r *FeedRegistry) Len() int {
	return len(r.feeds)
}

// ValidFeedID reports whether id looks like a Pyth feed id (0x prefix, at least 10 chars)
func ValidFeedID(id string) bool {
	id = strings.TrimSpace(id)
	return strings.HasPrefix(id, "0x") && len(id) >= 10
}
