package pyth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const btcFeed = "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"

func TestClient_LatestPriceFeeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/latest_price_feeds", r.URL.Path)
		assert.Equal(t, []string{btcFeed}, r.URL.Query()["ids[]"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
			"price":{"price":"6500000000000","conf":"1000","expo":-8,"publish_time":1700000000}}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", 2*time.Second, zerolog.New(nil).Level(zerolog.Disabled))
	feeds, err := client.LatestPriceFeeds(context.Background(), []string{btcFeed})
	require.NoError(t, err)
	require.Len(t, feeds, 1)

	feed := feeds[0]
	require.NotNil(t, feed.Price)
	require.NotNil(t, feed.Price.Price)
	require.NotNil(t, feed.Price.Expo)
	assert.Equal(t, "6500000000000", feed.Price.Price.String())
	assert.Equal(t, -8, *feed.Price.Expo)
	assert.Equal(t, int64(1700000000), feed.Price.PublishTime)
	assert.True(t, SameFeed(btcFeed, feed.ID))
}

func TestClient_MissingFieldsStayNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"abc","price":{"publish_time":1}}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, zerolog.New(nil).Level(zerolog.Disabled))
	feeds, err := client.LatestPriceFeeds(context.Background(), []string{"0xabc"})
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Nil(t, feeds[0].Price.Price)
	assert.Nil(t, feeds[0].Price.Expo)
}

func TestClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad feed id", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, zerolog.New(nil).Level(zerolog.Disabled))
	_, err := client.LatestPriceFeeds(context.Background(), []string{"0xabc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 50*time.Millisecond, zerolog.New(nil).Level(zerolog.Disabled))
	_, err := client.LatestPriceFeeds(context.Background(), []string{"0xabc"})
	assert.Error(t, err)
}

func TestClient_NoIDs(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", time.Second, zerolog.New(nil).Level(zerolog.Disabled))
	_, err := client.LatestPriceFeeds(context.Background(), nil)
	assert.Error(t, err)
}

func TestSameFeed(t *testing.T) {
	assert.True(t, SameFeed("0xABC", "abc"))
	assert.True(t, SameFeed(" 0xabc ", "0xAbC"))
	assert.False(t, SameFeed("0xabc", "abd"))
}
