package pricefeed

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/aibkh/dca-bridge-go/etherman"
)

type fakeAggregator struct {
	price     *big.Int
	decimals  uint8
	updatedAt time.Time
}

func (f *fakeAggregator) LatestRoundData(ctx context.Context) (*etherman.RoundData, error) {
	return &etherman.RoundData{
		Price:     f.price,
		Decimals:  f.decimals,
		UpdatedAt: f.updatedAt,
	}, nil
}

func TestChainlinkFetcher(t *testing.T) {
	f := NewChainlinkFetcher(&fakeAggregator{
		price:     big.NewInt(8_400_000_000_000), // $84,000 at 8 decimals
		decimals:  8,
		updatedAt: time.Now(),
	})

	snap, err := f.Fetch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, SourceChainlink, snap.Source)
	assert.True(t, snap.Price.Equal(decimal.NewFromInt(84000)))
}

func TestChainlinkFetcherRejectsStaleRound(t *testing.T) {
	f := NewChainlinkFetcher(&fakeAggregator{
		price:     big.NewInt(8_400_000_000_000),
		decimals:  8,
		updatedAt: time.Now().Add(-2 * time.Hour),
	})

	_, err := f.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrStalePrice)
}

func TestChainlinkFetcherRejectsOutOfRangePrice(t *testing.T) {
	// $5,000 is below the lower sanity bound
	f := NewChainlinkFetcher(&fakeAggregator{
		price:     big.NewInt(500_000_000_000),
		decimals:  8,
		updatedAt: time.Now(),
	})

	_, err := f.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrPriceOutOfRange)
}

func TestCoinGeckoFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"bitcoin":{"usd":84123.45}}`)
	}))
	defer srv.Close()

	snap, err := NewCoinGeckoFetcherWithURL(srv.URL).Fetch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, SourceCoinGecko, snap.Source)
	assert.True(t, snap.Price.Equal(decimal.NewFromFloat(84123.45)))
}

func TestBinanceFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"84200.10000000"}`)
	}))
	defer srv.Close()

	snap, err := NewBinanceFetcherWithURL(srv.URL).Fetch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, SourceBinance, snap.Source)
	assert.True(t, snap.Price.Equal(decimal.NewFromFloat(84200.1)))
}

func TestRestFetcherBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewBinanceFetcherWithURL(srv.URL)
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background())
		assert.Error(t, err)
	}

	// breaker is open now: the endpoint is not hit anymore
	srv.Close()
	_, err := f.Fetch(context.Background())
	assert.Error(t, err)
}

func TestFetchAllSkipsFailingSources(t *testing.T) {
	good := NewChainlinkFetcher(&fakeAggregator{
		price:     big.NewInt(8_400_000_000_000),
		decimals:  8,
		updatedAt: time.Now(),
	})
	bad := NewChainlinkFetcher(&fakeAggregator{
		price:     big.NewInt(0),
		decimals:  8,
		updatedAt: time.Now(),
	})

	snaps := FetchAll(context.Background(), []Fetcher{good, bad})
	assert.Len(t, snaps, 1)
	assert.Equal(t, SourceChainlink, snaps[0].Source)
}

func TestPythFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "hex", r.URL.Query().Get("encoding"))
		assert.Equal(t, []string{BtcUsdPriceId}, r.URL.Query()["ids[]"])
		fmt.Fprint(w, `{"binary":{"encoding":"hex","data":["504e4155","deadbeef"]}}`)
	}))
	defer srv.Close()

	data, err := NewPythFetcher(srv.URL).FetchUpdateData(context.Background())
	assert.NoError(t, err)
	assert.Len(t, data, 2)
	assert.Equal(t, []byte{0x50, 0x4e, 0x41, 0x55}, data[0])
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data[1])
}

func TestPythFetcherRejectsBadShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"parsed":[]}`)
	}))
	defer srv.Close()

	_, err := NewPythFetcher(srv.URL).FetchUpdateData(context.Background())
	assert.Error(t, err)
}
