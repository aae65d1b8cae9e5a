package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/aibkh/dca-bridge-go/decision"
)

const (
	coinGeckoURL = "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd"
	binanceURL   = "https://api.binance.com/api/v3/ticker/price?symbol=BTCUSDT"

	restTimeout = 10 * time.Second
)

// restFetcher shares the HTTP + circuit-breaker plumbing between the public
// REST sources. Public endpoints rate-limit aggressively; once one starts
// failing, the breaker stops us hammering it for a cooldown window.
type restFetcher struct {
	source  string
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	parse   func(body []byte) (decimal.Decimal, error)
}

func newRestFetcher(source, url string, parse func([]byte) (decimal.Decimal, error)) *restFetcher {
	return &restFetcher{
		source: source,
		url:    url,
		client: &http.Client{Timeout: restTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        source,
			MaxRequests: 1,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		parse: parse,
	}
}

func (f *restFetcher) Fetch(ctx context.Context) (*decision.PriceSnapshot, error) {
	res, err := f.breaker.Execute(func() (interface{}, error) {
		return f.get(ctx)
	})
	if err != nil {
		return nil, err
	}
	price := res.(decimal.Decimal)

	observedAt := time.Now()
	if err := validate(f.source, price, observedAt); err != nil {
		return nil, err
	}
	return &decision.PriceSnapshot{
		Source:     f.source,
		Price:      price,
		ObservedAt: observedAt,
	}, nil
}

func (f *restFetcher) get(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%s returned status %d", f.source, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, err
	}
	return f.parse(body)
}

// NewCoinGeckoFetcher reads the simple-price endpoint:
// { "bitcoin": { "usd": 84123.45 } }
func NewCoinGeckoFetcher() Fetcher {
	return newRestFetcher(SourceCoinGecko, coinGeckoURL, func(body []byte) (decimal.Decimal, error) {
		var payload struct {
			Bitcoin struct {
				Usd json.Number `json:"usd"`
			} `json:"bitcoin"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return decimal.Zero, err
		}
		if payload.Bitcoin.Usd == "" {
			return decimal.Zero, fmt.Errorf("coingecko reply missing bitcoin.usd")
		}
		return decimal.NewFromString(payload.Bitcoin.Usd.String())
	})
}

// NewBinanceFetcher reads the spot ticker:
// { "symbol": "BTCUSDT", "price": "84123.45000000" }
func NewBinanceFetcher() Fetcher {
	return newRestFetcher(SourceBinance, binanceURL, func(body []byte) (decimal.Decimal, error) {
		var payload struct {
			Symbol string `json:"symbol"`
			Price  string `json:"price"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return decimal.Zero, err
		}
		if payload.Price == "" {
			return decimal.Zero, fmt.Errorf("binance reply missing price")
		}
		return decimal.NewFromString(payload.Price)
	})
}

// NewCoinGeckoFetcherWithURL and NewBinanceFetcherWithURL exist for tests
// pointing at an httptest server.
func NewCoinGeckoFetcherWithURL(url string) Fetcher {
	f := NewCoinGeckoFetcher().(*restFetcher)
	f.url = url
	return f
}

func NewBinanceFetcherWithURL(url string) Fetcher {
	f := NewBinanceFetcher().(*restFetcher)
	f.url = url
	return f
}
