// Package pricefeed collects BTC/USD observations from independent sources.
// Each fetcher returns a decision.PriceSnapshot; the decision engine owns
// consensus, this package only validates each source in isolation.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/aibkh/dca-bridge-go/decision"
	"github.com/aibkh/dca-bridge-go/etherman"
)

const (
	SourceChainlink = "chainlink"
	SourceCoinGecko = "coingecko"
	SourceBinance   = "binance"

	// A round older than this is treated as a dead feed.
	maxRoundAge = 3600 * time.Second
)

var (
	ErrStalePrice      = errors.New("price round is stale")
	ErrPriceOutOfRange = errors.New("price outside sanity bounds")

	// Sanity bounds for BTC/USD. A feed reporting outside this range is
	// broken or manipulated and must not enter consensus.
	priceLowerBound = decimal.NewFromInt(10_000)
	priceUpperBound = decimal.NewFromInt(500_000)
)

// Fetcher is one independent price source.
type Fetcher interface {
	Fetch(ctx context.Context) (*decision.PriceSnapshot, error)
}

// validate applies the shared staleness and sanity checks.
func validate(source string, price decimal.Decimal, observedAt time.Time) error {
	if time.Since(observedAt) > maxRoundAge {
		return fmt.Errorf("%w: %s observed at %s", ErrStalePrice, source, observedAt.UTC().Format(time.RFC3339))
	}
	if price.LessThan(priceLowerBound) || price.GreaterThan(priceUpperBound) {
		return fmt.Errorf("%w: %s reported %s", ErrPriceOutOfRange, source, price.String())
	}
	return nil
}

// aggregatorReader is the slice of etherman the Chainlink fetcher needs.
type aggregatorReader interface {
	LatestRoundData(ctx context.Context) (*etherman.RoundData, error)
}

// ChainlinkFetcher reads the on-chain AggregatorV3 feed.
type ChainlinkFetcher struct {
	chain aggregatorReader
}

func NewChainlinkFetcher(chain aggregatorReader) *ChainlinkFetcher {
	return &ChainlinkFetcher{chain: chain}
}

func (f *ChainlinkFetcher) Fetch(ctx context.Context) (*decision.PriceSnapshot, error) {
	round, err := f.chain.LatestRoundData(ctx)
	if err != nil {
		return nil, err
	}
	price := decimal.NewFromBigInt(round.Price, -int32(round.Decimals))
	observedAt := round.UpdatedAt
	if err := validate(SourceChainlink, price, observedAt); err != nil {
		return nil, err
	}
	return &decision.PriceSnapshot{
		Source:     SourceChainlink,
		Price:      price,
		ObservedAt: observedAt,
	}, nil
}

// FetchAll queries every fetcher and returns the snapshots that passed
// validation. Individual source failures are logged and skipped; the caller
// decides whether the surviving set is large enough.
func FetchAll(ctx context.Context, fetchers []Fetcher) []decision.PriceSnapshot {
	out := make([]decision.PriceSnapshot, 0, len(fetchers))
	for _, f := range fetchers {
		snap, err := f.Fetch(ctx)
		if err != nil {
			logger.Warnf("price source failed: %v", err)
			continue
		}
		out = append(out, *snap)
	}
	return out
}
