package swap

import (
	"context"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/aibkh/dca-bridge-go/etherman"
)

// quoteReader is the slice of etherman the router quoter needs.
type quoteReader interface {
	Addresses() etherman.ContractAddresses
	QuoteExactInputSingle(ctx context.Context, tokenIn, tokenOut ethcommon.Address, tickSpacing int64, amountIn *big.Int) (*big.Int, error)
}

// RouterQuoter quotes USDC -> cbBTC through the on-chain pool quoter, so the
// pre-trade check sees the same pool the swap will execute against.
type RouterQuoter struct {
	chain       quoteReader
	tickSpacing int64
}

func NewRouterQuoter(chain quoteReader, tickSpacing int64) *RouterQuoter {
	if tickSpacing == 0 {
		tickSpacing = 100
	}
	return &RouterQuoter{chain: chain, tickSpacing: tickSpacing}
}

func (q *RouterQuoter) QuoteUsdcToBtc(ctx context.Context, usdcIn *big.Int) (*big.Int, error) {
	addrs := q.chain.Addresses()
	return q.chain.QuoteExactInputSingle(ctx, addrs.Usdc, addrs.BtcToken, q.tickSpacing, usdcIn)
}
