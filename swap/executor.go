// Executor converts bridged USDC into BTC exposure (cbBTC) on the
// destination chain. Unlike the bridge phases it is not replay-safe: a
// duplicate call would double-spend already-bridged funds. The swap slot on
// the transfer's event record is what keeps callers from invoking it twice.

package swap

import (
	"context"
	"errors"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/aibkh/dca-bridge-go/common"
	"github.com/aibkh/dca-bridge-go/etherman"
)

const (
	UsdcDecimals = 6
	BtcDecimals  = 8

	MaxSlippagePercent = 10
)

var (
	ErrInvalidAmount    = errors.New("swap amount must be positive")
	ErrInvalidSlippage  = errors.New("max slippage must be within [0, 10] percent")
	ErrSlippageExceeded = errors.New("quoted output below slippage bound, swap not submitted")
	ErrSwapReverted     = errors.New("swap transaction reverted")
	ErrNoReferencePrice = errors.New("no reference price available")
)

// DestChain is the slice of chain capability the executor needs.
// *etherman.Etherman satisfies it.
type DestChain interface {
	Sender() ethcommon.Address
	Addresses() etherman.ContractAddresses
	LatestRoundData(ctx context.Context) (*etherman.RoundData, error)
	ExactInputSwap(ctx context.Context, p *etherman.SwapParams) (ethcommon.Hash, error)
	WaitMined(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error)
	BalanceOf(ctx context.Context, token, owner ethcommon.Address) (*big.Int, error)
}

// Quoter returns the router's current output for a given input, used for
// the pre-trade slippage check.
type Quoter interface {
	QuoteUsdcToBtc(ctx context.Context, usdcIn *big.Int) (*big.Int, error)
}

type Config struct {
	TickSpacing  int64
	SwapDeadline time.Duration
}

type Result struct {
	SwapTxHash     ethcommon.Hash
	BtcOut         *big.Int
	ExecutionPrice decimal.Decimal // USD per BTC realized
}

type Executor struct {
	cfg    *Config
	chain  DestChain
	quoter Quoter
}

func NewExecutor(cfg *Config, chain DestChain, quoter Quoter) *Executor {
	out := *cfg
	if out.TickSpacing == 0 {
		out.TickSpacing = 100
	}
	if out.SwapDeadline <= 0 {
		out.SwapDeadline = 5 * time.Minute
	}
	return &Executor{cfg: &out, chain: chain, quoter: quoter}
}

// Swap executes USDC -> cbBTC, bounded by maxSlippagePercent against the
// Chainlink reference price. If the quoted output already violates the
// bound, nothing is submitted.
func (e *Executor) Swap(ctx context.Context, usdcAmount *big.Int, maxSlippagePercent decimal.Decimal) (*Result, error) {
	if usdcAmount == nil || usdcAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if maxSlippagePercent.IsNegative() ||
		maxSlippagePercent.GreaterThan(decimal.NewFromInt(MaxSlippagePercent)) {
		return nil, ErrInvalidSlippage
	}

	expectedOut, err := e.expectedBtcOut(ctx, usdcAmount)
	if err != nil {
		return nil, err
	}

	// minOut = expected * (1 - slippage/100), floored to token units
	slipFactor := decimal.NewFromInt(1).Sub(maxSlippagePercent.Div(decimal.NewFromInt(100)))
	minOut := expectedOut.Mul(slipFactor).Floor()

	quoted, err := e.quoter.QuoteUsdcToBtc(ctx, usdcAmount)
	if err != nil {
		return nil, err
	}
	quotedDec := decimal.NewFromBigInt(quoted, 0)

	newLogger := logger.WithFields(logger.Fields{
		"usdcIn":   usdcAmount.String(),
		"expected": expectedOut.String(),
		"quoted":   quoted.String(),
	})

	if quotedDec.LessThan(minOut) {
		newLogger.Warn("pre-trade check failed, not submitting swap")
		return nil, ErrSlippageExceeded
	}

	addrs := e.chain.Addresses()
	before, err := e.chain.BalanceOf(ctx, addrs.BtcToken, e.chain.Sender())
	if err != nil {
		return nil, err
	}

	txHash, err := e.chain.ExactInputSwap(ctx, &etherman.SwapParams{
		TokenIn:          addrs.Usdc,
		TokenOut:         addrs.BtcToken,
		TickSpacing:      e.cfg.TickSpacing,
		Recipient:        e.chain.Sender(),
		Deadline:         big.NewInt(time.Now().Add(e.cfg.SwapDeadline).Unix()),
		AmountIn:         common.BigIntClone(usdcAmount),
		AmountOutMinimum: minOut.BigInt(),
	})
	if err != nil {
		return nil, err
	}

	receipt, err := e.chain.WaitMined(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, ErrSwapReverted
	}

	after, err := e.chain.BalanceOf(ctx, addrs.BtcToken, e.chain.Sender())
	if err != nil {
		return nil, err
	}
	btcOut := new(big.Int).Sub(after, before)

	result := &Result{
		SwapTxHash:     txHash,
		BtcOut:         btcOut,
		ExecutionPrice: executionPrice(usdcAmount, btcOut),
	}
	newLogger.Infof("swap confirmed: tx=%s btcOut=%s", common.Shorten(txHash.String(), 10), btcOut.String())
	return result, nil
}

// expectedBtcOut = usdcIn / refPrice, rebased from 6 to 8 decimals.
func (e *Executor) expectedBtcOut(ctx context.Context, usdcIn *big.Int) (decimal.Decimal, error) {
	round, err := e.chain.LatestRoundData(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if round.Price == nil || round.Price.Sign() <= 0 {
		return decimal.Zero, ErrNoReferencePrice
	}

	priceUsd := decimal.NewFromBigInt(round.Price, -int32(round.Decimals))
	usd := decimal.NewFromBigInt(usdcIn, -UsdcDecimals)
	btc := usd.Div(priceUsd)

	return btc.Shift(BtcDecimals), nil
}

// executionPrice is the realized USD/BTC of the fill.
func executionPrice(usdcIn, btcOut *big.Int) decimal.Decimal {
	if btcOut == nil || btcOut.Sign() <= 0 {
		return decimal.Zero
	}
	usd := decimal.NewFromBigInt(usdcIn, -UsdcDecimals)
	btc := decimal.NewFromBigInt(btcOut, -BtcDecimals)
	return usd.Div(btc)
}
