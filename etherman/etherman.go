package etherman

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/aibkh/dca-bridge-go/common"
)

var (
	// DCARequested(uint256,uint256,uint256,int256,uint256)
	DCARequestedSignatureHash = crypto.Keccak256Hash(
		[]byte("DCARequested(uint256,uint256,uint256,int256,uint256)"))

	receiptPollInterval = time.Second
)

type ethereumClient interface {
	ethereum.ChainReader
	ethereum.ChainStateReader
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.LogFilterer
	ethereum.TransactionReader
	ethereum.TransactionSender

	bind.DeployBackend
	bind.ContractBackend
}

// Etherman is the capability wrapper around one (chain, account) pair.
// Orchestration of different transfers is concurrent, but all transaction
// submission from this account goes through sendMu: the nonce counter is a
// shared resource and two in-flight submissions would race on it.
type Etherman struct {
	ethClient ethereumClient
	chainID   *big.Int
	domain    uint32
	auth      *bind.TransactOpts
	addresses ContractAddresses

	sendMu sync.Mutex
}

func NewEtherman(cfg *Config) (*Etherman, error) {
	ethClient, err := ethclient.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	return NewEthermanWithClient(ethClient, cfg)
}

// NewEthermanWithClient wires an existing client (e.g. a simulated backend).
func NewEthermanWithClient(client ethereumClient, cfg *Config) (*Etherman, error) {
	sk, err := crypto.HexToECDSA(common.Trim0xPrefix(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	auth, err := bind.NewKeyedTransactorWithChainID(sk, chainID)
	if err != nil {
		return nil, err
	}

	return &Etherman{
		ethClient: client,
		chainID:   chainID,
		domain:    cfg.Domain,
		auth:      auth,
		addresses: cfg.addresses(),
	}, nil
}

func (e *Etherman) Client() ethereumClient { return e.ethClient }

func (e *Etherman) ChainID() *big.Int { return common.BigIntClone(e.chainID) }

func (e *Etherman) Domain() uint32 { return e.domain }

func (e *Etherman) Sender() ethcommon.Address { return e.auth.From }

func (e *Etherman) Addresses() ContractAddresses { return e.addresses }

func (e *Etherman) LatestBlockNumber(ctx context.Context) (uint64, error) {
	blk, err := e.ethClient.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, err
	}
	return blk.Number.Uint64(), nil
}

//
// Reads
//

func (e *Etherman) call(ctx context.Context, to ethcommon.Address, data []byte) ([]byte, error) {
	return e.ethClient.CallContract(ctx, ethereum.CallMsg{
		From: e.auth.From,
		To:   &to,
		Data: data,
	}, nil)
}

// Allowance reads the current USDC allowance granted to the TokenMessenger.
// This is a chain read, not local state, so approvals performed outside the
// orchestrator are honored.
func (e *Etherman) Allowance(ctx context.Context, owner, spender ethcommon.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	out, err := e.call(ctx, e.addresses.Usdc, data)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("allowance", out)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

func (e *Etherman) BalanceOf(ctx context.Context, token, owner ethcommon.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	out, err := e.call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

// IsNonceUsed reports whether the destination transmitter has already
// consumed the given message nonce, i.e. the mint has happened.
func (e *Etherman) IsNonceUsed(ctx context.Context, nonce [32]byte) (bool, error) {
	data, err := messageTransmitterABI.Pack("usedNonces", nonce)
	if err != nil {
		return false, err
	}
	out, err := e.call(ctx, e.addresses.MessageTransmitter, data)
	if err != nil {
		return false, err
	}
	vals, err := messageTransmitterABI.Unpack("usedNonces", out)
	if err != nil {
		return false, err
	}
	return vals[0].(*big.Int).Sign() != 0, nil
}

// LatestRoundData reads the Chainlink BTC/USD aggregator on this chain.
func (e *Etherman) LatestRoundData(ctx context.Context) (*RoundData, error) {
	data, err := aggregatorV3ABI.Pack("latestRoundData")
	if err != nil {
		return nil, err
	}
	out, err := e.call(ctx, e.addresses.ChainlinkBtcUsd, data)
	if err != nil {
		return nil, err
	}
	vals, err := aggregatorV3ABI.Unpack("latestRoundData", out)
	if err != nil {
		return nil, err
	}

	decData, err := aggregatorV3ABI.Pack("decimals")
	if err != nil {
		return nil, err
	}
	decOut, err := e.call(ctx, e.addresses.ChainlinkBtcUsd, decData)
	if err != nil {
		return nil, err
	}
	decVals, err := aggregatorV3ABI.Unpack("decimals", decOut)
	if err != nil {
		return nil, err
	}

	return &RoundData{
		Price:     vals[1].(*big.Int),
		Decimals:  decVals[0].(uint8),
		UpdatedAt: time.Unix(vals[3].(*big.Int).Int64(), 0).UTC(),
	}, nil
}

// QuoteExactInputSingle asks the pool quoter what amountOut the router would
// produce right now. The quoter is a state-mutating contract by signature but
// is only ever exercised through eth_call.
func (e *Etherman) QuoteExactInputSingle(ctx context.Context, tokenIn, tokenOut ethcommon.Address, tickSpacing int64, amountIn *big.Int) (*big.Int, error) {
	data, err := quoterABI.Pack("quoteExactInputSingle", struct {
		TokenIn           ethcommon.Address
		TokenOut          ethcommon.Address
		AmountIn          *big.Int
		TickSpacing       *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		TickSpacing:       big.NewInt(tickSpacing),
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, err
	}
	out, err := e.call(ctx, e.addresses.SwapQuoter, data)
	if err != nil {
		return nil, err
	}
	vals, err := quoterABI.Unpack("quoteExactInputSingle", out)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

//
// Writes
//

// SubmitOpts pins a submission to a specific account nonce. Replacement
// bumps the gas price over the node's suggestion so a same-nonce
// resubmission supersedes the earlier broadcast instead of colliding with
// it; at most one transaction per nonce can ever mine.
type SubmitOpts struct {
	Nonce       uint64
	Replacement bool
}

// PendingNonce reads the account's next nonce, pool contents included.
func (e *Etherman) PendingNonce(ctx context.Context) (uint64, error) {
	return e.ethClient.PendingNonceAt(ctx, e.auth.From)
}

// sendTx builds, signs and submits one transaction. A nil opts lets the node
// assign the next nonce. Callers that need confirmation follow up with
// WaitMined; sendTx only guarantees acceptance into the node's pool.
func (e *Etherman) sendTx(ctx context.Context, to ethcommon.Address, data []byte, opts *SubmitOpts) (ethcommon.Hash, error) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	var nonce uint64
	if opts != nil {
		nonce = opts.Nonce
	} else {
		n, err := e.ethClient.PendingNonceAt(ctx, e.auth.From)
		if err != nil {
			return ethcommon.Hash{}, err
		}
		nonce = n
	}

	gasPrice, err := e.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	if opts != nil && opts.Replacement {
		// a replacement must outbid the transaction it supersedes
		gasPrice = new(big.Int).Add(gasPrice, new(big.Int).Div(gasPrice, big.NewInt(2)))
	}

	gasLimit, err := e.ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From: e.auth.From,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return ethcommon.Hash{}, err
	}
	// headroom for state drift between estimation and inclusion
	gasLimit = gasLimit + gasLimit/4

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := e.auth.Signer(e.auth.From, tx)
	if err != nil {
		return ethcommon.Hash{}, err
	}

	if err := e.ethClient.SendTransaction(ctx, signed); err != nil {
		return ethcommon.Hash{}, err
	}
	return signed.Hash(), nil
}

func (e *Etherman) Approve(ctx context.Context, spender ethcommon.Address, amount *big.Int, opts *SubmitOpts) (ethcommon.Hash, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	return e.sendTx(ctx, e.addresses.Usdc, data, opts)
}

func (e *Etherman) DepositForBurn(ctx context.Context, p *BurnParams, opts *SubmitOpts) (ethcommon.Hash, error) {
	data, err := tokenMessengerABI.Pack("depositForBurn",
		p.Amount,
		p.DestinationDomain,
		p.MintRecipient,
		p.BurnToken,
		p.DestinationCaller,
		p.MaxFee,
		p.MinFinalityThreshold,
	)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	return e.sendTx(ctx, e.addresses.TokenMessenger, data, opts)
}

func (e *Etherman) ReceiveMessage(ctx context.Context, message, attestation []byte, opts *SubmitOpts) (ethcommon.Hash, error) {
	data, err := messageTransmitterABI.Pack("receiveMessage", message, attestation)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	return e.sendTx(ctx, e.addresses.MessageTransmitter, data, opts)
}

// UpdatePriceAndMaybeInvest pushes Pyth update data to the controller. The
// controller reads the refreshed price and decides on-chain whether to emit
// a DCARequested event.
func (e *Etherman) UpdatePriceAndMaybeInvest(ctx context.Context, priceUpdate [][]byte) (ethcommon.Hash, error) {
	data, err := dcaControllerABI.Pack("updatePriceAndMaybeInvest", priceUpdate)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	return e.sendTx(ctx, e.addresses.DcaController, data, nil)
}

func (e *Etherman) ExactInputSwap(ctx context.Context, p *SwapParams) (ethcommon.Hash, error) {
	data, err := swapRouterABI.Pack("exactInputSingle", struct {
		TokenIn           ethcommon.Address
		TokenOut          ethcommon.Address
		TickSpacing       *big.Int
		Recipient         ethcommon.Address
		Deadline          *big.Int
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           p.TokenIn,
		TokenOut:          p.TokenOut,
		TickSpacing:       big.NewInt(p.TickSpacing),
		Recipient:         p.Recipient,
		Deadline:          p.Deadline,
		AmountIn:          p.AmountIn,
		AmountOutMinimum:  p.AmountOutMinimum,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return ethcommon.Hash{}, err
	}
	return e.sendTx(ctx, e.addresses.SwapRouter, data, nil)
}

//
// Confirmation
//

// WaitMined blocks until the transaction has a receipt or ctx is cancelled.
// No connection resource is pinned across the wait; each poll is an
// independent RPC call.
func (e *Etherman) WaitMined(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.ethClient.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && err != ethereum.NotFound {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// HasReceipt resolves an ambiguous submission: it reports whether txHash is
// already mined, without waiting.
func (e *Etherman) HasReceipt(ctx context.Context, txHash ethcommon.Hash) (bool, error) {
	receipt, err := e.ethClient.TransactionReceipt(ctx, txHash)
	if err == ethereum.NotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return receipt != nil && receipt.BlockNumber != nil, nil
}

//
// Event logs
//

// FilterDCARequested scans [fromBlock, toBlock] for DCARequested logs on the
// controller contract.
func (e *Etherman) FilterDCARequested(ctx context.Context, fromBlock, toBlock uint64) ([]DCARequestedEvent, error) {
	logs, err := e.ethClient.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []ethcommon.Address{e.addresses.DcaController},
		Topics:    [][]ethcommon.Hash{{DCARequestedSignatureHash}},
	})
	if err != nil {
		return nil, err
	}

	events := make([]DCARequestedEvent, 0, len(logs))
	for _, vlog := range logs {
		ev, err := parseDCARequested(vlog)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, nil
}

func parseDCARequested(vlog types.Log) (*DCARequestedEvent, error) {
	if len(vlog.Topics) != 3 {
		return nil, fmt.Errorf("malformed DCARequested log: %d topics", len(vlog.Topics))
	}

	vals, err := dcaControllerABI.Unpack("DCARequested", vlog.Data)
	if err != nil {
		return nil, err
	}

	return &DCARequestedEvent{
		PlanId:         new(big.Int).SetBytes(vlog.Topics[1].Bytes()),
		ThresholdIndex: new(big.Int).SetBytes(vlog.Topics[2].Bytes()),
		UsdcAmount:     vals[0].(*big.Int),
		Price:          vals[1].(*big.Int),
		UpdatedAt:      vals[2].(*big.Int),
		TxHash:         vlog.TxHash,
		LogIndex:       uint32(vlog.Index),
		BlockNumber:    vlog.BlockNumber,
	}, nil
}
