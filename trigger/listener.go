// Package trigger watches the DCA controller for DCARequested events and
// turns each newly observed event into exactly one bridge attempt followed
// by a swap on the destination side. Log delivery is at-least-once, so the
// listener dedups through the bridge event ledger before doing anything.
package trigger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/aibkh/dca-bridge-go/etherman"
	"github.com/aibkh/dca-bridge-go/state"
	"github.com/aibkh/dca-bridge-go/swap"
)

// EventSource is the slice of the source chain the listener needs.
// *etherman.Etherman satisfies it.
type EventSource interface {
	ChainID() *big.Int
	Domain() uint32
	Addresses() etherman.ContractAddresses
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterDCARequested(ctx context.Context, fromBlock, toBlock uint64) ([]etherman.DCARequestedEvent, error)
}

// Bridger drives a transfer end to end; *bridge.Orchestrator satisfies it.
type Bridger interface {
	Submit(ctx context.Context, req *state.TransferRequest) (*state.TransferRequest, error)
}

// Swapper converts bridged USDC to cbBTC; *swap.Executor satisfies it.
type Swapper interface {
	Swap(ctx context.Context, usdcAmount *big.Int, maxSlippagePercent decimal.Decimal) (*swap.Result, error)
}

type Config struct {
	// DestDomain and Recipient parametrize the transfers this listener
	// creates; Recipient is the destination-side account that receives the
	// minted USDC and performs the swap.
	DestDomain uint32
	Recipient  ethcommon.Address

	// MaxFee per transfer, smallest USDC units.
	MaxFee *big.Int

	MaxSlippagePercent decimal.Decimal

	// StartBlock is used only when no checkpoint exists yet.
	StartBlock uint64

	ScanInterval time.Duration
	// ScanBatch caps blocks per scan so a long outage is caught up in
	// bounded chunks.
	ScanBatch uint64
}

type Listener struct {
	cfg     *Config
	source  EventSource
	bridger Bridger
	swapper Swapper
	statedb *state.StateDB
}

func New(cfg *Config, source EventSource, bridger Bridger, swapper Swapper, statedb *state.StateDB) *Listener {
	out := *cfg
	if out.ScanInterval <= 0 {
		out.ScanInterval = 10 * time.Second
	}
	if out.ScanBatch == 0 {
		out.ScanBatch = 1000
	}
	if out.MaxFee == nil {
		out.MaxFee = big.NewInt(0)
	}
	return &Listener{cfg: &out, source: source, bridger: bridger, swapper: swapper, statedb: statedb}
}

// Start scans on a fixed interval until ctx is cancelled. Scan failures are
// logged and retried on the next tick; the checkpoint only moves after a
// range has been fully processed, so no block range is ever skipped.
func (l *Listener) Start(ctx context.Context) {
	logger.Infof("trigger listener started: chainID=%s interval=%s", l.source.ChainID().String(), l.cfg.ScanInterval)
	ticker := time.NewTicker(l.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("trigger listener stopped")
			return
		case <-ticker.C:
			if err := l.ScanOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				logger.Errorf("trigger scan failed: %v", err)
			}
		}
	}
}

// ScanOnce processes at most ScanBatch blocks past the checkpoint.
func (l *Listener) ScanOnce(ctx context.Context) error {
	latest, err := l.source.LatestBlockNumber(ctx)
	if err != nil {
		return err
	}

	from, err := l.nextBlock()
	if err != nil {
		return err
	}
	if from > latest {
		return nil
	}
	to := latest
	if to-from >= l.cfg.ScanBatch {
		to = from + l.cfg.ScanBatch - 1
	}

	events, err := l.source.FilterDCARequested(ctx, from, to)
	if err != nil {
		return err
	}
	for i := range events {
		if err := l.handleEvent(ctx, &events[i]); err != nil {
			// Leave the checkpoint behind this range so the event is
			// re-observed and retried on the next tick.
			return fmt.Errorf("handle event %s#%d: %w", events[i].TxHash, events[i].LogIndex, err)
		}
	}

	return l.setCheckpoint(to)
}

// handleEvent ensures exactly one transfer and one swap per source event.
// Redelivery of an already-completed event is a no-op; redelivery of an
// event whose transfer or swap never finished falls through to the
// idempotent resume path.
func (l *Listener) handleEvent(ctx context.Context, ev *etherman.DCARequestedEvent) error {
	chainId := l.source.ChainID().Uint64()

	transferId := state.TransferId(
		l.source.Domain(),
		l.source.Addresses().Usdc,
		l.cfg.DestDomain,
		l.cfg.Recipient,
		ev.TxHash,
		ev.LogIndex,
	)
	log := logger.WithFields(logger.Fields{
		"event":    fmt.Sprintf("%s#%d", ev.TxHash, ev.LogIndex),
		"transfer": transferId,
		"usdc":     ev.UsdcAmount.String(),
	})

	rec, seen, err := l.statedb.GetBridgeEventByTransfer(transferId)
	if err != nil {
		return err
	}
	if seen && rec.SwapTxHash != (ethcommon.Hash{}) {
		return nil
	}

	if !seen {
		log.Info("new DCA request observed")
		err = l.statedb.InsertBridgeEvent(&state.BridgeEventRecord{
			ChainId:        chainId,
			EventTxHash:    ev.TxHash,
			LogIndex:       ev.LogIndex,
			TransferId:     transferId,
			PlanId:         ev.PlanId.Uint64(),
			ThresholdIndex: ev.ThresholdIndex.Uint64(),
			UsdcAmount:     ev.UsdcAmount,
			Price:          ev.Price.String(),
			PriceUpdatedAt: time.Unix(ev.UpdatedAt.Int64(), 0),
		})
		if err != nil && !errors.Is(err, state.ErrDuplicateEvent) {
			return err
		}
	} else {
		log.Info("resuming incomplete DCA request")
	}

	done, err := l.bridger.Submit(ctx, &state.TransferRequest{
		Id:           transferId,
		SourceDomain: l.source.Domain(),
		DestDomain:   l.cfg.DestDomain,
		BurnToken:    l.source.Addresses().Usdc,
		Recipient:    l.cfg.Recipient,
		Amount:       ev.UsdcAmount,
		MaxFee:       l.cfg.MaxFee,
		Status:       state.StatusCreated,
	})
	if err != nil {
		return err
	}
	if done.MintTxHash != (ethcommon.Hash{}) {
		if err := l.statedb.SetBridgeEventMint(transferId, done.MintTxHash); err != nil {
			return err
		}
	}

	return l.swapMinted(ctx, transferId, done.Amount, log)
}

// swapMinted runs the one-shot swap for a freshly minted transfer. The
// ClaimSwap guard makes a second swap for the same transfer impossible even
// if the event is redelivered after a crash between mint and swap.
func (l *Listener) swapMinted(ctx context.Context, transferId ethcommon.Hash, usdcAmount *big.Int, log *logger.Entry) error {
	rec, found, err := l.statedb.GetBridgeEventByTransfer(transferId)
	if err != nil {
		return err
	}
	if found && rec.SwapTxHash != (ethcommon.Hash{}) {
		return nil
	}

	res, err := l.swapper.Swap(ctx, usdcAmount, l.cfg.MaxSlippagePercent)
	if err != nil {
		if errors.Is(err, swap.ErrSlippageExceeded) {
			log.Warn("swap skipped, slippage bound exceeded")
			return nil
		}
		return err
	}

	if err := l.statedb.ClaimSwap(transferId, res.SwapTxHash, res.BtcOut); err != nil {
		if errors.Is(err, state.ErrSwapAlreadySet) {
			return nil
		}
		return err
	}
	log.Infof("swap recorded: tx=%s btcOut=%s", res.SwapTxHash, res.BtcOut.String())
	return nil
}

// checkpointKey is the kv slot holding the last fully scanned block.
func (l *Listener) checkpointKey() ethcommon.Hash {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("trigger.lastScannedBlock.%s", l.source.ChainID().String())))
}

func (l *Listener) nextBlock() (uint64, error) {
	val, found, err := l.statedb.GetKeyedValue(l.checkpointKey())
	if err != nil {
		return 0, err
	}
	if !found {
		return l.cfg.StartBlock, nil
	}
	return binary.BigEndian.Uint64(val[24:]) + 1, nil
}

func (l *Listener) setCheckpoint(block uint64) error {
	var val ethcommon.Hash
	binary.BigEndian.PutUint64(val[24:], block)
	return l.statedb.SetKeyedValue(l.checkpointKey(), val)
}
