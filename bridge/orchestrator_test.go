package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"

	"github.com/aibkh/dca-bridge-go/attestation"
	"github.com/aibkh/dca-bridge-go/common"
	"github.com/aibkh/dca-bridge-go/database"
	"github.com/aibkh/dca-bridge-go/etherman"
	"github.com/aibkh/dca-bridge-go/state"
)

//
// fakes
//

type fakeSource struct {
	sender    ethcommon.Address
	allowance *big.Int

	approveCalls atomic.Int32
	burnCalls    atomic.Int32

	// burnErrs are consumed one per DepositForBurn call before success
	burnErrs []error
	// slowBurns leaves that many leading burn txs unmined
	slowBurns int
	// burnOpts records the submit options of every burn attempt
	burnOpts []etherman.SubmitOpts

	nextNonce uint64
	mined     map[ethcommon.Hash]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		sender:    common.RandEthAddress(),
		allowance: big.NewInt(0),
		mined:     make(map[ethcommon.Hash]bool),
	}
}

func (f *fakeSource) Sender() ethcommon.Address { return f.sender }

func (f *fakeSource) Allowance(ctx context.Context, owner, spender ethcommon.Address) (*big.Int, error) {
	return common.BigIntClone(f.allowance), nil
}

func (f *fakeSource) PendingNonce(ctx context.Context) (uint64, error) {
	return f.nextNonce, nil
}

func (f *fakeSource) Approve(ctx context.Context, spender ethcommon.Address, amount *big.Int, opts *etherman.SubmitOpts) (ethcommon.Hash, error) {
	f.approveCalls.Add(1)
	f.allowance = common.BigIntClone(amount)
	h := ethcommon.Hash(common.RandBytes32())
	f.mined[h] = true
	return h, nil
}

func (f *fakeSource) DepositForBurn(ctx context.Context, p *etherman.BurnParams, opts *etherman.SubmitOpts) (ethcommon.Hash, error) {
	f.burnCalls.Add(1)
	if opts != nil {
		f.burnOpts = append(f.burnOpts, *opts)
	}
	if len(f.burnErrs) > 0 {
		err := f.burnErrs[0]
		f.burnErrs = f.burnErrs[1:]
		return ethcommon.Hash{}, err
	}
	h := ethcommon.Hash(common.RandBytes32())
	if f.slowBurns > 0 {
		f.slowBurns--
	} else {
		f.mined[h] = true
	}
	return h, nil
}

func (f *fakeSource) WaitMined(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error) {
	if !f.mined[txHash] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: txHash}, nil
}

func (f *fakeSource) HasReceipt(ctx context.Context, txHash ethcommon.Hash) (bool, error) {
	return f.mined[txHash], nil
}

type fakeDest struct {
	mintCalls  atomic.Int32
	revertMint bool
	nonceUsed  bool

	mined map[ethcommon.Hash]bool
}

func newFakeDest() *fakeDest {
	return &fakeDest{mined: make(map[ethcommon.Hash]bool)}
}

func (f *fakeDest) ReceiveMessage(ctx context.Context, message, att []byte, opts *etherman.SubmitOpts) (ethcommon.Hash, error) {
	f.mintCalls.Add(1)
	h := ethcommon.Hash(common.RandBytes32())
	f.mined[h] = true
	return h, nil
}

func (f *fakeDest) PendingNonce(ctx context.Context) (uint64, error) {
	return 0, nil
}

func (f *fakeDest) WaitMined(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error) {
	status := types.ReceiptStatusSuccessful
	if f.revertMint {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, TxHash: txHash}, nil
}

func (f *fakeDest) HasReceipt(ctx context.Context, txHash ethcommon.Hash) (bool, error) {
	return f.mined[txHash], nil
}

func (f *fakeDest) IsNonceUsed(ctx context.Context, nonce [32]byte) (bool, error) {
	return f.nonceUsed, nil
}

type fakeAttestor struct {
	pollCalls atomic.Int32
	block     bool  // block until ctx cancelled instead of answering
	err       error // returned verbatim when set
}

func (f *fakeAttestor) Poll(ctx context.Context, sourceDomain uint32, burnTxHash ethcommon.Hash) (*attestation.Proof, error) {
	f.pollCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &attestation.Proof{
		Message:     common.RandBytes(96),
		Attestation: common.RandBytes(65),
	}, nil
}

//
// harness
//

type harness struct {
	orch     *Orchestrator
	statedb  *state.StateDB
	source   *fakeSource
	dest     *fakeDest
	attestor *fakeAttestor
}

func newHarness(t *testing.T) *harness {
	sqlDB, err := database.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	statedb, err := state.NewStateDB(sqlDB)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		statedb.Close()
		sqlDB.Close()
	})

	source := newFakeSource()
	dest := newFakeDest()
	attestor := &fakeAttestor{}

	orch := New(&Config{
		Owner:             "test-worker",
		TokenMessenger:    common.RandEthAddress(),
		MaxSubmitAttempts: 3,
		SubmitBackoff:     time.Millisecond,
		ConfirmTimeout:    100 * time.Millisecond,
		LeaseTTL:          time.Minute,
	}, source, dest, attestor, statedb)

	return &harness{orch: orch, statedb: statedb, source: source, dest: dest, attestor: attestor}
}

func newRequest() *state.TransferRequest {
	return &state.TransferRequest{
		Id:           ethcommon.Hash(common.RandBytes32()),
		SourceDomain: 26,
		DestDomain:   6,
		BurnToken:    common.RandEthAddress(),
		Recipient:    common.RandEthAddress(),
		Amount:       big.NewInt(5_000_000),
		MaxFee:       big.NewInt(500),
	}
}

//
// tests
//

func TestSubmitHappyPath(t *testing.T) {
	h := newHarness(t)

	done, err := h.orch.Submit(context.Background(), newRequest())
	assert.NoError(t, err)
	assert.Equal(t, state.StatusMinted, done.Status)
	assert.NotEqual(t, ethcommon.Hash{}, done.BurnTxHash)
	assert.NotEqual(t, ethcommon.Hash{}, done.MintTxHash)

	assert.Equal(t, int32(1), h.source.approveCalls.Load())
	assert.Equal(t, int32(1), h.source.burnCalls.Load())
	assert.Equal(t, int32(1), h.dest.mintCalls.Load())
}

func TestSubmitIsIdempotent(t *testing.T) {
	h := newHarness(t)
	req := newRequest()

	first, err := h.orch.Submit(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, state.StatusMinted, first.Status)

	// resubmitting a minted transfer is a pure no-op
	second, err := h.orch.Submit(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, state.StatusMinted, second.Status)
	assert.Equal(t, first.BurnTxHash, second.BurnTxHash)
	assert.Equal(t, first.MintTxHash, second.MintTxHash)

	// exactly one burn and one mint across both calls
	assert.Equal(t, int32(1), h.source.burnCalls.Load())
	assert.Equal(t, int32(1), h.dest.mintCalls.Load())
}

func TestMintLandedElsewhereIsRecordedAsMinted(t *testing.T) {
	h := newHarness(t)
	h.dest.nonceUsed = true

	done, err := h.orch.Submit(context.Background(), newRequest())
	assert.NoError(t, err)
	assert.Equal(t, state.StatusMinted, done.Status)

	// the destination already consumed the message nonce: no resubmission,
	// and no tx hash to record
	assert.Equal(t, int32(0), h.dest.mintCalls.Load())
	assert.Equal(t, ethcommon.Hash{}, done.MintTxHash)
}

func TestResumeAfterCrashAtBurned(t *testing.T) {
	h := newHarness(t)
	req := newRequest()

	// simulate a previous run that crashed after the burn confirmed
	burnTx := ethcommon.Hash(common.RandBytes32())
	assert.NoError(t, h.statedb.InsertTransfer(req))
	assert.NoError(t, h.statedb.MarkApproved(req.Id))
	assert.NoError(t, h.statedb.MarkBurned(req.Id, burnTx))

	done, err := h.orch.Submit(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, state.StatusMinted, done.Status)
	assert.Equal(t, burnTx, done.BurnTxHash)

	// no second burn transaction was issued
	assert.Equal(t, int32(0), h.source.burnCalls.Load())
	assert.Equal(t, int32(0), h.source.approveCalls.Load())
	assert.Equal(t, int32(1), h.dest.mintCalls.Load())
}

func TestSubmitSkipsApproveWhenAllowanceSufficient(t *testing.T) {
	h := newHarness(t)
	h.source.allowance = big.NewInt(10_000_000)

	done, err := h.orch.Submit(context.Background(), newRequest())
	assert.NoError(t, err)
	assert.Equal(t, state.StatusMinted, done.Status)
	assert.Equal(t, int32(0), h.source.approveCalls.Load())
}

func TestFailedTransferNeedsExplicitResume(t *testing.T) {
	h := newHarness(t)
	req := newRequest()
	h.dest.revertMint = true

	_, err := h.orch.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrMintReverted)

	got, _, err := h.statedb.GetTransfer(req.Id)
	assert.NoError(t, err)
	assert.Equal(t, state.StatusFailed, got.Status)
	assert.Equal(t, state.PhaseMint, got.FailedPhase)
	assert.Contains(t, got.LastError, "reverted")

	// plain submit refuses a failed transfer
	_, err = h.orch.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrTransferFailed)

	// the operator path re-enters at the recorded artifacts
	h.dest.revertMint = false
	done, err := h.orch.Resume(context.Background(), req.Id)
	assert.NoError(t, err)
	assert.Equal(t, state.StatusMinted, done.Status)

	// still exactly one burn across the whole story
	assert.Equal(t, int32(1), h.source.burnCalls.Load())
}

func TestTransientBurnErrorIsRetried(t *testing.T) {
	h := newHarness(t)
	h.source.burnErrs = []error{
		errors.New("connection reset by peer"),
		errors.New("too many requests"),
	}

	done, err := h.orch.Submit(context.Background(), newRequest())
	assert.NoError(t, err)
	assert.Equal(t, state.StatusMinted, done.Status)
	assert.Equal(t, int32(3), h.source.burnCalls.Load())
}

func TestStructuralBurnErrorFailsImmediately(t *testing.T) {
	h := newHarness(t)
	h.source.burnErrs = []error{
		errors.New("execution reverted: insufficient balance"),
	}

	req := newRequest()
	_, err := h.orch.Submit(context.Background(), req)
	assert.Error(t, err)
	assert.Equal(t, int32(1), h.source.burnCalls.Load())

	got, _, _ := h.statedb.GetTransfer(req.Id)
	assert.Equal(t, state.StatusFailed, got.Status)
	assert.Equal(t, state.PhaseBurn, got.FailedPhase)
}

func TestAttestCancellationLeavesBurned(t *testing.T) {
	h := newHarness(t)
	h.attestor.block = true
	req := newRequest()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.orch.Submit(ctx, req)
	assert.Error(t, err)

	// cancellation is not a failure: the transfer stays burned, resumable
	got, _, err := h.statedb.GetTransfer(req.Id)
	assert.NoError(t, err)
	assert.Equal(t, state.StatusBurned, got.Status)
	assert.NotEqual(t, ethcommon.Hash{}, got.BurnTxHash)

	// resume finishes the job without a second burn
	h.attestor.block = false
	done, err := h.orch.Submit(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, state.StatusMinted, done.Status)
	assert.Equal(t, int32(1), h.source.burnCalls.Load())
}

func TestSlowBurnIsReplacedAtSameNonce(t *testing.T) {
	h := newHarness(t)
	h.source.slowBurns = 1
	h.source.nextNonce = 7

	done, err := h.orch.Submit(context.Background(), newRequest())
	assert.NoError(t, err)
	assert.Equal(t, state.StatusMinted, done.Status)

	// the first broadcast outlived the confirmation window; the retry must
	// supersede it at the same nonce, never spend through a second one
	assert.Equal(t, int32(2), h.source.burnCalls.Load())
	assert.Len(t, h.source.burnOpts, 2)
	assert.Equal(t, uint64(7), h.source.burnOpts[0].Nonce)
	assert.Equal(t, uint64(7), h.source.burnOpts[1].Nonce)
	assert.False(t, h.source.burnOpts[0].Replacement)
	assert.True(t, h.source.burnOpts[1].Replacement)
}

func TestResumeReplacesUnminedPendingBurn(t *testing.T) {
	h := newHarness(t)
	req := newRequest()

	// a previous run pinned nonce 3, broadcast a burn and crashed; the tx
	// is still sitting unmined in the pool
	staleBurn := ethcommon.Hash(common.RandBytes32())
	assert.NoError(t, h.statedb.InsertTransfer(req))
	assert.NoError(t, h.statedb.MarkApproved(req.Id))
	assert.NoError(t, h.statedb.SetKeyedValue(pendingTxKey(req.Id, state.PhaseBurn), staleBurn))
	assert.NoError(t, h.orch.recordPendingNonce(req.Id, state.PhaseBurn, 3))

	done, err := h.orch.Submit(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, state.StatusMinted, done.Status)

	// the new broadcast replaced the stale one at its recorded nonce
	assert.Equal(t, int32(1), h.source.burnCalls.Load())
	assert.Equal(t, uint64(3), h.source.burnOpts[0].Nonce)
	assert.True(t, h.source.burnOpts[0].Replacement)
	assert.NotEqual(t, staleBurn, done.BurnTxHash)
}

func TestNonceConsumedSettlesOnOwnBroadcast(t *testing.T) {
	h := newHarness(t)
	req := newRequest()
	assert.NoError(t, h.statedb.InsertTransfer(req))

	first := ethcommon.Hash(common.RandBytes32())
	var calls int
	receipt, txHash, err := h.orch.submitConfirmed(context.Background(), req.Id, state.PhaseBurn, h.source,
		func(ctx context.Context, opts *etherman.SubmitOpts) (ethcommon.Hash, error) {
			calls++
			if calls == 1 {
				// broadcast that will not confirm inside the window
				return first, nil
			}
			// it mined while the replacement was being built
			h.source.mined[first] = true
			return ethcommon.Hash{}, errors.New("nonce too low")
		})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, first, txHash)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
}

func TestNonceConsumedElsewhereStopsResubmission(t *testing.T) {
	h := newHarness(t)
	req := newRequest()
	assert.NoError(t, h.statedb.InsertTransfer(req))

	var calls int
	_, _, err := h.orch.submitConfirmed(context.Background(), req.Id, state.PhaseBurn, h.source,
		func(ctx context.Context, opts *etherman.SubmitOpts) (ethcommon.Hash, error) {
			calls++
			if calls == 1 {
				return ethcommon.Hash(common.RandBytes32()), nil
			}
			// the account's nonce moved but our broadcast never mined:
			// spending again could double the side effect
			return ethcommon.Hash{}, errors.New("nonce too low")
		})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "consumed outside")
	assert.Equal(t, 2, calls)
}

func TestAttestDeadlineLeavesBurned(t *testing.T) {
	h := newHarness(t)
	req := newRequest()
	h.attestor.err = fmt.Errorf("%w: %w", attestation.ErrAttestationTimeout, context.DeadlineExceeded)

	_, err := h.orch.Submit(context.Background(), req)
	assert.ErrorIs(t, err, attestation.ErrAttestationTimeout)

	// a bounded attest is a cancellation, not a failure: the transfer
	// stays burned and resumable
	got, _, gerr := h.statedb.GetTransfer(req.Id)
	assert.NoError(t, gerr)
	assert.Equal(t, state.StatusBurned, got.Status)

	h.attestor.err = nil
	done, err := h.orch.Submit(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, state.StatusMinted, done.Status)
	assert.Equal(t, int32(1), h.source.burnCalls.Load())
}

func TestPendingBurnRecoveredFromChain(t *testing.T) {
	h := newHarness(t)
	req := newRequest()

	// a previous run sent a burn tx and crashed before observing the
	// receipt; the pending marker and the mined tx are all that is left
	pendingBurn := ethcommon.Hash(common.RandBytes32())
	h.source.mined[pendingBurn] = true
	assert.NoError(t, h.statedb.InsertTransfer(req))
	assert.NoError(t, h.statedb.MarkApproved(req.Id))
	assert.NoError(t, h.statedb.SetKeyedValue(pendingTxKey(req.Id, state.PhaseBurn), pendingBurn))

	done, err := h.orch.Submit(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, state.StatusMinted, done.Status)
	assert.Equal(t, pendingBurn, done.BurnTxHash)

	// the recovered submission was honored, never resent
	assert.Equal(t, int32(0), h.source.burnCalls.Load())
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	h := newHarness(t)

	req := newRequest()
	req.Amount = big.NewInt(0)
	_, err := h.orch.Submit(context.Background(), req)
	assert.ErrorIs(t, err, state.ErrTransferInvalid)

	req = newRequest()
	req.Recipient = ethcommon.Address{}
	_, err = h.orch.Submit(context.Background(), req)
	assert.ErrorIs(t, err, state.ErrTransferInvalid)
}
