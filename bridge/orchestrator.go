// Orchestrator drives one transfer through approve -> burn -> attest ->
// mint with at most one side effect per phase. Progress is persisted after
// every phase, so a process restart re-enters where it left off instead of
// re-spending.

package bridge

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sethvargo/go-retry"
	logger "github.com/sirupsen/logrus"

	"github.com/aibkh/dca-bridge-go/common"
	"github.com/aibkh/dca-bridge-go/etherman"
	"github.com/aibkh/dca-bridge-go/state"
)

type Orchestrator struct {
	cfg      *Config
	source   SourceChain
	dest     DestChain
	attestor Attestor
	statedb  *state.StateDB

	// in-process companion to the statedb lease; keeps two goroutines in
	// this process off the same transfer id
	inflight sync.Map
}

func New(
	cfg *Config,
	source SourceChain,
	dest DestChain,
	attestor Attestor,
	statedb *state.StateDB,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		source:   source,
		dest:     dest,
		attestor: attestor,
		statedb:  statedb,
	}
}

// Submit is the idempotent entry point. Submitting an already-minted
// transfer returns it untouched with zero chain interaction; submitting a
// transfer that is mid-flight elsewhere returns ErrLeaseHeld; anything else
// resumes from the persisted state.
func (o *Orchestrator) Submit(ctx context.Context, req *state.TransferRequest) (*state.TransferRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	existing, found, err := o.statedb.GetTransfer(req.Id)
	if err != nil {
		return nil, err
	}
	if found {
		switch existing.Status {
		case state.StatusMinted:
			return existing, nil
		case state.StatusFailed:
			return existing, ErrTransferFailed
		}
	}

	if _, loaded := o.inflight.LoadOrStore(req.Id, true); loaded {
		return nil, ErrLeaseHeld
	}
	defer o.inflight.Delete(req.Id)

	if !found {
		req.Status = state.StatusCreated
		if err := o.statedb.InsertTransfer(req); err != nil {
			return nil, err
		}
	}

	ok, err := o.statedb.AcquireLease(req.Id, o.cfg.Owner, o.cfg.LeaseTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	defer func() {
		if err := o.statedb.ReleaseLease(req.Id, o.cfg.Owner); err != nil {
			logger.Errorf("failed to release lease: id=%s err=%v", req.Id, err)
		}
	}()

	// reload: the row is the authority, not the caller's copy
	t, _, err := o.statedb.GetTransfer(req.Id)
	if err != nil {
		return nil, err
	}

	return o.run(ctx, t)
}

// Resume is the operator path out of failed. The re-entry point is derived
// from the recorded artifacts (burn/mint tx hashes, attestation), so a
// resume never repeats a completed side effect.
func (o *Orchestrator) Resume(ctx context.Context, id ethcommon.Hash) (*state.TransferRequest, error) {
	t, err := o.statedb.MarkResumed(id)
	if err != nil {
		return nil, err
	}
	return o.Submit(ctx, t)
}

// run executes the remaining phases in order. On a phase failure the
// transfer is marked failed with the phase name and last error; on
// cancellation it is left as-is for a later resume.
func (o *Orchestrator) run(ctx context.Context, t *state.TransferRequest) (*state.TransferRequest, error) {
	newLogger := logger.WithFields(logger.Fields{
		"transfer": common.Shorten(t.Id.String(), 10),
		"amount":   t.Amount.String(),
	})

	type phase struct {
		name string
		from state.TransferStatus
		fn   func(context.Context, *state.TransferRequest, *logger.Entry) error
	}

	phases := []phase{
		{state.PhaseApprove, state.StatusCreated, o.phaseApprove},
		{state.PhaseBurn, state.StatusApproved, o.phaseBurn},
		{state.PhaseAttest, state.StatusBurned, o.phaseAttest},
		{state.PhaseMint, state.StatusAttested, o.phaseMint},
	}

	for _, ph := range phases {
		if t.Status != ph.from {
			continue
		}

		if err := ph.fn(ctx, t, newLogger); err != nil {
			if isCancellation(err) {
				newLogger.Infof("phase %s cancelled, transfer stays %s", ph.name, t.Status)
				return t, err
			}
			newLogger.Errorf("phase %s failed: err=%v", ph.name, err)
			if dbErr := o.statedb.MarkFailed(t.Id, ph.name, err.Error()); dbErr != nil {
				newLogger.Errorf("failed to record failure: err=%v", dbErr)
			}
			t, _, _ = o.statedb.GetTransfer(t.Id)
			return t, err
		}

		// pick up the columns the phase wrote
		var err error
		t, _, err = o.statedb.GetTransfer(t.Id)
		if err != nil {
			return nil, err
		}
		newLogger.Infof("phase %s done, status=%s", ph.name, t.Status)
	}

	return t, nil
}

// phaseApprove grants the TokenMessenger an allowance if the current one is
// insufficient. The allowance is read from the chain, so an approval done
// outside this process (or by a previous crashed run) is honored.
func (o *Orchestrator) phaseApprove(ctx context.Context, t *state.TransferRequest, log *logger.Entry) error {
	allowance, err := o.source.Allowance(ctx, o.source.Sender(), o.cfg.TokenMessenger)
	if err != nil {
		return err
	}

	if allowance.Cmp(t.Amount) >= 0 {
		log.Debug("allowance sufficient, skip approve")
		return o.statedb.MarkApproved(t.Id)
	}

	receipt, _, err := o.submitConfirmed(ctx, t.Id, state.PhaseApprove, o.source, func(ctx context.Context, opts *etherman.SubmitOpts) (ethcommon.Hash, error) {
		return o.source.Approve(ctx, o.cfg.TokenMessenger, t.Amount, opts)
	})
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return ErrApproveReverted
	}

	return o.statedb.MarkApproved(t.Id)
}

// phaseBurn submits depositForBurn and waits for on-chain confirmation.
// Submission alone is not enough: a dropped or reorged transaction must not
// be recorded as burned.
func (o *Orchestrator) phaseBurn(ctx context.Context, t *state.TransferRequest, log *logger.Entry) error {
	if t.BurnTxHash != (ethcommon.Hash{}) {
		// already burned, observed on resume
		log.Debug("burn tx already recorded, skip")
		return nil
	}

	params := &etherman.BurnParams{
		Amount:               common.BigIntClone(t.Amount),
		DestinationDomain:    t.DestDomain,
		MintRecipient:        common.AddressToBytes32(t.Recipient),
		BurnToken:            t.BurnToken,
		MaxFee:               common.BigIntClone(t.MaxFee),
		MinFinalityThreshold: o.cfg.MinFinalityThreshold,
	}

	receipt, txHash, err := o.submitConfirmed(ctx, t.Id, state.PhaseBurn, o.source, func(ctx context.Context, opts *etherman.SubmitOpts) (ethcommon.Hash, error) {
		return o.source.DepositForBurn(ctx, params, opts)
	})
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return ErrBurnReverted
	}

	return o.statedb.MarkBurned(t.Id, txHash)
}

// phaseAttest has unbounded duration; it polls until the attestation
// service completes or ctx is cancelled. Cancellation leaves the transfer
// burned and resumable, it never invalidates the burn.
func (o *Orchestrator) phaseAttest(ctx context.Context, t *state.TransferRequest, log *logger.Entry) error {
	proof, err := o.attestor.Poll(ctx, t.SourceDomain, t.BurnTxHash)
	if err != nil {
		return err
	}
	return o.statedb.MarkAttested(t.Id, proof.Message, proof.Attestation)
}

// phaseMint submits receiveMessage on the destination chain. A revert here
// means the destination rejected the attestation (malformed or already
// used) which is structural, not retryable.
func (o *Orchestrator) phaseMint(ctx context.Context, t *state.TransferRequest, log *logger.Entry) error {
	if t.MintTxHash != (ethcommon.Hash{}) {
		log.Debug("mint tx already recorded, skip")
		return nil
	}
	if len(t.Attestation) == 0 || len(t.Message) == 0 {
		return fmt.Errorf("mint requires a non-empty attestation")
	}

	// another worker may have landed the mint already: the transmitter's
	// nonce registry is the ground truth
	if nonce, ok := messageNonce(t.Message); ok {
		used, err := o.dest.IsNonceUsed(ctx, nonce)
		if err != nil {
			log.Warnf("usedNonces read failed, proceeding: %v", err)
		} else if used {
			if pending, found, perr := o.pendingTx(t.Id, state.PhaseMint); perr == nil && found {
				o.clearSubmission(t.Id, state.PhaseMint)
				return o.statedb.MarkMinted(t.Id, pending)
			}
			log.Warn("destination reports message nonce already used, mint landed elsewhere")
			return o.statedb.MarkMintedExternal(t.Id)
		}
	}

	receipt, txHash, err := o.submitConfirmed(ctx, t.Id, state.PhaseMint, o.dest, func(ctx context.Context, opts *etherman.SubmitOpts) (ethcommon.Hash, error) {
		return o.dest.ReceiveMessage(ctx, t.Message, t.Attestation, opts)
	})
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return ErrMintReverted
	}

	return o.statedb.MarkMinted(t.Id, txHash)
}

// messageNonce extracts the 32-byte nonce from a transmitter message.
// Header layout: version(4) | sourceDomain(4) | destDomain(4) | nonce(32).
func messageNonce(message []byte) ([32]byte, bool) {
	if len(message) < 44 {
		return [32]byte{}, false
	}
	var nonce [32]byte
	copy(nonce[:], message[12:44])
	return nonce, true
}

// confirmer is the part of a chain adapter needed to settle a submission.
type confirmer interface {
	PendingNonce(ctx context.Context) (uint64, error)
	WaitMined(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error)
	HasReceipt(ctx context.Context, txHash ethcommon.Hash) (bool, error)
}

// submitConfirmed sends one transaction and waits for its receipt, with
// bounded exponential backoff across attempts. Two markers are parked in
// the kv table before anything can mine: the account nonce the phase is
// pinned to, and the hash of the latest broadcast. Every retry and every
// crash resume replaces at the pinned nonce, so at most one submission per
// phase can ever be included; the hash marker lets the next run consult the
// chain instead of resubmitting blindly.
func (o *Orchestrator) submitConfirmed(
	ctx context.Context,
	id ethcommon.Hash,
	phaseName string,
	chain confirmer,
	send func(context.Context, *etherman.SubmitOpts) (ethcommon.Hash, error),
) (*types.Receipt, ethcommon.Hash, error) {
	var (
		receipt *types.Receipt
		txHash  ethcommon.Hash
		sent    []ethcommon.Hash
	)

	// a submission from a previous run may already be in flight or mined
	pending, hasPending, err := o.pendingTx(id, phaseName)
	if err != nil {
		return nil, ethcommon.Hash{}, err
	}
	if hasPending {
		mined, err := chain.HasReceipt(ctx, pending)
		if err == nil && mined {
			receipt, err := chain.WaitMined(ctx, pending)
			if err != nil {
				return nil, ethcommon.Hash{}, err
			}
			o.clearSubmission(id, phaseName)
			return receipt, pending, nil
		}
		sent = append(sent, pending)
	}

	nonce, hasNonce, err := o.pendingNonce(id, phaseName)
	if err != nil {
		return nil, ethcommon.Hash{}, err
	}
	if !hasNonce {
		n, err := chain.PendingNonce(ctx)
		if err != nil {
			return nil, ethcommon.Hash{}, err
		}
		nonce = n
		if err := o.recordPendingNonce(id, phaseName, nonce); err != nil {
			return nil, ethcommon.Hash{}, err
		}
	}
	// an earlier broadcast may still sit in the pool; outbid it rather than
	// race it with an independent transaction
	replacement := hasNonce || hasPending

	backoff := retry.WithMaxRetries(o.cfg.MaxSubmitAttempts,
		retry.NewExponential(o.cfg.SubmitBackoff))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := o.statedb.IncrementAttempts(id); err != nil {
			return err
		}

		hash, err := send(ctx, &etherman.SubmitOpts{Nonce: nonce, Replacement: replacement})
		if err != nil {
			if isNonceConsumed(err) {
				// the pinned nonce mined. If it was one of this phase's own
				// broadcasts, settle on its receipt.
				for _, h := range sent {
					mined, herr := chain.HasReceipt(ctx, h)
					if herr != nil || !mined {
						continue
					}
					r, werr := chain.WaitMined(ctx, h)
					if werr != nil {
						return werr
					}
					receipt = r
					txHash = h
					return nil
				}
				if len(sent) > 0 {
					// the nonce went to a transaction this phase does not
					// know about while its own broadcasts are unaccounted
					// for; stop rather than spend again
					return fmt.Errorf("nonce %d consumed outside phase %s: %v", nonce, phaseName, err)
				}
				// nothing broadcast yet, the reservation just went stale
				n, nerr := chain.PendingNonce(ctx)
				if nerr != nil {
					return nerr
				}
				nonce = n
				if rerr := o.recordPendingNonce(id, phaseName, nonce); rerr != nil {
					return rerr
				}
				return retry.RetryableError(err)
			}
			if isTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		txHash = hash
		sent = append(sent, hash)
		// any further attempt supersedes this broadcast
		replacement = true

		if err := o.recordPendingTx(id, phaseName, hash); err != nil {
			return err
		}

		waitCtx, cancel := context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
		defer cancel()

		r, err := chain.WaitMined(waitCtx, hash)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err() // caller cancellation, do not classify
			}
			// confirmation window elapsed: the tx may be slow rather than
			// dropped, so the next attempt replaces it at the same nonce
			// instead of broadcasting a second independent one
			return retry.RetryableError(err)
		}
		receipt = r
		return nil
	})
	if err != nil {
		if isCancellation(err) {
			return nil, txHash, err
		}
		// structural errors pass through untouched; only a transient error
		// that survived every retry counts as exhaustion
		if isTransient(err) {
			return nil, txHash, fmt.Errorf("%w: %v", ErrAttemptsExhausted, err)
		}
		return nil, txHash, err
	}

	o.clearSubmission(id, phaseName)
	return receipt, txHash, nil
}

//
// pending-submission bookkeeping (kv table)
//

func pendingTxKey(id ethcommon.Hash, phaseName string) ethcommon.Hash {
	return crypto.Keccak256Hash([]byte("pendingTx."+phaseName), id.Bytes())
}

func pendingNonceKey(id ethcommon.Hash, phaseName string) ethcommon.Hash {
	return crypto.Keccak256Hash([]byte("pendingNonce."+phaseName), id.Bytes())
}

func (o *Orchestrator) recordPendingTx(id ethcommon.Hash, phaseName string, txHash ethcommon.Hash) error {
	return o.statedb.SetKeyedValue(pendingTxKey(id, phaseName), txHash)
}

func (o *Orchestrator) pendingTx(id ethcommon.Hash, phaseName string) (ethcommon.Hash, bool, error) {
	v, found, err := o.statedb.GetKeyedValue(pendingTxKey(id, phaseName))
	if err != nil || !found {
		return ethcommon.Hash{}, false, err
	}
	if v == (ethcommon.Hash{}) {
		return ethcommon.Hash{}, false, nil
	}
	return v, true, nil
}

func (o *Orchestrator) recordPendingNonce(id ethcommon.Hash, phaseName string, nonce uint64) error {
	var v ethcommon.Hash
	v[0] = 1 // presence flag: nonce zero must not read back as "no marker"
	binary.BigEndian.PutUint64(v[24:], nonce)
	return o.statedb.SetKeyedValue(pendingNonceKey(id, phaseName), v)
}

func (o *Orchestrator) pendingNonce(id ethcommon.Hash, phaseName string) (uint64, bool, error) {
	v, found, err := o.statedb.GetKeyedValue(pendingNonceKey(id, phaseName))
	if err != nil || !found {
		return 0, false, err
	}
	if v == (ethcommon.Hash{}) {
		return 0, false, nil
	}
	return binary.BigEndian.Uint64(v[24:]), true, nil
}

// clearSubmission drops both markers once the phase has settled.
func (o *Orchestrator) clearSubmission(id ethcommon.Hash, phaseName string) {
	for _, key := range []ethcommon.Hash{pendingTxKey(id, phaseName), pendingNonceKey(id, phaseName)} {
		if err := o.statedb.SetKeyedValue(key, ethcommon.Hash{}); err != nil {
			logger.Errorf("failed to clear submission marker: err=%v", err)
		}
	}
}
