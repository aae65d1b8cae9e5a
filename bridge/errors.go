package bridge

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrLeaseHeld         = errors.New("another worker owns this transfer")
	ErrTransferFailed    = errors.New("transfer is in failed state, resume explicitly")
	ErrApproveReverted   = errors.New("approve transaction reverted")
	ErrBurnReverted      = errors.New("burn transaction reverted")
	ErrMintReverted      = errors.New("mint transaction reverted, attestation rejected by destination")
	ErrAttemptsExhausted = errors.New("submission attempts exhausted")
)

// transient RPC failures worth a resubmission. Anything not in this list is
// treated as structural (bad calldata, reverts, insufficient funds) and
// fails the phase immediately.
var transientFragments = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"replacement transaction underpriced",
	"transaction underpriced",
	"connection reset",
	"connection refused",
	"broken pipe",
	"too many requests",
	"EOF",
	"not found",
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, frag := range transientFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// isNonceConsumed spots the node refusing a submission because its pinned
// nonce already mined. Under nonce-pinned resubmission this is a settlement
// signal, not a generic transient failure.
func isNonceConsumed(err error) bool {
	return err != nil && strings.Contains(err.Error(), "nonce too low")
}

// isCancellation distinguishes "the caller gave up" from "the operation
// failed". Cancellation leaves the transfer in its current state, safely
// resumable; it never marks it failed.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
