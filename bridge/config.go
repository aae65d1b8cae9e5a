package bridge

import (
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

const (
	// Fast-path attestation: the bridge attests after soft finality.
	FinalityThresholdFast = 1000
	// Conservative path: full hard finality before attestation.
	FinalityThresholdFinalized = 2000
)

type Config struct {
	// Owner identifies this worker in lease rows.
	Owner string

	// TokenMessenger is the burn contract on the source chain, i.e. the
	// spender that needs the USDC allowance.
	TokenMessenger ethcommon.Address

	MinFinalityThreshold uint32

	// Bounded submission retry for approve/burn/mint.
	MaxSubmitAttempts uint64
	SubmitBackoff     time.Duration

	// How long to wait for one submitted transaction to confirm before the
	// submission is considered dropped and retried.
	ConfirmTimeout time.Duration

	LeaseTTL time.Duration
}

func (cfg *Config) withDefaults() *Config {
	out := *cfg
	if out.MinFinalityThreshold == 0 {
		out.MinFinalityThreshold = FinalityThresholdFast
	}
	if out.MaxSubmitAttempts == 0 {
		out.MaxSubmitAttempts = 5
	}
	if out.SubmitBackoff <= 0 {
		out.SubmitBackoff = 2 * time.Second
	}
	if out.ConfirmTimeout <= 0 {
		out.ConfirmTimeout = 3 * time.Minute
	}
	if out.LeaseTTL <= 0 {
		out.LeaseTTL = 10 * time.Minute
	}
	return &out
}
