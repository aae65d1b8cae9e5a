package bridge

import (
	"context"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/aibkh/dca-bridge-go/attestation"
	"github.com/aibkh/dca-bridge-go/etherman"
)

// SourceChain is the slice of chain capability the orchestrator needs on the
// burn side. *etherman.Etherman satisfies it.
type SourceChain interface {
	Sender() ethcommon.Address
	Allowance(ctx context.Context, owner, spender ethcommon.Address) (*big.Int, error)
	Approve(ctx context.Context, spender ethcommon.Address, amount *big.Int, opts *etherman.SubmitOpts) (ethcommon.Hash, error)
	DepositForBurn(ctx context.Context, p *etherman.BurnParams, opts *etherman.SubmitOpts) (ethcommon.Hash, error)
	PendingNonce(ctx context.Context) (uint64, error)
	WaitMined(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error)
	HasReceipt(ctx context.Context, txHash ethcommon.Hash) (bool, error)
}

// DestChain is the mint side.
type DestChain interface {
	ReceiveMessage(ctx context.Context, message, attestation []byte, opts *etherman.SubmitOpts) (ethcommon.Hash, error)
	IsNonceUsed(ctx context.Context, nonce [32]byte) (bool, error)
	PendingNonce(ctx context.Context) (uint64, error)
	WaitMined(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error)
	HasReceipt(ctx context.Context, txHash ethcommon.Hash) (bool, error)
}

// Attestor turns a confirmed burn into a mint proof.
type Attestor interface {
	Poll(ctx context.Context, sourceDomain uint32, burnTxHash ethcommon.Hash) (*attestation.Proof, error)
}
