package state

import (
	"encoding/binary"
	"errors"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type TransferStatus string

const (
	StatusCreated  TransferStatus = "created"
	StatusApproved TransferStatus = "approved"
	StatusBurned   TransferStatus = "burned"
	StatusAttested TransferStatus = "attested"
	StatusMinted   TransferStatus = "minted"
	StatusFailed   TransferStatus = "failed"
)

// Phase names recorded on terminal failure.
const (
	PhaseApprove = "approve"
	PhaseBurn    = "burn"
	PhaseAttest  = "attest"
	PhaseMint    = "mint"
)

var (
	ErrTransferInvalid  = errors.New("transfer is invalid")
	ErrTransferNotFound = errors.New("transfer not found in statedb")
	ErrForwardOnly      = errors.New("transfer state may not move backwards")
	ErrDuplicateEvent   = errors.New("bridge event already recorded")
	ErrSwapAlreadySet   = errors.New("swap already recorded for transfer")
)

// TransferRequest is the unit of work driven through
// approve -> burn -> attest -> mint.
type TransferRequest struct {
	Id ethcommon.Hash

	SourceDomain uint32
	DestDomain   uint32
	BurnToken    ethcommon.Address
	Recipient    ethcommon.Address
	Amount       *big.Int // smallest token unit (6-decimal USDC)
	MaxFee       *big.Int

	Status      TransferStatus
	BurnTxHash  ethcommon.Hash
	Message     []byte
	Attestation []byte
	MintTxHash  ethcommon.Hash

	Attempts    int
	FailedPhase string
	LastError   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *TransferRequest) Validate() error {
	if t.Id == (ethcommon.Hash{}) ||
		t.Amount == nil || t.Amount.Sign() <= 0 ||
		t.MaxFee == nil || t.MaxFee.Sign() < 0 ||
		t.Recipient == (ethcommon.Address{}) ||
		t.BurnToken == (ethcommon.Address{}) {
		return ErrTransferInvalid
	}
	return nil
}

// TransferId derives the idempotence key of a transfer. Two processes
// observing the same source event compute the same id, so the statedb row
// acts as the dedup ledger. nonceTxHash/nonceLogIndex identify the source
// event (or the cron decision tx) that requested the transfer.
func TransferId(
	sourceDomain uint32,
	burnToken ethcommon.Address,
	destDomain uint32,
	recipient ethcommon.Address,
	nonceTxHash ethcommon.Hash,
	nonceLogIndex uint32,
) ethcommon.Hash {
	var buf []byte
	var u32 [4]byte

	binary.BigEndian.PutUint32(u32[:], sourceDomain)
	buf = append(buf, u32[:]...)
	buf = append(buf, burnToken.Bytes()...)
	binary.BigEndian.PutUint32(u32[:], destDomain)
	buf = append(buf, u32[:]...)
	buf = append(buf, recipient.Bytes()...)
	buf = append(buf, nonceTxHash.Bytes()...)
	binary.BigEndian.PutUint32(u32[:], nonceLogIndex)
	buf = append(buf, u32[:]...)

	return crypto.Keccak256Hash(buf)
}

// ResumeStatus computes where a failed transfer re-enters the phase machine,
// from the artifacts recorded before the failure. Recorded tx hashes are
// never discarded, so resume can never cause a second burn or mint.
func (t *TransferRequest) ResumeStatus() TransferStatus {
	switch {
	case t.MintTxHash != (ethcommon.Hash{}):
		return StatusMinted
	case len(t.Attestation) > 0:
		return StatusAttested
	case t.BurnTxHash != (ethcommon.Hash{}):
		return StatusBurned
	default:
		return StatusCreated
	}
}

// BridgeEventRecord links a source-chain request event to the transfer and
// swap it produced. Append-only; doubles as the event dedup ledger.
type BridgeEventRecord struct {
	Seq            int64
	ChainId        uint64
	EventTxHash    ethcommon.Hash
	LogIndex       uint32
	TransferId     ethcommon.Hash
	PlanId         uint64
	ThresholdIndex uint64
	UsdcAmount     *big.Int
	Price          string // raw integer price from the event, decimals per feed
	PriceUpdatedAt time.Time
	MintTxHash     ethcommon.Hash
	SwapTxHash     ethcommon.Hash
	BtcOut         *big.Int
	CreatedAt      time.Time
}

type Summary struct {
	Count        int64    `json:"trade_count"`
	TotalBridged *big.Int `json:"total_usdc"`
	TotalSwapped *big.Int `json:"total_btc"`
}
