package etherman

import (
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Real params to call TokenMessenger depositForBurn()
type BurnParams struct {
	Amount            *big.Int
	DestinationDomain uint32
	MintRecipient     [32]byte // destination address, left-padded
	BurnToken         ethcommon.Address
	DestinationCaller [32]byte // zero = anyone may submit the mint
	MaxFee            *big.Int
	// Lower threshold selects the fast attestation path.
	MinFinalityThreshold uint32
}

// Real params to call the destination swap router exactInputSingle()
type SwapParams struct {
	TokenIn          ethcommon.Address
	TokenOut         ethcommon.Address
	TickSpacing      int64
	Recipient        ethcommon.Address
	Deadline         *big.Int
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
}

// DCARequestedEvent is one decoded DCARequested log from the controller.
type DCARequestedEvent struct {
	PlanId         *big.Int
	ThresholdIndex *big.Int
	UsdcAmount     *big.Int
	Price          *big.Int
	UpdatedAt      *big.Int

	TxHash      ethcommon.Hash
	LogIndex    uint32
	BlockNumber uint64
}

// RoundData is one Chainlink AggregatorV3 latestRoundData() read.
type RoundData struct {
	Price     *big.Int
	Decimals  uint8
	UpdatedAt time.Time
}
