package etherman

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"

	"github.com/aibkh/dca-bridge-go/common"
)

func TestDCARequestedSignature(t *testing.T) {
	expected := crypto.Keccak256Hash([]byte("DCARequested(uint256,uint256,uint256,int256,uint256)"))
	assert.Equal(t, expected, DCARequestedSignatureHash)

	// the parsed ABI must agree with the hand-computed topic
	assert.Equal(t, expected, dcaControllerABI.Events["DCARequested"].ID)
}

func TestParseDCARequested(t *testing.T) {
	usdcAmount := big.NewInt(5_000_000)
	price := big.NewInt(8_400_000_000_000)
	updatedAt := big.NewInt(1700000000)

	data, err := dcaControllerABI.Events["DCARequested"].Inputs.NonIndexed().Pack(
		usdcAmount, price, updatedAt,
	)
	assert.NoError(t, err)

	txHash := ethcommon.Hash(common.RandBytes32())
	vlog := types.Log{
		Topics: []ethcommon.Hash{
			DCARequestedSignatureHash,
			ethcommon.BigToHash(big.NewInt(7)), // planId
			ethcommon.BigToHash(big.NewInt(2)), // thresholdIndex
		},
		Data:        data,
		TxHash:      txHash,
		Index:       3,
		BlockNumber: 42,
	}

	ev, err := parseDCARequested(vlog)
	assert.NoError(t, err)
	assert.Equal(t, big.NewInt(7), ev.PlanId)
	assert.Equal(t, big.NewInt(2), ev.ThresholdIndex)
	assert.Equal(t, usdcAmount, ev.UsdcAmount)
	assert.Equal(t, price, ev.Price)
	assert.Equal(t, updatedAt, ev.UpdatedAt)
	assert.Equal(t, txHash, ev.TxHash)
	assert.Equal(t, uint32(3), ev.LogIndex)
	assert.Equal(t, uint64(42), ev.BlockNumber)
}

func TestParseDCARequestedRejectsMalformedLog(t *testing.T) {
	vlog := types.Log{
		Topics: []ethcommon.Hash{DCARequestedSignatureHash},
	}
	_, err := parseDCARequested(vlog)
	assert.Error(t, err)
}

func TestABIPackRoundTrips(t *testing.T) {
	// every constant ABI must parse and expose the methods the code calls
	_, err := erc20ABI.Pack("approve", common.RandEthAddress(), big.NewInt(1))
	assert.NoError(t, err)

	_, err = tokenMessengerABI.Pack("depositForBurn",
		big.NewInt(5_000_000), uint32(6), common.RandBytes32(),
		common.RandEthAddress(), [32]byte{}, big.NewInt(500), uint32(1000))
	assert.NoError(t, err)

	_, err = messageTransmitterABI.Pack("receiveMessage",
		common.RandBytes(96), common.RandBytes(65))
	assert.NoError(t, err)

	_, err = dcaControllerABI.Pack("updatePriceAndMaybeInvest",
		[][]byte{common.RandBytes(128)})
	assert.NoError(t, err)
}

func TestConfigAddresses(t *testing.T) {
	cfg := &Config{
		Usdc:           "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		TokenMessenger: "0x8FE6B999Dc680CcFDD5Bf7EB0974218be2542DAA",
	}
	addrs := cfg.addresses()
	assert.Equal(t, ethcommon.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"), addrs.Usdc)
	assert.Equal(t, ethcommon.HexToAddress("0x8FE6B999Dc680CcFDD5Bf7EB0974218be2542DAA"), addrs.TokenMessenger)
	assert.Equal(t, ethcommon.Address{}, addrs.DcaController)
}
