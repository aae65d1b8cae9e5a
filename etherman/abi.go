package etherman

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// The ABI fragments below cover only the functions and events this bridge
// actually touches: the USDC ERC-20, the CCTP v2 TokenMessenger and
// MessageTransmitter, the Chainlink AggregatorV3 feed, the DCA controller
// and the destination-chain swap router.

const erc20ABIJson = `[
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const tokenMessengerABIJson = `[
	{"type":"function","name":"depositForBurn","stateMutability":"nonpayable","inputs":[
		{"name":"amount","type":"uint256"},
		{"name":"destinationDomain","type":"uint32"},
		{"name":"mintRecipient","type":"bytes32"},
		{"name":"burnToken","type":"address"},
		{"name":"destinationCaller","type":"bytes32"},
		{"name":"maxFee","type":"uint256"},
		{"name":"minFinalityThreshold","type":"uint32"}],"outputs":[]}
]`

const messageTransmitterABIJson = `[
	{"type":"function","name":"receiveMessage","stateMutability":"nonpayable","inputs":[
		{"name":"message","type":"bytes"},
		{"name":"attestation","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"usedNonces","stateMutability":"view","inputs":[
		{"name":"nonce","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const aggregatorV3ABIJson = `[
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"latestRoundData","stateMutability":"view","inputs":[],"outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}]}
]`

const dcaControllerABIJson = `[
	{"type":"function","name":"updatePriceAndMaybeInvest","stateMutability":"payable","inputs":[
		{"name":"priceUpdate","type":"bytes[]"}],"outputs":[]},
	{"type":"function","name":"getCurrentPrice","stateMutability":"view","inputs":[],"outputs":[
		{"name":"price","type":"int256"},
		{"name":"updatedAt","type":"uint256"}]},
	{"type":"event","name":"DCARequested","inputs":[
		{"name":"planId","type":"uint256","indexed":true},
		{"name":"thresholdIndex","type":"uint256","indexed":true},
		{"name":"usdcAmount","type":"uint256","indexed":false},
		{"name":"price","type":"int256","indexed":false},
		{"name":"updatedAt","type":"uint256","indexed":false}]}
]`

const swapRouterABIJson = `[
	{"type":"function","name":"exactInputSingle","stateMutability":"payable","inputs":[
		{"name":"params","type":"tuple","components":[
			{"name":"tokenIn","type":"address"},
			{"name":"tokenOut","type":"address"},
			{"name":"tickSpacing","type":"int24"},
			{"name":"recipient","type":"address"},
			{"name":"deadline","type":"uint256"},
			{"name":"amountIn","type":"uint256"},
			{"name":"amountOutMinimum","type":"uint256"},
			{"name":"sqrtPriceLimitX96","type":"uint160"}]}],
		"outputs":[{"name":"amountOut","type":"uint256"}]}
]`

const quoterABIJson = `[
	{"type":"function","name":"quoteExactInputSingle","stateMutability":"nonpayable","inputs":[
		{"name":"params","type":"tuple","components":[
			{"name":"tokenIn","type":"address"},
			{"name":"tokenOut","type":"address"},
			{"name":"amountIn","type":"uint256"},
			{"name":"tickSpacing","type":"int24"},
			{"name":"sqrtPriceLimitX96","type":"uint160"}]}],
		"outputs":[
			{"name":"amountOut","type":"uint256"},
			{"name":"sqrtPriceX96After","type":"uint160"},
			{"name":"initializedTicksCrossed","type":"uint32"},
			{"name":"gasEstimate","type":"uint256"}]}
]`

var (
	erc20ABI              abi.ABI
	tokenMessengerABI     abi.ABI
	messageTransmitterABI abi.ABI
	aggregatorV3ABI       abi.ABI
	dcaControllerABI      abi.ABI
	swapRouterABI         abi.ABI
	quoterABI             abi.ABI
)

func init() {
	erc20ABI = mustParseABI(erc20ABIJson)
	tokenMessengerABI = mustParseABI(tokenMessengerABIJson)
	messageTransmitterABI = mustParseABI(messageTransmitterABIJson)
	aggregatorV3ABI = mustParseABI(aggregatorV3ABIJson)
	dcaControllerABI = mustParseABI(dcaControllerABIJson)
	swapRouterABI = mustParseABI(swapRouterABIJson)
	quoterABI = mustParseABI(quoterABIJson)
}

func mustParseABI(jsonStr string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(jsonStr))
	if err != nil {
		panic(err)
	}
	return parsed
}
