package etherman

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
)

// ContractAddresses lists the deployed contracts on one chain. Fields that a
// chain does not carry (e.g. no DCA controller on the destination chain)
// stay zero and the corresponding calls are never made.
type ContractAddresses struct {
	Usdc               ethcommon.Address
	TokenMessenger     ethcommon.Address
	MessageTransmitter ethcommon.Address
	DcaController      ethcommon.Address
	BtcToken           ethcommon.Address // cbBTC on the destination chain
	SwapRouter         ethcommon.Address
	SwapQuoter         ethcommon.Address
	ChainlinkBtcUsd    ethcommon.Address
}

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type Config struct {
	URL        string
	ChainID    int64
	Domain     uint32 // bridge protocol domain id of this chain
	PrivateKey string // hex, no 0x prefix required

	Usdc               string
	TokenMessenger     string
	MessageTransmitter string
	DcaController      string
	BtcToken           string
	SwapRouter         string
	SwapQuoter         string
	ChainlinkBtcUsd    string
}

func (cfg *Config) addresses() ContractAddresses {
	return ContractAddresses{
		Usdc:               ethcommon.HexToAddress(cfg.Usdc),
		TokenMessenger:     ethcommon.HexToAddress(cfg.TokenMessenger),
		MessageTransmitter: ethcommon.HexToAddress(cfg.MessageTransmitter),
		DcaController:      ethcommon.HexToAddress(cfg.DcaController),
		BtcToken:           ethcommon.HexToAddress(cfg.BtcToken),
		SwapRouter:         ethcommon.HexToAddress(cfg.SwapRouter),
		SwapQuoter:         ethcommon.HexToAddress(cfg.SwapQuoter),
		ChainlinkBtcUsd:    ethcommon.HexToAddress(cfg.ChainlinkBtcUsd),
	}
}
