package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/aibkh/dca-bridge-go/cmd"
	"github.com/aibkh/dca-bridge-go/etherman"
	"github.com/aibkh/dca-bridge-go/logconfig"
)

const (
	ENV_CONFIG_FILE_PATH = "DCA_BRIDGE_CONFIG"
)

func main() {
	logconfig.ConfigInfoLogger()

	// Tool to read environment variables
	viper.AutomaticEnv()

	// Accessing an environment variable of configuration file location.
	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	fmt.Printf("Dca bridge server configuration file = %s\n", _config_file)

	// See if file exists
	if !cmd.FileExists(_config_file) {
		fmt.Printf("Dca bridge server configuration file not found: %s\n", _config_file)
		return
	}

	// Read from config file.
	success := initializeViper(_config_file)
	if !success {
		return
	}

	// Make the configuration
	dsc := PrepareDcaServerConfig()

	fmt.Println("Starting dca bridge server... press Ctrl+C to kill the server")
	// Start server and block.
	cmd.StartDcaServerAndWait(dsc)
}

func initializeViper(filePath string) bool {
	viper.SetConfigFile(filePath)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading configuration file, %s", err)
		return false
	}
	return true
}

// PrepareDcaServerConfig reads configuration variables and returns a DcaServerConfig.
func PrepareDcaServerConfig() *cmd.DcaServerConfig {
	return &cmd.DcaServerConfig{
		// source chain side
		SourceChain: etherman.Config{
			URL:             viper.GetString("SOURCE_RPC_URL"),
			ChainID:         viper.GetInt64("SOURCE_CHAIN_ID"),
			Domain:          uint32(viper.GetUint64("SOURCE_DOMAIN")),
			PrivateKey:      viper.GetString("SOURCE_ACCOUNT_PRIV"),
			Usdc:            viper.GetString("SOURCE_USDC_ADDR"),
			TokenMessenger:  viper.GetString("SOURCE_TOKEN_MESSENGER_ADDR"),
			DcaController:   viper.GetString("SOURCE_DCA_CONTROLLER_ADDR"),
			ChainlinkBtcUsd: viper.GetString("SOURCE_CHAINLINK_BTC_USD_ADDR"),
		},
		// destination chain side
		DestChain: etherman.Config{
			URL:                viper.GetString("DEST_RPC_URL"),
			ChainID:            viper.GetInt64("DEST_CHAIN_ID"),
			Domain:             uint32(viper.GetUint64("DEST_DOMAIN")),
			PrivateKey:         viper.GetString("DEST_ACCOUNT_PRIV"),
			Usdc:               viper.GetString("DEST_USDC_ADDR"),
			MessageTransmitter: viper.GetString("DEST_MESSAGE_TRANSMITTER_ADDR"),
			BtcToken:           viper.GetString("DEST_CBBTC_ADDR"),
			SwapRouter:         viper.GetString("DEST_SWAP_ROUTER_ADDR"),
			SwapQuoter:         viper.GetString("DEST_SWAP_QUOTER_ADDR"),
			ChainlinkBtcUsd:    viper.GetString("DEST_CHAINLINK_BTC_USD_ADDR"),
		},
		// state side
		DbFilePath: viper.GetString("DB_FILE_PATH"),
		// attestation service
		AttestationBaseUrl: viper.GetString("ATTESTATION_BASE_URL"),
		// bridge behavior
		WorkerName:   viper.GetString("WORKER_NAME"),
		MaxFeeUnits:  viper.GetString("MAX_FEE_UNITS"),
		MaxSlippage:  viper.GetString("MAX_SLIPPAGE_PERCENT"),
		TriggerStart: viper.GetUint64("TRIGGER_START_BLOCK"),
		// dca job behavior
		CronSpec:      viper.GetString("DCA_CRON_SPEC"),
		AmountUsdc:    viper.GetString("DCA_AMOUNT_USDC"),
		Thresholds:    viper.GetStringSlice("DCA_THRESHOLDS"),
		MinConfidence: viper.GetString("DCA_MIN_CONFIDENCE"),
		MaxDeviation:  viper.GetString("DCA_MAX_DEVIATION_PERCENT"),
		HermesUrl:     viper.GetString("PYTH_HERMES_URL"),
		// analysis side
		OpenAIApiKey:  viper.GetString("OPENAI_API_KEY"),
		OpenAIBaseUrl: viper.GetString("OPENAI_BASE_URL"),
		OpenAIModel:   viper.GetString("OPENAI_MODEL"),
		// Http side
		HttpIp:   viper.GetString("HTTP_IP"),
		HttpPort: viper.GetString("HTTP_PORT"),
	}
}
