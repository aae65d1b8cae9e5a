// Server = source-chain components + destination-chain components +
// db/state + scheduler + http reporter.
// All components are configured via environment variables (strings!).

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/aibkh/dca-bridge-go/analysis"
	"github.com/aibkh/dca-bridge-go/attestation"
	"github.com/aibkh/dca-bridge-go/bridge"
	"github.com/aibkh/dca-bridge-go/database"
	"github.com/aibkh/dca-bridge-go/dcajob"
	"github.com/aibkh/dca-bridge-go/etherman"
	"github.com/aibkh/dca-bridge-go/pricefeed"
	"github.com/aibkh/dca-bridge-go/reporter"
	"github.com/aibkh/dca-bridge-go/state"
	"github.com/aibkh/dca-bridge-go/swap"
	"github.com/aibkh/dca-bridge-go/trigger"
)

// Default params for server.
// More often we don't recommend users to tweak those.
// So we list them here.
const (
	// trigger listener config
	frequencyToScanSourceChain = 10 * time.Second
	scanBatchBlocks            = 1000

	// attestation poll config
	frequencyToPollAttestation = 5 * time.Second

	// swap config
	defaultTickSpacing = 100
)

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type DcaServerConfig struct {
	// source chain side (where USDC burns and the DCA controller lives)
	SourceChain etherman.Config
	// destination chain side (where USDC mints and swaps into cbBTC)
	DestChain etherman.Config

	// state side
	DbFilePath string

	// attestation service
	AttestationBaseUrl string

	// bridge behavior
	WorkerName   string // lease owner id, unique per process
	MaxFeeUnits  string // smallest USDC units, decimal string
	MaxSlippage  string // percent, e.g. "0.5"
	TriggerStart uint64 // source block to scan from when no checkpoint exists

	// dca job behavior
	CronSpec      string // robfig/cron syntax, eg. "@every 10m"
	AmountUsdc    string // whole USDC per cycle, eg. "5"
	Thresholds    []string
	MinConfidence string
	MaxDeviation  string // consensus bound, percent
	HermesUrl     string

	// analysis side, optional: empty api key = static pass-through
	OpenAIApiKey  string
	OpenAIBaseUrl string
	OpenAIModel   string

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080
}

// DcaServer holds the objects that consists of the dca bridge server.
type DcaServer struct {
	SourceEtherman *etherman.Etherman
	DestEtherman   *etherman.Etherman

	MyStateDb *state.StateDB

	MyAttestor     *attestation.Client
	MyOrchestrator *bridge.Orchestrator
	MySwapExecutor *swap.Executor
	MyListener     *trigger.Listener
	MyDcaJob       *dcajob.Job
	MyReporter     *reporter.HttpReporter
}

// NewDcaServer creates a new dca bridge server.
// ctx is used for parental context to cancel the operation of the server.
// wg is used to wait for all the goroutines inside the server (listener,
// cron job, reporter) to finish.
func NewDcaServer(dsc *DcaServerConfig, ctx context.Context, wg *sync.WaitGroup) (*DcaServer, error) {
	// 1) Connect both chains.
	sourceEth, err := etherman.NewEtherman(&dsc.SourceChain)
	if err != nil {
		logger.Fatalf("cannot connect source chain at %s: %v", dsc.SourceChain.URL, err)
		return nil, err
	}
	destEth, err := etherman.NewEtherman(&dsc.DestChain)
	if err != nil {
		logger.Fatalf("cannot connect destination chain at %s: %v", dsc.DestChain.URL, err)
		return nil, err
	}
	logger.WithField("address", sourceEth.Sender().Hex()).Info("source chain account")
	logger.WithField("address", destEth.Sender().Hex()).Info("destination chain account")

	// 2) Create sql db and state db.
	sqldb, err := database.Open(dsc.DbFilePath)
	if err != nil {
		logger.Fatalf("failed to open db file: %v", err)
		return nil, err
	}
	myStateDb, err := state.NewStateDB(sqldb)
	if err != nil {
		logger.Fatalf("failed to create state db: %v", err)
		return nil, err
	}

	// 3) Attestation client.
	myAttestor := attestation.NewClient(&attestation.Config{
		BaseURL:      dsc.AttestationBaseUrl,
		PollInterval: frequencyToPollAttestation,
	})

	// 4) Bridge orchestrator.
	myOrchestrator := bridge.New(
		&bridge.Config{
			Owner:          dsc.WorkerName,
			TokenMessenger: sourceEth.Addresses().TokenMessenger,
		},
		sourceEth,
		destEth,
		myAttestor,
		myStateDb,
	)

	// 5) Swap executor over the destination chain.
	mySwapExecutor := swap.NewExecutor(
		&swap.Config{TickSpacing: defaultTickSpacing},
		destEth,
		swap.NewRouterQuoter(destEth, defaultTickSpacing),
	)

	maxFee, err := parseBigInt(dsc.MaxFeeUnits)
	if err != nil {
		logger.Fatalf("bad max fee %q: %v", dsc.MaxFeeUnits, err)
		return nil, err
	}
	maxSlippage, err := parseDecimal(dsc.MaxSlippage, "0.5")
	if err != nil {
		logger.Fatalf("bad max slippage %q: %v", dsc.MaxSlippage, err)
		return nil, err
	}

	// 6) Trigger listener on the source chain.
	myListener := trigger.New(
		&trigger.Config{
			DestDomain:         destEth.Domain(),
			Recipient:          destEth.Sender(),
			MaxFee:             maxFee,
			MaxSlippagePercent: maxSlippage,
			StartBlock:         dsc.TriggerStart,
			ScanInterval:       frequencyToScanSourceChain,
			ScanBatch:          scanBatchBlocks,
		},
		sourceEth,
		myOrchestrator,
		mySwapExecutor,
		myStateDb,
	)

	// 7) The scheduled decision cycle.
	myDcaJob, err := buildDcaJob(dsc, sourceEth, destEth)
	if err != nil {
		return nil, err
	}

	// 8) Http reporter.
	myReporter := reporter.NewHttpReporter(dsc.HttpIp, dsc.HttpPort, myStateDb)

	// Important: turn the components on!
	wg.Add(1)
	go func() {
		defer wg.Done()
		myListener.Start(ctx) // source chain event listener
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := myDcaJob.Start(ctx); err != nil {
			logger.Fatalf("failed to start dca job: %v", err)
		}
		<-ctx.Done()
		myDcaJob.Stop()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		myReporter.Run() // blocks forever
	}()
	// Don't forget to call wg.Wait() in the main routine.

	return &DcaServer{
		SourceEtherman: sourceEth,
		DestEtherman:   destEth,
		MyStateDb:      myStateDb,
		MyAttestor:     myAttestor,
		MyOrchestrator: myOrchestrator,
		MySwapExecutor: mySwapExecutor,
		MyListener:     myListener,
		MyDcaJob:       myDcaJob,
		MyReporter:     myReporter,
	}, nil
}

// buildDcaJob wires price sources, analyzer and the decision config.
func buildDcaJob(dsc *DcaServerConfig, sourceEth, destEth *etherman.Etherman) (*dcajob.Job, error) {
	fetchers := []pricefeed.Fetcher{
		pricefeed.NewChainlinkFetcher(destEth),
		pricefeed.NewCoinGeckoFetcher(),
		pricefeed.NewBinanceFetcher(),
	}

	var analyzer analysis.Analyzer
	if dsc.OpenAIApiKey != "" {
		a, err := analysis.NewOpenAIAnalyzer(&analysis.OpenAIConfig{
			BaseURL: dsc.OpenAIBaseUrl,
			APIKey:  dsc.OpenAIApiKey,
			Model:   dsc.OpenAIModel,
		})
		if err != nil {
			logger.Fatalf("failed to create analyzer: %v", err)
			return nil, err
		}
		analyzer = a
	} else {
		logger.Warn("no analysis api key configured, using static pass-through analyzer")
		analyzer = analysis.AlwaysInvest()
	}

	amount, err := parseDecimal(dsc.AmountUsdc, "5")
	if err != nil {
		logger.Fatalf("bad dca amount %q: %v", dsc.AmountUsdc, err)
		return nil, err
	}
	minConfidence, err := parseDecimal(dsc.MinConfidence, "0.7")
	if err != nil {
		logger.Fatalf("bad min confidence %q: %v", dsc.MinConfidence, err)
		return nil, err
	}
	maxDeviation, err := parseDecimal(dsc.MaxDeviation, "1")
	if err != nil {
		logger.Fatalf("bad max deviation %q: %v", dsc.MaxDeviation, err)
		return nil, err
	}
	thresholds, err := parseThresholds(dsc.Thresholds)
	if err != nil {
		logger.Fatalf("bad thresholds %v: %v", dsc.Thresholds, err)
		return nil, err
	}

	return dcajob.New(
		&dcajob.Config{
			CronSpec:            dsc.CronSpec,
			AmountUsdc:          amount,
			Thresholds:          thresholds,
			MinConfidence:       minConfidence,
			MaxDeviationPercent: maxDeviation,
		},
		fetchers,
		analyzer,
		pricefeed.NewPythFetcher(dsc.HermesUrl),
		sourceEth,
	), nil
}

// StartDcaServerAndWait starts the server and blocks until SIGINT/SIGTERM.
func StartDcaServerAndWait(dsc *DcaServerConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel() // defense programing

	// Set up a signal channel to listen for Ctrl-C (SIGINT) or SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// Launch a new goroutine to handle the signal
	go func() {
		sig := <-sigCh
		fmt.Printf("Received signal: %v, cancelling context...\n", sig)
		cancel()
	}()

	var wg sync.WaitGroup

	_, err := NewDcaServer(dsc, ctx, &wg)
	if err != nil {
		logger.Fatalf("failed to create dca server: %v", err)
		return
	}

	// wait for all routines to finish (which is forever)
	wg.Wait()
}

func parseThresholds(raw []string) ([]decimal.Decimal, error) {
	if len(raw) == 0 {
		raw = []string{"85000", "82000", "79000"}
	}
	out := make([]decimal.Decimal, 0, len(raw))
	for _, s := range raw {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
