// Package dcajob runs the scheduled DCA cycle: fetch prices, run analysis,
// run the decision gates, and when all of them pass, push a Pyth price
// update to the controller via updatePriceAndMaybeInvest. The controller
// then emits DCARequested on-chain, which the trigger listener picks up —
// the cron path never bridges directly.
package dcajob

import (
	"context"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/aibkh/dca-bridge-go/analysis"
	"github.com/aibkh/dca-bridge-go/decision"
	"github.com/aibkh/dca-bridge-go/pricefeed"
)

// Controller is the slice of the source chain the job needs.
// *etherman.Etherman satisfies it.
type Controller interface {
	UpdatePriceAndMaybeInvest(ctx context.Context, priceUpdate [][]byte) (ethcommon.Hash, error)
	WaitMined(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error)
}

// UpdateDataFetcher supplies the signed price payload the controller
// requires. *pricefeed.PythFetcher satisfies it.
type UpdateDataFetcher interface {
	FetchUpdateData(ctx context.Context) ([][]byte, error)
}

type Config struct {
	// CronSpec in robfig/cron syntax. Empty means every 10 minutes.
	CronSpec string

	AmountUsdc    decimal.Decimal
	Thresholds    []decimal.Decimal
	MinConfidence decimal.Decimal
	// MaxDeviationPercent for the consensus gate.
	MaxDeviationPercent decimal.Decimal

	// MinSources is the smallest snapshot set worth deciding on.
	MinSources int
}

type Job struct {
	cfg        *Config
	fetchers   []pricefeed.Fetcher
	analyzer   analysis.Analyzer
	pyth       UpdateDataFetcher
	controller Controller

	cron *cron.Cron
}

func New(cfg *Config, fetchers []pricefeed.Fetcher, analyzer analysis.Analyzer, pyth UpdateDataFetcher, controller Controller) *Job {
	out := *cfg
	if out.CronSpec == "" {
		out.CronSpec = "@every 10m"
	}
	if out.MinSources == 0 {
		out.MinSources = 2
	}
	return &Job{
		cfg:        &out,
		fetchers:   fetchers,
		analyzer:   analyzer,
		pyth:       pyth,
		controller: controller,
	}
}

// Start schedules the job and returns; the cron runs until Stop. Overlapping
// runs are skipped rather than queued.
func (j *Job) Start(ctx context.Context) error {
	j.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := j.cron.AddFunc(j.cfg.CronSpec, func() {
		if err := j.RunOnce(ctx); err != nil {
			logger.Errorf("dca cycle failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	logger.Infof("dca job scheduled: %s", j.cfg.CronSpec)
	return nil
}

func (j *Job) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// RunOnce executes one full decision cycle.
func (j *Job) RunOnce(ctx context.Context) error {
	snapshots := pricefeed.FetchAll(ctx, j.fetchers)
	if len(snapshots) < j.cfg.MinSources {
		logger.Warnf("only %d/%d price sources responded, skipping cycle", len(snapshots), j.cfg.MinSources)
		return nil
	}

	mean := decision.MeanPrice(snapshots)
	maxDev, _ := decision.MaxDeviationPercent(snapshots, mean)

	verdict, err := j.analyzer.Analyze(ctx, &analysis.Snapshot{
		Snapshots:      snapshots,
		ConsensusPrice: mean,
		MaxDeviation:   maxDev,
		Thresholds:     j.cfg.Thresholds,
		AmountUsdc:     j.cfg.AmountUsdc,
		MinConfidence:  j.cfg.MinConfidence,
	})
	if err != nil {
		return err
	}

	outcome, err := decision.Decide(snapshots, *verdict, &decision.Config{
		MaxDeviationPercent: j.cfg.MaxDeviationPercent,
		Thresholds:          j.cfg.Thresholds,
		MinConfidence:       j.cfg.MinConfidence,
	})
	if err != nil {
		return err
	}
	log := logger.WithFields(logger.Fields{
		"invest": outcome.Invest,
		"reason": outcome.Reason,
	})
	if !outcome.Invest {
		log.Info("dca cycle: holding")
		return nil
	}
	log.Infof("dca cycle: investing at consensus price %s", outcome.ConsensusPrice.StringFixed(2))

	updateData, err := j.pyth.FetchUpdateData(ctx)
	if err != nil {
		return err
	}
	txHash, err := j.controller.UpdatePriceAndMaybeInvest(ctx, updateData)
	if err != nil {
		return err
	}
	receipt, err := j.controller.WaitMined(ctx, txHash)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		logger.Errorf("updatePriceAndMaybeInvest reverted: tx=%s", txHash)
		return nil
	}
	log.Infof("controller updated: tx=%s", txHash)
	return nil
}
