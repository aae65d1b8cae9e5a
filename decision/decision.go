// Package decision holds the invest/hold gate. Decide is a pure function:
// no I/O, no clock, no retries. Everything it needs arrives as arguments so
// the cron job and tests exercise the exact same logic.
package decision

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNoSnapshots  = errors.New("no price snapshots supplied")
	ErrNoThresholds = errors.New("no price thresholds configured")
)

// PriceSnapshot is one source's view of the BTC/USD price. Ephemeral: the
// engine computes consensus from a set of these and discards them.
type PriceSnapshot struct {
	Source     string
	Price      decimal.Decimal // USD
	ObservedAt time.Time
}

// Verdict is the analysis layer's opinion, produced outside this package.
type Verdict struct {
	ShouldInvest bool
	Confidence   decimal.Decimal // [0, 1]
	Reasoning    string
}

type Config struct {
	// MaxDeviationPercent bounds how far any single source may sit from the
	// mean before the snapshot set is rejected outright.
	MaxDeviationPercent decimal.Decimal

	// Thresholds are candidate entry prices in USD, highest first. The
	// consensus price must be at or below at least one of them.
	Thresholds []decimal.Decimal

	MinConfidence decimal.Decimal
}

type Outcome struct {
	Invest bool
	Reason string

	// ConsensusPrice is the mean of all snapshots, set whenever consensus
	// held (even if a later gate said hold).
	ConsensusPrice decimal.Decimal

	// SelectedThreshold is the highest threshold the consensus price
	// cleared; zero when Invest is false.
	SelectedThreshold decimal.Decimal
}

// Decide runs the four gates in fixed order: consensus, threshold,
// confidence, verdict. The first failing gate names itself in the reason and
// wins; a favorable verdict can never override a failed consensus check.
func Decide(snapshots []PriceSnapshot, verdict Verdict, cfg *Config) (*Outcome, error) {
	if len(snapshots) == 0 {
		return nil, ErrNoSnapshots
	}
	if len(cfg.Thresholds) == 0 {
		return nil, ErrNoThresholds
	}

	mean := MeanPrice(snapshots)

	if dev, src := MaxDeviationPercent(snapshots, mean); dev.GreaterThan(cfg.MaxDeviationPercent) {
		return &Outcome{
			Invest: false,
			Reason: fmt.Sprintf("no consensus: %s deviates %s%% from mean %s (bound %s%%)",
				src, dev.StringFixed(2), mean.StringFixed(2), cfg.MaxDeviationPercent.String()),
		}, nil
	}

	threshold, ok := clearedThreshold(mean, cfg.Thresholds)
	if !ok {
		return &Outcome{
			Invest:         false,
			Reason:         fmt.Sprintf("price %s above all thresholds", mean.StringFixed(2)),
			ConsensusPrice: mean,
		}, nil
	}

	if verdict.Confidence.LessThan(cfg.MinConfidence) {
		return &Outcome{
			Invest:         false,
			Reason:         fmt.Sprintf("confidence %s below minimum %s", verdict.Confidence.String(), cfg.MinConfidence.String()),
			ConsensusPrice: mean,
		}, nil
	}

	if !verdict.ShouldInvest {
		reason := "analysis verdict: hold"
		if verdict.Reasoning != "" {
			reason = "analysis verdict: hold: " + verdict.Reasoning
		}
		return &Outcome{
			Invest:         false,
			Reason:         reason,
			ConsensusPrice: mean,
		}, nil
	}

	return &Outcome{
		Invest:            true,
		Reason:            fmt.Sprintf("price %s at or below threshold %s", mean.StringFixed(2), threshold.String()),
		ConsensusPrice:    mean,
		SelectedThreshold: threshold,
	}, nil
}

// MeanPrice is the unweighted average across the snapshot set.
func MeanPrice(snapshots []PriceSnapshot) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range snapshots {
		sum = sum.Add(s.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(snapshots))))
}

// MaxDeviationPercent returns the largest |price - mean| / mean across the
// set, in percent, and the source it belongs to.
func MaxDeviationPercent(snapshots []PriceSnapshot, mean decimal.Decimal) (decimal.Decimal, string) {
	worst := decimal.Zero
	worstSrc := snapshots[0].Source
	for _, s := range snapshots {
		dev := s.Price.Sub(mean).Abs().Div(mean).Mul(decimal.NewFromInt(100))
		if dev.GreaterThan(worst) {
			worst = dev
			worstSrc = s.Source
		}
	}
	return worst, worstSrc
}

// clearedThreshold returns the highest threshold that price is at or below.
func clearedThreshold(price decimal.Decimal, thresholds []decimal.Decimal) (decimal.Decimal, bool) {
	best := decimal.Zero
	found := false
	for _, t := range thresholds {
		if price.LessThanOrEqual(t) && (!found || t.GreaterThan(best)) {
			best = t
			found = true
		}
	}
	return best, found
}
