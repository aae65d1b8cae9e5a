// Package analysis produces the market verdict fed into the decision gate.
// The verdict is advisory: the decision engine may veto it but never the
// other way around.
package analysis

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/aibkh/dca-bridge-go/decision"
)

// Snapshot is the market context handed to an analyzer.
type Snapshot struct {
	Snapshots      []decision.PriceSnapshot
	ConsensusPrice decimal.Decimal
	MaxDeviation   decimal.Decimal // percent
	Thresholds     []decimal.Decimal
	AmountUsdc     decimal.Decimal
	MinConfidence  decimal.Decimal
}

// Analyzer turns a market snapshot into an invest/hold opinion with a
// confidence score in [0, 1].
type Analyzer interface {
	Analyze(ctx context.Context, snap *Snapshot) (*decision.Verdict, error)
}

// StaticAnalyzer always returns the same verdict. Used when no analysis
// backend is configured, and by tests.
type StaticAnalyzer struct {
	Verdict decision.Verdict
}

func (a *StaticAnalyzer) Analyze(_ context.Context, _ *Snapshot) (*decision.Verdict, error) {
	v := a.Verdict
	return &v, nil
}

// AlwaysInvest is the pass-through analyzer: full confidence, invest. The
// decision engine's consensus and threshold gates still apply.
func AlwaysInvest() Analyzer {
	return &StaticAnalyzer{Verdict: decision.Verdict{
		ShouldInvest: true,
		Confidence:   decimal.NewFromInt(1),
		Reasoning:    "static pass-through",
	}}
}
