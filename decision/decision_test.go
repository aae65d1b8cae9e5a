package decision

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func snapshotsOf(prices ...int64) []PriceSnapshot {
	sources := []string{"chainlink", "coingecko", "binance"}
	out := make([]PriceSnapshot, 0, len(prices))
	for i, p := range prices {
		out = append(out, PriceSnapshot{
			Source:     sources[i%len(sources)],
			Price:      decimal.NewFromInt(p),
			ObservedAt: time.Now(),
		})
	}
	return out
}

func defaultConfig() *Config {
	return &Config{
		MaxDeviationPercent: decimal.NewFromInt(1),
		Thresholds: []decimal.Decimal{
			decimal.NewFromInt(85000),
			decimal.NewFromInt(82000),
			decimal.NewFromInt(79000),
		},
		MinConfidence: decimal.NewFromFloat(0.7),
	}
}

func TestConsensusGateWinsOverEverything(t *testing.T) {
	// one source way off, yet a perfect verdict and a generous threshold
	cfg := &Config{
		MaxDeviationPercent: decimal.NewFromInt(1),
		Thresholds:          []decimal.Decimal{decimal.NewFromInt(95000)},
		MinConfidence:       decimal.NewFromFloat(0.7),
	}
	verdict := Verdict{ShouldInvest: true, Confidence: decimal.NewFromFloat(0.99)}

	outcome, err := Decide(snapshotsOf(90000, 90000, 120000), verdict, cfg)
	assert.NoError(t, err)
	assert.False(t, outcome.Invest)
	assert.Contains(t, outcome.Reason, "no consensus")
}

func TestAllGatesPass(t *testing.T) {
	verdict := Verdict{ShouldInvest: true, Confidence: decimal.NewFromFloat(0.9)}

	outcome, err := Decide(snapshotsOf(84000, 84000, 84000), verdict, defaultConfig())
	assert.NoError(t, err)
	assert.True(t, outcome.Invest)
	assert.True(t, outcome.SelectedThreshold.Equal(decimal.NewFromInt(85000)))
	assert.True(t, outcome.ConsensusPrice.Equal(decimal.NewFromInt(84000)))
}

func TestThresholdGate(t *testing.T) {
	verdict := Verdict{ShouldInvest: true, Confidence: decimal.NewFromFloat(0.9)}

	outcome, err := Decide(snapshotsOf(90000, 90000, 90000), verdict, defaultConfig())
	assert.NoError(t, err)
	assert.False(t, outcome.Invest)
	assert.Contains(t, outcome.Reason, "above all thresholds")
}

func TestConfidenceGate(t *testing.T) {
	verdict := Verdict{ShouldInvest: true, Confidence: decimal.NewFromFloat(0.5)}

	outcome, err := Decide(snapshotsOf(84000, 84000, 84000), verdict, defaultConfig())
	assert.NoError(t, err)
	assert.False(t, outcome.Invest)
	assert.Contains(t, outcome.Reason, "confidence")
}

func TestVerdictGate(t *testing.T) {
	verdict := Verdict{ShouldInvest: false, Confidence: decimal.NewFromFloat(0.9), Reasoning: "downtrend"}

	outcome, err := Decide(snapshotsOf(84000, 84000, 84000), verdict, defaultConfig())
	assert.NoError(t, err)
	assert.False(t, outcome.Invest)
	assert.Contains(t, outcome.Reason, "hold")
	assert.Contains(t, outcome.Reason, "downtrend")
}

func TestGateOrderIsDeterministic(t *testing.T) {
	// threshold AND confidence AND verdict all fail; the threshold reason
	// must win because it is checked first
	verdict := Verdict{ShouldInvest: false, Confidence: decimal.NewFromFloat(0.1)}

	outcome, err := Decide(snapshotsOf(90000, 90000, 90000), verdict, defaultConfig())
	assert.NoError(t, err)
	assert.False(t, outcome.Invest)
	assert.Contains(t, outcome.Reason, "above all thresholds")
}

func TestHighestClearedThresholdSelected(t *testing.T) {
	verdict := Verdict{ShouldInvest: true, Confidence: decimal.NewFromFloat(0.9)}

	// below all three thresholds; the highest one is the entry level
	outcome, err := Decide(snapshotsOf(78000, 78000, 78000), verdict, defaultConfig())
	assert.NoError(t, err)
	assert.True(t, outcome.Invest)
	assert.True(t, outcome.SelectedThreshold.Equal(decimal.NewFromInt(85000)))
}

func TestDecideInputValidation(t *testing.T) {
	verdict := Verdict{ShouldInvest: true, Confidence: decimal.NewFromInt(1)}

	_, err := Decide(nil, verdict, defaultConfig())
	assert.ErrorIs(t, err, ErrNoSnapshots)

	_, err = Decide(snapshotsOf(84000), verdict, &Config{
		MaxDeviationPercent: decimal.NewFromInt(1),
		MinConfidence:       decimal.NewFromFloat(0.7),
	})
	assert.ErrorIs(t, err, ErrNoThresholds)
}

func TestMaxDeviationPercent(t *testing.T) {
	snaps := snapshotsOf(90000, 90000, 120000)
	mean := MeanPrice(snaps)
	assert.True(t, mean.Equal(decimal.NewFromInt(100000)))

	dev, src := MaxDeviationPercent(snaps, mean)
	assert.True(t, dev.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, "binance", src)
}
