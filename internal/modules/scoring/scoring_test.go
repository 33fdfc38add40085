package scoring

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/patterns"
	"github.com/aristath/spyglass/internal/modules/vcp"
)

func barsFromCloses(closes []float64, volume float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Market: domain.MarketUS, Code: "TEST",
			Date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open: c, High: c, Low: c, Close: c,
			Volume: volume,
		}
	}
	return bars
}

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestTrendScoreDirection(t *testing.T) {
	up := trendScore(linear(60, 100, 1))
	down := trendScore(linear(60, 160, -1))

	assert.InDelta(t, 100.0, up, 1e-9)
	assert.InDelta(t, 0.0, down, 1e-9)
}

func TestMomentumScoreBands(t *testing.T) {
	// Relentless uptrend pegs RSI above 70 (-10) but holds MACD
	// positive (+10) with no fresh cross.
	up := momentumScore(linear(60, 100, 1))
	assert.InDelta(t, 50.0, up, 1e-9)

	// Relentless downtrend: RSI oversold (+5), MACD negative (-10).
	down := momentumScore(linear(60, 160, -1))
	assert.InDelta(t, 45.0, down, 1e-9)
}

func TestVolatilityScoreSqueeze(t *testing.T) {
	// A flat series has zero bandwidth (squeeze) and %B pinned to 0.5.
	flat := make([]float64, 60)
	for i := range flat {
		flat[i] = 100
	}
	assert.InDelta(t, 85.0, volatilityScore(flat), 1e-9)
}

func TestVolumeScoreDirection(t *testing.T) {
	vols := make([]float64, 60)
	for i := range vols {
		vols[i] = 1000
	}

	up := volumeScore(linear(60, 100, 1), vols)
	down := volumeScore(linear(60, 160, -1), vols)

	assert.GreaterOrEqual(t, up, 70.0)
	assert.LessOrEqual(t, down, 30.0)
	assert.Greater(t, up, down)
}

func TestPatternScore(t *testing.T) {
	s := NewScorer(DefaultConfig(), zerolog.Nop())

	// A valid VCP passes its score through, with a breakout bonus.
	got := s.patternScore(vcp.Result{IsVCP: true, Score: 80, Stage: vcp.StageBreakout}, patterns.ScanResult{})
	assert.InDelta(t, 90.0, got, 1e-9)

	got = s.patternScore(vcp.Result{IsVCP: true, Score: 95, Stage: vcp.StageBreakout}, patterns.ScanResult{})
	assert.InDelta(t, 100.0, got, 1e-9)

	// Without a VCP the best bullish pattern contributes, capped.
	scan := patterns.ScanResult{Patterns: []patterns.Detection{
		{Type: patterns.TypeDoubleBottom, Bias: patterns.BiasBullish, Score: 90},
		{Type: patterns.TypeDoubleTop, Bias: patterns.BiasBearish, Score: 99},
	}}
	got = s.patternScore(vcp.Result{}, scan)
	assert.InDelta(t, 27.0, got, 1e-9)

	scan.Patterns[0].Score = 100
	got = s.patternScore(vcp.Result{}, scan)
	assert.InDelta(t, 30.0, got, 1e-9)

	assert.Zero(t, s.patternScore(vcp.Result{}, patterns.ScanResult{}))
}

func TestRatingBands(t *testing.T) {
	tests := []struct {
		score float64
		want  Rating
	}{
		{100, RatingStrongBuy},
		{75, RatingStrongBuy},
		{74.9, RatingBuy},
		{60, RatingBuy},
		{59.9, RatingHold},
		{45, RatingHold},
		{44.9, RatingSell},
		{25, RatingSell},
		{24.9, RatingStrongSell},
		{0, RatingStrongSell},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RatingFor(tt.score), "score %.1f", tt.score)
	}
}

func TestScoreUptrend(t *testing.T) {
	bars := barsFromCloses(linear(140, 100, 0.5), 1000)
	s := NewScorer(DefaultConfig(), zerolog.Nop())

	res, err := s.Score(domain.Symbol{Market: domain.MarketUS, Code: "TEST"}, bars)
	require.NoError(t, err)

	assert.Equal(t, "US.TEST", res.Symbol)
	assert.InDelta(t, 100.0, res.Subscores.Trend, 1e-9)
	assert.Equal(t, RatingFor(res.Composite), res.Rating)
	assert.NotEmpty(t, res.Action)

	for _, sub := range []float64{
		res.Subscores.Trend, res.Subscores.Momentum, res.Subscores.Volatility,
		res.Subscores.Volume, res.Subscores.Pattern,
	} {
		assert.GreaterOrEqual(t, sub, 0.0)
		assert.LessOrEqual(t, sub, 100.0)
	}
	assert.GreaterOrEqual(t, res.Composite, 0.0)
	assert.LessOrEqual(t, res.Composite, 100.0)
}

func TestScoreWeightsShiftComposite(t *testing.T) {
	bars := barsFromCloses(linear(140, 100, 0.5), 1000)

	cfg := DefaultConfig()
	cfg.Weights = Weights{Trend: 100}
	trendOnly := NewScorer(cfg, zerolog.Nop())

	res, err := trendOnly.Score(domain.Symbol{Market: domain.MarketUS, Code: "TEST"}, bars)
	require.NoError(t, err)
	assert.InDelta(t, res.Subscores.Trend, res.Composite, 1e-9)
	assert.Equal(t, RatingStrongBuy, res.Rating)
}

func TestScoreTooFewBars(t *testing.T) {
	bars := barsFromCloses(linear(10, 100, 1), 1000)
	s := NewScorer(DefaultConfig(), zerolog.Nop())

	_, err := s.Score(domain.Symbol{Market: domain.MarketUS, Code: "TEST"}, bars)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
}

func TestScoreRejectsUnsortedBars(t *testing.T) {
	bars := barsFromCloses(linear(40, 100, 1), 1000)
	bars[0], bars[1] = bars[1], bars[0]

	s := NewScorer(DefaultConfig(), zerolog.Nop())
	_, err := s.Score(domain.Symbol{Market: domain.MarketUS, Code: "TEST"}, bars)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
}

func TestKeyLevelsIncludeStop(t *testing.T) {
	levels := keyLevels(vcp.Result{PivotPrice: 50}, patterns.ScanResult{})
	require.Len(t, levels, 2)
	assert.Equal(t, "pivot/breakout: 50.00", levels[0])
	assert.Equal(t, "stop loss (8%): 46.00", levels[1])
}

func TestActionByRatingAndStage(t *testing.T) {
	got := action(RatingStrongBuy, vcp.Result{IsVCP: true, Stage: vcp.StageBreakout})
	assert.Equal(t, "consider buying, breakout in progress", got)

	got = action(RatingStrongBuy, vcp.Result{IsVCP: true, Stage: vcp.StageMature})
	assert.Equal(t, "add to watchlist, setup ready for breakout", got)

	got = action(RatingBuy, vcp.Result{})
	assert.Equal(t, "positive technicals, look for pullback entry", got)

	got = action(RatingStrongSell, vcp.Result{})
	assert.Equal(t, "consider exiting, weak technicals", got)
}
