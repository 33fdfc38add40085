// Package scoring folds indicator, VCP, and pattern outputs into a
// single symbol-level recommendation.
package scoring

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/indicators"
	"github.com/aristath/spyglass/internal/modules/patterns"
	"github.com/aristath/spyglass/internal/modules/vcp"
)

// Rating is the composite recommendation band.
type Rating string

const (
	RatingStrongBuy  Rating = "strong_buy"
	RatingBuy        Rating = "buy"
	RatingHold       Rating = "hold"
	RatingSell       Rating = "sell"
	RatingStrongSell Rating = "strong_sell"
)

// Weights splits the composite between subscores. Values are percent
// shares and should sum to 100.
type Weights struct {
	Trend      float64
	Momentum   float64
	Volatility float64
	Volume     float64
	Pattern    float64
}

// DefaultWeights returns the standard split.
func DefaultWeights() Weights {
	return Weights{Trend: 30, Momentum: 20, Volatility: 10, Volume: 15, Pattern: 25}
}

// Config tunes the scorer.
type Config struct {
	Weights  Weights
	Lookback int // bars fed into the subscores
	// PatternCap bounds the pattern subscore when no valid VCP is
	// present, so lesser geometry cannot dominate the composite.
	PatternCap float64
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{Weights: DefaultWeights(), Lookback: 120, PatternCap: 30}
}

// Subscores are the per-concern components, each in [0, 100].
type Subscores struct {
	Trend      float64 `json:"trend"`
	Momentum   float64 `json:"momentum"`
	Volatility float64 `json:"volatility"`
	Volume     float64 `json:"volume"`
	Pattern    float64 `json:"pattern"`
}

// Result is the full scoring output for one symbol.
type Result struct {
	Symbol      string     `json:"symbol"`
	Composite   float64    `json:"composite"`
	Rating      Rating     `json:"rating"`
	Subscores   Subscores  `json:"subscores"`
	VCP         vcp.Result `json:"vcp"`
	Action      string     `json:"action"`
	KeyLevels   []string   `json:"key_levels,omitempty"`
	WatchPoints []string   `json:"watch_points,omitempty"`
}

// Scorer is stateless and safe for concurrent use.
type Scorer struct {
	cfg     Config
	scanner *patterns.Scanner
	log     zerolog.Logger
}

// NewScorer builds a scorer with the given tuning.
func NewScorer(cfg Config, log zerolog.Logger) *Scorer {
	return &Scorer{
		cfg:     cfg,
		scanner: patterns.NewScanner(log),
		log:     log.With().Str("module", "scoring").Logger(),
	}
}

// Score computes the composite for one symbol's recent bars.
func (s *Scorer) Score(symbol domain.Symbol, bars []domain.Bar) (Result, error) {
	if err := indicators.ValidateBars(bars); err != nil {
		return Result{}, err
	}
	if len(bars) < 30 {
		return Result{}, domain.Errorf(domain.KindInvalidInput, "scoring: need at least 30 bars, got %d", len(bars)).
			WithSymbol(symbol.String())
	}
	if n := len(bars); n > s.cfg.Lookback {
		bars = bars[n-s.cfg.Lookback:]
	}

	closes := indicators.Closes(bars)
	volumes := indicators.Volumes(bars)

	vcpRes, err := vcp.Detect(bars, vcp.DefaultConfig())
	if err != nil {
		return Result{}, err
	}
	scan, err := s.scanner.Scan(bars)
	if err != nil {
		return Result{}, err
	}

	sub := Subscores{
		Trend:      trendScore(closes),
		Momentum:   momentumScore(closes),
		Volatility: volatilityScore(closes),
		Volume:     volumeScore(closes, volumes),
		Pattern:    s.patternScore(vcpRes, scan),
	}

	w := s.cfg.Weights
	total := w.Trend + w.Momentum + w.Volatility + w.Volume + w.Pattern
	composite := (sub.Trend*w.Trend + sub.Momentum*w.Momentum + sub.Volatility*w.Volatility +
		sub.Volume*w.Volume + sub.Pattern*w.Pattern) / total

	res := Result{
		Symbol:    symbol.String(),
		Composite: composite,
		Rating:    RatingFor(composite),
		Subscores: sub,
		VCP:       vcpRes,
	}
	res.Action = action(res.Rating, vcpRes)
	res.KeyLevels = keyLevels(vcpRes, scan)
	res.WatchPoints = watchPoints(vcpRes, scan)

	s.log.Debug().
		Str("symbol", res.Symbol).
		Float64("composite", composite).
		Str("rating", string(res.Rating)).
		Msg("symbol scored")
	return res, nil
}

// RatingFor maps a composite score to its band.
func RatingFor(score float64) Rating {
	switch {
	case score >= 75:
		return RatingStrongBuy
	case score >= 60:
		return RatingBuy
	case score >= 45:
		return RatingHold
	case score >= 25:
		return RatingSell
	default:
		return RatingStrongSell
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// trendScore reads MA alignment, price versus MA20, and the MA20 slope.
func trendScore(closes []float64) float64 {
	n := len(closes)
	ma5 := indicators.SMA(closes, 5)
	ma10 := indicators.SMA(closes, 10)
	ma20 := indicators.SMA(closes, 20)

	score := 50.0
	i := n - 1
	if ma5.Defined(i) && ma10.Defined(i) && ma20.Defined(i) {
		switch {
		case ma5[i] > ma10[i] && ma10[i] > ma20[i]:
			score += 20
		case ma5[i] < ma10[i] && ma10[i] < ma20[i]:
			score -= 20
		}
		if closes[i] > ma20[i] {
			score += 15
		} else {
			score -= 15
		}
	}
	if ma20.Defined(i) && ma20.Defined(i-5) && ma20[i-5] != 0 {
		slope := (ma20[i] - ma20[i-5]) / ma20[i-5]
		switch {
		case slope > 0.01:
			score += 15
		case slope > 0:
			score += 5
		case slope < -0.01:
			score -= 15
		case slope < 0:
			score -= 5
		}
	}
	return clamp(score)
}

// momentumScore reads the RSI band and MACD state.
func momentumScore(closes []float64) float64 {
	score := 50.0
	n := len(closes)

	rsi := indicators.RSI(closes, 14)
	if rsi.Defined(n - 1) {
		switch v := rsi[n-1]; {
		case v >= 50 && v <= 70:
			score += 15
		case v > 70:
			score -= 10
		case v < 30:
			score += 5 // oversold, rebound potential
		default:
			score -= 10
		}
	}

	macd := indicators.MACD(closes, indicators.DefaultMACDConfig())
	cross := macd.Crossover()
	for i := n - 3; i < n; i++ {
		if i < 0 || !cross.Defined(i) {
			continue
		}
		if cross[i] > 0 {
			score += 15
			break
		}
		if cross[i] < 0 {
			score -= 15
			break
		}
	}
	if macd.MACD.Defined(n - 1) {
		if macd.MACD[n-1] > 0 {
			score += 10
		} else {
			score -= 10
		}
	}
	return clamp(score)
}

// volatilityScore reads the Bollinger position and bandwidth.
func volatilityScore(closes []float64) float64 {
	score := 50.0
	n := len(closes)

	bb := indicators.Bollinger(closes, indicators.DefaultBollingerConfig())
	if bb.PercentB.Defined(n - 1) {
		switch b := bb.PercentB[n-1]; {
		case b >= 0.5 && b <= 0.8:
			score += 20
		case b > 1:
			score -= 15
		case b < 0:
			score += 5 // stretched below the band
		}
	}
	if bb.Bandwidth.Defined(n - 1) {
		switch bw := math.Abs(bb.Bandwidth[n-1]); {
		case bw < 0.05:
			score += 15 // squeeze, energy building
		case bw > 0.25:
			score -= 10
		}
	}
	return clamp(score)
}

// volumeScore reads the OBV trend, its signal line, and divergences.
func volumeScore(closes, volumes []float64) float64 {
	score := 50.0
	n := len(closes)

	obv := indicators.OBV(closes, volumes)
	signal := indicators.OBVSignal(obv, 20)
	if obv.Defined(n-1) && signal.Defined(n-1) {
		if obv[n-1] > signal[n-1] {
			score += 10
		} else {
			score -= 10
		}
	}

	// OBV direction over the last month of bars.
	lookback := 20
	if n > lookback && obv.Defined(n-1) && obv.Defined(n-1-lookback) {
		switch delta := obv[n-1] - obv[n-1-lookback]; {
		case delta > 0:
			score += 20
		case delta < 0:
			score -= 20
		}
	}

	div := indicators.Divergence(closes, obv, indicators.DefaultDivergenceConfig())
	if div.Defined(n - 1) {
		if div[n-1] > 0 {
			score += 15
		} else if div[n-1] < 0 {
			score -= 15
		}
	}
	return clamp(score)
}

// patternScore leans on the VCP result; without a valid VCP the best
// bullish geometry contributes a capped amount.
func (s *Scorer) patternScore(vcpRes vcp.Result, scan patterns.ScanResult) float64 {
	if vcpRes.IsVCP {
		score := vcpRes.Score
		if vcpRes.Stage == vcp.StageBreakout {
			score += 10
		}
		return clamp(score)
	}

	best := 0.0
	for _, det := range scan.Patterns {
		if det.Bias == patterns.BiasBullish && det.Score > best {
			best = det.Score
		}
	}
	return math.Min(s.cfg.PatternCap, best*0.3)
}

func action(rating Rating, vcpRes vcp.Result) string {
	switch rating {
	case RatingStrongBuy:
		switch vcpRes.Stage {
		case vcp.StageBreakout:
			return "consider buying, breakout in progress"
		case vcp.StageMature:
			return "add to watchlist, setup ready for breakout"
		default:
			return "strong technical setup, monitor for entry"
		}
	case RatingBuy:
		if vcpRes.IsVCP {
			return "watch for breakout entry"
		}
		return "positive technicals, look for pullback entry"
	case RatingHold:
		return "hold, wait for a clearer signal"
	case RatingSell:
		return "consider reducing position"
	default:
		return "consider exiting, weak technicals"
	}
}

func keyLevels(vcpRes vcp.Result, scan patterns.ScanResult) []string {
	var levels []string
	if vcpRes.PivotPrice > 0 {
		levels = append(levels, fmt.Sprintf("pivot/breakout: %.2f", vcpRes.PivotPrice))
		levels = append(levels, fmt.Sprintf("stop loss (8%%): %.2f", vcpRes.PivotPrice*0.92))
	}
	if sup := scan.Levels.NearestSupport; sup != nil {
		levels = append(levels, fmt.Sprintf("support: %.2f (%d touches)", sup.Price, sup.Touches))
	}
	if resLevel := scan.Levels.NearestResistance; resLevel != nil {
		levels = append(levels, fmt.Sprintf("resistance: %.2f (%d touches)", resLevel.Price, resLevel.Touches))
	}
	return levels
}

func watchPoints(vcpRes vcp.Result, scan patterns.ScanResult) []string {
	var points []string
	if vcpRes.IsVCP && vcpRes.PivotPrice > 0 {
		points = append(points, fmt.Sprintf("watch for break above %.2f", vcpRes.PivotPrice))
	}
	if vcpRes.VolumeTrend < -0.4 {
		points = append(points, "volume drying up, watch for a spike on breakout")
	}
	for _, det := range scan.Patterns {
		if det.Bias == patterns.BiasBearish && det.Score >= 70 {
			points = append(points, fmt.Sprintf("bearish %s pattern overhead (score %.0f)", det.Type, det.Score))
		}
	}
	return points
}
