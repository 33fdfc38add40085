package patterns

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/indicators"
)

// TriangleConfig tunes triangle detection.
type TriangleConfig struct {
	MinPatternLength     int
	MaxPatternLength     int
	MinTouches           int
	ConvergenceThreshold float64 // lines must converge by this fraction
	SlopeTolerance       float64 // per-bar slope below which a line is flat
}

// DefaultTriangleConfig returns the standard tuning.
func DefaultTriangleConfig() TriangleConfig {
	return TriangleConfig{
		MinPatternLength:     15,
		MaxPatternLength:     60,
		MinTouches:           4,
		ConvergenceThreshold: 0.7,
		SlopeTolerance:       0.001,
	}
}

// DetectTriangle fits trend lines through swing highs and lows and
// classifies the converging shape.
func DetectTriangle(bars []domain.Bar, cfg TriangleConfig) Detection {
	det := Detection{Type: TypeSymmetricTriangle, Bias: BiasNeutral}
	n := len(bars)
	if n < cfg.MinPatternLength {
		return det
	}

	highs := indicators.Highs(bars)
	lows := indicators.Lows(bars)

	swingHighs := localMaxima(highs, 3)
	swingLows := localMinima(lows, 3)
	if len(swingHighs) < 2 || len(swingLows) < 2 {
		return det
	}

	highSlope, highIntercept := fitLine(swingHighs, highs)
	lowSlope, lowIntercept := fitLine(swingLows, lows)

	var triangleType Type
	var bias Bias
	switch {
	case math.Abs(highSlope) < cfg.SlopeTolerance && lowSlope > cfg.SlopeTolerance:
		triangleType, bias = TypeAscendingTriangle, BiasBullish
	case highSlope < -cfg.SlopeTolerance && math.Abs(lowSlope) < cfg.SlopeTolerance:
		triangleType, bias = TypeDescendingTriangle, BiasBearish
	case highSlope < 0 && lowSlope > 0:
		triangleType, bias = TypeSymmetricTriangle, BiasNeutral
	default:
		return det
	}

	startWidth := highIntercept - lowIntercept
	if startWidth <= 0 {
		return det
	}
	endHigh := highSlope*float64(n-1) + highIntercept
	endLow := lowSlope*float64(n-1) + lowIntercept
	convergence := 1 - (endHigh-endLow)/startWidth
	if convergence < cfg.ConvergenceThreshold {
		return det
	}

	score := 50.0
	score += math.Min(float64(len(swingHighs)+len(swingLows)), 8) * 5
	if convergence > 0.8 {
		score += 10
	}
	lastTouch := swingHighs[len(swingHighs)-1]
	if swingLows[len(swingLows)-1] > lastTouch {
		lastTouch = swingLows[len(swingLows)-1]
	}
	if lastTouch >= n-10 {
		score += 10
	}

	det.Type = triangleType
	det.Detected = true
	det.Score = math.Min(score, 100)
	det.Bias = bias
	det.StartIdx = min(swingHighs[0], swingLows[0])
	det.EndIdx = n - 1

	switch triangleType {
	case TypeAscendingTriangle:
		det.BreakoutPrice = endHigh
		det.TargetPrice = ptr(endHigh + startWidth)
		det.StopPrice = ptr(endLow * 0.98)
	case TypeDescendingTriangle:
		det.BreakoutPrice = endLow
		det.TargetPrice = ptr(endLow - startWidth)
		det.StopPrice = ptr(endHigh * 1.02)
	default:
		det.BreakoutPrice = (endHigh + endLow) / 2
	}
	det.KeyPoints = []KeyPoint{
		{Label: "upper_slope", Idx: n - 1, Price: highSlope},
		{Label: "lower_slope", Idx: n - 1, Price: lowSlope},
	}
	return det
}

// fitLine runs a least-squares fit of value against bar index over the
// given swing indices.
func fitLine(indices []int, values []float64) (slope, intercept float64) {
	xs := make([]float64, len(indices))
	ys := make([]float64, len(indices))
	for i, idx := range indices {
		xs[i] = float64(idx)
		ys[i] = values[idx]
	}
	intercept, slope = stat.LinearRegression(xs, ys, nil, false)
	return slope, intercept
}
