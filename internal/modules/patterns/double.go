package patterns

import (
	"math"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/indicators"
)

// DoubleConfig tunes double top/bottom detection.
type DoubleConfig struct {
	MinPatternLength int
	MaxPatternLength int
	PeakTolerance    float64 // peaks may differ by this fraction
	MinValleyDepth   float64 // valley must retrace at least this fraction
}

// DefaultDoubleConfig returns the standard tuning.
func DefaultDoubleConfig() DoubleConfig {
	return DoubleConfig{
		MinPatternLength: 15,
		MaxPatternLength: 60,
		PeakTolerance:    0.03,
		MinValleyDepth:   0.05,
	}
}

// DetectDoubleTopBottom tries a double top first, then a double bottom.
func DetectDoubleTopBottom(bars []domain.Bar, cfg DoubleConfig) Detection {
	det := detectDouble(bars, cfg, true)
	if !det.Detected {
		det = detectDouble(bars, cfg, false)
	}
	return det
}

func detectDouble(bars []domain.Bar, cfg DoubleConfig, isTop bool) Detection {
	patternType := TypeDoubleTop
	if !isTop {
		patternType = TypeDoubleBottom
	}
	det := Detection{Type: patternType, Bias: BiasNeutral}
	n := len(bars)
	if n < cfg.MinPatternLength {
		return det
	}

	highs := indicators.Highs(bars)
	lows := indicators.Lows(bars)

	var extremes []int
	prices := highs
	if isTop {
		extremes = localMaxima(highs, 5)
	} else {
		extremes = localMinima(lows, 5)
		prices = lows
	}
	if len(extremes) < 2 {
		return det
	}

	for i := 0; i+1 < len(extremes); i++ {
		firstIdx, secondIdx := extremes[i], extremes[i+1]
		firstPrice, secondPrice := prices[firstIdx], prices[secondIdx]

		patternLen := secondIdx - firstIdx
		if patternLen < cfg.MinPatternLength || patternLen > cfg.MaxPatternLength {
			continue
		}

		peakDiff := math.Abs(firstPrice-secondPrice) / math.Max(firstPrice, secondPrice)
		if peakDiff > cfg.PeakTolerance {
			continue
		}

		var valleyPrice, valleyDepth float64
		if isTop {
			valleyPrice, _ = minOf(lows[firstIdx:secondIdx])
			valleyDepth = (firstPrice - valleyPrice) / firstPrice
		} else {
			valleyPrice, _ = maxOf(highs[firstIdx:secondIdx])
			valleyDepth = (valleyPrice - firstPrice) / firstPrice
		}
		if valleyDepth < cfg.MinValleyDepth {
			continue
		}

		avgPeak := (firstPrice + secondPrice) / 2
		height := math.Abs(avgPeak - valleyPrice)

		score := 60.0
		if peakDiff < 0.01 {
			score += 20
		}
		if valleyDepth > 0.08 {
			score += 10
		}
		if secondIdx >= n-10 {
			score += 10
		}

		det.Detected = true
		det.Score = math.Min(score, 100)
		det.StartIdx = firstIdx
		det.EndIdx = secondIdx
		det.BreakoutPrice = valleyPrice
		if isTop {
			det.Bias = BiasBearish
			det.TargetPrice = ptr(valleyPrice - height)
			det.StopPrice = ptr(avgPeak * 1.02)
		} else {
			det.Bias = BiasBullish
			det.TargetPrice = ptr(valleyPrice + height)
			det.StopPrice = ptr(avgPeak * 0.98)
		}
		det.KeyPoints = []KeyPoint{
			{Label: "first_peak", Idx: firstIdx, Price: firstPrice},
			{Label: "second_peak", Idx: secondIdx, Price: secondPrice},
			{Label: "valley", Idx: secondIdx, Price: valleyPrice},
		}
		return det
	}
	return det
}
