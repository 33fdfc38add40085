package patterns

import (
	"math"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/indicators"
)

// HeadShouldersConfig tunes head-and-shoulders detection.
type HeadShouldersConfig struct {
	MinPatternLength  int
	MaxPatternLength  int
	ShoulderTolerance float64 // shoulders may differ by this fraction
	HeadMinDiff       float64 // head must exceed shoulders by this fraction
	NecklineTolerance float64 // neckline may slope by this fraction
}

// DefaultHeadShouldersConfig returns the standard tuning.
func DefaultHeadShouldersConfig() HeadShouldersConfig {
	return HeadShouldersConfig{
		MinPatternLength:  30,
		MaxPatternLength:  100,
		ShoulderTolerance: 0.05,
		HeadMinDiff:       0.03,
		NecklineTolerance: 0.05,
	}
}

// DetectHeadAndShoulders tries the bearish form first, then the inverse.
func DetectHeadAndShoulders(bars []domain.Bar, cfg HeadShouldersConfig) Detection {
	det := detectHS(bars, cfg, false)
	if !det.Detected {
		det = detectHS(bars, cfg, true)
	}
	return det
}

func detectHS(bars []domain.Bar, cfg HeadShouldersConfig, inverse bool) Detection {
	patternType := TypeHeadAndShoulders
	if inverse {
		patternType = TypeInverseHS
	}
	det := Detection{Type: patternType, Bias: BiasNeutral}
	n := len(bars)
	if n < cfg.MinPatternLength {
		return det
	}

	highs := indicators.Highs(bars)
	lows := indicators.Lows(bars)

	var extremes []int
	if inverse {
		extremes = localMinima(lows, 5)
	} else {
		extremes = localMaxima(highs, 5)
	}
	if len(extremes) < 3 {
		return det
	}

	prices := highs
	if inverse {
		prices = lows
	}

	for i := 0; i+2 < len(extremes); i++ {
		lsIdx, headIdx, rsIdx := extremes[i], extremes[i+1], extremes[i+2]
		lsPrice, headPrice, rsPrice := prices[lsIdx], prices[headIdx], prices[rsIdx]

		patternLen := rsIdx - lsIdx
		if patternLen < cfg.MinPatternLength || patternLen > cfg.MaxPatternLength {
			continue
		}

		shoulderDiff := math.Abs(lsPrice-rsPrice) / math.Max(lsPrice, rsPrice)
		if shoulderDiff > cfg.ShoulderTolerance {
			continue
		}

		var headDiff float64
		if inverse {
			headDiff = (math.Min(lsPrice, rsPrice) - headPrice) / headPrice
		} else {
			headDiff = (headPrice - math.Max(lsPrice, rsPrice)) / math.Max(lsPrice, rsPrice)
		}
		if headDiff < cfg.HeadMinDiff {
			continue
		}

		var leftNeck, rightNeck float64
		if inverse {
			leftNeck, _ = maxOf(highs[lsIdx:headIdx])
			rightNeck, _ = maxOf(highs[headIdx:rsIdx])
		} else {
			leftNeck, _ = minOf(lows[lsIdx:headIdx])
			rightNeck, _ = minOf(lows[headIdx:rsIdx])
		}
		necklineSlope := (rightNeck - leftNeck) / leftNeck
		if math.Abs(necklineSlope) > cfg.NecklineTolerance {
			continue
		}

		neckline := (leftNeck + rightNeck) / 2
		height := math.Abs(headPrice - neckline)

		score := 60.0
		if shoulderDiff < 0.02 {
			score += 15
		}
		if headDiff > 0.05 {
			score += 10
		}
		if math.Abs(necklineSlope) < 0.02 {
			score += 10
		}
		if rsIdx >= n-10 {
			score += 5
		}

		det.Detected = true
		det.Score = math.Min(score, 100)
		det.StartIdx = lsIdx
		det.EndIdx = rsIdx
		det.BreakoutPrice = neckline
		if inverse {
			det.Bias = BiasBullish
			det.TargetPrice = ptr(neckline + height)
			det.StopPrice = ptr(headPrice * 0.98)
		} else {
			det.Bias = BiasBearish
			det.TargetPrice = ptr(neckline - height)
			det.StopPrice = ptr(headPrice * 1.02)
		}
		det.KeyPoints = []KeyPoint{
			{Label: "left_shoulder", Idx: lsIdx, Price: lsPrice},
			{Label: "head", Idx: headIdx, Price: headPrice},
			{Label: "right_shoulder", Idx: rsIdx, Price: rsPrice},
			{Label: "neckline", Idx: rsIdx, Price: neckline},
		}
		return det
	}
	return det
}
