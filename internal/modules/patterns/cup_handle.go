package patterns

import (
	"math"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/indicators"
)

// CupHandleConfig tunes cup-and-handle detection.
type CupHandleConfig struct {
	MinCupDepth      float64 // minimum cup depth as a fraction of the rim
	MaxCupDepth      float64
	MinCupLength     int
	MaxCupLength     int
	HandleDepthRatio float64 // handle depth must stay below this fraction of cup depth
	MinHandleLength  int
	MaxHandleLength  int
}

// DefaultCupHandleConfig returns the standard tuning.
func DefaultCupHandleConfig() CupHandleConfig {
	return CupHandleConfig{
		MinCupDepth:      0.12,
		MaxCupDepth:      0.35,
		MinCupLength:     20,
		MaxCupLength:     60,
		HandleDepthRatio: 0.5,
		MinHandleLength:  5,
		MaxHandleLength:  20,
	}
}

// DetectCupAndHandle scans for a U-shaped base with a shallow handle.
// The first (most recent left rim) match wins.
func DetectCupAndHandle(bars []domain.Bar, cfg CupHandleConfig) Detection {
	det := Detection{Type: TypeCupAndHandle, Bias: BiasNeutral}
	n := len(bars)
	if n < cfg.MinCupLength+cfg.MinHandleLength {
		return det
	}

	highs := indicators.Highs(bars)
	lows := indicators.Lows(bars)

	// The left rim must be a swing high, otherwise any bar on a slope can
	// seed a shallow inner cup below the real base.
	rims := make(map[int]bool)
	for _, idx := range localMaxima(highs, 2) {
		rims[idx] = true
	}

	for leftRimIdx := n - cfg.MinCupLength - 5; leftRimIdx > 0; leftRimIdx-- {
		if !rims[leftRimIdx] {
			continue
		}
		leftRim := highs[leftRimIdx]

		maxCup := cfg.MaxCupLength
		if limit := n - leftRimIdx - 5; limit < maxCup {
			maxCup = limit
		}
		for cupLength := cfg.MinCupLength; cupLength < maxCup; cupLength++ {
			cupEndIdx := leftRimIdx + cupLength

			cupBottom, offset := minOf(lows[leftRimIdx : cupEndIdx+1])
			cupBottomIdx := leftRimIdx + offset
			cupDepth := (leftRim - cupBottom) / leftRim
			if cupDepth < cfg.MinCupDepth || cupDepth > cfg.MaxCupDepth {
				continue
			}

			// U shape: bottom within the middle third.
			third := cupLength / 3
			if cupBottomIdx-leftRimIdx < third || cupBottomIdx-leftRimIdx > cupLength-third {
				continue
			}

			rightRim := highs[cupEndIdx]
			rimDiff := math.Abs(rightRim-leftRim) / leftRim
			if rimDiff > 0.05 {
				continue
			}

			maxHandle := cfg.MaxHandleLength
			if limit := n - cupEndIdx; limit < maxHandle {
				maxHandle = limit
			}
			for handleLength := cfg.MinHandleLength; handleLength < maxHandle; handleLength++ {
				handleEndIdx := cupEndIdx + handleLength
				if handleEndIdx >= n {
					break
				}
				handleLow, _ := minOf(lows[cupEndIdx : handleEndIdx+1])
				handleDepth := (rightRim - handleLow) / rightRim
				if handleDepth > cupDepth*cfg.HandleDepthRatio {
					continue
				}

				score := 60.0
				if rimDiff < 0.02 {
					score += 10
				}
				if cupDepth >= 0.15 && cupDepth <= 0.30 {
					score += 10
				}
				if handleDepth < cupDepth*0.3 {
					score += 10
				}
				if handleEndIdx >= n-5 {
					score += 10
				}

				breakout := math.Max(leftRim, rightRim)
				det.Detected = true
				det.Score = math.Min(score, 100)
				det.Bias = BiasBullish
				det.StartIdx = leftRimIdx
				det.EndIdx = handleEndIdx
				det.BreakoutPrice = breakout
				det.TargetPrice = ptr(breakout + (breakout - cupBottom))
				det.StopPrice = ptr(handleLow * 0.98)
				det.KeyPoints = []KeyPoint{
					{Label: "left_rim", Idx: leftRimIdx, Price: leftRim},
					{Label: "cup_bottom", Idx: cupBottomIdx, Price: cupBottom},
					{Label: "right_rim", Idx: cupEndIdx, Price: rightRim},
					{Label: "handle_low", Idx: handleEndIdx, Price: handleLow},
				}
				return det
			}
		}
	}
	return det
}
