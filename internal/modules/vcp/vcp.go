// Package vcp detects volatility contraction patterns: a sequence of
// price pullbacks that narrow over time while volume dries up, ending
// near a pivot (breakout) price.
package vcp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/indicators"
)

// Config tunes the detector.
type Config struct {
	MinContractions    int     // minimum contractions for a valid pattern
	MaxContractions    int     // keep at most this many, right-anchored
	MinDepthPct        float64 // pullbacks shallower than this are noise
	MaxFirstDepthPct   float64 // first contraction must not be deeper
	DepthDecreaseRatio float64 // ideal ratio between successive depths
	FinalDepthMaxPct   float64 // ideal depth of the final contraction
	SwingWindow        int     // local-extremum confirmation window
	MinSwingDistance   int     // minimum bars between swings
	VolumeTrendMax     float64 // max correlation of volume vs time
	PivotDistancePct   float64 // close must be within this of the pivot
	Lookback           int     // bars to scan for the base high
	MinBars            int     // below this the series is just insufficient
}

// DefaultConfig returns the standard detector tuning.
func DefaultConfig() Config {
	return Config{
		MinContractions:    2,
		MaxContractions:    5,
		MinDepthPct:        3.0,
		MaxFirstDepthPct:   35.0,
		DepthDecreaseRatio: 0.7,
		FinalDepthMaxPct:   10.0,
		SwingWindow:        5,
		MinSwingDistance:   3,
		VolumeTrendMax:     0.3,
		PivotDistancePct:   5.0,
		Lookback:           120,
		MinBars:            50,
	}
}

// Stage describes how far along the pattern is.
type Stage string

const (
	StageNone     Stage = "none"
	StageForming  Stage = "forming"
	StageMature   Stage = "mature"
	StageBreakout Stage = "breakout"
)

// Contraction is one (high, low) pullback within the sequence.
type Contraction struct {
	HighIdx   int     `json:"high_idx"`
	LowIdx    int     `json:"low_idx"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	DepthPct  float64 `json:"depth_pct"`
	AvgVolume float64 `json:"avg_volume"`
}

// Result is the detector output.
type Result struct {
	IsVCP            bool          `json:"is_vcp"`
	Score            float64       `json:"score"`
	Contractions     []Contraction `json:"contractions"`
	DepthSequence    []float64     `json:"depth_sequence"`
	PivotPrice       float64       `json:"pivot_price"`
	PivotDistancePct float64       `json:"pivot_distance_pct"`
	VolumeTrend      float64       `json:"volume_trend"`
	Stage            Stage         `json:"stage"`
	Signals          []string      `json:"signals"`
}

// Detect runs the detector over an ascending bar series.
func Detect(bars []domain.Bar, cfg Config) (Result, error) {
	if err := indicators.ValidateBars(bars); err != nil {
		return Result{}, err
	}
	if len(bars) < cfg.MinBars {
		return Result{Stage: StageNone, Signals: []string{"insufficient history"}}, nil
	}

	highs := indicators.Highs(bars)
	lows := indicators.Lows(bars)
	volumes := indicators.Volumes(bars)
	closes := indicators.Closes(bars)

	swingHighs := swingPoints(highs, cfg.SwingWindow, cfg.MinSwingDistance, true)
	swingLows := swingPoints(lows, cfg.SwingWindow, cfg.MinSwingDistance, false)

	contractions := buildContractions(highs, lows, volumes, swingHighs, swingLows, cfg)
	if len(contractions) == 0 {
		return Result{Stage: StageNone, Signals: []string{"no contractions"}}, nil
	}

	res := Result{Contractions: contractions}
	for _, c := range contractions {
		res.DepthSequence = append(res.DepthSequence, c.DepthPct)
	}

	res.PivotPrice = contractions[len(contractions)-1].High
	lastClose := closes[len(closes)-1]
	res.PivotDistancePct = (lastClose - res.PivotPrice) / res.PivotPrice * 100
	res.VolumeTrend = volumeTrend(contractions)

	valid := len(contractions) >= cfg.MinContractions &&
		res.DepthSequence[0] <= cfg.MaxFirstDepthPct &&
		res.VolumeTrend <= cfg.VolumeTrendMax &&
		math.Abs(res.PivotDistancePct) <= cfg.PivotDistancePct

	res.IsVCP = valid
	res.Score = score(res, cfg)
	res.Stage = stage(res, lastClose, cfg)
	res.Signals = signals(res, cfg)
	return res, nil
}

// stage classifies the pattern: breakout beats mature; an invalid or
// too-short sequence is merely forming.
func stage(res Result, lastClose float64, cfg Config) Stage {
	if len(res.Contractions) == 0 {
		return StageNone
	}
	if !res.IsVCP || len(res.Contractions) < cfg.MinContractions {
		return StageForming
	}
	if lastClose >= res.PivotPrice {
		return StageBreakout
	}
	return StageMature
}

func signals(res Result, cfg Config) []string {
	var out []string
	out = append(out, fmt.Sprintf("%d contractions", len(res.Contractions)))
	if res.VolumeTrend <= -0.2 {
		out = append(out, "volume dry-up")
	}
	if math.Abs(res.PivotDistancePct) <= 2 {
		out = append(out, "near pivot")
	}
	if res.Stage == StageBreakout {
		out = append(out, "pivot breakout")
	}
	if n := len(res.DepthSequence); n > 0 && res.DepthSequence[n-1] <= cfg.FinalDepthMaxPct {
		out = append(out, "tight final contraction")
	}
	return out
}

// score weighs contraction count 30%, depth-sequence quality 30%, volume
// dry-up 25%, and pivot proximity 15%.
func score(res Result, cfg Config) float64 {
	if len(res.Contractions) == 0 {
		return 0
	}

	countScore := 0.0
	switch {
	case len(res.Contractions) >= 3:
		countScore = 100
	case len(res.Contractions) == 2:
		countScore = 60
	}

	depthScore := 0.0
	if n := len(res.DepthSequence); n > 0 {
		if n == 1 {
			depthScore = 40
		} else {
			ideal := 0
			for i := 1; i < n; i++ {
				if res.DepthSequence[i] <= res.DepthSequence[i-1]*cfg.DepthDecreaseRatio {
					ideal++
				}
			}
			depthScore = 70 * float64(ideal) / float64(n-1)
		}
		if res.DepthSequence[len(res.DepthSequence)-1] <= cfg.FinalDepthMaxPct {
			depthScore += 30
		}
	}

	volumeScore := 20.0
	switch {
	case res.VolumeTrend <= -0.4:
		volumeScore = 100
	case res.VolumeTrend <= -0.2:
		volumeScore = 80
	case res.VolumeTrend < 0:
		volumeScore = 60
	case res.VolumeTrend < 0.2:
		volumeScore = 40
	}

	pivotScore := 20.0
	dist := math.Abs(res.PivotDistancePct)
	switch {
	case dist < 2:
		pivotScore = 100
	case dist < 5:
		pivotScore = 80
	case dist < 8:
		pivotScore = 60
	case dist < 12:
		pivotScore = 40
	}

	total := 0.30*countScore + 0.30*depthScore + 0.25*volumeScore + 0.15*pivotScore
	if total > 100 {
		total = 100
	}
	return total
}

// volumeTrend is the Pearson correlation of per-contraction average volume
// against sequence position. Negative means volume is drying up.
func volumeTrend(contractions []Contraction) float64 {
	if len(contractions) < 2 {
		return 0
	}
	xs := make([]float64, len(contractions))
	ys := make([]float64, len(contractions))
	for i, c := range contractions {
		xs[i] = float64(i)
		ys[i] = c.AvgVolume
	}
	corr := stat.Correlation(xs, ys, nil)
	if math.IsNaN(corr) {
		return 0
	}
	return corr
}

// buildContractions walks swings right of the base high, pairing each
// high with the following low. A wider contraction than its predecessor,
// or a high above the running base, resets the sequence from that point.
func buildContractions(highs, lows, volumes []float64, swingHighs, swingLows []int, cfg Config) []Contraction {
	if len(swingHighs) == 0 || len(swingLows) == 0 {
		return nil
	}

	n := len(highs)
	start := n - cfg.Lookback
	if start < 0 {
		start = 0
	}

	// Base: the highest swing high inside the lookback window.
	baseIdx := -1
	for _, idx := range swingHighs {
		if idx < start {
			continue
		}
		if baseIdx == -1 || highs[idx] > highs[baseIdx] {
			baseIdx = idx
		}
	}
	if baseIdx == -1 {
		return nil
	}

	var seq []Contraction
	curHigh := baseIdx
	for {
		lowIdx := firstAfter(swingLows, curHigh)
		if lowIdx == -1 {
			break
		}

		depth := (highs[curHigh] - lows[lowIdx]) / highs[curHigh] * 100
		if depth >= cfg.MinDepthPct {
			c := Contraction{
				HighIdx:   curHigh,
				LowIdx:    lowIdx,
				High:      highs[curHigh],
				Low:       lows[lowIdx],
				DepthPct:  depth,
				AvgVolume: mean(volumes[curHigh : lowIdx+1]),
			}
			if len(seq) > 0 && depth > seq[len(seq)-1].DepthPct {
				seq = seq[:0]
			}
			seq = append(seq, c)
		}

		nextHigh := firstAfter(swingHighs, lowIdx)
		if nextHigh == -1 {
			break
		}
		if highs[nextHigh] > highs[curHigh] || highs[nextHigh] <= lows[lowIdx] {
			// New base above the old one, or a failed recovery: restart.
			seq = seq[:0]
		}
		curHigh = nextHigh
	}

	if len(seq) > cfg.MaxContractions {
		seq = seq[len(seq)-cfg.MaxContractions:]
	}
	return seq
}

// swingPoints finds indices that are the strict extremum of their window,
// at least minDistance bars apart.
func swingPoints(values []float64, window, minDistance int, maxima bool) []int {
	var out []int
	n := len(values)
	for i := window; i < n-window; i++ {
		isSwing := true
		for j := i - window; j <= i+window; j++ {
			if j == i {
				continue
			}
			if maxima && values[j] >= values[i] {
				isSwing = false
				break
			}
			if !maxima && values[j] <= values[i] {
				isSwing = false
				break
			}
		}
		if isSwing {
			if len(out) > 0 && i-out[len(out)-1] < minDistance {
				continue
			}
			out = append(out, i)
		}
	}
	return out
}

func firstAfter(indices []int, after int) int {
	for _, idx := range indices {
		if idx > after {
			return idx
		}
	}
	return -1
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
