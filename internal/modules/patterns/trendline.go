package patterns

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/indicators"
)

// TrendlineConfig tunes trend line fitting.
type TrendlineConfig struct {
	Window        int     // local-extremum confirmation window
	MinTouches    int
	MaxDeviation  float64 // touch distance as a fraction of price
	MinIdxGap     int     // anchors must be this many bars apart
	Lookback      int
	MaxTrendlines int
}

// DefaultTrendlineConfig returns the standard tuning.
func DefaultTrendlineConfig() TrendlineConfig {
	return TrendlineConfig{
		Window:        5,
		MinTouches:    2,
		MaxDeviation:  0.02,
		MinIdxGap:     5,
		Lookback:      60,
		MaxTrendlines: 4,
	}
}

// TrendDirection summarizes the slope mix of the fitted lines.
type TrendDirection string

const (
	TrendUp       TrendDirection = "UP"
	TrendDown     TrendDirection = "DOWN"
	TrendSideways TrendDirection = "SIDEWAYS"
)

// Trendline is one fitted line through swing points.
type Trendline struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	StartIdx  int     `json:"start_idx"`
	EndIdx    int     `json:"end_idx"`
	Touches   int     `json:"touches"`
	IsSupport bool    `json:"is_support"`
	Strength  float64 `json:"strength"` // 0-100
	RSquared  float64 `json:"r_squared"`
	Broken    bool    `json:"broken"`
}

// ValueAt evaluates the line at a bar index.
func (t Trendline) ValueAt(idx int) float64 {
	return t.Slope*float64(idx) + t.Intercept
}

// TrendlinesResult holds fitted lines and the overall direction.
type TrendlinesResult struct {
	Lines     []Trendline    `json:"lines"`
	Direction TrendDirection `json:"direction"`
}

// Trendlines fits candidate lines through pairs of swing points and
// keeps those the price respected across the lookback.
func Trendlines(bars []domain.Bar, cfg TrendlineConfig) (TrendlinesResult, error) {
	if err := indicators.ValidateBars(bars); err != nil {
		return TrendlinesResult{}, err
	}
	res := TrendlinesResult{Direction: TrendSideways}
	n := len(bars)
	if n < cfg.Window*2+1 {
		return res, nil
	}

	start := n - cfg.Lookback
	if start < 0 {
		start = 0
	}
	window := bars[start:]
	highs := indicators.Highs(window)
	lows := indicators.Lows(window)
	lastClose := bars[n-1].Close

	swingHighs := localMaxima(highs, cfg.Window)
	swingLows := localMinima(lows, cfg.Window)

	var lines []Trendline
	lines = append(lines, fitTrendlines(swingLows, lows, true, len(window), cfg)...)
	lines = append(lines, fitTrendlines(swingHighs, highs, false, len(window), cfg)...)

	lines = dedupeTrendlines(lines, cfg.MaxDeviation)
	sort.Slice(lines, func(i, j int) bool { return lines[i].Strength > lines[j].Strength })
	if len(lines) > cfg.MaxTrendlines {
		lines = lines[:cfg.MaxTrendlines]
	}

	// Re-anchor indices to the full bar slice and flag broken lines.
	for i := range lines {
		lines[i].Intercept -= lines[i].Slope * float64(start)
		lines[i].StartIdx += start
		lines[i].EndIdx += start
		endVal := lines[i].ValueAt(n - 1)
		if lines[i].IsSupport {
			lines[i].Broken = lastClose < endVal*0.99
		} else {
			lines[i].Broken = lastClose > endVal*1.01
		}
	}

	res.Lines = lines
	res.Direction = overallDirection(lines, lastClose)
	return res, nil
}

// fitTrendlines tries every anchor pair and keeps lines the series
// respected: enough touches, and never breached past twice the touch
// tolerance.
func fitTrendlines(swings []int, values []float64, isSupport bool, n int, cfg TrendlineConfig) []Trendline {
	var out []Trendline
	for a := 0; a < len(swings); a++ {
		for b := a + 1; b < len(swings); b++ {
			i, j := swings[a], swings[b]
			if j-i < cfg.MinIdxGap {
				continue
			}
			slope := (values[j] - values[i]) / float64(j-i)
			intercept := values[i] - slope*float64(i)

			touches := 0
			var touchIdx []int
			breached := false
			for _, k := range swings {
				line := slope*float64(k) + intercept
				dev := (values[k] - line) / line
				if math.Abs(dev) <= cfg.MaxDeviation {
					touches++
					touchIdx = append(touchIdx, k)
				}
			}
			// A respected line bounds the whole series on its side.
			for k := i; k < n; k++ {
				line := slope*float64(k) + intercept
				if line <= 0 {
					breached = true
					break
				}
				dev := (values[k] - line) / line
				if isSupport && dev < -2*cfg.MaxDeviation {
					breached = true
					break
				}
				if !isSupport && dev > 2*cfg.MaxDeviation {
					breached = true
					break
				}
			}
			if breached || touches < cfg.MinTouches {
				continue
			}

			out = append(out, Trendline{
				Slope:     slope,
				Intercept: intercept,
				StartIdx:  i,
				EndIdx:    touchIdx[len(touchIdx)-1],
				Touches:   touches,
				IsSupport: isSupport,
				Strength:  trendlineStrength(touches, touchIdx[len(touchIdx)-1], n),
				RSquared:  trendlineR2(touchIdx, values, slope, intercept),
			})
		}
	}
	return out
}

func trendlineStrength(touches, lastTouch, n int) float64 {
	s := 30.0
	extra := touches - 2
	if extra > 6 {
		extra = 6
	}
	s += float64(extra) * 10
	age := n - 1 - lastTouch
	switch {
	case age <= 5:
		s += 15
	case age <= 15:
		s += 10
	case age <= 30:
		s += 5
	}
	if s > 100 {
		s = 100
	}
	return s
}

// trendlineR2 measures how well the touch points sit on the line.
func trendlineR2(touchIdx []int, values []float64, slope, intercept float64) float64 {
	if len(touchIdx) < 2 {
		return 1
	}
	ys := make([]float64, len(touchIdx))
	preds := make([]float64, len(touchIdx))
	for i, k := range touchIdx {
		ys[i] = values[k]
		preds[i] = slope*float64(k) + intercept
	}
	return stat.RSquaredFrom(preds, ys, nil)
}

// dedupeTrendlines drops lines nearly parallel and coincident with a
// stronger one.
func dedupeTrendlines(lines []Trendline, tolerance float64) []Trendline {
	sort.Slice(lines, func(i, j int) bool { return lines[i].Strength > lines[j].Strength })
	var out []Trendline
	for _, ln := range lines {
		dup := false
		for _, kept := range out {
			if kept.IsSupport != ln.IsSupport {
				continue
			}
			mid := float64(ln.StartIdx+ln.EndIdx) / 2
			a, b := ln.ValueAt(int(mid)), kept.ValueAt(int(mid))
			if b != 0 && math.Abs(a-b)/math.Abs(b) < tolerance {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, ln)
		}
	}
	return out
}

func overallDirection(lines []Trendline, lastClose float64) TrendDirection {
	if len(lines) == 0 || lastClose == 0 {
		return TrendSideways
	}
	var avg float64
	for _, ln := range lines {
		avg += ln.Slope
	}
	avg /= float64(len(lines))
	// Normalize slope to a per-bar fraction of price.
	rel := avg / lastClose
	switch {
	case rel > 0.001:
		return TrendUp
	case rel < -0.001:
		return TrendDown
	default:
		return TrendSideways
	}
}
