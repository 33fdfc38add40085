package indicators

import "math"

// DivergenceConfig tunes the price/indicator divergence pass.
type DivergenceConfig struct {
	Lookback int     // how many recent bars to inspect
	Window   int     // local-extremum confirmation window
	MinDelta float64 // minimum relative indicator move to count
}

// DefaultDivergenceConfig returns the default divergence setup.
func DefaultDivergenceConfig() DivergenceConfig {
	return DivergenceConfig{Lookback: 60, Window: 5, MinDelta: 0.01}
}

// Divergence compares successive local extrema of price and an indicator.
// The returned series holds +1 at confirmed bullish divergences (price
// lower low, indicator higher low), -1 at bearish ones (price higher high,
// indicator lower high), and 0 elsewhere.
func Divergence(prices []float64, indicator Series, cfg DivergenceConfig) Series {
	n := len(prices)
	out := make(Series, n)
	if n == 0 || len(indicator) != n {
		return out
	}

	start := n - cfg.Lookback
	if start < 0 {
		start = 0
	}

	lows := localExtrema(prices, start, cfg.Window, false)
	highs := localExtrema(prices, start, cfg.Window, true)

	for k := 1; k < len(lows); k++ {
		prev, curr := lows[k-1], lows[k]
		if !indicator.Defined(prev) || !indicator.Defined(curr) {
			continue
		}
		if prices[curr] < prices[prev] && relDelta(indicator[curr], indicator[prev]) > cfg.MinDelta {
			out[curr] = 1
		}
	}
	for k := 1; k < len(highs); k++ {
		prev, curr := highs[k-1], highs[k]
		if !indicator.Defined(prev) || !indicator.Defined(curr) {
			continue
		}
		if prices[curr] > prices[prev] && relDelta(indicator[prev], indicator[curr]) > cfg.MinDelta {
			out[curr] = -1
		}
	}
	return out
}

// relDelta returns (a-b)/|b|, the relative amount by which a exceeds b.
func relDelta(a, b float64) float64 {
	if b == 0 {
		if a > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return (a - b) / math.Abs(b)
}

// localExtrema returns indices in [start, len) that are the strict
// max (or min) of their surrounding window.
func localExtrema(values []float64, start, window int, maxima bool) []int {
	var out []int
	n := len(values)
	for i := start + window; i < n-window; i++ {
		isExtremum := true
		for j := i - window; j <= i+window; j++ {
			if j == i {
				continue
			}
			if maxima && values[j] >= values[i] {
				isExtremum = false
				break
			}
			if !maxima && values[j] <= values[i] {
				isExtremum = false
				break
			}
		}
		if isExtremum {
			out = append(out, i)
		}
	}
	return out
}
