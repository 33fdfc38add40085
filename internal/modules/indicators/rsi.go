package indicators

import (
	"math"
)

// RSIConfig tunes RSI computation.
type RSIConfig struct {
	Period int
}

// DefaultRSIConfig returns the conventional 14-period setup.
func DefaultRSIConfig() RSIConfig {
	return RSIConfig{Period: 14}
}

// RSI computes the relative strength index with Wilder smoothing
// (factor 1/period). When the average loss is zero the value saturates at
// 100; a flat series with no gains either reads 50.
func RSI(closes []float64, period int) Series {
	n := len(closes)
	if period < 1 || n <= period {
		return nanSeries(n)
	}

	out := nanSeries(n)
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	alpha := 1.0 / float64(period)
	for i := period + 1; i < n; i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = avgGain*(1-alpha) + gain*alpha
		avgLoss = avgLoss*(1-alpha) + loss*alpha
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// StochRSIConfig tunes the stochastic RSI.
type StochRSIConfig struct {
	RSIPeriod    int
	StochPeriod  int
	SmoothK      int
	SmoothD      int
}

// DefaultStochRSIConfig returns the conventional 14/14/3/3 setup.
func DefaultStochRSIConfig() StochRSIConfig {
	return StochRSIConfig{RSIPeriod: 14, StochPeriod: 14, SmoothK: 3, SmoothD: 3}
}

// StochRSIResult carries the %K and %D lines scaled to [0, 100].
type StochRSIResult struct {
	K Series
	D Series
}

// StochRSI normalizes RSI into its rolling min/max band and smooths it.
func StochRSI(closes []float64, cfg StochRSIConfig) StochRSIResult {
	n := len(closes)
	rsi := RSI(closes, cfg.RSIPeriod)

	raw := nanSeries(n)
	for i := range rsi {
		if !rsi.Defined(i) || i < cfg.RSIPeriod+cfg.StochPeriod-1 {
			continue
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		ok := true
		for j := i - cfg.StochPeriod + 1; j <= i; j++ {
			if !rsi.Defined(j) {
				ok = false
				break
			}
			lo = math.Min(lo, rsi[j])
			hi = math.Max(hi, rsi[j])
		}
		if !ok {
			continue
		}
		if hi == lo {
			raw[i] = 50
		} else {
			raw[i] = 100 * (rsi[i] - lo) / (hi - lo)
		}
	}

	k := rollingMean(raw, cfg.SmoothK)
	d := rollingMean(k, cfg.SmoothD)
	return StochRSIResult{K: k, D: d}
}

// rollingMean averages the previous w defined values, NaN while the window
// is incomplete.
func rollingMean(s Series, w int) Series {
	if w <= 1 {
		out := make(Series, len(s))
		copy(out, s)
		return out
	}
	out := nanSeries(len(s))
	for i := range s {
		sum := 0.0
		count := 0
		for j := i - w + 1; j <= i; j++ {
			if j < 0 || !s.Defined(j) {
				count = -1
				break
			}
			sum += s[j]
			count++
		}
		if count == w {
			out[i] = sum / float64(w)
		}
	}
	return out
}
