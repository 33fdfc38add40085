package indicators

import (
	talib "github.com/markcheno/go-talib"
)

// MACDConfig tunes MACD computation.
type MACDConfig struct {
	Fast   int
	Slow   int
	Signal int
}

// DefaultMACDConfig returns the conventional 12/26/9 setup.
func DefaultMACDConfig() MACDConfig {
	return MACDConfig{Fast: 12, Slow: 26, Signal: 9}
}

// MACDResult carries the three MACD output lines. All three share the same
// warm-up so hist = macd - signal holds at every defined index.
type MACDResult struct {
	MACD   Series
	Signal Series
	Hist   Series
}

// MACD computes EMA(fast) - EMA(slow), its signal EMA, and the histogram.
func MACD(closes []float64, cfg MACDConfig) MACDResult {
	n := len(closes)
	warmup := cfg.Slow + cfg.Signal - 2
	if cfg.Fast < 1 || cfg.Slow <= cfg.Fast || cfg.Signal < 1 || n <= warmup {
		return MACDResult{MACD: nanSeries(n), Signal: nanSeries(n), Hist: nanSeries(n)}
	}

	macd, signal, hist := talib.Macd(closes, cfg.Fast, cfg.Slow, cfg.Signal)
	return MACDResult{
		MACD:   maskWarmup(macd, warmup),
		Signal: maskWarmup(signal, warmup),
		Hist:   maskWarmup(hist, warmup),
	}
}

// Crossover marks sign changes of macd relative to signal: +1 where macd
// crosses above, -1 where it crosses below, 0 elsewhere. Defined wherever
// the current and previous values of both lines are defined.
func (r MACDResult) Crossover() Series {
	out := nanSeries(len(r.MACD))
	for i := 1; i < len(r.MACD); i++ {
		if !r.MACD.Defined(i) || !r.Signal.Defined(i) ||
			!r.MACD.Defined(i-1) || !r.Signal.Defined(i-1) {
			continue
		}
		prev := r.MACD[i-1] - r.Signal[i-1]
		curr := r.MACD[i] - r.Signal[i]
		switch {
		case prev <= 0 && curr > 0:
			out[i] = 1
		case prev >= 0 && curr < 0:
			out[i] = -1
		default:
			out[i] = 0
		}
	}
	return out
}
