package indicators

import (
	talib "github.com/markcheno/go-talib"
)

// SMA computes a simple moving average with warm-up period-1.
func SMA(closes []float64, period int) Series {
	if period < 1 || len(closes) < period {
		return nanSeries(len(closes))
	}
	if period == 1 {
		out := make(Series, len(closes))
		copy(out, closes)
		return out
	}
	return maskWarmup(talib.Sma(closes, period), period-1)
}

// EMA computes an exponential moving average seeded by the SMA of the
// first period values, alpha = 2/(period+1).
func EMA(closes []float64, period int) Series {
	if period < 1 || len(closes) < period {
		return nanSeries(len(closes))
	}
	if period == 1 {
		out := make(Series, len(closes))
		copy(out, closes)
		return out
	}
	return maskWarmup(talib.Ema(closes, period), period-1)
}

// WMA computes a linearly weighted moving average, most recent heaviest.
func WMA(closes []float64, period int) Series {
	if period < 1 || len(closes) < period {
		return nanSeries(len(closes))
	}
	if period == 1 {
		out := make(Series, len(closes))
		copy(out, closes)
		return out
	}
	return maskWarmup(talib.Wma(closes, period), period-1)
}

// emaOver runs an EMA over an already-masked series, preserving the input
// warm-up. Used for signal lines over derived series.
func emaOver(s Series, period int) Series {
	start := 0
	for start < len(s) && !s.Defined(start) {
		start++
	}
	out := nanSeries(len(s))
	defined := len(s) - start
	if period < 1 || defined < period {
		return out
	}
	sub := talib.Ema(s[start:], period)
	for i := period - 1; i < len(sub); i++ {
		out[start+i] = sub[i]
	}
	return out
}
