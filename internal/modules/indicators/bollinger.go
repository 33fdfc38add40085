package indicators

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

// BollingerConfig tunes Bollinger band computation.
type BollingerConfig struct {
	Period     int
	NumStdDev  float64
	SqueezeTau float64 // relative bandwidth threshold for squeeze detection
}

// DefaultBollingerConfig returns the conventional 20/2.0 setup.
func DefaultBollingerConfig() BollingerConfig {
	return BollingerConfig{Period: 20, NumStdDev: 2.0, SqueezeTau: 0.05}
}

// BollingerResult carries the band lines and derived measures.
type BollingerResult struct {
	Upper     Series
	Middle    Series
	Lower     Series
	Bandwidth Series // (upper - lower) / middle
	PercentB  Series // (close - lower) / (upper - lower)
	Squeeze   Series // 1 where bandwidth < tau, 0 elsewhere
}

// Bollinger computes the classic SMA-centered bands.
func Bollinger(closes []float64, cfg BollingerConfig) BollingerResult {
	n := len(closes)
	if cfg.Period < 2 || n < cfg.Period {
		empty := nanSeries(n)
		return BollingerResult{
			Upper: empty, Middle: nanSeries(n), Lower: nanSeries(n),
			Bandwidth: nanSeries(n), PercentB: nanSeries(n), Squeeze: nanSeries(n),
		}
	}

	upper, middle, lower := talib.BBands(closes, cfg.Period, cfg.NumStdDev, cfg.NumStdDev, talib.SMA)
	warmup := cfg.Period - 1
	res := BollingerResult{
		Upper:  maskWarmup(upper, warmup),
		Middle: maskWarmup(middle, warmup),
		Lower:  maskWarmup(lower, warmup),
	}

	res.Bandwidth = nanSeries(n)
	res.PercentB = nanSeries(n)
	res.Squeeze = nanSeries(n)
	for i := warmup; i < n; i++ {
		if !res.Middle.Defined(i) || res.Middle[i] == 0 {
			continue
		}
		width := res.Upper[i] - res.Lower[i]
		res.Bandwidth[i] = width / res.Middle[i]
		if width > 0 {
			res.PercentB[i] = (closes[i] - res.Lower[i]) / width
		} else {
			res.PercentB[i] = 0.5
		}
		if math.Abs(res.Bandwidth[i]) < cfg.SqueezeTau {
			res.Squeeze[i] = 1
		} else {
			res.Squeeze[i] = 0
		}
	}
	return res
}
