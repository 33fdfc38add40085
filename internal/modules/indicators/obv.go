package indicators

// OBV computes on-balance volume: a cumulative sum seeded at zero, adding
// volume on up-closes, subtracting on down-closes, unchanged on flat
// closes.
func OBV(closes, volumes []float64) Series {
	n := len(closes)
	if n == 0 || len(volumes) != n {
		return nanSeries(n)
	}
	out := make(Series, n)
	out[0] = 0
	for i := 1; i < n; i++ {
		switch {
		case closes[i] > closes[i-1]:
			out[i] = out[i-1] + volumes[i]
		case closes[i] < closes[i-1]:
			out[i] = out[i-1] - volumes[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// OBVSignal smooths OBV with an EMA signal line.
func OBVSignal(obv Series, period int) Series {
	return emaOver(obv, period)
}
