// Package indicators computes technical indicator series over daily bars.
// Every computation returns a series aligned to bar indices; values inside
// the warm-up window are NaN, never zero. Inputs must be sorted ascending
// by date.
package indicators

import (
	"math"

	"github.com/aristath/spyglass/internal/domain"
)

// Series is an indicator value series aligned to bar indices. NaN marks
// an undefined (warm-up) value.
type Series []float64

// Defined reports whether the value at i exists.
func (s Series) Defined(i int) bool {
	return i >= 0 && i < len(s) && !math.IsNaN(s[i])
}

// Last returns the most recent defined value, or false when none exists.
func (s Series) Last() (float64, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if !math.IsNaN(s[i]) {
			return s[i], true
		}
	}
	return 0, false
}

// nanSeries returns an all-NaN series of length n.
func nanSeries(n int) Series {
	s := make(Series, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// maskWarmup replaces the first w values with NaN. The underlying talib
// routines emit zeros inside the lookback window, which would otherwise
// be indistinguishable from real values.
func maskWarmup(values []float64, w int) Series {
	s := Series(values)
	if w > len(s) {
		w = len(s)
	}
	for i := 0; i < w; i++ {
		s[i] = math.NaN()
	}
	return s
}

// ValidateBars checks that bars are sorted strictly ascending by date and
// that OHLC invariants hold.
func ValidateBars(bars []domain.Bar) error {
	for i, bar := range bars {
		if err := bar.Validate(); err != nil {
			return err
		}
		if i > 0 && !bars[i-1].Date.Before(bar.Date) {
			return domain.Errorf(domain.KindInvalidInput,
				"bars not sorted ascending at index %d (%s >= %s)",
				i, bars[i-1].Date.Format("2006-01-02"), bar.Date.Format("2006-01-02"))
		}
	}
	return nil
}

// Closes extracts the close column.
func Closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, bar := range bars {
		out[i] = bar.Close
	}
	return out
}

// Highs extracts the high column.
func Highs(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, bar := range bars {
		out[i] = bar.High
	}
	return out
}

// Lows extracts the low column.
func Lows(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, bar := range bars {
		out[i] = bar.Low
	}
	return out
}

// Volumes extracts the volume column.
func Volumes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, bar := range bars {
		out[i] = bar.Volume
	}
	return out
}
