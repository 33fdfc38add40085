// Package patterns detects geometric chart patterns, support/resistance
// levels, and trend lines over daily bars.
package patterns

// Type identifies a chart pattern.
type Type string

const (
	TypeCupAndHandle       Type = "cup_and_handle"
	TypeHeadAndShoulders   Type = "head_and_shoulders"
	TypeInverseHS          Type = "inverse_head_and_shoulders"
	TypeDoubleTop          Type = "double_top"
	TypeDoubleBottom       Type = "double_bottom"
	TypeAscendingTriangle  Type = "ascending_triangle"
	TypeDescendingTriangle Type = "descending_triangle"
	TypeSymmetricTriangle  Type = "symmetrical_triangle"
)

// Bias is the directional implication of a pattern.
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
	BiasNeutral Bias = "neutral"
)

// KeyPoint is a labeled price level that anchors a detection.
type KeyPoint struct {
	Label string  `json:"label"`
	Idx   int     `json:"idx"`
	Price float64 `json:"price"`
}

// Detection is the typed descriptor every detector returns.
type Detection struct {
	Type          Type       `json:"type"`
	Detected      bool       `json:"detected"`
	Score         float64    `json:"score"` // 0-100
	Bias          Bias       `json:"bias"`
	StartIdx      int        `json:"start_idx"`
	EndIdx        int        `json:"end_idx"`
	BreakoutPrice float64    `json:"breakout_price,omitempty"`
	TargetPrice   *float64   `json:"target_price,omitempty"`
	StopPrice     *float64   `json:"stop_price,omitempty"`
	KeyPoints     []KeyPoint `json:"key_points,omitempty"`
}

func ptr(v float64) *float64 { return &v }

// localMaxima returns indices whose value is the (non-strict) window max.
func localMaxima(values []float64, window int) []int {
	return windowExtrema(values, window, true)
}

// localMinima returns indices whose value is the (non-strict) window min.
func localMinima(values []float64, window int) []int {
	return windowExtrema(values, window, false)
}

func windowExtrema(values []float64, window int, maxima bool) []int {
	var out []int
	for i := window; i < len(values)-window; i++ {
		match := true
		for j := i - window; j <= i+window; j++ {
			if maxima && values[j] > values[i] {
				match = false
				break
			}
			if !maxima && values[j] < values[i] {
				match = false
				break
			}
		}
		if match {
			out = append(out, i)
		}
	}
	return out
}

func minOf(values []float64) (float64, int) {
	best, bestIdx := values[0], 0
	for i, v := range values {
		if v < best {
			best, bestIdx = v, i
		}
	}
	return best, bestIdx
}

func maxOf(values []float64) (float64, int) {
	best, bestIdx := values[0], 0
	for i, v := range values {
		if v > best {
			best, bestIdx = v, i
		}
	}
	return best, bestIdx
}
