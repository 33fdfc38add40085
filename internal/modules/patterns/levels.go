package patterns

import (
	"sort"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/indicators"
)

// LevelConfig tunes support/resistance extraction.
type LevelConfig struct {
	Window     int     // local-extremum confirmation window
	Tolerance  float64 // cluster width as a fraction of price
	MinTouches int
	Lookback   int
	MaxLevels  int
}

// DefaultLevelConfig returns the standard tuning.
func DefaultLevelConfig() LevelConfig {
	return LevelConfig{
		Window:     5,
		Tolerance:  0.02,
		MinTouches: 2,
		Lookback:   120,
		MaxLevels:  10,
	}
}

// LevelStrength grades a level by its touch count.
type LevelStrength string

const (
	StrengthWeak     LevelStrength = "WEAK"
	StrengthModerate LevelStrength = "MODERATE"
	StrengthStrong   LevelStrength = "STRONG"
)

// Level is one clustered support or resistance price.
type Level struct {
	Price        float64       `json:"price"`
	Touches      int           `json:"touches"`
	LastTouchIdx int           `json:"last_touch_idx"`
	Strength     LevelStrength `json:"strength"`
	Confidence   float64       `json:"confidence"`
	IsSupport    bool          `json:"is_support"`
}

// LevelsResult holds the extracted levels relative to the last close.
type LevelsResult struct {
	Supports          []Level `json:"supports"`
	Resistances       []Level `json:"resistances"`
	NearestSupport    *Level  `json:"nearest_support,omitempty"`
	NearestResistance *Level  `json:"nearest_resistance,omitempty"`
}

// Levels clusters swing extrema by price proximity and splits the
// clusters into supports (below the last close) and resistances (above).
func Levels(bars []domain.Bar, cfg LevelConfig) (LevelsResult, error) {
	if err := indicators.ValidateBars(bars); err != nil {
		return LevelsResult{}, err
	}
	var res LevelsResult
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

	type touch struct {
		idx   int
		price float64
	}
	var touches []touch
	for _, idx := range localMaxima(highs, cfg.Window) {
		touches = append(touches, touch{idx: start + idx, price: highs[idx]})
	}
	for _, idx := range localMinima(lows, cfg.Window) {
		touches = append(touches, touch{idx: start + idx, price: lows[idx]})
	}
	if len(touches) == 0 {
		return res, nil
	}

	sort.Slice(touches, func(i, j int) bool { return touches[i].price < touches[j].price })

	// Greedy clustering by price proximity.
	type cluster struct {
		sum       float64
		count     int
		lastTouch int
	}
	var clusters []cluster
	for _, tc := range touches {
		placed := false
		for i := range clusters {
			center := clusters[i].sum / float64(clusters[i].count)
			if tc.price >= center*(1-cfg.Tolerance) && tc.price <= center*(1+cfg.Tolerance) {
				clusters[i].sum += tc.price
				clusters[i].count++
				if tc.idx > clusters[i].lastTouch {
					clusters[i].lastTouch = tc.idx
				}
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, cluster{sum: tc.price, count: 1, lastTouch: tc.idx})
		}
	}

	for _, cl := range clusters {
		if cl.count < cfg.MinTouches {
			continue
		}
		level := Level{
			Price:        cl.sum / float64(cl.count),
			Touches:      cl.count,
			LastTouchIdx: cl.lastTouch,
		}
		switch {
		case cl.count >= 4:
			level.Strength = StrengthStrong
		case cl.count >= 3:
			level.Strength = StrengthModerate
		default:
			level.Strength = StrengthWeak
		}
		level.Confidence = levelConfidence(level, n)
		level.IsSupport = level.Price < lastClose
		if level.IsSupport {
			res.Supports = append(res.Supports, level)
		} else {
			res.Resistances = append(res.Resistances, level)
		}
	}

	// Supports nearest-first (descending), resistances nearest-first
	// (ascending).
	sort.Slice(res.Supports, func(i, j int) bool { return res.Supports[i].Price > res.Supports[j].Price })
	sort.Slice(res.Resistances, func(i, j int) bool { return res.Resistances[i].Price < res.Resistances[j].Price })
	if len(res.Supports) > cfg.MaxLevels {
		res.Supports = res.Supports[:cfg.MaxLevels]
	}
	if len(res.Resistances) > cfg.MaxLevels {
		res.Resistances = res.Resistances[:cfg.MaxLevels]
	}
	if len(res.Supports) > 0 {
		res.NearestSupport = &res.Supports[0]
	}
	if len(res.Resistances) > 0 {
		res.NearestResistance = &res.Resistances[0]
	}
	return res, nil
}

// levelConfidence combines a touch base with recency and strength
// bonuses, capped at 100.
func levelConfidence(level Level, n int) float64 {
	conf := 40.0
	extra := level.Touches - 1
	if extra > 6 {
		extra = 6
	}
	conf += float64(extra) * 5

	age := n - 1 - level.LastTouchIdx
	switch {
	case age <= 10:
		conf += 15
	case age <= 20:
		conf += 10
	case age <= 40:
		conf += 5
	}

	switch level.Strength {
	case StrengthStrong:
		conf += 10
	case StrengthModerate:
		conf += 5
	}
	if conf > 100 {
		conf = 100
	}
	return conf
}
