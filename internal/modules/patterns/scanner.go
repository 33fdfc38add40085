package patterns

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/indicators"
)

// Scanner runs every pattern detector over a bar series.
type Scanner struct {
	cupHandle CupHandleConfig
	headShldr HeadShouldersConfig
	double    DoubleConfig
	triangle  TriangleConfig
	levels    LevelConfig
	trendline TrendlineConfig
	log       zerolog.Logger
}

// NewScanner builds a scanner with the default tunings.
func NewScanner(log zerolog.Logger) *Scanner {
	return &Scanner{
		cupHandle: DefaultCupHandleConfig(),
		headShldr: DefaultHeadShouldersConfig(),
		double:    DefaultDoubleConfig(),
		triangle:  DefaultTriangleConfig(),
		levels:    DefaultLevelConfig(),
		trendline: DefaultTrendlineConfig(),
		log:       log.With().Str("module", "patterns").Logger(),
	}
}

// ScanResult aggregates everything the scanner found.
type ScanResult struct {
	Patterns   []Detection      `json:"patterns"`
	Levels     LevelsResult     `json:"levels"`
	Trendlines TrendlinesResult `json:"trendlines"`
}

// Scan runs all detectors and returns detections ordered by score,
// strongest first.
func (s *Scanner) Scan(bars []domain.Bar) (ScanResult, error) {
	if err := indicators.ValidateBars(bars); err != nil {
		return ScanResult{}, err
	}

	var res ScanResult
	candidates := []Detection{
		DetectCupAndHandle(bars, s.cupHandle),
		DetectHeadAndShoulders(bars, s.headShldr),
		DetectDoubleTopBottom(bars, s.double),
		DetectTriangle(bars, s.triangle),
	}
	for _, det := range candidates {
		if det.Detected {
			res.Patterns = append(res.Patterns, det)
		}
	}
	sort.SliceStable(res.Patterns, func(i, j int) bool {
		return res.Patterns[i].Score > res.Patterns[j].Score
	})

	levels, err := Levels(bars, s.levels)
	if err != nil {
		return ScanResult{}, err
	}
	res.Levels = levels

	trends, err := Trendlines(bars, s.trendline)
	if err != nil {
		return ScanResult{}, err
	}
	res.Trendlines = trends

	s.log.Debug().
		Int("bars", len(bars)).
		Int("patterns", len(res.Patterns)).
		Int("supports", len(res.Levels.Supports)).
		Int("resistances", len(res.Levels.Resistances)).
		Msg("pattern scan complete")
	return res, nil
}
