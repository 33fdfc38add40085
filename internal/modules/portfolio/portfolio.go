// Package portfolio computes position-level metrics, allocation
// breakdowns, and concentration risk over a position snapshot.
package portfolio

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/domain"
)

// RiskLevel grades portfolio concentration.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskVeryHigh RiskLevel = "VERY_HIGH"
)

// Config carries the analyzer thresholds. Weights are fractions of
// portfolio market value in [0, 1].
type Config struct {
	TopPerformers           int
	MediumWeightThreshold   float64 // largest single weight above this is at least MEDIUM
	HighWeightThreshold     float64
	VeryHighWeightThreshold float64
	Top5Threshold           float64 // top-5 combined weight signal
	HHISignalThreshold      float64
	LargeLossRatio          float64 // pl_ratio below this flags the position
	MinPositions            int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		TopPerformers:           5,
		MediumWeightThreshold:   0.10,
		HighWeightThreshold:     0.20,
		VeryHighWeightThreshold: 0.30,
		Top5Threshold:           0.80,
		HHISignalThreshold:      2500,
		LargeLossRatio:          -0.20,
		MinPositions:            5,
	}
}

// PositionMetrics is one analyzed position.
type PositionMetrics struct {
	Market      domain.Market       `json:"market"`
	Code        string              `json:"code"`
	Name        string              `json:"name,omitempty"`
	Qty         float64             `json:"qty"`
	CostPrice   float64             `json:"cost_price"`
	MarketPrice float64             `json:"market_price"`
	MarketValue float64             `json:"market_value"`
	CostValue   float64             `json:"cost_value"`
	PLValue     float64             `json:"pl_value"`
	PLRatio     float64             `json:"pl_ratio"`
	Weight      float64             `json:"weight"`
	Side        domain.PositionSide `json:"side"`
}

// FullCode renders the canonical MARKET.CODE identifier.
func (p PositionMetrics) FullCode() string {
	return fmt.Sprintf("%s.%s", p.Market, p.Code)
}

// Summary aggregates the position set.
type Summary struct {
	PositionCount         int      `json:"position_count"`
	LongCount             int      `json:"long_count"`
	ShortCount            int      `json:"short_count"`
	ProfitableCount       int      `json:"profitable_count"`
	LosingCount           int      `json:"losing_count"`
	WinRate               float64  `json:"win_rate"`
	TotalMarketValue      float64  `json:"total_market_value"`
	TotalCostValue        float64  `json:"total_cost_value"`
	TotalPLValue          float64  `json:"total_pl_value"`
	TotalPLRatio          float64  `json:"total_pl_ratio"`
	LargestPositionWeight float64  `json:"largest_position_weight"`
	Top3Concentration     float64  `json:"top3_concentration"`
	Top5Concentration     float64  `json:"top5_concentration"`
	AvgPositionSize       float64  `json:"avg_position_size"`
	CashBalance           *float64 `json:"cash_balance,omitempty"`
	TotalAssets           *float64 `json:"total_assets,omitempty"`
	CashWeight            *float64 `json:"cash_weight,omitempty"`
}

// MarketAllocation is the per-market breakdown.
type MarketAllocation struct {
	Market        domain.Market `json:"market"`
	PositionCount int           `json:"position_count"`
	MarketValue   float64       `json:"market_value"`
	Weight        float64       `json:"weight"`
	PLValue       float64       `json:"pl_value"`
	PLRatio       float64       `json:"pl_ratio"`
}

// RiskMetrics carries concentration and drawdown indicators.
type RiskMetrics struct {
	ConcentrationRisk    RiskLevel `json:"concentration_risk"`
	HHI                  float64   `json:"hhi"` // 0-10000
	DiversificationScore float64   `json:"diversification_score"`
	LargestLossPosition  string    `json:"largest_loss_position,omitempty"`
	LargestLossRatio     float64   `json:"largest_loss_ratio"`
	TotalUnrealizedLoss  float64   `json:"total_unrealized_loss"`
	PositionsAtLossRatio float64   `json:"positions_at_loss_ratio"`
	Signals              []string  `json:"signals"`
}

// Result is the full analysis output.
type Result struct {
	AnalysisDate     time.Time          `json:"analysis_date"`
	Summary          Summary            `json:"summary"`
	Positions        []PositionMetrics  `json:"positions"`
	MarketAllocation []MarketAllocation `json:"market_allocation"`
	Risk             RiskMetrics        `json:"risk"`
	TopPerformers    []PositionMetrics  `json:"top_performers"`
	BottomPerformers []PositionMetrics  `json:"bottom_performers"`
	Signals          []string           `json:"signals"`
}

// Analyzer is stateless and safe for concurrent use.
type Analyzer struct {
	cfg Config
	log zerolog.Logger
}

// NewAnalyzer builds an analyzer with the given thresholds.
func NewAnalyzer(cfg Config, log zerolog.Logger) *Analyzer {
	return &Analyzer{cfg: cfg, log: log.With().Str("module", "portfolio").Logger()}
}

// Analyze computes the full result for a position snapshot. Positions
// with zero quantity are dropped before analysis.
func (a *Analyzer) Analyze(positions []domain.Position, snapshot *domain.AccountSnapshot, asOf time.Time) Result {
	active := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		if math.Abs(p.Qty) > 0 {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return a.emptyResult(snapshot, asOf)
	}

	metrics := positionMetrics(active)
	summary := a.summarize(metrics, snapshot)
	risk := a.riskMetrics(metrics, summary)

	res := Result{
		AnalysisDate:     asOf,
		Summary:          summary,
		Positions:        metrics,
		MarketAllocation: marketAllocation(metrics, summary.TotalMarketValue),
		Risk:             risk,
	}
	res.TopPerformers, res.BottomPerformers = performers(metrics, a.cfg.TopPerformers)
	res.Signals = a.signals(summary, risk)

	a.log.Debug().
		Int("positions", len(metrics)).
		Float64("hhi", risk.HHI).
		Str("concentration", string(risk.ConcentrationRisk)).
		Msg("portfolio analyzed")
	return res
}

func (a *Analyzer) emptyResult(snapshot *domain.AccountSnapshot, asOf time.Time) Result {
	res := Result{
		AnalysisDate: asOf,
		Risk:         RiskMetrics{ConcentrationRisk: RiskLow, DiversificationScore: 100},
		Signals:      []string{"no active positions"},
	}
	if snapshot != nil {
		res.Summary.CashBalance = &snapshot.Cash
		res.Summary.TotalAssets = &snapshot.TotalAssets
		if snapshot.TotalAssets > 0 {
			cw := snapshot.Cash / snapshot.TotalAssets
			res.Summary.CashWeight = &cw
		}
	}
	return res
}

func positionMetrics(positions []domain.Position) []PositionMetrics {
	var totalMV float64
	for _, p := range positions {
		totalMV += marketValue(p)
	}

	metrics := make([]PositionMetrics, 0, len(positions))
	for _, p := range positions {
		mv := marketValue(p)
		costVal := p.CostPrice * p.Qty

		plVal := p.PLValue
		plRatio := p.PLRatio
		if plVal == 0 && costVal != 0 {
			plVal = (mv - costVal) * p.Side.Sign()
		}
		if plRatio == 0 && costVal != 0 {
			plRatio = plVal / costVal
		}

		weight := 0.0
		if totalMV > 0 {
			weight = mv / totalMV
		}

		metrics = append(metrics, PositionMetrics{
			Market:      p.Market,
			Code:        p.Code,
			Name:        p.Name,
			Qty:         p.Qty,
			CostPrice:   p.CostPrice,
			MarketPrice: p.MarketPrice,
			MarketValue: mv,
			CostValue:   costVal,
			PLValue:     plVal,
			PLRatio:     plRatio,
			Weight:      weight,
			Side:        p.Side,
		})
	}
	return metrics
}

func marketValue(p domain.Position) float64 {
	if p.MarketValue != 0 {
		return p.MarketValue
	}
	return p.MarketPrice * p.Qty
}

func (a *Analyzer) summarize(positions []PositionMetrics, snapshot *domain.AccountSnapshot) Summary {
	var s Summary
	s.PositionCount = len(positions)
	for _, p := range positions {
		if p.Side == domain.PositionShort {
			s.ShortCount++
		} else {
			s.LongCount++
		}
		if p.PLValue > 0 {
			s.ProfitableCount++
		} else if p.PLValue < 0 {
			s.LosingCount++
		}
		s.TotalMarketValue += p.MarketValue
		s.TotalCostValue += p.CostValue
		s.TotalPLValue += p.PLValue
	}
	if s.PositionCount > 0 {
		s.WinRate = float64(s.ProfitableCount) / float64(s.PositionCount)
		s.AvgPositionSize = s.TotalMarketValue / float64(s.PositionCount)
	}
	if s.TotalCostValue > 0 {
		s.TotalPLRatio = s.TotalPLValue / s.TotalCostValue
	}

	byWeight := make([]PositionMetrics, len(positions))
	copy(byWeight, positions)
	sort.Slice(byWeight, func(i, j int) bool { return byWeight[i].Weight > byWeight[j].Weight })
	s.LargestPositionWeight = byWeight[0].Weight
	for i, p := range byWeight {
		if i < 3 {
			s.Top3Concentration += p.Weight
		}
		if i < 5 {
			s.Top5Concentration += p.Weight
		}
	}

	if snapshot != nil {
		s.CashBalance = &snapshot.Cash
		s.TotalAssets = &snapshot.TotalAssets
		if snapshot.TotalAssets > 0 {
			cw := snapshot.Cash / snapshot.TotalAssets
			s.CashWeight = &cw
		}
	}
	return s
}

func marketAllocation(positions []PositionMetrics, totalMV float64) []MarketAllocation {
	groups := make(map[domain.Market]*MarketAllocation)
	costs := make(map[domain.Market]float64)
	for _, p := range positions {
		alloc, ok := groups[p.Market]
		if !ok {
			alloc = &MarketAllocation{Market: p.Market}
			groups[p.Market] = alloc
		}
		alloc.PositionCount++
		alloc.MarketValue += p.MarketValue
		alloc.PLValue += p.PLValue
		costs[p.Market] += p.CostValue
	}

	out := make([]MarketAllocation, 0, len(groups))
	for market, alloc := range groups {
		if totalMV > 0 {
			alloc.Weight = alloc.MarketValue / totalMV
		}
		if cost := costs[market]; cost > 0 {
			alloc.PLRatio = alloc.PLValue / cost
		}
		out = append(out, *alloc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketValue > out[j].MarketValue })
	return out
}

// performers ranks by pl_ratio, ties by absolute pl_value, then code.
func performers(positions []PositionMetrics, n int) (top, bottom []PositionMetrics) {
	ranked := make([]PositionMetrics, len(positions))
	copy(ranked, positions)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].PLRatio != ranked[j].PLRatio {
			return ranked[i].PLRatio > ranked[j].PLRatio
		}
		ai, aj := math.Abs(ranked[i].PLValue), math.Abs(ranked[j].PLValue)
		if ai != aj {
			return ai > aj
		}
		return ranked[i].Code < ranked[j].Code
	})

	if n > len(ranked) {
		n = len(ranked)
	}
	top = append(top, ranked[:n]...)
	tail := ranked[len(ranked)-n:]
	for i := len(tail) - 1; i >= 0; i-- {
		bottom = append(bottom, tail[i])
	}
	return top, bottom
}

func (a *Analyzer) riskMetrics(positions []PositionMetrics, summary Summary) RiskMetrics {
	risk := RiskMetrics{ConcentrationRisk: RiskLow}

	for _, p := range positions {
		risk.HHI += p.Weight * p.Weight * 10000
	}

	// Perfect diversification is HHI = 10000/n.
	minHHI := 10000.0 / float64(len(positions))
	if risk.HHI > minHHI && 10000-minHHI > 0 {
		risk.DiversificationScore = math.Max(0, 100*(1-(risk.HHI-minHHI)/(10000-minHHI)))
	} else {
		risk.DiversificationScore = 100
	}

	switch {
	case summary.LargestPositionWeight > a.cfg.VeryHighWeightThreshold:
		risk.ConcentrationRisk = RiskVeryHigh
	case summary.LargestPositionWeight > a.cfg.HighWeightThreshold:
		risk.ConcentrationRisk = RiskHigh
	case summary.LargestPositionWeight > a.cfg.MediumWeightThreshold ||
		summary.Top5Concentration > a.cfg.Top5Threshold:
		risk.ConcentrationRisk = RiskMedium
	}

	var losing []PositionMetrics
	for _, p := range positions {
		if p.PLRatio < 0 {
			losing = append(losing, p)
		}
		if p.PLValue < 0 {
			risk.TotalUnrealizedLoss += p.PLValue
		}
	}
	if len(losing) > 0 {
		worst := losing[0]
		for _, p := range losing[1:] {
			if p.PLRatio < worst.PLRatio {
				worst = p
			}
		}
		risk.LargestLossPosition = worst.FullCode()
		risk.LargestLossRatio = worst.PLRatio
	}
	risk.PositionsAtLossRatio = float64(len(losing)) / float64(len(positions))

	if risk.ConcentrationRisk == RiskHigh || risk.ConcentrationRisk == RiskVeryHigh {
		risk.Signals = append(risk.Signals, fmt.Sprintf(
			"single position >%.0f%%: largest holding is %.1f%% of portfolio",
			a.cfg.HighWeightThreshold*100, summary.LargestPositionWeight*100))
	}
	if risk.HHI > a.cfg.HHISignalThreshold {
		risk.Signals = append(risk.Signals, fmt.Sprintf("highly concentrated portfolio (HHI %.0f)", risk.HHI))
	}
	if risk.PositionsAtLossRatio > 0.5 {
		risk.Signals = append(risk.Signals, fmt.Sprintf("%.0f%% of positions are at a loss", risk.PositionsAtLossRatio*100))
	}
	if len(losing) > 0 && risk.LargestLossRatio < a.cfg.LargeLossRatio {
		risk.Signals = append(risk.Signals, fmt.Sprintf(
			"large loss position: %s (%.1f%%)", risk.LargestLossPosition, risk.LargestLossRatio*100))
	}
	return risk
}

func (a *Analyzer) signals(summary Summary, risk RiskMetrics) []string {
	var signals []string

	if summary.TotalPLRatio > 0.20 {
		signals = append(signals, fmt.Sprintf("strong performance: %.1f%% total gain", summary.TotalPLRatio*100))
	} else if summary.TotalPLRatio < -0.10 {
		signals = append(signals, fmt.Sprintf("underperforming: %.1f%% total loss", summary.TotalPLRatio*100))
	}

	if summary.WinRate >= 0.70 {
		signals = append(signals, fmt.Sprintf("high win rate: %.0f%% of positions profitable", summary.WinRate*100))
	} else if summary.WinRate <= 0.30 {
		signals = append(signals, fmt.Sprintf("low win rate: %.0f%% of positions profitable", summary.WinRate*100))
	}

	if summary.PositionCount < a.cfg.MinPositions {
		signals = append(signals, fmt.Sprintf("low diversification: fewer than %d positions", a.cfg.MinPositions))
	} else if summary.PositionCount > 30 {
		signals = append(signals, "high position count: consider consolidating")
	}

	if summary.CashWeight != nil {
		if *summary.CashWeight > 0.50 {
			signals = append(signals, fmt.Sprintf("high cash position: %.1f%%", *summary.CashWeight*100))
		} else if *summary.CashWeight < 0.05 {
			signals = append(signals, fmt.Sprintf("low cash reserve: %.1f%%", *summary.CashWeight*100))
		}
	}

	if summary.Top5Concentration > a.cfg.Top5Threshold {
		signals = append(signals, fmt.Sprintf(
			"top 5 positions hold %.1f%% of portfolio", summary.Top5Concentration*100))
	}

	signals = append(signals, risk.Signals...)
	return signals
}

// HasSignal reports whether any emitted signal contains the substring.
func (r Result) HasSignal(substr string) bool {
	for _, s := range r.Signals {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
