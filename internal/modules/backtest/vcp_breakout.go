package backtest

import (
	"context"
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/indicators"
	"github.com/aristath/spyglass/internal/modules/vcp"
)

// VCPBreakoutConfig tunes the breakout strategy.
type VCPBreakoutConfig struct {
	Detector         vcp.Config
	MinScore         float64
	WindowSize       int     // rolling re-detection window
	Qty              float64 // fixed position size per entry
	BreakoutBuffer   float64 // buy above pivot by this fraction
	VolumeSurgeRatio float64 // entry volume vs its 20-day average
	VolumeMAPeriod   int
	ExitBelowPivot   bool
	TrailingATRs     float64 // exit below highest-since-entry minus N ATRs
	ATRPeriod        int
}

// DefaultVCPBreakoutConfig returns the standard tuning.
func DefaultVCPBreakoutConfig() VCPBreakoutConfig {
	detector := vcp.DefaultConfig()
	detector.MinBars = 50
	return VCPBreakoutConfig{
		Detector:         detector,
		MinScore:         60,
		WindowSize:       60,
		Qty:              100,
		BreakoutBuffer:   0.01,
		VolumeSurgeRatio: 1.5,
		VolumeMAPeriod:   20,
		ExitBelowPivot:   true,
		TrailingATRs:     2.0,
		ATRPeriod:        14,
	}
}

// VCPBreakout buys a confirmed breakout over a contraction pivot and
// trails the exit with an ATR stop.
type VCPBreakout struct {
	cfg  VCPBreakoutConfig
	bars []domain.Bar

	inPosition        bool
	pivotPrice        float64
	highestSinceEntry float64
}

// NewVCPBreakout builds the strategy.
func NewVCPBreakout(cfg VCPBreakoutConfig) *VCPBreakout {
	return &VCPBreakout{cfg: cfg}
}

func (s *VCPBreakout) Name() string { return "VCPBreakout" }

func (s *VCPBreakout) OnBar(_ context.Context, bar domain.Bar, acct AccountView) []Intent {
	s.bars = append(s.bars, bar)
	n := len(s.bars)
	if n <= s.cfg.WindowSize {
		return nil
	}

	if !s.inPosition {
		return s.tryEnter(bar)
	}
	return s.tryExit(bar, acct)
}

func (s *VCPBreakout) OnEnd(context.Context) {}

func (s *VCPBreakout) tryEnter(bar domain.Bar) []Intent {
	window := s.bars[len(s.bars)-s.cfg.WindowSize-1:]
	res, err := vcp.Detect(window, s.cfg.Detector)
	if err != nil || !res.IsVCP || res.Score < s.cfg.MinScore {
		return nil
	}
	if res.Stage != vcp.StageMature && res.Stage != vcp.StageBreakout {
		return nil
	}

	breakoutPrice := res.PivotPrice * (1 + s.cfg.BreakoutBuffer)
	if bar.High < breakoutPrice {
		return nil
	}
	if !s.volumeSurge() {
		return nil
	}

	s.inPosition = true
	s.pivotPrice = res.PivotPrice
	s.highestSinceEntry = bar.High
	return []Intent{{
		Type: IntentBuy, Qty: s.cfg.Qty,
		Reason: fmt.Sprintf("breakout over pivot %.2f (score %.0f)", res.PivotPrice, res.Score),
	}}
}

func (s *VCPBreakout) tryExit(bar domain.Bar, acct AccountView) []Intent {
	if bar.High > s.highestSinceEntry {
		s.highestSinceEntry = bar.High
	}

	exitReason := ""
	if s.cfg.ExitBelowPivot && bar.Close < s.pivotPrice {
		exitReason = fmt.Sprintf("close below pivot %.2f", s.pivotPrice)
	}
	if atr, ok := s.atr(); ok {
		stop := s.highestSinceEntry - s.cfg.TrailingATRs*atr
		if bar.Close < stop {
			exitReason = fmt.Sprintf("trailing stop %.2f (high %.2f)", stop, s.highestSinceEntry)
		}
	}
	if exitReason == "" {
		return nil
	}

	qty := acct.Qty(bar.Code)
	s.inPosition = false
	s.pivotPrice = 0
	s.highestSinceEntry = 0
	if qty <= 0 {
		return nil
	}
	return []Intent{{Type: IntentSell, Qty: qty, Reason: exitReason}}
}

func (s *VCPBreakout) volumeSurge() bool {
	volumes := indicators.Volumes(s.bars)
	volMA := indicators.SMA(volumes, s.cfg.VolumeMAPeriod)
	n := len(volumes)
	if !volMA.Defined(n-1) || volMA[n-1] <= 0 {
		return false
	}
	return volumes[n-1]/volMA[n-1] >= s.cfg.VolumeSurgeRatio
}

func (s *VCPBreakout) atr() (float64, bool) {
	if len(s.bars) <= s.cfg.ATRPeriod {
		return 0, false
	}
	highs := indicators.Highs(s.bars)
	lows := indicators.Lows(s.bars)
	closes := indicators.Closes(s.bars)
	atr := talib.Atr(highs, lows, closes, s.cfg.ATRPeriod)
	v := atr[len(atr)-1]
	if v <= 0 {
		return 0, false
	}
	return v, true
}
