package backtest

import (
	"context"
	"fmt"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/indicators"
)

// MAType selects the moving-average flavor for the cross strategy.
type MAType string

const (
	MATypeSMA MAType = "SMA"
	MATypeEMA MAType = "EMA"
)

// MACrossConfig tunes the crossover strategy.
type MACrossConfig struct {
	FastPeriod     int
	SlowPeriod     int
	MAType         MAType
	Qty            float64 // fixed position size per entry
	VolumeConfirm  bool    // require volume above its moving average on entry
	VolumeMAPeriod int
}

// DefaultMACrossConfig returns the standard tuning.
func DefaultMACrossConfig() MACrossConfig {
	return MACrossConfig{
		FastPeriod:     10,
		SlowPeriod:     30,
		MAType:         MATypeSMA,
		Qty:            100,
		VolumeConfirm:  false,
		VolumeMAPeriod: 20,
	}
}

// MACross buys on a golden cross of the fast MA over the slow MA and
// sells on the reverse cross.
type MACross struct {
	cfg     MACrossConfig
	closes  []float64
	volumes []float64
}

// NewMACross builds the strategy.
func NewMACross(cfg MACrossConfig) *MACross {
	return &MACross{cfg: cfg}
}

func (s *MACross) Name() string {
	return fmt.Sprintf("MACross(%d/%d)", s.cfg.FastPeriod, s.cfg.SlowPeriod)
}

func (s *MACross) OnBar(_ context.Context, bar domain.Bar, acct AccountView) []Intent {
	s.closes = append(s.closes, bar.Close)
	s.volumes = append(s.volumes, bar.Volume)

	n := len(s.closes)
	if n <= s.cfg.SlowPeriod {
		return nil
	}

	fast := s.ma(s.cfg.FastPeriod)
	slow := s.ma(s.cfg.SlowPeriod)
	if !fast.Defined(n-1) || !slow.Defined(n-1) || !fast.Defined(n-2) || !slow.Defined(n-2) {
		return nil
	}

	above := fast[n-1] > slow[n-1]
	prevAbove := fast[n-2] > slow[n-2]

	switch {
	case above && !prevAbove && acct.Qty(bar.Code) == 0:
		if s.cfg.VolumeConfirm && !s.volumeAboveAverage() {
			return nil
		}
		return []Intent{{
			Type: IntentBuy, Qty: s.cfg.Qty,
			Reason: fmt.Sprintf("golden cross MA%d/MA%d", s.cfg.FastPeriod, s.cfg.SlowPeriod),
		}}
	case !above && prevAbove && acct.Qty(bar.Code) > 0:
		return []Intent{{
			Type: IntentSell, Qty: acct.Qty(bar.Code),
			Reason: fmt.Sprintf("death cross MA%d/MA%d", s.cfg.FastPeriod, s.cfg.SlowPeriod),
		}}
	}
	return nil
}

func (s *MACross) OnEnd(context.Context) {}

func (s *MACross) ma(period int) indicators.Series {
	if s.cfg.MAType == MATypeEMA {
		return indicators.EMA(s.closes, period)
	}
	return indicators.SMA(s.closes, period)
}

func (s *MACross) volumeAboveAverage() bool {
	volMA := indicators.SMA(s.volumes, s.cfg.VolumeMAPeriod)
	n := len(s.volumes)
	if !volMA.Defined(n - 1) {
		return true
	}
	return s.volumes[n-1] > volMA[n-1]
}
