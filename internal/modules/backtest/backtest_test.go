package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/spyglass/internal/domain"
)

func barsFromCloses(closes []float64, volume float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Market: domain.MarketUS, Code: "TEST",
			Date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open: c, High: c, Low: c, Close: c,
			Volume: volume,
		}
	}
	return bars
}

// vShape declines from high to low and recovers, then fades again, so a
// fast/slow MA pair crosses up exactly once and down exactly once.
func vShape() []float64 {
	var closes []float64
	for i := 0; i < 25; i++ {
		closes = append(closes, 100-float64(i)) // 100 .. 76
	}
	for i := 0; i < 25; i++ {
		closes = append(closes, 76+2*float64(i)) // 76 .. 124
	}
	for i := 0; i < 25; i++ {
		closes = append(closes, 124-2.5*float64(i)) // 124 .. 64
	}
	return closes
}

// buyAndHold buys a fixed quantity on the first bar.
type buyAndHold struct {
	qty    float64
	bought bool
}

func (s *buyAndHold) Name() string { return "BuyAndHold" }

func (s *buyAndHold) OnBar(_ context.Context, bar domain.Bar, _ AccountView) []Intent {
	if s.bought {
		return nil
	}
	s.bought = true
	return []Intent{{Type: IntentBuy, Qty: s.qty}}
}

func (s *buyAndHold) OnEnd(context.Context) {}

func TestMACrossSingleRoundTrip(t *testing.T) {
	bars := barsFromCloses(vShape(), 1000)
	cfg := DefaultMACrossConfig()
	cfg.FastPeriod = 5
	cfg.SlowPeriod = 20

	engine := NewEngine(DefaultEngineConfig(), NewMACross(cfg), zerolog.Nop())
	res, err := engine.Run(context.Background(), bars)
	require.NoError(t, err)

	var buys, sells []ExecutedTrade
	for _, tr := range res.TradeLog {
		require.False(t, tr.Rejected)
		if tr.Type == IntentBuy {
			buys = append(buys, tr)
		} else {
			sells = append(sells, tr)
		}
	}
	require.Len(t, buys, 1)
	require.Len(t, sells, 1)
	assert.True(t, buys[0].Time.Before(sells[0].Time))

	// Flat at the end, so equity is all cash.
	assert.Empty(t, res.Positions)
	assert.InDelta(t, res.FinalCash, res.FinalEquity, 1e-9)

	pnl := (sells[0].Price - buys[0].Price) * buys[0].Qty
	assert.InDelta(t, res.InitialCash+pnl, res.FinalEquity, 1e-9)
	assert.Equal(t, 1, res.Metrics.TotalTrades)
}

func TestEquityCurveIdentity(t *testing.T) {
	closes := []float64{100, 102, 101, 105, 110, 108, 112}
	bars := barsFromCloses(closes, 1000)

	engine := NewEngine(Config{InitialCash: 10000, Fee: NoFee{}}, &buyAndHold{qty: 10}, zerolog.Nop())
	res, err := engine.Run(context.Background(), bars)
	require.NoError(t, err)

	require.Len(t, res.EquityCurve, len(bars))
	assert.InDelta(t, 10000-10*100, res.FinalCash, 1e-9)

	last := closes[len(closes)-1]
	assert.InDelta(t, res.FinalCash+10*last, res.FinalEquity, 1e-9)
	assert.InDelta(t, res.FinalEquity, res.EquityCurve[len(res.EquityCurve)-1].Equity, 1e-9)
}

func TestInsufficientCashRejected(t *testing.T) {
	bars := barsFromCloses([]float64{100, 101, 102}, 1000)

	engine := NewEngine(Config{InitialCash: 500, Fee: NoFee{}}, &buyAndHold{qty: 10}, zerolog.Nop())
	res, err := engine.Run(context.Background(), bars)
	require.NoError(t, err)

	require.Len(t, res.TradeLog, 1)
	assert.True(t, res.TradeLog[0].Rejected)
	assert.Equal(t, "insufficient cash", res.TradeLog[0].Reason)
	assert.Equal(t, 1, res.Metrics.RejectedIntents)
	assert.InDelta(t, 500.0, res.FinalCash, 1e-9)
	assert.Empty(t, res.Positions)
}

func TestOversellRejected(t *testing.T) {
	bars := barsFromCloses([]float64{100, 101}, 1000)

	sellFirst := strategyFunc(func(bar domain.Bar, acct AccountView) []Intent {
		if acct.Qty(bar.Code) == 0 {
			return []Intent{{Type: IntentSell, Qty: 10}}
		}
		return nil
	})
	engine := NewEngine(DefaultEngineConfig(), sellFirst, zerolog.Nop())
	res, err := engine.Run(context.Background(), bars)
	require.NoError(t, err)

	require.NotEmpty(t, res.TradeLog)
	assert.True(t, res.TradeLog[0].Rejected)
	assert.Equal(t, "insufficient position", res.TradeLog[0].Reason)
}

func TestFeesReduceEquity(t *testing.T) {
	bars := barsFromCloses([]float64{100, 100}, 1000)

	engine := NewEngine(Config{InitialCash: 10000, Fee: RateFee{Rate: 0.001}}, &buyAndHold{qty: 10}, zerolog.Nop())
	res, err := engine.Run(context.Background(), bars)
	require.NoError(t, err)

	// Flat price, so the only equity change is the entry fee.
	assert.InDelta(t, 10000-1.0, res.FinalEquity, 1e-9)
}

func TestMetricsDrawdownAndReturns(t *testing.T) {
	res := Result{
		InitialCash: 1000,
		FinalEquity: 1100,
		StartDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		EquityCurve: []EquityPoint{
			{Equity: 1000}, {Equity: 1200}, {Equity: 900}, {Equity: 1100},
		},
	}
	m := calculateMetrics(res)

	assert.InDelta(t, 100.0, m.TotalReturn, 1e-9)
	assert.InDelta(t, 0.1, m.TotalReturnPct, 1e-9)
	assert.InDelta(t, 300.0, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, 0.25, m.MaxDrawdownPct, 1e-9)
	assert.Greater(t, m.CAGR, 0.0)
	assert.InDelta(t, m.CAGR/0.25, m.Calmar, 1e-9)
}

func TestConsecutiveWinLossCounts(t *testing.T) {
	log := []ExecutedTrade{
		{Type: IntentSell, PnL: 10},
		{Type: IntentSell, PnL: 20},
		{Type: IntentSell, PnL: -5},
		{Type: IntentSell, PnL: -5},
		{Type: IntentSell, PnL: -5},
		{Type: IntentSell, PnL: 30},
	}
	var m Metrics
	tradeMetrics(log, &m)

	assert.Equal(t, 6, m.TotalTrades)
	assert.Equal(t, 2, m.MaxConsecutiveWins)
	assert.Equal(t, 3, m.MaxConsecutiveLosses)
	assert.InDelta(t, 0.5, m.WinRate, 1e-9)
	assert.InDelta(t, 60.0/15.0, m.ProfitFactor, 1e-9)
}

func TestVCPBreakoutQuietSeriesNoTrades(t *testing.T) {
	var closes []float64
	for i := 0; i < 90; i++ {
		closes = append(closes, 100+float64(i)*0.5)
	}
	bars := barsFromCloses(closes, 1000)

	engine := NewEngine(DefaultEngineConfig(), NewVCPBreakout(DefaultVCPBreakoutConfig()), zerolog.Nop())
	res, err := engine.Run(context.Background(), bars)
	require.NoError(t, err)
	assert.Empty(t, res.TradeLog)
}

func TestVCPBreakoutExitBelowPivot(t *testing.T) {
	cfg := DefaultVCPBreakoutConfig()
	cfg.WindowSize = 5
	s := NewVCPBreakout(cfg)
	s.bars = barsFromCloses([]float64{100, 101, 102, 103, 104, 105}, 1000)
	s.inPosition = true
	s.pivotPrice = 100
	s.highestSinceEntry = 105

	bar := domain.Bar{
		Market: domain.MarketUS, Code: "TEST",
		Date: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Open: 99, High: 99, Low: 98, Close: 98, Volume: 1000,
	}
	intents := s.OnBar(context.Background(), bar, fakeAccount{qty: 100})
	require.Len(t, intents, 1)
	assert.Equal(t, IntentSell, intents[0].Type)
	assert.InDelta(t, 100.0, intents[0].Qty, 1e-9)
	assert.False(t, s.inPosition)
}

func TestRunRejectsUnsortedBars(t *testing.T) {
	bars := barsFromCloses([]float64{100, 101}, 1000)
	bars[0], bars[1] = bars[1], bars[0]

	engine := NewEngine(DefaultEngineConfig(), &buyAndHold{qty: 1}, zerolog.Nop())
	_, err := engine.Run(context.Background(), bars)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
}

// strategyFunc adapts a closure to the Strategy interface.
type strategyFunc func(bar domain.Bar, acct AccountView) []Intent

func (strategyFunc) Name() string { return "func" }

func (f strategyFunc) OnBar(_ context.Context, bar domain.Bar, acct AccountView) []Intent {
	return f(bar, acct)
}

func (strategyFunc) OnEnd(context.Context) {}

type fakeAccount struct {
	qty float64
}

func (f fakeAccount) Cash() float64          { return 0 }
func (f fakeAccount) Qty(string) float64     { return f.qty }
func (f fakeAccount) AvgCost(string) float64 { return 0 }
