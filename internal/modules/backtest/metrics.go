package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const tradingDaysPerYear = 252

// Metrics summarizes a run. Ratios use daily simple returns off the
// equity curve with a zero risk-free baseline.
type Metrics struct {
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`
	CAGR           float64 `json:"cagr"`
	Sharpe         float64 `json:"sharpe"`
	Sortino        float64 `json:"sortino"`
	Calmar         float64 `json:"calmar"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
	Expectancy    float64 `json:"expectancy"`
	AvgHoldDays   float64 `json:"avg_hold_days"`

	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`
	RejectedIntents      int `json:"rejected_intents"`
}

func calculateMetrics(res Result) Metrics {
	var m Metrics

	m.TotalReturn = res.FinalEquity - res.InitialCash
	if res.InitialCash > 0 {
		m.TotalReturnPct = m.TotalReturn / res.InitialCash
	}

	days := res.EndDate.Sub(res.StartDate).Hours() / 24
	if days > 0 && m.TotalReturnPct > -1 {
		years := days / 365.0
		m.CAGR = math.Pow(1+m.TotalReturnPct, 1/years) - 1
	}

	m.MaxDrawdown, m.MaxDrawdownPct = maxDrawdown(res.EquityCurve)

	returns := dailyReturns(res.EquityCurve)
	if len(returns) > 1 {
		mean := stat.Mean(returns, nil)
		std := stat.StdDev(returns, nil)
		if std > 0 {
			m.Sharpe = mean / std * math.Sqrt(tradingDaysPerYear)
		}
		if downside := downsideDeviation(returns); downside > 0 {
			m.Sortino = mean / downside * math.Sqrt(tradingDaysPerYear)
		}
	}
	if m.MaxDrawdownPct > 0 {
		m.Calmar = m.CAGR / m.MaxDrawdownPct
	}

	tradeMetrics(res.TradeLog, &m)
	return m
}

func dailyReturns(curve []EquityPoint) []float64 {
	var returns []float64
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev > 0 {
			returns = append(returns, (curve[i].Equity-prev)/prev)
		}
	}
	return returns
}

func maxDrawdown(curve []EquityPoint) (dd, ddPct float64) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0].Equity
	for _, pt := range curve {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		drop := peak - pt.Equity
		if drop > dd {
			dd = drop
			if peak > 0 {
				ddPct = drop / peak
			}
		}
	}
	return dd, ddPct
}

func downsideDeviation(returns []float64) float64 {
	var negatives []float64
	for _, r := range returns {
		if r < 0 {
			negatives = append(negatives, r)
		}
	}
	if len(negatives) == 0 {
		return 0
	}
	// Population deviation over the losing days only.
	mean := stat.Mean(negatives, nil)
	var sum float64
	for _, r := range negatives {
		sum += (r - mean) * (r - mean)
	}
	return math.Sqrt(sum / float64(len(negatives)))
}

// tradeMetrics reads completed (sell) executions for win/loss stats.
func tradeMetrics(log []ExecutedTrade, m *Metrics) {
	var wins, losses int
	var winSum, lossSum, holdSum float64
	var curWins, curLosses int

	for _, t := range log {
		if t.Rejected {
			m.RejectedIntents++
			continue
		}
		if t.Type != IntentSell {
			continue
		}
		m.TotalTrades++
		holdSum += float64(t.HoldDays)
		if t.PnL > 0 {
			wins++
			winSum += t.PnL
			curWins++
			curLosses = 0
			if curWins > m.MaxConsecutiveWins {
				m.MaxConsecutiveWins = curWins
			}
		} else {
			losses++
			lossSum += -t.PnL
			curLosses++
			curWins = 0
			if curLosses > m.MaxConsecutiveLosses {
				m.MaxConsecutiveLosses = curLosses
			}
		}
	}

	m.WinningTrades = wins
	m.LosingTrades = losses
	if m.TotalTrades > 0 {
		m.WinRate = float64(wins) / float64(m.TotalTrades)
		m.AvgHoldDays = holdSum / float64(m.TotalTrades)
	}
	if wins > 0 {
		m.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = lossSum / float64(losses)
	}
	if lossSum > 0 {
		m.ProfitFactor = winSum / lossSum
	}
	m.Expectancy = m.WinRate*m.AvgWin - (1-m.WinRate)*m.AvgLoss
}
