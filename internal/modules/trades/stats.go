package trades

import (
	"sort"

	"github.com/aristath/spyglass/internal/domain"
)

// noLossRatio stands in for the profit/loss ratio when there are wins
// but no losing trades.
const noLossRatio = 999

// MarketStats is the per-market breakdown over stock round trips.
type MarketStats struct {
	Market        domain.Market `json:"market"`
	TotalTrades   int           `json:"total_trades"`
	WinningTrades int           `json:"winning_trades"`
	LosingTrades  int           `json:"losing_trades"`
	TotalProfit   float64       `json:"total_profit"`
	TotalLoss     float64       `json:"total_loss"`
	NetProfit     float64       `json:"net_profit"`
	WinRate       float64       `json:"win_rate"`
}

// SymbolStats is the per-symbol breakdown over stock round trips.
type SymbolStats struct {
	Market        domain.Market `json:"market"`
	Code          string        `json:"code"`
	Name          string        `json:"name,omitempty"`
	TradeCount    int           `json:"trade_count"`
	WinningTrades int           `json:"winning_trades"`
	TotalProfit   float64       `json:"total_profit"`
	TotalLoss     float64       `json:"total_loss"`
	NetProfit     float64       `json:"net_profit"`
	WinRate       float64       `json:"win_rate"`
}

// Ranking is one entry in the best/worst trade tables.
type Ranking struct {
	Rank      int           `json:"rank"`
	Market    domain.Market `json:"market"`
	Code      string        `json:"code"`
	Name      string        `json:"name,omitempty"`
	NetPnL    float64       `json:"net_pnl"`
	PnLRatio  float64       `json:"pnl_ratio"`
	EntryDate string        `json:"entry_date"`
	ExitDate  string        `json:"exit_date"`
	HoldDays  int           `json:"hold_days"`
}

// Bucket is one band of the pnl-ratio histogram. The outermost bands are
// open-ended, marked by a nil bound; JSON cannot carry infinities.
type Bucket struct {
	Name  string   `json:"name"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Count int      `json:"count"`
}

// MonthlyStats aggregates round trips by exit month.
type MonthlyStats struct {
	Month         string  `json:"month"` // YYYY-MM
	TradeCount    int     `json:"trade_count"`
	WinningTrades int     `json:"winning_trades"`
	TotalProfit   float64 `json:"total_profit"`
	TotalLoss     float64 `json:"total_loss"`
	NetProfit     float64 `json:"net_profit"`
	WinRate       float64 `json:"win_rate"`
}

// Statistics is the full derived picture. Headline numbers cover stock
// round trips; options are tallied separately.
type Statistics struct {
	TotalTrades     int     `json:"total_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	BreakevenTrades int     `json:"breakeven_trades"`
	WinRate         float64 `json:"win_rate"`

	TotalProfit     float64 `json:"total_profit"`
	TotalLoss       float64 `json:"total_loss"`
	NetProfit       float64 `json:"net_profit"`
	AvgProfit       float64 `json:"avg_profit"`
	AvgLoss         float64 `json:"avg_loss"`
	ProfitLossRatio float64 `json:"profit_loss_ratio"`
	Expectancy      float64 `json:"expectancy"`

	AvgHoldDays        float64 `json:"avg_hold_days"`
	AvgWinningHoldDays float64 `json:"avg_winning_hold_days"`
	AvgLosingHoldDays  float64 `json:"avg_losing_hold_days"`
	MaxHoldDays        int     `json:"max_hold_days"`
	MinHoldDays        int     `json:"min_hold_days"`

	Markets    []MarketStats  `json:"markets"`
	Symbols    []SymbolStats  `json:"symbols"`
	TopWinners []Ranking      `json:"top_winners"`
	TopLosers  []Ranking      `json:"top_losers"`
	Buckets    []Bucket       `json:"buckets"`
	Monthly    []MonthlyStats `json:"monthly"`

	OptionTrades    int     `json:"option_trades"`
	OptionWinning   int     `json:"option_winning"`
	OptionNetProfit float64 `json:"option_net_profit"`
	OptionWinRate   float64 `json:"option_win_rate"`

	TotalFees  float64 `json:"total_fees"`
	StockFees  float64 `json:"stock_fees"`
	OptionFees float64 `json:"option_fees"`
}

func bucketBands() []Bucket {
	bound := func(v float64) *float64 { return &v }
	return []Bucket{
		{Name: "<-50%", Max: bound(-0.5)},
		{Name: "-50%~-30%", Min: bound(-0.5), Max: bound(-0.3)},
		{Name: "-30%~-20%", Min: bound(-0.3), Max: bound(-0.2)},
		{Name: "-20%~-10%", Min: bound(-0.2), Max: bound(-0.1)},
		{Name: "-10%~0%", Min: bound(-0.1), Max: bound(0)},
		{Name: "0~10%", Min: bound(0), Max: bound(0.1)},
		{Name: "10%~20%", Min: bound(0.1), Max: bound(0.2)},
		{Name: "20%~30%", Min: bound(0.2), Max: bound(0.3)},
		{Name: "30%~50%", Min: bound(0.3), Max: bound(0.5)},
		{Name: ">50%", Min: bound(0.5)},
	}
}

// Calculate derives the full statistics set from paired round trips.
func Calculate(roundTrips []domain.RoundTrip, topN int) Statistics {
	var stats Statistics
	if len(roundTrips) == 0 {
		stats.Buckets = bucketBands()
		return stats
	}
	if topN <= 0 {
		topN = 5
	}

	var stocks, options []domain.RoundTrip
	for _, rt := range roundTrips {
		if rt.Instrument == domain.InstrumentOption {
			options = append(options, rt)
		} else {
			stocks = append(stocks, rt)
		}
	}

	overall(stocks, &stats)
	optionStats(options, &stats)
	holdingStats(stocks, &stats)
	stats.Markets = marketBreakdown(stocks)
	stats.Symbols = symbolBreakdown(stocks)
	stats.TopWinners, stats.TopLosers = rankings(stocks, topN)
	stats.Buckets = histogram(stocks)
	stats.Monthly = monthly(stocks)
	return stats
}

func overall(rts []domain.RoundTrip, stats *Statistics) {
	stats.TotalTrades = len(rts)
	for _, rt := range rts {
		stats.StockFees += rt.Fees
		switch {
		case rt.NetPnL > 0:
			stats.WinningTrades++
			stats.TotalProfit += rt.NetPnL
		case rt.NetPnL < 0:
			stats.LosingTrades++
			stats.TotalLoss += -rt.NetPnL
		default:
			stats.BreakevenTrades++
		}
	}
	stats.NetProfit = stats.TotalProfit - stats.TotalLoss
	stats.TotalFees = stats.StockFees

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
		stats.Expectancy = stats.NetProfit / float64(stats.TotalTrades)
	}
	if stats.WinningTrades > 0 {
		stats.AvgProfit = stats.TotalProfit / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AvgLoss = stats.TotalLoss / float64(stats.LosingTrades)
	}
	switch {
	case stats.AvgLoss > 0:
		stats.ProfitLossRatio = stats.AvgProfit / stats.AvgLoss
	case stats.AvgProfit > 0:
		stats.ProfitLossRatio = noLossRatio
	}
}

func optionStats(rts []domain.RoundTrip, stats *Statistics) {
	stats.OptionTrades = len(rts)
	for _, rt := range rts {
		if rt.NetPnL > 0 {
			stats.OptionWinning++
		}
		stats.OptionNetProfit += rt.NetPnL
		stats.OptionFees += rt.Fees
	}
	if stats.OptionTrades > 0 {
		stats.OptionWinRate = float64(stats.OptionWinning) / float64(stats.OptionTrades)
	}
	stats.TotalFees = stats.StockFees + stats.OptionFees
}

func holdingStats(rts []domain.RoundTrip, stats *Statistics) {
	var all, wins, losses []int
	for _, rt := range rts {
		if rt.HoldDays < 0 {
			continue
		}
		all = append(all, rt.HoldDays)
		if rt.NetPnL > 0 {
			wins = append(wins, rt.HoldDays)
		} else if rt.NetPnL < 0 {
			losses = append(losses, rt.HoldDays)
		}
	}
	if len(all) > 0 {
		stats.AvgHoldDays = meanInt(all)
		stats.MaxHoldDays = all[0]
		stats.MinHoldDays = all[0]
		for _, d := range all {
			if d > stats.MaxHoldDays {
				stats.MaxHoldDays = d
			}
			if d < stats.MinHoldDays {
				stats.MinHoldDays = d
			}
		}
	}
	if len(wins) > 0 {
		stats.AvgWinningHoldDays = meanInt(wins)
	}
	if len(losses) > 0 {
		stats.AvgLosingHoldDays = meanInt(losses)
	}
}

func meanInt(vals []int) float64 {
	sum := 0
	for _, v := range vals {
		sum += v
	}
	return float64(sum) / float64(len(vals))
}

func marketBreakdown(rts []domain.RoundTrip) []MarketStats {
	byMarket := make(map[domain.Market]*MarketStats)
	for _, rt := range rts {
		ms, ok := byMarket[rt.Market]
		if !ok {
			ms = &MarketStats{Market: rt.Market}
			byMarket[rt.Market] = ms
		}
		ms.TotalTrades++
		if rt.NetPnL > 0 {
			ms.WinningTrades++
			ms.TotalProfit += rt.NetPnL
		} else if rt.NetPnL < 0 {
			ms.LosingTrades++
			ms.TotalLoss += -rt.NetPnL
		}
		ms.NetProfit += rt.NetPnL
	}

	out := make([]MarketStats, 0, len(byMarket))
	for _, ms := range byMarket {
		if ms.TotalTrades > 0 {
			ms.WinRate = float64(ms.WinningTrades) / float64(ms.TotalTrades)
		}
		out = append(out, *ms)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Market < out[j].Market })
	return out
}

func symbolBreakdown(rts []domain.RoundTrip) []SymbolStats {
	bySymbol := make(map[string]*SymbolStats)
	for _, rt := range rts {
		key := string(rt.Market) + "." + rt.Code
		ss, ok := bySymbol[key]
		if !ok {
			ss = &SymbolStats{Market: rt.Market, Code: rt.Code, Name: rt.Name}
			bySymbol[key] = ss
		}
		ss.TradeCount++
		if rt.NetPnL > 0 {
			ss.WinningTrades++
			ss.TotalProfit += rt.NetPnL
		} else if rt.NetPnL < 0 {
			ss.TotalLoss += -rt.NetPnL
		}
		ss.NetProfit += rt.NetPnL
	}

	out := make([]SymbolStats, 0, len(bySymbol))
	for _, ss := range bySymbol {
		if ss.TradeCount > 0 {
			ss.WinRate = float64(ss.WinningTrades) / float64(ss.TradeCount)
		}
		out = append(out, *ss)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TradeCount != out[j].TradeCount {
			return out[i].TradeCount > out[j].TradeCount
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// rankings returns the top winners (net pnl > 0) and worst losers
// (net pnl < 0), each at most topN long.
func rankings(rts []domain.RoundTrip, topN int) (winners, losers []Ranking) {
	ranked := make([]domain.RoundTrip, len(rts))
	copy(ranked, rts)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].NetPnL > ranked[j].NetPnL })

	for i := 0; i < len(ranked) && i < topN; i++ {
		if ranked[i].NetPnL <= 0 {
			break
		}
		winners = append(winners, toRanking(ranked[i], len(winners)+1))
	}
	for i := len(ranked) - 1; i >= 0 && len(losers) < topN; i-- {
		if ranked[i].NetPnL >= 0 {
			break
		}
		losers = append(losers, toRanking(ranked[i], len(losers)+1))
	}
	return winners, losers
}

func toRanking(rt domain.RoundTrip, rank int) Ranking {
	return Ranking{
		Rank:      rank,
		Market:    rt.Market,
		Code:      rt.Code,
		Name:      rt.Name,
		NetPnL:    rt.NetPnL,
		PnLRatio:  rt.PnLRatio,
		EntryDate: rt.EntryTime.Format("2006-01-02"),
		ExitDate:  rt.ExitTime.Format("2006-01-02"),
		HoldDays:  rt.HoldDays,
	}
}

func histogram(rts []domain.RoundTrip) []Bucket {
	buckets := bucketBands()
	for _, rt := range rts {
		for i := range buckets {
			if buckets[i].Min != nil && rt.PnLRatio < *buckets[i].Min {
				continue
			}
			if buckets[i].Max != nil && rt.PnLRatio >= *buckets[i].Max {
				continue
			}
			buckets[i].Count++
			break
		}
	}
	return buckets
}

func monthly(rts []domain.RoundTrip) []MonthlyStats {
	byMonth := make(map[string]*MonthlyStats)
	for _, rt := range rts {
		month := rt.ExitTime.Format("2006-01")
		ms, ok := byMonth[month]
		if !ok {
			ms = &MonthlyStats{Month: month}
			byMonth[month] = ms
		}
		ms.TradeCount++
		if rt.NetPnL > 0 {
			ms.WinningTrades++
			ms.TotalProfit += rt.NetPnL
		} else if rt.NetPnL < 0 {
			ms.TotalLoss += -rt.NetPnL
		}
		ms.NetProfit += rt.NetPnL
	}

	out := make([]MonthlyStats, 0, len(byMonth))
	for _, ms := range byMonth {
		if ms.TradeCount > 0 {
			ms.WinRate = float64(ms.WinningTrades) / float64(ms.TradeCount)
		}
		out = append(out, *ms)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}
