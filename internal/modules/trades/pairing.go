// Package trades pairs raw fills into round-trip trades and derives
// performance statistics from them.
package trades

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/domain"
)

// OpenLot is a buy fill (or remainder of one) not yet closed by a sell.
type OpenLot struct {
	AccountID int64         `json:"account_id"`
	DealID    string        `json:"deal_id"`
	Market    domain.Market `json:"market"`
	Code      string        `json:"code"`
	Qty       float64       `json:"qty"`
	Remaining float64       `json:"remaining"`
	Price     float64       `json:"price"`
	Fee       float64       `json:"fee"`
	EntryTime string        `json:"entry_time"`
}

// Residual is the unpaired remainder of a sell fill, a short-style
// exposure the fill history cannot explain.
type Residual struct {
	Fill      domain.Trade `json:"fill"`
	Remaining float64      `json:"remaining"`
}

// PairResult carries round trips plus whatever could not be paired.
type PairResult struct {
	RoundTrips    []domain.RoundTrip `json:"round_trips"`
	OpenLots      []OpenLot          `json:"open_lots"`
	UnpairedSells []Residual         `json:"unpaired_sells"`
}

// Pairer matches fills LIFO per (account, market, code) queue. Options
// carry a contract multiplier from the configured table.
type Pairer struct {
	multipliers *config.Multipliers
	log         zerolog.Logger
}

// NewPairer builds a pairer with the given multiplier table.
func NewPairer(multipliers *config.Multipliers, log zerolog.Logger) *Pairer {
	return &Pairer{
		multipliers: multipliers,
		log:         log.With().Str("module", "trades").Logger(),
	}
}

type lot struct {
	entry     domain.Trade
	remaining float64
}

// Pair processes fills in trade-time order. The most recent open lot is
// consumed first; a sell larger than the top lot splits it and keeps
// popping. Sells with no matching lots are returned as residuals.
func (p *Pairer) Pair(fills []domain.Trade) PairResult {
	sorted := make([]domain.Trade, len(fills))
	copy(sorted, fills)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TradeTime.Before(sorted[j].TradeTime)
	})

	var res PairResult
	stacks := make(map[string][]lot)

	for _, fill := range sorted {
		key := pairKey(fill)
		switch fill.Side {
		case domain.TradeBuy:
			stacks[key] = append(stacks[key], lot{entry: fill, remaining: fill.Qty})
		case domain.TradeSell:
			remaining := p.consumeSell(fill, stacks, key, &res)
			if remaining > 0 {
				res.UnpairedSells = append(res.UnpairedSells, Residual{Fill: fill, Remaining: remaining})
			}
		}
	}

	for _, stack := range stacks {
		for _, l := range stack {
			if l.remaining > 0 {
				res.OpenLots = append(res.OpenLots, OpenLot{
					AccountID: l.entry.AccountID,
					DealID:    l.entry.DealID,
					Market:    l.entry.Market,
					Code:      l.entry.Code,
					Qty:       l.entry.Qty,
					Remaining: l.remaining,
					Price:     l.entry.Price,
					Fee:       l.entry.Fee,
					EntryTime: l.entry.TradeTime.Format("2006-01-02 15:04:05"),
				})
			}
		}
	}
	sort.Slice(res.OpenLots, func(i, j int) bool {
		if res.OpenLots[i].Code != res.OpenLots[j].Code {
			return res.OpenLots[i].Code < res.OpenLots[j].Code
		}
		return res.OpenLots[i].EntryTime < res.OpenLots[j].EntryTime
	})

	p.log.Debug().
		Int("fills", len(fills)).
		Int("round_trips", len(res.RoundTrips)).
		Int("open_lots", len(res.OpenLots)).
		Int("unpaired_sells", len(res.UnpairedSells)).
		Msg("fills paired")
	return res
}

// consumeSell pops lots off the stack until the sell is satisfied and
// returns any unconsumed quantity.
func (p *Pairer) consumeSell(sell domain.Trade, stacks map[string][]lot, key string, res *PairResult) float64 {
	remaining := sell.Qty
	stack := stacks[key]

	for remaining > 0 && len(stack) > 0 {
		top := &stack[len(stack)-1]
		match := top.remaining
		if remaining < match {
			match = remaining
		}

		res.RoundTrips = append(res.RoundTrips, p.roundTrip(top.entry, sell, match))
		top.remaining -= match
		remaining -= match
		if top.remaining <= 0 {
			stack = stack[:len(stack)-1]
		}
	}
	stacks[key] = stack
	return remaining
}

// roundTrip closes match quantity of a lot against a sell. Fees are
// shared proportionally to the matched fraction of each fill.
func (p *Pairer) roundTrip(buy, sell domain.Trade, match float64) domain.RoundTrip {
	instrument := domain.ClassifyInstrument(buy.Market, buy.Code)
	multiplier := p.multipliers.Lookup(buy.Market, buy.Code)

	buyFee := 0.0
	if buy.Qty > 0 {
		buyFee = buy.Fee * match / buy.Qty
	}
	sellFee := 0.0
	if sell.Qty > 0 {
		sellFee = sell.Fee * match / sell.Qty
	}

	gross := (sell.Price - buy.Price) * match * multiplier
	fees := buyFee + sellFee
	net := gross - fees

	ratio := 0.0
	if cost := buy.Price * match * multiplier; cost > 0 {
		ratio = net / cost
	}

	entryDay := buy.TradeTime.Truncate(24 * 3600e9)
	exitDay := sell.TradeTime.Truncate(24 * 3600e9)
	holdDays := int(exitDay.Sub(entryDay).Hours() / 24)

	return domain.RoundTrip{
		Market:     buy.Market,
		Code:       buy.Code,
		Name:       buy.Name,
		Instrument: instrument,
		Qty:        match,
		EntryTime:  buy.TradeTime,
		ExitTime:   sell.TradeTime,
		EntryPrice: buy.Price,
		ExitPrice:  sell.Price,
		Multiplier: multiplier,
		GrossPnL:   gross,
		Fees:       fees,
		NetPnL:     net,
		PnLRatio:   ratio,
		HoldDays:   holdDays,
	}
}

func pairKey(fill domain.Trade) string {
	return fmt.Sprintf("%d|%s|%s", fill.AccountID, fill.Market, fill.Code)
}
