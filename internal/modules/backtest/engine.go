// Package backtest replays strategies over historical bars with
// deterministic position accounting and derives performance metrics.
package backtest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/indicators"
)

// IntentType is the direction of a strategy intent.
type IntentType string

const (
	IntentBuy  IntentType = "BUY"
	IntentSell IntentType = "SELL"
)

// Intent is a strategy's request to trade at the current bar's close.
type Intent struct {
	Type   IntentType
	Code   string
	Qty    float64
	Reason string
}

// AccountView is the read-only state handed to strategies.
type AccountView interface {
	Cash() float64
	Qty(code string) float64
	AvgCost(code string) float64
}

// Strategy emits intents per bar. OnEnd is called once after the last
// bar, before the final forced liquidation check.
type Strategy interface {
	Name() string
	OnBar(ctx context.Context, bar domain.Bar, acct AccountView) []Intent
	OnEnd(ctx context.Context)
}

// FeeModel prices the fee for one execution.
type FeeModel interface {
	Fee(qty, price float64) float64
}

// RateFee charges a flat fraction of notional.
type RateFee struct {
	Rate float64
}

func (f RateFee) Fee(qty, price float64) float64 { return qty * price * f.Rate }

// NoFee is the slippage-free, fee-free baseline.
type NoFee struct{}

func (NoFee) Fee(float64, float64) float64 { return 0 }

// Config drives one engine run.
type Config struct {
	InitialCash float64
	Fee         FeeModel
	// CloseAtEnd liquidates any open position at the final close so the
	// trade log covers the whole run.
	CloseAtEnd bool
}

// DefaultEngineConfig returns the baseline run settings.
func DefaultEngineConfig() Config {
	return Config{InitialCash: 100000, Fee: NoFee{}, CloseAtEnd: false}
}

// positionState is one holding inside the engine.
type positionState struct {
	Qty       float64
	AvgCost   float64
	EntryTime time.Time
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
}

// ExecutedTrade is one entry of the trade log, including rejected
// intents.
type ExecutedTrade struct {
	Time     time.Time  `json:"time"`
	Code     string     `json:"code"`
	Type     IntentType `json:"type"`
	Qty      float64    `json:"qty"`
	Price    float64    `json:"price"`
	Fee      float64    `json:"fee"`
	PnL      float64    `json:"pnl"` // realized, sells only
	HoldDays int        `json:"hold_days"`
	Reason   string     `json:"reason,omitempty"`
	Rejected bool       `json:"rejected"`
}

// Position is the externally visible holding state after a run.
type Position struct {
	Code    string  `json:"code"`
	Qty     float64 `json:"qty"`
	AvgCost float64 `json:"avg_cost"`
}

// Result is the outcome of one engine run.
type Result struct {
	StrategyName string              `json:"strategy_name"`
	Symbol       string              `json:"symbol"`
	StartDate    time.Time           `json:"start_date"`
	EndDate      time.Time           `json:"end_date"`
	InitialCash  float64             `json:"initial_cash"`
	FinalCash    float64             `json:"final_cash"`
	FinalEquity  float64             `json:"final_equity"`
	Positions    map[string]Position `json:"positions"`
	EquityCurve  []EquityPoint       `json:"equity_curve"`
	TradeLog     []ExecutedTrade     `json:"trade_log"`
	Metrics      Metrics             `json:"metrics"`
}

// Engine replays one bar series through a strategy. An engine is
// single-use; construct a fresh one per run.
type Engine struct {
	cfg       Config
	strategy  Strategy
	log       zerolog.Logger
	cash      float64
	positions map[string]*positionState
	lastPrice map[string]float64
}

// NewEngine builds an engine for one run.
func NewEngine(cfg Config, strategy Strategy, log zerolog.Logger) *Engine {
	if cfg.Fee == nil {
		cfg.Fee = NoFee{}
	}
	return &Engine{
		cfg:       cfg,
		strategy:  strategy,
		log:       log.With().Str("module", "backtest").Str("strategy", strategy.Name()).Logger(),
		cash:      cfg.InitialCash,
		positions: make(map[string]*positionState),
		lastPrice: make(map[string]float64),
	}
}

func (e *Engine) Cash() float64 { return e.cash }

func (e *Engine) Qty(code string) float64 {
	if p, ok := e.positions[code]; ok {
		return p.Qty
	}
	return 0
}

func (e *Engine) AvgCost(code string) float64 {
	if p, ok := e.positions[code]; ok {
		return p.AvgCost
	}
	return 0
}

// Run replays the bars in order. Intents execute at the close of the
// bar that produced them; intents that would drive cash negative are
// rejected and logged, not errors.
func (e *Engine) Run(ctx context.Context, bars []domain.Bar) (Result, error) {
	if err := indicators.ValidateBars(bars); err != nil {
		return Result{}, err
	}
	if len(bars) == 0 {
		return Result{}, domain.Errorf(domain.KindInvalidInput, "backtest: empty bar series")
	}

	res := Result{
		StrategyName: e.strategy.Name(),
		Symbol:       string(bars[0].Market) + "." + bars[0].Code,
		StartDate:    bars[0].Date,
		EndDate:      bars[len(bars)-1].Date,
		InitialCash:  e.cfg.InitialCash,
		Positions:    make(map[string]Position),
	}

	for _, bar := range bars {
		if err := ctx.Err(); err != nil {
			return Result{}, domain.NewError(domain.KindTransient, err)
		}

		e.lastPrice[bar.Code] = bar.Close

		for _, intent := range e.strategy.OnBar(ctx, bar, e) {
			if intent.Code == "" {
				intent.Code = bar.Code
			}
			res.TradeLog = append(res.TradeLog, e.execute(intent, bar))
		}

		res.EquityCurve = append(res.EquityCurve, EquityPoint{Date: bar.Date, Equity: e.equity()})
	}

	e.strategy.OnEnd(ctx)

	if e.cfg.CloseAtEnd {
		last := bars[len(bars)-1]
		for code, p := range e.positions {
			if p.Qty > 0 {
				res.TradeLog = append(res.TradeLog, e.execute(Intent{
					Type: IntentSell, Code: code, Qty: p.Qty, Reason: "end of run",
				}, last))
			}
		}
		res.EquityCurve[len(res.EquityCurve)-1] = EquityPoint{Date: last.Date, Equity: e.equity()}
	}

	for code, p := range e.positions {
		if p.Qty > 0 {
			res.Positions[code] = Position{Code: code, Qty: p.Qty, AvgCost: p.AvgCost}
		}
	}
	res.FinalCash = e.cash
	res.FinalEquity = e.equity()
	res.Metrics = calculateMetrics(res)

	e.log.Debug().
		Int("bars", len(bars)).
		Int("trades", len(res.TradeLog)).
		Float64("final_equity", res.FinalEquity).
		Msg("backtest complete")
	return res, nil
}

// equity marks every open position at its latest close.
func (e *Engine) equity() float64 {
	eq := e.cash
	for code, p := range e.positions {
		eq += p.Qty * e.lastPrice[code]
	}
	return eq
}

func (e *Engine) execute(intent Intent, bar domain.Bar) ExecutedTrade {
	trade := ExecutedTrade{
		Time:  bar.Date,
		Code:  intent.Code,
		Type:  intent.Type,
		Qty:   intent.Qty,
		Price: bar.Close,
	}
	if intent.Qty <= 0 {
		trade.Rejected = true
		trade.Reason = "non-positive quantity"
		return trade
	}

	switch intent.Type {
	case IntentBuy:
		fee := e.cfg.Fee.Fee(intent.Qty, bar.Close)
		cost := intent.Qty*bar.Close + fee
		if cost > e.cash {
			trade.Rejected = true
			trade.Reason = "insufficient cash"
			e.log.Debug().Str("code", intent.Code).Float64("cost", cost).
				Float64("cash", e.cash).Msg("buy intent rejected")
			return trade
		}
		p, ok := e.positions[intent.Code]
		if !ok {
			p = &positionState{}
			e.positions[intent.Code] = p
		}
		if p.Qty == 0 {
			p.EntryTime = bar.Date
		}
		p.AvgCost = (p.AvgCost*p.Qty + bar.Close*intent.Qty) / (p.Qty + intent.Qty)
		p.Qty += intent.Qty
		e.cash -= cost
		trade.Fee = fee
		trade.Reason = intent.Reason

	case IntentSell:
		p, ok := e.positions[intent.Code]
		if !ok || p.Qty < intent.Qty {
			trade.Rejected = true
			trade.Reason = "insufficient position"
			return trade
		}
		fee := e.cfg.Fee.Fee(intent.Qty, bar.Close)
		proceeds := intent.Qty*bar.Close - fee
		e.cash += proceeds
		trade.Fee = fee
		trade.PnL = (bar.Close-p.AvgCost)*intent.Qty - fee
		trade.HoldDays = int(bar.Date.Sub(p.EntryTime).Hours() / 24)
		trade.Reason = intent.Reason
		p.Qty -= intent.Qty
		if p.Qty == 0 {
			p.AvgCost = 0
		}

	default:
		trade.Rejected = true
		trade.Reason = "unknown intent type"
	}
	return trade
}
