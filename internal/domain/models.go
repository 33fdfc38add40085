// Package domain holds the core data model shared by stores, providers,
// and the analytics modules.
package domain

import "time"

// Market identifies a trading venue.
type Market string

const (
	MarketHK Market = "HK"
	MarketUS Market = "US"
	MarketA  Market = "A"
)

// Valid reports whether m is a known market.
func (m Market) Valid() bool {
	switch m {
	case MarketHK, MarketUS, MarketA:
		return true
	}
	return false
}

// TradeSide is the direction of a fill.
type TradeSide string

const (
	TradeBuy  TradeSide = "BUY"
	TradeSell TradeSide = "SELL"
)

// PositionSide is the direction of a held position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Sign returns +1 for long exposure and -1 for short.
func (s PositionSide) Sign() float64 {
	if s == PositionShort {
		return -1
	}
	return 1
}

// AccountType distinguishes real from paper accounts.
type AccountType string

const (
	AccountReal     AccountType = "REAL"
	AccountSimulate AccountType = "SIMULATE"
)

// Instrument classifies a symbol for pairing and fee accounting.
type Instrument string

const (
	InstrumentStock  Instrument = "STOCK"
	InstrumentOption Instrument = "OPTION"
)

// Bar is a single daily OHLCV observation. Precomputed moving averages and
// OBV are optional and nil when not yet derived.
type Bar struct {
	Market      Market    `json:"market"`
	Code        string    `json:"code"`
	Date        time.Time `json:"date"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	Amount      *float64  `json:"amount,omitempty"`
	TurnoverPct *float64  `json:"turnover_rate,omitempty"`
	ChangePct   *float64  `json:"change_pct,omitempty"`
	MA5         *float64  `json:"ma5,omitempty"`
	MA10        *float64  `json:"ma10,omitempty"`
	MA20        *float64  `json:"ma20,omitempty"`
	MA60        *float64  `json:"ma60,omitempty"`
	OBV         *float64  `json:"obv,omitempty"`
}

// Validate checks the OHLC invariants. A violation means corrupt upstream
// data and is reported as an InternalAssert.
func (b Bar) Validate() error {
	if b.Low > b.High {
		return Assertf("bar %s.%s %s: low %.4f above high %.4f",
			b.Market, b.Code, b.Date.Format("2006-01-02"), b.Low, b.High)
	}
	if b.Low > b.Open || b.Low > b.Close {
		return Assertf("bar %s.%s %s: low %.4f above open/close",
			b.Market, b.Code, b.Date.Format("2006-01-02"), b.Low)
	}
	if b.High < b.Open || b.High < b.Close {
		return Assertf("bar %s.%s %s: high %.4f below open/close",
			b.Market, b.Code, b.Date.Format("2006-01-02"), b.High)
	}
	if b.Volume < 0 {
		return Assertf("bar %s.%s %s: negative volume",
			b.Market, b.Code, b.Date.Format("2006-01-02"))
	}
	return nil
}

// User owns accounts and watchlist entries.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is a broker account belonging to a user.
type Account struct {
	ID          int64       `json:"id"`
	UserID      int64       `json:"user_id"`
	BrokerAccID string      `json:"broker_acc_id"`
	Type        AccountType `json:"type"`
	Market      Market      `json:"market"`
	Currency    string      `json:"currency"`
	Active      bool        `json:"active"`
}

// Position is a point-in-time holding snapshot. Snapshots are append-per-date
// and never updated in place.
type Position struct {
	ID           int64        `json:"id"`
	AccountID    int64        `json:"account_id"`
	SnapshotDate time.Time    `json:"snapshot_date"`
	Market       Market       `json:"market"`
	Code         string       `json:"code"`
	Name         string       `json:"name,omitempty"`
	Qty          float64      `json:"qty"`
	CanSellQty   float64      `json:"can_sell_qty"`
	CostPrice    float64      `json:"cost_price"`
	MarketPrice  float64      `json:"market_price"`
	MarketValue  float64      `json:"market_value"`
	PLValue      float64      `json:"pl_value"`
	PLRatio      float64      `json:"pl_ratio"`
	Side         PositionSide `json:"side"`
}

// Trade is a single execution (fill). DealID is the idempotency key within
// an account.
type Trade struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	DealID    string    `json:"deal_id"`
	OrderID   string    `json:"order_id,omitempty"`
	TradeTime time.Time `json:"trade_time"`
	Market    Market    `json:"market"`
	Code      string    `json:"code"`
	Name      string    `json:"name,omitempty"`
	Side      TradeSide `json:"side"`
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"`
	Fee       float64   `json:"fee"`
	Currency  string    `json:"currency,omitempty"`
}

// AccountSnapshot is a daily cash/assets snapshot for an account.
type AccountSnapshot struct {
	ID           int64     `json:"id"`
	AccountID    int64     `json:"account_id"`
	SnapshotDate time.Time `json:"snapshot_date"`
	TotalAssets  float64   `json:"total_assets"`
	Cash         float64   `json:"cash"`
	MarketValue  float64   `json:"market_value"`
	FrozenCash   float64   `json:"frozen_cash"`
	BuyingPower  float64   `json:"buying_power"`
	Currency     string    `json:"currency,omitempty"`
}

// WatchlistItem is a user-curated symbol. Rows are reconciled, not deleted:
// symbols that drop off upstream are flipped inactive.
type WatchlistItem struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Market    Market `json:"market"`
	Code      string `json:"code"`
	Name      string `json:"name,omitempty"`
	Group     string `json:"group,omitempty"`
	Notes     string `json:"notes,omitempty"`
	SortOrder int    `json:"sort_order"`
	Active    bool   `json:"active"`
}

// SyncType identifies a sync action.
type SyncType string

const (
	SyncPositions SyncType = "POSITIONS"
	SyncTrades    SyncType = "TRADES"
	SyncKlines    SyncType = "KLINES"
	SyncWatchlist SyncType = "WATCHLIST"
	SyncAll       SyncType = "ALL"
)

// SyncStatus is the terminal state of a sync action.
type SyncStatus string

const (
	SyncSuccess SyncStatus = "SUCCESS"
	SyncFailed  SyncStatus = "FAILED"
	SyncPartial SyncStatus = "PARTIAL"
)

// SyncLog records one sync action. Append-only.
type SyncLog struct {
	ID           int64      `json:"id"`
	UserID       *int64     `json:"user_id,omitempty"`
	RunID        string     `json:"run_id"`
	SyncType     SyncType   `json:"sync_type"`
	Status       SyncStatus `json:"status"`
	RecordsCount int        `json:"records_count"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// AlertKind is a price alert trigger condition.
type AlertKind string

const (
	AlertAbove      AlertKind = "ABOVE"
	AlertBelow      AlertKind = "BELOW"
	AlertChangeUp   AlertKind = "CHANGE_UP"
	AlertChangeDown AlertKind = "CHANGE_DOWN"
)

// PriceAlert is a persisted alert condition. Delivery is out of scope;
// triggered alerts are just state the API exposes.
type PriceAlert struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	Market      Market     `json:"market"`
	Code        string     `json:"code"`
	Kind        AlertKind  `json:"kind"`
	Threshold   float64    `json:"threshold"`
	Active      bool       `json:"active"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// RoundTrip is a paired open+close trade with realized P&L. Derived on
// demand by the pairing engine, never persisted.
type RoundTrip struct {
	Market     Market     `json:"market"`
	Code       string     `json:"code"`
	Name       string     `json:"name,omitempty"`
	Instrument Instrument `json:"instrument"`
	Qty        float64    `json:"qty"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   time.Time  `json:"exit_time"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	Multiplier float64    `json:"multiplier"`
	GrossPnL   float64    `json:"gross_pnl"`
	Fees       float64    `json:"fees"`
	NetPnL     float64    `json:"net_pnl"`
	PnLRatio   float64    `json:"pnl_ratio"`
	HoldDays   int        `json:"hold_days"`
}
