// Package providers defines the narrow interfaces through which the engine
// pulls market data and account state. Implementations own connection
// handshakes and authentication; the engine only sees already-usable
// sessions and must pass a context so in-flight calls can be cancelled.
package providers

import (
	"context"
	"time"

	"github.com/aristath/spyglass/internal/domain"
)

// QuoteProvider fetches daily bars for a symbol. Bars come back ascending
// by date, covering full calendar days within [from, to].
type QuoteProvider interface {
	FetchBars(ctx context.Context, market domain.Market, code string, from, to time.Time) ([]domain.Bar, error)
}

// BrokerAccount is the provider-side description of a trading account.
type BrokerAccount struct {
	BrokerAccID string             `json:"broker_acc_id"`
	Type        domain.AccountType `json:"type"`
	Market      domain.Market      `json:"market"`
	Currency    string             `json:"currency"`
}

// AccountBalance is a provider cash/assets snapshot.
type AccountBalance struct {
	TotalAssets float64 `json:"total_assets"`
	Cash        float64 `json:"cash"`
	MarketValue float64 `json:"market_value"`
	FrozenCash  float64 `json:"frozen_cash"`
	BuyingPower float64 `json:"buying_power"`
	Currency    string  `json:"currency"`
}

// BrokerPosition is a provider-side holding.
type BrokerPosition struct {
	Market      domain.Market       `json:"market"`
	Code        string              `json:"code"`
	Name        string              `json:"name"`
	Qty         float64             `json:"qty"`
	CanSellQty  float64             `json:"can_sell_qty"`
	CostPrice   float64             `json:"cost_price"`
	MarketPrice float64             `json:"market_price"`
	MarketValue float64             `json:"market_value"`
	PLValue     float64             `json:"pl_value"`
	PLRatio     float64             `json:"pl_ratio"`
	Side        domain.PositionSide `json:"side"`
}

// BrokerDeal is a provider-side execution fill.
type BrokerDeal struct {
	DealID    string           `json:"deal_id"`
	OrderID   string           `json:"order_id"`
	TradeTime time.Time        `json:"trade_time"`
	Market    domain.Market    `json:"market"`
	Code      string           `json:"code"`
	Name      string           `json:"name"`
	Side      domain.TradeSide `json:"side"`
	Qty       float64          `json:"qty"`
	Price     float64          `json:"price"`
	Amount    float64          `json:"amount"`
	Fee       float64          `json:"fee"`
	Currency  string           `json:"currency"`
}

// BrokerWatchlistItem is a provider-side watchlist entry.
type BrokerWatchlistItem struct {
	Market    domain.Market `json:"market"`
	Code      string        `json:"code"`
	Name      string        `json:"name"`
	Group     string        `json:"group"`
	SortOrder int           `json:"sort_order"`
}

// BrokerProvider exposes account state from an already-connected broker
// session.
type BrokerProvider interface {
	ListAccounts(ctx context.Context, user string) ([]BrokerAccount, error)
	FetchPositions(ctx context.Context, brokerAccID string) ([]BrokerPosition, error)
	FetchAccountInfo(ctx context.Context, brokerAccID string) (AccountBalance, error)
	FetchTodayDeals(ctx context.Context, brokerAccID string) ([]BrokerDeal, error)
	FetchHistoricalDeals(ctx context.Context, brokerAccID string, from, to time.Time) ([]BrokerDeal, error)
	FetchWatchlist(ctx context.Context, user string) ([]BrokerWatchlistItem, error)
}
