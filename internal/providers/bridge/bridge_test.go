package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/spyglass/internal/domain"
)

func gateway(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, zerolog.Nop())
}

func TestFetchBars(t *testing.T) {
	var gotQuery map[string]string
	c := gateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/bars", r.URL.Path)
		gotQuery = map[string]string{
			"market": r.URL.Query().Get("market"),
			"code":   r.URL.Query().Get("code"),
			"from":   r.URL.Query().Get("from"),
			"to":     r.URL.Query().Get("to"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"date":"2025-06-02","open":100,"high":102,"low":99,"close":101,"volume":5000,"turnover":505000,"change_pct":1.2},
			{"date":"2025-06-03","open":101,"high":103,"low":100,"close":102,"volume":6000,"turnover":612000,"change_pct":0.99}
		]`))
	})

	from := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	bars, err := c.FetchBars(context.Background(), domain.MarketUS, "AAPL", from, to)
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "US", gotQuery["market"])
	assert.Equal(t, "AAPL", gotQuery["code"])
	assert.Equal(t, "2025-06-02", gotQuery["from"])
	assert.Equal(t, "2025-06-03", gotQuery["to"])

	assert.Equal(t, domain.MarketUS, bars[0].Market)
	assert.Equal(t, "AAPL", bars[0].Code)
	assert.Equal(t, from, bars[0].Date)
	assert.Equal(t, 101.0, bars[0].Close)
	assert.Equal(t, 6000.0, bars[1].Volume)

	// Turnover lands in Amount; both optional columns come back non-nil.
	require.NotNil(t, bars[0].Amount)
	assert.Equal(t, 505000.0, *bars[0].Amount)
	require.NotNil(t, bars[1].ChangePct)
	assert.Equal(t, 0.99, *bars[1].ChangePct)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   domain.ErrorKind
	}{
		{"not found", http.StatusNotFound, domain.KindNotFound},
		{"rate limited", http.StatusTooManyRequests, domain.KindRateLimited},
		{"server error", http.StatusBadGateway, domain.KindTransient},
		{"unexpected status", http.StatusForbidden, domain.KindProviderInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := gateway(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := c.FetchBars(context.Background(), domain.MarketUS, "AAPL",
				time.Now().AddDate(0, 0, -1), time.Now())
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.KindOf(err))
		})
	}
}

func TestUnparseablePayload(t *testing.T) {
	c := gateway(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	})
	_, err := c.ListAccounts(context.Background(), "demo")
	require.Error(t, err)
	assert.Equal(t, domain.KindProviderInvalid, domain.KindOf(err))
}

func TestBadBarDate(t *testing.T) {
	c := gateway(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"date":"yesterday","close":1}]`))
	})
	_, err := c.FetchBars(context.Background(), domain.MarketUS, "AAPL",
		time.Now().AddDate(0, 0, -1), time.Now())
	require.Error(t, err)
	assert.Equal(t, domain.KindProviderInvalid, domain.KindOf(err))
}

func TestGatewayUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", zerolog.Nop())
	_, err := c.FetchWatchlist(context.Background(), "demo")
	require.Error(t, err)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
}

func TestBrokerEndpoints(t *testing.T) {
	c := gateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/accounts":
			assert.Equal(t, "demo", r.URL.Query().Get("user"))
			_, _ = w.Write([]byte(`[{"broker_acc_id":"ACC1","type":"REAL","market":"US","currency":"USD"}]`))
		case "/api/accounts/ACC1/positions":
			_, _ = w.Write([]byte(`[{"market":"US","code":"AAPL","qty":10,"cost_price":150,"market_price":180,"side":"LONG"}]`))
		case "/api/accounts/ACC1/balance":
			_, _ = w.Write([]byte(`{"total_assets":10000,"cash":8200,"market_value":1800,"currency":"USD"}`))
		case "/api/accounts/ACC1/deals/today":
			_, _ = w.Write([]byte(`[{"deal_id":"D1","market":"US","code":"AAPL","side":"BUY","qty":10,"price":150,"trade_time":"2025-06-02T14:30:00Z"}]`))
		case "/api/watchlist":
			_, _ = w.Write([]byte(`[{"market":"HK","code":"00700","name":"Tencent"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	accounts, err := c.ListAccounts(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "ACC1", accounts[0].BrokerAccID)
	assert.Equal(t, domain.AccountReal, accounts[0].Type)

	positions, err := c.FetchPositions(ctx, "ACC1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 10.0, positions[0].Qty)
	assert.Equal(t, domain.PositionLong, positions[0].Side)

	balance, err := c.FetchAccountInfo(ctx, "ACC1")
	require.NoError(t, err)
	assert.Equal(t, 8200.0, balance.Cash)

	deals, err := c.FetchTodayDeals(ctx, "ACC1")
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, "D1", deals[0].DealID)
	assert.Equal(t, domain.TradeBuy, deals[0].Side)

	items, err := c.FetchWatchlist(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.MarketHK, items[0].Market)
}
