package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/spyglass/internal/cache"
	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/database"
	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/alerts"
	"github.com/aristath/spyglass/internal/modules/portfolio"
	"github.com/aristath/spyglass/internal/modules/scoring"
	"github.com/aristath/spyglass/internal/modules/trades"
	"github.com/aristath/spyglass/internal/providers"
	"github.com/aristath/spyglass/internal/store"
	"github.com/aristath/spyglass/internal/syncer"
)

type fakeQuotes struct{}

func (fakeQuotes) FetchBars(_ context.Context, market domain.Market, code string, from, to time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	i := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		price := 100 + float64(i)
		bars = append(bars, domain.Bar{
			Market: market, Code: code, Date: d,
			Open: price, High: price + 1, Low: price - 1, Close: price,
			Volume: 10000,
		})
		i++
	}
	return bars, nil
}

type fakeBroker struct{}

func (fakeBroker) ListAccounts(context.Context, string) ([]providers.BrokerAccount, error) {
	return []providers.BrokerAccount{
		{BrokerAccID: "ACC1", Type: domain.AccountReal, Market: domain.MarketUS, Currency: "USD"},
	}, nil
}

func (fakeBroker) FetchPositions(context.Context, string) ([]providers.BrokerPosition, error) {
	return []providers.BrokerPosition{
		{Market: domain.MarketUS, Code: "AAPL", Name: "Apple", Qty: 10,
			CostPrice: 150, MarketPrice: 180, MarketValue: 1800, PLValue: 300, PLRatio: 0.2,
			Side: domain.PositionLong},
	}, nil
}

func (fakeBroker) FetchAccountInfo(context.Context, string) (providers.AccountBalance, error) {
	return providers.AccountBalance{TotalAssets: 10000, Cash: 8200, MarketValue: 1800, Currency: "USD"}, nil
}

func (fakeBroker) FetchTodayDeals(context.Context, string) ([]providers.BrokerDeal, error) {
	return nil, nil
}

func (fakeBroker) FetchHistoricalDeals(context.Context, string, time.Time, time.Time) ([]providers.BrokerDeal, error) {
	return nil, nil
}

func (fakeBroker) FetchWatchlist(context.Context, string) ([]providers.BrokerWatchlistItem, error) {
	return []providers.BrokerWatchlistItem{
		{Market: domain.MarketUS, Code: "NVDA", Name: "NVIDIA"},
	}, nil
}

type fixture struct {
	srv  *Server
	deps Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	nop := zerolog.Nop()
	conn := db.Conn()

	deps := Deps{
		Cfg: &config.Config{
			Port:      0,
			DataDir:   t.TempDir(),
			KlineDays: 365,
		},
		DB:        db,
		Users:     store.NewUserRepository(conn, nop),
		Accounts:  store.NewAccountRepository(conn, nop),
		Positions: store.NewPositionRepository(conn, nop),
		Trades:    store.NewTradeRepository(conn, nop),
		Snapshots: store.NewSnapshotRepository(conn, nop),
		Watchlist: store.NewWatchlistRepository(conn, nop),
		Bars:      store.NewBarRepository(conn, nop),
		SyncLogs:  store.NewSyncLogRepository(conn, nop),
		Alerts:    store.NewAlertRepository(conn, nop),
		Cache:     cache.New(time.Minute, nop),
		Scorer:    scoring.NewScorer(scoring.DefaultConfig(), nop),
		Analyzer:  portfolio.NewAnalyzer(portfolio.DefaultConfig(), nop),
		Pairer:    trades.NewPairer(config.DefaultMultipliers(), nop),
		Log:       nop,
	}

	opts := syncer.DefaultOptions()
	opts.RetryBase = time.Millisecond
	deps.Syncer = syncer.New(opts, fakeQuotes{}, fakeBroker{}, syncer.Stores{
		Accounts:  deps.Accounts,
		Positions: deps.Positions,
		Trades:    deps.Trades,
		Snapshots: deps.Snapshots,
		Watchlist: deps.Watchlist,
		Bars:      deps.Bars,
		SyncLogs:  deps.SyncLogs,
	}, deps.Cache, nop)
	deps.Evaluator = alerts.NewEvaluator(deps.Alerts, deps.Bars, nop)

	return &fixture{srv: New(deps), deps: deps}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func (f *fixture) seedUser(t *testing.T, name string) domain.User {
	t.Helper()
	user, err := f.deps.Users.Create(context.Background(), name)
	require.NoError(t, err)
	return user
}

func (f *fixture) seedBars(t *testing.T, market domain.Market, code string, days int) {
	t.Helper()
	end := time.Now().UTC().Truncate(24 * time.Hour)
	var bars []domain.Bar
	for i := days - 1; i >= 0; i-- {
		price := 100 + float64(days-1-i)
		bars = append(bars, domain.Bar{
			Market: market, Code: code, Date: end.AddDate(0, 0, -i),
			Open: price, High: price + 1, Low: price - 1, Close: price,
			Volume: 10000 + 100*float64(days-1-i),
		})
	}
	_, err := f.deps.Bars.UpsertBatch(context.Background(), bars)
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decode(t, rec, &resp)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "ok", resp["database"])
	assert.Contains(t, resp, "cache")
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/users", map[string]string{"username": "demo"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var user domain.User
	decode(t, rec, &user)
	assert.Equal(t, "demo", user.Username)
	assert.NotZero(t, user.ID)

	rec = f.do(t, http.MethodPost, "/api/users", map[string]string{"username": "demo"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/users", map[string]string{"username": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t)
	f.seedBars(t, domain.MarketUS, "AAPL", 140)

	rec := f.do(t, http.MethodGet, "/api/analyze/US.AAPL", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result scoring.Result
	decode(t, rec, &result)
	assert.Equal(t, "US.AAPL", result.Symbol)
	assert.Greater(t, result.Composite, 50.0)
	assert.NotEmpty(t, result.Rating)

	// Second call is served from the cache.
	rec = f.do(t, http.MethodGet, "/api/analyze/US.AAPL", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := f.deps.Cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
}

func TestAnalyzeErrors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/analyze/XX.123", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/analyze/US.GONE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVCPAndPatterns(t *testing.T) {
	f := newFixture(t)
	f.seedBars(t, domain.MarketUS, "AAPL", 120)

	rec := f.do(t, http.MethodGet, "/api/analyze/US.AAPL/vcp", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var vcpResp map[string]any
	decode(t, rec, &vcpResp)
	assert.Equal(t, "US.AAPL", vcpResp["symbol"])
	assert.Contains(t, vcpResp, "vcp")

	rec = f.do(t, http.MethodGet, "/api/analyze/US.AAPL/patterns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var scanResp map[string]any
	decode(t, rec, &scanResp)
	assert.Contains(t, scanResp, "scan")
}

func TestPortfolio(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "demo")
	ctx := context.Background()

	accID, err := f.deps.Accounts.Upsert(ctx, domain.Account{
		UserID: user.ID, BrokerAccID: "ACC1", Type: domain.AccountReal,
		Market: domain.MarketUS, Currency: "USD", Active: true,
	})
	require.NoError(t, err)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	_, err = f.deps.Positions.UpsertSnapshot(ctx, []domain.Position{
		{AccountID: accID, SnapshotDate: today, Market: domain.MarketUS, Code: "AAPL",
			Qty: 10, CostPrice: 150, MarketPrice: 180, MarketValue: 1800,
			PLValue: 300, PLRatio: 0.2, Side: domain.PositionLong},
	})
	require.NoError(t, err)
	_, err = f.deps.Snapshots.Upsert(ctx, domain.AccountSnapshot{
		AccountID: accID, SnapshotDate: today,
		TotalAssets: 10000, Cash: 8200, MarketValue: 1800, Currency: "USD",
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/users/demo/portfolio", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result portfolio.Result
	decode(t, rec, &result)
	assert.Equal(t, 1800.0, result.Summary.TotalMarketValue)
	require.NotNil(t, result.Summary.CashBalance)
	assert.Equal(t, 8200.0, *result.Summary.CashBalance)
}

func TestPortfolioUnknownUser(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/users/ghost/portfolio", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTradeStats(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "demo")
	ctx := context.Background()

	accID, err := f.deps.Accounts.Upsert(ctx, domain.Account{
		UserID: user.ID, BrokerAccID: "ACC1", Type: domain.AccountReal,
		Market: domain.MarketUS, Currency: "USD", Active: true,
	})
	require.NoError(t, err)

	entry := time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC)
	_, err = f.deps.Trades.InsertBatch(ctx, []domain.Trade{
		{AccountID: accID, DealID: "D1", TradeTime: entry, Market: domain.MarketUS,
			Code: "AAPL", Side: domain.TradeBuy, Qty: 10, Price: 150, Amount: 1500, Fee: 1},
		{AccountID: accID, DealID: "D2", TradeTime: entry.AddDate(0, 0, 5), Market: domain.MarketUS,
			Code: "AAPL", Side: domain.TradeSell, Qty: 10, Price: 180, Amount: 1800, Fee: 1},
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/users/demo/trades/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Statistics trades.Statistics `json:"statistics"`
		RoundTrips int               `json:"round_trips"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 1, resp.RoundTrips)
	assert.Equal(t, 1, resp.Statistics.TotalTrades)
	assert.Equal(t, 1, resp.Statistics.WinningTrades)
}

func TestWatchlistEmpty(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "demo")

	rec := f.do(t, http.MethodGet, "/api/users/demo/watchlist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestSyncAllAndLogs(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "demo")

	rec := f.do(t, http.MethodPost, "/api/sync/demo", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result syncer.Result
	decode(t, rec, &result)
	assert.Equal(t, domain.SyncSuccess, result.Status)
	assert.NotZero(t, result.Records)

	rec = f.do(t, http.MethodGet, "/api/sync/logs?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []domain.SyncLog
	decode(t, rec, &logs)
	require.NotEmpty(t, logs)
	// The combined log row opens before its subcomponents, so it sits last.
	assert.Equal(t, domain.SyncAll, logs[len(logs)-1].SyncType)
}

func TestSyncKlinesValidation(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "demo")

	rec := f.do(t, http.MethodPost, "/api/sync/demo/klines", map[string]any{"codes": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sync/demo/klines",
		map[string]any{"codes": []string{"US.AAPL"}, "days": 30})
	require.Equal(t, http.StatusOK, rec.Code)
	var result syncer.Result
	decode(t, rec, &result)
	assert.Equal(t, domain.SyncSuccess, result.Status)
}

func TestBacktest(t *testing.T) {
	f := newFixture(t)
	f.seedBars(t, domain.MarketUS, "AAPL", 200)

	rec := f.do(t, http.MethodPost, "/api/backtest", map[string]any{
		"symbol":       "US.AAPL",
		"strategy":     "ma_cross",
		"days":         200,
		"initial_cash": 50000,
		"fee_rate":     0.001,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decode(t, rec, &resp)
	assert.Contains(t, resp["strategy_name"], "MACross")
	assert.Equal(t, "US.AAPL", resp["symbol"])
	assert.Equal(t, 50000.0, resp["initial_cash"])
}

func TestBacktestErrors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/backtest", map[string]any{
		"symbol": "US.AAPL", "strategy": "martingale",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/backtest", map[string]any{
		"symbol": "US.AAPL", "strategy": "ma_cross",
		"fast_period": 30, "slow_period": 10,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/backtest", map[string]any{
		"symbol": "US.GONE", "strategy": "ma_cross",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertsLifecycle(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "demo")
	f.seedBars(t, domain.MarketUS, "AAPL", 5)

	rec := f.do(t, http.MethodPost, "/api/users/demo/alerts", map[string]any{
		"symbol": "US.AAPL", "kind": "ABOVE", "threshold": 50.0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.PriceAlert
	decode(t, rec, &created)
	assert.NotZero(t, created.ID)

	rec = f.do(t, http.MethodPost, "/api/users/demo/alerts", map[string]any{
		"symbol": "US.AAPL", "kind": "SIDEWAYS", "threshold": 50.0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/users/demo/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.PriceAlert
	decode(t, rec, &list)
	require.Len(t, list, 1)

	// The last close is above the threshold, so evaluation fires it.
	rec = f.do(t, http.MethodPost, "/api/alerts/evaluate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var evalResp struct {
		Triggered []alerts.Triggered `json:"triggered"`
	}
	decode(t, rec, &evalResp)
	require.Len(t, evalResp.Triggered, 1)
	assert.Equal(t, created.ID, evalResp.Triggered[0].Alert.ID)
}

func TestBackupsNotConfigured(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/backups", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/backups", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/nope/%d", 1), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
