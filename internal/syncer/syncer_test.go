package syncer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/spyglass/internal/database"
	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/providers"
	"github.com/aristath/spyglass/internal/store"
)

type fixture struct {
	syncer *Syncer
	stores Stores
	quotes *fakeQuotes
	broker *fakeBroker
	user   domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	nop := zerolog.Nop()
	conn := db.Conn()
	stores := Stores{
		Accounts:  store.NewAccountRepository(conn, nop),
		Positions: store.NewPositionRepository(conn, nop),
		Trades:    store.NewTradeRepository(conn, nop),
		Snapshots: store.NewSnapshotRepository(conn, nop),
		Watchlist: store.NewWatchlistRepository(conn, nop),
		Bars:      store.NewBarRepository(conn, nop),
		SyncLogs:  store.NewSyncLogRepository(conn, nop),
	}

	users := store.NewUserRepository(conn, nop)
	user, err := users.Create(context.Background(), "demo")
	require.NoError(t, err)

	quotes := &fakeQuotes{bars: map[string][]domain.Bar{}, fails: map[string]*failPlan{}}
	broker := &fakeBroker{}

	opts := DefaultOptions()
	opts.RetryBase = time.Millisecond

	return &fixture{
		syncer: New(opts, quotes, broker, stores, nil, nop),
		stores: stores,
		quotes: quotes,
		broker: broker,
		user:   user,
	}
}

type failPlan struct {
	err       error
	remaining int
}

type fakeQuotes struct {
	mu    sync.Mutex
	bars  map[string][]domain.Bar
	fails map[string]*failPlan
	calls map[string]int
}

func (f *fakeQuotes) FetchBars(_ context.Context, market domain.Market, code string, from, to time.Time) ([]domain.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := domain.FullCode(market, code)
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[key]++

	if plan := f.fails[key]; plan != nil && plan.remaining != 0 {
		if plan.remaining > 0 {
			plan.remaining--
		}
		return nil, plan.err
	}

	var out []domain.Bar
	for _, bar := range f.bars[key] {
		if !bar.Date.Before(from) && !bar.Date.After(to) {
			out = append(out, bar)
		}
	}
	return out, nil
}

type fakeBroker struct {
	accounts  []providers.BrokerAccount
	positions map[string][]providers.BrokerPosition
	balances  map[string]providers.AccountBalance
	deals     map[string][]providers.BrokerDeal
	watchlist []providers.BrokerWatchlistItem

	positionsErr error
}

func (f *fakeBroker) ListAccounts(context.Context, string) ([]providers.BrokerAccount, error) {
	return f.accounts, nil
}

func (f *fakeBroker) FetchPositions(_ context.Context, brokerAccID string) ([]providers.BrokerPosition, error) {
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	return f.positions[brokerAccID], nil
}

func (f *fakeBroker) FetchAccountInfo(_ context.Context, brokerAccID string) (providers.AccountBalance, error) {
	return f.balances[brokerAccID], nil
}

func (f *fakeBroker) FetchTodayDeals(_ context.Context, brokerAccID string) ([]providers.BrokerDeal, error) {
	return f.deals[brokerAccID], nil
}

func (f *fakeBroker) FetchHistoricalDeals(_ context.Context, brokerAccID string, _, _ time.Time) ([]providers.BrokerDeal, error) {
	// History overlaps today's deals; the store dedupes on deal_id.
	return f.deals[brokerAccID], nil
}

func (f *fakeBroker) FetchWatchlist(context.Context, string) ([]providers.BrokerWatchlistItem, error) {
	return f.watchlist, nil
}

func seedBars(key string, days int) []domain.Bar {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	sym, _ := domain.ParseSymbol(key)
	bars := make([]domain.Bar, days)
	for i := 0; i < days; i++ {
		price := 100 + float64(i)
		bars[i] = domain.Bar{
			Market: sym.Market, Code: sym.Code,
			Date: end.AddDate(0, 0, i-days+1),
			Open: price, High: price, Low: price, Close: price,
			Volume: 1000,
		}
	}
	return bars
}

func (f *fixture) seedAccount() {
	f.broker.accounts = []providers.BrokerAccount{{
		BrokerAccID: "ACC1", Type: domain.AccountReal, Market: domain.MarketUS, Currency: "USD",
	}}
	f.broker.positions = map[string][]providers.BrokerPosition{"ACC1": {
		{Market: domain.MarketUS, Code: "AAPL", Name: "Apple", Qty: 100, CostPrice: 150,
			MarketPrice: 170, MarketValue: 17000, PLValue: 2000, PLRatio: 0.1333, Side: domain.PositionLong},
		{Market: domain.MarketUS, Code: "MSFT", Name: "Microsoft", Qty: 50, CostPrice: 300,
			MarketPrice: 320, MarketValue: 16000, PLValue: 1000, PLRatio: 0.0667, Side: domain.PositionLong},
	}}
	f.broker.balances = map[string]providers.AccountBalance{"ACC1": {
		TotalAssets: 50000, Cash: 17000, MarketValue: 33000, BuyingPower: 34000, Currency: "USD",
	}}
}

func TestSyncPositionsWritesSnapshot(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()

	res, err := f.syncer.SyncPositions(context.Background(), f.user)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSuccess, res.Status)
	assert.Equal(t, 3, res.Records) // 2 positions + 1 cash snapshot
	assert.NotEmpty(t, res.RunID)

	positions, err := f.stores.Positions.LatestByUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "AAPL", positions[0].Code)

	logs, err := f.stores.SyncLogs.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.SyncPositions, logs[0].SyncType)
	assert.Equal(t, domain.SyncSuccess, logs[0].Status)
	assert.NotNil(t, logs[0].FinishedAt)
}

func TestSyncPositionsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()

	first, err := f.syncer.SyncPositions(context.Background(), f.user)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Records)

	second, err := f.syncer.SyncPositions(context.Background(), f.user)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSuccess, second.Status)
	assert.Equal(t, 0, second.Records)
}

func TestSyncPositionsPartialOnProviderError(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()
	f.broker.accounts = append(f.broker.accounts, providers.BrokerAccount{
		BrokerAccID: "ACC2", Type: domain.AccountReal, Market: domain.MarketHK, Currency: "HKD",
	})
	f.broker.positionsErr = domain.Errorf(domain.KindNotFound, "no positions")
	f.broker.positions = nil

	res, err := f.syncer.SyncPositions(context.Background(), f.user)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncFailed, res.Status)
	assert.Len(t, res.Failures, 2)
}

func TestSyncTradesDeduplicates(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()
	_, err := f.syncer.SyncPositions(context.Background(), f.user)
	require.NoError(t, err)

	when := time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)
	f.broker.deals = map[string][]providers.BrokerDeal{"ACC1": {
		{DealID: "D1", TradeTime: when, Market: domain.MarketUS, Code: "AAPL",
			Side: domain.TradeBuy, Qty: 100, Price: 150, Amount: 15000, Fee: 1},
		{DealID: "D2", TradeTime: when.Add(time.Hour), Market: domain.MarketUS, Code: "AAPL",
			Side: domain.TradeSell, Qty: 100, Price: 160, Amount: 16000, Fee: 1},
	}}

	from, to := when.AddDate(0, 0, -30), when
	first, err := f.syncer.SyncTrades(context.Background(), f.user, from, to)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSuccess, first.Status)
	// Today's deals and history return the same two fills; only two rows land.
	assert.Equal(t, 2, first.Records)

	second, err := f.syncer.SyncTrades(context.Background(), f.user, from, to)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSuccess, second.Status)
	assert.Equal(t, 0, second.Records)

	trades, err := f.stores.Trades.ByUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestSyncKlinesIncremental(t *testing.T) {
	f := newFixture(t)
	f.quotes.bars["US.AAPL"] = seedBars("US.AAPL", 10)

	first, err := f.syncer.SyncKlines(context.Background(), f.user, []string{"US.AAPL"}, 30)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSuccess, first.Status)
	assert.Equal(t, 10, first.Records)

	// Unchanged upstream: the incremental window starts past the newest
	// bar, so nothing is fetched or written.
	second, err := f.syncer.SyncKlines(context.Background(), f.user, []string{"US.AAPL"}, 30)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSuccess, second.Status)
	assert.Equal(t, 0, second.Records)

	bars, err := f.stores.Bars.Latest(context.Background(), domain.MarketUS, "AAPL", 100)
	require.NoError(t, err)
	assert.Len(t, bars, 10)
}

func TestSyncKlinesNormalizesAShareCodes(t *testing.T) {
	f := newFixture(t)
	f.quotes.bars["A.600519"] = seedBars("A.600519", 5)

	res, err := f.syncer.SyncKlines(context.Background(), f.user, []string{"SH.600519"}, 30)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSuccess, res.Status)
	assert.Equal(t, 5, res.Records)

	bars, err := f.stores.Bars.Latest(context.Background(), domain.MarketA, "600519", 10)
	require.NoError(t, err)
	assert.Len(t, bars, 5)
}

func TestSyncKlinesPartialOnSymbolError(t *testing.T) {
	f := newFixture(t)
	f.quotes.bars["US.AAPL"] = seedBars("US.AAPL", 5)
	f.quotes.fails["US.GONE"] = &failPlan{err: domain.Errorf(domain.KindNotFound, "unknown symbol"), remaining: -1}

	res, err := f.syncer.SyncKlines(context.Background(), f.user, []string{"US.AAPL", "US.GONE"}, 30)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPartial, res.Status)
	assert.Equal(t, 5, res.Records)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0], "US.GONE")

	logs, err := f.stores.SyncLogs.Recent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPartial, logs[0].Status)
	assert.Contains(t, logs[0].Error, "US.GONE")
}

func TestSyncKlinesRetriesTransient(t *testing.T) {
	f := newFixture(t)
	f.quotes.bars["US.AAPL"] = seedBars("US.AAPL", 5)
	f.quotes.fails["US.AAPL"] = &failPlan{err: domain.Errorf(domain.KindTransient, "timeout"), remaining: 2}

	res, err := f.syncer.SyncKlines(context.Background(), f.user, []string{"US.AAPL"}, 30)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSuccess, res.Status)
	assert.Equal(t, 5, res.Records)
	assert.Equal(t, 3, f.quotes.calls["US.AAPL"])
}

func TestSyncKlinesExhaustsRetryBudget(t *testing.T) {
	f := newFixture(t)
	f.quotes.fails["US.AAPL"] = &failPlan{err: domain.Errorf(domain.KindTransient, "timeout"), remaining: -1}

	res, err := f.syncer.SyncKlines(context.Background(), f.user, []string{"US.AAPL"}, 30)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncFailed, res.Status)
	assert.Equal(t, 3, f.quotes.calls["US.AAPL"])
}

func TestSyncKlinesEmptyCodesIsNoOp(t *testing.T) {
	f := newFixture(t)

	res, err := f.syncer.SyncKlines(context.Background(), f.user, nil, 30)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSuccess, res.Status)
	assert.Equal(t, 0, res.Records)
}

func TestSyncWatchlistReconciles(t *testing.T) {
	f := newFixture(t)
	f.broker.watchlist = []providers.BrokerWatchlistItem{
		{Market: domain.MarketUS, Code: "AAPL", Name: "Apple", Group: "tech", SortOrder: 1},
		{Market: domain.MarketUS, Code: "NVDA", Name: "Nvidia", Group: "tech", SortOrder: 2},
	}

	first, err := f.syncer.SyncWatchlist(context.Background(), f.user)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Records)

	// NVDA drops off upstream; it flips inactive instead of vanishing.
	f.broker.watchlist = f.broker.watchlist[:1]
	second, err := f.syncer.SyncWatchlist(context.Background(), f.user)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSuccess, second.Status)
	assert.Equal(t, 1, second.Records)

	active, err := f.stores.Watchlist.ActiveByUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "AAPL", active[0].Code)
}

func TestSyncAllCoversHeldAndWatchedSymbols(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()
	f.broker.watchlist = []providers.BrokerWatchlistItem{
		{Market: domain.MarketHK, Code: "00700", Name: "Tencent", SortOrder: 1},
	}
	f.quotes.bars["US.AAPL"] = seedBars("US.AAPL", 5)
	f.quotes.bars["US.MSFT"] = seedBars("US.MSFT", 5)
	f.quotes.bars["HK.00700"] = seedBars("HK.00700", 5)

	res, err := f.syncer.SyncAll(context.Background(), f.user)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSuccess, res.Status)
	assert.Equal(t, domain.SyncAll, res.Type)

	for _, sym := range []domain.Symbol{
		{Market: domain.MarketUS, Code: "AAPL"},
		{Market: domain.MarketUS, Code: "MSFT"},
		{Market: domain.MarketHK, Code: "00700"},
	} {
		bars, err := f.stores.Bars.Latest(context.Background(), sym.Market, sym.Code, 10)
		require.NoError(t, err)
		assert.Len(t, bars, 5, sym.String())
	}

	logs, err := f.stores.SyncLogs.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 5) // ALL plus its four subcomponents
	// The combined log row opens before its subcomponents, so it sits last.
	assert.Equal(t, domain.SyncAll, logs[4].SyncType)
	assert.Equal(t, domain.SyncKlines, logs[0].SyncType)
}

func TestSyncAllPartialWhenSubcomponentFails(t *testing.T) {
	f := newFixture(t)
	f.seedAccount()
	f.quotes.bars["US.MSFT"] = seedBars("US.MSFT", 5)
	f.quotes.fails["US.AAPL"] = &failPlan{err: domain.Errorf(domain.KindNotFound, "unknown symbol"), remaining: -1}

	res, err := f.syncer.SyncAll(context.Background(), f.user)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPartial, res.Status)
}
