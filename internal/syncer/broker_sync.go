package syncer

import (
	"context"
	"time"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/providers"
)

// SyncPositions refreshes account rows, today's position snapshot, and
// the cash snapshot for every broker account of the user.
func (s *Syncer) SyncPositions(ctx context.Context, user domain.User) (Result, error) {
	return s.run(ctx, &user.ID, domain.SyncPositions, func(ctx context.Context) outcome {
		var out outcome

		var brokerAccts []providers.BrokerAccount
		err := s.withRetry(ctx, func(ctx context.Context) error {
			bctx, cancel := s.brokerCtx(ctx)
			defer cancel()
			var err error
			brokerAccts, err = s.broker.ListAccounts(bctx, user.Username)
			return err
		})
		if err != nil {
			out.fail("accounts", err)
			return out
		}

		snapDate := today()
		for _, ba := range brokerAccts {
			if err := s.syncOneAccount(ctx, user.ID, ba, snapDate, &out); err != nil {
				out.fail(ba.BrokerAccID, err)
				continue
			}
			out.succeeded++
		}
		return out
	})
}

func (s *Syncer) syncOneAccount(ctx context.Context, userID int64, ba providers.BrokerAccount, snapDate time.Time, out *outcome) error {
	accountID, err := s.stores.Accounts.Upsert(ctx, domain.Account{
		UserID:      userID,
		BrokerAccID: ba.BrokerAccID,
		Type:        ba.Type,
		Market:      ba.Market,
		Currency:    ba.Currency,
		Active:      true,
	})
	if err != nil {
		return err
	}

	var brokerPositions []providers.BrokerPosition
	err = s.withRetry(ctx, func(ctx context.Context) error {
		bctx, cancel := s.brokerCtx(ctx)
		defer cancel()
		var err error
		brokerPositions, err = s.broker.FetchPositions(bctx, ba.BrokerAccID)
		return err
	})
	if err != nil {
		return err
	}

	positions := make([]domain.Position, 0, len(brokerPositions))
	for _, bp := range brokerPositions {
		positions = append(positions, domain.Position{
			AccountID:    accountID,
			SnapshotDate: snapDate,
			Market:       bp.Market,
			Code:         bp.Code,
			Name:         bp.Name,
			Qty:          bp.Qty,
			CanSellQty:   bp.CanSellQty,
			CostPrice:    bp.CostPrice,
			MarketPrice:  bp.MarketPrice,
			MarketValue:  bp.MarketValue,
			PLValue:      bp.PLValue,
			PLRatio:      bp.PLRatio,
			Side:         bp.Side,
		})
	}
	changed, err := s.stores.Positions.UpsertSnapshot(ctx, positions)
	if err != nil {
		return err
	}
	out.records += changed

	var balance providers.AccountBalance
	err = s.withRetry(ctx, func(ctx context.Context) error {
		bctx, cancel := s.brokerCtx(ctx)
		defer cancel()
		var err error
		balance, err = s.broker.FetchAccountInfo(bctx, ba.BrokerAccID)
		return err
	})
	if err != nil {
		return err
	}

	changed, err = s.stores.Snapshots.Upsert(ctx, domain.AccountSnapshot{
		AccountID:    accountID,
		SnapshotDate: snapDate,
		TotalAssets:  balance.TotalAssets,
		Cash:         balance.Cash,
		MarketValue:  balance.MarketValue,
		FrozenCash:   balance.FrozenCash,
		BuyingPower:  balance.BuyingPower,
		Currency:     balance.Currency,
	})
	if err != nil {
		return err
	}
	out.records += changed
	return nil
}

// SyncTrades ingests today's deals plus history over [from, to] for every
// active account. Duplicate deal IDs are skipped by the store.
func (s *Syncer) SyncTrades(ctx context.Context, user domain.User, from, to time.Time) (Result, error) {
	return s.run(ctx, &user.ID, domain.SyncTrades, func(ctx context.Context) outcome {
		var out outcome

		accounts, err := s.stores.Accounts.ActiveByUser(ctx, user.ID)
		if err != nil {
			out.fail("accounts", err)
			return out
		}

		for _, acc := range accounts {
			changed, err := s.syncAccountTrades(ctx, acc, from, to)
			if err != nil {
				out.fail(acc.BrokerAccID, err)
				continue
			}
			out.records += changed
			out.succeeded++
		}
		return out
	})
}

func (s *Syncer) syncAccountTrades(ctx context.Context, acc domain.Account, from, to time.Time) (int, error) {
	var deals []providers.BrokerDeal
	err := s.withRetry(ctx, func(ctx context.Context) error {
		bctx, cancel := s.brokerCtx(ctx)
		defer cancel()
		todayDeals, err := s.broker.FetchTodayDeals(bctx, acc.BrokerAccID)
		if err != nil {
			return err
		}
		historical, err := s.broker.FetchHistoricalDeals(bctx, acc.BrokerAccID, from, to)
		if err != nil {
			return err
		}
		deals = append(todayDeals, historical...)
		return nil
	})
	if err != nil {
		return 0, err
	}

	trades := make([]domain.Trade, 0, len(deals))
	for _, d := range deals {
		trades = append(trades, domain.Trade{
			AccountID: acc.ID,
			DealID:    d.DealID,
			OrderID:   d.OrderID,
			TradeTime: d.TradeTime,
			Market:    d.Market,
			Code:      d.Code,
			Name:      d.Name,
			Side:      d.Side,
			Qty:       d.Qty,
			Price:     d.Price,
			Amount:    d.Amount,
			Fee:       d.Fee,
			Currency:  d.Currency,
		})
	}
	return s.stores.Trades.InsertBatch(ctx, trades)
}

// SyncWatchlist pulls the upstream watchlist and reconciles the stored
// one against it. Rows absent upstream flip inactive, never deleted.
func (s *Syncer) SyncWatchlist(ctx context.Context, user domain.User) (Result, error) {
	return s.run(ctx, &user.ID, domain.SyncWatchlist, func(ctx context.Context) outcome {
		var out outcome

		var upstream []providers.BrokerWatchlistItem
		err := s.withRetry(ctx, func(ctx context.Context) error {
			bctx, cancel := s.brokerCtx(ctx)
			defer cancel()
			var err error
			upstream, err = s.broker.FetchWatchlist(bctx, user.Username)
			return err
		})
		if err != nil {
			out.fail("watchlist", err)
			return out
		}

		items := make([]domain.WatchlistItem, 0, len(upstream))
		for _, it := range upstream {
			items = append(items, domain.WatchlistItem{
				UserID:    user.ID,
				Market:    it.Market,
				Code:      it.Code,
				Name:      it.Name,
				Group:     it.Group,
				SortOrder: it.SortOrder,
				Active:    true,
			})
		}
		changed, err := s.stores.Watchlist.Reconcile(ctx, user.ID, items)
		if err != nil {
			out.fail("watchlist", err)
			return out
		}
		out.records += changed
		out.succeeded++
		return out
	})
}
