package syncer

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/spyglass/internal/domain"
)

// SyncKlines backfills daily bars for the given codes. Each symbol is
// fetched incrementally from its latest persisted date plus one day;
// symbols with no history get the full backfill window. Fetches run on a
// bounded worker pool, one worker per symbol at a time.
func (s *Syncer) SyncKlines(ctx context.Context, user domain.User, codes []string, days int) (Result, error) {
	if days <= 0 {
		days = s.opts.KlineDays
	}
	return s.run(ctx, &user.ID, domain.SyncKlines, func(ctx context.Context) outcome {
		var out outcome

		symbols := make([]domain.Symbol, 0, len(codes))
		for _, code := range codes {
			sym, err := domain.ParseSymbol(code)
			if err != nil {
				out.fail(code, err)
				continue
			}
			symbols = append(symbols, sym)
		}

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.Workers)

		for _, sym := range symbols {
			sym := sym
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				changed, err := s.syncSymbolBars(gctx, sym, days)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					out.fail(sym.String(), err)
					return nil // one bad symbol does not abort the batch
				}
				out.records += changed
				out.succeeded++
				return nil
			})
		}
		// The only error a worker returns is cancellation, which run()
		// records against the log.
		_ = g.Wait()
		return out
	})
}

// syncSymbolBars ingests one symbol's missing bars and reports how many
// rows actually changed.
func (s *Syncer) syncSymbolBars(ctx context.Context, sym domain.Symbol, days int) (int, error) {
	latest, err := s.stores.Bars.LatestDate(ctx, sym.Market, sym.Code)
	if err != nil {
		return 0, err
	}

	end := today()
	var start time.Time
	if latest.IsZero() {
		start = end.AddDate(0, 0, -days)
	} else {
		start = latest.AddDate(0, 0, 1)
	}
	if start.After(end) {
		return 0, nil
	}

	var changed int
	err = s.withRetry(ctx, func(ctx context.Context) error {
		qctx, cancel := s.barCtx(ctx)
		defer cancel()
		bars, err := s.quotes.FetchBars(qctx, sym.Market, sym.Code, start, end)
		if err != nil {
			return err
		}
		n, err := s.stores.Bars.UpsertBatch(ctx, bars)
		if err != nil {
			return err
		}
		changed = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	if changed > 0 && s.cache != nil {
		s.cache.InvalidatePrefix(sym.String() + ":")
	}
	return changed, nil
}

// SyncAll runs positions, trades, watchlist, then klines over the union
// of held and watched symbols. Any subcomponent that does not finish
// SUCCESS degrades the combined status to PARTIAL; records_count is the
// sum of the successful parts.
func (s *Syncer) SyncAll(ctx context.Context, user domain.User) (Result, error) {
	return s.run(ctx, &user.ID, domain.SyncAll, func(ctx context.Context) outcome {
		var out outcome

		end := today()
		from := end.AddDate(0, 0, -s.opts.KlineDays)

		steps := []struct {
			name string
			run  func() (Result, error)
		}{
			{"positions", func() (Result, error) { return s.SyncPositions(ctx, user) }},
			{"trades", func() (Result, error) { return s.SyncTrades(ctx, user, from, end) }},
			{"watchlist", func() (Result, error) { return s.SyncWatchlist(ctx, user) }},
			{"klines", func() (Result, error) {
				codes, err := s.collectSymbols(ctx, user.ID)
				if err != nil {
					return Result{}, err
				}
				return s.SyncKlines(ctx, user, codes, s.opts.KlineDays)
			}},
		}

		for _, step := range steps {
			res, err := step.run()
			if err != nil {
				out.fail(step.name, err)
				continue
			}
			out.records += res.Records
			if res.Status == domain.SyncSuccess {
				out.succeeded++
				continue
			}
			out.failures = append(out.failures, step.name+": "+string(res.Status))
			if res.Status == domain.SyncPartial {
				// A partial step still moved data.
				out.succeeded++
			}
		}
		return out
	})
}

// collectSymbols unions the user's held and watched symbols, deduplicated
// and sorted for a stable fetch order.
func (s *Syncer) collectSymbols(ctx context.Context, userID int64) ([]string, error) {
	seen := make(map[string]bool)

	positions, err := s.stores.Positions.LatestByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		seen[domain.FullCode(p.Market, p.Code)] = true
	}

	watchlist, err := s.stores.Watchlist.ActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, w := range watchlist {
		seen[domain.FullCode(w.Market, w.Code)] = true
	}

	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}
