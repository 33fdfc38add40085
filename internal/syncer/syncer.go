// Package syncer coordinates ingest from the quote and broker providers
// into the local store. Every sync action opens an append-only sync log
// row and closes it with a terminal status; upserts are idempotent so
// re-running any sync against an unchanged upstream changes nothing.
package syncer

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/cache"
	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/providers"
	"github.com/aristath/spyglass/internal/store"
)

// Options tunes one syncer instance.
type Options struct {
	Workers       int           // bounded pool size for per-symbol bar fetches
	BarTimeout    time.Duration // per-call deadline for quote fetches
	BrokerTimeout time.Duration // per-call deadline for broker fetches
	RetryAttempts int           // attempt budget for retryable provider errors
	RetryBase     time.Duration // first backoff step, doubled per attempt
	KlineDays     int           // backfill window for symbols with no bars yet
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		Workers:       4,
		BarTimeout:    10 * time.Second,
		BrokerTimeout: 15 * time.Second,
		RetryAttempts: 3,
		RetryBase:     500 * time.Millisecond,
		KlineDays:     365,
	}
}

// Stores bundles the repositories the syncer writes through.
type Stores struct {
	Accounts  *store.AccountRepository
	Positions *store.PositionRepository
	Trades    *store.TradeRepository
	Snapshots *store.SnapshotRepository
	Watchlist *store.WatchlistRepository
	Bars      *store.BarRepository
	SyncLogs  *store.SyncLogRepository
}

// Result summarizes one finished sync action.
type Result struct {
	RunID      string            `json:"run_id"`
	Type       domain.SyncType   `json:"type"`
	Status     domain.SyncStatus `json:"status"`
	Records    int               `json:"records"`
	Failures   []string          `json:"failures,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Syncer orchestrates ingest for one deployment.
type Syncer struct {
	opts   Options
	quotes providers.QuoteProvider
	broker providers.BrokerProvider
	stores Stores
	cache  *cache.Cache // optional; symbol-prefixed keys are invalidated on fresh bars
	log    zerolog.Logger
}

// New creates a syncer. The cache may be nil.
func New(opts Options, quotes providers.QuoteProvider, broker providers.BrokerProvider, stores Stores, c *cache.Cache, log zerolog.Logger) *Syncer {
	return &Syncer{
		opts:   opts,
		quotes: quotes,
		broker: broker,
		stores: stores,
		cache:  c,
		log:    log.With().Str("module", "syncer").Logger(),
	}
}

// outcome is what one sync body reports back to the log lifecycle.
type outcome struct {
	records   int      // rows actually changed
	succeeded int      // items that completed, changed or not
	failures  []string // "ITEM: reason" per failed item
}

func (o *outcome) fail(item string, err error) {
	o.failures = append(o.failures, item+": "+err.Error())
}

func (o outcome) status() domain.SyncStatus {
	switch {
	case len(o.failures) == 0:
		return domain.SyncSuccess
	case o.succeeded == 0:
		return domain.SyncFailed
	default:
		return domain.SyncPartial
	}
}

// run wraps a sync body with the open/close log lifecycle.
func (s *Syncer) run(ctx context.Context, userID *int64, typ domain.SyncType, body func(ctx context.Context) outcome) (Result, error) {
	runID := uuid.NewString()
	started := time.Now().UTC()

	logID, err := s.stores.SyncLogs.Open(ctx, userID, runID, typ, started)
	if err != nil {
		return Result{}, err
	}

	out := body(ctx)
	if ctx.Err() != nil {
		out.failures = append(out.failures, "cancelled: "+ctx.Err().Error())
	}

	status := out.status()
	finished := time.Now().UTC()
	errMsg := strings.Join(out.failures, "; ")

	// Closing the log must not eat the sync result; use a fresh context
	// in case the caller's was cancelled mid-run.
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.stores.SyncLogs.Close(closeCtx, logID, status, out.records, errMsg, finished); err != nil {
		s.log.Error().Err(err).Str("run_id", runID).Msg("failed to close sync log")
	}

	s.log.Info().
		Str("run_id", runID).
		Str("type", string(typ)).
		Str("status", string(status)).
		Int("records", out.records).
		Int("failures", len(out.failures)).
		Dur("took", finished.Sub(started)).
		Msg("sync finished")

	return Result{
		RunID: runID, Type: typ, Status: status,
		Records: out.records, Failures: out.failures,
		StartedAt: started, FinishedAt: finished,
	}, nil
}

// withRetry re-attempts fn on retryable errors with exponential backoff.
// IntegrityConflict is retried exactly once regardless of the budget.
func (s *Syncer) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := s.opts.RetryBase
	conflictRetried := false

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if domain.KindOf(err) == domain.KindIntegrityConflict {
			if conflictRetried {
				return err
			}
			conflictRetried = true
			continue
		}
		if !domain.IsRetryable(err) || attempt >= s.opts.RetryAttempts {
			return err
		}

		s.log.Debug().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying after transient error")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (s *Syncer) brokerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.BrokerTimeout)
}

func (s *Syncer) barCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.BarTimeout)
}

// today truncates to the calendar date in UTC.
func today() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}
