// Package alerts evaluates persisted price alert conditions against the
// most recent bars. Delivery is out of scope; a triggered alert is state
// the API surfaces.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/domain"
)

// AlertStore is the persistence surface the evaluator needs.
type AlertStore interface {
	Active(ctx context.Context) ([]domain.PriceAlert, error)
	MarkTriggered(ctx context.Context, id int64, at time.Time) error
}

// BarSource serves recent bars per symbol.
type BarSource interface {
	Latest(ctx context.Context, market domain.Market, code string, n int) ([]domain.Bar, error)
}

// Triggered describes one alert that fired during an evaluation pass.
type Triggered struct {
	Alert     domain.PriceAlert `json:"alert"`
	Price     float64           `json:"price"`
	ChangePct float64           `json:"change_pct"`
	At        time.Time         `json:"at"`
}

// Evaluator runs alert conditions over stored bars.
type Evaluator struct {
	alerts AlertStore
	bars   BarSource
	log    zerolog.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(alerts AlertStore, bars BarSource, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		alerts: alerts,
		bars:   bars,
		log:    log.With().Str("module", "alerts").Logger(),
	}
}

// EvaluateAll checks every active alert once. Symbols whose bars cannot
// be loaded are skipped and logged; the pass continues.
func (e *Evaluator) EvaluateAll(ctx context.Context, now time.Time) ([]Triggered, error) {
	active, err := e.alerts.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active alerts: %w", err)
	}
	if len(active) == 0 {
		return nil, nil
	}

	type quote struct {
		price     float64
		changePct float64
		ok        bool
	}
	quotes := make(map[string]quote)

	var fired []Triggered
	for _, alert := range active {
		key := domain.FullCode(alert.Market, alert.Code)
		q, seen := quotes[key]
		if !seen {
			q = quote{}
			bars, err := e.bars.Latest(ctx, alert.Market, alert.Code, 2)
			if err != nil {
				e.log.Warn().Err(err).Str("symbol", key).Msg("skipping alert, bars unavailable")
			} else if len(bars) > 0 {
				last := bars[len(bars)-1]
				q.price = last.Close
				q.changePct = dayChangePct(bars)
				q.ok = true
			}
			quotes[key] = q
		}
		if !q.ok {
			continue
		}

		if !conditionMet(alert, q.price, q.changePct) {
			continue
		}
		if err := e.alerts.MarkTriggered(ctx, alert.ID, now); err != nil {
			e.log.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to mark alert triggered")
			continue
		}
		e.log.Info().
			Int64("alert_id", alert.ID).
			Str("symbol", key).
			Str("kind", string(alert.Kind)).
			Float64("threshold", alert.Threshold).
			Float64("price", q.price).
			Msg("price alert triggered")
		fired = append(fired, Triggered{Alert: alert, Price: q.price, ChangePct: q.changePct, At: now})
	}
	return fired, nil
}

// conditionMet applies one alert condition to the latest quote. Change
// thresholds are percent magnitudes; CHANGE_DOWN fires on a drop of at
// least the threshold.
func conditionMet(alert domain.PriceAlert, price, changePct float64) bool {
	switch alert.Kind {
	case domain.AlertAbove:
		return price >= alert.Threshold
	case domain.AlertBelow:
		return price <= alert.Threshold
	case domain.AlertChangeUp:
		return changePct >= alert.Threshold
	case domain.AlertChangeDown:
		return changePct <= -alert.Threshold
	default:
		return false
	}
}

// dayChangePct derives the latest day-over-day change. Falls back to the
// stored change column when only one bar exists, and to zero when that
// column was never populated.
func dayChangePct(bars []domain.Bar) float64 {
	n := len(bars)
	if n >= 2 && bars[n-2].Close > 0 {
		return (bars[n-1].Close - bars[n-2].Close) / bars[n-2].Close * 100
	}
	if bars[n-1].ChangePct != nil {
		return *bars[n-1].ChangePct
	}
	return 0
}
