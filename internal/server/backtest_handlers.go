package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/backtest"
)

type backtestRequest struct {
	Symbol      string  `json:"symbol"`
	Strategy    string  `json:"strategy"`
	Days        int     `json:"days"`
	InitialCash float64 `json:"initial_cash"`
	FeeRate     float64 `json:"fee_rate"`
	CloseAtEnd  bool    `json:"close_at_end"`

	// Strategy tuning; zero values fall back to the defaults.
	FastPeriod int     `json:"fast_period"`
	SlowPeriod int     `json:"slow_period"`
	MAType     string  `json:"ma_type"`
	Qty        float64 `json:"qty"`
	MinScore   float64 `json:"min_score"`
}

// handleBacktest replays a strategy over stored daily bars.
func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.Errorf(domain.KindInvalidInput, "invalid request body: %v", err))
		return
	}

	sym, err := domain.ParseSymbol(req.Symbol)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Days <= 0 {
		req.Days = s.deps.Cfg.KlineDays
	}

	strategy, err := buildStrategy(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -req.Days)
	bars, err := s.deps.Bars.Range(r.Context(), sym.Market, sym.Code, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(bars) == 0 {
		s.writeError(w, r, domain.Errorf(domain.KindNotFound, "no bars stored for %s, sync klines first", sym))
		return
	}

	cfg := backtest.DefaultEngineConfig()
	cfg.CloseAtEnd = req.CloseAtEnd
	if req.InitialCash > 0 {
		cfg.InitialCash = req.InitialCash
	}
	if req.FeeRate > 0 {
		cfg.Fee = backtest.RateFee{Rate: req.FeeRate}
	}

	engine := backtest.NewEngine(cfg, strategy, s.log)
	result, err := engine.Run(r.Context(), bars)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func buildStrategy(req backtestRequest) (backtest.Strategy, error) {
	switch req.Strategy {
	case "ma_cross":
		cfg := backtest.DefaultMACrossConfig()
		if req.FastPeriod > 0 {
			cfg.FastPeriod = req.FastPeriod
		}
		if req.SlowPeriod > 0 {
			cfg.SlowPeriod = req.SlowPeriod
		}
		if cfg.FastPeriod >= cfg.SlowPeriod {
			return nil, domain.Errorf(domain.KindInvalidInput,
				"fast period %d must be below slow period %d", cfg.FastPeriod, cfg.SlowPeriod)
		}
		switch req.MAType {
		case "":
		case string(backtest.MATypeSMA), string(backtest.MATypeEMA):
			cfg.MAType = backtest.MAType(req.MAType)
		default:
			return nil, domain.Errorf(domain.KindInvalidInput, "unknown ma type %q", req.MAType)
		}
		if req.Qty > 0 {
			cfg.Qty = req.Qty
		}
		return backtest.NewMACross(cfg), nil

	case "vcp_breakout":
		cfg := backtest.DefaultVCPBreakoutConfig()
		if req.MinScore > 0 {
			cfg.MinScore = req.MinScore
		}
		if req.Qty > 0 {
			cfg.Qty = req.Qty
		}
		return backtest.NewVCPBreakout(cfg), nil

	default:
		return nil, domain.Errorf(domain.KindInvalidInput,
			"unknown strategy %q, expected ma_cross or vcp_breakout", req.Strategy)
	}
}
