package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/spyglass/internal/cache"
	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/scoring"
	"github.com/aristath/spyglass/internal/modules/vcp"
)

const (
	defaultAnalysisWindow = 120
	maxAnalysisWindow     = 1000
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// symbolParam parses the {symbol} path segment into a normalized symbol.
func symbolParam(r *http.Request) (domain.Symbol, error) {
	return domain.ParseSymbol(chi.URLParam(r, "symbol"))
}

// intQuery reads an integer query parameter, falling back on absence or
// garbage.
func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// loadBars fetches the latest n bars for a symbol, erroring when none
// are stored.
func (s *Server) loadBars(r *http.Request, sym domain.Symbol, n int) ([]domain.Bar, error) {
	bars, err := s.deps.Bars.Latest(r.Context(), sym.Market, sym.Code, n)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, domain.Errorf(domain.KindNotFound, "no bars stored for %s, sync klines first", sym)
	}
	return bars, nil
}

func analysisWindow(r *http.Request) int {
	window := intQuery(r, "window", defaultAnalysisWindow)
	if window > maxAnalysisWindow {
		window = maxAnalysisWindow
	}
	return window
}

// handleAnalyze runs the composite scorer for one symbol. Results are
// cached per symbol and window until the next kline sync invalidates
// them.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	sym, err := symbolParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	window := analysisWindow(r)

	key := cache.Key(sym.String(), "score", strconv.Itoa(window))
	var result scoring.Result
	if s.deps.Cache.Get(key, &result) {
		s.writeJSON(w, http.StatusOK, result)
		return
	}

	bars, err := s.loadBars(r, sym, window)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err = s.deps.Scorer.Score(sym, bars)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Cache.Set(key, result); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache score")
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleVCP runs the contraction detector alone.
func (s *Server) handleVCP(w http.ResponseWriter, r *http.Request) {
	sym, err := symbolParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bars, err := s.loadBars(r, sym, analysisWindow(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := vcp.Detect(bars, vcp.DefaultConfig())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol": sym.String(),
		"vcp":    result,
	})
}

// handlePatterns runs the chart pattern scanner alone.
func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	sym, err := symbolParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bars, err := s.loadBars(r, sym, analysisWindow(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	scan, err := s.scanner.Scan(bars)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol": sym.String(),
		"scan":   scan,
	})
}
