package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/alerts"
)

// handleSyncAll runs the full pipeline for one user: positions, trades,
// watchlist, then klines for every held or watched symbol. The outcome
// is data, so a FAILED run still answers 200.
func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	user, err := s.userParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.Syncer.SyncAll(r.Context(), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSyncKlines(w http.ResponseWriter, r *http.Request) {
	user, err := s.userParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req struct {
		Codes []string `json:"codes"`
		Days  int      `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.Errorf(domain.KindInvalidInput, "invalid request body: %v", err))
		return
	}
	if len(req.Codes) == 0 {
		s.writeError(w, r, domain.Errorf(domain.KindInvalidInput, "codes is required"))
		return
	}
	if req.Days <= 0 {
		req.Days = s.deps.Cfg.KlineDays
	}

	result, err := s.deps.Syncer.SyncKlines(r.Context(), user, req.Codes, req.Days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSyncLogs(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50)
	if limit > 500 {
		limit = 500
	}

	logs, err := s.deps.SyncLogs.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []domain.SyncLog{}
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	user, err := s.userParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	alerts, err := s.deps.Alerts.ByUser(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []domain.PriceAlert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	user, err := s.userParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req struct {
		Symbol    string  `json:"symbol"`
		Kind      string  `json:"kind"`
		Threshold float64 `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.Errorf(domain.KindInvalidInput, "invalid request body: %v", err))
		return
	}

	sym, err := domain.ParseSymbol(req.Symbol)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kind := domain.AlertKind(req.Kind)
	switch kind {
	case domain.AlertAbove, domain.AlertBelow, domain.AlertChangeUp, domain.AlertChangeDown:
	default:
		s.writeError(w, r, domain.Errorf(domain.KindInvalidInput, "unknown alert kind %q", req.Kind))
		return
	}
	if req.Threshold <= 0 {
		s.writeError(w, r, domain.Errorf(domain.KindInvalidInput, "threshold must be positive"))
		return
	}

	alert := domain.PriceAlert{
		UserID:    user.ID,
		Market:    sym.Market,
		Code:      sym.Code,
		Kind:      kind,
		Threshold: req.Threshold,
		Active:    true,
	}
	id, err := s.deps.Alerts.Create(r.Context(), alert)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	alert.ID = id
	alert.CreatedAt = time.Now().UTC()
	s.writeJSON(w, http.StatusCreated, alert)
}

// handleEvaluateAlerts runs one evaluation pass against the latest
// stored bars and reports what fired.
func (s *Server) handleEvaluateAlerts(w http.ResponseWriter, r *http.Request) {
	triggered, err := s.deps.Evaluator.EvaluateAll(r.Context(), time.Now().UTC())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if triggered == nil {
		triggered = []alerts.Triggered{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"evaluated_at": time.Now().UTC(),
		"triggered":    triggered,
	})
}
