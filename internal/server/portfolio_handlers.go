package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/trades"
)

// userParam resolves the {username} path segment to a stored user.
func (s *Server) userParam(r *http.Request) (domain.User, error) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		return domain.User{}, domain.Errorf(domain.KindInvalidInput, "username is required")
	}
	return s.deps.Users.ByUsername(r.Context(), username)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.Errorf(domain.KindInvalidInput, "invalid request body: %v", err))
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		s.writeError(w, r, domain.Errorf(domain.KindInvalidInput, "username is required"))
		return
	}

	user, err := s.deps.Users.Create(r.Context(), req.Username)
	if err != nil {
		if domain.KindOf(err) == domain.KindIntegrityConflict {
			s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, user)
}

// handlePortfolio analyzes the user's latest position snapshot. Cash and
// total assets come from the latest account snapshots, summed across
// the user's active accounts.
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	user, err := s.userParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	positions, err := s.deps.Positions.LatestByUser(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	snapshot, err := s.aggregateSnapshot(r, user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result := s.deps.Analyzer.Analyze(positions, snapshot, time.Now().UTC())
	s.writeJSON(w, http.StatusOK, result)
}

// aggregateSnapshot sums the latest snapshot of each active account.
// Returns nil when no account has one yet.
func (s *Server) aggregateSnapshot(r *http.Request, userID int64) (*domain.AccountSnapshot, error) {
	accounts, err := s.deps.Accounts.ActiveByUser(r.Context(), userID)
	if err != nil {
		return nil, err
	}

	var total domain.AccountSnapshot
	found := false
	for _, acc := range accounts {
		snap, err := s.deps.Snapshots.Latest(r.Context(), acc.ID)
		if err != nil {
			if domain.KindOf(err) == domain.KindNotFound {
				continue
			}
			return nil, err
		}
		total.TotalAssets += snap.TotalAssets
		total.Cash += snap.Cash
		total.MarketValue += snap.MarketValue
		total.FrozenCash += snap.FrozenCash
		total.BuyingPower += snap.BuyingPower
		if snap.SnapshotDate.After(total.SnapshotDate) {
			total.SnapshotDate = snap.SnapshotDate
		}
		total.Currency = snap.Currency
		found = true
	}
	if !found {
		return nil, nil
	}
	return &total, nil
}

// handleTradeStats pairs the user's fills into round trips and computes
// trade statistics over them.
func (s *Server) handleTradeStats(w http.ResponseWriter, r *http.Request) {
	user, err := s.userParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	fills, err := s.deps.Trades.ByUser(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	topN := intQuery(r, "top", 10)
	paired := s.deps.Pairer.Pair(fills)
	stats := trades.Calculate(paired.RoundTrips, topN)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"statistics":     stats,
		"round_trips":    len(paired.RoundTrips),
		"open_lots":      paired.OpenLots,
		"unpaired_sells": paired.UnpairedSells,
	})
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	user, err := s.userParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	items, err := s.deps.Watchlist.ActiveByUser(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.WatchlistItem{}
	}
	s.writeJSON(w, http.StatusOK, items)
}
