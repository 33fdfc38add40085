// Package bridge is the HTTP client for the local market-data gateway.
// The gateway owns the broker handshake and session; this client only
// speaks its JSON API and maps failures onto the engine's error kinds.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/providers"
)

const dateLayout = "2006-01-02"

// Client implements both provider interfaces against one gateway.
type Client struct {
	base string
	http *http.Client
	log  zerolog.Logger
}

var (
	_ providers.QuoteProvider  = (*Client)(nil)
	_ providers.BrokerProvider = (*Client)(nil)
)

// New creates a gateway client. Timeouts are enforced per call by the
// caller's context, not here.
func New(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{},
		log:  log.With().Str("module", "bridge").Logger(),
	}
}

// get fetches one endpoint and decodes the JSON body into dst.
func (c *Client) get(ctx context.Context, path string, query url.Values, dst any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Errorf(domain.KindTransient, "gateway unreachable: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.Errorf(domain.KindNotFound, "gateway: %s not found", path)
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.Errorf(domain.KindRateLimited, "gateway: rate limited on %s", path)
	case resp.StatusCode >= 500:
		return domain.Errorf(domain.KindTransient, "gateway: %s answered %d", path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return domain.Errorf(domain.KindProviderInvalid, "gateway: %s answered %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return domain.Errorf(domain.KindTransient, "failed to read gateway response: %v", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		c.log.Warn().Str("path", path).Int("bytes", len(body)).Msg("unparseable gateway payload")
		return domain.Errorf(domain.KindProviderInvalid, "gateway: unparseable payload from %s: %v", path, err)
	}
	return nil
}

type barDTO struct {
	Date      string  `json:"date"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Turnover  float64 `json:"turnover"`
	ChangePct float64 `json:"change_pct"`
}

// FetchBars pulls daily bars for one symbol, ascending by date.
func (c *Client) FetchBars(ctx context.Context, market domain.Market, code string, from, to time.Time) ([]domain.Bar, error) {
	query := url.Values{
		"market": {string(market)},
		"code":   {code},
		"from":   {from.Format(dateLayout)},
		"to":     {to.Format(dateLayout)},
	}
	var dtos []barDTO
	if err := c.get(ctx, "/api/bars", query, &dtos); err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(dtos))
	for _, dto := range dtos {
		date, err := time.Parse(dateLayout, dto.Date)
		if err != nil {
			return nil, domain.Errorf(domain.KindProviderInvalid,
				"gateway: bad bar date %q for %s.%s", dto.Date, market, code)
		}
		amount, changePct := dto.Turnover, dto.ChangePct
		bars = append(bars, domain.Bar{
			Market: market, Code: code, Date: date,
			Open: dto.Open, High: dto.High, Low: dto.Low, Close: dto.Close,
			Volume: dto.Volume, Amount: &amount, ChangePct: &changePct,
		})
	}
	return bars, nil
}

// ListAccounts returns the user's broker accounts.
func (c *Client) ListAccounts(ctx context.Context, user string) ([]providers.BrokerAccount, error) {
	var accounts []providers.BrokerAccount
	err := c.get(ctx, "/api/accounts", url.Values{"user": {user}}, &accounts)
	return accounts, err
}

// FetchPositions returns current holdings for one account.
func (c *Client) FetchPositions(ctx context.Context, brokerAccID string) ([]providers.BrokerPosition, error) {
	var positions []providers.BrokerPosition
	err := c.get(ctx, "/api/accounts/"+url.PathEscape(brokerAccID)+"/positions", nil, &positions)
	return positions, err
}

// FetchAccountInfo returns the cash/assets snapshot for one account.
func (c *Client) FetchAccountInfo(ctx context.Context, brokerAccID string) (providers.AccountBalance, error) {
	var balance providers.AccountBalance
	err := c.get(ctx, "/api/accounts/"+url.PathEscape(brokerAccID)+"/balance", nil, &balance)
	return balance, err
}

// FetchTodayDeals returns today's fills for one account.
func (c *Client) FetchTodayDeals(ctx context.Context, brokerAccID string) ([]providers.BrokerDeal, error) {
	var deals []providers.BrokerDeal
	err := c.get(ctx, "/api/accounts/"+url.PathEscape(brokerAccID)+"/deals/today", nil, &deals)
	return deals, err
}

// FetchHistoricalDeals returns fills within [from, to] for one account.
func (c *Client) FetchHistoricalDeals(ctx context.Context, brokerAccID string, from, to time.Time) ([]providers.BrokerDeal, error) {
	query := url.Values{
		"from": {from.Format(dateLayout)},
		"to":   {to.Format(dateLayout)},
	}
	var deals []providers.BrokerDeal
	err := c.get(ctx, "/api/accounts/"+url.PathEscape(brokerAccID)+"/deals", query, &deals)
	return deals, err
}

// FetchWatchlist returns the user's upstream watchlist.
func (c *Client) FetchWatchlist(ctx context.Context, user string) ([]providers.BrokerWatchlistItem, error) {
	var items []providers.BrokerWatchlistItem
	err := c.get(ctx, "/api/watchlist", url.Values{"user": {user}}, &items)
	return items, err
}
