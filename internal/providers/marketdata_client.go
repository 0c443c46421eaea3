// Package providers implements the external collaborators the engine talks
// to over HTTP: the A-share market-data feed and the per-agent LLM
// endpoints. Spec explicitly leaves both protocols out of scope; these are
// thin, OpenAI-compatible/REST clients behind the engine's own narrow
// domain.MarketDataSource/domain.LLMClient interfaces, shaped after the
// donor's own rate-limited Tradernet SDK client (auth header, JSON decode,
// a shared *http.Client with a bounded timeout).
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aristath/arena-engine/internal/domain"
)

const requestTimeout = 20 * time.Second

// MarketDataClient is a REST client over an external OHLC/calendar/basic-
// info/hot-pool feed. It implements domain.MarketDataSource directly and
// internal/marketdata.Upstream (the same method set).
type MarketDataClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewMarketDataClient builds a client against baseURL, sending apiKey as a
// bearer token when non-empty.
func NewMarketDataClient(baseURL, apiKey string) *MarketDataClient {
	return &MarketDataClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func (c *MarketDataClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if query != nil {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewArenaError(domain.ErrTransient, "marketdata.fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return domain.NewArenaError(domain.ErrTransient, "marketdata.fetch", fmt.Errorf("status %d from %s", resp.StatusCode, path))
	}
	if resp.StatusCode >= 400 {
		return domain.NewArenaError(domain.ErrDataMissing, "marketdata.fetch", fmt.Errorf("status %d from %s", resp.StatusCode, path))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetBar fetches one code's OHLCV bar for date.
func (c *MarketDataClient) GetBar(ctx context.Context, code, date string) (domain.Bar, error) {
	var bar domain.Bar
	err := c.get(ctx, "/bar", url.Values{"code": {code}, "date": {date}}, &bar)
	return bar, err
}

// GetCalendar returns the ordered list of trade dates between start and end, inclusive.
func (c *MarketDataClient) GetCalendar(ctx context.Context, start, end string) ([]string, error) {
	var dates []string
	err := c.get(ctx, "/calendar", url.Values{"start": {start}, "end": {end}}, &dates)
	return dates, err
}

// GetBasicInfo fetches static-ish descriptive info for code.
func (c *MarketDataClient) GetBasicInfo(ctx context.Context, code string) (domain.BasicInfo, error) {
	var info domain.BasicInfo
	err := c.get(ctx, "/basic_info", url.Values{"code": {code}}, &info)
	return info, err
}

// GetHotPool fetches the day's hot stock codes and sectors.
func (c *MarketDataClient) GetHotPool(ctx context.Context, date string) ([]string, []domain.HotSector, error) {
	var payload struct {
		Codes   []string          `json:"codes"`
		Sectors []domain.HotSector `json:"sectors"`
	}
	err := c.get(ctx, "/hot_pool", url.Values{"date": {date}}, &payload)
	return payload.Codes, payload.Sectors, err
}

// GetNewsForCode fetches news items for code dated on or before asOfDate.
func (c *MarketDataClient) GetNewsForCode(ctx context.Context, code, asOfDate string, limit int) ([]domain.NewsItem, error) {
	var items []domain.NewsItem
	err := c.get(ctx, "/news", url.Values{"code": {code}, "as_of": {asOfDate}, "limit": {strconv.Itoa(limit)}}, &items)
	return items, err
}
