// Package goapi reads IDX market data from the GoAPI REST service:
// daily history, latest prices and the movers lists.
package goapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"trading-screener/internal/marketdata"
	"trading-screener/internal/model"
)

const provider = "goapi"

// Config configures the client.
type Config struct {
	BaseURL string        `yaml:"base_url" json:"base_url" default:"https://api.goapi.io/stock/idx"`
	APIKey  string        `yaml:"api_key" json:"-"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" default:"10s"`
}

// Client implements HistoryProvider, QuoteProvider and MoversProvider.
type Client struct {
	http *resty.Client
}

// New creates a client. The API key travels in the X-API-KEY header.
func New(cfg Config) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		c.SetHeader("X-API-KEY", cfg.APIKey)
	}
	return &Client{http: c}
}

// envelope is the shape of every GoAPI response.
type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Results []T `json:"results"`
	} `json:"data"`
}

// number accepts both JSON numbers and numeric strings.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("number %q: %w", s, err)
	}
	*n = number(v)
	return nil
}

type historyRow struct {
	Symbol string `json:"symbol"`
	Date   string `json:"date"`
	Open   number `json:"open"`
	High   number `json:"high"`
	Low    number `json:"low"`
	Close  number `json:"close"`
	Volume number `json:"volume"`
}

type priceRow struct {
	Symbol string `json:"symbol"`
	Close  number `json:"close"`
	Date   string `json:"date"`
}

type moverRow struct {
	Symbol string `json:"symbol"`
}

func get[T any](ctx context.Context, c *Client, path string, params map[string]string) ([]T, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", provider, path, ctx.Err())
		}
		return nil, marketdata.WrapTransport(provider, err)
	}
	if err := marketdata.StatusError(provider, resp.StatusCode()); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var env envelope[T]
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("%s %s: decode: %v: %w", provider, path, err, model.ErrNoData)
	}
	if env.Status != "" && env.Status != "success" {
		return nil, fmt.Errorf("%s %s: %s: %w", provider, path, env.Message, model.ErrNoData)
	}
	return env.Data.Results, nil
}

var jakarta = func() *time.Location {
	if loc, err := time.LoadLocation("Asia/Jakarta"); err == nil {
		return loc
	}
	return time.FixedZone("WIB", 7*3600)
}()

// History returns sanitized daily bars for symbol.
func (c *Client) History(ctx context.Context, symbol string, from, to time.Time) ([]model.PriceBar, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	rows, err := get[historyRow](ctx, c, "/"+sym+"/historical", map[string]string{
		"from": from.In(jakarta).Format("2006-01-02"),
		"to":   to.In(jakarta).Format("2006-01-02"),
	})
	if err != nil {
		return nil, err
	}
	bars := make([]model.PriceBar, 0, len(rows))
	for _, r := range rows {
		day, err := time.ParseInLocation("2006-01-02", r.Date, jakarta)
		if err != nil {
			continue
		}
		bars = append(bars, model.PriceBar{
			Time: day, Open: float64(r.Open), High: float64(r.High), Low: float64(r.Low),
			Close: float64(r.Close), Volume: float64(r.Volume),
		})
	}
	out, err := marketdata.Sanitize(bars)
	if err != nil {
		return nil, fmt.Errorf("%s history %s: %w", provider, sym, err)
	}
	return out, nil
}

// Quotes returns the latest close of each symbol in one request.
func (c *Client) Quotes(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	rows, err := get[priceRow](ctx, c, "/prices", map[string]string{"symbols": strings.Join(upper, ",")})
	if err != nil {
		return out, err
	}
	now := time.Now().UTC()
	for _, r := range rows {
		p := float64(r.Close)
		if !(p > 0) || !marketdata.Finite(p) {
			continue
		}
		ts := now
		if d, err := time.ParseInLocation("2006-01-02", r.Date, jakarta); err == nil {
			ts = d
		}
		sym := strings.ToUpper(r.Symbol)
		out[sym] = model.Quote{Symbol: sym, Price: p, Time: ts}
	}
	return out, nil
}

var moverPaths = map[marketdata.MoverKind]string{
	marketdata.Gainers:  "/top_gainer",
	marketdata.Losers:   "/top_loser",
	marketdata.Trending: "/trending",
}

// Movers returns up to limit symbols from a movers list.
func (c *Client) Movers(ctx context.Context, kind marketdata.MoverKind, limit int) ([]string, error) {
	path, ok := moverPaths[kind]
	if !ok {
		return nil, fmt.Errorf("%s: unknown movers list %q", provider, kind)
	}
	rows, err := get[moverRow](ctx, c, path, nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.Symbol == "" {
			continue
		}
		out = append(out, strings.ToUpper(r.Symbol))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s %s: empty list: %w", provider, kind, model.ErrNoData)
	}
	return out, nil
}
