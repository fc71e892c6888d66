// Package yahoo serves daily history and latest quotes from Yahoo Finance
// through piquette/finance-go. IDX tickers carry the ".JK" suffix there.
package yahoo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"

	"trading-screener/internal/marketdata"
	"trading-screener/internal/model"
)

const provider = "yahoo"

// Config configures the adapter.
type Config struct {
	Suffix string `yaml:"suffix" json:"suffix" default:".JK"`
}

// Bar is one chart bar as the library returns it.
type Bar = finance.ChartBar

// chartFunc and quoteFunc are the library entry points, replaceable in
// tests.
type (
	chartFunc func(symbol string, from, to time.Time) ([]Bar, error)
	quoteFunc func(symbol string) (*finance.Quote, error)
)

// Client implements HistoryProvider and QuoteProvider.
type Client struct {
	suffix string
	chart  chartFunc
	quote  quoteFunc
}

// New creates a client using the live Yahoo endpoints.
func New(cfg Config) *Client {
	return &Client{suffix: cfg.Suffix, chart: fetchChart, quote: quote.Get}
}

func fetchChart(symbol string, from, to time.Time) ([]Bar, error) {
	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&from),
		End:      datetime.New(&to),
		Interval: datetime.OneDay,
	})
	var bars []Bar
	for iter.Next() {
		bars = append(bars, *iter.Bar())
	}
	return bars, iter.Err()
}

func (c *Client) ticker(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if c.suffix != "" && !strings.HasSuffix(s, strings.ToUpper(c.suffix)) {
		s += strings.ToUpper(c.suffix)
	}
	return s
}

// History returns sanitized daily bars between from and to.
func (c *Client) History(ctx context.Context, symbol string, from, to time.Time) ([]model.PriceBar, error) {
	var (
		raw []Bar
		err error
	)
	// The library has no context support; run it aside so cancellation
	// and per-call timeouts still return promptly.
	done := make(chan struct{})
	go func() {
		defer close(done)
		raw, err = c.chart(c.ticker(symbol), from, to)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s history %s: %w", provider, symbol, ctx.Err())
	case <-done:
	}
	if err != nil {
		return nil, fmt.Errorf("%s history %s: %w", provider, symbol, classify(err))
	}

	bars := make([]model.PriceBar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, model.PriceBar{
			Time:   time.Unix(int64(b.Timestamp), 0).UTC(),
			Open:   b.Open.InexactFloat64(),
			High:   b.High.InexactFloat64(),
			Low:    b.Low.InexactFloat64(),
			Close:  b.Close.InexactFloat64(),
			Volume: float64(b.Volume),
		})
	}
	out, err := marketdata.Sanitize(bars)
	if err != nil {
		return nil, fmt.Errorf("%s history %s: %w", provider, symbol, err)
	}
	return out, nil
}

// Quotes fetches the regular-market price of each symbol. Symbols that
// fail are left out; the first failure is returned alongside the partial
// result.
func (c *Client) Quotes(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(symbols))
	var errs []error
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		q, err := c.quote(c.ticker(sym))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s quote %s: %w", provider, sym, classify(err)))
			continue
		}
		if q == nil || !(q.RegularMarketPrice > 0) || !marketdata.Finite(q.RegularMarketPrice) {
			continue
		}
		ts := time.Now().UTC()
		if q.RegularMarketTime > 0 {
			ts = time.Unix(int64(q.RegularMarketTime), 0).UTC()
		}
		out[sym] = model.Quote{Symbol: sym, Price: q.RegularMarketPrice, Time: ts}
	}
	return out, errors.Join(errs...)
}

// classify maps library errors: an unknown ticker or empty chart is no
// data, everything else is treated as transient.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not found") || strings.Contains(msg, "no data") || strings.Contains(msg, "delisted") {
		return fmt.Errorf("%w: %v", model.ErrNoData, err)
	}
	return marketdata.WrapTransport(provider, err)
}
