// Package marketdata defines the market data ports consumed by the
// screener and tracker, and the shared hygiene applied to provider output.
//
// Adapters live in sub-packages (yahoo, goapi). Every adapter maps its
// failures onto model.ErrNoData or model.ErrTransient so callers can tell
// a symbol with nothing usable from a provider hiccup.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sort"
	"time"

	"trading-screener/internal/model"
)

// HistoryProvider returns daily OHLCV bars for one symbol.
type HistoryProvider interface {
	History(ctx context.Context, symbol string, from, to time.Time) ([]model.PriceBar, error)
}

// QuoteProvider returns the latest price per symbol. Symbols missing from
// the result had no quote; that is not an error.
type QuoteProvider interface {
	Quotes(ctx context.Context, symbols []string) (map[string]model.Quote, error)
}

// MoverKind selects a movers list.
type MoverKind string

const (
	Gainers  MoverKind = "gainers"
	Losers   MoverKind = "losers"
	Trending MoverKind = "trending"
)

// MoversProvider returns symbols ranked by the provider's movers query.
type MoversProvider interface {
	Movers(ctx context.Context, kind MoverKind, limit int) ([]string, error)
}

// Sanitize drops malformed bars, sorts ascending and keeps the last bar
// for duplicate timestamps. An empty result is ErrNoData.
func Sanitize(bars []model.PriceBar) ([]model.PriceBar, error) {
	out := make([]model.PriceBar, 0, len(bars))
	for _, b := range bars {
		if b.Valid() {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no valid bars: %w", model.ErrNoData)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })

	dedup := out[:1]
	for _, b := range out[1:] {
		if b.Time.Equal(dedup[len(dedup)-1].Time) {
			dedup[len(dedup)-1] = b
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup, nil
}

// Skip reasons reported by Classify.
const (
	ReasonNoData       = "no_data"
	ReasonTransient    = "transient"
	ReasonInsufficient = "insufficient_history"
	ReasonCanceled     = "canceled"
	ReasonOther        = "error"
)

// Classify maps an error to a skip reason.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, model.ErrInsufficientHistory):
		return ReasonInsufficient
	case errors.Is(err, model.ErrNoData):
		return ReasonNoData
	case errors.Is(err, model.ErrTransient), errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return ReasonTransient
	}
	return ReasonOther
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// StatusError maps an HTTP status to an error kind: 429 and 5xx are
// transient, other non-2xx codes mean no data. 2xx returns nil.
func StatusError(provider string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 429 || status >= 500:
		return fmt.Errorf("%s: status %d: %w", provider, status, model.ErrTransient)
	default:
		return fmt.Errorf("%s: status %d: %w", provider, status, model.ErrNoData)
	}
}

// WrapTransport marks a transport-level failure (connection refused,
// reset, timeout) as transient unless it already carries a kind.
func WrapTransport(provider string, err error) error {
	if err == nil || errors.Is(err, model.ErrNoData) || errors.Is(err, model.ErrTransient) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", provider, model.ErrTransient, err)
}

// Finite reports whether v is a usable number.
func Finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
