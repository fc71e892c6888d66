// Package universe resolves the list of candidate symbols a screening run
// evaluates.
package universe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"trading-screener/internal/marketdata"
)

// Source selects where candidates come from.
type Source string

const (
	FromWatchlist Source = "watchlist"
	FromStyle     Source = "style"
	FromMovers    Source = "movers"
)

// ErrEmpty means the configuration resolved to no symbols at all.
var ErrEmpty = errors.New("empty universe")

// Kompas100 is the default IDX universe.
var Kompas100 = []string{
	"ACES", "ACST", "ADHI", "ADRO", "AGII", "AKRA", "AMRT", "ANTM", "APLN", "ASII",
	"ASRI", "BBCA", "BBNI", "BBRI", "BBTN", "BFIN", "BJBR", "BJTM", "BMRI", "BNGA",
	"BNII", "BRIS", "BRPT", "BSDE", "BTPS", "BUDI", "CPIN", "CTRA", "DMAS", "DOID",
	"DSNG", "ELSA", "ERAA", "EXCL", "FREN", "GGRM", "GJTL", "GOTO", "HEAL", "HMSP",
	"ICBP", "INCO", "INDF", "INDY", "INKP", "INTP", "IPCM", "ITMG", "JPFA", "JSMR",
	"KIJA", "KLBF", "LPKR", "LPPF", "MAPI", "MDKA", "MEDC", "MIKA", "MNCN", "MPPA",
	"MTDL", "MYOR", "PGAS", "PNLF", "PPRE", "PPRO", "PRDA", "PTBA", "PTPP", "PWON",
	"RAJA", "RALS", "ROTI", "SCMA", "SIDO", "SMGR", "SMRA", "SSMS", "TCPI", "TINS",
	"TKIM", "TLKM", "TOWR", "TPIA", "TRAM", "TUGU", "UNTR", "UNVR", "WEGE", "WIKA",
	"WSBP", "WSKT", "WTON",
}

// DefaultStyles are the built-in style sets. Configured sets with the same
// name replace them.
func DefaultStyles() map[string][]string {
	return map[string][]string{
		"BSJP":      {"BBCA", "BMRI", "BBRI", "ASII", "TLKM"},
		"BPJS":      {"BBCA", "BMRI", "UNVR", "ICBP", "PGAS"},
		"KOMPAS100": Kompas100,
	}
}

// Config describes one strategy's universe.
type Config struct {
	Source    Source               `yaml:"source" json:"source" default:"watchlist" validate:"oneof=watchlist style movers"`
	Watchlist []string             `yaml:"watchlist" json:"watchlist"`
	Style     string               `yaml:"style" json:"style"`
	Movers    marketdata.MoverKind `yaml:"movers" json:"movers" validate:"omitempty,oneof=gainers losers trending"`
	Limit     int                  `yaml:"limit" json:"limit" validate:"gte=0"`
}

// Resolver turns a Config into symbols.
type Resolver struct {
	styles map[string][]string
	movers marketdata.MoversProvider
	log    *slog.Logger
}

// NewResolver merges extra style sets over the defaults. movers may be nil
// when no provider offers movers lists.
func NewResolver(styles map[string][]string, movers marketdata.MoversProvider, log *slog.Logger) *Resolver {
	merged := DefaultStyles()
	for k, v := range styles {
		merged[strings.ToUpper(k)] = v
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{styles: merged, movers: movers, log: log}
}

// Styles returns the names of the known style sets.
func (r *Resolver) Styles() []string {
	out := make([]string, 0, len(r.styles))
	for k := range r.styles {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// HasStyle reports whether name is a known style set.
func (r *Resolver) HasStyle(name string) bool {
	_, ok := r.styles[strings.ToUpper(name)]
	return ok
}

// Resolve returns the normalized candidate list. A failing movers query
// falls back to the watchlist, then to the Kompas100 set.
func (r *Resolver) Resolve(ctx context.Context, cfg Config) ([]string, error) {
	var raw []string
	switch cfg.Source {
	case FromStyle:
		set, ok := r.styles[strings.ToUpper(cfg.Style)]
		if !ok {
			return nil, fmt.Errorf("unknown style %q", cfg.Style)
		}
		raw = set
	case FromMovers:
		raw = r.fromMovers(ctx, cfg)
	default:
		raw = cfg.Watchlist
		if len(raw) == 0 {
			raw = Kompas100
		}
	}

	out := Normalize(raw, cfg.Limit)
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

func (r *Resolver) fromMovers(ctx context.Context, cfg Config) []string {
	fallback := cfg.Watchlist
	if len(fallback) == 0 {
		fallback = Kompas100
	}
	if r.movers == nil {
		r.log.WarnContext(ctx, "no movers provider, using watchlist")
		return fallback
	}
	kind := cfg.Movers
	if kind == "" {
		kind = marketdata.Gainers
	}
	syms, err := r.movers.Movers(ctx, kind, cfg.Limit)
	if err != nil || len(syms) == 0 {
		attrs := []any{slog.String("movers", string(kind))}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		r.log.WarnContext(ctx, "movers query failed, using watchlist", attrs...)
		return fallback
	}
	return syms
}

// Normalize trims and upper-cases symbols, strips a ".JK" suffix, removes
// blanks and duplicates keeping first-seen order, and truncates to limit
// when limit > 0.
func Normalize(symbols []string, limit int) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		s = strings.TrimSuffix(s, ".JK")
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
