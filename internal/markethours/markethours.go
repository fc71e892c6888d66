// Package markethours answers exchange calendar questions for the IDX:
// trading days, session hours and the next open.
package markethours

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/scmhub/calendar"
)

// Jakarta is Western Indonesia Time (UTC+7). The IANA zone is preferred
// when tzdata is available.
var Jakarta = loadJakarta()

func loadJakarta() *time.Location {
	if loc, err := time.LoadLocation("Asia/Jakarta"); err == nil {
		return loc
	}
	return time.FixedZone("WIB", 7*3600)
}

// MIC is the ISO 10383 code of the Indonesia Stock Exchange.
const MIC = "xidx"

// Config describes the session. Holidays are YYYY-MM-DD dates added on top
// of the exchange calendar.
type Config struct {
	Location string   `yaml:"location" default:"Asia/Jakarta"`
	Open     string   `yaml:"open" default:"09:00" validate:"omitempty,datetime=15:04"`
	Close    string   `yaml:"close" default:"16:00" validate:"omitempty,datetime=15:04"`
	Holidays []string `yaml:"holidays" validate:"dive,datetime=2006-01-02"`
}

// Calendar is safe for concurrent use.
type Calendar struct {
	loc      *time.Location
	open     int // minutes after midnight
	close    int
	holidays map[string]bool
	exchange *calendar.Calendar // nil when the MIC is unknown to the library
}

// New builds the calendar. When the library has no IDX calendar, trading
// days fall back to weekdays minus the configured holidays.
func New(cfg Config, log *slog.Logger) (*Calendar, error) {
	if log == nil {
		log = slog.Default()
	}
	loc := Jakarta
	if cfg.Location != "" {
		l, err := time.LoadLocation(cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("markethours: location %q: %w", cfg.Location, err)
		}
		loc = l
	}
	open, err := clock(cfg.Open, 9*60)
	if err != nil {
		return nil, err
	}
	cl, err := clock(cfg.Close, 16*60)
	if err != nil {
		return nil, err
	}
	if cl <= open {
		return nil, fmt.Errorf("markethours: close %s not after open %s", cfg.Close, cfg.Open)
	}
	c := &Calendar{loc: loc, open: open, close: cl, holidays: make(map[string]bool, len(cfg.Holidays))}
	for _, d := range cfg.Holidays {
		day, err := time.ParseInLocation("2006-01-02", d, loc)
		if err != nil {
			return nil, fmt.Errorf("markethours: holiday %q: %w", d, err)
		}
		c.holidays[day.Format("2006-01-02")] = true
	}
	c.exchange = calendar.GetCalendar(MIC)
	if c.exchange == nil {
		log.Warn("exchange calendar unavailable, using weekdays and configured holidays",
			slog.String("mic", MIC), slog.Int("holidays", len(c.holidays)))
	}
	return c, nil
}

func clock(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("markethours: time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location returns the exchange time zone.
func (c *Calendar) Location() *time.Location { return c.loc }

// IsHoliday reports whether t's exchange date is a configured holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	return c.holidays[t.In(c.loc).Format("2006-01-02")]
}

// IsTradingDay reports whether the exchange trades on t's date.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	t = t.In(c.loc)
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if c.IsHoliday(t) {
		return false
	}
	if c.exchange != nil {
		return c.exchange.IsBusinessDay(t)
	}
	return true
}

func (c *Calendar) at(t time.Time, minutes int) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), minutes/60, minutes%60, 0, 0, c.loc)
}

// IsOpen reports whether t falls inside the regular session of a trading day.
func (c *Calendar) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	lt := t.In(c.loc)
	hm := lt.Hour()*60 + lt.Minute()
	return hm >= c.open && hm < c.close
}

// SessionOpen returns the open time on t's exchange date.
func (c *Calendar) SessionOpen(t time.Time) time.Time { return c.at(t, c.open) }

// SessionClose returns the close time on t's exchange date.
func (c *Calendar) SessionClose(t time.Time) time.Time { return c.at(t, c.close) }

// NextOpen returns the next session open strictly after t.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	if open := c.SessionOpen(t); t.Before(open) && c.IsTradingDay(t) {
		return open
	}
	d := t.In(c.loc)
	for i := 0; i < 30; i++ { // long holiday breaks (Lebaran) stay well under this
		d = d.AddDate(0, 0, 1)
		if c.IsTradingDay(d) {
			return c.SessionOpen(d)
		}
	}
	return c.SessionOpen(d)
}

// Status returns a one-line market status for logs and the health endpoint.
func (c *Calendar) Status(t time.Time) string {
	if c.IsOpen(t) {
		return "open, closes in " + fmtDur(c.SessionClose(t).Sub(t))
	}
	next := c.NextOpen(t).In(c.loc)
	return fmt.Sprintf("closed, opens %s %s (%s)", next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
