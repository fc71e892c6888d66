// Package report formats screening results, position events and recaps
// into notification alerts.
package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"trading-screener/internal/model"
	"trading-screener/internal/notification"
)

// RunSummary builds the one alert sent per completed screening run. With no
// signals the message is exactly noSignal.
func RunSummary(strategyID, title string, signals []model.Signal, noSignal string, at time.Time) notification.Alert {
	if title == "" {
		title = strings.ToUpper(strategyID)
	}
	a := notification.Alert{
		Level:   notification.AlertInfo,
		Kind:    notification.KindSignal,
		Title:   fmt.Sprintf("%s screening %s", title, at.Format("2006-01-02 15:04")),
		Key:     strategyID,
		Time:    at,
		Payload: signals,
	}
	if len(signals) == 0 {
		a.Message = noSignal
		return a
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d signal(s)\n", len(signals))
	for i, s := range signals {
		b.WriteString("\n")
		writeSignal(&b, i+1, s)
	}
	a.Message = strings.TrimRight(b.String(), "\n")
	return a
}

func writeSignal(b *strings.Builder, n int, s model.Signal) {
	fmt.Fprintf(b, "%d. %s %s @ %s\n", n, s.Symbol, s.Direction, Price(s.Entry))

	targets := make([]string, 0, len(s.Targets))
	for _, t := range s.Targets {
		targets = append(targets, fmt.Sprintf("%s %s (%+.1f%%)", t.Label, Price(t.Price), Pct(s.Entry, t.Price)))
	}
	fmt.Fprintf(b, "   %s | SL %s (%+.1f%%)", strings.Join(targets, " · "), Price(s.StopLoss), Pct(s.Entry, s.StopLoss))
	if rr := riskReward(s); rr > 0 {
		fmt.Fprintf(b, " | RR 1:%.1f", rr)
	}
	b.WriteString("\n")

	fmt.Fprintf(b, "   confidence %.0f", s.Confidence)
	if !math.IsNaN(s.VolumeRatio) && s.VolumeRatio > 0 {
		fmt.Fprintf(b, " · volume %.1fx avg", s.VolumeRatio)
	}
	if s.Value > 0 {
		fmt.Fprintf(b, " · value %s", Compact(s.Value))
	}
	b.WriteString("\n")
	for _, r := range s.Rationale {
		fmt.Fprintf(b, "   - %s\n", r)
	}
}

func riskReward(s model.Signal) float64 {
	risk := math.Abs(s.Entry - s.StopLoss)
	if risk == 0 || len(s.Targets) == 0 {
		return 0
	}
	return math.Abs(s.FinalTarget()-s.Entry) / risk
}

// Event builds the alert for one position event.
func Event(ev model.Event) notification.Alert {
	s := ev.Position.Signal
	level := notification.AlertInfo
	var head string
	switch ev.Kind {
	case model.EventPartialTarget:
		head = fmt.Sprintf("%s reached %s", s.Symbol, ev.Tier)
	case model.EventTargetHit:
		head = fmt.Sprintf("%s target hit", s.Symbol)
	case model.EventStopped:
		head = fmt.Sprintf("%s stopped out", s.Symbol)
		level = notification.AlertWarning
	case model.EventExpired:
		head = fmt.Sprintf("%s expired", s.Symbol)
	default:
		head = fmt.Sprintf("%s %s", s.Symbol, ev.Kind)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s entry %s → %s", s.StrategyID, s.Direction, Price(s.Entry), Price(ev.Price))
	if ev.Kind == model.EventPartialTarget {
		fmt.Fprintf(&b, " (%+.2f%% open)", s.Direction.Sign()*Pct(s.Entry, ev.Price))
	} else {
		fmt.Fprintf(&b, " (%+.2f%% realized)", ev.Position.RealizedPct)
	}
	fmt.Fprintf(&b, "\nopened %s", ev.Position.OpenedAt.Format("2006-01-02 15:04"))

	return notification.Alert{
		Level:   level,
		Kind:    notification.KindEvent,
		Title:   head,
		Message: b.String(),
		Key:     s.Symbol,
		Time:    ev.At,
		Payload: ev,
	}
}

// Recap builds the daily performance alert.
func Recap(title string, s Summary, at time.Time) notification.Alert {
	var b strings.Builder
	fmt.Fprintf(&b, "closed %d: %d target, %d stopped, %d expired\n", s.Closed(), s.Wins, s.Losses, s.Expired)
	fmt.Fprintf(&b, "win rate %.1f%% · avg %+.2f%% · total %+.2f%%\n", s.WinRate, s.AvgRealizedPct, s.TotalRealizedPct)
	if s.Closed() > 0 {
		fmt.Fprintf(&b, "best %+.2f%% · worst %+.2f%%\n", s.BestPct, s.WorstPct)
	}
	fmt.Fprintf(&b, "open %d", s.Open)
	return notification.Alert{
		Level:   notification.AlertInfo,
		Kind:    notification.KindRecap,
		Title:   fmt.Sprintf("%s recap %s", title, at.Format("2006-01-02")),
		Message: b.String(),
		Key:     s.StrategyID,
		Time:    at,
		Payload: s,
	}
}

// Price formats a price with thousands separators, dropping cents on
// whole numbers: 9500 → "9,500", 102.5 → "102.50".
func Price(v float64) string {
	if v != math.Trunc(v) {
		return group(fmt.Sprintf("%.2f", v))
	}
	return group(fmt.Sprintf("%.0f", v))
}

func group(s string) string {
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	neg := strings.HasPrefix(intPart, "-")
	if neg {
		intPart = intPart[1:]
	}
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}

// Pct returns the percent move from a to b.
func Pct(a, b float64) float64 {
	if a == 0 {
		return 0
	}
	return (b - a) / a * 100
}

// Compact renders large amounts as 1.2K, 3.4M, 5.6B or 7.8T.
func Compact(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1e12:
		return fmt.Sprintf("%.1fT", v/1e12)
	case abs >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	}
	return fmt.Sprintf("%.0f", v)
}
