// Package tracker runs the position lifecycle: accepting signals as OPEN
// positions and moving them to TARGET_HIT, STOPPED or EXPIRED as prices
// arrive.
package tracker

import (
	"time"

	"github.com/shopspring/decimal"

	"trading-screener/internal/model"
)

// Observe applies one price observation to a position. It is pure: the
// input is not modified and no I/O happens.
//
// Checks run in this order: stop, final target, expiry, partial tiers.
// A price that satisfies both stop and target therefore stops the
// position. Terminal positions come back unchanged with no events.
func Observe(pos model.Position, price float64, now time.Time) (model.Position, []model.Event) {
	if pos.Status.Terminal() || !(price > 0) {
		return pos, nil
	}
	next := pos
	next.Signal.Targets = append([]model.Target(nil), pos.Signal.Targets...)
	next.Signal.Rationale = append([]string(nil), pos.Signal.Rationale...)
	next.LastPrice = price
	next.LastObservedAt = now

	s := pos.Signal
	sign := s.Direction.Sign()
	reached := func(level float64) bool { return level > 0 && (price-level)*sign >= 0 }

	switch {
	case s.StopLoss > 0 && (price-s.StopLoss)*sign <= 0:
		return settle(next, model.StatusStopped, model.EventStopped, price, now)
	case len(s.Targets) > 0 && reached(s.FinalTarget()):
		next.TiersHit = len(s.Targets)
		return settle(next, model.StatusTargetHit, model.EventTargetHit, price, now)
	case !pos.ExpiresAt.IsZero() && now.After(pos.ExpiresAt):
		return settle(next, model.StatusExpired, model.EventExpired, price, now)
	}

	var events []model.Event
	// The final tier is handled above; only intermediate tiers are partial.
	for i := pos.TiersHit; i < len(s.Targets)-1; i++ {
		if !reached(s.Targets[i].Price) {
			break
		}
		next.TiersHit = i + 1
		events = append(events, model.Event{
			Kind: model.EventPartialTarget, Price: price, Tier: s.Targets[i].Label, At: now,
		})
	}
	for i := range events {
		events[i].Position = next
	}
	return next, events
}

func settle(p model.Position, status model.Status, kind model.EventKind, price float64, now time.Time) (model.Position, []model.Event) {
	p.Status = status
	p.ClosedAt = now
	p.ClosePrice = price
	p.RealizedPct = RealizedPct(p.Signal.Entry, price, p.Signal.Direction)
	return p, []model.Event{{Kind: kind, Position: p, Price: price, At: now}}
}

// RealizedPct returns the direction-signed percent return from entry to
// price, rounded half-up to two decimals.
func RealizedPct(entry, price float64, dir model.Direction) float64 {
	if entry <= 0 {
		return 0
	}
	e := decimal.NewFromFloat(entry)
	pct := decimal.NewFromFloat(price).Sub(e).Div(e).Mul(decimal.NewFromInt(100))
	if dir == model.Sell {
		pct = pct.Neg()
	}
	return pct.Round(2).InexactFloat64()
}
