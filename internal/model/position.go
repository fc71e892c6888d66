package model

import "time"

// Status is the lifecycle state of a tracked position.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusTargetHit Status = "TARGET_HIT"
	StatusStopped   Status = "STOPPED"
	StatusExpired   Status = "EXPIRED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusTargetHit || s == StatusStopped || s == StatusExpired
}

// Position is a signal accepted for tracking.
//
// Version is the optimistic-concurrency counter used by PositionStore.Update;
// stores increment it on every successful write.
type Position struct {
	ID             string    `json:"id"`
	Signal         Signal    `json:"signal"`
	Status         Status    `json:"status"`
	OpenedAt       time.Time `json:"opened_at"`
	ClosedAt       time.Time `json:"closed_at,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	ClosePrice     float64   `json:"close_price,omitempty"`
	RealizedPct    float64   `json:"realized_pct"`
	TiersHit       int       `json:"tiers_hit"`
	LastPrice      float64   `json:"last_price,omitempty"`
	LastObservedAt time.Time `json:"last_observed_at,omitempty"`
	Version        int64     `json:"version"`
}

// Key returns the deduplication key "strategy:symbol".
func (p *Position) Key() string {
	return p.Signal.Key()
}
