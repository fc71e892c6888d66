package model

import "time"

// EventKind names a notification-worthy change of a position.
type EventKind string

const (
	EventPartialTarget EventKind = "PARTIAL_TARGET"
	EventTargetHit     EventKind = "TARGET_HIT"
	EventStopped       EventKind = "STOPPED"
	EventExpired       EventKind = "EXPIRED"
)

// Event is emitted by the position tracker. Tier is set only for
// EventPartialTarget.
type Event struct {
	Kind     EventKind `json:"kind"`
	Position Position  `json:"position"`
	Price    float64   `json:"price"`
	Tier     string    `json:"tier,omitempty"`
	At       time.Time `json:"at"`
}

// Quote is the latest traded price of a symbol.
type Quote struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"time"`
}
