// Package notification provides alert delivery to external channels
// (Telegram, webhooks, Kafka, the live feed) for screening results and
// position events.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// AlertKind tells consumers what the alert is about.
type AlertKind string

const (
	KindSignal AlertKind = "signal" // screening run summary
	KindEvent  AlertKind = "event"  // position transition or partial target
	KindRecap  AlertKind = "recap"  // daily performance recap
	KindSystem AlertKind = "system" // operational warnings
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Kind    AlertKind  `json:"kind"`
	Title   string     `json:"title"`
	Message string     `json:"message"`

	// Key groups related alerts (strategy id or symbol); used as the Kafka
	// message key.
	Key     string    `json:"key,omitempty"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log (useful for development).
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.InfoContext(ctx, "notify",
		slog.String("level", string(alert.Level)),
		slog.String("kind", string(alert.Kind)),
		slog.String("title", alert.Title),
		slog.String("message", alert.Message),
	)
	return nil
}

// Multi fans an alert out to every notifier. Each one gets its own attempt;
// failures are joined, never short-circuited.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	return m.send(ctx, alert, 0)
}

// send gives every sink its own timeout, so a slow sink cannot use up the
// deadline of the sinks after it.
func (m Multi) send(ctx context.Context, alert Alert, timeout time.Duration) error {
	var errs []error
	for _, n := range m {
		if err := sendWithin(ctx, n, alert, timeout); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

func sendWithin(ctx context.Context, n Notifier, alert Alert, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return n.Send(ctx, alert)
}

// Deliver makes one fire-and-forget attempt, bounded by timeout per sink.
// Failures are logged and dropped so that delivery never affects state that
// was already recorded.
func Deliver(ctx context.Context, n Notifier, alert Alert, timeout time.Duration, log *slog.Logger) bool {
	if n == nil {
		return false
	}
	if alert.Time.IsZero() {
		alert.Time = time.Now()
	}
	var err error
	if m, ok := n.(Multi); ok {
		err = m.send(ctx, alert, timeout)
	} else {
		err = sendWithin(ctx, n, alert, timeout)
	}
	if err != nil {
		if log == nil {
			log = slog.Default()
		}
		log.WarnContext(ctx, "notification delivery failed",
			slog.String("title", alert.Title),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}
