package notification

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher sends raw messages on a named channel. The Redis store
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message []byte) error
}

// PubSubNotifier publishes alerts as JSON on one channel so other
// processes (a dashboard, a second screener) can subscribe.
type PubSubNotifier struct {
	pub     Publisher
	channel string
}

// NewPubSubNotifier creates a notifier publishing to channel.
func NewPubSubNotifier(pub Publisher, channel string) *PubSubNotifier {
	if channel == "" {
		channel = "alerts"
	}
	return &PubSubNotifier{pub: pub, channel: channel}
}

func (p *PubSubNotifier) Send(ctx context.Context, alert Alert) error {
	v, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("pubsub: marshal: %w", err)
	}
	if err := p.pub.Publish(ctx, p.channel, v); err != nil {
		return fmt.Errorf("pubsub: publish %s: %w", p.channel, err)
	}
	return nil
}
