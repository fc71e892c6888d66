// Package feed streams alerts to websocket clients: run summaries,
// position events and recaps as they happen.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	"trading-screener/internal/notification"
)

// Hub fans alerts out to connected clients. It is a notification.Notifier,
// so it can sit in the same fan-out as Telegram or Kafka.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	replay  *ReplayBuffer
	log     *slog.Logger
	now     func() time.Time
}

// NewHub creates a hub keeping the last replaySize envelopes for backfill.
func NewHub(replaySize int, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replaySize),
		log:     log.With(slog.String("component", "feed")),
		now:     time.Now,
	}
}

// Send broadcasts the alert. It never blocks on slow clients.
func (h *Hub) Send(_ context.Context, alert notification.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("feed: marshal: %w", err)
	}
	h.Broadcast(string(alert.Kind), data)
	return nil
}

// Broadcast wraps data in an envelope and queues it for every client.
// Clients whose send buffer is full miss the message and can backfill it
// on reconnect.
func (h *Hub) Broadcast(kind string, data []byte) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	env := envelope(kind, data, h.now(), seq)
	h.replay.Push(seq, env)
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if !c.wants(kind) {
			continue
		}
		c.enqueue(env)
	}
}

// envelope builds {"kind":...,"data":...,"ts":...,"seq":N} without a
// second marshal of data.
func envelope(kind string, data []byte, ts time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(kind)+len(data)+96)
	buf = append(buf, `{"kind":`...)
	buf = strconv.AppendQuote(buf, kind)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.UTC().AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// Serve registers an upgraded connection. A positive lastSeq replays the
// buffered envelopes the client missed.
func (h *Hub) Serve(conn *websocket.Conn, lastSeq int64) {
	c := newClient(h, conn)

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	if lastSeq > 0 {
		for _, e := range h.replay.After(lastSeq) {
			c.enqueue(e.Data)
		}
	}
	h.mu.Unlock()

	h.log.Info("feed client connected", slog.Int("clients", count), slog.Int64("last_seq", lastSeq))
	go c.writePump()
	go c.readPump()
}

// remove unregisters a client and closes its queue once.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the sequence number of the latest envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Subscriber opens a Redis subscription. The Redis store satisfies it and
// applies the same channel prefix it publishes with.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) *goredis.PubSub
}

// Relay subscribes to a channel carrying JSON alerts (see
// notification.PubSubNotifier) and rebroadcasts them, so an API process
// can stream alerts produced by a separate scheduler process. Blocks until
// ctx is canceled.
func (h *Hub) Relay(ctx context.Context, sub Subscriber, channel string) {
	pubsub := sub.Subscribe(ctx, channel)
	defer pubsub.Close()
	// Wait for the subscription to be confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		h.log.Error("relay: subscribe failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	h.log.Info("relaying alerts", slog.String("channel", channel))
	h.relay(ctx, pubsub.Channel())
}

func (h *Hub) relay(ctx context.Context, ch <-chan *goredis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var head struct {
				Kind string `json:"kind"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &head); err != nil {
				h.log.Warn("relay: dropping malformed alert", slog.String("error", err.Error()))
				continue
			}
			h.Broadcast(head.Kind, []byte(msg.Payload))
		}
	}
}
