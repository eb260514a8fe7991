// Package fanout pushes records to live subscribers by topic.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DeafMist/local-pulse/backend/internal/metrics"
)

const (
	TopicEvents      = "events"
	TopicAlerts      = "alerts"
	TopicMood        = "mood"
	TopicPredictions = "predictions"
)

// Topics lists every topic a client may subscribe to.
var Topics = []string{TopicEvents, TopicAlerts, TopicMood, TopicPredictions}

var ErrUnknownTopic = errors.New("unknown topic")

// ValidTopic reports whether topic is one of Topics.
func ValidTopic(topic string) bool {
	for _, t := range Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// Publisher is what producers of live updates depend on.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Message is one delivery to a subscriber.
type Message struct {
	Topic  string    `json:"topic"`
	Data   any       `json:"data"`
	SentAt time.Time `json:"sent_at"`
}

// Subscription is a handle on one topic. Its channel is closed when the hub
// drops it.
type Subscription struct {
	id         uint64
	topic      string
	ch         chan Message
	hub        *Hub
	lastActive atomic.Int64
}

// C delivers messages until the subscription is removed.
func (s *Subscription) C() <-chan Message { return s.ch }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Touch records client activity and postpones the idle timeout.
func (s *Subscription) Touch() { s.lastActive.Store(s.hub.now().UnixNano()) }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() { s.hub.remove(s, "closed") }

// HubOptions tune a Hub. Zero values pick the defaults.
type HubOptions struct {
	// Buffer is the per-subscriber queue; a full queue drops the subscriber.
	Buffer       int
	IdleTimeout  time.Duration
	ReapInterval time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Hub is a mutex-guarded registry of subscriptions per topic. Sends never
// block: a subscriber that cannot take a message is removed.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[uint64]*Subscription
	nextID uint64

	opts   HubOptions
	now    func() time.Time
	logger *slog.Logger
}

// NewHub builds an empty hub.
func NewHub(opts HubOptions) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		topics: make(map[string]map[uint64]*Subscription),
		opts:   opts,
		now:    now,
		logger: logger,
	}
}

// Subscribe registers a new handle on topic.
func (h *Hub) Subscribe(topic string) (*Subscription, error) {
	if !ValidTopic(topic) {
		return nil, fmt.Errorf("subscribe %q: %w", topic, ErrUnknownTopic)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:    h.nextID,
		topic: topic,
		ch:    make(chan Message, h.opts.Buffer),
		hub:   h,
	}
	sub.Touch()

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[uint64]*Subscription)
		h.topics[topic] = subs
	}
	subs[sub.id] = sub
	metrics.Subscribers.WithLabelValues(topic).Set(float64(len(subs)))
	return sub, nil
}

// Broadcast delivers payload to every current subscriber of topic and
// returns how many received it.
func (h *Hub) Broadcast(topic string, payload any) int {
	msg := Message{Topic: topic, Data: payload, SentAt: h.now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for _, sub := range h.topics[topic] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			h.removeLocked(sub, "full")
		}
	}
	if delivered > 0 {
		metrics.FanoutDelivered.WithLabelValues(topic).Add(float64(delivered))
	}
	return delivered
}

// Publish implements Publisher for in-process producers.
func (h *Hub) Publish(_ context.Context, topic string, payload any) error {
	if !ValidTopic(topic) {
		return fmt.Errorf("publish %q: %w", topic, ErrUnknownTopic)
	}
	h.Broadcast(topic, payload)
	return nil
}

// Count returns the number of live subscribers of topic.
func (h *Hub) Count(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// Reap removes subscriptions idle for longer than IdleTimeout.
func (h *Hub) Reap() int {
	cutoff := h.now().Add(-h.opts.IdleTimeout).UnixNano()

	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for _, subs := range h.topics {
		for _, sub := range subs {
			if sub.lastActive.Load() < cutoff {
				h.removeLocked(sub, "idle")
				removed++
			}
		}
	}
	return removed
}

// Run reaps idle subscriptions until ctx is done, then drops everyone.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case <-ticker.C:
			if n := h.Reap(); n > 0 {
				h.logger.Info("reaped idle subscribers", slog.Int("count", n))
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.topics {
		for _, sub := range subs {
			h.removeLocked(sub, "closed")
		}
	}
}

func (h *Hub) remove(sub *Subscription, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub, reason)
}

func (h *Hub) removeLocked(sub *Subscription, reason string) {
	subs := h.topics[sub.topic]
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	close(sub.ch)
	metrics.FanoutDropped.WithLabelValues(reason).Inc()
	metrics.Subscribers.WithLabelValues(sub.topic).Set(float64(len(subs)))
	h.logger.Debug("subscriber removed",
		slog.String("topic", sub.topic),
		slog.Uint64("id", sub.id),
		slog.String("reason", reason),
	)
}
