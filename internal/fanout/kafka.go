package fanout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// envelope is the wire form of a live update on the bridge topic.
type envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher forwards live updates to a bridge topic so that a process
// without subscribers (worker, poller) can reach the api's hub.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher writes to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, payload any) error {
	if !ValidTopic(topic) {
		return fmt.Errorf("publish %q: %w", topic, ErrUnknownTopic)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	value, err := json.Marshal(envelope{Topic: topic, Data: data})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(topic), Value: value}); err != nil {
		return fmt.Errorf("write live update: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Relay consumes the bridge topic and broadcasts each update on the hub.
type Relay struct {
	r      messageReader
	hub    *Hub
	logger *slog.Logger
}

// NewRelay reads topic with consumer group groupID.
func NewRelay(brokers []string, topic, groupID string, hub *Hub, logger *slog.Logger) *Relay {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1e6,
	})
	return newRelay(reader, hub, logger)
}

func newRelay(r messageReader, hub *Hub, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Relay{r: r, hub: hub, logger: logger}
}

// Run relays until ctx is done. Malformed updates are logged and skipped.
func (r *Relay) Run(ctx context.Context) error {
	defer r.r.Close()

	for {
		msg, err := r.r.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) || ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("read live update", slog.Any("err", err))
			continue
		}

		var env envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil || !ValidTopic(env.Topic) {
			r.logger.Warn("skip malformed live update",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)
			continue
		}
		r.hub.Broadcast(env.Topic, env.Data)
	}
}
