// Package events publishes run and promotion notifications to kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/spachava753/tunectl/internal/models"
)

// Event types.
const (
	TuningCompleted = "tuning.completed"
	TuningFailed    = "tuning.failed"
	TuningStopped   = "tuning.stopped"
	CacheCompleted  = "cache.completed"
	LivePromoted    = "live.promoted"
)

// Event is one notification. Key orders events of the same subject.
type Event struct {
	Type    string    `json:"type"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// New returns a kafka publisher when brokers are configured, otherwise Nop.
func New(cfg models.EventsConfig) Publisher {
	if len(cfg.Brokers) == 0 {
		return Nop{}
	}
	return NewKafka(cfg.Brokers, cfg.Topic)
}

// Emit publishes ev and logs instead of failing; notifications never block
// the caller's state transition.
func Emit(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if err := p.Publish(ctx, ev); err != nil {
		slog.Warn("publishing event failed", "type", ev.Type, "key", ev.Key, "error", err)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(ctx context.Context, ev Event) error { return nil }
func (Nop) Close() error { return nil }

// Kafka writes events as JSON messages keyed by Event.Key.
type Kafka struct {
	w *kafka.Writer
}

// NewKafka creates a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	msg, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing %s event: %w", ev.Type, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.w.Close()
}

// Encode converts ev to the kafka message written by Kafka.
func Encode(ev Event) (kafka.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshaling %s event: %w", ev.Type, err)
	}
	return kafka.Message{
		Key:   []byte(ev.Key),
		Value: payload,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}, nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns the published events in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the type of every published event in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
