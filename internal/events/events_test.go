package events_test

import (
	"context"
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/spachava753/tunectl/internal/events"
	"github.com/spachava753/tunectl/internal/models"
)

func TestNewWithoutBrokersIsNop(t *testing.T) {
	p := events.New(models.EventsConfig{Topic: "t"})
	if _, ok := p.(events.Nop); !ok {
		t.Fatalf("expected Nop publisher, got %T", p)
	}
	if err := p.Publish(context.Background(), events.Event{Type: events.TuningCompleted}); err != nil {
		t.Errorf("nop publish failed: %v", err)
	}
}

func TestNewWithBrokersIsKafka(t *testing.T) {
	p := events.New(models.EventsConfig{Brokers: []string{"localhost:9092"}, Topic: "t"})
	defer p.Close()
	if _, ok := p.(*events.Kafka); !ok {
		t.Fatalf("expected kafka publisher, got %T", p)
	}
}

func TestEncode(t *testing.T) {
	at := time.Date(2024, 12, 7, 10, 0, 0, 0, time.UTC)
	msg, err := events.Encode(events.Event{
		Type:    events.LivePromoted,
		Key:     "live",
		At:      at,
		Payload: map[string]int{"trial_number": 4},
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(msg.Key) != "live" {
		t.Errorf("expected key live, got %q", msg.Key)
	}
	if !msg.Time.Equal(at) {
		t.Errorf("expected message time %v, got %v", at, msg.Time)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != events.LivePromoted {
		t.Errorf("unexpected headers %+v", msg.Headers)
	}

	var decoded struct {
		Type    string         `json:"type"`
		Payload map[string]int `json:"payload"`
	}
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if decoded.Type != events.LivePromoted || decoded.Payload["trial_number"] != 4 {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestEmitStampsTime(t *testing.T) {
	rec := &events.Recorder{}
	events.Emit(context.Background(), rec, events.Event{Type: events.CacheCompleted})
	events.Emit(context.Background(), nil, events.Event{Type: events.CacheCompleted})

	got := rec.Events()
	if len(got) != 1 {
		t.Fatalf("expected one event, got %d", len(got))
	}
	if got[0].At.IsZero() {
		t.Error("expected Emit to stamp the event time")
	}
	if !slices.Equal(rec.Types(), []string{events.CacheCompleted}) {
		t.Errorf("unexpected types %v", rec.Types())
	}
}
