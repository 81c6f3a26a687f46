package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeBroker struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
}

func (b *fakeBroker) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[string]mqtt.MessageHandler)
	}
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBroker) deliver(subscription, topic, payload string) {
	b.mu.Lock()
	h := b.handlers[subscription]
	b.mu.Unlock()
	h(nil, fakeMessage{topic: topic, payload: []byte(payload)})
}

type fakeSink struct {
	records []models.TelemetryRecord
	err     error
}

func (f *fakeSink) Append(ctx context.Context, rec models.TelemetryRecord) (models.TelemetryRecord, error) {
	if f.err != nil {
		return models.TelemetryRecord{}, f.err
	}
	rec.ID = "assigned"
	f.records = append(f.records, rec)
	return rec, nil
}

func TestHandleStoresReadings(t *testing.T) {
	broker := &fakeBroker{}
	sink := &fakeSink{}
	svc := New(broker, sink, Config{}, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	broker.deliver(DefaultTopic, "scales/DEV-004/readings",
		`{"timestamp":"2024-01-01T00:00:00Z","sourceUnit":"Unit-B","animalId":"ANI-0007","animalWeight":88.2}`)
	broker.deliver(DefaultTopic, "scales/DEV-004/readings",
		`{"id":"spoofed","timestamp":"2024-01-01T00:01:00Z","deviceId":"DEV-005","animalId":"ANI-0008","animalWeight":70}`)

	if len(sink.records) != 2 {
		t.Fatalf("expected 2 stored readings, got %d", len(sink.records))
	}
	if sink.records[0].DeviceID != "DEV-004" {
		t.Errorf("device id should come from the topic, got %q", sink.records[0].DeviceID)
	}
	if sink.records[1].DeviceID != "DEV-005" {
		t.Errorf("payload device id should win, got %q", sink.records[1].DeviceID)
	}
}

func TestHandleDropsInvalid(t *testing.T) {
	broker := &fakeBroker{}
	sink := &fakeSink{}
	svc := New(broker, sink, Config{Topic: "barn/readings"}, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, payload := range []string{
		`not json`,
		`{"timestamp":"2024-01-01T00:00:00Z","animalId":"ANI-0001","animalWeight":1}`,
		`{"timestamp":"2024-01-01T00:00:00Z","deviceId":"DEV-001","animalId":"ANI-0001","animalWeight":-5}`,
	} {
		broker.deliver("barn/readings", "barn/readings", payload)
	}

	if len(sink.records) != 0 {
		t.Errorf("invalid readings were stored: %+v", sink.records)
	}
}

func TestHandleSinkFailure(t *testing.T) {
	broker := &fakeBroker{}
	sink := &fakeSink{err: models.ErrStorage}
	svc := New(broker, sink, Config{}, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Must not panic; the failure is logged.
	broker.deliver(DefaultTopic, "scales/DEV-001/readings",
		`{"timestamp":"2024-01-01T00:00:00Z","animalId":"ANI-0001","animalWeight":1}`)
}

func TestDecode(t *testing.T) {
	svc := New(&fakeBroker{}, &fakeSink{}, Config{}, nil)

	rec, err := svc.decode("scales/DEV-002/readings", []byte(`{"timestamp":"2024-01-01","animalId":"A","animalWeight":3}`))
	if err != nil {
		t.Fatal(err)
	}
	if rec.DeviceID != "DEV-002" {
		t.Errorf("DeviceID = %q", rec.DeviceID)
	}

	_, err = svc.decode("scales", []byte(`{"timestamp":"2024-01-01","animalId":"A","animalWeight":3}`))
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("short topic without deviceId: expected ErrValidation, got %v", err)
	}
}

func TestStopUnsubscribes(t *testing.T) {
	broker := &fakeBroker{}
	svc := New(broker, &fakeSink{}, Config{}, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatal(err)
	}
	if len(broker.handlers) != 0 {
		t.Error("subscription still active after Stop")
	}
}
