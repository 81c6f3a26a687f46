// Package ingestion stores weight readings that scales publish over MQTT.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fidde/herd_weight_dashboard/internal/metrics"
	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

// DefaultTopic carries one reading per message; the wildcard segment is
// the device id.
const DefaultTopic = "scales/+/readings"

// Subscriber is the part of the MQTT client the service needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Sink stores accepted readings.
type Sink interface {
	Append(ctx context.Context, rec models.TelemetryRecord) (models.TelemetryRecord, error)
}

// Service subscribes to reading topics and appends each valid reading.
type Service struct {
	mqtt   Subscriber
	sink   Sink
	topic  string
	qos    byte
	logger *slog.Logger

	// deviceSegment is the topic level holding the device id, or -1
	deviceSegment int

	ctx context.Context
}

// Config configures the ingestion service.
type Config struct {
	Topic string
	QoS   byte
}

// New creates an ingestion service.
func New(m Subscriber, sink Sink, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	return &Service{
		mqtt:          m,
		sink:          sink,
		topic:         cfg.Topic,
		qos:           cfg.QoS,
		logger:        logger.With("topic", cfg.Topic),
		deviceSegment: slices.Index(strings.Split(cfg.Topic, "/"), "+"),
		ctx:           context.Background(),
	}
}

// Start subscribes. Appends run under ctx, so cancelling it stops
// storing readings.
func (s *Service) Start(ctx context.Context) error {
	s.ctx = ctx
	if err := s.mqtt.Subscribe(s.topic, s.qos, s.handle); err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.topic, err)
	}
	s.logger.Info("ingestion service listening for readings")
	return nil
}

// Stop unsubscribes.
func (s *Service) Stop() error {
	return s.mqtt.Unsubscribe(s.topic)
}

// handle processes one incoming message. Bad payloads are logged and
// dropped.
func (s *Service) handle(_ mqtt.Client, msg mqtt.Message) {
	rec, err := s.decode(msg.Topic(), msg.Payload())
	if err != nil {
		metrics.IngestedReadings.WithLabelValues("mqtt", "rejected").Inc()
		s.logger.Warn("dropping reading", "message_topic", msg.Topic(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	stored, err := s.sink.Append(ctx, rec)
	if err != nil {
		metrics.IngestedReadings.WithLabelValues("mqtt", "failed").Inc()
		s.logger.Error("storing reading failed", "device_id", rec.DeviceID, "error", err)
		return
	}

	metrics.IngestedReadings.WithLabelValues("mqtt", "accepted").Inc()
	s.logger.Debug("stored reading", "device_id", stored.DeviceID, "id", stored.ID)
}

// decode parses a reading. The payload has the POST /data shape; a
// missing deviceId is taken from the topic.
func (s *Service) decode(topic string, payload []byte) (models.TelemetryRecord, error) {
	var rec models.TelemetryRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return models.TelemetryRecord{}, fmt.Errorf("%w: invalid JSON: %v", models.ErrValidation, err)
	}
	rec.ID = ""

	if strings.TrimSpace(rec.DeviceID) == "" && s.deviceSegment >= 0 {
		if levels := strings.Split(topic, "/"); s.deviceSegment < len(levels) {
			rec.DeviceID = levels[s.deviceSegment]
		}
	}
	if err := rec.Validate(); err != nil {
		return models.TelemetryRecord{}, err
	}
	return rec, nil
}
