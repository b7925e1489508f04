package display

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Surface renders a detail screen model.
type Surface interface {
	Render(ctx context.Context, m Model) error
}

// LogSurface writes models to the log; it is the surface used when no MQTT
// broker is configured.
type LogSurface struct {
	logger *logrus.Logger
}

// NewLogSurface returns a surface logging at Info level.
func NewLogSurface(logger *logrus.Logger) *LogSurface {
	return &LogSurface{logger: logger}
}

// Render implements Surface.
func (s *LogSurface) Render(_ context.Context, m Model) error {
	fields := logrus.Fields{
		"sensor":  m.SensorID,
		"enabled": m.Enabled,
	}
	for _, r := range m.Rows {
		if r.Label == LabelUniqueID {
			continue
		}
		fields[r.Label] = r.Summary
	}
	if m.AttributesVisible {
		fields["attributes"] = len(m.Attributes)
	}
	s.logger.WithFields(fields).Info("Sensor detail")
	return nil
}

// Publisher is the slice of the MQTT client the surface needs.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// MQTTSurface publishes each model as retained JSON so a dashboard always
// sees the latest screen for every sensor.
type MQTTSurface struct {
	pub   Publisher
	topic func(sensorID string) string
}

// NewMQTTSurface returns a surface publishing to topic(sensorID).
func NewMQTTSurface(pub Publisher, topic func(sensorID string) string) *MQTTSurface {
	return &MQTTSurface{pub: pub, topic: topic}
}

// Render implements Surface.
func (s *MQTTSurface) Render(_ context.Context, m Model) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal sensor detail: %w", err)
	}
	topic := s.topic(m.SensorID)
	if err := s.pub.Publish(topic, payload, true); err != nil {
		return fmt.Errorf("failed to publish sensor detail to %s: %w", topic, err)
	}
	return nil
}

// Multi renders on every surface and returns the first error.
type Multi []Surface

// Render implements Surface.
func (m Multi) Render(ctx context.Context, model Model) error {
	var firstErr error
	for _, s := range m {
		if err := s.Render(ctx, model); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
