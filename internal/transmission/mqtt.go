package transmission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jkaberg/hass-sensors/internal/mqtt"
	"github.com/jkaberg/hass-sensors/internal/sensors"
	"github.com/jkaberg/hass-sensors/internal/store"
	"github.com/sirupsen/logrus"
)

// Publisher is the slice of the MQTT client the transmitter needs.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
	IsConnected() bool
}

// MQTTTransmitter publishes enabled sensors to Home Assistant. Enablement is
// read from the store on every transmit, so a toggle takes effect on the
// next cycle without any coordination with the controller.
type MQTTTransmitter struct {
	client    Publisher
	topics    mqtt.Topics
	store     store.Store
	version   string
	logger    *logrus.Logger
	announced map[string]bool // true: discovery published, false: cleared
}

// HADiscoveryConfig represents Home Assistant MQTT discovery configuration
type HADiscoveryConfig struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	StateTopic          string   `json:"state_topic"`
	ValueTemplate       string   `json:"value_template,omitempty"`
	JSONAttributesTopic string   `json:"json_attributes_topic,omitempty"`
	DeviceClass         string   `json:"device_class,omitempty"`
	UnitOfMeasurement   string   `json:"unit_of_measurement,omitempty"`
	Device              HADevice `json:"device"`
	AvailabilityTopic   string   `json:"availability_topic"`
	Icon                string   `json:"icon,omitempty"`
}

// HADevice represents the device information for Home Assistant
type HADevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// NewMQTTTransmitter creates a new MQTT transmitter
func NewMQTTTransmitter(client Publisher, topics mqtt.Topics, st store.Store, version string, logger *logrus.Logger) *MQTTTransmitter {
	return &MQTTTransmitter{
		client:    client,
		topics:    topics,
		store:     st,
		version:   version,
		logger:    logger,
		announced: make(map[string]bool),
	}
}

// Transmit publishes discovery and state for every enabled sensor in snap
// and withdraws discovery for sensors that have been disabled.
func (t *MQTTTransmitter) Transmit(ctx context.Context, snap *sensors.Snapshot) error {
	if !t.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	if snap == nil {
		return nil
	}

	state := make(map[string]any)
	for _, reg := range snap.Registrations {
		enabled, err := t.enabled(ctx, reg.UniqueID)
		if err != nil {
			t.logger.WithError(err).WithField("sensor", reg.UniqueID).Warn("Failed to read sensor enablement")
			continue
		}

		if !enabled {
			if err := t.withdraw(reg.UniqueID); err != nil {
				t.logger.WithError(err).WithField("sensor", reg.UniqueID).Warn("Failed to withdraw discovery config")
			}
			continue
		}

		if err := t.announce(reg); err != nil {
			// Log error but don't block transmission
			t.logger.WithError(err).WithField("sensor", reg.UniqueID).Error("Failed to publish discovery config")
		}
		if len(reg.Attributes) > 0 {
			if err := t.publishJSON(t.topics.Attributes(reg.UniqueID), reg.Attributes, false); err != nil {
				t.logger.WithError(err).WithField("sensor", reg.UniqueID).Warn("Failed to publish attributes")
			}
		}
		state[mqtt.CleanSegment(reg.UniqueID)] = reg.State
	}

	if len(state) > 0 {
		if err := t.publishJSON(t.topics.State(), state, true); err != nil {
			return fmt.Errorf("failed to publish sensor state: %w", err)
		}
	}

	if err := t.client.Publish(t.topics.Availability(), []byte("online"), true); err != nil {
		return fmt.Errorf("failed to publish availability: %w", err)
	}

	t.logger.WithField("sensors", len(state)).Debug("Data transmitted successfully")
	return nil
}

func (t *MQTTTransmitter) enabled(ctx context.Context, id string) (bool, error) {
	rec, err := t.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Enabled, nil
}

// announce publishes the discovery config once per sensor.
func (t *MQTTTransmitter) announce(reg sensors.Registration) error {
	if t.announced[reg.UniqueID] {
		return nil
	}

	component := "sensor"
	if def := sensors.Lookup(reg.UniqueID); def != nil && def.Component != "" {
		component = def.Component
	}

	id := mqtt.CleanSegment(reg.UniqueID)
	config := HADiscoveryConfig{
		Name:              reg.Name,
		UniqueID:          fmt.Sprintf("%s_%s", t.topics.DeviceID(), id),
		StateTopic:        t.topics.State(),
		ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", id),
		DeviceClass:       reg.DeviceClass,
		UnitOfMeasurement: reg.UnitOfMeasurement,
		Icon:              reg.Icon,
		AvailabilityTopic: t.topics.Availability(),
		Device:            t.device(),
	}
	if config.Name == "" {
		config.Name = reg.UniqueID
	}
	if len(reg.Attributes) > 0 {
		config.JSONAttributesTopic = t.topics.Attributes(reg.UniqueID)
	}

	topic := t.topics.Discovery(component, reg.UniqueID)
	if err := t.publishJSON(topic, config, true); err != nil {
		return err
	}

	t.logger.WithFields(logrus.Fields{
		"sensor": reg.UniqueID,
		"topic":  topic,
	}).Info("Published sensor discovery config")
	t.announced[reg.UniqueID] = true
	return nil
}

// withdraw clears a retained discovery config so Home Assistant removes
// the entity. Done once per disable.
func (t *MQTTTransmitter) withdraw(id string) error {
	if announced, seen := t.announced[id]; seen && !announced {
		return nil
	}

	component := "sensor"
	if def := sensors.Lookup(id); def != nil && def.Component != "" {
		component = def.Component
	}
	if err := t.client.Publish(t.topics.Discovery(component, id), nil, true); err != nil {
		return err
	}
	t.announced[id] = false
	return nil
}

func (t *MQTTTransmitter) device() HADevice {
	return HADevice{
		Identifiers:  []string{fmt.Sprintf("hass_sensors_%s", t.topics.DeviceID())},
		Name:         "BYD Car",
		Model:        "Car",
		Manufacturer: "BYD",
		SWVersion:    t.version,
	}
}

func (t *MQTTTransmitter) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}
	if err := t.client.Publish(topic, payload, retained); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// IsConnected checks if the MQTT client is connected
func (t *MQTTTransmitter) IsConnected() bool {
	return t.client.IsConnected()
}
