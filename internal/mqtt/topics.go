package mqtt

import (
	"fmt"
	"strings"
)

// Topics is the topic layout for one device:
//
//	hass_sensors/<device>/availability
//	hass_sensors/<device>/state
//	hass_sensors/<device>/sensor/<id>/detail        retained display model
//	hass_sensors/<device>/sensor/<id>/attributes    HA json_attributes_topic
//	hass_sensors/<device>/sensor/<id>/enabled/set   toggle command
//	hass_sensors/<device>/permission/request        issued permission requests
//	hass_sensors/<device>/permission/result         prompt outcomes
type Topics struct {
	deviceID        string
	discoveryPrefix string
}

// NewTopics returns the layout for deviceID.
func NewTopics(deviceID, discoveryPrefix string) Topics {
	return Topics{deviceID: CleanSegment(deviceID), discoveryPrefix: discoveryPrefix}
}

// DeviceID returns the cleaned device id.
func (t Topics) DeviceID() string { return t.deviceID }

// Base returns the root topic of the device.
func (t Topics) Base() string { return "hass_sensors/" + t.deviceID }

// Availability returns the retained online/offline topic.
func (t Topics) Availability() string { return t.Base() + "/availability" }

// State returns the combined state topic of all enabled sensors.
func (t Topics) State() string { return t.Base() + "/state" }

// Detail returns the display model topic of a sensor.
func (t Topics) Detail(sensorID string) string { return t.sensor(sensorID) + "/detail" }

// Attributes returns the attribute topic of a sensor.
func (t Topics) Attributes(sensorID string) string { return t.sensor(sensorID) + "/attributes" }

// EnableCommand returns the toggle command topic of a sensor.
func (t Topics) EnableCommand(sensorID string) string { return t.sensor(sensorID) + "/enabled/set" }

// EnableCommandFilter matches the toggle command topic of every sensor.
func (t Topics) EnableCommandFilter() string { return t.Base() + "/sensor/+/enabled/set" }

// PermissionRequest returns the topic permission requests are published on.
func (t Topics) PermissionRequest() string { return t.Base() + "/permission/request" }

// PermissionResult returns the topic prompt outcomes arrive on.
func (t Topics) PermissionResult() string { return t.Base() + "/permission/result" }

// Discovery returns the Home Assistant discovery config topic of a sensor.
func (t Topics) Discovery(component, sensorID string) string {
	return fmt.Sprintf("%s/%s/hass_sensors_%s/%s/config", t.discoveryPrefix, component, t.deviceID, CleanSegment(sensorID))
}

// SensorFromEnableCommand extracts the sensor id from a toggle command topic.
func (t Topics) SensorFromEnableCommand(topic string) (string, bool) {
	prefix := t.Base() + "/sensor/"
	if !strings.HasPrefix(topic, prefix) || !strings.HasSuffix(topic, "/enabled/set") {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(topic, prefix), "/enabled/set")
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func (t Topics) sensor(sensorID string) string {
	return t.Base() + "/sensor/" + CleanSegment(sensorID)
}

// CleanSegment makes s safe to use as a single topic level.
func CleanSegment(s string) string {
	clean := strings.ReplaceAll(s, " ", "_")
	clean = strings.ReplaceAll(clean, "/", "_")
	clean = strings.ReplaceAll(clean, "+", "plus")
	clean = strings.ReplaceAll(clean, "#", "hash")
	return strings.ToLower(clean)
}
