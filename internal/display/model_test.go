package display

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/jkaberg/hass-sensors/internal/sensors"
)

func TestStateSummary(t *testing.T) {
	tests := []struct {
		name string
		reg  sensors.Registration
		want string
	}{
		{"value with unit", sensors.Registration{State: 21.5, UnitOfMeasurement: "°C"}, "21.5 °C"},
		{"value without unit", sensors.Registration{State: 21.5}, "21.5"},
		{"blank unit ignored", sensors.Registration{State: 21.5, UnitOfMeasurement: "  "}, "21.5"},
		{"string state", sensors.Registration{State: "on"}, "on"},
		{"integer state with unit", sensors.Registration{State: 88, UnitOfMeasurement: "%"}, "88 %"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StateSummary(tt.reg); got != tt.want {
				t.Errorf("StateSummary() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProjectRows(t *testing.T) {
	reg := sensors.Registration{
		UniqueID:          "cabin_temperature",
		State:             21.5,
		UnitOfMeasurement: "°C",
		DeviceClass:       "temperature",
		Icon:              "mdi:thermometer",
	}
	m := Project(reg)

	want := []Row{
		{LabelUniqueID, "cabin_temperature"},
		{LabelState, "21.5 °C"},
		{LabelDeviceClass, "temperature"},
		{LabelIcon, "mdi:thermometer"},
	}
	if !reflect.DeepEqual(m.Rows, want) {
		t.Errorf("Rows = %+v, want %+v", m.Rows, want)
	}
	if m.SensorID != "cabin_temperature" {
		t.Errorf("SensorID = %q", m.SensorID)
	}
	if m.Enabled {
		t.Error("projection must not decide the toggle")
	}
}

func TestProjectAttributes(t *testing.T) {
	t.Run("empty attributes are hidden", func(t *testing.T) {
		m := Project(sensors.Registration{UniqueID: "speed", Attributes: map[string]any{}})
		if m.AttributesVisible {
			t.Error("AttributesVisible = true for empty attributes")
		}
		if len(m.Attributes) != 0 {
			t.Errorf("Attributes = %+v, want none", m.Attributes)
		}
	})

	t.Run("single attribute", func(t *testing.T) {
		m := Project(sensors.Registration{UniqueID: "phone", Attributes: map[string]any{"battery": 88}})
		if !m.AttributesVisible {
			t.Error("AttributesVisible = false")
		}
		want := []Row{{Label: "battery", Summary: "88"}}
		if !reflect.DeepEqual(m.Attributes, want) {
			t.Errorf("Attributes = %+v, want %+v", m.Attributes, want)
		}
	})

	t.Run("nil value renders empty and keys are sorted", func(t *testing.T) {
		m := Project(sensors.Registration{UniqueID: "location", Attributes: map[string]any{
			"provider": "gps",
			"accuracy": 4.5,
			"altitude": nil,
		}})
		want := []Row{
			{Label: "accuracy", Summary: "4.5"},
			{Label: "altitude", Summary: ""},
			{Label: "provider", Summary: "gps"},
		}
		if !reflect.DeepEqual(m.Attributes, want) {
			t.Errorf("Attributes = %+v, want %+v", m.Attributes, want)
		}
	})
}

func TestModelRow(t *testing.T) {
	m := Project(sensors.Registration{UniqueID: "speed", State: 0.0, UnitOfMeasurement: "km/h"})
	if got, ok := m.Row(LabelState); !ok || got != "0 km/h" {
		t.Errorf("Row(state) = %q, %v", got, ok)
	}
	if _, ok := m.Row("nope"); ok {
		t.Error("Row(nope) found")
	}
}

type recordingPublisher struct {
	topic    string
	payload  []byte
	retained bool
	err      error
}

func (p *recordingPublisher) Publish(topic string, payload []byte, retained bool) error {
	p.topic, p.payload, p.retained = topic, payload, retained
	return p.err
}

func TestMQTTSurface(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewMQTTSurface(pub, func(id string) string { return "hass_sensors/car/sensor/" + id + "/detail" })

	m := Project(sensors.Registration{UniqueID: "speed", State: 12.0})
	m.Enabled = true
	if err := s.Render(context.Background(), m); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if pub.topic != "hass_sensors/car/sensor/speed/detail" || !pub.retained {
		t.Errorf("published to %q retained=%v", pub.topic, pub.retained)
	}

	var got Model
	if err := json.Unmarshal(pub.payload, &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if !got.Enabled || got.SensorID != "speed" || len(got.Rows) != 4 {
		t.Errorf("decoded model = %+v", got)
	}
}

func TestMultiSurface(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("offline")}
	ok := &recordingPublisher{}
	topic := func(id string) string { return id }
	m := Multi{NewMQTTSurface(failing, topic), NewMQTTSurface(ok, topic)}

	err := m.Render(context.Background(), Project(sensors.Registration{UniqueID: "speed"}))
	if !errors.Is(err, failing.err) {
		t.Errorf("Render() error = %v, want wrapping %v", err, failing.err)
	}
	if ok.topic != "speed" {
		t.Error("second surface not rendered after first failed")
	}
}
