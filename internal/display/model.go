// Package display projects a sensor registration into the rows of its
// detail screen and renders them on presentation surfaces.
package display

import (
	"sort"
	"strings"

	"github.com/jkaberg/hass-sensors/internal/sensors"
)

// Row labels of the detail screen, in display order.
const (
	LabelUniqueID    = "unique_id"
	LabelState       = "state"
	LabelDeviceClass = "device_class"
	LabelIcon        = "icon"
)

// Row is one label/summary pair.
type Row struct {
	Label   string `json:"label"`
	Summary string `json:"summary"`
}

// Model is everything a surface needs to draw the detail screen. It carries
// no behaviour; surfaces render it verbatim.
type Model struct {
	SensorID          string `json:"sensor_id"`
	Enabled           bool   `json:"enabled"`
	Rows              []Row  `json:"rows"`
	Attributes        []Row  `json:"attributes"`
	AttributesVisible bool   `json:"attributes_visible"`
}

// Project builds the model for reg. The Enabled toggle is left false; only
// the reconciler decides it.
func Project(reg sensors.Registration) Model {
	m := Model{
		SensorID: reg.UniqueID,
		Rows: []Row{
			{Label: LabelUniqueID, Summary: reg.UniqueID},
			{Label: LabelState, Summary: StateSummary(reg)},
			{Label: LabelDeviceClass, Summary: reg.DeviceClass},
			{Label: LabelIcon, Summary: reg.Icon},
		},
		AttributesVisible: len(reg.Attributes) > 0,
	}

	if len(reg.Attributes) == 0 {
		return m
	}

	keys := make([]string, 0, len(reg.Attributes))
	for k := range reg.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m.Attributes = make([]Row, 0, len(keys))
	for _, k := range keys {
		m.Attributes = append(m.Attributes, Row{Label: k, Summary: sensors.Stringify(reg.Attributes[k])})
	}
	return m
}

// StateSummary is "<state>" or "<state> <unit>" when a non-blank unit is set.
func StateSummary(reg sensors.Registration) string {
	state := reg.StateString()
	if strings.TrimSpace(reg.UnitOfMeasurement) == "" {
		return state
	}
	return state + " " + reg.UnitOfMeasurement
}

// Row returns the summary of the row with the given label.
func (m Model) Row(label string) (string, bool) {
	for _, r := range m.Rows {
		if r.Label == label {
			return r.Summary, true
		}
	}
	return "", false
}
