package sensors

import "github.com/jkaberg/hass-sensors/internal/permission"

// Source names used in Definition.Source.
const (
	SourceDiplus   = "diplus"
	SourceLocation = "location"
	SourceWiFi     = "wifi"
)

// Definition provides metadata for a sensor.
type Definition struct {
	ID          string // stable unique id, also the HA entity suffix
	Name        string
	Source      string
	Component   string // "sensor" or "binary_sensor"
	DeviceClass string
	Unit        string
	Icon        string

	// Di-Plus only
	DiplusID    int
	FieldName   string
	ChineseName string
	ScaleFactor float64

	// Capabilities that must all be granted before the sensor may be enabled.
	Capabilities []string
}

// Catalog defines every sensor the agent knows how to read.
var Catalog = []Definition{
	{ID: "battery_percentage", Name: "Battery Percentage", Source: SourceDiplus, Component: "sensor", DeviceClass: "battery", Unit: "%", Icon: "mdi:battery", DiplusID: 33, FieldName: "BatteryPercentage", ChineseName: "电量百分比", ScaleFactor: 1},
	{ID: "speed", Name: "Speed", Source: SourceDiplus, Component: "sensor", DeviceClass: "speed", Unit: "km/h", Icon: "mdi:speedometer", DiplusID: 2, FieldName: "Speed", ChineseName: "车速", ScaleFactor: 1},
	{ID: "mileage", Name: "Mileage", Source: SourceDiplus, Component: "sensor", DeviceClass: "distance", Unit: "km", Icon: "mdi:counter", DiplusID: 3, FieldName: "Mileage", ChineseName: "里程", ScaleFactor: 1},
	{ID: "engine_power", Name: "Engine Power", Source: SourceDiplus, Component: "sensor", DeviceClass: "power", Unit: "kW", Icon: "mdi:engine", DiplusID: 10, FieldName: "EnginePower", ChineseName: "发动机功率", ScaleFactor: 1},
	{ID: "avg_battery_temp", Name: "Average Battery Temperature", Source: SourceDiplus, Component: "sensor", DeviceClass: "temperature", Unit: "°C", Icon: "mdi:thermometer", DiplusID: 15, FieldName: "AvgBatteryTemp", ChineseName: "平均电池温度", ScaleFactor: 1},
	{ID: "cabin_temperature", Name: "Cabin Temperature", Source: SourceDiplus, Component: "sensor", DeviceClass: "temperature", Unit: "°C", Icon: "mdi:thermometer", DiplusID: 25, FieldName: "CabinTemperature", ChineseName: "车内温度", ScaleFactor: 1},
	{ID: "outside_temperature", Name: "Outside Temperature", Source: SourceDiplus, Component: "sensor", DeviceClass: "temperature", Unit: "°C", Icon: "mdi:thermometer", DiplusID: 26, FieldName: "OutsideTemperature", ChineseName: "车外温度", ScaleFactor: 1},
	{ID: "battery_capacity", Name: "Battery Capacity", Source: SourceDiplus, Component: "sensor", DeviceClass: "energy_storage", Unit: "kWh", Icon: "mdi:battery-high", DiplusID: 29, FieldName: "BatteryCapacity", ChineseName: "电池容量", ScaleFactor: 1},
	{ID: "charging_status", Name: "Charging Status", Source: SourceDiplus, Component: "sensor", Icon: "mdi:ev-station", DiplusID: 52, FieldName: "ChargingStatus", ChineseName: "充电状态", ScaleFactor: 1},
	{ID: "left_front_tire_pressure", Name: "Left Front Tire Pressure", Source: SourceDiplus, Component: "sensor", DeviceClass: "pressure", Unit: "bar", Icon: "mdi:car-tire-alert", DiplusID: 53, FieldName: "LeftFrontTirePressure", ChineseName: "左前轮气压", ScaleFactor: 0.01},
	{ID: "right_front_tire_pressure", Name: "Right Front Tire Pressure", Source: SourceDiplus, Component: "sensor", DeviceClass: "pressure", Unit: "bar", Icon: "mdi:car-tire-alert", DiplusID: 54, FieldName: "RightFrontTirePressure", ChineseName: "右前轮气压", ScaleFactor: 0.01},
	{ID: "left_rear_tire_pressure", Name: "Left Rear Tire Pressure", Source: SourceDiplus, Component: "sensor", DeviceClass: "pressure", Unit: "bar", Icon: "mdi:car-tire-alert", DiplusID: 55, FieldName: "LeftRearTirePressure", ChineseName: "左后轮气压", ScaleFactor: 0.01},
	{ID: "right_rear_tire_pressure", Name: "Right Rear Tire Pressure", Source: SourceDiplus, Component: "sensor", DeviceClass: "pressure", Unit: "bar", Icon: "mdi:car-tire-alert", DiplusID: 56, FieldName: "RightRearTirePressure", ChineseName: "右后轮气压", ScaleFactor: 0.01},

	{ID: "location", Name: "Location", Source: SourceLocation, Component: "sensor", Icon: "mdi:map-marker",
		Capabilities: []string{permission.FineLocation, permission.BackgroundLocation}},
	{ID: "wifi_connection", Name: "WiFi Connection", Source: SourceWiFi, Component: "sensor", Icon: "mdi:wifi",
		Capabilities: []string{permission.WiFiState, permission.FineLocation}},
}

// Lookup returns the definition with the given id, or nil.
func Lookup(id string) *Definition {
	for i := range Catalog {
		if Catalog[i].ID == id {
			return &Catalog[i]
		}
	}
	return nil
}

// BySource returns every definition read by the named source.
func BySource(source string) []Definition {
	var defs []Definition
	for _, d := range Catalog {
		if d.Source == source {
			defs = append(defs, d)
		}
	}
	return defs
}

// CapabilityResolver answers which capabilities a sensor requires. Entries
// in overrides replace the catalog list entirely, an empty slice included.
type CapabilityResolver struct {
	overrides map[string][]string
}

// NewCapabilityResolver builds a resolver on top of the catalog.
func NewCapabilityResolver(overrides map[string][]string) *CapabilityResolver {
	return &CapabilityResolver{overrides: overrides}
}

// Required returns a copy of the capability list for the sensor.
func (c *CapabilityResolver) Required(id string) []string {
	if caps, ok := c.overrides[id]; ok {
		return append([]string(nil), caps...)
	}
	if def := Lookup(id); def != nil {
		return append([]string(nil), def.Capabilities...)
	}
	return nil
}
