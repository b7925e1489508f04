package config

import "time"

// Central place for all application-wide timing constants and other defaults.

const (
	// Polling / transmission intervals
	DiplusPollInterval   = 8 * time.Second  // Poll every sensor source
	MQTTTransmitInterval = 60 * time.Second // Publish enabled sensors to MQTT

	// Operation time-outs (to avoid blocking goroutines)
	DiplusTimeout = 8 * time.Second // DiPlus API call
	MQTTTimeout   = 5 * time.Second // MQTT publish / subscribe

	// Storage
	DefaultDatabasePath = "/data/data/com.termux/files/home/.hass-sensors/sensors.db"
)
