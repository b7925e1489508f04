package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Permission oracle modes.
const (
	PermissionModeDumpsys = "dumpsys"
	PermissionModeStatic  = "static"
)

// Config holds all configuration options for the agent. Flags and
// environment variables set the scalar options; the optional YAML file adds
// permission grants and per-sensor capability overrides.
type Config struct {
	// MQTT Configuration
	MQTTUrl         string `yaml:"mqtt_url"`         // ws://, wss://, mqtt:// or mqtts://
	DiscoveryPrefix string `yaml:"discovery_prefix"` // Home Assistant discovery prefix

	// InfluxDB history, optional
	InfluxURL    string `yaml:"influx_url"`
	InfluxToken  string `yaml:"influx_token"`
	InfluxOrg    string `yaml:"influx_org"`
	InfluxBucket string `yaml:"influx_bucket"`

	// Device Configuration
	DeviceID  string `yaml:"device_id"`
	DNSServer string `yaml:"dns_server"` // host:port; empty uses the system resolver

	// Application Configuration
	Verbose      bool          `yaml:"verbose"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MQTTInterval time.Duration `yaml:"mqtt_interval"`

	// Sources
	DiplusURL string `yaml:"diplus_url"` // Di-Plus host:port, empty disables
	Location  bool   `yaml:"location"`
	WiFi      bool   `yaml:"wifi"`

	// Storage
	DatabasePath string `yaml:"database_path"`

	// Permissions
	PermissionMode      string              `yaml:"permission_mode"` // dumpsys or static
	PackageName         string              `yaml:"package_name"`    // Android package holding the grants
	GrantedCapabilities []string            `yaml:"granted_capabilities"`
	CapabilityOverrides map[string][]string `yaml:"capability_overrides"`
	Notify              bool                `yaml:"notify"` // prompt via termux-notification
}

// GetDefaultConfig returns a configuration with sensible defaults.
func GetDefaultConfig() *Config {
	return &Config{
		DiscoveryPrefix: "homeassistant",
		DeviceID:        "byd_car",
		PollInterval:    DiplusPollInterval,
		MQTTInterval:    MQTTTransmitInterval,
		DiplusURL:       "localhost:8988",
		Location:        true,
		WiFi:            true,
		DatabasePath:    DefaultDatabasePath,
		PermissionMode:  PermissionModeDumpsys,
		PackageName:     "com.termux",
		Notify:          true,
	}
}

// Load reads a YAML file on top of cfg. Keys absent from the file keep
// their current values.
func Load(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device ID is required")
	}

	if c.MQTTUrl != "" {
		if !strings.HasPrefix(c.MQTTUrl, "ws://") &&
			!strings.HasPrefix(c.MQTTUrl, "wss://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtt://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtts://") {
			return fmt.Errorf("MQTT URL must use supported protocol (ws://, wss://, mqtt://, or mqtts://)")
		}
	}

	switch c.PermissionMode {
	case PermissionModeDumpsys:
		if c.PackageName == "" {
			return fmt.Errorf("package name is required for permission mode %q", c.PermissionMode)
		}
	case PermissionModeStatic:
	default:
		return fmt.Errorf("unknown permission mode %q (supported: dumpsys, static)", c.PermissionMode)
	}

	if c.InfluxURL != "" && (c.InfluxOrg == "" || c.InfluxBucket == "") {
		return fmt.Errorf("InfluxDB org and bucket are required with an InfluxDB URL")
	}

	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}

	if c.PollInterval <= 0 {
		c.PollInterval = DiplusPollInterval
	}
	if c.MQTTInterval <= 0 {
		c.MQTTInterval = MQTTTransmitInterval
	}
	return nil
}

// HasInflux returns true if InfluxDB history is configured.
func (c *Config) HasInflux() bool {
	return c.InfluxURL != ""
}

// HasMQTT returns true if MQTT is configured.
func (c *Config) HasMQTT() bool {
	return c.MQTTUrl != ""
}
