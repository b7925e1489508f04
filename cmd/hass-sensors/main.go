package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jkaberg/hass-sensors/internal/app"
	"github.com/jkaberg/hass-sensors/internal/config"
	"github.com/jkaberg/hass-sensors/internal/diplus"
	"github.com/jkaberg/hass-sensors/internal/display"
	"github.com/jkaberg/hass-sensors/internal/location"
	"github.com/jkaberg/hass-sensors/internal/mqtt"
	"github.com/jkaberg/hass-sensors/internal/notify"
	"github.com/jkaberg/hass-sensors/internal/permission"
	"github.com/jkaberg/hass-sensors/internal/sensors"
	"github.com/jkaberg/hass-sensors/internal/store"
	"github.com/jkaberg/hass-sensors/internal/transmission"
	"github.com/jkaberg/hass-sensors/internal/wifi"
	"github.com/sirupsen/logrus"
)

// version is injected at build time via ldflags
var version = "dev"

func main() {
	opts, err := parseFlags(os.Args[1:], os.Getenv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "hass-sensors: %v\n", err)
		os.Exit(2)
	}
	if opts.version {
		fmt.Printf("hass-sensors %s\n", version)
		os.Exit(0)
	}
	cfg := opts.cfg

	logger := setupLogger(cfg.Verbose)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	if cfg.DNSServer != "" {
		setupCustomDNSResolver(cfg.DNSServer, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.OpenSQLite(ctx, store.SQLiteConfig{
		Path:        cfg.DatabasePath,
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to open sensor database")
	}
	defer st.Close()

	// List path -------------------------------------------------------------------
	if opts.list {
		if err := listSensors(ctx, st, cfg); err != nil {
			logger.WithError(err).Fatal("Failed to list sensors")
		}
		return
	}

	logger.WithFields(logrus.Fields{
		"version":   version,
		"device_id": cfg.DeviceID,
		"poll_int":  cfg.PollInterval,
		"mqtt_int":  cfg.MQTTInterval,
		"database":  st.Path(),
		"perm_mode": cfg.PermissionMode,
	}).Info("Starting hass-sensors")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("Shutdown signal received")
		cancel()
	}()

	// Permissions ----------------------------------------------------------------
	var oracle permission.Oracle
	switch cfg.PermissionMode {
	case config.PermissionModeStatic:
		oracle = permission.NewStatic(cfg.GrantedCapabilities...)
	default:
		oracle = permission.NewDumpsys(cfg.PackageName, logger)
	}

	var requesters permission.Multi
	if cfg.Notify {
		requesters = append(requesters, permission.NewNotifyRequester(notify.NewTermuxNotifier(logger), cfg.PackageName, logger))
	}

	// Sources --------------------------------------------------------------------
	var sources []app.Source
	if cfg.DiplusURL != "" {
		sources = append(sources, diplus.NewClient(cfg.DiplusURL, config.DiplusTimeout, logger))
	}
	if cfg.Location {
		locProvider := location.NewProvider(logger)
		locProvider.Start(ctx)
		sources = append(sources, locProvider)
	}
	if cfg.WiFi {
		sources = append(sources, wifi.NewReader(logger))
	}
	if len(sources) == 0 {
		logger.Fatal("No sensor sources enabled")
	}

	// MQTT -----------------------------------------------------------------------
	surfaces := display.Multi{display.NewLogSurface(logger)}
	topics := mqtt.NewTopics(cfg.DeviceID, cfg.DiscoveryPrefix)
	var (
		transmitters transmission.Multi
		mqttClient   *mqtt.Client
	)
	if cfg.HasMQTT() {
		mqttClient, err = mqtt.NewClient(cfg.MQTTUrl, topics, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create MQTT client")
		}
		defer mqttClient.Disconnect(250)
		if err := mqttClient.PublishAvailability(true); err != nil {
			logger.WithError(err).Warn("Failed to publish availability")
		}

		surfaces = append(surfaces, display.NewMQTTSurface(mqttClient, topics.Detail))
		requesters = append(requesters, permission.NewMQTTRequester(mqttClient, topics.PermissionRequest()))
		transmitters = append(transmitters, transmission.NewMQTTTransmitter(mqttClient, topics, st, version, logger))
		logger.Info("MQTT transmitter ready")
	} else {
		logger.Warn("No MQTT broker configured; sensor details will only be logged")
	}

	if cfg.HasInflux() {
		influxTx, err := transmission.NewInfluxTransmitter(ctx, transmission.InfluxConfig{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}, st, cfg.DeviceID, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to InfluxDB")
		}
		defer influxTx.Close()
		transmitters = append(transmitters, influxTx)
		logger.Info("InfluxDB transmitter ready")
	}

	var tx transmission.Transmitter
	if len(transmitters) > 0 {
		tx = transmitters
	}

	resolver := sensors.NewCapabilityResolver(cfg.CapabilityOverrides)
	ctrl := app.NewController(st, oracle, resolver, requesters, surfaces, logger)

	if mqttClient != nil {
		if err := app.SubscribeCommands(mqttClient, topics, ctrl, logger); err != nil {
			logger.WithError(err).Fatal("Failed to subscribe to command topics")
		}
	}

	// Run application ------------------------------------------------------------
	if err := app.Run(ctx, cfg, sources, ctrl, tx, logger); err != nil {
		logger.WithError(err).Error("Application stopped with error")
	}
	logger.Info("hass-sensors stopped")
}

// -----------------------------------------------------------------------------
// Helpers & Flags
// -----------------------------------------------------------------------------

// options is the parsed command line.
type options struct {
	cfg     *config.Config
	list    bool
	version bool
}

// parseFlags builds the configuration. Precedence, lowest first: defaults,
// environment, YAML file, command-line flags.
func parseFlags(args []string, getenv func(string) string) (*options, error) {
	cfg := config.GetDefaultConfig()
	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	opts := &options{cfg: cfg}

	fs := flag.NewFlagSet("hass-sensors", flag.ContinueOnError)
	fs.BoolVar(&opts.version, "version", false, "Show version and exit")
	fs.BoolVar(&opts.list, "list", false, "List known sensors with their enablement and exit")
	configPath := fs.String("config", getenv("HASS_SENSORS_CONFIG"), "YAML config file")

	fs.StringVar(&cfg.MQTTUrl, "mqtt-url", cfg.MQTTUrl, "MQTT URL")
	fs.StringVar(&cfg.DiscoveryPrefix, "discovery-prefix", cfg.DiscoveryPrefix, "HA discovery prefix")
	fs.StringVar(&cfg.DiplusURL, "diplus-url", cfg.DiplusURL, "Di-Plus host:port (empty disables)")
	fs.StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "Device identifier")
	fs.StringVar(&cfg.DNSServer, "dns", cfg.DNSServer, "DNS server host:port (empty uses the system resolver)")
	fs.StringVar(&cfg.DatabasePath, "database", cfg.DatabasePath, "SQLite database path")
	fs.StringVar(&cfg.PermissionMode, "permission-mode", cfg.PermissionMode, "Permission oracle: dumpsys or static")
	fs.StringVar(&cfg.InfluxURL, "influx-url", cfg.InfluxURL, "InfluxDB URL for sensor history (empty disables)")
	fs.StringVar(&cfg.InfluxToken, "influx-token", cfg.InfluxToken, "InfluxDB token")
	fs.StringVar(&cfg.InfluxOrg, "influx-org", cfg.InfluxOrg, "InfluxDB organisation")
	fs.StringVar(&cfg.InfluxBucket, "influx-bucket", cfg.InfluxBucket, "InfluxDB bucket")
	fs.StringVar(&cfg.PackageName, "package", cfg.PackageName, "Android package holding the permission grants")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Verbose logging")
	fs.BoolVar(&cfg.Location, "location", cfg.Location, "Read the location sensor")
	fs.BoolVar(&cfg.WiFi, "wifi", cfg.WiFi, "Read the WiFi sensor")
	fs.BoolVar(&cfg.Notify, "notify", cfg.Notify, "Prompt for permissions via termux-notification")

	fs.Func("granted", "Comma-separated capabilities granted in static permission mode", func(s string) error {
		cfg.GrantedCapabilities = splitList(s)
		return nil
	})
	fs.Func("poll-interval", "Sensor poll interval (e.g. 8s)", intervalFlag(&cfg.PollInterval))
	fs.Func("mqtt-interval", "MQTT interval (e.g. 60s)", intervalFlag(&cfg.MQTTInterval))

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.version || *configPath == "" {
		return opts, nil
	}

	if err := config.Load(*configPath, cfg); err != nil {
		return nil, err
	}
	// The file overwrote flag targets too; parsing again re-applies only the
	// flags given on the command line.
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// applyEnv overlays the HASS_SENSORS_* variables that are set.
func applyEnv(cfg *config.Config, getenv func(string) string) error {
	strs := map[string]*string{
		"HASS_SENSORS_MQTT_URL":         &cfg.MQTTUrl,
		"HASS_SENSORS_DISCOVERY_PREFIX": &cfg.DiscoveryPrefix,
		"HASS_SENSORS_DIPLUS_URL":       &cfg.DiplusURL,
		"HASS_SENSORS_DEVICE_ID":        &cfg.DeviceID,
		"HASS_SENSORS_DNS":              &cfg.DNSServer,
		"HASS_SENSORS_DATABASE":         &cfg.DatabasePath,
		"HASS_SENSORS_PERMISSION_MODE":  &cfg.PermissionMode,
		"HASS_SENSORS_INFLUX_URL":       &cfg.InfluxURL,
		"HASS_SENSORS_INFLUX_TOKEN":     &cfg.InfluxToken,
		"HASS_SENSORS_INFLUX_ORG":       &cfg.InfluxOrg,
		"HASS_SENSORS_INFLUX_BUCKET":    &cfg.InfluxBucket,
		"HASS_SENSORS_PACKAGE":          &cfg.PackageName,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"HASS_SENSORS_VERBOSE":  &cfg.Verbose,
		"HASS_SENSORS_LOCATION": &cfg.Location,
		"HASS_SENSORS_WIFI":     &cfg.WiFi,
		"HASS_SENSORS_NOTIFY":   &cfg.Notify,
	}
	for key, dst := range bools {
		v := getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}

	if v := getenv("HASS_SENSORS_GRANTED"); v != "" {
		cfg.GrantedCapabilities = splitList(v)
	}

	intervals := map[string]*time.Duration{
		"HASS_SENSORS_POLL_INTERVAL": &cfg.PollInterval,
		"HASS_SENSORS_MQTT_INTERVAL": &cfg.MQTTInterval,
	}
	for key, dst := range intervals {
		v := getenv(key)
		if v == "" {
			continue
		}
		d, ok := parseInterval(v)
		if !ok {
			return fmt.Errorf("%s: invalid interval %q", key, v)
		}
		*dst = d
	}
	return nil
}

func intervalFlag(dst *time.Duration) func(string) error {
	return func(s string) error {
		d, ok := parseInterval(s)
		if !ok {
			return fmt.Errorf("invalid interval %q", s)
		}
		*dst = d
		return nil
	}
}

// parseInterval accepts a Go duration or a bare number of seconds.
func parseInterval(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d, true
	}
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return time.Duration(v) * time.Second, true
	}
	return 0, false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setupLogger(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

func setupCustomDNSResolver(server string, logger *logrus.Logger) {
	net.DefaultResolver = &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: time.Second}
			return d.DialContext(ctx, network, server)
		},
	}
	logger.WithField("server", server).Debug("Custom DNS resolver installed")
}

// listSensors prints the catalog with the persisted enablement of each sensor.
func listSensors(ctx context.Context, st store.Lister, cfg *config.Config) error {
	records, err := st.List(ctx)
	if err != nil {
		return err
	}
	enabled := make(map[string]string, len(records))
	for _, r := range records {
		enabled[r.UniqueID] = strconv.FormatBool(r.Enabled)
	}

	resolver := sensors.NewCapabilityResolver(cfg.CapabilityOverrides)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tENABLED\tCAPABILITIES")
	for _, def := range sensors.Catalog {
		state, ok := enabled[def.ID]
		if !ok {
			state = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", def.ID, def.Source, state, strings.Join(resolver.Required(def.ID), ","))
	}
	return w.Flush()
}
