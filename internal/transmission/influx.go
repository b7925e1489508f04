package transmission

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/jkaberg/hass-sensors/internal/sensors"
	"github.com/jkaberg/hass-sensors/internal/store"
	"github.com/sirupsen/logrus"
)

const influxPingTimeout = 5 * time.Second

// InfluxConfig locates the history bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// pointWriter is the slice of api.WriteAPI the transmitter uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// InfluxTransmitter records the history of enabled sensors in InfluxDB.
// Writes are batched and non-blocking; failures surface through the log.
type InfluxTransmitter struct {
	client   influxdb2.Client
	writer   pointWriter
	store    store.Store
	deviceID string
	logger   *logrus.Logger
}

// NewInfluxTransmitter connects and verifies the server is healthy.
func NewInfluxTransmitter(ctx context.Context, cfg InfluxConfig, st store.Store, deviceID string, logger *logrus.Logger) (*InfluxTransmitter, error) {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(50).SetFlushInterval(10_000))

	pingCtx, cancel := context.WithTimeout(ctx, influxPingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influxdb server not healthy")
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.WithError(err).Warn("InfluxDB write failed")
		}
	}()

	return &InfluxTransmitter{
		client:   client,
		writer:   writeAPI,
		store:    st,
		deviceID: deviceID,
		logger:   logger,
	}, nil
}

// Transmit queues one point per enabled sensor.
func (t *InfluxTransmitter) Transmit(ctx context.Context, snap *sensors.Snapshot) error {
	if snap == nil {
		return nil
	}
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	written := 0
	for _, reg := range snap.Registrations {
		rec, err := t.store.Get(ctx, reg.UniqueID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			t.logger.WithError(err).WithField("sensor", reg.UniqueID).Warn("Failed to read sensor enablement")
			continue
		}
		if !rec.Enabled || reg.State == nil {
			continue
		}
		t.writer.WritePoint(t.point(reg, ts))
		written++
	}

	t.logger.WithField("points", written).Debug("Queued InfluxDB points")
	return nil
}

func (t *InfluxTransmitter) point(reg sensors.Registration, ts time.Time) *write.Point {
	tags := map[string]string{
		"device_id": t.deviceID,
		"sensor":    reg.UniqueID,
	}
	if reg.UnitOfMeasurement != "" {
		tags["unit"] = reg.UnitOfMeasurement
	}

	fields := make(map[string]interface{}, 1)
	switch v := reg.State.(type) {
	case float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		bool:
		fields["value"] = v
	default:
		fields["state"] = reg.StateString()
	}
	return write.NewPoint("sensor_state", tags, fields, ts)
}

// IsConnected reports whether the client is open.
func (t *InfluxTransmitter) IsConnected() bool { return t.client != nil }

// Close flushes pending points and closes the client.
func (t *InfluxTransmitter) Close() {
	t.writer.Flush()
	t.client.Close()
	t.client = nil
}

// Multi transmits to every transmitter and joins their errors.
type Multi []Transmitter

// Transmit implements Transmitter.
func (m Multi) Transmit(ctx context.Context, snap *sensors.Snapshot) error {
	var errs []error
	for _, tx := range m {
		if err := tx.Transmit(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsConnected is true if any transmitter is connected.
func (m Multi) IsConnected() bool {
	for _, tx := range m {
		if tx.IsConnected() {
			return true
		}
	}
	return false
}
