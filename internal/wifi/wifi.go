package wifi

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/jkaberg/hass-sensors/internal/sensors"
	"github.com/sirupsen/logrus"
)

// Reader reports whether the WiFi radio is on.
type Reader struct {
	logger *logrus.Logger
	run    func(ctx context.Context) ([]byte, error)
}

// NewReader creates a reader backed by `settings get global wifi_on`.
func NewReader(logger *logrus.Logger) *Reader {
	return &Reader{
		logger: logger,
		run: func(ctx context.Context) ([]byte, error) {
			return exec.CommandContext(ctx, "settings", "get", "global", "wifi_on").Output()
		},
	}
}

// Name identifies the source in logs.
func (r *Reader) Name() string { return sensors.SourceWiFi }

// IsEnabled returns true if WiFi is on.
func (r *Reader) IsEnabled(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := r.run(ctx)
	if err != nil {
		return false, err
	}
	// "1" when enabled, "0" when disabled
	return strings.TrimSpace(string(out)) == "1", nil
}

// Poll returns the "wifi_connection" registration.
func (r *Reader) Poll(ctx context.Context) ([]sensors.Registration, error) {
	enabled, err := r.IsEnabled(ctx)
	if err != nil {
		return nil, err
	}
	state := "off"
	if enabled {
		state = "on"
	}
	r.logger.WithField("state", state).Debug("Read WiFi state")

	def := sensors.Lookup("wifi_connection")
	return []sensors.Registration{{
		UniqueID: def.ID,
		Name:     def.Name,
		State:    state,
		Icon:     def.Icon,
	}}, nil
}
