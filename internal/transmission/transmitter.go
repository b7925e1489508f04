package transmission

import (
	"context"

	"github.com/jkaberg/hass-sensors/internal/sensors"
)

// Transmitter defines the interface for transmitting sensor snapshots
type Transmitter interface {
	Transmit(ctx context.Context, snap *sensors.Snapshot) error
	IsConnected() bool
}
