package permission

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Android runtime permissions used by the sensor catalog.
const (
	FineLocation       = "android.permission.ACCESS_FINE_LOCATION"
	BackgroundLocation = "android.permission.ACCESS_BACKGROUND_LOCATION"
	WiFiState          = "android.permission.ACCESS_WIFI_STATE"
)

// Oracle answers whether a capability is currently granted.
type Oracle interface {
	HasCapability(capability string) bool
}

// AllGranted reports whether every capability in caps is granted. An empty
// list is vacuously granted. Each capability is queried exactly once.
func AllGranted(o Oracle, caps []string) bool {
	granted := true
	for _, c := range caps {
		if !o.HasCapability(c) {
			granted = false
		}
	}
	return granted
}

// Missing returns the capabilities in caps the oracle does not grant.
func Missing(o Oracle, caps []string) []string {
	var missing []string
	for _, c := range caps {
		if !o.HasCapability(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// Request is the first half of a permission prompt: it is issued when a user
// tries to enable a sensor without the access it needs.
type Request struct {
	ID           string    `json:"request_id"`
	SensorID     string    `json:"sensor_id"`
	Capabilities []string  `json:"capabilities"`
	IssuedAt     time.Time `json:"issued_at"`
}

// NewRequest issues a request with a fresh correlation id.
func NewRequest(sensorID string, caps []string) Request {
	return Request{
		ID:           uuid.NewString(),
		SensorID:     sensorID,
		Capabilities: append([]string(nil), caps...),
		IssuedAt:     time.Now().UTC(),
	}
}

// Result is the second half: the outcome of the platform prompt.
// RequestID may be empty when the reporter cannot correlate; SensorID is
// then used for routing.
type Result struct {
	RequestID  string `json:"request_id,omitempty"`
	SensorID   string `json:"sensor_id,omitempty"`
	GrantedAll bool   `json:"granted"`
}

// Requester triggers the platform permission prompt for a request.
type Requester interface {
	RequestPermissions(ctx context.Context, req Request) error
}

// Multi fans a request out to several requesters and returns the first error.
type Multi []Requester

// RequestPermissions implements Requester.
func (m Multi) RequestPermissions(ctx context.Context, req Request) error {
	var firstErr error
	for _, r := range m {
		if err := r.RequestPermissions(ctx, req); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
