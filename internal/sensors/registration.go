package sensors

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrEmptyUniqueID is returned when a registration carries no identity.
var ErrEmptyUniqueID = errors.New("sensor registration has an empty unique id")

// Registration is the live snapshot of a single sensor as reported by its
// source. It is read-only for everything downstream of the collector.
type Registration struct {
	UniqueID          string         `json:"unique_id"`
	Name              string         `json:"name,omitempty"`
	State             any            `json:"state"`
	UnitOfMeasurement string         `json:"unit_of_measurement,omitempty"`
	DeviceClass       string         `json:"device_class,omitempty"`
	Icon              string         `json:"icon,omitempty"`
	Attributes        map[string]any `json:"attributes,omitempty"`
}

// Validate checks the only precondition the enablement logic has.
func (r Registration) Validate() error {
	if r.UniqueID == "" {
		return ErrEmptyUniqueID
	}
	return nil
}

// StateString returns the stringified state as it is stored and displayed.
func (r Registration) StateString() string {
	return Stringify(r.State)
}

// Snapshot is one collector pass over every configured source.
type Snapshot struct {
	Timestamp     time.Time
	Registrations []Registration
}

// Find returns the registration with the given id, if present.
func (s *Snapshot) Find(uniqueID string) (Registration, bool) {
	if s == nil {
		return Registration{}, false
	}
	for _, r := range s.Registrations {
		if r.UniqueID == uniqueID {
			return r, true
		}
	}
	return Registration{}, false
}

// Stringify renders a scalar sensor value. Floats use the shortest
// round-trippable form so 21.5 stays "21.5" and 88.0 becomes "88".
// A nil value (or nil pointer) renders as the empty string.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case *string:
		if val == nil {
			return ""
		}
		return *val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case *float64:
		if val == nil {
			return ""
		}
		return strconv.FormatFloat(*val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
