package domain

import (
	"math"
	"reflect"

	"github.com/jkaberg/hass-sensors/internal/sensors"
)

// Location movement below this is treated as GPS noise.
const locationJitterMeters = 10.0

// Changed returns true if cur differs from prev beyond tolerated jitter.
// Timestamps are ignored, and so is a location that moved less than
// locationJitterMeters, so a parked car does not trigger a transmit.
func Changed(prev, cur *sensors.Snapshot) bool {
	if prev == nil && cur == nil {
		return false
	}
	if prev == nil || cur == nil {
		return true
	}
	if len(prev.Registrations) != len(cur.Registrations) {
		return true
	}

	for _, c := range cur.Registrations {
		p, ok := prev.Find(c.UniqueID)
		if !ok {
			return true
		}
		if c.UniqueID == "location" && !moved(p, c) {
			continue
		}
		if !reflect.DeepEqual(p, c) {
			return true
		}
	}
	return false
}

// moved reports whether two location registrations are further apart than
// the jitter threshold.
func moved(p, c sensors.Registration) bool {
	plat, plon, ok1 := latLon(p)
	clat, clon, ok2 := latLon(c)
	if !ok1 || !ok2 {
		return !reflect.DeepEqual(p, c)
	}
	return haversineMeters(plat, plon, clat, clon) >= locationJitterMeters
}

func latLon(r sensors.Registration) (float64, float64, bool) {
	lat, ok1 := r.Attributes["latitude"].(float64)
	lon, ok2 := r.Attributes["longitude"].(float64)
	return lat, lon, ok1 && ok2
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const r = 6371000.0 // Earth radius in metres
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return r * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
