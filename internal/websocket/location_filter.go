package websocket

import (
	"math"
	"sync"
	"time"
)

const (
	// MinPositionDelta is the distance (meters) a collector must move before
	// admins get a new position
	MinPositionDelta = 10.0

	// MaxSilence forces a relay even when the truck is parked, so the marker
	// never goes stale
	MaxSilence = 30 * time.Second

	// MaxAccuracy rejects fixes whose reported GPS accuracy (meters) is worse
	MaxAccuracy = 100.0
)

type lastPosition struct {
	latitude  float64
	longitude float64
	at        time.Time
}

// LocationFilter drops collector positions that would not move the marker on
// an admin's map
type LocationFilter struct {
	mu   sync.Mutex
	last map[string]lastPosition // Key: collector id

	relayed, skipped int64
}

func NewLocationFilter() *LocationFilter {
	return &LocationFilter{last: make(map[string]lastPosition)}
}

// Allow reports whether the fix should be relayed and, if so, remembers it.
// A zero accuracy means the client did not report one.
func (f *LocationFilter) Allow(collectorID string, lat, lng, accuracy float64, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if accuracy > MaxAccuracy {
		f.skipped++
		return false
	}

	last, ok := f.last[collectorID]
	if ok && haversineMeters(last.latitude, last.longitude, lat, lng) < MinPositionDelta && now.Sub(last.at) < MaxSilence {
		f.skipped++
		return false
	}

	f.last[collectorID] = lastPosition{latitude: lat, longitude: lng, at: now}
	f.relayed++
	return true
}

// Forget drops the stored position, e.g. when the collector disconnects
func (f *LocationFilter) Forget(collectorID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.last, collectorID)
}

func (f *LocationFilter) Stats() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]interface{}{
		"relayed": f.relayed,
		"skipped": f.skipped,
		"tracked": len(f.last),
	}
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000.0

	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}
