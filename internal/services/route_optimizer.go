package services

import (
	"context"
	"log"
	"math"

	"cleancity-backend/internal/models"
)

// Depot constants - routes start here unless told otherwise
const (
	DEPOT_LAT     = 37.34692
	DEPOT_LNG     = -121.92984
	DEPOT_ADDRESS = "1185 Campbell Ave, San Jose, CA 95126"
)

// GetDepotLocation returns the default depot location
func GetDepotLocation() models.Location {
	return models.Location{
		Latitude:  DEPOT_LAT,
		Longitude: DEPOT_LNG,
	}
}

// RouteOptimizer orders bins with a nearest neighbour tour
type RouteOptimizer struct {
	depot models.Location
}

// NewRouteOptimizer creates a new route optimizer
func NewRouteOptimizer() *RouteOptimizer {
	return &RouteOptimizer{depot: GetDepotLocation()}
}

// OptimizeStops returns bins in visiting order starting from start (the depot
// when nil). Bins without coordinates keep their relative order at the end.
func (ro *RouteOptimizer) OptimizeStops(ctx context.Context, start *models.Location, bins []models.Bin) ([]models.Bin, error) {
	if len(bins) < 2 {
		return bins, nil
	}

	current := ro.depot
	if start != nil {
		current = *start
	}

	log.Printf("🎯 Starting route optimization from (%.6f, %.6f)", current.Latitude, current.Longitude)
	log.Printf("   Total bins to optimize: %d", len(bins))

	var remaining, unlocated []models.Bin
	for _, b := range bins {
		if b.Location() == nil {
			unlocated = append(unlocated, b)
			continue
		}
		remaining = append(remaining, b)
	}

	optimized := make([]models.Bin, 0, len(bins))
	totalDistance := 0.0

	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bestIdx := 0
		bestDistance := math.MaxFloat64
		for i, b := range remaining {
			loc := b.Location()
			distance := haversineDistance(current.Latitude, current.Longitude, loc.Latitude, loc.Longitude)
			if distance < bestDistance {
				bestDistance = distance
				bestIdx = i
			}
		}

		best := remaining[bestIdx]
		optimized = append(optimized, best)
		totalDistance += bestDistance
		current = *best.Location()

		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	optimized = append(optimized, unlocated...)

	log.Printf("✅ Route optimization complete!")
	log.Printf("   Total distance: %.2f km", totalDistance)
	if len(unlocated) > 0 {
		log.Printf("   %d bins without coordinates appended at the end", len(unlocated))
	}
	return optimized, nil
}

// haversineDistance calculates the distance between two GPS coordinates in kilometers
func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371.0

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}
