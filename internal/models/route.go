package models

import "math"

// RouteStatus represents the progress of a collection run
type RouteStatus string

const (
	RouteStatusPlanned    RouteStatus = "planned"     // Created, not started
	RouteStatusInProgress RouteStatus = "in-progress" // Collector on the road
	RouteStatusCompleted  RouteStatus = "completed"   // All stops collected or ended explicitly
	RouteStatusCanceled   RouteStatus = "canceled"    // Cancelled by a manager
)

// Route is an ordered list of bin stops assigned to a collector
type Route struct {
	ID                  string      `json:"id" db:"id"`
	Name                string      `json:"name" db:"name"`
	CollectorID         string      `json:"collector_id" db:"collector_id"`
	Status              RouteStatus `json:"status" db:"status"`
	ActualStartTime     *int64      `json:"actual_start_time,omitempty" db:"actual_start_time"`
	ActualEndTime       *int64      `json:"actual_end_time,omitempty" db:"actual_end_time"`
	CurrentCapacityUsed float64     `json:"current_capacity_used" db:"current_capacity_used"`
	VehicleCapacity     float64     `json:"vehicle_capacity" db:"vehicle_capacity"`
	CompletionRate      int         `json:"completion_rate" db:"completion_rate"`
	Notes               string      `json:"notes" db:"notes"`
	CreatedAt           int64       `json:"created_at" db:"created_at"`
	UpdatedAt           int64       `json:"updated_at" db:"updated_at"`
	Version             int         `json:"version" db:"version"`

	Stops []RouteStop `json:"stops" db:"-"`
}

// RouteStop is one bin in a route (from route_stops table)
type RouteStop struct {
	ID               string   `json:"id" db:"id"`
	RouteID          string   `json:"route_id" db:"route_id"`
	BinID            string   `json:"bin_id" db:"bin_id"`
	SequenceOrder    int      `json:"sequence_order" db:"sequence_order"`
	EstimatedMinutes int      `json:"estimated_minutes" db:"estimated_minutes"`
	Collected        bool     `json:"collected" db:"collected"`
	CollectedAt      *int64   `json:"collected_at,omitempty" db:"collected_at"`
	WasteWeight      *float64 `json:"waste_weight,omitempty" db:"waste_weight"`
}

// RouteHistoryEntry records one action taken on a route
type RouteHistoryEntry struct {
	ID        string   `json:"id" db:"id"`
	RouteID   string   `json:"route_id" db:"route_id"`
	BinID     *string  `json:"bin_id,omitempty" db:"bin_id"`
	Action    string   `json:"action" db:"action"`
	Latitude  *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude *float64 `json:"longitude,omitempty" db:"longitude"`
	Notes     string   `json:"notes" db:"notes"`
	CreatedAt int64    `json:"created_at" db:"created_at"`
}

// CollectedStops returns how many stops have been collected
func (r *Route) CollectedStops() int {
	n := 0
	for _, stop := range r.Stops {
		if stop.Collected {
			n++
		}
	}
	return n
}

// IsComplete returns true if every stop is collected
func (r *Route) IsComplete() bool {
	return len(r.Stops) > 0 && r.CollectedStops() == len(r.Stops)
}

// ComputeCompletionRate returns collected/total as a rounded percentage
func (r *Route) ComputeCompletionRate() int {
	if len(r.Stops) == 0 {
		return 0
	}
	return int(math.Round(float64(r.CollectedStops()) / float64(len(r.Stops)) * 100))
}

// FindStop returns the index of the stop for binID, or -1
func (r *Route) FindStop(binID string) int {
	for i, stop := range r.Stops {
		if stop.BinID == binID {
			return i
		}
	}
	return -1
}

// TotalEstimatedMinutes sums the per-stop estimates
func (r *Route) TotalEstimatedMinutes() int {
	total := 0
	for _, stop := range r.Stops {
		total += stop.EstimatedMinutes
	}
	return total
}
