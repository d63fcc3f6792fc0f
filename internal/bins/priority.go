package bins

import (
	"time"

	"cleancity-backend/internal/models"
)

const (
	// MaxPriority caps every computed priority
	MaxPriority = 10

	// StaleDays is how long a bin can go uncollected before it gets the bonus
	StaleDays  = 5
	StaleBonus = 3

	OverflowLevel        = 90
	EmptyLevel           = 10
	NeedsCollectionLevel = 80
)

// ComputePriority maps a fill level and the whole days since the last
// collection to a priority in [0, 10]. Pass a negative days value for a bin
// that has never been collected.
func ComputePriority(fillLevel, daysSinceLastCollection int) int {
	var priority int
	switch {
	case fillLevel > 80:
		priority = 10
	case fillLevel > 60:
		priority = 7
	case fillLevel > 40:
		priority = 5
	default:
		priority = 3
	}

	if daysSinceLastCollection > StaleDays {
		priority += StaleBonus
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}
	return priority
}

// DaysSince returns floor((now - lastCollected) / 1 day), or -1 when the bin
// was never collected
func DaysSince(lastCollected *int64, now time.Time) int {
	if lastCollected == nil {
		return -1
	}
	elapsed := now.Unix() - *lastCollected
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / int64((24 * time.Hour).Seconds()))
}

// ClampFill forces a fill level into 0..100
func ClampFill(level int) int {
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}

// DeriveStatus is the status a bin takes after a fill-level update. Bins in
// maintenance keep that status; bins being collected keep in-progress unless
// the level crosses a threshold.
func DeriveStatus(current models.BinStatus, fillLevel int) models.BinStatus {
	if current == models.BinStatusMaintenance {
		return current
	}
	switch {
	case fillLevel >= OverflowLevel:
		return models.BinStatusOverflow
	case fillLevel < EmptyLevel:
		return models.BinStatusCollected
	case current == models.BinStatusInProgress:
		return current
	default:
		return models.BinStatusPending
	}
}

// NeedsCollection is true for bins at 80% or more, or overflowing
func NeedsCollection(b *models.Bin) bool {
	return b.FillLevel >= NeedsCollectionLevel || b.Status == models.BinStatusOverflow
}

// Refresh recomputes the derived priority against now
func Refresh(b *models.Bin, now time.Time) {
	b.Priority = ComputePriority(b.FillLevel, DaysSince(b.LastCollected, now))
}
