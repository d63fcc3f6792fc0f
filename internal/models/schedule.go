package models

import "time"

// ScheduleStatus represents where a pickup assignment is in its lifecycle
type ScheduleStatus string

const (
	ScheduleStatusPending     ScheduleStatus = "pending"     // Awaiting pickup
	ScheduleStatusCompleted   ScheduleStatus = "completed"   // Terminal
	ScheduleStatusMissed      ScheduleStatus = "missed"      // More than 24h past due
	ScheduleStatusRescheduled ScheduleStatus = "rescheduled" // Terminal, successor holds the new date
	ScheduleStatusCanceled    ScheduleStatus = "canceled"    // Terminal
)

// Recurrence is the rule used to regenerate a schedule after completion
type Recurrence string

const (
	RecurrenceNone     Recurrence = "none"
	RecurrenceDaily    Recurrence = "daily"
	RecurrenceWeekly   Recurrence = "weekly"
	RecurrenceBiweekly Recurrence = "biweekly"
	RecurrenceMonthly  Recurrence = "monthly"
)

// Valid reports whether r is a known recurrence rule
func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceBiweekly, RecurrenceMonthly:
		return true
	}
	return false
}

// Schedule is a planned pickup of one bin by one collector
type Schedule struct {
	ID                 string         `json:"id" db:"id"`
	BinID              string         `json:"bin_id" db:"bin_id"`
	CollectorID        string         `json:"collector_id" db:"collector_id"`
	ScheduledDate      int64          `json:"scheduled_date" db:"scheduled_date"` // Unix timestamp
	WindowStart        string         `json:"window_start" db:"window_start"`     // "HH:MM"
	WindowEnd          string         `json:"window_end" db:"window_end"`         // "HH:MM"
	Status             ScheduleStatus `json:"status" db:"status"`
	BasePriority       int            `json:"base_priority" db:"base_priority"`
	Priority           int            `json:"priority" db:"priority"`
	Recurrence         Recurrence     `json:"recurrence" db:"recurrence"`
	RecurrenceEndDate  *int64         `json:"recurrence_end_date,omitempty" db:"recurrence_end_date"`
	Notes              string         `json:"notes" db:"notes"`
	PreviousScheduleID *string        `json:"previous_schedule_id,omitempty" db:"previous_schedule_id"`
	CompletedAt        *int64         `json:"completed_at,omitempty" db:"completed_at"`
	ActualFillLevel    *int           `json:"actual_fill_level,omitempty" db:"actual_fill_level"`
	DurationMinutes    *int           `json:"duration_minutes,omitempty" db:"duration_minutes"`
	CancelReason       *string        `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CreatedAt          int64          `json:"created_at" db:"created_at"`
	UpdatedAt          int64          `json:"updated_at" db:"updated_at"`
	Version            int            `json:"version" db:"version"`
}

// IsTerminal returns true once the schedule can no longer be completed
func (s *Schedule) IsTerminal() bool {
	return s.Status != ScheduleStatusPending
}

const (
	// Schedules more than this far past due become missed
	ScheduleMissedAfterHours = 24
	// Schedules more than this far past due start gaining priority
	ScheduleEscalateAfterHours = 2
	ScheduleMaxPriority        = 10
)

// ReviewOverdue applies the overdue rule as of now and reports whether
// anything changed.
//
// A pending schedule more than 24h past due becomes missed. One more than 2h
// past due gets priority BasePriority + floor(hours/2), capped at 10. The bump
// is computed from BasePriority so repeated reviews are idempotent.
func (s *Schedule) ReviewOverdue(now time.Time) bool {
	if s.Status != ScheduleStatusPending || s.ScheduledDate >= now.Unix() {
		return false
	}

	hoursPastDue := float64(now.Unix()-s.ScheduledDate) / 3600

	if hoursPastDue > ScheduleMissedAfterHours {
		s.Status = ScheduleStatusMissed
		s.UpdatedAt = now.Unix()
		return true
	}

	if hoursPastDue > ScheduleEscalateAfterHours {
		priority := s.BasePriority + int(hoursPastDue/2)
		if priority > ScheduleMaxPriority {
			priority = ScheduleMaxPriority
		}
		if priority != s.Priority {
			s.Priority = priority
			s.UpdatedAt = now.Unix()
			return true
		}
	}
	return false
}
