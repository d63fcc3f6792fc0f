package schedules

import (
	"time"

	"cleancity-backend/internal/models"
)

const (
	MissedAfterHours   = models.ScheduleMissedAfterHours
	EscalateAfterHours = models.ScheduleEscalateAfterHours
	maxPriority        = models.ScheduleMaxPriority
)

// ReviewOverdue applies the overdue rule to s as of now and reports whether
// anything changed. See models.Schedule.ReviewOverdue.
func ReviewOverdue(s *models.Schedule, now time.Time) bool {
	return s.ReviewOverdue(now)
}

// NextDate returns the next occurrence after scheduledDate for a recurring
// schedule. It is computed from the original date, never from the completion time.
func NextDate(scheduledDate int64, recurrence models.Recurrence, loc *time.Location) (int64, bool) {
	t := time.Unix(scheduledDate, 0).In(loc)
	switch recurrence {
	case models.RecurrenceDaily:
		t = t.AddDate(0, 0, 1)
	case models.RecurrenceWeekly:
		t = t.AddDate(0, 0, 7)
	case models.RecurrenceBiweekly:
		t = t.AddDate(0, 0, 14)
	case models.RecurrenceMonthly:
		t = t.AddDate(0, 1, 0)
	default:
		return 0, false
	}
	return t.Unix(), true
}
