package store

import (
	"context"
	"time"

	"cleancity-backend/internal/models"
)

// ReviewedPending lists the pending schedules matching f, applying the overdue
// rule to each one first and persisting whatever changed. Schedules that turn
// missed are returned separately so callers can notify after commit; open
// holds the ones still pending.
func ReviewedPending(ctx context.Context, s Store, f ScheduleFilter, now time.Time) (open, missed []models.Schedule, err error) {
	f.Status = models.ScheduleStatusPending
	list, err := s.ListSchedules(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	for i := range list {
		sc := &list[i]
		if sc.ReviewOverdue(now) {
			if err := s.UpdateSchedule(ctx, sc); err != nil {
				return nil, nil, err
			}
		}
		if sc.Status == models.ScheduleStatusMissed {
			missed = append(missed, *sc)
			continue
		}
		open = append(open, *sc)
	}
	return open, missed, nil
}
