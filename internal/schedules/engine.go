// Package schedules creates, completes, reschedules and regenerates pickup
// assignments. Terminal schedules are never moved to a new date; a successor
// is created instead.
package schedules

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"cleancity-backend/internal/apperr"
	"cleancity-backend/internal/bins"
	"cleancity-backend/internal/models"
	"cleancity-backend/internal/notify"
	"cleancity-backend/internal/store"
)

// BinCollector is the part of the bin tracker a completed pickup drives
type BinCollector interface {
	MarkCollected(ctx context.Context, binID, collectorID string, report bins.CollectionReport) (*models.Bin, error)
}

type Engine struct {
	store    store.Store
	bins     BinCollector
	notifier notify.Notifier
	clock    clockwork.Clock
	loc      *time.Location
}

func NewEngine(st store.Store, binCollector BinCollector, notifier notify.Notifier, clock clockwork.Clock, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{store: st, bins: binCollector, notifier: notifier, clock: clock, loc: loc}
}

type CreateInput struct {
	BinID             string            `json:"bin_id"`
	CollectorID       string            `json:"collector_id"`
	ScheduledDate     int64             `json:"scheduled_date"`
	WindowStart       string            `json:"window_start"`
	WindowEnd         string            `json:"window_end"`
	Priority          *int              `json:"priority,omitempty"` // defaults to the bin's priority
	Recurrence        models.Recurrence `json:"recurrence"`
	RecurrenceEndDate *int64            `json:"recurrence_end_date,omitempty"`
	Notes             string            `json:"notes"`
}

func validWindow(start, end string) error {
	if start == "" && end == "" {
		return nil
	}
	s, err := time.Parse("15:04", start)
	if err != nil {
		return apperr.Validation("window start %q is not HH:MM", start)
	}
	e, err := time.Parse("15:04", end)
	if err != nil {
		return apperr.Validation("window end %q is not HH:MM", end)
	}
	if !e.After(s) {
		return apperr.Validation("window end must be after window start")
	}
	return nil
}

func (e *Engine) Create(ctx context.Context, in CreateInput) (*models.Schedule, error) {
	if strings.TrimSpace(in.CollectorID) == "" {
		return nil, apperr.Validation("collector is required")
	}
	if in.ScheduledDate <= 0 {
		return nil, apperr.Validation("scheduled date is required")
	}
	if in.Recurrence == "" {
		in.Recurrence = models.RecurrenceNone
	}
	if !in.Recurrence.Valid() {
		return nil, apperr.Validation("unknown recurrence %q", in.Recurrence)
	}
	if in.RecurrenceEndDate != nil && *in.RecurrenceEndDate < in.ScheduledDate {
		return nil, apperr.Validation("recurrence end date is before the scheduled date")
	}
	if in.Priority != nil && (*in.Priority < 0 || *in.Priority > maxPriority) {
		return nil, apperr.Validation("priority must be between 0 and %d", maxPriority)
	}
	if err := validWindow(in.WindowStart, in.WindowEnd); err != nil {
		return nil, err
	}

	collector, err := e.store.GetUser(ctx, in.CollectorID)
	if err != nil {
		return nil, err
	}
	if collector.Role == models.RoleResident {
		return nil, apperr.Validation("user %s is not a collector", collector.ID)
	}

	var schedule *models.Schedule
	var missed []models.Schedule
	err = e.store.InTx(ctx, func(tx store.Store) error {
		bin, err := tx.GetBin(ctx, in.BinID)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		var pending []models.Schedule
		pending, missed, err = store.ReviewedPending(ctx, tx, store.ScheduleFilter{BinID: bin.ID}, now)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return apperr.InvalidState("bin %s already has pending schedule %s", bin.ID, pending[0].ID)
		}

		priority := bins.ComputePriority(bin.FillLevel, bins.DaysSince(bin.LastCollected, now))
		if in.Priority != nil {
			priority = *in.Priority
		}

		schedule = &models.Schedule{
			ID:                uuid.New().String(),
			BinID:             bin.ID,
			CollectorID:       in.CollectorID,
			ScheduledDate:     in.ScheduledDate,
			WindowStart:       in.WindowStart,
			WindowEnd:         in.WindowEnd,
			Status:            models.ScheduleStatusPending,
			BasePriority:      priority,
			Priority:          priority,
			Recurrence:        in.Recurrence,
			RecurrenceEndDate: in.RecurrenceEndDate,
			Notes:             in.Notes,
			CreatedAt:         now.Unix(),
			UpdatedAt:         now.Unix(),
		}
		return tx.CreateSchedule(ctx, schedule)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}

	for i := range missed {
		e.notifyMissed(ctx, &missed[i])
	}
	log.Printf("📅 Scheduled bin %s for %s on %s", schedule.BinID, schedule.CollectorID, e.formatDate(schedule.ScheduledDate))
	e.notifyAssigned(ctx, schedule)
	return schedule, nil
}

// review loads a schedule, applies the overdue rule and persists any change
func (e *Engine) review(ctx context.Context, id string) (*models.Schedule, error) {
	var schedule *models.Schedule
	var missed bool

	err := store.RetryOnConflict(func() error {
		s, err := e.store.GetSchedule(ctx, id)
		if err != nil {
			return err
		}
		wasPending := s.Status == models.ScheduleStatusPending
		if ReviewOverdue(s, e.clock.Now()) {
			if err := e.store.UpdateSchedule(ctx, s); err != nil {
				return err
			}
		}
		missed = wasPending && s.Status == models.ScheduleStatusMissed
		schedule = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	if missed {
		e.notifyMissed(ctx, schedule)
	}
	return schedule, nil
}

// Get returns the schedule after applying the overdue rule
func (e *Engine) Get(ctx context.Context, id string) (*models.Schedule, error) {
	return e.review(ctx, id)
}

// List returns matching schedules, reviewing every pending one first. When
// filtering on a status other than pending, overdue pending schedules are
// loaded too since the review may move them into that status.
func (e *Engine) List(ctx context.Context, f store.ScheduleFilter) ([]models.Schedule, error) {
	now := e.clock.Now().Unix()
	list, err := e.store.ListSchedules(ctx, f)
	if err != nil {
		return nil, err
	}

	if f.Status != "" && f.Status != models.ScheduleStatusPending {
		overdue := f
		overdue.Status = models.ScheduleStatusPending
		if overdue.To == nil || *overdue.To > now {
			overdue.To = &now
		}
		extra, err := e.store.ListSchedules(ctx, overdue)
		if err != nil {
			return nil, err
		}
		if len(extra) > 0 {
			list = append(list, extra...)
			sort.Slice(list, func(i, j int) bool {
				if list[i].ScheduledDate != list[j].ScheduledDate {
					return list[i].ScheduledDate < list[j].ScheduledDate
				}
				return list[i].ID < list[j].ID
			})
		}
	}

	result := make([]models.Schedule, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, s := range list {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		if s.Status == models.ScheduleStatusPending && s.ScheduledDate < now {
			reviewed, err := e.review(ctx, s.ID)
			if err != nil {
				return nil, err
			}
			s = *reviewed
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		result = append(result, s)
	}
	return result, nil
}

// SweepOverdue reviews every pending schedule and returns how many changed
func (e *Engine) SweepOverdue(ctx context.Context) (int, error) {
	now := e.clock.Now().Unix()
	pending, err := e.store.ListSchedules(ctx, store.ScheduleFilter{Status: models.ScheduleStatusPending, To: &now})
	if err != nil {
		return 0, fmt.Errorf("failed to list pending schedules: %w", err)
	}

	changed := 0
	for _, s := range pending {
		reviewed, err := e.review(ctx, s.ID)
		if err != nil {
			log.Printf("⚠️  Failed to review schedule %s: %v", s.ID, err)
			continue
		}
		if reviewed.Status != s.Status || reviewed.Priority != s.Priority {
			changed++
		}
	}
	return changed, nil
}

type CompleteInput struct {
	ActualFillLevel int `json:"actual_fill_level"`
	DurationMinutes int `json:"duration_minutes"`
}

type CompleteResult struct {
	Completed *models.Schedule `json:"completed"`
	Next      *models.Schedule `json:"next,omitempty"`
}

// Complete closes a pending schedule and, for recurring ones, creates the
// successor in the same unit of work. The bin is then marked collected.
func (e *Engine) Complete(ctx context.Context, id string, in CompleteInput) (*CompleteResult, error) {
	if in.ActualFillLevel < 0 || in.ActualFillLevel > 100 {
		return nil, apperr.Validation("actual fill level %d is outside 0-100", in.ActualFillLevel)
	}
	if in.DurationMinutes < 0 {
		return nil, apperr.Validation("duration must not be negative")
	}

	current, err := e.review(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to complete schedule: %w", err)
	}
	if current.Status != models.ScheduleStatusPending {
		return nil, apperr.InvalidState("schedule %s is %s", id, current.Status)
	}

	var result *CompleteResult
	err = store.RetryOnConflict(func() error {
		return e.store.InTx(ctx, func(tx store.Store) error {
			s, err := tx.GetSchedule(ctx, id)
			if err != nil {
				return err
			}
			if s.Status != models.ScheduleStatusPending {
				return apperr.InvalidState("schedule %s is %s", id, s.Status)
			}

			now := e.clock.Now().Unix()
			fill, duration := in.ActualFillLevel, in.DurationMinutes
			s.Status = models.ScheduleStatusCompleted
			s.CompletedAt = &now
			s.ActualFillLevel = &fill
			s.DurationMinutes = &duration
			s.UpdatedAt = now
			if err := tx.UpdateSchedule(ctx, s); err != nil {
				return err
			}

			result = &CompleteResult{Completed: s}

			nextDate, recurring := NextDate(s.ScheduledDate, s.Recurrence, e.loc)
			if !recurring {
				return nil
			}
			if s.RecurrenceEndDate != nil && nextDate > *s.RecurrenceEndDate {
				log.Printf("🔚 Recurrence for bin %s ended on %s", s.BinID, e.formatDate(*s.RecurrenceEndDate))
				return nil
			}

			prev := s.ID
			next := &models.Schedule{
				ID:                 uuid.New().String(),
				BinID:              s.BinID,
				CollectorID:        s.CollectorID,
				ScheduledDate:      nextDate,
				WindowStart:        s.WindowStart,
				WindowEnd:          s.WindowEnd,
				Status:             models.ScheduleStatusPending,
				BasePriority:       s.BasePriority,
				Priority:           s.BasePriority,
				Recurrence:         s.Recurrence,
				RecurrenceEndDate:  s.RecurrenceEndDate,
				Notes:              s.Notes,
				PreviousScheduleID: &prev,
				CreatedAt:          now,
				UpdatedAt:          now,
			}
			if err := tx.CreateSchedule(ctx, next); err != nil {
				return err
			}
			result.Next = next
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete schedule: %w", err)
	}

	completed := result.Completed
	log.Printf("✅ Schedule %s completed (bin %s, fill %d%%, %d min)", completed.ID, completed.BinID, in.ActualFillLevel, in.DurationMinutes)

	if e.bins != nil {
		empty := 0
		if _, err := e.bins.MarkCollected(ctx, completed.BinID, completed.CollectorID, bins.CollectionReport{FillLevel: &empty}); err != nil {
			log.Printf("⚠️  Schedule %s completed but bin %s was not updated: %v", completed.ID, completed.BinID, err)
		}
	}
	if result.Next != nil {
		log.Printf("🔄 Next %s pickup for bin %s on %s", result.Next.Recurrence, result.Next.BinID, e.formatDate(result.Next.ScheduledDate))
		e.notifyAssigned(ctx, result.Next)
	}
	return result, nil
}

type RescheduleResult struct {
	Old *models.Schedule `json:"old"`
	New *models.Schedule `json:"new"`
}

// Reschedule retires a non-completed schedule and creates its successor at
// newDate. The successor's base priority is the old schedule's effective one.
func (e *Engine) Reschedule(ctx context.Context, id string, newDate int64, reason string) (*RescheduleResult, error) {
	if newDate <= 0 {
		return nil, apperr.Validation("new date is required")
	}

	if _, err := e.review(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to reschedule: %w", err)
	}

	var result *RescheduleResult
	var missed []models.Schedule
	err := store.RetryOnConflict(func() error {
		missed = nil
		return e.store.InTx(ctx, func(tx store.Store) error {
			old, err := tx.GetSchedule(ctx, id)
			if err != nil {
				return err
			}
			if old.Status == models.ScheduleStatusCompleted {
				return apperr.InvalidState("schedule %s is completed", id)
			}

			now := e.clock.Now().Unix()
			wasPending := old.Status == models.ScheduleStatusPending
			old.Status = models.ScheduleStatusRescheduled
			old.UpdatedAt = now
			if err := tx.UpdateSchedule(ctx, old); err != nil {
				return err
			}

			// keep one live chain per bin
			if !wasPending {
				missed, err = e.supersede(ctx, tx, old, e.clock.Now())
				if err != nil {
					return err
				}
			}

			prev := old.ID
			next := &models.Schedule{
				ID:                 uuid.New().String(),
				BinID:              old.BinID,
				CollectorID:        old.CollectorID,
				ScheduledDate:      newDate,
				WindowStart:        old.WindowStart,
				WindowEnd:          old.WindowEnd,
				Status:             models.ScheduleStatusPending,
				BasePriority:       old.Priority,
				Priority:           old.Priority,
				Recurrence:         old.Recurrence,
				RecurrenceEndDate:  old.RecurrenceEndDate,
				Notes:              e.rescheduleNote(old, reason),
				PreviousScheduleID: &prev,
				CreatedAt:          now,
				UpdatedAt:          now,
			}
			if err := tx.CreateSchedule(ctx, next); err != nil {
				return err
			}

			result = &RescheduleResult{Old: old, New: next}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reschedule: %w", err)
	}

	for i := range missed {
		e.notifyMissed(ctx, &missed[i])
	}
	log.Printf("📅 Schedule %s rescheduled to %s as %s", result.Old.ID, e.formatDate(newDate), result.New.ID)
	notify.Send(ctx, e.notifier, notify.Request{
		RecipientID: result.New.CollectorID,
		Type:        models.NotifyScheduleRescheduled,
		Title:       "Pickup rescheduled",
		Message:     fmt.Sprintf("Pickup moved to %s", e.formatDate(newDate)),
		Priority:    models.NotificationNormal,
		Related:     models.EntityRef("schedule", result.New.ID),
	})
	return result, nil
}

// supersede cancels other pending schedules of the bin when an already
// retired schedule is rescheduled. Overdue ones are reviewed first; those that
// turn missed stay missed and are returned for notification.
func (e *Engine) supersede(ctx context.Context, tx store.Store, old *models.Schedule, now time.Time) ([]models.Schedule, error) {
	pending, missed, err := store.ReviewedPending(ctx, tx, store.ScheduleFilter{BinID: old.BinID}, now)
	if err != nil {
		return nil, err
	}
	for i := range pending {
		s := &pending[i]
		reason := "Superseded by reschedule of " + old.ID
		s.Status = models.ScheduleStatusCanceled
		s.CancelReason = &reason
		s.UpdatedAt = now.Unix()
		if err := tx.UpdateSchedule(ctx, s); err != nil {
			return nil, err
		}
	}
	return missed, nil
}

func (e *Engine) rescheduleNote(old *models.Schedule, reason string) string {
	note := fmt.Sprintf("Rescheduled from %s.", e.formatDate(old.ScheduledDate))
	if reason = strings.TrimSpace(reason); reason != "" {
		note += " " + reason
	}
	if old.Notes != "" {
		note += "\n" + old.Notes
	}
	return note
}

// Cancel retires a pending schedule without a successor
func (e *Engine) Cancel(ctx context.Context, id, reason string) (*models.Schedule, error) {
	if _, err := e.review(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to cancel schedule: %w", err)
	}

	var schedule *models.Schedule
	err := store.RetryOnConflict(func() error {
		s, err := e.store.GetSchedule(ctx, id)
		if err != nil {
			return err
		}
		if s.Status != models.ScheduleStatusPending {
			return apperr.InvalidState("schedule %s is %s", id, s.Status)
		}
		r := strings.TrimSpace(reason)
		s.Status = models.ScheduleStatusCanceled
		s.CancelReason = &r
		s.UpdatedAt = e.clock.Now().Unix()
		if err := e.store.UpdateSchedule(ctx, s); err != nil {
			return err
		}
		schedule = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel schedule: %w", err)
	}

	log.Printf("🚫 Schedule %s canceled", schedule.ID)
	return schedule, nil
}

func (e *Engine) formatDate(unix int64) string {
	return time.Unix(unix, 0).In(e.loc).Format("2006-01-02")
}

func (e *Engine) notifyAssigned(ctx context.Context, s *models.Schedule) {
	window := ""
	if s.WindowStart != "" {
		window = fmt.Sprintf(" between %s and %s", s.WindowStart, s.WindowEnd)
	}
	notify.Send(ctx, e.notifier, notify.Request{
		RecipientID: s.CollectorID,
		Type:        models.NotifyScheduleAssigned,
		Title:       "New pickup assigned",
		Message:     fmt.Sprintf("Pickup on %s%s", e.formatDate(s.ScheduledDate), window),
		Priority:    models.NotificationNormal,
		Related:     models.EntityRef("schedule", s.ID),
	})
}

func (e *Engine) notifyMissed(ctx context.Context, s *models.Schedule) {
	log.Printf("⏰ Schedule %s for bin %s missed", s.ID, s.BinID)
	notify.Send(ctx, e.notifier, notify.Request{
		RecipientID: s.CollectorID,
		Type:        models.NotifyScheduleMissed,
		Title:       "Pickup missed",
		Message:     fmt.Sprintf("The pickup scheduled for %s was missed", e.formatDate(s.ScheduledDate)),
		Priority:    models.NotificationHigh,
		Related:     models.EntityRef("schedule", s.ID),
	})
}
