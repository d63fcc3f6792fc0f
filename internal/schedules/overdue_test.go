package schedules

import (
	"testing"
	"time"

	"cleancity-backend/internal/models"
)

func TestReviewOverdue(t *testing.T) {
	due := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		after        time.Duration
		wantStatus   models.ScheduleStatus
		wantPriority int
		wantChanged  bool
	}{
		{"before due", -time.Hour, models.ScheduleStatusPending, 4, false},
		{"1h late", time.Hour, models.ScheduleStatusPending, 4, false},
		{"exactly 2h late", 2 * time.Hour, models.ScheduleStatusPending, 4, false},
		{"3h late", 3 * time.Hour, models.ScheduleStatusPending, 5, true},
		{"10h late", 10 * time.Hour, models.ScheduleStatusPending, 9, true},
		{"20h late", 20 * time.Hour, models.ScheduleStatusPending, 10, true},
		{"exactly 24h late", 24 * time.Hour, models.ScheduleStatusPending, 10, true},
		{"25h late", 25 * time.Hour, models.ScheduleStatusMissed, 4, true},
		{"2 days late", 48 * time.Hour, models.ScheduleStatusMissed, 4, true},
	}
	for _, tt := range tests {
		s := &models.Schedule{
			Status:        models.ScheduleStatusPending,
			ScheduledDate: due.Unix(),
			BasePriority:  4,
			Priority:      4,
		}
		changed := ReviewOverdue(s, due.Add(tt.after))
		if changed != tt.wantChanged {
			t.Fatalf("%s: changed = %v, want %v", tt.name, changed, tt.wantChanged)
		}
		if s.Status != tt.wantStatus {
			t.Fatalf("%s: status = %s, want %s", tt.name, s.Status, tt.wantStatus)
		}
		if s.Priority != tt.wantPriority {
			t.Fatalf("%s: priority = %d, want %d", tt.name, s.Priority, tt.wantPriority)
		}
	}
}

func TestReviewOverdueIsIdempotent(t *testing.T) {
	due := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	s := &models.Schedule{Status: models.ScheduleStatusPending, ScheduledDate: due.Unix(), BasePriority: 2, Priority: 2}

	now := due.Add(5 * time.Hour)
	ReviewOverdue(s, now)
	if s.Priority != 4 {
		t.Fatalf("Priority = %d, want 4", s.Priority)
	}
	if ReviewOverdue(s, now) {
		t.Fatalf("second review at the same instant reported a change")
	}
	if s.Priority != 4 {
		t.Fatalf("Priority after second review = %d, want 4", s.Priority)
	}
}

func TestReviewOverdueIgnoresTerminal(t *testing.T) {
	due := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	for _, status := range []models.ScheduleStatus{
		models.ScheduleStatusCompleted,
		models.ScheduleStatusMissed,
		models.ScheduleStatusRescheduled,
		models.ScheduleStatusCanceled,
	} {
		s := &models.Schedule{Status: status, ScheduledDate: due.Unix(), BasePriority: 1, Priority: 1}
		if ReviewOverdue(s, due.Add(72*time.Hour)) {
			t.Fatalf("ReviewOverdue changed a %s schedule", status)
		}
	}
}

func TestNextDate(t *testing.T) {
	base := time.Date(2025, time.January, 31, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		recurrence models.Recurrence
		want       time.Time
		ok         bool
	}{
		{models.RecurrenceNone, time.Time{}, false},
		{models.RecurrenceDaily, time.Date(2025, time.February, 1, 9, 0, 0, 0, time.UTC), true},
		{models.RecurrenceWeekly, time.Date(2025, time.February, 7, 9, 0, 0, 0, time.UTC), true},
		{models.RecurrenceBiweekly, time.Date(2025, time.February, 14, 9, 0, 0, 0, time.UTC), true},
		// Feb 31 normalizes to Mar 3
		{models.RecurrenceMonthly, time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		got, ok := NextDate(base.Unix(), tt.recurrence, time.UTC)
		if ok != tt.ok {
			t.Fatalf("NextDate(%s) ok = %v, want %v", tt.recurrence, ok, tt.ok)
		}
		if ok && got != tt.want.Unix() {
			t.Fatalf("NextDate(%s) = %s, want %s", tt.recurrence, time.Unix(got, 0).UTC(), tt.want)
		}
	}
}

func TestNextDateKeepsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	base := time.Date(2025, time.March, 8, 9, 0, 0, 0, loc)
	got, _ := NextDate(base.Unix(), models.RecurrenceWeekly, loc)
	want := time.Date(2025, time.March, 15, 9, 0, 0, 0, loc)
	if got != want.Unix() {
		t.Fatalf("NextDate across DST = %s, want %s", time.Unix(got, 0).In(loc), want)
	}
}
