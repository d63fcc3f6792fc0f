package rewards

import (
	"context"
	"fmt"
	"time"

	"cleancity-backend/internal/models"
	"cleancity-backend/internal/notify"
	"cleancity-backend/internal/store"
)

type StreakResult struct {
	PointsAdded int `json:"points_added"`
	NewStreak   int `json:"new_streak"`
}

// NextStreak evaluates one qualifying report made at now against the previous
// report date. It returns the new streak count and whether it was extended.
//
//   - no previous report: streak starts at 1
//   - previous report on the calendar day before now: streak + 1
//   - more than 48h since the previous report: streak resets to 1
//   - anything else (same day, or under 48h but two calendar days apart): unchanged
func NextStreak(current int, lastReport *int64, now time.Time) (int, bool) {
	if lastReport == nil {
		return 1, false
	}

	last := time.Unix(*lastReport, 0).In(now.Location())
	if sameDay(last, now.AddDate(0, 0, -1)) {
		return current + 1, true
	}
	if now.Sub(last) > 48*time.Hour {
		return 1, false
	}
	return current, false
}

// StreakBonus returns the bonus earned on reaching streak. Weekly and
// monthly bonuses are independent and add up.
func StreakBonus(streak int) int {
	if streak <= 0 {
		return 0
	}
	bonus := 0
	if streak%7 == 0 {
		bonus += WeeklyStreakBonus
	}
	if streak%30 == 0 {
		bonus += MonthlyStreakBonus
	}
	return bonus
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ApplyStreak records a qualifying report for the user, updating the streak
// and last report date and crediting any bonus in the same unit of work.
func (l *Ledger) ApplyStreak(ctx context.Context, userID string) (*StreakResult, error) {
	var result *StreakResult

	err := store.RetryOnConflict(func() error {
		return l.store.InTx(ctx, func(tx store.Store) error {
			user, err := tx.GetUser(ctx, userID)
			if err != nil {
				return err
			}

			now := l.clock.Now().In(l.loc)
			streak, extended := NextStreak(user.StreakCount, user.LastReportDate, now)

			reported := now.Unix()
			user.StreakCount = streak
			user.LastReportDate = &reported
			user.UpdatedAt = reported
			if err := tx.UpdateUser(ctx, user); err != nil {
				return err
			}

			result = &StreakResult{NewStreak: streak}
			if !extended {
				return nil
			}

			bonus := StreakBonus(streak)
			if bonus == 0 {
				return nil
			}
			desc := fmt.Sprintf("%d-day reporting streak", streak)
			if _, err := l.apply(ctx, tx, userID, bonus, models.TransactionEarned, models.SourceStreakBonus, userID, desc); err != nil {
				return err
			}
			result.PointsAdded = bonus
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply streak: %w", err)
	}

	if result.PointsAdded > 0 {
		notify.Send(ctx, l.notifier, notify.Request{
			RecipientID: userID,
			Type:        models.NotifyStreakBonus,
			Title:       "Streak bonus!",
			Message:     fmt.Sprintf("%d days in a row. You earned %d bonus points.", result.NewStreak, result.PointsAdded),
			Priority:    models.NotificationNormal,
			Related:     models.EntityRef("user", userID),
		})
	}
	return result, nil
}
