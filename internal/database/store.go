package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"cleancity-backend/internal/apperr"
	"cleancity-backend/internal/models"
	"cleancity-backend/internal/store"
)

// Store implements store.Store on top of sqlx. Queries are written with ?
// placeholders and rebound for the connected driver, so the same code runs
// against postgres in production and sqlite in tests.
type Store struct {
	db *sqlx.DB
	q  sqlx.ExtContext // *sqlx.DB, or *sqlx.Tx inside InTx
}

var _ store.Store = (*Store)(nil)

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	if _, ok := s.q.(*sqlx.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, s.q, dest, s.q.Rebind(query), args...)
}

func (s *Store) sel(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, s.q, dest, s.q.Rebind(query), args...)
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.q.Rebind(query), args...)
}

// execVersioned runs a guarded UPDATE and tells a vanished row apart from a stale version
func (s *Store) execVersioned(ctx context.Context, table, kind, id string, query string, args ...interface{}) error {
	result, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = s.get(ctx, &exists, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", kind, err)
	}
	if exists == 0 {
		return apperr.NotFound(kind, id)
	}
	return apperr.ErrConflict
}

// isUniqueViolation recognises a unique constraint failure from postgres or sqlite
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(kind, id)
	}
	return fmt.Errorf("failed to get %s: %w", kind, err)
}

// ==================== BINS ====================

const binColumns = `id, address, latitude, longitude, fill_level, waste_category, capacity, status,
	priority, last_collected, reported_by, reward_assigned, created_at, updated_at, version`

func (s *Store) GetBin(ctx context.Context, id string) (*models.Bin, error) {
	var bin models.Bin
	if err := s.get(ctx, &bin, "SELECT "+binColumns+" FROM bins WHERE id = ?", id); err != nil {
		return nil, notFound(err, "bin", id)
	}
	return &bin, nil
}

func (s *Store) ListBins(ctx context.Context, f store.BinFilter) ([]models.Bin, error) {
	query := "SELECT " + binColumns + " FROM bins WHERE fill_level >= ?"
	args := []interface{}{f.MinFillLevel}

	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.WasteCategory != "" {
		query += " AND waste_category = ?"
		args = append(args, f.WasteCategory)
	}
	if f.ReportedBy != "" {
		query += " AND reported_by = ?"
		args = append(args, f.ReportedBy)
	}
	query += " ORDER BY created_at ASC, id ASC"

	bins := []models.Bin{}
	if err := s.sel(ctx, &bins, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list bins: %w", err)
	}
	return bins, nil
}

func (s *Store) CreateBin(ctx context.Context, b *models.Bin) error {
	b.Version = 1
	_, err := s.exec(ctx, `
		INSERT INTO bins (`+binColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Address, b.Latitude, b.Longitude, b.FillLevel, b.WasteCategory, b.Capacity, b.Status,
		b.Priority, b.LastCollected, b.ReportedBy, b.RewardAssigned, b.CreatedAt, b.UpdatedAt, b.Version)
	if err != nil {
		return fmt.Errorf("failed to create bin: %w", err)
	}
	return nil
}

func (s *Store) UpdateBin(ctx context.Context, b *models.Bin) error {
	err := s.execVersioned(ctx, "bins", "bin", b.ID, `
		UPDATE bins
		SET address = ?, latitude = ?, longitude = ?, fill_level = ?, waste_category = ?, capacity = ?,
			status = ?, priority = ?, last_collected = ?, reported_by = ?, reward_assigned = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		b.Address, b.Latitude, b.Longitude, b.FillLevel, b.WasteCategory, b.Capacity,
		b.Status, b.Priority, b.LastCollected, b.ReportedBy, b.RewardAssigned,
		b.UpdatedAt, b.ID, b.Version)
	if err != nil {
		return err
	}
	b.Version++
	return nil
}

func (s *Store) DeleteBin(ctx context.Context, id string) error {
	result, err := s.exec(ctx, "DELETE FROM bins WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete bin: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NotFound("bin", id)
	}
	return nil
}

// ==================== SCHEDULES ====================

const scheduleColumns = `id, bin_id, collector_id, scheduled_date, window_start, window_end, status,
	base_priority, priority, recurrence, recurrence_end_date, notes, previous_schedule_id,
	completed_at, actual_fill_level, duration_minutes, cancel_reason, created_at, updated_at, version`

func (s *Store) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	var sc models.Schedule
	if err := s.get(ctx, &sc, "SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id); err != nil {
		return nil, notFound(err, "schedule", id)
	}
	return &sc, nil
}

func (s *Store) ListSchedules(ctx context.Context, f store.ScheduleFilter) ([]models.Schedule, error) {
	query := "SELECT " + scheduleColumns + " FROM schedules WHERE 1 = 1"
	args := []interface{}{}

	if f.BinID != "" {
		query += " AND bin_id = ?"
		args = append(args, f.BinID)
	}
	if f.CollectorID != "" {
		query += " AND collector_id = ?"
		args = append(args, f.CollectorID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.From != nil {
		query += " AND scheduled_date >= ?"
		args = append(args, *f.From)
	}
	if f.To != nil {
		query += " AND scheduled_date < ?"
		args = append(args, *f.To)
	}
	query += " ORDER BY scheduled_date ASC, id ASC"

	schedules := []models.Schedule{}
	if err := s.sel(ctx, &schedules, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

func (s *Store) CreateSchedule(ctx context.Context, sc *models.Schedule) error {
	sc.Version = 1
	_, err := s.exec(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.BinID, sc.CollectorID, sc.ScheduledDate, sc.WindowStart, sc.WindowEnd, sc.Status,
		sc.BasePriority, sc.Priority, sc.Recurrence, sc.RecurrenceEndDate, sc.Notes, sc.PreviousScheduleID,
		sc.CompletedAt, sc.ActualFillLevel, sc.DurationMinutes, sc.CancelReason, sc.CreatedAt, sc.UpdatedAt, sc.Version)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sc *models.Schedule) error {
	err := s.execVersioned(ctx, "schedules", "schedule", sc.ID, `
		UPDATE schedules
		SET collector_id = ?, scheduled_date = ?, window_start = ?, window_end = ?, status = ?,
			base_priority = ?, priority = ?, recurrence = ?, recurrence_end_date = ?, notes = ?,
			completed_at = ?, actual_fill_level = ?, duration_minutes = ?, cancel_reason = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		sc.CollectorID, sc.ScheduledDate, sc.WindowStart, sc.WindowEnd, sc.Status,
		sc.BasePriority, sc.Priority, sc.Recurrence, sc.RecurrenceEndDate, sc.Notes,
		sc.CompletedAt, sc.ActualFillLevel, sc.DurationMinutes, sc.CancelReason,
		sc.UpdatedAt, sc.ID, sc.Version)
	if err != nil {
		return err
	}
	sc.Version++
	return nil
}

// ==================== ROUTES ====================

const routeColumns = `id, name, collector_id, status, actual_start_time, actual_end_time,
	current_capacity_used, vehicle_capacity, completion_rate, notes, created_at, updated_at, version`

const stopColumns = `id, route_id, bin_id, sequence_order, estimated_minutes, collected, collected_at, waste_weight`

func (s *Store) loadStops(ctx context.Context, r *models.Route) error {
	stops := []models.RouteStop{}
	err := s.sel(ctx, &stops, "SELECT "+stopColumns+" FROM route_stops WHERE route_id = ? ORDER BY sequence_order ASC", r.ID)
	if err != nil {
		return fmt.Errorf("failed to load route stops: %w", err)
	}
	r.Stops = stops
	return nil
}

func (s *Store) GetRoute(ctx context.Context, id string) (*models.Route, error) {
	var r models.Route
	if err := s.get(ctx, &r, "SELECT "+routeColumns+" FROM routes WHERE id = ?", id); err != nil {
		return nil, notFound(err, "route", id)
	}
	if err := s.loadStops(ctx, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRoutes(ctx context.Context, f store.RouteFilter) ([]models.Route, error) {
	query := "SELECT " + routeColumns + " FROM routes WHERE 1 = 1"
	args := []interface{}{}

	if f.CollectorID != "" {
		query += " AND collector_id = ?"
		args = append(args, f.CollectorID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	query += " ORDER BY created_at DESC, id ASC"

	routes := []models.Route{}
	if err := s.sel(ctx, &routes, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	for i := range routes {
		if err := s.loadStops(ctx, &routes[i]); err != nil {
			return nil, err
		}
	}
	return routes, nil
}

func (s *Store) CreateRoute(ctx context.Context, r *models.Route) error {
	return s.InTx(ctx, func(txStore store.Store) error {
		tx := txStore.(*Store)
		r.Version = 1
		_, err := tx.exec(ctx, `
			INSERT INTO routes (`+routeColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Name, r.CollectorID, r.Status, r.ActualStartTime, r.ActualEndTime,
			r.CurrentCapacityUsed, r.VehicleCapacity, r.CompletionRate, r.Notes, r.CreatedAt, r.UpdatedAt, r.Version)
		if err != nil {
			return fmt.Errorf("failed to create route: %w", err)
		}

		for _, stop := range r.Stops {
			_, err := tx.exec(ctx, `
				INSERT INTO route_stops (`+stopColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				stop.ID, r.ID, stop.BinID, stop.SequenceOrder, stop.EstimatedMinutes,
				stop.Collected, stop.CollectedAt, stop.WasteWeight)
			if err != nil {
				return fmt.Errorf("failed to create route stop: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) UpdateRoute(ctx context.Context, r *models.Route) error {
	err := s.InTx(ctx, func(txStore store.Store) error {
		tx := txStore.(*Store)
		err := tx.execVersioned(ctx, "routes", "route", r.ID, `
			UPDATE routes
			SET name = ?, collector_id = ?, status = ?, actual_start_time = ?, actual_end_time = ?,
				current_capacity_used = ?, vehicle_capacity = ?, completion_rate = ?, notes = ?,
				updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			r.Name, r.CollectorID, r.Status, r.ActualStartTime, r.ActualEndTime,
			r.CurrentCapacityUsed, r.VehicleCapacity, r.CompletionRate, r.Notes,
			r.UpdatedAt, r.ID, r.Version)
		if err != nil {
			return err
		}

		for _, stop := range r.Stops {
			_, err := tx.exec(ctx, `
				UPDATE route_stops
				SET sequence_order = ?, estimated_minutes = ?, collected = ?, collected_at = ?, waste_weight = ?
				WHERE id = ? AND route_id = ?`,
				stop.SequenceOrder, stop.EstimatedMinutes, stop.Collected, stop.CollectedAt, stop.WasteWeight,
				stop.ID, r.ID)
			if err != nil {
				return fmt.Errorf("failed to update route stop: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.Version++
	return nil
}

func (s *Store) AddRouteHistory(ctx context.Context, e *models.RouteHistoryEntry) error {
	_, err := s.exec(ctx, `
		INSERT INTO route_history (id, route_id, bin_id, action, latitude, longitude, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RouteID, e.BinID, e.Action, e.Latitude, e.Longitude, e.Notes, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add route history: %w", err)
	}
	return nil
}

func (s *Store) ListRouteHistory(ctx context.Context, routeID string) ([]models.RouteHistoryEntry, error) {
	entries := []models.RouteHistoryEntry{}
	err := s.sel(ctx, &entries, `
		SELECT id, route_id, bin_id, action, latitude, longitude, notes, created_at
		FROM route_history
		WHERE route_id = ?
		ORDER BY created_at ASC, id ASC`, routeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list route history: %w", err)
	}
	return entries, nil
}

// ==================== USERS ====================

const userColumns = `id, email, password, name, role, reward_points, streak_count, last_report_date,
	created_at, updated_at, version`

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.get(ctx, &u, "SELECT "+userColumns+" FROM users WHERE id = ?", id); err != nil {
		return nil, notFound(err, "user", id)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.get(ctx, &u, "SELECT "+userColumns+" FROM users WHERE email = ?", email); err != nil {
		return nil, notFound(err, "user", email)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context, role string) ([]models.User, error) {
	query := "SELECT " + userColumns + " FROM users"
	args := []interface{}{}
	if role != "" {
		query += " WHERE role = ?"
		args = append(args, role)
	}
	query += " ORDER BY email ASC"

	users := []models.User{}
	if err := s.sel(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	u.Version = 1
	_, err := s.exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Password, u.Name, u.Role, u.RewardPoints, u.StreakCount, u.LastReportDate,
		u.CreatedAt, u.UpdatedAt, u.Version)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, u *models.User) error {
	err := s.execVersioned(ctx, "users", "user", u.ID, `
		UPDATE users
		SET email = ?, password = ?, name = ?, role = ?, streak_count = ?, last_report_date = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		u.Email, u.Password, u.Name, u.Role, u.StreakCount, u.LastReportDate,
		u.UpdatedAt, u.ID, u.Version)
	if err != nil {
		return err
	}
	u.Version++
	return nil
}

func (s *Store) AddRewardPoints(ctx context.Context, userID string, delta int) (int, error) {
	var balance int
	err := s.get(ctx, &balance, `
		UPDATE users
		SET reward_points = reward_points + ?
		WHERE id = ? AND reward_points + ? >= 0
		RETURNING reward_points`, delta, userID, delta)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to update reward points: %w", err)
	}

	// Nothing updated: either the user is unknown or the balance is too low
	if err := s.get(ctx, &balance, "SELECT reward_points FROM users WHERE id = ?", userID); err != nil {
		return 0, notFound(err, "user", userID)
	}
	return balance, apperr.Precondition("insufficient reward balance: have %d, need %d", balance, -delta)
}

// ==================== REWARDS ====================

const transactionColumns = `seq, id, user_id, points, type, source_type, source_ref, description,
	balance, expires_at, created_at`

func (s *Store) CreateRewardTransaction(ctx context.Context, t *models.RewardTransaction) error {
	err := s.get(ctx, &t.Seq, `
		INSERT INTO reward_transactions (id, user_id, points, type, source_type, source_ref, description, balance, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`,
		t.ID, t.UserID, t.Points, t.Type, t.SourceType, t.SourceRef, t.Description, t.Balance, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reward transaction: %w", err)
	}
	return nil
}

func (s *Store) ListRewardTransactions(ctx context.Context, userID string) ([]models.RewardTransaction, error) {
	txs := []models.RewardTransaction{}
	err := s.sel(ctx, &txs, "SELECT "+transactionColumns+" FROM reward_transactions WHERE user_id = ? ORDER BY seq ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reward transactions: %w", err)
	}
	return txs, nil
}

const itemColumns = `id, slug, name, description, points_cost, active, valid_until, remaining_quantity,
	created_at, updated_at`

func (s *Store) GetRewardItem(ctx context.Context, id string) (*models.RewardItem, error) {
	var item models.RewardItem
	if err := s.get(ctx, &item, "SELECT "+itemColumns+" FROM reward_items WHERE id = ?", id); err != nil {
		return nil, notFound(err, "reward item", id)
	}
	return &item, nil
}

func (s *Store) GetRewardItemBySlug(ctx context.Context, slug string) (*models.RewardItem, error) {
	var item models.RewardItem
	if err := s.get(ctx, &item, "SELECT "+itemColumns+" FROM reward_items WHERE slug = ?", slug); err != nil {
		return nil, notFound(err, "reward item", slug)
	}
	return &item, nil
}

func (s *Store) ListRewardItems(ctx context.Context, activeOnly bool) ([]models.RewardItem, error) {
	query := "SELECT " + itemColumns + " FROM reward_items"
	args := []interface{}{}
	if activeOnly {
		query += " WHERE active = ?"
		args = append(args, true)
	}
	query += " ORDER BY points_cost ASC, slug ASC"

	items := []models.RewardItem{}
	if err := s.sel(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list reward items: %w", err)
	}
	return items, nil
}

func (s *Store) CreateRewardItem(ctx context.Context, item *models.RewardItem) error {
	_, err := s.exec(ctx, `
		INSERT INTO reward_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Slug, item.Name, item.Description, item.PointsCost, item.Active, item.ValidUntil,
		item.RemainingQuantity, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reward item: %w", err)
	}
	return nil
}

func (s *Store) UpdateRewardItem(ctx context.Context, item *models.RewardItem) error {
	result, err := s.exec(ctx, `
		UPDATE reward_items
		SET name = ?, description = ?, points_cost = ?, active = ?, valid_until = ?, remaining_quantity = ?, updated_at = ?
		WHERE id = ?`,
		item.Name, item.Description, item.PointsCost, item.Active, item.ValidUntil, item.RemainingQuantity,
		item.UpdatedAt, item.ID)
	if err != nil {
		return fmt.Errorf("failed to update reward item: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NotFound("reward item", item.ID)
	}
	return nil
}

func (s *Store) DecrementItemStock(ctx context.Context, itemID string) error {
	result, err := s.exec(ctx, `
		UPDATE reward_items
		SET remaining_quantity = remaining_quantity - 1
		WHERE id = ? AND remaining_quantity > 0`, itemID)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}

	item, err := s.GetRewardItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.RemainingQuantity == models.UnlimitedQuantity {
		return nil
	}
	return apperr.Precondition("reward item %s is out of stock", itemID)
}

func (s *Store) CreateRedemption(ctx context.Context, r *models.Redemption) error {
	_, err := s.exec(ctx, `
		INSERT INTO redemptions (id, user_id, item_id, code, points_spent, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.ItemID, r.Code, r.PointsSpent, r.Status, r.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.InvalidState("redemption code %s already issued", r.Code)
	}
	if err != nil {
		return fmt.Errorf("failed to create redemption: %w", err)
	}
	return nil
}

func (s *Store) RedemptionCodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	if err := s.get(ctx, &n, "SELECT COUNT(*) FROM redemptions WHERE code = ?", code); err != nil {
		return false, fmt.Errorf("failed to look up redemption code: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListRedemptions(ctx context.Context, userID string) ([]models.Redemption, error) {
	redemptions := []models.Redemption{}
	err := s.sel(ctx, &redemptions, `
		SELECT id, user_id, item_id, code, points_spent, status, created_at
		FROM redemptions
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list redemptions: %w", err)
	}
	return redemptions, nil
}

// ==================== NOTIFICATIONS ====================

const notificationColumns = `id, recipient_id, type, title, message, priority, related_entity, is_read, created_at`

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.exec(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.RecipientID, n.Type, n.Title, n.Message, n.Priority, n.RelatedEntity, n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (s *Store) FindRecentNotification(ctx context.Context, recipientID, notifType, related string, since int64) (*models.Notification, error) {
	var n models.Notification
	err := s.get(ctx, &n, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id = ? AND type = ? AND related_entity = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 1`, recipientID, notifType, related, since)
	if err != nil {
		return nil, notFound(err, "notification", recipientID+"/"+notifType)
	}
	return &n, nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]models.Notification, error) {
	query := "SELECT " + notificationColumns + " FROM notifications WHERE recipient_id = ?"
	args := []interface{}{recipientID}
	if unreadOnly {
		query += " AND is_read = ?"
		args = append(args, false)
	}
	query += " ORDER BY created_at DESC, id DESC"

	notifications := []models.Notification{}
	if err := s.sel(ctx, &notifications, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, recipientID string) error {
	result, err := s.exec(ctx, "UPDATE notifications SET is_read = ? WHERE id = ? AND recipient_id = ?", true, id, recipientID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NotFound("notification", id)
	}
	return nil
}

func (s *Store) UpsertDeviceToken(ctx context.Context, t *models.DeviceToken) error {
	_, err := s.exec(ctx, `
		INSERT INTO fcm_tokens (user_id, token, device_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (token) DO UPDATE SET
			user_id = excluded.user_id,
			device_type = excluded.device_type,
			updated_at = excluded.updated_at`,
		t.UserID, t.Token, t.DeviceType, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save FCM token: %w", err)
	}
	return nil
}

func (s *Store) ListDeviceTokens(ctx context.Context, userID string) ([]models.DeviceToken, error) {
	tokens := []models.DeviceToken{}
	err := s.sel(ctx, &tokens, `
		SELECT user_id, token, device_type, created_at, updated_at
		FROM fcm_tokens
		WHERE user_id = ?
		ORDER BY token ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list FCM tokens: %w", err)
	}
	return tokens, nil
}
