// Package store is the persistence port consumed by the lifecycle engines.
//
// Adapters live in internal/database (sqlx, postgres or sqlite) and
// internal/store/memstore (in-memory). Updates on versioned entities succeed
// only when the caller's Version matches the stored one; on success the
// entity's Version is bumped in place, otherwise apperr.ErrConflict is returned.
package store

import (
	"context"

	"cleancity-backend/internal/models"
)

// BinFilter narrows ListBins. Zero values mean "any".
type BinFilter struct {
	Status        models.BinStatus
	WasteCategory models.WasteCategory
	ReportedBy    string
	MinFillLevel  int
}

type ScheduleFilter struct {
	BinID       string
	CollectorID string
	Status      models.ScheduleStatus
	From        *int64 // scheduled_date >= From
	To          *int64 // scheduled_date < To
}

type RouteFilter struct {
	CollectorID string
	Status      models.RouteStatus
}

type BinRepository interface {
	GetBin(ctx context.Context, id string) (*models.Bin, error)
	ListBins(ctx context.Context, f BinFilter) ([]models.Bin, error)
	CreateBin(ctx context.Context, b *models.Bin) error
	UpdateBin(ctx context.Context, b *models.Bin) error
	DeleteBin(ctx context.Context, id string) error
}

type ScheduleRepository interface {
	GetSchedule(ctx context.Context, id string) (*models.Schedule, error)
	ListSchedules(ctx context.Context, f ScheduleFilter) ([]models.Schedule, error)
	CreateSchedule(ctx context.Context, s *models.Schedule) error
	UpdateSchedule(ctx context.Context, s *models.Schedule) error
}

type RouteRepository interface {
	// GetRoute loads the route with its stops ordered by sequence
	GetRoute(ctx context.Context, id string) (*models.Route, error)
	ListRoutes(ctx context.Context, f RouteFilter) ([]models.Route, error)
	CreateRoute(ctx context.Context, r *models.Route) error
	// UpdateRoute writes the versioned route row and every stop
	UpdateRoute(ctx context.Context, r *models.Route) error
	AddRouteHistory(ctx context.Context, e *models.RouteHistoryEntry) error
	ListRouteHistory(ctx context.Context, routeID string) ([]models.RouteHistoryEntry, error)
}

type UserRepository interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, role string) ([]models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	// UpdateUser writes profile and streak fields; reward_points is left alone
	UpdateUser(ctx context.Context, u *models.User) error
	// AddRewardPoints atomically applies delta to the balance and returns the new
	// balance. A delta that would take the balance below zero fails with
	// apperr.ErrPrecondition and changes nothing.
	AddRewardPoints(ctx context.Context, userID string, delta int) (int, error)
}

type RewardRepository interface {
	CreateRewardTransaction(ctx context.Context, t *models.RewardTransaction) error
	// ListRewardTransactions returns a user's ledger in creation order
	ListRewardTransactions(ctx context.Context, userID string) ([]models.RewardTransaction, error)

	GetRewardItem(ctx context.Context, id string) (*models.RewardItem, error)
	GetRewardItemBySlug(ctx context.Context, slug string) (*models.RewardItem, error)
	ListRewardItems(ctx context.Context, activeOnly bool) ([]models.RewardItem, error)
	CreateRewardItem(ctx context.Context, item *models.RewardItem) error
	UpdateRewardItem(ctx context.Context, item *models.RewardItem) error
	// DecrementItemStock takes one unit if any remain. Unlimited items are
	// left untouched. Fails with apperr.ErrPrecondition when out of stock.
	DecrementItemStock(ctx context.Context, itemID string) error

	// CreateRedemption fails with apperr.ErrInvalidState when the code is already issued
	CreateRedemption(ctx context.Context, r *models.Redemption) error
	RedemptionCodeExists(ctx context.Context, code string) (bool, error)
	ListRedemptions(ctx context.Context, userID string) ([]models.Redemption, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	// FindRecentNotification returns the newest matching notification created at
	// or after since, or apperr.ErrNotFound
	FindRecentNotification(ctx context.Context, recipientID, notifType, related string, since int64) (*models.Notification, error)
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id, recipientID string) error

	UpsertDeviceToken(ctx context.Context, t *models.DeviceToken) error
	ListDeviceTokens(ctx context.Context, userID string) ([]models.DeviceToken, error)
}

// Store groups every repository plus a unit of work.
type Store interface {
	BinRepository
	ScheduleRepository
	RouteRepository
	UserRepository
	RewardRepository
	NotificationRepository

	// InTx runs fn against a transactional view of the store. The unit commits
	// when fn returns nil and rolls back otherwise. Calling InTx on the view
	// passed to fn joins the outer unit.
	InTx(ctx context.Context, fn func(tx Store) error) error
}
