package models

import "time"

// Notification priorities
const (
	NotificationLow    = "low"
	NotificationNormal = "normal"
	NotificationHigh   = "high"
)

// Notification types emitted by the lifecycle engines
const (
	NotifyBinOverflow         = "bin_overflow"
	NotifyBinCollected        = "bin_collected"
	NotifyScheduleAssigned    = "schedule_assigned"
	NotifyScheduleMissed      = "schedule_missed"
	NotifyScheduleRescheduled = "schedule_rescheduled"
	NotifyRouteAssigned       = "route_assigned"
	NotifyStreakBonus         = "streak_bonus"
	NotifyRewardRedeemed      = "reward_redeemed"
)

// Notification is a user-facing alert (from notifications table)
type Notification struct {
	ID            string `json:"id" db:"id"`
	RecipientID   string `json:"recipient_id" db:"recipient_id"`
	Type          string `json:"type" db:"type"`
	Title         string `json:"title" db:"title"`
	Message       string `json:"message" db:"message"`
	Priority      string `json:"priority" db:"priority"`
	RelatedEntity string `json:"related_entity" db:"related_entity"` // "kind:id"
	Read          bool   `json:"read" db:"is_read"`
	CreatedAt     int64  `json:"created_at" db:"created_at"`
}

// CreatedAtIso formats the creation time for clients
func (n *Notification) CreatedAtIso() string {
	return time.Unix(n.CreatedAt, 0).UTC().Format(time.RFC3339)
}

// EntityRef builds the "kind:id" reference stored on notifications
func EntityRef(kind, id string) string {
	if id == "" {
		return ""
	}
	return kind + ":" + id
}

// DeviceToken represents a Firebase Cloud Messaging token for a user
type DeviceToken struct {
	UserID     string `json:"user_id" db:"user_id"`
	Token      string `json:"token" db:"token"`
	DeviceType string `json:"device_type" db:"device_type"` // "ios" or "android"
	CreatedAt  int64  `json:"created_at" db:"created_at"`
	UpdatedAt  int64  `json:"updated_at" db:"updated_at"`
}
