package models

// TransactionType classifies a ledger entry
type TransactionType string

const (
	TransactionEarned   TransactionType = "earned"
	TransactionRedeemed TransactionType = "redeemed"
	TransactionExpired  TransactionType = "expired"
	TransactionAdjusted TransactionType = "adjusted"
)

// SourceType is what caused a ledger entry
type SourceType string

const (
	SourceReport      SourceType = "report"
	SourceCollection  SourceType = "collection"
	SourceStreakBonus SourceType = "streak_bonus"
	SourceRedemption  SourceType = "redemption"
	SourceAdmin       SourceType = "admin"
)

// RewardTransaction is one immutable entry in a user's points ledger.
// Balance is the user's running total right after this entry was applied.
type RewardTransaction struct {
	ID          string          `json:"id" db:"id"`
	Seq         int64           `json:"-" db:"seq"`
	UserID      string          `json:"user_id" db:"user_id"`
	Points      int             `json:"points" db:"points"`
	Type        TransactionType `json:"type" db:"type"`
	SourceType  SourceType      `json:"source_type" db:"source_type"`
	SourceRef   string          `json:"source_ref" db:"source_ref"`
	Description string          `json:"description" db:"description"`
	Balance     int             `json:"balance" db:"balance"`
	ExpiresAt   *int64          `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt   int64           `json:"created_at" db:"created_at"`
}

// RewardItem is something users can spend points on
type RewardItem struct {
	ID                string `json:"id" db:"id"`
	Slug              string `json:"slug" db:"slug"`
	Name              string `json:"name" db:"name"`
	Description       string `json:"description" db:"description"`
	PointsCost        int    `json:"points_cost" db:"points_cost"`
	Active            bool   `json:"active" db:"active"`
	ValidUntil        *int64 `json:"valid_until,omitempty" db:"valid_until"`
	RemainingQuantity int    `json:"remaining_quantity" db:"remaining_quantity"` // -1 = unlimited
	CreatedAt         int64  `json:"created_at" db:"created_at"`
	UpdatedAt         int64  `json:"updated_at" db:"updated_at"`
}

// UnlimitedQuantity marks a reward item that never runs out
const UnlimitedQuantity = -1

// RedemptionStatus tracks an issued redemption code
type RedemptionStatus string

const (
	RedemptionIssued   RedemptionStatus = "issued"
	RedemptionUsed     RedemptionStatus = "used"
	RedemptionCanceled RedemptionStatus = "canceled"
)

// Redemption records a reward item claimed by a user
type Redemption struct {
	ID          string           `json:"id" db:"id"`
	UserID      string           `json:"user_id" db:"user_id"`
	ItemID      string           `json:"item_id" db:"item_id"`
	Code        string           `json:"code" db:"code"`
	PointsSpent int              `json:"points_spent" db:"points_spent"`
	Status      RedemptionStatus `json:"status" db:"status"`
	CreatedAt   int64            `json:"created_at" db:"created_at"`
}
