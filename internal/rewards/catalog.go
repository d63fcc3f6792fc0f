package rewards

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"cleancity-backend/internal/apperr"
	"cleancity-backend/internal/models"
	"cleancity-backend/internal/notify"
	"cleancity-backend/internal/store"
)

// ItemInput describes a catalogue entry. A nil Quantity means unlimited.
type ItemInput struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	PointsCost  int    `json:"points_cost" yaml:"points_cost"`
	ValidUntil  *int64 `json:"valid_until,omitempty" yaml:"valid_until,omitempty"`
	Quantity    *int   `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	Inactive    bool   `json:"inactive,omitempty" yaml:"inactive,omitempty"`
}

func (l *Ledger) CreateItem(ctx context.Context, in ItemInput) (*models.RewardItem, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("reward item name is required")
	}
	if in.PointsCost <= 0 {
		return nil, apperr.Validation("points cost must be positive")
	}
	quantity := models.UnlimitedQuantity
	if in.Quantity != nil {
		if *in.Quantity < 0 {
			return nil, apperr.Validation("quantity must not be negative")
		}
		quantity = *in.Quantity
	}

	now := l.clock.Now().Unix()
	item := &models.RewardItem{
		ID:                uuid.New().String(),
		Slug:              slug.Make(name),
		Name:              name,
		Description:       in.Description,
		PointsCost:        in.PointsCost,
		Active:            !in.Inactive,
		ValidUntil:        in.ValidUntil,
		RemainingQuantity: quantity,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if _, err := l.store.GetRewardItemBySlug(ctx, item.Slug); err == nil {
		return nil, apperr.InvalidState("reward item %q already exists", item.Slug)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	if err := l.store.CreateRewardItem(ctx, item); err != nil {
		return nil, err
	}
	log.Printf("✅ Created reward item %s (%d points)", item.Slug, item.PointsCost)
	return item, nil
}

// GetItem looks an item up by id, falling back to its slug
func (l *Ledger) GetItem(ctx context.Context, ref string) (*models.RewardItem, error) {
	return getItem(ctx, l.store, ref)
}

func getItem(ctx context.Context, st store.RewardRepository, ref string) (*models.RewardItem, error) {
	item, err := st.GetRewardItem(ctx, ref)
	if err == nil || !errors.Is(err, apperr.ErrNotFound) {
		return item, err
	}
	return st.GetRewardItemBySlug(ctx, ref)
}

func (l *Ledger) ListItems(ctx context.Context, activeOnly bool) ([]models.RewardItem, error) {
	return l.store.ListRewardItems(ctx, activeOnly)
}

func (l *Ledger) SetItemActive(ctx context.Context, ref string, active bool) (*models.RewardItem, error) {
	item, err := l.GetItem(ctx, ref)
	if err != nil {
		return nil, err
	}
	item.Active = active
	item.UpdatedAt = l.clock.Now().Unix()
	if err := l.store.UpdateRewardItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

type RedeemResult struct {
	Code            string             `json:"code"`
	RemainingPoints int                `json:"remaining_points"`
	Redemption      *models.Redemption `json:"redemption"`
}

// Redeem spends points on a catalogue item. Stock, balance, redemption record
// and the negative ledger entry are written in one unit of work.
func (l *Ledger) Redeem(ctx context.Context, userID, itemRef string) (*RedeemResult, error) {
	var result *RedeemResult
	var itemName string

	err := l.store.InTx(ctx, func(tx store.Store) error {
		item, err := getItem(ctx, tx, itemRef)
		if err != nil {
			return err
		}
		itemName = item.Name

		now := l.clock.Now().Unix()
		switch {
		case !item.Active:
			return apperr.Precondition("reward item %s is not active", item.Slug)
		case item.ValidUntil != nil && *item.ValidUntil < now:
			return apperr.Precondition("reward item %s has expired", item.Slug)
		case item.RemainingQuantity == 0:
			return apperr.Precondition("reward item %s is out of stock", item.Slug)
		}

		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.RewardPoints < item.PointsCost {
			return apperr.Precondition("insufficient reward balance: have %d, need %d", user.RewardPoints, item.PointsCost)
		}

		// guarded writes: a racing redemption fails here rather than overselling
		if err := tx.DecrementItemStock(ctx, item.ID); err != nil {
			return err
		}

		code, err := freeRedemptionCode(ctx, tx)
		if err != nil {
			return err
		}
		redemption := &models.Redemption{
			ID:          uuid.New().String(),
			UserID:      userID,
			ItemID:      item.ID,
			Code:        code,
			PointsSpent: item.PointsCost,
			Status:      models.RedemptionIssued,
			CreatedAt:   now,
		}
		if err := tx.CreateRedemption(ctx, redemption); err != nil {
			return err
		}

		txn, err := l.apply(ctx, tx, userID, -item.PointsCost, models.TransactionRedeemed, models.SourceRedemption, redemption.ID, "Redeemed "+item.Name)
		if err != nil {
			return err
		}

		result = &RedeemResult{Code: redemption.Code, RemainingPoints: txn.Balance, Redemption: redemption}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to redeem %s: %w", itemRef, err)
	}

	log.Printf("🎟️  %s redeemed %s, code %s, balance %d", userID, itemName, result.Code, result.RemainingPoints)
	notify.Send(ctx, l.notifier, notify.Request{
		RecipientID: userID,
		Type:        models.NotifyRewardRedeemed,
		Title:       "Reward redeemed",
		Message:     fmt.Sprintf("Your code for %s is %s", itemName, result.Code),
		Priority:    models.NotificationNormal,
		Related:     models.EntityRef("redemption", result.Redemption.ID),
	})
	return result, nil
}

func (l *Ledger) Redemptions(ctx context.Context, userID string) ([]models.Redemption, error) {
	return l.store.ListRedemptions(ctx, userID)
}
