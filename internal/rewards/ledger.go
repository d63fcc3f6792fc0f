// Package rewards is the append-only points ledger. Every balance change goes
// through here and leaves exactly one RewardTransaction whose Balance is the
// user's total right after the change.
package rewards

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"cleancity-backend/internal/apperr"
	"cleancity-backend/internal/models"
	"cleancity-backend/internal/notify"
	"cleancity-backend/internal/store"
)

// Streak bonuses
const (
	WeeklyStreakBonus  = 20  // every 7th consecutive day
	MonthlyStreakBonus = 100 // every 30th consecutive day
)

// codeLength is the length of redemption codes handed to residents
const codeLength = 10

type Ledger struct {
	store    store.Store
	notifier notify.Notifier
	clock    clockwork.Clock
	loc      *time.Location // calendar used for streak days
}

func NewLedger(st store.Store, notifier notify.Notifier, clock clockwork.Clock, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{store: st, notifier: notifier, clock: clock, loc: loc}
}

// Grant credits points to a user and records an earned transaction
func (l *Ledger) Grant(ctx context.Context, userID string, points int, source models.SourceType, sourceRef, description string) (*models.RewardTransaction, error) {
	if points <= 0 {
		return nil, apperr.Validation("grant of %d points must be positive", points)
	}

	var txn *models.RewardTransaction
	err := l.store.InTx(ctx, func(tx store.Store) error {
		var err error
		txn, err = l.apply(ctx, tx, userID, points, models.TransactionEarned, source, sourceRef, description)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to grant points: %w", err)
	}

	log.Printf("🎁 Granted %d points to %s (%s), balance %d", points, userID, source, txn.Balance)
	return txn, nil
}

// Adjust is an admin correction in either direction. The balance never goes below zero.
func (l *Ledger) Adjust(ctx context.Context, userID string, delta int, reason string) (*models.RewardTransaction, error) {
	if delta == 0 {
		return nil, apperr.Validation("adjustment must not be zero")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("adjustment needs a reason")
	}

	var txn *models.RewardTransaction
	err := l.store.InTx(ctx, func(tx store.Store) error {
		var err error
		txn, err = l.apply(ctx, tx, userID, delta, models.TransactionAdjusted, models.SourceAdmin, "", reason)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to adjust points: %w", err)
	}
	return txn, nil
}

// apply moves the balance and appends the matching transaction. It must run
// inside a unit of work so both land or neither does.
func (l *Ledger) apply(ctx context.Context, tx store.Store, userID string, delta int, typ models.TransactionType, source models.SourceType, sourceRef, description string) (*models.RewardTransaction, error) {
	balance, err := tx.AddRewardPoints(ctx, userID, delta)
	if err != nil {
		return nil, err
	}

	txn := &models.RewardTransaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Points:      delta,
		Type:        typ,
		SourceType:  source,
		SourceRef:   sourceRef,
		Description: description,
		Balance:     balance,
		CreatedAt:   l.clock.Now().Unix(),
	}
	if err := tx.CreateRewardTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.RewardPoints, nil
}

// History returns the user's transactions in creation order
func (l *Ledger) History(ctx context.Context, userID string) ([]models.RewardTransaction, error) {
	if _, err := l.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return l.store.ListRewardTransactions(ctx, userID)
}

type Reconciliation struct {
	UserID       string `json:"user_id"`
	Balance      int    `json:"balance"`
	LedgerSum    int    `json:"ledger_sum"`
	LastSnapshot int    `json:"last_snapshot"`
	Transactions int    `json:"transactions"`
	Consistent   bool   `json:"consistent"`
}

// Reconcile replays the ledger and compares it with the stored balance
func (l *Ledger) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	var rec *Reconciliation
	err := l.store.InTx(ctx, func(tx store.Store) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		txns, err := tx.ListRewardTransactions(ctx, userID)
		if err != nil {
			return err
		}

		rec = &Reconciliation{UserID: userID, Balance: user.RewardPoints, Transactions: len(txns), Consistent: true}
		running := 0
		for _, t := range txns {
			running += t.Points
			if t.Balance != running {
				rec.Consistent = false
			}
		}
		rec.LedgerSum = running
		if len(txns) > 0 {
			rec.LastSnapshot = txns[len(txns)-1].Balance
		}
		if rec.LedgerSum != rec.Balance || rec.LastSnapshot != rec.Balance {
			rec.Consistent = false
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !rec.Consistent {
		log.Printf("❌ Ledger mismatch for %s: balance=%d sum=%d snapshot=%d", userID, rec.Balance, rec.LedgerSum, rec.LastSnapshot)
	}
	return rec, nil
}

// maxCodeAttempts bounds how many fresh codes Redeem draws before giving up
const maxCodeAttempts = 5

// redemptionCode is swapped in tests to force collisions
var redemptionCode = newRedemptionCode

// newRedemptionCode derives a short upper-case alphanumeric code from a uuid
func newRedemptionCode() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return strings.ToUpper(raw[:codeLength])
}

// freeRedemptionCode draws codes until one is not yet issued
func freeRedemptionCode(ctx context.Context, tx store.Store) (string, error) {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code := redemptionCode()
		taken, err := tx.RedemptionCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
		log.Printf("⚠️  Redemption code collision on attempt %d, drawing another", attempt)
	}
	return "", apperr.InvalidState("no unused redemption code after %d attempts", maxCodeAttempts)
}
