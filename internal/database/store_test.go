package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"cleancity-backend/internal/apperr"
	"cleancity-backend/internal/models"
	"cleancity-backend/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlx.Open("sqlite3", filepath.Join(t.TempDir(), "cleancity.db")+"?_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return NewStore(db)
}

var now = time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC).Unix()

func seedUser(t *testing.T, st *Store, id string, role string) {
	t.Helper()
	u := &models.User{ID: id, Email: id + "@example.com", Name: id, Role: role, CreatedAt: now, UpdatedAt: now}
	if err := st.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
}

func seedTestBin(t *testing.T, st *Store, id string, fill int) *models.Bin {
	t.Helper()
	b := &models.Bin{
		ID:            id,
		Address:       "1 Test St",
		FillLevel:     fill,
		WasteCategory: models.WasteGeneral,
		Capacity:      240,
		Status:        models.BinStatusPending,
		Priority:      3,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := st.CreateBin(context.Background(), b); err != nil {
		t.Fatalf("CreateBin: %v", err)
	}
	return b
}

func TestMigrateIsRepeatable(t *testing.T) {
	st := newTestStore(t)
	if err := Migrate(st.db); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestBinVersionedUpdate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedTestBin(t, st, "bin-1", 40)

	a, err := st.GetBin(ctx, "bin-1")
	if err != nil {
		t.Fatalf("GetBin: %v", err)
	}
	b, _ := st.GetBin(ctx, "bin-1")

	a.FillLevel = 95
	if err := st.UpdateBin(ctx, a); err != nil {
		t.Fatalf("UpdateBin: %v", err)
	}
	if a.Version != 2 {
		t.Fatalf("Version = %d, want 2", a.Version)
	}

	b.FillLevel = 10
	if err := st.UpdateBin(ctx, b); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("stale UpdateBin err = %v, want ErrConflict", err)
	}

	missing := &models.Bin{ID: "nope", Version: 1}
	if err := st.UpdateBin(ctx, missing); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("UpdateBin(missing) err = %v, want ErrNotFound", err)
	}

	got, _ := st.GetBin(ctx, "bin-1")
	if got.FillLevel != 95 {
		t.Fatalf("FillLevel = %d, want 95", got.FillLevel)
	}
}

func TestListBinsFilter(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedTestBin(t, st, "bin-1", 20)
	seedTestBin(t, st, "bin-2", 85)

	list, err := st.ListBins(ctx, store.BinFilter{MinFillLevel: 80})
	if err != nil {
		t.Fatalf("ListBins: %v", err)
	}
	if len(list) != 1 || list[0].ID != "bin-2" {
		t.Fatalf("ListBins(min 80) = %+v", list)
	}
}

func TestInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	boom := errors.New("boom")
	err := st.InTx(ctx, func(tx store.Store) error {
		b := &models.Bin{ID: "bin-tx", Address: "x", WasteCategory: models.WasteGeneral, Status: models.BinStatusPending}
		if err := tx.CreateBin(ctx, b); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v, want boom", err)
	}
	if _, err := st.GetBin(ctx, "bin-tx"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("GetBin after rollback err = %v, want ErrNotFound", err)
	}
}

func TestRouteRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedUser(t, st, "collector-1", models.RoleCollector)
	seedTestBin(t, st, "bin-1", 50)
	seedTestBin(t, st, "bin-2", 60)

	r := &models.Route{
		ID:          "route-1",
		Name:        "North",
		CollectorID: "collector-1",
		Status:      models.RouteStatusPlanned,
		CreatedAt:   now,
		UpdatedAt:   now,
		Stops: []models.RouteStop{
			{ID: "stop-2", RouteID: "route-1", BinID: "bin-2", SequenceOrder: 2, EstimatedMinutes: 10},
			{ID: "stop-1", RouteID: "route-1", BinID: "bin-1", SequenceOrder: 1, EstimatedMinutes: 10},
		},
	}
	if err := st.CreateRoute(ctx, r); err != nil {
		t.Fatalf("CreateRoute: %v", err)
	}

	got, err := st.GetRoute(ctx, "route-1")
	if err != nil {
		t.Fatalf("GetRoute: %v", err)
	}
	if len(got.Stops) != 2 || got.Stops[0].BinID != "bin-1" {
		t.Fatalf("Stops = %+v, want ordered by sequence", got.Stops)
	}

	collectedAt := now + 60
	weight := 12.5
	got.Status = models.RouteStatusInProgress
	got.Stops[0].Collected = true
	got.Stops[0].CollectedAt = &collectedAt
	got.Stops[0].WasteWeight = &weight
	got.CompletionRate = got.ComputeCompletionRate()
	if err := st.UpdateRoute(ctx, got); err != nil {
		t.Fatalf("UpdateRoute: %v", err)
	}

	again, _ := st.GetRoute(ctx, "route-1")
	if !again.Stops[0].Collected || again.Stops[0].WasteWeight == nil || *again.Stops[0].WasteWeight != weight {
		t.Fatalf("stop not persisted: %+v", again.Stops[0])
	}
	if again.CompletionRate != 50 || again.Version != 2 {
		t.Fatalf("route = rate %d version %d, want 50/2", again.CompletionRate, again.Version)
	}

	binID := "bin-1"
	if err := st.AddRouteHistory(ctx, &models.RouteHistoryEntry{ID: "h-1", RouteID: "route-1", BinID: &binID, Action: "stop_collected", CreatedAt: collectedAt}); err != nil {
		t.Fatalf("AddRouteHistory: %v", err)
	}
	history, err := st.ListRouteHistory(ctx, "route-1")
	if err != nil || len(history) != 1 {
		t.Fatalf("ListRouteHistory = %v, %v", history, err)
	}
}

func TestAddRewardPointsNeverNegative(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedUser(t, st, "resident-1", models.RoleResident)

	balance, err := st.AddRewardPoints(ctx, "resident-1", 30)
	if err != nil || balance != 30 {
		t.Fatalf("AddRewardPoints(+30) = %d, %v", balance, err)
	}
	if _, err := st.AddRewardPoints(ctx, "resident-1", -31); !errors.Is(err, apperr.ErrPrecondition) {
		t.Fatalf("AddRewardPoints(-31) err = %v, want ErrPrecondition", err)
	}
	if _, err := st.AddRewardPoints(ctx, "ghost", 5); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("AddRewardPoints(ghost) err = %v, want ErrNotFound", err)
	}

	u, _ := st.GetUser(ctx, "resident-1")
	if u.RewardPoints != 30 {
		t.Fatalf("RewardPoints = %d, want 30", u.RewardPoints)
	}
}

func TestRewardTransactionsKeepOrder(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedUser(t, st, "resident-1", models.RoleResident)

	for i, points := range []int{10, 20, -5} {
		tx := &models.RewardTransaction{
			ID:         []string{"tx-c", "tx-a", "tx-b"}[i],
			UserID:     "resident-1",
			Points:     points,
			Type:       models.TransactionEarned,
			SourceType: models.SourceReport,
			CreatedAt:  now,
		}
		if err := st.CreateRewardTransaction(ctx, tx); err != nil {
			t.Fatalf("CreateRewardTransaction: %v", err)
		}
		if tx.Seq == 0 {
			t.Fatalf("Seq not assigned")
		}
	}

	txs, err := st.ListRewardTransactions(ctx, "resident-1")
	if err != nil {
		t.Fatalf("ListRewardTransactions: %v", err)
	}
	if len(txs) != 3 || txs[0].ID != "tx-c" || txs[2].ID != "tx-b" {
		t.Fatalf("transactions not in insertion order: %+v", txs)
	}
}

func TestDecrementItemStock(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	limited := &models.RewardItem{ID: "item-1", Slug: "coffee", Name: "Coffee", PointsCost: 50, Active: true, RemainingQuantity: 1, CreatedAt: now, UpdatedAt: now}
	unlimited := &models.RewardItem{ID: "item-2", Slug: "tree", Name: "Tree", PointsCost: 10, Active: true, RemainingQuantity: models.UnlimitedQuantity, CreatedAt: now, UpdatedAt: now}
	for _, item := range []*models.RewardItem{limited, unlimited} {
		if err := st.CreateRewardItem(ctx, item); err != nil {
			t.Fatalf("CreateRewardItem: %v", err)
		}
	}

	if err := st.DecrementItemStock(ctx, "item-1"); err != nil {
		t.Fatalf("DecrementItemStock: %v", err)
	}
	if err := st.DecrementItemStock(ctx, "item-1"); !errors.Is(err, apperr.ErrPrecondition) {
		t.Fatalf("DecrementItemStock(empty) err = %v, want ErrPrecondition", err)
	}
	if err := st.DecrementItemStock(ctx, "item-2"); err != nil {
		t.Fatalf("DecrementItemStock(unlimited): %v", err)
	}

	bySlug, err := st.GetRewardItemBySlug(ctx, "tree")
	if err != nil || bySlug.RemainingQuantity != models.UnlimitedQuantity {
		t.Fatalf("GetRewardItemBySlug = %+v, %v", bySlug, err)
	}
}

func TestNotificationsAndTokens(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedUser(t, st, "user-1", models.RoleResident)
	seedUser(t, st, "user-2", models.RoleResident)

	n := &models.Notification{ID: "n-1", RecipientID: "user-1", Type: models.NotifyBinOverflow, Title: "t", Message: "m", Priority: models.NotificationHigh, RelatedEntity: "bin:1", CreatedAt: now}
	if err := st.CreateNotification(ctx, n); err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}
	if _, err := st.FindRecentNotification(ctx, "user-1", models.NotifyBinOverflow, "bin:1", now-300); err != nil {
		t.Fatalf("FindRecentNotification: %v", err)
	}
	if _, err := st.FindRecentNotification(ctx, "user-1", models.NotifyBinOverflow, "bin:1", now+1); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("FindRecentNotification(after) err = %v, want ErrNotFound", err)
	}
	if err := st.MarkNotificationRead(ctx, "n-1", "user-1"); err != nil {
		t.Fatalf("MarkNotificationRead: %v", err)
	}
	unread, _ := st.ListNotifications(ctx, "user-1", true)
	if len(unread) != 0 {
		t.Fatalf("unread = %d, want 0", len(unread))
	}

	for _, user := range []string{"user-1", "user-2"} {
		tok := &models.DeviceToken{UserID: user, Token: "shared-token", DeviceType: "android", CreatedAt: now, UpdatedAt: now}
		if err := st.UpsertDeviceToken(ctx, tok); err != nil {
			t.Fatalf("UpsertDeviceToken: %v", err)
		}
	}
	if toks, _ := st.ListDeviceTokens(ctx, "user-1"); len(toks) != 0 {
		t.Fatalf("user-1 tokens = %d, want 0 after re-registration", len(toks))
	}
	if toks, _ := st.ListDeviceTokens(ctx, "user-2"); len(toks) != 1 {
		t.Fatalf("user-2 tokens = %d, want 1", len(toks))
	}
}

func TestRedemptionCodeIsUnique(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedUser(t, st, "u1", models.RoleResident)
	item := &models.RewardItem{ID: "item-1", Slug: "coffee", Name: "Coffee", PointsCost: 50, Active: true, RemainingQuantity: models.UnlimitedQuantity, CreatedAt: now, UpdatedAt: now}
	if err := st.CreateRewardItem(ctx, item); err != nil {
		t.Fatalf("CreateRewardItem: %v", err)
	}

	first := &models.Redemption{ID: "r1", UserID: "u1", ItemID: "item-1", Code: "ABCDEF1234", PointsSpent: 50, Status: models.RedemptionIssued, CreatedAt: now}
	if err := st.CreateRedemption(ctx, first); err != nil {
		t.Fatalf("CreateRedemption: %v", err)
	}
	taken, err := st.RedemptionCodeExists(ctx, "ABCDEF1234")
	if err != nil || !taken {
		t.Fatalf("RedemptionCodeExists = %v, %v, want true", taken, err)
	}
	if taken, _ := st.RedemptionCodeExists(ctx, "0000000000"); taken {
		t.Fatalf("RedemptionCodeExists(unused) = true")
	}

	dup := *first
	dup.ID = "r2"
	if err := st.CreateRedemption(ctx, &dup); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("CreateRedemption(duplicate code) err = %v, want ErrInvalidState", err)
	}
}
