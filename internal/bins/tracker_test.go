package bins

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"cleancity-backend/internal/apperr"
	"cleancity-backend/internal/models"
	"cleancity-backend/internal/notify"
	"cleancity-backend/internal/rewards"
	"cleancity-backend/internal/store/memstore"
)

type recordingNotifier struct {
	mu   sync.Mutex
	reqs []notify.Request
}

func (r *recordingNotifier) Notify(ctx context.Context, req notify.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *recordingNotifier) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, req := range r.reqs {
		if req.Type == typ {
			n++
		}
	}
	return n
}

type failingLedger struct{}

func (failingLedger) Grant(ctx context.Context, userID string, points int, source models.SourceType, sourceRef, description string) (*models.RewardTransaction, error) {
	return nil, errors.New("ledger unavailable")
}

func (failingLedger) ApplyStreak(ctx context.Context, userID string) (*rewards.StreakResult, error) {
	return nil, errors.New("ledger unavailable")
}

type stubGeocoder struct {
	loc *models.Location
	err error
}

func (g stubGeocoder) Geocode(ctx context.Context, address string) (*models.Location, error) {
	return g.loc, g.err
}

var epoch = time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)

type fixture struct {
	st       *memstore.Store
	clock    *clockwork.FakeClock
	notifier *recordingNotifier
	ledger   *rewards.Ledger
	tracker  *Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	clock := clockwork.NewFakeClockAt(epoch)
	n := &recordingNotifier{}
	ledger := rewards.NewLedger(st, n, clock, time.UTC)
	f := &fixture{
		st:       st,
		clock:    clock,
		notifier: n,
		ledger:   ledger,
		tracker:  NewTracker(st, ledger, n, nil, clock, 10),
	}
	for _, id := range []string{"resident-1", "resident-2"} {
		if err := st.CreateUser(context.Background(), &models.User{ID: id, Email: id + "@example.com", Role: models.RoleResident}); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	return f
}

func (f *fixture) bin(t *testing.T, fill int) *models.Bin {
	t.Helper()
	bin, err := f.tracker.Register(context.Background(), NewBin{Address: "1 Main St", FillLevel: fill, Capacity: 240})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return bin
}

func (f *fixture) balance(t *testing.T, userID string) int {
	t.Helper()
	balance, err := f.ledger.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return balance
}

func TestReportFillLevelOverflowExample(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	bin := f.bin(t, 85)
	if bin.Priority != 10 || bin.Status != models.BinStatusPending {
		t.Fatalf("new bin = {priority %d, status %s}, want {10, pending}", bin.Priority, bin.Status)
	}

	priority, err := f.tracker.ReportFillLevel(ctx, bin.ID, 95)
	if err != nil {
		t.Fatalf("ReportFillLevel: %v", err)
	}
	if priority != 10 {
		t.Fatalf("priority = %d, want 10", priority)
	}
	got, _ := f.tracker.Get(ctx, bin.ID)
	if got.Status != models.BinStatusOverflow {
		t.Fatalf("Status = %s, want overflow", got.Status)
	}
}

func TestReportFillLevelClamps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bin := f.bin(t, 50)

	tests := []struct {
		level    int
		wantFill int
		status   models.BinStatus
	}{
		{150, 100, models.BinStatusOverflow},
		{-5, 0, models.BinStatusCollected},
		{55, 55, models.BinStatusPending},
	}
	for _, tt := range tests {
		if _, err := f.tracker.ReportFillLevel(ctx, bin.ID, tt.level); err != nil {
			t.Fatalf("ReportFillLevel(%d): %v", tt.level, err)
		}
		got, _ := f.tracker.Get(ctx, bin.ID)
		if got.FillLevel != tt.wantFill || got.Status != tt.status {
			t.Fatalf("after %d: {fill %d, status %s}, want {%d, %s}", tt.level, got.FillLevel, got.Status, tt.wantFill, tt.status)
		}
	}
}

func TestReportFillLevelUnknownBin(t *testing.T) {
	f := newFixture(t)
	if _, err := f.tracker.ReportFillLevel(context.Background(), "missing", 50); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("ReportFillLevel = %v, want ErrNotFound", err)
	}
}

func TestRewardGrantedOncePerReportCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bin := f.bin(t, 40)

	if _, err := f.tracker.FileReport(ctx, Report{BinID: bin.ID, ReporterID: "resident-1", FillLevel: 85}); err != nil {
		t.Fatalf("FileReport: %v", err)
	}
	if _, err := f.tracker.MarkCollected(ctx, bin.ID, "collector-1", CollectionReport{}); err != nil {
		t.Fatalf("MarkCollected: %v", err)
	}
	if got := f.balance(t, "resident-1"); got != 10 {
		t.Fatalf("balance after first collection = %d, want 10", got)
	}

	// refilled and collected again without a new report: no second grant
	if _, err := f.tracker.ReportFillLevel(ctx, bin.ID, 60); err != nil {
		t.Fatalf("ReportFillLevel: %v", err)
	}
	if _, err := f.tracker.MarkCollected(ctx, bin.ID, "collector-1", CollectionReport{}); err != nil {
		t.Fatalf("MarkCollected: %v", err)
	}
	if _, err := f.tracker.MarkCollected(ctx, bin.ID, "collector-1", CollectionReport{}); err != nil {
		t.Fatalf("MarkCollected (repeat): %v", err)
	}
	if got := f.balance(t, "resident-1"); got != 10 {
		t.Fatalf("balance after repeat collections = %d, want 10", got)
	}

	// a new report starts a new cycle
	if _, err := f.tracker.FileReport(ctx, Report{BinID: bin.ID, ReporterID: "resident-2", FillLevel: 90}); err != nil {
		t.Fatalf("FileReport: %v", err)
	}
	got, _ := f.tracker.Get(ctx, bin.ID)
	if got.RewardAssigned {
		t.Fatal("RewardAssigned = true after new report, want false")
	}
	if _, err := f.tracker.MarkCollected(ctx, bin.ID, "collector-1", CollectionReport{}); err != nil {
		t.Fatalf("MarkCollected: %v", err)
	}
	if got := f.balance(t, "resident-2"); got != 10 {
		t.Fatalf("resident-2 balance = %d, want 10", got)
	}
	if got := f.balance(t, "resident-1"); got != 10 {
		t.Fatalf("resident-1 balance = %d, want 10", got)
	}
}

func TestRewardClaimReleasedWhenGrantFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tracker = NewTracker(f.st, failingLedger{}, f.notifier, nil, f.clock, 10)
	bin := f.bin(t, 40)

	if _, err := f.tracker.FileReport(ctx, Report{BinID: bin.ID, ReporterID: "resident-1", FillLevel: 85}); err != nil {
		t.Fatalf("FileReport: %v", err)
	}
	collected, err := f.tracker.MarkCollected(ctx, bin.ID, "collector-1", CollectionReport{})
	if err != nil {
		t.Fatalf("MarkCollected = %v, want the collection to succeed", err)
	}
	if collected.Status != models.BinStatusCollected {
		t.Fatalf("Status = %s, want collected", collected.Status)
	}

	got, _ := f.tracker.Get(ctx, bin.ID)
	if got.RewardAssigned {
		t.Fatal("RewardAssigned = true after failed grant, want released")
	}
}

func TestMarkCollectedStampsAndRecomputes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bin := f.bin(t, 95)

	left := 5
	got, err := f.tracker.MarkCollected(ctx, bin.ID, "collector-1", CollectionReport{FillLevel: &left})
	if err != nil {
		t.Fatalf("MarkCollected: %v", err)
	}
	if got.FillLevel != 5 || got.Status != models.BinStatusCollected {
		t.Fatalf("bin = {fill %d, status %s}, want {5, collected}", got.FillLevel, got.Status)
	}
	if got.LastCollected == nil || *got.LastCollected != epoch.Unix() {
		t.Fatalf("LastCollected = %v, want %d", got.LastCollected, epoch.Unix())
	}
	if got.Priority != 3 {
		t.Fatalf("Priority = %d, want 3", got.Priority)
	}
}

func TestGetAddsStaleBonus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bin := f.bin(t, 50)

	if _, err := f.tracker.MarkCollected(ctx, bin.ID, "collector-1", CollectionReport{}); err != nil {
		t.Fatalf("MarkCollected: %v", err)
	}
	if _, err := f.tracker.ReportFillLevel(ctx, bin.ID, 50); err != nil {
		t.Fatalf("ReportFillLevel: %v", err)
	}

	f.clock.Advance(5*24*time.Hour + 23*time.Hour)
	got, _ := f.tracker.Get(ctx, bin.ID)
	if got.Priority != 5 {
		t.Fatalf("priority after 5 days = %d, want 5", got.Priority)
	}

	f.clock.Advance(time.Hour)
	got, _ = f.tracker.Get(ctx, bin.ID)
	if got.Priority != 8 {
		t.Fatalf("priority after 6 days = %d, want 8", got.Priority)
	}
}

func TestFileReportCreatesBin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tracker = NewTracker(f.st, f.ledger, f.notifier, stubGeocoder{loc: &models.Location{Latitude: 37.33, Longitude: -121.88}}, f.clock, 10)

	bin, err := f.tracker.FileReport(ctx, Report{ReporterID: "resident-1", FillLevel: 92, Address: "200 E Santa Clara St", WasteCategory: models.WasteRecyclable})
	if err != nil {
		t.Fatalf("FileReport: %v", err)
	}
	if bin.Status != models.BinStatusOverflow || bin.Priority != 10 {
		t.Fatalf("bin = {status %s, priority %d}, want {overflow, 10}", bin.Status, bin.Priority)
	}
	if bin.Latitude == nil || *bin.Latitude != 37.33 {
		t.Fatalf("Latitude = %v, want 37.33", bin.Latitude)
	}
	if bin.ReportedBy == nil || *bin.ReportedBy != "resident-1" {
		t.Fatalf("ReportedBy = %v, want resident-1", bin.ReportedBy)
	}
	if f.notifier.count(models.NotifyBinOverflow) != 1 {
		t.Fatalf("overflow notifications = %d, want 1", f.notifier.count(models.NotifyBinOverflow))
	}

	user, _ := f.st.GetUser(ctx, "resident-1")
	if user.StreakCount != 1 || user.LastReportDate == nil {
		t.Fatalf("streak = %d, last report = %v, want 1 and set", user.StreakCount, user.LastReportDate)
	}
}

func TestFileReportGeocodeFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tracker = NewTracker(f.st, f.ledger, f.notifier, stubGeocoder{err: errors.New("quota exceeded")}, f.clock, 10)

	bin, err := f.tracker.FileReport(ctx, Report{ReporterID: "resident-1", FillLevel: 30, Address: "151 W Mission St"})
	if err != nil {
		t.Fatalf("FileReport = %v, want success despite geocoding failure", err)
	}
	if bin.Latitude != nil {
		t.Fatalf("Latitude = %v, want nil", *bin.Latitude)
	}
	if bin.WasteCategory != models.WasteGeneral {
		t.Fatalf("WasteCategory = %s, want general", bin.WasteCategory)
	}
}

func TestFileReportValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name   string
		report Report
		want   error
	}{
		{"no reporter", Report{Address: "x", FillLevel: 10}, apperr.ErrValidation},
		{"unknown reporter", Report{ReporterID: "ghost", Address: "x"}, apperr.ErrNotFound},
		{"no location", Report{ReporterID: "resident-1", FillLevel: 10}, apperr.ErrValidation},
		{"bad category", Report{ReporterID: "resident-1", Address: "x", WasteCategory: "glass"}, apperr.ErrValidation},
		{"unknown bin", Report{ReporterID: "resident-1", BinID: "missing"}, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.tracker.FileReport(ctx, tt.report); !errors.Is(err, tt.want) {
				t.Fatalf("FileReport = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMaintenanceIsSticky(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bin := f.bin(t, 50)

	if _, err := f.tracker.SetMaintenance(ctx, bin.ID, true); err != nil {
		t.Fatalf("SetMaintenance(true): %v", err)
	}
	if _, err := f.tracker.ReportFillLevel(ctx, bin.ID, 95); err != nil {
		t.Fatalf("ReportFillLevel: %v", err)
	}
	got, _ := f.tracker.Get(ctx, bin.ID)
	if got.Status != models.BinStatusMaintenance {
		t.Fatalf("Status = %s, want maintenance", got.Status)
	}
	if _, err := f.tracker.MarkInProgress(ctx, bin.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("MarkInProgress = %v, want ErrInvalidState", err)
	}

	got, err := f.tracker.SetMaintenance(ctx, bin.ID, false)
	if err != nil {
		t.Fatalf("SetMaintenance(false): %v", err)
	}
	if got.Status != models.BinStatusOverflow {
		t.Fatalf("Status = %s, want overflow", got.Status)
	}
}

func TestDeleteRefusesReferencedBins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	scheduled := f.bin(t, 50)
	routed := f.bin(t, 50)
	free := f.bin(t, 50)

	_ = f.st.CreateSchedule(ctx, &models.Schedule{ID: "s1", BinID: scheduled.ID, Status: models.ScheduleStatusPending, ScheduledDate: epoch.Add(24 * time.Hour).Unix()})
	_ = f.st.CreateRoute(ctx, &models.Route{ID: "r1", Status: models.RouteStatusPlanned, Stops: []models.RouteStop{{ID: "st1", BinID: routed.ID}}})

	for _, id := range []string{scheduled.ID, routed.ID} {
		if err := f.tracker.Delete(ctx, id); !errors.Is(err, apperr.ErrInvalidState) {
			t.Fatalf("Delete(%s) = %v, want ErrInvalidState", id, err)
		}
	}
	if err := f.tracker.Delete(ctx, free.ID); err != nil {
		t.Fatalf("Delete(free): %v", err)
	}
	if _, err := f.tracker.Get(ctx, free.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Get(deleted) = %v, want ErrNotFound", err)
	}
}

func TestDeleteIgnoresScheduleThatIsAlreadyMissed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bin := f.bin(t, 50)

	due := epoch.Add(time.Hour)
	_ = f.st.CreateSchedule(ctx, &models.Schedule{ID: "s1", BinID: bin.ID, CollectorID: "collector-1", Status: models.ScheduleStatusPending, ScheduledDate: due.Unix()})
	f.clock.Advance(72 * time.Hour)

	if err := f.tracker.Delete(ctx, bin.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	sc, err := f.st.GetSchedule(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if sc.Status != models.ScheduleStatusMissed {
		t.Fatalf("Status = %s, want missed", sc.Status)
	}
	if n := f.notifier.count(models.NotifyScheduleMissed); n != 1 {
		t.Fatalf("missed notifications = %d, want 1", n)
	}
}

func TestDeleteStillRefusesEscalatedSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bin := f.bin(t, 50)

	_ = f.st.CreateSchedule(ctx, &models.Schedule{ID: "s1", BinID: bin.ID, Status: models.ScheduleStatusPending, BasePriority: 2, Priority: 2, ScheduledDate: epoch.Unix()})
	f.clock.Advance(10 * time.Hour)

	if err := f.tracker.Delete(ctx, bin.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("Delete = %v, want ErrInvalidState", err)
	}
}

func TestReleaseInProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	running := f.bin(t, 50)
	idle := f.bin(t, 50)

	if _, err := f.tracker.MarkInProgress(ctx, running.ID); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}
	if _, err := f.tracker.SetMaintenance(ctx, idle.ID, true); err != nil {
		t.Fatalf("SetMaintenance: %v", err)
	}

	got, err := f.tracker.ReleaseInProgress(ctx, running.ID)
	if err != nil {
		t.Fatalf("ReleaseInProgress: %v", err)
	}
	if got.Status != models.BinStatusPending {
		t.Fatalf("Status = %s, want pending", got.Status)
	}

	got, err = f.tracker.ReleaseInProgress(ctx, idle.ID)
	if err != nil {
		t.Fatalf("ReleaseInProgress(maintenance): %v", err)
	}
	if got.Status != models.BinStatusMaintenance {
		t.Fatalf("Status = %s, want maintenance", got.Status)
	}
}
