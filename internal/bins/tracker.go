// Package bins owns a bin's fill level, derived priority and operational
// status. Every status change goes through the Tracker.
package bins

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"cleancity-backend/internal/apperr"
	"cleancity-backend/internal/models"
	"cleancity-backend/internal/notify"
	"cleancity-backend/internal/rewards"
	"cleancity-backend/internal/store"
)

// DefaultReportPoints is granted to the reporter when their bin is collected
const DefaultReportPoints = 10

// Ledger is the part of the reward ledger the tracker drives
type Ledger interface {
	Grant(ctx context.Context, userID string, points int, source models.SourceType, sourceRef, description string) (*models.RewardTransaction, error)
	ApplyStreak(ctx context.Context, userID string) (*rewards.StreakResult, error)
}

// Geocoder resolves an address. Used best-effort when a report has no coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*models.Location, error)
}

type Tracker struct {
	store        store.Store
	ledger       Ledger
	notifier     notify.Notifier
	geocoder     Geocoder
	clock        clockwork.Clock
	reportPoints int
}

func NewTracker(st store.Store, ledger Ledger, notifier notify.Notifier, geocoder Geocoder, clock clockwork.Clock, reportPoints int) *Tracker {
	if reportPoints <= 0 {
		reportPoints = DefaultReportPoints
	}
	return &Tracker{
		store:        st,
		ledger:       ledger,
		notifier:     notifier,
		geocoder:     geocoder,
		clock:        clock,
		reportPoints: reportPoints,
	}
}

// transition is what a single versioned bin write changed
type transition struct {
	from        models.BinStatus
	to          models.BinStatus
	claimReward bool // RewardAssigned was flipped in this write
}

// setStatus moves the bin to status and claims the report reward when the
// bin enters collected with an unrewarded reporter
func setStatus(b *models.Bin, status models.BinStatus) transition {
	t := transition{from: b.Status, to: status}
	b.Status = status
	if status == models.BinStatusCollected && t.from != models.BinStatusCollected &&
		!b.RewardAssigned && b.ReportedBy != nil {
		b.RewardAssigned = true
		t.claimReward = true
	}
	return t
}

// update loads the bin, applies mutate and writes it back, retrying on
// version conflicts. mutate runs against fresh state on every attempt.
func (t *Tracker) update(ctx context.Context, binID string, mutate func(b *models.Bin) (transition, error)) (*models.Bin, transition, error) {
	var bin *models.Bin
	var tr transition

	err := store.RetryOnConflict(func() error {
		b, err := t.store.GetBin(ctx, binID)
		if err != nil {
			return err
		}
		tr, err = mutate(b)
		if err != nil {
			return err
		}
		b.UpdatedAt = t.clock.Now().Unix()
		if err := t.store.UpdateBin(ctx, b); err != nil {
			return err
		}
		bin = b
		return nil
	})
	if err != nil {
		return nil, transition{}, err
	}
	return bin, tr, nil
}

// afterTransition runs the side effects of a committed write. Failures are
// logged and never undo the write.
func (t *Tracker) afterTransition(ctx context.Context, b *models.Bin, tr transition) {
	if tr.claimReward {
		t.grantReportReward(ctx, b)
	}
	if b.ReportedBy == nil || tr.from == tr.to {
		return
	}

	switch tr.to {
	case models.BinStatusOverflow:
		notify.Send(ctx, t.notifier, notify.Request{
			RecipientID: *b.ReportedBy,
			Type:        models.NotifyBinOverflow,
			Title:       "Bin overflowing",
			Message:     fmt.Sprintf("The bin at %s is at %d%% and has been flagged for pickup", b.Address, b.FillLevel),
			Priority:    models.NotificationHigh,
			Related:     models.EntityRef("bin", b.ID),
		})
	case models.BinStatusCollected:
		notify.Send(ctx, t.notifier, notify.Request{
			RecipientID: *b.ReportedBy,
			Type:        models.NotifyBinCollected,
			Title:       "Bin collected",
			Message:     fmt.Sprintf("The bin you reported at %s has been emptied", b.Address),
			Priority:    models.NotificationNormal,
			Related:     models.EntityRef("bin", b.ID),
		})
	}
}

func (t *Tracker) grantReportReward(ctx context.Context, b *models.Bin) {
	if t.ledger == nil {
		return
	}
	reporter := *b.ReportedBy
	_, err := t.ledger.Grant(ctx, reporter, t.reportPoints, models.SourceCollection, b.ID, "Reported bin collected")
	if err == nil {
		return
	}

	log.Printf("⚠️  Failed to grant report reward for bin %s to %s: %v", b.ID, reporter, err)

	// release the claim so the next collection retries the grant
	_, _, relErr := t.update(ctx, b.ID, func(cur *models.Bin) (transition, error) {
		if cur.ReportedBy == nil || *cur.ReportedBy != reporter {
			return transition{}, errStale
		}
		cur.RewardAssigned = false
		return transition{from: cur.Status, to: cur.Status}, nil
	})
	if relErr != nil && !errors.Is(relErr, errStale) {
		log.Printf("❌ Failed to release reward flag on bin %s: %v", b.ID, relErr)
	}
}

var errStale = errors.New("bin changed hands")

// ReportFillLevel records a new fill level and returns the recomputed priority
func (t *Tracker) ReportFillLevel(ctx context.Context, binID string, level int) (int, error) {
	bin, tr, err := t.update(ctx, binID, func(b *models.Bin) (transition, error) {
		b.FillLevel = ClampFill(level)
		tr := setStatus(b, DeriveStatus(b.Status, b.FillLevel))
		Refresh(b, t.clock.Now())
		return tr, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to report fill level: %w", err)
	}

	if tr.from != tr.to {
		log.Printf("🔄 Bin %s: %s → %s (fill %d%%, priority %d)", bin.ID, tr.from, tr.to, bin.FillLevel, bin.Priority)
	}
	t.afterTransition(ctx, bin, tr)
	return bin.Priority, nil
}

// CollectionReport is what a collector submits when emptying a bin
type CollectionReport struct {
	FillLevel *int   // level left after collection, default 0
	Notes     string
}

// MarkCollected empties the bin and stamps LastCollected
func (t *Tracker) MarkCollected(ctx context.Context, binID, collectorID string, report CollectionReport) (*models.Bin, error) {
	bin, tr, err := t.update(ctx, binID, func(b *models.Bin) (transition, error) {
		now := t.clock.Now()
		fill := 0
		if report.FillLevel != nil {
			fill = ClampFill(*report.FillLevel)
		}
		collected := now.Unix()

		b.FillLevel = fill
		b.LastCollected = &collected
		tr := setStatus(b, models.BinStatusCollected)
		Refresh(b, now)
		return tr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark bin collected: %w", err)
	}

	log.Printf("✅ Bin %s collected by %s", bin.ID, collectorID)
	t.afterTransition(ctx, bin, tr)
	return bin, nil
}

// MarkInProgress flags a bin as being collected on a running route
func (t *Tracker) MarkInProgress(ctx context.Context, binID string) (*models.Bin, error) {
	bin, _, err := t.update(ctx, binID, func(b *models.Bin) (transition, error) {
		if b.Status == models.BinStatusMaintenance {
			return transition{}, apperr.InvalidState("bin %s is under maintenance", b.ID)
		}
		return setStatus(b, models.BinStatusInProgress), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark bin in progress: %w", err)
	}
	return bin, nil
}

// ReleaseInProgress returns a bin left in progress by an abandoned route to
// the status its fill level implies. Bins in any other status are untouched.
func (t *Tracker) ReleaseInProgress(ctx context.Context, binID string) (*models.Bin, error) {
	bin, tr, err := t.update(ctx, binID, func(b *models.Bin) (transition, error) {
		if b.Status != models.BinStatusInProgress {
			return transition{from: b.Status, to: b.Status}, nil
		}
		return setStatus(b, DeriveStatus(models.BinStatusPending, b.FillLevel)), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to release bin: %w", err)
	}
	t.afterTransition(ctx, bin, tr)
	return bin, nil
}

// SetMaintenance takes a bin out of service, or returns it to the status its fill level implies
func (t *Tracker) SetMaintenance(ctx context.Context, binID string, on bool) (*models.Bin, error) {
	bin, tr, err := t.update(ctx, binID, func(b *models.Bin) (transition, error) {
		if on {
			return setStatus(b, models.BinStatusMaintenance), nil
		}
		if b.Status != models.BinStatusMaintenance {
			return transition{from: b.Status, to: b.Status}, nil
		}
		return setStatus(b, DeriveStatus(models.BinStatusPending, b.FillLevel)), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update maintenance: %w", err)
	}
	t.afterTransition(ctx, bin, tr)
	return bin, nil
}

// Report is a resident's fill report. BinID may be empty for a bin seen for
// the first time, in which case Address or coordinates locate it.
type Report struct {
	BinID         string
	ReporterID    string
	FillLevel     int
	Address       string
	Latitude      *float64
	Longitude     *float64
	WasteCategory models.WasteCategory
	Capacity      int
}

// FileReport records a resident report. It starts a new reward cycle on the
// bin, creating the bin on its first report, and counts towards the
// reporter's streak.
func (t *Tracker) FileReport(ctx context.Context, r Report) (*models.Bin, error) {
	if strings.TrimSpace(r.ReporterID) == "" {
		return nil, apperr.Validation("reporter is required")
	}
	if _, err := t.store.GetUser(ctx, r.ReporterID); err != nil {
		return nil, err
	}

	var bin *models.Bin
	var tr transition
	var err error

	if r.BinID != "" {
		bin, tr, err = t.update(ctx, r.BinID, func(b *models.Bin) (transition, error) {
			reporter := r.ReporterID
			b.ReportedBy = &reporter
			b.RewardAssigned = false
			b.FillLevel = ClampFill(r.FillLevel)
			tr := setStatus(b, DeriveStatus(b.Status, b.FillLevel))
			Refresh(b, t.clock.Now())
			return tr, nil
		})
	} else {
		bin, tr, err = t.createReported(ctx, r)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to file report: %w", err)
	}

	log.Printf("📝 Report on bin %s by %s: fill %d%%, status %s, priority %d", bin.ID, r.ReporterID, bin.FillLevel, bin.Status, bin.Priority)
	t.afterTransition(ctx, bin, tr)

	if t.ledger != nil {
		if _, err := t.ledger.ApplyStreak(ctx, r.ReporterID); err != nil {
			log.Printf("⚠️  Failed to apply report streak for %s: %v", r.ReporterID, err)
		}
	}
	return bin, nil
}

func (t *Tracker) createReported(ctx context.Context, r Report) (*models.Bin, transition, error) {
	reporter := r.ReporterID
	bin, err := t.newBin(ctx, NewBin{
		Address:       r.Address,
		Latitude:      r.Latitude,
		Longitude:     r.Longitude,
		WasteCategory: r.WasteCategory,
		Capacity:      r.Capacity,
		FillLevel:     r.FillLevel,
	})
	if err != nil {
		return nil, transition{}, err
	}
	bin.ReportedBy = &reporter

	tr := setStatus(bin, DeriveStatus(models.BinStatusPending, bin.FillLevel))
	if err := t.store.CreateBin(ctx, bin); err != nil {
		return nil, transition{}, err
	}
	return bin, tr, nil
}

// NewBin registers a bin without a report
type NewBin struct {
	Address       string               `json:"address"`
	Latitude      *float64             `json:"latitude,omitempty"`
	Longitude     *float64             `json:"longitude,omitempty"`
	WasteCategory models.WasteCategory `json:"waste_category"`
	Capacity      int                  `json:"capacity"`
	FillLevel     int                  `json:"fill_level"`
}

func (t *Tracker) Register(ctx context.Context, in NewBin) (*models.Bin, error) {
	bin, err := t.newBin(ctx, in)
	if err != nil {
		return nil, err
	}
	bin.Status = DeriveStatus(models.BinStatusPending, bin.FillLevel)
	if err := t.store.CreateBin(ctx, bin); err != nil {
		return nil, fmt.Errorf("failed to register bin: %w", err)
	}
	log.Printf("✅ Registered bin %s at %s", bin.ID, bin.Address)
	return bin, nil
}

// newBin validates input and builds an unsaved bin, geocoding best-effort
func (t *Tracker) newBin(ctx context.Context, in NewBin) (*models.Bin, error) {
	address := strings.TrimSpace(in.Address)
	hasCoords := in.Latitude != nil && in.Longitude != nil
	if address == "" && !hasCoords {
		return nil, apperr.Validation("a new bin needs an address or coordinates")
	}

	category := in.WasteCategory
	if category == "" {
		category = models.WasteGeneral
	}
	if !category.Valid() {
		return nil, apperr.Validation("unknown waste category %q", category)
	}
	if in.Capacity < 0 {
		return nil, apperr.Validation("capacity must not be negative")
	}

	now := t.clock.Now()
	bin := &models.Bin{
		ID:            uuid.New().String(),
		Address:       address,
		Latitude:      in.Latitude,
		Longitude:     in.Longitude,
		FillLevel:     ClampFill(in.FillLevel),
		WasteCategory: category,
		Capacity:      in.Capacity,
		Status:        models.BinStatusPending,
		CreatedAt:     now.Unix(),
		UpdatedAt:     now.Unix(),
	}
	Refresh(bin, now)

	if !hasCoords && t.geocoder != nil {
		loc, err := t.geocoder.Geocode(ctx, address)
		if err != nil {
			log.Printf("⚠️  Geocoding failed for %q: %v", address, err)
		} else if loc != nil {
			bin.Latitude = &loc.Latitude
			bin.Longitude = &loc.Longitude
		}
	}
	return bin, nil
}

// Get returns the bin with its priority recomputed against now. Nothing is written.
func (t *Tracker) Get(ctx context.Context, binID string) (*models.Bin, error) {
	bin, err := t.store.GetBin(ctx, binID)
	if err != nil {
		return nil, err
	}
	Refresh(bin, t.clock.Now())
	return bin, nil
}

func (t *Tracker) List(ctx context.Context, f store.BinFilter) ([]models.Bin, error) {
	list, err := t.store.ListBins(ctx, f)
	if err != nil {
		return nil, err
	}
	now := t.clock.Now()
	for i := range list {
		Refresh(&list[i], now)
	}
	return list, nil
}

// Delete removes a bin that no pending schedule or unfinished route
// references. Overdue schedules are reviewed first, so one that has already
// become missed no longer blocks.
func (t *Tracker) Delete(ctx context.Context, binID string) error {
	var missed []models.Schedule
	err := t.store.InTx(ctx, func(tx store.Store) error {
		if _, err := tx.GetBin(ctx, binID); err != nil {
			return err
		}

		var pending []models.Schedule
		var err error
		pending, missed, err = store.ReviewedPending(ctx, tx, store.ScheduleFilter{BinID: binID}, t.clock.Now())
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return apperr.InvalidState("bin %s has %d pending schedule(s)", binID, len(pending))
		}

		for _, status := range []models.RouteStatus{models.RouteStatusPlanned, models.RouteStatusInProgress} {
			routes, err := tx.ListRoutes(ctx, store.RouteFilter{Status: status})
			if err != nil {
				return err
			}
			for _, r := range routes {
				if r.FindStop(binID) >= 0 {
					return apperr.InvalidState("bin %s is on %s route %s", binID, status, r.ID)
				}
			}
		}

		return tx.DeleteBin(ctx, binID)
	})
	if err != nil {
		return err
	}

	for _, sc := range missed {
		log.Printf("⏰ Schedule %s for bin %s missed", sc.ID, sc.BinID)
		notify.Send(ctx, t.notifier, notify.Request{
			RecipientID: sc.CollectorID,
			Type:        models.NotifyScheduleMissed,
			Title:       "Pickup missed",
			Message:     "A pickup for a since-removed bin was missed",
			Priority:    models.NotificationHigh,
			Related:     models.EntityRef("schedule", sc.ID),
		})
	}
	return nil
}
