// Package routes runs collection routes: an ordered list of bin stops a
// collector works through during one shift.
package routes

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"cleancity-backend/internal/apperr"
	"cleancity-backend/internal/bins"
	"cleancity-backend/internal/models"
	"cleancity-backend/internal/notify"
	"cleancity-backend/internal/store"
)

const (
	DefaultStopMinutes = 10

	ActionCreated   = "created"
	ActionStarted   = "started"
	ActionCollected = "stop_collected"
	ActionCompleted = "completed"
	ActionEnded     = "ended"
	ActionCanceled  = "canceled"
)

// BinTracker is the part of the bin tracker a route drives
type BinTracker interface {
	MarkInProgress(ctx context.Context, binID string) (*models.Bin, error)
	MarkCollected(ctx context.Context, binID, collectorID string, report bins.CollectionReport) (*models.Bin, error)
	ReleaseInProgress(ctx context.Context, binID string) (*models.Bin, error)
}

// Optimizer reorders bins for a shorter drive starting at start (nil means
// the optimizer's default depot)
type Optimizer interface {
	OptimizeStops(ctx context.Context, start *models.Location, bins []models.Bin) ([]models.Bin, error)
}

type Engine struct {
	store     store.Store
	bins      BinTracker
	optimizer Optimizer
	notifier  notify.Notifier
	clock     clockwork.Clock
}

func NewEngine(st store.Store, binTracker BinTracker, optimizer Optimizer, notifier notify.Notifier, clock clockwork.Clock) *Engine {
	return &Engine{store: st, bins: binTracker, optimizer: optimizer, notifier: notifier, clock: clock}
}

type CreateInput struct {
	Name             string           `json:"name"`
	CollectorID      string           `json:"collector_id"`
	BinIDs           []string         `json:"bin_ids"`
	VehicleCapacity  float64          `json:"vehicle_capacity"`
	EstimatedMinutes int              `json:"estimated_minutes"` // per stop
	Optimize         bool             `json:"optimize"`
	Start            *models.Location `json:"start,omitempty"`
	Notes            string           `json:"notes"`
}

func (in *CreateInput) validate() error {
	if strings.TrimSpace(in.CollectorID) == "" {
		return apperr.Validation("collector is required")
	}
	if len(in.BinIDs) == 0 {
		return apperr.Validation("route needs at least one bin")
	}
	if in.VehicleCapacity < 0 {
		return apperr.Validation("vehicle capacity must not be negative")
	}
	if in.EstimatedMinutes < 0 {
		return apperr.Validation("estimated minutes must not be negative")
	}
	seen := make(map[string]bool, len(in.BinIDs))
	for _, id := range in.BinIDs {
		if id == "" {
			return apperr.Validation("empty bin id")
		}
		if seen[id] {
			return apperr.Validation("bin %s appears twice", id)
		}
		seen[id] = true
	}
	return nil
}

// Create plans a route. Optimisation is best-effort: if it fails the given
// order is kept.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*models.Route, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	collector, err := e.store.GetUser(ctx, in.CollectorID)
	if err != nil {
		return nil, err
	}
	if collector.Role == models.RoleResident {
		return nil, apperr.Validation("user %s is not a collector", collector.ID)
	}

	stopBins := make([]models.Bin, 0, len(in.BinIDs))
	for _, id := range in.BinIDs {
		b, err := e.store.GetBin(ctx, id)
		if err != nil {
			return nil, err
		}
		stopBins = append(stopBins, *b)
	}

	if in.Optimize && e.optimizer != nil {
		ordered, err := e.optimizer.OptimizeStops(ctx, in.Start, stopBins)
		if err != nil || len(ordered) != len(stopBins) {
			log.Printf("⚠️  Route optimisation failed, keeping given order: %v", err)
		} else {
			stopBins = ordered
		}
	}

	minutes := in.EstimatedMinutes
	if minutes == 0 {
		minutes = DefaultStopMinutes
	}

	now := e.clock.Now().Unix()
	route := &models.Route{
		ID:              uuid.New().String(),
		Name:            strings.TrimSpace(in.Name),
		CollectorID:     in.CollectorID,
		Status:          models.RouteStatusPlanned,
		VehicleCapacity: in.VehicleCapacity,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if route.Name == "" {
		route.Name = "Route " + e.clock.Now().Format("2006-01-02 15:04")
	}
	for i, b := range stopBins {
		route.Stops = append(route.Stops, models.RouteStop{
			ID:               uuid.New().String(),
			RouteID:          route.ID,
			BinID:            b.ID,
			SequenceOrder:    i + 1,
			EstimatedMinutes: minutes,
		})
	}

	err = e.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.CreateRoute(ctx, route); err != nil {
			return err
		}
		return tx.AddRouteHistory(ctx, e.historyEntry(route.ID, nil, ActionCreated, nil, fmt.Sprintf("%d stops", len(route.Stops))))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create route: %w", err)
	}

	log.Printf("🗺️  Route %s planned for %s with %d stops (~%d min)", route.ID, route.CollectorID, len(route.Stops), route.TotalEstimatedMinutes())
	notify.Send(ctx, e.notifier, notify.Request{
		RecipientID: route.CollectorID,
		Type:        models.NotifyRouteAssigned,
		Title:       "New route assigned",
		Message:     fmt.Sprintf("%s: %d stops", route.Name, len(route.Stops)),
		Priority:    models.NotificationNormal,
		Related:     models.EntityRef("route", route.ID),
	})
	return route, nil
}

// mutate runs fn against a freshly loaded route inside one transaction,
// retrying from a reload when another writer got there first
func (e *Engine) mutate(ctx context.Context, id string, fn func(tx store.Store, r *models.Route) error) (*models.Route, error) {
	var route *models.Route
	err := store.RetryOnConflict(func() error {
		return e.store.InTx(ctx, func(tx store.Store) error {
			r, err := tx.GetRoute(ctx, id)
			if err != nil {
				return err
			}
			if err := fn(tx, r); err != nil {
				return err
			}
			r.UpdatedAt = e.clock.Now().Unix()
			if err := tx.UpdateRoute(ctx, r); err != nil {
				return err
			}
			route = r
			return nil
		})
	})
	return route, err
}

// Start puts a planned route on the road and flags its bins in progress
func (e *Engine) Start(ctx context.Context, id string) (*models.Route, error) {
	route, err := e.mutate(ctx, id, func(tx store.Store, r *models.Route) error {
		if r.Status != models.RouteStatusPlanned {
			return apperr.InvalidState("route %s is %s", r.ID, r.Status)
		}
		now := e.clock.Now().Unix()
		r.Status = models.RouteStatusInProgress
		r.ActualStartTime = &now
		return tx.AddRouteHistory(ctx, e.historyEntry(r.ID, nil, ActionStarted, nil, ""))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start route: %w", err)
	}

	log.Printf("🚛 Route %s started by %s", route.ID, route.CollectorID)
	if e.bins != nil {
		for _, stop := range route.Stops {
			if _, err := e.bins.MarkInProgress(ctx, stop.BinID); err != nil {
				log.Printf("⚠️  Bin %s on route %s not marked in progress: %v", stop.BinID, route.ID, err)
			}
		}
	}
	return route, nil
}

// StopCollection is what the collector reports at a stop
type StopCollection struct {
	WasteWeight *float64         `json:"waste_weight,omitempty"`
	Notes       string           `json:"notes"`
	Location    *models.Location `json:"location,omitempty"`
}

// CollectStop records one collected stop. Collecting the last stop completes
// the route. The bin is then marked collected.
func (e *Engine) CollectStop(ctx context.Context, routeID, binID string, in StopCollection) (*models.Route, error) {
	if in.WasteWeight != nil && *in.WasteWeight < 0 {
		return nil, apperr.Validation("waste weight must not be negative")
	}

	var completed bool
	route, err := e.mutate(ctx, routeID, func(tx store.Store, r *models.Route) error {
		if r.Status != models.RouteStatusInProgress {
			return apperr.InvalidState("route %s is %s", r.ID, r.Status)
		}
		idx := r.FindStop(binID)
		if idx < 0 {
			return apperr.NotFound("route stop", binID)
		}
		stop := &r.Stops[idx]
		if stop.Collected {
			return apperr.InvalidState("bin %s already collected on route %s", binID, r.ID)
		}

		bin, err := tx.GetBin(ctx, binID)
		if err != nil {
			return err
		}

		now := e.clock.Now().Unix()
		if err := tx.AddRouteHistory(ctx, e.historyEntry(r.ID, &binID, ActionCollected, in.Location, in.Notes)); err != nil {
			return err
		}

		stop.Collected = true
		stop.CollectedAt = &now
		stop.WasteWeight = in.WasteWeight

		r.CurrentCapacityUsed += float64(bin.FillLevel*bin.Capacity) / 100
		r.CompletionRate = r.ComputeCompletionRate()

		completed = r.IsComplete()
		if completed {
			r.Status = models.RouteStatusCompleted
			r.ActualEndTime = &now
			return tx.AddRouteHistory(ctx, e.historyEntry(r.ID, nil, ActionCompleted, in.Location, "all stops collected"))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect stop: %w", err)
	}

	log.Printf("✅ Route %s: bin %s collected (%d%%)", route.ID, binID, route.CompletionRate)
	if route.VehicleCapacity > 0 && route.CurrentCapacityUsed > route.VehicleCapacity {
		log.Printf("⚠️  Route %s over vehicle capacity: %.1f / %.1f", route.ID, route.CurrentCapacityUsed, route.VehicleCapacity)
	}
	if completed {
		log.Printf("🏁 Route %s completed", route.ID)
	}

	if e.bins != nil {
		if _, err := e.bins.MarkCollected(ctx, binID, route.CollectorID, bins.CollectionReport{Notes: in.Notes}); err != nil {
			log.Printf("⚠️  Stop collected on route %s but bin %s was not updated: %v", route.ID, binID, err)
		}
	}
	return route, nil
}

// End closes an in-progress route whether or not every stop was collected
func (e *Engine) End(ctx context.Context, id, notes string) (*models.Route, error) {
	route, err := e.mutate(ctx, id, func(tx store.Store, r *models.Route) error {
		if r.Status != models.RouteStatusInProgress {
			return apperr.InvalidState("route %s is %s", r.ID, r.Status)
		}
		now := e.clock.Now().Unix()
		r.Status = models.RouteStatusCompleted
		r.ActualEndTime = &now
		if notes = strings.TrimSpace(notes); notes != "" {
			r.Notes = appendNote(r.Notes, notes)
		}
		return tx.AddRouteHistory(ctx, e.historyEntry(r.ID, nil, ActionEnded, nil, notes))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to end route: %w", err)
	}

	log.Printf("🏁 Route %s ended with %d/%d stops collected", route.ID, route.CollectedStops(), len(route.Stops))
	e.releaseUncollected(ctx, route)
	return route, nil
}

// Cancel abandons a planned or in-progress route
func (e *Engine) Cancel(ctx context.Context, id, reason string) (*models.Route, error) {
	route, err := e.mutate(ctx, id, func(tx store.Store, r *models.Route) error {
		if r.Status != models.RouteStatusPlanned && r.Status != models.RouteStatusInProgress {
			return apperr.InvalidState("route %s is %s", r.ID, r.Status)
		}
		r.Status = models.RouteStatusCanceled
		if reason = strings.TrimSpace(reason); reason != "" {
			r.Notes = appendNote(r.Notes, "Canceled: "+reason)
		}
		return tx.AddRouteHistory(ctx, e.historyEntry(r.ID, nil, ActionCanceled, nil, reason))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel route: %w", err)
	}

	log.Printf("🚫 Route %s canceled", route.ID)
	e.releaseUncollected(ctx, route)
	return route, nil
}

// releaseUncollected hands the bins of stops the route never reached back to
// their fill-derived status. Bins another running route still covers stay
// in progress. Failures are logged only.
func (e *Engine) releaseUncollected(ctx context.Context, route *models.Route) {
	if e.bins == nil {
		return
	}

	active, err := e.store.ListRoutes(ctx, store.RouteFilter{Status: models.RouteStatusInProgress})
	if err != nil {
		log.Printf("⚠️  Route %s: could not list running routes, bins left as is: %v", route.ID, err)
		return
	}
	held := make(map[string]bool)
	for _, r := range active {
		if r.ID == route.ID {
			continue
		}
		for _, stop := range r.Stops {
			if !stop.Collected {
				held[stop.BinID] = true
			}
		}
	}

	for _, stop := range route.Stops {
		if stop.Collected || held[stop.BinID] {
			continue
		}
		if _, err := e.bins.ReleaseInProgress(ctx, stop.BinID); err != nil {
			log.Printf("⚠️  Bin %s on route %s not released: %v", stop.BinID, route.ID, err)
		}
	}
}

func (e *Engine) Get(ctx context.Context, id string) (*models.Route, error) {
	return e.store.GetRoute(ctx, id)
}

func (e *Engine) List(ctx context.Context, f store.RouteFilter) ([]models.Route, error) {
	return e.store.ListRoutes(ctx, f)
}

// History returns the route's action log, oldest first
func (e *Engine) History(ctx context.Context, routeID string) ([]models.RouteHistoryEntry, error) {
	if _, err := e.store.GetRoute(ctx, routeID); err != nil {
		return nil, err
	}
	return e.store.ListRouteHistory(ctx, routeID)
}

func (e *Engine) historyEntry(routeID string, binID *string, action string, loc *models.Location, notes string) *models.RouteHistoryEntry {
	entry := &models.RouteHistoryEntry{
		ID:        uuid.New().String(),
		RouteID:   routeID,
		BinID:     binID,
		Action:    action,
		Notes:     notes,
		CreatedAt: e.clock.Now().Unix(),
	}
	if loc != nil {
		lat, lng := loc.Latitude, loc.Longitude
		entry.Latitude = &lat
		entry.Longitude = &lng
	}
	return entry
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
