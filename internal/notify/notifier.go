// Package notify persists user-facing alerts and fans them out to delivery
// sinks such as the websocket hub and FCM push.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"cleancity-backend/internal/apperr"
	"cleancity-backend/internal/models"
	"cleancity-backend/internal/store"
)

// DedupWindow is how long an identical (recipient, type, related entity)
// notification is suppressed after the first one
const DedupWindow = 5 * time.Minute

// Request is one alert raised by a lifecycle engine
type Request struct {
	RecipientID string
	Type        string
	Title       string
	Message     string
	Priority    string
	Related     string // "kind:id", see models.EntityRef
}

// Notifier is what the engines depend on. Implementations must honour the
// dedup window.
type Notifier interface {
	Notify(ctx context.Context, req Request) error
}

// Sink delivers a stored notification to a user. Delivery is best-effort.
type Sink interface {
	Deliver(ctx context.Context, n *models.Notification) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, n *models.Notification) error

func (f SinkFunc) Deliver(ctx context.Context, n *models.Notification) error {
	return f(ctx, n)
}

type Dispatcher struct {
	store store.NotificationRepository
	clock clockwork.Clock
	sinks []Sink

	mu sync.Mutex // serializes the dedup check with the insert
}

var _ Notifier = (*Dispatcher)(nil)

func NewDispatcher(st store.NotificationRepository, clock clockwork.Clock, sinks ...Sink) *Dispatcher {
	return &Dispatcher{store: st, clock: clock, sinks: sinks}
}

// AddSink registers another delivery channel
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Notify stores the notification unless an identical one was sent within
// DedupWindow, then hands it to every sink. Sink failures are logged only.
func (d *Dispatcher) Notify(ctx context.Context, req Request) error {
	if req.RecipientID == "" || req.Type == "" {
		return apperr.Validation("notification needs a recipient and a type")
	}
	if req.Priority == "" {
		req.Priority = models.NotificationNormal
	}

	n, err := d.record(ctx, req)
	if err != nil || n == nil {
		return err
	}

	d.mu.Lock()
	sinks := append([]Sink(nil), d.sinks...)
	d.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Deliver(ctx, n); err != nil {
			log.Printf("⚠️  Failed to deliver notification %s (%s) to %s: %v", n.ID, n.Type, n.RecipientID, err)
		}
	}
	return nil
}

// record returns nil, nil when the request is a duplicate
func (d *Dispatcher) record(ctx context.Context, req Request) (*models.Notification, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	since := now.Add(-DedupWindow).Unix()

	_, err := d.store.FindRecentNotification(ctx, req.RecipientID, req.Type, req.Related, since)
	if err == nil {
		log.Printf("🔕 Suppressed duplicate %s notification for %s (%s)", req.Type, req.RecipientID, req.Related)
		return nil, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("failed to check recent notifications: %w", err)
	}

	n := &models.Notification{
		ID:            uuid.New().String(),
		RecipientID:   req.RecipientID,
		Type:          req.Type,
		Title:         req.Title,
		Message:       req.Message,
		Priority:      req.Priority,
		RelatedEntity: req.Related,
		CreatedAt:     now.Unix(),
	}
	if err := d.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to save notification: %w", err)
	}
	return n, nil
}

func (d *Dispatcher) ListForUser(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	return d.store.ListNotifications(ctx, userID, unreadOnly)
}

func (d *Dispatcher) MarkRead(ctx context.Context, userID, notificationID string) error {
	return d.store.MarkNotificationRead(ctx, notificationID, userID)
}

// Send is the fire-and-forget form used by engines after a state change has
// been committed. A nil notifier is allowed.
func Send(ctx context.Context, n Notifier, req Request) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, req); err != nil {
		log.Printf("⚠️  Failed to send %s notification to %s: %v", req.Type, req.RecipientID, err)
	}
}
