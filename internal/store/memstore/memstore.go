// Package memstore is an in-memory store.Store used by engine tests and
// STORAGE=memory development runs.
package memstore

import (
	"context"
	"sort"
	"sync"

	"cleancity-backend/internal/apperr"
	"cleancity-backend/internal/models"
	"cleancity-backend/internal/store"
)

type state struct {
	bins          map[string]models.Bin
	schedules     map[string]models.Schedule
	routes        map[string]models.Route
	history       []models.RouteHistoryEntry
	users         map[string]models.User
	transactions  []models.RewardTransaction
	seq           int64
	items         map[string]models.RewardItem
	redemptions   []models.Redemption
	notifications []models.Notification
	tokens        map[string]models.DeviceToken // keyed by token
}

func newState() *state {
	return &state{
		bins:      make(map[string]models.Bin),
		schedules: make(map[string]models.Schedule),
		routes:    make(map[string]models.Route),
		users:     make(map[string]models.User),
		items:     make(map[string]models.RewardItem),
		tokens:    make(map[string]models.DeviceToken),
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.bins {
		c.bins[k] = v
	}
	for k, v := range st.schedules {
		c.schedules[k] = v
	}
	for k, v := range st.routes {
		c.routes[k] = copyRoute(v)
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.items {
		c.items[k] = v
	}
	for k, v := range st.tokens {
		c.tokens[k] = v
	}
	c.history = append([]models.RouteHistoryEntry(nil), st.history...)
	c.transactions = append([]models.RewardTransaction(nil), st.transactions...)
	c.redemptions = append([]models.Redemption(nil), st.redemptions...)
	c.notifications = append([]models.Notification(nil), st.notifications...)
	c.seq = st.seq
	return c
}

func copyRoute(r models.Route) models.Route {
	r.Stops = append([]models.RouteStop(nil), r.Stops...)
	return r
}

// Store keeps every entity in maps guarded by one mutex. A unit of work holds
// the mutex for its whole duration and works on a copy of the state that is
// swapped in on commit.
type Store struct {
	mu   *sync.Mutex
	st   *state
	inTx bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState()}
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	tx := &Store{mu: s.mu, st: work, inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	*s.st = *work
	return nil
}

// ==================== BINS ====================

func (s *Store) GetBin(ctx context.Context, id string) (*models.Bin, error) {
	defer s.lock()()
	b, ok := s.st.bins[id]
	if !ok {
		return nil, apperr.NotFound("bin", id)
	}
	return &b, nil
}

func (s *Store) ListBins(ctx context.Context, f store.BinFilter) ([]models.Bin, error) {
	defer s.lock()()
	bins := []models.Bin{}
	for _, b := range s.st.bins {
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.WasteCategory != "" && b.WasteCategory != f.WasteCategory {
			continue
		}
		if f.ReportedBy != "" && (b.ReportedBy == nil || *b.ReportedBy != f.ReportedBy) {
			continue
		}
		if b.FillLevel < f.MinFillLevel {
			continue
		}
		bins = append(bins, b)
	}
	sort.Slice(bins, func(i, j int) bool {
		if bins[i].CreatedAt != bins[j].CreatedAt {
			return bins[i].CreatedAt < bins[j].CreatedAt
		}
		return bins[i].ID < bins[j].ID
	})
	return bins, nil
}

func (s *Store) CreateBin(ctx context.Context, b *models.Bin) error {
	defer s.lock()()
	if _, exists := s.st.bins[b.ID]; exists {
		return apperr.InvalidState("bin %s already exists", b.ID)
	}
	b.Version = 1
	s.st.bins[b.ID] = *b
	return nil
}

func (s *Store) UpdateBin(ctx context.Context, b *models.Bin) error {
	defer s.lock()()
	cur, ok := s.st.bins[b.ID]
	if !ok {
		return apperr.NotFound("bin", b.ID)
	}
	if cur.Version != b.Version {
		return apperr.ErrConflict
	}
	b.Version++
	s.st.bins[b.ID] = *b
	return nil
}

func (s *Store) DeleteBin(ctx context.Context, id string) error {
	defer s.lock()()
	if _, ok := s.st.bins[id]; !ok {
		return apperr.NotFound("bin", id)
	}
	delete(s.st.bins, id)
	return nil
}

// ==================== SCHEDULES ====================

func (s *Store) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	defer s.lock()()
	sc, ok := s.st.schedules[id]
	if !ok {
		return nil, apperr.NotFound("schedule", id)
	}
	return &sc, nil
}

func (s *Store) ListSchedules(ctx context.Context, f store.ScheduleFilter) ([]models.Schedule, error) {
	defer s.lock()()
	list := []models.Schedule{}
	for _, sc := range s.st.schedules {
		if f.BinID != "" && sc.BinID != f.BinID {
			continue
		}
		if f.CollectorID != "" && sc.CollectorID != f.CollectorID {
			continue
		}
		if f.Status != "" && sc.Status != f.Status {
			continue
		}
		if f.From != nil && sc.ScheduledDate < *f.From {
			continue
		}
		if f.To != nil && sc.ScheduledDate >= *f.To {
			continue
		}
		list = append(list, sc)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].ScheduledDate != list[j].ScheduledDate {
			return list[i].ScheduledDate < list[j].ScheduledDate
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (s *Store) CreateSchedule(ctx context.Context, sc *models.Schedule) error {
	defer s.lock()()
	if _, exists := s.st.schedules[sc.ID]; exists {
		return apperr.InvalidState("schedule %s already exists", sc.ID)
	}
	sc.Version = 1
	s.st.schedules[sc.ID] = *sc
	return nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sc *models.Schedule) error {
	defer s.lock()()
	cur, ok := s.st.schedules[sc.ID]
	if !ok {
		return apperr.NotFound("schedule", sc.ID)
	}
	if cur.Version != sc.Version {
		return apperr.ErrConflict
	}
	sc.Version++
	s.st.schedules[sc.ID] = *sc
	return nil
}

// ==================== ROUTES ====================

func (s *Store) GetRoute(ctx context.Context, id string) (*models.Route, error) {
	defer s.lock()()
	r, ok := s.st.routes[id]
	if !ok {
		return nil, apperr.NotFound("route", id)
	}
	r = copyRoute(r)
	return &r, nil
}

func (s *Store) ListRoutes(ctx context.Context, f store.RouteFilter) ([]models.Route, error) {
	defer s.lock()()
	list := []models.Route{}
	for _, r := range s.st.routes {
		if f.CollectorID != "" && r.CollectorID != f.CollectorID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		list = append(list, copyRoute(r))
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt > list[j].CreatedAt
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (s *Store) CreateRoute(ctx context.Context, r *models.Route) error {
	defer s.lock()()
	if _, exists := s.st.routes[r.ID]; exists {
		return apperr.InvalidState("route %s already exists", r.ID)
	}
	r.Version = 1
	s.st.routes[r.ID] = copyRoute(*r)
	return nil
}

func (s *Store) UpdateRoute(ctx context.Context, r *models.Route) error {
	defer s.lock()()
	cur, ok := s.st.routes[r.ID]
	if !ok {
		return apperr.NotFound("route", r.ID)
	}
	if cur.Version != r.Version {
		return apperr.ErrConflict
	}
	r.Version++
	s.st.routes[r.ID] = copyRoute(*r)
	return nil
}

func (s *Store) AddRouteHistory(ctx context.Context, e *models.RouteHistoryEntry) error {
	defer s.lock()()
	s.st.history = append(s.st.history, *e)
	return nil
}

func (s *Store) ListRouteHistory(ctx context.Context, routeID string) ([]models.RouteHistoryEntry, error) {
	defer s.lock()()
	entries := []models.RouteHistoryEntry{}
	for _, e := range s.st.history {
		if e.RouteID == routeID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// ==================== USERS ====================

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	defer s.lock()()
	u, ok := s.st.users[id]
	if !ok {
		return nil, apperr.NotFound("user", id)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	defer s.lock()()
	for _, u := range s.st.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, apperr.NotFound("user", email)
}

func (s *Store) ListUsers(ctx context.Context, role string) ([]models.User, error) {
	defer s.lock()()
	users := []models.User{}
	for _, u := range s.st.users {
		if role != "" && u.Role != role {
			continue
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	defer s.lock()()
	if _, exists := s.st.users[u.ID]; exists {
		return apperr.InvalidState("user %s already exists", u.ID)
	}
	for _, other := range s.st.users {
		if other.Email == u.Email {
			return apperr.InvalidState("email %s already registered", u.Email)
		}
	}
	u.Version = 1
	s.st.users[u.ID] = *u
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, u *models.User) error {
	defer s.lock()()
	cur, ok := s.st.users[u.ID]
	if !ok {
		return apperr.NotFound("user", u.ID)
	}
	if cur.Version != u.Version {
		return apperr.ErrConflict
	}
	u.Version++
	u.RewardPoints = cur.RewardPoints
	s.st.users[u.ID] = *u
	return nil
}

func (s *Store) AddRewardPoints(ctx context.Context, userID string, delta int) (int, error) {
	defer s.lock()()
	u, ok := s.st.users[userID]
	if !ok {
		return 0, apperr.NotFound("user", userID)
	}
	if u.RewardPoints+delta < 0 {
		return u.RewardPoints, apperr.Precondition("insufficient reward balance: have %d, need %d", u.RewardPoints, -delta)
	}
	u.RewardPoints += delta
	s.st.users[userID] = u
	return u.RewardPoints, nil
}

// ==================== REWARDS ====================

func (s *Store) CreateRewardTransaction(ctx context.Context, t *models.RewardTransaction) error {
	defer s.lock()()
	s.st.seq++
	t.Seq = s.st.seq
	s.st.transactions = append(s.st.transactions, *t)
	return nil
}

func (s *Store) ListRewardTransactions(ctx context.Context, userID string) ([]models.RewardTransaction, error) {
	defer s.lock()()
	list := []models.RewardTransaction{}
	for _, t := range s.st.transactions {
		if t.UserID == userID {
			list = append(list, t)
		}
	}
	return list, nil
}

func (s *Store) GetRewardItem(ctx context.Context, id string) (*models.RewardItem, error) {
	defer s.lock()()
	item, ok := s.st.items[id]
	if !ok {
		return nil, apperr.NotFound("reward item", id)
	}
	return &item, nil
}

func (s *Store) GetRewardItemBySlug(ctx context.Context, slug string) (*models.RewardItem, error) {
	defer s.lock()()
	for _, item := range s.st.items {
		if item.Slug == slug {
			return &item, nil
		}
	}
	return nil, apperr.NotFound("reward item", slug)
}

func (s *Store) ListRewardItems(ctx context.Context, activeOnly bool) ([]models.RewardItem, error) {
	defer s.lock()()
	items := []models.RewardItem{}
	for _, item := range s.st.items {
		if activeOnly && !item.Active {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].PointsCost != items[j].PointsCost {
			return items[i].PointsCost < items[j].PointsCost
		}
		return items[i].Slug < items[j].Slug
	})
	return items, nil
}

func (s *Store) CreateRewardItem(ctx context.Context, item *models.RewardItem) error {
	defer s.lock()()
	for _, other := range s.st.items {
		if other.Slug == item.Slug {
			return apperr.InvalidState("reward item slug %s already exists", item.Slug)
		}
	}
	s.st.items[item.ID] = *item
	return nil
}

func (s *Store) UpdateRewardItem(ctx context.Context, item *models.RewardItem) error {
	defer s.lock()()
	if _, ok := s.st.items[item.ID]; !ok {
		return apperr.NotFound("reward item", item.ID)
	}
	s.st.items[item.ID] = *item
	return nil
}

func (s *Store) DecrementItemStock(ctx context.Context, itemID string) error {
	defer s.lock()()
	item, ok := s.st.items[itemID]
	if !ok {
		return apperr.NotFound("reward item", itemID)
	}
	if item.RemainingQuantity == models.UnlimitedQuantity {
		return nil
	}
	if item.RemainingQuantity <= 0 {
		return apperr.Precondition("reward item %s is out of stock", itemID)
	}
	item.RemainingQuantity--
	s.st.items[itemID] = item
	return nil
}

func (s *Store) CreateRedemption(ctx context.Context, r *models.Redemption) error {
	defer s.lock()()
	for _, existing := range s.st.redemptions {
		if existing.Code == r.Code {
			return apperr.InvalidState("redemption code %s already issued", r.Code)
		}
	}
	s.st.redemptions = append(s.st.redemptions, *r)
	return nil
}

func (s *Store) RedemptionCodeExists(ctx context.Context, code string) (bool, error) {
	defer s.lock()()
	for _, r := range s.st.redemptions {
		if r.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListRedemptions(ctx context.Context, userID string) ([]models.Redemption, error) {
	defer s.lock()()
	list := []models.Redemption{}
	for _, r := range s.st.redemptions {
		if r.UserID == userID {
			list = append(list, r)
		}
	}
	return list, nil
}

// ==================== NOTIFICATIONS ====================

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	defer s.lock()()
	s.st.notifications = append(s.st.notifications, *n)
	return nil
}

func (s *Store) FindRecentNotification(ctx context.Context, recipientID, notifType, related string, since int64) (*models.Notification, error) {
	defer s.lock()()
	for i := len(s.st.notifications) - 1; i >= 0; i-- {
		n := s.st.notifications[i]
		if n.RecipientID == recipientID && n.Type == notifType && n.RelatedEntity == related && n.CreatedAt >= since {
			return &n, nil
		}
	}
	return nil, apperr.NotFound("notification", recipientID+"/"+notifType)
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]models.Notification, error) {
	defer s.lock()()
	list := []models.Notification{}
	for i := len(s.st.notifications) - 1; i >= 0; i-- {
		n := s.st.notifications[i]
		if n.RecipientID != recipientID || (unreadOnly && n.Read) {
			continue
		}
		list = append(list, n)
	}
	return list, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, recipientID string) error {
	defer s.lock()()
	for i := range s.st.notifications {
		if s.st.notifications[i].ID == id && s.st.notifications[i].RecipientID == recipientID {
			s.st.notifications[i].Read = true
			return nil
		}
	}
	return apperr.NotFound("notification", id)
}

func (s *Store) UpsertDeviceToken(ctx context.Context, t *models.DeviceToken) error {
	defer s.lock()()
	// a token belongs to whichever user registered it last
	if existing, ok := s.st.tokens[t.Token]; ok {
		t.CreatedAt = existing.CreatedAt
	}
	s.st.tokens[t.Token] = *t
	return nil
}

func (s *Store) ListDeviceTokens(ctx context.Context, userID string) ([]models.DeviceToken, error) {
	defer s.lock()()
	tokens := []models.DeviceToken{}
	for _, t := range s.st.tokens {
		if t.UserID == userID {
			tokens = append(tokens, t)
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Token < tokens[j].Token })
	return tokens, nil
}
