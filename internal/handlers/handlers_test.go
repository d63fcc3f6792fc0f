package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"cleancity-backend/internal/bins"
	"cleancity-backend/internal/middleware"
	"cleancity-backend/internal/models"
	"cleancity-backend/internal/notify"
	"cleancity-backend/internal/rewards"
	"cleancity-backend/internal/routes"
	"cleancity-backend/internal/schedules"
	"cleancity-backend/internal/store/memstore"
)

const testSecret = "handler-test-secret"

type testServer struct {
	srv    *httptest.Server
	st     *memstore.Store
	clock  *clockwork.FakeClock
	tokens map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	clock := clockwork.NewFakeClockAt(time.Now().UTC().Truncate(time.Hour))

	dispatcher := notify.NewDispatcher(st, clock)
	ledger := rewards.NewLedger(st, dispatcher, clock, time.UTC)
	tracker := bins.NewTracker(st, ledger, dispatcher, nil, clock, 10)

	d := Deps{
		Store:     st,
		Bins:      tracker,
		Schedules: schedules.NewEngine(st, tracker, dispatcher, clock, time.UTC),
		Routes:    routes.NewEngine(st, tracker, nil, dispatcher, clock),
		Rewards:   ledger,
		Notifier:  dispatcher,
		Clock:     clock,
		JWTSecret: testSecret,
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	ts := &testServer{st: st, clock: clock, tokens: map[string]string{}}
	for _, u := range []struct{ id, role string }{
		{"admin-1", models.RoleAdmin},
		{"collector-1", models.RoleCollector},
		{"collector-2", models.RoleCollector},
		{"resident-1", models.RoleResident},
	} {
		user := &models.User{ID: u.id, Email: u.id + "@cleancity.local", Password: string(hash), Name: u.id, Role: u.role}
		if err := st.CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser(%s): %v", u.id, err)
		}
		token, err := middleware.IssueToken(testSecret, user, clock.Now())
		if err != nil {
			t.Fatalf("IssueToken: %v", err)
		}
		ts.tokens[u.id] = token
	}

	ts.srv = httptest.NewServer(NewRouter(d))
	t.Cleanup(ts.srv.Close)
	return ts
}

// do sends body as JSON and decodes the response into out when out is non-nil
func (ts *testServer) do(t *testing.T, method, path, as string, body, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+ts.tokens[as])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	var ok LoginResponse
	if code := ts.do(t, "POST", "/api/auth/login", "", LoginRequest{Email: "Resident-1@cleancity.local", Password: "secret123"}, &ok); code != http.StatusOK {
		t.Fatalf("login status = %d, want 200", code)
	}
	if !ok.OK || ok.Token == "" || ok.User == nil || ok.User.Role != models.RoleResident {
		t.Fatalf("login response = %+v", ok)
	}

	claims, err := middleware.ParseToken(testSecret, ok.Token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != "resident-1" {
		t.Fatalf("claims.UserID = %s, want resident-1", claims.UserID)
	}

	tests := []LoginRequest{
		{Email: "resident-1@cleancity.local", Password: "wrong"},
		{Email: "nobody@cleancity.local", Password: "secret123"},
	}
	for _, req := range tests {
		var resp LoginResponse
		if code := ts.do(t, "POST", "/api/auth/login", "", req, &resp); code != http.StatusUnauthorized {
			t.Fatalf("login(%s) status = %d, want 401", req.Email, code)
		}
		if resp.OK {
			t.Fatalf("login(%s) ok = true", req.Email)
		}
	}
}

func TestRoleGates(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		method, path, as string
		want             int
	}{
		{"GET", "/api/bins", "", http.StatusUnauthorized},
		{"GET", "/api/bins", "resident-1", http.StatusOK},
		{"GET", "/api/schedules", "resident-1", http.StatusForbidden},
		{"GET", "/api/schedules", "collector-1", http.StatusOK},
		{"POST", "/api/schedules", "collector-1", http.StatusForbidden},
		{"GET", "/api/users", "collector-1", http.StatusForbidden},
		{"GET", "/api/users", "admin-1", http.StatusOK},
		{"GET", "/api/rewards/balance?user_id=collector-1", "resident-1", http.StatusForbidden},
		{"GET", "/api/rewards/balance?user_id=resident-1", "admin-1", http.StatusOK},
	}
	for _, tt := range tests {
		if code := ts.do(t, tt.method, tt.path, tt.as, nil, nil); code != tt.want {
			t.Fatalf("%s %s as %q = %d, want %d", tt.method, tt.path, tt.as, code, tt.want)
		}
	}
}

func TestReportThenRouteCollection(t *testing.T) {
	ts := newTestServer(t)

	var bin models.BinResponse
	report := ReportBinRequest{FillLevel: 95, Address: "12 Elm St", WasteCategory: models.WasteRecyclable, Capacity: 240}
	if code := ts.do(t, "POST", "/api/bins/report", "resident-1", report, &bin); code != http.StatusCreated {
		t.Fatalf("report status = %d, want 201", code)
	}
	if bin.Status != models.BinStatusOverflow || !bin.NeedsCollection {
		t.Fatalf("reported bin = %+v, want overflow needing collection", bin)
	}

	var route models.Route
	create := routes.CreateInput{CollectorID: "collector-1", BinIDs: []string{bin.ID}}
	if code := ts.do(t, "POST", "/api/routes", "admin-1", create, &route); code != http.StatusCreated {
		t.Fatalf("create route status = %d, want 201", code)
	}

	if code := ts.do(t, "POST", "/api/routes/"+route.ID+"/stops/"+bin.ID+"/collect", "collector-1", nil, nil); code != http.StatusConflict {
		t.Fatalf("collect on planned route = %d, want 409", code)
	}
	if code := ts.do(t, "POST", "/api/routes/"+route.ID+"/start", "collector-1", nil, &route); code != http.StatusOK {
		t.Fatalf("start status = %d, want 200", code)
	}
	if code := ts.do(t, "POST", "/api/routes/"+route.ID+"/stops/"+bin.ID+"/collect", "collector-1", nil, &route); code != http.StatusOK {
		t.Fatalf("collect status = %d, want 200", code)
	}
	if route.Status != models.RouteStatusCompleted || route.CompletionRate != 100 {
		t.Fatalf("route = %s at %d%%, want completed at 100%%", route.Status, route.CompletionRate)
	}

	var balance map[string]interface{}
	ts.do(t, "GET", "/api/rewards/balance", "resident-1", nil, &balance)
	if balance["balance"] != float64(10) {
		t.Fatalf("reporter balance = %v, want 10", balance["balance"])
	}

	var inbox []models.Notification
	ts.do(t, "GET", "/api/notifications", "resident-1", nil, &inbox)
	if len(inbox) == 0 {
		t.Fatalf("resident inbox is empty, want reward notification")
	}
	if code := ts.do(t, "PUT", "/api/notifications/"+inbox[0].ID+"/read", "collector-1", nil, nil); code != http.StatusNotFound {
		t.Fatalf("mark another user's notification = %d, want 404", code)
	}
	if code := ts.do(t, "PUT", "/api/notifications/"+inbox[0].ID+"/read", "resident-1", nil, nil); code != http.StatusOK {
		t.Fatalf("mark read = %d, want 200", code)
	}
}

func TestScheduleLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	var bin models.BinResponse
	if code := ts.do(t, "POST", "/api/bins", "admin-1", bins.NewBin{Address: "1 Main St", FillLevel: 60, Capacity: 240}, &bin); code != http.StatusCreated {
		t.Fatalf("create bin status = %d, want 201", code)
	}

	in := schedules.CreateInput{
		BinID:         bin.ID,
		CollectorID:   "collector-1",
		ScheduledDate: ts.clock.Now().Add(time.Hour).Unix(),
		Recurrence:    models.RecurrenceWeekly,
	}
	var s models.Schedule
	if code := ts.do(t, "POST", "/api/schedules", "admin-1", in, &s); code != http.StatusCreated {
		t.Fatalf("create schedule status = %d, want 201", code)
	}
	if code := ts.do(t, "POST", "/api/schedules", "admin-1", in, nil); code != http.StatusConflict {
		t.Fatalf("second pending schedule = %d, want 409", code)
	}

	var mine, theirs []models.Schedule
	ts.do(t, "GET", "/api/schedules", "collector-1", nil, &mine)
	ts.do(t, "GET", "/api/schedules?collector_id=collector-1", "collector-2", nil, &theirs)
	if len(mine) != 1 || len(theirs) != 0 {
		t.Fatalf("collector views = %d and %d schedules, want 1 and 0", len(mine), len(theirs))
	}

	var result schedules.CompleteResult
	if code := ts.do(t, "POST", "/api/schedules/"+s.ID+"/complete", "collector-1", schedules.CompleteInput{ActualFillLevel: 70, DurationMinutes: 5}, &result); code != http.StatusOK {
		t.Fatalf("complete status = %d, want 200", code)
	}
	if result.Next == nil || result.Next.ScheduledDate != s.ScheduledDate+7*24*3600 {
		t.Fatalf("next = %+v, want a weekly successor", result.Next)
	}

	if code := ts.do(t, "POST", "/api/schedules/"+s.ID+"/complete", "collector-1", nil, nil); code != http.StatusConflict {
		t.Fatalf("second complete = %d, want 409", code)
	}
	if code := ts.do(t, "POST", "/api/schedules/missing/complete", "collector-1", nil, nil); code != http.StatusNotFound {
		t.Fatalf("complete unknown = %d, want 404", code)
	}

	var resched schedules.RescheduleResult
	body := RescheduleRequest{NewDate: result.Next.ScheduledDate + 24*3600, Reason: "holiday"}
	if code := ts.do(t, "POST", "/api/schedules/"+result.Next.ID+"/reschedule", "admin-1", body, &resched); code != http.StatusOK {
		t.Fatalf("reschedule status = %d, want 200", code)
	}
	if resched.Old.Status != models.ScheduleStatusRescheduled || resched.New.Status != models.ScheduleStatusPending {
		t.Fatalf("reschedule = %s/%s, want rescheduled/pending", resched.Old.Status, resched.New.Status)
	}

	var collected models.BinResponse
	ts.do(t, "GET", "/api/bins/"+bin.ID, "resident-1", nil, &collected)
	if collected.FillLevel != 0 || collected.LastCollectedIso == nil {
		t.Fatalf("bin after completion = %+v, want emptied", collected)
	}
}

func TestCreateUserAndDevice(t *testing.T) {
	ts := newTestServer(t)

	req := CreateUserRequest{Email: "new@cleancity.local", Password: "pw", Name: "New", Role: models.RoleCollector}
	if code := ts.do(t, "POST", "/api/users", "admin-1", req, nil); code != http.StatusCreated {
		t.Fatalf("create user status = %d, want 201", code)
	}
	if code := ts.do(t, "POST", "/api/users", "admin-1", req, nil); code != http.StatusConflict {
		t.Fatalf("duplicate user status = %d, want 409", code)
	}
	req.Email, req.Role = "other@cleancity.local", "driver"
	if code := ts.do(t, "POST", "/api/users", "admin-1", req, nil); code != http.StatusBadRequest {
		t.Fatalf("bad role status = %d, want 400", code)
	}

	if code := ts.do(t, "POST", "/api/devices", "resident-1", RegisterDeviceRequest{Token: "tok-1", DeviceType: "ios"}, nil); code != http.StatusOK {
		t.Fatalf("register device = %d, want 200", code)
	}
	tokens, err := ts.st.ListDeviceTokens(context.Background(), "resident-1")
	if err != nil || len(tokens) != 1 {
		t.Fatalf("ListDeviceTokens = %v, %v; want one token", tokens, err)
	}
	if code := ts.do(t, "POST", "/api/devices", "resident-1", RegisterDeviceRequest{Token: "tok-2", DeviceType: "pager"}, nil); code != http.StatusBadRequest {
		t.Fatalf("bad device type = %d, want 400", code)
	}
}
