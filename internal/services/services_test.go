package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"firebase.google.com/go/v4/messaging"

	"cleancity-backend/internal/models"
	"cleancity-backend/internal/store/memstore"
)

func binAt(id string, lat, lng float64) models.Bin {
	return models.Bin{ID: id, Latitude: &lat, Longitude: &lng}
}

func TestOptimizeStopsNearestNeighbour(t *testing.T) {
	start := &models.Location{Latitude: 37.0, Longitude: -122.0}
	input := []models.Bin{
		binAt("far", 37.30, -122.0),
		{ID: "nowhere"},
		binAt("near", 37.01, -122.0),
		binAt("mid", 37.10, -122.0),
	}

	got, err := NewRouteOptimizer().OptimizeStops(context.Background(), start, input)
	if err != nil {
		t.Fatalf("OptimizeStops: %v", err)
	}
	want := []string{"near", "mid", "far", "nowhere"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, got[i].ID, want[i])
		}
	}
	if input[0].ID != "far" {
		t.Fatalf("input slice was reordered")
	}
}

func TestOptimizeStopsHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRouteOptimizer().OptimizeStops(ctx, nil, []models.Bin{binAt("a", 1, 1), binAt("b", 2, 2)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestHaversineDistance(t *testing.T) {
	// one degree of latitude is roughly 111 km
	d := haversineDistance(0, 0, 1, 0)
	if d < 110 || d > 112 {
		t.Fatalf("haversineDistance = %.2f, want ~111", d)
	}
}

func TestGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			http.Error(w, "no key", http.StatusForbidden)
			return
		}
		switch {
		case r.URL.Query().Get("address") == "1 Main St":
			fmt.Fprint(w, `{"status":"OK","results":[{"formatted_address":"1 Main St, San Jose","geometry":{"location":{"lat":37.33,"lng":-121.89}}}]}`)
		case r.URL.Query().Get("latlng") != "":
			fmt.Fprint(w, `{"status":"OK","results":[{"formatted_address":"1 Main St, San Jose","geometry":{"location":{"lat":37.33,"lng":-121.89}}}]}`)
		default:
			fmt.Fprint(w, `{"status":"ZERO_RESULTS","results":[]}`)
		}
	}))
	defer srv.Close()

	svc, err := NewGeocodingService("test-key")
	if err != nil {
		t.Fatalf("NewGeocodingService: %v", err)
	}
	svc.WithBaseURL(srv.URL)

	loc, err := svc.Geocode(context.Background(), "1 Main St")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if loc.Latitude != 37.33 || loc.Longitude != -121.89 {
		t.Fatalf("Geocode = %+v, want 37.33,-121.89", loc)
	}

	if _, err := svc.Geocode(context.Background(), "nowhere"); err == nil {
		t.Fatalf("Geocode(nowhere) succeeded, want error")
	}

	addr, err := svc.ReverseGeocode(context.Background(), 37.33, -121.89)
	if err != nil || addr != "1 Main St, San Jose" {
		t.Fatalf("ReverseGeocode = %q, %v", addr, err)
	}

	if _, err := NewGeocodingService(""); err == nil {
		t.Fatalf("NewGeocodingService without key succeeded, want error")
	}
}

type fakeMessenger struct {
	sent []*messaging.MulticastMessage
}

func (f *fakeMessenger) SendEachForMulticast(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.sent = append(f.sent, m)
	return &messaging.BatchResponse{SuccessCount: len(m.Tokens)}, nil
}

func TestFCMDeliver(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	for _, tok := range []string{"tok-a", "tok-b"} {
		if err := st.UpsertDeviceToken(ctx, &models.DeviceToken{UserID: "user-1", Token: tok, DeviceType: "android"}); err != nil {
			t.Fatalf("UpsertDeviceToken: %v", err)
		}
	}

	fake := &fakeMessenger{}
	svc := NewFCMServiceWithClient(fake, st)

	n := &models.Notification{ID: "n-1", RecipientID: "user-1", Type: models.NotifyBinOverflow, Title: "Full", Message: "Bin full", Priority: models.NotificationHigh, RelatedEntity: "bin:1"}
	if err := svc.Deliver(ctx, n); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(fake.sent))
	}
	msg := fake.sent[0]
	if len(msg.Tokens) != 2 || msg.Android.Priority != "high" || msg.Data["related"] != "bin:1" {
		t.Fatalf("message = %+v", msg)
	}

	// no devices, nothing sent
	if err := svc.Deliver(ctx, &models.Notification{ID: "n-2", RecipientID: "user-2", Type: models.NotifyBinCollected}); err != nil {
		t.Fatalf("Deliver(no devices): %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("sent = %d after deliver to user without devices, want 1", len(fake.sent))
	}
}
