package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cleancity-backend/internal/models"
)

type fakeLookup struct{}

func (fakeLookup) Geocode(ctx context.Context, address string) (*models.Location, error) {
	if address == "nowhere" {
		return nil, errors.New("ZERO_RESULTS")
	}
	return &models.Location{Latitude: 37.33, Longitude: -121.89}, nil
}

func (fakeLookup) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	return "1 Test Plaza", nil
}

func TestGeocodeHandlers(t *testing.T) {
	d := Deps{Geocoder: fakeLookup{}}

	tests := []struct {
		name    string
		handler http.HandlerFunc
		req     *http.Request
		want    int
	}{
		{"forward", Geocode(d), httptest.NewRequest("POST", "/api/geocoding/forward", strings.NewReader(`{"address":"1 Main St"}`)), http.StatusOK},
		{"forward empty", Geocode(d), httptest.NewRequest("POST", "/api/geocoding/forward", strings.NewReader(`{"address":" "}`)), http.StatusBadRequest},
		{"forward upstream failure", Geocode(d), httptest.NewRequest("POST", "/api/geocoding/forward", strings.NewReader(`{"address":"nowhere"}`)), http.StatusBadGateway},
		{"reverse", ReverseGeocode(d), httptest.NewRequest("GET", "/api/geocoding/reverse?lat=37.3&lng=-121.9", nil), http.StatusOK},
		{"reverse missing lng", ReverseGeocode(d), httptest.NewRequest("GET", "/api/geocoding/reverse?lat=37.3", nil), http.StatusBadRequest},
		{"not configured", Geocode(Deps{}), httptest.NewRequest("POST", "/api/geocoding/forward", strings.NewReader(`{"address":"x"}`)), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		tt.handler(rec, tt.req)
		if rec.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}

	rec := httptest.NewRecorder()
	ReverseGeocode(d)(rec, httptest.NewRequest("GET", "/api/geocoding/reverse?lat=1&lng=2", nil))
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["address"] != "1 Test Plaza" {
		t.Fatalf("address = %v, want 1 Test Plaza", body["address"])
	}
}
