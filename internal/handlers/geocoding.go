package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"

	"cleancity-backend/internal/models"
	"cleancity-backend/pkg/utils"
)

// AddressLookup resolves addresses to coordinates and back
type AddressLookup interface {
	Geocode(ctx context.Context, address string) (*models.Location, error)
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

type GeocodeRequest struct {
	Address string `json:"address"`
}

// Geocode converts an address into coordinates
func Geocode(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Geocoder == nil {
			utils.RespondError(w, http.StatusServiceUnavailable, "Geocoding is not configured")
			return
		}
		var req GeocodeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Address) == "" {
			utils.RespondError(w, http.StatusBadRequest, "address is required")
			return
		}

		loc, err := d.Geocoder.Geocode(r.Context(), req.Address)
		if err != nil {
			log.Printf("❌ Geocoding failed for %q: %v", req.Address, err)
			utils.RespondError(w, http.StatusBadGateway, "Geocoding failed")
			return
		}
		utils.RespondJSON(w, http.StatusOK, loc)
	}
}

// ReverseGeocode converts ?lat=&lng= into a formatted address
func ReverseGeocode(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Geocoder == nil {
			utils.RespondError(w, http.StatusServiceUnavailable, "Geocoding is not configured")
			return
		}
		lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
		lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
		if errLat != nil || errLng != nil {
			utils.RespondError(w, http.StatusBadRequest, "lat and lng are required")
			return
		}

		address, err := d.Geocoder.ReverseGeocode(r.Context(), lat, lng)
		if err != nil {
			log.Printf("❌ Reverse geocoding failed for %f,%f: %v", lat, lng, err)
			utils.RespondError(w, http.StatusBadGateway, "Reverse geocoding failed")
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"latitude":  lat,
			"longitude": lng,
			"address":   address,
		})
	}
}
