package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"cleancity-backend/internal/bins"
	"cleancity-backend/internal/models"
	"cleancity-backend/internal/store"
	"cleancity-backend/internal/websocket"
	"cleancity-backend/pkg/utils"
)

func binResponses(list []models.Bin) []models.BinResponse {
	resp := make([]models.BinResponse, 0, len(list))
	for i := range list {
		resp = append(resp, list[i].ToBinResponse(bins.NeedsCollection(&list[i])))
	}
	return resp
}

func respondBin(w http.ResponseWriter, status int, b *models.Bin) {
	utils.RespondJSON(w, status, b.ToBinResponse(bins.NeedsCollection(b)))
}

// alertOverflow pushes overflowing bins to connected admins
func alertOverflow(d Deps, b *models.Bin) {
	if d.Hub == nil || b.Status != models.BinStatusOverflow {
		return
	}
	d.Hub.BroadcastToRole(models.RoleAdmin, websocket.Event{Type: "bin_overflow", Data: b.ToBinResponse(true)})
}

// GetBins returns bins, highest priority first
func GetBins(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := store.BinFilter{
			Status:        models.BinStatus(q.Get("status")),
			WasteCategory: models.WasteCategory(q.Get("waste_category")),
			ReportedBy:    q.Get("reported_by"),
		}
		if raw := q.Get("min_fill"); raw != "" {
			level, err := strconv.Atoi(raw)
			if err != nil {
				utils.RespondError(w, http.StatusBadRequest, "min_fill must be an integer")
				return
			}
			f.MinFillLevel = level
		}

		list, err := d.Bins.List(r.Context(), f)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, binResponses(list))
	}
}

func GetBin(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bin, err := d.Bins.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		respondBin(w, http.StatusOK, bin)
	}
}

// CreateBin registers a bin on behalf of the city
func CreateBin(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bins.NewBin
		if !decodeBody(w, r, &req) {
			return
		}
		bin, err := d.Bins.Register(r.Context(), req)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		respondBin(w, http.StatusCreated, bin)
	}
}

type ReportBinRequest struct {
	BinID         string               `json:"bin_id"`
	FillLevel     int                  `json:"fill_level"`
	Address       string               `json:"address"`
	Latitude      *float64             `json:"latitude,omitempty"`
	Longitude     *float64             `json:"longitude,omitempty"`
	WasteCategory models.WasteCategory `json:"waste_category"`
	Capacity      int                  `json:"capacity"`
}

// ReportBin files a resident report, creating the bin when bin_id is empty
func ReportBin(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := currentUser(w, r)
		if !ok {
			return
		}
		var req ReportBinRequest
		if !decodeBody(w, r, &req) {
			return
		}

		bin, err := d.Bins.FileReport(r.Context(), bins.Report{
			BinID:         req.BinID,
			ReporterID:    claims.UserID,
			FillLevel:     req.FillLevel,
			Address:       req.Address,
			Latitude:      req.Latitude,
			Longitude:     req.Longitude,
			WasteCategory: req.WasteCategory,
			Capacity:      req.Capacity,
		})
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		alertOverflow(d, bin)

		status := http.StatusOK
		if req.BinID == "" {
			status = http.StatusCreated
		}
		respondBin(w, status, bin)
	}
}

type FillLevelRequest struct {
	FillLevel int `json:"fill_level"`
}

// UpdateFillLevel records a sensor or collector reading
func UpdateFillLevel(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FillLevelRequest
		if !decodeBody(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "id")
		priority, err := d.Bins.ReportFillLevel(r.Context(), id, req.FillLevel)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}

		bin, err := d.Bins.Get(r.Context(), id)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		alertOverflow(d, bin)
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"priority": priority,
			"bin":      bin.ToBinResponse(bins.NeedsCollection(bin)),
		})
	}
}

type CollectBinRequest struct {
	FillLevel *int   `json:"fill_level,omitempty"`
	Notes     string `json:"notes"`
}

// MarkBinCollected empties a bin outside of a route
func MarkBinCollected(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := currentUser(w, r)
		if !ok {
			return
		}
		var req CollectBinRequest
		if !optionalBody(w, r, &req) {
			return
		}
		bin, err := d.Bins.MarkCollected(r.Context(), chi.URLParam(r, "id"), claims.UserID, bins.CollectionReport{
			FillLevel: req.FillLevel,
			Notes:     req.Notes,
		})
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		respondBin(w, http.StatusOK, bin)
	}
}

type MaintenanceRequest struct {
	Maintenance bool `json:"maintenance"`
}

func SetBinMaintenance(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MaintenanceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		bin, err := d.Bins.SetMaintenance(r.Context(), chi.URLParam(r, "id"), req.Maintenance)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		respondBin(w, http.StatusOK, bin)
	}
}

func DeleteBin(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := d.Bins.Delete(r.Context(), id); err != nil {
			utils.RespondAppError(w, err)
			return
		}
		log.Printf("🗑️  Deleted bin %s", id)
		w.WriteHeader(http.StatusNoContent)
	}
}
