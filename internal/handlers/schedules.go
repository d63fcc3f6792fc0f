package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cleancity-backend/internal/models"
	"cleancity-backend/internal/schedules"
	"cleancity-backend/internal/store"
	"cleancity-backend/pkg/utils"
)

func CreateSchedule(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req schedules.CreateInput
		if !decodeBody(w, r, &req) {
			return
		}
		s, err := d.Schedules.Create(r.Context(), req)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusCreated, s)
	}
}

// GetSchedules lists schedules. Collectors only ever see their own.
func GetSchedules(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := currentUser(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		f := store.ScheduleFilter{
			BinID:       q.Get("bin_id"),
			CollectorID: q.Get("collector_id"),
			Status:      models.ScheduleStatus(q.Get("status")),
		}
		if claims.Role == models.RoleCollector {
			f.CollectorID = claims.UserID
		}

		var err error
		if f.From, err = queryInt64(r, "from"); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "from must be a unix timestamp")
			return
		}
		if f.To, err = queryInt64(r, "to"); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "to must be a unix timestamp")
			return
		}

		list, err := d.Schedules.List(r.Context(), f)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, list)
	}
}

func GetSchedule(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := d.Schedules.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, s)
	}
}

func CompleteSchedule(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req schedules.CompleteInput
		if !optionalBody(w, r, &req) {
			return
		}
		result, err := d.Schedules.Complete(r.Context(), chi.URLParam(r, "id"), req)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, result)
	}
}

type RescheduleRequest struct {
	NewDate int64  `json:"new_date"`
	Reason  string `json:"reason"`
}

func RescheduleSchedule(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RescheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.NewDate == 0 {
			utils.RespondError(w, http.StatusBadRequest, "new_date is required")
			return
		}
		result, err := d.Schedules.Reschedule(r.Context(), chi.URLParam(r, "id"), req.NewDate, req.Reason)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, result)
	}
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

func CancelSchedule(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReasonRequest
		if !optionalBody(w, r, &req) {
			return
		}
		s, err := d.Schedules.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, s)
	}
}

// SweepSchedules runs the overdue review on demand
func SweepSchedules(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changed, err := d.Schedules.SweepOverdue(r.Context())
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		log.Printf("⏰ Manual overdue sweep changed %d schedule(s)", changed)
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"changed": changed})
	}
}
