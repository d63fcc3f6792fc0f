package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"cleancity-backend/internal/models"
	"cleancity-backend/internal/routes"
	"cleancity-backend/internal/store"
	"cleancity-backend/pkg/utils"
)

func CreateRoute(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req routes.CreateInput
		if !decodeBody(w, r, &req) {
			return
		}
		route, err := d.Routes.Create(r.Context(), req)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusCreated, route)
	}
}

// GetRoutes lists routes. Collectors only ever see their own.
func GetRoutes(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := currentUser(w, r)
		if !ok {
			return
		}
		f := store.RouteFilter{
			CollectorID: r.URL.Query().Get("collector_id"),
			Status:      models.RouteStatus(r.URL.Query().Get("status")),
		}
		if claims.Role == models.RoleCollector {
			f.CollectorID = claims.UserID
		}
		list, err := d.Routes.List(r.Context(), f)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, list)
	}
}

func GetRoute(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		route, err := d.Routes.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, route)
	}
}

func StartRoute(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		route, err := d.Routes.Start(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, route)
	}
}

// CollectRouteStop marks one bin of an in-progress route as collected
func CollectRouteStop(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req routes.StopCollection
		if !optionalBody(w, r, &req) {
			return
		}
		route, err := d.Routes.CollectStop(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "binID"), req)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, route)
	}
}

type EndRouteRequest struct {
	Notes string `json:"notes"`
}

func EndRoute(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EndRouteRequest
		if !optionalBody(w, r, &req) {
			return
		}
		route, err := d.Routes.End(r.Context(), chi.URLParam(r, "id"), req.Notes)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, route)
	}
}

func CancelRoute(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReasonRequest
		if !optionalBody(w, r, &req) {
			return
		}
		route, err := d.Routes.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, route)
	}
}

func GetRouteHistory(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := d.Routes.History(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, history)
	}
}
