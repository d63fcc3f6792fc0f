package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"cleancity-backend/pkg/utils"
)

// GetNotifications returns the caller's inbox, newest first
func GetNotifications(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := currentUser(w, r)
		if !ok {
			return
		}
		unreadOnly := r.URL.Query().Get("unread") == "true"
		list, err := d.Notifier.ListForUser(r.Context(), claims.UserID, unreadOnly)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, list)
	}
}

func MarkNotificationRead(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := currentUser(w, r)
		if !ok {
			return
		}
		if err := d.Notifier.MarkRead(r.Context(), claims.UserID, chi.URLParam(r, "id")); err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}
}
