package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"cleancity-backend/internal/models"
	"cleancity-backend/internal/rewards"
	"cleancity-backend/pkg/utils"
)

// subjectUser is the caller, or for admins the ?user_id= they asked about
func subjectUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := currentUser(w, r)
	if !ok {
		return "", false
	}
	if other := r.URL.Query().Get("user_id"); other != "" && other != claims.UserID {
		if claims.Role != models.RoleAdmin {
			utils.RespondError(w, http.StatusForbidden, "Forbidden: insufficient permissions")
			return "", false
		}
		return other, true
	}
	return claims.UserID, true
}

func GetRewardBalance(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := subjectUser(w, r)
		if !ok {
			return
		}
		balance, err := d.Rewards.Balance(r.Context(), userID)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"user_id": userID,
			"balance": balance,
		})
	}
}

func GetRewardHistory(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := subjectUser(w, r)
		if !ok {
			return
		}
		history, err := d.Rewards.History(r.Context(), userID)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, history)
	}
}

func ReconcileRewards(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := d.Rewards.Reconcile(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, rec)
	}
}

type GrantRequest struct {
	UserID      string `json:"user_id"`
	Points      int    `json:"points"`
	Description string `json:"description"`
}

// GrantRewards credits points by hand
func GrantRewards(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := currentUser(w, r)
		if !ok {
			return
		}
		var req GrantRequest
		if !decodeBody(w, r, &req) {
			return
		}
		txn, err := d.Rewards.Grant(r.Context(), req.UserID, req.Points, models.SourceAdmin, claims.UserID, req.Description)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusCreated, txn)
	}
}

type AdjustRequest struct {
	UserID string `json:"user_id"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

func AdjustRewards(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AdjustRequest
		if !decodeBody(w, r, &req) {
			return
		}
		txn, err := d.Rewards.Adjust(r.Context(), req.UserID, req.Delta, req.Reason)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusCreated, txn)
	}
}

// GetRewardItems lists the catalogue. Admins may pass ?all=true to include inactive items.
func GetRewardItems(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := currentUser(w, r)
		if !ok {
			return
		}
		activeOnly := !(claims.Role == models.RoleAdmin && r.URL.Query().Get("all") == "true")
		items, err := d.Rewards.ListItems(r.Context(), activeOnly)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, items)
	}
}

func GetRewardItem(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := d.Rewards.GetItem(r.Context(), chi.URLParam(r, "ref"))
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, item)
	}
}

func CreateRewardItem(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rewards.ItemInput
		if !decodeBody(w, r, &req) {
			return
		}
		item, err := d.Rewards.CreateItem(r.Context(), req)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusCreated, item)
	}
}

type ItemActiveRequest struct {
	Active bool `json:"active"`
}

func SetRewardItemActive(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ItemActiveRequest
		if !decodeBody(w, r, &req) {
			return
		}
		item, err := d.Rewards.SetItemActive(r.Context(), chi.URLParam(r, "ref"), req.Active)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, item)
	}
}

// RedeemRewardItem spends the caller's points on a catalogue item
func RedeemRewardItem(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := currentUser(w, r)
		if !ok {
			return
		}
		result, err := d.Rewards.Redeem(r.Context(), claims.UserID, chi.URLParam(r, "ref"))
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusCreated, result)
	}
}

func GetRedemptions(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := subjectUser(w, r)
		if !ok {
			return
		}
		list, err := d.Rewards.Redemptions(r.Context(), userID)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, list)
	}
}
