package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/jonboulle/clockwork"

	"cleancity-backend/internal/bins"
	"cleancity-backend/internal/middleware"
	"cleancity-backend/internal/notify"
	"cleancity-backend/internal/rewards"
	"cleancity-backend/internal/routes"
	"cleancity-backend/internal/schedules"
	"cleancity-backend/internal/store"
	"cleancity-backend/internal/websocket"
	"cleancity-backend/pkg/utils"
)

// Deps is everything the HTTP layer talks to
type Deps struct {
	Store     store.Store
	Bins      *bins.Tracker
	Schedules *schedules.Engine
	Routes    *routes.Engine
	Rewards   *rewards.Ledger
	Notifier  *notify.Dispatcher
	Hub       *websocket.Hub
	Geocoder  AddressLookup // optional
	Clock     clockwork.Clock
	JWTSecret string
}

// decodeBody reads a JSON body into v and answers 400 on failure
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		log.Printf("❌ Invalid request body: %v", err)
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// optionalBody is decodeBody for endpoints whose body may be empty
func optionalBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decodeBody(w, r, v)
}

func currentUser(w http.ResponseWriter, r *http.Request) (middleware.UserClaims, bool) {
	claims, ok := middleware.GetUserFromContext(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return claims, ok
}

// queryInt64 parses an optional integer query parameter
func queryInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
