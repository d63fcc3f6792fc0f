package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"cleancity-backend/internal/middleware"
	"cleancity-backend/internal/models"
	"cleancity-backend/internal/websocket"
)

// NewRouter wires every endpoint onto a chi router
func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Authentication routes (no auth required)
	r.Post("/api/auth/login", Login(d))

	// WebSocket endpoint (authentication handled in handler via query param)
	if d.Hub != nil {
		r.Get("/ws", websocket.HandleWebSocket(d.Hub, d.JWTSecret))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(d.JWTSecret))

		r.Get("/auth/me", Me(d))
		r.Post("/devices", RegisterDevice(d))

		r.Post("/geocoding/forward", Geocode(d))
		r.Get("/geocoding/reverse", ReverseGeocode(d))

		// Bins
		r.Get("/bins", GetBins(d))
		r.Get("/bins/{id}", GetBin(d))
		r.Post("/bins/report", ReportBin(d))

		// Notifications
		r.Get("/notifications", GetNotifications(d))
		r.Put("/notifications/{id}/read", MarkNotificationRead(d))

		// Rewards
		r.Get("/rewards/balance", GetRewardBalance(d))
		r.Get("/rewards/history", GetRewardHistory(d))
		r.Get("/rewards/items", GetRewardItems(d))
		r.Get("/rewards/items/{ref}", GetRewardItem(d))
		r.Post("/rewards/items/{ref}/redeem", RedeemRewardItem(d))
		r.Get("/rewards/redemptions", GetRedemptions(d))

		// Field work (collectors and admins)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleCollector, models.RoleAdmin))

			r.Put("/bins/{id}/fill", UpdateFillLevel(d))
			r.Post("/bins/{id}/collected", MarkBinCollected(d))

			r.Get("/schedules", GetSchedules(d))
			r.Get("/schedules/{id}", GetSchedule(d))
			r.Post("/schedules/{id}/complete", CompleteSchedule(d))

			r.Get("/routes", GetRoutes(d))
			r.Get("/routes/{id}", GetRoute(d))
			r.Get("/routes/{id}/history", GetRouteHistory(d))
			r.Post("/routes/{id}/start", StartRoute(d))
			r.Post("/routes/{id}/stops/{binID}/collect", CollectRouteStop(d))
			r.Post("/routes/{id}/end", EndRoute(d))
		})

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleAdmin))

			r.Post("/users", CreateUser(d))
			r.Get("/users", ListUsers(d))

			r.Post("/bins", CreateBin(d))
			r.Put("/bins/{id}/maintenance", SetBinMaintenance(d))
			r.Delete("/bins/{id}", DeleteBin(d))

			r.Post("/schedules", CreateSchedule(d))
			r.Post("/schedules/sweep", SweepSchedules(d))
			r.Post("/schedules/{id}/reschedule", RescheduleSchedule(d))
			r.Post("/schedules/{id}/cancel", CancelSchedule(d))

			r.Post("/routes", CreateRoute(d))
			r.Post("/routes/{id}/cancel", CancelRoute(d))

			r.Post("/rewards/grant", GrantRewards(d))
			r.Post("/rewards/adjust", AdjustRewards(d))
			r.Get("/rewards/reconcile/{userID}", ReconcileRewards(d))
			r.Post("/rewards/items", CreateRewardItem(d))
			r.Put("/rewards/items/{ref}/active", SetRewardItemActive(d))
		})
	})

	return r
}
