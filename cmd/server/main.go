package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"cleancity-backend/internal/bins"
	"cleancity-backend/internal/config"
	"cleancity-backend/internal/database"
	"cleancity-backend/internal/handlers"
	"cleancity-backend/internal/notify"
	"cleancity-backend/internal/rewards"
	"cleancity-backend/internal/routes"
	"cleancity-backend/internal/schedules"
	"cleancity-backend/internal/services"
	"cleancity-backend/internal/store"
	"cleancity-backend/internal/store/memstore"
	"cleancity-backend/internal/websocket"
)

func fatal(what string, err error) {
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Printf("❌ FATAL ERROR: %s", what)
	log.Printf("   Error: %v", err)
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Fatal(err)
}

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚀 CLEANCITY BACKEND SERVER STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	cfg, err := config.Load()
	if err != nil {
		fatal("Invalid configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	var st store.Store
	switch cfg.Storage {
	case config.StorageMemory:
		log.Println("⚠️  Using in-memory storage, data is lost on restart")
		st = memstore.New()
	default:
		log.Println("🔌 Connecting to database...")
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			fatal("Database connection failed", err)
		}
		defer db.Close()
		log.Println("✅ Database connection established")

		log.Println("🔄 Running database migrations...")
		if err := database.Migrate(db); err != nil {
			fatal("Database migrations failed", err)
		}
		log.Println("✅ Database migrations completed")
		st = database.NewStore(db)
	}

	if cfg.SeedOnStart || cfg.Storage == config.StorageMemory {
		log.Println("🌱 Seeding database with initial data...")
		if err := database.SeedUsers(ctx, st, clock.Now()); err != nil {
			fatal("User seeding failed", err)
		}
		if err := database.SeedBins(ctx, st, clock.Now()); err != nil {
			fatal("Bins seeding failed", err)
		}
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub()
	go wsHub.Run(ctx)
	log.Println("✅ WebSocket hub started")

	dispatcher := notify.NewDispatcher(st, clock, wsHub)

	// Firebase Cloud Messaging supports both base64 credentials (cloud
	// deployments) and a credentials file (local development)
	var fcmService *services.FCMService
	if cfg.FirebaseCredentialsBase64 != "" {
		fcmService, err = services.NewFCMServiceFromBase64(cfg.FirebaseCredentialsBase64, st)
	} else {
		fcmService, err = services.NewFCMService(cfg.FirebaseCredentialsFile, st)
	}
	if err != nil {
		log.Printf("⚠️  Failed to initialize FCM: %v (push notifications disabled)", err)
	} else {
		dispatcher.AddSink(fcmService)
		log.Println("✅ Firebase Cloud Messaging initialized")
	}

	var geocoder *services.GeocodingService
	if cfg.GoogleMapsAPIKey != "" {
		geocoder, err = services.NewGeocodingService(cfg.GoogleMapsAPIKey)
		if err != nil {
			log.Printf("⚠️  Geocoding disabled: %v", err)
		} else {
			log.Println("✅ Google geocoding enabled")
		}
	} else {
		log.Println("⚠️  GOOGLE_MAPS_API_KEY not set, new bins need coordinates")
	}

	// interfaces stay nil when geocoding is off
	var binGeocoder bins.Geocoder
	var lookup handlers.AddressLookup
	if geocoder != nil {
		binGeocoder = geocoder
		lookup = geocoder
	}

	ledger := rewards.NewLedger(st, dispatcher, clock, cfg.Location)
	tracker := bins.NewTracker(st, ledger, dispatcher, binGeocoder, clock, cfg.ReportPoints)
	scheduleEngine := schedules.NewEngine(st, tracker, dispatcher, clock, cfg.Location)
	routeEngine := routes.NewEngine(st, tracker, services.NewRouteOptimizer(), dispatcher, clock)

	if cfg.OverdueSweepEvery > 0 {
		sweeper, err := schedules.NewSweeper(scheduleEngine, cfg.OverdueSweepEvery)
		if err != nil {
			fatal("Overdue sweeper failed to start", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
		log.Printf("✅ Overdue sweep every %s", cfg.OverdueSweepEvery)
	}

	r := handlers.NewRouter(handlers.Deps{
		Store:     st,
		Bins:      tracker,
		Schedules: scheduleEngine,
		Routes:    routeEngine,
		Rewards:   ledger,
		Notifier:  dispatcher,
		Hub:       wsHub,
		Geocoder:  lookup,
		Clock:     clock,
		JWTSecret: cfg.JWTSecret,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("✅ ALL INITIALIZATION COMPLETE")
	log.Printf("🚀 Server starting on http://localhost:%s", cfg.Port)
	log.Println("🔌 Ready to accept requests!")
	log.Println("═══════════════════════════════════════════════════════════════════")

	go func() {
		<-ctx.Done()
		log.Println("🔚 Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️  Graceful shutdown failed: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal("Server failed to start", err)
	}
	<-wsHub.Done()
}
