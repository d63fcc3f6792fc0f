// Package config reads server settings from the environment (and .env when present).
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	DatabaseURL string
	Storage     string
	Port        string
	JWTSecret   string

	FirebaseCredentialsBase64 string
	FirebaseCredentialsFile   string
	GoogleMapsAPIKey          string

	Location          *time.Location
	ReportPoints      int
	OverdueSweepEvery time.Duration // 0 disables the background sweep
	SeedOnStart       bool
}

// Load reads .env (if any) and then the process environment
func Load() (*Config, error) {
	log.Println("📂 Loading environment variables...")
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables from system")
	} else {
		log.Println("✅ .env file loaded successfully")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function so tests need not touch the
// process environment
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		DatabaseURL:               getenv("DATABASE_URL"),
		Storage:                   getenv("STORAGE"),
		Port:                      getenv("PORT"),
		JWTSecret:                 getenv("APP_JWT_SECRET"),
		FirebaseCredentialsBase64: getenv("FIREBASE_CREDENTIALS_BASE64"),
		FirebaseCredentialsFile:   getenv("FIREBASE_CREDENTIALS_FILE"),
		GoogleMapsAPIKey:          getenv("GOOGLE_MAPS_API_KEY"),
		ReportPoints:              10,
		OverdueSweepEvery:         15 * time.Minute,
		SeedOnStart:               getenv("SEED_ON_START") == "true",
	}

	if cfg.Storage == "" {
		cfg.Storage = StoragePostgres
	}
	if cfg.Storage != StoragePostgres && cfg.Storage != StorageMemory {
		return nil, fmt.Errorf("STORAGE must be %q or %q, got %q", StoragePostgres, StorageMemory, cfg.Storage)
	}
	if cfg.Storage == StoragePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.JWTSecret == "" {
		if cfg.Storage != StorageMemory {
			return nil, fmt.Errorf("APP_JWT_SECRET environment variable is required")
		}
		cfg.JWTSecret = "dev-secret-change-me"
		log.Println("⚠️  APP_JWT_SECRET not set, using development secret for in-memory storage")
	}
	if cfg.FirebaseCredentialsFile == "" {
		cfg.FirebaseCredentialsFile = "./firebase-service-account.json"
	}

	tz := getenv("TIMEZONE")
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}
	cfg.Location = loc

	if v := getenv("REWARD_REPORT_POINTS"); v != "" {
		points, err := strconv.Atoi(v)
		if err != nil || points <= 0 {
			return nil, fmt.Errorf("REWARD_REPORT_POINTS must be a positive integer, got %q", v)
		}
		cfg.ReportPoints = points
	}

	if v := getenv("OVERDUE_SWEEP_INTERVAL"); v != "" {
		every, err := time.ParseDuration(v)
		if err != nil || every < 0 {
			return nil, fmt.Errorf("invalid OVERDUE_SWEEP_INTERVAL %q", v)
		}
		cfg.OverdueSweepEvery = every
	}

	return cfg, nil
}
