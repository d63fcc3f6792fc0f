package database

import (
	"fmt"
	"log"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func Connect(dbURL string) (*sqlx.DB, error) {
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Println("🔌 DATABASE CONNECTION ATTEMPT")
	log.Printf("   📍 Database URL length: %d characters", len(dbURL))
	log.Printf("   📍 URL prefix: %s...", dbURL[:min(30, len(dbURL))])
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	log.Println("🔄 Step 1: Attempting sqlx.Connect()...")
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ DATABASE CONNECTION FAILED AT sqlx.Connect()")
		log.Printf("   Error type: %T", err)
		log.Printf("   Error message: %v", err)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Println("✅ Step 1 Complete: sqlx.Connect() succeeded")

	log.Println("🔄 Step 2: Testing connection with Ping()...")
	if err := db.Ping(); err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ DATABASE CONNECTION FAILED AT Ping()")
		log.Printf("   Error type: %T", err)
		log.Printf("   Error message: %v", err)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Println("✅ Step 2 Complete: Ping() succeeded")

	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Println("✅ DATABASE CONNECTION SUCCESSFUL")
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	return db, nil
}

// serialPK is the auto-increment primary key column type for the connected driver
func serialPK(db *sqlx.DB) string {
	if db.DriverName() == "sqlite3" {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return "BIGSERIAL PRIMARY KEY"
}

// Migrate creates the schema. Statements stay portable between postgres and
// sqlite; the only dialect difference is the serial column.
func Migrate(db *sqlx.DB) error {
	migrations := []string{
		// Create users table
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('resident', 'collector', 'admin')),
			reward_points INT NOT NULL DEFAULT 0 CHECK(reward_points >= 0),
			streak_count INT NOT NULL DEFAULT 0,
			last_report_date BIGINT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			version INT NOT NULL DEFAULT 1
		)`,

		// Create bins table
		`CREATE TABLE IF NOT EXISTS bins (
			id TEXT PRIMARY KEY,
			address TEXT NOT NULL DEFAULT '',
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			fill_level INT NOT NULL DEFAULT 0 CHECK(fill_level BETWEEN 0 AND 100),
			waste_category TEXT NOT NULL CHECK(waste_category IN ('general', 'recyclable', 'organic', 'hazardous', 'electronic')),
			capacity INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL CHECK(status IN ('pending', 'in-progress', 'collected', 'overflow', 'maintenance')),
			priority INT NOT NULL DEFAULT 0,
			last_collected BIGINT,
			reported_by TEXT,
			reward_assigned BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			version INT NOT NULL DEFAULT 1
		)`,

		// Create schedules table
		`CREATE TABLE IF NOT EXISTS schedules (
			id TEXT PRIMARY KEY,
			bin_id TEXT NOT NULL,
			collector_id TEXT NOT NULL,
			scheduled_date BIGINT NOT NULL,
			window_start TEXT NOT NULL DEFAULT '',
			window_end TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK(status IN ('pending', 'completed', 'missed', 'rescheduled', 'canceled')),
			base_priority INT NOT NULL DEFAULT 0,
			priority INT NOT NULL DEFAULT 0,
			recurrence TEXT NOT NULL DEFAULT 'none' CHECK(recurrence IN ('none', 'daily', 'weekly', 'biweekly', 'monthly')),
			recurrence_end_date BIGINT,
			notes TEXT NOT NULL DEFAULT '',
			previous_schedule_id TEXT,
			completed_at BIGINT,
			actual_fill_level INT,
			duration_minutes INT,
			cancel_reason TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			version INT NOT NULL DEFAULT 1
		)`,

		// Create routes table
		`CREATE TABLE IF NOT EXISTS routes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			collector_id TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('planned', 'in-progress', 'completed', 'canceled')),
			actual_start_time BIGINT,
			actual_end_time BIGINT,
			current_capacity_used DOUBLE PRECISION NOT NULL DEFAULT 0,
			vehicle_capacity DOUBLE PRECISION NOT NULL DEFAULT 0,
			completion_rate INT NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			version INT NOT NULL DEFAULT 1
		)`,

		// Create route_stops table (one row per bin on a route)
		`CREATE TABLE IF NOT EXISTS route_stops (
			id TEXT PRIMARY KEY,
			route_id TEXT NOT NULL,
			bin_id TEXT NOT NULL,
			sequence_order INT NOT NULL,
			estimated_minutes INT NOT NULL DEFAULT 0,
			collected BOOLEAN NOT NULL DEFAULT FALSE,
			collected_at BIGINT,
			waste_weight DOUBLE PRECISION,
			FOREIGN KEY (route_id) REFERENCES routes(id) ON DELETE CASCADE,
			UNIQUE (route_id, bin_id)
		)`,

		// Create route_history table
		`CREATE TABLE IF NOT EXISTS route_history (
			id TEXT PRIMARY KEY,
			route_id TEXT NOT NULL,
			bin_id TEXT,
			action TEXT NOT NULL,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			notes TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			FOREIGN KEY (route_id) REFERENCES routes(id) ON DELETE CASCADE
		)`,

		// Create reward_transactions table (append-only ledger, seq gives creation order)
		`CREATE TABLE IF NOT EXISTS reward_transactions (
			seq {{serial}},
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			points INT NOT NULL,
			type TEXT NOT NULL CHECK(type IN ('earned', 'redeemed', 'expired', 'adjusted')),
			source_type TEXT NOT NULL,
			source_ref TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			balance INT NOT NULL,
			expires_at BIGINT,
			created_at BIGINT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		// Create reward_items table (catalogue)
		`CREATE TABLE IF NOT EXISTS reward_items (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			points_cost INT NOT NULL CHECK(points_cost > 0),
			active BOOLEAN NOT NULL DEFAULT TRUE,
			valid_until BIGINT,
			remaining_quantity INT NOT NULL DEFAULT -1,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		// Create redemptions table
		`CREATE TABLE IF NOT EXISTS redemptions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			code TEXT NOT NULL UNIQUE,
			points_spent INT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('issued', 'used', 'canceled')),
			created_at BIGINT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (item_id) REFERENCES reward_items(id)
		)`,

		// Create notifications table
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			recipient_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			priority TEXT NOT NULL DEFAULT 'normal' CHECK(priority IN ('low', 'normal', 'high')),
			related_entity TEXT NOT NULL DEFAULT '',
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL
		)`,

		// Create FCM tokens table
		`CREATE TABLE IF NOT EXISTS fcm_tokens (
			id {{serial}},
			user_id TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			device_type TEXT NOT NULL CHECK(device_type IN ('ios', 'android')),
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
		`CREATE INDEX IF NOT EXISTS idx_bins_status ON bins(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bins_reported_by ON bins(reported_by)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_bin_id ON schedules(bin_id)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_collector_id ON schedules(collector_id)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_status_date ON schedules(status, scheduled_date)`,
		`CREATE INDEX IF NOT EXISTS idx_routes_collector_id ON routes(collector_id)`,
		`CREATE INDEX IF NOT EXISTS idx_routes_status ON routes(status)`,
		`CREATE INDEX IF NOT EXISTS idx_route_stops_route_seq ON route_stops(route_id, sequence_order)`,
		`CREATE INDEX IF NOT EXISTS idx_route_stops_bin_id ON route_stops(bin_id)`,
		`CREATE INDEX IF NOT EXISTS idx_route_history_route_id ON route_history(route_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reward_transactions_user ON reward_transactions(user_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_redemptions_user_id ON redemptions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_dedup ON notifications(recipient_id, type, related_entity, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_fcm_tokens_user_id ON fcm_tokens(user_id)`,
	}

	serial := serialPK(db)
	for _, migration := range migrations {
		migration = strings.ReplaceAll(migration, "{{serial}}", serial)
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Println("✓ Database migrations completed")
	return nil
}
