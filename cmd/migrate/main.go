package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gosimple/slug"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"cleancity-backend/internal/database"
	"cleancity-backend/internal/rewards"
	"cleancity-backend/internal/store"
)

// catalogFile is the YAML layout accepted by --catalog
type catalogFile struct {
	Items []rewards.ItemInput `yaml:"items"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	dbURL := pflag.String("database-url", os.Getenv("DATABASE_URL"), "postgres connection string")
	seed := pflag.Bool("seed", false, "seed test users and bins")
	catalog := pflag.String("catalog", "", "YAML file of reward items to load")
	pflag.Parse()

	if *dbURL == "" {
		log.Fatal("DATABASE_URL environment variable not set (or pass --database-url)")
	}

	db, err := database.Connect(*dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migration completed successfully!")

	ctx := context.Background()
	clock := clockwork.NewRealClock()
	st := database.NewStore(db)

	if *seed {
		if err := database.SeedUsers(ctx, st, clock.Now()); err != nil {
			log.Fatalf("User seeding failed: %v", err)
		}
		if err := database.SeedBins(ctx, st, clock.Now()); err != nil {
			log.Fatalf("Bin seeding failed: %v", err)
		}
	}

	if *catalog != "" {
		loaded, err := loadCatalog(ctx, st, clock, *catalog)
		if err != nil {
			log.Fatalf("Catalog load failed: %v", err)
		}
		fmt.Println("\n============================================================")
		fmt.Println("CATALOG SUMMARY")
		fmt.Println("============================================================")
		fmt.Printf("Reward items loaded:     %d\n", loaded)
		fmt.Println("============================================================")
	}
}

// loadCatalog creates every item in path. Items whose slug already exists are
// skipped so the file can be replayed.
func loadCatalog(ctx context.Context, st store.Store, clock clockwork.Clock, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("failed to parse catalog: %w", err)
	}

	ledger := rewards.NewLedger(st, nil, clock, nil)
	loaded := 0
	for _, in := range file.Items {
		if _, err := ledger.GetItem(ctx, slug.Make(in.Name)); err == nil {
			log.Printf("✓ %s already in catalog, skipping", in.Name)
			continue
		}
		item, err := ledger.CreateItem(ctx, in)
		if err != nil {
			return loaded, fmt.Errorf("failed to create %q: %w", in.Name, err)
		}
		log.Printf("  ✓ %s (%d points)", item.Name, item.PointsCost)
		loaded++
	}
	return loaded, nil
}
