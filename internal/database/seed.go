package database

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"cleancity-backend/internal/bins"
	"cleancity-backend/internal/models"
	"cleancity-backend/internal/store"
)

type seedBin struct {
	address   string
	fill      int
	category  models.WasteCategory
	capacity  int
	latitude  float64
	longitude float64
}

var seedBins = []seedBin{
	{"325 S 1st St", 45, models.WasteGeneral, 240, 37.3329, -121.8866},
	{"200 E Santa Clara St", 67, models.WasteRecyclable, 360, 37.3361, -121.8869},
	{"151 W Mission St", 23, models.WasteOrganic, 120, 37.3343, -121.8936},
	{"408 Almaden Blvd", 89, models.WasteGeneral, 240, 37.3313, -121.8917},
	{"180 Park Ave", 12, models.WasteRecyclable, 240, 37.3351, -121.8894},
	{"72 N Almaden Ave", 78, models.WasteGeneral, 360, 37.3352, -121.8931},
	{"345 E Santa Clara St", 56, models.WasteOrganic, 120, 37.3357, -121.8826},
	{"99 S Market St", 34, models.WasteElectronic, 120, 37.3339, -121.8905},
	{"201 S 2nd St", 91, models.WasteGeneral, 240, 37.3326, -121.8863},
	{"150 S 1st St", 15, models.WasteHazardous, 60, 37.3344, -121.8877},
	{"88 W San Carlos St", 82, models.WasteRecyclable, 360, 37.3307, -121.8901},
	{"250 S 3rd St", 47, models.WasteGeneral, 240, 37.3311, -121.8842},
}

func SeedBins(ctx context.Context, st store.Store, now time.Time) error {
	existing, err := st.ListBins(ctx, store.BinFilter{})
	if err != nil {
		return err
	}

	if len(existing) > 0 {
		log.Println("✓ Bins already seeded, skipping...")
		return nil
	}

	log.Printf("🌱 Seeding %d bins...", len(seedBins))

	for _, sb := range seedBins {
		lat, lng := sb.latitude, sb.longitude
		bin := &models.Bin{
			ID:            uuid.New().String(),
			Address:       sb.address,
			Latitude:      &lat,
			Longitude:     &lng,
			FillLevel:     sb.fill,
			WasteCategory: sb.category,
			Capacity:      sb.capacity,
			Status:        bins.DeriveStatus(models.BinStatusPending, sb.fill),
			Priority:      bins.ComputePriority(sb.fill, -1),
			CreatedAt:     now.Unix(),
			UpdatedAt:     now.Unix(),
		}
		if err := st.CreateBin(ctx, bin); err != nil {
			return err
		}
	}

	log.Printf("✓ Successfully seeded %d bins", len(seedBins))
	return nil
}

func SeedUsers(ctx context.Context, st store.Store, now time.Time) error {
	existing, err := st.ListUsers(ctx, "")
	if err != nil {
		return err
	}

	if len(existing) > 0 {
		log.Println("✓ Users already seeded, skipping...")
		return nil
	}

	log.Println("🌱 Seeding test users...")

	users := []struct {
		email    string
		password string
		name     string
		role     string
	}{
		{"admin@cleancity.local", "admin123", "Admin User", models.RoleAdmin},
		{"collector@cleancity.local", "collector123", "John Collector", models.RoleCollector},
		{"resident@cleancity.local", "resident123", "Rita Resident", models.RoleResident},
	}

	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}

		user := &models.User{
			ID:        uuid.New().String(),
			Email:     u.email,
			Password:  string(hash),
			Name:      u.name,
			Role:      u.role,
			CreatedAt: now.Unix(),
			UpdatedAt: now.Unix(),
		}
		if err := st.CreateUser(ctx, user); err != nil {
			return err
		}
		log.Printf("  ✓ Created user: %s (%s)", u.email, u.role)
	}

	log.Println("✓ Successfully seeded test users")
	log.Println("  📧 Admin:     admin@cleancity.local / admin123")
	log.Println("  📧 Collector: collector@cleancity.local / collector123")
	log.Println("  📧 Resident:  resident@cleancity.local / resident123")
	return nil
}
