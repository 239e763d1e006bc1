package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/socialboost/panel/internal/db"
	"github.com/socialboost/panel/internal/models"
)

// Seed the database with demo data: an admin, a funded customer, one
// provider and a small service catalog.
func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	database, err := db.NewDB(ctx, connString)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	providers, err := database.ListProviders(ctx)
	if err != nil {
		log.Fatalf("Failed to check providers: %v", err)
	}
	if len(providers) > 0 {
		fmt.Printf("Database already has %d providers. No need to seed.\n", len(providers))
		os.Exit(0)
	}

	admin, err := database.CreateUser(ctx, "admin@panel.local", "Panel Admin", mustHash("admin-password"), models.RoleAdmin)
	if err != nil {
		log.Fatalf("Failed to create admin: %v", err)
	}

	customer, err := database.CreateUser(ctx, "demo@panel.local", "Demo Customer", mustHash("demo-password"), models.RoleCustomer)
	if err != nil {
		log.Fatalf("Failed to create customer: %v", err)
	}
	if _, err := database.AdjustBalance(ctx, customer.ID, decimal.NewFromInt(50)); err != nil {
		log.Fatalf("Failed to fund customer: %v", err)
	}
	if _, err := database.AppendTransaction(ctx, &models.Transaction{
		UserID:  customer.ID,
		Type:    models.TxDeposit,
		Amount:  decimal.NewFromInt(50),
		Details: "Seed deposit",
		Status:  "completed",
	}); err != nil {
		log.Fatalf("Failed to record seed deposit: %v", err)
	}

	prov, err := database.CreateProvider(ctx, "DemoBoost", "https://demoboost.example/api/v2", "demo-api-key")
	if err != nil {
		log.Fatalf("Failed to create provider: %v", err)
	}

	services := []models.Service{
		{
			Name:              "Instagram Followers",
			Description:       "High quality Instagram followers that stay permanently.",
			Category:          "Instagram",
			Rate:              decimal.RequireFromString("0.99"),
			MinQuantity:       100,
			MaxQuantity:       10000,
			ProviderID:        prov.ID,
			ProviderServiceID: "1",
		},
		{
			Name:              "Facebook Page Likes",
			Description:       "Increase your Facebook page popularity with real likes.",
			Category:          "Facebook",
			Rate:              decimal.RequireFromString("1.49"),
			MinQuantity:       100,
			MaxQuantity:       5000,
			ProviderID:        prov.ID,
			ProviderServiceID: "2",
		},
		{
			Name:              "YouTube Views",
			Description:       "High retention YouTube views to boost your video ranking.",
			Category:          "YouTube",
			Rate:              decimal.RequireFromString("1.99"),
			MinQuantity:       1000,
			MaxQuantity:       50000,
			ProviderID:        prov.ID,
			ProviderServiceID: "3",
		},
	}
	for _, svc := range services {
		if _, err := database.UpsertService(ctx, &svc); err != nil {
			log.Fatalf("Failed to seed service %s: %v", svc.Name, err)
		}
	}

	fmt.Printf("Seeded admin %s, customer %s, provider %s and %d services.\n",
		admin.Email, customer.Email, prov.Name, len(services))
}

func mustHash(password string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	return string(hash)
}
