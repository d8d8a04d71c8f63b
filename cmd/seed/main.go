package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shinyyama/flora-backend/internal/config"
	"github.com/shinyyama/flora-backend/internal/db"
	"github.com/shinyyama/flora-backend/internal/model"
	"github.com/shinyyama/flora-backend/internal/repository"
	"github.com/shopspring/decimal"
)

type seedFlower struct {
	Name        string
	Description string
	Price       int64
	InStock     bool
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func run() error {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	flowers := repository.NewFlowerRepository(gdb)
	canSeed, err := shouldSeed(ctx, flowers)
	if err != nil {
		return err
	}
	if !canSeed {
		log.Printf("flowers already exist; skipping seed (set FORCE_SEED=true to override)")
		return nil
	}

	florist := os.Getenv("SEED_FLORIST_UID")
	if florist == "" {
		florist = "seed-florist"
	}
	list := buildSeedFlowers()
	for _, f := range list {
		stock := model.StockStatusInStock
		if !f.InStock {
			stock = model.StockStatusOutOfStock
		}
		if err := flowers.Create(ctx, &model.Flower{
			Name:        strings.TrimSpace(f.Name),
			Description: strings.TrimSpace(f.Description),
			Price:       decimal.NewFromInt(f.Price),
			FloristUID:  florist,
			StockStatus: stock,
		}); err != nil {
			return fmt.Errorf("insert flower %q: %w", f.Name, err)
		}
	}

	log.Printf("seeded %d flowers for florist %s", len(list), florist)
	return nil
}

func buildSeedFlowers() []seedFlower {
	return []seedFlower{
		{Name: "Red Roses", Description: "Beautiful red roses", Price: 2500, InStock: true},
		{Name: "White Lilies", Description: "A dozen fresh white lilies", Price: 1800, InStock: true},
		{Name: "Sunflower Bunch", Description: "Five tall sunflowers", Price: 1200, InStock: true},
		{Name: "Mixed Tulips", Description: "Seasonal tulips in mixed colours", Price: 2200, InStock: true},
		{Name: "Orchid Pot", Description: "Potted white phalaenopsis orchid", Price: 3500, InStock: false},
	}
}

func shouldSeed(ctx context.Context, flowers repository.FlowerRepository) (bool, error) {
	cnt, err := flowers.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count flowers: %w", err)
	}
	if cnt == 0 {
		return true, nil
	}
	force := os.Getenv("FORCE_SEED")
	return strings.EqualFold(force, "true"), nil
}
