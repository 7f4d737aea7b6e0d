package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"camo/internal/catalog"
	"camo/internal/config"
	"camo/internal/document"
	"camo/internal/repository"
	"camo/internal/seed"

	"github.com/joho/godotenv"
)

func main() {
	// Parse command-line flags
	fixturesPath := flag.String("file", "", "Fixtures file (defaults to the built-in sample data)")
	schemaOnly := flag.Bool("schema-only", false, "Only create indexes, don't seed documents")
	clearData := flag.Bool("clear-data", false, "Clear every collection and exit")
	fresh := flag.Bool("fresh", false, "Clear every collection before seeding")
	flag.Parse()

	// Load .env file
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// SAFETY: Prevent destructive operations in production
	if cfg.Environment == "prod" && (*clearData || *fresh) {
		log.Fatalf("BLOCKED: --clear-data and --fresh are not allowed in production")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx := context.Background()
	backend, closeBackend, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open %s backend: %v", cfg.Driver, err)
	}
	defer closeBackend()

	registry := document.NewRegistry(backend, logger)
	manifest, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	if _, err := manifest.Register(registry); err != nil {
		log.Fatalf("Failed to register document types: %v", err)
	}

	log.Printf("Ensuring indexes (driver: %s, prefix: %s)", cfg.Driver, cfg.CollectionPrefix)
	if err := registry.CreateIndexes(ctx); err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}
	if *schemaOnly {
		log.Println("Schema setup complete (schema-only mode)")
		return
	}

	seeder := seed.NewSeeder(registry, logger)
	if *clearData || *fresh {
		if err := seeder.Clear(ctx); err != nil {
			log.Fatalf("Failed to clear data: %v", err)
		}
		log.Println("Data cleared")
		if *clearData {
			return
		}
	}

	fixtures, err := seed.Load(*fixturesPath)
	if err != nil {
		log.Fatalf("Failed to load fixtures: %v", err)
	}
	n, err := seeder.Seed(ctx, fixtures)
	if err != nil {
		log.Fatalf("Seeding stopped after %d documents: %v", n, err)
	}
	log.Printf("Seeding complete: %d documents created", n)
}
