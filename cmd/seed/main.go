// main.go - development database seeding tool
package main

import (
	"context"
	"flag"
	"log"

	"github.com/karloscodes/cartridge"

	"github.com/Datafloww/server/internal/config"
	"github.com/Datafloww/server/internal/database"
	"github.com/Datafloww/server/internal/seeder"
)

func main() {
	eventCount := flag.Int("events", 2000, "approximate number of events to generate")
	flag.Parse()

	cfg := config.GetConfig()
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	if err := dbManager.MigrateDatabase(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	s := seeder.NewSeeder(dbManager, logger, *eventCount)
	if err := s.Run(context.Background()); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
}
