// Package main is a repair tool for dirty migration state in the identity-sync
// database. Dirty state occurs when golang-migrate marks a version as in progress
// and the process is interrupted before it completes. This tool clears the dirty
// flag while keeping the recorded version so the server can retry on the next start.
package main

import (
	"context"
	"log"
	"os"

	"github.com/identity-sync/identity-sync/internal/config"
	"github.com/identity-sync/identity-sync/internal/db"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(context.Background(), cfg.Database.GetDSN(), 1, 1)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to check migration state: %v", err)
	}
	log.Printf("Current migration state: version=%d, dirty=%v", version, dirty)

	fixed, err := db.ClearDirty(database)
	if err != nil {
		log.Fatalf("Failed to fix dirty state: %v", err)
	}
	if !fixed {
		log.Println("Migration state is already clean")
		return
	}

	version, dirty, err = db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to check final migration state: %v", err)
	}
	log.Printf("Final migration state: version=%d, dirty=%v", version, dirty)
}
