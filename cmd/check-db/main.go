// Package main is a diagnostic tool for testing database connectivity and
// inspecting identity-sync data. It prints the schema version, the role catalog
// and the first page of identities, and exits non-zero on any failure so it can gate
// deployments on a reachable, migrated database.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/identity-sync/identity-sync/internal/config"
	"github.com/identity-sync/identity-sync/internal/db"
	"github.com/identity-sync/identity-sync/internal/db/repositories"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(ctx, cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	fmt.Printf("Schema version: %d (dirty: %v)\n", version, dirty)

	fmt.Println("\n=== ROLES ===")
	roles, err := repositories.NewRoleRepository(sqlx.NewDb(database, "postgres")).List(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	for _, r := range roles {
		fmt.Printf("Role: %s (ID: %d)\n", r.Name, r.ID)
	}
	if len(roles) == 0 {
		fmt.Println("No roles found!")
	}

	fmt.Println("\n=== IDENTITIES ===")
	page, err := repositories.NewIdentityRepository(database).Search(ctx, "", 0, 20)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	for _, ident := range page.Items {
		fmt.Printf("Identity: %s <%s> (ID: %d, subject: %s, status: %s) roles=[%s]\n",
			ident.Username, ident.Email, ident.ID, ident.Subject, ident.Status,
			strings.Join(ident.RoleNames(), ","))
	}
	fmt.Printf("Total identities: %d\n", page.Total)
}
