// @title           Identity Sync API
// @version         1.0.0
// @description     Reconciles externally authenticated identities with local user records, roles and an audit trail.
// @license.name    Apache-2.0
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "Identity provider token: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated side-channel port (default: 9090), separate from the API listener. Configure it with IDS_TELEMETRY_METRICS_PORT. The endpoint path is always GET /metrics and is not part of the OpenAPI document.

// Package main is the entry point for the identity-sync server binary.
// It dispatches three subcommands (serve, migrate and version) via a switch on
// os.Args. The serve command runs migrations on startup so freshly deployed
// containers never need a separate migration step.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/identity-sync/identity-sync/internal/api"
	"github.com/identity-sync/identity-sync/internal/auth"
	"github.com/identity-sync/identity-sync/internal/auth/oidc"
	"github.com/identity-sync/identity-sync/internal/config"
	"github.com/identity-sync/identity-sync/internal/db"
	"github.com/identity-sync/identity-sync/internal/identity"
	"github.com/identity-sync/identity-sync/internal/telemetry"
)

const (
	version = "0.1.0"

	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	configPath := os.Getenv("CONFIG_PATH")

	switch command {
	case "serve":
		return serve(configPath)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runMigrations(cfg, os.Args[2])
	case "version":
		fmt.Printf("identity-sync v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(configPath string) error {
	defaultRole := identity.NewDefaultRole("")
	cfg, err := config.LoadAndWatch(configPath, func(next *config.Config) {
		if next.Identity.DefaultRole != defaultRole.Name() {
			slog.Info("default role changed", "from", defaultRole.Name(), "to", next.Identity.DefaultRole)
			defaultRole.Set(next.Identity.DefaultRole)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defaultRole.Set(cfg.Identity.DefaultRole)

	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"user", cfg.Database.User,
		"dbname", cfg.Database.Name,
		"sslmode", cfg.Database.SSLMode)

	database, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if schemaVersion, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", schemaVersion, "dirty", dirty)
	}

	telemetry.StartDBStatsCollector(ctx, database, 30*time.Second)

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to configure token verifier: %w", err)
	}

	router, bgServices, err := api.NewRouter(cfg, database, verifier, defaultRole)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}
	defer bgServices.Shutdown()

	servers := []*http.Server{{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}}

	// Metrics live on their own port so the scrape path stays off the public ingress.
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Telemetry.Metrics.Port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			slog.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	slog.Info("identity-sync started",
		"version", version,
		"base_url", cfg.Server.BaseURL,
		"verifier", cfg.Auth.Verifier,
		"default_role", defaultRole.Name())

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

// newVerifier builds the bearer token verifier selected by auth.verifier.
func newVerifier(ctx context.Context, cfg *config.Config) (auth.Verifier, error) {
	switch cfg.Auth.Verifier {
	case config.VerifierHS256:
		v, err := auth.NewHS256Verifier(&cfg.Auth.HS256, cfg.Server.DevMode)
		if err != nil {
			return nil, err
		}
		return v, nil
	case config.VerifierOIDC:
		v, err := oidc.NewVerifier(ctx, &cfg.Auth.OIDC)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown verifier %q", cfg.Auth.Verifier)
	}
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(context.Background(), cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)

	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	schemaVersion, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", schemaVersion, dirty)
	return nil
}
