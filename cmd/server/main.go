/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment config, apply flag overrides
  2. Initialize tracing (no-op unless TRACING_ENABLED=true)
  3. Initialize SQLite store
  4. Seed rules from RULES_FILE (if configured)
  5. Wire engine, handler, router, background scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default from PORT env, 8080)
  -db      SQLite database path (default from DATABASE_PATH env)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the background scheduler
  4. Flush tracing, close database, exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/loyalty.db"

  # Seed rules at startup
  RULES_FILE=./rules.yaml ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Background schedule runner
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian/loyalty-engine/api"
	"github.com/meridian/loyalty-engine/config"
	"github.com/meridian/loyalty-engine/factory"
	"github.com/meridian/loyalty-engine/loyalty"
	"github.com/meridian/loyalty-engine/store/sqlite"
	"github.com/meridian/loyalty-engine/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags override the environment for local runs
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	// Tracing
	if _, err := tracing.Init(tracing.Config{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.JaegerEndpoint,
		Environment: cfg.Environment,
	}); err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Seed rules from file, if configured
	if cfg.RulesFile != "" {
		if err := seedRules(context.Background(), store, cfg.RulesFile); err != nil {
			log.Fatalf("Failed to seed rules from %s: %v", cfg.RulesFile, err)
		}
	}

	// Wire the engine
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	engine := loyalty.NewEngine(store, store, store, loyalty.NewAmountCalculator(rng), loyalty.SystemClock())

	handler := api.NewHandler(engine, store, store)
	router := api.NewRouter(handler)

	// Background scheduler
	scheduler := api.NewScheduler(engine, store)
	scheduler.ScheduleInterval = cfg.ScheduleInterval
	scheduler.ReaperInterval = cfg.ReaperInterval
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	scheduler.Stop()

	if err := tracing.Shutdown(ctx); err != nil {
		log.Printf("Warning: tracing shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// seedRules loads rule definitions from a YAML file and inserts any
// that are not already present (matched by name).
func seedRules(ctx context.Context, rules loyalty.RuleStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	defs, err := factory.ParseRulesYAML(data)
	if err != nil {
		return err
	}

	existing, err := rules.Rules(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[r.Name] = true
	}

	seeded := 0
	for _, rule := range defs {
		if seen[rule.Name] {
			continue
		}
		if _, err := rules.SaveRule(ctx, rule); err != nil {
			return err
		}
		seeded++
	}
	if seeded > 0 {
		log.Printf("Seeded %d rules from %s", seeded, path)
	}
	return nil
}
