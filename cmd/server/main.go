/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the billing core server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load the TOML configuration (fails fast on missing penalty fields)
  3. Initialize the SQLite document store
  4. Construct bill sources and the engine
  5. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to the TOML configuration file (default: billing.toml)
  -port    Override the configured HTTP port
  -db      Override the configured SQLite path (":memory:" works)
  -seed    Write a small demo dataset before serving (local development)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the database
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strata/billing-engine/api"
	"github.com/strata/billing-engine/billing"
	"github.com/strata/billing-engine/config"
	"github.com/strata/billing-engine/dues"
	"github.com/strata/billing-engine/metered"
	"github.com/strata/billing-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "billing.toml", "TOML configuration file")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	seed := flag.Bool("seed", false, "seed a demo dataset before serving")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Server.DB = *dbPath
	}

	duesCfg, err := cfg.DuesConfig()
	if err != nil {
		log.Fatalf("Invalid dues config: %v", err)
	}
	meteredCfg, err := cfg.MeteredConfig()
	if err != nil {
		log.Fatalf("Invalid metered config: %v", err)
	}

	st, err := sqlite.New(cfg.Server.DB)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer st.Close()

	duesSrc, err := dues.NewSource(st, duesCfg)
	if err != nil {
		log.Fatalf("Failed to initialize dues module: %v", err)
	}
	meteredSrc, err := metered.NewSource(st, meteredCfg)
	if err != nil {
		log.Fatalf("Failed to initialize metered module: %v", err)
	}

	if *seed {
		if err := seedDemoData(duesSrc, meteredSrc, duesCfg); err != nil {
			log.Fatalf("Failed to seed demo data: %v", err)
		}
		log.Println("Seeded demo dataset for unit-101 and unit-102")
	}

	engine := billing.NewEngine(st, duesCfg.LookAheadDays, duesSrc, meteredSrc)
	handler := api.NewHandler(engine, duesSrc, meteredSrc)
	router := api.NewRouter(handler)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Billing core listening on :%d (db: %s)", cfg.Server.Port, cfg.Server.DB)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
}

// seedDemoData writes a pair of demo units with dues for the current fiscal
// year and a couple of meter readings, so a fresh -db :memory: run has
// something to preview payments against.
func seedDemoData(duesSrc *dues.Source, meteredSrc *metered.Source, cfg billing.ModuleConfig) error {
	ctx := context.Background()
	today := billing.Today()
	fy := billing.FiscalYearOf(today, cfg.FiscalYearStartMonth)

	for _, unitID := range []string{"unit-101", "unit-102"} {
		rec := dues.NewRecord(unitID, fy, 50000, 1, cfg.FiscalYearStartMonth)
		if err := duesSrc.PutRecord(ctx, rec); err != nil {
			return fmt.Errorf("seed dues for %s: %w", unitID, err)
		}
	}

	lastMonth := today.AddMonths(-1)
	reading := metered.NewRecord("unit-101", billing.PeriodOf(lastMonth), 120, 150,
		billing.NewDate(today.Year(), today.Month(), 20))
	if err := meteredSrc.PutRecord(ctx, reading); err != nil {
		return fmt.Errorf("seed meter reading: %w", err)
	}
	return nil
}
