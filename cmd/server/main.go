/*
main.go - Server entry point

PURPOSE:
  Wires the stores, ledger services, and HTTP router together and runs
  the server with graceful shutdown.

FLAGS:
  -port      HTTP listen port (default 8080)
  -db        SQLite database path (default relief.db)
  -policies  Optional TOML policy file; omitted means shipped defaults

STARTUP SEQUENCE:
  1. Load policy tables (classifier, needs profiles, category caps)
  2. Open SQLite store, run migrations
  3. Seed envelopes for the known disaster types if absent
  4. Build services and router, listen

SHUTDOWN:
  SIGINT/SIGTERM drains in-flight requests for up to 10 seconds before
  closing the store.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/relief-engine/api"
	"github.com/warp/relief-engine/assess"
	"github.com/warp/relief-engine/factory"
	"github.com/warp/relief-engine/forecast"
	"github.com/warp/relief-engine/ledger"
	"github.com/warp/relief-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 8080, "HTTP listen port")
	dbPath := flag.String("db", "relief.db", "SQLite database path")
	policiesPath := flag.String("policies", "", "TOML policy file (default: shipped tables)")
	flag.Parse()

	if err := run(*port, *dbPath, *policiesPath); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func run(port int, dbPath, policiesPath string) error {
	cfg := factory.Default()
	if policiesPath != "" {
		var err error
		cfg, err = factory.Load(policiesPath)
		if err != nil {
			return fmt.Errorf("load policies: %w", err)
		}
		log.Printf("loaded policy tables from %s", policiesPath)
	}

	store, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := seedEnvelopes(ctx, store); err != nil {
		return fmt.Errorf("seed envelopes: %w", err)
	}

	envelopes := ledger.NewEnvelopeService(store, store)
	funds := ledger.NewFundService(store, envelopes, cfg.Needs, cfg.Housing)
	expenditures := ledger.NewExpenditureService(store, cfg.CategoryCaps)
	adjustments := ledger.NewAdjustmentService(store)
	assessments := assess.NewService(store, funds, cfg.Classifier)
	engine := forecast.NewEngine(store, cfg.Needs, cfg.Housing)

	handler := &api.Handler{
		Envelopes:    envelopes,
		Funds:        funds,
		Expenditures: expenditures,
		Adjustments:  adjustments,
		Assessments:  assessments,
		Forecast:     engine,
		Audit:        store,
		Resetter:     store,
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: api.NewRouter(handler),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s (db %s)", server.Addr, dbPath)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

// seedEnvelopes creates a zero-balance envelope for each known disaster
// type so allocations and transfers have a target on first boot.
func seedEnvelopes(ctx context.Context, store *sqlite.Store) error {
	year := time.Now().Year()
	for _, t := range ledger.KnownDisasterTypes() {
		if _, err := store.GetEnvelope(ctx, t); err == nil {
			continue
		} else if !errors.Is(err, ledger.ErrEnvelopeNotFound) {
			return err
		}
		env := ledger.BudgetEnvelope{
			DisasterType: t,
			FiscalYear:   year,
			Allocated:    ledger.NewMoney(0),
			Committed:    ledger.NewMoney(0),
			Spent:        ledger.NewMoney(0),
		}
		if err := store.PutEnvelope(ctx, env); err != nil {
			return err
		}
	}
	return nil
}
