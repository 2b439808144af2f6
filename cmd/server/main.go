/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the finance ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (.env, environment), apply command-line overrides
  2. Build logger
  3. Open the entity store (SQLite or in-memory)
  4. Connect the event publisher (AMQP or no-op)
  5. Build the ledger, the assistant and the API handler
  6. Run HTTP server and reconciliation scheduler under one errgroup

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for an in-memory SQLite database
  -store   sqlite | memory (overrides STORE)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler after its in-flight run
  4. Close broker and database connections

ENVIRONMENT:
  See config/config.go.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/warp/finance-ledger/api"
	"github.com/warp/finance-ledger/assistant"
	"github.com/warp/finance-ledger/config"
	"github.com/warp/finance-ledger/events"
	"github.com/warp/finance-ledger/finance"
	"github.com/warp/finance-ledger/finance/store"
	"github.com/warp/finance-ledger/logger"
	"github.com/warp/finance-ledger/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	storeKind := flag.String("store", cfg.Store, "entity store: sqlite or memory")
	flag.Parse()
	cfg.Port, cfg.DBPath, cfg.Store = *port, *dbPath, *storeKind

	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	var (
		entities finance.Store
		pinger   api.Pinger
	)
	switch cfg.Store {
	case config.StoreMemory:
		entities = store.NewTxMemory()
		log.Warn().Msg("using in-memory store, data is lost on exit")
	default:
		db, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer db.Close()
		entities, pinger = db, db
		log.Info().Str("path", cfg.DBPath).Msg("sqlite store ready")
	}

	// Events
	var sink finance.EventSink = events.Nop{}
	if cfg.AMQPURL != "" {
		publisher, err := events.NewAMQP(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, log)
		if err != nil {
			return fmt.Errorf("connect event broker: %w", err)
		}
		defer publisher.Close()
		sink = publisher
		log.Info().Str("exchange", cfg.AMQPExchange).Str("queue", cfg.AMQPQueue).Msg("publishing events")
	}

	// Ledger
	names, err := finance.NewNameCache()
	if err != nil {
		return fmt.Errorf("create name cache: %w", err)
	}
	defer names.Close()

	ledger := finance.NewLedger(entities,
		finance.WithEvents(sink),
		finance.WithLogger(log),
		finance.WithNameCache(names),
	)

	// Assistant
	var parser *assistant.Parser
	if cfg.GeminiAPIKey != "" {
		gemini, err := assistant.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return err
		}
		parser = assistant.NewParser(gemini, ledger)
		log.Info().Str("model", cfg.GeminiModel).Msg("assistant enabled")
	}

	// HTTP
	handler := api.NewHandler(ledger, parser, log)
	handler.Pinger = pinger

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler := api.NewReconciliationScheduler(ledger, log)
	scheduler.CheckInterval = cfg.ReconcileInterval
	scheduler.Repair = cfg.ReconcileRepair

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(server, log)
	})

	return g.Wait()
}

func shutdown(server *http.Server, log zerolog.Logger) error {
	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}
