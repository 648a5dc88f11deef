// cmd/sandbox/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"librarylink/internal/config"
	"librarylink/internal/sandbox"
	"librarylink/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := telemetry.NewLogger(os.Stderr, cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("Failed to set up telemetry: %v", err)
	}

	store, events, closeStore := openStore(ctx, cfg.Sandbox, logger)
	defer closeStore()

	svc := sandbox.NewService(store, events,
		sandbox.WithLoanPeriod(cfg.Sandbox.LoanPeriod),
		sandbox.WithExtensionPeriod(cfg.Sandbox.ExtensionPeriod),
		sandbox.WithServiceLogger(logger),
	)

	handlerOpts := []sandbox.HandlerOption{
		sandbox.WithWritesPerMinute(cfg.Sandbox.WritesPerMinute),
		sandbox.WithHandlerLogger(logger),
	}
	if cfg.Sandbox.CoverUpstream != "" {
		upstream, _ := url.Parse(cfg.Sandbox.CoverUpstream)
		handlerOpts = append(handlerOpts, sandbox.WithCoverUpstream(upstream))
	}
	if faults := faultsFrom(cfg.Sandbox.Faults); len(faults) > 0 {
		logger.Warn("fault injection enabled", "faults", len(faults))
		handlerOpts = append(handlerOpts, sandbox.WithFaults(faults...))
	}
	handler := sandbox.NewHandler(svc, handlerOpts...)

	server := &http.Server{
		Addr:              cfg.Sandbox.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	logger.Info("sandbox library service listening", "addr", cfg.Sandbox.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
}

// openStore picks the Postgres store when a database URL is configured and
// the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.SandboxConfig, logger *slog.Logger) (sandbox.Store, sandbox.EventLog, func()) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory store")
		return sandbox.NewMemoryStore(), sandbox.NewMemoryEventLog(), func() {}
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to reach database: %v", err)
	}

	store := sandbox.NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate store: %v", err)
	}
	events := sandbox.NewPostgresEventLog(db)
	if err := events.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate event log: %v", err)
	}
	logger.Info("using postgres store")
	return store, events, func() { db.Close() }
}

func faultsFrom(cfg config.FaultConfig) []sandbox.Fault {
	var faults []sandbox.Fault
	if cfg.LatencyRate > 0 && cfg.Latency > 0 {
		faults = append(faults, sandbox.Fault{Type: sandbox.FaultLatency, Latency: cfg.Latency, BlastRadius: cfg.LatencyRate})
	}
	if cfg.FailureRate > 0 {
		faults = append(faults, sandbox.Fault{Type: sandbox.FaultFailure, Status: cfg.FailureStatus, BlastRadius: cfg.FailureRate})
	}
	return faults
}
