// Kestrel - Eligibility screening for small-business lending programs.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/lookup"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	if path := os.Getenv("KESTREL_CONFIG"); path != "" {
		loaded, err := domain.LoadConfig(path)
		if err != nil {
			slog.Error("failed to load configuration", "path", path, "error", err)
			os.Exit(1)
		}
		cfg = loaded
		slog.Info("configuration loaded from file", "path", path)
	} else if os.Getenv("KESTREL_MODE") == "cluster" {
		cfg = domain.ClusterConfig()
		slog.Info("running in cluster mode")
	}

	slog.Info("configuration loaded",
		"mode", cfg.Mode,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Lookup Service for fraud cross-references
	lookupSvc := lookup.NewService(repo, cacheImpl)
	slog.Info("lookup service initialized")

	// Initialize Pattern Engine
	patterns, err := fraud.NewPatternEngine(100)
	if err != nil {
		slog.Error("failed to initialize pattern engine", "error", err)
		os.Exit(1)
	}

	// Load fraud patterns from database (no hardcoded defaults - configure via API)
	if err := loadPatternsFromDatabase(ctx, repo, patterns); err != nil {
		slog.Error("failed to load fraud patterns", "error", err)
		os.Exit(1)
	}
	slog.Info("pattern engine initialized", "patterns_count", patterns.PatternsCount())

	// Initialize Fraud Analyzer
	analyzer := fraud.NewAnalyzer(lookupSvc.EINLookup(), lookupSvc.SubmissionCounter(), patterns)
	slog.Info("fraud analyzer initialized")

	// Initialize Rule Catalog
	catalog := rules.NewCatalog()

	// Load program rules from database (no hardcoded defaults - configure via API)
	if err := loadRulesFromDatabase(ctx, repo, catalog); err != nil {
		slog.Error("failed to load program rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule catalog initialized", "rules_count", catalog.RuleCount())

	// Initialize Decision Processor
	processor := decision.NewProcessor(catalog, analyzer)
	slog.Info("decision processor initialized")

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, processor)

		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, catalog, patterns, processor, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadRulesFromDatabase loads program rules from the database into the catalog.
// All rules must be configured via POST /programs/{type}/rules - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, catalog *rules.Catalog) error {
	dbRules, err := repo.ListAllProgramRules(ctx)
	if err != nil {
		slog.Warn("failed to list program rules from database", "error", err)
		return nil // Start with an empty catalog - rules can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading program rules from database", "count", len(dbRules))
		return catalog.Load(dbRules)
	}

	slog.Info("no program rules in database - configure via POST /programs/{type}/rules API")
	return nil
}

// loadPatternsFromDatabase loads fraud patterns from the database into the engine.
// All patterns must be configured via POST /fraud/patterns - no hardcoded defaults.
func loadPatternsFromDatabase(ctx context.Context, repo domain.Repository, patterns *fraud.PatternEngine) error {
	dbPatterns, err := repo.ListFraudPatterns(ctx)
	if err != nil {
		slog.Warn("failed to list fraud patterns from database", "error", err)
		return nil // Start with an empty engine - patterns can be added via API
	}

	if len(dbPatterns) > 0 {
		slog.Info("loading fraud patterns from database", "count", len(dbPatterns))
		return patterns.LoadPatterns(dbPatterns)
	}

	slog.Info("no fraud patterns in database - configure via POST /fraud/patterns API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║     Lending Eligibility Engine            ║")
	fmt.Println("  ║      Every application, screened.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Mode:     %s\n", cfg.Mode)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /applications                      - Submit and screen an application")
	fmt.Println("    GET  /applications/{id}                 - Get application by ID")
	fmt.Println("    GET  /applications/{id}/decision        - Get decision for an application")
	fmt.Println("    GET  /decisions/{id}                    - Get decision by ID")
	fmt.Println("    GET  /programs                          - List programs with loaded rules")
	fmt.Println("    GET  /programs/{type}/rules             - List rule versions for a program")
	fmt.Println("    GET  /programs/{type}/rules/active      - Resolve the active rule version")
	fmt.Println("    POST /programs/{type}/rules             - Create a new rule version")
	fmt.Println("    POST /rules/reload                      - Hot-reload rules from database")
	fmt.Println("    GET  /fraud/patterns                    - List fraud patterns")
	fmt.Println("    POST /fraud/patterns                    - Create a fraud pattern")
	fmt.Println("    DELETE /fraud/patterns/{id}             - Disable a fraud pattern")
	fmt.Println("    POST /fraud/patterns/reload             - Hot-reload fraud patterns")
	fmt.Println("    GET  /health                            - Health check")
	fmt.Println()
}
