// Patternd is a pattern recognition daemon with a multi-frequency
// processing orchestrator.
//
// This binary starts the patternd HTTP server and the orchestrator's
// worker set: detection, insight, integration, lifecycle, synthesis,
// correlation, and coordination.
//
// Configuration is loaded from a YAML file with environment variable
// overrides. See internal/config for details.
//
// Usage:
//
//	# Start daemon with defaults
//	patternd
//
//	# Configure via flags and environment
//	patternd -config /etc/patternd/config.yaml
//	SERVER_HTTP_PORT=9334 patternd
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

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/config"
	patternhttp "github.com/fyrsmithlabs/patternd/internal/http"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/orchestrator"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/patternd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  patternd           Start the patternd daemon\n")
			fmt.Fprintf(os.Stderr, "  patternd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}

	log.Println("Daemon shutdown complete")
}

func printVersion() {
	fmt.Printf("patternd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the patternd daemon and blocks until context is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes the logger
//  3. Builds the pattern store, detector, lifecycle manager, and correlator
//  4. Builds and starts the orchestrator's worker set
//  5. Starts the HTTP server
//  6. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to ensure config directory: %w", err)
	}

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting patternd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("mode", string(cfg.Orchestrator.Mode)),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	store := pattern.NewStore()
	detector, err := pattern.NewDetector(store, pattern.NewHeuristicAnalyzer(), logger,
		pattern.WithConfidenceThreshold(cfg.Detection.ConfidenceThreshold),
		pattern.WithSimilarityThreshold(cfg.Detection.SimilarityThreshold),
		pattern.WithEvolutionWindow(cfg.Detection.EvolutionWindow),
		pattern.WithCategories(categories(cfg.Detection.Categories)),
	)
	if err != nil {
		return fmt.Errorf("failed to build detector: %w", err)
	}

	lifecycle, err := pattern.NewLifecycleManager(store, cfg.Lifecycle, logger)
	if err != nil {
		return fmt.Errorf("failed to build lifecycle manager: %w", err)
	}

	correlator, err := pattern.NewCorrelator(store, logger)
	if err != nil {
		return fmt.Errorf("failed to build correlator: %w", err)
	}

	orch, err := orchestrator.New(cfg.Orchestrator, orchestrator.Dependencies{
		Store:      store,
		Detector:   detector,
		Lifecycle:  lifecycle,
		Correlator: correlator,
		Collaborators: map[string]orchestrator.Collaborator{
			orchestrator.WorkerInsight:     orchestrator.NewStubCollaborator("insight"),
			orchestrator.WorkerIntegration: orchestrator.NewStubCollaborator("integration"),
			orchestrator.WorkerSynthesis:   orchestrator.NewStubCollaborator("synthesis"),
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	server, err := patternhttp.NewServer(store, detector, lifecycle, orch, logger, &patternhttp.Config{
		Host: "localhost",
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to build http server: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = orch.Stop()
			return fmt.Errorf("http server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	if err := orch.Stop(); err != nil && !errors.Is(err, orchestrator.ErrNotRunning) {
		logger.Warn("orchestrator stop error", zap.Error(err))
	}

	return nil
}

func categories(names []string) []pattern.Category {
	if len(names) == 0 {
		return pattern.DefaultCategories()
	}
	out := make([]pattern.Category, 0, len(names))
	for _, n := range names {
		out = append(out, pattern.Category(n))
	}
	return out
}
