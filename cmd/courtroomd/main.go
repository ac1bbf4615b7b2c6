// Courtroomd is the courtroom session daemon.
//
// It hosts the replicated trial state machine behind an HTTP API:
// participants join a room, exchange messages through the moderated
// stream, advance through the timed trial stages by consensus or
// countdown, and finally request a generative judgment.
//
// Configuration is loaded from YAML plus environment variables. See
// internal/config for details.
//
// Usage:
//
//	# Start with defaults (in-memory store)
//	courtroomd
//
//	# Replicated store and custom port
//	COURTROOMD_STORE_BACKEND=nats COURTROOMD_SERVER_PORT=9090 courtroomd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/courtroomd/internal/analysis"
	"github.com/fyrsmithlabs/courtroomd/internal/config"
	"github.com/fyrsmithlabs/courtroomd/internal/logging"
	"github.com/fyrsmithlabs/courtroomd/internal/moderation"
	"github.com/fyrsmithlabs/courtroomd/internal/stage"
	"github.com/fyrsmithlabs/courtroomd/internal/verdict"
	"github.com/fyrsmithlabs/courtroomd/pkg/server"
	"github.com/fyrsmithlabs/courtroomd/pkg/store"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
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
			fmt.Fprintf(os.Stderr, "  courtroomd           Start the courtroom daemon\n")
			fmt.Fprintf(os.Stderr, "  courtroomd version   Show version information\n")
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
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("courtroomd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until context cancellation.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	svcs, err := initServices(cfg, deps, logger)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(cfg, server.Deps{
		Store:    deps.store,
		Machine:  svcs.machine,
		Timer:    svcs.timer,
		Guard:    svcs.guard,
		Verdicts: svcs.verdicts,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	logger.Info("Server configured",
		zap.Int("port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("judgment_model", cfg.Judgment.Model))

	return srv.Start(ctx)
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	natsConn *nats.Conn
	store    store.Store
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
}

// services holds all business services.
type services struct {
	machine  stage.Service
	timer    *stage.Timer
	guard    *moderation.Guard
	verdicts *verdict.Service
}

// initDependencies connects the configured shared-state backend.
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	if cfg.Store.Backend == "memory" {
		logger.Info("Using in-memory store")
		return &dependencies{store: store.NewMemoryStore()}, nil
	}

	nc, err := nats.Connect(cfg.Store.NATS.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Store.NATS.URL, err)
	}

	logger.Info("Connected to NATS", zap.String("url", cfg.Store.NATS.URL))

	st, err := store.NewNATSStore(nc, &store.NATSConfig{
		Bucket:      cfg.Store.NATS.Bucket,
		Description: "courtroom session shared state",
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create NATS store: %w", err)
	}

	logger.Info("Store initialized", zap.String("bucket", cfg.Store.NATS.Bucket))

	return &dependencies{natsConn: nc, store: st}, nil
}

// initServices builds the session core on top of the store.
func initServices(cfg *config.Config, deps *dependencies, logger *zap.Logger) (*services, error) {
	stageCfg := &stage.Config{
		Intro:        cfg.Stages.Intro.Duration(),
		Opening:      cfg.Stages.Opening.Duration(),
		Issues:       cfg.Stages.Issues.Duration(),
		Discussion:   cfg.Stages.Discussion.Duration(),
		Questions:    cfg.Stages.Questions.Duration(),
		Closing:      cfg.Stages.Closing.Duration(),
		GraceDelay:   cfg.Stages.GraceDelay.Duration(),
		TickInterval: cfg.Stages.TickInterval.Duration(),
	}

	machine, err := stage.NewService(stageCfg, deps.store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage machine: %w", err)
	}

	timer, err := stage.NewTimer(stageCfg, deps.store, machine, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage timer: %w", err)
	}

	analyzer := analysis.New(analysis.DefaultConfig())

	modCfg := moderation.DefaultConfig()
	modCfg.Window = cfg.Moderation.Window.Duration()
	if cfg.Moderation.Warning != "" {
		modCfg.Warning = cfg.Moderation.Warning
	}

	guard, err := moderation.NewGuard(modCfg, deps.store, analyzer, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create profanity guard: %w", err)
	}

	client, err := verdict.NewClient(verdict.ClientConfig{
		BaseURL:     cfg.Judgment.BaseURL,
		Model:       cfg.Judgment.Model,
		APIKey:      cfg.Judgment.APIKey.Value(),
		Temperature: cfg.Judgment.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create judgment client: %w", err)
	}

	verdicts, err := verdict.NewService(
		&verdict.Config{CarryStatsOnAppeal: cfg.Judgment.CarryStatsOnAppeal},
		deps.store, analyzer, client, logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verdict service: %w", err)
	}

	return &services{
		machine:  machine,
		timer:    timer,
		guard:    guard,
		verdicts: verdicts,
	}, nil
}
