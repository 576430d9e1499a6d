package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/config"
	"github.com/patrickwarner/adrotator/internal/db"
	"github.com/patrickwarner/adrotator/internal/logic"
	"github.com/patrickwarner/adrotator/internal/logic/selectors"
	"github.com/patrickwarner/adrotator/internal/service"
)

func newLogger() (*zap.Logger, error) {
	// stdout carries the MCP protocol, so logs go to stderr
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named("adrotator-mcp").With(zap.String("service", "adrotator-mcp")), nil
}

// newTools builds the tool set over stores. Previews read the repository
// directly so they always reflect the latest counters.
func newTools(cfg config.Config, stores *db.Stores, logger *zap.Logger) (*RotatorTools, error) {
	tieBreaker, err := selectors.ParseTieBreaker(cfg.TieBreak)
	if err != nil {
		return nil, err
	}
	seen := logic.NewSeenTracker(stores.Seen, cfg.SeenTTL(), nil, logger)
	ads := service.New(service.RepositoryPool{Repo: stores.Repo}, selectors.NewCooldownSelector(tieBreaker),
		seen, nil, nil, cfg.Cooldown, nil, logger)
	return &RotatorTools{
		repo:             stores.Repo,
		ads:              ads,
		seen:             seen,
		anomalyTolerance: cfg.ClickAnomalyTolerance,
		logger:           logger,
	}, nil
}

func main() {
	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Error("mcp server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// The rotation server owns the schema.
	cfg.RunMigrations = false

	stores, err := db.OpenStores(cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	tools, err := newTools(cfg, stores, logger)
	if err != nil {
		return err
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "adrotator",
		Version: "0.3.0",
	}, nil)
	tools.register(server)

	var logBuffer bytes.Buffer
	transport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("MCP server running via stdio", zap.String("store_driver", cfg.StoreDriver))
	if err := server.Run(ctx, transport); err != nil {
		return fmt.Errorf("serve: %w (mcp log: %s)", err, logBuffer.String())
	}
	return nil
}
