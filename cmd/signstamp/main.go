package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/zap"

	"github.com/kwonno/O2-maintenance-sub000/internal/config"
	"github.com/kwonno/O2-maintenance-sub000/internal/logging"
	"github.com/kwonno/O2-maintenance-sub000/internal/mcp"
	"github.com/kwonno/O2-maintenance-sub000/internal/metrics"
	"github.com/kwonno/O2-maintenance-sub000/internal/pdf/wrapper"
	"github.com/kwonno/O2-maintenance-sub000/internal/preview"
	"github.com/kwonno/O2-maintenance-sub000/internal/service"
	"github.com/kwonno/O2-maintenance-sub000/internal/stamp"
	"github.com/kwonno/O2-maintenance-sub000/internal/storage"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

func main() {
	cfg, err := config.LoadFromFlags()
	if errors.Is(err, config.ErrVersionRequested) {
		printVersion()
		return
	}
	if err != nil {
		logging.BootstrapLogger().Fatal("failed to load configuration", zap.Error(err))
	}

	if version != "dev" {
		cfg.Version = version
	}

	logger := logging.MustBuildLogger(cfg.LogLevel, cfg.LogEnv)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.IsServerMode() {
		metrics.Register(logger)
		logger.Info("starting", zap.String("config", cfg.String()))
	}

	svc, err := buildService(ctx, cfg, logger)
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(cfg, svc, logger)
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}

	err = server.Run(ctx)
	if err == nil && ctx.Err() != nil {
		logger.Info("server stopped successfully")
	}
	return err
}

// buildService wires storage, the stamping engine and the preview renderers
func buildService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*service.Service, error) {
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.StorageBackend, err)
	}

	engine, err := stamp.NewEngine(cfg.StampOptions(), logger.Named("stamp"))
	if err != nil {
		return nil, fmt.Errorf("create stamping engine: %w", err)
	}
	if fonts := engine.Fonts().Fonts(); len(fonts) > 0 {
		logger.Debug("label fonts installed", zap.Strings("fonts", fonts))
	}

	pv := cfg.PreviewOptions()
	previewLogger := logger.Named("preview")
	return service.New(service.Options{
		Store:  store,
		Engine: engine,
		PDFRenderer: preview.NewPDFRenderer(
			wrapper.NewGeometryFactory(pv.Library, previewLogger), nil, previewLogger),
		SheetRenderer:   preview.NewSheetRenderer(pv.CellCeiling, previewLogger),
		ContainerWidth:  pv.ContainerWidth,
		ContainerHeight: pv.ContainerHeight,
		SignedURLTTL:    cfg.SignedURLTTL,
		Logger:          logger.Named("service"),
	})
}

func buildStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		return storage.NewMemory(), nil
	case config.StorageS3:
		return storage.NewS3(ctx, storage.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
			MaxSize:  cfg.MaxFileSize,
		})
	default:
		local := storage.LocalConfig{
			Root:    cfg.DocumentDirectory,
			Secret:  cfg.SignedURLSecret,
			MaxSize: cfg.MaxFileSize,
		}
		// downloads are only served by the HTTP router
		if cfg.IsServerMode() {
			local.BaseURL = "http://" + cfg.Address() + "/files"
		}
		return storage.NewLocal(local)
	}
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("signstamp\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Git Commit: %s\n", gitCommit)
	fmt.Printf("Built with: %s\n", runtime.Version())
}
