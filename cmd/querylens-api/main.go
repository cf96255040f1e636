package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/querylens/querylens/internal/api"
	"github.com/querylens/querylens/internal/auth"
	catalogpostgres "github.com/querylens/querylens/internal/catalog/postgres"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/engine"
	"github.com/querylens/querylens/internal/maintenance"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/sqlguard"
	"github.com/querylens/querylens/internal/storage"
	s3store "github.com/querylens/querylens/internal/storage/s3"
	"github.com/querylens/querylens/internal/warehouse/duckdb"
)

func main() {
	cfg, err := config.LoadFromEnv("querylens-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	catalogDB, err := catalogpostgres.Open(startupCtx, catalogpostgres.DBConfigFrom(cfg.Catalog))
	if err != nil {
		logger.Error("failed to open catalog db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = catalogDB.Close() }()
	catalogRepo := catalogpostgres.NewRepository(catalogDB)

	wh, err := duckdb.Open(startupCtx, cfg.Warehouse)
	if err != nil {
		logger.Error("failed to open warehouse", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = wh.Close() }()

	var archive storage.ObjectStore
	if cfg.ObjectStore.Enabled {
		store, err := s3store.New(startupCtx, cfg.ObjectStore)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		archive = store
	}

	completer, err := newCompleter(startupCtx, cfg.AI, logger)
	if err != nil {
		logger.Error("failed to initialize sql generator", slog.Any("error", err))
		os.Exit(1)
	}

	var parser sqlguard.Parser
	if cfg.Engine.StrictParse {
		parser = wh
	}

	service := &engine.Service{
		Catalog:   catalogRepo,
		Warehouse: wh,
		Generator: nl2sql.NewGenerator(completer, cfg.AI.Timeout),
		Validator: sqlguard.NewGuard(parser),
		Archive:   archive,
		Config:    cfg.Engine,
		Location:  cfg.Analytics.Location(),
		SpoolDir:  cfg.Warehouse.TempDir,
		Logger:    logger,
	}

	deps := api.Dependencies{
		Logger: logger,
		Engine: service,
		Readiness: api.CombineReadinessChecks(
			api.CheckCatalogDSN(cfg),
			service.HealthCheck,
		),
		DependencyTimeout: 2 * time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reconciler := &maintenance.Service{
		Catalog:   catalogRepo,
		Warehouse: wh,
		Config: maintenance.Config{
			Interval:        cfg.Maintenance.Interval,
			OrphanSafetyAge: cfg.Maintenance.OrphanSafetyAge,
		},
		Logger: logger,
	}
	go func() { _ = reconciler.Run(ctx) }()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("ai_provider", cfg.AI.Provider),
			slog.Bool("archive", archive != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// newCompleter returns nil when no credentials are configured; every ask then
// fails with a generation error instead of the server refusing to start.
func newCompleter(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (nl2sql.TextCompleter, error) {
	var base nl2sql.TextCompleter
	switch cfg.Provider {
	case "gemini":
		if strings.TrimSpace(cfg.APIKey) == "" && strings.TrimSpace(cfg.GeminiProject) == "" {
			logger.Warn("gemini credentials not configured; sql generation disabled")
			return nil, nil
		}
		completer, err := nl2sql.NewGeminiCompleter(ctx, nl2sql.GeminiConfig{
			APIKey:      cfg.APIKey,
			Project:     cfg.GeminiProject,
			Location:    cfg.GeminiLocation,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, err
		}
		base = completer
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			logger.Warn("openai api key not configured; sql generation disabled")
			return nil, nil
		}
		completer, err := nl2sql.NewOpenAICompleter(nl2sql.OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		base = completer
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
	return &nl2sql.RetryingCompleter{Next: base, Retries: cfg.TransportRetries, Logger: logger}, nil
}
