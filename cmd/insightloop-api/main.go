package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/insightloop/insightloop/internal/api"
	"github.com/insightloop/insightloop/internal/artifact"
	s3store "github.com/insightloop/insightloop/internal/artifact/s3"
	"github.com/insightloop/insightloop/internal/auth"
	"github.com/insightloop/insightloop/internal/config"
	duckdbengine "github.com/insightloop/insightloop/internal/executor/duckdb"
	"github.com/insightloop/insightloop/internal/gateway"
	"github.com/insightloop/insightloop/internal/knowledge"
	knowledgepostgres "github.com/insightloop/insightloop/internal/knowledge/postgres"
	"github.com/insightloop/insightloop/internal/observability"
	"github.com/insightloop/insightloop/internal/registry"
	"github.com/insightloop/insightloop/internal/runstore"
	runstorepostgres "github.com/insightloop/insightloop/internal/runstore/postgres"
	"github.com/insightloop/insightloop/internal/workflow"
)

func main() {
	cfg, err := config.LoadFromEnv("insightloop-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	knowledgeDB, err := knowledgepostgres.Open(context.Background(), knowledgepostgres.DBConfig{
		DSN:             cfg.Knowledge.DSN,
		MaxOpenConns:    cfg.Knowledge.MaxOpenConns,
		MaxIdleConns:    cfg.Knowledge.MaxIdleConns,
		ConnMaxIdleTime: cfg.Knowledge.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Knowledge.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open knowledge db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = knowledgeDB.Close() }()

	knowledgeStore := knowledgepostgres.NewStore(knowledgeDB)
	provider := knowledge.NewProvider(knowledgeStore)

	modelGateway, err := gateway.NewOpenAIGateway(gateway.OpenAIConfig{
		BaseURL:     cfg.Gateway.BaseURL,
		APIKey:      cfg.Gateway.APIKey,
		Model:       cfg.Gateway.Model,
		Temperature: cfg.Gateway.Temperature,
		Timeout:     cfg.Gateway.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize model gateway", slog.Any("error", err))
		os.Exit(1)
	}

	engine := &workflow.Engine{
		Gateway:  modelGateway,
		Executor: duckdbengine.NewEngine(cfg.Executor.DataDir),
		Schemas:  provider,
		Examples: provider,
		Profiles: provider,
		Config: workflow.Config{
			MaxRetries:       cfg.Workflow.MaxRetries,
			GatewayTimeout:   cfg.Gateway.Timeout,
			ExecutorTimeout:  cfg.Executor.Timeout,
			LookupTimeout:    cfg.Workflow.LookupTimeout,
			WatchdogTimeout:  cfg.Workflow.WatchdogTimeout,
			RowCap:           cfg.Executor.RowCap,
			ResultSampleRows: cfg.Workflow.ResultSampleRows,
		},
		Logger: logger,
	}

	runRegistry := registry.New(cfg.Registry.Capacity, cfg.Registry.EvictionGrace, logger)
	go runRegistry.RunSweeper(ctx, cfg.Registry.SweepInterval)

	var runs runstore.Store
	if cfg.Archive.Enabled {
		store := runstorepostgres.NewStore(knowledgeDB)
		runs = store
		if cfg.Archive.RetentionAge > 0 {
			go runRetention(ctx, store, cfg.Archive.RetentionAge, cfg.Archive.RetentionInterval, logger)
		}
	}

	var exporter workflow.ResultExporter
	if cfg.Artifact.ExportEnabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.Artifact.Endpoint,
			Region:           cfg.Artifact.Region,
			Bucket:           cfg.Artifact.Bucket,
			AccessKeyID:      cfg.Artifact.AccessKeyID,
			SecretAccessKey:  cfg.Artifact.SecretAccessKey,
			UseSSL:           cfg.Artifact.UseSSL,
			Prefix:           cfg.Artifact.Prefix,
			AutoCreateBucket: cfg.Artifact.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize artifact store", slog.Any("error", err))
			os.Exit(1)
		}
		exporter = artifact.NewExporter(objectStore)
	}

	deps := api.Dependencies{
		Logger:   logger,
		Engine:   engine,
		Registry: runRegistry,
		Runs:     runs,
		Exporter: exporter,
		Readiness: api.CombineReadinessChecks(
			knowledgeStore.HealthCheck,
			api.CheckExecutorDataDir(cfg),
		),
		DependencyTimeout: time.Second,
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

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
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

// runRetention periodically deletes archived runs older than age.
func runRetention(ctx context.Context, store runstore.Store, age, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			deleted, err := store.PruneRuns(pruneCtx, time.Now().Add(-age))
			cancel()
			if err != nil {
				logger.Warn("run retention prune failed", slog.Any("error", err))
				continue
			}
			if deleted > 0 {
				logger.Info("pruned archived runs", slog.Int64("deleted", deleted))
			}
		}
	}
}
