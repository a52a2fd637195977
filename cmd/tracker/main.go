package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Yuanja/watch-tracker-sub002/internal/api"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/usecase"
	"github.com/Yuanja/watch-tracker-sub002/internal/conf"
	"github.com/Yuanja/watch-tracker-sub002/internal/data"
	"github.com/Yuanja/watch-tracker-sub002/internal/llm"
	"github.com/Yuanja/watch-tracker-sub002/internal/metrics"
	"github.com/Yuanja/watch-tracker-sub002/internal/server"
	"github.com/Yuanja/watch-tracker-sub002/internal/service"
	"github.com/Yuanja/watch-tracker-sub002/internal/tools"
)

const sweepInterval = 5 * time.Minute

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg := conf.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	repos, err := data.NewRepositories(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer repos.Close()
	logger.Info("database ready", "path", cfg.DBPath)

	media, err := data.NewMediaFetcher(cfg.MediaDir)
	if err != nil {
		logger.Error("failed to prepare media directory", "dir", cfg.MediaDir, "error", err)
		os.Exit(1)
	}

	llmClient := llm.NewClient(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.EmbeddingModel,
		cfg.OpenAI.BaseURL,
		cfg.OpenAI.RequestsPerMin,
	)

	// Usecase layer.
	lookupUC := usecase.NewLookupUsecase(repos.Lookup, time.Duration(cfg.Extraction.LookupCacheTTL)*time.Second)
	archiveUC := usecase.NewArchiveUsecase(repos.Message, repos.Group, media, logger)
	extractUC := usecase.NewExtractionUsecase(
		repos.Message, repos.Listing, repos.Review, llmClient, lookupUC,
		cfg.Prompts.Extraction.SystemTemplate,
		usecase.ExtractionConfig{
			AutoAcceptThreshold: cfg.Extraction.AutoAcceptThreshold,
			ReviewThreshold:     cfg.Extraction.ReviewThreshold,
			LowConfidence:       usecase.LowConfidencePolicy(cfg.Extraction.LowConfidencePolicy),
		},
		logger,
	)
	crossPostUC := usecase.NewCrossPostUsecase(repos.Listing, logger)
	notifyUC := usecase.NewNotificationUsecase(
		repos.Rule, repos.User, llmClient, lookupUC,
		data.NewLogEmailSender(cfg.Notify.FromEmail, logger),
		data.NewLogPusher(logger),
		cfg.Prompts.Rules.ParseTemplate,
		cfg.Notify.FromEmail,
		logger,
	)
	reviewUC := usecase.NewReviewUsecase(
		repos.Review, repos.Listing, repos.Message, lookupUC, extractUC,
		cfg.Prompts.Extraction.AssistTemplate, logger,
	)
	toolRegistry := tools.NewRegistry(repos.Listing, repos.Message, notifyUC, logger)
	agentUC := usecase.NewAgentUsecase(
		repos.Chat, llmClient, toolRegistry,
		cfg.Prompts.Agent.SystemPrompt,
		cfg.Prompts.Agent.ToolResultTemplate,
		logger,
	)

	registry := prometheus.NewRegistry()
	recorder := metrics.NewCollector(registry)

	pipeline := service.NewPipeline(
		archiveUC, extractUC, crossPostUC, notifyUC, recorder, logger,
		cfg.Extraction.Workers, cfg.Extraction.QueueDepth,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pick up anything left unprocessed by a previous run.
	pipeline.RetrySweep(ctx, 100)
	go pipeline.RunSweeper(ctx, sweepInterval, 100)

	webhookSrv := server.NewWebhookServer(
		pipeline,
		fmt.Sprintf(":%d", cfg.Server.WebhookPort),
		cfg.Server.WebhookSecret,
		logger,
	)
	go func() {
		if err := webhookSrv.Start(); err != nil {
			logger.Error("webhook server failed", "error", err)
			os.Exit(1)
		}
	}()

	apiHandler := api.NewHandler(reviewUC, notifyUC, agentUC, repos.Listing, repos.Message, pipeline, logger)
	apiSrv := server.NewAPIServer(apiHandler.Router(registry), fmt.Sprintf(":%d", cfg.Server.APIPort), logger)
	go func() {
		if err := apiSrv.Start(); err != nil {
			logger.Error("api server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := webhookSrv.Stop(shutdownCtx); err != nil {
		logger.Warn("webhook shutdown failed", "error", err)
	}
	if err := apiSrv.Stop(shutdownCtx); err != nil {
		logger.Warn("api shutdown failed", "error", err)
	}
	pipeline.Close()
}
