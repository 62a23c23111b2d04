package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/habridge/bridge-server/internal/config"
	"github.com/habridge/bridge-server/internal/homeassistant"
	"github.com/habridge/bridge-server/internal/httpapi"
	"github.com/habridge/bridge-server/internal/llm"
	"github.com/habridge/bridge-server/internal/observability"
	"github.com/habridge/bridge-server/internal/orchestrator"
	"github.com/habridge/bridge-server/internal/ratelimit"
	"github.com/habridge/bridge-server/internal/tools"
	"github.com/habridge/bridge-server/internal/transcript"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.BridgeAPIKey == "" {
		logger.Error("BRIDGE_API_KEY is required")
		os.Exit(1)
	}

	// Process-wide clients, constructed once and shared by all requests.
	llmClient := llm.NewAnthropicClient(cfg.AnthropicBaseURL, cfg.AnthropicAPIKey, cfg.LLMTimeout)
	haClient := homeassistant.New(cfg.HomeAssistantURL, cfg.HomeAssistantToken, cfg.HATimeout)
	executor := tools.NewExecutor(haClient)

	orch := orchestrator.New(llmClient, executor, tools.Catalog(), orchestrator.Options{
		Model:         cfg.ClaudeModel,
		MaxTokens:     cfg.MaxTokens,
		MaxIterations: cfg.MaxToolIterations,
		Location:      cfg.Location,
		Logger:        logger,
	})

	// Optional transcript store
	var transcripts *transcript.Store
	if cfg.PostgresDSN != "" {
		db, err := transcript.NewPostgresDB(cfg.PostgresDSN)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		transcripts = transcript.NewStore(db)
	}

	// Optional rate limiter
	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		limiter = ratelimit.New(rdb, "bridge", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	handler := httpapi.NewHandler(cfg, orch, llmClient, transcripts, logger)
	router := httpapi.NewRouter(handler, cfg, limiter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("bridge server starting",
			"port", cfg.Port,
			"home_assistant", cfg.HomeAssistantURL,
			"model", cfg.ClaudeModel,
			"claude_configured", llmClient.Configured(),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited")
}
