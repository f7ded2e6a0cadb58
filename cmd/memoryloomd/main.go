package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DPamK/MemoryLoom/agent"
	"github.com/DPamK/MemoryLoom/config"
	"github.com/DPamK/MemoryLoom/llm"
	"github.com/DPamK/MemoryLoom/llm/anthropic"
	"github.com/DPamK/MemoryLoom/llm/ollama"
	"github.com/DPamK/MemoryLoom/llm/openai"
	loomlogger "github.com/DPamK/MemoryLoom/logger"
	"github.com/DPamK/MemoryLoom/memory"
	"github.com/DPamK/MemoryLoom/migrations"
	"github.com/DPamK/MemoryLoom/pipeline"
	"github.com/DPamK/MemoryLoom/prompt"
	"github.com/DPamK/MemoryLoom/retrieval"
	"github.com/DPamK/MemoryLoom/server"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
		dbPath     = flag.String("db", "", "Path to SQLite database file (overrides config)")
		configPath = flag.String("config", "", "Path to config file")
		logFile    = flag.String("logfile", "", "Path to log file. If not set, logs to stdout/stderr")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	logger, err := loomlogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.GetConfigPath()
	}
	appConfig, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *addr != "" {
		appConfig.Server.Addr = *addr
	}
	if *dbPath != "" {
		appConfig.DBPath = *dbPath
	}

	logger.Info().
		Str("addr", appConfig.Server.Addr).
		Str("db", appConfig.DBPath).
		Str("provider", appConfig.Generation.Provider).
		Msg("memoryloomd starting")

	// ---------------------------
	// 1. Open SQLite + Memory Store
	// ---------------------------

	db, err := sql.Open("sqlite3", appConfig.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // No remedy for db close errors

	if err := migrations.RunMigrations(db, "./migrations", logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	store, err := memory.NewStore(db, logger)
	if err != nil {
		return fmt.Errorf("failed to create memory store: %w", err)
	}

	// ---------------------------
	// 2. Generation Client + Agents
	// ---------------------------

	client, err := buildGenerationClient(appConfig)
	if err != nil {
		return fmt.Errorf("failed to create generation client: %w", err)
	}
	if appConfig.Generation.Timeout > 0 {
		client = llm.WithTimeout(client, time.Duration(appConfig.Generation.Timeout)*time.Second)
	}

	registry := prompt.NewSeededRegistry()
	agents, err := pipeline.NewAgents(client, registry, appConfig.Generation.MaxAttempts, logger)
	if err != nil {
		return fmt.Errorf("failed to create stage agents: %w", err)
	}
	recordAgent, err := agent.NewRecordAgent(client, registry, appConfig.Generation.MaxAttempts, logger)
	if err != nil {
		return fmt.Errorf("failed to create record agent: %w", err)
	}

	// ---------------------------
	// 3. Consolidator + Scheduler
	// ---------------------------

	consolidator, err := pipeline.NewConsolidator(store, agents, logger)
	if err != nil {
		return fmt.Errorf("failed to create consolidator: %w", err)
	}

	scheduler, err := pipeline.NewScheduler(
		consolidator,
		store,
		appConfig.Scheduler.Schedule,
		time.Duration(appConfig.Scheduler.Timeout)*time.Second,
		appConfig.Scheduler.Workers,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()
	go scheduler.Start(schedulerCtx)
	logger.Info().Str("schedule", appConfig.Scheduler.Schedule).Msg("Background scheduler started")

	// ---------------------------
	// 4. Retrieval + HTTP Server
	// ---------------------------

	oracle := retrieval.NewRerankOracle(rerankURL(appConfig), logger)
	fuser := retrieval.NewFuser(store, oracle, retrieval.Options{
		Lookback:      appConfig.Retrieval.Lookback,
		RecordShare:   appConfig.Retrieval.RecordShare,
		LongTermShare: appConfig.Retrieval.LongTermShare,
		SummaryShare:  appConfig.Retrieval.SummaryShare,
	}, logger)

	ingestor := pipeline.NewIngestor(store, recordAgent, logger)
	srv := server.New(appConfig.Server.Addr, store, ingestor, fuser, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancelScheduler()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP server shutdown was not clean")
		}
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info().Msg("memoryloomd shutdown complete")
	return nil
}

// buildGenerationClient resolves the configured provider and constructs the
// matching client.
func buildGenerationClient(cfg *config.Config) (llm.Client, error) {
	key, err := llm.ResolveClientKey(cfg.Generation.Provider, &llm.ProviderConfig{
		OpenAIAPIKey:    cfg.Generation.OpenAI.APIKey,
		OpenAIBaseURL:   cfg.Generation.OpenAI.BaseURL,
		OpenAIModel:     cfg.Generation.OpenAI.Model,
		OllamaHost:      cfg.Generation.Ollama.Host,
		OllamaModel:     cfg.Generation.Ollama.Model,
		AnthropicAPIKey: cfg.Generation.Anthropic.APIKey,
		AnthropicModel:  cfg.Generation.Anthropic.Model,
	})
	if err != nil {
		return nil, err
	}

	switch key.Provider {
	case llm.ProviderOpenAI:
		return openai.NewOpenAIClient(key.APIKey, key.BaseURL, key.Model)
	case llm.ProviderOllama:
		return ollama.NewOllamaClient(key.Host, key.Model)
	case llm.ProviderAnthropic:
		return anthropic.NewAnthropicClient(key.APIKey, key.Model)
	default:
		return nil, fmt.Errorf("unknown provider: %s", key.Provider)
	}
}

func rerankURL(cfg *config.Config) string {
	if cfg.Retrieval.RerankURL != "" {
		return cfg.Retrieval.RerankURL
	}
	return os.Getenv("RERANK_API")
}
