package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/snapwise/receiptpipe/internal/config"
	"github.com/snapwise/receiptpipe/internal/processor"
	"github.com/snapwise/receiptpipe/internal/queue"
	"github.com/snapwise/receiptpipe/internal/receipt"
	"github.com/snapwise/receiptpipe/internal/status"
	"github.com/snapwise/receiptpipe/internal/vision"
	"github.com/snapwise/receiptpipe/internal/worker"
)

func main() {
	defaults := config.Default()

	fs := ff.NewFlagSet("receiptpipe")
	var (
		addr            = fs.StringLong("addr", defaults.Addr, "HTTP listen address")
		dbPath          = fs.StringLong("db", defaults.DBPath, "Receipt database file path")
		queueDBPath     = fs.StringLong("queue-db", defaults.QueueDBPath, "Job queue database file path")
		storagePath     = fs.StringLong("storage", defaults.StoragePath, "Image storage directory path")
		provider        = fs.StringLong("provider", defaults.Provider, "Vision provider: 'ollama', 'gemini' or 'claude'")
		ollamaURL       = fs.StringLong("ollama-url", defaults.OllamaURL, "Ollama API base URL")
		ollamaModel     = fs.StringLong("ollama-model", defaults.OllamaModel, "Ollama model name (e.g. llava, qwen2-vl)")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key (or set RECEIPTPIPE_GEMINI_KEY)")
		geminiModel     = fs.StringLong("gemini-model", defaults.GeminiModel, "Google Gemini model name")
		claudeKey       = fs.StringLong("claude-key", "", "Anthropic API key (or set RECEIPTPIPE_CLAUDE_KEY)")
		claudeModel     = fs.StringLong("claude-model", defaults.ClaudeModel, "Anthropic Claude model name")
		concurrency     = fs.IntLong("concurrency", defaults.Concurrency, "Number of concurrent worker goroutines")
		parseTimeout    = fs.DurationLong("parse-timeout", defaults.ParseTimeout, "Hard timeout for one parse call")
		rateLimit       = fs.IntLong("rate-limit", defaults.RateLimit, "Max parse calls per rate window")
		rateWindow      = fs.DurationLong("rate-window", defaults.RateWindow, "Rate limit window")
		maxAttempts     = fs.IntLong("max-attempts", defaults.MaxAttempts, "Max delivery attempts per job")
		backoffBase     = fs.DurationLong("backoff-base", defaults.BackoffBase, "Initial retry backoff (doubles each retry)")
		retainCompleted = fs.IntLong("retain-completed", defaults.RetainCompleted, "Completed jobs kept for inspection")
		retainFailed    = fs.IntLong("retain-failed", defaults.RetainFailed, "Failed jobs kept for inspection")
		authUser        = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass        = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPTPIPE"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	cfg := &config.Config{
		Addr:            *addr,
		AuthUser:        *authUser,
		AuthPass:        *authPass,
		DBPath:          *dbPath,
		QueueDBPath:     *queueDBPath,
		StoragePath:     *storagePath,
		Provider:        *provider,
		OllamaURL:       *ollamaURL,
		OllamaModel:     *ollamaModel,
		GeminiAPIKey:    resolveKey(*geminiKey, "GEMINI_API_KEY"),
		GeminiModel:     *geminiModel,
		ClaudeAPIKey:    resolveKey(*claudeKey, "ANTHROPIC_API_KEY"),
		ClaudeModel:     *claudeModel,
		Concurrency:     *concurrency,
		ParseTimeout:    *parseTimeout,
		RateLimit:       *rateLimit,
		RateWindow:      *rateWindow,
		MaxAttempts:     *maxAttempts,
		BackoffBase:     *backoffBase,
		RetainCompleted: *retainCompleted,
		RetainFailed:    *retainFailed,
	}

	slog.Info("Initializing receipt database...", "path", cfg.DBPath)
	db, err := receipt.NewBoltDB(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("Initializing job queue...", "path", cfg.QueueDBPath)
	jobQueue, err := queue.Open(cfg.QueueDBPath, queue.Options{
		MaxAttempts:     cfg.MaxAttempts,
		BackoffBase:     cfg.BackoffBase,
		RetainCompleted: cfg.RetainCompleted,
		RetainFailed:    cfg.RetainFailed,
	})
	if err != nil {
		slog.Error("Failed to initialize job queue", "error", err)
		os.Exit(1)
	}
	defer jobQueue.Close()

	slog.Info("Initializing storage...", "path", cfg.StoragePath)
	store, err := receipt.NewLocalStorage(cfg.StoragePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	slog.Info("Initializing vision provider...", "provider", cfg.Provider)
	visionProvider, err := vision.NewProvider(cfg)
	if err != nil {
		slog.Error("Failed to initialize vision provider", "error", err)
		os.Exit(1)
	}
	parser := vision.NewParser(visionProvider)
	defer parser.Close()

	hub := status.NewHub()
	proc := processor.New(parser, cfg.ParseTimeout)
	fetcher := receipt.NewStorageFetcher(store)

	pool := worker.New(cfg, jobQueue, db, fetcher, proc, hub, logger)
	pool.Start(context.Background())

	receiptService := receipt.NewService(db, store, jobQueue)
	server := receipt.NewServer(receiptService, hub, receipt.BasicAuth{
		Username: cfg.AuthUser,
		Password: cfg.AuthPass,
	})

	go func() {
		if err := server.Start(cfg.Addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()
	slog.Info("Server started", "address", cfg.Addr, "concurrency", cfg.Concurrency)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	pool.Stop()
}

// resolveKey prefers the flag value, falling back to a conventional
// environment variable.
func resolveKey(flagValue, envVar string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(envVar)
}
