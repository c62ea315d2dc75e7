package main

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/weftworks/loom/internal/config"
	"github.com/weftworks/loom/internal/engine"
	"github.com/weftworks/loom/internal/graph"
	"github.com/weftworks/loom/internal/llm"
	"github.com/weftworks/loom/internal/llm/anthropic"
	"github.com/weftworks/loom/internal/llm/openai"
	"github.com/weftworks/loom/internal/logger"
	"github.com/weftworks/loom/internal/orchestrator"
	"github.com/weftworks/loom/internal/processor"
	"github.com/weftworks/loom/internal/prompt"
	"github.com/weftworks/loom/internal/session/store"
	"github.com/weftworks/loom/internal/tool"
	"github.com/weftworks/loom/internal/tools"
)

// app is the wiring shared by every command: configuration, logger, session
// store, and the registry with the built-in tools.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	store    store.Store
	registry *tool.Registry
}

func newApp(flags *rootFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if flags.verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{Level: level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, err
	}

	st, err := newSessionStore(cfg)
	if err != nil {
		return nil, err
	}

	reg := tool.NewRegistry()
	if err := tools.RegisterBuiltins(reg); err != nil {
		return nil, err
	}

	return &app{cfg: cfg, log: log, store: st, registry: reg}, nil
}

func newSessionStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Session.Store {
	case "file":
		return store.NewFile(store.FileOptions{Dir: cfg.Session.File.Dir, Cache: true})
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
		})
		return store.NewRedis(store.RedisOptions{
			Client:    client,
			KeyPrefix: cfg.Session.Redis.KeyPrefix,
			TTL:       cfg.Session.Redis.TTL.Std(),
		})
	default:
		return store.NewMemory(), nil
	}
}

// newLLMClient resolves the provider API key from the configured environment
// variable and builds the matching adapter.
func newLLMClient(cfg *config.Config) (llm.Client, error) {
	apiKey := os.Getenv(cfg.Model.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("no API key found: set %s", cfg.Model.APIKeyEnv)
	}

	switch cfg.Model.Provider {
	case "anthropic":
		return anthropic.NewFromAPIKey(apiKey, cfg.Model.Name)
	default:
		return openai.NewFromAPIKey(apiKey, cfg.Model.Name)
	}
}

// newOrchestrator assembles the per-run pipeline: a fresh graph, the shared
// processor, and the executor options from configuration.
func (a *app) newOrchestrator(client llm.Client, observer engine.Observer, onPlan func(planID, outline string)) *orchestrator.Orchestrator {
	exec := a.cfg.Execution
	proc := processor.New(a.registry, a.store, processor.Options{
		CacheEnabled: *a.cfg.Cache.Enabled,
		MaxRetries:   exec.MaxRetries,
		RetryDelay:   exec.RetryDelay.Std(),
		Timeout:      exec.StepTimeout.Std(),
		Concurrency:  exec.MaxConcurrency,
	}, a.log)

	return orchestrator.New(graph.NewStore(), a.store, a.registry, client, proc, a.log, orchestrator.Options{
		Model:         a.cfg.Model.Name,
		MaxTokens:     a.cfg.Model.MaxTokens,
		Temperature:   a.cfg.Model.Temperature,
		Strategy:      prompt.Strategy(a.cfg.Prompt.Strategy),
		PromptBudget:  a.cfg.Prompt.MaxTokens,
		MaxLLMRetries: exec.MaxLLMRetries,
		Execution: engine.Options{
			MaxConcurrency:    exec.MaxConcurrency,
			ContinueOnFailure: *exec.ContinueOnFailure,
			Observer:          observer,
		},
		OnPlan: onPlan,
	})
}
