package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/config"
	"github.com/xkilldash9x/plotweave/internal/generator"
	"github.com/xkilldash9x/plotweave/internal/llmclient"
	"github.com/xkilldash9x/plotweave/internal/observability"
)

// InitializeLLMClient creates the tiered LLM client described by cfg.
func InitializeLLMClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	llmClient, err := llmclient.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client. Generation will be unavailable.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return llmClient, nil
}

// InitializeGenerator builds the content generator selected by the
// configuration. For the llm provider it also returns the client, which the
// caller must close. metrics may be nil.
func InitializeGenerator(ctx context.Context, cfg config.Interface, metrics *observability.Metrics, logger *zap.Logger) (schemas.ContentGenerator, schemas.LLMClient, error) {
	genCfg := cfg.Generator()
	switch genCfg.Provider {
	case config.GeneratorOffline, "":
		logger.Info("Using offline content generator.")
		return generator.NewOffline(), nil, nil
	case config.GeneratorLLM:
		client, err := InitializeLLMClient(ctx, cfg.Agent(), logger)
		if err != nil {
			return nil, nil, err
		}
		var opts []generator.Option
		if metrics != nil {
			opts = append(opts, generator.WithObserver(metrics))
		}
		logger.Info("Using LLM content generator.",
			zap.Float64("requests_per_second", genCfg.RequestsPerSecond),
			zap.Uint32("breaker_max_failures", genCfg.BreakerMaxFailures))
		return generator.NewLLM(client, genCfg, logger, opts...), client, nil
	default:
		return nil, nil, fmt.Errorf("unsupported generator provider: %s", genCfg.Provider)
	}
}
