package llmclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

// tierOrder fixes the close order so errors are reported deterministically.
var tierOrder = [...]schemas.ModelTier{schemas.TierFast, schemas.TierPowerful}

// LLMRouter sends short generator calls (events, actions, stay responses) to
// the fast model and scene writing to the powerful one. Requests without a
// tier are scene-grade.
type LLMRouter struct {
	byTier map[schemas.ModelTier]schemas.LLMClient
	log    *zap.Logger
}

// NewLLMRouter needs a client for each tier; the same client may serve both.
func NewLLMRouter(logger *zap.Logger, fast, powerful schemas.LLMClient) (*LLMRouter, error) {
	if fast == nil || powerful == nil {
		return nil, fmt.Errorf("llm router: fast and powerful clients are both required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMRouter{
		byTier: map[schemas.ModelTier]schemas.LLMClient{
			schemas.TierFast:     fast,
			schemas.TierPowerful: powerful,
		},
		log: logger.Named("llm_router"),
	}, nil
}

func (r *LLMRouter) clientFor(tier schemas.ModelTier) (schemas.ModelTier, schemas.LLMClient, error) {
	if tier == "" {
		tier = schemas.TierPowerful
	}
	c, ok := r.byTier[tier]
	if !ok {
		return tier, nil, fmt.Errorf("no LLM client configured for tier: %s", tier)
	}
	return tier, c, nil
}

// Generate implements schemas.LLMClient.
func (r *LLMRouter) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	tier, c, err := r.clientFor(req.Tier)
	if err != nil {
		return "", err
	}
	r.log.Debug("Routing generation request.",
		zap.String("tier", string(tier)),
		zap.Bool("json", req.Options.ForceJSONFormat),
		zap.Int("prompt_chars", len(req.UserPrompt)))
	return c.Generate(ctx, req)
}

// Close closes each distinct client once.
func (r *LLMRouter) Close() error {
	var errs []error
	done := make(map[schemas.LLMClient]struct{}, len(r.byTier))
	for _, tier := range tierOrder {
		c := r.byTier[tier]
		if c == nil {
			continue
		}
		if _, seen := done[c]; seen {
			continue
		}
		done[c] = struct{}{}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s client: %w", tier, err))
		}
	}
	return errors.Join(errs...)
}
