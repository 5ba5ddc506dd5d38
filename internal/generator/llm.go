package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/config"
	"github.com/xkilldash9x/plotweave/internal/llmutil"
)

// Observer is notified of every model call. Implementations must be safe for
// concurrent use.
type Observer interface {
	GenerationFinished(kind string, d time.Duration, err error)
	BreakerStateChanged(to string)
}

// LLMGenerator implements schemas.ContentGenerator by prompting an
// LLMClient. Calls pass through a token-bucket limiter and a circuit breaker;
// neither retries.
type LLMGenerator struct {
	client      schemas.LLMClient
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	temperature float64
	shape       *shaper
	observer    Observer
	log         *zap.Logger
}

// Option configures an LLMGenerator.
type Option func(*LLMGenerator)

// WithObserver reports call outcomes to o.
func WithObserver(o Observer) Option { return func(g *LLMGenerator) { g.observer = o } }

// NewLLM wraps client with the limiter and breaker described by cfg.
func NewLLM(client schemas.LLMClient, cfg config.GeneratorConfig, logger *zap.Logger, opts ...Option) *LLMGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("generator.llm")

	rps, burst := cfg.RequestsPerSecond, cfg.Burst
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 1
	}
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	g := &LLMGenerator{
		client:      client,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		temperature: float64(cfg.Temperature),
		shape:       newShaper(log),
		log:         log,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-generator",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fields := []zap.Field{zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String())}
			if to == gobreaker.StateOpen {
				log.Warn("Generator circuit breaker opened.", fields...)
			} else {
				log.Info("Generator circuit breaker changed state.", fields...)
			}
			if g.observer != nil {
				g.observer.BreakerStateChanged(to.String())
			}
		},
		// A caller giving up says nothing about the model's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return g
}

// complete runs one model call through the limiter and breaker.
func (g *LLMGenerator) complete(ctx context.Context, kind string, tier schemas.ModelTier, user string, jsonOut bool) (string, error) {
	start := time.Now()
	out, err := g.call(ctx, tier, user, jsonOut)
	if g.observer != nil {
		g.observer.GenerationFinished(kind, time.Since(start), err)
	}
	if err != nil {
		g.log.Debug("Model call failed.", zap.String("kind", kind), zap.Error(err))
		return "", err
	}
	return out, nil
}

func (g *LLMGenerator) call(ctx context.Context, tier schemas.ModelTier, user string, jsonOut bool) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	system := storytellerSystem
	if jsonOut {
		system = jsonSystem
	}
	req := schemas.GenerationRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		Tier:         tier,
		Options:      schemas.GenerationOptions{Temperature: g.temperature, ForceJSONFormat: jsonOut},
	}
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.client.Generate(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// GenerateScene writes or polishes scene text.
func (g *LLMGenerator) GenerateScene(ctx context.Context, prompt string, gctx schemas.Document) (string, error) {
	out, err := g.complete(ctx, "scene", schemas.TierPowerful, scenePrompt(prompt, gctx), false)
	if err != nil {
		return "", err
	}
	scene := llmutil.CleanText(out)
	if scene == "" {
		return "", ErrEmptyScene
	}
	return scene, nil
}

// GenerateEvents proposes background events for a scene.
func (g *LLMGenerator) GenerateEvents(ctx context.Context, scene string, gctx schemas.Document) ([]schemas.EventDraft, error) {
	out, err := g.complete(ctx, "events", schemas.TierFast, eventsPrompt(scene, gctx), true)
	if err != nil {
		return nil, err
	}
	reply, err := llmutil.ParseJSONResponse[eventsReply](out)
	if err != nil {
		return nil, err
	}
	return g.shape.events(reply.Events), nil
}

// GenerateActions proposes the reader's choices for a scene.
func (g *LLMGenerator) GenerateActions(ctx context.Context, scene string, gctx schemas.Document, state schemas.WorldState) ([]schemas.ActionDraft, error) {
	out, err := g.complete(ctx, "actions", schemas.TierFast, actionsPrompt(scene, gctx, state), true)
	if err != nil {
		return nil, err
	}
	reply, err := llmutil.ParseJSONResponse[actionsReply](out)
	if err != nil {
		return nil, err
	}
	actions := reply.Actions
	if len(actions) == 0 {
		actions = reply.ChapterActions
	}
	return g.shape.actions(actions), nil
}

// GenerateNextNode writes the node reached by taking action from node.
func (g *LLMGenerator) GenerateNextNode(ctx context.Context, node *schemas.Node, action *schemas.Action, state schemas.WorldState) (*schemas.NodeDraft, error) {
	out, err := g.complete(ctx, "next_node", schemas.TierPowerful, nextNodePrompt(node, action, state), true)
	if err != nil {
		return nil, err
	}
	reply, err := llmutil.ParseJSONResponse[nodeReply](out)
	if err != nil {
		return nil, err
	}
	draft, err := g.shape.node(reply, state)
	if err != nil {
		return nil, err
	}
	// The engine owns the merged state; the model's view is kept as a
	// suggestion on the node.
	if len(reply.WorldState) > 0 {
		draft.Metadata = schemas.Document{"suggested_world_state": reply.WorldState}
	}
	draft.WorldState = nil
	return draft, nil
}

// GenerateResponse narrates the outcome of a stay action.
func (g *LLMGenerator) GenerateResponse(ctx context.Context, node *schemas.Node, action *schemas.Action, state schemas.WorldState) (string, error) {
	out, err := g.complete(ctx, "response", schemas.TierFast, responsePrompt(node, action, state), false)
	if err != nil {
		return "", err
	}
	text := llmutil.CleanText(out)
	if text == "" {
		return "", errors.New("generated response is empty")
	}
	return text, nil
}

var _ schemas.ContentGenerator = (*LLMGenerator)(nil)
