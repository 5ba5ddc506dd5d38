package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/internal/config"
	"github.com/xkilldash9x/plotweave/internal/editor"
	"github.com/xkilldash9x/plotweave/internal/history"
	"github.com/xkilldash9x/plotweave/internal/interchange"
	"github.com/xkilldash9x/plotweave/internal/live"
	"github.com/xkilldash9x/plotweave/internal/observability"
	"github.com/xkilldash9x/plotweave/internal/project"
	"github.com/xkilldash9x/plotweave/internal/statemachine"
	"github.com/xkilldash9x/plotweave/internal/store"
)

// ComponentFactory builds the engine from configuration. Commands depend on
// the interface so tests can substitute their own wiring.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory returns the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires store, history, registry, generator, editor, state machine
// and interchange. Stored projects are opened before it returns. If any
// step fails, everything built so far is shut down.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	components := &Components{logger: logger}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Metrics
	if m := cfg.Metrics(); m.Enabled {
		components.Metrics = observability.NewMetrics(m.Namespace)
		logger.Debug("Metrics initialized.", zap.String("namespace", m.Namespace))
	}

	// 2. Store
	st, err := store.Open(ctx, cfg.Storage(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open %s store: %w", cfg.Storage().Driver, err)
		return nil, initializationErr
	}
	components.Store = st
	logger.Debug("Store opened.", zap.String("driver", string(cfg.Storage().Driver)))

	// 3. History and registry
	var historyObs history.Observer
	var mutationObs project.MutationObserver
	if components.Metrics != nil {
		historyObs, mutationObs = components.Metrics, components.Metrics
	}
	components.Live = live.NewHub(logger)
	components.History = history.NewManager(st, history.Options{MaxSnapshots: cfg.Engine().MaxSnapshots}, historyObs, logger)
	components.Registry = project.NewRegistry(logger,
		project.WithStore(st),
		project.WithRecorder(components.History),
		project.WithObserver(mutationObs),
		project.WithSchemaCheck(cfg.Engine().ValidateSchemaOnLoad),
		project.WithListener(components.Live),
	)

	loaded, err := components.Registry.LoadAll(ctx)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open stored projects: %w", err)
		return nil, initializationErr
	}
	logger.Debug("Stored projects opened.", zap.Int("count", loaded))

	// 4. Generator
	gen, llm, err := InitializeGenerator(ctx, cfg, components.Metrics, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Generator, components.llm = gen, llm

	// 5. Editing, reading and interchange
	components.Editor = editor.New(components.Registry, gen, editor.Config{AllowSelfLoops: cfg.Engine().AllowSelfLoops}, logger)
	components.Machine = statemachine.New(components.Registry, gen, logger)
	components.Exporter = interchange.NewExporter(logger)
	components.Importer = interchange.NewImporter(components.Registry, logger)

	logger.Info("All components initialized.",
		zap.String("storage", string(cfg.Storage().Driver)),
		zap.String("generator", string(cfg.Generator().Provider)),
		zap.Int("projects", loaded))
	return components, nil
}
