package service

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/editor"
	"github.com/xkilldash9x/plotweave/internal/history"
	"github.com/xkilldash9x/plotweave/internal/httpapi"
	"github.com/xkilldash9x/plotweave/internal/interchange"
	"github.com/xkilldash9x/plotweave/internal/live"
	"github.com/xkilldash9x/plotweave/internal/observability"
	"github.com/xkilldash9x/plotweave/internal/project"
	"github.com/xkilldash9x/plotweave/internal/statemachine"
)

// Components holds every initialized engine service and owns their
// lifecycle.
type Components struct {
	Store     schemas.Store
	History   *history.Manager
	Registry  *project.Registry
	Generator schemas.ContentGenerator
	Editor    *editor.Editor
	Machine   *statemachine.Machine
	Exporter  *interchange.Exporter
	Importer  *interchange.Importer
	Live      *live.Hub
	// Metrics is nil when metrics are disabled.
	Metrics *observability.Metrics

	// llm is closed on shutdown when the llm provider is in use.
	llm    schemas.LLMClient
	logger *zap.Logger
}

// Handler returns the HTTP API over these components.
func (c *Components) Handler() http.Handler {
	return httpapi.NewServer(httpapi.Deps{
		Registry: c.Registry,
		Editor:   c.Editor,
		Machine:  c.Machine,
		History:  c.History,
		Exporter: c.Exporter,
		Importer: c.Importer,
		Live:     c.Live,
		Metrics:  c.Metrics,
	}, c.logger).Routes()
}

// Shutdown releases resources in reverse order of creation. It is safe on a
// partially built Components.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = observability.GetLogger()
	}
	logger.Debug("Beginning components shutdown sequence.")

	if c.Live != nil {
		c.Live.Close()
		logger.Debug("Live hub closed.")
	}

	if c.llm != nil {
		if err := c.llm.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
		}
		logger.Debug("LLM client closed.")
	}

	if c.Registry != nil {
		c.Registry.Close()
		logger.Debug("Project registry closed.")
	}

	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			logger.Warn("Error closing store.", zap.Error(err))
		}
		logger.Debug("Store closed.")
	}

	logger.Info("All components shut down.")
}
