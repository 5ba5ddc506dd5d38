// Package httpapi exposes the engine over HTTP. Routes mirror the editor,
// state machine, history and interchange operations one to one.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/internal/editor"
	"github.com/xkilldash9x/plotweave/internal/history"
	"github.com/xkilldash9x/plotweave/internal/interchange"
	"github.com/xkilldash9x/plotweave/internal/live"
	"github.com/xkilldash9x/plotweave/internal/observability"
	"github.com/xkilldash9x/plotweave/internal/project"
	"github.com/xkilldash9x/plotweave/internal/statemachine"
)

// Deps are the engine components the API serves. Live and Metrics are
// optional.
type Deps struct {
	Registry *project.Registry
	Editor   *editor.Editor
	Machine  *statemachine.Machine
	History  *history.Manager
	Exporter *interchange.Exporter
	Importer *interchange.Importer
	Live     *live.Hub
	Metrics  *observability.Metrics
}

// Server holds the handlers.
type Server struct {
	Deps
	validate *validator.Validate
	log      *zap.Logger
}

// NewServer builds a Server.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Deps: deps, validate: validator.New(), log: logger.Named("HTTP")}
}

// Routes returns the configured router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(s.log))
	if s.Metrics != nil {
		r.Use(instrument(s.Metrics))
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
	})

	r.Route("/api/v1/projects", func(r chi.Router) {
		r.Get("/", s.listProjects)
		r.Post("/", s.createProject)
		r.Post("/import", s.importNew)

		r.Route("/{projectID}", func(r chi.Router) {
			r.Delete("/", s.deleteProject)
			r.Get("/export", s.export)
			r.Put("/import", s.importInto)

			r.Post("/bootstrap", s.bootstrap)
			r.Get("/session", s.session)
			r.Post("/play", s.play)
			r.Get("/overview", s.overview)
			r.Get("/validate", s.validateGraph)
			r.Post("/connections", s.connect)

			r.Route("/nodes", func(r chi.Router) {
				r.Post("/", s.createNode)
				r.Post("/assisted", s.createAssistedNode)
				r.Route("/{nodeID}", func(r chi.Router) {
					r.Get("/", s.nodeDetail)
					r.Delete("/", s.deleteNode)
					r.Put("/scene", s.editScene)
					r.Post("/regenerate", s.regenerate)
					r.Post("/clone", s.cloneNode)
					r.Post("/branches", s.branch)
					r.Get("/connections", s.connections)
					r.Post("/actions", s.addAction)
					r.Post("/events", s.addEvent)
				})
			})
			r.Put("/actions/{actionID}", s.editAction)
			r.Delete("/actions/{actionID}", s.deleteAction)
			r.Delete("/events/{eventID}", s.deleteEvent)

			r.Route("/history", func(r chi.Router) {
				r.Get("/", s.listHistory)
				r.Get("/{snapshotID}", s.getSnapshot)
				r.Get("/{snapshotID}/diff", s.diffSnapshot)
				r.Post("/{snapshotID}/rollback", s.rollback)
				r.Delete("/{snapshotID}", s.deleteSnapshot)
			})
		})
	})
	return r
}
