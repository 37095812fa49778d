package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/envoy/internal/dialog"
	"github.com/MikeSquared-Agency/envoy/internal/flow"
	"github.com/MikeSquared-Agency/envoy/internal/scraper"
	"github.com/MikeSquared-Agency/envoy/internal/state"
	"github.com/MikeSquared-Agency/envoy/internal/tools"
)

// Dialogs is the dialog surface the API exposes. *dialog.Engine satisfies it.
type Dialogs interface {
	Handle(ctx context.Context, userID, text string) (dialog.Reply, error)
	State(ctx context.Context, userID string) (*state.DialogState, bool, error)
	Reset(ctx context.Context, userID string) error
	ActiveDialogs(ctx context.Context) (int, error)
}

type MemberScraper interface {
	Scrape(ctx context.Context, groupRef string, limit int) ([]scraper.MemberRecord, error)
}

type ToolRunner interface {
	Execute(ctx context.Context, name string, params map[string]string) tools.Result
}

type LeadCounter interface {
	CountLeads(ctx context.Context) (int, error)
}

type CatalogSource interface {
	Current() *flow.Catalog
}

// Deps are the components behind the API. Scraper and Leads may be nil when
// the gateway or database is not configured.
type Deps struct {
	Catalog     CatalogSource
	Dialogs     Dialogs
	Scraper     MemberScraper
	Tools       ToolRunner
	Leads       LeadCounter
	Model       string
	MembersFile string
}

type Server struct {
	router *chi.Mux
	port   int
	deps   Deps
	logger *slog.Logger
}

func NewServer(port int, apiToken string, deps Deps, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		deps:   deps,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/envoy/status", s.status)

	router.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))

		r.Route("/api/v1/dialog/{userID}", func(r chi.Router) {
			r.Post("/messages", s.postMessage)
			r.Get("/", s.getDialog)
			r.Delete("/", s.deleteDialog)
		})
		r.Post("/api/v1/scrape", s.scrape)
		r.Post("/api/v1/tools/{name}", s.runTool)
		r.Get("/api/v1/stats", s.stats)
	})

	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	cat := s.deps.Catalog.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"agent": cat.Agent().Name,
		"goals": cat.Goals(),
		"model": s.deps.Model,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
