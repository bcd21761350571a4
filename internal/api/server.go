// Package api is the HTTP surface of the build service: submission,
// status polling, artifact download and deletion, service metadata, and
// the read-only downloads directory. Handlers return errors; the
// response mapping lives in renderError so every failure renders the
// same envelope.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/vibecoding/demo2apk/internal/config"
	"github.com/vibecoding/demo2apk/internal/logging"
	"github.com/vibecoding/demo2apk/internal/queue"
	"github.com/vibecoding/demo2apk/internal/storage"
)

// Server hosts the REST API in front of the queue and artifact store.
type Server struct {
	cfg   *config.Config
	queue *queue.Queue
	store *storage.Store
	log   *logging.Logger
	http  *http.Server
}

// New wires the API server. Call Start to serve and Shutdown to drain.
func New(cfg *config.Config, q *queue.Queue, store *storage.Store, log *logging.Logger) *Server {
	s := &Server{cfg: cfg, queue: q, store: store, log: log}
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handle(s.handleHealth))
	r.Get("/api", s.handle(s.handleMeta))
	r.Route("/api/build", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Post("/html", s.handle(s.handleSubmitHTML))
			r.Post("/zip", s.handle(s.handleSubmitZip))
		})
		r.Get("/{taskID}/status", s.handle(s.handleStatus))
		r.Get("/{taskID}/download", s.handle(s.handleDownload))
		r.Delete("/{taskID}", s.handle(s.handleDelete))
	})
	r.Get("/downloads/*", s.handleBrowse())

	return r
}

// Handler exposes the routed stack, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handlerFunc is a handler that reports failure as an error instead of
// writing the response itself.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (s *Server) handle(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			s.renderError(w, r, err)
		}
	}
}

// handleBrowse serves the artifact directory read-only, with directory
// listings disabled.
func (s *Server) handleBrowse() http.HandlerFunc {
	fs := http.StripPrefix("/downloads/", http.FileServer(http.Dir(s.store.BuildsRoot())))
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			writeError(w, http.StatusNotFound, "Not a downloadable file.")
			return
		}
		fs.ServeHTTP(w, r)
	}
}
