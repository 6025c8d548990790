// Package server exposes the question-answering service over HTTP: search,
// ask, document retrieval, corpus stats, ingest, health, and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pacifichansard/rag/internal/metrics"
	"github.com/pacifichansard/rag/internal/service"
)

const healthCheckTimeout = 5 * time.Second

// RAG is the ask/search surface the server fronts.
type RAG interface {
	Ask(ctx context.Context, p service.AskParams) (*service.AskResult, error)
	Search(ctx context.Context, p service.SearchParams) (*service.SearchPage, error)
}

// Documents is the corpus management surface.
type Documents interface {
	Ingest(ctx context.Context, req service.IngestRequest) (*service.IngestReceipt, error)
	GetDocument(ctx context.Context, docID string) (*service.DocumentView, error)
	ListDocuments(ctx context.Context, country, status string, limit, offset int) ([]service.DocumentSummary, int, error)
	DeleteDocument(ctx context.Context, docID string) error
	Stats(ctx context.Context) (*service.Stats, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

var (
	_ RAG       = (*service.RAGService)(nil)
	_ Documents = (*service.DocumentService)(nil)
)

// Config holds the HTTP server dependencies.
type Config struct {
	Port           int
	Version        string
	Logger         *slog.Logger
	AllowedOrigins []string

	RAG       RAG
	Documents Documents
	Index     HealthChecker
	Generator HealthChecker
	Metrics   *metrics.Metrics
}

// HTTPServer wraps the chi router and the underlying http.Server.
type HTTPServer struct {
	server    *http.Server
	router    *chi.Mux
	logger    *slog.Logger
	version   string
	rag       RAG
	documents Documents
	index     HealthChecker
	generator HealthChecker
}

// NewHTTPServer builds the router and wires all routes.
func NewHTTPServer(cfg Config) (*HTTPServer, error) {
	if cfg.RAG == nil || cfg.Documents == nil {
		return nil, errors.New("server: RAG and Documents services are required")
	}
	if cfg.Index == nil || cfg.Generator == nil {
		return nil, errors.New("server: index and generator health checkers are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &HTTPServer{
		logger:    logger,
		version:   cfg.Version,
		rag:       cfg.RAG,
		documents: cfg.Documents,
		index:     cfg.Index,
		generator: cfg.Generator,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Middleware)
	}

	router.Get("/health", s.handleHealth)
	router.Get("/search", s.handleSearchGet)
	router.Post("/search", s.handleSearchPost)
	router.Post("/ask", s.handleAsk)
	router.Get("/document/{doc_id}", s.handleGetDocument)
	router.Delete("/document/{doc_id}", s.handleDeleteDocument)
	router.Get("/stats", s.handleStats)
	router.Post("/documents", s.handleIngest)
	router.Get("/documents", s.handleListDocuments)
	if cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	s.router = router
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // generation can be slow
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start blocks serving requests until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// requestLoggingMiddleware logs HTTP requests
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware handles CORS headers
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			if len(allowedOrigins) == 0 {
				// If no origins specified, allow all in development
				allowed = true
				origin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token, X-Request-ID")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
