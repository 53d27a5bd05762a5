package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"

	"github.com/mnohosten/memdb/pkg/config"
	"github.com/mnohosten/memdb/pkg/database"
	"github.com/mnohosten/memdb/pkg/logger"
	"github.com/mnohosten/memdb/pkg/metrics"
	"github.com/mnohosten/memdb/pkg/server/handlers"
)

// APIPrefix is where every route is mounted
const APIPrefix = "/api/v1"

// Server represents the HTTP server in front of a database
type Server struct {
	config              config.ServerConfig
	db                  *database.Database
	log                 *slog.Logger
	router              *chi.Mux
	httpSrv             *http.Server
	startTime           time.Time
	metrics             *metrics.Collector
	changeStreamManager *handlers.ChangeStreamManager
}

// New creates a new HTTP server for db. col may be nil, in which case
// /metrics is not served.
func New(cfg config.ServerConfig, db *database.Database, log *slog.Logger, col *metrics.Collector) (*Server, error) {
	if log == nil {
		log = logger.Get()
	}
	if cfg.TLSCertFile != "" {
		if _, err := os.Stat(cfg.TLSCertFile); err != nil {
			return nil, fmt.Errorf("TLS certificate file not found: %w", err)
		}
		if _, err := os.Stat(cfg.TLSKeyFile); err != nil {
			return nil, fmt.Errorf("TLS key file not found: %w", err)
		}
	}

	srv := &Server{
		config:              cfg,
		db:                  db,
		log:                 log,
		router:              chi.NewRouter(),
		startTime:           time.Now(),
		metrics:             col,
		changeStreamManager: handlers.NewChangeStreamManager(db.Changes()),
	}

	srv.setupMiddleware()
	if err := srv.setupRoutes(); err != nil {
		return nil, err
	}

	srv.httpSrv = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	if cfg.SelfSignedTLS && cfg.TLSCertFile == "" {
		cert, err := SelfSignedCertificate(cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to create self-signed certificate: %w", err)
		}
		srv.httpSrv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

// setupMiddleware configures HTTP middleware stack
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}
	if s.config.RateLimit > 0 {
		s.router.Use(newRateLimiter(s.config.RateLimit, s.config.RateBurst).middleware)
	}
	if s.config.MaxRequestSize > 0 {
		s.router.Use(s.requestSizeLimitMiddleware)
	}
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() error {
	h := handlers.New(s.db, s.log)

	var compress func(http.Handler) http.Handler
	if s.config.EnableCompression {
		wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(1024))
		if err != nil {
			return fmt.Errorf("failed to create compression middleware: %w", err)
		}
		compress = func(next http.Handler) http.Handler { return wrap(next) }
	}

	s.router.Route(APIPrefix, func(r chi.Router) {
		// The change stream hijacks the connection, so it stays outside
		// the compressed group
		r.Get("/watch", h.HandleChangeStream(s.changeStreamManager))

		r.Group(func(r chi.Router) {
			if compress != nil {
				r.Use(compress)
			}

			r.Get("/health", h.Health(s.startTime))
			r.Get("/stats", h.GetDatabaseStats)
			r.Get("/slow", h.GetSlowOperations)
			r.Delete("/database", h.DropDatabase)
			if s.metrics != nil {
				r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
			}

			r.Get("/collections", h.ListCollections)
			r.Route("/collections/{collection}", func(r chi.Router) {
				r.Put("/", h.CreateCollection)
				r.Delete("/", h.DropCollection)
				r.Get("/stats", h.GetCollectionStats)
				r.Post("/rename", h.RenameCollection)

				r.Post("/insert", h.InsertDocuments)
				r.Post("/find", h.FindDocuments)
				r.Post("/findOne", h.FindOneDocument)
				r.Post("/count", h.CountDocuments)
				r.Post("/distinct", h.DistinctValues)
				r.Post("/update", h.UpdateDocuments)
				r.Post("/remove", h.RemoveDocuments)
				r.Post("/findAndModify", h.FindAndModify)
				r.Post("/bulk", h.BulkWrite)

				r.Post("/aggregate", h.Aggregate)
				r.Post("/mapReduce", h.MapReduce)
				r.Post("/geoNear", h.GeoNear)
				r.Post("/textSearch", h.TextSearch)

				r.Get("/indexes", h.ListIndexes)
				r.Post("/indexes", h.CreateIndex)
				r.Delete("/indexes/{name}", h.DropIndex)
			})
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "NotFound", "no route for "+r.Method+" "+r.URL.Path)
	})
	return nil
}

// requestLogger stores the request id for handlers and logs every request
// once it completes
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logger.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.FromContext(ctx, s.log).Log(ctx, level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if reqOrigin := r.Header.Get("Origin"); reqOrigin != "" && s.originAllowed(reqOrigin) {
			origin = reqOrigin
		} else if len(s.config.AllowedOrigins) > 0 {
			origin = s.config.AllowedOrigins[0]
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.config.AllowedOrigins {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

// requestSizeLimitMiddleware limits request body size
func (s *Server) requestSizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
		next.ServeHTTP(w, r)
	})
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled or the process receives SIGINT or
// SIGTERM, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpSrv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	scheme := "http"
	if s.config.TLS() {
		scheme = "https"
	}
	s.log.Info("server starting",
		"url", fmt.Sprintf("%s://%s%s", scheme, ln.Addr(), APIPrefix),
		"database", s.db.Name(),
		"tls", s.config.TLS(),
		"compression", s.config.EnableCompression,
		"rate_limit", s.config.RateLimit,
	)

	errChan := make(chan error, 1)
	go func() {
		var err error
		switch {
		case s.config.TLSCertFile != "":
			err = s.httpSrv.ServeTLS(ln, s.config.TLSCertFile, s.config.TLSKeyFile)
		case s.httpSrv.TLSConfig != nil:
			err = s.httpSrv.ServeTLS(ln, "", "")
		default:
			err = s.httpSrv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		s.log.Info("shutdown requested", "reason", context.Cause(ctx))
		return s.Shutdown()
	}
}

// GetDatabase returns the database instance
func (s *Server) GetDatabase() *database.Database {
	return s.db
}

// Shutdown closes watch connections and stops the HTTP server. The
// database stays open; its owner closes it.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.changeStreamManager.Close()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Error("server shutdown failed", "error", err)
		return err
	}
	s.log.Info("server stopped")
	return nil
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes an error response in the handlers' envelope
func WriteError(w http.ResponseWriter, statusCode int, errorType, message string) {
	WriteJSON(w, statusCode, map[string]interface{}{
		"ok":      false,
		"code":    statusCode,
		"error":   errorType,
		"message": message,
	})
}
