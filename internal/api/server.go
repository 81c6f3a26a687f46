// Package api provides the REST API of the weight dashboard.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fidde/herd_weight_dashboard/internal/access"
	"github.com/fidde/herd_weight_dashboard/internal/devices"
	"github.com/fidde/herd_weight_dashboard/internal/records"
	"github.com/fidde/herd_weight_dashboard/internal/storage/snapshots"
	"github.com/fidde/herd_weight_dashboard/internal/suggest"
	"github.com/fidde/herd_weight_dashboard/internal/users"
	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

// CallerHeader names the user a request acts for.
const CallerHeader = "X-User"

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Config wires the server to its stores.
type Config struct {
	Addr            string
	Records         *records.Store
	Users           *users.Store
	Suggestions     *suggest.Client
	Histories       *suggest.Histories
	DefaultPageSize int
	Logger          *slog.Logger

	// Snapshots enables the /snapshots endpoints when set
	Snapshots *snapshots.Store
}

// Server is the REST API server.
type Server struct {
	records         *records.Store
	users           *users.Store
	gate            *access.Gate
	directory       *devices.Directory
	suggestions     *suggest.Client
	histories       *suggest.Histories
	snapshots       *snapshots.Store
	defaultPageSize int
	logger          *slog.Logger
	now             func() time.Time

	router *chi.Mux
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	histories := cfg.Histories
	if histories == nil {
		histories = suggest.NewHistories()
	}
	client := cfg.Suggestions
	if client == nil {
		client = suggest.NewClient(suggest.DefaultConfig(), logger)
	}

	s := &Server{
		records:         cfg.Records,
		users:           cfg.Users,
		gate:            access.NewGate(cfg.Users, cfg.Records, logger),
		directory:       devices.NewDirectory(cfg.Records),
		suggestions:     client,
		histories:       histories,
		snapshots:       cfg.Snapshots,
		defaultPageSize: cfg.DefaultPageSize,
		logger:          logger,
		now:             time.Now,
		router:          chi.NewRouter(),
	}

	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Get("/health", s.HandleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/data", func(r chi.Router) {
		r.Get("/", s.listData)
		r.Post("/", s.createData)
		r.Put("/", s.updateData)
		r.Delete("/", s.deleteData)
	})

	s.router.Route("/devices", func(r chi.Router) {
		r.Get("/", s.listDevices)
		r.Post("/", s.registerDevice)
		r.Delete("/", s.deleteDevice)
	})

	s.router.Route("/users", func(r chi.Router) {
		r.Get("/", s.listUsers)
		r.Post("/register", s.registerUser)
		r.Post("/login", s.login)
		r.Put("/permissions", s.setPermissions)
	})

	s.router.Get("/search", s.search)
	s.router.Get("/suggestions", s.getSuggestions)

	if s.snapshots != nil {
		s.router.Route("/snapshots", func(r chi.Router) {
			r.Get("/", s.listSnapshots)
			r.Post("/", s.createSnapshot)
			r.Post("/{name}/restore", s.restoreSnapshot)
			r.Delete("/{name}", s.deleteSnapshot)
		})
	}

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// caller resolves the X-User header.
func (s *Server) caller(r *http.Request) (models.User, error) {
	return s.gate.Caller(r.Header.Get(CallerHeader))
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", models.ErrValidation)
		}
		if errors.Is(err, models.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: malformed JSON body: %v", models.ErrValidation, err)
	}
	return nil
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindForbidden:
		return http.StatusForbidden
	case models.KindConflict:
		return http.StatusConflict
	case models.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := models.KindOf(err)
	status := statusFor(kind)
	message := err.Error()

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"kind", kind,
			"error", err,
		)
		if kind == models.KindInternal {
			message = "internal error"
		}
	}

	s.respondJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}
