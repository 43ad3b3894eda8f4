package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	appuploads "github.com/bryanwahyu/sans-pilot/internal/application/uploads"
	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
	"github.com/bryanwahyu/sans-pilot/internal/middleware"
)

const maxUploadBytes = 256 << 20

// Deps are the handlers and policies the router mounts. Nil optional fields
// switch the matching feature off.
type Deps struct {
	MCP            http.Handler
	Uploads        *appuploads.Service
	Logger         *slog.Logger
	Requests       middleware.RequestObserver
	MetricsHandler http.Handler
	Limiter        *middleware.RateLimiter
	Checkers       map[string]middleware.HealthChecker
	Readiness      *middleware.Readiness
	APIToken       string
	UserHeader     string
	CORSOrigins    []string
}

type Router struct {
	uploads *appuploads.Service
	logger  *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	r := &Router{uploads: d.Uploads, logger: d.Logger}
	mux := chi.NewRouter()

	if len(d.CORSOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Mcp-Session-Id", d.userHeader()},
			ExposedHeaders:   []string{"Mcp-Session-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	mux.Use(middleware.LoggingMiddleware(d.Logger))
	if d.Requests != nil {
		mux.Use(middleware.MetricsMiddleware(d.Requests))
	}
	mux.Use(middleware.BearerAuth(d.APIToken))
	mux.Use(middleware.UserScope(d.userHeader()))
	mux.Use(middleware.RateLimitMiddleware(d.Limiter))

	mux.Get("/health", middleware.HealthHandler(d.Checkers))
	if d.Readiness == nil {
		d.Readiness = &middleware.Readiness{}
	}
	mux.Method(http.MethodGet, "/ready", d.Readiness)
	mux.Get("/live", middleware.LivenessHandler)
	if d.MetricsHandler != nil {
		mux.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	if d.MCP != nil {
		mux.Method(http.MethodPost, "/mcp", d.MCP)
	}
	if d.Uploads != nil {
		mux.Route("/v1/uploads", func(rt chi.Router) {
			rt.Post("/", r.wrap(r.handleUpload))
			rt.Get("/", r.wrap(r.handleListUploads))
		})
	}
	return mux
}

func (d Deps) userHeader() string {
	if d.UserHeader == "" {
		return middleware.DefaultUserHeader
	}
	return d.UserHeader
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				r.logger.Error("http.handler_failed", "path", req.URL.Path, "error", err.Error())
			}
			writeJSON(w, status, map[string]any{
				"error": map[string]any{"code": sentinel.Code(err), "message": err.Error()},
			})
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sentinel.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sentinel.ErrAmbiguous):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// POST /v1/uploads
// Multipart body with the data file in field "file".
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, maxUploadBytes)
	file, header, err := req.FormFile("file")
	if err != nil {
		return badRequest("multipart field 'file' is required: " + err.Error())
	}
	defer file.Close()

	name := middleware.SanitizeFilename(header.Filename)
	if name == "" {
		return badRequest("upload filename is required")
	}
	stored, err := r.uploads.Store(middleware.GetUserFromContext(req.Context()), name, file)
	if err != nil {
		return err
	}
	r.logger.Info("upload.stored", "name", stored.Name, "bytes", stored.Bytes)
	writeJSON(w, http.StatusCreated, stored)
	return nil
}

// GET /v1/uploads?ext=csv&limit=
func (r *Router) handleListUploads(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	limit := appuploads.DefaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest("limit must be an integer")
		}
		limit = middleware.ValidateLimit(n, appuploads.DefaultListLimit, 1000)
	}
	var exts []string
	for _, e := range q["ext"] {
		for _, part := range strings.Split(e, ",") {
			if part = strings.TrimSpace(part); part != "" {
				exts = append(exts, part)
			}
		}
	}
	files, err := r.uploads.List(middleware.GetUserFromContext(req.Context()), exts, limit)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
	return nil
}

type requestError string

func (e requestError) Error() string { return string(e) }

func (e requestError) Is(target error) bool { return target == sentinel.ErrInvalidRequest }

func badRequest(msg string) error { return requestError(msg) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
