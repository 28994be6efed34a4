// Package api provides a read-only HTTP view of environments and release
// history.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/artpar/maiden/internal/shell/store"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// APIVersion is the version published in the OpenAPI document.
const APIVersion = "1.0.0"

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	store    store.Store
	registry *domain.Registry
	logger   *slog.Logger
	openapi  *openapi3.T
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, registry *domain.Registry, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	if registry == nil {
		registry = domain.NewRegistry(nil)
	}
	return &Handler{
		store:    s,
		registry: registry,
		logger:   l.With("component", "api"),
		openapi:  NewOpenAPIDocument(APIVersion),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Get("/openapi.json", h.handleOpenAPI)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/environments", h.handleListEnvironments)

		r.Route("/releases", func(r chi.Router) {
			r.Get("/", h.handleListReleases)
			r.Get("/{id}", h.handleGetRelease)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if _, err := h.store.ListReleases(r.Context(), store.ListOptions{Limit: 1}); err != nil {
		h.logger.Error("readiness check failed", "error", err)
		checks["database"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Checks: checks})
		return
	}
	checks["database"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Checks: checks})
}

// =============================================================================
// Environments
// =============================================================================

func (h *Handler) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()
	resp := ListEnvironmentsResponse{Environments: make([]EnvironmentResponse, 0, len(names))}

	for _, name := range names {
		env, err := h.registry.Resolve(name)
		if err != nil {
			continue
		}
		item := EnvironmentResponse{Name: env.Name, Domain: env.Domain, Path: env.Path}

		latest, err := h.store.LatestSuccessful(r.Context(), domain.OperationInstall, env.Name)
		switch {
		case err == nil:
			item.InstalledVersion = latest.Version
			item.InstalledAt = latest.FinishedAt
		case !errors.Is(err, store.ErrNotFound):
			h.logger.Error("failed to load latest install", "environment", env.Name, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to list environments", "internal_error")
			return
		}
		resp.Environments = append(resp.Environments, item)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Releases
// =============================================================================

func (h *Handler) handleListReleases(w http.ResponseWriter, r *http.Request) {
	opts := store.DefaultListOptions()
	query := r.URL.Query()

	if limit := query.Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := query.Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}
	if env := query.Get("environment"); env != "" {
		resolved, err := h.registry.Resolve(env)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error(), "unknown_environment")
			return
		}
		opts.Environment = resolved.Name
	}
	if op := query.Get("operation"); op != "" {
		switch domain.Operation(op) {
		case domain.OperationSetup, domain.OperationBuild, domain.OperationInstall, domain.OperationDeploy:
			opts.Operation = domain.Operation(op)
		default:
			h.writeError(w, http.StatusBadRequest, "unknown operation: "+op, "invalid_operation")
			return
		}
	}
	opts = opts.Normalize()

	records, err := h.store.ListReleases(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list releases", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list releases", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, ListReleasesResponse{
		Releases: records,
		Total:    len(records),
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

func (h *Handler) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.store.GetRelease(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "release not found", "release_not_found")
			return
		}
		h.logger.Error("failed to get release", "id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get release", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, record)
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
