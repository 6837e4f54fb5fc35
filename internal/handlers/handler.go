package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"campus-utilities/internal/services"
	"campus-utilities/pkg/logging"
	"campus-utilities/pkg/metrics"
)

// Services groups what the API handlers depend on
type Services struct {
	Periods  *services.PeriodService
	Readings *services.ReadingService
	Imports  *services.ImportService
	Summary  *services.SummaryService
	Accounts *services.ProfileService
	Health   func(ctx context.Context) error
}

// Handler serves the readings API
type Handler struct {
	periods  *services.PeriodService
	readings *services.ReadingService
	imports  *services.ImportService
	summary  *services.SummaryService
	accounts *services.ProfileService
	health   func(ctx context.Context) error

	autosaveDelay time.Duration
	auth          *Authenticator
	logger        *logging.StructuredLogger
	metrics       *metrics.Collector
	now           func() time.Time

	// open editing sessions, drained on shutdown
	sessionsMu sync.Mutex
	sessions   map[*editorSession]struct{}
	draining   bool
	sessionWG  sync.WaitGroup
}

// NewHandler creates a new API handler
func NewHandler(
	svc Services,
	auth *Authenticator,
	autosaveDelay time.Duration,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *Handler {
	return &Handler{
		periods:       svc.Periods,
		readings:      svc.Readings,
		imports:       svc.Imports,
		summary:       svc.Summary,
		accounts:      svc.Accounts,
		health:        svc.Health,
		autosaveDelay: autosaveDelay,
		auth:          auth,
		logger:        logger,
		metrics:       metricsCollector,
		now:           time.Now,
		sessions:      make(map[*editorSession]struct{}),
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data  interface{} `json:"data"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.Use(h.auth.RequestID)

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/contact", h.instrument(h.SubmitContact)).Methods("POST")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(h.auth.Middleware)

	api.HandleFunc("/session", h.instrument(h.Login)).Methods("POST")
	api.HandleFunc("/me", h.instrument(h.Me)).Methods("GET")
	api.HandleFunc("/users", h.instrument(h.ListUsers)).Methods("GET")
	api.HandleFunc("/contact", h.instrument(h.ListContactMessages)).Methods("GET")

	api.HandleFunc("/catalogs", h.instrument(h.ListCatalogs)).Methods("GET")
	api.HandleFunc("/catalogs/{catalog}", h.instrument(h.GetCatalog)).Methods("GET")
	api.HandleFunc("/catalogs/{catalog}/template.xlsx", h.instrument(h.DownloadTemplate)).Methods("GET")
	api.HandleFunc("/catalogs/{catalog}/summary", h.instrument(h.GetSummary)).Methods("GET")
	api.HandleFunc("/catalogs/{catalog}/periods", h.instrument(h.ListPeriods)).Methods("GET")
	api.HandleFunc("/catalogs/{catalog}/periods", h.instrument(h.CreatePeriod)).Methods("POST")
	api.HandleFunc("/catalogs/{catalog}/periods/{period}", h.instrument(h.GetPeriod)).Methods("GET")
	api.HandleFunc("/catalogs/{catalog}/periods/{period}/readings", h.instrument(h.UpdateReadings)).Methods("PUT")
	api.HandleFunc("/catalogs/{catalog}/periods/{period}/import", h.instrument(h.ImportReadings)).Methods("POST")
	api.HandleFunc("/catalogs/{catalog}/periods/{period}/export.csv", h.instrument(h.ExportCSV)).Methods("GET")

	ws := router.PathPrefix("/ws").Subrouter()
	ws.Use(h.auth.Middleware)
	ws.HandleFunc("/editor", h.EditorSocket).Methods("GET")
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if h.health != nil {
		if err := h.health(ctx); err != nil {
			h.logger.Warn(ctx, "[HEALTH_CHECK_FAILED] Store is unreachable", logging.Fields{
				"error": err.Error(),
			})
			status["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, code)
}

// instrument records request duration under the route template
func (h *Handler) instrument(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		defer func() {
			h.metrics.APIRequestDuration.WithLabelValues(endpoint(r)).Observe(time.Since(startTime).Seconds())
		}()
		next(w, r)
	}
}

// endpoint is the route template of r, e.g. /api/catalogs/{catalog}
func endpoint(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// respond sends data and counts the request
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, data interface{}, statusCode int) {
	h.metrics.RecordAPIRequest(endpoint(r), r.Method, strconv.Itoa(statusCode))
	h.sendJSON(w, data, statusCode)
}

// sendJSON sends a JSON response
func (h *Handler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.sendErrorDetails(w, r, message, statusCode, nil)
}

func (h *Handler) sendErrorDetails(w http.ResponseWriter, r *http.Request, message string, statusCode int, details interface{}) {
	h.metrics.RecordAPIRequest(endpoint(r), r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
		Details: details,
	}

	h.sendJSON(w, response, statusCode)
}

// sendServiceError maps the service error taxonomy onto status codes
func (h *Handler) sendServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, details := classify(err)

	if status >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "[API_ERROR] Request failed", logging.Fields{
			"operation": op,
			"endpoint":  endpoint(r),
		}, err)
		h.metrics.RecordAPIError(errorType(status), endpoint(r))
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = op + " failed"
	}
	h.sendErrorDetails(w, r, message, status, details)
}

// requestUser returns the session user of r, or "" when unauthenticated
func requestUser(r *http.Request) string {
	return logging.UserIDFromContext(r.Context())
}

// pagination reads page and limit query parameters
func pagination(r *http.Request) (page, limit, offset int) {
	page = 1
	limit = 100

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 1000 {
		limit = l
	}

	return page, limit, (page - 1) * limit
}

var errNoSession = errors.New("request has no authenticated user")
