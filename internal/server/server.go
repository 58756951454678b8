// Package server exposes the request workflow over HTTP.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"aocr/internal/engine"
	"aocr/internal/engine/auth"
	"aocr/internal/logging"
	"aocr/internal/metrics"
	"aocr/internal/repo"
	"aocr/internal/subflows"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Flows    subflows.Service
	Roles    auth.Service
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"gate_failed"`
	Message string         `json:"message" example:"payment-approval gate: no approved payment"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every failure is rendered with.
type apiError struct {
	status  int
	headers http.Header
	Body    apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int          { return e.status }
func (e *apiError) Error() string           { return e.Body.Message }
func (e *apiError) GetHeaders() http.Header { return e.headers }

// New returns an HTTP handler exposing the AOCR API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	cfg.BasePath = basePath
	cfg.Logger = logging.OrNop(cfg.Logger)
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Roles))
	router.Handle("/metrics", cfg.Metrics.Handler())

	hcfg := huma.DefaultConfig("AOCR API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "/docs"
	hcfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearerAuth": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
		"apiKeyAuth": {Type: "apiKey", In: "header", Name: "X-Api-Key"},
	}
	hcfg.Security = []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}}
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerMe(group, cfg)
	registerDevAuth(group, cfg.Auth)
	registerRequests(group, cfg)
	registerDocuments(group, cfg)
	registerPayments(group, cfg)
	registerInspections(group, cfg)
	registerRoles(group, cfg)
	registerAPIKeys(group, cfg)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) *apiError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// actionNotAllowed is all a client learns about a refused edge or role.
// The engine logs the detailed refusal.
const actionNotAllowed = "action not allowed"

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		unauthorized *engine.UnauthorizedError
		invalidEdge  *engine.InvalidEdgeError
		gate         *engine.GateFailure
		store        *engine.StoreUnavailableError
		forbidden    auth.ForbiddenError
		unknownRole  auth.UnknownRoleError
	)
	msg := err.Error()
	switch {
	case errors.As(err, &unauthorized):
		return newAPIError(http.StatusForbidden, "unauthorized_transition", actionNotAllowed, map[string]any{
			"from": unauthorized.Edge.From, "to": unauthorized.Edge.To,
		})
	case errors.As(err, &forbidden):
		return newAPIError(http.StatusForbidden, "forbidden", msg, map[string]any{"role": forbidden.Role})
	case errors.As(err, &invalidEdge):
		return newAPIError(http.StatusConflict, "invalid_transition", actionNotAllowed, map[string]any{
			"from": invalidEdge.From, "to": invalidEdge.To,
		})
	case errors.As(err, &gate):
		return newAPIError(http.StatusConflict, "gate_failed", msg, map[string]any{
			"gate": gate.Gate, "reason": gate.Reason,
		})
	case errors.Is(err, engine.ErrConcurrentModification):
		e := newAPIError(http.StatusConflict, "concurrent_modification", msg, nil)
		e.headers = http.Header{"Retry-After": []string{"1"}}
		return e
	case errors.Is(err, engine.ErrRequestClosed), errors.Is(err, subflows.ErrInspectionClosed):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrUnknownTrigger):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, engine.ErrInvalidInput), errors.Is(err, engine.ErrNotTechnician), errors.As(err, &unknownRole):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case errors.As(err, &store):
		e := newAPIError(http.StatusServiceUnavailable, "store_unavailable", "store unavailable", map[string]any{"op": store.Op})
		e.headers = http.Header{"Retry-After": []string{"1"}}
		return e
	}
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "required") || strings.Contains(lowered, "invalid") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || id <= 0 {
		return 0, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": cursor})
	}
	return id, nil
}
