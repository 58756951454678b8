package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"aocr/internal/domain"
	"aocr/internal/engine"
	"aocr/internal/engine/auth"
	"aocr/internal/repo"
)

type bodyOf[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *bodyOf[T] {
	return &bodyOf[T]{Body: v}
}

type requestPath struct {
	ID int64 `path:"id" minimum:"1"`
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusServiceUnavailable,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Security:    []map[string][]string{},
	}, func(ctx context.Context, _ *struct{}) (*bodyOf[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerMe(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal and effective roles",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*bodyOf[MeResponse], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		roles := p.Roles
		if len(roles) == 0 {
			granted, err := cfg.Roles.RolesOf(ctx, p.ActorID)
			if err != nil {
				return nil, handleError(err)
			}
			roles = granted
		}
		return reply(MeResponse{ActorID: p.ActorID, Roles: nonNilSlice(roles), Source: p.Source}), nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	if !authCfg.AllowDevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Security:    []map[string][]string{},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginBody `json:"body"`
	}) (*bodyOf[TokenResponse], error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == auth.SystemActorID {
			return nil, newAPIError(http.StatusForbidden, "reserved_actor", "the system actor cannot be used by clients", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, actor, input.Body.Roles, 0)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return reply(TokenResponse{Token: token}), nil
	})
}

func registerRequests(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "Create a request in Draft",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateRequestBody `json:"body"`
	}) (*bodyOf[domain.Request], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		owner := strings.TrimSpace(input.Body.OwnerID)
		if owner != "" && owner != p.ActorID {
			if err := requireAnyRole(ctx, cfg, p, engine.RoleOperador, engine.RoleAdministrador); err != nil {
				return nil, handleError(err)
			}
		}
		req, err := e.CreateRequest(ctx, engine.CreateRequestOptions{
			Type:    input.Body.Type,
			Title:   input.Body.Title,
			OwnerID: owner,
			ActorID: p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List requests, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		State          string `query:"state"`
		OwnerID        string `query:"owner_id"`
		Type           string `query:"type"`
		TechnicianID   string `query:"technician_id"`
		IncludeDeleted bool   `query:"include_deleted"`
		Limit          int    `query:"limit" default:"50"`
		Cursor         string `query:"cursor"`
	}) (*bodyOf[RequestPage], error) {
		if input.State != "" && !domain.State(input.State).IsValid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid state", map[string]any{"state": input.State})
		}
		after, err := parseCursor(input.Cursor)
		if err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.ListRequests(ctx, repo.RequestFilters{
			State:          input.State,
			OwnerID:        input.OwnerID,
			Type:           input.Type,
			TechnicianID:   input.TechnicianID,
			IncludeDeleted: input.IncludeDeleted,
			Limit:          limit + 1,
			AfterID:        after,
		})
		if err != nil {
			return nil, handleError(err)
		}
		page := RequestPage{Items: nonNilSlice(items)}
		if len(items) > limit {
			page.Items = items[:limit]
			page.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		return reply(page), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{id}",
		Summary:     "Get request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*bodyOf[domain.Request], error) {
		req, err := e.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request-by-number",
		Method:      http.MethodGet,
		Path:        "/requests/by-number/{number}",
		Summary:     "Get request by its human number",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Number string `path:"number"`
	}) (*bodyOf[domain.Request], error) {
		req, err := e.Repo.GetRequestByNumber(ctx, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-history",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/history",
		Summary:     "Audit ledger of a request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*bodyOf[[]domain.TransitionRecord], error) {
		records, err := e.History(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(records)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-transition",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/transitions",
		Summary:     "Move a request along one edge",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64          `path:"id" minimum:"1"`
		Body TransitionBody `json:"body"`
	}) (*bodyOf[engine.TransitionResult], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RequestTransition(ctx, engine.TransitionInput{
			RequestID:  input.ID,
			Target:     input.Body.Target,
			ActorID:    p.ActorID,
			ActorRoles: p.Roles,
			Reason:     input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "available-transitions",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/transitions/available",
		Summary:     "Transitions the caller may request now",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*bodyOf[AvailableResponse], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		opts, err := e.AvailableTransitions(ctx, input.ID, p.ActorID, p.Roles)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(AvailableResponse{RequestID: req.ID, State: req.State, Options: nonNilSlice(opts)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-technician",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/assign",
		Summary:     "Assign the responsible technician",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64      `path:"id" minimum:"1"`
		Body AssignBody `json:"body"`
	}) (*bodyOf[domain.Request], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.AssignTechnician(ctx, engine.AssignInput{
			RequestID:    input.ID,
			TechnicianID: input.Body.TechnicianID,
			ActorID:      p.ActorID,
			ActorRoles:   p.Roles,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-request",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/verify",
		Summary:     "Replay the ledger and compare with the stored state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*bodyOf[engine.Verification], error) {
		v, err := e.Verify(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "subordinate-event",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/events",
		Summary:     "Notify the dispatcher that a sub-workflow completed",
		Description: "Idempotent. The matching machine transition is attempted as the system actor; gate failures are reported, not raised.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                `path:"id" minimum:"1"`
		Body SubordinateEventBody `json:"body"`
	}) (*bodyOf[engine.TriggerResult], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireAnyRole(ctx, cfg, p, engine.RoleAdministrador); err != nil {
			return nil, handleError(err)
		}
		res, err := e.OnSubordinateEvent(ctx, input.Body.Kind, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})
}

// requireAnyRole checks the caller's effective roles for non-transition operations.
func requireAnyRole(ctx context.Context, cfg Config, p Principal, roles ...string) error {
	held := p.Roles
	if len(held) == 0 {
		granted, err := cfg.Roles.RolesOf(ctx, p.ActorID)
		if err != nil {
			return err
		}
		held = granted
	}
	for _, r := range roles {
		if auth.HasRole(held, r) {
			return nil
		}
	}
	return auth.ForbiddenError{Role: strings.Join(roles, "|")}
}
