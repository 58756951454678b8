package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"aocr/internal/domain"
)

func registerRoles(api huma.API, cfg Config) {
	roles := cfg.Roles

	huma.Register(api, huma.Operation{
		OperationID: "list-role-grants",
		Method:      http.MethodGet,
		Path:        "/roles",
		Summary:     "List role grants",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*bodyOf[[]domain.ActorRole], error) {
		grants, err := roles.Grants(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(grants)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-role",
		Method:      http.MethodPost,
		Path:        "/roles/assign",
		Summary:     "Grant a role",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body RoleChangeBody `json:"body"`
	}) (*bodyOf[domain.ActorRole], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		grant, err := roles.Assign(ctx, input.Body.ActorID, input.Body.Role, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(grant), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-role",
		Method:        http.MethodPost,
		Path:          "/roles/revoke",
		Summary:       "Revoke a role",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body RoleChangeBody `json:"body"`
	}) (*struct{}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := roles.Revoke(ctx, input.Body.ActorID, input.Body.Role, p.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAPIKeys(api huma.API, cfg Config) {
	keys := cfg.Roles

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyBody `json:"body"`
	}) (*bodyOf[APIKeyResponse], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		plain, key, err := keys.IssueAPIKey(ctx, input.Body.ActorID, input.Body.Name, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(apiKeyResponse(key, plain)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List the caller's API keys",
	}, func(ctx context.Context, _ *struct{}) (*bodyOf[[]APIKeyResponse], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := keys.Repo.ListAPIKeys(ctx, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			out = append(out, apiKeyResponse(k, ""))
		}
		return reply(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := keys.RevokeAPIKey(ctx, input.KeyID, p.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
