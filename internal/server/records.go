package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"aocr/internal/domain"
	"aocr/internal/subflows"
)

func registerDocuments(api huma.API, cfg Config) {
	f := cfg.Flows

	huma.Register(api, huma.Operation{
		OperationID:   "add-document",
		Method:        http.MethodPost,
		Path:          "/requests/{id}/documents",
		Summary:       "Submit a document for review",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64           `path:"id" minimum:"1"`
		Body AddDocumentBody `json:"body"`
	}) (*bodyOf[domain.Document], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		doc, err := f.AddDocument(ctx, subflows.AddDocumentInput{
			RequestID: input.ID, Kind: input.Body.Kind, Name: input.Body.Name,
			ActorID: p.ActorID, ActorRoles: p.Roles,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(doc), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/documents",
		Summary:     "List documents of a request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*bodyOf[[]domain.Document], error) {
		if _, err := cfg.Engine.GetRequest(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		docs, err := f.Repo.ListDocuments(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(docs)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-document",
		Method:      http.MethodPost,
		Path:        "/documents/{id}/review",
		Summary:     "Approve or reject a document",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64              `path:"id" minimum:"1"`
		Body ReviewDocumentBody `json:"body"`
	}) (*bodyOf[DocumentResponse], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		doc, fired, err := f.ReviewDocument(ctx, subflows.ReviewDocumentInput{
			DocumentID: input.ID, Status: input.Body.Status, Note: input.Body.Note,
			ActorID: p.ActorID, ActorRoles: p.Roles,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(DocumentResponse{Document: doc, Trigger: fired}), nil
	})
}

func registerPayments(api huma.API, cfg Config) {
	f := cfg.Flows

	huma.Register(api, huma.Operation{
		OperationID:   "add-payment",
		Method:        http.MethodPost,
		Path:          "/requests/{id}/payments",
		Summary:       "Record a payment",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64          `path:"id" minimum:"1"`
		Body AddPaymentBody `json:"body"`
	}) (*bodyOf[domain.Payment], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pay, err := f.AddPayment(ctx, subflows.AddPaymentInput{
			RequestID: input.ID, Amount: input.Body.Amount, Reference: input.Body.Reference,
			ActorID: p.ActorID, ActorRoles: p.Roles,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(pay), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payments",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/payments",
		Summary:     "List payments of a request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*bodyOf[[]domain.Payment], error) {
		if _, err := cfg.Engine.GetRequest(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := f.Repo.ListPayments(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-payment",
		Method:      http.MethodPost,
		Path:        "/payments/{id}/review",
		Summary:     "Approve or reject a payment",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64             `path:"id" minimum:"1"`
		Body ReviewPaymentBody `json:"body"`
	}) (*bodyOf[PaymentResponse], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pay, fired, err := f.ReviewPayment(ctx, subflows.ReviewPaymentInput{
			PaymentID: input.ID, Status: input.Body.Status,
			ActorID: p.ActorID, ActorRoles: p.Roles,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(PaymentResponse{Payment: pay, Trigger: fired}), nil
	})
}

func registerInspections(api huma.API, cfg Config) {
	f := cfg.Flows

	huma.Register(api, huma.Operation{
		OperationID:   "open-inspection",
		Method:        http.MethodPost,
		Path:          "/requests/{id}/inspections",
		Summary:       "Open an inspection",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *requestPath) (*bodyOf[domain.Inspection], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		insp, err := f.OpenInspection(ctx, subflows.OpenInspectionInput{
			RequestID: input.ID, ActorID: p.ActorID, ActorRoles: p.Roles,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(insp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-inspections",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/inspections",
		Summary:     "List inspections of a request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*bodyOf[[]domain.Inspection], error) {
		if _, err := cfg.Engine.GetRequest(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := f.Repo.ListInspections(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-inspection",
		Method:      http.MethodPost,
		Path:        "/inspections/{id}/close",
		Summary:     "Close an inspection with its result",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64               `path:"id" minimum:"1"`
		Body CloseInspectionBody `json:"body"`
	}) (*bodyOf[InspectionResponse], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		insp, fired, err := f.CloseInspection(ctx, subflows.CloseInspectionInput{
			InspectionID: input.ID, Result: input.Body.Result,
			ActorID: p.ActorID, ActorRoles: p.Roles,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(InspectionResponse{Inspection: insp, Trigger: fired}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-finding",
		Method:        http.MethodPost,
		Path:          "/inspections/{id}/findings",
		Summary:       "Record a finding on an open inspection",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64          `path:"id" minimum:"1"`
		Body AddFindingBody `json:"body"`
	}) (*bodyOf[domain.Finding], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		finding, err := f.AddFinding(ctx, subflows.AddFindingInput{
			InspectionID: input.ID, Description: input.Body.Description,
			ActorID: p.ActorID, ActorRoles: p.Roles,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(finding), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-findings",
		Method:      http.MethodGet,
		Path:        "/inspections/{id}/findings",
		Summary:     "List findings of an inspection",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*bodyOf[[]domain.Finding], error) {
		if _, err := f.Repo.GetInspection(ctx, nil, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := f.Repo.ListFindings(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-finding",
		Method:      http.MethodPost,
		Path:        "/findings/{id}/close",
		Summary:     "Resolve a finding",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *requestPath) (*bodyOf[FindingResponse], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		finding, fired, err := f.CloseFinding(ctx, subflows.CloseFindingInput{
			FindingID: input.ID, ActorID: p.ActorID, ActorRoles: p.Roles,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(FindingResponse{Finding: finding, Trigger: fired}), nil
	})
}
