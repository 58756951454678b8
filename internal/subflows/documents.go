package subflows

import (
	"context"

	"aocr/internal/domain"
	"aocr/internal/engine"
)

type AddDocumentInput struct {
	RequestID  int64    `validate:"required,gt=0"`
	Kind       string   `validate:"required,max=64"`
	Name       string   `validate:"required,max=255"`
	ActorID    string   `validate:"required"`
	ActorRoles []string `validate:"-"`
}

// AddDocument registers a pending document. The request owner, operators and
// administrators may add documents.
func (s Service) AddDocument(ctx context.Context, in AddDocumentInput) (domain.Document, error) {
	if err := check(in); err != nil {
		return domain.Document{}, err
	}
	req, err := s.openRequest(ctx, in.RequestID)
	if err != nil {
		return domain.Document{}, err
	}
	if req.OwnerID != in.ActorID {
		if err := s.authorize(ctx, in.ActorID, in.ActorRoles, engine.RoleOperador, engine.RoleAdministrador); err != nil {
			return domain.Document{}, err
		}
	}
	at := s.now()
	doc := domain.Document{RequestID: req.ID, Kind: in.Kind, Name: in.Name, Status: domain.ReviewPending, CreatedAt: at, UpdatedAt: at}
	if doc.ID, err = s.Repo.InsertDocument(ctx, nil, doc); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

type ReviewDocumentInput struct {
	DocumentID int64               `validate:"required,gt=0"`
	Status     domain.ReviewStatus `validate:"required,oneof=Approved Rejected"`
	Note       string              `validate:"max=1000"`
	ActorID    string              `validate:"required"`
	ActorRoles []string            `validate:"-"`
}

// ReviewDocument approves or rejects a document and fires documents-complete
// once every document of the request is approved.
func (s Service) ReviewDocument(ctx context.Context, in ReviewDocumentInput) (domain.Document, *Fired, error) {
	if err := check(in); err != nil {
		return domain.Document{}, nil, err
	}
	if err := s.authorize(ctx, in.ActorID, in.ActorRoles, engine.RoleFinanciero, engine.RoleAdministrador); err != nil {
		return domain.Document{}, nil, err
	}
	doc, err := s.Repo.GetDocument(ctx, nil, in.DocumentID)
	if err != nil {
		return doc, nil, err
	}
	if _, err := s.openRequest(ctx, doc.RequestID); err != nil {
		return doc, nil, err
	}
	at := s.now()
	if err := s.Repo.UpdateDocumentStatus(ctx, nil, doc.ID, in.Status, in.ActorID, in.Note, at); err != nil {
		return doc, nil, err
	}
	doc.Status, doc.Note, doc.UpdatedAt = in.Status, in.Note, at
	reviewer := in.ActorID
	doc.ReviewerID = &reviewer

	agg, err := s.Repo.DocumentAggregate(ctx, doc.RequestID)
	if err != nil {
		return doc, nil, err
	}
	if !agg.Complete() {
		return doc, nil, nil
	}
	return doc, s.fire(ctx, engine.KindDocumentsComplete, doc.RequestID), nil
}
