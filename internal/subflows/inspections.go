package subflows

import (
	"context"
	"errors"

	"aocr/internal/domain"
	"aocr/internal/engine"
	"aocr/internal/repo"
)

var ErrInspectionClosed = errors.New("inspection is closed")

var inspectors = []string{engine.RoleTecnico, engine.RoleJefaturaTecnica, engine.RoleAdministrador}

type OpenInspectionInput struct {
	RequestID  int64    `validate:"required,gt=0"`
	ActorID    string   `validate:"required"`
	ActorRoles []string `validate:"-"`
}

func (s Service) OpenInspection(ctx context.Context, in OpenInspectionInput) (domain.Inspection, error) {
	if err := check(in); err != nil {
		return domain.Inspection{}, err
	}
	if err := s.authorize(ctx, in.ActorID, in.ActorRoles, inspectors...); err != nil {
		return domain.Inspection{}, err
	}
	req, err := s.openRequest(ctx, in.RequestID)
	if err != nil {
		return domain.Inspection{}, err
	}
	insp := domain.Inspection{RequestID: req.ID, InspectorID: in.ActorID, Status: domain.InspectionOpen, OpenedAt: s.now()}
	if insp.ID, err = s.Repo.InsertInspection(ctx, nil, insp); err != nil {
		return domain.Inspection{}, err
	}
	return insp, nil
}

type CloseInspectionInput struct {
	InspectionID int64                   `validate:"required,gt=0"`
	Result       domain.InspectionResult `validate:"required,oneof=Approved Rejected"`
	ActorID      string                  `validate:"required"`
	ActorRoles   []string                `validate:"-"`
}

// CloseInspection records the result and fires inspection-closed.
func (s Service) CloseInspection(ctx context.Context, in CloseInspectionInput) (domain.Inspection, *Fired, error) {
	if err := check(in); err != nil {
		return domain.Inspection{}, nil, err
	}
	if err := s.authorize(ctx, in.ActorID, in.ActorRoles, inspectors...); err != nil {
		return domain.Inspection{}, nil, err
	}
	insp, err := s.Repo.GetInspection(ctx, nil, in.InspectionID)
	if err != nil {
		return insp, nil, err
	}
	if insp.Status == domain.InspectionClosed {
		return insp, nil, ErrInspectionClosed
	}
	at := s.now()
	if err := s.Repo.CloseInspection(ctx, nil, insp.ID, in.Result, at); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// another closer won after the read above
			return insp, nil, ErrInspectionClosed
		}
		return insp, nil, err
	}
	result := in.Result
	insp.Status, insp.Result, insp.ClosedAt = domain.InspectionClosed, &result, &at
	return insp, s.fire(ctx, engine.KindInspectionClosed, insp.RequestID), nil
}

type AddFindingInput struct {
	InspectionID int64    `validate:"required,gt=0"`
	Description  string   `validate:"required,max=2000"`
	ActorID      string   `validate:"required"`
	ActorRoles   []string `validate:"-"`
}

// AddFinding records an open finding on an inspection that is still open.
func (s Service) AddFinding(ctx context.Context, in AddFindingInput) (domain.Finding, error) {
	if err := check(in); err != nil {
		return domain.Finding{}, err
	}
	if err := s.authorize(ctx, in.ActorID, in.ActorRoles, inspectors...); err != nil {
		return domain.Finding{}, err
	}
	insp, err := s.Repo.GetInspection(ctx, nil, in.InspectionID)
	if err != nil {
		return domain.Finding{}, err
	}
	if insp.Status == domain.InspectionClosed {
		return domain.Finding{}, ErrInspectionClosed
	}
	f := domain.Finding{InspectionID: insp.ID, Description: in.Description, Status: domain.FindingOpen, CreatedAt: s.now()}
	if f.ID, err = s.Repo.InsertFinding(ctx, nil, f); err != nil {
		return domain.Finding{}, err
	}
	return f, nil
}

type CloseFindingInput struct {
	FindingID  int64    `validate:"required,gt=0"`
	ActorID    string   `validate:"required"`
	ActorRoles []string `validate:"-"`
}

// CloseFinding resolves a finding. When its inspection is already closed the
// inspection gate may now pass, so inspection-closed fires again.
func (s Service) CloseFinding(ctx context.Context, in CloseFindingInput) (domain.Finding, *Fired, error) {
	if err := check(in); err != nil {
		return domain.Finding{}, nil, err
	}
	if err := s.authorize(ctx, in.ActorID, in.ActorRoles, inspectors...); err != nil {
		return domain.Finding{}, nil, err
	}
	f, err := s.Repo.GetFinding(ctx, nil, in.FindingID)
	if err != nil {
		return f, nil, err
	}
	at := s.now()
	if err := s.Repo.CloseFinding(ctx, nil, f.ID, at); err != nil {
		return f, nil, err
	}
	f.Status, f.ClosedAt = domain.FindingClosed, &at
	insp, err := s.Repo.GetInspection(ctx, nil, f.InspectionID)
	if err != nil {
		return f, nil, err
	}
	if insp.Status != domain.InspectionClosed {
		return f, nil, nil
	}
	return f, s.fire(ctx, engine.KindInspectionClosed, insp.RequestID), nil
}
