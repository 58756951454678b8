package subflows

import (
	"context"

	"aocr/internal/domain"
	"aocr/internal/engine"
)

type AddPaymentInput struct {
	RequestID  int64    `validate:"required,gt=0"`
	Amount     int64    `validate:"gt=0"`
	Reference  string   `validate:"max=128"`
	ActorID    string   `validate:"required"`
	ActorRoles []string `validate:"-"`
}

func (s Service) AddPayment(ctx context.Context, in AddPaymentInput) (domain.Payment, error) {
	if err := check(in); err != nil {
		return domain.Payment{}, err
	}
	req, err := s.openRequest(ctx, in.RequestID)
	if err != nil {
		return domain.Payment{}, err
	}
	if req.OwnerID != in.ActorID {
		if err := s.authorize(ctx, in.ActorID, in.ActorRoles, engine.RoleOperador, engine.RoleFinanciero, engine.RoleAdministrador); err != nil {
			return domain.Payment{}, err
		}
	}
	at := s.now()
	p := domain.Payment{RequestID: req.ID, Amount: in.Amount, Reference: in.Reference, Status: domain.ReviewPending, CreatedAt: at, UpdatedAt: at}
	if p.ID, err = s.Repo.InsertPayment(ctx, nil, p); err != nil {
		return domain.Payment{}, err
	}
	return p, nil
}

type ReviewPaymentInput struct {
	PaymentID  int64               `validate:"required,gt=0"`
	Status     domain.ReviewStatus `validate:"required,oneof=Approved Rejected"`
	ActorID    string              `validate:"required"`
	ActorRoles []string            `validate:"-"`
}

// ReviewPayment validates a payment; approval fires payment-approved.
func (s Service) ReviewPayment(ctx context.Context, in ReviewPaymentInput) (domain.Payment, *Fired, error) {
	if err := check(in); err != nil {
		return domain.Payment{}, nil, err
	}
	if err := s.authorize(ctx, in.ActorID, in.ActorRoles, engine.RoleFinanciero, engine.RoleAdministrador); err != nil {
		return domain.Payment{}, nil, err
	}
	p, err := s.Repo.GetPayment(ctx, nil, in.PaymentID)
	if err != nil {
		return p, nil, err
	}
	if _, err := s.openRequest(ctx, p.RequestID); err != nil {
		return p, nil, err
	}
	at := s.now()
	if err := s.Repo.UpdatePaymentStatus(ctx, nil, p.ID, in.Status, in.ActorID, at); err != nil {
		return p, nil, err
	}
	p.Status, p.UpdatedAt = in.Status, at
	reviewer := in.ActorID
	p.ReviewerID = &reviewer
	if in.Status != domain.ReviewApproved {
		return p, nil, nil
	}
	return p, s.fire(ctx, engine.KindPaymentApproved, p.RequestID), nil
}
