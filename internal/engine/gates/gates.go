// Package gates holds the precondition predicates that guard transition edges.
// Every gate fails closed when its aggregate has no data.
package gates

import (
	"context"
	"errors"
	"fmt"

	"aocr/internal/domain"
	"aocr/internal/repo"
)

const (
	DocumentCompleteness = "document-completeness"
	PaymentApproval      = "payment-approval"
	InspectionClosure    = "inspection-closure"
)

type DocumentStore interface {
	DocumentAggregate(ctx context.Context, requestID int64) (domain.DocumentAggregate, error)
}

type PaymentStore interface {
	ApprovedPayments(ctx context.Context, requestID int64) ([]domain.Payment, error)
}

type InspectionStore interface {
	LatestInspection(ctx context.Context, requestID int64) (domain.InspectionSummary, error)
}

type FeeSchedule interface {
	FeeFor(requestType string) (int64, bool)
}

// Documents passes when at least one document exists and all are approved.
type Documents struct {
	Store DocumentStore
}

func (Documents) Name() string { return DocumentCompleteness }

func (g Documents) Evaluate(ctx context.Context, req domain.Request, _ domain.Edge) (domain.GateResult, error) {
	agg, err := g.Store.DocumentAggregate(ctx, req.ID)
	if err != nil {
		return domain.GateResult{}, err
	}
	if agg.Total == 0 {
		return domain.Failed("no documents submitted"), nil
	}
	if !agg.Complete() {
		return domain.Failed(fmt.Sprintf("%d of %d documents approved", agg.Approved, agg.Total)), nil
	}
	return domain.Passed(), nil
}

// Payment passes when exactly one approved payment covers the fee of the request type.
type Payment struct {
	Store PaymentStore
	Fees  FeeSchedule
}

func (Payment) Name() string { return PaymentApproval }

func (g Payment) Evaluate(ctx context.Context, req domain.Request, _ domain.Edge) (domain.GateResult, error) {
	approved, err := g.Store.ApprovedPayments(ctx, req.ID)
	if err != nil {
		return domain.GateResult{}, err
	}
	switch {
	case len(approved) == 0:
		return domain.Failed("no approved payment"), nil
	case len(approved) > 1:
		return domain.Failed(fmt.Sprintf("multiple approved payments (%d); manual review required", len(approved))), nil
	}
	if g.Fees == nil {
		return domain.Failed(fmt.Sprintf("no fee schedule for request type %s", req.Type)), nil
	}
	fee, ok := g.Fees.FeeFor(req.Type)
	if !ok {
		return domain.Failed(fmt.Sprintf("no fee schedule for request type %s", req.Type)), nil
	}
	if approved[0].Amount < fee {
		return domain.Failed(fmt.Sprintf("approved payment %d below fee %d for type %s", approved[0].Amount, fee, req.Type)), nil
	}
	return domain.Passed(), nil
}

// Inspection passes when the latest inspection is closed, approved and has no open findings.
type Inspection struct {
	Store InspectionStore
}

func (Inspection) Name() string { return InspectionClosure }

func (g Inspection) Evaluate(ctx context.Context, req domain.Request, _ domain.Edge) (domain.GateResult, error) {
	latest, err := g.Store.LatestInspection(ctx, req.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Failed("no inspection recorded"), nil
	}
	if err != nil {
		return domain.GateResult{}, err
	}
	switch {
	case !latest.Closed:
		return domain.Failed("latest inspection is still open"), nil
	case latest.Result == nil:
		return domain.Failed("latest inspection has no result"), nil
	case *latest.Result != domain.ResultApproved:
		return domain.Failed(fmt.Sprintf("latest inspection result is %s", *latest.Result)), nil
	case latest.OpenFindings > 0:
		return domain.Failed(fmt.Sprintf("%d findings still open", latest.OpenFindings)), nil
	}
	return domain.Passed(), nil
}
