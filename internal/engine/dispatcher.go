package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"aocr/internal/domain"
	"aocr/internal/repo"
)

// Subordinate event kinds.
const (
	KindDocumentsComplete = "documents-complete"
	KindPaymentApproved   = "payment-approved"
	KindInspectionClosed  = "inspection-closed"
)

// triggers maps each kind to the only edge it can drive.
var triggers = map[string]domain.Edge{
	KindDocumentsComplete: {From: domain.StateSent, To: domain.StateFinanceInReview},
	KindPaymentApproved:   {From: domain.StateFinanceInReview, To: domain.StateFinanceApproved},
	KindInspectionClosed:  {From: domain.StateTechnicalInReview, To: domain.StateTechnicalValidated},
}

// TriggerEdge returns the edge a kind drives.
func TriggerEdge(kind string) (domain.Edge, bool) {
	edge, ok := triggers[kind]
	return edge, ok
}

type TriggerOutcome string

const (
	TriggerTransitioned TriggerOutcome = "transitioned"
	TriggerNoop         TriggerOutcome = "noop"
	TriggerGateFailed   TriggerOutcome = "gate_failed"
)

type TriggerResult struct {
	Kind      string         `json:"kind"`
	RequestID int64          `json:"request_id"`
	Outcome   TriggerOutcome `json:"outcome"`
	State     domain.State   `json:"state"`
	Reason    string         `json:"reason,omitempty"`
}

// OnSubordinateEvent reacts to a completed sub-workflow by requesting the
// matching machine transition as the system actor. It holds no state and can
// be called again with the same arguments: once the request has moved on the
// call is a no-op. Gate failures are absorbed; invalid edges and conflicts are
// returned for the caller to log.
func (e Engine) OnSubordinateEvent(ctx context.Context, kind string, requestID int64) (TriggerResult, error) {
	res := TriggerResult{Kind: kind, RequestID: requestID}
	edge, ok := triggers[kind]
	if !ok {
		e.Metrics.TriggerHandled(kind, "unknown")
		return res, ErrUnknownTrigger
	}
	req, err := e.GetRequest(ctx, requestID)
	if err != nil {
		e.Metrics.TriggerHandled(kind, Outcome(err))
		return res, err
	}
	res.State = req.State
	if req.State != edge.From {
		res.Outcome = TriggerNoop
		e.Metrics.TriggerHandled(kind, string(res.Outcome))
		e.log().Debug("trigger ignored", zap.String("kind", kind), zap.Int64("request_id", requestID), zap.String("state", string(req.State)))
		return res, nil
	}

	out, err := e.RequestTransition(ctx, TransitionInput{
		RequestID: requestID,
		Target:    edge.To,
		ActorID:   SystemActor,
		Reason:    "trigger: " + kind,
	})
	var gate *GateFailure
	switch {
	case err == nil:
		res.Outcome = TriggerTransitioned
		res.State = out.Request.State
	case errors.As(err, &gate):
		res.Outcome = TriggerGateFailed
		res.Reason = gate.Reason
		err = nil
	case errors.Is(err, repo.ErrNotFound):
	default:
		e.log().Warn("trigger failed", zap.String("kind", kind), zap.Int64("request_id", requestID), zap.Error(err))
	}
	if err != nil {
		e.Metrics.TriggerHandled(kind, Outcome(err))
		return res, err
	}
	e.Metrics.TriggerHandled(kind, string(res.Outcome))
	return res, nil
}
