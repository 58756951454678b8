package engine_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"aocr/internal/domain"
	"aocr/internal/engine"
	"aocr/internal/engine/auth"
	"aocr/internal/events"
	"aocr/internal/metrics"
	"aocr/internal/repo"
)

func TestCreateRequest(t *testing.T) {
	env := newTestEnv(t)
	first := env.create(t)
	second := env.create(t)

	assert.Equal(t, "AOCR-2025-00001", first.Number)
	assert.Equal(t, "AOCR-2025-00002", second.Number)
	assert.Equal(t, domain.StateDraft, first.State)
	assert.Equal(t, owner, first.OwnerID)
	assert.EqualValues(t, 1, first.Version)

	history, err := env.Engine.History(env.Ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].From)
	assert.Equal(t, domain.StateDraft, history[0].To)

	evts := env.Events.snapshot()
	require.Len(t, evts, 2)
	assert.Equal(t, events.RequestCreated, evts[0].Type)
}

func TestCreateRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestOptions{ActorID: owner})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.CreateRequest(env.Ctx, engine.CreateRequestOptions{Type: "operador-aereo"})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.CreateRequest(env.Ctx, engine.CreateRequestOptions{Type: "operador-aereo", ActorID: engine.SystemActor})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestOwnerSendsDraft(t *testing.T) {
	env := newTestEnv(t)
	req := env.create(t)

	res, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: domain.StateSent, ActorID: owner, Reason: "ready"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateSent, res.Request.State)
	assert.EqualValues(t, 2, res.Request.Version)

	history, err := env.Engine.History(env.Ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	last := history[1]
	require.NotNil(t, last.From)
	assert.Equal(t, domain.StateDraft, *last.From)
	assert.Equal(t, domain.StateSent, last.To)
	assert.Equal(t, owner, last.ActorID)
	assert.Equal(t, "ready", last.Reason)

	evts := env.Events.snapshot()
	require.Len(t, evts, 2)
	assert.Equal(t, events.RequestTransitioned, evts[1].Type)
	assert.Equal(t, domain.StateSent, evts[1].To)
}

func TestFinanceApprovedWithoutPayment(t *testing.T) {
	env := newTestEnv(t)
	req := env.driveTo(t, env.create(t), domain.StateFinanceInReview)
	before, err := env.Engine.History(env.Ctx, req.ID)
	require.NoError(t, err)

	_, err = env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: domain.StateFinanceApproved, ActorID: fin})
	var gate *engine.GateFailure
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, engine.GatePayment, gate.Gate)
	assert.Equal(t, "no approved payment", gate.Reason)

	got, err := env.Engine.GetRequest(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFinanceInReview, got.State)
	after, err := env.Engine.History(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestPaymentTriggerAdvances(t *testing.T) {
	env := newTestEnv(t)
	req := env.driveTo(t, env.create(t), domain.StateFinanceInReview)
	env.addPayment(t, req.ID, 250000, domain.ReviewApproved)

	res, err := env.Engine.OnSubordinateEvent(env.Ctx, engine.KindPaymentApproved, req.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.TriggerTransitioned, res.Outcome)
	assert.Equal(t, domain.StateFinanceApproved, res.State)

	history, err := env.Engine.History(env.Ctx, req.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, engine.SystemActor, last.ActorID)
	assert.Equal(t, domain.StateFinanceApproved, last.To)
}

func TestNonFinanceUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	req := env.driveTo(t, env.create(t), domain.StateFinanceInReview)
	env.addPayment(t, req.ID, 250000, domain.ReviewApproved)

	for _, actor := range []string{tec, leg, op, owner} {
		_, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: domain.StateFinanceApproved, ActorID: actor})
		var unauth *engine.UnauthorizedError
		require.ErrorAs(t, err, &unauth, actor)
		assert.Equal(t, actor, unauth.ActorID)
		assert.Contains(t, unauth.Required, engine.RoleFinanciero)
	}
	res, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: domain.StateFinanceApproved, ActorID: admin})
	require.NoError(t, err)
	assert.Equal(t, domain.StateFinanceApproved, res.Request.State)
}

func TestRefusalsAreLoggedWithDetail(t *testing.T) {
	env := newTestEnv(t)
	core, logs := observer.New(zap.InfoLevel)
	env.Engine.Logger = zap.New(core)
	req := env.create(t)

	_, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: domain.StateSent, ActorID: fin})
	require.Error(t, err)

	refused := logs.FilterMessage("transition refused").All()
	require.Len(t, refused, 1)
	fields := refused[0].ContextMap()
	assert.Equal(t, "unauthorized", fields["outcome"])
	assert.Equal(t, fin, fields["actor"])
	assert.Contains(t, fields["error"], "requires one of Owner")
}

func TestSuppliedRolesOverrideProvider(t *testing.T) {
	env := newTestEnv(t)
	req := env.driveTo(t, env.create(t), domain.StateSent)
	env.addDocument(t, req.ID, domain.ReviewApproved)

	_, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{
		RequestID: req.ID, Target: domain.StateFinanceInReview, ActorID: "token-user", ActorRoles: []string{engine.RoleFinanciero},
	})
	require.NoError(t, err)
}

func TestDerivedRolesCannotBeSupplied(t *testing.T) {
	env := newTestEnv(t)
	req := env.driveTo(t, env.create(t), domain.StateSent)
	env.addDocument(t, req.ID, domain.ReviewApproved)

	_, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{
		RequestID: req.ID, Target: domain.StateFinanceInReview, ActorID: "mallory", ActorRoles: []string{auth.SystemRole, auth.OwnerRole},
	})
	var unauth *engine.UnauthorizedError
	require.ErrorAs(t, err, &unauth)
}

func TestSystemActorLimitedToMachineEdges(t *testing.T) {
	env := newTestEnv(t)
	req := env.driveTo(t, env.create(t), domain.StateFinanceApproved)

	_, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: domain.StateTechnicalInReview, ActorID: engine.SystemActor})
	var unauth *engine.UnauthorizedError
	require.ErrorAs(t, err, &unauth)

	_, err = env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: domain.StateRejected, ActorID: engine.SystemActor})
	require.ErrorAs(t, err, &unauth)
}

func TestInvalidEdge(t *testing.T) {
	env := newTestEnv(t)
	req := env.create(t)

	_, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: domain.StateLegalized, ActorID: admin})
	var invalid *engine.InvalidEdgeError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, domain.StateDraft, invalid.From)
	assert.Equal(t, domain.StateLegalized, invalid.To)

	_, err = env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: "Archived", ActorID: admin})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	_, err = env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: 9999, Target: domain.StateSent, ActorID: owner})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestWithdrawFromEveryNonTerminalState(t *testing.T) {
	for _, state := range domain.States {
		if state.IsTerminal() {
			continue
		}
		t.Run(string(state), func(t *testing.T) {
			env := newTestEnv(t)
			req := env.driveTo(t, env.create(t), state)
			require.Equal(t, state, req.State)

			res, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: domain.StateWithdrawn, ActorID: owner})
			require.NoError(t, err)
			assert.Equal(t, domain.StateWithdrawn, res.Request.State)
			assert.NotNil(t, res.Request.DeletedAt)

			listed, err := env.Engine.ListRequests(env.Ctx, repo.RequestFilters{})
			require.NoError(t, err)
			assert.Empty(t, listed)
			stored, err := env.Engine.GetRequest(env.Ctx, req.ID)
			require.NoError(t, err)
			assert.NotNil(t, stored.DeletedAt)
		})
	}
}

func TestWithdrawIsOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	req := env.create(t)
	_, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: domain.StateWithdrawn, ActorID: admin})
	var unauth *engine.UnauthorizedError
	require.ErrorAs(t, err, &unauth)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	env := newTestEnv(t)
	req := env.driveTo(t, env.create(t), domain.StateLegalized)
	for _, target := range domain.States {
		_, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: target, ActorID: admin})
		var invalid *engine.InvalidEdgeError
		require.ErrorAs(t, err, &invalid, target)
	}
}

func TestObservedReturnsToDraft(t *testing.T) {
	env := newTestEnv(t)
	req := env.driveTo(t, env.create(t), domain.StateObserved)
	req = env.move(t, req.ID, domain.StateDraft, owner)
	req = env.move(t, req.ID, domain.StateSent, owner)
	assert.Equal(t, domain.StateSent, req.State)

	v, err := env.Engine.Verify(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, v.OK, v.Problem)
	assert.Equal(t, 5, v.Records)
}

func TestGatesCloseOnMissingData(t *testing.T) {
	env := newTestEnv(t)

	sent := env.driveTo(t, env.create(t), domain.StateSent)
	_, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: sent.ID, Target: domain.StateFinanceInReview, ActorID: fin})
	var gate *engine.GateFailure
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, "no documents submitted", gate.Reason)

	env.addDocument(t, sent.ID, domain.ReviewApproved)
	env.addDocument(t, sent.ID, domain.ReviewPending)
	_, err = env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: sent.ID, Target: domain.StateFinanceInReview, ActorID: fin})
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, "1 of 2 documents approved", gate.Reason)

	tech := env.driveTo(t, env.create(t), domain.StateTechnicalInReview)
	_, err = env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: tech.ID, Target: domain.StateTechnicalValidated, ActorID: tec})
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, "no inspection recorded", gate.Reason)

	env.addInspection(t, tech.ID, domain.ResultApproved, 1)
	_, err = env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: tech.ID, Target: domain.StateTechnicalValidated, ActorID: tec})
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, "1 findings still open", gate.Reason)
}

func TestDuplicateApprovedPaymentsFailClosed(t *testing.T) {
	env := newTestEnv(t)
	req := env.driveTo(t, env.create(t), domain.StateFinanceInReview)
	env.addPayment(t, req.ID, 250000, domain.ReviewApproved)
	env.addPayment(t, req.ID, 250000, domain.ReviewApproved)

	_, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: domain.StateFinanceApproved, ActorID: fin})
	var gate *engine.GateFailure
	require.ErrorAs(t, err, &gate)
	assert.Contains(t, gate.Reason, "multiple approved payments")
}

func TestMissingGateFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	req := env.driveTo(t, env.create(t), domain.StateSent)
	env.addDocument(t, req.ID, domain.ReviewApproved)
	delete(env.Engine.Gates, engine.GateDocuments)

	_, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: domain.StateFinanceInReview, ActorID: fin})
	var gate *engine.GateFailure
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, "gate not configured", gate.Reason)
}

func TestAvailableTransitions(t *testing.T) {
	env := newTestEnv(t)
	req := env.create(t)

	opts, err := env.Engine.AvailableTransitions(env.Ctx, req.ID, owner, nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.State{domain.StateSent, domain.StateWithdrawn}, targets(opts))

	env.move(t, req.ID, domain.StateSent, owner)
	opts, err = env.Engine.AvailableTransitions(env.Ctx, req.ID, fin, nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.State{domain.StateFinanceInReview, domain.StateObserved, domain.StateRejected}, targets(opts))
	assert.False(t, opts[0].Ready)
	assert.Equal(t, "no documents submitted", opts[0].Blocked)
	assert.True(t, opts[0].Machine)
	assert.True(t, opts[1].Ready)

	opts, err = env.Engine.AvailableTransitions(env.Ctx, req.ID, leg, nil)
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func targets(opts []engine.Option) []domain.State {
	var out []domain.State
	for _, o := range opts {
		out = append(out, o.Target)
	}
	return out
}

func TestAssignTechnician(t *testing.T) {
	env := newTestEnv(t)
	req := env.driveTo(t, env.create(t), domain.StateFinanceApproved)

	got, err := env.Engine.AssignTechnician(env.Ctx, engine.AssignInput{RequestID: req.ID, TechnicianID: tec, ActorID: jef})
	require.NoError(t, err)
	require.NotNil(t, got.TechnicianID)
	assert.Equal(t, tec, *got.TechnicianID)
	assert.Equal(t, req.Version+1, got.Version)

	_, err = env.Engine.AssignTechnician(env.Ctx, engine.AssignInput{RequestID: req.ID, TechnicianID: tec, ActorID: fin})
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	_, err = env.Engine.AssignTechnician(env.Ctx, engine.AssignInput{RequestID: req.ID, TechnicianID: op, ActorID: admin})
	assert.ErrorIs(t, err, engine.ErrNotTechnician)

	env.move(t, req.ID, domain.StateWithdrawn, owner)
	_, err = env.Engine.AssignTechnician(env.Ctx, engine.AssignInput{RequestID: req.ID, TechnicianID: tec, ActorID: jef})
	assert.ErrorIs(t, err, engine.ErrRequestClosed)

	// assignment does not touch the ledger
	v, err := env.Engine.Verify(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, v.OK, v.Problem)
}

func TestFailedTransitionsPublishNothing(t *testing.T) {
	env := newTestEnv(t)
	req := env.create(t)
	_, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: domain.StateLegalized, ActorID: owner})
	require.Error(t, err)
	assert.Len(t, env.Events.snapshot(), 1)
}

func TestTransitionMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Metrics = metrics.New()
	req := env.driveTo(t, env.create(t), domain.StateSent)
	_, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: req.ID, Target: domain.StateFinanceInReview, ActorID: fin})
	require.Error(t, err)

	n, err := testutil.GatherAndCount(env.Engine.Metrics.Registry(), "aocr_gate_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = testutil.GatherAndCount(env.Engine.Metrics.Registry(), "aocr_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "accepted", engine.Outcome(nil))
	assert.Equal(t, "invalid_edge", engine.Outcome(&engine.InvalidEdgeError{}))
	assert.Equal(t, "unauthorized", engine.Outcome(&engine.UnauthorizedError{}))
	assert.Equal(t, "gate_failure", engine.Outcome(&engine.GateFailure{}))
	assert.Equal(t, "conflict", engine.Outcome(engine.ErrConcurrentModification))
	assert.Equal(t, "store_unavailable", engine.Outcome(&engine.StoreUnavailableError{Op: "commit", Err: errors.New("disk full")}))
	assert.Equal(t, "error", engine.Outcome(errors.New("other")))
}
