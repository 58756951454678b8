package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"aocr/internal/config"
	"aocr/internal/db"
	"aocr/internal/domain"
	"aocr/internal/engine"
	"aocr/internal/events"
	"aocr/internal/migrate"
)

const (
	owner = "owner-1"
	fin   = "fin-1"
	tec   = "tec-1"
	jef   = "jef-1"
	leg   = "leg-1"
	admin = "admin-1"
	op    = "op-1"
)

var testNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, evt events.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Events *recorder
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))

	eng := engine.New(conn, dialect, config.Default())
	eng.Now = func() time.Time { return testNow }
	rec := &recorder{}
	eng.Events = rec

	ctx := context.Background()
	for actor, role := range map[string]string{
		fin: engine.RoleFinanciero, tec: engine.RoleTecnico, jef: engine.RoleJefaturaTecnica,
		leg: engine.RoleLegal, admin: engine.RoleAdministrador, op: engine.RoleOperador,
	} {
		require.NoError(t, eng.Repo.AssignRole(ctx, nil, domain.ActorRole{ActorID: actor, Role: role, GrantedBy: "test"}))
	}
	return testEnv{Engine: eng, Ctx: ctx, Events: rec}
}

func (env testEnv) create(t *testing.T) domain.Request {
	t.Helper()
	req, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestOptions{Type: "operador-aereo", Title: "AOC renewal", ActorID: owner})
	require.NoError(t, err)
	return req
}

func (env testEnv) move(t *testing.T, id int64, target domain.State, actor string) domain.Request {
	t.Helper()
	res, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionInput{RequestID: id, Target: target, ActorID: actor})
	require.NoError(t, err, "move to %s", target)
	return res.Request
}

func (env testEnv) addDocument(t *testing.T, requestID int64, status domain.ReviewStatus) {
	t.Helper()
	ts := testNow.Format(time.RFC3339)
	_, err := env.Engine.Repo.InsertDocument(env.Ctx, nil, domain.Document{
		RequestID: requestID, Kind: "insurance", Name: "poliza.pdf", Status: status, CreatedAt: ts, UpdatedAt: ts,
	})
	require.NoError(t, err)
}

func (env testEnv) addPayment(t *testing.T, requestID, amount int64, status domain.ReviewStatus) {
	t.Helper()
	ts := testNow.Format(time.RFC3339)
	_, err := env.Engine.Repo.InsertPayment(env.Ctx, nil, domain.Payment{
		RequestID: requestID, Amount: amount, Status: status, CreatedAt: ts, UpdatedAt: ts,
	})
	require.NoError(t, err)
}

func (env testEnv) addInspection(t *testing.T, requestID int64, result domain.InspectionResult, openFindings int) {
	t.Helper()
	ts := testNow.Format(time.RFC3339)
	id, err := env.Engine.Repo.InsertInspection(env.Ctx, nil, domain.Inspection{
		RequestID: requestID, InspectorID: tec, Status: domain.InspectionOpen, OpenedAt: ts,
	})
	require.NoError(t, err)
	for i := 0; i < openFindings; i++ {
		_, err := env.Engine.Repo.InsertFinding(env.Ctx, nil, domain.Finding{
			InspectionID: id, Description: "corrosion on hangar door", Status: domain.FindingOpen, CreatedAt: ts,
		})
		require.NoError(t, err)
	}
	require.NoError(t, env.Engine.Repo.CloseInspection(env.Ctx, nil, id, result, ts))
}

// happyPath is the lifecycle in order with the actor that performs each step.
var happyPath = []struct {
	to    domain.State
	actor string
}{
	{domain.StateSent, owner},
	{domain.StateFinanceInReview, fin},
	{domain.StateFinanceApproved, fin},
	{domain.StateTechnicalInReview, tec},
	{domain.StateTechnicalValidated, tec},
	{domain.StateLegalInReview, leg},
	{domain.StateLegalized, leg},
}

// driveTo walks the happy path until target, seeding whatever the gates need.
// Observed is reached from Sent.
func (env testEnv) driveTo(t *testing.T, req domain.Request, target domain.State) domain.Request {
	t.Helper()
	if target == domain.StateDraft {
		return req
	}
	if target == domain.StateObserved {
		req = env.driveTo(t, req, domain.StateSent)
		return env.move(t, req.ID, domain.StateObserved, fin)
	}
	for _, step := range happyPath {
		switch step.to {
		case domain.StateFinanceInReview:
			env.addDocument(t, req.ID, domain.ReviewApproved)
		case domain.StateFinanceApproved:
			env.addPayment(t, req.ID, 250000, domain.ReviewApproved)
		case domain.StateTechnicalValidated:
			env.addInspection(t, req.ID, domain.ResultApproved, 0)
		}
		req = env.move(t, req.ID, step.to, step.actor)
		if step.to == target {
			return req
		}
	}
	t.Fatalf("state %s not on the happy path", target)
	return req
}
