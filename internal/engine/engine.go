package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"aocr/internal/config"
	"aocr/internal/db"
	"aocr/internal/domain"
	"aocr/internal/engine/auth"
	"aocr/internal/engine/gates"
	"aocr/internal/events"
	"aocr/internal/ledger"
	"aocr/internal/logging"
	"aocr/internal/metrics"
	"aocr/internal/repo"
)

// RequestStore reads and conditionally writes the request row inside a transaction.
type RequestStore interface {
	GetRequestTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Request, error)
	CompareAndSwapStateTx(ctx context.Context, tx *sql.Tx, id, expected int64, next domain.State, actorID, at string) error
}

// RoleProvider returns the roles granted to an actor.
type RoleProvider interface {
	RolesOf(ctx context.Context, actorID string) ([]string, error)
}

// Gate is a read-only precondition on an edge.
type Gate interface {
	Name() string
	Evaluate(ctx context.Context, req domain.Request, edge domain.Edge) (domain.GateResult, error)
}

// Publisher receives events after commit. It must not block.
type Publisher interface {
	Publish(ctx context.Context, evt events.Event)
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Requests RequestStore
	Ledger   ledger.Ledger
	Gates    map[string]Gate
	Roles    RoleProvider
	Events   Publisher
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Config   *config.Config
	Now      func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) Engine {
	r := repo.Repo{DB: conn, Dialect: dialect}
	var fees gates.FeeSchedule
	if cfg != nil {
		fees = cfg.Fees
	}
	return Engine{
		DB:       conn,
		Repo:     r,
		Requests: r,
		Ledger:   ledger.Ledger{DB: conn, Dialect: dialect},
		Gates:    DefaultGates(r, fees),
		Roles:    auth.Service{Repo: r, Config: cfg},
		Config:   cfg,
		Now:      time.Now,
	}
}

// DefaultGates wires the three gates to the SQL stores.
func DefaultGates(r repo.Repo, fees gates.FeeSchedule) map[string]Gate {
	return map[string]Gate{
		GateDocuments:  gates.Documents{Store: r},
		GatePayment:    gates.Payment{Store: r, Fees: fees},
		GateInspection: gates.Inspection{Store: r},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zap.Logger {
	return logging.OrNop(e.Logger)
}

func (e Engine) requests() RequestStore {
	if e.Requests != nil {
		return e.Requests
	}
	return e.Repo
}

func (e Engine) publish(ctx context.Context, evt events.Event) {
	if e.Events == nil {
		return
	}
	e.Events.Publish(ctx, evt)
}

type CreateRequestOptions struct {
	Type    string
	Title   string
	OwnerID string
	ActorID string
}

// CreateRequest stores a new request in Draft together with its creation record.
func (e Engine) CreateRequest(ctx context.Context, opts CreateRequestOptions) (domain.Request, error) {
	opts.Type = strings.TrimSpace(opts.Type)
	opts.ActorID = strings.TrimSpace(opts.ActorID)
	if opts.OwnerID = strings.TrimSpace(opts.OwnerID); opts.OwnerID == "" {
		opts.OwnerID = opts.ActorID
	}
	switch {
	case opts.Type == "":
		return domain.Request{}, invalid("type is required")
	case opts.ActorID == "":
		return domain.Request{}, invalid("actor is required")
	case opts.OwnerID == SystemActor || opts.ActorID == SystemActor:
		return domain.Request{}, invalid("the system actor cannot own requests")
	}
	prefix := "AOCR"
	if e.Config != nil && e.Config.NumberPrefix != "" {
		prefix = e.Config.NumberPrefix
	}
	now := e.now().UTC()
	at := now.Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, storeErr("begin", err)
	}
	defer tx.Rollback()

	number, err := e.Repo.NextNumberTx(ctx, tx, prefix, now.Year())
	if err != nil {
		return domain.Request{}, storeErr("allocate number", err)
	}
	req := domain.Request{
		Number:    number,
		Type:      opts.Type,
		Title:     strings.TrimSpace(opts.Title),
		OwnerID:   opts.OwnerID,
		State:     domain.StateDraft,
		Version:   1,
		CreatedAt: at,
		CreatedBy: opts.ActorID,
		UpdatedAt: at,
		UpdatedBy: opts.ActorID,
	}
	if req.ID, err = e.Repo.InsertRequestTx(ctx, tx, req); err != nil {
		return domain.Request{}, storeErr("insert request", err)
	}
	rec, err := e.Ledger.Append(ctx, tx, domain.TransitionRecord{
		RequestID: req.ID, To: domain.StateDraft, ActorID: opts.ActorID, Reason: "created", TS: at,
	})
	if err != nil {
		return domain.Request{}, storeErr("append ledger", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, storeErr("commit", err)
	}
	e.log().Info("request created", zap.Int64("request_id", req.ID), zap.String("number", req.Number), zap.String("owner", req.OwnerID))
	e.publish(ctx, events.Event{
		Type: events.RequestCreated, RequestID: req.ID, Number: req.Number, To: rec.To,
		ActorID: rec.ActorID, Reason: rec.Reason, TS: rec.TS, Version: req.Version,
	})
	return req, nil
}

// GetRequest returns the persisted request.
func (e Engine) GetRequest(ctx context.Context, id int64) (domain.Request, error) {
	req, err := e.Repo.GetRequest(ctx, id)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return req, storeErr("read request", err)
	}
	return req, err
}

// History returns the audit ledger of a request in append order.
func (e Engine) History(ctx context.Context, id int64) ([]domain.TransitionRecord, error) {
	if _, err := e.GetRequest(ctx, id); err != nil {
		return nil, err
	}
	records, err := e.Ledger.History(ctx, id)
	if err != nil {
		return nil, storeErr("read history", err)
	}
	return records, nil
}

type TransitionInput struct {
	RequestID int64
	Target    domain.State
	ActorID   string
	// ActorRoles overrides the role provider when non-empty.
	ActorRoles []string
	Reason     string
}

type TransitionResult struct {
	Request domain.Request          `json:"request"`
	Record  domain.TransitionRecord `json:"record"`
}

// RequestTransition moves a request along one edge of the transition table.
// The state read, gate checks, state write and ledger append share one
// transaction; a lost compare-and-swap is retried once from a fresh read.
func (e Engine) RequestTransition(ctx context.Context, in TransitionInput) (TransitionResult, error) {
	start := time.Now()
	in.ActorID = strings.TrimSpace(in.ActorID)
	if in.ActorID == "" {
		return TransitionResult{}, invalid("actor is required")
	}
	if !in.Target.IsValid() {
		return TransitionResult{}, invalid("unknown target state %q", in.Target)
	}
	roles, err := e.grantedRoles(ctx, in.ActorID, in.ActorRoles)
	if err != nil {
		return TransitionResult{}, err
	}

	res, from, err := e.transition(ctx, in, roles)
	if errors.Is(err, repo.ErrVersionConflict) {
		e.log().Info("transition lost a race, retrying",
			zap.Int64("request_id", in.RequestID), zap.String("target", string(in.Target)))
		res, from, err = e.transition(ctx, in, roles)
		if errors.Is(err, repo.ErrVersionConflict) {
			err = ErrConcurrentModification
		}
	}

	outcome := Outcome(err)
	fromLabel := string(from)
	if fromLabel == "" {
		fromLabel = "unknown"
	}
	e.Metrics.ObserveTransition(fromLabel, string(in.Target), outcome, time.Since(start))
	fields := []zap.Field{
		zap.Int64("request_id", in.RequestID),
		zap.String("from", fromLabel),
		zap.String("to", string(in.Target)),
		zap.String("actor", in.ActorID),
		zap.String("outcome", outcome),
	}
	if err != nil {
		var store *StoreUnavailableError
		if errors.As(err, &store) {
			e.log().Error("transition failed", append(fields, zap.Error(err))...)
		} else {
			e.log().Info("transition refused", append(fields, zap.Error(err))...)
		}
		return res, err
	}
	e.log().Info("transition accepted", fields...)
	e.publish(ctx, events.Event{
		Type: events.RequestTransitioned, RequestID: res.Request.ID, Number: res.Request.Number,
		From: res.Record.From, To: res.Record.To, ActorID: res.Record.ActorID, Reason: res.Record.Reason,
		TS: res.Record.TS, Version: res.Request.Version,
	})
	return res, nil
}

func (e Engine) transition(ctx context.Context, in TransitionInput, granted []string) (TransitionResult, domain.State, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, "", storeErr("begin", err)
	}
	defer tx.Rollback()

	req, err := e.requests().GetRequestTx(ctx, tx, in.RequestID)
	if errors.Is(err, repo.ErrNotFound) {
		return TransitionResult{}, "", err
	}
	if err != nil {
		return TransitionResult{}, "", storeErr("read request", err)
	}
	rule, ok := Lookup(req.State, in.Target)
	if !ok {
		return TransitionResult{}, req.State, &InvalidEdgeError{From: req.State, To: in.Target}
	}
	if !authorized(rule, e.rolesOn(req, in.ActorID, granted)) {
		return TransitionResult{}, req.State, &UnauthorizedError{
			ActorID: in.ActorID, Edge: rule.Edge, Required: append([]string(nil), rule.Roles...),
		}
	}
	for _, name := range rule.Gates {
		result, err := e.evaluate(ctx, name, req, rule.Edge)
		if err != nil {
			return TransitionResult{}, req.State, storeErr("gate "+name, err)
		}
		if !result.Pass {
			e.Metrics.GateFailed(name)
			return TransitionResult{}, req.State, &GateFailure{Gate: name, Reason: result.Reason}
		}
	}

	at := e.now().UTC().Format(time.RFC3339)
	if err := e.requests().CompareAndSwapStateTx(ctx, tx, req.ID, req.Version, in.Target, in.ActorID, at); err != nil {
		if errors.Is(err, repo.ErrVersionConflict) {
			return TransitionResult{}, req.State, err
		}
		return TransitionResult{}, req.State, storeErr("write state", err)
	}
	from := req.State
	rec, err := e.Ledger.Append(ctx, tx, domain.TransitionRecord{
		RequestID: req.ID, From: &from, To: in.Target, ActorID: in.ActorID, Reason: strings.TrimSpace(in.Reason), TS: at,
	})
	if err != nil {
		return TransitionResult{}, from, storeErr("append ledger", err)
	}
	if err := tx.Commit(); err != nil {
		return TransitionResult{}, from, storeErr("commit", err)
	}

	req.State = in.Target
	req.Version++
	req.UpdatedAt = at
	req.UpdatedBy = in.ActorID
	if in.Target == domain.StateWithdrawn && req.DeletedAt == nil {
		req.DeletedAt = &at
	}
	return TransitionResult{Request: req, Record: rec}, from, nil
}

func (e Engine) evaluate(ctx context.Context, name string, req domain.Request, edge domain.Edge) (domain.GateResult, error) {
	gate, ok := e.Gates[name]
	if !ok || gate == nil {
		return domain.Failed("gate not configured"), nil
	}
	return gate.Evaluate(ctx, req, edge)
}

// grantedRoles resolves the actor's roles before any transaction opens.
// The system actor holds exactly the System role.
func (e Engine) grantedRoles(ctx context.Context, actorID string, supplied []string) ([]string, error) {
	if actorID == SystemActor {
		return []string{RoleSystem}, nil
	}
	if roles := auth.Normalize(supplied); len(roles) > 0 {
		return roles, nil
	}
	if e.Roles == nil {
		return nil, nil
	}
	granted, err := e.Roles.RolesOf(ctx, actorID)
	if err != nil {
		return nil, storeErr("resolve roles", err)
	}
	return auth.Normalize(granted), nil
}

func (e Engine) rolesOn(req domain.Request, actorID string, granted []string) []string {
	if actorID == SystemActor || actorID != req.OwnerID {
		return granted
	}
	return append(append([]string(nil), granted...), RoleOwner)
}

func authorized(rule Rule, roles []string) bool {
	for _, role := range roles {
		if rule.allows(role) {
			return true
		}
	}
	return false
}

// Option is one transition the actor could request from the current state.
type Option struct {
	Target  domain.State `json:"target"`
	Gates   []string     `json:"gates,omitempty"`
	Machine bool         `json:"machine"`
	Ready   bool         `json:"ready"`
	Blocked string       `json:"blocked,omitempty"`
}

// AvailableTransitions lists the edges the actor is allowed to take now,
// with the first failing gate reason for each.
func (e Engine) AvailableTransitions(ctx context.Context, requestID int64, actorID string, actorRoles []string) ([]Option, error) {
	req, err := e.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	granted, err := e.grantedRoles(ctx, strings.TrimSpace(actorID), actorRoles)
	if err != nil {
		return nil, err
	}
	roles := e.rolesOn(req, actorID, granted)
	var out []Option
	for _, rule := range RulesFrom(req.State) {
		if !authorized(rule, roles) {
			continue
		}
		opt := Option{Target: rule.Edge.To, Gates: rule.Gates, Machine: rule.Machine(), Ready: true}
		for _, name := range rule.Gates {
			result, err := e.evaluate(ctx, name, req, rule.Edge)
			if err != nil {
				return nil, storeErr("gate "+name, err)
			}
			if !result.Pass {
				opt.Ready = false
				opt.Blocked = result.Reason
				break
			}
		}
		out = append(out, opt)
	}
	return out, nil
}

type AssignInput struct {
	RequestID    int64
	TechnicianID string
	ActorID      string
	ActorRoles   []string
}

// AssignTechnician sets the technician responsible for inspections.
// Only technical leadership or an administrator may assign.
func (e Engine) AssignTechnician(ctx context.Context, in AssignInput) (domain.Request, error) {
	in.TechnicianID = strings.TrimSpace(in.TechnicianID)
	in.ActorID = strings.TrimSpace(in.ActorID)
	if in.TechnicianID == "" || in.ActorID == "" {
		return domain.Request{}, invalid("technician and actor are required")
	}
	roles, err := e.grantedRoles(ctx, in.ActorID, in.ActorRoles)
	if err != nil {
		return domain.Request{}, err
	}
	if !auth.HasRole(roles, RoleJefaturaTecnica) && !auth.HasRole(roles, RoleAdministrador) {
		return domain.Request{}, auth.ForbiddenError{Role: RoleJefaturaTecnica}
	}
	if e.Roles != nil {
		techRoles, err := e.Roles.RolesOf(ctx, in.TechnicianID)
		if err != nil {
			return domain.Request{}, storeErr("resolve roles", err)
		}
		if !auth.HasRole(techRoles, RoleTecnico) && !auth.HasRole(techRoles, RoleJefaturaTecnica) {
			return domain.Request{}, ErrNotTechnician
		}
	}

	req, err := e.assign(ctx, in)
	if errors.Is(err, repo.ErrVersionConflict) {
		req, err = e.assign(ctx, in)
		if errors.Is(err, repo.ErrVersionConflict) {
			err = ErrConcurrentModification
		}
	}
	if err != nil {
		return req, err
	}
	e.log().Info("technician assigned", zap.Int64("request_id", req.ID), zap.String("technician", in.TechnicianID), zap.String("actor", in.ActorID))
	e.publish(ctx, events.Event{
		Type: events.RequestAssigned, RequestID: req.ID, Number: req.Number, To: req.State,
		ActorID: in.ActorID, Reason: "technician " + in.TechnicianID, TS: req.UpdatedAt, Version: req.Version,
	})
	return req, nil
}

func (e Engine) assign(ctx context.Context, in AssignInput) (domain.Request, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, storeErr("begin", err)
	}
	defer tx.Rollback()

	req, err := e.Repo.GetRequestTx(ctx, tx, in.RequestID)
	if errors.Is(err, repo.ErrNotFound) {
		return req, err
	}
	if err != nil {
		return req, storeErr("read request", err)
	}
	if req.State.IsTerminal() {
		return req, ErrRequestClosed
	}
	at := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.SetTechnicianTx(ctx, tx, req.ID, req.Version, in.TechnicianID, in.ActorID, at); err != nil {
		if errors.Is(err, repo.ErrVersionConflict) {
			return req, err
		}
		return req, storeErr("assign technician", err)
	}
	if err := tx.Commit(); err != nil {
		return req, storeErr("commit", err)
	}
	tech := in.TechnicianID
	req.TechnicianID = &tech
	req.Version++
	req.UpdatedAt = at
	req.UpdatedBy = in.ActorID
	return req, nil
}

// ListRequests passes through to the repository.
func (e Engine) ListRequests(ctx context.Context, f repo.RequestFilters) ([]domain.Request, error) {
	reqs, err := e.Repo.ListRequests(ctx, f)
	if err != nil {
		return nil, storeErr("list requests", err)
	}
	return reqs, nil
}
