// Package subflows implements the document, payment and inspection
// collaborators. Each commits its own change first and only then notifies
// the trigger dispatcher.
package subflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"aocr/internal/domain"
	"aocr/internal/engine"
	"aocr/internal/engine/auth"
	"aocr/internal/logging"
	"aocr/internal/repo"
)

// Trigger is the dispatcher entry point.
type Trigger interface {
	OnSubordinateEvent(ctx context.Context, kind string, requestID int64) (engine.TriggerResult, error)
}

type Service struct {
	Repo    repo.Repo
	Trigger Trigger
	Roles   engine.RoleProvider
	Logger  *zap.Logger
	Now     func() time.Time
}

// New builds a service bound to the engine's store, roles and dispatcher.
func New(e engine.Engine) Service {
	return Service{Repo: e.Repo, Trigger: e, Roles: e.Roles, Logger: e.Logger, Now: e.Now}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Fired reports what the dispatcher did with a notification.
type Fired struct {
	Kind    string                `json:"kind"`
	Result  *engine.TriggerResult `json:"result,omitempty"`
	Error   string                `json:"error,omitempty"`
	Skipped bool                  `json:"skipped,omitempty"`
}

func (s Service) now() string {
	if s.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return s.Now().UTC().Format(time.RFC3339)
}

func (s Service) log() *zap.Logger {
	return logging.OrNop(s.Logger)
}

func check(in any) error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrInvalidInput, err)
	}
	return nil
}

// authorize checks the actor holds one of allowed, using supplied roles when given.
func (s Service) authorize(ctx context.Context, actorID string, supplied []string, allowed ...string) error {
	roles := auth.Normalize(supplied)
	if len(roles) == 0 && s.Roles != nil {
		granted, err := s.Roles.RolesOf(ctx, actorID)
		if err != nil {
			return err
		}
		roles = granted
	}
	for _, want := range allowed {
		if auth.HasRole(roles, want) {
			return nil
		}
	}
	return auth.ForbiddenError{Role: allowed[0]}
}

// openRequest returns the request when it can still receive subordinate records.
func (s Service) openRequest(ctx context.Context, id int64) (domain.Request, error) {
	req, err := s.Repo.GetRequest(ctx, id)
	if err != nil {
		return req, err
	}
	if req.State.IsTerminal() {
		return req, engine.ErrRequestClosed
	}
	return req, nil
}

// fire notifies the dispatcher, retrying once on a lost race. Failures are
// logged and reported, never returned: the subordinate change is committed.
func (s Service) fire(ctx context.Context, kind string, requestID int64) *Fired {
	if s.Trigger == nil {
		return &Fired{Kind: kind, Skipped: true}
	}
	res, err := s.Trigger.OnSubordinateEvent(ctx, kind, requestID)
	if errors.Is(err, engine.ErrConcurrentModification) {
		res, err = s.Trigger.OnSubordinateEvent(ctx, kind, requestID)
	}
	fired := &Fired{Kind: kind, Result: &res}
	if err != nil {
		fired.Error = err.Error()
		s.log().Warn("subordinate event not applied", zap.String("kind", kind), zap.Int64("request_id", requestID), zap.Error(err))
		return fired
	}
	s.log().Debug("subordinate event applied", zap.String("kind", kind), zap.Int64("request_id", requestID), zap.String("outcome", string(res.Outcome)))
	return fired
}
