// Package auth resolves and manages the roles actors hold.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"aocr/internal/config"
	"aocr/internal/domain"
	"aocr/internal/repo"
)

const (
	AdminRole = "Administrador"
	// OwnerRole and SystemRole are derived from the actor id and can never be granted.
	OwnerRole  = "Owner"
	SystemRole = "System"

	// SystemActorID is the actor the trigger dispatcher acts as.
	SystemActorID = "system"
)

// ForbiddenError indicates the grantor lacks the role needed to manage grants.
type ForbiddenError struct {
	Role string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s required", e.Role)
}

// UnknownRoleError indicates a role that is not declared in the configuration.
type UnknownRoleError struct {
	Role string
}

func (e UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown role %s", e.Role)
}

// Service is the SQL backed role provider.
type Service struct {
	Repo   repo.Repo
	Config *config.Config
	Now    func() time.Time
}

func (s Service) now() string {
	if s.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return s.Now().UTC().Format(time.RFC3339)
}

// RolesOf returns the granted roles of an actor.
func (s Service) RolesOf(ctx context.Context, actorID string) ([]string, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, nil
	}
	return s.Repo.ActorRoles(ctx, actorID)
}

func (s Service) validRole(role string) error {
	if role == "" {
		return errors.New("role required")
	}
	if role == OwnerRole || role == SystemRole {
		return UnknownRoleError{Role: role}
	}
	if s.Config != nil {
		if _, ok := s.Config.Roles[role]; !ok {
			return UnknownRoleError{Role: role}
		}
	}
	return nil
}

// canManage allows Administrador, or anyone while no grant exists yet so that
// a fresh workspace can be bootstrapped.
func (s Service) canManage(ctx context.Context, grantorID string) error {
	roles, err := s.RolesOf(ctx, grantorID)
	if err != nil {
		return err
	}
	if HasRole(roles, AdminRole) {
		return nil
	}
	grants, err := s.Repo.ListRoleGrants(ctx, "")
	if err != nil {
		return err
	}
	if len(grants) == 0 {
		return nil
	}
	return ForbiddenError{Role: AdminRole}
}

// Assign grants role to actorID on behalf of grantorID.
func (s Service) Assign(ctx context.Context, actorID, role, grantorID string) (domain.ActorRole, error) {
	actorID, role = strings.TrimSpace(actorID), strings.TrimSpace(role)
	if actorID == "" {
		return domain.ActorRole{}, errors.New("actor_id required")
	}
	if err := s.validRole(role); err != nil {
		return domain.ActorRole{}, err
	}
	if err := s.canManage(ctx, grantorID); err != nil {
		return domain.ActorRole{}, err
	}
	grant := domain.ActorRole{ActorID: actorID, Role: role, GrantedBy: grantorID, CreatedAt: s.now()}
	if err := s.Repo.AssignRole(ctx, nil, grant); err != nil {
		return domain.ActorRole{}, err
	}
	return grant, nil
}

func (s Service) Revoke(ctx context.Context, actorID, role, grantorID string) error {
	if err := s.canManage(ctx, grantorID); err != nil {
		return err
	}
	return s.Repo.RevokeRole(ctx, nil, strings.TrimSpace(actorID), strings.TrimSpace(role))
}

func (s Service) Grants(ctx context.Context, actorID string) ([]domain.ActorRole, error) {
	return s.Repo.ListRoleGrants(ctx, actorID)
}

// HasRole reports whether role is in roles.
func HasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Normalize trims, dedupes and sorts caller supplied roles and strips the derived ones.
func Normalize(roles []string) []string {
	set := map[string]struct{}{}
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" || r == OwnerRole || r == SystemRole {
			continue
		}
		set[r] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
