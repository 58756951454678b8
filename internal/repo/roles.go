package repo

import (
	"context"
	"database/sql"

	"aocr/internal/domain"
)

// AssignRole grants role to actor; granting twice is a no-op.
func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, grant domain.ActorRole) error {
	if grant.CreatedAt == "" {
		grant.CreatedAt = now()
	}
	_, err := r.on(tx).ExecContext(ctx, r.q(`INSERT INTO actor_roles(actor_id, role, granted_by, created_at) VALUES (?,?,?,?)
ON CONFLICT(actor_id, role) DO NOTHING`), grant.ActorID, grant.Role, grant.GrantedBy, grant.CreatedAt)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, actorID, role string) error {
	res, err := r.on(tx).ExecContext(ctx, r.q(`DELETE FROM actor_roles WHERE actor_id=? AND role=?`), actorID, role)
	if err != nil {
		return err
	}
	return affected(res)
}

// ActorRoles returns the role names granted to actor, sorted.
func (r Repo) ActorRoles(ctx context.Context, actorID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT role FROM actor_roles WHERE actor_id=? ORDER BY role`), actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListRoleGrants lists grants, optionally for a single actor.
func (r Repo) ListRoleGrants(ctx context.Context, actorID string) ([]domain.ActorRole, error) {
	query := `SELECT actor_id, role, granted_by, created_at FROM actor_roles`
	var args []any
	if actorID != "" {
		query += ` WHERE actor_id=?`
		args = append(args, actorID)
	}
	query += ` ORDER BY actor_id, role`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []domain.ActorRole
	for rows.Next() {
		var g domain.ActorRole
		if err := rows.Scan(&g.ActorID, &g.Role, &g.GrantedBy, &g.CreatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
